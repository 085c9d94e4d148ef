package model

// MembershipState is the last observed relation between the monitored
// person and a zone.
type MembershipState int

const (
	StateUnknown MembershipState = iota
	StateInside
	StateOutside
)

func (s MembershipState) String() string {
	switch s {
	case StateInside:
		return "inside"
	case StateOutside:
		return "outside"
	default:
		return "unknown"
	}
}
