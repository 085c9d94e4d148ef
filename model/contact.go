package model

// MonitoredPerson is the person whose location is tracked.
type MonitoredPerson struct {
	Name  string
	Phone string
}

// Guardian is the contact notified about a zone. Endpoint is the opaque
// push endpoint; it is empty until resolved from Phone.
type Guardian struct {
	Name     string
	Phone    string
	Endpoint string
}

// Ref returns the key used to cache the guardian's push endpoint.
func (g Guardian) Ref() string {
	if g.Phone != "" {
		return g.Phone
	}
	return g.Name
}
