package model

import "time"

// NotificationKind identifies what produced a notification.
type NotificationKind string

const (
	NotificationEntry             NotificationKind = "entry"
	NotificationExit              NotificationKind = "exit"
	NotificationArrivalDeadline   NotificationKind = "arrival_deadline"
	NotificationDepartureDeadline NotificationKind = "departure_deadline"
)

// Notification is a single guardian-facing event. LocalBody is shown to the
// monitored person; RemoteBody is delivered to the guardian.
type Notification struct {
	ID         string
	Zone       string
	Kind       NotificationKind
	Caution    bool
	Title      string
	LocalBody  string
	RemoteBody string
	Guardian   Guardian
	At         time.Time
}
