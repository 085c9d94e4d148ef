package core

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/safespaces/model"
)

// DefaultNotificationTitle is the title used for every notification unless
// overridden with WithTitle.
const DefaultNotificationTitle = "Safe Spaces"

// composeEntry builds the entry notification. Arriving outside the window is
// unexpected and gets a CAUTION prefix.
func composeEntry(zone model.Zone, person model.MonitoredPerson, now time.Time) model.Notification {
	n := model.Notification{Zone: zone.Name, Kind: model.NotificationEntry, Guardian: zone.Guardian, At: now}
	if zone.Window.Contains(now) {
		n.LocalBody = fmt.Sprintf("You entered %s. Notifying %s", zone.Name, zone.Guardian.Name)
		n.RemoteBody = fmt.Sprintf("%s entered %s", person.Name, zone.Name)
		return n
	}
	n.Caution = true
	n.LocalBody = fmt.Sprintf("CAUTION: You just entered %s. Notifying %s", zone.Name, zone.Guardian.Name)
	n.RemoteBody = fmt.Sprintf("CAUTION: %s just entered %s", person.Name, zone.Name)
	return n
}

// composeExit builds the exit notification. Leaving while the window is
// still open is early and gets a CAUTION prefix.
func composeExit(zone model.Zone, person model.MonitoredPerson, now time.Time) model.Notification {
	n := model.Notification{Zone: zone.Name, Kind: model.NotificationExit, Guardian: zone.Guardian, At: now}
	if !zone.Window.Contains(now) {
		n.LocalBody = fmt.Sprintf("You left %s. Notifying %s", zone.Name, zone.Guardian.Name)
		n.RemoteBody = fmt.Sprintf("%s left %s", person.Name, zone.Name)
		return n
	}
	n.Caution = true
	n.LocalBody = fmt.Sprintf("CAUTION! You are leaving %s before the expected time. Notifying %s", zone.Name, zone.Guardian.Name)
	n.RemoteBody = fmt.Sprintf("CAUTION! %s is leaving %s before the expected time.", person.Name, zone.Name)
	return n
}

// composeDeadline builds a deadline violation. Both kinds are always CAUTION.
func composeDeadline(kind model.NotificationKind, zone model.Zone, person model.MonitoredPerson, now time.Time) model.Notification {
	n := model.Notification{Zone: zone.Name, Kind: kind, Caution: true, Guardian: zone.Guardian, At: now}
	if kind == model.NotificationArrivalDeadline {
		n.LocalBody = fmt.Sprintf("CAUTION! You have not arrived at %s yet. Notifying %s", zone.Name, zone.Guardian.Name)
		n.RemoteBody = fmt.Sprintf("CAUTION! %s has not arrived at %s yet.", person.Name, zone.Name)
		return n
	}
	n.LocalBody = fmt.Sprintf("CAUTION! You have already left %s. Notifying %s", zone.Name, zone.Guardian.Name)
	n.RemoteBody = fmt.Sprintf("CAUTION! %s has already left %s.", person.Name, zone.Name)
	return n
}
