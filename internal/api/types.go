package api

import (
	"time"

	"github.com/signalsfoundry/safespaces/core"
	"github.com/signalsfoundry/safespaces/internal/notify"
	"github.com/signalsfoundry/safespaces/model"
)

type coordinateDTO struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type windowDTO struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type guardianDTO struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

// zoneRequest is the PUT /v1/zones/{name} body. Name is optional and must
// match the path when given.
type zoneRequest struct {
	Name     string        `json:"name,omitempty"`
	Center   coordinateDTO `json:"center"`
	RadiusM  float64       `json:"radius_m"`
	Window   windowDTO     `json:"window"`
	Guardian guardianDTO   `json:"guardian"`
}

func (z zoneRequest) toModel(name string) model.Zone {
	return model.Zone{
		Name:     name,
		Center:   model.Coordinate{Latitude: z.Center.Latitude, Longitude: z.Center.Longitude},
		Radius:   z.RadiusM,
		Window:   model.TimeWindow{Start: z.Window.Start, End: z.Window.End},
		Guardian: model.Guardian{Name: z.Guardian.Name, Phone: z.Guardian.Phone},
	}
}

// zoneResponse never exposes the guardian's push endpoint.
type zoneResponse struct {
	Name             string        `json:"name"`
	Center           coordinateDTO `json:"center"`
	RadiusM          float64       `json:"radius_m"`
	Window           windowDTO     `json:"window"`
	Guardian         guardianDTO   `json:"guardian"`
	State            string        `json:"state"`
	ArrivalPending   bool          `json:"arrival_pending"`
	DeparturePending bool          `json:"departure_pending"`
}

func zoneFromTracked(tz core.TrackedZone) zoneResponse {
	z := tz.Zone
	return zoneResponse{
		Name:             z.Name,
		Center:           coordinateDTO{Latitude: z.Center.Latitude, Longitude: z.Center.Longitude},
		RadiusM:          z.Radius,
		Window:           windowDTO{Start: z.Window.Start, End: z.Window.End},
		Guardian:         guardianDTO{Name: z.Guardian.Name, Phone: z.Guardian.Phone},
		State:            tz.State.String(),
		ArrivalPending:   tz.ArrivalPending,
		DeparturePending: tz.DeparturePending,
	}
}

type zoneListResponse struct {
	Zones []zoneResponse `json:"zones"`
}

type distanceRequest struct {
	DistanceM *float64 `json:"distance_m"`
}

type locationRequest struct {
	Latitude  *float64   `json:"latitude"`
	Longitude *float64   `json:"longitude"`
	At        *time.Time `json:"at,omitempty"`
}

type profileDTO struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

type notificationDTO struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	Guardian string    `json:"guardian,omitempty"`
	At       time.Time `json:"at"`
}

type notificationListResponse struct {
	Notifications []notificationDTO `json:"notifications"`
}

func notificationFromMessage(m notify.Message) notificationDTO {
	return notificationDTO{ID: m.ID, Title: m.Title, Body: m.Body, Guardian: m.Guardian.Name, At: m.At}
}
