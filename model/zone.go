package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidZone is returned when a zone definition fails validation.
	ErrInvalidZone = errors.New("invalid zone")
	// ErrNotFound is returned by zone stores for unknown names.
	ErrNotFound = errors.New("not found")
)

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Latitude  float64
	Longitude float64
}

// Valid reports whether the coordinate lies within the WGS84 ranges.
func (c Coordinate) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180
}

// TimeWindow is the half-open interval [Start, End) during which the
// monitored person is expected to be inside a zone.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Zone is a named circular safe space shared with a guardian.
type Zone struct {
	Name     string
	Center   Coordinate
	Radius   float64 // metres
	Window   TimeWindow
	Guardian Guardian
}

// Validate checks the structural invariants of a zone definition.
func (z Zone) Validate() error {
	switch {
	case z.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidZone)
	case !(z.Radius > 0):
		return fmt.Errorf("%w: radius must be positive, got %v", ErrInvalidZone, z.Radius)
	case !z.Center.Valid():
		return fmt.Errorf("%w: center (%v, %v) out of range", ErrInvalidZone, z.Center.Latitude, z.Center.Longitude)
	case z.Window.Start.After(z.Window.End):
		return fmt.Errorf("%w: window start %s is after end %s", ErrInvalidZone,
			z.Window.Start.Format(time.RFC3339), z.Window.End.Format(time.RFC3339))
	}
	return nil
}
