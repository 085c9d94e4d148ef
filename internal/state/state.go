package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/signalsfoundry/safespaces/core"
	"github.com/signalsfoundry/safespaces/internal/logging"
	"github.com/signalsfoundry/safespaces/model"
)

// Re-export sentinel errors so API callers can depend on state.* only.
var (
	// ErrNotFound indicates a requested zone does not exist.
	ErrNotFound = model.ErrNotFound
	// ErrInvalidZone indicates a zone definition failed validation.
	ErrInvalidZone = core.ErrInvalidZone
	// ErrInvalidProfile indicates a monitored person profile failed validation.
	ErrInvalidProfile = errors.New("invalid profile")
)

// ZoneStore persists zones and the monitored person's profile. Both the
// SQLite store and the in-memory KB satisfy it.
type ZoneStore interface {
	PutZone(ctx context.Context, z model.Zone) error
	GetZone(ctx context.Context, name string) (model.Zone, error)
	DeleteZone(ctx context.Context, name string) error
	ListZones(ctx context.Context) ([]model.Zone, error)
	GetProfile(ctx context.Context) (model.MonitoredPerson, error)
	PutProfile(ctx context.Context, p model.MonitoredPerson) error
}

// Engine is the subset of core.GeofenceEngine the coordinator drives.
type Engine interface {
	Track(ctx context.Context, zone model.Zone) error
	Untrack(ctx context.Context, name string)
	Zone(name string) (core.TrackedZone, bool)
	Zones() []core.TrackedZone
	SetMonitoredPerson(p model.MonitoredPerson)
	MonitoredPerson() model.MonitoredPerson
}

// SafeSpaceState keeps the zone store and the geofence engine in lockstep:
// every persisted zone is tracked and every tracked zone is persisted.
type SafeSpaceState struct {
	// mu serializes mutations so store and engine apply them in the same
	// order. Lock order is SafeSpaceState before engine locks.
	mu sync.Mutex

	store  ZoneStore
	engine Engine
	log    logging.Logger
}

// NewSafeSpaceState wires a store to an engine.
func NewSafeSpaceState(store ZoneStore, engine Engine, log logging.Logger) *SafeSpaceState {
	if log == nil {
		log = logging.Noop()
	}
	return &SafeSpaceState{store: store, engine: engine, log: log}
}

// Restore re-submits the stored profile and every stored zone to the
// engine. Zones that no longer validate are logged and skipped. It returns
// the number of zones tracked.
func (s *SafeSpaceState) Restore(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, err := s.store.GetProfile(ctx)
	if err != nil {
		return 0, fmt.Errorf("load profile: %w", err)
	}
	if profile.Name != "" {
		s.engine.SetMonitoredPerson(profile)
	}

	zones, err := s.store.ListZones(ctx)
	if err != nil {
		return 0, fmt.Errorf("load zones: %w", err)
	}
	tracked := 0
	for _, z := range zones {
		if err := s.engine.Track(ctx, z); err != nil {
			s.log.Warn(ctx, "stored zone not restored",
				logging.String("zone", z.Name), logging.Err(err))
			continue
		}
		tracked++
	}
	s.log.Info(ctx, "zones restored",
		logging.Int("tracked", tracked), logging.Int("stored", len(zones)))
	return tracked, nil
}

// PutZone persists z and (re)tracks it. A previously resolved guardian
// endpoint is kept when z carries none for the same guardian.
func (s *SafeSpaceState) PutZone(ctx context.Context, z model.Zone) error {
	if err := z.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if z.Guardian.Endpoint == "" {
		if prev, err := s.store.GetZone(ctx, z.Name); err == nil && prev.Guardian.Ref() == z.Guardian.Ref() {
			z.Guardian.Endpoint = prev.Guardian.Endpoint
		}
	}
	if err := s.store.PutZone(ctx, z); err != nil {
		return fmt.Errorf("persist zone %q: %w", z.Name, err)
	}
	return s.engine.Track(ctx, z)
}

// DeleteZone removes the named zone from the store and stops tracking it.
func (s *SafeSpaceState) DeleteZone(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.DeleteZone(ctx, name); err != nil {
		return err
	}
	s.engine.Untrack(ctx, name)
	return nil
}

// Zone returns the tracked snapshot of the named zone.
func (s *SafeSpaceState) Zone(name string) (core.TrackedZone, error) {
	tz, ok := s.engine.Zone(name)
	if !ok {
		return core.TrackedZone{}, fmt.Errorf("zone %q: %w", name, ErrNotFound)
	}
	return tz, nil
}

// Zones returns every tracked zone ordered by name.
func (s *SafeSpaceState) Zones() []core.TrackedZone {
	return s.engine.Zones()
}

// Profile returns the monitored person.
func (s *SafeSpaceState) Profile() model.MonitoredPerson {
	return s.engine.MonitoredPerson()
}

// SetProfile validates, persists and applies the monitored person.
func (s *SafeSpaceState) SetProfile(ctx context.Context, p model.MonitoredPerson) error {
	p.Name = strings.TrimSpace(p.Name)
	p.Phone = strings.TrimSpace(p.Phone)
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProfile)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.PutProfile(ctx, p); err != nil {
		return fmt.Errorf("persist profile: %w", err)
	}
	s.engine.SetMonitoredPerson(p)
	s.log.Info(ctx, "profile updated", logging.String("name", p.Name))
	return nil
}
