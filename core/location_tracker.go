package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/safespaces/internal/logging"
	"github.com/signalsfoundry/safespaces/model"
	"github.com/signalsfoundry/safespaces/timectrl"
)

// ErrInvalidFix is returned by UpdateLocation for out-of-range coordinates.
var ErrInvalidFix = errors.New("invalid location fix")

// Fix is one device location sample.
type Fix struct {
	Coordinate model.Coordinate
	At         time.Time
}

// RegionObserver receives per-region distance samples derived from fixes.
// GeofenceEngine satisfies it.
type RegionObserver interface {
	PollDistance(ctx context.Context, name string, distance float64)
}

type region struct {
	center model.Coordinate
	radius float64
}

// LocationTracker is the LocationSource for a single device. It keeps the
// latest fix and the monitored regions, and turns each new fix into a
// PollDistance call per region on the attached observer.
//
// The tracker never calls the observer while holding its own lock.
type LocationTracker struct {
	mu       sync.RWMutex
	fix      *Fix
	regions  map[string]region
	observer RegionObserver

	clock     timectrl.SimClock
	maxFixAge time.Duration
	log       logging.Logger
}

// TrackerOption customises a LocationTracker.
type TrackerOption func(*LocationTracker)

// WithTrackerClock sets the clock used to age fixes.
func WithTrackerClock(c timectrl.SimClock) TrackerOption {
	return func(t *LocationTracker) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithMaxFixAge makes fixes older than d count as unavailable. Zero disables
// the check.
func WithMaxFixAge(d time.Duration) TrackerOption {
	return func(t *LocationTracker) { t.maxFixAge = d }
}

// WithTrackerLogger sets the tracker logger.
func WithTrackerLogger(l logging.Logger) TrackerOption {
	return func(t *LocationTracker) {
		if l != nil {
			t.log = l
		}
	}
}

// NewLocationTracker returns a tracker with no fix and no regions.
func NewLocationTracker(opts ...TrackerOption) *LocationTracker {
	t := &LocationTracker{
		regions: make(map[string]region),
		clock:   timectrl.SystemClock{},
		log:     logging.Noop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Attach sets the observer notified on every fix. Passing nil detaches.
func (t *LocationTracker) Attach(o RegionObserver) {
	t.mu.Lock()
	t.observer = o
	t.mu.Unlock()
}

// RegisterZone implements LocationSource.
func (t *LocationTracker) RegisterZone(name string, center model.Coordinate, radius float64) {
	t.mu.Lock()
	t.regions[name] = region{center: center, radius: radius}
	t.mu.Unlock()
}

// UnregisterZone implements LocationSource.
func (t *LocationTracker) UnregisterZone(name string) {
	t.mu.Lock()
	delete(t.regions, name)
	t.mu.Unlock()
}

// Regions returns the names of the registered regions in sorted order.
func (t *LocationTracker) Regions() []string {
	t.mu.RLock()
	names := make([]string, 0, len(t.regions))
	for name := range t.regions {
		names = append(names, name)
	}
	t.mu.RUnlock()
	sort.Strings(names)
	return names
}

// LastFix returns the most recent fix, if any.
func (t *LocationTracker) LastFix() (Fix, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.fix == nil {
		return Fix{}, false
	}
	return *t.fix, true
}

// CurrentDistance implements LocationSource. It reports false when there is
// no fix or the fix is older than the configured maximum age.
func (t *LocationTracker) CurrentDistance(center model.Coordinate) (float64, bool) {
	t.mu.RLock()
	fix := t.fix
	t.mu.RUnlock()

	if fix == nil || t.stale(*fix) {
		return 0, false
	}
	return DistanceMetres(fix.Coordinate, center), true
}

func (t *LocationTracker) stale(f Fix) bool {
	return t.maxFixAge > 0 && t.clock.Now().Sub(f.At) > t.maxFixAge
}

// UpdateLocation records a new fix and forwards the distance to every
// registered region to the observer. A zero at is stamped with the tracker
// clock. Fixes older than the current one are recorded nowhere.
func (t *LocationTracker) UpdateLocation(ctx context.Context, c model.Coordinate, at time.Time) error {
	if !c.Valid() {
		return fmt.Errorf("%w: (%v, %v)", ErrInvalidFix, c.Latitude, c.Longitude)
	}
	if at.IsZero() {
		at = t.clock.Now()
	}

	t.mu.Lock()
	if t.fix != nil && at.Before(t.fix.At) {
		t.mu.Unlock()
		t.log.Debug(ctx, "out-of-order fix dropped", logging.String("at", at.Format(time.RFC3339)))
		return nil
	}
	t.fix = &Fix{Coordinate: c, At: at}
	observer := t.observer
	regions := make(map[string]region, len(t.regions))
	for name, r := range t.regions {
		regions[name] = r
	}
	t.mu.Unlock()

	if observer == nil {
		return nil
	}

	names := make([]string, 0, len(regions))
	for name := range regions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		d := DistanceMetres(c, regions[name].center)
		observer.PollDistance(ctx, name, d)
	}
	return nil
}
