package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/safespaces/internal/schedule"
	"github.com/signalsfoundry/safespaces/model"
	"github.com/signalsfoundry/safespaces/timectrl"
)

type polledDistance struct {
	name     string
	distance float64
}

type recordingObserver struct {
	polls []polledDistance
}

func (o *recordingObserver) PollDistance(_ context.Context, name string, d float64) {
	o.polls = append(o.polls, polledDistance{name: name, distance: d})
}

func TestLocationTracker_NoFixIsUnavailable(t *testing.T) {
	tr := NewLocationTracker()
	if _, ok := tr.CurrentDistance(model.Coordinate{}); ok {
		t.Fatalf("expected no distance without a fix")
	}
}

func TestLocationTracker_UpdateForwardsDistances(t *testing.T) {
	tr := NewLocationTracker()
	obs := &recordingObserver{}
	tr.Attach(obs)

	tr.RegisterZone("b", model.Coordinate{Latitude: 0, Longitude: 1}, 100)
	tr.RegisterZone("a", model.Coordinate{Latitude: 0, Longitude: 0}, 100)

	if err := tr.UpdateLocation(context.Background(), model.Coordinate{}, time.Time{}); err != nil {
		t.Fatalf("UpdateLocation returned error: %v", err)
	}

	if len(obs.polls) != 2 {
		t.Fatalf("expected 2 polls, got %d", len(obs.polls))
	}
	if obs.polls[0].name != "a" || obs.polls[0].distance != 0 {
		t.Fatalf("unexpected first poll %+v", obs.polls[0])
	}
	if obs.polls[1].name != "b" || obs.polls[1].distance < 111000 {
		t.Fatalf("unexpected second poll %+v", obs.polls[1])
	}

	tr.UnregisterZone("b")
	if got := tr.Regions(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("Regions = %v, want [a]", got)
	}
}

func TestLocationTracker_RejectsInvalidFix(t *testing.T) {
	tr := NewLocationTracker()
	err := tr.UpdateLocation(context.Background(), model.Coordinate{Latitude: 91}, time.Time{})
	if !errors.Is(err, ErrInvalidFix) {
		t.Fatalf("expected ErrInvalidFix, got %v", err)
	}
	if _, ok := tr.LastFix(); ok {
		t.Fatalf("invalid fix was recorded")
	}
}

func TestLocationTracker_MaxFixAge(t *testing.T) {
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	clock := timectrl.NewTimeController(start, time.Minute, timectrl.Accelerated)
	tr := NewLocationTracker(WithTrackerClock(clock), WithMaxFixAge(5*time.Minute))

	if err := tr.UpdateLocation(context.Background(), model.Coordinate{}, start); err != nil {
		t.Fatalf("UpdateLocation returned error: %v", err)
	}
	if _, ok := tr.CurrentDistance(model.Coordinate{}); !ok {
		t.Fatalf("fresh fix reported unavailable")
	}

	clock.SetTime(start.Add(6 * time.Minute))
	if _, ok := tr.CurrentDistance(model.Coordinate{}); ok {
		t.Fatalf("stale fix reported available")
	}
}

func TestLocationTracker_OutOfOrderFixDropped(t *testing.T) {
	tr := NewLocationTracker()
	t1 := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()

	_ = tr.UpdateLocation(ctx, model.Coordinate{Latitude: 1}, t1)
	_ = tr.UpdateLocation(ctx, model.Coordinate{Latitude: 2}, t1.Add(-time.Second))

	fix, _ := tr.LastFix()
	if fix.Coordinate.Latitude != 1 {
		t.Fatalf("out-of-order fix replaced newer one: %+v", fix)
	}
}

func TestLocationTracker_DrivesEngine(t *testing.T) {
	now := time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)
	tr := NewLocationTracker()
	sink := &recordingSink{}
	engine := NewGeofenceEngine(tr, sink, schedule.NewFakeEventScheduler(now), model.MonitoredPerson{Name: "Alex"})
	tr.Attach(engine)
	ctx := context.Background()

	zone := model.Zone{
		Name:     "School",
		Center:   model.Coordinate{Latitude: 51.5, Longitude: -0.12},
		Radius:   200,
		Window:   model.TimeWindow{Start: now.Add(-time.Hour), End: now.Add(time.Hour)},
		Guardian: model.Guardian{Name: "Dad"},
	}
	// No fix yet, so the already-due arrival check is skipped.
	if err := engine.Track(ctx, zone); err != nil {
		t.Fatalf("Track returned error: %v", err)
	}

	_ = tr.UpdateLocation(ctx, model.Coordinate{Latitude: 51.5, Longitude: -0.12}, now)
	if got := engine.StateOf("School"); got != model.StateInside {
		t.Fatalf("StateOf = %v, want inside", got)
	}
	_ = tr.UpdateLocation(ctx, model.Coordinate{Latitude: 51.51, Longitude: -0.12}, now.Add(time.Minute))
	if got := engine.StateOf("School"); got != model.StateOutside {
		t.Fatalf("StateOf = %v, want outside", got)
	}

	if local, _ := sink.counts(); local != 2 {
		t.Fatalf("expected entry and exit notifications, got %d", local)
	}
	if got, want := sink.lastLocal(), "CAUTION! You are leaving School before the expected time. Notifying Dad"; got != want {
		t.Fatalf("local body = %q, want %q", got, want)
	}
}
