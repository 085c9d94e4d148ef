package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/safespaces/internal/schedule"
	"github.com/signalsfoundry/safespaces/model"
)

type fakeLocation struct {
	mu         sync.Mutex
	distance   float64
	ok         bool
	registered map[string]float64
}

func newFakeLocation() *fakeLocation {
	return &fakeLocation{registered: make(map[string]float64)}
}

func (l *fakeLocation) set(distance float64, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.distance, l.ok = distance, ok
}

func (l *fakeLocation) CurrentDistance(model.Coordinate) (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.distance, l.ok
}

func (l *fakeLocation) RegisterZone(name string, _ model.Coordinate, radius float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.registered[name] = radius
}

func (l *fakeLocation) UnregisterZone(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.registered, name)
}

func (l *fakeLocation) isRegistered(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.registered[name]
	return ok
}

type sentMessage struct {
	guardian string
	title    string
	body     string
}

type recordingSink struct {
	mu        sync.Mutex
	local     []sentMessage
	remote    []sentMessage
	remoteErr error
}

func (s *recordingSink) Local(_ context.Context, title, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local = append(s.local, sentMessage{title: title, body: body})
	return nil
}

func (s *recordingSink) Remote(_ context.Context, g model.Guardian, title, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remoteErr != nil {
		return s.remoteErr
	}
	s.remote = append(s.remote, sentMessage{guardian: g.Name, title: title, body: body})
	return nil
}

func (s *recordingSink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.local), len(s.remote)
}

func (s *recordingSink) lastLocal() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.local) == 0 {
		return ""
	}
	return s.local[len(s.local)-1].body
}

func (s *recordingSink) lastRemote() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.remote) == 0 {
		return ""
	}
	return s.remote[len(s.remote)-1].body
}

type recordingMetrics struct {
	mu          sync.Mutex
	tracked     int
	transitions int
	outcomes    map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{outcomes: make(map[string]int)}
}

func (m *recordingMetrics) SetTrackedZones(n int) {
	m.mu.Lock()
	m.tracked = n
	m.mu.Unlock()
}

func (m *recordingMetrics) ObserveTransition(model.NotificationKind, bool) {
	m.mu.Lock()
	m.transitions++
	m.mu.Unlock()
}

func (m *recordingMetrics) ObserveDeadlineCheck(kind model.NotificationKind, outcome string) {
	m.mu.Lock()
	m.outcomes[string(kind)+"/"+outcome]++
	m.mu.Unlock()
}

var day = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func homeZone(start, end time.Time) model.Zone {
	return model.Zone{
		Name:     "Home",
		Center:   model.Coordinate{Latitude: 0, Longitude: 0},
		Radius:   100,
		Window:   model.TimeWindow{Start: start, End: end},
		Guardian: model.Guardian{Name: "Mom", Phone: "+15550100"},
	}
}

type engineFixture struct {
	engine  *GeofenceEngine
	sched   *schedule.FakeEventScheduler
	loc     *fakeLocation
	sink    *recordingSink
	metrics *recordingMetrics
}

func newEngineFixture(t *testing.T, now time.Time) *engineFixture {
	t.Helper()
	f := &engineFixture{
		sched:   schedule.NewFakeEventScheduler(now),
		loc:     newFakeLocation(),
		sink:    &recordingSink{},
		metrics: newRecordingMetrics(),
	}
	f.engine = NewGeofenceEngine(f.loc, f.sink, f.sched,
		model.MonitoredPerson{Name: "Alex", Phone: "+15550199"},
		WithEngineMetrics(f.metrics))
	return f
}

func (f *engineFixture) track(t *testing.T, z model.Zone) {
	t.Helper()
	if err := f.engine.Track(context.Background(), z); err != nil {
		t.Fatalf("Track(%q) returned error: %v", z.Name, err)
	}
}

func TestGeofenceEngine_DuplicateEntrySuppressed(t *testing.T) {
	f := newEngineFixture(t, at(11, 0))
	f.track(t, homeZone(at(10, 0), at(12, 0)))
	ctx := context.Background()

	f.engine.OnRegionEntered(ctx, "Home")
	f.engine.OnRegionEntered(ctx, "Home")

	local, remote := f.sink.counts()
	if local != 1 || remote != 1 {
		t.Fatalf("expected exactly one entry notification, got local=%d remote=%d", local, remote)
	}
	if got := f.engine.StateOf("Home"); got != model.StateInside {
		t.Fatalf("StateOf = %v, want inside", got)
	}
}

func TestGeofenceEngine_ExitFromUnknownThenRepeated(t *testing.T) {
	f := newEngineFixture(t, at(13, 0))
	f.track(t, homeZone(at(10, 0), at(12, 0)))
	ctx := context.Background()

	f.engine.OnRegionExited(ctx, "Home")
	f.engine.OnRegionExited(ctx, "Home")
	f.engine.OnRegionExited(ctx, "Home")

	if local, _ := f.sink.counts(); local != 1 {
		t.Fatalf("expected one exit notification, got %d", local)
	}
	if got, want := f.sink.lastLocal(), "You left Home. Notifying Mom"; got != want {
		t.Fatalf("local body = %q, want %q", got, want)
	}

	f.engine.OnRegionEntered(ctx, "Home")
	f.engine.OnRegionExited(ctx, "Home")
	if local, _ := f.sink.counts(); local != 3 {
		t.Fatalf("expected entry and exit after re-entry, got %d notifications", local)
	}
}

func TestGeofenceEngine_PollDistanceBoundaryIsNoop(t *testing.T) {
	f := newEngineFixture(t, at(11, 0))
	f.track(t, homeZone(at(10, 0), at(12, 0)))
	ctx := context.Background()

	f.engine.PollDistance(ctx, "Home", 100)
	if got := f.engine.StateOf("Home"); got != model.StateUnknown {
		t.Fatalf("boundary sample changed state to %v", got)
	}

	f.engine.PollDistance(ctx, "Home", 50)
	f.engine.PollDistance(ctx, "Home", 100)
	if got := f.engine.StateOf("Home"); got != model.StateInside {
		t.Fatalf("boundary sample after inside changed state to %v", got)
	}
	if local, _ := f.sink.counts(); local != 1 {
		t.Fatalf("expected only the entry notification, got %d", local)
	}

	f.engine.PollDistance(ctx, "Home", 100.5)
	if got := f.engine.StateOf("Home"); got != model.StateOutside {
		t.Fatalf("StateOf = %v, want outside", got)
	}
	if got, want := f.sink.lastLocal(), "CAUTION! You are leaving Home before the expected time. Notifying Mom"; got != want {
		t.Fatalf("local body = %q, want %q", got, want)
	}
}

func TestGeofenceEngine_EntryMessageDependsOnWindow(t *testing.T) {
	tests := []struct {
		name       string
		now        time.Time
		wantLocal  string
		wantRemote string
	}{
		{
			name:       "inside window",
			now:        at(11, 0),
			wantLocal:  "You entered Home. Notifying Mom",
			wantRemote: "Alex entered Home",
		},
		{
			name:       "before window",
			now:        at(9, 0),
			wantLocal:  "CAUTION: You just entered Home. Notifying Mom",
			wantRemote: "CAUTION: Alex just entered Home",
		},
		{
			name:       "at window end",
			now:        at(12, 0),
			wantLocal:  "CAUTION: You just entered Home. Notifying Mom",
			wantRemote: "CAUTION: Alex just entered Home",
		},
		{
			name:       "at window start",
			now:        at(10, 0),
			wantLocal:  "You entered Home. Notifying Mom",
			wantRemote: "Alex entered Home",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(t, day)
			// Location is inside so the deadline checks stay quiet.
			f.loc.set(10, true)
			f.track(t, homeZone(at(10, 0), at(12, 0)))
			f.sched.AdvanceTo(tt.now)

			f.engine.OnRegionEntered(context.Background(), "Home")

			if got := f.sink.lastLocal(); got != tt.wantLocal {
				t.Fatalf("local body = %q, want %q", got, tt.wantLocal)
			}
			if got := f.sink.lastRemote(); got != tt.wantRemote {
				t.Fatalf("remote body = %q, want %q", got, tt.wantRemote)
			}
		})
	}
}

func TestGeofenceEngine_ExitMessageDependsOnWindow(t *testing.T) {
	f := newEngineFixture(t, at(11, 0))
	f.track(t, homeZone(at(10, 0), at(12, 0)))
	ctx := context.Background()

	f.engine.OnRegionEntered(ctx, "Home")
	f.engine.OnRegionExited(ctx, "Home")
	if got, want := f.sink.lastRemote(), "CAUTION! Alex is leaving Home before the expected time."; got != want {
		t.Fatalf("remote body = %q, want %q", got, want)
	}

	f.loc.set(500, true)
	f.engine.OnRegionEntered(ctx, "Home")
	f.sched.AdvanceTo(at(12, 30))
	f.engine.OnRegionExited(ctx, "Home")
	if got, want := f.sink.lastRemote(), "Alex left Home"; got != want {
		t.Fatalf("remote body = %q, want %q", got, want)
	}
}

func TestGeofenceEngine_ArrivalDeadline(t *testing.T) {
	t.Run("inside is a no-op", func(t *testing.T) {
		f := newEngineFixture(t, at(9, 0))
		f.track(t, homeZone(at(10, 0), at(12, 0)))
		f.loc.set(20, true)

		f.sched.AdvanceTo(at(10, 0))

		if local, remote := f.sink.counts(); local != 0 || remote != 0 {
			t.Fatalf("expected no notification, got local=%d remote=%d", local, remote)
		}
		if n := f.metrics.outcomes["arrival_deadline/inside"]; n != 1 {
			t.Fatalf("inside outcome count = %d, want 1", n)
		}
	})

	t.Run("outside emits once", func(t *testing.T) {
		f := newEngineFixture(t, at(9, 0))
		f.track(t, homeZone(at(10, 0), at(12, 0)))
		f.loc.set(250, true)

		f.sched.AdvanceTo(at(10, 0))
		f.sched.AdvanceTo(at(10, 30))

		if local, remote := f.sink.counts(); local != 1 || remote != 1 {
			t.Fatalf("expected exactly one notification, got local=%d remote=%d", local, remote)
		}
		if got, want := f.sink.lastLocal(), "CAUTION! You have not arrived at Home yet. Notifying Mom"; got != want {
			t.Fatalf("local body = %q, want %q", got, want)
		}
		if got, want := f.sink.lastRemote(), "CAUTION! Alex has not arrived at Home yet."; got != want {
			t.Fatalf("remote body = %q, want %q", got, want)
		}
	})

	t.Run("no fix is skipped", func(t *testing.T) {
		f := newEngineFixture(t, at(9, 0))
		f.track(t, homeZone(at(10, 0), at(12, 0)))

		f.sched.AdvanceTo(at(10, 0))

		if local, _ := f.sink.counts(); local != 0 {
			t.Fatalf("expected no notification without a fix, got %d", local)
		}
		if n := f.metrics.outcomes["arrival_deadline/no_fix"]; n != 1 {
			t.Fatalf("no_fix outcome count = %d, want 1", n)
		}
		if z, _ := f.engine.Zone("Home"); z.ArrivalPending {
			t.Fatalf("arrival check still pending after firing")
		}
	})
}

func TestGeofenceEngine_DepartureDeadline(t *testing.T) {
	f := newEngineFixture(t, at(9, 0))
	f.track(t, homeZone(at(10, 0), at(12, 0)))
	f.loc.set(10, true)
	f.sched.AdvanceTo(at(11, 0))

	f.loc.set(1000, true)
	f.sched.AdvanceTo(at(12, 0))

	if local, _ := f.sink.counts(); local != 1 {
		t.Fatalf("expected one departure notification, got %d", local)
	}
	if got, want := f.sink.lastRemote(), "CAUTION! Alex has already left Home."; got != want {
		t.Fatalf("remote body = %q, want %q", got, want)
	}
	if f.sched.Pending() != 0 {
		t.Fatalf("expected no pending checks, got %d", f.sched.Pending())
	}
}

func TestGeofenceEngine_PastDeadlinesRunOnTrack(t *testing.T) {
	f := newEngineFixture(t, at(13, 0))
	f.loc.set(5000, true)

	f.track(t, homeZone(at(10, 0), at(12, 0)))

	if local, _ := f.sink.counts(); local != 2 {
		t.Fatalf("expected arrival and departure notifications, got %d", local)
	}
	if f.sched.Pending() != 0 {
		t.Fatalf("past deadlines must not be handed to the scheduler, pending=%d", f.sched.Pending())
	}
}

func TestGeofenceEngine_UntrackSilencesZone(t *testing.T) {
	f := newEngineFixture(t, at(9, 0))
	f.track(t, homeZone(at(10, 0), at(12, 0)))
	f.loc.set(5000, true)
	ctx := context.Background()

	if !f.loc.isRegistered("Home") {
		t.Fatalf("Track did not register the zone with the location source")
	}

	f.engine.Untrack(ctx, "Home")

	f.engine.OnRegionEntered(ctx, "Home")
	f.engine.OnRegionExited(ctx, "Home")
	f.engine.PollDistance(ctx, "Home", 1)
	f.sched.AdvanceTo(at(13, 0))

	if local, remote := f.sink.counts(); local != 0 || remote != 0 {
		t.Fatalf("expected no notifications after Untrack, got local=%d remote=%d", local, remote)
	}
	if f.loc.isRegistered("Home") {
		t.Fatalf("Untrack did not unregister the zone")
	}
	if got := f.engine.StateOf("Home"); got != model.StateUnknown {
		t.Fatalf("StateOf after Untrack = %v, want unknown", got)
	}
	if f.sched.Pending() != 0 {
		t.Fatalf("expected cancelled checks, pending=%d", f.sched.Pending())
	}

	// Unknown names are ignored.
	f.engine.Untrack(ctx, "Home")
	f.engine.Untrack(ctx, "Nowhere")
}

func TestGeofenceEngine_RetrackResetsStateAndDeadlines(t *testing.T) {
	f := newEngineFixture(t, at(9, 0))
	f.track(t, homeZone(at(10, 0), at(12, 0)))
	ctx := context.Background()

	f.engine.OnRegionEntered(ctx, "Home")
	f.track(t, homeZone(at(14, 0), at(16, 0)))

	if got := f.engine.StateOf("Home"); got != model.StateUnknown {
		t.Fatalf("state after re-track = %v, want unknown", got)
	}
	if f.sched.Pending() != 2 {
		t.Fatalf("pending checks = %d, want 2", f.sched.Pending())
	}

	f.loc.set(5000, true)
	f.sched.AdvanceTo(at(12, 0))
	if local, _ := f.sink.counts(); local != 1 {
		t.Fatalf("old deadlines fired after re-track, notifications=%d", local)
	}

	f.sched.AdvanceTo(at(14, 0))
	if got, want := f.sink.lastLocal(), "CAUTION! You have not arrived at Home yet. Notifying Mom"; got != want {
		t.Fatalf("local body = %q, want %q", got, want)
	}
}

func TestGeofenceEngine_TrackRejectsInvalidZone(t *testing.T) {
	f := newEngineFixture(t, at(9, 0))
	f.track(t, homeZone(at(10, 0), at(12, 0)))

	bad := []model.Zone{
		{Name: "Home", Radius: 0, Window: model.TimeWindow{Start: at(10, 0), End: at(12, 0)}},
		{Name: "Home", Radius: -5, Window: model.TimeWindow{Start: at(10, 0), End: at(12, 0)}},
		{Name: "Home", Radius: 50, Window: model.TimeWindow{Start: at(12, 0), End: at(10, 0)}},
		{Name: "", Radius: 50},
	}
	for i, z := range bad {
		err := f.engine.Track(context.Background(), z)
		if !errors.Is(err, ErrInvalidZone) {
			t.Fatalf("case %d: expected ErrInvalidZone, got %v", i, err)
		}
	}

	zones := f.engine.Zones()
	if len(zones) != 1 || zones[0].Zone.Radius != 100 {
		t.Fatalf("state table changed by rejected Track: %+v", zones)
	}
	if f.metrics.tracked != 1 {
		t.Fatalf("tracked zones gauge = %d, want 1", f.metrics.tracked)
	}
}

func TestGeofenceEngine_HomeScenario(t *testing.T) {
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	f := newEngineFixture(t, now)
	f.track(t, homeZone(now.Add(time.Hour), now.Add(2*time.Hour)))

	f.engine.OnRegionEntered(context.Background(), "Home")

	local, remote := f.sink.counts()
	if local != 1 || remote != 1 {
		t.Fatalf("expected one entry notification, got local=%d remote=%d", local, remote)
	}
	if body := f.sink.lastLocal(); !strings.HasPrefix(body, "CAUTION") {
		t.Fatalf("expected CAUTION entry, got %q", body)
	}
	if got := f.engine.StateOf("Home"); got != model.StateInside {
		t.Fatalf("StateOf = %v, want inside", got)
	}
	if f.sink.local[0].title != DefaultNotificationTitle {
		t.Fatalf("title = %q, want %q", f.sink.local[0].title, DefaultNotificationTitle)
	}
}

func TestGeofenceEngine_RemoteFailureKeepsLocal(t *testing.T) {
	f := newEngineFixture(t, at(11, 0))
	f.sink.remoteErr = errors.New("endpoint not found")
	f.track(t, homeZone(at(10, 0), at(12, 0)))

	f.engine.OnRegionEntered(context.Background(), "Home")

	if local, remote := f.sink.counts(); local != 1 || remote != 0 {
		t.Fatalf("expected local only, got local=%d remote=%d", local, remote)
	}
}

func TestGeofenceEngine_NoGuardianSkipsRemote(t *testing.T) {
	f := newEngineFixture(t, at(11, 0))
	z := homeZone(at(10, 0), at(12, 0))
	z.Guardian = model.Guardian{}
	f.track(t, z)

	f.engine.OnRegionEntered(context.Background(), "Home")

	if local, remote := f.sink.counts(); local != 1 || remote != 0 {
		t.Fatalf("expected local only, got local=%d remote=%d", local, remote)
	}
}

func TestGeofenceEngine_SubscribeAndMonitoredPerson(t *testing.T) {
	f := newEngineFixture(t, at(11, 0))
	f.track(t, homeZone(at(10, 0), at(12, 0)))
	f.engine.SetMonitoredPerson(model.MonitoredPerson{Name: "Sam"})

	var got []model.Notification
	unsubscribe := f.engine.Subscribe(func(n model.Notification) { got = append(got, n) })

	f.engine.OnRegionEntered(context.Background(), "Home")
	unsubscribe()
	f.engine.OnRegionExited(context.Background(), "Home")

	if len(got) != 1 {
		t.Fatalf("subscriber saw %d notifications, want 1", len(got))
	}
	n := got[0]
	if n.ID == "" || n.Kind != model.NotificationEntry || n.Caution || n.Zone != "Home" {
		t.Fatalf("unexpected notification %+v", n)
	}
	if n.RemoteBody != "Sam entered Home" {
		t.Fatalf("remote body = %q", n.RemoteBody)
	}
}

func TestGeofenceEngine_ConcurrentEventsSerialize(t *testing.T) {
	f := newEngineFixture(t, at(11, 0))
	for i := 0; i < 5; i++ {
		z := homeZone(at(10, 0), at(12, 0))
		z.Name = fmt.Sprintf("zone-%d", i)
		f.track(t, z)
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("zone-%d", i)
		for j := 0; j < 20; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				f.engine.OnRegionEntered(context.Background(), name)
			}()
		}
	}
	wg.Wait()

	if local, _ := f.sink.counts(); local != 5 {
		t.Fatalf("expected one entry per zone, got %d", local)
	}
}
