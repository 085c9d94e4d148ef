package core

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/safespaces/internal/logging"
	"github.com/signalsfoundry/safespaces/internal/schedule"
	"github.com/signalsfoundry/safespaces/model"
)

const tracerName = "github.com/signalsfoundry/safespaces/core"

// ErrInvalidZone is returned by Track when a zone fails validation.
var ErrInvalidZone = model.ErrInvalidZone

// Deadline check outcomes reported to the metrics recorder.
const (
	DeadlineOutcomeInside   = "inside"
	DeadlineOutcomeViolated = "violated"
	DeadlineOutcomeNoFix    = "no_fix"
	DeadlineOutcomeStale    = "stale"
)

// LocationSource answers distance queries against the latest device fix and
// keeps the set of monitored regions in lockstep with the engine.
type LocationSource interface {
	// CurrentDistance returns the distance in metres from the latest fix to
	// center. ok is false when no usable fix is available.
	CurrentDistance(center model.Coordinate) (distance float64, ok bool)
	RegisterZone(name string, center model.Coordinate, radius float64)
	UnregisterZone(name string)
}

// NotificationSink delivers the two halves of a notification. Implementations
// must not block on delivery.
type NotificationSink interface {
	Local(ctx context.Context, title, body string) error
	Remote(ctx context.Context, guardian model.Guardian, title, body string) error
}

// EngineMetricsRecorder receives engine counters. All methods must be safe
// for concurrent use.
type EngineMetricsRecorder interface {
	SetTrackedZones(n int)
	ObserveTransition(kind model.NotificationKind, caution bool)
	ObserveDeadlineCheck(kind model.NotificationKind, outcome string)
}

type noopEngineMetrics struct{}

func (noopEngineMetrics) SetTrackedZones(int)                                 {}
func (noopEngineMetrics) ObserveTransition(model.NotificationKind, bool)      {}
func (noopEngineMetrics) ObserveDeadlineCheck(model.NotificationKind, string) {}

// TrackedZone is a read-only snapshot of one zone as seen by the engine.
type TrackedZone struct {
	Zone             model.Zone
	State            model.MembershipState
	ArrivalPending   bool
	DeparturePending bool
}

// trackedZone is the engine-owned record of a zone. generation identifies
// the Track call that created it; deadline callbacks carry the generation
// they were scheduled under and are dropped when it no longer matches.
type trackedZone struct {
	zone       model.Zone
	state      model.MembershipState
	generation uint64

	arrivalID     string
	departureID   string
	arrivalDone   bool
	departureDone bool
}

func (z *trackedZone) deadlineDone(kind model.NotificationKind) bool {
	if kind == model.NotificationArrivalDeadline {
		return z.arrivalDone
	}
	return z.departureDone
}

func (z *trackedZone) consumeDeadline(kind model.NotificationKind) {
	if kind == model.NotificationArrivalDeadline {
		z.arrivalDone, z.arrivalID = true, ""
		return
	}
	z.departureDone, z.departureID = true, ""
}

// GeofenceEngine owns the membership state of every tracked zone and decides
// which entry, exit and deadline notifications to emit.
//
// Concurrency:
//   - mu guards the zone table and the monitored person. Scheduler calls are
//     made under mu; LocationSource and NotificationSink calls never are.
//   - trackMu serializes Track, Untrack and scheduled deadline checks, so a
//     check that has not emitted by the time Untrack returns never will.
//     Lock order is trackMu before mu.
type GeofenceEngine struct {
	trackMu sync.Mutex

	mu         sync.Mutex
	zones      map[string]*trackedZone
	generation uint64
	person     model.MonitoredPerson

	subMu   sync.RWMutex
	subs    map[int]func(model.Notification)
	nextSub int

	location  LocationSource
	sink      NotificationSink
	scheduler schedule.EventScheduler
	log       logging.Logger
	metrics   EngineMetricsRecorder
	tracer    trace.Tracer
	title     string
	newID     func() string
}

// EngineOption customises a GeofenceEngine.
type EngineOption func(*GeofenceEngine)

// WithEngineLogger sets the logger used for engine diagnostics.
func WithEngineLogger(l logging.Logger) EngineOption {
	return func(e *GeofenceEngine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithEngineMetrics attaches a metrics recorder.
func WithEngineMetrics(m EngineMetricsRecorder) EngineOption {
	return func(e *GeofenceEngine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithTitle overrides the notification title.
func WithTitle(title string) EngineOption {
	return func(e *GeofenceEngine) {
		if title != "" {
			e.title = title
		}
	}
}

// WithIDGenerator overrides how notification IDs are minted.
func WithIDGenerator(f func() string) EngineOption {
	return func(e *GeofenceEngine) {
		if f != nil {
			e.newID = f
		}
	}
}

// NewGeofenceEngine builds an engine. The scheduler's Now is the engine clock.
func NewGeofenceEngine(location LocationSource, sink NotificationSink, scheduler schedule.EventScheduler, person model.MonitoredPerson, opts ...EngineOption) *GeofenceEngine {
	e := &GeofenceEngine{
		zones:     make(map[string]*trackedZone),
		person:    person,
		subs:      make(map[int]func(model.Notification)),
		location:  location,
		sink:      sink,
		scheduler: scheduler,
		log:       logging.Noop(),
		metrics:   noopEngineMetrics{},
		tracer:    otel.Tracer(tracerName),
		title:     DefaultNotificationTitle,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Track starts (or restarts) monitoring of zone. An existing zone with the
// same name is replaced: its pending deadline checks are cancelled and its
// state goes back to Unknown. Deadlines that are already due are checked
// before Track returns.
func (e *GeofenceEngine) Track(ctx context.Context, zone model.Zone) error {
	ctx, span := e.startSpan(ctx, "GeofenceEngine.Track", zone.Name)
	defer span.End()

	if err := zone.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	e.trackMu.Lock()
	defer e.trackMu.Unlock()

	e.mu.Lock()
	replaced := false
	if prev, ok := e.zones[zone.Name]; ok {
		e.cancelDeadlinesLocked(prev)
		replaced = true
	}
	e.generation++
	tz := &trackedZone{zone: zone, state: model.StateUnknown, generation: e.generation}
	e.zones[zone.Name] = tz

	now := e.scheduler.Now()
	var due []model.NotificationKind
	if zone.Window.Start.After(now) {
		tz.arrivalID = e.scheduler.Schedule(zone.Window.Start, e.deadlineCallback(zone.Name, model.NotificationArrivalDeadline, tz.generation))
	} else {
		due = append(due, model.NotificationArrivalDeadline)
	}
	if zone.Window.End.After(now) {
		tz.departureID = e.scheduler.Schedule(zone.Window.End, e.deadlineCallback(zone.Name, model.NotificationDepartureDeadline, tz.generation))
	} else {
		due = append(due, model.NotificationDepartureDeadline)
	}
	gen := tz.generation
	count := len(e.zones)
	e.mu.Unlock()

	e.metrics.SetTrackedZones(count)
	e.location.RegisterZone(zone.Name, zone.Center, zone.Radius)

	e.log.Info(ctx, "zone tracked",
		logging.String("zone", zone.Name),
		logging.Float("radius_m", zone.Radius),
		logging.String("window_start", zone.Window.Start.Format(time.RFC3339)),
		logging.String("window_end", zone.Window.End.Format(time.RFC3339)),
		logging.Bool("replaced", replaced),
	)

	for _, kind := range due {
		e.checkDeadline(ctx, zone.Name, kind, gen)
	}
	return nil
}

// Untrack stops monitoring the named zone. Unknown names are ignored.
func (e *GeofenceEngine) Untrack(ctx context.Context, name string) {
	ctx, span := e.startSpan(ctx, "GeofenceEngine.Untrack", name)
	defer span.End()

	e.trackMu.Lock()
	defer e.trackMu.Unlock()

	e.mu.Lock()
	tz, ok := e.zones[name]
	if !ok {
		e.mu.Unlock()
		e.log.Debug(ctx, "untrack of unknown zone ignored", logging.String("zone", name))
		return
	}
	e.cancelDeadlinesLocked(tz)
	delete(e.zones, name)
	count := len(e.zones)
	e.mu.Unlock()

	e.metrics.SetTrackedZones(count)
	e.location.UnregisterZone(name)
	e.log.Info(ctx, "zone untracked", logging.String("zone", name))
}

// OnRegionEntered records that the monitored person entered the named zone.
func (e *GeofenceEngine) OnRegionEntered(ctx context.Context, name string) {
	e.transition(ctx, name, model.StateInside, "region")
}

// OnRegionExited records that the monitored person left the named zone.
func (e *GeofenceEngine) OnRegionExited(ctx context.Context, name string) {
	e.transition(ctx, name, model.StateOutside, "region")
}

// PollDistance classifies a distance sample against the zone radius. A
// sample exactly on the boundary changes nothing.
func (e *GeofenceEngine) PollDistance(ctx context.Context, name string, distance float64) {
	e.mu.Lock()
	tz, ok := e.zones[name]
	var radius float64
	if ok {
		radius = tz.zone.Radius
	}
	e.mu.Unlock()
	if !ok {
		e.log.Debug(ctx, "distance for unknown zone ignored", logging.String("zone", name))
		return
	}

	state, ok := Classify(distance, radius)
	if !ok {
		return
	}
	e.transition(ctx, name, state, "distance")
}

// StateOf returns the membership state of the named zone, or StateUnknown if
// it is not tracked.
func (e *GeofenceEngine) StateOf(name string) model.MembershipState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if tz, ok := e.zones[name]; ok {
		return tz.state
	}
	return model.StateUnknown
}

// Zone returns a snapshot of the named zone.
func (e *GeofenceEngine) Zone(name string) (TrackedZone, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tz, ok := e.zones[name]
	if !ok {
		return TrackedZone{}, false
	}
	return snapshotOf(tz), true
}

// Zones returns a snapshot of all tracked zones ordered by name.
func (e *GeofenceEngine) Zones() []TrackedZone {
	e.mu.Lock()
	out := make([]TrackedZone, 0, len(e.zones))
	for _, tz := range e.zones {
		out = append(out, snapshotOf(tz))
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Zone.Name < out[j].Zone.Name })
	return out
}

// SetMonitoredPerson changes the name used in guardian-facing messages.
func (e *GeofenceEngine) SetMonitoredPerson(p model.MonitoredPerson) {
	e.mu.Lock()
	e.person = p
	e.mu.Unlock()
}

// MonitoredPerson returns the current monitored person.
func (e *GeofenceEngine) MonitoredPerson() model.MonitoredPerson {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.person
}

// Subscribe registers fn to observe every emitted notification. fn runs on
// the emitting goroutine, outside the zone table lock, and must not call
// Track or Untrack. The returned function removes the subscription.
func (e *GeofenceEngine) Subscribe(fn func(model.Notification)) (unsubscribe func()) {
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.subMu.Unlock()

	return func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
}

func snapshotOf(tz *trackedZone) TrackedZone {
	return TrackedZone{
		Zone:             tz.zone,
		State:            tz.state,
		ArrivalPending:   !tz.arrivalDone,
		DeparturePending: !tz.departureDone,
	}
}

func (e *GeofenceEngine) transition(ctx context.Context, name string, to model.MembershipState, source string) {
	e.mu.Lock()
	tz, ok := e.zones[name]
	if !ok {
		e.mu.Unlock()
		e.log.Debug(ctx, "event for unknown zone ignored",
			logging.String("zone", name), logging.String("source", source))
		return
	}
	if tz.state == to {
		e.mu.Unlock()
		return
	}
	from := tz.state
	tz.state = to

	now := e.scheduler.Now()
	var n model.Notification
	if to == model.StateInside {
		n = composeEntry(tz.zone, e.person, now)
	} else {
		n = composeExit(tz.zone, e.person, now)
	}
	e.mu.Unlock()

	ctx, span := e.startSpan(ctx, "GeofenceEngine.Transition", name,
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
		attribute.String("source", source),
	)
	defer span.End()

	e.metrics.ObserveTransition(n.Kind, n.Caution)
	e.log.Info(ctx, "zone transition",
		logging.String("zone", name),
		logging.String("from", from.String()),
		logging.String("to", to.String()),
		logging.String("source", source),
		logging.Bool("caution", n.Caution),
	)
	e.emit(ctx, n)
}

// deadlineCallback returns the scheduler callback for one deadline. It takes
// trackMu so it cannot interleave with Track or Untrack.
func (e *GeofenceEngine) deadlineCallback(name string, kind model.NotificationKind, gen uint64) func() {
	return func() {
		e.trackMu.Lock()
		defer e.trackMu.Unlock()
		e.checkDeadline(context.Background(), name, kind, gen)
	}
}

// checkDeadline evaluates one deadline. The check is consumed before the
// location is queried, so a missing fix means it never fires for this
// generation. Caller must hold trackMu.
func (e *GeofenceEngine) checkDeadline(ctx context.Context, name string, kind model.NotificationKind, gen uint64) {
	e.mu.Lock()
	tz, ok := e.zones[name]
	if !ok || tz.generation != gen || tz.deadlineDone(kind) {
		e.mu.Unlock()
		e.metrics.ObserveDeadlineCheck(kind, DeadlineOutcomeStale)
		return
	}
	tz.consumeDeadline(kind)
	zone := tz.zone
	person := e.person
	e.mu.Unlock()

	ctx, span := e.startSpan(ctx, "GeofenceEngine.DeadlineCheck", name,
		attribute.String("deadline", string(kind)))
	defer span.End()

	distance, ok := e.location.CurrentDistance(zone.Center)
	if !ok {
		e.metrics.ObserveDeadlineCheck(kind, DeadlineOutcomeNoFix)
		e.log.Debug(ctx, "deadline check skipped: no location fix",
			logging.String("zone", name), logging.String("deadline", string(kind)))
		return
	}
	span.SetAttributes(attribute.Float64("distance_m", distance))
	if distance < zone.Radius {
		e.metrics.ObserveDeadlineCheck(kind, DeadlineOutcomeInside)
		return
	}

	e.metrics.ObserveDeadlineCheck(kind, DeadlineOutcomeViolated)
	e.log.Warn(ctx, "deadline violated",
		logging.String("zone", name),
		logging.String("deadline", string(kind)),
		logging.Float("distance_m", distance),
	)
	e.emit(ctx, composeDeadline(kind, zone, person, e.scheduler.Now()))
}

// cancelDeadlinesLocked cancels the pending checks of tz. Caller must hold mu.
func (e *GeofenceEngine) cancelDeadlinesLocked(tz *trackedZone) {
	if tz.arrivalID != "" {
		e.scheduler.Cancel(tz.arrivalID)
		tz.arrivalID = ""
	}
	if tz.departureID != "" {
		e.scheduler.Cancel(tz.departureID)
		tz.departureID = ""
	}
}

// emit stamps n and hands both halves to the sink. Sink errors are logged
// and never returned.
func (e *GeofenceEngine) emit(ctx context.Context, n model.Notification) {
	n.ID = e.newID()
	n.Title = e.title

	e.subMu.RLock()
	subs := make([]func(model.Notification), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.subMu.RUnlock()
	for _, fn := range subs {
		fn(n)
	}

	if err := e.sink.Local(ctx, n.Title, n.LocalBody); err != nil {
		e.log.Warn(ctx, "local notification failed",
			logging.String("zone", n.Zone), logging.String("kind", string(n.Kind)), logging.Err(err))
	}
	if !hasGuardian(n.Guardian) {
		e.log.Debug(ctx, "no guardian configured; remote notification skipped", logging.String("zone", n.Zone))
		return
	}
	if err := e.sink.Remote(ctx, n.Guardian, n.Title, n.RemoteBody); err != nil {
		e.log.Warn(ctx, "remote notification failed",
			logging.String("zone", n.Zone),
			logging.String("kind", string(n.Kind)),
			logging.String("guardian", n.Guardian.Name),
			logging.Err(err),
		)
	}
}

func hasGuardian(g model.Guardian) bool {
	return g.Name != "" || g.Phone != "" || g.Endpoint != ""
}

func (e *GeofenceEngine) startSpan(ctx context.Context, name, zone string, extra ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs := append([]attribute.KeyValue{attribute.String("zone", zone)}, extra...)
	return e.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
