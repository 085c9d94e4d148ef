package kb

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/safespaces/model"
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventZoneUpserted EventType = iota
	EventZoneDeleted
	EventProfileUpdated
)

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type    EventType
	Zone    model.Zone
	Profile model.MonitoredPerson
}

// KnowledgeBase is an in-memory, thread-safe zone store. It backs replay
// runs and tests; serve mode uses the SQLite store.
type KnowledgeBase struct {
	mu sync.RWMutex

	zones   map[string]model.Zone
	profile model.MonitoredPerson

	subs []func(Event)
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		zones: make(map[string]model.Zone),
	}
}

// PutZone inserts or replaces a zone.
func (kb *KnowledgeBase) PutZone(_ context.Context, z model.Zone) error {
	if err := z.Validate(); err != nil {
		return err
	}
	kb.mu.Lock()
	kb.zones[z.Name] = z
	subs := append([]func(Event){}, kb.subs...)
	kb.mu.Unlock()

	kb.publish(subs, Event{Type: EventZoneUpserted, Zone: z})
	return nil
}

// GetZone returns the named zone or model.ErrNotFound.
func (kb *KnowledgeBase) GetZone(_ context.Context, name string) (model.Zone, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	z, ok := kb.zones[name]
	if !ok {
		return model.Zone{}, fmt.Errorf("zone %q: %w", name, model.ErrNotFound)
	}
	return z, nil
}

// DeleteZone removes the named zone or returns model.ErrNotFound.
func (kb *KnowledgeBase) DeleteZone(_ context.Context, name string) error {
	kb.mu.Lock()
	z, ok := kb.zones[name]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("zone %q: %w", name, model.ErrNotFound)
	}
	delete(kb.zones, name)
	subs := append([]func(Event){}, kb.subs...)
	kb.mu.Unlock()

	kb.publish(subs, Event{Type: EventZoneDeleted, Zone: z})
	return nil
}

// ListZones returns all zones ordered by name.
func (kb *KnowledgeBase) ListZones(context.Context) ([]model.Zone, error) {
	kb.mu.RLock()
	res := make([]model.Zone, 0, len(kb.zones))
	for _, z := range kb.zones {
		res = append(res, z)
	}
	kb.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

// SetGuardianEndpoint records a resolved push endpoint on every zone whose
// guardian matches ref.
func (kb *KnowledgeBase) SetGuardianEndpoint(_ context.Context, ref, endpoint string) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	for name, z := range kb.zones {
		if z.Guardian.Ref() == ref {
			z.Guardian.Endpoint = endpoint
			kb.zones[name] = z
		}
	}
	return nil
}

// GetProfile returns the monitored person.
func (kb *KnowledgeBase) GetProfile(context.Context) (model.MonitoredPerson, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.profile, nil
}

// PutProfile replaces the monitored person and notifies subscribers.
func (kb *KnowledgeBase) PutProfile(_ context.Context, p model.MonitoredPerson) error {
	kb.mu.Lock()
	kb.profile = p
	subs := append([]func(Event){}, kb.subs...)
	kb.mu.Unlock()

	kb.publish(subs, Event{Type: EventProfileUpdated, Profile: p})
	return nil
}

// Close is a no-op; it lets the KB stand in for the SQLite store.
func (kb *KnowledgeBase) Close() error { return nil }

// publish runs outside the lock to avoid deadlocks with subscribers that
// read back from the KB.
func (kb *KnowledgeBase) publish(subs []func(Event), ev Event) {
	for _, sub := range subs {
		sub(ev)
	}
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.subs = append(kb.subs, fn)
	idx := len(kb.subs) - 1

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		if idx < 0 || idx >= len(kb.subs) {
			return
		}
		kb.subs = append(kb.subs[:idx], kb.subs[idx+1:]...)
		idx = -1
	}
}
