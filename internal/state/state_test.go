package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/safespaces/core"
	"github.com/signalsfoundry/safespaces/internal/schedule"
	"github.com/signalsfoundry/safespaces/kb"
	"github.com/signalsfoundry/safespaces/model"
)

type discardSink struct{}

func (discardSink) Local(context.Context, string, string) error { return nil }
func (discardSink) Remote(context.Context, model.Guardian, string, string) error {
	return nil
}

var now = time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)

func newTestState(t *testing.T, store ZoneStore) (*SafeSpaceState, *core.GeofenceEngine, *core.LocationTracker) {
	t.Helper()
	tracker := core.NewLocationTracker()
	engine := core.NewGeofenceEngine(tracker, discardSink{}, schedule.NewFakeEventScheduler(now), model.MonitoredPerson{Name: "Me"})
	return NewSafeSpaceState(store, engine, nil), engine, tracker
}

func zone(name string) model.Zone {
	return model.Zone{
		Name:     name,
		Center:   model.Coordinate{Latitude: 10, Longitude: 10},
		Radius:   75,
		Window:   model.TimeWindow{Start: now.Add(time.Hour), End: now.Add(3 * time.Hour)},
		Guardian: model.Guardian{Name: "Sam", Phone: "+1555"},
	}
}

func TestSafeSpaceState_PutAndDeleteZoneInLockstep(t *testing.T) {
	store := kb.NewKnowledgeBase()
	st, engine, tracker := newTestState(t, store)
	ctx := context.Background()

	require.NoError(t, st.PutZone(ctx, zone("Home")))

	_, err := store.GetZone(ctx, "Home")
	require.NoError(t, err)
	assert.Equal(t, []string{"Home"}, tracker.Regions())
	assert.Len(t, engine.Zones(), 1)

	require.NoError(t, st.DeleteZone(ctx, "Home"))
	assert.Empty(t, tracker.Regions())
	assert.Empty(t, st.Zones())

	err = st.DeleteZone(ctx, "Home")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSafeSpaceState_RejectsInvalidZoneWithoutSideEffects(t *testing.T) {
	store := kb.NewKnowledgeBase()
	st, _, _ := newTestState(t, store)
	ctx := context.Background()

	bad := zone("Home")
	bad.Radius = 0
	assert.ErrorIs(t, st.PutZone(ctx, bad), ErrInvalidZone)

	zones, _ := store.ListZones(ctx)
	assert.Empty(t, zones)
	assert.Empty(t, st.Zones())
}

func TestSafeSpaceState_KeepsResolvedEndpoint(t *testing.T) {
	store := kb.NewKnowledgeBase()
	st, _, _ := newTestState(t, store)
	ctx := context.Background()

	require.NoError(t, st.PutZone(ctx, zone("Home")))
	require.NoError(t, store.SetGuardianEndpoint(ctx, "+1555", "arn:sam"))

	updated := zone("Home")
	updated.Radius = 200
	require.NoError(t, st.PutZone(ctx, updated))

	tz, err := st.Zone("Home")
	require.NoError(t, err)
	assert.Equal(t, "arn:sam", tz.Zone.Guardian.Endpoint)
	assert.Equal(t, 200.0, tz.Zone.Radius)
}

func TestSafeSpaceState_Restore(t *testing.T) {
	store := kb.NewKnowledgeBase()
	ctx := context.Background()
	require.NoError(t, store.PutZone(ctx, zone("Home")))
	require.NoError(t, store.PutZone(ctx, zone("School")))
	require.NoError(t, store.PutProfile(ctx, model.MonitoredPerson{Name: "Alex"}))

	st, engine, tracker := newTestState(t, store)
	n, err := st.Restore(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"Home", "School"}, tracker.Regions())
	assert.Equal(t, "Alex", engine.MonitoredPerson().Name)
	assert.Equal(t, model.StateUnknown, engine.StateOf("Home"))
}

func TestSafeSpaceState_Profile(t *testing.T) {
	store := kb.NewKnowledgeBase()
	st, _, _ := newTestState(t, store)
	ctx := context.Background()

	assert.ErrorIs(t, st.SetProfile(ctx, model.MonitoredPerson{Name: "  "}), ErrInvalidProfile)

	require.NoError(t, st.SetProfile(ctx, model.MonitoredPerson{Name: " Alex ", Phone: "+1666"}))
	assert.Equal(t, "Alex", st.Profile().Name)

	stored, err := store.GetProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "+1666", stored.Phone)
}

func TestSafeSpaceState_ZoneNotFound(t *testing.T) {
	st, _, _ := newTestState(t, kb.NewKnowledgeBase())
	_, err := st.Zone("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
