package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bustickets/service-tracking/internal/connectivity"
	"github.com/bustickets/service-tracking/internal/domain/offline"
	shareDomain "github.com/bustickets/service-tracking/internal/domain/share"
	"github.com/bustickets/service-tracking/internal/events"
	"github.com/bustickets/service-tracking/internal/repository"
	"github.com/bustickets/service-tracking/internal/storage"
	"github.com/bustickets/service-tracking/internal/ws"
)

type spyHub struct {
	updates []*ws.LocationUpdate
}

func (h *spyHub) Broadcast(update *ws.LocationUpdate) {
	h.updates = append(h.updates, update)
}

type spyPublisher struct {
	topics []string
	events []*events.CloudEvent
}

func (p *spyPublisher) PublishEvent(_ context.Context, topic string, ev *events.CloudEvent) error {
	p.topics = append(p.topics, topic)
	p.events = append(p.events, ev)
	return nil
}

type trackingFixture struct {
	svc       *TrackingService
	offline   *OfflineService
	shares    *ShareService
	monitor   *connectivity.Monitor
	hub       *spyHub
	publisher *spyPublisher
	now       time.Time
}

func newTrackingFixture(t *testing.T) *trackingFixture {
	t.Helper()

	f := &trackingFixture{
		monitor:   connectivity.NewMonitor(zap.NewNop()),
		hub:       &spyHub{},
		publisher: &spyPublisher{},
		now:       time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	kv := storage.NewMemoryStore()
	clock := func() time.Time { return f.now }

	f.shares = NewShareService(repository.NewShareStore(kv), "https://bustickets.app/track/", time.Hour, zap.NewNop())
	f.shares.WithClock(clock)
	f.offline = NewOfflineService(kv, f.monitor, nil, zap.NewNop())
	f.offline.WithClock(clock)
	f.svc = NewTrackingService(f.offline, f.shares, f.hub, f.publisher, "tracking.updates", f.monitor, zap.NewNop())
	f.offline.SetProcessor(f.svc)
	return f
}

func telemetry(now time.Time) events.BusLocationEvent {
	return events.BusLocationEvent{
		BookingID:            "BK1",
		Latitude:             41.0,
		Longitude:            28.9,
		SpeedKmh:             72,
		HeadingDegrees:       180,
		SpeedFactor:          0.5,
		DurationSec:          600,
		DurationInTrafficSec: 780,
		DestinationLatitude:  39.9,
		DestinationLongitude: 32.8,
		Timestamp:            now,
	}
}

func TestTrackingService_HandleBusLocationCachesAndBroadcasts(t *testing.T) {
	t.Parallel()

	f := newTrackingFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.HandleBusLocation(ctx, telemetry(f.now)))

	// Position landed in the cache under the booking id.
	posEntry := f.offline.GetCached(ctx, offline.NamespaceBusLocation, "BK1")
	require.NotNil(t, posEntry)
	var position BusPosition
	require.NoError(t, posEntry.Decode(&position))
	assert.Equal(t, 41.0, position.Latitude)
	assert.Equal(t, "41,28.9-39.9,32.8", position.RouteKey)

	// Route and traffic landed under the shared route key.
	require.NotNil(t, f.offline.GetCached(ctx, offline.NamespaceRouteData, position.RouteKey))
	trafficEntry := f.offline.GetCached(ctx, offline.NamespaceTrafficData, position.RouteKey)
	require.NotNil(t, trafficEntry)
	var traffic TrafficSummary
	require.NoError(t, trafficEntry.Decode(&traffic))
	assert.Equal(t, "high", traffic.CongestionLevel)
	assert.Equal(t, 3, traffic.DelayMinutes)

	// Viewers got the fan-out with the derived traffic state.
	require.Len(t, f.hub.updates, 1)
	assert.Equal(t, "BK1", f.hub.updates[0].BookingID)
	assert.Equal(t, "high", f.hub.updates[0].CongestionLevel)

	// Online, so the update was published immediately.
	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, []string{"tracking.updates"}, f.publisher.topics)
	assert.Equal(t, events.TrackingUpdated, f.publisher.events[0].Type)
}

func TestTrackingService_HandleBusLocationPatchesActiveShares(t *testing.T) {
	t.Parallel()

	f := newTrackingFixture(t)
	ctx := context.Background()

	dto, err := f.shares.Create(ctx, "BK1", shareDomain.BusInfo{Operator: "Luxury Travel"}, 30)
	require.NoError(t, err)

	require.NoError(t, f.svc.HandleBusLocation(ctx, telemetry(f.now)))

	rec, err := f.shares.Get(ctx, dto.Token)
	require.NoError(t, err)
	require.NotNil(t, rec.Location())
	assert.Equal(t, 41.0, rec.Location().Latitude)
	assert.Equal(t, 72.0, rec.Location().SpeedKmh)
}

func TestTrackingService_HandleBusLocationRejectsEmptyBooking(t *testing.T) {
	t.Parallel()

	f := newTrackingFixture(t)
	ev := telemetry(f.now)
	ev.BookingID = ""
	assert.Error(t, f.svc.HandleBusLocation(context.Background(), ev))
}

func TestTrackingService_GetTracking(t *testing.T) {
	t.Parallel()

	f := newTrackingFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.HandleBusLocation(ctx, telemetry(f.now)))

	view, err := f.svc.GetTracking(ctx, "BK1")
	require.NoError(t, err)
	assert.False(t, view.Offline)
	assert.Equal(t, f.now, view.CachedAt)
	require.NotNil(t, view.Route)
	require.NotNil(t, view.Traffic)
	assert.Equal(t, "high", view.Traffic.CongestionLevel)
	// Istanbul to Ankara is roughly 350km as the crow flies.
	assert.InDelta(t, 350, view.DistanceToDestKm, 30)
}

func TestTrackingService_GetTrackingMissing(t *testing.T) {
	t.Parallel()

	f := newTrackingFixture(t)
	_, err := f.svc.GetTracking(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrNoTrackingData)
}

func TestTrackingService_GetTrackingOfflineFlag(t *testing.T) {
	t.Parallel()

	f := newTrackingFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.HandleBusLocation(ctx, telemetry(f.now)))
	f.monitor.Set(false)

	view, err := f.svc.GetTracking(ctx, "BK1")
	require.NoError(t, err)
	assert.True(t, view.Offline)
	assert.Equal(t, f.now, view.CachedAt, "cached data is served unchanged while offline")
}

func TestTrackingService_RefreshOffline(t *testing.T) {
	t.Parallel()

	f := newTrackingFixture(t)
	f.monitor.Set(false)

	_, err := f.svc.Refresh(context.Background(), "BK1")
	assert.ErrorIs(t, err, ErrWaitingForConnection)
}

func TestTrackingService_RefreshRebroadcasts(t *testing.T) {
	t.Parallel()

	f := newTrackingFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.HandleBusLocation(ctx, telemetry(f.now)))
	require.Len(t, f.hub.updates, 1)

	view, err := f.svc.Refresh(ctx, "BK1")
	require.NoError(t, err)
	assert.False(t, view.Offline)

	require.Len(t, f.hub.updates, 2)
	assert.Equal(t, "BK1", f.hub.updates[1].BookingID)
	assert.Equal(t, "high", f.hub.updates[1].CongestionLevel)
}

// Updates arriving while offline are queued and published on
// reconnection, in arrival order.
func TestTrackingService_OfflinePublishReplaysOnReconnect(t *testing.T) {
	t.Parallel()

	f := newTrackingFixture(t)
	ctx := context.Background()

	stop := f.offline.Start(ctx)
	defer stop()

	f.monitor.Set(false)

	first := telemetry(f.now)
	second := telemetry(f.now.Add(10 * time.Second))
	second.Latitude = 41.1
	require.NoError(t, f.svc.HandleBusLocation(ctx, first))
	require.NoError(t, f.svc.HandleBusLocation(ctx, second))

	// Broadcasts still happen; the downstream publish is what defers.
	assert.Len(t, f.hub.updates, 2)
	assert.Empty(t, f.publisher.events)

	queued := f.offline.QueuedActions(ctx)
	require.Len(t, queued, 2)
	assert.Equal(t, ActionPublishUpdate, queued[0].Type)

	f.monitor.Set(true)

	require.Len(t, f.publisher.events, 2)
	var replayed ws.LocationUpdate
	require.NoError(t, f.publisher.events[1].ParseData(&replayed))
	assert.Equal(t, 41.1, replayed.Latitude)
	assert.Empty(t, f.offline.QueuedActions(ctx))
}

func TestTrackingService_ProcessDropsUnknownAction(t *testing.T) {
	t.Parallel()

	f := newTrackingFixture(t)
	err := f.svc.Process(context.Background(), offline.Action{Type: "mystery"})
	assert.NoError(t, err)
	assert.Empty(t, f.publisher.events)
}

func TestRouteKeyFormat(t *testing.T) {
	t.Parallel()

	key := RouteKey(
		shareDomain.Coordinates{Latitude: 41.0082, Longitude: 28.9784},
		shareDomain.Coordinates{Latitude: 39.9334, Longitude: 32.8597},
	)
	assert.Equal(t, "41.0082,28.9784-39.9334,32.8597", key)
}

func TestCongestionLevels(t *testing.T) {
	t.Parallel()

	cases := []struct {
		factor float64
		want   string
	}{
		{1.0, "low"},
		{0.81, "low"},
		{0.8, "moderate"},
		{0.61, "moderate"},
		{0.6, "high"},
		{0.31, "high"},
		{0.3, "severe"},
		{0.1, "severe"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, congestionLevel(tc.factor), "factor %v", tc.factor)
	}
}

func TestTrafficFromEventDefaults(t *testing.T) {
	t.Parallel()

	// No traffic data at all: clear road, no delay.
	got := trafficFromEvent(events.BusLocationEvent{})
	assert.Equal(t, "low", got.CongestionLevel)
	assert.Equal(t, 0, got.DelayMinutes)
	assert.Equal(t, 1.0, got.SpeedFactor)
}

func TestHaversineKm(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.0, haversineKm(41, 29, 41, 29))
	// Istanbul to Ankara, great-circle.
	assert.InDelta(t, 351, haversineKm(41.0082, 28.9784, 39.9334, 32.8597), 10)
}
