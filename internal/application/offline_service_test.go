package application

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bustickets/service-tracking/internal/connectivity"
	"github.com/bustickets/service-tracking/internal/domain/offline"
	"github.com/bustickets/service-tracking/internal/storage"
)

// spyProcessor records the replayed actions in order.
type spyProcessor struct {
	actions []offline.Action
	fail    map[string]bool
}

func (p *spyProcessor) Process(_ context.Context, action offline.Action) error {
	p.actions = append(p.actions, action)
	if p.fail[action.Type] {
		return errors.New("processing failed")
	}
	return nil
}

type offlineFixture struct {
	svc     *OfflineService
	monitor *connectivity.Monitor
	spy     *spyProcessor
	kv      *storage.MemoryStore
	now     time.Time
}

func newOfflineFixture(t *testing.T) *offlineFixture {
	t.Helper()

	f := &offlineFixture{
		kv:      storage.NewMemoryStore(),
		monitor: connectivity.NewMonitor(zap.NewNop()),
		spy:     &spyProcessor{},
		now:     time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewOfflineService(f.kv, f.monitor, f.spy, zap.NewNop())
	f.svc.WithClock(func() time.Time { return f.now })
	return f
}

type latLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func TestOfflineService_CacheRoundTrip(t *testing.T) {
	t.Parallel()

	f := newOfflineFixture(t)
	ctx := context.Background()

	f.svc.CacheEntry(ctx, offline.NamespaceBusLocation, "BK1", latLng{Lat: 1, Lng: 2})

	// Going offline does not affect reads: the cache is the point.
	f.monitor.Set(false)

	entry := f.svc.GetCached(ctx, offline.NamespaceBusLocation, "BK1")
	require.NotNil(t, entry)
	assert.Equal(t, f.now, entry.Timestamp)

	var got latLng
	require.NoError(t, entry.Decode(&got))
	assert.Equal(t, latLng{Lat: 1, Lng: 2}, got)
}

func TestOfflineService_GetCachedMissing(t *testing.T) {
	t.Parallel()

	f := newOfflineFixture(t)
	assert.Nil(t, f.svc.GetCached(context.Background(), offline.NamespaceRouteData, "nope"))
}

func TestOfflineService_GetCachedUndecodable(t *testing.T) {
	t.Parallel()

	f := newOfflineFixture(t)
	ctx := context.Background()
	require.NoError(t, f.kv.Set(ctx, "traffic_data_r1", "{broken"))

	assert.Nil(t, f.svc.GetCached(ctx, offline.NamespaceTrafficData, "r1"))
}

func TestOfflineService_NamespacesAreIsolated(t *testing.T) {
	t.Parallel()

	f := newOfflineFixture(t)
	ctx := context.Background()

	f.svc.CacheEntry(ctx, offline.NamespaceBusLocation, "K", latLng{Lat: 1})
	f.svc.CacheEntry(ctx, offline.NamespaceRouteData, "K", latLng{Lat: 2})

	var a, b latLng
	require.NoError(t, f.svc.GetCached(ctx, offline.NamespaceBusLocation, "K").Decode(&a))
	require.NoError(t, f.svc.GetCached(ctx, offline.NamespaceRouteData, "K").Decode(&b))
	assert.Equal(t, 1.0, a.Lat)
	assert.Equal(t, 2.0, b.Lat)
}

func TestOfflineService_MapCacheExpiry(t *testing.T) {
	t.Parallel()

	f := newOfflineFixture(t)
	ctx := context.Background()

	assert.True(t, f.svc.IsMapCacheExpired(ctx, "istanbul", 0), "missing entry counts as expired")

	f.svc.CacheEntry(ctx, offline.NamespaceMapData, "istanbul", latLng{Lat: 41})
	assert.False(t, f.svc.IsMapCacheExpired(ctx, "istanbul", 0))

	f.now = f.now.Add(25 * time.Hour)
	assert.True(t, f.svc.IsMapCacheExpired(ctx, "istanbul", 0))
	assert.False(t, f.svc.IsMapCacheExpired(ctx, "istanbul", 48*time.Hour))
}

func TestOfflineService_QueueFIFOReplay(t *testing.T) {
	t.Parallel()

	f := newOfflineFixture(t)
	ctx := context.Background()

	f.monitor.Set(false)
	f.svc.QueueAction(ctx, "a1", map[string]string{"n": "1"})
	f.svc.QueueAction(ctx, "a2", map[string]string{"n": "2"})
	f.svc.QueueAction(ctx, "a3", map[string]string{"n": "3"})

	require.Len(t, f.svc.QueuedActions(ctx), 3)

	result := f.svc.SyncOfflineData(ctx)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 0, result.Failed)

	require.Len(t, f.spy.actions, 3)
	assert.Equal(t, "a1", f.spy.actions[0].Type)
	assert.Equal(t, "a2", f.spy.actions[1].Type)
	assert.Equal(t, "a3", f.spy.actions[2].Type)

	assert.Empty(t, f.svc.QueuedActions(ctx), "queue is cleared after replay")
}

func TestOfflineService_ReplayDropsFailures(t *testing.T) {
	t.Parallel()

	f := newOfflineFixture(t)
	f.spy.fail = map[string]bool{"bad": true}
	ctx := context.Background()

	f.svc.QueueAction(ctx, "ok1", nil)
	f.svc.QueueAction(ctx, "bad", nil)
	f.svc.QueueAction(ctx, "ok2", nil)

	result := f.svc.SyncOfflineData(ctx)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Failed)

	// Every entry was attempted, in order, and none survives.
	require.Len(t, f.spy.actions, 3)
	assert.Equal(t, "bad", f.spy.actions[1].Type)
	assert.Empty(t, f.svc.QueuedActions(ctx))
}

func TestOfflineService_ReconnectTriggersSyncOnce(t *testing.T) {
	t.Parallel()

	f := newOfflineFixture(t)
	ctx := context.Background()

	stop := f.svc.Start(ctx)
	defer stop()

	f.monitor.Set(false)
	f.svc.QueueAction(ctx, "deferred", map[string]int{"v": 1})
	f.svc.QueueAction(ctx, "deferred", map[string]int{"v": 2})

	f.monitor.Set(true)
	assert.Len(t, f.spy.actions, 2, "replay ran on the false→true transition")
	assert.Empty(t, f.svc.QueuedActions(ctx))

	// Setting true again is not a transition; nothing replays.
	f.svc.QueueAction(ctx, "late", nil)
	f.monitor.Set(true)
	assert.Len(t, f.spy.actions, 2)
}

func TestOfflineService_QueuePreservesPayload(t *testing.T) {
	t.Parallel()

	f := newOfflineFixture(t)
	ctx := context.Background()

	f.svc.QueueAction(ctx, "a", latLng{Lat: 3, Lng: 4})

	actions := f.svc.QueuedActions(ctx)
	require.Len(t, actions, 1)
	assert.Equal(t, f.now, actions[0].Timestamp)

	var got latLng
	require.NoError(t, json.Unmarshal(actions[0].Data, &got))
	assert.Equal(t, latLng{Lat: 3, Lng: 4}, got)
}

func TestOfflineService_ClearAllCachedData(t *testing.T) {
	t.Parallel()

	f := newOfflineFixture(t)
	ctx := context.Background()

	f.svc.CacheEntry(ctx, offline.NamespaceMapData, "r1", latLng{})
	f.svc.CacheEntry(ctx, offline.NamespaceBusLocation, "BK1", latLng{})
	f.svc.CacheEntry(ctx, offline.NamespaceRouteData, "k1", latLng{})
	f.svc.CacheEntry(ctx, offline.NamespaceTrafficData, "k1", latLng{})
	f.svc.QueueAction(ctx, "keep-me", nil)
	require.NoError(t, f.kv.Set(ctx, "share_tok", "{}"))

	cleared := f.svc.ClearAllCachedData(ctx)
	assert.Equal(t, 4, cleared)

	assert.Nil(t, f.svc.GetCached(ctx, offline.NamespaceBusLocation, "BK1"))

	// The queue and share records are outside the cache namespaces.
	assert.Len(t, f.svc.QueuedActions(ctx), 1)
	_, err := f.kv.Get(ctx, "share_tok")
	assert.NoError(t, err)
}
