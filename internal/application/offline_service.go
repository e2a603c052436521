package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bustickets/service-tracking/internal/connectivity"
	"github.com/bustickets/service-tracking/internal/domain/offline"
	"github.com/bustickets/service-tracking/internal/storage"
)

const actionQueueKey = "offline_action_queue"

// SyncResult reports one replay of the offline action queue. Failed
// actions are dropped, not requeued; the counts make the drops
// observable.
type SyncResult struct {
	Processed int
	Failed    int
}

// OfflineService caches last-known tracking data for offline reads and
// replays deferred actions when connectivity returns. Reads degrade to
// nil and writes are best-effort: a lost cache entry is never worth a
// crash.
type OfflineService struct {
	store     storage.Store
	monitor   *connectivity.Monitor
	processor offline.ActionProcessor
	now       func() time.Time
	// queueMu serializes read-modify-write of the action queue.
	queueMu sync.Mutex
	logger  *zap.Logger
}

// NewOfflineService creates a new OfflineService. The processor runs
// queued actions during replay; it may be nil, in which case replay
// only drains the queue.
func NewOfflineService(store storage.Store, monitor *connectivity.Monitor, processor offline.ActionProcessor, logger *zap.Logger) *OfflineService {
	return &OfflineService{
		store:     store,
		monitor:   monitor,
		processor: processor,
		now:       time.Now,
		logger:    logger,
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *OfflineService) WithClock(now func() time.Time) *OfflineService {
	s.now = now
	return s
}

// SetProcessor wires the replay processor. Needed because the tracking
// service both consumes this manager and replays its queue.
func (s *OfflineService) SetProcessor(p offline.ActionProcessor) {
	s.processor = p
}

// Start subscribes to connectivity transitions and returns the
// unsubscribe function. The false→true transition triggers exactly one
// replay; true→false only records the state.
func (s *OfflineService) Start(ctx context.Context) func() {
	return s.monitor.Subscribe(func(connected bool) {
		if !connected {
			s.logger.Info("connection lost, subsequent reads served from cache")
			return
		}
		s.logger.Info("connection restored, syncing offline data")
		s.SyncOfflineData(ctx)
	})
}

// IsConnected reports the last observed connectivity state.
func (s *OfflineService) IsConnected() bool {
	return s.monitor.IsConnected()
}

// CacheEntry writes payload with a fresh capture timestamp under
// "<namespace>_<key>". Best-effort: failures are logged only.
func (s *OfflineService) CacheEntry(ctx context.Context, ns offline.Namespace, key string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to encode cache payload", zap.Error(err), zap.String("namespace", string(ns)))
		return
	}

	entry := offline.CacheEntry{Payload: data, Timestamp: s.now().UTC()}
	raw, err := json.Marshal(entry)
	if err != nil {
		s.logger.Error("failed to encode cache entry", zap.Error(err), zap.String("namespace", string(ns)))
		return
	}

	if err := s.store.Set(ctx, cacheKey(ns, key), string(raw)); err != nil {
		s.logger.Error("failed to write cache entry",
			zap.Error(err),
			zap.String("namespace", string(ns)),
			zap.String("key", key),
		)
		return
	}

	s.logger.Debug("cache entry written", zap.String("namespace", string(ns)), zap.String("key", key))
}

// GetCached returns the entry for a key, or nil when absent or
// unreadable. Staleness is the caller's concern; only map data has an
// enforced max age (see IsMapCacheExpired).
func (s *OfflineService) GetCached(ctx context.Context, ns offline.Namespace, key string) *offline.CacheEntry {
	raw, err := s.store.Get(ctx, cacheKey(ns, key))
	if err != nil {
		if !errors.Is(err, storage.ErrKeyNotFound) {
			s.logger.Error("failed to read cache entry", zap.Error(err), zap.String("key", key))
		}
		return nil
	}

	var entry offline.CacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		s.logger.Error("failed to decode cache entry", zap.Error(err), zap.String("key", key))
		return nil
	}
	return &entry
}

// IsMapCacheExpired reports whether the cached map data for a region is
// older than maxAge. Missing or unreadable entries count as expired.
// maxAge <= 0 selects the 24h default.
func (s *OfflineService) IsMapCacheExpired(ctx context.Context, region string, maxAge time.Duration) bool {
	if maxAge <= 0 {
		maxAge = offline.DefaultMapMaxAge
	}
	entry := s.GetCached(ctx, offline.NamespaceMapData, region)
	if entry == nil {
		return true
	}
	return entry.IsExpired(maxAge, s.now())
}

// QueueAction appends a deferred operation to the offline queue.
// Callers are expected to check IsConnected first; the queue itself
// does not enforce it.
func (s *OfflineService) QueueAction(ctx context.Context, actionType string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to encode queued action", zap.Error(err), zap.String("type", actionType))
		return
	}

	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	queue := s.readQueue(ctx)
	queue = append(queue, offline.Action{
		Type:      actionType,
		Data:      payload,
		Timestamp: s.now().UTC(),
	})
	s.writeQueue(ctx, queue)

	s.logger.Info("action queued for replay", zap.String("type", actionType), zap.Int("queue_len", len(queue)))
}

// QueuedActions returns the current queue contents in insertion order.
func (s *OfflineService) QueuedActions(ctx context.Context) []offline.Action {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return s.readQueue(ctx)
}

// SyncOfflineData replays the queue in FIFO order and clears it after
// every entry has been attempted. Failures are logged and dropped.
func (s *OfflineService) SyncOfflineData(ctx context.Context) SyncResult {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	queue := s.readQueue(ctx)
	if len(queue) == 0 {
		return SyncResult{}
	}

	s.logger.Info("processing queued offline actions", zap.Int("count", len(queue)))

	var result SyncResult
	for _, action := range queue {
		if err := s.process(ctx, action); err != nil {
			result.Failed++
			s.logger.Error("queued action failed, dropping",
				zap.Error(err),
				zap.String("type", action.Type),
			)
			continue
		}
		result.Processed++
	}

	s.writeQueue(ctx, nil)
	return result
}

// ClearActionQueue drops all queued actions.
func (s *OfflineService) ClearActionQueue(ctx context.Context) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	s.writeQueue(ctx, nil)
}

// ClearAllCachedData removes every key under the cache namespaces and
// returns the number of keys removed. The action queue survives.
func (s *OfflineService) ClearAllCachedData(ctx context.Context) int {
	keys, err := s.store.Keys(ctx)
	if err != nil {
		s.logger.Error("failed to list keys for cache clear", zap.Error(err))
		return 0
	}

	cleared := 0
	for _, key := range keys {
		if !hasCachePrefix(key) {
			continue
		}
		if err := s.store.Remove(ctx, key); err != nil {
			s.logger.Error("failed to remove cached entry", zap.Error(err), zap.String("key", key))
			continue
		}
		cleared++
	}

	if cleared > 0 {
		s.logger.Info("cleared cached data", zap.Int("count", cleared))
	}
	return cleared
}

func (s *OfflineService) process(ctx context.Context, action offline.Action) error {
	if s.processor == nil {
		s.logger.Warn("no action processor configured, dropping action", zap.String("type", action.Type))
		return nil
	}
	return s.processor.Process(ctx, action)
}

// readQueue must be called with queueMu held.
func (s *OfflineService) readQueue(ctx context.Context) []offline.Action {
	raw, err := s.store.Get(ctx, actionQueueKey)
	if err != nil {
		if !errors.Is(err, storage.ErrKeyNotFound) {
			s.logger.Error("failed to read action queue", zap.Error(err))
		}
		return nil
	}

	var queue []offline.Action
	if err := json.Unmarshal([]byte(raw), &queue); err != nil {
		s.logger.Error("failed to decode action queue", zap.Error(err))
		return nil
	}
	return queue
}

// writeQueue must be called with queueMu held.
func (s *OfflineService) writeQueue(ctx context.Context, queue []offline.Action) {
	if queue == nil {
		queue = []offline.Action{}
	}
	data, err := json.Marshal(queue)
	if err != nil {
		s.logger.Error("failed to encode action queue", zap.Error(err))
		return
	}
	if err := s.store.Set(ctx, actionQueueKey, string(data)); err != nil {
		s.logger.Error("failed to write action queue", zap.Error(err))
	}
}

func cacheKey(ns offline.Namespace, key string) string {
	return fmt.Sprintf("%s_%s", ns, key)
}

func hasCachePrefix(key string) bool {
	for _, ns := range offline.AllNamespaces() {
		if strings.HasPrefix(key, string(ns)+"_") {
			return true
		}
	}
	return false
}
