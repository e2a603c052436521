package offline

import (
	"context"
	"encoding/json"
	"time"
)

// Namespace is a logical cache grouping prefix. Cache keys are stored
// as "<namespace>_<key>" in the flat key-value store.
type Namespace string

const (
	NamespaceMapData     Namespace = "map_data"
	NamespaceBusLocation Namespace = "bus_location"
	NamespaceRouteData   Namespace = "route_data"
	NamespaceTrafficData Namespace = "traffic_data"
)

// AllNamespaces lists the cache namespaces removed by a clear-all.
// The offline action queue is not a cache namespace and survives.
func AllNamespaces() []Namespace {
	return []Namespace{
		NamespaceMapData,
		NamespaceBusLocation,
		NamespaceRouteData,
		NamespaceTrafficData,
	}
}

// DefaultMapMaxAge is the staleness bound applied to map data.
const DefaultMapMaxAge = 24 * time.Hour

// CacheEntry wraps an arbitrary JSON payload with its capture time.
type CacheEntry struct {
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Decode unmarshals the payload into v.
func (e *CacheEntry) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// IsExpired reports whether the entry is older than maxAge at now.
func (e *CacheEntry) IsExpired(maxAge time.Duration, now time.Time) bool {
	return now.Sub(e.Timestamp) > maxAge
}

// Action is one deferred operation in the offline queue.
type Action struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// ActionProcessor performs the online operation for one queued action
// during replay.
type ActionProcessor interface {
	Process(ctx context.Context, action Action) error
}

// ProcessorFunc adapts a function to the ActionProcessor interface.
type ProcessorFunc func(ctx context.Context, action Action) error

// Process implements ActionProcessor.
func (f ProcessorFunc) Process(ctx context.Context, action Action) error {
	return f(ctx, action)
}
