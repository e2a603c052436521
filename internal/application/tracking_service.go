package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/bustickets/service-tracking/internal/connectivity"
	"github.com/bustickets/service-tracking/internal/domain/offline"
	shareDomain "github.com/bustickets/service-tracking/internal/domain/share"
	"github.com/bustickets/service-tracking/internal/events"
	"github.com/bustickets/service-tracking/internal/ws"
)

// ErrNoTrackingData is returned when neither live nor cached data
// exists for a booking.
var ErrNoTrackingData = errors.New("no tracking data for booking")

// ErrWaitingForConnection is returned by Refresh while offline.
var ErrWaitingForConnection = errors.New("waiting for connection")

// ActionPublishUpdate is the queued-action type for tracking updates
// deferred while offline.
const ActionPublishUpdate = "publish_tracking_update"

// Broadcaster pushes live updates to connected viewers.
type Broadcaster interface {
	Broadcast(update *ws.LocationUpdate)
}

// EventPublisher publishes CloudEvents to the event plane.
type EventPublisher interface {
	PublishEvent(ctx context.Context, topic string, ev *events.CloudEvent) error
}

// BusPosition is the cached last-known position of a bus.
type BusPosition struct {
	BookingID      string    `json:"booking_id"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	SpeedKmh       float64   `json:"speed_kmh"`
	HeadingDegrees float64   `json:"heading_degrees"`
	RouteKey       string    `json:"route_key,omitempty"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// RouteInfo is the cached route for a bus position / destination pair.
type RouteInfo struct {
	Key         string                  `json:"key"`
	Origin      shareDomain.Coordinates `json:"origin"`
	Destination shareDomain.Coordinates `json:"destination"`
}

// TrafficSummary is the cached traffic state along a route.
type TrafficSummary struct {
	CongestionLevel string  `json:"congestion_level"`
	SpeedFactor     float64 `json:"speed_factor"`
	DelayMinutes    int     `json:"delay_minutes"`
}

// TrackingView is the tracking screen payload: live when online,
// cached and flagged when offline.
type TrackingView struct {
	BookingID             string          `json:"booking_id"`
	Position              *BusPosition    `json:"position"`
	Route                 *RouteInfo      `json:"route,omitempty"`
	Traffic               *TrafficSummary `json:"traffic,omitempty"`
	DistanceToDestKm      float64         `json:"distance_to_destination_km"`
	Offline               bool            `json:"offline"`
	CachedAt              time.Time       `json:"cached_at"`
}

// TrackingService ingests bus telemetry, writes it through the offline
// cache, fans it out to viewers and live shares, and serves the
// online/offline read path. It also replays tracking updates queued
// while disconnected.
type TrackingService struct {
	offline   *OfflineService
	shares    *ShareService
	hub       Broadcaster
	publisher EventPublisher
	topic     string
	monitor   *connectivity.Monitor
	logger    *zap.Logger
}

// NewTrackingService creates a new TrackingService.
func NewTrackingService(
	offlineSvc *OfflineService,
	shares *ShareService,
	hub Broadcaster,
	publisher EventPublisher,
	updatesTopic string,
	monitor *connectivity.Monitor,
	logger *zap.Logger,
) *TrackingService {
	return &TrackingService{
		offline:   offlineSvc,
		shares:    shares,
		hub:       hub,
		publisher: publisher,
		topic:     updatesTopic,
		monitor:   monitor,
		logger:    logger,
	}
}

// HandleBusLocation processes one telemetry report: cache write-through
// (position, route, traffic), live-share patch, websocket fan-out, and
// downstream publish (queued when offline).
func (s *TrackingService) HandleBusLocation(ctx context.Context, ev events.BusLocationEvent) error {
	if ev.BookingID == "" {
		return fmt.Errorf("telemetry event has no booking id")
	}
	recordedAt := ev.Timestamp
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	origin := shareDomain.Coordinates{Latitude: ev.Latitude, Longitude: ev.Longitude}
	dest := shareDomain.Coordinates{Latitude: ev.DestinationLatitude, Longitude: ev.DestinationLongitude}
	routeKey := RouteKey(origin, dest)

	position := BusPosition{
		BookingID:      ev.BookingID,
		Latitude:       ev.Latitude,
		Longitude:      ev.Longitude,
		SpeedKmh:       ev.SpeedKmh,
		HeadingDegrees: ev.HeadingDegrees,
		RouteKey:       routeKey,
		RecordedAt:     recordedAt,
	}
	traffic := trafficFromEvent(ev)

	s.offline.CacheEntry(ctx, offline.NamespaceBusLocation, ev.BookingID, position)
	s.offline.CacheEntry(ctx, offline.NamespaceRouteData, routeKey, RouteInfo{
		Key:         routeKey,
		Origin:      origin,
		Destination: dest,
	})
	s.offline.CacheEntry(ctx, offline.NamespaceTrafficData, routeKey, traffic)

	s.shares.UpdateLocationsForBooking(ctx, ev.BookingID, shareDomain.LocationData{
		Latitude:       ev.Latitude,
		Longitude:      ev.Longitude,
		SpeedKmh:       ev.SpeedKmh,
		HeadingDegrees: ev.HeadingDegrees,
	})

	update := &ws.LocationUpdate{
		BookingID:       ev.BookingID,
		Latitude:        ev.Latitude,
		Longitude:       ev.Longitude,
		SpeedKmh:        ev.SpeedKmh,
		HeadingDegrees:  ev.HeadingDegrees,
		CongestionLevel: traffic.CongestionLevel,
		DelayMinutes:    traffic.DelayMinutes,
		Timestamp:       recordedAt,
	}
	s.hub.Broadcast(update)

	s.publishUpdate(ctx, update)
	return nil
}

// GetTracking returns the tracking view for a booking. The cache is
// the system of record either way; Offline and CachedAt tell the
// caller how fresh the data is.
func (s *TrackingService) GetTracking(ctx context.Context, bookingID string) (*TrackingView, error) {
	entry := s.offline.GetCached(ctx, offline.NamespaceBusLocation, bookingID)
	if entry == nil {
		return nil, ErrNoTrackingData
	}

	var position BusPosition
	if err := entry.Decode(&position); err != nil {
		s.logger.Error("failed to decode cached bus position", zap.Error(err), zap.String("booking_id", bookingID))
		return nil, ErrNoTrackingData
	}

	view := &TrackingView{
		BookingID: bookingID,
		Position:  &position,
		Offline:   !s.monitor.IsConnected(),
		CachedAt:  entry.Timestamp,
	}

	if position.RouteKey != "" {
		if routeEntry := s.offline.GetCached(ctx, offline.NamespaceRouteData, position.RouteKey); routeEntry != nil {
			var route RouteInfo
			if err := routeEntry.Decode(&route); err == nil {
				view.Route = &route
				view.DistanceToDestKm = haversineKm(
					position.Latitude, position.Longitude,
					route.Destination.Latitude, route.Destination.Longitude,
				)
			}
		}
		if trafficEntry := s.offline.GetCached(ctx, offline.NamespaceTrafficData, position.RouteKey); trafficEntry != nil {
			var traffic TrafficSummary
			if err := trafficEntry.Decode(&traffic); err == nil {
				view.Traffic = &traffic
			}
		}
	}

	return view, nil
}

// Refresh re-runs the online read path and re-broadcasts the current
// position. While offline it no-ops with ErrWaitingForConnection so
// the UI can tell the user.
func (s *TrackingService) Refresh(ctx context.Context, bookingID string) (*TrackingView, error) {
	if !s.monitor.IsConnected() {
		return nil, ErrWaitingForConnection
	}

	view, err := s.GetTracking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	update := &ws.LocationUpdate{
		BookingID:      bookingID,
		Latitude:       view.Position.Latitude,
		Longitude:      view.Position.Longitude,
		SpeedKmh:       view.Position.SpeedKmh,
		HeadingDegrees: view.Position.HeadingDegrees,
		Timestamp:      view.Position.RecordedAt,
	}
	if view.Traffic != nil {
		update.CongestionLevel = view.Traffic.CongestionLevel
		update.DelayMinutes = view.Traffic.DelayMinutes
	}
	s.hub.Broadcast(update)

	return view, nil
}

// Process replays one deferred action after reconnection.
// TrackingService is the ActionProcessor wired into the offline
// manager.
func (s *TrackingService) Process(ctx context.Context, action offline.Action) error {
	switch action.Type {
	case ActionPublishUpdate:
		var update ws.LocationUpdate
		if err := decodeAction(action, &update); err != nil {
			return fmt.Errorf("failed to decode queued update: %w", err)
		}
		return s.publish(ctx, &update)

	default:
		s.logger.Warn("unknown queued action type, dropping", zap.String("type", action.Type))
		return nil
	}
}

// publishUpdate publishes immediately when connected and queues the
// update for replay otherwise.
func (s *TrackingService) publishUpdate(ctx context.Context, update *ws.LocationUpdate) {
	if !s.monitor.IsConnected() {
		s.offline.QueueAction(ctx, ActionPublishUpdate, update)
		return
	}
	if err := s.publish(ctx, update); err != nil {
		s.logger.Error("failed to publish tracking update", zap.Error(err))
	}
}

func (s *TrackingService) publish(ctx context.Context, update *ws.LocationUpdate) error {
	ev, err := events.NewCloudEvent("service-tracking", events.TrackingUpdated, update)
	if err != nil {
		return err
	}
	return s.publisher.PublishEvent(ctx, s.topic, ev)
}

// RouteKey builds the cache key for a position/destination pair in the
// "lat,lng-lat,lng" format the mobile clients use.
func RouteKey(origin, dest shareDomain.Coordinates) string {
	return formatCoord(origin) + "-" + formatCoord(dest)
}

func formatCoord(c shareDomain.Coordinates) string {
	return strconv.FormatFloat(c.Latitude, 'f', -1, 64) + "," +
		strconv.FormatFloat(c.Longitude, 'f', -1, 64)
}

// trafficFromEvent derives the traffic summary from telemetry the way
// the mobile traffic layer did: congestion from the speed factor,
// delay from the duration spread.
func trafficFromEvent(ev events.BusLocationEvent) TrafficSummary {
	factor := ev.SpeedFactor
	if factor <= 0 {
		factor = 1.0
	}

	duration := ev.DurationSec
	inTraffic := ev.DurationInTrafficSec
	if inTraffic <= 0 {
		inTraffic = duration
	}

	return TrafficSummary{
		CongestionLevel: congestionLevel(factor),
		SpeedFactor:     factor,
		DelayMinutes:    int(math.Round((inTraffic - duration) / 60)),
	}
}

func congestionLevel(speedFactor float64) string {
	switch {
	case speedFactor > 0.8:
		return "low"
	case speedFactor > 0.6:
		return "moderate"
	case speedFactor > 0.3:
		return "high"
	default:
		return "severe"
	}
}

// haversineKm calculates the great-circle distance in kilometers
// between two coordinates.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0

	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return math.Round(earthRadiusKm*c*1000) / 1000
}

func decodeAction(action offline.Action, v interface{}) error {
	return json.Unmarshal(action.Data, v)
}
