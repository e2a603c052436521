package share

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL applies when a caller requests a share without a usable expiry.
const DefaultTTL = 60 * time.Minute

// ErrNotFound is returned when a token has no valid share record.
// Expired records report the same error as absent ones.
var ErrNotFound = errors.New("share not found")

// Coordinates is a WGS84 point.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// BusInfo is a snapshot of the bus taken when the share is created.
// It is copied by value and never re-linked to live data.
type BusInfo struct {
	Operator        string      `json:"operator"`
	BusNumber       string      `json:"busNumber,omitempty"`
	CurrentLocation Coordinates `json:"currentLocation"`
	Destination     Coordinates `json:"destination"`
	DestinationName string      `json:"destinationName,omitempty"`
}

// LocationData is the live position patched onto an active share.
type LocationData struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	SpeedKmh       float64   `json:"speedKmh"`
	HeadingDegrees float64   `json:"headingDegrees"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

// Record is a time-bounded, revocable grant of read access to a bus's
// location. Nothing mutates a Record after creation except the optional
// location patch.
type Record struct {
	token     string
	bookingID string
	busInfo   BusInfo
	createdAt time.Time
	expiresAt time.Time
	location  *LocationData
}

// NewRecord creates a share record for a booking with a random token.
// A non-positive ttl falls back to DefaultTTL. There is deliberately no
// upper bound on ttl.
func NewRecord(bookingID string, info BusInfo, ttl time.Duration, now time.Time) (*Record, error) {
	if bookingID == "" {
		return nil, fmt.Errorf("booking id is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now = now.UTC()
	return &Record{
		token:     uuid.NewString(),
		bookingID: bookingID,
		busInfo:   info,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}, nil
}

// Reconstruct rebuilds a Record from persistence.
func Reconstruct(token, bookingID string, info BusInfo, createdAt, expiresAt time.Time, location *LocationData) *Record {
	return &Record{
		token:     token,
		bookingID: bookingID,
		busInfo:   info,
		createdAt: createdAt,
		expiresAt: expiresAt,
		location:  location,
	}
}

// IsExpiredAt reports whether the share is expired at the given instant.
func (r *Record) IsExpiredAt(now time.Time) bool {
	return !now.Before(r.expiresAt)
}

// SetLocation patches the live location block, stamping LastUpdated.
func (r *Record) SetLocation(loc LocationData, now time.Time) {
	loc.LastUpdated = now.UTC()
	r.location = &loc
}

// Clone returns a deep copy so callers cannot mutate manager state
// through a returned record.
func (r *Record) Clone() *Record {
	cp := *r
	if r.location != nil {
		loc := *r.location
		cp.location = &loc
	}
	return &cp
}

// Getters.
func (r *Record) Token() string     { return r.token }
func (r *Record) BookingID() string { return r.bookingID }
func (r *Record) BusInfo() BusInfo  { return r.busInfo }

func (r *Record) CreatedAt() time.Time      { return r.createdAt }
func (r *Record) ExpiresAt() time.Time      { return r.expiresAt }
func (r *Record) Location() *LocationData   { return r.location }
