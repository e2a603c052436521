package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	shareDomain "github.com/bustickets/service-tracking/internal/domain/share"
	"github.com/bustickets/service-tracking/internal/storage"
)

const (
	sharePrefix = "share_"
	indexKey    = "active_shares"
)

// shareModel is the stored JSON shape of a share record. Timestamps
// are epoch milliseconds for compatibility with the mobile clients.
type shareModel struct {
	Token     string              `json:"token"`
	BookingID string              `json:"bookingId"`
	BusInfo   shareDomain.BusInfo `json:"busInfo"`
	CreatedAt int64               `json:"createdAt"`
	Expiry    int64               `json:"expiryTime"`
	Location  *locationModel      `json:"locationData,omitempty"`
}

type locationModel struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	SpeedKmh       float64 `json:"speedKmh"`
	HeadingDegrees float64 `json:"headingDegrees"`
	LastUpdated    int64   `json:"lastUpdated"`
}

// ShareStore persists share records and the active-token index on the
// flat key-value store, encoding and decoding at this boundary only.
type ShareStore struct {
	store storage.Store
}

// NewShareStore creates a new ShareStore.
func NewShareStore(store storage.Store) *ShareStore {
	return &ShareStore{store: store}
}

// Save persists a share record under "share_<token>".
func (s *ShareStore) Save(ctx context.Context, rec *shareDomain.Record) error {
	data, err := json.Marshal(toShareModel(rec))
	if err != nil {
		return fmt.Errorf("failed to encode share record: %w", err)
	}
	return s.store.Set(ctx, sharePrefix+rec.Token(), string(data))
}

// Find loads the raw share record for token. Returns
// share.ErrNotFound for absent or undecodable records; no expiry
// check happens here.
func (s *ShareStore) Find(ctx context.Context, token string) (*shareDomain.Record, error) {
	raw, err := s.store.Get(ctx, sharePrefix+token)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, shareDomain.ErrNotFound
		}
		return nil, err
	}

	var model shareModel
	if err := json.Unmarshal([]byte(raw), &model); err != nil {
		return nil, shareDomain.ErrNotFound
	}
	return toShareDomain(&model), nil
}

// Delete removes the record for token. Absent tokens are not an error.
func (s *ShareStore) Delete(ctx context.Context, token string) error {
	return s.store.Remove(ctx, sharePrefix+token)
}

// IndexTokens returns the active-token index. A missing index reads as
// empty.
func (s *ShareStore) IndexTokens(ctx context.Context) ([]string, error) {
	raw, err := s.store.Get(ctx, indexKey)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var tokens []string
	if err := json.Unmarshal([]byte(raw), &tokens); err != nil {
		return nil, fmt.Errorf("failed to decode active share index: %w", err)
	}
	return tokens, nil
}

// WriteIndex replaces the active-token index.
func (s *ShareStore) WriteIndex(ctx context.Context, tokens []string) error {
	if tokens == nil {
		tokens = []string{}
	}
	data, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("failed to encode active share index: %w", err)
	}
	return s.store.Set(ctx, indexKey, string(data))
}

func toShareModel(r *shareDomain.Record) shareModel {
	m := shareModel{
		Token:     r.Token(),
		BookingID: r.BookingID(),
		BusInfo:   r.BusInfo(),
		CreatedAt: r.CreatedAt().UnixMilli(),
		Expiry:    r.ExpiresAt().UnixMilli(),
	}
	if loc := r.Location(); loc != nil {
		m.Location = &locationModel{
			Latitude:       loc.Latitude,
			Longitude:      loc.Longitude,
			SpeedKmh:       loc.SpeedKmh,
			HeadingDegrees: loc.HeadingDegrees,
			LastUpdated:    loc.LastUpdated.UnixMilli(),
		}
	}
	return m
}

func toShareDomain(m *shareModel) *shareDomain.Record {
	var loc *shareDomain.LocationData
	if m.Location != nil {
		loc = &shareDomain.LocationData{
			Latitude:       m.Location.Latitude,
			Longitude:      m.Location.Longitude,
			SpeedKmh:       m.Location.SpeedKmh,
			HeadingDegrees: m.Location.HeadingDegrees,
			LastUpdated:    time.UnixMilli(m.Location.LastUpdated).UTC(),
		}
	}
	return shareDomain.Reconstruct(
		m.Token,
		m.BookingID,
		m.BusInfo,
		time.UnixMilli(m.CreatedAt).UTC(),
		time.UnixMilli(m.Expiry).UTC(),
		loc,
	)
}
