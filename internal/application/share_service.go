package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	shareDomain "github.com/bustickets/service-tracking/internal/domain/share"
	"github.com/bustickets/service-tracking/internal/repository"
)

// shareCacheSize bounds the in-process read-through cache. Eviction is
// invisible to callers: storage stays authoritative.
const shareCacheSize = 512

// ErrShareCreateFailed is the only storage failure surfaced to callers;
// everything else degrades to not-found.
var ErrShareCreateFailed = errors.New("failed to create sharing link")

// ShareLinkDTO is the API response for a newly created share.
type ShareLinkDTO struct {
	Token     string    `json:"token"`
	ShareLink string    `json:"share_link"`
	BookingID string    `json:"booking_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ShareDTO is the API representation of an active share.
type ShareDTO struct {
	Token     string                    `json:"token"`
	ShareLink string                    `json:"share_link"`
	BookingID string                    `json:"booking_id"`
	BusInfo   shareDomain.BusInfo       `json:"bus_info"`
	CreatedAt time.Time                 `json:"created_at"`
	ExpiresAt time.Time                 `json:"expires_at"`
	Location  *shareDomain.LocationData `json:"location_data,omitempty"`
}

// ShareService owns the share token lifecycle: creation, lookup with
// lazy expiry, revocation, listing and the full cleanup sweep.
type ShareService struct {
	store      *repository.ShareStore
	cache      *lru.Cache[string, *shareDomain.Record]
	baseURL    string
	defaultTTL time.Duration
	now        func() time.Time
	// indexMu serializes read-modify-write of the active-token index
	// within this process. Cross-process writers still race
	// last-writer-wins on the shared store.
	indexMu sync.Mutex
	logger  *zap.Logger
}

// NewShareService creates a new ShareService. A non-positive defaultTTL
// falls back to the domain default of 60 minutes.
func NewShareService(store *repository.ShareStore, baseURL string, defaultTTL time.Duration, logger *zap.Logger) *ShareService {
	if defaultTTL <= 0 {
		defaultTTL = shareDomain.DefaultTTL
	}
	cache, _ := lru.New[string, *shareDomain.Record](shareCacheSize)
	return &ShareService{
		store:      store,
		cache:      cache,
		baseURL:    baseURL,
		defaultTTL: defaultTTL,
		now:        time.Now,
		logger:     logger,
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *ShareService) WithClock(now func() time.Time) *ShareService {
	s.now = now
	return s
}

// Create generates a share for a booking and returns the public link.
// expiryMinutes <= 0 selects the default TTL; positive values are
// accepted as-is, with no upper clamp.
func (s *ShareService) Create(ctx context.Context, bookingID string, info shareDomain.BusInfo, expiryMinutes int) (*ShareLinkDTO, error) {
	ttl := time.Duration(expiryMinutes) * time.Minute
	if expiryMinutes <= 0 {
		ttl = s.defaultTTL
	}

	rec, err := shareDomain.NewRecord(bookingID, info, ttl, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.store.Save(ctx, rec); err != nil {
		s.logger.Error("failed to save share record", zap.Error(err))
		return nil, ErrShareCreateFailed
	}
	if err := s.appendIndex(ctx, rec.Token()); err != nil {
		s.logger.Error("failed to update active share index", zap.Error(err))
		return nil, ErrShareCreateFailed
	}

	s.cache.Add(rec.Token(), rec)

	s.logger.Info("share link created",
		zap.String("booking_id", bookingID),
		zap.String("token", rec.Token()),
		zap.Time("expires_at", rec.ExpiresAt()),
	)

	return &ShareLinkDTO{
		Token:     rec.Token(),
		ShareLink: s.ShareLink(rec.Token()),
		BookingID: bookingID,
		ExpiresAt: rec.ExpiresAt(),
	}, nil
}

// Get returns a deep copy of the share for token, or
// share.ErrNotFound. Expiry is lazy: an expired record discovered here
// is revoked as a side effect. Storage failures degrade to not-found.
func (s *ShareService) Get(ctx context.Context, token string) (*shareDomain.Record, error) {
	if rec, ok := s.cache.Get(token); ok {
		if rec.IsExpiredAt(s.now()) {
			s.Revoke(ctx, token)
			return nil, shareDomain.ErrNotFound
		}
		return rec.Clone(), nil
	}

	rec, err := s.store.Find(ctx, token)
	if err != nil {
		if !errors.Is(err, shareDomain.ErrNotFound) {
			s.logger.Error("failed to load share record", zap.Error(err))
		}
		return nil, shareDomain.ErrNotFound
	}

	if rec.IsExpiredAt(s.now()) {
		s.Revoke(ctx, token)
		return nil, shareDomain.ErrNotFound
	}

	s.cache.Add(token, rec)
	return rec.Clone(), nil
}

// Revoke removes a share from storage, the process cache and the
// active index. Revoking an unknown token is a no-op; storage failures
// are logged, not surfaced.
func (s *ShareService) Revoke(ctx context.Context, token string) {
	if err := s.store.Delete(ctx, token); err != nil {
		s.logger.Error("failed to delete share record", zap.Error(err), zap.String("token", token))
	}
	s.cache.Remove(token)

	if err := s.removeFromIndex(ctx, token); err != nil {
		s.logger.Error("failed to update active share index", zap.Error(err), zap.String("token", token))
		return
	}

	s.logger.Info("share revoked", zap.String("token", token))
}

// ListActive returns every still-valid share with its link. Expired
// entries encountered on the way self-prune through Get.
func (s *ShareService) ListActive(ctx context.Context) []*ShareDTO {
	tokens, err := s.indexTokens(ctx)
	if err != nil {
		s.logger.Error("failed to read active share index", zap.Error(err))
		return nil
	}

	active := make([]*ShareDTO, 0, len(tokens))
	for _, token := range tokens {
		rec, err := s.Get(ctx, token)
		if err != nil {
			continue
		}
		active = append(active, s.toDTO(rec))
	}
	return active
}

// CleanupExpired sweeps the whole index: raw records are loaded
// directly (bypassing the pruning Get), expired ones are deleted from
// storage and the index is rebuilt to valid tokens only. Index entries
// with no record count as expired. Returns the number of tokens
// removed from the index.
func (s *ShareService) CleanupExpired(ctx context.Context) int {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	tokens, err := s.store.IndexTokens(ctx)
	if err != nil {
		s.logger.Error("failed to read active share index", zap.Error(err))
		return 0
	}

	now := s.now()
	valid := make([]string, 0, len(tokens))
	for _, token := range tokens {
		rec, err := s.store.Find(ctx, token)
		if err == nil && !rec.IsExpiredAt(now) {
			valid = append(valid, token)
			continue
		}
		if err := s.store.Delete(ctx, token); err != nil {
			s.logger.Error("failed to delete expired share", zap.Error(err), zap.String("token", token))
		}
		s.cache.Remove(token)
	}

	if err := s.store.WriteIndex(ctx, valid); err != nil {
		s.logger.Error("failed to rewrite active share index", zap.Error(err))
		return 0
	}

	removed := len(tokens) - len(valid)
	if removed > 0 {
		s.logger.Info("cleaned up expired shares",
			zap.Int("removed", removed),
			zap.Int("valid", len(valid)),
		)
	}
	return removed
}

// UpdateLocation patches the live location of an active share.
func (s *ShareService) UpdateLocation(ctx context.Context, token string, loc shareDomain.LocationData) error {
	rec, err := s.Get(ctx, token)
	if err != nil {
		return fmt.Errorf("share not found or expired: %w", err)
	}

	rec.SetLocation(loc, s.now())
	if err := s.store.Save(ctx, rec); err != nil {
		s.logger.Error("failed to persist shared location update", zap.Error(err), zap.String("token", token))
		return fmt.Errorf("failed to update shared location: %w", err)
	}
	s.cache.Add(token, rec)
	return nil
}

// UpdateLocationsForBooking patches every active share of a booking.
func (s *ShareService) UpdateLocationsForBooking(ctx context.Context, bookingID string, loc shareDomain.LocationData) {
	for _, dto := range s.ListActive(ctx) {
		if dto.BookingID != bookingID {
			continue
		}
		if err := s.UpdateLocation(ctx, dto.Token, loc); err != nil {
			s.logger.Warn("failed to update shared location",
				zap.Error(err),
				zap.String("token", dto.Token),
			)
		}
	}
}

// ResolveDeepLink extracts the trailing path segment of a share URL as
// the token and looks it up.
func (s *ShareService) ResolveDeepLink(ctx context.Context, url string) (*shareDomain.Record, error) {
	trimmed := strings.TrimRight(url, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 || idx == len(trimmed)-1 {
		return nil, shareDomain.ErrNotFound
	}
	return s.Get(ctx, trimmed[idx+1:])
}

// ShareLink builds the public URL for a token.
func (s *ShareService) ShareLink(token string) string {
	return s.baseURL + token
}

func (s *ShareService) toDTO(rec *shareDomain.Record) *ShareDTO {
	return &ShareDTO{
		Token:     rec.Token(),
		ShareLink: s.ShareLink(rec.Token()),
		BookingID: rec.BookingID(),
		BusInfo:   rec.BusInfo(),
		CreatedAt: rec.CreatedAt(),
		ExpiresAt: rec.ExpiresAt(),
		Location:  rec.Location(),
	}
}

func (s *ShareService) indexTokens(ctx context.Context) ([]string, error) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	return s.store.IndexTokens(ctx)
}

func (s *ShareService) appendIndex(ctx context.Context, token string) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	tokens, err := s.store.IndexTokens(ctx)
	if err != nil {
		return err
	}
	return s.store.WriteIndex(ctx, append(tokens, token))
}

func (s *ShareService) removeFromIndex(ctx context.Context, token string) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	tokens, err := s.store.IndexTokens(ctx)
	if err != nil {
		return err
	}
	updated := tokens[:0]
	for _, t := range tokens {
		if t != token {
			updated = append(updated, t)
		}
	}
	return s.store.WriteIndex(ctx, updated)
}
