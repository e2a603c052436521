package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shareDomain "github.com/bustickets/service-tracking/internal/domain/share"
	"github.com/bustickets/service-tracking/internal/storage"
)

func newRecord(t *testing.T) *shareDomain.Record {
	t.Helper()
	rec, err := shareDomain.NewRecord("BK1", shareDomain.BusInfo{
		Operator:        "Luxury Travel",
		BusNumber:       "LT-42",
		CurrentLocation: shareDomain.Coordinates{Latitude: 41.0, Longitude: 28.9},
		Destination:     shareDomain.Coordinates{Latitude: 39.9, Longitude: 32.8},
	}, time.Hour, time.Now())
	require.NoError(t, err)
	return rec
}

func TestShareStore_SaveFindRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewShareStore(storage.NewMemoryStore())
	rec := newRecord(t)
	rec.SetLocation(shareDomain.LocationData{Latitude: 41.1, Longitude: 29.0, SpeedKmh: 80}, time.Now())

	require.NoError(t, store.Save(ctx, rec))

	got, err := store.Find(ctx, rec.Token())
	require.NoError(t, err)
	assert.Equal(t, rec.Token(), got.Token())
	assert.Equal(t, rec.BookingID(), got.BookingID())
	assert.Equal(t, rec.BusInfo(), got.BusInfo())
	// Millisecond precision is what the wire format carries.
	assert.Equal(t, rec.CreatedAt().UnixMilli(), got.CreatedAt().UnixMilli())
	assert.Equal(t, rec.ExpiresAt().UnixMilli(), got.ExpiresAt().UnixMilli())
	require.NotNil(t, got.Location())
	assert.Equal(t, 80.0, got.Location().SpeedKmh)
}

func TestShareStore_FindMissing(t *testing.T) {
	t.Parallel()

	store := NewShareStore(storage.NewMemoryStore())
	_, err := store.Find(context.Background(), "no-such-token")
	assert.ErrorIs(t, err, shareDomain.ErrNotFound)
}

func TestShareStore_FindUndecodable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := storage.NewMemoryStore()
	require.NoError(t, kv.Set(ctx, "share_bad", "{not json"))

	store := NewShareStore(kv)
	_, err := store.Find(ctx, "bad")
	assert.ErrorIs(t, err, shareDomain.ErrNotFound)
}

func TestShareStore_IndexRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewShareStore(storage.NewMemoryStore())

	tokens, err := store.IndexTokens(ctx)
	require.NoError(t, err)
	assert.Empty(t, tokens)

	require.NoError(t, store.WriteIndex(ctx, []string{"t1", "t2"}))

	tokens, err = store.IndexTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, tokens)
}

func TestShareStore_DeleteIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewShareStore(storage.NewMemoryStore())
	rec := newRecord(t)

	require.NoError(t, store.Save(ctx, rec))
	require.NoError(t, store.Delete(ctx, rec.Token()))
	require.NoError(t, store.Delete(ctx, rec.Token()))

	_, err := store.Find(ctx, rec.Token())
	assert.ErrorIs(t, err, shareDomain.ErrNotFound)
}
