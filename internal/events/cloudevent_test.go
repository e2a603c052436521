package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloudEventRoundTrip(t *testing.T) {
	t.Parallel()

	ev, err := NewCloudEvent("service-tracking", BusLocationUpdated, BusLocationEvent{
		BookingID: "BK1",
		Latitude:  41.0,
		Longitude: 28.9,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, BusLocationUpdated, ev.Type)

	var payload BusLocationEvent
	require.NoError(t, ev.ParseData(&payload))
	assert.Equal(t, "BK1", payload.BookingID)
	assert.Equal(t, 41.0, payload.Latitude)
}

func TestParseCloudEvent(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"id":"1","source":"gateway","type":"bus.location.updated","data":{"booking_id":"BK9"}}`)
	ev, err := ParseCloudEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, "gateway", ev.Source)

	var payload BusLocationEvent
	require.NoError(t, ev.ParseData(&payload))
	assert.Equal(t, "BK9", payload.BookingID)
}

func TestParseCloudEventRejectsUntyped(t *testing.T) {
	t.Parallel()

	_, err := ParseCloudEvent([]byte(`{"id":"1","data":{}}`))
	assert.Error(t, err)

	_, err = ParseCloudEvent([]byte(`not json`))
	assert.Error(t, err)
}
