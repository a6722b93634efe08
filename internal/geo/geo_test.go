package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/price-discovery/internal/model"
)

var (
	london     = model.Point{Lat: 51.5074, Lng: -0.1278}
	manchester = model.Point{Lat: 53.4808, Lng: -2.2426}
)

func TestDistanceMeters(t *testing.T) {
	assert.InDelta(t, 0, DistanceMeters(london, london), 1e-6)

	d := DistanceMeters(london, manchester)
	assert.InDelta(t, 262_000, d, 2_000)
	assert.InDelta(t, d, DistanceMeters(manchester, london), 1e-6)
}

func TestWithin(t *testing.T) {
	near := model.Point{Lat: 51.5080, Lng: -0.1280}
	assert.True(t, Within(london, near, 500))
	assert.False(t, Within(london, manchester, 50_000))
}

func TestValidPoint(t *testing.T) {
	assert.True(t, ValidPoint(london))
	assert.False(t, ValidPoint(model.Point{Lat: 91, Lng: 0}))
	assert.False(t, ValidPoint(model.Point{Lat: 0, Lng: -181}))
}

func TestEncodeDecodePoint(t *testing.T) {
	data, err := EncodePoint(london)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	got, err := DecodePoint(data)
	require.NoError(t, err)
	assert.InDelta(t, london.Lat, got.Lat, 1e-9)
	assert.InDelta(t, london.Lng, got.Lng, 1e-9)

	_, err = EncodePoint(model.Point{Lat: 100})
	assert.Error(t, err)
}
