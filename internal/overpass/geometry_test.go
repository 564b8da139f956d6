package overpass

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/terrastat/soil-pipeline/internal/config"
)

func TestMaterializeGeometry_KnownCode(t *testing.T) {
	g, err := MaterializeGeometry("DE")
	require.NoError(t, err)

	poly, ok := g.(*geom.Polygon)
	require.True(t, ok, "single-ring shapes materialize as Polygon")
	assert.Equal(t, 4326, poly.SRID())

	b := poly.Bounds()
	assert.InDelta(t, 5.9, b.Min(0), 1e-9)
	assert.InDelta(t, 47.3, b.Min(1), 1e-9)
	assert.InDelta(t, 15.0, b.Max(0), 1e-9)
	assert.InDelta(t, 55.1, b.Max(1), 1e-9)
}

func TestMaterializeGeometry_UnknownCode(t *testing.T) {
	_, err := MaterializeGeometry("ZZ")
	assert.Error(t, err)
}

func TestMaterializeGeometry_AllDefaultCodesCovered(t *testing.T) {
	for _, code := range config.DefaultCountryCodes {
		_, err := MaterializeGeometry(code)
		assert.NoError(t, err, "default allowlist code %s must have a reference shape", code)
	}
}
