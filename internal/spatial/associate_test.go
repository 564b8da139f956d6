package spatial

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrastat/soil-pipeline/internal/model"
)

func sample(id string, lat, lon float64) *model.Sample {
	return &model.Sample{ID: id, Latitude: lat, Longitude: lon, SOCPercent: 2.0}
}

func territory(code string, minX, minY, maxX, maxY float64) *model.Territory {
	return &model.Territory{Code: code, Name: code, Boundary: square(minX, minY, maxX, maxY)}
}

func TestAssociate_Basic(t *testing.T) {
	samples := []*model.Sample{
		sample("a", 5, 5),   // in BE
		sample("b", 25, 25), // in NL
		sample("c", 90, 90), // nowhere
	}
	territories := []*model.Territory{
		territory("BE", 0, 0, 10, 10),
		territory("NL", 20, 20, 30, 30),
	}

	stats := Associate(samples, territories)

	assert.Equal(t, 3, stats.TotalSamples)
	assert.Equal(t, 2, stats.Associated)
	assert.Equal(t, 1, stats.Unassigned)
	assert.Equal(t, 0, stats.InvalidCoordinate)
	assert.Equal(t, "BE", samples[0].TerritoryCode)
	assert.Equal(t, "NL", samples[1].TerritoryCode)
	assert.Equal(t, "", samples[2].TerritoryCode)
	assert.Equal(t, 1, territories[0].SampleCount)
	assert.Equal(t, 1, territories[1].SampleCount)
}

func TestAssociate_CountInvariant(t *testing.T) {
	samples := []*model.Sample{
		sample("a", 5, 5),
		sample("b", 50, 50),
		sample("c", math.NaN(), 5),
		sample("d", 5, 200),
	}
	stats := Associate(samples, []*model.Territory{territory("BE", 0, 0, 10, 10)})

	assert.Equal(t, stats.TotalSamples, stats.Associated+stats.Unassigned)
	assert.Equal(t, 2, stats.InvalidCoordinate)
}

func TestAssociate_OverlapFirstWins(t *testing.T) {
	samples := []*model.Sample{sample("a", 5, 5)}
	territories := []*model.Territory{
		territory("BE", 0, 0, 10, 10),
		territory("NL", 0, 0, 10, 10),
	}
	stats := Associate(samples, territories)

	assert.Equal(t, "BE", samples[0].TerritoryCode)
	assert.Equal(t, 1, territories[0].SampleCount)
	assert.Equal(t, 0, territories[1].SampleCount)
	assert.Equal(t, 1, stats.Associated)
}

func TestAssociate_BoundaryPoint(t *testing.T) {
	samples := []*model.Sample{sample("a", 0, 0)}
	stats := Associate(samples, []*model.Territory{territory("BE", 0, 0, 10, 10)})

	require.Equal(t, 1, stats.Associated)
	assert.Equal(t, "BE", samples[0].TerritoryCode)
}

func TestAssociate_NoTerritories(t *testing.T) {
	samples := []*model.Sample{sample("a", 5, 5), sample("b", 6, 6)}
	stats := Associate(samples, nil)

	assert.Equal(t, 2, stats.Unassigned)
	assert.Equal(t, 0, stats.Associated)
	assert.Equal(t, 0.0, stats.CoveragePercent())
}

func TestAssociate_ClearsStaleAssignment(t *testing.T) {
	s := sample("a", 90, 90)
	s.TerritoryCode = "BE"
	Associate([]*model.Sample{s}, []*model.Territory{territory("BE", 0, 0, 10, 10)})
	assert.Equal(t, "", s.TerritoryCode)
}

func TestAssociate_Deterministic(t *testing.T) {
	samples := func() []*model.Sample {
		return []*model.Sample{sample("a", 5, 5), sample("b", 9, 9), sample("c", 50, 50)}
	}
	territories := []*model.Territory{
		territory("BE", 0, 0, 10, 10),
		territory("NL", 8, 8, 30, 30),
	}

	first := Associate(samples(), territories)
	for i := 0; i < 5; i++ {
		again := Associate(samples(), territories)
		assert.Equal(t, first, again)
	}
}

func TestAssociate_SkipsMismatchedSRID(t *testing.T) {
	projected := territory("BE", 0, 0, 10, 10)
	projected.Boundary = square(0, 0, 10, 10).SetSRID(3857)
	projected.SampleCount = 7 // stale count from an earlier pass

	samples := []*model.Sample{sample("a", 5, 5)}
	stats := Associate(samples, []*model.Territory{projected})

	assert.Equal(t, 0, stats.Associated)
	assert.Equal(t, "", samples[0].TerritoryCode)
	assert.Equal(t, 0, projected.SampleCount)
}

func TestCoveragePercent(t *testing.T) {
	s := CoverageStats{TotalSamples: 4, Associated: 3}
	assert.InDelta(t, 75.0, s.CoveragePercent(), 1e-9)
	assert.Equal(t, 0.0, CoverageStats{}.CoveragePercent())
}
