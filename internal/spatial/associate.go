package spatial

import (
	"go.uber.org/zap"

	"github.com/terrastat/soil-pipeline/internal/model"
)

// CoverageStats summarizes the outcome of an association pass.
type CoverageStats struct {
	TotalSamples      int
	Associated        int
	Unassigned        int
	InvalidCoordinate int
	// PerTerritory counts samples newly associated with each territory code.
	PerTerritory map[string]int
}

// CoveragePercent returns the share of samples that received a territory,
// in [0, 100]. An empty input reports 0.
func (s CoverageStats) CoveragePercent() float64 {
	if s.TotalSamples == 0 {
		return 0
	}
	return 100 * float64(s.Associated) / float64(s.TotalSamples)
}

// wgs84 is the reference system both sides of the join are normalized
// to: sample coordinates arrive as geographic lat/lon and boundaries are
// materialized in EPSG:4326. Boundaries tagged with any other SRID are
// skipped rather than silently compared in mismatched units.
const wgs84 = 4326

// Associate assigns each sample to the first territory, in input order,
// whose boundary contains it. Samples contained by more than one boundary
// keep the first match and log the overlap; samples with invalid
// coordinates are counted but never tested against any boundary. The
// samples slice is mutated in place (TerritoryCode is set or cleared).
func Associate(samples []*model.Sample, territories []*model.Territory) CoverageStats {
	stats := CoverageStats{
		TotalSamples: len(samples),
		PerTerritory: make(map[string]int, len(territories)),
	}

	usable := territories[:0:0]
	for _, t := range territories {
		if t.Boundary != nil && t.Boundary.SRID() != 0 && t.Boundary.SRID() != wgs84 {
			zap.L().Warn("spatial: skipping boundary with unexpected reference system",
				zap.String("territory", t.Code),
				zap.Int("srid", t.Boundary.SRID()),
			)
			t.SampleCount = 0
			continue
		}
		usable = append(usable, t)
	}
	territories = usable

	for _, s := range samples {
		s.TerritoryCode = ""
		if !s.HasValidCoordinates() {
			stats.InvalidCoordinate++
			stats.Unassigned++
			continue
		}

		matched := ""
		for _, t := range territories {
			if t.Boundary == nil || !Contains(t.Boundary, s.Longitude, s.Latitude) {
				continue
			}
			if matched == "" {
				matched = t.Code
				continue
			}
			zap.L().Warn("spatial: sample contained by overlapping territories",
				zap.String("sample_id", s.ID),
				zap.String("kept", matched),
				zap.String("dropped", t.Code),
			)
		}

		if matched == "" {
			stats.Unassigned++
			continue
		}
		s.TerritoryCode = matched
		stats.Associated++
		stats.PerTerritory[matched]++
	}

	for _, t := range territories {
		t.SampleCount = stats.PerTerritory[t.Code]
	}
	return stats
}
