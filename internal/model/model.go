// Package model defines the core entities shared by the soil analysis pipeline:
// samples, territories, clusters, and analysis results.
package model

import (
	"fmt"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// SamplingMethod selects how a territory's samples are drawn for analysis.
type SamplingMethod string

const (
	// MethodRandom draws uniformly without replacement from all samples.
	MethodRandom SamplingMethod = "random"
	// MethodClustering draws proportionally from each spatial cluster.
	MethodClustering SamplingMethod = "clustering"
	// MethodSingleCluster treats the whole territory as one group.
	MethodSingleCluster SamplingMethod = "single_cluster"
)

// ParseSamplingMethod validates a method string from config or CLI flags.
func ParseSamplingMethod(s string) (SamplingMethod, error) {
	switch SamplingMethod(s) {
	case MethodRandom, MethodClustering, MethodSingleCluster:
		return SamplingMethod(s), nil
	default:
		return "", eris.Errorf("model: unknown sampling method %q", s)
	}
}

// Sample is a single geolocated soil measurement. Coordinates are WGS84
// decimal degrees. TerritoryCode and ClusterID start empty and are filled
// in by the association and clustering stages respectively.
type Sample struct {
	ID              string     `json:"id"`
	Latitude        float64    `json:"latitude"`
	Longitude       float64    `json:"longitude"`
	SOCPercent      float64    `json:"soc_percent"`
	SOCMethod       string     `json:"soc_method,omitempty"`
	ClayFraction    float64    `json:"clay_fraction"`
	ClayEstimated   bool       `json:"clay_estimated"`
	TopDepthCM      float64    `json:"top_depth_cm"`
	BottomDepthCM   float64    `json:"bottom_depth_cm"`
	SamplingDate    *time.Time `json:"sampling_date,omitempty"`
	LabAnalysisDate *time.Time `json:"lab_analysis_date,omitempty"`
	TerritoryCode   string     `json:"territory_code,omitempty"`
	ClusterID       string     `json:"cluster_id,omitempty"`
}

// HasValidCoordinates reports whether the sample's coordinates are finite
// and inside the WGS84 domain.
func (s *Sample) HasValidCoordinates() bool {
	if math.IsNaN(s.Latitude) || math.IsNaN(s.Longitude) {
		return false
	}
	if math.IsInf(s.Latitude, 0) || math.IsInf(s.Longitude, 0) {
		return false
	}
	return s.Latitude >= -90 && s.Latitude <= 90 &&
		s.Longitude >= -180 && s.Longitude <= 180
}

// Territory is a named region with a boundary polygon. Code is the unique
// identifier (ISO 3166-1 alpha-2 for countries). Boundary is a simple
// Polygon or MultiPolygon in WGS84; SampleCount is denormalized and
// recomputed after association.
type Territory struct {
	Code        string  `json:"code"`
	Name        string  `json:"name"`
	RelationID  int64   `json:"relation_id,omitempty"`
	Boundary    geom.T  `json:"-"`
	SampleCount int     `json:"sample_count"`
}

// Cluster is a spatially coherent subset of one territory's samples.
// Ordinals are contiguous starting at 1 within a territory; the ID is
// derived from the territory code and ordinal so repeated runs on
// identical input produce identical identifiers.
type Cluster struct {
	ID            string  `json:"id"`
	TerritoryCode string  `json:"territory_code"`
	Ordinal       int     `json:"ordinal"`
	CenterLat     float64 `json:"center_lat"`
	CenterLon     float64 `json:"center_lon"`
	SampleCount   int     `json:"sample_count"`
}

// ClusterID builds the deterministic cluster identifier for a territory
// and 1-based ordinal.
func ClusterID(territoryCode string, ordinal int) string {
	return fmt.Sprintf("%s-%d", territoryCode, ordinal)
}

// AnalysisResult is one append-only analysis record for a (territory,
// method) pair. SecondaryEstimated marks that at least one drawn sample's
// clay fraction was estimated from SOC% rather than measured.
type AnalysisResult struct {
	TerritoryCode      string         `json:"territory_code"`
	TerritoryName      string         `json:"territory_name"`
	Method             SamplingMethod `json:"method"`
	RequestedSize      int            `json:"requested_size"`
	SampleSize         int            `json:"sample_size"`
	TotalSamples       int            `json:"total_samples"`
	SOCMean            float64        `json:"soc_mean"`
	SOCVariance        float64        `json:"soc_variance"`
	ClayFractionMean   float64        `json:"clay_fraction_mean"`
	SecondaryEstimated bool           `json:"secondary_estimated"`
	LowConfidence      bool           `json:"low_confidence"`
	AnalyzedAt         time.Time      `json:"analyzed_at"`
}

// EstimateClayFraction derives a clay fraction from SOC% using the fixed
// piecewise rule: low SOC reads as sandy soil, medium as loamy, high as
// clay. Results produced this way are approximations and must be flagged
// as estimated wherever they surface.
func EstimateClayFraction(socPercent float64) float64 {
	switch {
	case socPercent < 1.0:
		return 0.15
	case socPercent < 3.0:
		return 0.25
	default:
		return 0.35
	}
}
