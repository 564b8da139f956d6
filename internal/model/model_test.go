package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSamplingMethod(t *testing.T) {
	tests := []struct {
		in      string
		want    SamplingMethod
		wantErr bool
	}{
		{"random", MethodRandom, false},
		{"clustering", MethodClustering, false},
		{"single_cluster", MethodSingleCluster, false},
		{"stratified", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseSamplingMethod(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestHasValidCoordinates(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		want     bool
	}{
		{"origin", 0, 0, true},
		{"brussels", 50.85, 4.35, true},
		{"lat edge", 90, 0, true},
		{"lon edge", 0, -180, true},
		{"lat out of range", 91, 0, false},
		{"lon out of range", 0, 180.5, false},
		{"nan lat", math.NaN(), 4.35, false},
		{"inf lon", 50.85, math.Inf(1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Sample{Latitude: tt.lat, Longitude: tt.lon}
			assert.Equal(t, tt.want, s.HasValidCoordinates())
		})
	}
}

func TestClusterID(t *testing.T) {
	assert.Equal(t, "BE-1", ClusterID("BE", 1))
	assert.Equal(t, "DE-12", ClusterID("DE", 12))
}

func TestEstimateClayFraction(t *testing.T) {
	tests := []struct {
		soc  float64
		want float64
	}{
		{0.0, 0.15},
		{0.99, 0.15},
		{1.0, 0.25},
		{2.5, 0.25},
		{3.0, 0.35},
		{12.0, 0.35},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, EstimateClayFraction(tt.soc), 1e-12, "soc=%v", tt.soc)
	}
}
