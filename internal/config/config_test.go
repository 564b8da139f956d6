package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "https://overpass-api.de/api/interpreter", cfg.Overpass.BaseURL)
	assert.Equal(t, 3, cfg.Overpass.MaxAttempts)
	assert.Equal(t, 2, cfg.Cluster.MinClusters)
	assert.Equal(t, 10, cfg.Cluster.MaxClusters)
	assert.Equal(t, 5, cfg.Cluster.MinSamplesPerCluster)
	assert.Equal(t, int64(42), cfg.Cluster.Seed)
	assert.Equal(t, "random", cfg.Analysis.SamplingMethod)
	assert.Equal(t, 100, cfg.Analysis.SampleSize)
	assert.Equal(t, 10, cfg.Analysis.MinSamplesPerTerritory)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SOIL_ANALYSIS_SAMPLING_METHOD", "clustering")
	t.Setenv("SOIL_ANALYSIS_SAMPLE_SIZE", "50")
	t.Setenv("SOIL_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "clustering", cfg.Analysis.SamplingMethod)
	assert.Equal(t, 50, cfg.Analysis.SampleSize)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestInitLogger_BadLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "loud", Format: "json"})
	assert.Error(t, err)
}
