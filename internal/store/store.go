// Package store persists samples, territories, clusters, and analysis
// results, with SQLite and PostgreSQL backends.
package store

import (
	"context"
	"time"

	"github.com/terrastat/soil-pipeline/internal/model"
)

// TerritorySummary is one row of the per-territory statistics view.
type TerritorySummary struct {
	Code         string  `json:"code"`
	Name         string  `json:"name"`
	SampleCount  int     `json:"sample_count"`
	ClusterCount int     `json:"cluster_count"`
	ResultCount  int     `json:"result_count"`
	SOCMean      float64 `json:"soc_mean"`
}

// PipelineEvent records one stage transition of a pipeline run.
type PipelineEvent struct {
	ID        string        `json:"id"`
	RunID     string        `json:"run_id"`
	Stage     string        `json:"stage"`
	Level     string        `json:"level"`
	Message   string        `json:"message"`
	Records   int           `json:"records"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// Store defines the persistence interface for the soil pipeline. All
// batch writes cover the full sample set in one call, not row-at-a-time.
type Store interface {
	// Samples
	InsertSamples(ctx context.Context, samples []*model.Sample) (int64, error)
	UpdateSampleAssignments(ctx context.Context, samples []*model.Sample) error
	UpdateSampleClusters(ctx context.Context, samples []*model.Sample) error
	CountSamples(ctx context.Context) (int, error)

	// Territories and clusters
	InsertTerritories(ctx context.Context, territories []*model.Territory) error
	InsertClusters(ctx context.Context, clusters []*model.Cluster) error

	// Analysis
	InsertAnalysisResult(ctx context.Context, result *model.AnalysisResult) error
	ListAnalysisResults(ctx context.Context) ([]model.AnalysisResult, error)
	TerritoryStatistics(ctx context.Context) ([]TerritorySummary, error)

	// Run events
	InsertPipelineEvent(ctx context.Context, event *PipelineEvent) error
	ListPipelineEvents(ctx context.Context, runID string) ([]PipelineEvent, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
