// Package pipeline orchestrates the staged soil analysis run: load,
// boundary fetch, spatial association, clustering, and statistics.
package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/terrastat/soil-pipeline/internal/cluster"
	"github.com/terrastat/soil-pipeline/internal/config"
	"github.com/terrastat/soil-pipeline/internal/loader"
	"github.com/terrastat/soil-pipeline/internal/model"
	"github.com/terrastat/soil-pipeline/internal/report"
	"github.com/terrastat/soil-pipeline/internal/spatial"
	"github.com/terrastat/soil-pipeline/internal/stats"
	"github.com/terrastat/soil-pipeline/internal/store"
)

// A territory holding more than this share of associated samples trips
// the imbalance warning.
const imbalanceShare = 0.8

// BoundaryFetcher supplies territory boundaries for an allowlist of codes.
type BoundaryFetcher interface {
	FetchBoundaries(ctx context.Context, codes []string) ([]*model.Territory, error)
}

// Runner executes the full pipeline against one store.
type Runner struct {
	cfg        *config.Config
	store      store.Store
	boundaries BoundaryFetcher
	load       func(path string) ([]*model.Sample, error)
}

// Option configures a Runner.
type Option func(*Runner)

// WithLoadFunc replaces the dataset loader, used by tests.
func WithLoadFunc(fn func(string) ([]*model.Sample, error)) Option {
	return func(r *Runner) {
		r.load = fn
	}
}

// New creates a Runner with all dependencies.
func New(cfg *config.Config, st store.Store, boundaries BoundaryFetcher, opts ...Option) *Runner {
	r := &Runner{
		cfg:        cfg,
		store:      st,
		boundaries: boundaries,
		load:       loader.Load,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Result is the outcome of one pipeline run.
type Result struct {
	RunID     string
	Coverage  spatial.CoverageStats
	Clusters  int
	Analyses  []model.AnalysisResult
	Failures  []report.TerritoryFailure
	Summary   report.Summary
	StartedAt time.Time
	Duration  time.Duration
}

// Run executes every stage in order. Boundary-fetch and storage failures
// abort the run; per-territory clustering or statistics failures are
// isolated and reported in the result.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if r.cfg.Pipeline.TimeoutSecs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(r.cfg.Pipeline.TimeoutSecs)*time.Second)
		defer cancel()
	}

	result := &Result{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
	}
	log := zap.L().With(zap.String("run_id", result.RunID))
	log.Info("pipeline: starting run")

	if err := r.store.Migrate(ctx); err != nil {
		return nil, eris.Wrap(err, "pipeline: migrate store")
	}

	var samples []*model.Sample
	err := r.stage(ctx, result.RunID, "load", func() (int, error) {
		var err error
		samples, err = r.load(r.cfg.Pipeline.DataFile)
		if err != nil {
			return 0, err
		}
		quality := loader.Validate(samples)
		if !quality.Clean() {
			log.Warn("pipeline: data quality issues found",
				zap.Int("invalid_coordinates", quality.InvalidCoordinates),
				zap.Int("soc_out_of_range", quality.SOCOutOfRange),
				zap.Int("depth_out_of_range", quality.DepthOutOfRange),
			)
		}
		n, err := r.store.InsertSamples(ctx, samples)
		return int(n), err
	})
	if err != nil {
		return nil, err
	}

	var territories []*model.Territory
	err = r.stage(ctx, result.RunID, "boundaries", func() (int, error) {
		var err error
		territories, err = r.boundaries.FetchBoundaries(ctx, r.cfg.Overpass.CountryCodes)
		if err != nil {
			return 0, err
		}
		sort.Slice(territories, func(i, j int) bool {
			return territories[i].Code < territories[j].Code
		})
		return len(territories), nil
	})
	if err != nil {
		return nil, err
	}

	err = r.stage(ctx, result.RunID, "associate", func() (int, error) {
		result.Coverage = spatial.Associate(samples, territories)
		r.checkImbalance(result.Coverage)
		if err := r.store.InsertTerritories(ctx, territories); err != nil {
			return 0, err
		}
		if err := r.store.UpdateSampleAssignments(ctx, samples); err != nil {
			return 0, err
		}
		return result.Coverage.Associated, nil
	})
	if err != nil {
		return nil, err
	}

	byTerritory := groupByTerritory(samples)

	var (
		mu          sync.Mutex
		allClusters = make(map[string][]*model.Cluster, len(territories))
	)
	err = r.stage(ctx, result.RunID, "cluster", func() (int, error) {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.Pipeline.Workers)

		for _, t := range territories {
			t := t
			members := byTerritory[t.Code]
			if len(members) == 0 {
				continue
			}
			g.Go(func() error {
				clusters, err := cluster.Partition(t.Code, members, r.cfg.Cluster)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					log.Warn("pipeline: clustering failed",
						zap.String("territory", t.Code),
						zap.Error(err),
					)
					result.Failures = append(result.Failures, report.TerritoryFailure{
						Code:   t.Code,
						Reason: "clustering failed: " + err.Error(),
					})
					return nil
				}
				allClusters[t.Code] = clusters
				result.Clusters += len(clusters)
				return gctx.Err()
			})
		}
		if err := g.Wait(); err != nil {
			return 0, err
		}

		var flat []*model.Cluster
		for _, t := range territories {
			flat = append(flat, allClusters[t.Code]...)
		}
		if err := r.store.InsertClusters(ctx, flat); err != nil {
			return 0, err
		}
		return result.Clusters, r.store.UpdateSampleClusters(ctx, samples)
	})
	if err != nil {
		return nil, err
	}

	err = r.stage(ctx, result.RunID, "analyze", func() (int, error) {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.Pipeline.Workers)

		for _, t := range territories {
			t := t
			members := byTerritory[t.Code]
			g.Go(func() error {
				if len(members) == 0 {
					mu.Lock()
					result.Failures = append(result.Failures, report.TerritoryFailure{
						Code:   t.Code,
						Reason: "empty territory",
					})
					mu.Unlock()
					return nil
				}

				analyzer := stats.NewAnalyzer(r.cfg.Analysis, r.cfg.Cluster.Seed)
				analysis, err := analyzer.Analyze(t, members, allClusters[t.Code])
				if err != nil {
					mu.Lock()
					result.Failures = append(result.Failures, report.TerritoryFailure{
						Code:   t.Code,
						Reason: err.Error(),
					})
					mu.Unlock()
					return nil
				}
				// One write per territory; the store serializes them.
				if err := r.store.InsertAnalysisResult(gctx, analysis); err != nil {
					return err
				}
				mu.Lock()
				result.Analyses = append(result.Analyses, *analysis)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return 0, err
		}
		sort.Slice(result.Analyses, func(i, j int) bool {
			return result.Analyses[i].TerritoryCode < result.Analyses[j].TerritoryCode
		})
		return len(result.Analyses), nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(result.Failures, func(i, j int) bool {
		return result.Failures[i].Code < result.Failures[j].Code
	})
	result.Summary = report.Build(result.Analyses, result.Failures)
	result.Duration = time.Since(result.StartedAt)

	log.Info("pipeline: run complete",
		zap.Int("territories", len(territories)),
		zap.Int("analyses", len(result.Analyses)),
		zap.Int("failures", len(result.Failures)),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// stage wraps one pipeline stage with event records and duration logging.
func (r *Runner) stage(ctx context.Context, runID, name string, fn func() (int, error)) error {
	log := zap.L().With(zap.String("run_id", runID), zap.String("stage", name))
	log.Info("pipeline: stage started")
	r.recordEvent(ctx, runID, name, "info", "started", 0, 0)

	start := time.Now()
	records, err := fn()
	duration := time.Since(start)

	if err != nil {
		log.Error("pipeline: stage failed", zap.Duration("duration", duration), zap.Error(err))
		r.recordEvent(ctx, runID, name, "error", err.Error(), records, duration)
		return eris.Wrapf(err, "pipeline: stage %s", name)
	}

	log.Info("pipeline: stage complete",
		zap.Int("records", records),
		zap.Duration("duration", duration),
	)
	r.recordEvent(ctx, runID, name, "info", "complete", records, duration)
	return nil
}

func (r *Runner) recordEvent(ctx context.Context, runID, stage, level, message string, records int, duration time.Duration) {
	err := r.store.InsertPipelineEvent(ctx, &store.PipelineEvent{
		RunID:    runID,
		Stage:    stage,
		Level:    level,
		Message:  message,
		Records:  records,
		Duration: duration,
	})
	if err != nil {
		zap.L().Warn("pipeline: failed to record event",
			zap.String("stage", stage),
			zap.Error(err),
		)
	}
}

func (r *Runner) checkImbalance(coverage spatial.CoverageStats) {
	if coverage.Associated == 0 {
		return
	}
	for code, count := range coverage.PerTerritory {
		if share := float64(count) / float64(coverage.Associated); share > imbalanceShare {
			zap.L().Warn("pipeline: associated samples heavily concentrated",
				zap.String("territory", code),
				zap.Float64("share", share),
			)
		}
	}
}

func groupByTerritory(samples []*model.Sample) map[string][]*model.Sample {
	grouped := make(map[string][]*model.Sample)
	for _, s := range samples {
		if s.TerritoryCode == "" {
			continue
		}
		grouped[s.TerritoryCode] = append(grouped[s.TerritoryCode], s)
	}
	return grouped
}
