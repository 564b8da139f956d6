// Package stats draws per-territory sample subsets and computes soil
// statistics over them.
package stats

import (
	"math/rand"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/terrastat/soil-pipeline/internal/config"
	"github.com/terrastat/soil-pipeline/internal/model"
)

// Analyzer computes an AnalysisResult for one territory at a time. It is
// not safe for concurrent use; the pipeline gives each worker its own.
type Analyzer struct {
	cfg config.AnalysisConfig
	rng *rand.Rand
}

// NewAnalyzer returns an Analyzer whose draws are reproducible for a
// given seed.
func NewAnalyzer(cfg config.AnalysisConfig, seed int64) *Analyzer {
	return &Analyzer{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// Analyze draws a subset of the territory's samples according to the
// configured method and computes statistics over the drawn subset. A
// territory with zero samples returns an error; the caller isolates it
// from other territories.
func (a *Analyzer) Analyze(territory *model.Territory, samples []*model.Sample, clusters []*model.Cluster) (*model.AnalysisResult, error) {
	if len(samples) == 0 {
		return nil, eris.Errorf("stats: territory %s is empty", territory.Code)
	}

	method, err := model.ParseSamplingMethod(a.cfg.SamplingMethod)
	if err != nil {
		return nil, eris.Wrap(err, "stats: resolve sampling method")
	}

	var drawn []*model.Sample
	switch method {
	case model.MethodRandom, model.MethodSingleCluster:
		drawn = a.drawUniform(samples, a.cfg.SampleSize)
	case model.MethodClustering:
		drawn = a.drawProportional(territory.Code, samples, clusters, a.cfg.SampleSize)
	}

	result := &model.AnalysisResult{
		TerritoryCode: territory.Code,
		TerritoryName: territory.Name,
		Method:        method,
		RequestedSize: a.cfg.SampleSize,
		SampleSize:    len(drawn),
		TotalSamples:  len(samples),
		SOCMean:       Mean(socValues(drawn)),
		SOCVariance:   Variance(socValues(drawn)),
		LowConfidence: len(samples) < a.cfg.MinSamplesPerTerritory,
		AnalyzedAt:    time.Now().UTC(),
	}

	clay := make([]float64, 0, len(drawn))
	for _, s := range drawn {
		clay = append(clay, s.ClayFraction)
		if s.ClayEstimated {
			result.SecondaryEstimated = true
		}
	}
	result.ClayFractionMean = Mean(clay)

	if result.LowConfidence {
		zap.L().Warn("stats: territory below minimum sample threshold",
			zap.String("territory", territory.Code),
			zap.Int("samples", len(samples)),
			zap.Int("minimum", a.cfg.MinSamplesPerTerritory),
		)
	}
	return result, nil
}

// drawUniform selects min(requested, available) samples uniformly without
// replacement.
func (a *Analyzer) drawUniform(samples []*model.Sample, requested int) []*model.Sample {
	n := len(samples)
	if requested >= n {
		out := make([]*model.Sample, n)
		copy(out, samples)
		return out
	}
	perm := a.rng.Perm(n)
	out := make([]*model.Sample, requested)
	for i := 0; i < requested; i++ {
		out[i] = samples[perm[i]]
	}
	return out
}

// drawProportional allocates the requested size across clusters in
// proportion to their member counts, assigning rounding remainder to the
// largest clusters first, then draws uniformly within each cluster.
func (a *Analyzer) drawProportional(territoryCode string, samples []*model.Sample, clusters []*model.Cluster, requested int) []*model.Sample {
	if len(clusters) == 0 {
		zap.L().Warn("stats: no clusters available, falling back to uniform draw",
			zap.String("territory", territoryCode),
		)
		return a.drawUniform(samples, requested)
	}

	byCluster := make(map[string][]*model.Sample, len(clusters))
	for _, s := range samples {
		byCluster[s.ClusterID] = append(byCluster[s.ClusterID], s)
	}

	target := requested
	if target > len(samples) {
		target = len(samples)
	}

	quotas := allocateQuotas(clusters, byCluster, target)

	out := make([]*model.Sample, 0, target)
	for _, c := range clusters {
		out = append(out, a.drawUniform(byCluster[c.ID], quotas[c.ID])...)
	}
	return out
}

// allocateQuotas computes per-cluster draw counts that sum exactly to
// target, never exceed a cluster's population, and hand rounding
// remainder to the largest clusters first.
func allocateQuotas(clusters []*model.Cluster, byCluster map[string][]*model.Sample, target int) map[string]int {
	total := 0
	for _, members := range byCluster {
		total += len(members)
	}
	if total == 0 {
		return nil
	}

	quotas := make(map[string]int, len(clusters))
	allocated := 0
	for _, c := range clusters {
		size := len(byCluster[c.ID])
		q := target * size / total
		if q > size {
			q = size
		}
		quotas[c.ID] = q
		allocated += q
	}

	// Largest first; ordinal breaks ties so allocation is deterministic.
	order := make([]*model.Cluster, len(clusters))
	copy(order, clusters)
	sort.SliceStable(order, func(i, j int) bool {
		si, sj := len(byCluster[order[i].ID]), len(byCluster[order[j].ID])
		if si != sj {
			return si > sj
		}
		return order[i].Ordinal < order[j].Ordinal
	})

	for allocated < target {
		progressed := false
		for _, c := range order {
			if allocated == target {
				break
			}
			if quotas[c.ID] < len(byCluster[c.ID]) {
				quotas[c.ID]++
				allocated++
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return quotas
}

func socValues(samples []*model.Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.SOCPercent
	}
	return out
}

// Mean returns the arithmetic mean, or 0 for an empty input.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Variance returns the sample variance (n-1 denominator). Fewer than two
// values report 0.
func Variance(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	mean := Mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return sum / float64(n-1)
}
