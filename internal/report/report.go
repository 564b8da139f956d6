// Package report aggregates per-territory analysis results into a run
// summary.
package report

import (
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/terrastat/soil-pipeline/internal/model"
)

// TerritoryFailure names a territory that produced no analysis result.
type TerritoryFailure struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// Summary is the aggregate view over all per-territory results of a run.
type Summary struct {
	TotalTerritories        int                `json:"total_territories"`
	TotalSamplesAnalyzed    int                `json:"total_samples_analyzed"`
	OverallSOCMean          float64            `json:"overall_soc_mean"`
	OverallSOCVariance      float64            `json:"overall_soc_variance"`
	OverallClayFractionMean float64            `json:"overall_clay_fraction_mean"`
	LowConfidence           []string           `json:"low_confidence"`
	SecondaryEstimated      int                `json:"secondary_estimated"`
	Failures                []TerritoryFailure `json:"failures,omitempty"`
}

// Build computes sample-size weighted overall statistics across results.
// The overall variance treats each territory's mean as representative of
// its drawn samples, so it measures between-territory spread.
func Build(results []model.AnalysisResult, failures []TerritoryFailure) Summary {
	s := Summary{
		TotalTerritories: len(results),
		Failures:         failures,
	}

	for _, r := range results {
		s.TotalSamplesAnalyzed += r.SampleSize
		if r.LowConfidence {
			s.LowConfidence = append(s.LowConfidence, r.TerritoryCode)
		}
		if r.SecondaryEstimated {
			s.SecondaryEstimated++
		}
	}
	if s.TotalSamplesAnalyzed == 0 {
		return s
	}

	for _, r := range results {
		w := float64(r.SampleSize)
		s.OverallSOCMean += r.SOCMean * w
		s.OverallClayFractionMean += r.ClayFractionMean * w
	}
	s.OverallSOCMean /= float64(s.TotalSamplesAnalyzed)
	s.OverallClayFractionMean /= float64(s.TotalSamplesAnalyzed)

	for _, r := range results {
		d := r.SOCMean - s.OverallSOCMean
		s.OverallSOCVariance += d * d * float64(r.SampleSize)
	}
	s.OverallSOCVariance /= float64(s.TotalSamplesAnalyzed)

	checkAnomalies(results)
	return s
}

// checkAnomalies logs results whose statistics fall outside plausible
// physical ranges.
func checkAnomalies(results []model.AnalysisResult) {
	for _, r := range results {
		if r.SOCMean < 0 || r.SOCMean > 50 {
			zap.L().Warn("report: implausible SOC mean",
				zap.String("territory", r.TerritoryCode),
				zap.Float64("soc_mean", r.SOCMean),
			)
		}
		if r.ClayFractionMean < 0 || r.ClayFractionMean > 1 {
			zap.L().Warn("report: clay fraction outside [0, 1]",
				zap.String("territory", r.TerritoryCode),
				zap.Float64("clay_fraction_mean", r.ClayFractionMean),
			)
		}
	}
}

// Render formats the summary for terminal output with locale-aware
// number grouping.
func (s Summary) Render() string {
	p := message.NewPrinter(language.English)
	var b strings.Builder

	p.Fprintf(&b, "Territories analyzed:  %d\n", s.TotalTerritories)
	p.Fprintf(&b, "Samples analyzed:      %d\n", s.TotalSamplesAnalyzed)
	p.Fprintf(&b, "Overall SOC mean:      %.3f%%\n", s.OverallSOCMean)
	p.Fprintf(&b, "Overall SOC variance:  %.3f\n", s.OverallSOCVariance)
	p.Fprintf(&b, "Overall clay fraction: %.3f\n", s.OverallClayFractionMean)
	if s.SecondaryEstimated > 0 {
		p.Fprintf(&b, "Clay fraction is estimated from SOC for %d territories\n", s.SecondaryEstimated)
	}
	if len(s.LowConfidence) > 0 {
		p.Fprintf(&b, "Low-confidence territories: %s\n", strings.Join(s.LowConfidence, ", "))
	}
	for _, f := range s.Failures {
		p.Fprintf(&b, "No result for %s: %s\n", f.Code, f.Reason)
	}
	return b.String()
}
