package loader

import (
	"go.uber.org/zap"

	"github.com/terrastat/soil-pipeline/internal/model"
)

// QualityReport summarizes data-quality findings for a loaded dataset.
// Findings are advisory; no sample is dropped at load time.
type QualityReport struct {
	Total              int
	InvalidCoordinates int
	SOCOutOfRange      int
	DepthOutOfRange    int
	MissingSOCMethod   int
}

// Clean reports whether no quality issues were found.
func (r QualityReport) Clean() bool {
	return r.InvalidCoordinates == 0 && r.SOCOutOfRange == 0 && r.DepthOutOfRange == 0
}

// Validate checks coordinate, SOC, and depth ranges across the dataset
// and logs a warning per finding category.
func Validate(samples []*model.Sample) QualityReport {
	report := QualityReport{Total: len(samples)}

	for _, s := range samples {
		if !s.HasValidCoordinates() {
			report.InvalidCoordinates++
		}
		if s.SOCPercent < 0 || s.SOCPercent > 100 {
			report.SOCOutOfRange++
		}
		if s.TopDepthCM < 0 || s.BottomDepthCM > 1000 || s.BottomDepthCM < s.TopDepthCM {
			report.DepthOutOfRange++
		}
		if s.SOCMethod == "" {
			report.MissingSOCMethod++
		}
	}

	if report.InvalidCoordinates > 0 {
		zap.L().Warn("loader: samples with invalid coordinates",
			zap.Int("count", report.InvalidCoordinates))
	}
	if report.SOCOutOfRange > 0 {
		zap.L().Warn("loader: SOC values outside expected range",
			zap.Int("count", report.SOCOutOfRange))
	}
	if report.DepthOutOfRange > 0 {
		zap.L().Warn("loader: depth values outside expected range",
			zap.Int("count", report.DepthOutOfRange))
	}
	return report
}
