// Package loader reads soil sample datasets from shapefiles and GeoJSON
// feature collections.
package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	geom "github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/terrastat/soil-pipeline/internal/model"
)

// socPayload is the nested measurement format carried in the soc_percent
// attribute of the source datasets.
type socPayload struct {
	Value  *float64 `json:"value"`
	Method string   `json:"method"`
}

// Load reads samples from the file at path, dispatching on extension.
// Supported formats are ESRI shapefile (.shp) and GeoJSON (.json, .geojson).
func Load(path string) ([]*model.Sample, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return loadShapefile(path)
	case ".json", ".geojson":
		return loadGeoJSON(path)
	default:
		return nil, eris.Errorf("loader: unsupported data format %q", filepath.Ext(path))
	}
}

func loadShapefile(path string) ([]*model.Sample, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "loader: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	idIdx := fieldIndex(reader, "raw_data_id")
	socIdx := fieldIndex(reader, "soc_percent")
	topIdx := fieldIndex(reader, "top_depth_cm")
	bottomIdx := fieldIndex(reader, "bottom_depth_cm")
	sampledIdx := fieldIndex(reader, "sampling_date")
	labIdx := fieldIndex(reader, "lab_analysis_date")
	if socIdx < 0 {
		return nil, eris.New("loader: required shapefile field soc_percent not found")
	}

	var samples []*model.Sample
	row := 0
	for reader.Next() {
		_, shape := reader.Shape()
		pt, ok := shape.(*shp.Point)
		if !ok {
			zap.L().Warn("loader: skipping non-point shape", zap.Int("row", row))
			row++
			continue
		}

		s := &model.Sample{
			ID:        strings.TrimSpace(attribute(reader, idIdx)),
			Latitude:  pt.Y,
			Longitude: pt.X,
		}
		if s.ID == "" {
			s.ID = fmt.Sprintf("row-%d", row)
		}
		applySOC(s, attribute(reader, socIdx))
		s.TopDepthCM = parseFloat(attribute(reader, topIdx))
		s.BottomDepthCM = parseFloat(attribute(reader, bottomIdx))
		s.SamplingDate = parseDate(attribute(reader, sampledIdx))
		s.LabAnalysisDate = parseDate(attribute(reader, labIdx))

		samples = append(samples, s)
		row++
	}

	zap.L().Info("loader: shapefile read",
		zap.String("path", path),
		zap.Int("samples", len(samples)),
	)
	return samples, nil
}

func loadGeoJSON(path string) ([]*model.Sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "loader: read %s", path)
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrapf(err, "loader: decode GeoJSON %s", path)
	}

	var samples []*model.Sample
	for i, f := range fc.Features {
		pt, ok := f.Geometry.(*geom.Point)
		if !ok {
			zap.L().Warn("loader: skipping non-point feature", zap.Int("index", i))
			continue
		}

		s := &model.Sample{
			ID:        propString(f.Properties, "raw_data_id"),
			Latitude:  pt.Y(),
			Longitude: pt.X(),
		}
		if s.ID == "" {
			s.ID = fmt.Sprintf("feature-%d", i)
		}
		applySOC(s, propString(f.Properties, "soc_percent"))
		s.TopDepthCM = propFloat(f.Properties, "top_depth_cm")
		s.BottomDepthCM = propFloat(f.Properties, "bottom_depth_cm")
		s.SamplingDate = parseDate(propString(f.Properties, "sampling_date"))
		s.LabAnalysisDate = parseDate(propString(f.Properties, "lab_analysis_date"))

		samples = append(samples, s)
	}

	zap.L().Info("loader: GeoJSON read",
		zap.String("path", path),
		zap.Int("samples", len(samples)),
	)
	return samples, nil
}

// applySOC parses the JSON-wrapped SOC measurement and derives the clay
// fraction. Unparseable payloads leave SOC at 0 with a warning rather
// than dropping the sample.
func applySOC(s *model.Sample, raw string) {
	raw = strings.TrimSpace(raw)
	if raw != "" && raw != "nan" {
		var payload socPayload
		if err := json.Unmarshal([]byte(raw), &payload); err == nil && payload.Value != nil {
			s.SOCPercent = *payload.Value
			s.SOCMethod = payload.Method
		} else if v, err := strconv.ParseFloat(raw, 64); err == nil {
			s.SOCPercent = v
		} else {
			zap.L().Warn("loader: unparseable SOC value",
				zap.String("sample_id", s.ID),
				zap.String("value", raw),
			)
		}
	}
	s.ClayFraction = model.EstimateClayFraction(s.SOCPercent)
	s.ClayEstimated = true
}

// Date formats seen across source exports.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"20060102",
}

func parseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

func parseFloat(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return v
}

func attribute(reader *shp.Reader, idx int) string {
	if idx < 0 {
		return ""
	}
	return reader.Attribute(idx)
}

// fieldIndex returns the index of a named field in the shapefile, or -1 if not found.
func fieldIndex(reader *shp.Reader, name string) int {
	for i, f := range reader.Fields() {
		if strings.EqualFold(strings.TrimRight(f.String(), "\x00"), name) {
			return i
		}
	}
	return -1
}

func propString(props map[string]any, key string) string {
	switch v := props[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case map[string]any:
		// Nested measurement objects round-trip through JSON so applySOC
		// sees the same shape as the string form.
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	default:
		return ""
	}
}

func propFloat(props map[string]any, key string) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case string:
		return parseFloat(v)
	default:
		return 0
	}
}
