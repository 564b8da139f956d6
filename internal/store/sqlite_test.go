package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	geom "github.com/twpayne/go-geom"

	"github.com/terrastat/soil-pipeline/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testSamples(n int) []*model.Sample {
	samples := make([]*model.Sample, n)
	for i := range samples {
		samples[i] = &model.Sample{
			ID:           fmt.Sprintf("s-%d", i),
			Latitude:     50 + float64(i)*0.01,
			Longitude:    4 + float64(i)*0.01,
			SOCPercent:   2.5,
			SOCMethod:    "dry_combustion",
			ClayFraction: 0.25,
		}
	}
	return samples
}

func testTerritory(code, name string) *model.Territory {
	flat := []float64{0, 0, 10, 0, 10, 10, 0, 10, 0, 0}
	return &model.Territory{
		Code:       code,
		Name:       name,
		RelationID: 52411,
		Boundary:   geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)}).SetSRID(4326),
	}
}

func TestSQLite_InsertSamples(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	n, err := st.InsertSamples(ctx, testSamples(25))
	require.NoError(t, err)
	assert.Equal(t, int64(25), n)

	count, err := st.CountSamples(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25, count)
}

func TestSQLite_InsertSamples_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)

	n, err := st.InsertSamples(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestSQLite_InsertSamples_DuplicateID(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.InsertSamples(ctx, testSamples(3))
	require.NoError(t, err)

	_, err = st.InsertSamples(ctx, testSamples(3))
	assert.Error(t, err)

	// Duplicate batch rolled back entirely.
	count, err := st.CountSamples(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestSQLite_InsertTerritories_Upsert(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	be := testTerritory("BE", "Belgium")
	require.NoError(t, st.InsertTerritories(ctx, []*model.Territory{be}))

	be.Name = "Belgique"
	be.SampleCount = 42
	require.NoError(t, st.InsertTerritories(ctx, []*model.Territory{be}))

	summaries, err := st.TerritoryStatistics(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "Belgique", summaries[0].Name)
	assert.Equal(t, 42, summaries[0].SampleCount)
}

func TestSQLite_UpdateSampleAssignments(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertTerritories(ctx, []*model.Territory{testTerritory("BE", "Belgium")}))
	samples := testSamples(5)
	_, err := st.InsertSamples(ctx, samples)
	require.NoError(t, err)

	for _, s := range samples[:3] {
		s.TerritoryCode = "BE"
	}
	require.NoError(t, st.UpdateSampleAssignments(ctx, samples))
}

func TestSQLite_InsertClusters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertTerritories(ctx, []*model.Territory{testTerritory("BE", "Belgium")}))

	clusters := []*model.Cluster{
		{ID: "BE-1", TerritoryCode: "BE", Ordinal: 1, CenterLat: 50.5, CenterLon: 4.5, SampleCount: 12},
		{ID: "BE-2", TerritoryCode: "BE", Ordinal: 2, CenterLat: 51.0, CenterLon: 4.0, SampleCount: 8},
	}
	require.NoError(t, st.InsertClusters(ctx, clusters))

	summaries, err := st.TerritoryStatistics(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 2, summaries[0].ClusterCount)
}

func TestSQLite_InsertClusters_DuplicateOrdinal(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertTerritories(ctx, []*model.Territory{testTerritory("BE", "Belgium")}))

	err := st.InsertClusters(ctx, []*model.Cluster{
		{ID: "BE-1", TerritoryCode: "BE", Ordinal: 1, SampleCount: 5},
		{ID: "BE-x", TerritoryCode: "BE", Ordinal: 1, SampleCount: 5},
	})
	assert.Error(t, err)
}

func TestSQLite_AnalysisResults_AppendOnly(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	result := &model.AnalysisResult{
		TerritoryCode:    "BE",
		TerritoryName:    "Belgium",
		Method:           model.MethodRandom,
		RequestedSize:    100,
		SampleSize:       40,
		TotalSamples:     40,
		SOCMean:          2.5,
		SOCVariance:      0.4,
		ClayFractionMean: 0.25,
		LowConfidence:    false,
		AnalyzedAt:       time.Now().UTC(),
	}
	require.NoError(t, st.InsertAnalysisResult(ctx, result))
	require.NoError(t, st.InsertAnalysisResult(ctx, result))

	results, err := st.ListAnalysisResults(ctx)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, model.MethodRandom, results[0].Method)
	assert.InDelta(t, 2.5, results[0].SOCMean, 1e-12)
}

func TestSQLite_PipelineEvents(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	runID := "run-1"
	for i, stage := range []string{"load", "boundaries", "associate"} {
		err := st.InsertPipelineEvent(ctx, &PipelineEvent{
			RunID:     runID,
			Stage:     stage,
			Level:     "info",
			Message:   stage + " complete",
			Records:   (i + 1) * 10,
			Duration:  time.Duration(i+1) * time.Second,
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	events, err := st.ListPipelineEvents(ctx, runID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "load", events[0].Stage)
	assert.Equal(t, 2*time.Second, events[1].Duration)

	none, err := st.ListPipelineEvents(ctx, "missing-run")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLite_TerritoryStatistics_LatestResult(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertTerritories(ctx, []*model.Territory{testTerritory("BE", "Belgium")}))

	old := &model.AnalysisResult{
		TerritoryCode: "BE", TerritoryName: "Belgium", Method: model.MethodRandom,
		SOCMean: 1.0, AnalyzedAt: time.Now().UTC().Add(-time.Hour),
	}
	latest := &model.AnalysisResult{
		TerritoryCode: "BE", TerritoryName: "Belgium", Method: model.MethodRandom,
		SOCMean: 3.0, AnalyzedAt: time.Now().UTC(),
	}
	require.NoError(t, st.InsertAnalysisResult(ctx, old))
	require.NoError(t, st.InsertAnalysisResult(ctx, latest))

	summaries, err := st.TerritoryStatistics(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.InDelta(t, 3.0, summaries[0].SOCMean, 1e-12)
	assert.Equal(t, 2, summaries[0].ResultCount)
}
