package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrastat/soil-pipeline/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_InsertSamples(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"soil_samples"}, sampleColumns).
		WillReturnResult(2)

	n, err := s.InsertSamples(context.Background(), testSamples(2))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertSamples_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	n, err := s.InsertSamples(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertAnalysisResult(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO analysis_results`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.InsertAnalysisResult(context.Background(), &model.AnalysisResult{
		TerritoryCode: "BE",
		TerritoryName: "Belgium",
		Method:        model.MethodClustering,
		AnalyzedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountSamples(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM soil_samples`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1234))

	n, err := s.CountSamples(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1234, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TerritoryStatistics(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT`).
		WillReturnRows(pgxmock.NewRows(
			[]string{"code", "name", "sample_count", "cluster_count", "result_count", "soc_mean"}).
			AddRow("BE", "Belgium", 120, 4, 1, 2.5).
			AddRow("NL", "Netherlands", 80, 3, 1, 1.9))

	summaries, err := s.TerritoryStatistics(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "BE", summaries[0].Code)
	assert.Equal(t, 4, summaries[0].ClusterCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListAnalysisResults_QueryError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT territory_code`).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.ListAnalysisResults(context.Background())
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertPipelineEvent(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO pipeline_events`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	event := &PipelineEvent{RunID: "run-1", Stage: "associate", Level: "info", Message: "done"}
	require.NoError(t, s.InsertPipelineEvent(context.Background(), event))
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}
