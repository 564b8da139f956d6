package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_Empty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	n, err := CopyFrom(context.Background(), mock, "soil_samples", []string{"id"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Rows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := [][]any{
		{"s-1", 50.8, 4.3},
		{"s-2", 51.2, 4.4},
	}
	mock.ExpectCopyFrom(pgx.Identifier{"soil_samples"}, []string{"id", "latitude", "longitude"}).
		WillReturnResult(2)

	n, err := CopyFrom(context.Background(), mock, "soil_samples", []string{"id", "latitude", "longitude"}, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_Validation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{Table: "territories"}, [][]any{{"BE"}})
	assert.Error(t, err)

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:   "territories",
		Columns: []string{"code"},
	}, [][]any{{"BE"}})
	assert.Error(t, err)
}

func TestBulkUpsert_Empty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "territories",
		Columns:      []string{"code", "name"},
		ConflictKeys: []string{"code"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
