package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/terrastat/soil-pipeline/internal/db"
	"github.com/terrastat/soil-pipeline/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS territories (
	code         TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	relation_id  BIGINT NOT NULL DEFAULT 0,
	boundary     JSONB,
	sample_count INTEGER NOT NULL DEFAULT 0,
	fetched_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS soil_samples (
	id                TEXT PRIMARY KEY,
	latitude          DOUBLE PRECISION NOT NULL,
	longitude         DOUBLE PRECISION NOT NULL,
	soc_percent       DOUBLE PRECISION NOT NULL,
	soc_method        TEXT,
	clay_fraction     DOUBLE PRECISION NOT NULL,
	clay_estimated    BOOLEAN NOT NULL DEFAULT false,
	top_depth_cm      DOUBLE PRECISION,
	bottom_depth_cm   DOUBLE PRECISION,
	sampling_date     TIMESTAMPTZ,
	lab_analysis_date TIMESTAMPTZ,
	territory_code    TEXT REFERENCES territories(code),
	cluster_id        TEXT
);

CREATE TABLE IF NOT EXISTS clusters (
	id             TEXT PRIMARY KEY,
	territory_code TEXT NOT NULL REFERENCES territories(code),
	ordinal        INTEGER NOT NULL,
	center_lat     DOUBLE PRECISION NOT NULL,
	center_lon     DOUBLE PRECISION NOT NULL,
	sample_count   INTEGER NOT NULL,
	UNIQUE(territory_code, ordinal)
);

CREATE TABLE IF NOT EXISTS analysis_results (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	territory_code      TEXT NOT NULL,
	territory_name      TEXT NOT NULL,
	method              TEXT NOT NULL,
	requested_size      INTEGER NOT NULL,
	sample_size         INTEGER NOT NULL,
	total_samples       INTEGER NOT NULL,
	soc_mean            DOUBLE PRECISION NOT NULL,
	soc_variance        DOUBLE PRECISION NOT NULL,
	clay_fraction_mean  DOUBLE PRECISION NOT NULL,
	secondary_estimated BOOLEAN NOT NULL DEFAULT false,
	low_confidence      BOOLEAN NOT NULL DEFAULT false,
	analyzed_at         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS pipeline_events (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	stage       TEXT NOT NULL,
	level       TEXT NOT NULL,
	message     TEXT NOT NULL,
	records     INTEGER NOT NULL DEFAULT 0,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_samples_territory ON soil_samples(territory_code);
CREATE INDEX IF NOT EXISTS idx_samples_cluster ON soil_samples(cluster_id);
CREATE INDEX IF NOT EXISTS idx_clusters_territory ON clusters(territory_code);
CREATE INDEX IF NOT EXISTS idx_results_territory ON analysis_results(territory_code);
CREATE INDEX IF NOT EXISTS idx_events_run ON pipeline_events(run_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

var sampleColumns = []string{
	"id", "latitude", "longitude", "soc_percent", "soc_method",
	"clay_fraction", "clay_estimated", "top_depth_cm", "bottom_depth_cm",
	"sampling_date", "lab_analysis_date", "territory_code", "cluster_id",
}

func (s *PostgresStore) InsertSamples(ctx context.Context, samples []*model.Sample) (int64, error) {
	rows := make([][]any, len(samples))
	for i, smp := range samples {
		rows[i] = []any{
			smp.ID, smp.Latitude, smp.Longitude, smp.SOCPercent, smp.SOCMethod,
			smp.ClayFraction, smp.ClayEstimated, smp.TopDepthCM, smp.BottomDepthCM,
			smp.SamplingDate, smp.LabAnalysisDate,
			nullIfEmpty(smp.TerritoryCode), nullIfEmpty(smp.ClusterID),
		}
	}
	n, err := db.CopyFrom(ctx, s.pool, "soil_samples", sampleColumns, rows)
	return n, eris.Wrap(err, "postgres: insert samples")
}

func (s *PostgresStore) UpdateSampleAssignments(ctx context.Context, samples []*model.Sample) error {
	return s.updateSampleColumn(ctx, samples, "territory_code", func(smp *model.Sample) any {
		return nullIfEmpty(smp.TerritoryCode)
	})
}

func (s *PostgresStore) UpdateSampleClusters(ctx context.Context, samples []*model.Sample) error {
	return s.updateSampleColumn(ctx, samples, "cluster_id", func(smp *model.Sample) any {
		return nullIfEmpty(smp.ClusterID)
	})
}

func (s *PostgresStore) updateSampleColumn(ctx context.Context, samples []*model.Sample, column string, value func(*model.Sample) any) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrapf(err, "postgres: begin update %s", column)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	sql := `UPDATE soil_samples SET ` + pgx.Identifier{column}.Sanitize() + ` = $1 WHERE id = $2`
	batch := &pgx.Batch{}
	for _, smp := range samples {
		batch.Queue(sql, value(smp), smp.ID)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return eris.Wrapf(err, "postgres: batch update %s", column)
	}
	return eris.Wrapf(tx.Commit(ctx), "postgres: commit update %s", column)
}

func (s *PostgresStore) CountSamples(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM soil_samples`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count samples")
}

func (s *PostgresStore) InsertTerritories(ctx context.Context, territories []*model.Territory) error {
	if len(territories) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([][]any, len(territories))
	for i, t := range territories {
		boundary, err := encodeBoundaryJSON(t)
		if err != nil {
			return err
		}
		rows[i] = []any{t.Code, t.Name, t.RelationID, boundary, t.SampleCount, now}
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "territories",
		Columns:      []string{"code", "name", "relation_id", "boundary", "sample_count", "fetched_at"},
		ConflictKeys: []string{"code"},
	}, rows)
	return eris.Wrap(err, "postgres: insert territories")
}

func (s *PostgresStore) InsertClusters(ctx context.Context, clusters []*model.Cluster) error {
	if len(clusters) == 0 {
		return nil
	}

	rows := make([][]any, len(clusters))
	for i, c := range clusters {
		rows[i] = []any{c.ID, c.TerritoryCode, c.Ordinal, c.CenterLat, c.CenterLon, c.SampleCount}
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "clusters",
		Columns:      []string{"id", "territory_code", "ordinal", "center_lat", "center_lon", "sample_count"},
		ConflictKeys: []string{"id"},
	}, rows)
	return eris.Wrap(err, "postgres: insert clusters")
}

func (s *PostgresStore) InsertAnalysisResult(ctx context.Context, result *model.AnalysisResult) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO analysis_results (
			id, territory_code, territory_name, method, requested_size,
			sample_size, total_samples, soc_mean, soc_variance,
			clay_fraction_mean, secondary_estimated, low_confidence, analyzed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		uuid.New().String(), result.TerritoryCode, result.TerritoryName,
		string(result.Method), result.RequestedSize, result.SampleSize,
		result.TotalSamples, result.SOCMean, result.SOCVariance,
		result.ClayFractionMean, result.SecondaryEstimated, result.LowConfidence,
		result.AnalyzedAt,
	)
	return eris.Wrapf(err, "postgres: insert analysis result for %s", result.TerritoryCode)
}

func (s *PostgresStore) ListAnalysisResults(ctx context.Context) ([]model.AnalysisResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT territory_code, territory_name, method, requested_size,
			sample_size, total_samples, soc_mean, soc_variance,
			clay_fraction_mean, secondary_estimated, low_confidence, analyzed_at
		FROM analysis_results
		ORDER BY analyzed_at DESC, territory_code`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list analysis results")
	}
	defer rows.Close()

	var results []model.AnalysisResult
	for rows.Next() {
		var r model.AnalysisResult
		var method string
		if err := rows.Scan(&r.TerritoryCode, &r.TerritoryName, &method,
			&r.RequestedSize, &r.SampleSize, &r.TotalSamples, &r.SOCMean,
			&r.SOCVariance, &r.ClayFractionMean, &r.SecondaryEstimated,
			&r.LowConfidence, &r.AnalyzedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan analysis result")
		}
		r.Method = model.SamplingMethod(method)
		results = append(results, r)
	}
	return results, eris.Wrap(rows.Err(), "postgres: iterate analysis results")
}

func (s *PostgresStore) TerritoryStatistics(ctx context.Context) ([]TerritorySummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			t.code,
			t.name,
			t.sample_count,
			(SELECT COUNT(*) FROM clusters c WHERE c.territory_code = t.code) AS cluster_count,
			(SELECT COUNT(*) FROM analysis_results r WHERE r.territory_code = t.code) AS result_count,
			COALESCE((SELECT r.soc_mean FROM analysis_results r
				WHERE r.territory_code = t.code
				ORDER BY r.analyzed_at DESC LIMIT 1), 0) AS soc_mean
		FROM territories t
		ORDER BY t.code`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: territory statistics")
	}
	defer rows.Close()

	var summaries []TerritorySummary
	for rows.Next() {
		var ts TerritorySummary
		if err := rows.Scan(&ts.Code, &ts.Name, &ts.SampleCount, &ts.ClusterCount, &ts.ResultCount, &ts.SOCMean); err != nil {
			return nil, eris.Wrap(err, "postgres: scan territory summary")
		}
		summaries = append(summaries, ts)
	}
	return summaries, eris.Wrap(rows.Err(), "postgres: iterate territory summaries")
}

func (s *PostgresStore) InsertPipelineEvent(ctx context.Context, event *PipelineEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pipeline_events (id, run_id, stage, level, message, records, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.RunID, event.Stage, event.Level, event.Message,
		event.Records, event.Duration.Milliseconds(), event.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert pipeline event %s/%s", event.RunID, event.Stage)
}

func (s *PostgresStore) ListPipelineEvents(ctx context.Context, runID string) ([]PipelineEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, stage, level, message, records, duration_ms, created_at
		FROM pipeline_events
		WHERE run_id = $1
		ORDER BY created_at`,
		runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list pipeline events for %s", runID)
	}
	defer rows.Close()

	var events []PipelineEvent
	for rows.Next() {
		var (
			e          PipelineEvent
			durationMS int64
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.Stage, &e.Level, &e.Message, &e.Records, &durationMS, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan pipeline event")
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "postgres: iterate pipeline events")
}

func encodeBoundaryJSON(t *model.Territory) (any, error) {
	if t.Boundary == nil {
		return nil, nil
	}
	data, err := geojson.Marshal(t.Boundary)
	if err != nil {
		return nil, eris.Wrapf(err, "store: encode boundary for %s", t.Code)
	}
	return data, nil
}
