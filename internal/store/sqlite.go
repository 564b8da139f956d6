package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	_ "modernc.org/sqlite"

	"github.com/terrastat/soil-pipeline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS territories (
	code        TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	relation_id INTEGER NOT NULL DEFAULT 0,
	boundary    TEXT,
	sample_count INTEGER NOT NULL DEFAULT 0,
	fetched_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS soil_samples (
	id                TEXT PRIMARY KEY,
	latitude          REAL NOT NULL,
	longitude         REAL NOT NULL,
	soc_percent       REAL NOT NULL,
	soc_method        TEXT,
	clay_fraction     REAL NOT NULL,
	clay_estimated    INTEGER NOT NULL DEFAULT 0,
	top_depth_cm      REAL,
	bottom_depth_cm   REAL,
	sampling_date     DATETIME,
	lab_analysis_date DATETIME,
	territory_code    TEXT REFERENCES territories(code),
	cluster_id        TEXT
);

CREATE TABLE IF NOT EXISTS clusters (
	id             TEXT PRIMARY KEY,
	territory_code TEXT NOT NULL REFERENCES territories(code),
	ordinal        INTEGER NOT NULL,
	center_lat     REAL NOT NULL,
	center_lon     REAL NOT NULL,
	sample_count   INTEGER NOT NULL,
	UNIQUE(territory_code, ordinal)
);

CREATE TABLE IF NOT EXISTS analysis_results (
	id                  TEXT PRIMARY KEY,
	territory_code      TEXT NOT NULL,
	territory_name      TEXT NOT NULL,
	method              TEXT NOT NULL,
	requested_size      INTEGER NOT NULL,
	sample_size         INTEGER NOT NULL,
	total_samples       INTEGER NOT NULL,
	soc_mean            REAL NOT NULL,
	soc_variance        REAL NOT NULL,
	clay_fraction_mean  REAL NOT NULL,
	secondary_estimated INTEGER NOT NULL DEFAULT 0,
	low_confidence      INTEGER NOT NULL DEFAULT 0,
	analyzed_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS pipeline_events (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	stage       TEXT NOT NULL,
	level       TEXT NOT NULL,
	message     TEXT NOT NULL,
	records     INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_samples_territory ON soil_samples(territory_code);
CREATE INDEX IF NOT EXISTS idx_samples_cluster ON soil_samples(cluster_id);
CREATE INDEX IF NOT EXISTS idx_clusters_territory ON clusters(territory_code);
CREATE INDEX IF NOT EXISTS idx_results_territory ON analysis_results(territory_code);
CREATE INDEX IF NOT EXISTS idx_events_run ON pipeline_events(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InsertSamples(ctx context.Context, samples []*model.Sample) (int64, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert samples")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO soil_samples (
			id, latitude, longitude, soc_percent, soc_method, clay_fraction,
			clay_estimated, top_depth_cm, bottom_depth_cm, sampling_date,
			lab_analysis_date, territory_code, cluster_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert samples")
	}
	defer stmt.Close()

	var n int64
	for _, smp := range samples {
		_, err := stmt.ExecContext(ctx,
			smp.ID, smp.Latitude, smp.Longitude, smp.SOCPercent, smp.SOCMethod,
			smp.ClayFraction, smp.ClayEstimated, smp.TopDepthCM, smp.BottomDepthCM,
			smp.SamplingDate, smp.LabAnalysisDate,
			nullIfEmpty(smp.TerritoryCode), nullIfEmpty(smp.ClusterID),
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert sample %s", smp.ID)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit insert samples")
	}
	return n, nil
}

func (s *SQLiteStore) UpdateSampleAssignments(ctx context.Context, samples []*model.Sample) error {
	return s.updateSampleColumn(ctx, samples, "territory_code", func(smp *model.Sample) any {
		return nullIfEmpty(smp.TerritoryCode)
	})
}

func (s *SQLiteStore) UpdateSampleClusters(ctx context.Context, samples []*model.Sample) error {
	return s.updateSampleColumn(ctx, samples, "cluster_id", func(smp *model.Sample) any {
		return nullIfEmpty(smp.ClusterID)
	})
}

func (s *SQLiteStore) updateSampleColumn(ctx context.Context, samples []*model.Sample, column string, value func(*model.Sample) any) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: begin update %s", column)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `UPDATE soil_samples SET `+column+` = ? WHERE id = ?`)
	if err != nil {
		return eris.Wrapf(err, "sqlite: prepare update %s", column)
	}
	defer stmt.Close()

	for _, smp := range samples {
		if _, err := stmt.ExecContext(ctx, value(smp), smp.ID); err != nil {
			return eris.Wrapf(err, "sqlite: update %s for sample %s", column, smp.ID)
		}
	}
	return eris.Wrapf(tx.Commit(), "sqlite: commit update %s", column)
}

func (s *SQLiteStore) CountSamples(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM soil_samples`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count samples")
}

func (s *SQLiteStore) InsertTerritories(ctx context.Context, territories []*model.Territory) error {
	if len(territories) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert territories")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO territories (code, name, relation_id, boundary, sample_count, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			relation_id = excluded.relation_id,
			boundary = excluded.boundary,
			sample_count = excluded.sample_count,
			fetched_at = excluded.fetched_at`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert territories")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, t := range territories {
		boundary, err := encodeBoundary(t)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, t.Code, t.Name, t.RelationID, boundary, t.SampleCount, now); err != nil {
			return eris.Wrapf(err, "sqlite: insert territory %s", t.Code)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit insert territories")
}

func (s *SQLiteStore) InsertClusters(ctx context.Context, clusters []*model.Cluster) error {
	if len(clusters) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert clusters")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO clusters (id, territory_code, ordinal, center_lat, center_lon, sample_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			center_lat = excluded.center_lat,
			center_lon = excluded.center_lon,
			sample_count = excluded.sample_count`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert clusters")
	}
	defer stmt.Close()

	for _, c := range clusters {
		if _, err := stmt.ExecContext(ctx, c.ID, c.TerritoryCode, c.Ordinal, c.CenterLat, c.CenterLon, c.SampleCount); err != nil {
			return eris.Wrapf(err, "sqlite: insert cluster %s", c.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit insert clusters")
}

func (s *SQLiteStore) InsertAnalysisResult(ctx context.Context, result *model.AnalysisResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_results (
			id, territory_code, territory_name, method, requested_size,
			sample_size, total_samples, soc_mean, soc_variance,
			clay_fraction_mean, secondary_estimated, low_confidence, analyzed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), result.TerritoryCode, result.TerritoryName,
		string(result.Method), result.RequestedSize, result.SampleSize,
		result.TotalSamples, result.SOCMean, result.SOCVariance,
		result.ClayFractionMean, result.SecondaryEstimated, result.LowConfidence,
		result.AnalyzedAt,
	)
	return eris.Wrapf(err, "sqlite: insert analysis result for %s", result.TerritoryCode)
}

func (s *SQLiteStore) ListAnalysisResults(ctx context.Context) ([]model.AnalysisResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT territory_code, territory_name, method, requested_size,
			sample_size, total_samples, soc_mean, soc_variance,
			clay_fraction_mean, secondary_estimated, low_confidence, analyzed_at
		FROM analysis_results
		ORDER BY analyzed_at DESC, territory_code`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list analysis results")
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
			return nil, eris.Wrap(err, "sqlite: scan analysis result")
		}
		r.Method = model.SamplingMethod(method)
		results = append(results, r)
	}
	return results, eris.Wrap(rows.Err(), "sqlite: iterate analysis results")
}

func (s *SQLiteStore) TerritoryStatistics(ctx context.Context) ([]TerritorySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
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
		return nil, eris.Wrap(err, "sqlite: territory statistics")
	}
	defer rows.Close()

	var summaries []TerritorySummary
	for rows.Next() {
		var ts TerritorySummary
		if err := rows.Scan(&ts.Code, &ts.Name, &ts.SampleCount, &ts.ClusterCount, &ts.ResultCount, &ts.SOCMean); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan territory summary")
		}
		summaries = append(summaries, ts)
	}
	return summaries, eris.Wrap(rows.Err(), "sqlite: iterate territory summaries")
}

func (s *SQLiteStore) InsertPipelineEvent(ctx context.Context, event *PipelineEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_events (id, run_id, stage, level, message, records, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.RunID, event.Stage, event.Level, event.Message,
		event.Records, event.Duration.Milliseconds(), event.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert pipeline event %s/%s", event.RunID, event.Stage)
}

func (s *SQLiteStore) ListPipelineEvents(ctx context.Context, runID string) ([]PipelineEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, stage, level, message, records, duration_ms, created_at
		FROM pipeline_events
		WHERE run_id = ?
		ORDER BY created_at`,
		runID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list pipeline events for %s", runID)
	}
	defer rows.Close()

	var events []PipelineEvent
	for rows.Next() {
		var (
			e          PipelineEvent
			durationMS int64
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.Stage, &e.Level, &e.Message, &e.Records, &durationMS, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pipeline event")
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: iterate pipeline events")
}

// helpers

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func encodeBoundary(t *model.Territory) (any, error) {
	if t.Boundary == nil {
		return nil, nil
	}
	data, err := geojson.Marshal(t.Boundary)
	if err != nil {
		return nil, eris.Wrapf(err, "store: encode boundary for %s", t.Code)
	}
	return string(data), nil
}
