package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/omnidoxa/newsdesk/internal/db"
	"github.com/omnidoxa/newsdesk/internal/model"
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

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_run":       `INSERT INTO runs (id, kind, trigger_src, config, status, stage, error, started_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
	"get_run":          `SELECT id, kind, trigger_src, config, status, stage, error, started_at, completed_at, updated_at FROM runs WHERE id = $1`,
	"update_run_stage": `UPDATE runs SET status = $1, stage = $2, updated_at = $3 WHERE id = $4`,
	"finish_run":       `UPDATE runs SET status = $1, error = $2, completed_at = $3, updated_at = $3 WHERE id = $4`,
	"acquire_lock":     `INSERT INTO pipeline_lock (id, run_id, acquired_at) VALUES (1, $1, $2) ON CONFLICT (id) DO NOTHING`,
	"release_lock":     `DELETE FROM pipeline_lock WHERE id = 1 AND run_id = $1`,
	"mark_job_running": `UPDATE analysis_jobs SET status = 'running', attempts = attempts + 1, started_at = $1 WHERE id = $2`,
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

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

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

// NewPostgresFromPool wraps an existing pool (pgxmock in tests).
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: func() {}}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	kind         TEXT NOT NULL,
	trigger_src  TEXT NOT NULL,
	config       JSONB NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	stage        TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pipeline_lock (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	run_id      TEXT NOT NULL,
	acquired_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS category_progress (
	run_id        TEXT NOT NULL REFERENCES runs(id),
	category      TEXT NOT NULL,
	target_count  INTEGER NOT NULL,
	current_count INTEGER NOT NULL DEFAULT 0,
	pull_attempts INTEGER NOT NULL DEFAULT 0,
	stage         TEXT NOT NULL DEFAULT 'pending',
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, category)
);

CREATE TABLE IF NOT EXISTS staged_items (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id           TEXT NOT NULL REFERENCES runs(id),
	category         TEXT NOT NULL,
	title            TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	url              TEXT NOT NULL,
	source           TEXT NOT NULL DEFAULT '',
	normalized_title TEXT NOT NULL,
	canonical_url    TEXT NOT NULL,
	fingerprint      TEXT NOT NULL,
	published_at     TIMESTAMPTZ NOT NULL,
	status           TEXT NOT NULL DEFAULT 'staged',
	rejection_reason TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS analysis_jobs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id       TEXT NOT NULL REFERENCES runs(id),
	item_id      TEXT NOT NULL REFERENCES staged_items(id),
	kind         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	attempts     INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 3,
	error        TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS staged_perspectives (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	item_id    TEXT NOT NULL REFERENCES staged_items(id),
	lean       TEXT NOT NULL,
	summary    TEXT NOT NULL DEFAULT '',
	sentiment  DOUBLE PRECISION NOT NULL DEFAULT 0,
	fallback   BOOLEAN NOT NULL DEFAULT false,
	evidence   JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (item_id, lean)
);

CREATE TABLE IF NOT EXISTS staged_summaries (
	item_id         TEXT PRIMARY KEY REFERENCES staged_items(id),
	neutral_summary TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS live_items (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	canonical_url   TEXT NOT NULL UNIQUE,
	category        TEXT NOT NULL,
	title           TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	url             TEXT NOT NULL,
	source          TEXT NOT NULL DEFAULT '',
	neutral_summary TEXT NOT NULL DEFAULT '',
	published_at    TIMESTAMPTZ NOT NULL,
	version         BIGINT NOT NULL DEFAULT 1,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS live_perspectives (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	item_id    TEXT NOT NULL REFERENCES live_items(id),
	lean       TEXT NOT NULL,
	summary    TEXT NOT NULL DEFAULT '',
	sentiment  DOUBLE PRECISION NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (item_id, lean)
);

CREATE TABLE IF NOT EXISTS live_evidence (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	perspective_id TEXT NOT NULL REFERENCES live_perspectives(id),
	platform       TEXT NOT NULL,
	platform_id    TEXT NOT NULL,
	author         TEXT NOT NULL DEFAULT '',
	text           TEXT NOT NULL DEFAULT '',
	url            TEXT NOT NULL DEFAULT '',
	likes          INTEGER NOT NULL DEFAULT 0,
	reposts        INTEGER NOT NULL DEFAULT 0,
	verified       BOOLEAN NOT NULL DEFAULT false,
	posted_at      TIMESTAMPTZ,
	UNIQUE (platform, platform_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_staged_items_run ON staged_items(run_id, status);
CREATE INDEX IF NOT EXISTS idx_staged_items_category ON staged_items(run_id, category);
CREATE INDEX IF NOT EXISTS idx_analysis_jobs_run ON analysis_jobs(run_id, status);
CREATE INDEX IF NOT EXISTS idx_live_items_category ON live_items(category);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.closeFn()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// --- Runs ---

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.Run) error {
	if !run.Kind.Valid() {
		return eris.Errorf("postgres: invalid run kind %q", run.Kind)
	}
	if !run.Status.Valid() {
		return eris.Errorf("postgres: invalid run status %q", run.Status)
	}

	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	run.UpdatedAt = now

	configJSON, err := json.Marshal(run.Config)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run config")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, kind, trigger_src, config, status, stage, error, started_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, string(run.Kind), run.Trigger, configJSON,
		string(run.Status), run.Stage, run.Error, run.StartedAt, run.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert run")
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, kind, trigger_src, config, status, stage, error, started_at, completed_at, updated_at
		 FROM runs WHERE id = $1`,
		runID,
	)
	return scanRunPg(row)
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, kind, trigger_src, config, status, stage, error, started_at, completed_at, updated_at
	          FROM runs WHERE ($1 = '' OR status = $1) AND ($2 = '' OR kind = $2)
	          ORDER BY started_at DESC LIMIT $3 OFFSET $4`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, query, string(filter.Status), string(filter.Kind), limit, filter.Offset)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRunPg(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) UpdateRunStage(ctx context.Context, runID string, status model.RunStatus, stage string) error {
	if !status.Valid() {
		return eris.Errorf("postgres: invalid run status %q", status)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, stage = $2, updated_at = $3 WHERE id = $4`,
		string(status), stage, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run stage %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, errMsg string) error {
	if !status.Terminal() {
		return eris.Errorf("postgres: finish run with non-terminal status %q", status)
	}

	var current model.RunStatus
	err := s.pool.QueryRow(ctx, `SELECT status FROM runs WHERE id = $1`, runID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if !current.CanTransition(status) {
		return eris.Errorf("postgres: run %s is already terminal (%s)", runID, current)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, completed_at = $3, updated_at = $3 WHERE id = $4 AND status = $5`,
		string(status), errMsg, time.Now().UTC(), runID, string(current),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

// --- Lock ---

func (s *PostgresStore) TryAcquireLock(ctx context.Context, runID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO pipeline_lock (id, run_id, acquired_at) VALUES (1, $1, $2) ON CONFLICT (id) DO NOTHING`,
		runID, time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: acquire lock")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetLock(ctx context.Context) (*model.PipelineLock, error) {
	row := s.pool.QueryRow(ctx, `SELECT run_id, acquired_at FROM pipeline_lock WHERE id = 1`)

	var l model.PipelineLock
	err := row.Scan(&l.RunID, &l.AcquiredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get lock")
	}
	return &l, nil
}

func (s *PostgresStore) ReleaseLock(ctx context.Context, runID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM pipeline_lock WHERE id = 1 AND run_id = $1`, runID)
	return eris.Wrap(err, "postgres: release lock")
}

func (s *PostgresStore) ForceReleaseLock(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM pipeline_lock WHERE id = 1`)
	return eris.Wrap(err, "postgres: force release lock")
}

// --- Category progress ---

func (s *PostgresStore) InitCategoryProgress(ctx context.Context, runID string, targets map[string]int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin init progress")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	for category, target := range targets {
		if _, err := tx.Exec(ctx,
			`INSERT INTO category_progress (run_id, category, target_count, current_count, pull_attempts, stage, updated_at)
			 VALUES ($1, $2, $3, 0, 0, $4, $5)`,
			runID, category, target, string(model.CategoryStagePending), now,
		); err != nil {
			return eris.Wrapf(err, "postgres: init progress %s/%s", runID, category)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit init progress")
}

func (s *PostgresStore) ListCategoryProgress(ctx context.Context, runID string) ([]model.CategoryProgress, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, category, target_count, current_count, pull_attempts, stage, updated_at
		 FROM category_progress WHERE run_id = $1 ORDER BY category`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list category progress")
	}
	defer rows.Close()

	var out []model.CategoryProgress
	for rows.Next() {
		var p model.CategoryProgress
		if err := rows.Scan(&p.RunID, &p.Category, &p.TargetCount, &p.CurrentCount, &p.PullAttempts, &p.Stage, &p.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan category progress")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list category progress iterate")
}

func (s *PostgresStore) UpdateCategoryProgress(ctx context.Context, runID, category string, currentCount int, stage model.CategoryStage) error {
	if !stage.Valid() {
		return eris.Errorf("postgres: invalid category stage %q", stage)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE category_progress SET current_count = $1, stage = $2, updated_at = $3 WHERE run_id = $4 AND category = $5`,
		currentCount, string(stage), time.Now().UTC(), runID, category,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update progress %s/%s", runID, category)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("category progress not found: %s/%s", runID, category)
	}
	return nil
}

func (s *PostgresStore) IncrementPullAttempts(ctx context.Context, runID, category string) (int, error) {
	var attempts int
	row := s.pool.QueryRow(ctx,
		`UPDATE category_progress SET pull_attempts = pull_attempts + 1, updated_at = $1
		 WHERE run_id = $2 AND category = $3 RETURNING pull_attempts`,
		time.Now().UTC(), runID, category,
	)
	err := row.Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, eris.Errorf("category progress not found: %s/%s", runID, category)
	}
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: increment pull attempts %s/%s", runID, category)
	}
	return attempts, nil
}

// --- Staged items ---

func (s *PostgresStore) InsertStagedItems(ctx context.Context, items []model.StagedItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(items))
	for i := range items {
		it := &items[i]
		if !it.Status.Valid() {
			return 0, eris.Errorf("postgres: invalid item status %q", it.Status)
		}
		if it.ID == "" {
			it.ID = uuid.New().String()
		}
		if it.CreatedAt.IsZero() {
			it.CreatedAt = now
		}
		rows = append(rows, []any{
			it.ID, it.RunID, it.Category, it.Title, it.Description, it.URL, it.Source,
			it.NormalizedTitle, it.CanonicalURL, it.Fingerprint, it.PublishedAt.UTC(),
			string(it.Status), it.RejectionReason, it.CreatedAt,
		})
	}

	n, err := db.CopyFrom(ctx, s.pool, "staged_items",
		[]string{"id", "run_id", "category", "title", "description", "url", "source",
			"normalized_title", "canonical_url", "fingerprint", "published_at",
			"status", "rejection_reason", "created_at"},
		rows,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert staged items")
	}
	return int(n), nil
}

func (s *PostgresStore) ListStagedItems(ctx context.Context, runID string, filter ItemFilter) ([]model.StagedItem, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 10000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, category, title, description, url, source, normalized_title, canonical_url, fingerprint, published_at, status, rejection_reason, created_at
		 FROM staged_items
		 WHERE run_id = $1 AND ($2 = '' OR status = $2) AND ($3 = '' OR category = $3)
		 ORDER BY published_at DESC, id LIMIT $4`,
		runID, string(filter.Status), filter.Category, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list staged items")
	}
	defer rows.Close()

	var items []model.StagedItem
	for rows.Next() {
		var it model.StagedItem
		if err := rows.Scan(&it.ID, &it.RunID, &it.Category, &it.Title, &it.Description, &it.URL, &it.Source,
			&it.NormalizedTitle, &it.CanonicalURL, &it.Fingerprint, &it.PublishedAt, &it.Status,
			&it.RejectionReason, &it.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan staged item")
		}
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list staged items iterate")
}

func (s *PostgresStore) UpdateItemStatus(ctx context.Context, itemIDs []string, status model.ItemStatus, reason string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	if !status.Valid() {
		return eris.Errorf("postgres: invalid item status %q", status)
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE staged_items SET status = $1, rejection_reason = $2 WHERE id = ANY($3)`,
		string(status), reason, itemIDs,
	)
	return eris.Wrap(err, "postgres: update item status")
}

func (s *PostgresStore) CountItemsByStatus(ctx context.Context, runID string) (map[model.ItemStatus]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM staged_items WHERE run_id = $1 GROUP BY status`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count items")
	}
	defer rows.Close()

	counts := make(map[model.ItemStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan item count")
		}
		counts[model.ItemStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count items iterate")
}

// --- Analysis jobs ---

func (s *PostgresStore) CreateAnalysisJobs(ctx context.Context, jobs []model.AnalysisJob) error {
	if len(jobs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(jobs))
	for i := range jobs {
		j := &jobs[i]
		if !j.Status.Valid() {
			return eris.Errorf("postgres: invalid job status %q", j.Status)
		}
		if j.ID == "" {
			j.ID = uuid.New().String()
		}
		if j.CreatedAt.IsZero() {
			j.CreatedAt = now
		}
		if j.MaxAttempts <= 0 {
			j.MaxAttempts = 3
		}
		rows = append(rows, []any{j.ID, j.RunID, j.ItemID, j.Kind, string(j.Status), j.Attempts, j.MaxAttempts, j.Error, j.CreatedAt})
	}

	_, err := db.CopyFrom(ctx, s.pool, "analysis_jobs",
		[]string{"id", "run_id", "item_id", "kind", "status", "attempts", "max_attempts", "error", "created_at"},
		rows,
	)
	return eris.Wrap(err, "postgres: create analysis jobs")
}

func (s *PostgresStore) ListAnalysisJobs(ctx context.Context, runID string, status model.JobStatus) ([]model.AnalysisJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, item_id, kind, status, attempts, max_attempts, error, started_at, completed_at, created_at
		 FROM analysis_jobs WHERE run_id = $1 AND ($2 = '' OR status = $2) ORDER BY created_at, id`,
		runID, string(status),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.AnalysisJob
	for rows.Next() {
		var j model.AnalysisJob
		if err := rows.Scan(&j.ID, &j.RunID, &j.ItemID, &j.Kind, &j.Status, &j.Attempts, &j.MaxAttempts,
			&j.Error, &j.StartedAt, &j.CompletedAt, &j.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) MarkJobRunning(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_jobs SET status = 'running', attempts = attempts + 1, started_at = $1 WHERE id = $2`,
		time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark job running %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) MarkJobComplete(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_jobs SET status = 'complete', error = '', completed_at = $1 WHERE id = $2`,
		time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark job complete %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) MarkJobFailed(ctx context.Context, jobID, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_jobs SET status = 'failed', error = $1, completed_at = $2 WHERE id = $3`,
		errMsg, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark job failed %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) CountJobsByStatus(ctx context.Context, runID string) (map[model.JobStatus]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM analysis_jobs WHERE run_id = $1 GROUP BY status`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count jobs")
	}
	defer rows.Close()

	counts := make(map[model.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job count")
		}
		counts[model.JobStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count jobs iterate")
}

func (s *PostgresStore) ListJobErrors(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT error FROM analysis_jobs WHERE run_id = $1 AND status = 'failed' AND error != '' ORDER BY created_at`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list job errors")
	}
	defer rows.Close()

	var errs []string
	for rows.Next() {
		var msg string
		if err := rows.Scan(&msg); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job error")
		}
		errs = append(errs, msg)
	}
	return errs, eris.Wrap(rows.Err(), "postgres: list job errors iterate")
}

// --- Staged analysis ---

func (s *PostgresStore) InsertStagedAnalysis(ctx context.Context, itemID, neutralSummary string, perspectives []model.StagedPerspective) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin insert analysis")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO staged_summaries (item_id, neutral_summary) VALUES ($1, $2)
		 ON CONFLICT (item_id) DO UPDATE SET neutral_summary = EXCLUDED.neutral_summary`,
		itemID, neutralSummary,
	); err != nil {
		return eris.Wrapf(err, "postgres: upsert summary for item %s", itemID)
	}

	now := time.Now().UTC()
	for i := range perspectives {
		p := &perspectives[i]
		if !p.Lean.Valid() {
			return eris.Errorf("postgres: invalid lean %q", p.Lean)
		}
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		evidenceJSON, err := json.Marshal(p.Evidence)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal evidence")
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO staged_perspectives (id, item_id, lean, summary, sentiment, fallback, evidence, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (item_id, lean) DO UPDATE SET
			   summary = EXCLUDED.summary, sentiment = EXCLUDED.sentiment,
			   fallback = EXCLUDED.fallback, evidence = EXCLUDED.evidence`,
			p.ID, itemID, string(p.Lean), p.Summary, p.Sentiment, p.Fallback, evidenceJSON, p.CreatedAt,
		); err != nil {
			return eris.Wrapf(err, "postgres: upsert perspective %s/%s", itemID, p.Lean)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit insert analysis")
}

func (s *PostgresStore) ListStagedPerspectives(ctx context.Context, itemID string) (string, []model.StagedPerspective, error) {
	var summary string
	row := s.pool.QueryRow(ctx, `SELECT neutral_summary FROM staged_summaries WHERE item_id = $1`, itemID)
	if err := row.Scan(&summary); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return "", nil, eris.Wrap(err, "postgres: get staged summary")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, item_id, lean, summary, sentiment, fallback, evidence, created_at
		 FROM staged_perspectives WHERE item_id = $1 ORDER BY lean`,
		itemID,
	)
	if err != nil {
		return "", nil, eris.Wrap(err, "postgres: list perspectives")
	}
	defer rows.Close()

	var out []model.StagedPerspective
	for rows.Next() {
		var p model.StagedPerspective
		var evidenceJSON []byte
		if err := rows.Scan(&p.ID, &p.ItemID, &p.Lean, &p.Summary, &p.Sentiment, &p.Fallback, &evidenceJSON, &p.CreatedAt); err != nil {
			return "", nil, eris.Wrap(err, "postgres: scan perspective")
		}
		if err := json.Unmarshal(evidenceJSON, &p.Evidence); err != nil {
			return "", nil, eris.Wrap(err, "postgres: unmarshal evidence")
		}
		out = append(out, p)
	}
	return summary, out, eris.Wrap(rows.Err(), "postgres: list perspectives iterate")
}

// --- Promotion ---

func (s *PostgresStore) PromoteItems(ctx context.Context, items []PromotionItem) (PromotionCounts, error) {
	var counts PromotionCounts
	if len(items) == 0 {
		return counts, eris.New("postgres: promote with no items")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return counts, eris.Wrap(err, "postgres: begin promotion")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()

	// Evidence rows are collected per transaction and written through one bulk
	// upsert at the end; items and perspectives go row by row because each
	// needs its generated id for the child rows.
	var evidenceRows [][]any

	for _, pi := range items {
		it := pi.Item
		var liveID string
		if err := tx.QueryRow(ctx,
			`INSERT INTO live_items (id, canonical_url, category, title, description, url, source, neutral_summary, published_at, version, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $10)
			 ON CONFLICT (canonical_url) DO UPDATE SET
			   category = EXCLUDED.category, title = EXCLUDED.title,
			   description = EXCLUDED.description, url = EXCLUDED.url,
			   source = EXCLUDED.source, neutral_summary = EXCLUDED.neutral_summary,
			   published_at = EXCLUDED.published_at,
			   version = live_items.version + 1, updated_at = EXCLUDED.updated_at
			 RETURNING id`,
			uuid.New().String(), it.CanonicalURL, it.Category, it.Title, it.Description, it.URL, it.Source,
			pi.NeutralSummary, it.PublishedAt.UTC(), now,
		).Scan(&liveID); err != nil {
			return counts, eris.Wrapf(err, "postgres: promote item %s", it.CanonicalURL)
		}
		counts.Items++

		for _, p := range pi.Perspectives {
			var perspID string
			if err := tx.QueryRow(ctx,
				`INSERT INTO live_perspectives (id, item_id, lean, summary, sentiment, updated_at)
				 VALUES ($1, $2, $3, $4, $5, $6)
				 ON CONFLICT (item_id, lean) DO UPDATE SET
				   summary = EXCLUDED.summary, sentiment = EXCLUDED.sentiment, updated_at = EXCLUDED.updated_at
				 RETURNING id`,
				uuid.New().String(), liveID, string(p.Lean), p.Summary, p.Sentiment, now,
			).Scan(&perspID); err != nil {
				return counts, eris.Wrapf(err, "postgres: promote perspective %s/%s", liveID, p.Lean)
			}
			counts.Perspectives++

			for _, ev := range p.Evidence {
				evidenceRows = append(evidenceRows, []any{
					uuid.New().String(), perspID, ev.Platform, ev.PlatformID, ev.Author, ev.Text, ev.URL,
					ev.Likes, ev.Reposts, ev.Verified, pgTime(ev.PostedAt),
				})
			}
		}
	}

	if len(evidenceRows) > 0 {
		n, err := db.BulkUpsertTx(ctx, tx, db.UpsertConfig{
			Table: "live_evidence",
			Columns: []string{"id", "perspective_id", "platform", "platform_id", "author", "text", "url",
				"likes", "reposts", "verified", "posted_at"},
			ConflictKeys: []string{"platform", "platform_id"},
			UpdateCols:   []string{"perspective_id", "author", "text", "url", "likes", "reposts", "verified"},
		}, evidenceRows)
		if err != nil {
			return counts, err
		}
		counts.Evidence = int(n)
	}

	if err := tx.Commit(ctx); err != nil {
		return counts, eris.Wrap(err, "postgres: commit promotion")
	}
	return counts, nil
}

func (s *PostgresStore) CountLiveByURLs(ctx context.Context, canonicalURLs []string) (int, error) {
	if len(canonicalURLs) == 0 {
		return 0, nil
	}
	var n int
	row := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM live_items WHERE canonical_url = ANY($1)`, canonicalURLs)
	if err := row.Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count live by urls")
	}
	return n, nil
}

func (s *PostgresStore) GetLiveItem(ctx context.Context, canonicalURL string) (*model.LiveItem, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, canonical_url, category, title, description, url, source, neutral_summary, published_at, version, created_at, updated_at
		 FROM live_items WHERE canonical_url = $1`,
		canonicalURL,
	)

	var li model.LiveItem
	err := row.Scan(&li.ID, &li.CanonicalURL, &li.Category, &li.Title, &li.Description, &li.URL, &li.Source,
		&li.NeutralSummary, &li.PublishedAt, &li.Version, &li.CreatedAt, &li.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get live item")
	}
	return &li, nil
}

func (s *PostgresStore) UpdateLiveAnalysis(ctx context.Context, canonicalURL string, expectedVersion int64, neutralSummary string, perspectives []model.StagedPerspective) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin live analysis update")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	var liveID string
	err = tx.QueryRow(ctx,
		`UPDATE live_items SET neutral_summary = $1, version = version + 1, updated_at = $2
		 WHERE canonical_url = $3 AND version = $4 RETURNING id`,
		neutralSummary, now, canonicalURL, expectedVersion,
	).Scan(&liveID)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM live_items WHERE canonical_url = $1)`, canonicalURL,
		).Scan(&exists); err != nil {
			return eris.Wrap(err, "postgres: check live item")
		}
		if exists {
			return ErrVersionConflict
		}
		return eris.Errorf("live item not found: %s", canonicalURL)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: update live item %s", canonicalURL)
	}

	for _, p := range perspectives {
		if _, err := tx.Exec(ctx,
			`INSERT INTO live_perspectives (id, item_id, lean, summary, sentiment, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (item_id, lean) DO UPDATE SET
			   summary = EXCLUDED.summary, sentiment = EXCLUDED.sentiment, updated_at = EXCLUDED.updated_at`,
			uuid.New().String(), liveID, string(p.Lean), p.Summary, p.Sentiment, now,
		); err != nil {
			return eris.Wrapf(err, "postgres: update live perspective %s/%s", liveID, p.Lean)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit live analysis update")
}

// --- helpers ---

func pgTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func scanRunPg(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var configJSON []byte
	var completed *time.Time

	err := row.Scan(&r.ID, &r.Kind, &r.Trigger, &configJSON, &r.Status, &r.Stage, &r.Error,
		&r.StartedAt, &completed, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}

	if err := json.Unmarshal(configJSON, &r.Config); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal run config")
	}
	r.CompletedAt = completed
	return &r, nil
}
