package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/omnidoxa/newsdesk/internal/model"
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
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	trigger_src  TEXT NOT NULL,
	config       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	stage        TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	started_at   DATETIME NOT NULL,
	completed_at DATETIME,
	updated_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS pipeline_lock (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	run_id      TEXT NOT NULL,
	acquired_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS category_progress (
	run_id        TEXT NOT NULL REFERENCES runs(id),
	category      TEXT NOT NULL,
	target_count  INTEGER NOT NULL,
	current_count INTEGER NOT NULL DEFAULT 0,
	pull_attempts INTEGER NOT NULL DEFAULT 0,
	stage         TEXT NOT NULL DEFAULT 'pending',
	updated_at    DATETIME NOT NULL,
	PRIMARY KEY (run_id, category)
);

CREATE TABLE IF NOT EXISTS staged_items (
	id               TEXT PRIMARY KEY,
	run_id           TEXT NOT NULL REFERENCES runs(id),
	category         TEXT NOT NULL,
	title            TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	url              TEXT NOT NULL,
	source           TEXT NOT NULL DEFAULT '',
	normalized_title TEXT NOT NULL,
	canonical_url    TEXT NOT NULL,
	fingerprint      TEXT NOT NULL,
	published_at     DATETIME NOT NULL,
	status           TEXT NOT NULL DEFAULT 'staged',
	rejection_reason TEXT NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS analysis_jobs (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL REFERENCES runs(id),
	item_id      TEXT NOT NULL REFERENCES staged_items(id),
	kind         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	attempts     INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 3,
	error        TEXT NOT NULL DEFAULT '',
	started_at   DATETIME,
	completed_at DATETIME,
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS staged_perspectives (
	id         TEXT PRIMARY KEY,
	item_id    TEXT NOT NULL REFERENCES staged_items(id),
	lean       TEXT NOT NULL,
	summary    TEXT NOT NULL DEFAULT '',
	sentiment  REAL NOT NULL DEFAULT 0,
	fallback   INTEGER NOT NULL DEFAULT 0,
	evidence   TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL,
	UNIQUE (item_id, lean)
);

CREATE TABLE IF NOT EXISTS staged_summaries (
	item_id         TEXT PRIMARY KEY REFERENCES staged_items(id),
	neutral_summary TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS live_items (
	id              TEXT PRIMARY KEY,
	canonical_url   TEXT NOT NULL UNIQUE,
	category        TEXT NOT NULL,
	title           TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	url             TEXT NOT NULL,
	source          TEXT NOT NULL DEFAULT '',
	neutral_summary TEXT NOT NULL DEFAULT '',
	published_at    DATETIME NOT NULL,
	version         INTEGER NOT NULL DEFAULT 1,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS live_perspectives (
	id         TEXT PRIMARY KEY,
	item_id    TEXT NOT NULL REFERENCES live_items(id),
	lean       TEXT NOT NULL,
	summary    TEXT NOT NULL DEFAULT '',
	sentiment  REAL NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL,
	UNIQUE (item_id, lean)
);

CREATE TABLE IF NOT EXISTS live_evidence (
	id             TEXT PRIMARY KEY,
	perspective_id TEXT NOT NULL REFERENCES live_perspectives(id),
	platform       TEXT NOT NULL,
	platform_id    TEXT NOT NULL,
	author         TEXT NOT NULL DEFAULT '',
	text           TEXT NOT NULL DEFAULT '',
	url            TEXT NOT NULL DEFAULT '',
	likes          INTEGER NOT NULL DEFAULT 0,
	reposts        INTEGER NOT NULL DEFAULT 0,
	verified       INTEGER NOT NULL DEFAULT 0,
	posted_at      DATETIME,
	UNIQUE (platform, platform_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_staged_items_run ON staged_items(run_id, status);
CREATE INDEX IF NOT EXISTS idx_staged_items_category ON staged_items(run_id, category);
CREATE INDEX IF NOT EXISTS idx_analysis_jobs_run ON analysis_jobs(run_id, status);
CREATE INDEX IF NOT EXISTS idx_live_items_category ON live_items(category);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	if !run.Kind.Valid() {
		return eris.Errorf("sqlite: invalid run kind %q", run.Kind)
	}
	if !run.Status.Valid() {
		return eris.Errorf("sqlite: invalid run status %q", run.Status)
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
		return eris.Wrap(err, "sqlite: marshal run config")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, kind, trigger_src, config, status, stage, error, started_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Kind), run.Trigger, string(configJSON),
		string(run.Status), run.Stage, run.Error, run.StartedAt, run.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert run")
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, trigger_src, config, status, stage, error, started_at, completed_at, updated_at
		 FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, kind, trigger_src, config, status, stage, error, started_at, completed_at, updated_at
	          FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) UpdateRunStage(ctx context.Context, runID string, status model.RunStatus, stage string) error {
	if !status.Valid() {
		return eris.Errorf("sqlite: invalid run status %q", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, stage = ?, updated_at = ? WHERE id = ?`,
		string(status), stage, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run stage %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, errMsg string) error {
	if !status.Terminal() {
		return eris.Errorf("sqlite: finish run with non-terminal status %q", status)
	}

	var current model.RunStatus
	err := s.db.QueryRowContext(ctx, `SELECT status FROM runs WHERE id = ?`, runID).Scan(&current)
	if err == sql.ErrNoRows {
		return eris.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	if !current.CanTransition(status) {
		return eris.Errorf("sqlite: run %s is already terminal (%s)", runID, current)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, completed_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(status), errMsg, now, now, runID, string(current),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

// --- Lock ---

func (s *SQLiteStore) TryAcquireLock(ctx context.Context, runID string) (bool, error) {
	// INSERT OR IGNORE keeps contention a non-error outcome: zero rows
	// affected means some other run holds the singleton row.
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO pipeline_lock (id, run_id, acquired_at) VALUES (1, ?, ?)`,
		runID, time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: acquire lock")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: acquire lock rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) GetLock(ctx context.Context) (*model.PipelineLock, error) {
	row := s.db.QueryRowContext(ctx, `SELECT run_id, acquired_at FROM pipeline_lock WHERE id = 1`)

	var l model.PipelineLock
	err := row.Scan(&l.RunID, &l.AcquiredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get lock")
	}
	return &l, nil
}

func (s *SQLiteStore) ReleaseLock(ctx context.Context, runID string) error {
	// Owner-scoped: releasing someone else's lock is a no-op, so terminal
	// transitions can release unconditionally.
	_, err := s.db.ExecContext(ctx, `DELETE FROM pipeline_lock WHERE id = 1 AND run_id = ?`, runID)
	return eris.Wrap(err, "sqlite: release lock")
}

func (s *SQLiteStore) ForceReleaseLock(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pipeline_lock WHERE id = 1`)
	return eris.Wrap(err, "sqlite: force release lock")
}

// --- Category progress ---

func (s *SQLiteStore) InitCategoryProgress(ctx context.Context, runID string, targets map[string]int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin init progress")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for category, target := range targets {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO category_progress (run_id, category, target_count, current_count, pull_attempts, stage, updated_at)
			 VALUES (?, ?, ?, 0, 0, ?, ?)`,
			runID, category, target, string(model.CategoryStagePending), now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: init progress %s/%s", runID, category)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit init progress")
}

func (s *SQLiteStore) ListCategoryProgress(ctx context.Context, runID string) ([]model.CategoryProgress, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, category, target_count, current_count, pull_attempts, stage, updated_at
		 FROM category_progress WHERE run_id = ? ORDER BY category`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list category progress")
	}
	defer rows.Close()

	var out []model.CategoryProgress
	for rows.Next() {
		var p model.CategoryProgress
		if err := rows.Scan(&p.RunID, &p.Category, &p.TargetCount, &p.CurrentCount, &p.PullAttempts, &p.Stage, &p.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan category progress")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list category progress iterate")
}

func (s *SQLiteStore) UpdateCategoryProgress(ctx context.Context, runID, category string, currentCount int, stage model.CategoryStage) error {
	if !stage.Valid() {
		return eris.Errorf("sqlite: invalid category stage %q", stage)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE category_progress SET current_count = ?, stage = ?, updated_at = ? WHERE run_id = ? AND category = ?`,
		currentCount, string(stage), time.Now().UTC(), runID, category,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update progress %s/%s", runID, category)
	}
	return checkRowsAffected(res, "category progress", runID+"/"+category)
}

func (s *SQLiteStore) IncrementPullAttempts(ctx context.Context, runID, category string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE category_progress SET pull_attempts = pull_attempts + 1, updated_at = ? WHERE run_id = ? AND category = ?`,
		time.Now().UTC(), runID, category,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: increment pull attempts %s/%s", runID, category)
	}
	if err := checkRowsAffected(res, "category progress", runID+"/"+category); err != nil {
		return 0, err
	}

	var attempts int
	row := s.db.QueryRowContext(ctx,
		`SELECT pull_attempts FROM category_progress WHERE run_id = ? AND category = ?`,
		runID, category,
	)
	if err := row.Scan(&attempts); err != nil {
		return 0, eris.Wrap(err, "sqlite: read pull attempts")
	}
	return attempts, nil
}

// --- Staged items ---

func (s *SQLiteStore) InsertStagedItems(ctx context.Context, items []model.StagedItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert items")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	inserted := 0
	for i := range items {
		it := &items[i]
		if !it.Status.Valid() {
			return 0, eris.Errorf("sqlite: invalid item status %q", it.Status)
		}
		if it.ID == "" {
			it.ID = uuid.New().String()
		}
		if it.CreatedAt.IsZero() {
			it.CreatedAt = now
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO staged_items
			 (id, run_id, category, title, description, url, source, normalized_title, canonical_url, fingerprint, published_at, status, rejection_reason, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			it.ID, it.RunID, it.Category, it.Title, it.Description, it.URL, it.Source,
			it.NormalizedTitle, it.CanonicalURL, it.Fingerprint, it.PublishedAt.UTC(),
			string(it.Status), it.RejectionReason, it.CreatedAt,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert staged item %s", it.URL)
		}
		inserted++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit insert items")
	}
	return inserted, nil
}

func (s *SQLiteStore) ListStagedItems(ctx context.Context, runID string, filter ItemFilter) ([]model.StagedItem, error) {
	query := `SELECT id, run_id, category, title, description, url, source, normalized_title, canonical_url, fingerprint, published_at, status, rejection_reason, created_at
	          FROM staged_items WHERE run_id = ?`
	args := []any{runID}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Category != "" {
		query += ` AND category = ?`
		args = append(args, filter.Category)
	}
	query += ` ORDER BY published_at DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list staged items")
	}
	defer rows.Close()

	var items []model.StagedItem
	for rows.Next() {
		var it model.StagedItem
		if err := rows.Scan(&it.ID, &it.RunID, &it.Category, &it.Title, &it.Description, &it.URL, &it.Source,
			&it.NormalizedTitle, &it.CanonicalURL, &it.Fingerprint, &it.PublishedAt, &it.Status,
			&it.RejectionReason, &it.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan staged item")
		}
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list staged items iterate")
}

func (s *SQLiteStore) UpdateItemStatus(ctx context.Context, itemIDs []string, status model.ItemStatus, reason string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	if !status.Valid() {
		return eris.Errorf("sqlite: invalid item status %q", status)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(itemIDs)), ",")
	args := []any{string(status), reason}
	for _, id := range itemIDs {
		args = append(args, id)
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE staged_items SET status = ?, rejection_reason = ? WHERE id IN (`+placeholders+`)`,
		args...,
	)
	return eris.Wrap(err, "sqlite: update item status")
}

func (s *SQLiteStore) CountItemsByStatus(ctx context.Context, runID string) (map[model.ItemStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM staged_items WHERE run_id = ? GROUP BY status`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count items")
	}
	defer rows.Close()

	counts := make(map[model.ItemStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan item count")
		}
		counts[model.ItemStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count items iterate")
}

// --- Analysis jobs ---

func (s *SQLiteStore) CreateAnalysisJobs(ctx context.Context, jobs []model.AnalysisJob) error {
	if len(jobs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin create jobs")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for i := range jobs {
		j := &jobs[i]
		if !j.Status.Valid() {
			return eris.Errorf("sqlite: invalid job status %q", j.Status)
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
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO analysis_jobs (id, run_id, item_id, kind, status, attempts, max_attempts, error, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			j.ID, j.RunID, j.ItemID, j.Kind, string(j.Status), j.Attempts, j.MaxAttempts, j.Error, j.CreatedAt,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert job for item %s", j.ItemID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit create jobs")
}

func (s *SQLiteStore) ListAnalysisJobs(ctx context.Context, runID string, status model.JobStatus) ([]model.AnalysisJob, error) {
	query := `SELECT id, run_id, item_id, kind, status, attempts, max_attempts, error, started_at, completed_at, created_at
	          FROM analysis_jobs WHERE run_id = ?`
	args := []any{runID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.AnalysisJob
	for rows.Next() {
		var j model.AnalysisJob
		var started, completed sql.NullTime
		if err := rows.Scan(&j.ID, &j.RunID, &j.ItemID, &j.Kind, &j.Status, &j.Attempts, &j.MaxAttempts,
			&j.Error, &started, &completed, &j.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		if started.Valid {
			j.StartedAt = &started.Time
		}
		if completed.Valid {
			j.CompletedAt = &completed.Time
		}
		jobs = append(jobs, j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) MarkJobRunning(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE analysis_jobs SET status = ?, attempts = attempts + 1, started_at = ? WHERE id = ?`,
		string(model.JobStatusRunning), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark job running %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) MarkJobComplete(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE analysis_jobs SET status = ?, error = '', completed_at = ? WHERE id = ?`,
		string(model.JobStatusComplete), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark job complete %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) MarkJobFailed(ctx context.Context, jobID, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE analysis_jobs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(model.JobStatusFailed), errMsg, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark job failed %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) CountJobsByStatus(ctx context.Context, runID string) (map[model.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM analysis_jobs WHERE run_id = ? GROUP BY status`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count jobs")
	}
	defer rows.Close()

	counts := make(map[model.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job count")
		}
		counts[model.JobStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count jobs iterate")
}

func (s *SQLiteStore) ListJobErrors(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT error FROM analysis_jobs WHERE run_id = ? AND status = ? AND error != '' ORDER BY created_at`,
		runID, string(model.JobStatusFailed),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list job errors")
	}
	defer rows.Close()

	var errs []string
	for rows.Next() {
		var msg string
		if err := rows.Scan(&msg); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job error")
		}
		errs = append(errs, msg)
	}
	return errs, eris.Wrap(rows.Err(), "sqlite: list job errors iterate")
}

// --- Staged analysis ---

func (s *SQLiteStore) InsertStagedAnalysis(ctx context.Context, itemID, neutralSummary string, perspectives []model.StagedPerspective) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert analysis")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO staged_summaries (item_id, neutral_summary) VALUES (?, ?)
		 ON CONFLICT(item_id) DO UPDATE SET neutral_summary = excluded.neutral_summary`,
		itemID, neutralSummary,
	); err != nil {
		return eris.Wrapf(err, "sqlite: upsert summary for item %s", itemID)
	}

	now := time.Now().UTC()
	for i := range perspectives {
		p := &perspectives[i]
		if !p.Lean.Valid() {
			return eris.Errorf("sqlite: invalid lean %q", p.Lean)
		}
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		evidenceJSON, err := json.Marshal(p.Evidence)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal evidence")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO staged_perspectives (id, item_id, lean, summary, sentiment, fallback, evidence, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(item_id, lean) DO UPDATE SET
			   summary = excluded.summary, sentiment = excluded.sentiment,
			   fallback = excluded.fallback, evidence = excluded.evidence`,
			p.ID, itemID, string(p.Lean), p.Summary, p.Sentiment, boolToInt(p.Fallback), string(evidenceJSON), p.CreatedAt,
		); err != nil {
			return eris.Wrapf(err, "sqlite: upsert perspective %s/%s", itemID, p.Lean)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit insert analysis")
}

func (s *SQLiteStore) ListStagedPerspectives(ctx context.Context, itemID string) (string, []model.StagedPerspective, error) {
	var summary string
	row := s.db.QueryRowContext(ctx, `SELECT neutral_summary FROM staged_summaries WHERE item_id = ?`, itemID)
	if err := row.Scan(&summary); err != nil && err != sql.ErrNoRows {
		return "", nil, eris.Wrap(err, "sqlite: get staged summary")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, item_id, lean, summary, sentiment, fallback, evidence, created_at
		 FROM staged_perspectives WHERE item_id = ? ORDER BY lean`,
		itemID,
	)
	if err != nil {
		return "", nil, eris.Wrap(err, "sqlite: list perspectives")
	}
	defer rows.Close()

	var out []model.StagedPerspective
	for rows.Next() {
		var p model.StagedPerspective
		var fallback int
		var evidenceJSON string
		if err := rows.Scan(&p.ID, &p.ItemID, &p.Lean, &p.Summary, &p.Sentiment, &fallback, &evidenceJSON, &p.CreatedAt); err != nil {
			return "", nil, eris.Wrap(err, "sqlite: scan perspective")
		}
		p.Fallback = fallback != 0
		if err := json.Unmarshal([]byte(evidenceJSON), &p.Evidence); err != nil {
			return "", nil, eris.Wrap(err, "sqlite: unmarshal evidence")
		}
		out = append(out, p)
	}
	return summary, out, eris.Wrap(rows.Err(), "sqlite: list perspectives iterate")
}

// --- Promotion ---

func (s *SQLiteStore) PromoteItems(ctx context.Context, items []PromotionItem) (PromotionCounts, error) {
	var counts PromotionCounts
	if len(items) == 0 {
		return counts, eris.New("sqlite: promote with no items")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return counts, eris.Wrap(err, "sqlite: begin promotion")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, pi := range items {
		it := pi.Item
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO live_items (id, canonical_url, category, title, description, url, source, neutral_summary, published_at, version, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
			 ON CONFLICT(canonical_url) DO UPDATE SET
			   category = excluded.category, title = excluded.title,
			   description = excluded.description, url = excluded.url,
			   source = excluded.source, neutral_summary = excluded.neutral_summary,
			   published_at = excluded.published_at,
			   version = live_items.version + 1, updated_at = excluded.updated_at`,
			uuid.New().String(), it.CanonicalURL, it.Category, it.Title, it.Description, it.URL, it.Source,
			pi.NeutralSummary, it.PublishedAt.UTC(), now, now,
		); err != nil {
			return counts, eris.Wrapf(err, "sqlite: promote item %s", it.CanonicalURL)
		}

		var liveID string
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM live_items WHERE canonical_url = ?`, it.CanonicalURL,
		).Scan(&liveID); err != nil {
			return counts, eris.Wrapf(err, "sqlite: read live item %s", it.CanonicalURL)
		}
		counts.Items++

		np, ne, err := upsertLivePerspectivesTx(ctx, tx, liveID, pi.Perspectives, now)
		if err != nil {
			return counts, err
		}
		counts.Perspectives += np
		counts.Evidence += ne
	}

	if err := tx.Commit(); err != nil {
		return counts, eris.Wrap(err, "sqlite: commit promotion")
	}
	return counts, nil
}

// upsertLivePerspectivesTx writes perspectives and their evidence for one live
// item inside an open transaction.
func upsertLivePerspectivesTx(ctx context.Context, tx *sql.Tx, liveID string, perspectives []model.StagedPerspective, now time.Time) (int, int, error) {
	nPersp, nEvid := 0, 0
	for _, p := range perspectives {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO live_perspectives (id, item_id, lean, summary, sentiment, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(item_id, lean) DO UPDATE SET
			   summary = excluded.summary, sentiment = excluded.sentiment, updated_at = excluded.updated_at`,
			uuid.New().String(), liveID, string(p.Lean), p.Summary, p.Sentiment, now,
		); err != nil {
			return nPersp, nEvid, eris.Wrapf(err, "sqlite: promote perspective %s/%s", liveID, p.Lean)
		}

		var perspID string
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM live_perspectives WHERE item_id = ? AND lean = ?`, liveID, string(p.Lean),
		).Scan(&perspID); err != nil {
			return nPersp, nEvid, eris.Wrapf(err, "sqlite: read live perspective %s/%s", liveID, p.Lean)
		}
		nPersp++

		for _, ev := range p.Evidence {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO live_evidence (id, perspective_id, platform, platform_id, author, text, url, likes, reposts, verified, posted_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT(platform, platform_id) DO UPDATE SET
				   perspective_id = excluded.perspective_id, author = excluded.author,
				   text = excluded.text, url = excluded.url, likes = excluded.likes,
				   reposts = excluded.reposts, verified = excluded.verified`,
				uuid.New().String(), perspID, ev.Platform, ev.PlatformID, ev.Author, ev.Text, ev.URL,
				ev.Likes, ev.Reposts, boolToInt(ev.Verified), nullableTime(ev.PostedAt),
			); err != nil {
				return nPersp, nEvid, eris.Wrapf(err, "sqlite: promote evidence %s/%s", ev.Platform, ev.PlatformID)
			}
			nEvid++
		}
	}
	return nPersp, nEvid, nil
}

func (s *SQLiteStore) CountLiveByURLs(ctx context.Context, canonicalURLs []string) (int, error) {
	if len(canonicalURLs) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(canonicalURLs)), ",")
	args := make([]any, len(canonicalURLs))
	for i, u := range canonicalURLs {
		args[i] = u
	}

	var n int
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM live_items WHERE canonical_url IN (`+placeholders+`)`,
		args...,
	)
	if err := row.Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count live by urls")
	}
	return n, nil
}

func (s *SQLiteStore) GetLiveItem(ctx context.Context, canonicalURL string) (*model.LiveItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, canonical_url, category, title, description, url, source, neutral_summary, published_at, version, created_at, updated_at
		 FROM live_items WHERE canonical_url = ?`,
		canonicalURL,
	)

	var li model.LiveItem
	err := row.Scan(&li.ID, &li.CanonicalURL, &li.Category, &li.Title, &li.Description, &li.URL, &li.Source,
		&li.NeutralSummary, &li.PublishedAt, &li.Version, &li.CreatedAt, &li.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get live item")
	}
	return &li, nil
}

func (s *SQLiteStore) UpdateLiveAnalysis(ctx context.Context, canonicalURL string, expectedVersion int64, neutralSummary string, perspectives []model.StagedPerspective) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin live analysis update")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE live_items SET neutral_summary = ?, version = version + 1, updated_at = ?
		 WHERE canonical_url = ? AND version = ?`,
		neutralSummary, now, canonicalURL, expectedVersion,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update live item %s", canonicalURL)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		// Distinguish a missing row from a concurrent writer.
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM live_items WHERE canonical_url = ?`, canonicalURL,
		).Scan(&exists); err != nil {
			return eris.Wrap(err, "sqlite: check live item")
		}
		if exists > 0 {
			return ErrVersionConflict
		}
		return eris.Errorf("live item not found: %s", canonicalURL)
	}

	var liveID string
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM live_items WHERE canonical_url = ?`, canonicalURL,
	).Scan(&liveID); err != nil {
		return eris.Wrapf(err, "sqlite: read live item %s", canonicalURL)
	}

	if _, _, err := upsertLivePerspectivesTx(ctx, tx, liveID, perspectives, now); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit live analysis update")
}

// --- helpers ---

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var configJSON string
	var completed sql.NullTime

	err := row.Scan(&r.ID, &r.Kind, &r.Trigger, &configJSON, &r.Status, &r.Stage, &r.Error,
		&r.StartedAt, &completed, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if err := json.Unmarshal([]byte(configJSON), &r.Config); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal run config")
	}
	if completed.Valid {
		r.CompletedAt = &completed.Time
	}
	return &r, nil
}
