// Package store persists sync runs and enriched insights in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ppiankov/threadstat/internal/insight"
	"github.com/ppiankov/threadstat/internal/threads"
	_ "modernc.org/sqlite"
)

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

type Store struct {
	db *sql.DB
}

type Run struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Status     RunStatus `json:"status"`
	Since      string    `json:"since,omitempty"`
	Until      string    `json:"until,omitempty"`
	Posts      int       `json:"posts"`
	Enriched   int       `json:"enriched"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
}

// RunResult is what a finished run reports back.
type RunResult struct {
	Status     RunStatus
	Posts      int
	Enriched   int
	Failed     int
	Err        error
	FinishedAt time.Time
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps PRAGMA settings and serializes writers.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// StartRun records a new run in the running state.
func (s *Store) StartRun(ctx context.Context, startedAt time.Time, since, until string) (Run, error) {
	if s == nil || s.db == nil {
		return Run{}, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if startedAt.IsZero() {
		return Run{}, errors.New("started_at is required")
	}

	run := Run{
		ID:        uuid.NewString(),
		StartedAt: startedAt.UTC(),
		Status:    RunRunning,
		Since:     since,
		Until:     until,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, status, since, until)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, formatTime(run.StartedAt), string(run.Status), nullString(since), nullString(until))
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// FinishRun closes a run with its outcome.
func (s *Store) FinishRun(ctx context.Context, id string, res RunResult) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if res.Status == "" || res.Status == RunRunning {
		return fmt.Errorf("invalid final status %q", res.Status)
	}
	finishedAt := res.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = time.Now()
	}

	var errText sql.NullString
	if res.Err != nil {
		errText = sql.NullString{String: res.Err.Error(), Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET finished_at = ?, status = ?, posts = ?, enriched = ?, failed = ?, error = ?
		WHERE id = ?
	`, formatTime(finishedAt), string(res.Status), res.Posts, res.Enriched, res.Failed, errText, id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run: run %s not found", id)
	}
	return nil
}

// LastRunTime returns the start time of the most recent successful run.
func (s *Store) LastRunTime(ctx context.Context) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var startedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT started_at FROM runs
		WHERE status = ?
		ORDER BY started_at DESC
		LIMIT 1
	`, string(RunSucceeded)).Scan(&startedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query last run: %w", err)
	}

	t, err := parseTime(startedAt)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse started_at: %w", err)
	}
	return t, true, nil
}

// RecentRuns lists runs newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, status, since, until, posts, enriched, failed, error
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// SaveInsights upserts records in one transaction. runID may be empty.
func (s *Store) SaveInsights(ctx context.Context, runID string, records []insight.Record) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO insights (post_id, permalink, text, posted_at, stats, run_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(post_id) DO UPDATE SET
			permalink = excluded.permalink,
			text = excluded.text,
			posted_at = excluded.posted_at,
			stats = COALESCE(excluded.stats, insights.stats),
			run_id = excluded.run_id,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare insight upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := formatTime(time.Now())
	for _, rec := range records {
		if strings.TrimSpace(rec.ID) == "" {
			return errors.New("post id is required")
		}

		var statsVal sql.NullString
		if rec.Stats != nil {
			data, err := json.Marshal(rec.Stats)
			if err != nil {
				return fmt.Errorf("encode stats for %s: %w", rec.ID, err)
			}
			statsVal = sql.NullString{String: string(data), Valid: true}
		}

		var postedAt sql.NullString
		if !rec.PostedAt.IsZero() {
			postedAt = sql.NullString{String: formatTime(rec.PostedAt), Valid: true}
		}

		if _, err := stmt.ExecContext(ctx, rec.ID, rec.Permalink, rec.Text, postedAt, statsVal, nullString(runID), now); err != nil {
			return fmt.Errorf("upsert insight %s: %w", rec.ID, err)
		}
	}

	return tx.Commit()
}

// TopInsights returns stored records ordered by metric, highest first. An
// empty metric orders by post time, newest first.
func (s *Store) TopInsights(ctx context.Context, metric string, limit int) ([]insight.Record, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 10
	}

	order := "posted_at DESC"
	if metric != "" {
		if !knownMetric(metric) {
			return nil, fmt.Errorf("unknown metric %q", metric)
		}
		// metric is one of a fixed set, safe to splice.
		order = fmt.Sprintf("COALESCE(json_extract(stats, '$.%s'), 0) DESC, posted_at DESC", metric)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT post_id, permalink, text, posted_at, stats
		FROM insights
		ORDER BY `+order+`
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query insights: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []insight.Record
	for rows.Next() {
		rec, err := scanInsight(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate insights: %w", err)
	}
	return out, nil
}

// CountInsights returns the number of stored posts.
func (s *Store) CountInsights(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM insights").Scan(&n); err != nil {
		return 0, fmt.Errorf("count insights: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(scanner rowScanner) (Run, error) {
	var (
		run                     Run
		startedAt, status       string
		finishedAt, since       sql.NullString
		until, errText          sql.NullString
		posts, enriched, failed int
	)
	if err := scanner.Scan(&run.ID, &startedAt, &finishedAt, &status, &since, &until, &posts, &enriched, &failed, &errText); err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	var err error
	run.StartedAt, err = parseTime(startedAt)
	if err != nil {
		return Run{}, fmt.Errorf("parse started_at: %w", err)
	}
	if finishedAt.Valid {
		run.FinishedAt, err = parseTime(finishedAt.String)
		if err != nil {
			return Run{}, fmt.Errorf("parse finished_at: %w", err)
		}
	}
	run.Status = RunStatus(status)
	run.Since = since.String
	run.Until = until.String
	run.Posts, run.Enriched, run.Failed = posts, enriched, failed
	run.Error = errText.String
	return run, nil
}

func scanInsight(scanner rowScanner) (insight.Record, error) {
	var (
		rec               insight.Record
		postedAt, statsJS sql.NullString
	)
	if err := scanner.Scan(&rec.ID, &rec.Permalink, &rec.Text, &postedAt, &statsJS); err != nil {
		return insight.Record{}, fmt.Errorf("scan insight: %w", err)
	}
	if postedAt.Valid {
		t, err := parseTime(postedAt.String)
		if err != nil {
			return insight.Record{}, fmt.Errorf("parse posted_at: %w", err)
		}
		rec.PostedAt = t
	}
	if statsJS.Valid {
		var stats threads.Stats
		if err := json.Unmarshal([]byte(statsJS.String), &stats); err != nil {
			return insight.Record{}, fmt.Errorf("decode stats: %w", err)
		}
		rec.Stats = stats
	}
	return rec, nil
}

func knownMetric(name string) bool {
	for _, m := range threads.Metrics {
		if m == name {
			return true
		}
	}
	return false
}

func nullString(v string) sql.NullString {
	if strings.TrimSpace(v) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, value)
}
