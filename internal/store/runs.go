package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/epiboard/internal/epi"
)

// RunStatus is the lifecycle state of an ingestion run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run is one row of ingest_runs.
type Run struct {
	ID         string    `json:"id"`
	StartedAt  string    `json:"started_at"`
	FinishedAt string    `json:"finished_at,omitempty"`
	Status     RunStatus `json:"status"`
	Mode       string    `json:"mode"`
	Appended   int       `json:"appended"`
	Watermark  epi.Date  `json:"watermark"`
	Detail     string    `json:"detail,omitempty"`
}

// StartRun records a new running ingestion and returns it.
func (s *Store) StartRun(ctx context.Context, mode string) (Run, error) {
	run := Run{
		ID:        s.newID(),
		StartedAt: s.timestamp(),
		Status:    RunRunning,
		Mode:      mode,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_runs (id, started_at, status, mode)
		VALUES (?, ?, ?, ?)
	`, run.ID, run.StartedAt, string(run.Status), run.Mode)
	if err != nil {
		return Run{}, fmt.Errorf("start run: %w", err)
	}
	return run, nil
}

// FinishRun records the outcome of run id.
func (s *Store) FinishRun(ctx context.Context, id string, status RunStatus, appended int, watermark epi.Date, detail string) error {
	var wm sql.NullString
	if !watermark.IsZero() {
		wm = sql.NullString{String: watermark.String(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE ingest_runs
		SET finished_at = ?, status = ?, appended = ?, watermark = ?, detail = ?
		WHERE id = ?
	`, s.timestamp(), string(status), appended, wm, detail, id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run: unknown run %q", id)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, status, mode, appended, watermark, detail
		FROM ingest_runs
		ORDER BY started_at DESC, id COLLATE BINARY ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		var finished, wm sql.NullString
		var status string
		if err := rows.Scan(&r.ID, &r.StartedAt, &finished, &status, &r.Mode, &r.Appended, &wm, &r.Detail); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Status = RunStatus(status)
		r.FinishedAt = finished.String
		if wm.Valid {
			if r.Watermark, err = epi.ParseDate(wm.String); err != nil {
				return nil, fmt.Errorf("scan run: %w", err)
			}
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Stats summarizes persisted state.
type Stats struct {
	Facts      int      `json:"facts"`
	Countries  int      `json:"countries"`
	FirstDate  epi.Date `json:"first_date"`
	Watermark  epi.Date `json:"watermark"`
	References int      `json:"references"`
	Locations  int      `json:"locations"`
	DailyStats int      `json:"daily_stats"`
	LastRun    *Run     `json:"last_run,omitempty"`
}

// Stats returns row counts, the date span and the most recent run.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var first, last sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT country), MIN(date), MAX(date) FROM facts
	`).Scan(&st.Facts, &st.Countries, &first, &last)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	if first.Valid {
		if st.FirstDate, err = epi.ParseDate(first.String); err != nil {
			return Stats{}, fmt.Errorf("stats: %w", err)
		}
		if st.Watermark, err = epi.ParseDate(last.String); err != nil {
			return Stats{}, fmt.Errorf("stats: %w", err)
		}
	}

	if st.References, err = s.CountReference(ctx); err != nil {
		return Stats{}, err
	}
	if st.Locations, err = s.CountLocations(ctx); err != nil {
		return Stats{}, err
	}
	if st.DailyStats, err = s.CountDailyStats(ctx); err != nil {
		return Stats{}, err
	}

	runs, err := s.RecentRuns(ctx, 1)
	if err != nil {
		return Stats{}, err
	}
	if len(runs) > 0 {
		st.LastRun = &runs[0]
	}
	return st, nil
}
