package reports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stadtnetz/lorabulk/internal/bulk"
)

var ErrRunNotFound = errors.New("run not found")

// Service persists run history. The pool may be nil when the server runs
// without a database, in which case every method returns ErrNoDatabase.
type Service struct {
	pool *pgxpool.Pool
}

var ErrNoDatabase = errors.New("no database configured")

func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

func (s *Service) Enabled() bool {
	return s != nil && s.pool != nil
}

func (s *Service) CreateRun(ctx context.Context, run Run) error {
	if !s.Enabled() {
		return ErrNoDatabase
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO registration_runs
			(id, source_file, mac_version, duplicate_policy, concurrency, total, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.SourceFile, run.MACVersion, run.DuplicatePolicy,
		run.Concurrency, run.Total, run.StartedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun records the final tallies and the per-device outcome table.
func (s *Service) FinishRun(ctx context.Context, runID string, report bulk.Report) error {
	if !s.Enabled() {
		return ErrNoDatabase
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE registration_runs
		SET succeeded = $2, skipped = $3, failed = $4, finished_at = now()
		WHERE id = $1`,
		runID, report.Final.Succeeded, report.Final.Skipped, report.Final.Failed)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}

	rows := make([][]any, 0, len(report.Results))
	for _, oc := range report.Results {
		rows = append(rows, []any{
			runID, oc.Position, oc.DevEUI, oc.Name, string(oc.Status),
			string(oc.Kind), oc.Detail, oc.RollbackFailed, oc.Elapsed.Milliseconds(),
		})
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"registration_outcomes"},
		[]string{"run_id", "position", "dev_eui", "device_name", "status",
			"error_kind", "detail", "rollback_failed", "elapsed_ms"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy outcomes: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Service) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if !s.Enabled() {
		return nil, ErrNoDatabase
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, source_file, mac_version, duplicate_policy, concurrency,
			total, succeeded, skipped, failed, started_at, finished_at
		FROM registration_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.SourceFile, &r.MACVersion, &r.DuplicatePolicy,
			&r.Concurrency, &r.Total, &r.Succeeded, &r.Skipped, &r.Failed,
			&r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *Service) GetRun(ctx context.Context, runID string) (RunDetail, error) {
	if !s.Enabled() {
		return RunDetail{}, ErrNoDatabase
	}

	var d RunDetail
	err := s.pool.QueryRow(ctx, `
		SELECT id, source_file, mac_version, duplicate_policy, concurrency,
			total, succeeded, skipped, failed, started_at, finished_at
		FROM registration_runs WHERE id = $1`, runID).
		Scan(&d.Run.ID, &d.Run.SourceFile, &d.Run.MACVersion, &d.Run.DuplicatePolicy,
			&d.Run.Concurrency, &d.Run.Total, &d.Run.Succeeded, &d.Run.Skipped,
			&d.Run.Failed, &d.Run.StartedAt, &d.Run.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RunDetail{}, ErrRunNotFound
		}
		return RunDetail{}, fmt.Errorf("query run: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT position, dev_eui, device_name, status, error_kind, detail,
			rollback_failed, elapsed_ms
		FROM registration_outcomes WHERE run_id = $1
		ORDER BY position`, runID)
	if err != nil {
		return RunDetail{}, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var oc bulk.Outcome
		var status, kind string
		var elapsedMS int64
		if err := rows.Scan(&oc.Position, &oc.DevEUI, &oc.Name, &status, &kind,
			&oc.Detail, &oc.RollbackFailed, &elapsedMS); err != nil {
			return RunDetail{}, fmt.Errorf("scan outcome: %w", err)
		}
		oc.Status = bulk.Status(status)
		oc.Kind = bulk.ErrorKind(kind)
		oc.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		d.Outcomes = append(d.Outcomes, oc)
	}
	return d, rows.Err()
}
