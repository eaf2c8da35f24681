package repository

import (
	"context"
	"database/sql"
	"fmt"

	"catalog-sync/internal/report"

	"github.com/goccy/go-json"
)

// RunRepository keeps the history of sync runs
type RunRepository interface {
	Record(ctx context.Context, r *report.RunReport) error
	Recent(ctx context.Context, limit int) ([]*report.RunReport, error)
}

type runRepository struct {
	db *sql.DB
}

// NewRunRepository creates a new run history repository
func NewRunRepository(db *sql.DB) RunRepository {
	return &runRepository{db: db}
}

func (r *runRepository) Record(ctx context.Context, run *report.RunReport) error {
	body, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run report: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sync_runs
			(id, mode, outcome, failed_stage, error, snapshot_id, enqueued, discontinued, report, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`,
		run.RunID,
		run.Mode,
		run.Outcome,
		run.FailedStage,
		run.Error,
		run.SnapshotID,
		run.Staged.Enqueued.Total(),
		len(run.Discontinued),
		string(body),
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

func (r *runRepository) Recent(ctx context.Context, limit int) ([]*report.RunReport, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT report FROM sync_runs ORDER BY started_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*report.RunReport
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		var run report.RunReport
		if err := json.Unmarshal(body, &run); err != nil {
			return nil, fmt.Errorf("failed to decode run report: %w", err)
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}
