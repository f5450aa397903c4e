package storage

import (
	"context"
	"fmt"

	"pathflow/internal/models"
)

type RunRepo struct {
	db *DB
}

func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

func (r *RunRepo) CreateRun(ctx context.Context, run models.Run) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO runs (run_id, cohort_id, kind, status) VALUES ($1, $2, $3, $4)`,
		run.RunID, run.CohortID, run.Kind, run.Status)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (r *RunRepo) UpdateRunStatus(ctx context.Context, runID, status string) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE runs SET status=$2, updated_at=NOW() WHERE run_id=$1`, runID, status)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return nil
}

func (r *RunRepo) GetRun(ctx context.Context, runID string) (models.Run, error) {
	var run models.Run
	err := r.db.Pool.QueryRow(ctx,
		`SELECT run_id::text, cohort_id::text, kind, status, created_at, updated_at FROM runs WHERE run_id=$1`,
		runID).Scan(&run.RunID, &run.CohortID, &run.Kind, &run.Status, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return models.Run{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return run, nil
}
