package storage

import (
	"context"
	"fmt"

	"pathflow/internal/models"
)

type CohortRepo struct {
	db *DB
}

func NewCohortRepo(db *DB) *CohortRepo {
	return &CohortRepo{db: db}
}

func (r *CohortRepo) CreateCohort(ctx context.Context, c models.Cohort) error {
	_, err := r.db.Pool.Exec(ctx, `INSERT INTO cohorts (cohort_id, name, target) VALUES ($1, $2, $3)`,
		c.CohortID, c.Name, c.Target)
	if err != nil {
		return fmt.Errorf("insert cohort: %w", err)
	}
	return nil
}

func (r *CohortRepo) ListCohorts(ctx context.Context) ([]models.Cohort, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT cohort_id::text, name, target, created_at FROM cohorts ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list cohorts: %w", err)
	}
	defer rows.Close()

	out := make([]models.Cohort, 0)
	for rows.Next() {
		var c models.Cohort
		if err := rows.Scan(&c.CohortID, &c.Name, &c.Target, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cohort: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cohorts: %w", err)
	}
	return out, nil
}
