package storage

import (
	"context"
	"fmt"

	"pathflow/internal/models"
)

type SlideRepo struct {
	db *DB
}

func NewSlideRepo(db *DB) *SlideRepo {
	return &SlideRepo{db: db}
}

func (r *SlideRepo) UpsertSlide(ctx context.Context, s models.Slide) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO slides (slide_id, cohort_id, patient_id, filename, label, tile_count, status, fail_reason)
VALUES ($1, $2, NULLIF($3,''), $4, NULLIF($5,''), $6, $7, NULLIF($8,''))
ON CONFLICT (slide_id)
DO UPDATE SET
  cohort_id = EXCLUDED.cohort_id,
  patient_id = COALESCE(EXCLUDED.patient_id, slides.patient_id),
  filename = EXCLUDED.filename,
  label = COALESCE(EXCLUDED.label, slides.label),
  tile_count = EXCLUDED.tile_count,
  status = EXCLUDED.status,
  fail_reason = EXCLUDED.fail_reason,
  updated_at = NOW()`,
		s.SlideID, s.CohortID, s.PatientID, s.Filename, s.Label, s.TileCount, s.Status, s.FailReason,
	)
	if err != nil {
		return fmt.Errorf("upsert slide: %w", err)
	}
	return nil
}

func (r *SlideRepo) UpdateSlideStatus(ctx context.Context, slideID, status, failReason string) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE slides SET status=$2, fail_reason=NULLIF($3,''), updated_at=NOW() WHERE slide_id=$1`,
		slideID, status, failReason)
	if err != nil {
		return fmt.Errorf("update slide status: %w", err)
	}
	return nil
}

func (r *SlideRepo) ListSlidesByCohort(ctx context.Context, cohortID string) ([]models.Slide, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT slide_id, cohort_id::text, COALESCE(patient_id,''), filename, COALESCE(label,''),
       tile_count, status, COALESCE(fail_reason,''), created_at, updated_at
FROM slides
WHERE cohort_id=$1
ORDER BY slide_id ASC`, cohortID)
	if err != nil {
		return nil, fmt.Errorf("list slides: %w", err)
	}
	defer rows.Close()

	out := make([]models.Slide, 0)
	for rows.Next() {
		var s models.Slide
		if err := rows.Scan(&s.SlideID, &s.CohortID, &s.PatientID, &s.Filename, &s.Label,
			&s.TileCount, &s.Status, &s.FailReason, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan slide: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate slides: %w", err)
	}
	return out, nil
}

func (r *SlideRepo) ListFailedSlides(ctx context.Context, cohortID string) ([]models.Slide, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT slide_id, cohort_id::text, COALESCE(patient_id,''), filename, COALESCE(label,''),
       tile_count, status, COALESCE(fail_reason,''), created_at, updated_at
FROM slides
WHERE cohort_id=$1 AND status='failed'
ORDER BY slide_id ASC`, cohortID)
	if err != nil {
		return nil, fmt.Errorf("list failed slides: %w", err)
	}
	defer rows.Close()

	out := make([]models.Slide, 0)
	for rows.Next() {
		var s models.Slide
		if err := rows.Scan(&s.SlideID, &s.CohortID, &s.PatientID, &s.Filename, &s.Label,
			&s.TileCount, &s.Status, &s.FailReason, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan failed slide: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failed slides: %w", err)
	}
	return out, nil
}
