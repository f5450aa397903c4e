package storage

import (
	"context"
	"fmt"

	"pathflow/internal/models"
)

type PredictionRepo struct {
	db *DB
}

func NewPredictionRepo(db *DB) *PredictionRepo {
	return &PredictionRepo{db: db}
}

func (r *PredictionRepo) UpsertPredictions(ctx context.Context, preds []models.Prediction) error {
	if len(preds) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx upsert predictions: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, p := range preds {
		_, err := tx.Exec(ctx, `
INSERT INTO predictions (run_id, slide_id, fold, label, predicted, scores, ensembled)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (run_id, slide_id, fold)
DO UPDATE SET
  label = EXCLUDED.label,
  predicted = EXCLUDED.predicted,
  scores = EXCLUDED.scores,
  ensembled = EXCLUDED.ensembled`,
			p.RunID, p.SlideID, p.Fold, p.Label, p.Predicted, p.Scores, p.Ensembled,
		)
		if err != nil {
			return fmt.Errorf("upsert prediction %s/%s: %w", p.RunID, p.SlideID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit predictions tx: %w", err)
	}
	return nil
}

func (r *PredictionRepo) ListPredictionsByRun(ctx context.Context, runID string) ([]models.Prediction, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT run_id::text, slide_id, fold, label, predicted, scores, ensembled
FROM predictions
WHERE run_id=$1
ORDER BY slide_id, fold`, runID)
	if err != nil {
		return nil, fmt.Errorf("list predictions: %w", err)
	}
	defer rows.Close()

	out := make([]models.Prediction, 0)
	for rows.Next() {
		var p models.Prediction
		if err := rows.Scan(&p.RunID, &p.SlideID, &p.Fold, &p.Label, &p.Predicted, &p.Scores, &p.Ensembled); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate predictions: %w", err)
	}
	return out, nil
}
