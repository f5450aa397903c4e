package cv

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"pathflow/internal/cohort"
	"pathflow/internal/mil"
	"pathflow/internal/models"
)

type RunParams struct {
	Folds    int         `json:"folds"`
	Seed     int64       `json:"seed"`
	Stratify bool        `json:"stratify"`
	Train    TrainParams `json:"train"`
}

type RunResult struct {
	RunID           string              `json:"run_id"`
	Folds           []FoldResult        `json:"folds"`
	FailedFolds     int                 `json:"failed_folds"`
	AccuracySummary Summary             `json:"accuracy_summary"`
	AUCSummary      Summary             `json:"auc_summary"`
	Predictions     []models.Prediction `json:"predictions"`
}

// Run executes the whole cross-validation state machine in process:
// split, train each fold, evaluate, aggregate. Folds are independent
// units of work; one diverged fold is recorded and skipped at
// aggregation, the rest proceed. Checkpoints land under
// checkpointDir/runID/fold-N.ckpt.
func Run(ctx context.Context, runID string, table *cohort.Table, load BagLoader, p RunParams, fingerprint, checkpointDir string) (RunResult, error) {
	folds, err := Split(table.Patients(), func(pt string) string { return table.PatientLabel[pt] },
		p.Folds, p.Seed, p.Stratify)
	if err != nil {
		return RunResult{}, err
	}

	result := RunResult{RunID: runID}
	for _, fold := range folds {
		fr, err := TrainFold(ctx, runID, fold, table, load, p.Train, fingerprint)
		if err != nil {
			return result, fmt.Errorf("cv: fold %d: %w", fold.Index, err)
		}
		if fr.Failed {
			log.Printf("run %s: fold %d failed: %s", runID, fold.Index, fr.FailReason)
			result.FailedFolds++
			result.Folds = append(result.Folds, fr)
			continue
		}
		if checkpointDir != "" {
			path := filepath.Join(checkpointDir, runID, fmt.Sprintf("fold-%d.ckpt", fold.Index))
			if err := mil.SaveCheckpoint(path, fr.Checkpoint); err != nil {
				return result, err
			}
		}
		result.Predictions = append(result.Predictions, fr.Preds...)
		result.Folds = append(result.Folds, fr)
	}

	var accs, aucs []float64
	for _, fr := range result.Folds {
		if fr.Failed {
			continue
		}
		accs = append(accs, fr.Metrics.Accuracy)
		if fr.Metrics.AUC > 0 {
			aucs = append(aucs, fr.Metrics.AUC)
		}
	}
	result.AccuracySummary = Summarize(accs)
	result.AUCSummary = Summarize(aucs)
	return result, nil
}

// EnsemblePredict averages the per-fold outputs of every healthy fold
// model over one bag: softmax probabilities for classifiers, raw
// predicted values for regression heads.
func EnsemblePredict(fold []FoldResult, instances [][]float64, mask []bool) ([]float64, error) {
	var sum []float64
	n := 0
	for _, fr := range fold {
		if fr.Failed {
			continue
		}
		model, err := fr.Checkpoint.Restore()
		if err != nil {
			return nil, err
		}
		out, err := model.Forward(instances, mask)
		if err != nil {
			return nil, err
		}
		probs := out.Logits
		if !model.Cfg.Regression {
			probs = mil.Softmax(out.Logits)
		}
		if sum == nil {
			sum = make([]float64, len(probs))
		}
		for i, v := range probs {
			sum[i] += v
		}
		n++
	}
	if n == 0 {
		return nil, fmt.Errorf("cv: no healthy fold models to ensemble")
	}
	for i := range sum {
		sum[i] /= float64(n)
	}
	return sum, nil
}
