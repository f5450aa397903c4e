package cv

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"testing"

	"pathflow/internal/cohort"
	"pathflow/internal/models"
)

const testDim = 8

// syntheticCohort builds n patients with one slide each, alternating
// classes, plus an in-memory bag loader with a separable prototype per
// class.
func syntheticCohort(t *testing.T, n int) (*cohort.Table, BagLoader) {
	t.Helper()
	rows := make([]cohort.Row, 0, n)
	for i := 0; i < n; i++ {
		label := "neg"
		if i%2 == 1 {
			label = "pos"
		}
		rows = append(rows, cohort.Row{
			PatientID: fmt.Sprintf("p%02d", i),
			SlideID:   fmt.Sprintf("s%02d", i),
			Label:     label,
		})
	}
	table, err := cohort.Build(rows, nil)
	if err != nil {
		t.Fatal(err)
	}

	rng := rand.New(rand.NewSource(99))
	bags := map[string]*models.FeatureBag{}
	for _, r := range rows {
		b := &models.FeatureBag{SlideID: r.SlideID, Fingerprint: "fp1", Dim: testDim}
		for k := 0; k < 6; k++ {
			row := make([]float32, testDim)
			for j := range row {
				row[j] = float32(0.05 * rng.NormFloat64())
			}
			if r.Label == "neg" {
				row[0] += 2
			} else {
				row[1] += 2
			}
			b.Coords = append(b.Coords, models.TileCoord{X: k * 256, Y: 0})
			b.Features = append(b.Features, row)
		}
		bags[r.SlideID] = b
	}
	return table, func(slideID string) (*models.FeatureBag, error) {
		b, ok := bags[slideID]
		if !ok {
			return nil, fmt.Errorf("no bag for slide %s", slideID)
		}
		return b, nil
	}
}

func testTrainParams() TrainParams {
	return TrainParams{
		InputDim:   testDim,
		HiddenDim:  6,
		AttnDim:    4,
		Epochs:     12,
		BatchSize:  4,
		MaxBagSize: 6,
		LearnRate:  1e-2,
		ClipNorm:   5,
		Seed:       1,
	}
}

func TestTrainFoldProducesPredictions(t *testing.T) {
	table, load := syntheticCohort(t, 12)
	folds, err := Split(table.Patients(), func(p string) string { return table.PatientLabel[p] }, 3, 1, true)
	if err != nil {
		t.Fatal(err)
	}

	res, err := TrainFold(context.Background(), "run1", folds[0], table, load, testTrainParams(), "fp1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed {
		t.Fatalf("fold failed: %s", res.FailReason)
	}
	wanted := len(slidesOf(table, folds[0].ValPatients))
	if len(res.Preds) != wanted {
		t.Fatalf("got %d predictions for %d validation slides", len(res.Preds), wanted)
	}
	for _, p := range res.Preds {
		if p.Fold != folds[0].Index || p.RunID != "run1" {
			t.Fatalf("prediction metadata: %+v", p)
		}
		if len(p.Scores) != 2 {
			t.Fatalf("prediction has %d scores", len(p.Scores))
		}
		var sum float64
		for _, s := range p.Scores {
			sum += s
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("scores sum to %g", sum)
		}
	}
	if res.Metrics.Slides != wanted {
		t.Fatalf("metrics count %d slides, want %d", res.Metrics.Slides, wanted)
	}
	if len(res.Checkpoint.Weights) == 0 {
		t.Fatal("healthy fold produced no checkpoint weights")
	}
	if res.Checkpoint.Fingerprint != "fp1" {
		t.Fatalf("checkpoint fingerprint %q", res.Checkpoint.Fingerprint)
	}
}

func TestTrainFoldDeterministic(t *testing.T) {
	table, load := syntheticCohort(t, 8)
	folds, err := Split(table.Patients(), func(p string) string { return table.PatientLabel[p] }, 2, 1, true)
	if err != nil {
		t.Fatal(err)
	}

	a, err := TrainFold(context.Background(), "run1", folds[0], table, load, testTrainParams(), "fp1")
	if err != nil {
		t.Fatal(err)
	}
	b, err := TrainFold(context.Background(), "run1", folds[0], table, load, testTrainParams(), "fp1")
	if err != nil {
		t.Fatal(err)
	}
	for i := range a.Preds {
		if a.Preds[i].Predicted != b.Preds[i].Predicted {
			t.Fatalf("prediction %d differs between identical runs", i)
		}
		for j := range a.Preds[i].Scores {
			if a.Preds[i].Scores[j] != b.Preds[i].Scores[j] {
				t.Fatalf("score %d/%d differs between identical runs", i, j)
			}
		}
	}
}

func TestTrainFoldIsolatesDivergence(t *testing.T) {
	table, load := syntheticCohort(t, 8)
	folds, err := Split(table.Patients(), func(p string) string { return table.PatientLabel[p] }, 2, 1, true)
	if err != nil {
		t.Fatal(err)
	}

	// Poison every bag so each train step goes non-finite; retries then
	// exhaust and the fold reports failure instead of erroring.
	poisoned := func(slideID string) (*models.FeatureBag, error) {
		b, err := load(slideID)
		if err != nil {
			return nil, err
		}
		bad := *b
		bad.Features = make([][]float32, len(b.Features))
		for i := range bad.Features {
			row := make([]float32, len(b.Features[i]))
			for j := range row {
				row[j] = float32(math.NaN())
			}
			bad.Features[i] = row
		}
		return &bad, nil
	}

	res, err := TrainFold(context.Background(), "run1", folds[0], table, poisoned, testTrainParams(), "fp1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Failed {
		t.Fatal("poisoned fold reported success")
	}
	if res.FailReason == "" {
		t.Fatal("failed fold carries no reason")
	}
}

func TestRunSkipsFailedFolds(t *testing.T) {
	table, load := syntheticCohort(t, 12)

	// Fail training whenever a specific slide is loaded, diverging
	// exactly the folds whose training set contains it.
	nanFor := func(slideID string) BagLoader {
		return func(id string) (*models.FeatureBag, error) {
			b, err := load(id)
			if err != nil {
				return nil, err
			}
			if id != slideID {
				return b, nil
			}
			bad := *b
			bad.Features = [][]float32{make([]float32, testDim)}
			bad.Coords = bad.Coords[:1]
			bad.Features[0][0] = float32(math.NaN())
			return &bad, nil
		}
	}

	p := RunParams{Folds: 3, Seed: 1, Stratify: true, Train: testTrainParams()}
	result, err := Run(context.Background(), "run1", table, nanFor("s00"), p, "fp1", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if result.FailedFolds == 0 {
		t.Fatal("expected at least one diverged fold")
	}
	if result.FailedFolds >= len(result.Folds) {
		t.Fatalf("all %d folds failed", len(result.Folds))
	}
	healthy := 0
	for _, fr := range result.Folds {
		if !fr.Failed {
			healthy++
		}
	}
	if len(result.Predictions) == 0 || healthy == 0 {
		t.Fatal("healthy folds produced no predictions")
	}
}

func TestEnsemblePredictAveragesHealthyFolds(t *testing.T) {
	table, load := syntheticCohort(t, 8)
	p := RunParams{Folds: 2, Seed: 1, Stratify: true, Train: testTrainParams()}
	result, err := Run(context.Background(), "run1", table, load, p, "fp1", "")
	if err != nil {
		t.Fatal(err)
	}

	b, err := load("s00")
	if err != nil {
		t.Fatal(err)
	}
	instances := make([][]float64, len(b.Features))
	mask := make([]bool, len(b.Features))
	for i, row := range b.Features {
		r := make([]float64, len(row))
		for j, v := range row {
			r[j] = float64(v)
		}
		instances[i] = r
		mask[i] = true
	}
	probs, err := EnsemblePredict(result.Folds, instances, mask)
	if err != nil {
		t.Fatal(err)
	}
	if len(probs) != 2 {
		t.Fatalf("ensemble returned %d probabilities", len(probs))
	}
	var sum float64
	for _, v := range probs {
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("ensemble probabilities sum to %g", sum)
	}
}

// syntheticRegressionCohort mirrors syntheticCohort with a continuous
// target: each slide's value doubles as its label string and as the mean
// of its bag's first feature.
func syntheticRegressionCohort(t *testing.T, n int) (*cohort.Table, BagLoader) {
	t.Helper()
	rng := rand.New(rand.NewSource(41))
	rows := make([]cohort.Row, 0, n)
	bags := map[string]*models.FeatureBag{}
	for i := 0; i < n; i++ {
		value := -1.0 + 2.0*float64(i)/float64(n-1)
		slideID := fmt.Sprintf("s%02d", i)
		rows = append(rows, cohort.Row{
			PatientID: fmt.Sprintf("p%02d", i),
			SlideID:   slideID,
			Label:     strconv.FormatFloat(value, 'g', -1, 64),
		})
		b := &models.FeatureBag{SlideID: slideID, Fingerprint: "fp1", Dim: testDim}
		for k := 0; k < 6; k++ {
			row := make([]float32, testDim)
			for j := range row {
				row[j] = float32(0.05 * rng.NormFloat64())
			}
			row[0] += float32(value)
			b.Coords = append(b.Coords, models.TileCoord{X: k * 256, Y: 0})
			b.Features = append(b.Features, row)
		}
		bags[slideID] = b
	}
	table, err := cohort.Build(rows, nil)
	if err != nil {
		t.Fatal(err)
	}
	return table, func(slideID string) (*models.FeatureBag, error) {
		b, ok := bags[slideID]
		if !ok {
			return nil, fmt.Errorf("no bag for slide %s", slideID)
		}
		return b, nil
	}
}

func TestTrainFoldRegression(t *testing.T) {
	table, load := syntheticRegressionCohort(t, 12)
	folds, err := Split(table.Patients(), nil, 3, 1, false)
	if err != nil {
		t.Fatal(err)
	}

	p := testTrainParams()
	p.Regression = true
	res, err := TrainFold(context.Background(), "runr", folds[0], table, load, p, "fp1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed {
		t.Fatalf("fold failed: %s", res.FailReason)
	}
	wanted := len(slidesOf(table, folds[0].ValPatients))
	if len(res.Preds) != wanted {
		t.Fatalf("got %d predictions for %d validation slides", len(res.Preds), wanted)
	}
	for _, pred := range res.Preds {
		if len(pred.Scores) != 1 {
			t.Fatalf("regression prediction has %d scores", len(pred.Scores))
		}
		v, err := strconv.ParseFloat(pred.Predicted, 64)
		if err != nil {
			t.Fatalf("predicted value %q does not parse: %v", pred.Predicted, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("non-finite predicted value %g", v)
		}
	}
	if res.Metrics.Accuracy != 0 || res.Metrics.AUC != 0 {
		t.Fatalf("classification metrics set on a regression fold: %+v", res.Metrics)
	}
	if math.IsNaN(res.Metrics.Loss) || math.IsInf(res.Metrics.Loss, 0) {
		t.Fatalf("non-finite validation loss %g", res.Metrics.Loss)
	}
	if !res.Checkpoint.Config.Regression || res.Checkpoint.Config.NumClasses != 1 {
		t.Fatalf("checkpoint config %+v", res.Checkpoint.Config)
	}
}

func TestTrainFoldRegressionRejectsNonNumericLabels(t *testing.T) {
	table, load := syntheticCohort(t, 12)
	folds, err := Split(table.Patients(), nil, 3, 1, false)
	if err != nil {
		t.Fatal(err)
	}

	p := testTrainParams()
	p.Regression = true
	_, err = TrainFold(context.Background(), "runr", folds[0], table, load, p, "fp1")
	if err == nil {
		t.Fatal("expected an error for non-numeric labels")
	}
}
