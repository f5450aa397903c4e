package cv

import (
	"math"
	"testing"

	"pathflow/internal/models"
)

func TestAccuracy(t *testing.T) {
	preds := []models.Prediction{
		{Label: "a", Predicted: "a"},
		{Label: "a", Predicted: "b"},
		{Label: "b", Predicted: "b"},
		{Label: "b", Predicted: "b"},
	}
	if got := Accuracy(preds); got != 0.75 {
		t.Fatalf("accuracy %g, want 0.75", got)
	}
	if got := Accuracy(nil); got != 0 {
		t.Fatalf("empty accuracy %g", got)
	}
}

func TestBinaryAUCPerfectSeparation(t *testing.T) {
	classes := []string{"a", "b"}
	preds := []models.Prediction{
		{Label: "b", Scores: []float64{0.1, 0.9}},
		{Label: "b", Scores: []float64{0.2, 0.8}},
		{Label: "a", Scores: []float64{0.9, 0.1}},
		{Label: "a", Scores: []float64{0.7, 0.3}},
	}
	if got := BinaryAUC(preds, classes); got != 1 {
		t.Fatalf("AUC %g, want 1", got)
	}
}

func TestBinaryAUCChanceLevel(t *testing.T) {
	classes := []string{"a", "b"}
	preds := []models.Prediction{
		{Label: "b", Scores: []float64{0.5, 0.5}},
		{Label: "a", Scores: []float64{0.5, 0.5}},
	}
	if got := BinaryAUC(preds, classes); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("tied-score AUC %g, want 0.5", got)
	}
}

func TestBinaryAUCRequiresBothClasses(t *testing.T) {
	classes := []string{"a", "b"}
	preds := []models.Prediction{{Label: "a", Scores: []float64{0.9, 0.1}}}
	if got := BinaryAUC(preds, classes); got != 0 {
		t.Fatalf("single-class AUC %g, want 0", got)
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize([]float64{0.5, 0.7, 0.9})
	if math.Abs(s.Mean-0.7) > 1e-9 || math.Abs(s.Median-0.7) > 1e-9 {
		t.Fatalf("summary %+v", s)
	}
	if got := Summarize(nil); got != (Summary{}) {
		t.Fatalf("empty summary %+v", got)
	}
}
