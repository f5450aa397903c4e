package cv

import (
	"sort"

	"github.com/montanaflynn/stats"

	"pathflow/internal/models"
)

type FoldMetrics struct {
	Accuracy float64 `json:"accuracy"`
	AUC      float64 `json:"auc,omitempty"` // binary targets only
	Loss     float64 `json:"loss"`
	Slides   int     `json:"slides"`
}

// Summary aggregates a metric across the folds that finished.
type Summary struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Stdev  float64 `json:"stdev"`
}

func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	mean, _ := stats.Mean(values)
	median, _ := stats.Median(values)
	sd, _ := stats.StandardDeviation(values)
	return Summary{Mean: mean, Median: median, Stdev: sd}
}

func Accuracy(preds []models.Prediction) float64 {
	if len(preds) == 0 {
		return 0
	}
	hit := 0
	for _, p := range preds {
		if p.Predicted == p.Label {
			hit++
		}
	}
	return float64(hit) / float64(len(preds))
}

// BinaryAUC is the rank-based (Mann-Whitney) AUC of the positive-class
// score. classes must be the sorted class list; the second class is
// treated as positive. Returns 0 when a class is absent.
func BinaryAUC(preds []models.Prediction, classes []string) float64 {
	if len(classes) != 2 {
		return 0
	}
	type scored struct {
		score float64
		pos   bool
	}
	rows := make([]scored, 0, len(preds))
	npos, nneg := 0, 0
	for _, p := range preds {
		if len(p.Scores) != 2 {
			continue
		}
		pos := p.Label == classes[1]
		if pos {
			npos++
		} else {
			nneg++
		}
		rows = append(rows, scored{score: p.Scores[1], pos: pos})
	}
	if npos == 0 || nneg == 0 {
		return 0
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].score < rows[j].score })

	// average ranks, ties shared
	ranks := make([]float64, len(rows))
	for i := 0; i < len(rows); {
		j := i
		for j < len(rows) && rows[j].score == rows[i].score {
			j++
		}
		avg := float64(i+j+1) / 2 // ranks are 1-based
		for k := i; k < j; k++ {
			ranks[k] = avg
		}
		i = j
	}
	var sumPos float64
	for i, r := range rows {
		if r.pos {
			sumPos += ranks[i]
		}
	}
	return (sumPos - float64(npos)*float64(npos+1)/2) / (float64(npos) * float64(nneg))
}
