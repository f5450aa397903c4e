package cv

import (
	"fmt"
	"math/rand"
	"sort"
)

// Fold is one train/validation partition over patient ids. Validation
// sets are pairwise disjoint and together cover every patient exactly
// once.
type Fold struct {
	Index         int      `json:"index"`
	TrainPatients []string `json:"train_patients"`
	ValPatients   []string `json:"val_patients"`
}

// Split partitions patients into k folds, optionally stratified by label.
// The split depends only on the patient set, the label mapping and the
// seed: identical inputs reproduce identical folds.
func Split(patients []string, labelOf func(string) string, k int, seed int64, stratify bool) ([]Fold, error) {
	if k < 2 {
		return nil, fmt.Errorf("cv: need at least 2 folds, got %d", k)
	}
	if len(patients) < k {
		return nil, fmt.Errorf("cv: %d patients cannot fill %d folds", len(patients), k)
	}
	ordered := make([]string, len(patients))
	copy(ordered, patients)
	sort.Strings(ordered)

	groups := [][]string{ordered}
	if stratify && labelOf != nil {
		byLabel := map[string][]string{}
		for _, p := range ordered {
			l := labelOf(p)
			byLabel[l] = append(byLabel[l], p)
		}
		labels := make([]string, 0, len(byLabel))
		for l := range byLabel {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		groups = groups[:0]
		for _, l := range labels {
			groups = append(groups, byLabel[l])
		}
	}

	rng := rand.New(rand.NewSource(seed))
	val := make([][]string, k)
	for _, g := range groups {
		rng.Shuffle(len(g), func(i, j int) { g[i], g[j] = g[j], g[i] })
		for i, p := range g {
			val[i%k] = append(val[i%k], p)
		}
	}

	folds := make([]Fold, k)
	for f := 0; f < k; f++ {
		inVal := map[string]bool{}
		for _, p := range val[f] {
			inVal[p] = true
		}
		train := make([]string, 0, len(ordered)-len(val[f]))
		for _, p := range ordered {
			if !inVal[p] {
				train = append(train, p)
			}
		}
		v := make([]string, len(val[f]))
		copy(v, val[f])
		sort.Strings(v)
		folds[f] = Fold{Index: f, TrainPatients: train, ValPatients: v}
	}
	return folds, nil
}
