package cv

import (
	"fmt"
	"reflect"
	"testing"
)

func patientSet(n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, fmt.Sprintf("p%02d", i))
	}
	return out
}

func TestSplitDisjointAndCovering(t *testing.T) {
	patients := patientSet(11)
	folds, err := Split(patients, nil, 3, 1, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(folds) != 3 {
		t.Fatalf("got %d folds", len(folds))
	}
	seen := map[string]int{}
	for _, f := range folds {
		for _, p := range f.ValPatients {
			seen[p]++
		}
		// No patient may sit on both sides of its own fold.
		train := map[string]bool{}
		for _, p := range f.TrainPatients {
			train[p] = true
		}
		for _, p := range f.ValPatients {
			if train[p] {
				t.Fatalf("fold %d: patient %s in train and val", f.Index, p)
			}
		}
		if len(f.TrainPatients)+len(f.ValPatients) != len(patients) {
			t.Fatalf("fold %d: %d train + %d val != %d patients",
				f.Index, len(f.TrainPatients), len(f.ValPatients), len(patients))
		}
	}
	for _, p := range patients {
		if seen[p] != 1 {
			t.Fatalf("patient %s appears in %d validation sets, want 1", p, seen[p])
		}
	}
}

func TestSplitDeterministicPerSeed(t *testing.T) {
	patients := patientSet(10)
	a, err := Split(patients, nil, 5, 42, false)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Split(patients, nil, 5, 42, false)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatal("same seed produced different folds")
	}
	c, err := Split(patients, nil, 5, 43, false)
	if err != nil {
		t.Fatal(err)
	}
	if reflect.DeepEqual(a, c) {
		t.Fatal("different seeds produced identical folds")
	}
}

func TestSplitStratifiedBalance(t *testing.T) {
	patients := patientSet(10)
	labelOf := func(p string) string {
		if p < "p05" {
			return "a"
		}
		return "b"
	}
	folds, err := Split(patients, labelOf, 5, 7, true)
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range folds {
		counts := map[string]int{}
		for _, p := range f.ValPatients {
			counts[labelOf(p)]++
		}
		if counts["a"] != 1 || counts["b"] != 1 {
			t.Fatalf("fold %d validation label counts %v, want one of each", f.Index, counts)
		}
	}
}

func TestSplitRejectsBadInputs(t *testing.T) {
	if _, err := Split(patientSet(10), nil, 1, 1, false); err == nil {
		t.Fatal("expected error for k<2")
	}
	if _, err := Split(patientSet(3), nil, 5, 1, false); err == nil {
		t.Fatal("expected error for fewer patients than folds")
	}
}
