package bag

import (
	"fmt"
	"math/rand"
	"sort"

	"pathflow/internal/models"
	"pathflow/internal/util"
)

// Sample is a fixed-shape training input: a maxBagSize*D instance matrix
// plus a validity mask. Padding rows are zero vectors whose mask entry is
// false; the model must give them exactly zero attention, so their values
// never matter. Invalidity lives in the mask, never in magic embedding
// values.
type Sample struct {
	Instances [][]float64
	Mask      []bool
	N         int // count of valid instances
}

// FromBag produces a fixed-shape sample. N <= maxBagSize pads; N >
// maxBagSize subsamples uniformly without replacement, preserving the
// bag's coordinate order. rng is owned by the caller so sampling is
// reproducible per seed.
func FromBag(b *models.FeatureBag, maxBagSize int, rng *rand.Rand) (Sample, error) {
	n := b.Len()
	if n == 0 {
		return Sample{}, fmt.Errorf("slide %s: empty bag cannot be sampled", b.SlideID)
	}
	if len(b.Features) != n {
		return Sample{}, fmt.Errorf("slide %s: %w", b.SlideID, util.ErrShapeMismatch)
	}
	if maxBagSize <= 0 {
		maxBagSize = n
	}

	pick := make([]int, 0, maxBagSize)
	if n <= maxBagSize {
		for i := 0; i < n; i++ {
			pick = append(pick, i)
		}
	} else {
		perm := rng.Perm(n)[:maxBagSize]
		sort.Ints(perm)
		pick = perm
	}

	instances := make([][]float64, maxBagSize)
	mask := make([]bool, maxBagSize)
	for i := 0; i < maxBagSize; i++ {
		row := make([]float64, b.Dim)
		if i < len(pick) {
			src := b.Features[pick[i]]
			for j, v := range src {
				row[j] = float64(v)
			}
			mask[i] = true
		}
		instances[i] = row
	}
	return Sample{Instances: instances, Mask: mask, N: len(pick)}, nil
}

// Full returns the entire bag with an all-valid mask, for exhaustive
// inference.
func Full(b *models.FeatureBag) (Sample, error) {
	return FromBag(b, b.Len(), nil)
}
