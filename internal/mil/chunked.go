package mil

import (
	"fmt"
	"math"

	"pathflow/internal/util"
)

// ForwardChunked evaluates a bag exhaustively while only materialising
// chunkSize hidden states at a time: a first pass streams attention scores
// (tracking the running max for the stable softmax), a second pass
// recomputes hidden states per chunk and accumulates the weighted sum.
// The result matches Forward to floating-point noise, so huge inference
// bags never need subsampling or padding.
func (m *Model) ForwardChunked(instances [][]float64, chunkSize int) (Output, error) {
	n := len(instances)
	if n == 0 {
		return Output{}, fmt.Errorf("mil: empty bag: %w", util.ErrShapeMismatch)
	}
	if chunkSize <= 0 || chunkSize >= n {
		mask := make([]bool, n)
		for i := range mask {
			mask[i] = true
		}
		return m.Forward(instances, mask)
	}
	hd, ad, c, d := m.Cfg.HiddenDim, m.Cfg.AttnDim, m.Cfg.NumClasses, m.Cfg.InputDim

	hiddenRow := func(x []float64) ([]float64, error) {
		if len(x) != d {
			return nil, fmt.Errorf("mil: instance has dimension %d, want %d: %w", len(x), d, util.ErrShapeMismatch)
		}
		h := make([]float64, hd)
		for j := 0; j < hd; j++ {
			sum := m.Be.At(0, j)
			for k := 0; k < d; k++ {
				sum += x[k] * m.We.At(k, j)
			}
			if sum > 0 {
				h[j] = sum
			}
		}
		return h, nil
	}
	scoreOf := func(h []float64) float64 {
		s := 0.0
		for l := 0; l < ad; l++ {
			sum := 0.0
			for j := 0; j < hd; j++ {
				sum += h[j] * m.V.At(j, l)
			}
			s += math.Tanh(sum) * m.Wa.At(l, 0)
		}
		return s
	}

	scores := make([]float64, n)
	maxScore := math.Inf(-1)
	for start := 0; start < n; start += chunkSize {
		end := start + chunkSize
		if end > n {
			end = n
		}
		for i := start; i < end; i++ {
			h, err := hiddenRow(instances[i])
			if err != nil {
				return Output{}, err
			}
			scores[i] = scoreOf(h)
			if scores[i] > maxScore {
				maxScore = scores[i]
			}
		}
	}

	attn := make([]float64, n)
	var denom float64
	for i := range scores {
		attn[i] = math.Exp(scores[i] - maxScore)
		denom += attn[i]
	}
	for i := range attn {
		attn[i] /= denom
	}

	pooled := make([]float64, hd)
	for start := 0; start < n; start += chunkSize {
		end := start + chunkSize
		if end > n {
			end = n
		}
		for i := start; i < end; i++ {
			h, err := hiddenRow(instances[i])
			if err != nil {
				return Output{}, err
			}
			for j := 0; j < hd; j++ {
				pooled[j] += attn[i] * h[j]
			}
		}
	}

	logits := make([]float64, c)
	for k := 0; k < c; k++ {
		sum := m.Bc.At(0, k)
		for j := 0; j < hd; j++ {
			sum += pooled[j] * m.Wc.At(j, k)
		}
		logits[k] = sum
	}
	return Output{Logits: logits, Attention: attn}, nil
}
