package mil

import (
	"fmt"
	"math"

	"pathflow/internal/util"
)

// Example is one training bag: a fixed-shape instance matrix with its
// validity mask and the slide-level target. No tile-level supervision
// exists anywhere in the pipeline.
type Example struct {
	Instances [][]float64
	Mask      []bool
	Class     int     // categorical target index
	Value     float64 // continuous target when Cfg.Regression
}

// Softmax is the numerically stable (max-subtracted) softmax.
func Softmax(logits []float64) []float64 {
	max := math.Inf(-1)
	for _, v := range logits {
		if v > max {
			max = v
		}
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(v - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// lossAndGrad computes the slide-level loss and its logit gradient:
// softmax cross-entropy for categorical targets, squared error for
// continuous ones.
func (m *Model) lossAndGrad(logits []float64, ex Example) (float64, []float64, error) {
	if m.Cfg.Regression {
		diff := logits[0] - ex.Value
		return diff * diff, []float64{2 * diff}, nil
	}
	if ex.Class < 0 || ex.Class >= len(logits) {
		return 0, nil, fmt.Errorf("mil: class %d out of range for %d logits", ex.Class, len(logits))
	}
	probs := Softmax(logits)
	loss := -math.Log(math.Max(probs[ex.Class], 1e-12))
	dlogits := make([]float64, len(logits))
	for k := range logits {
		dlogits[k] = probs[k]
		if k == ex.Class {
			dlogits[k] -= 1
		}
	}
	return loss, dlogits, nil
}

// TrainStep runs forward/backward over one minibatch of bags, averages
// the gradients, clips and applies an Adam update. A non-finite loss
// leaves the parameters untouched and surfaces ErrTrainingDiverged so the
// caller can re-sample the batch or fail the fold.
func (m *Model) TrainStep(batch []Example, opt *Adam, lr, clipNorm float64) (float64, error) {
	if len(batch) == 0 {
		return 0, fmt.Errorf("mil: empty training batch")
	}
	params := m.Params()
	ZeroGrads(params)

	var total float64
	for _, ex := range batch {
		out, cc, err := m.forward(ex.Instances, ex.Mask)
		if err != nil {
			return 0, err
		}
		loss, dlogits, err := m.lossAndGrad(out.Logits, ex)
		if err != nil {
			return 0, err
		}
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return loss, fmt.Errorf("mil: batch loss %v: %w", loss, util.ErrTrainingDiverged)
		}
		total += loss
		scale := 1.0 / float64(len(batch))
		for k := range dlogits {
			dlogits[k] *= scale
		}
		m.backward(cc, dlogits)
	}
	mean := total / float64(len(batch))

	for _, p := range params {
		for _, g := range p.Grad {
			if math.IsNaN(g) || math.IsInf(g, 0) {
				return mean, fmt.Errorf("mil: non-finite gradient: %w", util.ErrTrainingDiverged)
			}
		}
	}
	ClipGradients(params, clipNorm)
	opt.Step(params, lr)
	return mean, nil
}

// Loss evaluates the mean loss over a set of bags without touching
// gradients.
func (m *Model) Loss(batch []Example) (float64, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	var total float64
	for _, ex := range batch {
		out, err := m.Forward(ex.Instances, ex.Mask)
		if err != nil {
			return 0, err
		}
		loss, _, err := m.lossAndGrad(out.Logits, ex)
		if err != nil {
			return 0, err
		}
		total += loss
	}
	return total / float64(len(batch)), nil
}
