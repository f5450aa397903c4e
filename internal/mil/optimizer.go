package mil

import "math"

// Adam optimizer with decoupled weight decay. One instance per fold; the
// moment buffers are keyed by parameter position, so the params slice must
// be stable across steps.
type Adam struct {
	beta1, beta2 float64
	epsilon      float64
	weightDecay  float64
	step         int
	m, v         [][]float64
}

func NewAdam(params []*Mat, weightDecay float64) *Adam {
	a := &Adam{
		beta1:       0.9,
		beta2:       0.999,
		epsilon:     1e-8,
		weightDecay: weightDecay,
		m:           make([][]float64, len(params)),
		v:           make([][]float64, len(params)),
	}
	for i, p := range params {
		a.m[i] = make([]float64, len(p.Data))
		a.v[i] = make([]float64, len(p.Data))
	}
	return a
}

func (a *Adam) Step(params []*Mat, lr float64) {
	a.step++
	bc1 := 1 - math.Pow(a.beta1, float64(a.step))
	bc2 := 1 - math.Pow(a.beta2, float64(a.step))
	for i, p := range params {
		for j := range p.Data {
			g := p.Grad[j]
			if a.weightDecay > 0 {
				g += a.weightDecay * p.Data[j]
			}
			a.m[i][j] = a.beta1*a.m[i][j] + (1-a.beta1)*g
			a.v[i][j] = a.beta2*a.v[i][j] + (1-a.beta2)*g*g
			mhat := a.m[i][j] / bc1
			vhat := a.v[i][j] / bc2
			p.Data[j] -= lr * mhat / (math.Sqrt(vhat) + a.epsilon)
		}
	}
}

func ZeroGrads(params []*Mat) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// ClipGradients scales all gradients so their global L2 norm does not
// exceed maxNorm. Guards the attention logits against the occasional
// pathological bag.
func ClipGradients(params []*Mat, maxNorm float64) {
	if maxNorm <= 0 {
		return
	}
	var total float64
	for _, p := range params {
		for _, g := range p.Grad {
			total += g * g
		}
	}
	norm := math.Sqrt(total)
	if norm <= maxNorm {
		return
	}
	scale := maxNorm / norm
	for _, p := range params {
		for j := range p.Grad {
			p.Grad[j] *= scale
		}
	}
}
