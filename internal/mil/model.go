package mil

import (
	"fmt"
	"math"
	"math/rand"

	"pathflow/internal/util"
)

type Config struct {
	InputDim   int  `json:"input_dim"`
	HiddenDim  int  `json:"hidden_dim"`
	AttnDim    int  `json:"attn_dim"`
	NumClasses int  `json:"num_classes"` // 1 with Regression set
	Regression bool `json:"regression"`
}

// Model is an attention-pooling multiple-instance classifier: a shared
// instance encoder, a tanh attention scorer, masked softmax pooling and a
// linear head. The forward pass is a pure function of (instances, mask)
// and the parameters; its output is invariant to any permutation of the
// valid instances and to the choice of padding positions.
type Model struct {
	Cfg Config

	We, Be *Mat // encoder: [D,M], [1,M]
	V      *Mat // attention projection: [M,L]
	Wa     *Mat // attention vector: [L,1]
	Wc, Bc *Mat // head: [M,C], [1,C]
}

func New(cfg Config, seed int64) *Model {
	rng := rand.New(rand.NewSource(seed))
	return &Model{
		Cfg: cfg,
		We:  NewMatRand(cfg.InputDim, cfg.HiddenDim, rng),
		Be:  NewMat(1, cfg.HiddenDim),
		V:   NewMatRand(cfg.HiddenDim, cfg.AttnDim, rng),
		Wa:  NewMatRand(cfg.AttnDim, 1, rng),
		Wc:  NewMatRand(cfg.HiddenDim, cfg.NumClasses, rng),
		Bc:  NewMat(1, cfg.NumClasses),
	}
}

func (m *Model) Params() []*Mat {
	return []*Mat{m.We, m.Be, m.V, m.Wa, m.Wc, m.Bc}
}

// Output of one forward pass. Attention has one weight per input row;
// invalid rows carry exactly zero.
type Output struct {
	Logits    []float64
	Attention []float64
}

// cache holds intermediates one backward pass needs.
type cache struct {
	instances [][]float64
	mask      []bool
	hidden    [][]float64 // post-ReLU, [N][M]
	pre       [][]float64 // pre-ReLU, [N][M]
	tanh      [][]float64 // [N][L]
	attn      []float64   // [N]
	pooled    []float64   // [M]
}

func (m *Model) Forward(instances [][]float64, mask []bool) (Output, error) {
	out, _, err := m.forward(instances, mask)
	return out, err
}

func (m *Model) forward(instances [][]float64, mask []bool) (Output, *cache, error) {
	n := len(instances)
	if n == 0 || len(mask) != n {
		return Output{}, nil, fmt.Errorf("mil: %d instances, %d mask entries: %w", n, len(mask), util.ErrShapeMismatch)
	}
	anyValid := false
	for _, v := range mask {
		anyValid = anyValid || v
	}
	if !anyValid {
		return Output{}, nil, fmt.Errorf("mil: mask has no valid instance: %w", util.ErrShapeMismatch)
	}
	d, hd, ad, c := m.Cfg.InputDim, m.Cfg.HiddenDim, m.Cfg.AttnDim, m.Cfg.NumClasses

	cc := &cache{
		instances: instances,
		mask:      mask,
		hidden:    make([][]float64, n),
		pre:       make([][]float64, n),
		tanh:      make([][]float64, n),
		attn:      make([]float64, n),
		pooled:    make([]float64, hd),
	}
	scores := make([]float64, n)
	for i := 0; i < n; i++ {
		if !mask[i] {
			continue
		}
		if len(instances[i]) != d {
			return Output{}, nil, fmt.Errorf("mil: instance %d has dimension %d, want %d: %w",
				i, len(instances[i]), d, util.ErrShapeMismatch)
		}
		// encoder: h = relu(x We + be), shared weights across instances
		pre := make([]float64, hd)
		h := make([]float64, hd)
		for j := 0; j < hd; j++ {
			sum := m.Be.At(0, j)
			for k := 0; k < d; k++ {
				sum += instances[i][k] * m.We.At(k, j)
			}
			pre[j] = sum
			if sum > 0 {
				h[j] = sum
			}
		}
		cc.pre[i], cc.hidden[i] = pre, h

		// attention score: s = wa . tanh(h V)
		t := make([]float64, ad)
		s := 0.0
		for l := 0; l < ad; l++ {
			sum := 0.0
			for j := 0; j < hd; j++ {
				sum += h[j] * m.V.At(j, l)
			}
			t[l] = math.Tanh(sum)
			s += t[l] * m.Wa.At(l, 0)
		}
		cc.tanh[i] = t
		scores[i] = s
	}

	// masked softmax: invalid positions are -inf scores, giving them zero
	// weight without ever dividing by a near-zero sum
	maxScore := math.Inf(-1)
	for i := 0; i < n; i++ {
		if mask[i] && scores[i] > maxScore {
			maxScore = scores[i]
		}
	}
	var denom float64
	for i := 0; i < n; i++ {
		if mask[i] {
			cc.attn[i] = math.Exp(scores[i] - maxScore)
			denom += cc.attn[i]
		}
	}
	for i := 0; i < n; i++ {
		if mask[i] {
			cc.attn[i] /= denom
		}
	}

	for i := 0; i < n; i++ {
		if !mask[i] {
			continue
		}
		for j := 0; j < hd; j++ {
			cc.pooled[j] += cc.attn[i] * cc.hidden[i][j]
		}
	}

	logits := make([]float64, c)
	for k := 0; k < c; k++ {
		sum := m.Bc.At(0, k)
		for j := 0; j < hd; j++ {
			sum += cc.pooled[j] * m.Wc.At(j, k)
		}
		logits[k] = sum
	}
	attn := make([]float64, n)
	copy(attn, cc.attn)
	return Output{Logits: logits, Attention: attn}, cc, nil
}

// backward accumulates parameter gradients for one bag given the gradient
// of the loss with respect to the logits.
func (m *Model) backward(cc *cache, dlogits []float64) {
	n := len(cc.instances)
	d, hd, ad, c := m.Cfg.InputDim, m.Cfg.HiddenDim, m.Cfg.AttnDim, m.Cfg.NumClasses

	// head
	dz := make([]float64, hd)
	for k := 0; k < c; k++ {
		m.Bc.AddGrad(0, k, dlogits[k])
		for j := 0; j < hd; j++ {
			m.Wc.AddGrad(j, k, cc.pooled[j]*dlogits[k])
			dz[j] += m.Wc.At(j, k) * dlogits[k]
		}
	}

	// pooling: z = sum_i a_i h_i
	dattn := make([]float64, n)
	dhidden := make([][]float64, n)
	for i := 0; i < n; i++ {
		if !cc.mask[i] {
			continue
		}
		dh := make([]float64, hd)
		for j := 0; j < hd; j++ {
			dattn[i] += dz[j] * cc.hidden[i][j]
			dh[j] = cc.attn[i] * dz[j]
		}
		dhidden[i] = dh
	}

	// softmax over valid positions
	var dot float64
	for i := 0; i < n; i++ {
		if cc.mask[i] {
			dot += cc.attn[i] * dattn[i]
		}
	}
	dscore := make([]float64, n)
	for i := 0; i < n; i++ {
		if cc.mask[i] {
			dscore[i] = cc.attn[i] * (dattn[i] - dot)
		}
	}

	for i := 0; i < n; i++ {
		if !cc.mask[i] {
			continue
		}
		// score: s_i = wa . t_i, t_i = tanh(h_i V)
		du := make([]float64, ad)
		for l := 0; l < ad; l++ {
			m.Wa.AddGrad(l, 0, dscore[i]*cc.tanh[i][l])
			du[l] = dscore[i] * m.Wa.At(l, 0) * (1 - cc.tanh[i][l]*cc.tanh[i][l])
		}
		dh := dhidden[i]
		for j := 0; j < hd; j++ {
			for l := 0; l < ad; l++ {
				m.V.AddGrad(j, l, cc.hidden[i][j]*du[l])
				dh[j] += m.V.At(j, l) * du[l]
			}
		}
		// encoder: h = relu(x We + be)
		for j := 0; j < hd; j++ {
			if cc.pre[i][j] <= 0 {
				continue
			}
			m.Be.AddGrad(0, j, dh[j])
			for k := 0; k < d; k++ {
				m.We.AddGrad(k, j, cc.instances[i][k]*dh[j])
			}
		}
	}
}
