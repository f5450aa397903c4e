package mil

import (
	"math"
	"math/rand"
)

// Mat is a dense row-major float64 matrix carrying its own gradient
// buffer. Not safe for concurrent use; each fold trains its own model and
// never shares parameters.
type Mat struct {
	Rows, Cols int
	Data       []float64
	Grad       []float64
}

func NewMat(rows, cols int) *Mat {
	return &Mat{
		Rows: rows,
		Cols: cols,
		Data: make([]float64, rows*cols),
		Grad: make([]float64, rows*cols),
	}
}

// NewMatRand initialises from N(0, 0.02^2) via the Box-Muller transform,
// drawing from the supplied rng so model construction is reproducible per
// seed.
func NewMatRand(rows, cols int, rng *rand.Rand) *Mat {
	m := NewMat(rows, cols)
	for i := 0; i < len(m.Data); i += 2 {
		u1, u2 := rng.Float64(), rng.Float64()
		if u1 < 1e-12 {
			u1 = 1e-12
		}
		mag := 0.02 * math.Sqrt(-2*math.Log(u1))
		m.Data[i] = mag * math.Cos(2*math.Pi*u2)
		if i+1 < len(m.Data) {
			m.Data[i+1] = mag * math.Sin(2*math.Pi*u2)
		}
	}
	return m
}

func (m *Mat) At(i, j int) float64         { return m.Data[i*m.Cols+j] }
func (m *Mat) Set(i, j int, v float64)     { m.Data[i*m.Cols+j] = v }
func (m *Mat) AddGrad(i, j int, v float64) { m.Grad[i*m.Cols+j] += v }

func (m *Mat) ZeroGrad() {
	for i := range m.Grad {
		m.Grad[i] = 0
	}
}
