package encoder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"image"
	"math"
)

// Mock derives unit-norm embeddings from a digest of the tile pixels.
// Identical pixels always embed identically, which is what the cache and
// determinism tests lean on.
type Mock struct {
	dim int
}

func NewMock(dim int) *Mock {
	if dim <= 0 {
		dim = 768
	}
	return &Mock{dim: dim}
}

func (m *Mock) Info() Info {
	return Info{Name: "mock", Model: fmt.Sprintf("mock-embed-%d", m.dim), Dim: m.dim}
}

func (m *Mock) Embed(ctx context.Context, tiles []*image.RGBA) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vectors := make([][]float32, 0, len(tiles))
	for _, tile := range tiles {
		seed := sha256.Sum256(tile.Pix)
		vectors = append(vectors, deterministicVector(seed[:], m.dim))
	}
	return vectors, nil
}

func deterministicVector(seed []byte, dim int) []float32 {
	vec := make([]float32, dim)
	for i := 0; i < dim; i++ {
		h := sha256.Sum256(append(seed, byte(i%251), byte(i/251)))
		u := binary.BigEndian.Uint32(h[:4])
		vec[i] = float32(u%2000)/1000.0 - 1.0
	}
	return normalize(vec)
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}
