package mil

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"pathflow/internal/util"
)

// Checkpoint is the fold artifact: trained parameters plus the exact
// slide split, enough to reproduce that fold's validation predictions
// without retraining.
type Checkpoint struct {
	RunID       string
	Fold        int
	Config      Config
	Classes     []string
	Fingerprint string
	TrainSlides []string
	ValSlides   []string
	Weights     []MatState
}

type MatState struct {
	Name       string
	Rows, Cols int
	Data       []float64
}

func (m *Model) Snapshot(runID string, fold int, classes []string, fingerprint string, train, val []string) Checkpoint {
	names := []string{"we", "be", "v", "wa", "wc", "bc"}
	params := m.Params()
	weights := make([]MatState, len(params))
	for i, p := range params {
		data := make([]float64, len(p.Data))
		copy(data, p.Data)
		weights[i] = MatState{Name: names[i], Rows: p.Rows, Cols: p.Cols, Data: data}
	}
	return Checkpoint{
		RunID:       runID,
		Fold:        fold,
		Config:      m.Cfg,
		Classes:     classes,
		Fingerprint: fingerprint,
		TrainSlides: train,
		ValSlides:   val,
		Weights:     weights,
	}
}

// Restore rebuilds a model from a checkpoint.
func (c Checkpoint) Restore() (*Model, error) {
	m := New(c.Config, 0)
	params := m.Params()
	if len(c.Weights) != len(params) {
		return nil, fmt.Errorf("checkpoint has %d weight blocks, want %d", len(c.Weights), len(params))
	}
	for i, w := range c.Weights {
		p := params[i]
		if w.Rows != p.Rows || w.Cols != p.Cols || len(w.Data) != len(p.Data) {
			return nil, fmt.Errorf("checkpoint block %s is %dx%d, want %dx%d", w.Name, w.Rows, w.Cols, p.Rows, p.Cols)
		}
		copy(p.Data, w.Data)
	}
	return m, nil
}

func SaveCheckpoint(path string, c Checkpoint) error {
	return util.WriteFileAtomic(path, func(w io.Writer) error {
		if err := gob.NewEncoder(w).Encode(c); err != nil {
			return fmt.Errorf("encode checkpoint: %w", err)
		}
		return nil
	})
}

func LoadCheckpoint(path string) (Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()
	var c Checkpoint
	if err := gob.NewDecoder(f).Decode(&c); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	return c, nil
}
