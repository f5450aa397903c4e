package encoder

import (
	"context"
	"fmt"
	"image"
	"strings"
)

// Info identifies an encoder precisely enough to fingerprint its output.
// Two encoders with the same Info must be interchangeable embedding for
// embedding; anything that changes the vectors must change Info.
type Info struct {
	Name  string `json:"name"`
	Model string `json:"model"`
	Dim   int    `json:"dim"`
}

// Identifier is the stable string that participates in cache fingerprints.
func (i Info) Identifier() string {
	return fmt.Sprintf("%s/%s/d%d", i.Name, i.Model, i.Dim)
}

// Encoder maps a batch of preprocessed tiles to embedding vectors of a
// fixed dimension. Implementations wrap a specific backbone; the pipeline
// is agnostic to which. New encoders are added by implementing this
// interface, not by extending the extractor.
type Encoder interface {
	Info() Info
	Embed(ctx context.Context, tiles []*image.RGBA) ([][]float32, error)
}

// New builds an encoder by name. "mock" is deterministic and dependency
// free; "remote" talks to an inference sidecar over HTTP. Model aliases
// follow the name after a colon, e.g. "remote:uni".
func New(spec string, dim int) (Encoder, error) {
	name, model := spec, ""
	if i := strings.IndexByte(spec, ':'); i >= 0 {
		name, model = spec[:i], spec[i+1:]
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "mock":
		return NewMock(dim), nil
	case "remote":
		return NewRemote(model, dim), nil
	default:
		return nil, fmt.Errorf("unknown encoder %q", spec)
	}
}
