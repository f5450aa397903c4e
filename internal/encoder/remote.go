package encoder

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Remote calls an embedding sidecar (e.g. a torchserve wrapper around a
// pathology foundation model) over HTTP. Tiles go out PNG-encoded; vectors
// come back row per tile, order preserved.
type Remote struct {
	baseURL string
	model   string
	dim     int
	client  *http.Client
}

func NewRemote(model string, dim int) *Remote {
	baseURL := strings.TrimSpace(os.Getenv("PATHFLOW_ENCODER_BASE_URL"))
	if baseURL == "" {
		baseURL = "http://localhost:9090"
	}
	if model == "" {
		model = "uni"
	}
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		dim:     dim,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (r *Remote) Info() Info {
	return Info{Name: "remote", Model: r.model, Dim: r.dim}
}

func (r *Remote) Embed(ctx context.Context, tiles []*image.RGBA) ([][]float32, error) {
	if len(tiles) == 0 {
		return nil, fmt.Errorf("no tiles to embed")
	}
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 2 * time.Second):
			}
		}
		vectors, err := r.embedOnce(ctx, tiles)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if !Retryable(err) {
			break
		}
	}
	return nil, lastErr
}

func (r *Remote) embedOnce(ctx context.Context, tiles []*image.RGBA) ([][]float32, error) {
	images := make([]string, 0, len(tiles))
	for i, tile := range tiles {
		var buf bytes.Buffer
		if err := png.Encode(&buf, tile); err != nil {
			return nil, fmt.Errorf("encode tile %d: %w", i, err)
		}
		images = append(images, base64.StdEncoding.EncodeToString(buf.Bytes()))
	}
	payload, _ := json.Marshal(map[string]any{
		"model":  r.model,
		"images": images,
	})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("encoder request failed: %w", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("encoder error %d: %s", resp.StatusCode, string(body))
	}
	var parsed struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode encoder response: %w", err)
	}
	if len(parsed.Embeddings) != len(tiles) {
		return nil, fmt.Errorf("encoder returned %d vectors for %d tiles", len(parsed.Embeddings), len(tiles))
	}
	for i, v := range parsed.Embeddings {
		if len(v) != r.dim {
			return nil, fmt.Errorf("encoder vector %d has dimension %d, want %d", i, len(v), r.dim)
		}
	}
	return parsed.Embeddings, nil
}
