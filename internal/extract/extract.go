package extract

import (
	"context"
	"fmt"
	"image"
	"log"

	"pathflow/internal/encoder"
	"pathflow/internal/imgutil"
	"pathflow/internal/models"
	"pathflow/internal/slide"
	"pathflow/internal/util"
)

type Params struct {
	TileSizePx0 int // level-0 footprint side from tessellation
	TileSizePx  int // side after resampling to the target resolution
	BatchSize   int // bounds peak pixel memory per encoder call
}

// Result keeps coordinates and embeddings zipped: Coords[i] produced
// Features[i]. Tiles whose region read failed appear in neither and are
// only counted in Dropped.
type Result struct {
	Coords   []models.TileCoord
	Features [][]float32
	Dropped  int
}

// Extract reads each tile region, resamples it to the encoder's input
// size, and embeds in bounded batches, preserving tile order throughout.
// A failed read drops the single tile; a slide losing more than half its
// tiles is failed outright so a mostly unreadable file cannot masquerade
// as a small healthy bag.
func Extract(ctx context.Context, s slide.Slide, coords []models.TileCoord, enc encoder.Encoder, p Params) (Result, error) {
	if p.BatchSize <= 0 {
		p.BatchSize = 64
	}
	info := s.Info()

	kept := make([]models.TileCoord, 0, len(coords))
	tiles := make([]*image.RGBA, 0, p.BatchSize)
	features := make([][]float32, 0, len(coords))
	dropped := 0

	flush := func() error {
		if len(tiles) == 0 {
			return nil
		}
		vecs, err := enc.Embed(ctx, tiles)
		if err != nil {
			return fmt.Errorf("embed batch of %d tiles: %w", len(tiles), err)
		}
		if len(vecs) != len(tiles) {
			return fmt.Errorf("encoder returned %d vectors for %d tiles", len(vecs), len(tiles))
		}
		features = append(features, vecs...)
		tiles = tiles[:0]
		return nil
	}

	for _, c := range coords {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		region, err := s.ReadRegion(ctx, 0, c.X, c.Y, p.TileSizePx0, p.TileSizePx0)
		if err != nil {
			dropped++
			log.Printf("slide %s: dropping tile (%d,%d): %v", info.ID, c.X, c.Y, err)
			continue
		}
		if p.TileSizePx != p.TileSizePx0 {
			region = imgutil.Resize(region, p.TileSizePx, p.TileSizePx)
		}
		kept = append(kept, c)
		tiles = append(tiles, region)
		if len(tiles) == p.BatchSize {
			if err := flush(); err != nil {
				return Result{}, err
			}
		}
	}
	if err := flush(); err != nil {
		return Result{}, err
	}

	if 2*dropped > len(coords) {
		return Result{}, fmt.Errorf("slide %s: %d of %d tiles unreadable: %w",
			info.ID, dropped, len(coords), util.ErrMostlyFailedSlide)
	}
	if len(kept) != len(features) {
		return Result{}, fmt.Errorf("slide %s: %d coords but %d features: %w",
			info.ID, len(kept), len(features), util.ErrShapeMismatch)
	}
	return Result{Coords: kept, Features: features, Dropped: dropped}, nil
}
