package tessellate

import (
	"context"
	"fmt"
	"image"
	"math"

	"pathflow/internal/imgutil"
	"pathflow/internal/models"
	"pathflow/internal/slide"
	"pathflow/internal/util"
)

type Params struct {
	TileSizeUM      float64 // physical tile side length
	TargetMPP       float64 // resolution the encoder expects
	CoverageMin     float64 // minimum tissue fraction within a tile footprint
	SaturationMin   float64
	MorphRadius     int
	ThumbnailMaxDim int
}

func DefaultParams() Params {
	return Params{
		TileSizeUM:      256,
		TargetMPP:       1.0,
		CoverageMin:     0.5,
		SaturationMin:   0.15,
		MorphRadius:     1,
		ThumbnailMaxDim: 2048,
	}
}

// Key returns the parameter component of the cache fingerprint. Any change
// here must invalidate previously cached bags.
func (p Params) Key() string {
	return fmt.Sprintf("tile=%gum mpp=%g cov=%g sat=%g morph=%d thumb=%d",
		p.TileSizeUM, p.TargetMPP, p.CoverageMin, p.SaturationMin, p.MorphRadius, p.ThumbnailMaxDim)
}

// Result is the ordered tile grid of one slide. Coords are level-0 pixel
// positions; TileSizePx0 is the level-0 footprint side, TileSizePx the side
// after resampling to TargetMPP.
type Result struct {
	Coords      []models.TileCoord
	TileSizePx0 int
	TileSizePx  int
}

// Tessellate produces the deterministic, row-major (y, x) ordered sequence
// of tissue tile coordinates for a slide. A slide with zero qualifying
// tiles returns ErrEmptyTissue rather than an empty sequence, so an empty
// result can never be mistaken for a cached-but-vacant bag.
func Tessellate(ctx context.Context, s slide.Slide, p Params) (Result, error) {
	info := s.Info()
	if info.MPP <= 0 {
		return Result{}, fmt.Errorf("slide %s: missing microns-per-pixel metadata", info.ID)
	}
	tilePx0 := int(math.Round(p.TileSizeUM / info.MPP))
	tilePx := int(math.Round(p.TileSizeUM / p.TargetMPP))
	if tilePx0 <= 0 || tilePx <= 0 {
		return Result{}, fmt.Errorf("slide %s: tile size %gum collapses to zero pixels", info.ID, p.TileSizeUM)
	}

	thumb, err := readThumbnail(ctx, s, p.ThumbnailMaxDim)
	if err != nil {
		return Result{}, fmt.Errorf("slide %s: thumbnail: %w", info.ID, err)
	}
	mask := tissueMask(thumb, p.SaturationMin).open(p.MorphRadius)

	level0 := info.Levels[0]
	// thumbnail pixels per level-0 pixel
	scaleX := float64(mask.w) / float64(level0.Width)
	scaleY := float64(mask.h) / float64(level0.Height)

	coords := make([]models.TileCoord, 0, 256)
	for y := 0; y+tilePx0 <= level0.Height; y += tilePx0 {
		for x := 0; x+tilePx0 <= level0.Width; x += tilePx0 {
			mx0 := int(float64(x) * scaleX)
			my0 := int(float64(y) * scaleY)
			mx1 := int(math.Ceil(float64(x+tilePx0) * scaleX))
			my1 := int(math.Ceil(float64(y+tilePx0) * scaleY))
			if mask.coverage(mx0, my0, mx1, my1) >= p.CoverageMin {
				coords = append(coords, models.TileCoord{X: x, Y: y})
			}
		}
	}
	if len(coords) == 0 {
		return Result{}, fmt.Errorf("slide %s: %w", info.ID, util.ErrEmptyTissue)
	}
	return Result{Coords: coords, TileSizePx0: tilePx0, TileSizePx: tilePx}, nil
}

func readThumbnail(ctx context.Context, s slide.Slide, maxDim int) (*image.RGBA, error) {
	info := s.Info()
	level0 := info.Levels[0]
	longest := level0.Width
	if level0.Height > longest {
		longest = level0.Height
	}
	want := float64(longest) / float64(maxDim)
	if want < 1 {
		want = 1
	}
	lvIdx := slide.BestLevelFor(info, want)
	lv := info.Levels[lvIdx]
	img, err := s.ReadRegion(ctx, lvIdx, 0, 0, lv.Width, lv.Height)
	if err != nil {
		return nil, err
	}
	if lv.Width <= maxDim && lv.Height <= maxDim {
		return img, nil
	}
	scale := float64(maxDim) / float64(longest) * lv.Downsample
	w := int(float64(lv.Width) * scale)
	h := int(float64(lv.Height) * scale)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return imgutil.Resize(img, w, h), nil
}
