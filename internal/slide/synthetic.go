package slide

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"os"

	"pathflow/internal/imgutil"
)

// SyntheticDescriptor is the on-disk form understood by SyntheticOpener: a
// tiny JSON file standing in for a real scanner file during development and
// tests. Tissue regions are painted as eosin-pink rectangles on a white
// background.
type SyntheticDescriptor struct {
	SlideID string  `json:"slide_id"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	MPP     float64 `json:"mpp"`
	Tissue  []Rect  `json:"tissue"`
}

type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Synthetic is an in-memory pyramidal slide. Level 0 is materialised;
// higher levels are downsampled on read.
type Synthetic struct {
	info   Info
	level0 *image.RGBA
	closed bool
}

func NewSynthetic(d SyntheticDescriptor) *Synthetic {
	img := image.NewRGBA(image.Rect(0, 0, d.Width, d.Height))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 0xf5, 0xf5, 0xf5, 0xff
	}
	tissue := color.RGBA{R: 0xc8, G: 0x64, B: 0x96, A: 0xff}
	for _, r := range d.Tissue {
		for y := r.Y; y < r.Y+r.H && y < d.Height; y++ {
			for x := r.X; x < r.X+r.W && x < d.Width; x++ {
				img.SetRGBA(x, y, tissue)
			}
		}
	}
	levels := []Level{{Width: d.Width, Height: d.Height, Downsample: 1}}
	for ds := 4.0; float64(d.Width)/ds >= 64 && float64(d.Height)/ds >= 64; ds *= 4 {
		levels = append(levels, Level{
			Width:      int(float64(d.Width) / ds),
			Height:     int(float64(d.Height) / ds),
			Downsample: ds,
		})
	}
	mpp := d.MPP
	if mpp <= 0 {
		mpp = 0.25
	}
	return &Synthetic{
		info:   Info{ID: d.SlideID, MPP: mpp, Levels: levels},
		level0: img,
	}
}

func (s *Synthetic) Info() Info { return s.info }

func (s *Synthetic) ReadRegion(ctx context.Context, level, x, y, w, h int) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed {
		return nil, fmt.Errorf("read region on closed slide %s", s.info.ID)
	}
	if level < 0 || level >= len(s.info.Levels) {
		return nil, fmt.Errorf("slide %s has no level %d", s.info.ID, level)
	}
	lv := s.info.Levels[level]
	if x < 0 || y < 0 || x+w > lv.Width || y+h > lv.Height {
		return nil, fmt.Errorf("region (%d,%d %dx%d) outside level %d of slide %s", x, y, w, h, level, s.info.ID)
	}
	ds := lv.Downsample
	x0 := int(float64(x) * ds)
	y0 := int(float64(y) * ds)
	w0 := int(float64(w) * ds)
	h0 := int(float64(h) * ds)
	sub := s.level0.SubImage(image.Rect(x0, y0, x0+w0, y0+h0)).(*image.RGBA)
	if level == 0 {
		out := image.NewRGBA(image.Rect(0, 0, w, h))
		for yy := 0; yy < h; yy++ {
			si := sub.PixOffset(x0, y0+yy)
			di := out.PixOffset(0, yy)
			copy(out.Pix[di:di+4*w], sub.Pix[si:si+4*w])
		}
		return out, nil
	}
	return imgutil.Resize(sub, w, h), nil
}

func (s *Synthetic) Close() error {
	s.closed = true
	return nil
}

// SyntheticOpener opens *.slide.json descriptor files.
type SyntheticOpener struct{}

func (SyntheticOpener) Open(path string) (Slide, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open slide descriptor: %w", err)
	}
	var d SyntheticDescriptor
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("parse slide descriptor %s: %w", path, err)
	}
	if d.Width <= 0 || d.Height <= 0 {
		return nil, fmt.Errorf("slide descriptor %s has invalid dimensions", path)
	}
	return NewSynthetic(d), nil
}
