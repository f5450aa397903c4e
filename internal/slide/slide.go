package slide

import (
	"context"
	"image"
)

// Level is one resolution level of a pyramidal slide. Downsample is the
// factor relative to level 0.
type Level struct {
	Width      int
	Height     int
	Downsample float64
}

type Info struct {
	ID     string
	MPP    float64 // microns per pixel at level 0
	Levels []Level
}

// Slide is the capability the pipeline needs from a whole-slide image
// reader. Implementations wrap a specific codec; the pipeline never does.
// A Slide is immutable once opened and must be closed by the caller.
type Slide interface {
	Info() Info
	// ReadRegion reads a w*h pixel region at the given level. x and y are
	// pixel coordinates in the level's own coordinate space.
	ReadRegion(ctx context.Context, level, x, y, w, h int) (*image.RGBA, error)
	Close() error
}

// Opener opens a slide file by path.
type Opener interface {
	Open(path string) (Slide, error)
}

// BestLevelFor returns the densest level whose downsample factor does not
// exceed the requested one, falling back to level 0.
func BestLevelFor(info Info, downsample float64) int {
	best := 0
	for i, lv := range info.Levels {
		if lv.Downsample <= downsample && lv.Downsample >= info.Levels[best].Downsample {
			best = i
		}
	}
	return best
}
