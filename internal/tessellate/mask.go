package tessellate

import (
	"image"

	"pathflow/internal/imgutil"
)

// binMask is a thumbnail-resolution tissue mask.
type binMask struct {
	w, h int
	on   []bool
}

func newBinMask(w, h int) *binMask {
	return &binMask{w: w, h: h, on: make([]bool, w*h)}
}

func (m *binMask) at(x, y int) bool {
	if x < 0 || y < 0 || x >= m.w || y >= m.h {
		return false
	}
	return m.on[y*m.w+x]
}

func (m *binMask) set(x, y int, v bool) { m.on[y*m.w+x] = v }

// tissueMask thresholds the thumbnail in HSV space: stained tissue is
// saturated, background glass is bright and grey, pen marks and scanner
// black are near-zero value.
func tissueMask(thumb *image.RGBA, satMin float64) *binMask {
	b := thumb.Bounds()
	m := newBinMask(b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			i := thumb.PixOffset(b.Min.X+x, b.Min.Y+y)
			_, s, v := imgutil.RGBToHSV(thumb.Pix[i], thumb.Pix[i+1], thumb.Pix[i+2])
			m.set(x, y, s >= satMin && v >= 0.1)
		}
	}
	return m
}

// open removes speckle smaller than the structuring radius: erosion
// followed by dilation with a square element.
func (m *binMask) open(radius int) *binMask {
	if radius <= 0 {
		return m
	}
	return m.erode(radius).dilate(radius)
}

func (m *binMask) erode(r int) *binMask {
	out := newBinMask(m.w, m.h)
	for y := 0; y < m.h; y++ {
		for x := 0; x < m.w; x++ {
			keep := true
			for dy := -r; dy <= r && keep; dy++ {
				for dx := -r; dx <= r && keep; dx++ {
					if !m.at(x+dx, y+dy) {
						keep = false
					}
				}
			}
			out.set(x, y, keep)
		}
	}
	return out
}

func (m *binMask) dilate(r int) *binMask {
	out := newBinMask(m.w, m.h)
	for y := 0; y < m.h; y++ {
		for x := 0; x < m.w; x++ {
			hit := false
			for dy := -r; dy <= r && !hit; dy++ {
				for dx := -r; dx <= r && !hit; dx++ {
					if m.at(x+dx, y+dy) {
						hit = true
					}
				}
			}
			out.set(x, y, hit)
		}
	}
	return out
}

// coverage is the fraction of mask pixels set within the given
// mask-resolution rectangle.
func (m *binMask) coverage(x0, y0, x1, y1 int) float64 {
	if x1 > m.w {
		x1 = m.w
	}
	if y1 > m.h {
		y1 = m.h
	}
	if x0 >= x1 || y0 >= y1 {
		return 0
	}
	n, total := 0, 0
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			total++
			if m.at(x, y) {
				n++
			}
		}
	}
	return float64(n) / float64(total)
}
