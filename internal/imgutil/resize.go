package imgutil

import "image"

// Resize scales src to w*h with nearest-neighbour sampling. Good enough for
// thumbnails and tile preprocessing; encoders do their own normalisation of
// pixel statistics, not of geometry.
func Resize(src *image.RGBA, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	sb := src.Bounds()
	sw, sh := sb.Dx(), sb.Dy()
	if sw == 0 || sh == 0 || w == 0 || h == 0 {
		return dst
	}
	for y := 0; y < h; y++ {
		sy := sb.Min.Y + y*sh/h
		for x := 0; x < w; x++ {
			sx := sb.Min.X + x*sw/w
			si := src.PixOffset(sx, sy)
			di := dst.PixOffset(x, y)
			copy(dst.Pix[di:di+4], src.Pix[si:si+4])
		}
	}
	return dst
}

// RGBToHSV converts 8-bit RGB to h in [0,360), s and v in [0,1].
func RGBToHSV(r, g, b uint8) (float64, float64, float64) {
	rf, gf, bf := float64(r)/255, float64(g)/255, float64(b)/255
	max := rf
	if gf > max {
		max = gf
	}
	if bf > max {
		max = bf
	}
	min := rf
	if gf < min {
		min = gf
	}
	if bf < min {
		min = bf
	}
	v := max
	d := max - min
	var s float64
	if max > 0 {
		s = d / max
	}
	var h float64
	switch {
	case d == 0:
		h = 0
	case max == rf:
		h = 60 * ((gf - bf) / d)
	case max == gf:
		h = 60 * ((bf-rf)/d + 2)
	default:
		h = 60 * ((rf-gf)/d + 4)
	}
	if h < 0 {
		h += 360
	}
	return h, s, v
}
