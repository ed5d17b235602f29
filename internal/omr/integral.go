package omr

import (
	"image"
	"math"
)

// darkIntegral is a summed-area table over the dark-pixel mask of a sheet.
// Fill queries are O(1) regardless of rectangle size.
type darkIntegral struct {
	width, height int
	sum           []int32 // (width+1)*(height+1), row-major, first row and column zero
}

func newDarkIntegral(g *image.Gray, cutoff uint8) *darkIntegral {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	stride := w + 1
	sum := make([]int32, stride*(h+1))
	for y := 0; y < h; y++ {
		var row int32
		off := g.PixOffset(b.Min.X, b.Min.Y+y)
		for x, v := range g.Pix[off : off+w] {
			if v < cutoff {
				row++
			}
			sum[(y+1)*stride+x+1] = sum[y*stride+x+1] + row
		}
	}
	return &darkIntegral{width: w, height: h, sum: sum}
}

// count returns the number of dark pixels in [x0,x1)×[y0,y1), clipped to the image.
func (d *darkIntegral) count(x0, y0, x1, y1 int) (dark, area int) {
	x0, y0 = max(x0, 0), max(y0, 0)
	x1, y1 = min(x1, d.width), min(y1, d.height)
	if x1 <= x0 || y1 <= y0 {
		return 0, 0
	}
	s := d.width + 1
	dark = int(d.sum[y1*s+x1] - d.sum[y0*s+x1] - d.sum[y1*s+x0] + d.sum[y0*s+x0])
	return dark, (x1 - x0) * (y1 - y0)
}

// fill returns the dark fraction of a pixel rectangle, 0 for empty rectangles.
func (d *darkIntegral) fill(x0, y0, x1, y1 int) float64 {
	dark, area := d.count(x0, y0, x1, y1)
	if area == 0 {
		return 0
	}
	return float64(dark) / float64(area)
}

// fillF rounds fractional edges to pixels before querying.
func (d *darkIntegral) fillF(x0, y0, x1, y1 float64) float64 {
	return d.fill(roundPx(x0), roundPx(y0), roundPx(x1), roundPx(y1))
}

func roundPx(v float64) int {
	return int(math.Round(v))
}
