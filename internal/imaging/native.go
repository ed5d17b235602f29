package imaging

import (
	"bytes"
	"fmt"
	"image"
	"math"

	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Native is the pure-Go backend.
type Native struct {
	// ClipFraction is the share of darkest and brightest pixels ignored when
	// picking the stretch bounds in Normalize.
	ClipFraction float64
}

// NewNative returns a Native backend with a 1% histogram clip.
func NewNative() *Native {
	return &Native{ClipFraction: 0.01}
}

func (n *Native) Name() string { return "native" }

func (n *Native) Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

func (n *Native) Grayscale(img image.Image) (*image.Gray, error) {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out, nil
}

func (n *Native) Normalize(g *image.Gray) (*image.Gray, error) {
	var hist [256]int
	b := g.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := g.Pix[(y-b.Min.Y)*g.Stride : (y-b.Min.Y)*g.Stride+b.Dx()]
		for _, v := range row {
			hist[v]++
		}
	}

	total := b.Dx() * b.Dy()
	lo, hi := percentile(hist, total, n.ClipFraction), percentile(hist, total, 1-n.ClipFraction)
	if hi <= lo {
		lo, hi = percentile(hist, total, 0), percentile(hist, total, 1)
	}

	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	if hi <= lo {
		copyGray(out, g)
		return out, nil
	}

	var lut [256]uint8
	scale := 255 / float64(hi-lo)
	for v := 0; v < 256; v++ {
		s := math.Round(float64(v-lo) * scale)
		lut[v] = uint8(math.Max(0, math.Min(255, s)))
	}
	for y := 0; y < b.Dy(); y++ {
		src := g.Pix[y*g.Stride : y*g.Stride+b.Dx()]
		dst := out.Pix[y*out.Stride : y*out.Stride+b.Dx()]
		for x, v := range src {
			dst[x] = lut[v]
		}
	}
	return out, nil
}

func (n *Native) Threshold(g *image.Gray, level uint8) (*image.Gray, error) {
	b := g.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		src := g.Pix[y*g.Stride : y*g.Stride+b.Dx()]
		dst := out.Pix[y*out.Stride : y*out.Stride+b.Dx()]
		for x, v := range src {
			if v >= level {
				dst[x] = 255
			}
		}
	}
	return out, nil
}

func (n *Native) ResizeToWidth(g *image.Gray, width int) (*image.Gray, error) {
	b := g.Bounds()
	if width <= 0 || b.Dx() == 0 {
		return nil, fmt.Errorf("invalid resize width %d for source width %d", width, b.Dx())
	}
	height := int(math.Round(float64(b.Dy()) * float64(width) / float64(b.Dx())))
	if height <= 0 {
		height = 1
	}
	out := image.NewGray(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(out, out.Bounds(), g, b, draw.Src, nil)
	return out, nil
}

func (n *Native) Crop(g *image.Gray, r Rect) (*image.Gray, error) {
	b := g.Bounds()
	clipped, ok := r.Clip(b.Dx(), b.Dy())
	if !ok {
		return nil, fmt.Errorf("crop region %+v outside %dx%d image", r, b.Dx(), b.Dy())
	}
	src := g.SubImage(clipped.Rectangle().Add(b.Min)).(*image.Gray)
	out := image.NewGray(image.Rect(0, 0, clipped.Width, clipped.Height))
	copyGray(out, src)
	return out, nil
}

// percentile returns the smallest value v such that at least q of all pixels are <= v.
func percentile(hist [256]int, total int, q float64) int {
	target := int(math.Ceil(q * float64(total)))
	if target < 1 {
		target = 1
	}
	seen := 0
	for v, c := range hist {
		seen += c
		if seen >= target {
			return v
		}
	}
	return 255
}

func copyGray(dst, src *image.Gray) {
	sb := src.Bounds()
	for y := 0; y < sb.Dy(); y++ {
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+sb.Dx()], src.Pix[y*src.Stride:y*src.Stride+sb.Dx()])
	}
}
