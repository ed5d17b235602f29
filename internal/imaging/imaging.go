// Package imaging wraps the image capability the scanner consumes: decoding,
// grayscale, contrast normalization, binarization, resizing and cropping over
// *image.Gray buffers.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"

	apperrors "github.com/adverant/nexus/sheetscan-worker/internal/errors"
)

const (
	// MinBytes is the smallest payload accepted as an image.
	MinBytes = 100
	// MinSide is the smallest width/height accepted by geometry-dependent operations.
	MinSide = 200
)

// Backend is the image-processing capability. Implementations must not retain
// or mutate their inputs; every call returns a fresh buffer.
type Backend interface {
	Name() string
	Decode(data []byte) (image.Image, error)
	Grayscale(img image.Image) (*image.Gray, error)
	// Normalize stretches luminance to cover the full 0..255 range.
	Normalize(g *image.Gray) (*image.Gray, error)
	// Threshold maps values >= level to 255 and everything else to 0.
	Threshold(g *image.Gray, level uint8) (*image.Gray, error)
	ResizeToWidth(g *image.Gray, width int) (*image.Gray, error)
	Crop(g *image.Gray, r Rect) (*image.Gray, error)
}

// Rect is a pixel rectangle.
type Rect struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Clip intersects r with a width×height image. ok is false when nothing is left.
func (r Rect) Clip(width, height int) (Rect, bool) {
	x0 := max(r.Left, 0)
	y0 := max(r.Top, 0)
	x1 := min(r.Left+r.Width, width)
	y1 := min(r.Top+r.Height, height)
	if x1 <= x0 || y1 <= y0 {
		return Rect{}, false
	}
	return Rect{Left: x0, Top: y0, Width: x1 - x0, Height: y1 - y0}, true
}

// Rectangle converts r to an image.Rectangle.
func (r Rect) Rectangle() image.Rectangle {
	return image.Rect(r.Left, r.Top, r.Left+r.Width, r.Top+r.Height)
}

// FractionRect builds a rectangle from fractional edges of a width×height image.
func FractionRect(width, height int, left, top, right, bottom float64) Rect {
	x0 := int(math.Round(left * float64(width)))
	y0 := int(math.Round(top * float64(height)))
	x1 := int(math.Round(right * float64(width)))
	y1 := int(math.Round(bottom * float64(height)))
	return Rect{Left: x0, Top: y0, Width: x1 - x0, Height: y1 - y0}
}

// Sheet is a decoded, grayscale, contrast-normalized scan. Immutable once loaded.
type Sheet struct {
	Width  int
	Height int
	Gray   *image.Gray
}

// CheckPayload rejects payloads that cannot possibly hold an image.
func CheckPayload(data []byte) error {
	if len(data) == 0 {
		return apperrors.NewInvalidInputError("image data is missing", nil)
	}
	if len(data) < MinBytes {
		return apperrors.NewInvalidInputError(
			fmt.Sprintf("image data too small: %d bytes (minimum %d)", len(data), MinBytes), nil)
	}
	return nil
}

// Load validates and decodes data, then applies grayscale and contrast normalization.
func Load(b Backend, data []byte) (*Sheet, error) {
	if err := CheckPayload(data); err != nil {
		return nil, err
	}

	img, err := b.Decode(data)
	if err != nil {
		return nil, apperrors.NewInvalidInputError("image could not be decoded", err)
	}
	gray, err := b.Grayscale(img)
	if err != nil {
		return nil, apperrors.NewInvalidInputError("image could not be converted to grayscale", err)
	}
	norm, err := b.Normalize(gray)
	if err != nil {
		return nil, apperrors.NewInvalidInputError("image could not be normalized", err)
	}

	bounds := norm.Bounds()
	return &Sheet{Width: bounds.Dx(), Height: bounds.Dy(), Gray: norm}, nil
}

// RequireGeometry rejects sheets too small for geometry-dependent operations.
func (s *Sheet) RequireGeometry() error {
	if s.Width < MinSide || s.Height < MinSide {
		return apperrors.NewImageTooSmallError(s.Width, s.Height, MinSide)
	}
	return nil
}

// EncodePNG serializes a grayscale buffer for OCR engines.
func EncodePNG(g *image.Gray) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, g); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// VerticalSlices splits g into n equal-width columns, the last absorbing the remainder.
func VerticalSlices(g *image.Gray, n int) []*image.Gray {
	if n <= 0 {
		return nil
	}
	b := g.Bounds()
	w := b.Dx() / n
	if w == 0 {
		return nil
	}
	out := make([]*image.Gray, 0, n)
	for i := 0; i < n; i++ {
		x0 := b.Min.X + i*w
		x1 := x0 + w
		if i == n-1 {
			x1 = b.Max.X
		}
		out = append(out, g.SubImage(image.Rect(x0, b.Min.Y, x1, b.Max.Y)).(*image.Gray))
	}
	return out
}
