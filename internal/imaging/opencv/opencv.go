// Package opencv implements imaging.Backend on top of OpenCV through gocv.
//
// Results differ slightly from the native backend: Normalize is a plain
// min/max stretch.
package opencv

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/adverant/nexus/sheetscan-worker/internal/imaging"
)

// Backend is safe for concurrent use; every call allocates its own Mats.
type Backend struct{}

// New returns an OpenCV backend.
func New() *Backend {
	return &Backend{}
}

func (b *Backend) Name() string { return "opencv" }

func (b *Backend) Decode(data []byte) (image.Image, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, fmt.Errorf("failed to decode image: empty result")
	}
	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert decoded mat: %w", err)
	}
	return img, nil
}

func (b *Backend) Grayscale(img image.Image) (*image.Gray, error) {
	if g, ok := img.(*image.Gray); ok {
		src, err := gocv.ImageGrayToMatGray(g)
		if err != nil {
			return nil, fmt.Errorf("failed to load gray image: %w", err)
		}
		defer src.Close()
		return toGray(src)
	}

	src, err := gocv.ImageToMatRGBA(img)
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	defer src.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorRGBAToGray)
	return toGray(gray)
}

func (b *Backend) Normalize(g *image.Gray) (*image.Gray, error) {
	return b.apply(g, func(src gocv.Mat, dst *gocv.Mat) {
		gocv.Normalize(src, dst, 0, 255, gocv.NormMinMax)
	})
}

func (b *Backend) Threshold(g *image.Gray, level uint8) (*image.Gray, error) {
	// THRESH_BINARY keeps values strictly above thresh.
	return b.apply(g, func(src gocv.Mat, dst *gocv.Mat) {
		gocv.Threshold(src, dst, float32(level)-1, 255, gocv.ThresholdBinary)
	})
}

func (b *Backend) ResizeToWidth(g *image.Gray, width int) (*image.Gray, error) {
	bounds := g.Bounds()
	if width <= 0 || bounds.Dx() == 0 {
		return nil, fmt.Errorf("invalid resize width %d for source width %d", width, bounds.Dx())
	}
	height := max(1, (bounds.Dy()*width+bounds.Dx()/2)/bounds.Dx())
	return b.apply(g, func(src gocv.Mat, dst *gocv.Mat) {
		gocv.Resize(src, dst, image.Pt(width, height), 0, 0, gocv.InterpolationCubic)
	})
}

func (b *Backend) Crop(g *image.Gray, r imaging.Rect) (*image.Gray, error) {
	bounds := g.Bounds()
	clipped, ok := r.Clip(bounds.Dx(), bounds.Dy())
	if !ok {
		return nil, fmt.Errorf("crop region %+v outside %dx%d image", r, bounds.Dx(), bounds.Dy())
	}

	src, err := gocv.ImageGrayToMatGray(g)
	if err != nil {
		return nil, fmt.Errorf("failed to load gray image: %w", err)
	}
	defer src.Close()

	region := src.Region(clipped.Rectangle())
	defer region.Close()
	out := region.Clone()
	defer out.Close()
	return toGray(out)
}

func (b *Backend) apply(g *image.Gray, op func(src gocv.Mat, dst *gocv.Mat)) (*image.Gray, error) {
	src, err := gocv.ImageGrayToMatGray(g)
	if err != nil {
		return nil, fmt.Errorf("failed to load gray image: %w", err)
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	op(src, &dst)
	if dst.Empty() {
		return nil, fmt.Errorf("opencv operation produced an empty image")
	}
	return toGray(dst)
}

func toGray(m gocv.Mat) (*image.Gray, error) {
	img, err := m.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert mat: %w", err)
	}
	g, ok := img.(*image.Gray)
	if !ok {
		return nil, fmt.Errorf("expected single-channel image, got %T", img)
	}
	return g, nil
}
