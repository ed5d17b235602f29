package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	apperrors "github.com/adverant/nexus/sheetscan-worker/internal/errors"
)

func encode(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func uniform(w, h int, v uint8) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = v
	}
	return g
}

// textured defeats PNG compression so payloads stay above MinBytes.
func textured(w, h int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g.Pix[y*g.Stride+x] = uint8((x*7 + y*13 + x*y) % 256)
		}
	}
	return g
}

func TestLoadRejectsSmallPayloads(t *testing.T) {
	for _, data := range [][]byte{nil, make([]byte, 50), make([]byte, 99)} {
		_, err := Load(NewNative(), data)
		if !apperrors.IsInvalidInput(err) {
			t.Fatalf("len=%d: expected InvalidInput, got %v", len(data), err)
		}
	}
}

func TestLoadRejectsUndecodable(t *testing.T) {
	_, err := Load(NewNative(), bytes.Repeat([]byte("not an image "), 20))
	if !apperrors.IsInvalidInput(err) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestLoadAndRequireGeometry(t *testing.T) {
	small, err := Load(NewNative(), encode(t, textured(150, 400)))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if small.Width != 150 || small.Height != 400 {
		t.Fatalf("unexpected size %dx%d", small.Width, small.Height)
	}
	if err := small.RequireGeometry(); !apperrors.IsInvalidInput(err) {
		t.Fatalf("expected image too small, got %v", err)
	}

	ok, err := Load(NewNative(), encode(t, textured(200, 200)))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := ok.RequireGeometry(); err != nil {
		t.Fatalf("200x200 should pass: %v", err)
	}
}

func TestGrayscaleFromRGBA(t *testing.T) {
	img := image.NewRGBA(image.Rect(10, 10, 20, 20))
	for y := 10; y < 20; y++ {
		for x := 10; x < 20; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	img.Set(10, 10, color.RGBA{A: 255})

	g, err := NewNative().Grayscale(img)
	if err != nil {
		t.Fatalf("grayscale: %v", err)
	}
	if g.Bounds() != image.Rect(0, 0, 10, 10) {
		t.Fatalf("expected origin-based bounds, got %v", g.Bounds())
	}
	if g.GrayAt(0, 0).Y != 0 || g.GrayAt(5, 5).Y != 255 {
		t.Fatalf("unexpected pixels %d %d", g.GrayAt(0, 0).Y, g.GrayAt(5, 5).Y)
	}
}

func TestNormalizeStretchesRange(t *testing.T) {
	g := uniform(100, 100, 200)
	for y := 0; y < 50; y++ {
		for x := 0; x < 100; x++ {
			g.SetGray(x, y, color.Gray{Y: 100})
		}
	}
	out, err := NewNative().Normalize(g)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if out.GrayAt(0, 0).Y != 0 || out.GrayAt(0, 99).Y != 255 {
		t.Fatalf("expected 0/255 after stretch, got %d/%d", out.GrayAt(0, 0).Y, out.GrayAt(0, 99).Y)
	}
}

func TestNormalizeKeepsFlatImage(t *testing.T) {
	out, err := NewNative().Normalize(uniform(10, 10, 77))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	for _, v := range out.Pix {
		if v != 77 {
			t.Fatalf("flat image changed: %d", v)
		}
	}
}

func TestThresholdIsInclusive(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 3, 1))
	g.Pix = []uint8{169, 170, 171}
	out, err := NewNative().Threshold(g, 170)
	if err != nil {
		t.Fatalf("threshold: %v", err)
	}
	if out.Pix[0] != 0 || out.Pix[1] != 255 || out.Pix[2] != 255 {
		t.Fatalf("unexpected %v", out.Pix)
	}
}

func TestResizeToWidthKeepsAspect(t *testing.T) {
	out, err := NewNative().ResizeToWidth(uniform(100, 40, 255), 200)
	if err != nil {
		t.Fatalf("resize: %v", err)
	}
	if out.Bounds().Dx() != 200 || out.Bounds().Dy() != 80 {
		t.Fatalf("unexpected size %v", out.Bounds())
	}
	if _, err := NewNative().ResizeToWidth(uniform(10, 10, 0), 0); err == nil {
		t.Fatalf("expected error for zero width")
	}
}

func TestCropClipsToBounds(t *testing.T) {
	g := uniform(50, 50, 255)
	g.SetGray(45, 45, color.Gray{Y: 0})

	out, err := NewNative().Crop(g, Rect{Left: 40, Top: 40, Width: 30, Height: 30})
	if err != nil {
		t.Fatalf("crop: %v", err)
	}
	if out.Bounds() != image.Rect(0, 0, 10, 10) {
		t.Fatalf("unexpected bounds %v", out.Bounds())
	}
	if out.GrayAt(5, 5).Y != 0 {
		t.Fatalf("crop lost pixel")
	}
	if _, err := NewNative().Crop(g, Rect{Left: 60, Top: 0, Width: 5, Height: 5}); err == nil {
		t.Fatalf("expected error for region outside image")
	}
}

func TestRectClip(t *testing.T) {
	cases := []struct {
		in   Rect
		want Rect
		ok   bool
	}{
		{Rect{-5, -5, 20, 20}, Rect{0, 0, 15, 15}, true},
		{Rect{90, 90, 20, 20}, Rect{90, 90, 10, 10}, true},
		{Rect{10, 10, 0, 5}, Rect{}, false},
		{Rect{200, 0, 5, 5}, Rect{}, false},
	}
	for _, c := range cases {
		got, ok := c.in.Clip(100, 100)
		if ok != c.ok || got != c.want {
			t.Errorf("Clip(%+v) = %+v,%v want %+v,%v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestVerticalSlices(t *testing.T) {
	slices := VerticalSlices(uniform(103, 10, 255), 10)
	if len(slices) != 10 {
		t.Fatalf("expected 10 slices, got %d", len(slices))
	}
	if slices[0].Bounds().Dx() != 10 || slices[9].Bounds().Dx() != 13 {
		t.Fatalf("unexpected widths %d/%d", slices[0].Bounds().Dx(), slices[9].Bounds().Dx())
	}
	if VerticalSlices(uniform(5, 5, 0), 10) != nil {
		t.Fatalf("expected nil for slices narrower than a pixel")
	}
}
