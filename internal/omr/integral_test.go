package omr

import (
	"image"
	"testing"

	"github.com/adverant/nexus/sheetscan-worker/internal/imaging"
)

func TestDarkIntegralMatchesBruteForce(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 37, 23))
	for i := range g.Pix {
		g.Pix[i] = uint8((i * 31) % 256)
	}
	d := newDarkIntegral(g, 128)

	rects := [][4]int{{0, 0, 37, 23}, {3, 4, 10, 9}, {36, 22, 37, 23}, {-5, -5, 4, 4}, {30, 10, 60, 40}}
	for _, r := range rects {
		want := 0
		for y := max(r[1], 0); y < min(r[3], 23); y++ {
			for x := max(r[0], 0); x < min(r[2], 37); x++ {
				if g.GrayAt(x, y).Y < 128 {
					want++
				}
			}
		}
		if got, _ := d.count(r[0], r[1], r[2], r[3]); got != want {
			t.Errorf("count%v = %d, want %d", r, got, want)
		}
	}
}

func TestDarkIntegralSubImage(t *testing.T) {
	page := whitePage(100, 100)
	paint(page, imaging.Rect{Left: 50, Top: 50, Width: 10, Height: 10}, 0)
	sub := page.SubImage(image.Rect(40, 40, 80, 80)).(*image.Gray)

	d := newDarkIntegral(sub, 128)
	if d.width != 40 || d.height != 40 {
		t.Fatalf("size %dx%d", d.width, d.height)
	}
	if got := d.fill(10, 10, 20, 20); got != 1 {
		t.Fatalf("fill = %v, want 1", got)
	}
	if got := d.fill(5, 5, 5, 9); got != 0 {
		t.Fatalf("empty rect fill = %v", got)
	}
}
