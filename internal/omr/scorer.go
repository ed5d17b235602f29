package omr

import (
	"github.com/adverant/nexus/sheetscan-worker/internal/imaging"
)

// span is a rectangle with fractional pixel edges.
type span struct {
	x0, y0, x1, y1 float64
}

// cellSpan returns the padded cell of question q under h. Questions fill
// columns top to bottom: column q/rows, row q%rows.
func cellSpan(h GridHypothesis, q int, p *Params) span {
	col := q / h.Rows
	row := q % h.Rows
	cw := (h.Right - h.Left) / float64(h.Columns)
	ch := (h.Bottom - h.Top) / float64(h.Rows)
	x0 := h.Left + float64(col)*cw
	y0 := h.Top + float64(row)*ch
	return span{
		x0: x0 + p.CellPadX*cw,
		y0: y0 + p.CellPadY*ch,
		x1: x0 + cw - p.CellPadX*cw,
		y1: y0 + ch - p.CellPadY*ch,
	}
}

// align narrows s to the answer block selected by a. Bands are clamped so
// the block never leaves the cell.
func (s span) align(a Alignment) span {
	w, h := s.x1-s.x0, s.y1-s.y0
	xb := min(a.XBand, 1-a.XOffset)
	yb := min(a.YBand, 1-a.YOffset)
	x0 := s.x0 + a.XOffset*w
	y0 := s.y0 + a.YOffset*h
	return span{x0: x0, y0: y0, x1: x0 + xb*w, y1: y0 + yb*h}
}

// option returns the k-th of four equal sub-cells of s, shrunk by pad on every side.
func (s span) option(k int, pad float64) span {
	sw := (s.x1 - s.x0) / float64(len(Options))
	h := s.y1 - s.y0
	x0 := s.x0 + float64(k)*sw
	return span{
		x0: x0 + pad*sw,
		y0: s.y0 + pad*h,
		x1: x0 + sw - pad*sw,
		y1: s.y1 - pad*h,
	}
}

// rect rounds s to the pixel rectangle that fill queries use.
func (s span) rect() imaging.Rect {
	x0, y0 := roundPx(s.x0), roundPx(s.y0)
	return imaging.Rect{Left: x0, Top: y0, Width: roundPx(s.x1) - x0, Height: roundPx(s.y1) - y0}
}

func (d *darkIntegral) fillSpan(s span) float64 {
	return d.fillF(s.x0, s.y0, s.x1, s.y1)
}

// alignments enumerates the local search grid with x offset outermost, then
// x band, y offset, y band.
func alignments(p *Params) []Alignment {
	out := make([]Alignment, 0, p.AlignmentCount())
	for _, xo := range p.XOffsets {
		for _, xb := range p.XBands {
			for _, yo := range p.YOffsets {
				for _, yb := range p.YBands {
					out = append(out, Alignment{XOffset: xo, XBand: xb, YOffset: yo, YBand: yb})
				}
			}
		}
	}
	return out
}

// topTwo returns the largest score, its index (first on ties) and the runner-up.
func topTwo(scores [4]float64) (best float64, idx int, second float64) {
	best, second = scores[0], -1
	for k := 1; k < len(scores); k++ {
		switch v := scores[k]; {
		case v > best:
			second, best, idx = best, v, k
		case v > second:
			second = v
		}
	}
	return best, idx, second
}

func alignmentQuality(scores [4]float64) float64 {
	best, _, second := topTwo(scores)
	return max(0, best-second) + 0.5*best
}

// scoreQuestion searches every alignment of question q and keeps the first
// one with the highest quality.
func scoreQuestion(d *darkIntegral, h GridHypothesis, q int, aligns []Alignment, p *Params) CellScores {
	cell := cellSpan(h, q, p)
	best := CellScores{Index: q, Quality: -1}
	for _, a := range aligns {
		block := cell.align(a)
		var scores [4]float64
		for k := range scores {
			scores[k] = d.fillSpan(block.option(k, p.OptionPadding))
		}
		if quality := alignmentQuality(scores); quality > best.Quality {
			best = CellScores{Index: q, Scores: scores, Alignment: a, Quality: quality}
		}
	}
	return best
}
