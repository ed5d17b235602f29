package omr

import (
	"gonum.org/v1/gonum/floats"

	"github.com/adverant/nexus/sheetscan-worker/internal/imaging"
)

// estimateCount picks the candidate question count whose row partition of the
// answer region looks most like marked rows. Returns 0 when no candidate scores
// above zero or the region is degenerate.
//
// Rows with a clear winner add their margin and half their best fill; rows
// whose best fill is below BlankRowCutoff cost BlankRowPenalty. Ties keep the
// earlier candidate.
func estimateCount(d *darkIntegral, p *Params) EstimateRecord {
	r := p.EstimateRegion
	region, ok := imaging.FractionRect(d.width, d.height, r.Left, r.Top, r.Right, r.Bottom).Clip(d.width, d.height)
	rec := EstimateRecord{Candidates: make([]CountScore, 0, len(p.CountCandidates))}
	if !ok || region.Width < len(Options) {
		return rec
	}

	bestScore := 0.0
	for _, n := range p.CountCandidates {
		score := scoreRowPartition(d, region, n, p)
		rec.Candidates = append(rec.Candidates, CountScore{Count: n, Score: score})
		if score > bestScore {
			bestScore = score
			rec.Chosen = n
		}
	}
	return rec
}

func scoreRowPartition(d *darkIntegral, region imaging.Rect, n int, p *Params) float64 {
	rowH := float64(region.Height) / float64(n)
	if rowH < 1 {
		return 0
	}
	colW := float64(region.Width) / float64(len(Options))

	margins := make([]float64, n)
	bests := make([]float64, n)
	blank := 0
	for row := 0; row < n; row++ {
		y0 := float64(region.Top) + float64(row)*rowH
		var scores [4]float64
		for k := range scores {
			x0 := float64(region.Left) + float64(k)*colW
			scores[k] = d.fillF(x0, y0, x0+colW, y0+rowH)
		}
		best, _, second := topTwo(scores)
		margins[row] = best - second
		bests[row] = best
		if best < p.BlankRowCutoff {
			blank++
		}
	}
	return floats.Sum(margins) + 0.5*floats.Sum(bests) - p.BlankRowPenalty*float64(blank)
}
