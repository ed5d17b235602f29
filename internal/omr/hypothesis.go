package omr

import (
	"context"
	"sync"
)

// enumerateHypotheses lists candidate grids in a fixed order: top factor
// outermost, then band factor, then column count. The bottom edge is clipped
// to the image.
func enumerateHypotheses(p *Params, width, height, total int) []GridHypothesis {
	out := make([]GridHypothesis, 0, p.HypothesisCount())
	w, h := float64(width), float64(height)
	for _, top := range p.TopFactors {
		for _, band := range p.BandFactors {
			for _, cols := range p.Columns {
				out = append(out, GridHypothesis{
					TopFactor:  top,
					BandFactor: band,
					Columns:    cols,
					Rows:       (total + cols - 1) / cols,
					Top:        top * h,
					Bottom:     min((top+band)*h, h),
					Left:       p.LeftFactor * w,
					Right:      p.RightFactor * w,
				})
			}
		}
	}
	return out
}

type evaluation struct {
	cells   []CellScores
	quality float64
}

// evaluateHypothesis scores every question under h. The context is checked
// between questions.
func evaluateHypothesis(ctx context.Context, d *darkIntegral, h GridHypothesis, total int, aligns []Alignment, p *Params) (evaluation, error) {
	ev := evaluation{cells: make([]CellScores, total)}
	for q := 0; q < total; q++ {
		if err := ctx.Err(); err != nil {
			return evaluation{}, err
		}
		c := scoreQuestion(d, h, q, aligns, p)
		ev.cells[q] = c
		ev.quality += c.Quality
	}
	return ev, nil
}

// searchHypotheses evaluates all hypotheses on a bounded worker pool. Each
// worker writes only its own slot; the winner is folded sequentially so the
// first hypothesis in enumeration order wins ties no matter how work was
// scheduled.
func searchHypotheses(ctx context.Context, d *darkIntegral, hyps []GridHypothesis, total int, p *Params) (int, []evaluation, error) {
	aligns := alignments(p)
	results := make([]evaluation, len(hyps))
	errs := make([]error, len(hyps))

	var wg sync.WaitGroup
	sem := make(chan struct{}, p.workers())
	for i := range hyps {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i], errs[i] = evaluateHypothesis(ctx, d, hyps[i], total, aligns, p)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return -1, nil, err
		}
	}

	best := -1
	for i, ev := range results {
		if best < 0 || ev.quality > results[best].quality {
			best = i
		}
	}
	return best, results, nil
}
