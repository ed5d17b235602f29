package omr

import (
	"gonum.org/v1/gonum/floats"
)

type decision struct {
	answers   []Answer
	records   []QuestionRecord
	globalMax float64
}

// decide runs the two-pass mark decision. The first pass finds the darkest
// option anywhere on the sheet; the second marks a question only when its best
// option clears a threshold relative to that maximum and beats the runner-up
// by a relative margin.
func decide(cells []CellScores, p *Params) decision {
	d := decision{
		answers: make([]Answer, len(cells)),
		records: make([]QuestionRecord, len(cells)),
	}
	if len(cells) == 0 {
		return d
	}

	all := make([]float64, 0, len(cells)*len(Options))
	for _, c := range cells {
		all = append(all, c.Scores[:]...)
	}
	d.globalMax = floats.Max(all)
	threshold := max(p.MinThreshold, p.GlobalMaxRatio*d.globalMax)

	for i, c := range cells {
		idx := floats.MaxIdx(c.Scores[:])
		best, _, second := topTwo(c.Scores)
		margin := best - second
		marginThreshold := max(p.MinMargin, p.MarginRatio*best)

		answer := AnswerBlank
		if best > threshold && margin > marginThreshold {
			answer = Options[idx]
		}
		d.answers[i] = answer
		d.records[i] = QuestionRecord{
			CellScores:      c,
			Best:            best,
			Margin:          margin,
			Threshold:       threshold,
			MarginThreshold: marginThreshold,
			Answer:          answer,
		}
	}
	return d
}
