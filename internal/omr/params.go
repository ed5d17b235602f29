package omr

import (
	"fmt"
	"runtime"
	"time"
)

// Region is a rectangle expressed as fractions of the image size.
type Region struct {
	Left   float64 `yaml:"left" json:"left"`
	Top    float64 `yaml:"top" json:"top"`
	Right  float64 `yaml:"right" json:"right"`
	Bottom float64 `yaml:"bottom" json:"bottom"`
}

// Params holds every tuned constant of the scanner. The defaults were
// calibrated against a single printed template; recalibrate per sheet design.
type Params struct {
	// Identifier footer grid
	FooterWidth     float64 `yaml:"footer_width"`     // right share of the width holding the ID grid
	FooterHeight    float64 `yaml:"footer_height"`    // bottom share of the height holding the ID grid
	FooterThreshold uint8   `yaml:"footer_threshold"` // binarization level before OCR
	FooterUpscale   float64 `yaml:"footer_upscale"`
	IDDigits        int     `yaml:"id_digits"`
	OCRLanguage     string  `yaml:"ocr_language"`

	// Grid hypotheses, enumerated top factor outermost, then band, then columns.
	TopFactors  []float64 `yaml:"top_factors"`
	BandFactors []float64 `yaml:"band_factors"`
	Columns     []int     `yaml:"columns"`
	LeftFactor  float64   `yaml:"left_factor"`
	RightFactor float64   `yaml:"right_factor"`

	// Per-question local alignment search, enumerated in the same nesting order.
	CellPadX       float64   `yaml:"cell_pad_x"`
	CellPadY       float64   `yaml:"cell_pad_y"`
	XOffsets       []float64 `yaml:"x_offsets"`
	XBands         []float64 `yaml:"x_bands"`
	YOffsets       []float64 `yaml:"y_offsets"`
	YBands         []float64 `yaml:"y_bands"`
	OptionPadding  float64   `yaml:"option_padding"`
	DarknessCutoff uint8     `yaml:"darkness_cutoff"` // pixels strictly below count as filled

	// Mark decision
	MinThreshold   float64 `yaml:"min_threshold"`
	GlobalMaxRatio float64 `yaml:"global_max_ratio"`
	MinMargin      float64 `yaml:"min_margin"`
	MarginRatio    float64 `yaml:"margin_ratio"`

	// Question-count estimation
	CountCandidates []int   `yaml:"count_candidates"`
	EstimateRegion  Region  `yaml:"estimate_region"`
	BlankRowCutoff  float64 `yaml:"blank_row_cutoff"`
	BlankRowPenalty float64 `yaml:"blank_row_penalty"`

	// Runtime
	Workers       int           `yaml:"workers"` // 0 = runtime.NumCPU()
	SearchTimeout time.Duration `yaml:"search_timeout"`
}

const (
	// MaxHypotheses caps TopFactors × BandFactors × Columns.
	MaxHypotheses = 512
	// MaxAlignments caps XOffsets × XBands × YOffsets × YBands.
	MaxAlignments = 4096
	// MaxQuestions caps the answer count accepted by a scan.
	MaxQuestions = 1000
)

// DefaultParams returns the calibration used for the standard A4 answer sheet.
func DefaultParams() Params {
	return Params{
		FooterWidth:     0.45,
		FooterHeight:    0.22,
		FooterThreshold: 170,
		FooterUpscale:   2,
		IDDigits:        10,
		OCRLanguage:     "eng",

		TopFactors:  []float64{0.14, 0.18, 0.22, 0.26},
		BandFactors: []float64{0.28, 0.34, 0.40, 0.46},
		Columns:     []int{4, 6},
		LeftFactor:  0.05,
		RightFactor: 0.95,

		// 7 × 3 × 3 × 3 = 189 alignments per question
		CellPadX:       0.06,
		CellPadY:       0.10,
		XOffsets:       []float64{0, 0.05, 0.10, 0.15, 0.20, 0.25, 0.30},
		XBands:         []float64{0.60, 0.70, 0.80},
		YOffsets:       []float64{0, 0.10, 0.20},
		YBands:         []float64{0.60, 0.70, 0.80},
		OptionPadding:  0.12,
		DarknessCutoff: 128,

		MinThreshold:   0.04,
		GlobalMaxRatio: 0.25,
		MinMargin:      0.02,
		MarginRatio:    0.12,

		CountCandidates: []int{10, 15, 20, 25, 30, 35, 40, 45, 50},
		EstimateRegion:  Region{Left: 0.08, Top: 0.22, Right: 0.92, Bottom: 0.68},
		BlankRowCutoff:  0.08,
		BlankRowPenalty: 0.05,

		SearchTimeout: 20 * time.Second,
	}
}

// Validate checks ranges and grid-size caps.
func (p Params) Validate() error {
	if p.FooterWidth <= 0 || p.FooterWidth > 1 || p.FooterHeight <= 0 || p.FooterHeight > 1 {
		return fmt.Errorf("footer factors must be in (0,1], got %.2f x %.2f", p.FooterWidth, p.FooterHeight)
	}
	if p.FooterUpscale <= 0 {
		return fmt.Errorf("footer_upscale must be positive, got %.2f", p.FooterUpscale)
	}
	if p.IDDigits <= 0 {
		return fmt.Errorf("id_digits must be positive, got %d", p.IDDigits)
	}

	if len(p.TopFactors) == 0 || len(p.BandFactors) == 0 || len(p.Columns) == 0 {
		return fmt.Errorf("top_factors, band_factors and columns must not be empty")
	}
	if n := len(p.TopFactors) * len(p.BandFactors) * len(p.Columns); n > MaxHypotheses {
		return fmt.Errorf("hypothesis grid has %d entries, maximum is %d", n, MaxHypotheses)
	}
	if err := checkFractions("top_factors", p.TopFactors, false); err != nil {
		return err
	}
	if err := checkFractions("band_factors", p.BandFactors, true); err != nil {
		return err
	}
	for _, c := range p.Columns {
		if c <= 0 {
			return fmt.Errorf("columns must be positive, got %d", c)
		}
	}
	if p.LeftFactor < 0 || p.RightFactor > 1 || p.RightFactor <= p.LeftFactor {
		return fmt.Errorf("need 0 <= left_factor < right_factor <= 1, got %.2f..%.2f", p.LeftFactor, p.RightFactor)
	}

	if p.CellPadX < 0 || p.CellPadX >= 0.5 || p.CellPadY < 0 || p.CellPadY >= 0.5 {
		return fmt.Errorf("cell padding must be in [0,0.5)")
	}
	if p.OptionPadding < 0 || p.OptionPadding >= 0.5 {
		return fmt.Errorf("option_padding must be in [0,0.5), got %.2f", p.OptionPadding)
	}
	if len(p.XOffsets) == 0 || len(p.XBands) == 0 || len(p.YOffsets) == 0 || len(p.YBands) == 0 {
		return fmt.Errorf("alignment candidate lists must not be empty")
	}
	if n := len(p.XOffsets) * len(p.XBands) * len(p.YOffsets) * len(p.YBands); n > MaxAlignments {
		return fmt.Errorf("alignment grid has %d entries, maximum is %d", n, MaxAlignments)
	}
	for name, list := range map[string][]float64{"x_offsets": p.XOffsets, "y_offsets": p.YOffsets} {
		if err := checkFractions(name, list, false); err != nil {
			return err
		}
	}
	for name, list := range map[string][]float64{"x_bands": p.XBands, "y_bands": p.YBands} {
		if err := checkFractions(name, list, true); err != nil {
			return err
		}
	}

	if p.MinThreshold < 0 || p.GlobalMaxRatio < 0 || p.MinMargin < 0 || p.MarginRatio < 0 {
		return fmt.Errorf("decision thresholds must be non-negative")
	}

	if len(p.CountCandidates) == 0 {
		return fmt.Errorf("count_candidates must not be empty")
	}
	for _, c := range p.CountCandidates {
		if c <= 0 || c > MaxQuestions {
			return fmt.Errorf("count candidate %d out of range 1..%d", c, MaxQuestions)
		}
	}
	r := p.EstimateRegion
	if r.Left < 0 || r.Top < 0 || r.Right > 1 || r.Bottom > 1 || r.Right <= r.Left || r.Bottom <= r.Top {
		return fmt.Errorf("estimate_region must be a non-empty fraction rectangle, got %+v", r)
	}

	if p.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", p.Workers)
	}
	if p.SearchTimeout < 0 {
		return fmt.Errorf("search_timeout must be >= 0, got %v", p.SearchTimeout)
	}
	return nil
}

func (p Params) workers() int {
	if p.Workers > 0 {
		return p.Workers
	}
	return runtime.NumCPU()
}

// HypothesisCount is the size of the grid-hypothesis search space.
func (p Params) HypothesisCount() int {
	return len(p.TopFactors) * len(p.BandFactors) * len(p.Columns)
}

// AlignmentCount is the size of the per-question alignment search space.
func (p Params) AlignmentCount() int {
	return len(p.XOffsets) * len(p.XBands) * len(p.YOffsets) * len(p.YBands)
}

// WithColumns returns a copy of p restricted to the given column counts.
func (p Params) WithColumns(columns ...int) Params {
	p.Columns = append([]int(nil), columns...)
	return p
}

// WithBand returns a copy of p with a single vertical answer band.
func (p Params) WithBand(top, height float64) Params {
	p.TopFactors = []float64{top}
	p.BandFactors = []float64{height}
	return p
}

func checkFractions(name string, list []float64, positive bool) error {
	for _, v := range list {
		if v < 0 || v > 1 || (positive && v == 0) {
			return fmt.Errorf("%s value %.3f outside %s", name, v, map[bool]string{true: "(0,1]", false: "[0,1]"}[positive])
		}
	}
	return nil
}
