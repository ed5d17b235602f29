// Package omr scores photographed or scanned multiple-choice answer sheets:
// it reads the sheet identifier from the footer and decides one of A-D or
// blank for every question of the answer grid.
package omr

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	apperrors "github.com/adverant/nexus/sheetscan-worker/internal/errors"
	"github.com/adverant/nexus/sheetscan-worker/internal/imaging"
	"github.com/adverant/nexus/sheetscan-worker/internal/logging"
	"github.com/adverant/nexus/sheetscan-worker/internal/ocr"
)

// ScannerConfig wires the capabilities a Scanner consumes.
type ScannerConfig struct {
	Params Params
	// Images defaults to the pure-Go backend.
	Images imaging.Backend
	// OCR may be nil; identifier extraction then always reports not found.
	OCR    ocr.Recognizer
	Logger *logging.Logger
}

// Scanner is safe for concurrent use. Every scan works on its own decoded
// sheet and shares only read-only parameters.
type Scanner struct {
	params     Params
	images     imaging.Backend
	ocr        ocr.Recognizer
	logger     *logging.Logger
	idPatterns []*regexp.Regexp
}

// NewScanner validates cfg.Params and builds a Scanner.
func NewScanner(cfg *ScannerConfig) (*Scanner, error) {
	if cfg == nil {
		cfg = &ScannerConfig{Params: DefaultParams()}
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scanner params: %w", err)
	}
	s := &Scanner{
		params:     cfg.Params,
		images:     cfg.Images,
		ocr:        cfg.OCR,
		logger:     cfg.Logger,
		idPatterns: idPatterns(cfg.Params.IDDigits),
	}
	if s.images == nil {
		s.images = imaging.NewNative()
	}
	if s.logger == nil {
		s.logger = logging.NewLogger("Scanner")
	}
	return s, nil
}

// Params returns the scanner's calibration.
func (s *Scanner) Params() Params { return s.params }

func (s *Scanner) load(data []byte) (*imaging.Sheet, error) {
	sheet, err := imaging.Load(s.images, data)
	if err != nil {
		return nil, err
	}
	if err := sheet.RequireGeometry(); err != nil {
		return nil, err
	}
	return sheet, nil
}

// ScanUniqueID extracts the 10-digit sheet identifier. A missing identifier is
// not an error: the result has an empty UniqueNumber.
func (s *Scanner) ScanUniqueID(ctx context.Context, data []byte) (*IDResult, error) {
	sheet, err := s.load(data)
	if err != nil {
		return nil, err
	}
	return s.extractIdentifier(ctx, sheet)
}

// ScanAnswers decides totalQuestions answers. totalQuestions == 0 returns an
// empty answer list without touching the grid.
func (s *Scanner) ScanAnswers(ctx context.Context, data []byte, totalQuestions int) (*AnswersResult, error) {
	if err := imaging.CheckPayload(data); err != nil {
		return nil, err
	}
	if err := checkTotal(totalQuestions); err != nil {
		return nil, err
	}
	if totalQuestions == 0 {
		return &AnswersResult{Answers: []Answer{}}, nil
	}

	sheet, err := s.load(data)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	d := newDarkIntegral(sheet.Gray, s.params.DarknessCutoff)
	debug := &Debug{Width: sheet.Width, Height: sheet.Height, Chosen: -1}
	answers, err := s.detectAnswers(ctx, d, totalQuestions, debug)
	if err != nil {
		return nil, err
	}
	debug.ElapsedMs = time.Since(start).Milliseconds()
	return &AnswersResult{TotalQuestions: totalQuestions, Answers: answers, Debug: debug}, nil
}

// ScanAnswersAuto estimates the question count, then decides that many answers.
func (s *Scanner) ScanAnswersAuto(ctx context.Context, data []byte) (*AnswersResult, error) {
	sheet, err := s.load(data)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	d := newDarkIntegral(sheet.Gray, s.params.DarknessCutoff)
	debug := &Debug{Width: sheet.Width, Height: sheet.Height, Chosen: -1}

	total := s.estimate(d, debug)
	answers, err := s.detectAnswers(ctx, d, total, debug)
	if err != nil {
		return nil, err
	}
	debug.ElapsedMs = time.Since(start).Milliseconds()
	return &AnswersResult{TotalQuestions: total, Answers: answers, Debug: debug}, nil
}

// ScanFilledSheet extracts the identifier and the answers from one image.
// totalQuestions > 0 is used as given, AutoQuestions estimates it and 0 skips
// answer detection.
func (s *Scanner) ScanFilledSheet(ctx context.Context, data []byte, totalQuestions int) (*ScanResult, error) {
	if err := imaging.CheckPayload(data); err != nil {
		return nil, err
	}
	if totalQuestions != AutoQuestions {
		if err := checkTotal(totalQuestions); err != nil {
			return nil, err
		}
	}

	sheet, err := s.load(data)
	if err != nil {
		return nil, err
	}
	start := time.Now()

	id, err := s.extractIdentifier(ctx, sheet)
	if err != nil {
		return nil, err
	}

	debug := &Debug{Width: sheet.Width, Height: sheet.Height, Chosen: -1, Identifier: id.Debug}
	result := &ScanResult{
		UniqueNumber: id.UniqueNumber,
		IDMethod:     id.Method,
		Answers:      []Answer{},
		Debug:        debug,
	}

	if totalQuestions != 0 {
		d := newDarkIntegral(sheet.Gray, s.params.DarknessCutoff)
		total := totalQuestions
		if total == AutoQuestions {
			total = s.estimate(d, debug)
		}
		answers, err := s.detectAnswers(ctx, d, total, debug)
		if err != nil {
			return nil, err
		}
		result.TotalQuestions = total
		result.Answers = answers
	}

	debug.ElapsedMs = time.Since(start).Milliseconds()
	s.logger.Info("Sheet scanned",
		"uniqueNumber", result.UniqueNumber,
		"idMethod", result.IDMethod,
		"totalQuestions", result.TotalQuestions,
		"answers", AnswerString(result.Answers),
		"elapsedMs", debug.ElapsedMs)
	return result, nil
}

func (s *Scanner) estimate(d *darkIntegral, debug *Debug) int {
	est := estimateCount(d, &s.params)
	debug.Estimate = &est
	s.logger.Debug("Question count estimated", "count", est.Chosen)
	return est.Chosen
}

// detectAnswers runs the hypothesis search and the mark decision. When the
// internal search deadline expires every answer is blank and debug.TimedOut is
// set; cancellation of ctx itself is returned as an error.
func (s *Scanner) detectAnswers(ctx context.Context, d *darkIntegral, total int, debug *Debug) ([]Answer, error) {
	if total == 0 {
		return []Answer{}, nil
	}

	searchCtx := ctx
	if s.params.SearchTimeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, s.params.SearchTimeout)
		defer cancel()
	}

	hyps := enumerateHypotheses(&s.params, d.width, d.height, total)
	best, evals, err := searchHypotheses(searchCtx, d, hyps, total, &s.params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("Grid search timed out, returning blank answers",
				"timeout", s.params.SearchTimeout, "questions", total)
			debug.TimedOut = true
			return blankAnswers(total), nil
		}
		return nil, apperrors.NewDetectionFailedError("grid search failed", err)
	}

	debug.Hypotheses = make([]HypothesisRecord, len(hyps))
	for i, h := range hyps {
		debug.Hypotheses[i] = HypothesisRecord{GridHypothesis: h, Quality: evals[i].quality}
	}
	debug.Chosen = best

	dec := decide(evals[best].cells, &s.params)
	debug.GlobalMax = dec.globalMax
	debug.Questions = dec.records
	return dec.answers, nil
}

func checkTotal(n int) error {
	if n < 0 || n > MaxQuestions {
		return apperrors.NewInvalidInputError(
			fmt.Sprintf("totalQuestions must be between 0 and %d, got %d", MaxQuestions, n), nil)
	}
	return nil
}
