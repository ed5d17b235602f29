package omr

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/adverant/nexus/sheetscan-worker/internal/imaging"
	"github.com/adverant/nexus/sheetscan-worker/internal/ocr"
)

var (
	digitPattern = regexp.MustCompile(`\d`)
)

// idPatterns returns the full-frame patterns in priority order: a run of
// exactly n digits after '#', then any standalone run of exactly n digits.
func idPatterns(n int) []*regexp.Regexp {
	return []*regexp.Regexp{
		regexp.MustCompile(fmt.Sprintf(`#\s*(\d{%d})(?:\D|$)`, n)),
		regexp.MustCompile(fmt.Sprintf(`(?:^|\D)(\d{%d})(?:\D|$)`, n)),
	}
}

// extractIdentifier tries the footer grid first and falls back to full-frame
// OCR. Recognizer failures never escape; they are recorded and logged, keeping
// "engine unavailable" apart from "engine ran and found nothing".
func (s *Scanner) extractIdentifier(ctx context.Context, sheet *imaging.Sheet) (*IDResult, error) {
	rec := &IdentifierRecord{}

	digits, err := s.readFooterGrid(ctx, sheet)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec.GridDigits = digits
	if err != nil {
		rec.GridError = err.Error()
		s.logOCRFailure("footer grid", err)
	}
	if err == nil && len(digits) == s.params.IDDigits {
		s.logger.Debug("Identifier read from footer grid", "uniqueNumber", digits)
		return &IDResult{UniqueNumber: digits, Method: IDMethodGrid, Debug: rec}, nil
	}

	text, err := s.readFullFrame(ctx, sheet)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec.OCRText = text
	if err != nil {
		rec.OCRError = err.Error()
		rec.OCRUnavailable = errors.Is(err, ocr.ErrUnavailable)
		s.logOCRFailure("full frame", err)
		return &IDResult{Method: IDMethodOCR, Debug: rec}, nil
	}

	id := matchIdentifier(text, s.idPatterns)
	if id == "" {
		s.logger.Debug("No identifier found in full-frame text", "textLength", len(text))
	}
	return &IDResult{UniqueNumber: id, Method: IDMethodOCR, Debug: rec}, nil
}

// readFooterGrid binarizes and upscales the bottom-right footer, slices it into
// one column per digit and reads each slice as a single glyph. It stops at the
// first slice without a digit.
func (s *Scanner) readFooterGrid(ctx context.Context, sheet *imaging.Sheet) (string, error) {
	p := &s.params
	rect := imaging.FractionRect(sheet.Width, sheet.Height, 1-p.FooterWidth, 1-p.FooterHeight, 1, 1)

	footer, err := s.images.Crop(sheet.Gray, rect)
	if err != nil {
		return "", fmt.Errorf("crop footer: %w", err)
	}
	if footer, err = s.images.Normalize(footer); err != nil {
		return "", fmt.Errorf("normalize footer: %w", err)
	}
	if footer, err = s.images.Threshold(footer, p.FooterThreshold); err != nil {
		return "", fmt.Errorf("threshold footer: %w", err)
	}
	width := int(float64(footer.Bounds().Dx()) * p.FooterUpscale)
	if footer, err = s.images.ResizeToWidth(footer, width); err != nil {
		return "", fmt.Errorf("upscale footer: %w", err)
	}

	slices := imaging.VerticalSlices(footer, p.IDDigits)
	if len(slices) != p.IDDigits {
		return "", fmt.Errorf("footer too narrow for %d digits", p.IDDigits)
	}

	var sb strings.Builder
	for i, slice := range slices {
		data, err := imaging.EncodePNG(slice)
		if err != nil {
			return sb.String(), err
		}
		text, err := s.recognize(ctx, ocr.Request{Image: data, Language: p.OCRLanguage, Mode: ocr.ModeSingleDigit})
		if err != nil {
			return sb.String(), fmt.Errorf("digit %d: %w", i, err)
		}
		d := digitPattern.FindString(text)
		if d == "" {
			return sb.String(), nil
		}
		sb.WriteString(d)
	}
	return sb.String(), nil
}

func (s *Scanner) readFullFrame(ctx context.Context, sheet *imaging.Sheet) (string, error) {
	data, err := imaging.EncodePNG(sheet.Gray)
	if err != nil {
		return "", err
	}
	return s.recognize(ctx, ocr.Request{Image: data, Language: s.params.OCRLanguage, Mode: ocr.ModePage})
}

func (s *Scanner) recognize(ctx context.Context, req ocr.Request) (string, error) {
	if s.ocr == nil {
		return "", ocr.ErrUnavailable
	}
	return s.ocr.Recognize(ctx, req)
}

func (s *Scanner) logOCRFailure(strategy string, err error) {
	if errors.Is(err, ocr.ErrUnavailable) {
		s.logger.Warn("OCR engine unavailable", "strategy", strategy, "error", err)
		return
	}
	s.logger.Debug("OCR strategy failed", "strategy", strategy, "error", err)
}

func matchIdentifier(text string, patterns []*regexp.Regexp) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}
