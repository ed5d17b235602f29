/**
 * Tesseract OCR - local recognizer for sheet identifiers
 *
 * A fresh gosseract client is created per call so concurrent scans never
 * share engine state. The optional semaphore bounds how many engines run at
 * once; each engine holds its own copy of the language data.
 */

package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// DigitChars restricts single-digit recognition.
const DigitChars = "0123456789"

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	// TessdataPrefix overrides the tessdata directory; empty uses the system default.
	TessdataPrefix string
	// MaxConcurrent bounds simultaneous engines; zero means unbounded.
	MaxConcurrent int
}

// Tesseract handles OCR using a local Tesseract installation
type Tesseract struct {
	tessdataPrefix string
	sem            chan struct{}
}

// NewTesseract creates a new Tesseract recognizer
func NewTesseract(cfg *TesseractConfig) *Tesseract {
	t := &Tesseract{}
	if cfg != nil {
		t.tessdataPrefix = cfg.TessdataPrefix
		if cfg.MaxConcurrent > 0 {
			t.sem = make(chan struct{}, cfg.MaxConcurrent)
		}
	}
	return t
}

// Recognize performs OCR on req.Image
func (t *Tesseract) Recognize(ctx context.Context, req Request) (string, error) {
	if t.sem != nil {
		select {
		case t.sem <- struct{}{}:
			defer func() { <-t.sem }()
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	client := gosseract.NewClient()
	defer client.Close()

	if t.tessdataPrefix != "" {
		client.TessdataPrefix = t.tessdataPrefix
	}

	lang := req.Language
	if lang == "" {
		lang = "eng"
	}
	if err := client.SetLanguage(lang); err != nil {
		return "", fmt.Errorf("%w: failed to set language %q: %v", ErrUnavailable, lang, err)
	}

	switch req.Mode {
	case ModeSingleDigit:
		if err := client.SetPageSegMode(gosseract.PSM_SINGLE_CHAR); err != nil {
			return "", fmt.Errorf("failed to set PSM: %w", err)
		}
		if err := client.SetWhitelist(DigitChars); err != nil {
			return "", fmt.Errorf("failed to set whitelist: %w", err)
		}
	default:
		if err := client.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
			return "", fmt.Errorf("failed to set PSM: %w", err)
		}
	}

	if err := client.SetImageFromBytes(req.Image); err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract OCR failed: %w", err)
	}
	return strings.TrimSpace(text), nil
}
