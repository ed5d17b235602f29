// Package ocr defines the text-recognition capability consumed by the scanner
// and its Tesseract and remote implementations.
package ocr

import (
	"context"
	"errors"
)

// Mode selects how an engine segments the image.
type Mode int

const (
	// ModePage treats the image as a full page of text.
	ModePage Mode = iota
	// ModeSingleDigit treats the image as one glyph restricted to 0-9.
	ModeSingleDigit
)

func (m Mode) String() string {
	switch m {
	case ModeSingleDigit:
		return "single-digit"
	default:
		return "page"
	}
}

// Request is one recognition call.
type Request struct {
	Image    []byte // PNG or JPEG bytes
	Language string
	Mode     Mode
}

// Recognizer turns image bytes into text.
type Recognizer interface {
	Recognize(ctx context.Context, req Request) (string, error)
}

// ErrUnavailable marks a recognizer that could not run at all, as opposed to
// one that ran and found nothing.
var ErrUnavailable = errors.New("ocr engine unavailable")

// RecognizerFunc adapts a function to Recognizer.
type RecognizerFunc func(ctx context.Context, req Request) (string, error)

func (f RecognizerFunc) Recognize(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
