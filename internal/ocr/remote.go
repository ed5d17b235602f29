package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/adverant/nexus/sheetscan-worker/internal/clients"
)

// TextExtractor is the slice of clients.VisionClient used by Remote.
type TextExtractor interface {
	ExtractTextFromBytes(ctx context.Context, imageData []byte, hint string, language string) (*clients.VisionOCRResponse, error)
}

// Remote delegates recognition to the vision OCR service.
type Remote struct {
	client TextExtractor
}

// NewRemote wraps a vision client.
func NewRemote(client TextExtractor) *Remote {
	return &Remote{client: client}
}

func (r *Remote) Recognize(ctx context.Context, req Request) (string, error) {
	if r.client == nil {
		return "", ErrUnavailable
	}
	resp, err := r.client.ExtractTextFromBytes(ctx, req.Image, req.Mode.String(), req.Language)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return strings.TrimSpace(resp.Data.Text), nil
}
