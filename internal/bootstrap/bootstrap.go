// Package bootstrap assembles scanner backends from configuration. Both the
// queue worker and the sheetscan CLI build their Scanner through it.
package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adverant/nexus/sheetscan-worker/internal/clients"
	"github.com/adverant/nexus/sheetscan-worker/internal/config"
	"github.com/adverant/nexus/sheetscan-worker/internal/imaging"
	"github.com/adverant/nexus/sheetscan-worker/internal/imaging/opencv"
	"github.com/adverant/nexus/sheetscan-worker/internal/logging"
	"github.com/adverant/nexus/sheetscan-worker/internal/ocr"
	"github.com/adverant/nexus/sheetscan-worker/internal/omr"
)

const visionHealthTimeout = 5 * time.Second

// ImageBackend returns the imaging backend registered under name.
func ImageBackend(name string) (imaging.Backend, error) {
	switch strings.ToLower(name) {
	case "", "native":
		return imaging.NewNative(), nil
	case "opencv":
		return opencv.New(), nil
	default:
		return nil, fmt.Errorf("unknown image backend %q (want native or opencv)", name)
	}
}

// Recognizer returns the OCR engine selected by cfg. "none" disables OCR;
// identifier extraction then reports the engine as unavailable.
func Recognizer(cfg *config.Config) (ocr.Recognizer, error) {
	switch strings.ToLower(cfg.OCRBackend) {
	case "", "tesseract":
		return ocr.NewTesseract(&ocr.TesseractConfig{
			TessdataPrefix: cfg.TessdataPrefix,
			MaxConcurrent:  cfg.WorkerConcurrency,
		}), nil
	case "remote":
		if cfg.VisionOCRURL == "" {
			return nil, fmt.Errorf("VISION_OCR_URL is required for the remote OCR backend")
		}
		vision := clients.NewVisionClient(cfg.VisionOCRURL)
		ctx, cancel := context.WithTimeout(context.Background(), visionHealthTimeout)
		defer cancel()
		if err := vision.HealthCheck(ctx); err != nil {
			logging.NewLogger("Bootstrap").Warn("Vision OCR service is not healthy, identifiers fall back to unavailable until it recovers",
				"url", cfg.VisionOCRURL, "error", err)
		}
		return ocr.NewRemote(vision), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown OCR backend %q (want tesseract, remote or none)", cfg.OCRBackend)
	}
}

// Params loads scanner parameters, applying cfg's OCR language and the
// optional YAML override file.
func Params(cfg *config.Config) (omr.Params, error) {
	params, err := config.LoadScannerParams(cfg.ScannerParamsFile)
	if err != nil {
		return omr.Params{}, err
	}
	if cfg.OCRLanguage != "" {
		params.OCRLanguage = cfg.OCRLanguage
	}
	return params, params.Validate()
}

// Scanner builds a fully wired omr.Scanner.
func Scanner(cfg *config.Config) (*omr.Scanner, error) {
	params, err := Params(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid scanner parameters: %w", err)
	}

	images, err := ImageBackend(cfg.ImageBackend)
	if err != nil {
		return nil, err
	}

	recognizer, err := Recognizer(cfg)
	if err != nil {
		return nil, err
	}

	return omr.NewScanner(&omr.ScannerConfig{
		Params: params,
		Images: images,
		OCR:    recognizer,
		Logger: logging.NewLogger("Scanner"),
	})
}
