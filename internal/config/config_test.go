package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for _, key := range []string{
		"REDIS_URL", "DATABASE_URL", "QUEUE_DRIVER", "QUEUE_NAME", "OCR_BACKEND",
		"VISION_OCR_URL", "IMAGE_BACKEND", "WORKER_CONCURRENCY", "MAX_FILE_SIZE",
		"PROCESSING_TIMEOUT", "GRADING_URL",
	} {
		t.Setenv(key, "")
	}
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	setEnv(t, map[string]string{"DATABASE_URL": "postgres://localhost/sheets"})

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.QueueDriver != "redis" || cfg.QueueName != "sheetscan:jobs" {
		t.Errorf("queue defaults: %s %s", cfg.QueueDriver, cfg.QueueName)
	}
	if cfg.OCRBackend != "tesseract" || cfg.ImageBackend != "native" {
		t.Errorf("backend defaults: %s %s", cfg.OCRBackend, cfg.ImageBackend)
	}
	if cfg.WorkerConcurrency != 4 || cfg.ProcessingTimeout != 60000 {
		t.Errorf("worker defaults: %d %d", cfg.WorkerConcurrency, cfg.ProcessingTimeout)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	tests := map[string]map[string]string{
		"missing database":  {},
		"bad queue driver":  {"DATABASE_URL": "x", "QUEUE_DRIVER": "kafka"},
		"bad ocr backend":   {"DATABASE_URL": "x", "OCR_BACKEND": "paddle"},
		"bad image backend": {"DATABASE_URL": "x", "IMAGE_BACKEND": "vips"},
		"zero concurrency":  {"DATABASE_URL": "x", "WORKER_CONCURRENCY": "0"},
		"short timeout":     {"DATABASE_URL": "x", "PROCESSING_TIMEOUT": "10"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			setEnv(t, env)
			if _, err := LoadConfig(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadConfigCaseInsensitiveBackends(t *testing.T) {
	setEnv(t, map[string]string{"DATABASE_URL": "x", "QUEUE_DRIVER": "Asynq", "OCR_BACKEND": "REMOTE"})
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.QueueDriver != "asynq" || cfg.OCRBackend != "remote" {
		t.Fatalf("got %s %s", cfg.QueueDriver, cfg.OCRBackend)
	}
}

func TestLoadScannerParamsOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	body := "columns: [5]\nfooter_threshold: 150\nsearch_timeout: 3s\nestimate_region:\n  left: 0.1\n  top: 0.2\n  right: 0.9\n  bottom: 0.7\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadScannerParams(path)
	if err != nil {
		t.Fatalf("LoadScannerParams: %v", err)
	}
	if len(p.Columns) != 1 || p.Columns[0] != 5 {
		t.Errorf("columns = %v", p.Columns)
	}
	if p.FooterThreshold != 150 || p.SearchTimeout != 3*time.Second {
		t.Errorf("threshold=%d timeout=%v", p.FooterThreshold, p.SearchTimeout)
	}
	if p.EstimateRegion.Left != 0.1 || p.EstimateRegion.Bottom != 0.7 {
		t.Errorf("region = %+v", p.EstimateRegion)
	}
	// Untouched keys keep their defaults.
	if len(p.TopFactors) != 4 || p.IDDigits != 10 {
		t.Errorf("defaults lost: %v %d", p.TopFactors, p.IDDigits)
	}
}

func TestLoadScannerParamsErrors(t *testing.T) {
	if _, err := LoadScannerParams(""); err != nil {
		t.Fatalf("empty path: %v", err)
	}
	if _, err := LoadScannerParams(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("columns: [0]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadScannerParams(path); err == nil {
		t.Fatal("expected validation error")
	}
}
