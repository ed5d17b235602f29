package bootstrap

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/adverant/nexus/sheetscan-worker/internal/config"
)

func TestImageBackend(t *testing.T) {
	for name, want := range map[string]string{"": "native", "native": "native", "OpenCV": "opencv"} {
		b, err := ImageBackend(name)
		if err != nil {
			t.Fatalf("ImageBackend(%q): %v", name, err)
		}
		if b.Name() != want {
			t.Errorf("ImageBackend(%q) = %s, want %s", name, b.Name(), want)
		}
	}
	if _, err := ImageBackend("vips"); err == nil {
		t.Fatal("unknown backend accepted")
	}
}

func TestRecognizer(t *testing.T) {
	if r, err := Recognizer(&config.Config{OCRBackend: "none"}); err != nil || r != nil {
		t.Fatalf("none backend = %v, %v", r, err)
	}
	if _, err := Recognizer(&config.Config{OCRBackend: "remote"}); err == nil {
		t.Fatal("remote backend without URL accepted")
	}
	if _, err := Recognizer(&config.Config{OCRBackend: "paddle"}); err == nil {
		t.Fatal("unknown backend accepted")
	}
}

func TestRemoteRecognizerChecksVisionHealth(t *testing.T) {
	var healthHits int32
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			atomic.AddInt32(&healthHits, 1)
		}
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	r, err := Recognizer(&config.Config{OCRBackend: "remote", VisionOCRURL: srv.URL})
	if err != nil || r == nil {
		t.Fatalf("remote backend = %v, %v", r, err)
	}

	// An unhealthy service still yields a recognizer.
	status.Store(http.StatusServiceUnavailable)
	if r, err := Recognizer(&config.Config{OCRBackend: "remote", VisionOCRURL: srv.URL}); err != nil || r == nil {
		t.Fatalf("unhealthy remote backend = %v, %v", r, err)
	}
	if got := atomic.LoadInt32(&healthHits); got != 2 {
		t.Fatalf("health checks = %d, want 2", got)
	}
}

func TestScannerAppliesParamsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	if err := os.WriteFile(path, []byte("columns: [5]\nid_digits: 8\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Scanner(&config.Config{OCRBackend: "none", ScannerParamsFile: path, OCRLanguage: "deu"})
	if err != nil {
		t.Fatalf("Scanner: %v", err)
	}
	p := s.Params()
	if len(p.Columns) != 1 || p.Columns[0] != 5 || p.IDDigits != 8 || p.OCRLanguage != "deu" {
		t.Fatalf("params not applied: %+v", p)
	}
}

func TestScannerRejectsBadParams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	if err := os.WriteFile(path, []byte("columns: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Scanner(&config.Config{OCRBackend: "none", ScannerParamsFile: path}); err == nil {
		t.Fatal("invalid params accepted")
	}
}
