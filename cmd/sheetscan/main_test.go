package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/adverant/nexus/sheetscan-worker/internal/clients"
	"github.com/adverant/nexus/sheetscan-worker/internal/omr"
)

func TestQuestionMode(t *testing.T) {
	tests := []struct {
		name      string
		questions int
		auto, id  bool
		want      int
		wantErr   bool
	}{
		{"explicit", 30, false, false, 30, false},
		{"auto", 0, true, false, omr.AutoQuestions, false},
		{"id only", 0, false, true, 0, false},
		{"nothing", 0, false, false, 0, true},
		{"auto and count", 30, true, false, 0, true},
		{"id and auto", 0, true, true, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			questions, autoCount, idOnly = tt.questions, tt.auto, tt.id
			got, err := questionMode()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if err == nil && got != tt.want {
				t.Fatalf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func writeBlankSheet(t *testing.T) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 600, 800))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	img.SetGray(10, 10, color.Gray{Y: 0})

	path := filepath.Join(t.TempDir(), "sheet.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestScanCommandBlankSheet(t *testing.T) {
	path := writeBlankSheet(t)

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"scan", path, "--questions", "5", "--ocr", "none"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var result omr.ScanResult
	if err := json.Unmarshal(out.Bytes(), &result); err != nil {
		t.Fatalf("output is not a scan result: %v\n%s", err, out.String())
	}
	if result.TotalQuestions != 5 || omr.AnswerString(result.Answers) != "-----" {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.UniqueNumber != "" || result.Debug != nil {
		t.Fatalf("unexpected identifier or debug data %+v", result)
	}
}

func TestScanCommandRejectsMissingFile(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"id", filepath.Join(t.TempDir(), "missing.png"), "--ocr", "none"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestLookupArchiveUsesJobMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/files/art-9" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success":  true,
			"artifact": map[string]interface{}{"id": "art-9", "download_url": "http://files/art-9"},
		})
	}))
	defer srv.Close()
	archive := clients.NewArchiveClient(srv.URL)

	job := map[string]interface{}{
		"status":   "completed",
		"metadata": map[string]interface{}{"archiveId": "art-9"},
	}
	art, err := lookupArchive(context.Background(), archive, job)
	if err != nil {
		t.Fatalf("lookupArchive: %v", err)
	}
	if art == nil || art.DownloadURL != "http://files/art-9" {
		t.Fatalf("unexpected artifact %+v", art)
	}

	art, err = lookupArchive(context.Background(), archive, map[string]interface{}{"status": "failed"})
	if err != nil || art != nil {
		t.Fatalf("job without archive: %+v, %v", art, err)
	}

	missing := map[string]interface{}{"metadata": map[string]interface{}{"archiveId": "gone"}}
	if _, err := lookupArchive(context.Background(), archive, missing); err == nil {
		t.Fatal("missing artifact accepted")
	}
}
