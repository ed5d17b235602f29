package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGradingClientSubmitResult(t *testing.T) {
	var got GradingSubmission
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/grading/submissions" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Job-ID") != "job-7" {
			t.Errorf("missing job header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_ = json.NewEncoder(w).Encode(GradingResponse{Success: true, SubmissionID: "sub-1", Score: 0.75})
	}))
	defer srv.Close()

	resp, err := NewGradingClient(srv.URL).SubmitResult(context.Background(), &GradingSubmission{
		JobID:          "job-7",
		UniqueNumber:   "0123456789",
		IDMethod:       "grid",
		TotalQuestions: 4,
		Answers:        []string{"A", "-", "C", "D"},
	})
	if err != nil {
		t.Fatalf("SubmitResult: %v", err)
	}
	if resp.SubmissionID != "sub-1" || resp.Score != 0.75 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got.UniqueNumber != "0123456789" || len(got.Answers) != 4 || got.Answers[1] != "-" {
		t.Fatalf("unexpected submission %+v", got)
	}
}

func TestGradingClientErrors(t *testing.T) {
	tests := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "down", http.StatusServiceUnavailable)
		},
		"rejected": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(GradingResponse{Success: false, Error: "unknown exam"})
		},
		"garbage": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>"))
		},
	}
	for name, h := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()
			if _, err := NewGradingClient(srv.URL).SubmitResult(context.Background(), &GradingSubmission{JobID: "j"}); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestGradingClientHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	if err := NewGradingClient(srv.URL).HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}
