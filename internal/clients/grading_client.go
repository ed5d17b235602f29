/**
 * Grading Client for the SheetScan Worker
 *
 * Posts every scored sheet to the grading service, which matches the
 * identifier to a student and the answers to an answer key.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/adverant/nexus/sheetscan-worker/internal/logging"
)

// GradingClient handles communication with the grading service
type GradingClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// GradingSubmission is one scored sheet
type GradingSubmission struct {
	JobID          string    `json:"jobId"`
	ExamID         string    `json:"examId,omitempty"`
	StudentID      string    `json:"studentId,omitempty"`
	UniqueNumber   string    `json:"uniqueNumber,omitempty"`
	IDMethod       string    `json:"idMethod"`
	TotalQuestions int       `json:"totalQuestions"`
	Answers        []string  `json:"answers"`
	ScanResultID   string    `json:"scanResultId,omitempty"`
	ScannedAt      time.Time `json:"scannedAt"`
}

// GradingResponse represents the response from the grading service
type GradingResponse struct {
	Success      bool    `json:"success"`
	SubmissionID string  `json:"submissionId,omitempty"`
	Score        float64 `json:"score,omitempty"`
	Message      string  `json:"message,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// NewGradingClient creates a new grading client
func NewGradingClient(baseURL string) *GradingClient {
	return &GradingClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logging.NewLogger("GradingClient"),
	}
}

// SubmitResult posts a scored sheet to the grading service
func (c *GradingClient) SubmitResult(ctx context.Context, sub *GradingSubmission) (*GradingResponse, error) {
	endpoint := fmt.Sprintf("%s/api/grading/submissions", c.baseURL)

	body, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Source", "sheetscan-worker")
	req.Header.Set("X-Job-ID", sub.JobID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to grading service failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("grading service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result GradingResponse
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &result); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
	}
	if !result.Success && result.Error != "" {
		return &result, fmt.Errorf("grading service rejected submission: %s", result.Error)
	}

	c.logger.Debug("Submission accepted",
		"jobId", sub.JobID,
		"submissionId", result.SubmissionID,
		"uniqueNumber", sub.UniqueNumber)

	return &result, nil
}

// HealthCheck verifies the grading service is available
func (c *GradingClient) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/health", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}
