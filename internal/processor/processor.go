/**
 * Sheet Processor for the SheetScan Worker
 *
 * Runs one queued scan job end to end:
 * - load the image from the job buffer or download it (retry with backoff)
 * - reject non-image payloads by magic bytes
 * - score the sheet (identifier + answers)
 * - archive the original image (best effort)
 * - persist the result and link it to the job
 * - notify the grading service (best effort)
 */

package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/adverant/nexus/sheetscan-worker/internal/clients"
	apperrors "github.com/adverant/nexus/sheetscan-worker/internal/errors"
	"github.com/adverant/nexus/sheetscan-worker/internal/logging"
	"github.com/adverant/nexus/sheetscan-worker/internal/omr"
	"github.com/adverant/nexus/sheetscan-worker/internal/storage"
)

// SheetProcessorInterface is what the queue consumers drive.
type SheetProcessorInterface interface {
	ProcessSheet(ctx context.Context, req *ScanRequest) (*ScanOutcome, error)
	UpdateJobStatus(ctx context.Context, jobID string, status string, metadata map[string]interface{}) error
}

// SheetScanner is the slice of omr.Scanner used here.
type SheetScanner interface {
	ScanFilledSheet(ctx context.Context, data []byte, totalQuestions int) (*omr.ScanResult, error)
}

// ResultStore persists jobs and scan results.
type ResultStore interface {
	StoreScanResult(ctx context.Context, rec *storage.ScanRecord) (string, error)
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
}

// GradingNotifier receives scored sheets.
type GradingNotifier interface {
	SubmitResult(ctx context.Context, sub *clients.GradingSubmission) (*clients.GradingResponse, error)
}

// SheetArchiver keeps original sheet images.
type SheetArchiver interface {
	ArchiveSheet(ctx context.Context, req *clients.ArchiveRequest) (*clients.Artifact, error)
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Scanner     SheetScanner
	Storage     ResultStore
	Grading     GradingNotifier // optional
	Archive     SheetArchiver   // optional
	MaxFileSize int64
	HTTPClient  *http.Client // optional, used for downloads

	// Download retry policy; zero values use the defaults below.
	DownloadRetries int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
}

const (
	defaultDownloadRetries = 5
	defaultInitialBackoff  = time.Second
	defaultMaxBackoff      = 32 * time.Second
	defaultDownloadTimeout = 2 * time.Minute
)

// ScanRequest represents one sheet scan job
type ScanRequest struct {
	JobID      string
	UserID     string
	Filename   string
	MimeType   string
	FileSize   int64
	FileURL    string
	FileBuffer []byte
	// TotalQuestions follows ScanFilledSheet: > 0 as given, omr.AutoQuestions
	// to estimate, 0 for the identifier only.
	TotalQuestions int
	ExamID         string
	StudentID      string
	Metadata       map[string]interface{}
}

// ScanOutcome is the processing result stored on the queue side
type ScanOutcome struct {
	ScanResultID     string   `json:"scanResultId"`
	UniqueNumber     string   `json:"uniqueNumber,omitempty"`
	IDMethod         string   `json:"idMethod"`
	TotalQuestions   int      `json:"totalQuestions"`
	Answers          []string `json:"answers"`
	TimedOut         bool     `json:"timedOut,omitempty"`
	ArchiveID        string   `json:"archiveId,omitempty"`
	ArchiveURL       string   `json:"archiveUrl,omitempty"`
	Graded           bool     `json:"graded"`
	ProcessingTimeMs int64    `json:"processingTimeMs"`
}

// SheetProcessor handles sheet scan jobs
type SheetProcessor struct {
	config  *ProcessorConfig
	scanner SheetScanner
	storage ResultStore
	grading GradingNotifier
	archive SheetArchiver
	http    *http.Client
	logger  *logging.Logger
}

// NewSheetProcessor creates a new sheet processor
func NewSheetProcessor(cfg *ProcessorConfig) (*SheetProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if cfg.Scanner == nil {
		return nil, fmt.Errorf("scanner is required")
	}

	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}

	if cfg.DownloadRetries <= 0 {
		cfg.DownloadRetries = defaultDownloadRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultDownloadTimeout}
	}

	return &SheetProcessor{
		config:  cfg,
		scanner: cfg.Scanner,
		storage: cfg.Storage,
		grading: cfg.Grading,
		archive: cfg.Archive,
		http:    httpClient,
		logger:  logging.NewLogger("SheetProcessor"),
	}, nil
}

// ProcessSheet runs the scan pipeline for one job
func (p *SheetProcessor) ProcessSheet(ctx context.Context, req *ScanRequest) (*ScanOutcome, error) {
	start := time.Now()
	p.logger.Info("Starting sheet scan", "jobId", req.JobID, "filename", req.Filename)

	// Step 1: Load image bytes
	data, err := p.loadFile(ctx, req)
	if err != nil {
		return nil, err
	}

	// Step 2: Reject documents that are not raster images
	if mime := detectMimeTypeFromMagicBytes(data); mime != "" && !isImageMime(mime) {
		return nil, apperrors.NewUnsupportedFormatError(req.JobID, mime)
	}

	// Step 3: Score the sheet
	result, err := p.scanner.ScanFilledSheet(ctx, data, req.TotalQuestions)
	if err != nil {
		var pe *apperrors.ProcessingError
		if errors.As(err, &pe) {
			return nil, pe.WithJob(req.JobID)
		}
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	answers := make([]string, len(result.Answers))
	for i, a := range result.Answers {
		answers[i] = string(a)
	}
	outcome := &ScanOutcome{
		UniqueNumber:   result.UniqueNumber,
		IDMethod:       string(result.IDMethod),
		TotalQuestions: result.TotalQuestions,
		Answers:        answers,
		TimedOut:       result.Debug != nil && result.Debug.TimedOut,
	}

	// Step 4: Archive the original image (best effort)
	if p.archive != nil {
		art, err := p.archive.ArchiveSheet(ctx, &clients.ArchiveRequest{
			Image:    data,
			Filename: req.Filename,
			MimeType: detectMimeTypeFromMagicBytes(data),
			JobID:    req.JobID,
			Metadata: map[string]interface{}{
				"uniqueNumber": outcome.UniqueNumber,
				"examId":       req.ExamID,
			},
		})
		if err != nil {
			p.logger.Warn("Sheet archive failed", "jobId", req.JobID, "error", err)
		} else {
			outcome.ArchiveID = art.ID
			outcome.ArchiveURL = art.DownloadURL
		}
	}

	// Step 5: Persist
	rec := &storage.ScanRecord{
		JobID:          req.JobID,
		UniqueNumber:   outcome.UniqueNumber,
		IDMethod:       outcome.IDMethod,
		TotalQuestions: outcome.TotalQuestions,
		Answers:        answers,
		TimedOut:       outcome.TimedOut,
	}
	if result.Debug != nil {
		if raw, err := json.Marshal(result.Debug); err == nil {
			rec.Debug = raw
		} else {
			p.logger.Warn("Dropping unserializable debug data", "jobId", req.JobID, "error", err)
		}
	}
	outcome.ScanResultID, err = p.storage.StoreScanResult(ctx, rec)
	if err != nil {
		return nil, apperrors.NewStorageFailedError(req.JobID, err)
	}

	// Step 6: Notify grading (best effort)
	if p.grading != nil {
		_, err := p.grading.SubmitResult(ctx, &clients.GradingSubmission{
			JobID:          req.JobID,
			ExamID:         req.ExamID,
			StudentID:      req.StudentID,
			UniqueNumber:   outcome.UniqueNumber,
			IDMethod:       outcome.IDMethod,
			TotalQuestions: outcome.TotalQuestions,
			Answers:        answers,
			ScanResultID:   outcome.ScanResultID,
			ScannedAt:      time.Now().UTC(),
		})
		if err != nil {
			p.logger.Warn("Grading notification failed", "jobId", req.JobID, "error", err)
		} else {
			outcome.Graded = true
		}
	}

	outcome.ProcessingTimeMs = time.Since(start).Milliseconds()
	p.logger.Info("Sheet scan complete",
		"jobId", req.JobID,
		"uniqueNumber", outcome.UniqueNumber,
		"questions", outcome.TotalQuestions,
		"timedOut", outcome.TimedOut,
		"ms", outcome.ProcessingTimeMs)

	return outcome, nil
}

// UpdateJobStatus updates job status in the database
func (p *SheetProcessor) UpdateJobStatus(ctx context.Context, jobID string, status string, metadata map[string]interface{}) error {
	update := &storage.JobUpdate{
		JobID:    jobID,
		Status:   status,
		Metadata: metadata,
	}

	// Extract specific fields from metadata if present
	if metadata != nil {
		if processingTime, ok := metadata["processingTimeMs"].(int64); ok {
			update.ProcessingTimeMs = processingTime
		}
		if scanResultID, ok := metadata["scanResultId"].(string); ok {
			update.ScanResultID = scanResultID
		}
		if code, ok := metadata["error_code"].(string); ok {
			update.ErrorCode = code
		}
		if errorMsg, ok := metadata["error"].(string); ok {
			if update.ErrorCode == "" {
				update.ErrorCode = "PROCESSING_ERROR"
			}
			update.ErrorMessage = errorMsg
		}
	}

	return p.storage.UpdateJobStatus(ctx, update)
}

// loadFile loads the image from the job buffer or its URL
func (p *SheetProcessor) loadFile(ctx context.Context, req *ScanRequest) ([]byte, error) {
	if len(req.FileBuffer) > 0 {
		if err := p.checkSize(req.JobID, int64(len(req.FileBuffer))); err != nil {
			return nil, err
		}
		p.logger.Debug("Using file buffer", "jobId", req.JobID, "bytes", len(req.FileBuffer))
		return req.FileBuffer, nil
	}

	if req.FileURL != "" {
		data, err := p.downloadFileFromURL(ctx, req.JobID, req.FileURL)
		if err != nil {
			var pe *apperrors.ProcessingError
			if errors.As(err, &pe) {
				return nil, err
			}
			return nil, apperrors.NewDownloadFailedError(req.JobID, req.FileURL, err)
		}
		return data, nil
	}

	return nil, apperrors.NewInvalidInputError("no file source provided (buffer or URL)", nil).WithJob(req.JobID)
}

func (p *SheetProcessor) checkSize(jobID string, size int64) error {
	if p.config.MaxFileSize > 0 && size > p.config.MaxFileSize {
		return apperrors.NewInvalidInputError(
			fmt.Sprintf("file size exceeds maximum: %d > %d bytes", size, p.config.MaxFileSize), nil).WithJob(jobID)
	}
	return nil
}

// downloadFileFromURL downloads the image, retrying transport errors and
// non-2xx responses with exponential backoff.
func (p *SheetProcessor) downloadFileFromURL(ctx context.Context, jobID string, fileURL string) ([]byte, error) {
	var lastErr error
	backoff := p.config.InitialBackoff

	for attempt := 1; attempt <= p.config.DownloadRetries; attempt++ {
		if attempt > 1 {
			p.logger.Debug("Retrying download", "jobId", jobID, "attempt", attempt, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("context cancelled during retry backoff: %w", ctx.Err())
			}
			backoff = min(backoff*2, p.config.MaxBackoff)
		}

		data, retry, err := p.fetchOnce(ctx, jobID, fileURL)
		if err == nil {
			p.logger.Debug("Download successful", "jobId", jobID, "attempt", attempt, "bytes", len(data))
			return data, nil
		}
		if !retry {
			return nil, err
		}
		lastErr = err
		p.logger.Warn("Download attempt failed", "jobId", jobID, "attempt", attempt, "error", err)
	}

	return nil, fmt.Errorf("failed to download file after %d attempts: %w", p.config.DownloadRetries, lastErr)
}

// fetchOnce performs one GET. retry reports whether the failure is transient.
func (p *SheetProcessor) fetchOnce(ctx context.Context, jobID, fileURL string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("invalid file URL: %w", err)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
		return nil, resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests, err
	}

	if err := p.checkSize(jobID, resp.ContentLength); err != nil {
		return nil, false, err
	}

	limit := p.config.MaxFileSize
	if limit <= 0 {
		limit = 1 << 30
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response body: %w", err)
	}
	if err := p.checkSize(jobID, int64(len(data))); err != nil {
		return nil, false, err
	}
	return data, false, nil
}
