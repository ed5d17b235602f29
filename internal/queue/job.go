package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/adverant/nexus/sheetscan-worker/internal/errors"
	"github.com/adverant/nexus/sheetscan-worker/internal/logging"
	"github.com/adverant/nexus/sheetscan-worker/internal/omr"
	"github.com/adverant/nexus/sheetscan-worker/internal/processor"
)

// Job statuses shared by Redis bookkeeping and PostgreSQL
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

const defaultProcessingTimeout = 60 * time.Second

// JobPayload contains the actual job data
type JobPayload struct {
	JobID      string `json:"jobId"`
	UserID     string `json:"userId"`
	Filename   string `json:"filename"`
	MimeType   string `json:"mimeType,omitempty"`
	FileSize   int64  `json:"fileSize,omitempty"`
	FileURL    string `json:"fileUrl,omitempty"`
	FileBuffer []byte `json:"fileBuffer,omitempty"` // base64 on the wire
	// TotalQuestions: absent estimates the count, 0 reads only the identifier.
	TotalQuestions *int                   `json:"totalQuestions,omitempty"`
	ExamID         string                 `json:"examId,omitempty"`
	StudentID      string                 `json:"studentId,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// UnmarshalJSON accepts fileBuffer as a base64 string or as a serialized
// Node.js Buffer object ({"type":"Buffer","data":[...]}).
func (p *JobPayload) UnmarshalJSON(data []byte) error {
	type Alias JobPayload
	aux := &struct {
		FileBuffer interface{} `json:"fileBuffer,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal JobPayload: %w", err)
	}

	p.FileBuffer = nil
	if aux.FileBuffer == nil {
		return nil
	}

	switch v := aux.FileBuffer.(type) {
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("failed to decode base64 fileBuffer: %w", err)
		}
		p.FileBuffer = decoded

	case map[string]interface{}:
		if bufferType, ok := v["type"].(string); !ok || bufferType != "Buffer" {
			return fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := v["data"].([]interface{})
		if !ok {
			return fmt.Errorf("Buffer object missing 'data' array")
		}
		p.FileBuffer = make([]byte, len(dataArray))
		for i, val := range dataArray {
			byteVal, ok := val.(float64)
			if !ok || byteVal < 0 || byteVal > 255 {
				return fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			p.FileBuffer[i] = byte(byteVal)
		}

	default:
		return fmt.Errorf("fileBuffer must be either base64 string or Buffer object, got %T", v)
	}

	return nil
}

// Validate checks the fields every job must carry.
func (p *JobPayload) Validate() error {
	if p.JobID == "" {
		return errors.NewInvalidInputError("job payload missing jobId", nil)
	}
	if len(p.FileBuffer) == 0 && p.FileURL == "" {
		return errors.NewInvalidInputError("job payload has neither fileBuffer nor fileUrl", nil).WithJob(p.JobID)
	}
	if p.TotalQuestions != nil && (*p.TotalQuestions < 0 || *p.TotalQuestions > omr.MaxQuestions) {
		return errors.NewInvalidInputError(
			fmt.Sprintf("totalQuestions must be within [0, %d], got %d", omr.MaxQuestions, *p.TotalQuestions), nil).WithJob(p.JobID)
	}
	return nil
}

// ScanRequest converts the payload to the processor's request.
func (p *JobPayload) ScanRequest() *processor.ScanRequest {
	total := omr.AutoQuestions
	if p.TotalQuestions != nil {
		total = *p.TotalQuestions
	}
	return &processor.ScanRequest{
		JobID:          p.JobID,
		UserID:         p.UserID,
		Filename:       p.Filename,
		MimeType:       p.MimeType,
		FileSize:       p.FileSize,
		FileURL:        p.FileURL,
		FileBuffer:     p.FileBuffer,
		TotalQuestions: total,
		ExamID:         p.ExamID,
		StudentID:      p.StudentID,
		Metadata:       p.Metadata,
	}
}

// jobRunner runs one payload through the processor with a deadline and
// records the job lifecycle in PostgreSQL. Both consumers share it.
type jobRunner struct {
	processor processor.SheetProcessorInterface
	timeout   time.Duration
	logger    *logging.Logger
}

func newJobRunner(proc processor.SheetProcessorInterface, timeoutMs int64, logger *logging.Logger) *jobRunner {
	timeout := defaultProcessingTimeout
	if timeoutMs > 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	return &jobRunner{processor: proc, timeout: timeout, logger: logger}
}

// run returns the outcome, or an error that is already recorded as the
// job's failure.
func (r *jobRunner) run(ctx context.Context, payload *JobPayload) (*processor.ScanOutcome, error) {
	startTime := time.Now()

	if err := payload.Validate(); err != nil {
		r.markFailed(ctx, payload.JobID, err, time.Since(startTime))
		return nil, err
	}

	if err := r.processor.UpdateJobStatus(ctx, payload.JobID, StatusProcessing, processingMetadata(payload)); err != nil {
		r.logger.Warn("Could not update job status to processing", "jobId", payload.JobID, "error", err)
	}

	processCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	outcome, err := r.processor.ProcessSheet(processCtx, payload.ScanRequest())
	duration := time.Since(startTime)

	if err != nil {
		if stderrors.Is(processCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			r.logger.Error("Processing timed out", "jobId", payload.JobID, "elapsed", duration, "timeout", r.timeout)
			err = errors.NewProcessingTimeoutError(payload.JobID, r.timeout, err)
		} else {
			r.logger.Error("Processing failed", "jobId", payload.JobID, "elapsed", duration, "error", err)
		}
		r.markFailed(ctx, payload.JobID, err, duration)
		return nil, err
	}

	if err := r.processor.UpdateJobStatus(ctx, payload.JobID, StatusCompleted, completedMetadata(outcome)); err != nil {
		r.logger.Error("Failed to update job status to completed", "jobId", payload.JobID, "error", err)
	}

	r.logger.Info("Job completed",
		"jobId", payload.JobID,
		"elapsed", duration,
		"uniqueNumber", outcome.UniqueNumber,
		"questions", outcome.TotalQuestions)
	return outcome, nil
}

func (r *jobRunner) markFailed(ctx context.Context, jobID string, err error, duration time.Duration) {
	if jobID == "" {
		return
	}
	if updateErr := r.processor.UpdateJobStatus(ctx, jobID, StatusFailed, failureMetadata(err, duration)); updateErr != nil {
		r.logger.Warn("Failed to update status to failed", "jobId", jobID, "error", updateErr)
	}
}

func processingMetadata(p *JobPayload) map[string]interface{} {
	md := map[string]interface{}{
		"filename": p.Filename,
		"mimeType": p.MimeType,
		"fileSize": p.FileSize,
		"userId":   p.UserID,
	}
	if p.TotalQuestions != nil {
		md["totalQuestions"] = *p.TotalQuestions
	}
	if p.ExamID != "" {
		md["examId"] = p.ExamID
	}
	return md
}

func completedMetadata(o *processor.ScanOutcome) map[string]interface{} {
	return map[string]interface{}{
		"scanResultId":     o.ScanResultID,
		"processingTimeMs": o.ProcessingTimeMs,
		"totalQuestions":   o.TotalQuestions,
		"idMethod":         o.IDMethod,
		"identified":       o.UniqueNumber != "",
		"timedOut":         o.TimedOut,
		"graded":           o.Graded,
		"archiveId":        o.ArchiveID,
	}
}

// failureMetadata flattens err for the job row; structured errors keep
// their code and details.
func failureMetadata(err error, duration time.Duration) map[string]interface{} {
	md := map[string]interface{}{}
	var pe *errors.ProcessingError
	if stderrors.As(err, &pe) {
		md = pe.ToMap()
	}
	md["error"] = err.Error()
	md["processingTimeMs"] = duration.Milliseconds()
	return md
}
