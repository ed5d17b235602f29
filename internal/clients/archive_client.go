/**
 * Archive Client for the SheetScan Worker
 *
 * Keeps the original sheet image next to its score so disputed results can
 * be reviewed against the scan. Images are uploaded to the file service,
 * which returns an artifact ID and download URL stored with the job.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/adverant/nexus/sheetscan-worker/internal/logging"
)

// DefaultArchiveTTLDays keeps sheet images for one school year.
const DefaultArchiveTTLDays = 400

// ArchiveClient uploads sheet images to the file service
type ArchiveClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// ArchiveRequest is one sheet image to keep
type ArchiveRequest struct {
	Image    []byte
	Filename string
	MimeType string
	JobID    string
	TTLDays  int // 0 uses DefaultArchiveTTLDays
	Metadata map[string]interface{}
}

// Artifact describes a stored file
type Artifact struct {
	ID             string `json:"id"`
	Filename       string `json:"filename"`
	FileSize       int64  `json:"file_size"`
	MimeType       string `json:"mime_type"`
	StorageBackend string `json:"storage_backend"`
	DownloadURL    string `json:"download_url"`
	CreatedAt      string `json:"created_at"`
	ExpiresAt      string `json:"expires_at,omitempty"`
}

type artifactResponse struct {
	Success  bool     `json:"success"`
	Artifact Artifact `json:"artifact"`
	Error    string   `json:"error,omitempty"`
}

// NewArchiveClient creates a new archive client
func NewArchiveClient(baseURL string) *ArchiveClient {
	return &ArchiveClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
		logger: logging.NewLogger("ArchiveClient"),
	}
}

// ArchiveSheet uploads one sheet image and returns the stored artifact.
func (c *ArchiveClient) ArchiveSheet(ctx context.Context, req *ArchiveRequest) (*Artifact, error) {
	if len(req.Image) == 0 {
		return nil, fmt.Errorf("image is required: received empty buffer")
	}
	if req.JobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}
	filename := req.Filename
	if filename == "" {
		filename = req.JobID
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file part: %w", err)
	}
	if _, err := part.Write(req.Image); err != nil {
		return nil, fmt.Errorf("failed to write image to form: %w", err)
	}

	ttlDays := req.TTLDays
	if ttlDays <= 0 {
		ttlDays = DefaultArchiveTTLDays
	}
	fields := map[string]string{
		"source_service": "sheetscan-worker",
		"source_id":      req.JobID,
		"ttl_days":       strconv.Itoa(ttlDays),
	}
	if req.MimeType != "" {
		fields["mime_type"] = req.MimeType
	}
	if len(req.Metadata) > 0 {
		metadataJSON, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		fields["metadata"] = string(metadataJSON)
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write %s field: %w", k, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/files/upload", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("archive upload failed after %v: %w", time.Since(startTime), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("archive upload failed with HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var result artifactResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse archive response: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("archive upload returned success=false: %s", result.Error)
	}
	if result.Artifact.ID == "" {
		return nil, fmt.Errorf("archive upload succeeded but returned empty artifact ID")
	}

	c.logger.Debug("Sheet archived",
		"jobId", req.JobID,
		"artifactId", result.Artifact.ID,
		"backend", result.Artifact.StorageBackend,
		"elapsed", time.Since(startTime))

	return &result.Artifact, nil
}

// GetArtifact retrieves artifact metadata by ID
func (c *ArchiveClient) GetArtifact(ctx context.Context, artifactID string) (*Artifact, error) {
	if artifactID == "" {
		return nil, fmt.Errorf("artifact ID is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/files/"+artifactID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create get artifact request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("artifact not found: %s", artifactID)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("get artifact returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	var result artifactResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse artifact response: %w", err)
	}
	return &result.Artifact, nil
}
