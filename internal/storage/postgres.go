/**
 * PostgreSQL Client for the SheetScan Worker
 *
 * Handles job status tracking and persistence of scored answer sheets.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// JobUpdate represents a job status update
type JobUpdate struct {
	JobID            string
	Status           string
	ProcessingTimeMs int64
	ScanResultID     string
	ErrorCode        string
	ErrorMessage     string
	Metadata         map[string]interface{}
}

// ScanRecord is one scored sheet as persisted in sheetscan.scan_results.
type ScanRecord struct {
	ID             string          `json:"id"`
	JobID          string          `json:"jobId"`
	UniqueNumber   string          `json:"uniqueNumber,omitempty"` // empty when the identifier was not found
	IDMethod       string          `json:"idMethod"`
	TotalQuestions int             `json:"totalQuestions"`
	Answers        []string        `json:"answers"`
	TimedOut       bool            `json:"timedOut,omitempty"`
	Debug          json.RawMessage `json:"debug,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// jobNamespace derives stable UUIDs for queue job IDs that are not UUIDs.
var jobNamespace = uuid.MustParse("6f1c9b52-3d4e-4a8f-9c1b-7e2d5a0b8c43")

// JobUUID returns jobID if it already is a UUID, else a name-based UUID of it.
func JobUUID(jobID string) string {
	if u, err := uuid.Parse(jobID); err == nil {
		return u.String()
	}
	return uuid.NewSHA1(jobNamespace, []byte(jobID)).String()
}

// schema is applied by Migrate. Statements are idempotent.
const schema = `
CREATE SCHEMA IF NOT EXISTS sheetscan;

CREATE TABLE IF NOT EXISTS sheetscan.scan_jobs (
	id                 UUID PRIMARY KEY,
	user_id            TEXT NOT NULL DEFAULT 'anonymous',
	filename           TEXT,
	status             TEXT NOT NULL,
	total_questions    INTEGER,
	processing_time_ms BIGINT,
	scan_result_id     UUID,
	error_code         TEXT,
	error_message      TEXT,
	metadata           JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS sheetscan.scan_results (
	id              UUID PRIMARY KEY,
	job_id          UUID NOT NULL,
	unique_number   TEXT,
	id_method       TEXT NOT NULL,
	total_questions INTEGER NOT NULL,
	answers         TEXT[] NOT NULL,
	timed_out       BOOLEAN NOT NULL DEFAULT FALSE,
	debug           JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS scan_results_job_id_idx ON sheetscan.scan_results (job_id);
CREATE INDEX IF NOT EXISTS scan_results_unique_number_idx ON sheetscan.scan_results (unique_number);
`

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	// Connect to database
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// Migrate creates the sheetscan schema if it does not exist yet.
func (p *PostgresClient) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// UpdateJobStatus upserts the job row so the worker can track jobs the API
// never registered.
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	metadataJSON, err := json.Marshal(update.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	metadataJSON = sanitizeJSONForPostgres(metadataJSON)

	query := `
		INSERT INTO sheetscan.scan_jobs (
			id, user_id, filename, status, total_questions,
			processing_time_ms, scan_result_id, error_code, error_message,
			metadata, created_at, updated_at
		) VALUES (
			$1::uuid, COALESCE(NULLIF($8, ''), 'anonymous'), NULLIF($9, ''), $2, $10,
			NULLIF($3, 0),
			CASE WHEN $4 = '' THEN NULL ELSE $4::uuid END,
			NULLIF($5, ''), NULLIF($6, ''),
			COALESCE($7::jsonb, '{}'::jsonb),
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, sheetscan.scan_jobs.processing_time_ms),
			scan_result_id = COALESCE(EXCLUDED.scan_result_id, sheetscan.scan_jobs.scan_result_id),
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			metadata = sheetscan.scan_jobs.metadata || EXCLUDED.metadata,
			filename = COALESCE(EXCLUDED.filename, sheetscan.scan_jobs.filename),
			total_questions = COALESCE(EXCLUDED.total_questions, sheetscan.scan_jobs.total_questions),
			updated_at = NOW()
		RETURNING id
	`

	// Extract additional fields from metadata if present
	var filename, userID string
	var totalQuestions sql.NullInt64
	if update.Metadata != nil {
		if fn, ok := update.Metadata["filename"].(string); ok {
			filename = fn
		}
		if uid, ok := update.Metadata["userId"].(string); ok {
			userID = uid
		}
		switch tq := update.Metadata["totalQuestions"].(type) {
		case int:
			totalQuestions = sql.NullInt64{Int64: int64(tq), Valid: true}
		case float64:
			totalQuestions = sql.NullInt64{Int64: int64(tq), Valid: true}
		}
	}

	var returnedID string
	err = p.db.QueryRowContext(
		ctx,
		query,
		JobUUID(update.JobID),   // $1
		update.Status,           // $2
		update.ProcessingTimeMs, // $3
		update.ScanResultID,     // $4
		update.ErrorCode,        // $5
		update.ErrorMessage,     // $6
		metadataJSON,            // $7
		userID,                  // $8
		filename,                // $9
		totalQuestions,          // $10
	).Scan(&returnedID)

	if err == sql.ErrNoRows {
		return fmt.Errorf("job not found: %s", update.JobID)
	}

	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s): %w",
			update.JobID, update.Status, err)
	}

	return nil
}

// StoreScanResult inserts a scored sheet and returns its ID.
func (p *PostgresClient) StoreScanResult(ctx context.Context, rec *ScanRecord) (string, error) {
	if rec.JobID == "" {
		return "", fmt.Errorf("job ID is required")
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	var debugJSON []byte
	if len(rec.Debug) > 0 {
		debugJSON = sanitizeJSONForPostgres(rec.Debug)
	}

	query := `
		INSERT INTO sheetscan.scan_results (
			id, job_id, unique_number, id_method, total_questions,
			answers, timed_out, debug, created_at
		) VALUES ($1::uuid, $2::uuid, NULLIF($3, ''), $4, $5, $6, $7, $8::jsonb, NOW())
		RETURNING id, created_at
	`

	err := p.db.QueryRowContext(
		ctx,
		query,
		rec.ID,
		JobUUID(rec.JobID),
		rec.UniqueNumber,
		rec.IDMethod,
		rec.TotalQuestions,
		pq.Array(rec.Answers),
		rec.TimedOut,
		debugJSON,
	).Scan(&rec.ID, &rec.CreatedAt)

	if err != nil {
		return "", fmt.Errorf("failed to store scan result: %w", err)
	}

	return rec.ID, nil
}

// GetScanResult returns the most recent result stored for a job.
func (p *PostgresClient) GetScanResult(ctx context.Context, jobID string) (*ScanRecord, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `
		SELECT id, job_id, unique_number, id_method, total_questions,
		       answers, timed_out, debug, created_at
		FROM sheetscan.scan_results
		WHERE job_id = $1::uuid
		ORDER BY created_at DESC
		LIMIT 1
	`

	var (
		rec          ScanRecord
		uniqueNumber sql.NullString
		answers      pq.StringArray
		debugJSON    []byte
	)

	err := p.db.QueryRowContext(ctx, query, JobUUID(jobID)).Scan(
		&rec.ID, &rec.JobID, &uniqueNumber, &rec.IDMethod, &rec.TotalQuestions,
		&answers, &rec.TimedOut, &debugJSON, &rec.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("scan result not found for job: %s", jobID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get scan result: %w", err)
	}

	rec.UniqueNumber = uniqueNumber.String
	rec.Answers = []string(answers)
	if len(debugJSON) > 0 {
		rec.Debug = json.RawMessage(debugJSON)
	}

	return &rec, nil
}

// GetJobByID retrieves a job by ID
func (p *PostgresClient) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `
		SELECT
			id, user_id, filename, status, total_questions,
			processing_time_ms, scan_result_id, error_code, error_message,
			metadata, created_at, updated_at
		FROM sheetscan.scan_jobs
		WHERE id = $1::uuid
	`

	var (
		id, userID, status                    string
		filename                              sql.NullString
		totalQuestions, processingTimeMs      sql.NullInt64
		scanResultID, errorCode, errorMessage sql.NullString
		metadataJSON                          []byte
		createdAt, updatedAt                  time.Time
	)

	err := p.db.QueryRowContext(ctx, query, JobUUID(jobID)).Scan(
		&id, &userID, &filename, &status, &totalQuestions,
		&processingTimeMs, &scanResultID, &errorCode, &errorMessage,
		&metadataJSON, &createdAt, &updatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var metadata map[string]interface{}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	result := map[string]interface{}{
		"id":        id,
		"userId":    userID,
		"status":    status,
		"createdAt": createdAt,
		"updatedAt": updatedAt,
		"metadata":  metadata,
	}

	if filename.Valid {
		result["filename"] = filename.String
	}
	if totalQuestions.Valid {
		result["totalQuestions"] = totalQuestions.Int64
	}
	if processingTimeMs.Valid {
		result["processingTimeMs"] = processingTimeMs.Int64
	}
	if scanResultID.Valid {
		result["scanResultId"] = scanResultID.String
	}
	if errorCode.Valid {
		result["errorCode"] = errorCode.String
	}
	if errorMessage.Valid {
		result["errorMessage"] = errorMessage.String
	}

	return result, nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}
