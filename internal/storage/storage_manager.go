/**
 * Storage Manager for the SheetScan Worker
 *
 * Coordinates storage operations across PostgreSQL (system of record) and a
 * Redis read-through cache of recent scan results. PostgreSQL writes must
 * succeed; cache failures are logged and never fail a job.
 */

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/sheetscan-worker/internal/logging"
)

// DefaultResultTTL is how long scan results stay in the Redis cache.
const DefaultResultTTL = 24 * time.Hour

// StorageManager coordinates PostgreSQL and Redis operations
type StorageManager struct {
	postgres *PostgresClient
	cache    *redis.Client
	ttl      time.Duration
	logger   *logging.Logger
}

// NewStorageManager creates a new storage manager. An empty redisURL disables
// the result cache.
func NewStorageManager(postgresURL string, redisURL string) (*StorageManager, error) {
	// Initialize PostgreSQL client
	postgres, err := NewPostgresClient(postgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
	}

	sm := &StorageManager{
		postgres: postgres,
		ttl:      DefaultResultTTL,
		logger:   logging.NewLogger("StorageManager"),
	}

	if redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			postgres.Close() // Cleanup on failure
			return nil, fmt.Errorf("invalid Redis URL: %w", err)
		}
		sm.cache = redis.NewClient(opts)
	}

	return sm, nil
}

// Migrate applies the PostgreSQL schema.
func (sm *StorageManager) Migrate(ctx context.Context) error {
	return sm.postgres.Migrate(ctx)
}

// StoreScanResult persists rec in PostgreSQL, links it to its job and caches it.
func (sm *StorageManager) StoreScanResult(ctx context.Context, rec *ScanRecord) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("scan record is required")
	}

	id, err := sm.postgres.StoreScanResult(ctx, rec)
	if err != nil {
		return "", err
	}

	if sm.cache != nil {
		payload, err := json.Marshal(rec)
		if err == nil {
			err = sm.cache.Set(ctx, resultCacheKey(rec.JobID), payload, sm.ttl).Err()
		}
		if err != nil {
			sm.logger.Warn("Failed to cache scan result", "jobId", rec.JobID, "error", err)
		}
	}

	return id, nil
}

// GetScanResult reads from the cache first and falls back to PostgreSQL.
func (sm *StorageManager) GetScanResult(ctx context.Context, jobID string) (*ScanRecord, error) {
	if sm.cache != nil {
		payload, err := sm.cache.Get(ctx, resultCacheKey(jobID)).Bytes()
		switch {
		case err == nil:
			var rec ScanRecord
			if err := json.Unmarshal(payload, &rec); err == nil {
				return &rec, nil
			}
			sm.logger.Warn("Discarding corrupt cached scan result", "jobId", jobID)
		case !errors.Is(err, redis.Nil):
			sm.logger.Warn("Scan result cache unavailable", "jobId", jobID, "error", err)
		}
	}
	return sm.postgres.GetScanResult(ctx, jobID)
}

// UpdateJobStatus updates job status in PostgreSQL
func (sm *StorageManager) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	return sm.postgres.UpdateJobStatus(ctx, update)
}

// GetJobByID retrieves job by ID
func (sm *StorageManager) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	return sm.postgres.GetJobByID(ctx, jobID)
}

// Ping checks PostgreSQL and, when configured, Redis.
func (sm *StorageManager) Ping(ctx context.Context) error {
	if err := sm.postgres.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	if sm.cache != nil {
		if err := sm.cache.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("cache health check failed: %w", err)
		}
	}
	return nil
}

// GetStats returns statistics from both systems
func (sm *StorageManager) GetStats(ctx context.Context) (map[string]interface{}, error) {
	pgStats := sm.postgres.GetStats()

	stats := map[string]interface{}{
		"postgres": map[string]interface{}{
			"max_open_connections": pgStats.MaxOpenConnections,
			"open_connections":     pgStats.OpenConnections,
			"in_use":               pgStats.InUse,
			"idle":                 pgStats.Idle,
			"wait_count":           pgStats.WaitCount,
			"wait_duration":        pgStats.WaitDuration.String(),
		},
	}

	if sm.cache != nil {
		ps := sm.cache.PoolStats()
		stats["redis"] = map[string]interface{}{
			"hits":        ps.Hits,
			"misses":      ps.Misses,
			"timeouts":    ps.Timeouts,
			"total_conns": ps.TotalConns,
			"idle_conns":  ps.IdleConns,
		}
	}

	return stats, nil
}

// Close closes all connections
func (sm *StorageManager) Close() error {
	var pgErr, cacheErr error

	if sm.postgres != nil {
		pgErr = sm.postgres.Close()
	}

	if sm.cache != nil {
		cacheErr = sm.cache.Close()
	}

	if pgErr != nil {
		return fmt.Errorf("failed to close PostgreSQL: %w", pgErr)
	}

	if cacheErr != nil {
		return fmt.Errorf("failed to close Redis: %w", cacheErr)
	}

	return nil
}

func resultCacheKey(jobID string) string {
	return "sheetscan:result:" + jobID
}

var (
	nullEscape    = regexp.MustCompile(`\\u0000`)
	controlEscape = regexp.MustCompile(`\\u00[01][0-9a-fA-F]`)
)

// sanitizeJSONForPostgres strips \u0000 escapes, which JSONB rejects, and
// replaces the remaining control-character escapes with a space. OCR text in
// debug payloads is the usual source.
func sanitizeJSONForPostgres(jsonBytes []byte) []byte {
	result := nullEscape.ReplaceAll(jsonBytes, []byte{})
	return controlEscape.ReplaceAll(result, []byte(" "))
}
