/**
 * Configuration for the SheetScan Worker
 *
 * Loads configuration from environment variables matching .env.sheetscan.
 * Scanner calibration lives in an optional YAML file (SCANNER_PARAMS_FILE)
 * whose keys override the built-in defaults.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/adverant/nexus/sheetscan-worker/internal/omr"
)

// EnvFile is the dotenv file read by LoadEnv.
const EnvFile = ".env.sheetscan"

// Config holds worker configuration
type Config struct {
	// Redis configuration
	RedisURL    string
	QueueDriver string // "redis" (list consumer) or "asynq"
	QueueName   string

	// PostgreSQL configuration
	DatabaseURL string

	// OCR configuration
	OCRBackend     string // "tesseract" or "remote"
	OCRLanguage    string
	TessdataPrefix string
	VisionOCRURL   string

	// Image backend: "native" or "opencv"
	ImageBackend string

	// Grading service notified after each scored sheet; empty disables it.
	GradingURL string

	// File service that archives original sheet images; empty disables it.
	ArchiveURL string

	// Worker configuration
	WorkerConcurrency int
	MaxFileSize       int64
	ProcessingTimeout int // milliseconds

	ScannerParamsFile string
	LogLevel          string
}

// LoadEnv reads EnvFile into the process environment if it exists.
func LoadEnv() error {
	return godotenv.Load(EnvFile)
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:          getEnvOrDefault("REDIS_URL", "redis://nexus-redis:6379"),
		QueueDriver:       strings.ToLower(getEnvOrDefault("QUEUE_DRIVER", "redis")),
		QueueName:         getEnvOrDefault("QUEUE_NAME", "sheetscan:jobs"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		OCRBackend:        strings.ToLower(getEnvOrDefault("OCR_BACKEND", "tesseract")),
		OCRLanguage:       getEnvOrDefault("OCR_LANGUAGE", "eng"),
		TessdataPrefix:    getEnvOrDefault("TESSDATA_PREFIX", ""),
		VisionOCRURL:      getEnvOrDefault("VISION_OCR_URL", "http://nexus-mageagent:8080"),
		ImageBackend:      strings.ToLower(getEnvOrDefault("IMAGE_BACKEND", "native")),
		GradingURL:        getEnvOrDefault("GRADING_URL", ""),
		ArchiveURL:        getEnvOrDefault("ARCHIVE_URL", ""),
		WorkerConcurrency: getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		MaxFileSize:       getEnvAsInt64OrDefault("MAX_FILE_SIZE", 52428800), // 50MB
		ProcessingTimeout: getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 60000), // 1 minute
		ScannerParamsFile: getEnvOrDefault("SCANNER_PARAMS_FILE", ""),
		LogLevel:          getEnvOrDefault("LOG_LEVEL", "info"),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.QueueDriver != "redis" && c.QueueDriver != "asynq" {
		return fmt.Errorf("QUEUE_DRIVER must be redis or asynq, got %q", c.QueueDriver)
	}

	switch c.OCRBackend {
	case "tesseract", "remote", "none":
	default:
		return fmt.Errorf("OCR_BACKEND must be tesseract, remote or none, got %q", c.OCRBackend)
	}

	if c.OCRBackend == "remote" && c.VisionOCRURL == "" {
		return fmt.Errorf("VISION_OCR_URL is required when OCR_BACKEND=remote")
	}

	if c.ImageBackend != "native" && c.ImageBackend != "opencv" {
		return fmt.Errorf("IMAGE_BACKEND must be native or opencv, got %q", c.ImageBackend)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.MaxFileSize < 1024 || c.MaxFileSize > 1073741824 { // 1KB to 1GB
		return fmt.Errorf("MAX_FILE_SIZE must be between 1KB and 1GB, got %d", c.MaxFileSize)
	}

	if c.ProcessingTimeout < 1000 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be at least 1000ms, got %d", c.ProcessingTimeout)
	}

	return nil
}

// LoadScannerParams returns the default calibration overridden by the YAML
// file at path. An empty path returns the defaults unchanged.
func LoadScannerParams(path string) (omr.Params, error) {
	params := omr.DefaultParams()
	if path == "" {
		return params, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return params, fmt.Errorf("failed to read scanner params: %w", err)
	}
	if err := yaml.Unmarshal(data, &params); err != nil {
		return params, fmt.Errorf("failed to parse scanner params %s: %w", path, err)
	}
	if err := params.Validate(); err != nil {
		return params, fmt.Errorf("invalid scanner params %s: %w", path, err)
	}
	return params, nil
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}
