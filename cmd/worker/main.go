/**
 * SheetScan Worker - Main Entry Point
 *
 * Go worker that scores scanned bubble answer sheets.
 *
 * Architecture:
 * - Redis LIST consumer (default) or Asynq consumer for the job queue
 * - Scan pipeline: identifier (footer grid OCR, full-frame fallback) and
 *   answers (grid hypothesis search + per-question alignment search)
 * - PostgreSQL persistence with a Redis read-through cache for results
 * - Optional grading-service notification and image archiving per sheet
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adverant/nexus/sheetscan-worker/internal/bootstrap"
	"github.com/adverant/nexus/sheetscan-worker/internal/clients"
	"github.com/adverant/nexus/sheetscan-worker/internal/config"
	"github.com/adverant/nexus/sheetscan-worker/internal/logging"
	"github.com/adverant/nexus/sheetscan-worker/internal/processor"
	"github.com/adverant/nexus/sheetscan-worker/internal/queue"
	"github.com/adverant/nexus/sheetscan-worker/internal/storage"
)

// queueConsumer is implemented by both queue drivers.
type queueConsumer interface {
	Start() error
	Stop() error
	Stats() (map[string]interface{}, error)
}

// asynqDriver adapts queue.Consumer to queueConsumer.
type asynqDriver struct{ *queue.Consumer }

func (d asynqDriver) Start() error { return d.Consumer.Start(context.Background()) }
func (d asynqDriver) Stop() error  { return d.Consumer.Stop(context.Background()) }
func (d asynqDriver) Stats() (map[string]interface{}, error) {
	return d.Consumer.GetStatistics(), nil
}

// redisDriver adapts queue.RedisConsumer to queueConsumer.
type redisDriver struct{ *queue.RedisConsumer }

func (d redisDriver) Stats() (map[string]interface{}, error) {
	counts, err := d.RedisConsumer.GetStats()
	if err != nil {
		return nil, err
	}
	stats := map[string]interface{}{"driver": "redis"}
	for k, v := range counts {
		stats[k] = v
	}
	return stats, nil
}

func main() {
	logger := logging.NewLogger("Main")

	if err := config.LoadEnv(); err != nil {
		logger.Warn("Env file not found, using system environment variables", "file", config.EnvFile)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.SetDefaultLevel(logging.ParseLevel(cfg.LogLevel))
	logger = logging.NewLogger("Main")

	logger.Info("SheetScan Worker starting",
		"queueDriver", cfg.QueueDriver,
		"queue", cfg.QueueName,
		"workers", cfg.WorkerConcurrency,
		"ocr", cfg.OCRBackend,
		"images", cfg.ImageBackend)

	scanner, err := bootstrap.Scanner(cfg)
	if err != nil {
		logger.Error("Failed to initialize scanner", "error", err)
		os.Exit(1)
	}

	// Storage manager (PostgreSQL + Redis result cache)
	storageManager, err := storage.NewStorageManager(cfg.DatabaseURL, cfg.RedisURL)
	if err != nil {
		logger.Error("Failed to initialize storage manager", "error", err)
		os.Exit(1)
	}
	defer storageManager.Close()

	migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = storageManager.Migrate(migrateCtx)
	cancel()
	if err != nil {
		logger.Error("Failed to migrate schema", "error", err)
		os.Exit(1)
	}

	procCfg := &processor.ProcessorConfig{
		Scanner:     scanner,
		Storage:     storageManager,
		MaxFileSize: cfg.MaxFileSize,
	}
	if cfg.GradingURL != "" {
		procCfg.Grading = clients.NewGradingClient(cfg.GradingURL)
		logger.Info("Grading notifications enabled", "url", cfg.GradingURL)
	}
	if cfg.ArchiveURL != "" {
		procCfg.Archive = clients.NewArchiveClient(cfg.ArchiveURL)
		logger.Info("Sheet archiving enabled", "url", cfg.ArchiveURL)
	}

	proc, err := processor.NewSheetProcessor(procCfg)
	if err != nil {
		logger.Error("Failed to initialize sheet processor", "error", err)
		os.Exit(1)
	}

	consumer, err := newConsumer(cfg, proc)
	if err != nil {
		logger.Error("Failed to initialize queue consumer", "error", err)
		os.Exit(1)
	}

	if err := consumer.Start(); err != nil {
		logger.Error("Failed to start queue consumer", "error", err)
		os.Exit(1)
	}
	logger.Info("SheetScan Worker is READY, waiting for jobs")

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received signal, initiating graceful shutdown", "signal", sig.String())

	// Stop closes the Redis client, so read the queue counters first.
	if stats, err := consumer.Stats(); err == nil {
		logger.Info("Queue statistics", "stats", stats)
	} else {
		logger.Warn("Could not read queue statistics", "error", err)
	}

	if err := consumer.Stop(); err != nil {
		logger.Error("Error stopping queue consumer", "error", err)
	}

	if stats, err := storageManager.GetStats(context.Background()); err == nil {
		logger.Info("Storage statistics", "stats", stats)
	}

	logger.Info("Shutdown complete")
}

func newConsumer(cfg *config.Config, proc processor.SheetProcessorInterface) (queueConsumer, error) {
	if cfg.QueueDriver == "asynq" {
		c, err := queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Processor:         proc,
			ProcessingTimeout: int64(cfg.ProcessingTimeout),
		})
		if err != nil {
			return nil, err
		}
		return asynqDriver{c}, nil
	}

	c, err := queue.NewRedisConsumer(&queue.RedisConsumerConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         cfg.QueueName,
		Concurrency:       cfg.WorkerConcurrency,
		Processor:         proc,
		ProcessingTimeout: int64(cfg.ProcessingTimeout),
	})
	if err != nil {
		return nil, err
	}
	return redisDriver{c}, nil
}
