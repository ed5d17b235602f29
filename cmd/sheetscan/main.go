// Package main provides the sheetscan CLI: score sheets locally, submit them
// to the worker queue and read stored results.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/adverant/nexus/sheetscan-worker/internal/bootstrap"
	"github.com/adverant/nexus/sheetscan-worker/internal/clients"
	"github.com/adverant/nexus/sheetscan-worker/internal/config"
	"github.com/adverant/nexus/sheetscan-worker/internal/logging"
	"github.com/adverant/nexus/sheetscan-worker/internal/omr"
	"github.com/adverant/nexus/sheetscan-worker/internal/queue"
	"github.com/adverant/nexus/sheetscan-worker/internal/storage"
)

var (
	questions    int
	autoCount    bool
	idOnly       bool
	paramsFile   string
	imageBackend string
	ocrBackend   string
	visionURL    string
	language     string
	pretty       bool
	withDebug    bool
	timeout      time.Duration
	logLevel     string
)

func main() {
	_ = config.LoadEnv()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sheetscan",
		Short: "Score scanned bubble answer sheets",
		Long: `sheetscan reads the 10-digit sheet identifier and the marked answers
from a scanned bubble sheet and prints the result as JSON.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.SetDefaultLevel(logging.ParseLevel(logLevel))
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&paramsFile, "params", "", "YAML file overriding scanner parameters")
	pf.StringVar(&imageBackend, "image-backend", "native", "Imaging backend: native or opencv")
	pf.StringVar(&ocrBackend, "ocr", "tesseract", "OCR backend: tesseract, remote or none")
	pf.StringVar(&visionURL, "vision-url", os.Getenv("VISION_OCR_URL"), "Vision OCR service URL (remote OCR)")
	pf.StringVar(&language, "lang", "eng", "OCR language")
	pf.BoolVar(&pretty, "pretty", false, "Pretty-print JSON output")
	pf.BoolVar(&withDebug, "debug", false, "Include diagnostic data in the output")
	pf.DurationVar(&timeout, "timeout", 2*time.Minute, "Overall time limit")
	pf.StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")

	scanCmd := &cobra.Command{
		Use:   "scan <image>",
		Short: "Read identifier and answers from a sheet",
		Args:  cobra.ExactArgs(1),
		RunE:  runScan,
	}
	scanCmd.Flags().IntVarP(&questions, "questions", "n", 0, "Number of questions on the sheet")
	scanCmd.Flags().BoolVar(&autoCount, "auto", false, "Estimate the number of questions")
	scanCmd.Flags().BoolVar(&idOnly, "id-only", false, "Read only the identifier")

	idCmd := &cobra.Command{
		Use:   "id <image>",
		Short: "Read only the 10-digit identifier",
		Args:  cobra.ExactArgs(1),
		RunE:  runID,
	}

	answersCmd := &cobra.Command{
		Use:   "answers <image>",
		Short: "Read only the answers",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnswers,
	}
	answersCmd.Flags().IntVarP(&questions, "questions", "n", 0, "Number of questions (0 with --auto estimates)")
	answersCmd.Flags().BoolVar(&autoCount, "auto", false, "Estimate the number of questions")

	rootCmd.AddCommand(scanCmd, idCmd, answersCmd, newSubmitCmd(), newResultCmd())
	return rootCmd
}

// questionMode maps the scan flags to a ScanFilledSheet question count.
func questionMode() (int, error) {
	switch {
	case idOnly && (autoCount || questions > 0):
		return 0, fmt.Errorf("--id-only cannot be combined with --questions or --auto")
	case autoCount && questions > 0:
		return 0, fmt.Errorf("--auto cannot be combined with --questions")
	case idOnly:
		return 0, nil
	case autoCount:
		return omr.AutoQuestions, nil
	case questions > 0:
		return questions, nil
	default:
		return 0, fmt.Errorf("one of --questions, --auto or --id-only is required")
	}
}

func newScanner() (*omr.Scanner, error) {
	return bootstrap.Scanner(&config.Config{
		OCRBackend:        ocrBackend,
		OCRLanguage:       language,
		VisionOCRURL:      visionURL,
		ImageBackend:      imageBackend,
		ScannerParamsFile: paramsFile,
		WorkerConcurrency: 1,
	})
}

func readImage(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func runScan(cmd *cobra.Command, args []string) error {
	total, err := questionMode()
	if err != nil {
		return err
	}
	data, err := readImage(args[0])
	if err != nil {
		return err
	}
	scanner, err := newScanner()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	result, err := scanner.ScanFilledSheet(ctx, data, total)
	if err != nil {
		return err
	}
	if !withDebug {
		result.Debug = nil
	}
	return printJSON(cmd, result)
}

func runID(cmd *cobra.Command, args []string) error {
	data, err := readImage(args[0])
	if err != nil {
		return err
	}
	scanner, err := newScanner()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	result, err := scanner.ScanUniqueID(ctx, data)
	if err != nil {
		return err
	}
	if !withDebug {
		result.Debug = nil
	}
	return printJSON(cmd, result)
}

func runAnswers(cmd *cobra.Command, args []string) error {
	if autoCount && questions > 0 {
		return fmt.Errorf("--auto cannot be combined with --questions")
	}
	data, err := readImage(args[0])
	if err != nil {
		return err
	}
	scanner, err := newScanner()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	var result *omr.AnswersResult
	if autoCount {
		result, err = scanner.ScanAnswersAuto(ctx, data)
	} else {
		result, err = scanner.ScanAnswers(ctx, data, questions)
	}
	if err != nil {
		return err
	}
	if !withDebug {
		result.Debug = nil
	}
	return printJSON(cmd, result)
}

func newSubmitCmd() *cobra.Command {
	var (
		driver, queueName, examID, studentID string
		total                                 int
	)
	cmd := &cobra.Command{
		Use:   "submit <image>",
		Short: "Queue a sheet for the worker (uses REDIS_URL)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readImage(args[0])
			if err != nil {
				return err
			}
			producer, err := queue.NewProducer(&queue.ProducerConfig{
				Driver:    driver,
				RedisURL:  os.Getenv("REDIS_URL"),
				QueueName: queueName,
			})
			if err != nil {
				return err
			}
			defer producer.Close()

			payload := &queue.JobPayload{
				UserID:     os.Getenv("USER"),
				Filename:   filepath.Base(args[0]),
				FileSize:   int64(len(data)),
				FileBuffer: data,
				ExamID:     examID,
				StudentID:  studentID,
			}
			if cmd.Flags().Changed("questions") {
				payload.TotalQuestions = &total
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			jobID, err := producer.Enqueue(ctx, payload)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{"jobId": jobID})
		},
	}
	cmd.Flags().StringVar(&driver, "driver", "redis", "Queue driver: redis or asynq")
	cmd.Flags().StringVar(&queueName, "queue", "sheetscan:jobs", "Queue name")
	cmd.Flags().IntVarP(&total, "questions", "n", 0, "Number of questions (omit to estimate, 0 for identifier only)")
	cmd.Flags().StringVar(&examID, "exam", "", "Exam ID forwarded to grading")
	cmd.Flags().StringVar(&studentID, "student", "", "Student ID forwarded to grading")
	return cmd
}

// jobView is what `result` prints: the job row, the scan result once the
// job completed, and the archived sheet when one was kept.
type jobView struct {
	Job     map[string]interface{} `json:"job"`
	Result  *storage.ScanRecord    `json:"result,omitempty"`
	Archive *clients.Artifact      `json:"archive,omitempty"`
}

func newResultCmd() *cobra.Command {
	var archiveURL string
	cmd := &cobra.Command{
		Use:   "result <job-id>",
		Short: "Print the stored job and result (uses DATABASE_URL and REDIS_URL)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sm, err := storage.NewStorageManager(os.Getenv("DATABASE_URL"), os.Getenv("REDIS_URL"))
			if err != nil {
				return err
			}
			defer sm.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			job, err := sm.GetJobByID(ctx, args[0])
			if err != nil {
				return err
			}
			view := &jobView{Job: job}

			if job["status"] == queue.StatusCompleted {
				rec, err := sm.GetScanResult(ctx, args[0])
				if err != nil {
					return err
				}
				if !withDebug {
					rec.Debug = nil
				}
				view.Result = rec
			}

			if archiveURL != "" {
				art, err := lookupArchive(ctx, clients.NewArchiveClient(archiveURL), job)
				if err != nil {
					logging.NewLogger("CLI").Warn("Archived sheet lookup failed", "jobId", args[0], "error", err)
				}
				view.Archive = art
			}
			return printJSON(cmd, view)
		},
	}
	cmd.Flags().StringVar(&archiveURL, "archive-url", os.Getenv("ARCHIVE_URL"), "File service URL for archived sheet lookup")
	return cmd
}

// jobArchiveID returns the artifact ID recorded in the job's metadata.
func jobArchiveID(job map[string]interface{}) string {
	md, _ := job["metadata"].(map[string]interface{})
	id, _ := md["archiveId"].(string)
	return id
}

// lookupArchive fetches the artifact of an archived sheet, or nil when the
// job has none.
func lookupArchive(ctx context.Context, archive *clients.ArchiveClient, job map[string]interface{}) (*clients.Artifact, error) {
	id := jobArchiveID(job)
	if id == "" {
		return nil, nil
	}
	return archive.GetArtifact(ctx, id)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	var (
		out []byte
		err error
	)
	if pretty {
		out, err = json.MarshalIndent(v, "", "  ")
	} else {
		out, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("serialization failed: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}
