package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/adverant/nexus/sheetscan-worker/internal/errors"
	"github.com/adverant/nexus/sheetscan-worker/internal/logging"
	"github.com/adverant/nexus/sheetscan-worker/internal/omr"
	"github.com/adverant/nexus/sheetscan-worker/internal/processor"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

func TestJobPayloadUnmarshalBufferFormats(t *testing.T) {
	tests := []struct {
		name string
		json string
		want []byte
	}{
		{"base64", `{"jobId":"j","fileBuffer":"AQID"}`, []byte{1, 2, 3}},
		{"node buffer", `{"jobId":"j","fileBuffer":{"type":"Buffer","data":[1,2,255]}}`, []byte{1, 2, 255}},
		{"absent", `{"jobId":"j","fileUrl":"http://x"}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p JobPayload
			if err := json.Unmarshal([]byte(tt.json), &p); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if string(p.FileBuffer) != string(tt.want) {
				t.Fatalf("FileBuffer = %v, want %v", p.FileBuffer, tt.want)
			}
			if p.JobID != "j" {
				t.Fatalf("JobID = %q", p.JobID)
			}
		})
	}
}

func TestJobPayloadUnmarshalRejects(t *testing.T) {
	for _, raw := range []string{
		`{"fileBuffer":"***"}`,
		`{"fileBuffer":{"type":"Blob","data":[1]}}`,
		`{"fileBuffer":{"type":"Buffer"}}`,
		`{"fileBuffer":{"type":"Buffer","data":[256]}}`,
		`{"fileBuffer":42}`,
	} {
		var p JobPayload
		if err := json.Unmarshal([]byte(raw), &p); err == nil {
			t.Errorf("accepted %s", raw)
		}
	}
}

func TestJobPayloadRoundTripsThroughTask(t *testing.T) {
	total := 20
	task, err := NewScanSheetTask(&JobPayload{JobID: "j", FileBuffer: []byte{9, 8, 7}, TotalQuestions: &total})
	if err != nil {
		t.Fatalf("NewScanSheetTask: %v", err)
	}
	if task.Type() != TaskTypeScanSheet {
		t.Fatalf("task type %q", task.Type())
	}
	var p JobPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if string(p.FileBuffer) != string([]byte{9, 8, 7}) || p.TotalQuestions == nil || *p.TotalQuestions != 20 {
		t.Fatalf("payload changed: %+v", p)
	}

	if _, err := NewScanSheetTask(&JobPayload{}); err == nil {
		t.Fatal("task built from empty payload")
	}
}

func TestJobPayloadValidate(t *testing.T) {
	neg, big := -1, omr.MaxQuestions+1
	for name, p := range map[string]*JobPayload{
		"no id":      {FileURL: "http://x"},
		"no source":  {JobID: "j"},
		"negative":   {JobID: "j", FileURL: "http://x", TotalQuestions: &neg},
		"over limit": {JobID: "j", FileURL: "http://x", TotalQuestions: &big},
	} {
		if err := p.Validate(); !errors.IsInvalidInput(err) {
			t.Errorf("%s: got %v", name, err)
		}
	}
}

func TestJobPayloadScanRequestQuestionMode(t *testing.T) {
	p := &JobPayload{JobID: "j", FileURL: "http://x"}
	if got := p.ScanRequest().TotalQuestions; got != omr.AutoQuestions {
		t.Fatalf("absent totalQuestions -> %d", got)
	}
	zero := 0
	p.TotalQuestions = &zero
	if got := p.ScanRequest().TotalQuestions; got != 0 {
		t.Fatalf("zero totalQuestions -> %d", got)
	}
}

func TestShouldRetry(t *testing.T) {
	transient := stderrors.New("connection reset")
	permanent := errors.NewInvalidInputError("image could not be decoded", nil)

	if !shouldRetry(transient, 1, 3) {
		t.Error("transient error not retried")
	}
	if shouldRetry(transient, 3, 3) {
		t.Error("retried past max")
	}
	if shouldRetry(permanent, 1, 3) {
		t.Error("permanent error retried")
	}
	if shouldRetry(errors.NewUnsupportedFormatError("j", "application/pdf"), 0, 3) {
		t.Error("unsupported format retried")
	}
}

func TestRetryDelay(t *testing.T) {
	want := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second, 60 * time.Second, 60 * time.Second}
	for n, w := range want {
		if got := retryDelay(n, nil, nil); got != w {
			t.Errorf("retryDelay(%d) = %v, want %v", n, got, w)
		}
	}
}

func TestQueueKeysAndEvents(t *testing.T) {
	k := newQueueKeys("sheetscan:jobs")
	if k.data != "sheetscan:jobs:data" || k.events != "sheetscan:jobs:events" || k.failed != "sheetscan:jobs:failed" {
		t.Fatalf("unexpected keys %+v", k)
	}

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ev := jobEvent("j", StatusCompleted, at)
	if ev["event"] != "job:completed" || ev["timestamp"] != "2024-05-01T12:00:00Z" {
		t.Fatalf("unexpected event %v", ev)
	}
}

func TestFailureMetadataKeepsErrorCode(t *testing.T) {
	md := failureMetadata(errors.NewStorageFailedError("j", stderrors.New("disk full")), 1500*time.Millisecond)
	if md["error_code"] != string(errors.ErrorStorageFailed) {
		t.Fatalf("error_code = %v", md["error_code"])
	}
	if md["processingTimeMs"] != int64(1500) || md["error"] == "" {
		t.Fatalf("unexpected metadata %v", md)
	}

	plain := failureMetadata(stderrors.New("boom"), 0)
	if _, ok := plain["error_code"]; ok || plain["error"] != "boom" {
		t.Fatalf("unexpected metadata %v", plain)
	}
}

type statusCall struct {
	status   string
	metadata map[string]interface{}
}

type fakeProcessor struct {
	mu      sync.Mutex
	calls   []statusCall
	process func(ctx context.Context, req *processor.ScanRequest) (*processor.ScanOutcome, error)
}

func (f *fakeProcessor) ProcessSheet(ctx context.Context, req *processor.ScanRequest) (*processor.ScanOutcome, error) {
	return f.process(ctx, req)
}

func (f *fakeProcessor) UpdateJobStatus(ctx context.Context, jobID string, status string, metadata map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, statusCall{status, metadata})
	return nil
}

func (f *fakeProcessor) statuses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.status
	}
	return out
}

func TestJobRunnerLifecycle(t *testing.T) {
	proc := &fakeProcessor{process: func(ctx context.Context, req *processor.ScanRequest) (*processor.ScanOutcome, error) {
		return &processor.ScanOutcome{ScanResultID: "r", TotalQuestions: 5}, nil
	}}
	runner := newJobRunner(proc, 0, logging.Discard())

	out, err := runner.run(context.Background(), &JobPayload{JobID: "j", FileBuffer: []byte{1}})
	if err != nil || out.ScanResultID != "r" {
		t.Fatalf("run = %+v, %v", out, err)
	}
	got := proc.statuses()
	if len(got) != 2 || got[0] != StatusProcessing || got[1] != StatusCompleted {
		t.Fatalf("statuses = %v", got)
	}
	if proc.calls[1].metadata["scanResultId"] != "r" {
		t.Fatalf("completed metadata %v", proc.calls[1].metadata)
	}
}

func TestJobRunnerInvalidPayloadSkipsProcessing(t *testing.T) {
	proc := &fakeProcessor{process: func(ctx context.Context, req *processor.ScanRequest) (*processor.ScanOutcome, error) {
		t.Fatal("processor called for invalid payload")
		return nil, nil
	}}
	runner := newJobRunner(proc, 0, logging.Discard())

	_, err := runner.run(context.Background(), &JobPayload{JobID: "j"})
	if !errors.IsPermanent(err) {
		t.Fatalf("got %v", err)
	}
	if got := proc.statuses(); len(got) != 1 || got[0] != StatusFailed {
		t.Fatalf("statuses = %v", got)
	}
}

func TestJobRunnerTimeout(t *testing.T) {
	proc := &fakeProcessor{process: func(ctx context.Context, req *processor.ScanRequest) (*processor.ScanOutcome, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	runner := newJobRunner(proc, 10, logging.Discard())

	_, err := runner.run(context.Background(), &JobPayload{JobID: "j", FileURL: "http://x"})
	if !errors.HasCode(err, errors.ErrorProcessingTimeout) {
		t.Fatalf("got %v", err)
	}
	if errors.IsPermanent(err) {
		t.Fatal("timeouts must stay retryable")
	}
	got := proc.statuses()
	if got[len(got)-1] != StatusFailed {
		t.Fatalf("statuses = %v", got)
	}
	if proc.calls[len(proc.calls)-1].metadata["error_code"] != string(errors.ErrorProcessingTimeout) {
		t.Fatalf("failure metadata %v", proc.calls[len(proc.calls)-1].metadata)
	}
}

func TestJobContextSurvivesConsumerShutdown(t *testing.T) {
	consumerCtx, stop := context.WithCancel(context.Background())
	proc := &fakeProcessor{process: func(ctx context.Context, req *processor.ScanRequest) (*processor.ScanOutcome, error) {
		stop()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &processor.ScanOutcome{ScanResultID: "r"}, nil
	}}
	runner := newJobRunner(proc, 0, logging.Discard())

	if _, err := runner.run(jobContext(consumerCtx), &JobPayload{JobID: "j", FileBuffer: []byte{1}}); err != nil {
		t.Fatalf("in-flight job cancelled by shutdown: %v", err)
	}
	if consumerCtx.Err() == nil {
		t.Fatal("consumer context was not cancelled")
	}
	if got := proc.statuses(); got[len(got)-1] != StatusCompleted {
		t.Fatalf("statuses = %v", got)
	}
}

func TestRequeueReportsRedisErrors(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	c := &RedisConsumer{client: client, keys: newQueueKeys("q"), logger: logging.Discard()}

	job := &RedisJobData{ID: "j", Payload: JobPayload{JobID: "j"}, Attempts: 1, MaxRetries: 3}
	if err := c.requeue(context.Background(), job); err == nil {
		t.Fatal("re-queue against an unreachable Redis reported success")
	}
}

func TestHandleScanSheetSkipsRetryForPermanentErrors(t *testing.T) {
	proc := &fakeProcessor{process: func(ctx context.Context, req *processor.ScanRequest) (*processor.ScanOutcome, error) {
		return nil, errors.NewInvalidInputError("image too small", nil)
	}}
	c := &Consumer{runner: newJobRunner(proc, 0, logging.Discard()), config: &ConsumerConfig{}}

	task := asynq.NewTask(TaskTypeScanSheet, []byte(`{"jobId":"j","fileUrl":"http://x"}`))
	err := c.handleScanSheet(context.Background(), task)
	if !stderrors.Is(err, asynq.SkipRetry) {
		t.Fatalf("got %v, want SkipRetry", err)
	}

	bad := asynq.NewTask(TaskTypeScanSheet, []byte(`not json`))
	if err := c.handleScanSheet(context.Background(), bad); !stderrors.Is(err, asynq.SkipRetry) {
		t.Fatalf("got %v, want SkipRetry", err)
	}
}

func TestNewRedisJobAssignsID(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	job, err := newRedisJob(&JobPayload{FileURL: "http://x"}, 3, now)
	if err != nil {
		t.Fatalf("newRedisJob: %v", err)
	}
	if job.ID == "" || job.ID != job.Payload.JobID || job.MaxRetries != 3 || !job.CreatedAt.Equal(now) {
		t.Fatalf("unexpected job %+v", job)
	}

	data, err := json.Marshal(job)
	if err != nil {
		t.Fatal(err)
	}
	var back RedisJobData
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("consumer cannot read producer output: %v", err)
	}
	if back.Payload.FileURL != "http://x" || back.Type != TaskTypeScanSheet {
		t.Fatalf("unexpected decoded job %+v", back)
	}

	if _, err := newRedisJob(&JobPayload{JobID: "j"}, 3, now); err == nil {
		t.Fatal("job without a source accepted")
	}
}

func TestNewProducerRejectsUnknownDriver(t *testing.T) {
	if _, err := NewProducer(&ProducerConfig{Driver: "kafka", RedisURL: "redis://localhost:6379"}); err == nil {
		t.Fatal("unknown driver accepted")
	}
	if _, err := NewProducer(&ProducerConfig{}); err == nil {
		t.Fatal("missing Redis URL accepted")
	}
}
