package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sireeshreddy01/structa-ai/internal/errors"
	"github.com/Sireeshreddy01/structa-ai/internal/logging"
	"github.com/Sireeshreddy01/structa-ai/internal/processor"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

type statusUpdate struct {
	jobID    string
	status   string
	progress int
	metadata map[string]interface{}
}

type fakeProcessor struct {
	mu      sync.Mutex
	result  *processor.ProcessResult
	err     error
	delay   time.Duration
	updates []statusUpdate
	calls   int
}

func (f *fakeProcessor) ProcessDocument(ctx context.Context, req *processor.ProcessRequest) (*processor.ProcessResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.result, f.err
}

func (f *fakeProcessor) UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, statusUpdate{jobID, status, progress, metadata})
	return nil
}

func (f *fakeProcessor) statuses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.updates))
	for i, u := range f.updates {
		out[i] = u.status
	}
	return out
}

func TestJobPayloadUnmarshal(t *testing.T) {
	tests := []struct {
		name      string
		json      string
		want      []byte
		expectErr bool
	}{
		{"base64 buffer", `{"jobId":"j1","fileBuffer":"aGVsbG8="}`, []byte("hello"), false},
		{"node buffer", `{"jobId":"j1","fileBuffer":{"type":"Buffer","data":[104,105]}}`, []byte("hi"), false},
		{"no buffer", `{"jobId":"j1","fileUrl":"s3://b/k"}`, nil, false},
		{"bad base64", `{"jobId":"j1","fileBuffer":"***"}`, nil, true},
		{"wrong buffer type", `{"jobId":"j1","fileBuffer":{"type":"Blob","data":[1]}}`, nil, true},
		{"missing data", `{"jobId":"j1","fileBuffer":{"type":"Buffer"}}`, nil, true},
		{"byte out of range", `{"jobId":"j1","fileBuffer":{"type":"Buffer","data":[300]}}`, nil, true},
		{"number buffer", `{"jobId":"j1","fileBuffer":42}`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p JobPayload
			err := json.Unmarshal([]byte(tt.json), &p)
			if tt.expectErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.JobID != "j1" {
				t.Errorf("JobID = %q", p.JobID)
			}
			if string(p.FileBuffer) != string(tt.want) {
				t.Errorf("FileBuffer = %q, want %q", p.FileBuffer, tt.want)
			}
		})
	}
}

func TestJobPayloadOptionsAndRoundTrip(t *testing.T) {
	raw := `{"jobId":"j2","filename":"scan.png","fileBuffer":"AQID","options":{"extractTables":false},"metadata":{"source":"mobile"}}`
	var p JobPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Options == nil || p.Options.ExtractTables == nil || *p.Options.ExtractTables {
		t.Fatalf("expected extractTables=false override, got %+v", p.Options)
	}
	if p.Options.Preprocess != nil {
		t.Error("unset options must stay nil")
	}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"fileBuffer":"AQID"`) {
		t.Errorf("expected base64 buffer in %s", data)
	}

	var back JobPayload
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal round trip: %v", err)
	}
	if string(back.FileBuffer) != "\x01\x02\x03" || back.Filename != "scan.png" {
		t.Errorf("round trip lost data: %+v", back)
	}

	req := back.Request()
	if req.JobID != "j2" || req.Options == nil || len(req.FileBuffer) != 3 {
		t.Errorf("unexpected request: %+v", req)
	}
}

func TestRunnerSuccess(t *testing.T) {
	proc := &fakeProcessor{result: &processor.ProcessResult{DocumentID: "doc-1", Confidence: 0.9, LayoutSource: "heuristic"}}
	r := newRunner(proc, 0, logging.NewLogger("test"))

	result, err := r.run(context.Background(), &JobPayload{JobID: "job-1", Filename: "a.png"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.DocumentID != "doc-1" {
		t.Errorf("DocumentID = %q", result.DocumentID)
	}

	got := proc.statuses()
	if len(got) != 2 || got[0] != "processing" || got[1] != "completed" {
		t.Fatalf("statuses = %v", got)
	}
	if proc.updates[0].metadata["filename"] != "a.png" {
		t.Errorf("processing update should carry job attributes: %v", proc.updates[0].metadata)
	}
	done := proc.updates[1]
	if done.progress != 100 || done.metadata["documentId"] != "doc-1" || done.metadata["layoutSource"] != "heuristic" {
		t.Errorf("unexpected completed update: %+v", done)
	}
}

func TestRunnerTimeout(t *testing.T) {
	proc := &fakeProcessor{delay: time.Second}
	r := newRunner(proc, 20, logging.NewLogger("test"))

	_, err := r.run(context.Background(), &JobPayload{JobID: "job-slow"})
	if !errors.Is(err, errors.ErrorProcessingTimeout) {
		t.Fatalf("expected PROCESSING_TIMEOUT, got %v", err)
	}
	if got := proc.statuses(); len(got) != 1 {
		t.Errorf("failures are left to the caller, statuses = %v", got)
	}
}

func TestRunnerRequiresJobID(t *testing.T) {
	r := newRunner(&fakeProcessor{}, 0, logging.NewLogger("test"))
	if _, err := r.run(context.Background(), &JobPayload{}); !errors.Is(err, errors.ErrorInvalidInput) {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
}

func TestMarkFailedKeepsErrorCode(t *testing.T) {
	proc := &fakeProcessor{}
	r := newRunner(proc, 0, logging.NewLogger("test"))

	failure := r.markFailed(context.Background(), "job-1", errors.NewUnsupportedFormatError("job-1", "application/pdf"), 1)
	if failure["error_code"] != "UNSUPPORTED_FORMAT" {
		t.Errorf("error_code = %v", failure["error_code"])
	}
	if failure["attempts"] != 1 {
		t.Errorf("attempts = %v", failure["attempts"])
	}

	failure = r.markFailed(context.Background(), "job-2", fmt.Errorf("boom"), 3)
	if failure["error"] != "boom" {
		t.Errorf("error = %v", failure["error"])
	}

	if got := proc.statuses(); len(got) != 2 || got[0] != "failed" || got[1] != "failed" {
		t.Errorf("statuses = %v", got)
	}
}

func newTestConsumer(proc processor.DocumentProcessorInterface) *Consumer {
	logger := logging.NewLogger("test")
	return &Consumer{
		runner: newRunner(proc, 0, logger),
		config: &ConsumerConfig{QueueName: "structa:test"},
		logger: logger,
	}
}

func TestHandleStructureDocument(t *testing.T) {
	payload, _ := json.Marshal(&JobPayload{JobID: "job-1", FileBuffer: []byte{1, 2, 3}})

	t.Run("success", func(t *testing.T) {
		proc := &fakeProcessor{result: &processor.ProcessResult{DocumentID: "doc-1"}}
		c := newTestConsumer(proc)
		if err := c.handleStructureDocument(context.Background(), asynq.NewTask(TaskStructureDocument, payload)); err != nil {
			t.Fatalf("handler: %v", err)
		}
		if got := proc.statuses(); got[len(got)-1] != "completed" {
			t.Errorf("statuses = %v", got)
		}
	})

	t.Run("bad payload skips retry", func(t *testing.T) {
		c := newTestConsumer(&fakeProcessor{})
		err := c.handleStructureDocument(context.Background(), asynq.NewTask(TaskStructureDocument, []byte("{")))
		if !strings.Contains(fmt.Sprint(err), asynq.SkipRetry.Error()) {
			t.Errorf("expected SkipRetry, got %v", err)
		}
	})

	t.Run("bad input skips retry", func(t *testing.T) {
		proc := &fakeProcessor{err: errors.NewUnsupportedFormatError("job-1", "application/pdf")}
		c := newTestConsumer(proc)
		err := c.handleStructureDocument(context.Background(), asynq.NewTask(TaskStructureDocument, payload))
		if !strings.Contains(fmt.Sprint(err), asynq.SkipRetry.Error()) {
			t.Errorf("expected SkipRetry, got %v", err)
		}
		if got := proc.statuses(); got[len(got)-1] != "failed" {
			t.Errorf("statuses = %v", got)
		}
	})

	t.Run("transient failure on last attempt", func(t *testing.T) {
		proc := &fakeProcessor{err: errors.NewStorageFailedError("job-1", fmt.Errorf("connection refused"))}
		c := newTestConsumer(proc)
		err := c.handleStructureDocument(context.Background(), asynq.NewTask(TaskStructureDocument, payload))
		if err == nil || strings.Contains(err.Error(), asynq.SkipRetry.Error()) {
			t.Errorf("expected a retryable error, got %v", err)
		}
		if got := proc.statuses(); got[len(got)-1] != "failed" {
			t.Errorf("last attempt should be marked failed, statuses = %v", got)
		}
	})
}

func TestNewStructureTask(t *testing.T) {
	task, err := NewStructureTask(&JobPayload{JobID: "job-7", Filename: "a.png"}, "structa:jobs", 3, time.Minute)
	if err != nil {
		t.Fatalf("NewStructureTask: %v", err)
	}
	if task.Type() != TaskStructureDocument {
		t.Errorf("type = %q", task.Type())
	}
	var p JobPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil || p.JobID != "job-7" {
		t.Errorf("payload = %s (%v)", task.Payload(), err)
	}
}

func TestNewConsumerValidation(t *testing.T) {
	proc := &fakeProcessor{}
	tests := []struct {
		name string
		cfg  *ConsumerConfig
	}{
		{"missing redis", &ConsumerConfig{QueueName: "q", Processor: proc}},
		{"missing queue", &ConsumerConfig{RedisURL: "redis://localhost:6379", Processor: proc}},
		{"missing processor", &ConsumerConfig{RedisURL: "redis://localhost:6379", QueueName: "q"}},
		{"bad url", &ConsumerConfig{RedisURL: "://nope", QueueName: "q", Processor: proc}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewConsumer(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

// TestRedisConsumerIntegration runs against a live Redis
func TestRedisConsumerIntegration(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set")
	}

	proc := &fakeProcessor{result: &processor.ProcessResult{DocumentID: "doc-1"}}
	queueName := "structa:test:" + uuid.New().String()
	c, err := NewRedisConsumer(&RedisConsumerConfig{
		RedisURL:    redisURL,
		QueueName:   queueName,
		Concurrency: 1,
		Processor:   proc,
		PollTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	ctx := context.Background()
	defer func() {
		c.client.Del(ctx, queueName, c.key("data"), c.key("processing"), c.key("completed"),
			c.key("failed"), c.key("results"), c.key("errors"))
		c.Stop(ctx)
	}()

	if _, err := c.Enqueue(ctx, &JobPayload{JobID: "job-int", FileBuffer: []byte{1}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := c.processNextJob(); err != nil {
		t.Fatalf("process: %v", err)
	}

	stats, err := c.GetStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats["completed"] != 1 || stats["waiting"] != 0 || stats["processing"] != 0 {
		t.Errorf("unexpected stats: %v", stats)
	}

	if err := c.processNextJob(); err != errNoJob {
		t.Errorf("expected errNoJob on empty queue, got %v", err)
	}
}
