package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sireeshreddy01/structa-ai/internal/clients"
	"github.com/Sireeshreddy01/structa-ai/internal/document"
	"github.com/Sireeshreddy01/structa-ai/internal/errors"
	"github.com/Sireeshreddy01/structa-ai/internal/storage"
)

type fakeStore struct {
	documents []*storage.StructuredDocumentInput
	updates   []*storage.JobUpdate
	err       error
	updateErr error
}

func (f *fakeStore) StoreStructuredDocument(ctx context.Context, input *storage.StructuredDocumentInput) (*storage.StructuredDocumentOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.documents = append(f.documents, input)
	return &storage.StructuredDocumentOutput{ID: input.ID, JobID: input.JobID, CreatedAt: time.Now()}, nil
}

func (f *fakeStore) UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, update)
	return nil
}

type fakeObjects struct {
	objects map[string][]byte
	uploads []string
}

func (f *fakeObjects) Download(ctx context.Context, uri string) ([]byte, error) {
	data, ok := f.objects[uri]
	if !ok {
		return nil, fmt.Errorf("no such object: %s", uri)
	}
	return data, nil
}

func (f *fakeObjects) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	f.uploads = append(f.uploads, key)
	return "s3://test/" + key, nil
}

type fakePublisher struct {
	requests []*clients.RenderRequest
	err      error
}

func (f *fakePublisher) Publish(ctx context.Context, req *clients.RenderRequest) (*clients.RenderResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &clients.RenderResponse{Success: true, ArtifactID: "artifact-1"}, nil
}

func whitePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	img.SetGray(w/2, h/2, color.Gray{Y: 0})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func newTestProcessor(t *testing.T, cfg *ProcessorConfig) *DocumentProcessor {
	t.Helper()
	_, regions, tokens := pageFixture(t)
	if cfg.Pipeline == nil {
		cfg.Pipeline = newTestPipeline(&fakeRecognizer{tokens: tokens}, regions, &fakeGridExtractor{})
	}
	if cfg.DownloadBackoff == 0 {
		cfg.DownloadBackoff = time.Millisecond
	}
	cfg.Defaults = Options{ExtractTables: true}
	p, err := NewDocumentProcessor(cfg)
	if err != nil {
		t.Fatalf("NewDocumentProcessor: %v", err)
	}
	return p
}

func TestNewDocumentProcessorValidation(t *testing.T) {
	if _, err := NewDocumentProcessor(nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewDocumentProcessor(&ProcessorConfig{}); err == nil {
		t.Error("expected error without pipeline")
	}
}

func TestProcessDocumentFromBuffer(t *testing.T) {
	store := &fakeStore{}
	objects := &fakeObjects{}
	publisher := &fakePublisher{}
	p := newTestProcessor(t, &ProcessorConfig{Store: store, Objects: objects, Publisher: publisher})

	result, err := p.ProcessDocument(context.Background(), &ProcessRequest{
		JobID:      "job-buffer",
		Filename:   "invoice.png",
		MimeType:   "application/octet-stream",
		FileBuffer: whitePNG(t, 400, 300),
	})
	if err != nil {
		t.Fatalf("ProcessDocument failed: %v", err)
	}

	if result.DocumentID == "" {
		t.Error("expected a document ID")
	}
	if result.LayoutSource != "fake-layout" {
		t.Errorf("layout source = %q", result.LayoutSource)
	}
	if result.TablesExtracted != 1 {
		t.Errorf("tables = %d, want 1", result.TablesExtracted)
	}
	if result.ArchiveURI != "s3://test/normalized/job-buffer.png" {
		t.Errorf("archive URI = %q", result.ArchiveURI)
	}

	if len(store.documents) != 1 {
		t.Fatalf("stored %d documents, want 1", len(store.documents))
	}
	stored := store.documents[0]
	if stored.ID != result.DocumentID || stored.JobID != "job-buffer" {
		t.Errorf("unexpected stored IDs: %s / %s", stored.ID, stored.JobID)
	}
	if len(stored.Fingerprint) != FingerprintSize {
		t.Errorf("fingerprint size = %d", len(stored.Fingerprint))
	}
	if stored.ArchiveURI != result.ArchiveURI {
		t.Errorf("stored archive URI = %q", stored.ArchiveURI)
	}

	if len(publisher.requests) != 1 || publisher.requests[0].DocumentID != result.DocumentID {
		t.Errorf("expected one publish for %s", result.DocumentID)
	}
}

func TestProcessDocumentFromObjectStore(t *testing.T) {
	objects := &fakeObjects{objects: map[string][]byte{"s3://uploads/page.png": whitePNG(t, 400, 300)}}
	p := newTestProcessor(t, &ProcessorConfig{Objects: objects})

	if _, err := p.ProcessDocument(context.Background(), &ProcessRequest{
		JobID:   "job-s3",
		FileURL: "s3://uploads/page.png",
	}); err != nil {
		t.Fatalf("ProcessDocument failed: %v", err)
	}

	_, err := p.ProcessDocument(context.Background(), &ProcessRequest{JobID: "job-missing", FileURL: "s3://uploads/missing.png"})
	if !errors.Is(err, errors.ErrorDownloadFailed) {
		t.Errorf("expected DOWNLOAD_FAILED, got %v", err)
	}
}

func TestProcessDocumentFailures(t *testing.T) {
	tests := []struct {
		name string
		cfg  *ProcessorConfig
		req  *ProcessRequest
		code errors.ErrorCode
	}{
		{
			name: "no source",
			cfg:  &ProcessorConfig{},
			req:  &ProcessRequest{JobID: "job-a"},
			code: errors.ErrorInvalidInput,
		},
		{
			name: "unsupported format",
			cfg:  &ProcessorConfig{},
			req:  &ProcessRequest{JobID: "job-b", FileBuffer: []byte("%PDF-1.7 not an image")},
			code: errors.ErrorUnsupportedFormat,
		},
		{
			name: "file too large",
			cfg:  &ProcessorConfig{MaxFileSize: 16},
			req:  &ProcessRequest{JobID: "job-c", FileBuffer: bytes.Repeat([]byte{0x89}, 64)},
			code: errors.ErrorInvalidInput,
		},
		{
			name: "image over pixel limit",
			cfg:  &ProcessorConfig{MaxPixels: 400*300 - 1},
			req:  &ProcessRequest{JobID: "job-f", FileBuffer: whitePNG(t, 400, 300)},
			code: errors.ErrorInvalidImage,
		},
		{
			name: "url outside policy",
			cfg:  &ProcessorConfig{URLPolicy: &clients.URLPolicy{}},
			req:  &ProcessRequest{JobID: "job-g", FileURL: "http://169.254.169.254/latest/meta-data/"},
			code: errors.ErrorInvalidInput,
		},
		{
			name: "s3 without object store",
			cfg:  &ProcessorConfig{},
			req:  &ProcessRequest{JobID: "job-d", FileURL: "s3://uploads/page.png"},
			code: errors.ErrorDownloadFailed,
		},
		{
			name: "store failure",
			cfg:  &ProcessorConfig{Store: &fakeStore{err: fmt.Errorf("connection refused")}},
			req:  &ProcessRequest{JobID: "job-e", FileBuffer: whitePNG(t, 400, 300)},
			code: errors.ErrorStorageFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProcessor(t, tt.cfg)
			_, err := p.ProcessDocument(context.Background(), tt.req)
			if !errors.Is(err, tt.code) {
				t.Errorf("expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestProcessDocumentPublishFailureIsNonFatal(t *testing.T) {
	p := newTestProcessor(t, &ProcessorConfig{Publisher: &fakePublisher{err: fmt.Errorf("renderer down")}})
	if _, err := p.ProcessDocument(context.Background(), &ProcessRequest{
		JobID:      "job-publish",
		FileBuffer: whitePNG(t, 400, 300),
	}); err != nil {
		t.Fatalf("publish failure should not fail the job: %v", err)
	}
}

func TestDownloadRetries(t *testing.T) {
	page := whitePNG(t, 400, 300)

	t.Run("retries server errors", func(t *testing.T) {
		var hits int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&hits, 1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write(page)
		}))
		defer server.Close()

		p := newTestProcessor(t, &ProcessorConfig{})
		data, err := p.downloadFileFromURL(context.Background(), "job-retry", server.URL, int64(len(page)))
		if err != nil {
			t.Fatalf("download failed: %v", err)
		}
		if !bytes.Equal(data, page) {
			t.Error("downloaded bytes differ")
		}
		if hits != 3 {
			t.Errorf("hits = %d, want 3", hits)
		}
	})

	t.Run("does not retry client errors", func(t *testing.T) {
		var hits int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			http.NotFound(w, r)
		}))
		defer server.Close()

		p := newTestProcessor(t, &ProcessorConfig{})
		_, err := p.ProcessDocument(context.Background(), &ProcessRequest{JobID: "job-404", FileURL: server.URL})
		if !errors.Is(err, errors.ErrorDownloadFailed) {
			t.Errorf("expected DOWNLOAD_FAILED, got %v", err)
		}
		if hits != 1 {
			t.Errorf("hits = %d, want 1", hits)
		}
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		var hits int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		p := newTestProcessor(t, &ProcessorConfig{DownloadAttempts: 3})
		if _, err := p.downloadFileFromURL(context.Background(), "job-500", server.URL, 0); err == nil {
			t.Fatal("expected error")
		}
		if hits != 3 {
			t.Errorf("hits = %d, want 3", hits)
		}
	})

	t.Run("rejects oversized body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(page)
		}))
		defer server.Close()

		p := newTestProcessor(t, &ProcessorConfig{MaxFileSize: 10})
		if _, err := p.downloadFileFromURL(context.Background(), "job-big", server.URL, 0); err == nil {
			t.Fatal("expected size error")
		}
	})
}

func TestUpdateJobStatus(t *testing.T) {
	store := &fakeStore{}
	p := newTestProcessor(t, &ProcessorConfig{Store: store})

	err := p.UpdateJobStatus(context.Background(), "job-1", "completed", 100, map[string]interface{}{
		"confidence":     0.87,
		"processingTime": int64(1200),
		"documentId":     "doc-1",
		"layoutSource":   "heuristic",
	})
	if err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}

	err = p.UpdateJobStatus(context.Background(), "job-2", "failed", 0, map[string]interface{}{
		"error": "engine crashed",
	})
	if err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}

	err = p.UpdateJobStatus(context.Background(), "job-3", "failed", 0, map[string]interface{}{
		"error_code": "RECOGNITION_FAILED",
		"message":    "tesseract failed",
	})
	if err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}

	if len(store.updates) != 3 {
		t.Fatalf("updates = %d, want 3", len(store.updates))
	}

	done := store.updates[0]
	if done.Confidence != 0.87 || done.ProcessingTimeMs != 1200 || done.DocumentID != "doc-1" || done.LayoutSource != "heuristic" {
		t.Errorf("unexpected completed update: %+v", done)
	}
	if done.ErrorCode != "" {
		t.Errorf("completed job has error code %q", done.ErrorCode)
	}

	failed := store.updates[1]
	if failed.ErrorCode != "PROCESSING_ERROR" || failed.ErrorMessage != "engine crashed" {
		t.Errorf("unexpected failed update: %+v", failed)
	}

	coded := store.updates[2]
	if coded.ErrorCode != "RECOGNITION_FAILED" || coded.ErrorMessage != "tesseract failed" {
		t.Errorf("unexpected coded update: %+v", coded)
	}
}

func TestUpdateJobStatusWithoutStore(t *testing.T) {
	p := newTestProcessor(t, &ProcessorConfig{})
	if err := p.UpdateJobStatus(context.Background(), "job-1", "processing", 10, nil); err != nil {
		t.Errorf("expected no-op, got %v", err)
	}
}

func TestUpdateJobStatusDatabaseFailure(t *testing.T) {
	store := &fakeStore{updateErr: fmt.Errorf("connection refused")}
	p := newTestProcessor(t, &ProcessorConfig{Store: store})
	err := p.UpdateJobStatus(context.Background(), "job-1", "processing", 10, nil)
	if !errors.Is(err, errors.ErrorDatabaseFailed) {
		t.Errorf("error = %v, want DATABASE_FAILED", err)
	}
}

func TestDetectMimeTypeFromMagicBytes(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00}, "image/png"},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, "image/jpeg"},
		{"gif", []byte("GIF89a...."), "image/gif"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "image/webp"},
		{"tiff little endian", []byte{0x49, 0x49, 0x2A, 0x00}, "image/tiff"},
		{"tiff big endian", []byte{0x4D, 0x4D, 0x00, 0x2A}, "image/tiff"},
		{"bmp", []byte("BM\x00\x00\x00\x00"), "image/bmp"},
		{"pdf", []byte("%PDF-1.4"), "application/pdf"},
		{"zip", []byte{0x50, 0x4B, 0x03, 0x04}, "application/zip"},
		{"too short", []byte{0x89}, ""},
		{"unknown", []byte("hello world"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectMimeTypeFromMagicBytes(tt.data); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOverallConfidence(t *testing.T) {
	tests := []struct {
		name string
		doc  *document.StructuredDocument
		want float64
	}{
		{"no blocks", &document.StructuredDocument{Metadata: document.Metadata{OCRConfidence: 0.7}}, 0.7},
		{"no recognition", &document.StructuredDocument{Blocks: []document.ContentBlock{{Confidence: 0.8}}}, 0.8},
		{
			"weighted",
			&document.StructuredDocument{
				Blocks:   []document.ContentBlock{{Confidence: 0.6}, {Confidence: 1.0}},
				Metadata: document.Metadata{OCRConfidence: 0.5},
			},
			0.5*0.4 + 0.8*0.6,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := overallConfidence(tt.doc)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

type fakeLayouts struct {
	matches []*storage.LayoutMatch
	err     error
	queries int
}

func (f *fakeLayouts) SearchSimilarLayouts(ctx context.Context, fingerprint []float32, limit int) ([]*storage.LayoutMatch, error) {
	f.queries++
	return f.matches, f.err
}

func TestProcessDocumentSimilarLayouts(t *testing.T) {
	layouts := &fakeLayouts{matches: []*storage.LayoutMatch{
		{DocumentID: "doc-close", Score: 0.97},
		{DocumentID: "doc-far", Score: 0.4},
	}}
	p := newTestProcessor(t, &ProcessorConfig{Layouts: layouts})

	result, err := p.ProcessDocument(context.Background(), &ProcessRequest{JobID: "job-similar", FileBuffer: whitePNG(t, 400, 300)})
	if err != nil {
		t.Fatalf("ProcessDocument failed: %v", err)
	}
	if layouts.queries != 1 {
		t.Errorf("queries = %d, want 1", layouts.queries)
	}
	if len(result.SimilarDocuments) != 1 || result.SimilarDocuments[0] != "doc-close" {
		t.Errorf("similar = %v, want [doc-close]", result.SimilarDocuments)
	}

	failing := newTestProcessor(t, &ProcessorConfig{Layouts: &fakeLayouts{err: fmt.Errorf("qdrant down")}})
	if _, err := failing.ProcessDocument(context.Background(), &ProcessRequest{JobID: "job-similar-2", FileBuffer: whitePNG(t, 400, 300)}); err != nil {
		t.Errorf("lookup failure should not fail the job: %v", err)
	}
}
