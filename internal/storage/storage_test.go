package storage

import (
	"context"
	"os"
	"testing"

	"github.com/Sireeshreddy01/structa-ai/internal/document"
	"github.com/google/uuid"
)

func TestSanitizeConfidence(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-0.2, 0},
		{0, 0},
		{0.12345, 0.1235},
		{0.99994, 0.9999},
		{1, 1},
		{1.7, 1},
	}
	for _, tt := range tests {
		if got := sanitizeConfidence(tt.in); got != tt.want {
			t.Errorf("sanitizeConfidence(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeJSONForPostgres(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"clean", `{"text":"Invoice"}`, `{"text":"Invoice"}`},
		{"null byte", `{"text":"a\u0000b"}`, `{"text":"ab"}`},
		{"control char", `{"text":"a\u0007b"}`, `{"text":"a b"}`},
		{"newline escape kept", `{"text":"a\nb"}`, `{"text":"a\nb"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(sanitizeJSONForPostgres([]byte(tt.in)))
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseS3URI(t *testing.T) {
	tests := []struct {
		uri       string
		bucket    string
		key       string
		expectErr bool
	}{
		{"s3://docs/scans/page-1.png", "docs", "scans/page-1.png", false},
		{"s3://docs/a", "docs", "a", false},
		{"s3://docs", "", "", true},
		{"s3:///key", "", "", true},
		{"https://docs/key", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, key, err := ParseS3URI(tt.uri)
			if tt.expectErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.uri)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if bucket != tt.bucket || key != tt.key {
				t.Errorf("got (%q, %q), want (%q, %q)", bucket, key, tt.bucket, tt.key)
			}
		})
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	in := map[string]interface{}{
		"document_id": "doc-1",
		"created_at":  int64(1700000000),
		"pages":       3,
		"confidence":  0.87,
		"reviewed":    true,
		"tags":        []string{"invoice"},
	}
	out := fromPayload(toPayload(in))

	if out["document_id"] != "doc-1" {
		t.Errorf("document_id = %v", out["document_id"])
	}
	if out["created_at"] != int64(1700000000) {
		t.Errorf("created_at = %v (%T)", out["created_at"], out["created_at"])
	}
	if out["pages"] != int64(3) {
		t.Errorf("pages = %v (%T), want int64", out["pages"], out["pages"])
	}
	if out["confidence"] != 0.87 {
		t.Errorf("confidence = %v", out["confidence"])
	}
	if out["reviewed"] != true {
		t.Errorf("reviewed = %v", out["reviewed"])
	}
	if out["tags"] != "[invoice]" {
		t.Errorf("unknown types should be stringified, got %v", out["tags"])
	}
}

func TestHasSignal(t *testing.T) {
	if hasSignal(nil) {
		t.Error("nil vector has no signal")
	}
	if hasSignal(make([]float32, 64)) {
		t.Error("zero vector has no signal")
	}
	v := make([]float32, 64)
	v[10] = 0.5
	if !hasSignal(v) {
		t.Error("expected signal")
	}
}

func TestNewStorageManagerRequiresPostgres(t *testing.T) {
	if _, err := NewStorageManager(nil, nil); err == nil {
		t.Fatal("expected error without postgres client")
	}
}

func TestStoreStructuredDocumentValidation(t *testing.T) {
	sm := &StorageManager{postgres: &PostgresClient{}}
	ctx := context.Background()

	if _, err := sm.StoreStructuredDocument(ctx, nil); err == nil {
		t.Error("expected error for nil input")
	}
	if _, err := sm.StoreStructuredDocument(ctx, &StructuredDocumentInput{Document: &document.StructuredDocument{}}); err == nil {
		t.Error("expected error for missing job ID")
	}
	if _, err := sm.StoreStructuredDocument(ctx, &StructuredDocumentInput{JobID: "job-1"}); err == nil {
		t.Error("expected error for missing document")
	}
}

func TestSearchSimilarLayoutsWithoutQdrant(t *testing.T) {
	sm := &StorageManager{postgres: &PostgresClient{}}
	if _, err := sm.SearchSimilarLayouts(context.Background(), make([]float32, 64), 5); err == nil {
		t.Fatal("expected error when Qdrant is not configured")
	}
}

// TestPostgresIntegration runs against a live database
func TestPostgresIntegration(t *testing.T) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	pg, err := NewPostgresClient(databaseURL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pg.Close()

	if err := pg.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}

	jobID := "test-" + uuid.New().String()
	if err := pg.UpdateJobStatus(ctx, &JobUpdate{JobID: jobID, Status: "processing", Progress: 10}); err != nil {
		t.Fatalf("update job: %v", err)
	}

	sm, err := NewStorageManager(pg, nil)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	doc := &document.StructuredDocument{Title: "Integration"}
	out, err := sm.StoreStructuredDocument(ctx, &StructuredDocumentInput{
		JobID:      jobID,
		Filename:   "page.png",
		Document:   doc,
		Confidence: 0.9,
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer pg.DeleteDocument(ctx, out.ID)

	if out.QdrantPointID != "" {
		t.Errorf("no point expected without Qdrant, got %s", out.QdrantPointID)
	}

	row, err := sm.GetStructuredDocument(ctx, out.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if row.Document == nil || row.Document.Title != "Integration" {
		t.Errorf("unexpected document: %+v", row.Document)
	}

	job, err := sm.GetJobByID(ctx, jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job["status"] != "processing" {
		t.Errorf("status = %v", job["status"])
	}
}

// TestQdrantIntegration runs against a live Qdrant
func TestQdrantIntegration(t *testing.T) {
	address := os.Getenv("QDRANT_URL")
	if address == "" {
		t.Skip("QDRANT_URL not set")
	}

	ctx := context.Background()
	qc, err := NewQdrantClient(address, "structa_test_layouts", 4)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer qc.Close()

	if err := qc.Upsert(ctx, &FingerprintPoint{Fingerprint: []float32{1, 2, 3}}); err == nil {
		t.Error("expected dimension mismatch error")
	}

	point := &FingerprintPoint{Fingerprint: []float32{1, 0, 0, 0}, Payload: map[string]interface{}{"document_id": "doc-1"}}
	if err := qc.Upsert(ctx, point); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	defer qc.Delete(ctx, point.ID)

	results, err := qc.Search(ctx, []float32{1, 0, 0, 0}, 1, 0.5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected a match")
	}
}
