/**
 * PostgreSQL Client for the structa worker
 *
 * Handles job persistence and storage of finished StructuredDocuments as JSONB.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sireeshreddy01/structa-ai/internal/document"
	"github.com/lib/pq"
)

// ErrNotFound is returned when a job or document does not exist
var ErrNotFound = errors.New("not found")

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// JobUpdate represents a job status update
type JobUpdate struct {
	JobID            string
	Status           string
	Progress         int
	Confidence       float64
	ProcessingTimeMs int64
	DocumentID       string
	LayoutSource     string
	ErrorCode        string
	ErrorMessage     string
	Metadata         map[string]interface{}
}

// DocumentRow is one row of structa.structured_documents
type DocumentRow struct {
	ID            string
	JobID         string
	Filename      string
	Document      *document.StructuredDocument
	Confidence    float64
	LayoutSource  string
	QdrantPointID string
	ArchiveURI    string
	CreatedAt     time.Time
}

const schemaSQL = `
CREATE SCHEMA IF NOT EXISTS structa;

CREATE TABLE IF NOT EXISTS structa.processing_jobs (
	id                 TEXT PRIMARY KEY,
	user_id            TEXT NOT NULL DEFAULT 'anonymous',
	filename           TEXT NOT NULL DEFAULT 'unknown',
	mime_type          TEXT,
	file_size          BIGINT,
	status             TEXT NOT NULL,
	progress           INTEGER NOT NULL DEFAULT 0,
	confidence         NUMERIC(5,4),
	processing_time_ms BIGINT,
	document_id        UUID,
	layout_source      TEXT,
	error_code         TEXT,
	error_message      TEXT,
	metadata           JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS structa.structured_documents (
	id              UUID PRIMARY KEY,
	job_id          TEXT NOT NULL,
	filename        TEXT,
	title           TEXT,
	document        JSONB NOT NULL,
	languages       TEXT[] NOT NULL DEFAULT '{}',
	num_blocks      INTEGER NOT NULL DEFAULT 0,
	num_tables      INTEGER NOT NULL DEFAULT 0,
	num_key_values  INTEGER NOT NULL DEFAULT 0,
	confidence      NUMERIC(5,4),
	layout_source   TEXT,
	qdrant_point_id UUID,
	archive_uri     TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS structured_documents_job_id_idx ON structa.structured_documents (job_id);
`

// sanitizeConfidence clamps confidence to [0,1] and rounds it to 4 decimal
// places to fit NUMERIC(5,4)
func sanitizeConfidence(confidence float64) float64 {
	if confidence < 0.0 {
		return 0.0
	}
	if confidence > 1.0 {
		return 1.0
	}
	return float64(int(confidence*10000+0.5)) / 10000
}

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

// EnsureSchema creates the structa schema and tables when missing
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// UpdateJobStatus upserts the job row; the first update creates it
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	confidence := sanitizeConfidence(update.Confidence)

	metadataJSON, err := json.Marshal(update.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	// lib/pq sends []byte as bytea, so JSONB parameters travel as text
	var metadataParam interface{}
	if update.Metadata != nil {
		metadataParam = string(sanitizeJSONForPostgres(metadataJSON))
	}

	query := `
		INSERT INTO structa.processing_jobs (
			id, user_id, filename, mime_type, file_size,
			status, progress, confidence, processing_time_ms, document_id,
			layout_source, error_code, error_message, metadata,
			created_at, updated_at
		) VALUES (
			$1, COALESCE(NULLIF($14, ''), 'anonymous'), COALESCE(NULLIF($11, ''), 'unknown'),
			NULLIF($12, ''), NULLIF($13, 0),
			$2, $3, NULLIF($4::NUMERIC(5,4), 0), NULLIF($5, 0),
			CASE WHEN $6 = '' THEN NULL ELSE $6::uuid END,
			NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''),
			COALESCE($10::jsonb, '{}'::jsonb),
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			confidence = COALESCE(EXCLUDED.confidence, structa.processing_jobs.confidence),
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, structa.processing_jobs.processing_time_ms),
			document_id = COALESCE(EXCLUDED.document_id, structa.processing_jobs.document_id),
			layout_source = COALESCE(EXCLUDED.layout_source, structa.processing_jobs.layout_source),
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			metadata = structa.processing_jobs.metadata || COALESCE($10::jsonb, '{}'::jsonb),
			mime_type = COALESCE(EXCLUDED.mime_type, structa.processing_jobs.mime_type),
			file_size = COALESCE(EXCLUDED.file_size, structa.processing_jobs.file_size),
			updated_at = NOW()
		RETURNING id
	`

	// Job attributes ride along in metadata on the first update
	var filename, mimeType, userID string
	var fileSize int64
	if update.Metadata != nil {
		filename, _ = update.Metadata["filename"].(string)
		mimeType, _ = update.Metadata["mimeType"].(string)
		userID, _ = update.Metadata["userId"].(string)
		switch fs := update.Metadata["fileSize"].(type) {
		case int64:
			fileSize = fs
		case float64:
			fileSize = int64(fs)
		}
	}

	var returnedID string
	err = p.db.QueryRowContext(
		ctx,
		query,
		update.JobID,            // $1
		update.Status,           // $2
		update.Progress,         // $3
		confidence,              // $4
		update.ProcessingTimeMs, // $5
		update.DocumentID,       // $6
		update.LayoutSource,     // $7
		update.ErrorCode,        // $8
		update.ErrorMessage,     // $9
		metadataParam,           // $10
		filename,                // $11
		mimeType,                // $12
		fileSize,                // $13
		userID,                  // $14
	).Scan(&returnedID)

	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s, confidence=%.4f): %w",
			update.JobID, update.Status, confidence, err)
	}

	return nil
}

// InsertDocument stores a structured document row
func (p *PostgresClient) InsertDocument(ctx context.Context, row *DocumentRow) (time.Time, error) {
	if row.ID == "" || row.JobID == "" {
		return time.Time{}, fmt.Errorf("document ID and job ID are required")
	}
	if row.Document == nil {
		return time.Time{}, fmt.Errorf("document is required")
	}

	docJSON, err := json.Marshal(row.Document)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to marshal document: %w", err)
	}
	docJSON = sanitizeJSONForPostgres(docJSON)

	query := `
		INSERT INTO structa.structured_documents (
			id, job_id, filename, title, document, languages,
			num_blocks, num_tables, num_key_values, confidence,
			layout_source, qdrant_point_id, archive_uri, created_at
		) VALUES (
			$1::uuid, $2, NULLIF($3, ''), NULLIF($4, ''), $5::jsonb, $6,
			$7, $8, $9, $10::NUMERIC(5,4),
			NULLIF($11, ''), CASE WHEN $12 = '' THEN NULL ELSE $12::uuid END, NULLIF($13, ''), NOW()
		)
		RETURNING created_at
	`

	var createdAt time.Time
	err = p.db.QueryRowContext(
		ctx,
		query,
		row.ID,
		row.JobID,
		row.Filename,
		row.Document.Title,
		string(docJSON),
		pq.Array(row.Document.Metadata.Languages),
		len(row.Document.Blocks),
		len(row.Document.Tables),
		len(row.Document.KeyValues),
		sanitizeConfidence(row.Confidence),
		row.LayoutSource,
		row.QdrantPointID,
		row.ArchiveURI,
	).Scan(&createdAt)

	if err != nil {
		return time.Time{}, fmt.Errorf("failed to store structured document: %w", err)
	}

	return createdAt, nil
}

// GetDocument retrieves a structured document by ID
func (p *PostgresClient) GetDocument(ctx context.Context, id string) (*DocumentRow, error) {
	if id == "" {
		return nil, fmt.Errorf("document ID is required")
	}

	query := `
		SELECT id, job_id, COALESCE(filename, ''), document, COALESCE(confidence, 0),
			COALESCE(layout_source, ''), COALESCE(qdrant_point_id::text, ''),
			COALESCE(archive_uri, ''), created_at
		FROM structa.structured_documents
		WHERE id = $1::uuid
	`

	var row DocumentRow
	var docJSON []byte
	err := p.db.QueryRowContext(ctx, query, id).Scan(
		&row.ID, &row.JobID, &row.Filename, &docJSON, &row.Confidence,
		&row.LayoutSource, &row.QdrantPointID, &row.ArchiveURI, &row.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("structured document %s: %w", id, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get structured document: %w", err)
	}

	row.Document = &document.StructuredDocument{}
	if err := json.Unmarshal(docJSON, row.Document); err != nil {
		return nil, fmt.Errorf("failed to unmarshal structured document: %w", err)
	}

	return &row, nil
}

// DeleteDocument removes a structured document row
func (p *PostgresClient) DeleteDocument(ctx context.Context, id string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM structa.structured_documents WHERE id = $1::uuid`, id); err != nil {
		return fmt.Errorf("failed to delete structured document: %w", err)
	}
	return nil
}

// GetJobByID retrieves a job by ID
func (p *PostgresClient) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `
		SELECT
			id, user_id, filename, mime_type, file_size, status, progress,
			confidence, processing_time_ms, document_id::text, layout_source,
			error_code, error_message, metadata, created_at, updated_at
		FROM structa.processing_jobs
		WHERE id = $1
	`

	var (
		id, userID, filename, status      string
		progress                          int
		mimeType, documentID              sql.NullString
		layoutSource, errorCode, errorMsg sql.NullString
		fileSize, processingTimeMs        sql.NullInt64
		confidence                        sql.NullFloat64
		metadataJSON                      []byte
		createdAt, updatedAt              time.Time
	)

	err := p.db.QueryRowContext(ctx, query, jobID).Scan(
		&id, &userID, &filename, &mimeType, &fileSize, &status, &progress,
		&confidence, &processingTimeMs, &documentID, &layoutSource,
		&errorCode, &errorMsg, &metadataJSON, &createdAt, &updatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
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
		"filename":  filename,
		"status":    status,
		"progress":  progress,
		"createdAt": createdAt,
		"updatedAt": updatedAt,
		"metadata":  metadata,
	}

	optional := map[string]interface{}{
		"mimeType":         mimeType,
		"fileSize":         fileSize,
		"confidence":       confidence,
		"processingTimeMs": processingTimeMs,
		"documentId":       documentID,
		"layoutSource":     layoutSource,
		"errorCode":        errorCode,
		"errorMessage":     errorMsg,
	}
	for k, v := range optional {
		switch val := v.(type) {
		case sql.NullString:
			if val.Valid {
				result[k] = val.String
			}
		case sql.NullInt64:
			if val.Valid {
				result[k] = val.Int64
			}
		case sql.NullFloat64:
			if val.Valid {
				result[k] = val.Float64
			}
		}
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
