/**
 * Storage Manager for the structa worker
 *
 * Coordinates PostgreSQL (jobs, structured documents) and Qdrant (layout
 * fingerprints). A document is stored in both or in neither.
 */

package storage

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/Sireeshreddy01/structa-ai/internal/document"
	"github.com/Sireeshreddy01/structa-ai/internal/logging"
	"github.com/google/uuid"
)

// StorageManager coordinates PostgreSQL and Qdrant operations
type StorageManager struct {
	postgres *PostgresClient
	qdrant   *QdrantClient
	logger   *logging.Logger
}

// StructuredDocumentInput represents input for storing a structured document
type StructuredDocumentInput struct {
	ID           string
	JobID        string
	Filename     string
	Document     *document.StructuredDocument
	Fingerprint  []float32
	LayoutSource string
	Confidence   float64
	ArchiveURI   string
}

// StructuredDocumentOutput represents a stored document with all IDs
type StructuredDocumentOutput struct {
	ID            string
	JobID         string
	QdrantPointID string
	CreatedAt     time.Time
}

// LayoutMatch is a stored document whose layout resembles the query
type LayoutMatch struct {
	DocumentID string  `json:"documentId"`
	JobID      string  `json:"jobId"`
	Title      string  `json:"title,omitempty"`
	Score      float32 `json:"score"`
}

// NewStorageManager wires the stores; qdrant may be nil to skip fingerprints
func NewStorageManager(postgres *PostgresClient, qdrant *QdrantClient) (*StorageManager, error) {
	if postgres == nil {
		return nil, fmt.Errorf("postgres client is required")
	}
	return &StorageManager{
		postgres: postgres,
		qdrant:   qdrant,
		logger:   logging.NewLogger("StorageManager"),
	}, nil
}

// StoreStructuredDocument stores the fingerprint in Qdrant first, then the
// document in PostgreSQL, deleting the point again if the insert fails
func (sm *StorageManager) StoreStructuredDocument(ctx context.Context, input *StructuredDocumentInput) (*StructuredDocumentOutput, error) {
	if input == nil {
		return nil, fmt.Errorf("input is required")
	}

	if input.JobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	if input.Document == nil {
		return nil, fmt.Errorf("document is required")
	}

	documentID := input.ID
	if documentID == "" {
		documentID = uuid.New().String()
	}

	var pointID string
	if sm.qdrant != nil && hasSignal(input.Fingerprint) {
		pointID = uuid.New().String()
		err := sm.qdrant.Upsert(ctx, &FingerprintPoint{
			ID:          pointID,
			Fingerprint: input.Fingerprint,
			Payload: map[string]interface{}{
				"document_id":   documentID,
				"job_id":        input.JobID,
				"title":         input.Document.Title,
				"layout_source": input.LayoutSource,
				"created_at":    time.Now().Unix(),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to store fingerprint in Qdrant: %w", err)
		}
	}

	createdAt, err := sm.postgres.InsertDocument(ctx, &DocumentRow{
		ID:            documentID,
		JobID:         input.JobID,
		Filename:      input.Filename,
		Document:      input.Document,
		Confidence:    input.Confidence,
		LayoutSource:  input.LayoutSource,
		QdrantPointID: pointID,
		ArchiveURI:    input.ArchiveURI,
	})
	if err != nil {
		if pointID != "" {
			if delErr := sm.qdrant.Delete(ctx, pointID); delErr != nil {
				sm.logger.Warn("Failed to roll back Qdrant point", "point_id", pointID, "error", delErr)
			}
		}
		return nil, fmt.Errorf("failed to store document in PostgreSQL: %w", err)
	}

	return &StructuredDocumentOutput{
		ID:            documentID,
		JobID:         input.JobID,
		QdrantPointID: pointID,
		CreatedAt:     createdAt,
	}, nil
}

// GetStructuredDocument retrieves a stored document by ID
func (sm *StorageManager) GetStructuredDocument(ctx context.Context, id string) (*DocumentRow, error) {
	return sm.postgres.GetDocument(ctx, id)
}

// SearchSimilarLayouts finds stored documents with a similar fingerprint
func (sm *StorageManager) SearchSimilarLayouts(ctx context.Context, fingerprint []float32, limit int) ([]*LayoutMatch, error) {
	if sm.qdrant == nil {
		return nil, fmt.Errorf("layout search requires Qdrant")
	}

	points, err := sm.qdrant.Search(ctx, fingerprint, limit, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to search fingerprints: %w", err)
	}

	matches := make([]*LayoutMatch, 0, len(points))
	for _, point := range points {
		documentID, ok := point.Payload["document_id"].(string)
		if !ok {
			continue
		}
		match := &LayoutMatch{DocumentID: documentID, Score: point.Score}
		match.JobID, _ = point.Payload["job_id"].(string)
		match.Title, _ = point.Payload["title"].(string)
		matches = append(matches, match)
	}

	return matches, nil
}

// UpdateJobStatus updates job status in PostgreSQL
func (sm *StorageManager) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	return sm.postgres.UpdateJobStatus(ctx, update)
}

// GetJobByID retrieves job by ID
func (sm *StorageManager) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	return sm.postgres.GetJobByID(ctx, jobID)
}

// Ping checks PostgreSQL connectivity
func (sm *StorageManager) Ping(ctx context.Context) error {
	return sm.postgres.Ping(ctx)
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

	if sm.qdrant != nil {
		qdrantStats, err := sm.qdrant.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get Qdrant stats: %w", err)
		}
		stats["qdrant"] = qdrantStats
	}

	return stats, nil
}

// Close closes all connections
func (sm *StorageManager) Close() error {
	var pgErr, qdErr error

	if sm.postgres != nil {
		pgErr = sm.postgres.Close()
	}

	if sm.qdrant != nil {
		qdErr = sm.qdrant.Close()
	}

	if pgErr != nil {
		return fmt.Errorf("failed to close PostgreSQL: %w", pgErr)
	}

	if qdErr != nil {
		return fmt.Errorf("failed to close Qdrant: %w", qdErr)
	}

	return nil
}

// hasSignal reports whether a vector has any non-zero component; cosine
// distance is undefined for the zero vector
func hasSignal(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return true
		}
	}
	return false
}

var (
	nullEscape    = regexp.MustCompile(`\\u0000`)
	controlEscape = regexp.MustCompile(`\\u00[01][0-9a-fA-F]`)
)

// sanitizeJSONForPostgres removes escapes JSONB rejects: \u0000 is dropped
// and other control characters become a space
func sanitizeJSONForPostgres(jsonBytes []byte) []byte {
	result := nullEscape.ReplaceAll(jsonBytes, []byte{})
	return controlEscape.ReplaceAll(result, []byte(" "))
}
