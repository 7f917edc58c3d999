/**
 * Qdrant layout fingerprint index
 *
 * Each stored document gets one point whose vector is the page's layout
 * fingerprint and whose payload points back at the PostgreSQL row.
 * Talks to Qdrant over its native gRPC API.
 */

package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// QdrantClient is the fingerprint collection
type QdrantClient struct {
	points      qdrant.PointsClient
	collections qdrant.CollectionsClient
	conn        *grpc.ClientConn
	collection  string
	dimensions  int
}

// FingerprintPoint is one indexed fingerprint. Score is only set on
// search results.
type FingerprintPoint struct {
	ID          string
	Fingerprint []float32
	Payload     map[string]interface{}
	Score       float32
}

// NewQdrantClient dials Qdrant and creates the cosine collection when it
// is missing
func NewQdrantClient(address string, collection string, dimensions int) (*QdrantClient, error) {
	switch {
	case address == "":
		return nil, fmt.Errorf("qdrant address is required")
	case collection == "":
		return nil, fmt.Errorf("collection name is required")
	case dimensions <= 0:
		return nil, fmt.Errorf("fingerprint dimensions must be positive, got %d", dimensions)
	}

	conn, err := grpc.Dial(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}

	qc := &QdrantClient{
		points:      qdrant.NewPointsClient(conn),
		collections: qdrant.NewCollectionsClient(conn),
		conn:        conn,
		collection:  collection,
		dimensions:  dimensions,
	}
	if err := qc.ensureCollection(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}
	return qc, nil
}

// Dimensions is the fingerprint length the collection accepts
func (q *QdrantClient) Dimensions() int {
	return q.dimensions
}

func (q *QdrantClient) ensureCollection(ctx context.Context) error {
	existing, err := q.collections.List(ctx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, c := range existing.GetCollections() {
		if c.GetName() == q.collection {
			return nil
		}
	}

	_, err = q.collections.Create(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     uint64(q.dimensions),
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", q.collection, err)
	}
	return nil
}

func (q *QdrantClient) checkDimensions(fp []float32) error {
	if len(fp) != q.dimensions {
		return fmt.Errorf("fingerprint has %d dimensions, collection expects %d", len(fp), q.dimensions)
	}
	return nil
}

// Upsert writes a fingerprint point, assigning a UUID when ID is empty
func (q *QdrantClient) Upsert(ctx context.Context, point *FingerprintPoint) error {
	if point == nil {
		return fmt.Errorf("point is required")
	}
	if err := q.checkDimensions(point.Fingerprint); err != nil {
		return err
	}
	if point.ID == "" {
		point.ID = uuid.New().String()
	}

	_, err := q.points.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points: []*qdrant.PointStruct{{
			Id: pointID(point.ID),
			Vectors: &qdrant.Vectors{
				VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: point.Fingerprint}},
			},
			Payload: toPayload(point.Payload),
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert fingerprint %s: %w", point.ID, err)
	}
	return nil
}

// Search returns up to limit points closest to fp. Points scoring below
// minScore are filtered by Qdrant; zero disables the threshold.
func (q *QdrantClient) Search(ctx context.Context, fp []float32, limit int, minScore float32) ([]*FingerprintPoint, error) {
	if err := q.checkDimensions(fp); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	req := &qdrant.SearchPoints{
		CollectionName: q.collection,
		Vector:         fp,
		Limit:          uint64(limit),
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true},
		},
	}
	if minScore > 0 {
		req.ScoreThreshold = &minScore
	}

	resp, err := q.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fingerprint search failed: %w", err)
	}

	hits := make([]*FingerprintPoint, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		hits = append(hits, &FingerprintPoint{
			ID:      r.GetId().GetUuid(),
			Payload: fromPayload(r.GetPayload()),
			Score:   r.GetScore(),
		})
	}
	return hits, nil
}

// Delete removes one point
func (q *QdrantClient) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("point ID is required")
	}

	_, err := q.points.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: []*qdrant.PointId{pointID(id)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete fingerprint %s: %w", id, err)
	}
	return nil
}

// Info reports collection size and status for /stats
func (q *QdrantClient) Info(ctx context.Context) (map[string]interface{}, error) {
	resp, err := q.collections.Get(ctx, &qdrant.GetCollectionInfoRequest{CollectionName: q.collection})
	if err != nil {
		return nil, fmt.Errorf("failed to get collection info: %w", err)
	}

	info := resp.GetResult()
	return map[string]interface{}{
		"collection":      q.collection,
		"dimensions":      q.dimensions,
		"points_count":    info.GetPointsCount(),
		"indexed_vectors": info.GetIndexedVectorsCount(),
		"status":          info.GetStatus().String(),
	}, nil
}

func (q *QdrantClient) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

func pointID(id string) *qdrant.PointId {
	return &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: id}}
}

// toPayload converts a payload map into Qdrant values. Types without a
// Qdrant counterpart are stored as their %v string.
func toPayload(m map[string]interface{}) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(m))
	for k, v := range m {
		var value *qdrant.Value
		switch val := v.(type) {
		case string:
			value = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
		case int:
			value = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
		case int64:
			value = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
		case float32:
			value = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: float64(val)}}
		case float64:
			value = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
		case bool:
			value = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
		default:
			value = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
		}
		payload[k] = value
	}
	return payload
}

func fromPayload(payload map[string]*qdrant.Value) map[string]interface{} {
	m := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		switch val := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			m[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			m[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			m[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			m[k] = val.BoolValue
		}
	}
	return m
}
