package index

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"manual-rag/internal/manual"
)

const upsertBatchSize = 100

// Qdrant is a store backed by a Qdrant server over gRPC. It is the backend
// for deployments where the index outlives the process.
type Qdrant struct {
	client     *qdrant.Client
	collection string
}

// NewQdrant connects to a Qdrant instance, waits for it to become healthy
// and ensures the collection exists.
func NewQdrant(ctx context.Context, host string, port int, collection string) (*Qdrant, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	q := &Qdrant{client: client, collection: collection}
	if err := q.healthCheckWithRetry(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnreachable, err)
	}
	if err := q.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return q, nil
}

// healthCheckWithRetry polls the server until it responds or the backoff
// budget runs out. Covers the window where the container is up but the
// service inside is still starting.
func (q *Qdrant) healthCheckWithRetry(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	operation := func() error {
		result, err := q.client.HealthCheck(ctx)
		if err != nil {
			return err
		}
		if result.GetTitle() == "" {
			return fmt.Errorf("empty health check response")
		}
		return nil
	}
	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

func (q *Qdrant) ensureCollection(ctx context.Context) error {
	collections, err := q.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	for _, name := range collections {
		if name == q.collection {
			return nil
		}
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(manual.EmbeddingDimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", q.collection, err)
	}

	// Keyword index on filename so per-document deletes stay cheap.
	_, err = q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: q.collection,
		FieldName:      "filename",
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("create filename index: %w", err)
	}
	return nil
}

func (q *Qdrant) Reset(ctx context.Context) error {
	if err := q.client.DeleteCollection(ctx, q.collection); err != nil {
		return fmt.Errorf("delete collection %s: %w", q.collection, err)
	}
	return q.ensureCollection(ctx)
}

func (q *Qdrant) Add(ctx context.Context, entries []Entry) error {
	points := make([]*qdrant.PointStruct, 0, len(entries))
	for _, e := range entries {
		if err := manual.ValidateEmbedding(e.Vector); err != nil {
			return err
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(uuid.New().String()),
			Vectors: qdrant.NewVectors(e.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"filename":   e.Filename,
				"page":       e.Page,
				"section":    e.Section,
				"subsection": e.Subsection,
				"query":      e.Query,
			}),
		})
	}

	for start := 0; start < len(points); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(points))
		if err := q.upsertWithRetry(ctx, points[start:end]); err != nil {
			return fmt.Errorf("upsert points %d-%d: %w", start, end, err)
		}
	}
	return nil
}

func (q *Qdrant) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	operation := func() error {
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.collection,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	}
	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

func (q *Qdrant) Query(ctx context.Context, vector []float32, limit int) ([]Scored, error) {
	if err := manual.ValidateEmbedding(vector); err != nil {
		return nil, err
	}
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	scored := make([]Scored, 0, len(results))
	for _, result := range results {
		payload := result.GetPayload()
		scored = append(scored, Scored{
			Entry: Entry{
				Filename:   payload["filename"].GetStringValue(),
				Page:       int(payload["page"].GetIntegerValue()),
				Section:    payload["section"].GetStringValue(),
				Subsection: payload["subsection"].GetStringValue(),
				Query:      payload["query"].GetStringValue(),
			},
			Score: float64(result.GetScore()),
		})
	}
	return scored, nil
}

func (q *Qdrant) Count(ctx context.Context) (int, error) {
	info, err := q.client.GetCollectionInfo(ctx, q.collection)
	if err != nil {
		return 0, fmt.Errorf("get collection %s: %w", q.collection, err)
	}
	return int(info.GetPointsCount()), nil
}

func (q *Qdrant) Close() error {
	return q.client.Close()
}
