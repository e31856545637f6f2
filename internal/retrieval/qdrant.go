package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/aceql/internal/config"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/tmc/langchaingo/embeddings"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	payloadID   = "id"
	payloadText = "content"

	maxMessageSize = 50 * 1024 * 1024
)

// qdrantAPI is the subset of *qdrant.Client the store uses.
type qdrantAPI interface {
	GetCollectionInfo(ctx context.Context, collectionName string) (*qdrant.CollectionInfo, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Close() error
}

// QdrantStore is a Store backed by an external Qdrant server over gRPC.
type QdrantStore struct {
	client     qdrantAPI
	collection string
	vectorSize uint64
	embedder   embeddings.Embedder
	tracer     trace.Tracer
	logger     *zap.Logger
}

// NewQdrantStore connects to Qdrant and makes sure the collection exists.
func NewQdrantStore(ctx context.Context, cfg config.QdrantConfig, collection string, embedder embeddings.Embedder, logger *zap.Logger) (*QdrantStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if cfg.Host == "" || cfg.Port <= 0 {
		return nil, fmt.Errorf("%w: qdrant host and port required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)", zap.String("host", cfg.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey.Value(),
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(maxMessageSize),
				grpc.MaxCallSendMsgSize(maxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	s := newQdrantStore(client, collection, cfg.VectorSize, embedder, logger)
	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func newQdrantStore(client qdrantAPI, collection string, vectorSize uint64, embedder embeddings.Embedder, logger *zap.Logger) *QdrantStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QdrantStore{
		client:     client,
		collection: collection,
		vectorSize: vectorSize,
		embedder:   embedder,
		tracer:     otel.Tracer(instrumentationName),
		logger:     logger,
	}
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	_, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err == nil {
		return nil
	}
	if st, ok := status.FromError(err); !ok || st.Code() != grpccodes.NotFound {
		return fmt.Errorf("checking collection %s: %w", s.collection, err)
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.collection, err)
	}
	s.logger.Info("created qdrant collection",
		zap.String("collection", s.collection),
		zap.Uint64("vector_size", s.vectorSize))
	return nil
}

// pointID derives a stable UUID from a document id, so re-adding a document
// overwrites its point.
func pointID(docID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(docID)).String()
}

// Add implements Store.
func (s *QdrantStore) Add(ctx context.Context, docs []Document) error {
	ctx, span := s.tracer.Start(ctx, "QdrantStore.Add")
	defer span.End()

	if len(docs) == 0 {
		return nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("document %d: id required", i)
		}
		texts[i] = d.Text
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return fmt.Errorf("embedding documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return fmt.Errorf("embedder returned %d vectors for %d documents", len(vectors), len(docs))
	}

	points := make([]*qdrant.PointStruct, len(docs))
	for i, d := range docs {
		payload := map[string]*qdrant.Value{
			payloadID:   {Kind: &qdrant.Value_StringValue{StringValue: d.ID}},
			payloadText: {Kind: &qdrant.Value_StringValue{StringValue: d.Text}},
		}
		for k, v := range d.Metadata {
			if k == payloadID || k == payloadText {
				continue
			}
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(d.ID)),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: payload,
		}
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting points: %w", err)
	}

	span.SetAttributes(attribute.Int("documents_added", len(docs)))
	s.logger.Debug("upserted documents to qdrant", zap.Int("count", len(docs)))
	return nil
}

// Retrieve implements Retriever.
func (s *QdrantStore) Retrieve(ctx context.Context, query string, k int) ([]Document, error) {
	ctx, span := s.tracer.Start(ctx, "QdrantStore.Retrieve")
	defer span.End()

	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", s.collection, err)
	}

	docs := make([]Document, 0, len(points))
	for _, p := range points {
		doc := Document{Score: p.GetScore(), Metadata: map[string]string{}}
		for key, v := range p.GetPayload() {
			str, ok := v.GetKind().(*qdrant.Value_StringValue)
			if !ok {
				continue
			}
			switch key {
			case payloadID:
				doc.ID = str.StringValue
			case payloadText:
				doc.Text = str.StringValue
			default:
				doc.Metadata[key] = str.StringValue
			}
		}
		docs = append(docs, doc)
	}

	span.SetAttributes(attribute.Int("results_count", len(docs)))
	return docs, nil
}

// Close implements Store.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

var _ Store = (*QdrantStore)(nil)
