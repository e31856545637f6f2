package retrieval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/aceql/internal/config"
	"github.com/philippgille/chromem-go"
	"github.com/tmc/langchaingo/embeddings"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ChromemStore is an embedded, file-persisted Store backed by chromem-go.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   embeddings.Embedder
	tracer     trace.Tracer
	logger     *zap.Logger
}

// NewChromemStore opens (or creates) the collection under cfg.Path.
func NewChromemStore(cfg config.ChromemConfig, collection string, embedder embeddings.Embedder, logger *zap.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if collection == "" {
		return nil, fmt.Errorf("%w: collection name required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	path, err := expandPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	s := &ChromemStore{
		db:       db,
		embedder: embedder,
		tracer:   otel.Tracer(instrumentationName),
		logger:   logger,
	}

	s.collection, err = db.GetOrCreateCollection(collection, nil, s.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", collection, err)
	}

	logger.Info("chromem store initialized",
		zap.String("path", path),
		zap.String("collection", collection),
		zap.Bool("compress", cfg.Compress),
		zap.Int("documents", s.collection.Count()),
	)
	return s, nil
}

func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

// Add implements Store.
func (s *ChromemStore) Add(ctx context.Context, docs []Document) error {
	ctx, span := s.tracer.Start(ctx, "ChromemStore.Add")
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

	chromemDocs := make([]chromem.Document, len(docs))
	for i, d := range docs {
		chromemDocs[i] = chromem.Document{
			ID:        d.ID,
			Content:   d.Text,
			Metadata:  d.Metadata,
			Embedding: vectors[i],
		}
	}

	// Concurrency of 1 since embeddings are precomputed.
	if err := s.collection.AddDocuments(ctx, chromemDocs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents: %w", err)
	}

	span.SetAttributes(attribute.Int("documents_added", len(docs)))
	s.logger.Debug("added documents to chromem", zap.Int("count", len(docs)))
	return nil
}

// Retrieve implements Retriever.
func (s *ChromemStore) Retrieve(ctx context.Context, query string, k int) ([]Document, error) {
	ctx, span := s.tracer.Start(ctx, "ChromemStore.Retrieve")
	defer span.End()

	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	// chromem requires nResults <= document count.
	count := s.collection.Count()
	if count == 0 {
		return []Document{}, nil
	}
	if k > count {
		k = count
	}

	results, err := s.collection.Query(ctx, query, k, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	docs := make([]Document, len(results))
	for i, r := range results {
		docs[i] = Document{
			ID:       r.ID,
			Text:     r.Content,
			Metadata: r.Metadata,
			Score:    r.Similarity,
		}
	}

	span.SetAttributes(attribute.Int("k", k), attribute.Int("results_count", len(docs)))
	return docs, nil
}

// Count returns the number of stored documents.
func (s *ChromemStore) Count() int {
	return s.collection.Count()
}

// Close implements Store. chromem persists on every write.
func (s *ChromemStore) Close() error {
	return nil
}

// expandPath expands ~ to the home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

var _ Store = (*ChromemStore)(nil)
