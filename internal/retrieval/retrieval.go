package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/aceql/internal/config"
	"github.com/tmc/langchaingo/embeddings"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/aceql/internal/retrieval"

var (
	// ErrEmptyQuery is returned when Retrieve is called without query text.
	ErrEmptyQuery = errors.New("retrieval query cannot be empty")

	// ErrInvalidConfig is returned for an unusable store configuration.
	ErrInvalidConfig = errors.New("invalid retrieval configuration")
)

// Document is one retrievable knowledge snippet.
type Document struct {
	ID       string            `json:"id" koanf:"id"`
	Text     string            `json:"text" koanf:"text"`
	Metadata map[string]string `json:"metadata,omitempty" koanf:"metadata"`

	// Score is the similarity to the query; set only on results.
	Score float32 `json:"score,omitempty" koanf:"-"`
}

// Retriever returns the k documents most similar to a query, best first.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]Document, error)
}

// Store is a Retriever that can also be populated. Adding a document whose
// ID already exists replaces it.
type Store interface {
	Retriever
	Add(ctx context.Context, docs []Document) error
	Close() error
}

// New builds the store selected by cfg.Provider.
func New(ctx context.Context, cfg config.RetrievalConfig, embedder embeddings.Embedder, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "chromem":
		return NewChromemStore(cfg.Chromem, cfg.Collection, embedder, logger)
	case "qdrant":
		return NewQdrantStore(ctx, cfg.Qdrant, cfg.Collection, embedder, logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

type timeoutRetriever struct {
	inner   Retriever
	timeout time.Duration
}

// WithTimeout bounds every Retrieve call on r. A non-positive timeout
// returns r unchanged.
func WithTimeout(r Retriever, timeout time.Duration) Retriever {
	if timeout <= 0 {
		return r
	}
	return timeoutRetriever{inner: r, timeout: timeout}
}

func (t timeoutRetriever) Retrieve(ctx context.Context, query string, k int) ([]Document, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Retrieve(ctx, query, k)
}
