package retrieval

import (
	"fmt"

	"github.com/fyrsmithlabs/aceql/internal/config"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// NewEmbedder creates an OpenAI-compatible embedder. Any server speaking the
// OpenAI embeddings API (including TEI) works through BaseURL.
func NewEmbedder(cfg config.EmbeddingsConfig) (embeddings.Embedder, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: embedding model required", ErrInvalidConfig)
	}

	apiKey := cfg.APIKey.Value()
	if apiKey == "" {
		// langchaingo requires a token, use placeholder for local servers.
		apiKey = "placeholder"
	}

	client, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return embedder, nil
}
