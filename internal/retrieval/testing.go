package retrieval

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// HashEmbedder is a deterministic bag-of-words embedder for tests and
// offline use. Texts sharing words get similar vectors.
type HashEmbedder struct {
	Dims int
}

// EmbedDocuments implements embeddings.Embedder.
func (h HashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// EmbedQuery implements embeddings.Embedder.
func (h HashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	dims := h.Dims
	if dims <= 0 {
		dims = 64
	}
	v := make([]float32, dims)
	// Constant component keeps empty texts off the zero vector.
	v[0] = 0.01
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, w := range words {
		f := fnv.New32a()
		_, _ = f.Write([]byte(w))
		v[1+int(f.Sum32())%(dims-1)]++
	}
	return v, nil
}

// StaticRetriever returns fixed documents, truncated to k.
type StaticRetriever struct {
	Docs []Document
	Err  error
}

// Retrieve implements Retriever.
func (s StaticRetriever) Retrieve(_ context.Context, _ string, k int) ([]Document, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if k > len(s.Docs) {
		k = len(s.Docs)
	}
	return append([]Document(nil), s.Docs[:k]...), nil
}
