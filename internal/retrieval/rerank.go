package retrieval

import (
	"context"
	"sort"
	"strings"
	"unicode"
)

// defaultOverfetch is how many candidates per requested document a
// RerankingRetriever pulls from the inner retriever.
const defaultOverfetch = 3

// RerankingRetriever reorders vector search candidates by blending the
// similarity score with the share of query terms that appear in the document.
// Schema documents name their tables and columns, so exact identifier overlap
// is a strong signal the embedding alone can miss.
type RerankingRetriever struct {
	inner     Retriever
	overfetch int
}

// NewRerankingRetriever wraps inner. Overfetch below 1 uses the default.
func NewRerankingRetriever(inner Retriever, overfetch int) *RerankingRetriever {
	if overfetch < 1 {
		overfetch = defaultOverfetch
	}
	return &RerankingRetriever{inner: inner, overfetch: overfetch}
}

// Retrieve implements Retriever. Returned documents carry the blended score.
func (r *RerankingRetriever) Retrieve(ctx context.Context, query string, k int) ([]Document, error) {
	if k <= 0 {
		return []Document{}, nil
	}
	docs, err := r.inner.Retrieve(ctx, query, k*r.overfetch)
	if err != nil {
		return nil, err
	}

	terms := queryTerms(query)
	if len(terms) > 0 {
		for i := range docs {
			docs[i].Score = 0.5*docs[i].Score + 0.5*termOverlap(terms, docs[i].Text)
		}
		// Stable keeps the store's order among equal scores.
		sort.SliceStable(docs, func(i, j int) bool { return docs[i].Score > docs[j].Score })
	}
	if len(docs) > k {
		docs = docs[:k]
	}
	return docs, nil
}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "from": {}, "are": {}, "was": {},
	"that": {}, "this": {}, "what": {}, "which": {}, "who": {}, "how": {}, "many": {},
	"show": {}, "list": {}, "give": {}, "per": {}, "each": {}, "all": {},
}

// queryTerms keeps the distinct tokens of text longer than two characters
// that are not stopwords.
func queryTerms(text string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, tok := range tokenize(text) {
		if _, stop := stopwords[tok]; stop || len(tok) <= 2 {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

// tokenize lowercases and splits on anything but letters, digits and
// underscores.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

// termOverlap is the fraction of terms present in text, in [0,1].
func termOverlap(terms []string, text string) float32 {
	words := map[string]struct{}{}
	for _, tok := range tokenize(text) {
		words[tok] = struct{}{}
	}
	hits := 0
	for _, t := range terms {
		if _, ok := words[t]; ok {
			hits++
		}
	}
	return float32(hits) / float32(len(terms))
}
