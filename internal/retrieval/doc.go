// Package retrieval is the semantic retrieval collaborator: it stores schema
// and domain knowledge as embedded documents and returns the ones closest to
// a question.
//
// Two stores are available. ChromemStore is embedded and persists to a local
// directory; QdrantStore talks to an external Qdrant server over gRPC. Both
// embed text through a langchaingo embeddings.Embedder.
//
// Indexer populates a store from database introspection (one document per
// table and per related table pair) plus business rules and few-shot examples
// loaded with LoadKnowledge.
package retrieval
