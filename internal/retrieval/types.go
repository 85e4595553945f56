package retrieval

import "context"

// Document is one knowledge-base chunk as stored in the index.
type Document struct {
	ID         string
	BusinessID string
	Title      string
	Source     string
	Content    string
	ChunkIndex int
	Vendor     string
	DocType    string
}

// VectorHit is a document returned by nearest-neighbour search together with
// its cosine similarity to the query embedding, in [0, 1] for unit vectors.
type VectorHit struct {
	Document
	Similarity float64
}

// Filter narrows a search to a metadata slice of the knowledge base.
// Zero-value fields match everything.
type Filter struct {
	Vendor  string
	DocType string
}

// ChunkStore is the knowledge index the pipeline searches. Both methods scope
// results to a single business namespace; cross-tenant hits are never
// returned.
type ChunkStore interface {
	// SearchVector returns the topK chunks nearest to embedding by cosine
	// distance, most similar first.
	SearchVector(ctx context.Context, businessID string, embedding []float32, f Filter, topK int) ([]VectorHit, error)

	// SearchKeyword returns up to topK chunks whose content matches any of
	// the given terms. Ordering is a coarse relevance ranking; callers
	// rescore the candidates themselves.
	SearchKeyword(ctx context.Context, businessID string, terms []string, f Filter, topK int) ([]Document, error)
}
