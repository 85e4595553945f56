// Package embeddings abstracts text-to-vector backends. The retrieval
// pipeline uses these vectors for dense similarity search over the
// knowledge-chunk index.
//
// Implementations must be safe for concurrent use, and every vector from one
// Provider instance shares the dimensionality reported by Dimensions.
package embeddings

import "context"

// Provider maps text to dense float32 vectors.
type Provider interface {
	// Embed computes the vector for one text. The result has length
	// Dimensions().
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes vectors for texts in one backend call; the i-th
	// result corresponds to texts[i]. On error no partial results are
	// returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the fixed vector length of this provider's model.
	Dimensions() int

	// ModelID identifies the underlying model, used for cache keys and
	// logging.
	ModelID() string
}
