package retrieval

import (
	"context"
	"log/slog"

	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/resilience"
)

// Reranker scores query/document pairs with a stronger (and slower) model
// than the first-stage retrievers. The returned slice is parallel to docs.
type Reranker interface {
	Score(ctx context.Context, query string, docs []string) ([]float64, error)
}

// Blend weights for the rerank stage.
const (
	rerankCrossWeight    = 0.6
	rerankOriginalWeight = 0.4
)

// rerank blends cross-encoder scores with the first-stage scores. When the
// reranker is absent, errors, or its breaker is open, term overlap stands in
// for the cross score so ordering still improves over raw retrieval.
func rerank(ctx context.Context, rr Reranker, breaker *resilience.CircuitBreaker, query string, docs []string, original []float64) []float64 {
	cross := termOverlapScores(query, docs)

	if rr != nil {
		var scored []float64
		err := breaker.Execute(func() error {
			var err error
			scored, err = rr.Score(ctx, query, docs)
			return err
		})
		if err != nil {
			slog.Warn("retrieval: reranker unavailable, using term overlap", "error", err)
		} else if len(scored) == len(docs) {
			cross = scored
		}
	}

	out := make([]float64, len(docs))
	for i := range docs {
		out[i] = rerankCrossWeight*cross[i] + rerankOriginalWeight*original[i]
	}
	return out
}

// termOverlapScores is the degraded-mode relevance signal: the fraction of
// query tokens present in each document.
func termOverlapScores(query string, docs []string) []float64 {
	qset := tokenSet(query)
	scores := make([]float64, len(docs))
	if len(qset) == 0 {
		return scores
	}
	for i, doc := range docs {
		dset := tokenSet(doc)
		matched := 0
		for tok := range qset {
			if _, ok := dset[tok]; ok {
				matched++
			}
		}
		scores[i] = float64(matched) / float64(len(qset))
	}
	return scores
}

// jaccard computes set similarity of two token sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
