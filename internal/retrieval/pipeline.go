// Package retrieval implements the knowledge-base search pipeline behind the
// search_knowledge_base tool: query processing, hybrid dense+keyword search,
// reranking, diversity pruning, and voice formatting.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/observe"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/resilience"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/tools"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/pkg/embeddings"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/pkg/llm"
)

// Result is one scored pipeline output. Score is normalised to [0,1] across
// the result set.
type Result struct {
	Document
	Score float64
}

// Config tunes the pipeline. Zero values fall back to defaults.
type Config struct {
	// TopK is the result count. Default 5.
	TopK int

	// SemanticWeight and KeywordWeight mix the two first-stage signals.
	// Defaults 0.7 and 0.3; they are renormalised to sum to 1.
	SemanticWeight float64
	KeywordWeight  float64

	// DiversityThreshold is the maximum Jaccard similarity a candidate may
	// have with any accepted result. Default 0.7.
	DiversityThreshold float64

	// RewriteTimeout bounds the optional LLM query rewrite. Default 2s.
	RewriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.SemanticWeight == 0 && c.KeywordWeight == 0 {
		c.SemanticWeight, c.KeywordWeight = 0.7, 0.3
	}
	if sum := c.SemanticWeight + c.KeywordWeight; sum > 0 {
		c.SemanticWeight /= sum
		c.KeywordWeight /= sum
	}
	if c.DiversityThreshold <= 0 {
		c.DiversityThreshold = 0.7
	}
	if c.RewriteTimeout <= 0 {
		c.RewriteTimeout = 2 * time.Second
	}
	return c
}

// Pipeline executes knowledge-base searches. Safe for concurrent use.
type Pipeline struct {
	store    ChunkStore
	embedder embeddings.Provider
	cache    *Cache
	reranker Reranker
	breaker  *resilience.CircuitBreaker
	rewriter llm.Provider
	metrics  *observe.Metrics
	cfg      Config
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithCache enables the Redis query and embedding caches.
func WithCache(c *Cache) Option {
	return func(p *Pipeline) { p.cache = c }
}

// WithReranker enables cross-encoder reranking. Term overlap remains the
// fallback when the reranker fails.
func WithReranker(r Reranker) Option {
	return func(p *Pipeline) { p.reranker = r }
}

// WithRewriter enables the one-call LLM query rewrite. Rewrite failure never
// fails a search.
func WithRewriter(l llm.Provider) Option {
	return func(p *Pipeline) { p.rewriter = l }
}

// WithMetrics records per-stage latency.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithConfig overrides the default tuning.
func WithConfig(cfg Config) Option {
	return func(p *Pipeline) { p.cfg = cfg }
}

// New creates a Pipeline over store and embedder.
func New(store ChunkStore, embedder embeddings.Provider, opts ...Option) (*Pipeline, error) {
	if store == nil || embedder == nil {
		return nil, fmt.Errorf("retrieval: store and embedder are required")
	}
	p := &Pipeline{
		store:    store,
		embedder: embedder,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "reranker",
		}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.cfg = p.cfg.withDefaults()
	return p, nil
}

// candidate accumulates per-document scores across stages.
type candidate struct {
	doc      Document
	semantic float64
	keyword  float64
	combined float64
	final    float64
}

// Search runs the full pipeline for one query scoped to a business.
func (p *Pipeline) Search(ctx context.Context, businessID, query string, f Filter) ([]Result, error) {
	total := time.Now()

	if results, ok := p.cache.GetResults(ctx, businessID, query, f); ok {
		return results, nil
	}

	pq := ProcessQuery(query)
	searchText := p.maybeRewrite(ctx, query)

	// Dense retrieval, with the vendor-filter fallback: when the filter
	// yields nothing, drop it and float matching-vendor hits to the top
	// later.
	candidateK := 2 * p.cfg.TopK
	stage := time.Now()
	vec, err := p.embedQuery(ctx, searchText)
	if err != nil {
		return nil, err
	}
	p.metrics.RecordRetrievalStage(ctx, "embed", time.Since(stage))

	stage = time.Now()
	hits, err := p.store.SearchVector(ctx, businessID, vec, f, candidateK)
	if err != nil {
		return nil, fmt.Errorf("retrieval: vector search: %w", err)
	}
	effective := f
	if len(hits) == 0 && f.Vendor != "" {
		effective = Filter{DocType: f.DocType}
		hits, err = p.store.SearchVector(ctx, businessID, vec, effective, candidateK)
		if err != nil {
			return nil, fmt.Errorf("retrieval: vector search (unfiltered): %w", err)
		}
	}
	p.metrics.RecordRetrievalStage(ctx, "vector_search", time.Since(stage))

	// The keyword leg searches with the expanded term set, so a document
	// that only uses a synonym of the caller's wording is still recalled.
	stage = time.Now()
	terms := pq.SearchTerms()
	var kwDocs []Document
	if len(terms) > 0 {
		kwDocs, err = p.store.SearchKeyword(ctx, businessID, terms, effective, candidateK)
		if err != nil {
			// Keyword search is a boost, not a dependency.
			slog.Warn("retrieval: keyword search failed", "error", err)
		}
	}
	p.metrics.RecordRetrievalStage(ctx, "keyword_search", time.Since(stage))

	cands := p.merge(terms, hits, kwDocs)
	if len(cands) == 0 {
		p.cache.SetResults(ctx, businessID, query, f, []Result{})
		return nil, nil
	}

	stage = time.Now()
	docs := make([]string, len(cands))
	original := make([]float64, len(cands))
	for i, c := range cands {
		docs[i] = c.doc.Content
		original[i] = c.combined
	}
	final := rerank(ctx, p.reranker, p.breaker, query, docs, original)
	for i := range cands {
		cands[i].final = final[i]
	}
	p.metrics.RecordRetrievalStage(ctx, "rerank", time.Since(stage))

	sort.SliceStable(cands, func(i, j int) bool { return cands[i].final > cands[j].final })

	// The caller asked for a vendor; honour that preference even after the
	// filter was dropped.
	if f.Vendor != "" && effective.Vendor == "" {
		sort.SliceStable(cands, func(i, j int) bool {
			return cands[i].doc.Vendor == f.Vendor && cands[j].doc.Vendor != f.Vendor
		})
	}

	pruned := p.pruneDiversity(cands)
	results := normalise(pruned)
	if len(results) > p.cfg.TopK {
		results = results[:p.cfg.TopK]
	}

	p.cache.SetResults(ctx, businessID, query, f, results)
	p.metrics.RecordRetrievalStage(ctx, "total", time.Since(total))
	return results, nil
}

// maybeRewrite asks the LLM for a retrieval-friendly rewrite of query,
// returning the original on any failure or timeout.
func (p *Pipeline) maybeRewrite(ctx context.Context, query string) string {
	if p.rewriter == nil {
		return query
	}
	rctx, cancel := context.WithTimeout(ctx, p.cfg.RewriteTimeout)
	defer cancel()

	resp, err := p.rewriter.Complete(rctx, llm.Request{
		SystemPrompt: "Rewrite the user's question as a concise keyword-rich search query. Reply with the query only.",
		Messages:     []llm.Message{{Role: "user", Content: query}},
		MaxTokens:    60,
	})
	if err != nil || resp == nil || resp.Content == "" {
		slog.Debug("retrieval: query rewrite skipped", "error", err)
		return query
	}
	return resp.Content
}

// embedQuery embeds text, consulting the embedding cache first.
func (p *Pipeline) embedQuery(ctx context.Context, text string) ([]float32, error) {
	model := p.embedder.ModelID()
	if vec, ok := p.cache.GetEmbedding(ctx, model, text); ok {
		return vec, nil
	}
	vec, err := p.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}
	p.cache.SetEmbedding(ctx, model, text, vec)
	return vec, nil
}

// merge unions the dense and keyword candidates, min-max normalises each
// signal, and mixes them with the configured weights. terms carries the
// synonym-expanded keyword set so BM25 rewards variant matches too.
func (p *Pipeline) merge(terms []string, hits []VectorHit, kwDocs []Document) []candidate {
	byID := make(map[string]*candidate)
	order := make([]string, 0, len(hits)+len(kwDocs))

	for _, h := range hits {
		c, ok := byID[h.ID]
		if !ok {
			c = &candidate{doc: h.Document}
			byID[h.ID] = c
			order = append(order, h.ID)
		}
		c.semantic = h.Similarity
	}
	for _, d := range kwDocs {
		if _, ok := byID[d.ID]; !ok {
			byID[d.ID] = &candidate{doc: d}
			order = append(order, d.ID)
		}
	}

	cands := make([]candidate, 0, len(order))
	for _, id := range order {
		cands = append(cands, *byID[id])
	}

	// Semantic: min-max across candidates.
	sem := make([]float64, len(cands))
	for i, c := range cands {
		sem[i] = c.semantic
	}
	sem = minMax(sem)

	// Keyword: BM25 over the candidate contents, then min-max.
	contents := make([]string, len(cands))
	for i, c := range cands {
		contents[i] = c.doc.Title + " " + c.doc.Content
	}
	kw := minMax(bm25Scores(terms, contents))

	for i := range cands {
		cands[i].semantic = sem[i]
		cands[i].keyword = kw[i]
		cands[i].combined = p.cfg.SemanticWeight*sem[i] + p.cfg.KeywordWeight*kw[i]
	}
	return cands
}

// pruneDiversity keeps the top candidate unconditionally and accepts each
// further one only if it is sufficiently dissimilar from everything already
// kept.
func (p *Pipeline) pruneDiversity(cands []candidate) []candidate {
	var kept []candidate
	var keptSets []map[string]struct{}
	for _, c := range cands {
		set := tokenSet(c.doc.Content)
		tooClose := false
		for _, ks := range keptSets {
			if jaccard(set, ks) > p.cfg.DiversityThreshold {
				tooClose = true
				break
			}
		}
		if len(kept) == 0 || !tooClose {
			kept = append(kept, c)
			keptSets = append(keptSets, set)
		}
	}
	return kept
}

// normalise min-maxes final scores across the surviving set and materialises
// results.
func normalise(cands []candidate) []Result {
	finals := make([]float64, len(cands))
	for i, c := range cands {
		finals[i] = c.final
	}
	finals = minMax(finals)

	results := make([]Result, len(cands))
	for i, c := range cands {
		results[i] = Result{Document: c.doc, Score: finals[i]}
	}
	return results
}

// minMax scales values to [0,1]. A constant slice maps to all-ones so a
// single strong candidate is not zeroed out.
func minMax(vals []float64) []float64 {
	if len(vals) == 0 {
		return vals
	}
	lo, hi := vals[0], vals[0]
	for _, v := range vals[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	out := make([]float64, len(vals))
	if hi == lo {
		for i := range out {
			out[i] = 1
		}
		return out
	}
	for i, v := range vals {
		out[i] = (v - lo) / (hi - lo)
	}
	return out
}

// SearchSnippets implements [tools.SnippetSearcher]: category maps onto the
// vendor filter and contents are voice-formatted for the live call, with the
// sentence budget steered by the question's intent.
func (p *Pipeline) SearchSnippets(ctx context.Context, businessID, query, category string) ([]tools.Snippet, error) {
	results, err := p.Search(ctx, businessID, query, Filter{Vendor: category})
	if err != nil {
		return nil, err
	}

	snippets := make([]tools.Snippet, 0, voiceMaxDocs)
	for _, r := range FormatForVoiceIntent(results, ClassifyIntent(query)) {
		snippets = append(snippets, tools.Snippet{
			Content: r.Content,
			Source:  r.Source,
			Score:   r.Score,
		})
	}
	return snippets, nil
}

var _ tools.SnippetSearcher = (*Pipeline)(nil)
