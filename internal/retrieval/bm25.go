package retrieval

import "math"

// BM25 over the already-retrieved candidate set. This is not a full-corpus
// index: document frequencies are computed across the candidates only, which
// is enough to order them against the query terms.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// bm25Scores scores each candidate document against queryTerms. The returned
// slice is parallel to docs; scores are raw (normalise before mixing with
// other signals).
func bm25Scores(queryTerms []string, docs []string) []float64 {
	n := len(docs)
	scores := make([]float64, n)
	if n == 0 || len(queryTerms) == 0 {
		return scores
	}

	tokens := make([][]string, n)
	var totalLen float64
	for i, doc := range docs {
		tokens[i] = tokenize(doc)
		totalLen += float64(len(tokens[i]))
	}
	avgLen := totalLen / float64(n)
	if avgLen == 0 {
		return scores
	}

	// Document frequency per query term.
	df := make(map[string]int, len(queryTerms))
	for _, toks := range tokens {
		seen := make(map[string]struct{}, len(toks))
		for _, tok := range toks {
			seen[tok] = struct{}{}
		}
		for _, term := range queryTerms {
			if _, ok := seen[term]; ok {
				df[term]++
			}
		}
	}

	for i, toks := range tokens {
		tf := make(map[string]int, len(toks))
		for _, tok := range toks {
			tf[tok]++
		}
		docLen := float64(len(toks))

		var score float64
		for _, term := range queryTerms {
			f := float64(tf[term])
			if f == 0 {
				continue
			}
			idf := math.Log(1 + (float64(n)-float64(df[term])+0.5)/(float64(df[term])+0.5))
			score += idf * (f * (bm25K1 + 1)) /
				(f + bm25K1*(1-bm25B+bm25B*docLen/avgLen))
		}
		scores[i] = score
	}
	return scores
}
