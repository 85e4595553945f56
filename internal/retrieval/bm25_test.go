package retrieval

import "testing"

func TestBM25RanksMatchingDocHigher(t *testing.T) {
	t.Parallel()

	docs := []string{
		"To rotate an api key, open settings and click regenerate key.",
		"Our store hours are nine to five on weekdays.",
		"Shipping takes three to five business days.",
	}
	scores := bm25Scores([]string{"rotate", "api", "key"}, docs)

	if scores[0] <= scores[1] || scores[0] <= scores[2] {
		t.Errorf("matching doc not ranked first: %v", scores)
	}
	if scores[1] != 0 || scores[2] != 0 {
		t.Errorf("non-matching docs scored: %v", scores)
	}
}

func TestBM25TermFrequencySaturates(t *testing.T) {
	t.Parallel()

	docs := []string{
		"key key key key key key key key key key key key",
		"key settings",
	}
	scores := bm25Scores([]string{"key"}, docs)

	// More occurrences score higher, but far less than linearly.
	if scores[0] <= scores[1] {
		t.Fatalf("repetition not rewarded: %v", scores)
	}
	if scores[0] > 3*scores[1] {
		t.Errorf("term frequency not saturating: %v", scores)
	}
}

func TestBM25EmptyInputs(t *testing.T) {
	t.Parallel()

	if got := bm25Scores(nil, []string{"a doc"}); got[0] != 0 {
		t.Errorf("no-term score = %v", got)
	}
	if got := bm25Scores([]string{"term"}, nil); len(got) != 0 {
		t.Errorf("no-doc scores = %v", got)
	}
}
