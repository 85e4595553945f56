package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/resilience"
)

type stubReranker struct {
	scores []float64
	err    error
	calls  int
}

func (s *stubReranker) Score(_ context.Context, _ string, docs []string) ([]float64, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.scores, nil
}

func newTestBreaker() *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "test", MaxFailures: 2})
}

func TestRerankBlendsCrossAndOriginal(t *testing.T) {
	t.Parallel()

	rr := &stubReranker{scores: []float64{1, 0}}
	got := rerank(context.Background(), rr, newTestBreaker(), "q",
		[]string{"a", "b"}, []float64{0, 1})

	if got[0] != 0.6 {
		t.Errorf("doc a score = %v, want 0.6", got[0])
	}
	if got[1] != 0.4 {
		t.Errorf("doc b score = %v, want 0.4", got[1])
	}
}

func TestRerankFallsBackToTermOverlap(t *testing.T) {
	t.Parallel()

	rr := &stubReranker{err: errors.New("model down")}
	got := rerank(context.Background(), rr, newTestBreaker(), "rotate api key",
		[]string{
			"rotate the api key in settings",
			"store hours and directions",
		}, []float64{0.5, 0.5})

	if got[0] <= got[1] {
		t.Errorf("overlap fallback did not rank matching doc higher: %v", got)
	}
}

func TestRerankBreakerSkipsFailingReranker(t *testing.T) {
	t.Parallel()

	rr := &stubReranker{err: errors.New("model down")}
	breaker := newTestBreaker()

	for range 4 {
		rerank(context.Background(), rr, breaker, "q", []string{"a"}, []float64{1})
	}
	// MaxFailures=2: calls three and four short-circuit.
	if rr.calls != 2 {
		t.Errorf("reranker called %d times, want 2", rr.calls)
	}
}

func TestRerankWithoutReranker(t *testing.T) {
	t.Parallel()

	got := rerank(context.Background(), nil, newTestBreaker(), "refund policy",
		[]string{"our refund policy is thirty days", "unrelated text"},
		[]float64{0, 0})
	if got[0] <= got[1] {
		t.Errorf("term overlap alone did not order docs: %v", got)
	}
}

func TestJaccard(t *testing.T) {
	t.Parallel()

	a := tokenSet("rotate the api key")
	b := tokenSet("rotate the api key")
	if got := jaccard(a, b); got != 1 {
		t.Errorf("identical sets = %v", got)
	}
	c := tokenSet("completely different words entirely")
	if got := jaccard(a, c); got != 0 {
		t.Errorf("disjoint sets = %v", got)
	}
}
