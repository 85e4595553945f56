package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/xBlackSmurfx008/AI-Caller-sub001/pkg/llm"
)

// stubLLM is a canned llm.Provider that records its calls.
type stubLLM struct {
	mu       sync.Mutex
	response *llm.Response
	err      error
	calls    int
}

func (s *stubLLM) Complete(_ context.Context, _ llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.response, nil
}

func (s *stubLLM) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestLLMFallback_Complete_PrimarySuccess(t *testing.T) {
	primary := &stubLLM{response: &llm.Response{Content: "hello from primary"}}
	secondary := &stubLLM{response: &llm.Response{Content: "hello from secondary"}}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	resp, err := fb.Complete(context.Background(), llm.Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello from primary" {
		t.Fatalf("content = %q, want 'hello from primary'", resp.Content)
	}
	if primary.callCount() != 1 {
		t.Fatalf("primary called %d times, want 1", primary.callCount())
	}
	if secondary.callCount() != 0 {
		t.Fatalf("secondary called %d times, want 0", secondary.callCount())
	}
}

func TestLLMFallback_Complete_Failover(t *testing.T) {
	primary := &stubLLM{err: errors.New("primary down")}
	secondary := &stubLLM{response: &llm.Response{Content: "hello from secondary"}}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	resp, err := fb.Complete(context.Background(), llm.Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello from secondary" {
		t.Fatalf("content = %q, want 'hello from secondary'", resp.Content)
	}
}

func TestLLMFallback_Complete_AllFail(t *testing.T) {
	primary := &stubLLM{err: errors.New("primary down")}
	secondary := &stubLLM{err: errors.New("secondary down")}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Complete(context.Background(), llm.Request{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestLLMFallback_SkipsOpenBreaker(t *testing.T) {
	primary := &stubLLM{err: errors.New("primary down")}
	secondary := &stubLLM{response: &llm.Response{Content: "ok"}}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2},
	})
	fb.AddFallback("secondary", secondary)

	// Two failures trip the primary's breaker.
	for range 3 {
		if _, err := fb.Complete(context.Background(), llm.Request{}); err != nil {
			t.Fatal(err)
		}
	}

	// The third call skipped the primary entirely.
	if primary.callCount() != 2 {
		t.Errorf("primary called %d times, want 2", primary.callCount())
	}
	if secondary.callCount() != 3 {
		t.Errorf("secondary called %d times, want 3", secondary.callCount())
	}
}
