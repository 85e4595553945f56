package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/bridge"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/call"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/config"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/retrieval"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/pkg/realtime"
)

// memStore is an in-memory DataStore for wiring tests.
type memStore struct {
	mu           sync.Mutex
	calls        map[string]*call.Call
	bySID        map[string]string
	interactions map[string][]call.Interaction
	escalations  map[string]*call.Escalation
	pingErr      error
}

func newMemStore() *memStore {
	return &memStore{
		calls:        make(map[string]*call.Call),
		bySID:        make(map[string]string),
		interactions: make(map[string][]call.Interaction),
		escalations:  make(map[string]*call.Escalation),
	}
}

func (s *memStore) CreateCall(_ context.Context, c *call.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.calls[c.ID] = &cp
	if c.SID != "" {
		s.bySID[c.SID] = c.ID
	}
	return nil
}

func (s *memStore) GetCall(_ context.Context, id string) (*call.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return nil, fmt.Errorf("call %s not found", id)
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) GetCallBySID(_ context.Context, sid string) (*call.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.bySID[sid]
	if !ok {
		return nil, fmt.Errorf("call sid %s not found", sid)
	}
	cp := *s.calls[id]
	return &cp, nil
}

func (s *memStore) AttachSID(_ context.Context, id, sid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return fmt.Errorf("call %s not found", id)
	}
	c.SID = sid
	s.bySID[sid] = id
	return nil
}

func (s *memStore) UpdateCallStatus(_ context.Context, callID string, status call.Status, endedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[callID]
	if !ok {
		return fmt.Errorf("call %s not found", callID)
	}
	c.Status = status
	if endedAt != nil {
		c.EndedAt = endedAt
	}
	return nil
}

func (s *memStore) AppendInteraction(_ context.Context, it call.Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interactions[it.CallID] = append(s.interactions[it.CallID], it)
	return nil
}

func (s *memStore) ListInteractions(_ context.Context, callID string, limit int) ([]call.Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	its := s.interactions[callID]
	if limit > 0 && len(its) > limit {
		its = its[len(its)-limit:]
	}
	return append([]call.Interaction(nil), its...), nil
}

func (s *memStore) CreateEscalation(_ context.Context, e *call.Escalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.escalations[e.ID] = &cp
	return nil
}

func (s *memStore) PendingEscalationForCall(_ context.Context, callID string) (*call.Escalation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.escalations {
		if e.CallID == callID && e.Status == call.EscalationPending {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) UpdateEscalationStatus(_ context.Context, id string, status call.EscalationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.escalations[id]
	if !ok {
		return fmt.Errorf("escalation %s not found", id)
	}
	e.Status = status
	return nil
}

func (s *memStore) FindAvailableAgent(context.Context) (*call.HumanAgent, error) {
	return nil, nil
}

func (s *memStore) SetAgentAvailability(context.Context, string, bool) error { return nil }

func (s *memStore) AdjustAgentActiveCalls(context.Context, string, int) error { return nil }

func (s *memStore) SearchVector(context.Context, string, []float32, retrieval.Filter, int) ([]retrieval.VectorHit, error) {
	return nil, nil
}

func (s *memStore) SearchKeyword(context.Context, string, []string, retrieval.Filter, int) ([]retrieval.Document, error) {
	return nil, nil
}

func (s *memStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

func (s *memStore) Close() {}

var _ DataStore = (*memStore)(nil)

// fakeEmbedder returns a constant vector.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

func (fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (fakeEmbedder) Dimensions() int { return 3 }

func (fakeEmbedder) ModelID() string { return "fake-embedder" }

func refuseConnect(context.Context, realtime.SessionConfig) (bridge.ModelSession, error) {
	return nil, errors.New("no model sessions in tests")
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: "127.0.0.1:0",
			LogLevel:   config.LogInfo,
		},
		Telephony: config.TelephonyConfig{
			StreamURL: "wss://calls.example.com/media",
			Greeting:  "Please hold.",
		},
		Model: config.ModelConfig{APIKey: "sk-test"},
		Businesses: []config.BusinessConfig{
			{
				ID:           "acme",
				Instructions: "You answer support calls for Acme.",
				Greeting:     "Thanks for calling Acme.",
				Voice:        "coral",
			},
		},
	}
}

func newTestApp(t *testing.T, cfg *config.Config, store *memStore) *App {
	t.Helper()
	a, err := New(context.Background(), cfg,
		WithDataStore(store),
		WithEmbedder(fakeEmbedder{}),
		WithConnect(refuseConnect),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestNew_WiresSubsystems(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, testConfig(), newMemStore())

	if a.Manager() == nil {
		t.Error("Manager() returned nil")
	}
	if a.Handler() == nil {
		t.Error("Handler() returned nil")
	}
	if got := a.dispatcher.Names(); len(got) != 7 {
		t.Errorf("built-in tools registered: got %v, want 7 names", got)
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	a := newTestApp(t, testConfig(), store)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("readyz status = %d, want 200", resp.StatusCode)
	}

	// A failing store ping must flip readiness, not liveness.
	store.mu.Lock()
	store.pingErr = errors.New("connection refused")
	store.mu.Unlock()

	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("readyz status with failing store = %d, want 503", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz must stay 200 while store is down, got %d", resp.StatusCode)
	}
}

func TestVoiceWebhookReturnsStreamTwiML(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, testConfig(), newMemStore())
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	form := url.Values{
		"CallSid": {"CA123"},
		"From":    {"+15550100"},
		"To":      {"+15550200"},
	}
	resp, err := http.PostForm(srv.URL+"/voice", form)
	if err != nil {
		t.Fatalf("voice webhook: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "xml") {
		t.Errorf("content type = %q, want XML", ct)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "wss://calls.example.com/media") {
		t.Errorf("TwiML missing stream URL: %s", body)
	}
}

func TestProfileSource_ResolvesAndReloads(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	ps := newProfileSource(cfg)

	p := ps.ProfileFor("acme")
	if p.Instructions != "You answer support calls for Acme." || p.Voice != "coral" {
		t.Errorf("acme profile = %+v", p)
	}

	// Unknown businesses get the default persona with the global greeting.
	p = ps.ProfileFor("unknown")
	if p.Instructions != defaultInstructions {
		t.Errorf("default instructions = %q", p.Instructions)
	}
	if p.Greeting != "Please hold." {
		t.Errorf("default greeting = %q", p.Greeting)
	}

	updated := testConfig()
	updated.Businesses[0].Instructions = "You answer sales calls for Acme."
	ps.reload(updated)

	p = ps.ProfileFor("acme")
	if p.Instructions != "You answer sales calls for Acme." {
		t.Errorf("reloaded instructions = %q", p.Instructions)
	}
}

func TestApplyConfig_SwapsPersonas(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, testConfig(), newMemStore())

	updated := testConfig()
	updated.Businesses[0].Voice = "sage"
	a.ApplyConfig(updated)

	if got := a.profiles.ProfileFor("acme").Voice; got != "sage" {
		t.Errorf("voice after reload = %q, want sage", got)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, testConfig(), newMemStore())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// Give the listener a moment, then cancel.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, testConfig(), newMemStore())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}
