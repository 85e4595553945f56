package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/call"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/retrieval"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/store/postgres"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if AICALLER_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("AICALLER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("AICALLER_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] over a clean schema and
// registers cleanup to close it.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	dropSchema(t, ctx, dsn)

	store, err := postgres.NewStore(ctx, dsn, testEmbeddingDim)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func dropSchema(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	defer pool.Close()

	for _, table := range []string{
		"knowledge_chunks", "escalations", "call_interactions", "human_agents", "calls",
	} {
		if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE"); err != nil {
			t.Fatalf("drop %s: %v", table, err)
		}
	}
}

func newCall(id, sid string) *call.Call {
	return &call.Call{
		ID:         id,
		SID:        sid,
		Direction:  call.DirectionInbound,
		Status:     call.StatusInitiated,
		FromNumber: "+15550100",
		ToNumber:   "+15550200",
		BusinessID: "acme",
		StartedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestCallLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c := newCall("call-1", "CA1")
	if err := store.CreateCall(ctx, c); err != nil {
		t.Fatalf("CreateCall: %v", err)
	}

	got, err := store.GetCall(ctx, "call-1")
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if got.SID != "CA1" || got.BusinessID != "acme" || got.Status != call.StatusInitiated {
		t.Errorf("call = %+v", got)
	}

	bySID, err := store.GetCallBySID(ctx, "CA1")
	if err != nil {
		t.Fatalf("GetCallBySID: %v", err)
	}
	if bySID.ID != "call-1" {
		t.Errorf("by-sid id = %q", bySID.ID)
	}

	ended := time.Now().UTC().Truncate(time.Millisecond)
	if err := store.UpdateCallStatus(ctx, "call-1", call.StatusCompleted, &ended); err != nil {
		t.Fatalf("UpdateCallStatus: %v", err)
	}
	got, err = store.GetCall(ctx, "call-1")
	if err != nil {
		t.Fatalf("GetCall after update: %v", err)
	}
	if got.Status != call.StatusCompleted || got.EndedAt == nil {
		t.Errorf("updated call = %+v", got)
	}
}

func TestAttachSID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c := newCall("call-2", "")
	if err := store.CreateCall(ctx, c); err != nil {
		t.Fatalf("CreateCall: %v", err)
	}
	if err := store.AttachSID(ctx, "call-2", "CA2"); err != nil {
		t.Fatalf("AttachSID: %v", err)
	}
	got, err := store.GetCallBySID(ctx, "CA2")
	if err != nil {
		t.Fatalf("GetCallBySID: %v", err)
	}
	if got.ID != "call-2" {
		t.Errorf("id = %q", got.ID)
	}
}

func TestInteractionsOrderedWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateCall(ctx, newCall("call-3", "CA3")); err != nil {
		t.Fatalf("CreateCall: %v", err)
	}

	base := time.Now().UTC().Truncate(time.Millisecond)
	texts := []string{"hello", "hi there", "I need help", "sure", "thanks"}
	for i, text := range texts {
		it := call.Interaction{
			CallID:    "call-3",
			Speaker:   call.SpeakerCustomer,
			Text:      text,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}
		if err := store.AppendInteraction(ctx, it); err != nil {
			t.Fatalf("AppendInteraction %d: %v", i, err)
		}
	}

	// A limited list returns the most recent turns, oldest first.
	got, err := store.ListInteractions(ctx, "call-3", 2)
	if err != nil {
		t.Fatalf("ListInteractions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d interactions, want 2", len(got))
	}
	if got[0].Text != "sure" || got[1].Text != "thanks" {
		t.Errorf("window = [%q, %q]", got[0].Text, got[1].Text)
	}
}

func TestEscalationLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateCall(ctx, newCall("call-4", "CA4")); err != nil {
		t.Fatalf("CreateCall: %v", err)
	}

	e := &call.Escalation{
		ID:          "esc-1",
		CallID:      "call-4",
		Status:      call.EscalationPending,
		TriggerType: call.TriggerKeyword,
		TriggerDetails: map[string]any{
			"keyword": "manager",
		},
		RequestedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := store.CreateEscalation(ctx, e); err != nil {
		t.Fatalf("CreateEscalation: %v", err)
	}

	pending, err := store.PendingEscalationForCall(ctx, "call-4")
	if err != nil {
		t.Fatalf("PendingEscalationForCall: %v", err)
	}
	if pending == nil || pending.ID != "esc-1" {
		t.Fatalf("pending = %+v", pending)
	}

	if err := store.UpdateEscalationStatus(ctx, "esc-1", call.EscalationCompleted); err != nil {
		t.Fatalf("UpdateEscalationStatus: %v", err)
	}

	pending, err = store.PendingEscalationForCall(ctx, "call-4")
	if err != nil {
		t.Fatalf("PendingEscalationForCall after complete: %v", err)
	}
	if pending != nil {
		t.Errorf("completed escalation still pending: %+v", pending)
	}

	got, err := store.GetEscalation(ctx, "esc-1")
	if err != nil {
		t.Fatalf("GetEscalation: %v", err)
	}
	if got.Status != call.EscalationCompleted || got.TriggerType != call.TriggerKeyword {
		t.Errorf("escalation = %+v", got)
	}
}

func TestAgentAssignment(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	busy := &call.HumanAgent{
		ID: "agent-busy", Name: "Busy", Email: "busy@example.com",
		IsAvailable: true, IsActive: true, ActiveCalls: 3,
	}
	idle := &call.HumanAgent{
		ID: "agent-idle", Name: "Idle", Email: "idle@example.com",
		IsAvailable: true, IsActive: true, ActiveCalls: 0,
	}
	off := &call.HumanAgent{
		ID: "agent-off", Name: "Off", Email: "off@example.com",
		IsAvailable: false, IsActive: true,
	}
	for _, a := range []*call.HumanAgent{busy, idle, off} {
		if err := store.UpsertAgent(ctx, a); err != nil {
			t.Fatalf("UpsertAgent %s: %v", a.ID, err)
		}
	}

	got, err := store.FindAvailableAgent(ctx)
	if err != nil {
		t.Fatalf("FindAvailableAgent: %v", err)
	}
	if got == nil || got.ID != "agent-idle" {
		t.Fatalf("least-loaded agent = %+v, want agent-idle", got)
	}

	if err := store.AdjustAgentActiveCalls(ctx, "agent-idle", 1); err != nil {
		t.Fatalf("AdjustAgentActiveCalls: %v", err)
	}
	if err := store.SetAgentAvailability(ctx, "agent-idle", false); err != nil {
		t.Fatalf("SetAgentAvailability: %v", err)
	}
	if err := store.SetAgentAvailability(ctx, "agent-busy", false); err != nil {
		t.Fatalf("SetAgentAvailability: %v", err)
	}

	if _, err := store.FindAvailableAgent(ctx); !errors.Is(err, postgres.ErrNotFound) {
		t.Errorf("FindAvailableAgent with none available: err = %v, want ErrNotFound", err)
	}
}

func TestKnowledgeSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	docs := []struct {
		doc retrieval.Document
		vec []float32
	}{
		{
			doc: retrieval.Document{
				ID: "k1", BusinessID: "acme", Title: "API keys",
				Source: "kb/api-keys", Content: "Rotate your api key from the dashboard settings page.",
				Vendor: "openai", DocType: "guide",
			},
			vec: []float32{1, 0, 0, 0},
		},
		{
			doc: retrieval.Document{
				ID: "k2", BusinessID: "acme", Title: "Billing",
				Source: "kb/billing", Content: "Invoices are issued monthly.",
				DocType: "guide",
			},
			vec: []float32{0, 1, 0, 0},
		},
		{
			doc: retrieval.Document{
				ID: "k3", BusinessID: "globex", Title: "API keys",
				Source: "kb/globex-keys", Content: "Globex api key rotation guide.",
			},
			vec: []float32{1, 0, 0, 0},
		},
	}
	for _, d := range docs {
		if err := store.UpsertKnowledgeChunk(ctx, d.doc, d.vec); err != nil {
			t.Fatalf("UpsertKnowledgeChunk %s: %v", d.doc.ID, err)
		}
	}

	// Vector search is business-scoped and ranked by cosine similarity.
	hits, err := store.SearchVector(ctx, "acme", []float32{1, 0, 0, 0}, retrieval.Filter{}, 10)
	if err != nil {
		t.Fatalf("SearchVector: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2 (no cross-tenant rows)", len(hits))
	}
	if hits[0].ID != "k1" {
		t.Errorf("top hit = %q, want k1", hits[0].ID)
	}
	if hits[0].Similarity < hits[1].Similarity {
		t.Errorf("similarities not descending: %v then %v", hits[0].Similarity, hits[1].Similarity)
	}

	// Vendor filter narrows the candidate set.
	hits, err = store.SearchVector(ctx, "acme", []float32{1, 0, 0, 0}, retrieval.Filter{Vendor: "openai"}, 10)
	if err != nil {
		t.Fatalf("SearchVector with vendor: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "k1" {
		t.Errorf("vendor-filtered hits = %+v", hits)
	}

	// Keyword search matches full text, still business-scoped.
	kw, err := store.SearchKeyword(ctx, "acme", []string{"api", "key"}, retrieval.Filter{}, 10)
	if err != nil {
		t.Fatalf("SearchKeyword: %v", err)
	}
	if len(kw) != 1 || kw[0].ID != "k1" {
		t.Errorf("keyword hits = %+v", kw)
	}
}
