// Package escalation decides when a call needs a human and performs the
// hand-off: trigger evaluation on each caller turn, agent selection, the
// pending escalation row, and a conversation summary for the agent.
package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/call"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/conversation"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/tools"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/pkg/llm"
)

// Defaults for trigger thresholds.
const (
	DefaultSentimentThreshold  = -0.5
	DefaultComplexityThreshold = 0.8

	// summaryTurns is how many recent turns feed the hand-off summary.
	summaryTurns = 10
)

// Config selects which triggers are active and their thresholds. Zero-value
// thresholds fall back to the defaults; an empty keyword list disables the
// keyword trigger.
type Config struct {
	SentimentThreshold  float64
	Keywords            []string
	ComplexityThreshold float64
}

func (c Config) withDefaults() Config {
	if c.SentimentThreshold == 0 {
		c.SentimentThreshold = DefaultSentimentThreshold
	}
	if c.ComplexityThreshold == 0 {
		c.ComplexityThreshold = DefaultComplexityThreshold
	}
	return c
}

// Trigger describes why an escalation fired.
type Trigger struct {
	Type    call.TriggerType
	Details map[string]any
}

// CheckTriggers evaluates the latest caller turn against cfg. Triggers are
// checked in order sentiment, keyword, complexity; the first hit wins.
func CheckTriggers(text string, cfg Config) (Trigger, bool) {
	cfg = cfg.withDefaults()

	if score := SentimentScore(text); score <= cfg.SentimentThreshold {
		return Trigger{
			Type:    call.TriggerSentiment,
			Details: map[string]any{"score": score, "threshold": cfg.SentimentThreshold},
		}, true
	}

	lower := strings.ToLower(text)
	for _, kw := range cfg.Keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return Trigger{
				Type:    call.TriggerKeyword,
				Details: map[string]any{"keyword": kw},
			}, true
		}
	}

	if score := ComplexityScore(text); score >= cfg.ComplexityThreshold {
		return Trigger{
			Type:    call.TriggerComplexity,
			Details: map[string]any{"score": score, "threshold": cfg.ComplexityThreshold},
		}, true
	}

	return Trigger{}, false
}

// Store is the persistence surface the coordinator needs. Implemented by the
// postgres store.
type Store interface {
	GetCall(ctx context.Context, id string) (*call.Call, error)
	CreateEscalation(ctx context.Context, e *call.Escalation) error
	PendingEscalationForCall(ctx context.Context, callID string) (*call.Escalation, error)
	UpdateEscalationStatus(ctx context.Context, id string, status call.EscalationStatus) error
	FindAvailableAgent(ctx context.Context) (*call.HumanAgent, error)
	SetAgentAvailability(ctx context.Context, agentID string, available bool) error
	AdjustAgentActiveCalls(ctx context.Context, agentID string, delta int) error
}

// Coordinator performs escalations. Safe for concurrent use.
type Coordinator struct {
	store   Store
	conv    *conversation.Store
	machine *call.Machine
	llm     llm.Provider
	cfg     Config
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithLLM enables LLM-assisted hand-off summaries. Without it, the summary is
// the plain-text transcript window.
func WithLLM(p llm.Provider) Option {
	return func(c *Coordinator) { c.llm = p }
}

// WithConfig sets the trigger configuration.
func WithConfig(cfg Config) Option {
	return func(c *Coordinator) { c.cfg = cfg }
}

// NewCoordinator creates a Coordinator persisting through store, reading
// transcripts from conv and driving call status through machine.
func NewCoordinator(store Store, conv *conversation.Store, machine *call.Machine, opts ...Option) *Coordinator {
	c := &Coordinator{store: store, conv: conv, machine: machine}
	for _, opt := range opts {
		opt(c)
	}
	c.cfg = c.cfg.withDefaults()
	return c
}

// Config returns the active trigger configuration.
func (c *Coordinator) Config() Config { return c.cfg }

// CheckTurn evaluates a caller turn against the configured triggers and
// escalates on a hit. The returned escalation is nil when nothing fired.
func (c *Coordinator) CheckTurn(ctx context.Context, callID, text string) (*call.Escalation, error) {
	trigger, fired := CheckTriggers(text, c.cfg)
	if !fired {
		return nil, nil
	}
	trigger.Details["turn_text"] = text
	return c.Escalate(ctx, callID, trigger)
}

// Escalate creates a pending escalation for the call: at most one open
// escalation exists per call, the first available active agent is assigned
// and marked busy, a summary of the recent conversation is attached, and the
// call transitions to escalated. The bridge is not torn down here; transfer
// is a separate decision.
func (c *Coordinator) Escalate(ctx context.Context, callID string, trigger Trigger) (*call.Escalation, error) {
	if existing, err := c.store.PendingEscalationForCall(ctx, callID); err != nil {
		return nil, fmt.Errorf("escalation: check pending: %w", err)
	} else if existing != nil {
		return existing, nil
	}

	e := &call.Escalation{
		ID:             uuid.NewString(),
		CallID:         callID,
		Status:         call.EscalationPending,
		TriggerType:    trigger.Type,
		TriggerDetails: trigger.Details,
		RequestedAt:    time.Now().UTC(),
	}

	agent, err := c.store.FindAvailableAgent(ctx)
	if err != nil {
		slog.Warn("escalation: no agent available", "call_id", callID, "error", err)
	} else {
		e.AssignedAgentID = agent.ID
	}

	e.ConversationSummary = c.summarize(ctx, callID)

	if err := c.store.CreateEscalation(ctx, e); err != nil {
		return nil, fmt.Errorf("escalation: create: %w", err)
	}

	if agent != nil {
		if err := c.store.SetAgentAvailability(ctx, agent.ID, false); err != nil {
			slog.Warn("escalation: mark agent busy failed", "agent_id", agent.ID, "error", err)
		}
		if err := c.store.AdjustAgentActiveCalls(ctx, agent.ID, 1); err != nil {
			slog.Warn("escalation: bump agent load failed", "agent_id", agent.ID, "error", err)
		}
	}

	if cl, err := c.store.GetCall(ctx, callID); err == nil {
		if err := c.machine.Transition(ctx, cl, call.StatusEscalated); err != nil {
			slog.Warn("escalation: status transition failed", "call_id", callID, "error", err)
		}
	}

	slog.Info("escalation: created",
		"escalation_id", e.ID, "call_id", callID,
		"trigger", trigger.Type, "agent_id", e.AssignedAgentID)
	return e, nil
}

// Accept marks an escalation as picked up by its agent.
func (c *Coordinator) Accept(ctx context.Context, escalationID string) error {
	if err := c.store.UpdateEscalationStatus(ctx, escalationID, call.EscalationInProgress); err != nil {
		return fmt.Errorf("escalation: accept: %w", err)
	}
	return nil
}

// Complete finishes an escalation and releases the agent: availability back
// on, active-call count down, last_active_at refreshed.
func (c *Coordinator) Complete(ctx context.Context, escalationID, agentID string) error {
	if err := c.store.UpdateEscalationStatus(ctx, escalationID, call.EscalationCompleted); err != nil {
		return fmt.Errorf("escalation: complete: %w", err)
	}
	if agentID != "" {
		if err := c.store.AdjustAgentActiveCalls(ctx, agentID, -1); err != nil {
			return fmt.Errorf("escalation: release agent load: %w", err)
		}
		if err := c.store.SetAgentAvailability(ctx, agentID, true); err != nil {
			return fmt.Errorf("escalation: release agent: %w", err)
		}
	}
	return nil
}

// summarize builds the hand-off summary from the last turns, using the LLM
// when configured and falling back to the plain transcript window on any
// failure.
func (c *Coordinator) summarize(ctx context.Context, callID string) string {
	turns, err := c.conv.History(ctx, callID, summaryTurns)
	if err != nil || len(turns) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, turn := range turns {
		if turn.Speaker == call.SpeakerAI {
			sb.WriteString("AI: ")
		} else {
			sb.WriteString("Customer: ")
		}
		sb.WriteString(turn.Text)
		sb.WriteString("\n")
	}
	transcript := strings.TrimRight(sb.String(), "\n")

	if c.llm == nil {
		return transcript
	}

	resp, err := c.llm.Complete(ctx, llm.Request{
		SystemPrompt: "Summarise this customer call transcript for the human agent taking over. Two sentences: who is calling and what they need.",
		Messages:     []llm.Message{{Role: "user", Content: transcript}},
		MaxTokens:    150,
	})
	if err != nil || resp == nil || strings.TrimSpace(resp.Content) == "" {
		slog.Warn("escalation: summary llm failed, using transcript", "call_id", callID, "error", err)
		return transcript
	}
	return strings.TrimSpace(resp.Content)
}

// toolReasonTriggers maps escalate_to_human reasons onto trigger types.
var toolReasonTriggers = map[string]call.TriggerType{
	"customer_request":  call.TriggerCustomerRequest,
	"complex_issue":     call.TriggerComplexity,
	"technical_problem": call.TriggerComplexity,
}

// RequestEscalation implements the escalate_to_human tool contract
// ([tools.Escalator]).
func (c *Coordinator) RequestEscalation(ctx context.Context, cc tools.CallContext, reason, priority string) (string, error) {
	triggerType, ok := toolReasonTriggers[reason]
	if !ok {
		triggerType = call.TriggerCustomerRequest
	}
	e, err := c.Escalate(ctx, cc.CallID, Trigger{
		Type:    triggerType,
		Details: map[string]any{"reason": reason, "priority": priority},
	})
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

var _ tools.Escalator = (*Coordinator)(nil)
