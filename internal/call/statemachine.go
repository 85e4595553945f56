package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrInvalidTransition is returned when a status change is not allowed by
// the state machine. Callers log and drop; the call keeps its current state.
var ErrInvalidTransition = errors.New("call: invalid status transition")

// validTransitions lists the allowed target states per current state.
// Terminal states allow nothing.
var validTransitions = map[Status][]Status{
	StatusInitiated:  {StatusRinging, StatusInProgress, StatusFailed},
	StatusRinging:    {StatusInProgress, StatusCompleted, StatusFailed},
	StatusInProgress: {StatusCompleted, StatusFailed, StatusEscalated},
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// MapCarrierStatus translates a carrier status-callback value to the target
// call status. Returns false for values that do not drive a transition
// (e.g. "queued", "initiated").
func MapCarrierStatus(carrier string) (Status, bool) {
	switch carrier {
	case "ringing":
		return StatusRinging, true
	case "answered", "in-progress":
		return StatusInProgress, true
	case "completed":
		return StatusCompleted, true
	case "busy", "failed", "no-answer", "canceled":
		return StatusFailed, true
	}
	return "", false
}

// StatusStore persists status changes. Implemented by the postgres store.
type StatusStore interface {
	UpdateCallStatus(ctx context.Context, callID string, status Status, endedAt *time.Time) error
}

// TransitionHook observes successful transitions, e.g. to notify an external
// status webhook or update metrics. Hooks must not block for long.
type TransitionHook func(ctx context.Context, c *Call, from, to Status)

// Machine drives call status transitions, persisting each accepted change
// and stamping EndedAt on entry to a terminal state. Safe for concurrent use
// as long as each *Call is owned by one goroutine at a time (the call
// manager guarantees this).
type Machine struct {
	store StatusStore
	hooks []TransitionHook
}

// NewMachine creates a state machine backed by store. Hooks run in order
// after each persisted transition.
func NewMachine(store StatusStore, hooks ...TransitionHook) *Machine {
	return &Machine{store: store, hooks: hooks}
}

// Transition moves c to the target status. Illegal transitions are rejected
// with ErrInvalidTransition and logged; a transition to the current status is
// a no-op. On entry to a terminal state EndedAt is stamped before persisting.
func (m *Machine) Transition(ctx context.Context, c *Call, to Status) error {
	if !to.IsValid() {
		return fmt.Errorf("call %s: unknown status %q: %w", c.ID, to, ErrInvalidTransition)
	}
	if c.Status == to {
		return nil
	}
	if !CanTransition(c.Status, to) {
		slog.Warn("call: rejected status transition",
			"call_id", c.ID, "from", c.Status, "to", to)
		return fmt.Errorf("call %s: %s → %s: %w", c.ID, c.Status, to, ErrInvalidTransition)
	}

	from := c.Status
	c.Status = to
	if to.Terminal() && c.EndedAt == nil {
		now := time.Now().UTC()
		c.EndedAt = &now
	}

	if m.store != nil {
		if err := m.store.UpdateCallStatus(ctx, c.ID, to, c.EndedAt); err != nil {
			// Keep the in-memory state; the caller decides whether to retry.
			return fmt.Errorf("call %s: persist status %s: %w", c.ID, to, err)
		}
	}

	slog.Info("call: status transition", "call_id", c.ID, "from", from, "to", to)
	for _, h := range m.hooks {
		h(ctx, c, from, to)
	}
	return nil
}

// Fail transitions c to failed from any non-terminal state. Used by the
// bridge on transport errors. A call already in a terminal state is left
// untouched.
func (m *Machine) Fail(ctx context.Context, c *Call) error {
	if c.Status.Terminal() {
		return nil
	}
	return m.Transition(ctx, c, StatusFailed)
}
