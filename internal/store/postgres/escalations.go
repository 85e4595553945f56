package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/call"
)

// CreateEscalation inserts a new escalation row.
func (s *Store) CreateEscalation(ctx context.Context, e *call.Escalation) error {
	const q = `
		INSERT INTO escalations
		    (id, call_id, status, trigger_type, trigger_details,
		     assigned_agent_id, conversation_summary, context_data, requested_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)`

	details := e.TriggerDetails
	if details == nil {
		details = map[string]any{}
	}
	contextData := e.ContextData
	if contextData == nil {
		contextData = map[string]any{}
	}
	_, err := s.pool.Exec(ctx, q,
		e.ID, e.CallID, e.Status, e.TriggerType, details,
		e.AssignedAgentID, e.ConversationSummary, contextData, e.RequestedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create escalation: %w", err)
	}
	return nil
}

// GetEscalation fetches an escalation by id.
func (s *Store) GetEscalation(ctx context.Context, id string) (*call.Escalation, error) {
	const q = `
		SELECT id, call_id, status, trigger_type, trigger_details,
		       COALESCE(assigned_agent_id, ''), COALESCE(conversation_summary, ''),
		       context_data, requested_at, accepted_at, completed_at
		FROM   escalations
		WHERE  id = $1`

	var e call.Escalation
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&e.ID, &e.CallID, &e.Status, &e.TriggerType, &e.TriggerDetails,
		&e.AssignedAgentID, &e.ConversationSummary,
		&e.ContextData, &e.RequestedAt, &e.AcceptedAt, &e.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: escalation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get escalation: %w", err)
	}
	return &e, nil
}

// UpdateEscalationStatus moves an escalation to status, stamping the matching
// timestamp column for accepted and terminal states.
func (s *Store) UpdateEscalationStatus(ctx context.Context, id string, status call.EscalationStatus) error {
	now := time.Now().UTC()
	var q string
	args := []any{id, status}
	switch status {
	case call.EscalationInProgress:
		q = `UPDATE escalations SET status = $2, accepted_at = $3 WHERE id = $1`
		args = append(args, now)
	case call.EscalationCompleted, call.EscalationCancelled:
		q = `UPDATE escalations SET status = $2, completed_at = $3 WHERE id = $1`
		args = append(args, now)
	default:
		q = `UPDATE escalations SET status = $2 WHERE id = $1`
	}

	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("postgres: update escalation status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: escalation %s: %w", id, ErrNotFound)
	}
	return nil
}

// PendingEscalationForCall returns the open escalation for a call, if any.
// Used to keep escalation requests idempotent per call.
func (s *Store) PendingEscalationForCall(ctx context.Context, callID string) (*call.Escalation, error) {
	const q = `
		SELECT id
		FROM   escalations
		WHERE  call_id = $1 AND status IN ('pending', 'in_progress')
		ORDER  BY requested_at DESC
		LIMIT  1`

	var id string
	err := s.pool.QueryRow(ctx, q, callID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: pending escalation: %w", err)
	}
	return s.GetEscalation(ctx, id)
}
