package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/call"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("postgres: not found")

// CreateCall inserts a new call row.
func (s *Store) CreateCall(ctx context.Context, c *call.Call) error {
	const q = `
		INSERT INTO calls
		    (id, call_sid, direction, status, from_number, to_number, business_id, started_at, ended_at, meta)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10)`

	meta := c.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	_, err := s.pool.Exec(ctx, q,
		c.ID, c.SID, c.Direction, c.Status,
		c.FromNumber, c.ToNumber, c.BusinessID,
		c.StartedAt, c.EndedAt, meta,
	)
	if err != nil {
		return fmt.Errorf("postgres: create call: %w", err)
	}
	return nil
}

// GetCall fetches a call by internal id.
func (s *Store) GetCall(ctx context.Context, id string) (*call.Call, error) {
	return s.getCall(ctx, "id = $1", id)
}

// GetCallBySID fetches a call by carrier SID.
func (s *Store) GetCallBySID(ctx context.Context, sid string) (*call.Call, error) {
	return s.getCall(ctx, "call_sid = $1", sid)
}

func (s *Store) getCall(ctx context.Context, where string, arg any) (*call.Call, error) {
	q := `
		SELECT id, COALESCE(call_sid, ''), direction, status, from_number, to_number,
		       COALESCE(business_id, ''), started_at, ended_at, meta
		FROM   calls
		WHERE  ` + where

	var c call.Call
	err := s.pool.QueryRow(ctx, q, arg).Scan(
		&c.ID, &c.SID, &c.Direction, &c.Status,
		&c.FromNumber, &c.ToNumber, &c.BusinessID,
		&c.StartedAt, &c.EndedAt, &c.Meta,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: call %v: %w", arg, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get call: %w", err)
	}
	return &c, nil
}

// AttachSID records the carrier SID for a call once the carrier assigns one
// (outbound calls get theirs after dialing).
func (s *Store) AttachSID(ctx context.Context, id, sid string) error {
	const q = `UPDATE calls SET call_sid = $2 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, q, id, sid)
	if err != nil {
		return fmt.Errorf("postgres: attach sid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: call %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateCallStatus implements [call.StatusStore].
func (s *Store) UpdateCallStatus(ctx context.Context, callID string, status call.Status, endedAt *time.Time) error {
	const q = `UPDATE calls SET status = $2, ended_at = $3 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, q, callID, status, endedAt)
	if err != nil {
		return fmt.Errorf("postgres: update call status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: call %s: %w", callID, ErrNotFound)
	}
	return nil
}

// Compile-time interface check.
var _ call.StatusStore = (*Store)(nil)
