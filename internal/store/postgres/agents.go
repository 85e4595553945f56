package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/call"
)

// UpsertAgent creates or updates a human agent record.
func (s *Store) UpsertAgent(ctx context.Context, a *call.HumanAgent) error {
	const q = `
		INSERT INTO human_agents
		    (id, name, email, is_available, is_active, skills, departments, active_calls, last_active_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
		    name = EXCLUDED.name,
		    email = EXCLUDED.email,
		    is_available = EXCLUDED.is_available,
		    is_active = EXCLUDED.is_active,
		    skills = EXCLUDED.skills,
		    departments = EXCLUDED.departments,
		    active_calls = EXCLUDED.active_calls,
		    last_active_at = EXCLUDED.last_active_at`

	skills := a.Skills
	if skills == nil {
		skills = []string{}
	}
	departments := a.Departments
	if departments == nil {
		departments = []string{}
	}
	_, err := s.pool.Exec(ctx, q,
		a.ID, a.Name, a.Email, a.IsAvailable, a.IsActive,
		skills, departments, a.ActiveCalls, a.LastActiveAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert agent: %w", err)
	}
	return nil
}

// FindAvailableAgent returns the available, active agent with the fewest
// active calls, breaking ties by most recent activity. Returns ErrNotFound
// when nobody can take the call.
func (s *Store) FindAvailableAgent(ctx context.Context) (*call.HumanAgent, error) {
	const q = `
		SELECT id, name, email, is_available, is_active, skills, departments,
		       active_calls, last_active_at
		FROM   human_agents
		WHERE  is_available AND is_active
		ORDER  BY active_calls ASC, last_active_at DESC NULLS LAST
		LIMIT  1`

	var a call.HumanAgent
	err := s.pool.QueryRow(ctx, q).Scan(
		&a.ID, &a.Name, &a.Email, &a.IsAvailable, &a.IsActive,
		&a.Skills, &a.Departments, &a.ActiveCalls, &a.LastActiveAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: no available agent: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: find available agent: %w", err)
	}
	return &a, nil
}

// SetAgentAvailability toggles an agent's availability and refreshes
// last_active_at.
func (s *Store) SetAgentAvailability(ctx context.Context, agentID string, available bool) error {
	const q = `
		UPDATE human_agents
		SET    is_available = $2, last_active_at = $3
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, agentID, available, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres: set agent availability: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: agent %s: %w", agentID, ErrNotFound)
	}
	return nil
}

// AdjustAgentActiveCalls bumps an agent's active call count by delta,
// clamped at zero.
func (s *Store) AdjustAgentActiveCalls(ctx context.Context, agentID string, delta int) error {
	const q = `
		UPDATE human_agents
		SET    active_calls = GREATEST(active_calls + $2, 0), last_active_at = $3
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, agentID, delta, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres: adjust agent active calls: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: agent %s: %w", agentID, ErrNotFound)
	}
	return nil
}
