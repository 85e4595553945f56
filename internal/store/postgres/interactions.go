package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/call"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/conversation"
)

// AppendInteraction implements [conversation.Log].
func (s *Store) AppendInteraction(ctx context.Context, it call.Interaction) error {
	const q = `
		INSERT INTO call_interactions (call_id, speaker, text, audio_url, timestamp, meta)
		VALUES ($1, $2, $3, $4, $5, $6)`

	meta := it.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	_, err := s.pool.Exec(ctx, q, it.CallID, it.Speaker, it.Text, it.AudioURL, it.Timestamp, meta)
	if err != nil {
		return fmt.Errorf("postgres: append interaction: %w", err)
	}
	return nil
}

// ListInteractions implements [conversation.Log]. It returns the limit most
// recent turns for a call in chronological order; limit <= 0 means all.
func (s *Store) ListInteractions(ctx context.Context, callID string, limit int) ([]call.Interaction, error) {
	// Select newest-first so LIMIT keeps the tail, then flip back.
	q := `
		SELECT id, call_id, speaker, text, audio_url, timestamp, meta
		FROM   call_interactions
		WHERE  call_id = $1
		ORDER  BY timestamp DESC, id DESC`
	args := []any{callID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list interactions: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (call.Interaction, error) {
		var it call.Interaction
		err := row.Scan(&it.ID, &it.CallID, &it.Speaker, &it.Text, &it.AudioURL, &it.Timestamp, &it.Meta)
		return it, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan interactions: %w", err)
	}

	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

var _ conversation.Log = (*Store)(nil)
