// Package conversation keeps the spoken-turn history of live calls: a
// durable append-only log behind a small per-call in-memory ring used for
// prompt building and escalation summaries.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/call"
)

// maxBufferedTurns bounds the in-memory ring per call. The durable log keeps
// everything; the ring only serves context windows.
const maxBufferedTurns = 100

// Log is the durable interaction sink, implemented by the postgres store.
type Log interface {
	AppendInteraction(ctx context.Context, it call.Interaction) error
	ListInteractions(ctx context.Context, callID string, limit int) ([]call.Interaction, error)
}

// Observer is notified after each appended interaction. Observers run
// synchronously on the appending goroutine and must be fast.
type Observer func(it call.Interaction)

// Store tracks conversation turns per call. All methods are safe for
// concurrent use; each call's turns arrive from a single bridge, so ordering
// within a call follows the bridge's finalisation order.
type Store struct {
	log Log

	mu        sync.Mutex
	rings     map[string][]call.Interaction
	lastStamp map[string]time.Time
	observers []Observer
}

// New creates a Store writing through to log. log may be nil in tests, in
// which case turns live only in memory.
func New(log Log) *Store {
	return &Store{
		log:       log,
		rings:     make(map[string][]call.Interaction),
		lastStamp: make(map[string]time.Time),
	}
}

// Subscribe registers an observer for appended interactions.
func (s *Store) Subscribe(obs Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, obs)
}

// AddInteraction appends one finalised turn: durable write, ring push, and
// observer notification. Timestamps are forced monotonic per call so that
// consecutive turns never run backwards even under clock adjustment.
func (s *Store) AddInteraction(ctx context.Context, callID string, speaker call.Speaker, text, audioURL string, meta map[string]any) (call.Interaction, error) {
	s.mu.Lock()
	ts := time.Now().UTC()
	if last, ok := s.lastStamp[callID]; ok && !ts.After(last) {
		ts = last.Add(time.Microsecond)
	}
	s.lastStamp[callID] = ts
	s.mu.Unlock()

	it := call.Interaction{
		CallID:    callID,
		Speaker:   speaker,
		Text:      text,
		AudioURL:  audioURL,
		Timestamp: ts,
		Meta:      meta,
	}

	if s.log != nil {
		if err := s.log.AppendInteraction(ctx, it); err != nil {
			return call.Interaction{}, fmt.Errorf("conversation: append: %w", err)
		}
	}

	s.mu.Lock()
	ring := append(s.rings[callID], it)
	if len(ring) > maxBufferedTurns {
		ring = ring[len(ring)-maxBufferedTurns:]
	}
	s.rings[callID] = ring
	observers := s.observers
	s.mu.Unlock()

	for _, obs := range observers {
		obs(it)
	}
	return it, nil
}

// History returns the most recent turns for a call, oldest first. It serves
// from the ring when possible and falls back to the durable log for calls
// whose buffer has been released or truncated.
func (s *Store) History(ctx context.Context, callID string, limit int) ([]call.Interaction, error) {
	s.mu.Lock()
	ring := s.rings[callID]
	s.mu.Unlock()

	if limit > 0 && limit <= len(ring) {
		out := make([]call.Interaction, limit)
		copy(out, ring[len(ring)-limit:])
		return out, nil
	}

	// The ring cannot satisfy the request; go to the durable log.
	if s.log != nil {
		items, err := s.log.ListInteractions(ctx, callID, limit)
		if err != nil {
			return nil, fmt.Errorf("conversation: history: %w", err)
		}
		if len(items) >= len(ring) {
			return items, nil
		}
	}

	out := make([]call.Interaction, len(ring))
	copy(out, ring)
	return out, nil
}

// ContextSummary builds a bounded textual window over the most recent turns:
// lines are collected most-recent-first until maxChars is reached, then
// reversed so the result reads chronologically.
func (s *Store) ContextSummary(callID string, maxChars int) string {
	s.mu.Lock()
	ring := s.rings[callID]
	s.mu.Unlock()

	if len(ring) == 0 || maxChars <= 0 {
		return ""
	}

	var lines []string
	used := 0
	for i := len(ring) - 1; i >= 0; i-- {
		line := speakerLabel(ring[i].Speaker) + ": " + ring[i].Text
		if used+len(line) > maxChars && len(lines) > 0 {
			break
		}
		lines = append(lines, line)
		used += len(line) + 1
		if used >= maxChars {
			break
		}
	}

	// Collected newest-first; flip to chronological order.
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return strings.Join(lines, "\n")
}

// EndCall releases the in-memory buffer for a finished call. The durable log
// is unaffected.
func (s *Store) EndCall(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rings, callID)
	delete(s.lastStamp, callID)
	slog.Debug("conversation: released ring buffer", "call_id", callID)
}

func speakerLabel(sp call.Speaker) string {
	if sp == call.SpeakerAI {
		return "AI"
	}
	return "Customer"
}
