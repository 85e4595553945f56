// Package callmgr owns the live-call registry: one bridge per active call,
// created when the carrier's media stream starts and torn down when it stops.
// It implements [telephony.CallHandler].
package callmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/bridge"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/call"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/conversation"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/observe"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/telephony"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/tools"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/pkg/realtime"
)

// Profile is the agent persona one business presents to its callers.
type Profile struct {
	// Instructions is the system prompt for the model session.
	Instructions string

	// Voice is the synthesis voice identifier.
	Voice string

	// Temperature controls model sampling. Zero means provider default.
	Temperature float64

	// Greeting, when set, is injected as the first conversation item so the
	// agent speaks before the caller does.
	Greeting string
}

// ProfileSource resolves the persona for a business. An empty business ID
// requests the default profile.
type ProfileSource interface {
	ProfileFor(businessID string) Profile
}

// StaticProfiles is a ProfileSource backed by a fixed map with a fallback.
type StaticProfiles struct {
	Default   Profile
	Overrides map[string]Profile
}

// ProfileFor implements [ProfileSource].
func (s StaticProfiles) ProfileFor(businessID string) Profile {
	if p, ok := s.Overrides[businessID]; ok {
		return p
	}
	return s.Default
}

// CallStore is the call persistence the manager needs.
type CallStore interface {
	CreateCall(ctx context.Context, c *call.Call) error
	GetCall(ctx context.Context, id string) (*call.Call, error)
	GetCallBySID(ctx context.Context, sid string) (*call.Call, error)
	AttachSID(ctx context.Context, id, sid string) error
}

// Config assembles a Manager.
type Config struct {
	Store    CallStore
	Machine  *call.Machine
	Conv     *conversation.Store
	Connect  bridge.ConnectFunc
	Profiles ProfileSource

	// Optional collaborators.
	Dispatcher *tools.Dispatcher
	Checker    bridge.TurnChecker
	Metrics    *observe.Metrics

	// TranscriptionModel overrides the input-transcription model for every
	// session. Empty keeps the provider default.
	TranscriptionModel string
}

// Manager keeps the bridge for every active call, keyed by carrier call SID.
// Safe for concurrent use.
type Manager struct {
	cfg Config

	mu      sync.Mutex
	bridges map[string]*bridge.Bridge
}

var _ telephony.CallHandler = (*Manager)(nil)

// New creates a Manager. Store, Machine, Conv, Connect, and Profiles are
// required.
func New(cfg Config) (*Manager, error) {
	if cfg.Store == nil || cfg.Machine == nil || cfg.Conv == nil ||
		cfg.Connect == nil || cfg.Profiles == nil {
		return nil, fmt.Errorf("callmgr: store, machine, conv, connect, and profiles are required")
	}
	return &Manager{cfg: cfg, bridges: make(map[string]*bridge.Bridge)}, nil
}

// StartCallBridge implements [telephony.CallHandler]: it resolves the call
// record, moves it to in-progress, opens the model session, and registers
// the bridge. An error refuses the media stream.
func (m *Manager) StartCallBridge(ctx context.Context, start telephony.StartPayload, out *telephony.Stream) error {
	m.mu.Lock()
	if _, exists := m.bridges[start.CallSid]; exists {
		m.mu.Unlock()
		return fmt.Errorf("callmgr: stream already active for call %s", start.CallSid)
	}
	m.mu.Unlock()

	c, err := m.resolveCall(ctx, start)
	if err != nil {
		return err
	}

	if c.Status != call.StatusInProgress {
		if err := m.cfg.Machine.Transition(ctx, c, call.StatusInProgress); err != nil {
			slog.Warn("callmgr: in-progress transition failed",
				"call_id", c.ID, "from", c.Status, "error", err)
		}
	}

	profile := m.cfg.Profiles.ProfileFor(c.BusinessID)

	var b *bridge.Bridge
	b, err = bridge.New(bridge.Config{
		CallContext: tools.CallContext{
			CallID:        c.ID,
			CallSid:       start.CallSid,
			BusinessID:    c.BusinessID,
			CustomerPhone: c.FromNumber,
		},
		Out:        out,
		Connect:    m.cfg.Connect,
		Dispatcher: m.cfg.Dispatcher,
		Conv:       m.cfg.Conv,
		Checker:    m.cfg.Checker,
		Metrics:    m.cfg.Metrics,
		OnFailure: func(cause error) {
			m.failSession(b, c.ID, start.CallSid, out, cause)
		},
	})
	if err != nil {
		return fmt.Errorf("callmgr: build bridge: %w", err)
	}

	if err := b.Start(ctx, realtime.SessionConfig{
		Voice:              profile.Voice,
		Instructions:       profile.Instructions,
		Temperature:        profile.Temperature,
		TranscriptionModel: m.cfg.TranscriptionModel,
	}); err != nil {
		return fmt.Errorf("callmgr: start bridge for call %s: %w", c.ID, err)
	}

	if profile.Greeting != "" {
		if err := b.SendText(profile.Greeting); err != nil {
			slog.Warn("callmgr: greeting injection failed", "call_id", c.ID, "error", err)
		}
	}

	m.mu.Lock()
	m.bridges[start.CallSid] = b
	m.mu.Unlock()

	slog.Info("callmgr: bridge registered",
		"call_id", c.ID, "call_sid", start.CallSid, "stream_sid", start.StreamSid,
		"business_id", c.BusinessID)
	return nil
}

// failSession ends a call whose model session died mid-stream: the bridge is
// deregistered and stopped, the carrier socket is closed so the caller is not
// left talking to a dead line, and the call transitions to failed with its
// end time stamped.
func (m *Manager) failSession(b *bridge.Bridge, callID, callSid string, out *telephony.Stream, cause error) {
	slog.Error("callmgr: model session failed, ending call",
		"call_id", callID, "call_sid", callSid, "error", cause)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m.mu.Lock()
	delete(m.bridges, callSid)
	m.mu.Unlock()
	b.Stop(ctx)
	out.Close()

	c, err := m.cfg.Store.GetCall(ctx, callID)
	if err != nil {
		slog.Warn("callmgr: load call for failure transition",
			"call_id", callID, "error", err)
		return
	}
	if err := m.cfg.Machine.Fail(ctx, c); err != nil {
		slog.Warn("callmgr: failed-call transition not persisted",
			"call_id", callID, "error", err)
	}
}

// resolveCall finds the call record for a starting stream. The call_id custom
// parameter from the answer webhook is authoritative; the carrier SID is the
// fallback, and a record is created for streams that arrive without either
// (e.g. a carrier retry after a lost webhook).
func (m *Manager) resolveCall(ctx context.Context, start telephony.StartPayload) (*call.Call, error) {
	if id := start.CustomParameters["call_id"]; id != "" {
		c, err := m.cfg.Store.GetCall(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("callmgr: resolve call %s: %w", id, err)
		}
		if c.SID == "" {
			if err := m.cfg.Store.AttachSID(ctx, c.ID, start.CallSid); err != nil {
				slog.Warn("callmgr: attach sid failed", "call_id", c.ID, "error", err)
			} else {
				c.SID = start.CallSid
			}
		}
		return c, nil
	}

	if c, err := m.cfg.Store.GetCallBySID(ctx, start.CallSid); err == nil {
		return c, nil
	}

	slog.Warn("callmgr: stream for unknown call, creating record", "call_sid", start.CallSid)
	c := &call.Call{
		ID:        uuid.NewString(),
		SID:       start.CallSid,
		Direction: call.DirectionInbound,
		Status:    call.StatusInitiated,
		StartedAt: time.Now().UTC(),
	}
	if err := m.cfg.Store.CreateCall(ctx, c); err != nil {
		return nil, fmt.Errorf("callmgr: create call for stream %s: %w", start.CallSid, err)
	}
	return c, nil
}

// HandleMediaStreamAudio implements [telephony.CallHandler]. Audio for
// unknown calls is dropped with a debug log; the carrier keeps streaming
// regardless.
func (m *Manager) HandleMediaStreamAudio(callSid string, ulaw []byte) {
	m.mu.Lock()
	b := m.bridges[callSid]
	m.mu.Unlock()
	if b == nil {
		slog.Debug("callmgr: audio for unregistered call", "call_sid", callSid)
		return
	}
	if err := b.HandleCallerAudio(ulaw); err != nil {
		slog.Warn("callmgr: forward caller audio failed", "call_sid", callSid, "error", err)
	}
}

// StopCallBridge implements [telephony.CallHandler]. Idempotent.
func (m *Manager) StopCallBridge(callSid string) {
	m.mu.Lock()
	b := m.bridges[callSid]
	delete(m.bridges, callSid)
	m.mu.Unlock()
	if b == nil {
		return
	}
	b.Stop(context.Background())
}

// Bridge returns the live bridge for a call SID, or nil.
func (m *Manager) Bridge(callSid string) *bridge.Bridge {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bridges[callSid]
}

// IsCallActive reports whether a bridge exists and its session is up.
func (m *Manager) IsCallActive(callSid string) bool {
	b := m.Bridge(callSid)
	return b != nil && b.Active()
}

// ActiveCalls returns the number of registered bridges.
func (m *Manager) ActiveCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bridges)
}

// Shutdown stops every live bridge. Used on process teardown.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	bridges := make([]*bridge.Bridge, 0, len(m.bridges))
	for sid, b := range m.bridges {
		bridges = append(bridges, b)
		delete(m.bridges, sid)
	}
	m.mu.Unlock()

	for _, b := range bridges {
		b.Stop(ctx)
	}
}
