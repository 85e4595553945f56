// Package bridge wires one telephone call to one model session: caller audio
// up (µ-law 8 kHz to PCM 24 kHz), model audio down (PCM 24 kHz to µ-law
// 8 kHz), transcripts into the conversation store, tool calls into the
// dispatcher, and barge-in handling in between.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/call"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/conversation"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/observe"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/tools"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/pkg/audio"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/pkg/realtime"
)

// ModelSession is the model-side surface the bridge drives.
// *realtime.Session satisfies it; tests substitute a fake.
type ModelSession interface {
	OnAudio(realtime.AudioHandler)
	OnTranscript(realtime.TranscriptHandler)
	OnEvent(realtime.EventHandler)
	OnToolCall(realtime.ToolHandler)
	AppendAudio(pcm []byte) error
	InjectText(text string) error
	Interrupt() error
	Close() error
	Done() <-chan struct{}
	Err() error
}

var _ ModelSession = (*realtime.Session)(nil)

// ConnectFunc opens a model session with the given configuration.
type ConnectFunc func(ctx context.Context, cfg realtime.SessionConfig) (ModelSession, error)

// Connector adapts a [realtime.Client] to a [ConnectFunc].
func Connector(c *realtime.Client) ConnectFunc {
	return func(ctx context.Context, cfg realtime.SessionConfig) (ModelSession, error) {
		return c.Connect(ctx, cfg)
	}
}

// CarrierOut carries model audio back toward the caller.
// *telephony.Stream satisfies it.
type CarrierOut interface {
	// SendAudio enqueues one µ-law payload for carrier playback.
	SendAudio(payload []byte) error

	// Clear flushes any audio the carrier has buffered but not yet played.
	Clear(ctx context.Context) error
}

// TurnChecker evaluates a finalised caller turn for escalation. Implemented
// by the escalation coordinator.
type TurnChecker interface {
	CheckTurn(ctx context.Context, callID, text string) (*call.Escalation, error)
}

// Config assembles a bridge's collaborators. Out, Connect, and Conv are
// required; the rest are optional.
type Config struct {
	CallContext tools.CallContext
	Out         CarrierOut
	Connect     ConnectFunc
	Dispatcher  *tools.Dispatcher
	Conv        *conversation.Store
	Checker     TurnChecker
	Metrics     *observe.Metrics

	// OnFailure is invoked at most once, when the model session terminates
	// with an error while the bridge is still live. A deliberate Stop never
	// triggers it. The callback may call Stop.
	OnFailure func(err error)
}

// Bridge couples one carrier media stream to one model session. Safe for
// concurrent use; audio paths never block on persistence.
type Bridge struct {
	cc        tools.CallContext
	out       CarrierOut
	connect   ConnectFunc
	disp      *tools.Dispatcher
	conv      *conversation.Store
	checker   TurnChecker
	metrics   *observe.Metrics
	onFailure func(err error)

	mu       sync.Mutex
	session  ModelSession
	active   bool
	starting bool

	// discard gates model audio after a barge-in: everything from the
	// cancelled response is dropped until the next response.created.
	discard atomic.Bool

	// turnEnd is when the last caller turn finalised; consumed by the first
	// model audio delta to measure response latency.
	turnEnd  atomic.Int64
	stopOnce sync.Once
}

// New creates an unstarted Bridge.
func New(cfg Config) (*Bridge, error) {
	var errs []error
	if cfg.Out == nil {
		errs = append(errs, errors.New("bridge: carrier output must not be nil"))
	}
	if cfg.Connect == nil {
		errs = append(errs, errors.New("bridge: connect func must not be nil"))
	}
	if cfg.Conv == nil {
		errs = append(errs, errors.New("bridge: conversation store must not be nil"))
	}
	if cfg.CallContext.CallID == "" {
		errs = append(errs, errors.New("bridge: call ID must not be empty"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &Bridge{
		cc:        cfg.CallContext,
		out:       cfg.Out,
		connect:   cfg.Connect,
		disp:      cfg.Dispatcher,
		conv:      cfg.Conv,
		checker:   cfg.Checker,
		metrics:   cfg.Metrics,
		onFailure: cfg.OnFailure,
	}, nil
}

// CallID returns the call this bridge serves.
func (b *Bridge) CallID() string { return b.cc.CallID }

// Active reports whether the model session is up.
func (b *Bridge) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Start opens the model session and begins relaying. The tool schemas come
// from the dispatcher unless cfg already carries some.
func (b *Bridge) Start(ctx context.Context, cfg realtime.SessionConfig) error {
	// The starting flag keeps a second Start from dialling while the first
	// connect is in flight; the dial itself runs outside the lock.
	b.mu.Lock()
	if b.active || b.starting {
		b.mu.Unlock()
		return errors.New("bridge: already started")
	}
	b.starting = true
	b.mu.Unlock()

	if len(cfg.Tools) == 0 && b.disp != nil {
		cfg.Tools = b.disp.Schemas()
	}

	sess, err := b.connect(ctx, cfg)
	if err != nil {
		b.mu.Lock()
		b.starting = false
		b.mu.Unlock()
		return fmt.Errorf("bridge: connect model session: %w", err)
	}

	sess.OnAudio(b.onModelAudio)
	sess.OnTranscript(b.onTranscript)
	sess.OnEvent(b.onEvent)
	if b.disp != nil {
		sess.OnToolCall(b.onToolCall)
	}

	b.mu.Lock()
	b.session = sess
	b.active = true
	b.starting = false
	b.mu.Unlock()
	b.metrics.CallStarted(ctx)

	go b.watchSession(sess)

	slog.Info("bridge: started", "call_id", b.cc.CallID, "tools", len(cfg.Tools))
	return nil
}

// watchSession waits for the model session to end. A transport failure on a
// live bridge is escalated through OnFailure so the owner can end the call;
// the session closing after a deliberate Stop is not a failure.
func (b *Bridge) watchSession(sess ModelSession) {
	<-sess.Done()
	err := sess.Err()

	b.mu.Lock()
	wasLive := b.active
	b.active = false
	b.mu.Unlock()

	if err == nil {
		return
	}
	slog.Warn("bridge: model session ended with error",
		"call_id", b.cc.CallID, "error", err)
	if wasLive && b.onFailure != nil {
		b.onFailure(err)
	}
}

// HandleCallerAudio relays one carrier µ-law payload to the model. Audio
// arriving while the session is down is silently dropped; the carrier keeps
// streaming regardless.
func (b *Bridge) HandleCallerAudio(payload []byte) error {
	b.mu.Lock()
	sess, active := b.session, b.active
	b.mu.Unlock()
	if !active {
		return nil
	}

	pcm := audio.UpsampleX3(audio.DecodeULaw(payload))
	if err := sess.AppendAudio(pcm); err != nil {
		return fmt.Errorf("bridge: append caller audio: %w", err)
	}
	b.metrics.AddFrames(context.Background(), "inbound", 1, 0)
	return nil
}

// SendText injects an out-of-band text turn into the model conversation,
// e.g. the opening greeting prompt.
func (b *Bridge) SendText(text string) error {
	b.mu.Lock()
	sess, active := b.session, b.active
	b.mu.Unlock()
	if !active {
		return errors.New("bridge: not active")
	}
	if err := sess.InjectText(text); err != nil {
		return fmt.Errorf("bridge: inject text: %w", err)
	}
	return nil
}

// Interrupt cancels the in-flight model response and flushes carrier
// playback. Model audio stays discarded until the next response begins.
func (b *Bridge) Interrupt(ctx context.Context) error {
	b.mu.Lock()
	sess, active := b.session, b.active
	b.mu.Unlock()
	if !active {
		return nil
	}

	b.discard.Store(true)
	var errs []error
	if err := sess.Interrupt(); err != nil {
		errs = append(errs, err)
	}
	if err := b.out.Clear(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("bridge: interrupt: %w", err)
	}
	return nil
}

// Stop tears the bridge down: the model session is closed and the call's
// conversation buffer released. Idempotent.
func (b *Bridge) Stop(ctx context.Context) {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		sess := b.session
		b.active = false
		b.mu.Unlock()

		if sess != nil {
			if err := sess.Close(); err != nil {
				slog.Warn("bridge: session close failed", "call_id", b.cc.CallID, "error", err)
			}
		}
		b.conv.EndCall(b.cc.CallID)
		b.metrics.CallEnded(ctx)
		slog.Info("bridge: stopped", "call_id", b.cc.CallID)
	})
}

func (b *Bridge) onModelAudio(pcm []byte) {
	if b.discard.Load() {
		return
	}

	if end := b.turnEnd.Swap(0); end != 0 {
		b.metrics.RecordModelResponse(context.Background(), time.Since(time.Unix(0, end)))
	}

	payload := audio.EncodeULaw(audio.DownsampleDiv3(pcm))
	if err := b.out.SendAudio(payload); err != nil {
		slog.Debug("bridge: carrier send failed", "call_id", b.cc.CallID, "error", err)
		b.metrics.AddFrames(context.Background(), "outbound", 0, 1)
		return
	}
	b.metrics.AddFrames(context.Background(), "outbound", 1, 0)
}

// onTranscript persists finalised turns only; streaming deltas are playback
// hints, not conversation history.
func (b *Bridge) onTranscript(speaker realtime.Speaker, text string, delta bool) {
	if delta || text == "" {
		return
	}

	sp := call.SpeakerAI
	if speaker == realtime.SpeakerUser {
		sp = call.SpeakerCustomer
		b.turnEnd.Store(time.Now().UnixNano())
	}

	if _, err := b.conv.AddInteraction(context.Background(), b.cc.CallID, sp, text, "", nil); err != nil {
		slog.Warn("bridge: persist turn failed", "call_id", b.cc.CallID, "error", err)
	}

	// Escalation checks run off the audio path.
	if sp == call.SpeakerCustomer && b.checker != nil {
		go func() {
			e, err := b.checker.CheckTurn(context.Background(), b.cc.CallID, text)
			if err != nil {
				slog.Warn("bridge: escalation check failed", "call_id", b.cc.CallID, "error", err)
				return
			}
			if e != nil {
				b.metrics.RecordEscalation(context.Background(), string(e.TriggerType))
			}
		}()
	}
}

// onEvent reacts to the session events the bridge cares about. Model error
// events are logged and the call continues; only transport failure ends a
// session.
func (b *Bridge) onEvent(eventType string, raw []byte) {
	switch eventType {
	case realtime.EventSpeechStarted:
		// Caller barge-in.
		if err := b.Interrupt(context.Background()); err != nil {
			slog.Warn("bridge: barge-in interrupt failed", "call_id", b.cc.CallID, "error", err)
		}
	case realtime.EventResponseCreated:
		b.discard.Store(false)
	case realtime.EventError:
		b.metrics.RecordProtocolError(context.Background(), "model")
		slog.Warn("bridge: model error event", "call_id", b.cc.CallID, "event", string(raw))
	}
}

func (b *Bridge) onToolCall(ctx context.Context, name string, args json.RawMessage) (string, error) {
	start := time.Now()
	result := b.disp.Dispatch(ctx, name, args, b.cc)

	status := "ok"
	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(result), &probe); err == nil && probe.Error != "" {
		status = "error"
	}
	b.metrics.RecordToolCall(ctx, name, status, time.Since(start))
	return result, nil
}
