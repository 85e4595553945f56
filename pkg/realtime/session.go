package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ErrSessionClosed is returned by send operations after Close.
var ErrSessionClosed = errors.New("realtime: session closed")

// Speaker identifies which side of the call produced a transcript.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// AudioHandler receives decoded PCM16 24 kHz model audio deltas.
type AudioHandler func(pcm []byte)

// TranscriptHandler receives transcript text. delta reports whether text is
// an incremental fragment (assistant speech in flight) or a finalised turn.
type TranscriptHandler func(speaker Speaker, text string, delta bool)

// EventHandler receives every server event the session does not consume
// itself (session lifecycle, rate limits, errors) as the raw JSON frame.
type EventHandler func(eventType string, raw []byte)

// ToolHandler executes one tool call. args is guaranteed to be valid JSON.
// The returned string is injected verbatim as the function_call_output.
type ToolHandler func(ctx context.Context, name string, args json.RawMessage) (string, error)

// pendingToolCall accumulates streamed function-call arguments until the
// done event finalises them. Resolved exactly once, then discarded.
type pendingToolCall struct {
	name string
	args strings.Builder
}

// Session is one live Realtime API connection. All exported methods are safe
// for concurrent use. A Session is terminated either by Close or by a fatal
// transport error, after which Done is closed and Err reports the cause.
type Session struct {
	conn        *websocket.Conn
	toolTimeout time.Duration

	writeMu sync.Mutex // serialises frames onto the socket

	mu          sync.Mutex
	closed      bool
	errVal      error
	pending     map[string]*pendingToolCall
	assistantTx strings.Builder

	// injectGate is the turn marker of the most recently finalised tool
	// call; each output injection waits for its predecessor's gate so that
	// outputs land in done-event order even when handlers overlap.
	injectGate chan struct{}

	onAudio      AudioHandler
	onTranscript TranscriptHandler
	onEvent      EventHandler
	onToolCall   ToolHandler

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// OnAudio registers the model-audio callback.
func (s *Session) OnAudio(h AudioHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAudio = h
}

// OnTranscript registers the transcript callback.
func (s *Session) OnTranscript(h TranscriptHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTranscript = h
}

// OnEvent registers the general event callback for frames the session does
// not consume itself.
func (s *Session) OnEvent(h EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvent = h
}

// OnToolCall registers the tool handler invoked when the model requests a
// function call.
func (s *Session) OnToolCall(h ToolHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onToolCall = h
}

// AppendAudio delivers one PCM16 24 kHz chunk to the model's input buffer.
func (s *Session) AppendAudio(pcm []byte) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

// CommitAudio commits the input audio buffer, forcing a turn boundary. With
// server-side VAD enabled the model commits on silence by itself; this exists
// for operator-driven flows and tests.
func (s *Session) CommitAudio() error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	return s.writeJSON(map[string]string{"type": "input_audio_buffer.commit"})
}

// InjectText inserts a user text message into the conversation and requests
// a model response. Used for operator intervention and tests.
func (s *Session) InjectText(text string) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	err := s.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type: "message",
			Role: "user",
			Content: []conversationPart{
				{Type: "input_text", Text: text},
			},
		},
	})
	if err != nil {
		return err
	}
	return s.writeJSON(map[string]string{"type": "response.create"})
}

// Interrupt aborts the in-flight model response on caller barge-in.
func (s *Session) Interrupt() error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	return s.writeJSON(map[string]string{"type": "response.cancel"})
}

// Err returns the first error that terminated the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Done is closed when the receive loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close terminates the session and releases all resources. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

// sendSessionUpdate sends the initial session.update frame carrying cfg.
func (s *Session) sendSessionUpdate(cfg SessionConfig) error {
	td := cfg.TurnDetection
	if td == (TurnDetection{}) {
		td = DefaultTurnDetection()
	}
	txModel := cfg.TranscriptionModel
	if txModel == "" {
		txModel = DefaultTranscriptionModel
	}

	params := sessionParams{
		Modalities:        []string{"audio", "text"},
		Voice:             cfg.Voice,
		Instructions:      cfg.Instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection: &turnDetectionParam{
			Type:              "server_vad",
			Threshold:         td.Threshold,
			PrefixPaddingMs:   td.PrefixPaddingMs,
			SilenceDurationMs: td.SilenceDurationMs,
		},
		InputAudioTranscription: &transcriptionParam{Model: txModel},
		Temperature:             cfg.Temperature,
		MaxResponseOutputTokens: cfg.MaxResponseTokens,
	}
	for _, t := range cfg.Tools {
		params.Tools = append(params.Tools, toolParam{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return s.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params})
}

// writeJSON marshals v and writes it as a text WebSocket frame. Frames are
// serialised so that concurrent senders (audio pump, tool goroutines,
// operator injections) never interleave partial writes.
func (s *Session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: marshal: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads server events until the connection fails or the session
// is closed. It owns the done channel.
func (s *Session) receiveLoop() {
	defer s.closeOnce.Do(func() { close(s.done) })

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				s.setErr(fmt.Errorf("realtime: read: %w", err))
			}
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Debug("realtime: dropping malformed server frame", "err", err)
			continue
		}

		s.handleServerEvent(&evt, data)
	}
}

func (s *Session) handleServerEvent(evt *serverEvent, raw []byte) {
	switch evt.Type {
	case eventAudioDelta:
		if evt.Delta == "" {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(pcm) == 0 {
			return
		}
		if h := s.audioHandler(); h != nil {
			h(pcm)
		}

	case eventTranscriptDelta:
		if evt.Delta == "" {
			return
		}
		s.mu.Lock()
		s.assistantTx.WriteString(evt.Delta)
		h := s.onTranscript
		s.mu.Unlock()
		if h != nil {
			h(SpeakerAssistant, evt.Delta, true)
		}

	case eventTranscriptDone:
		s.mu.Lock()
		text := s.assistantTx.String()
		s.assistantTx.Reset()
		h := s.onTranscript
		s.mu.Unlock()
		if text == "" {
			text = evt.Transcript
		}
		if text != "" && h != nil {
			h(SpeakerAssistant, text, false)
		}

	case eventInputTranscript:
		if evt.Transcript == "" {
			return
		}
		if h := s.transcriptHandler(); h != nil {
			h(SpeakerUser, evt.Transcript, false)
		}

	case eventFunctionCallDelta:
		s.mu.Lock()
		pc, ok := s.pending[evt.CallID]
		if !ok {
			pc = &pendingToolCall{name: evt.Name}
			s.pending[evt.CallID] = pc
		}
		if pc.name == "" {
			pc.name = evt.Name
		}
		pc.args.WriteString(evt.Delta)
		s.mu.Unlock()

	case eventFunctionCallDone:
		s.finalizeToolCall(evt)

	default:
		if h := s.eventHandler(); h != nil {
			h(evt.Type, raw)
		}
	}
}

func (s *Session) audioHandler() AudioHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onAudio
}

func (s *Session) transcriptHandler() TranscriptHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onTranscript
}

func (s *Session) eventHandler() EventHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onEvent
}

// finalizeToolCall resolves one pending tool call: it takes the accumulated
// argument buffer (falling back to event-embedded arguments, then "{}"),
// validates JSON, runs the handler under the soft timeout, and injects
// exactly one function_call_output for the call id. Handlers run in their own
// goroutine so slow tools never stall audio events; outputs land in the order
// the done events arrived, not in handler completion order.
func (s *Session) finalizeToolCall(evt *serverEvent) {
	s.mu.Lock()
	name := evt.Name
	args := evt.Arguments
	if pc, ok := s.pending[evt.CallID]; ok {
		if buffered := pc.args.String(); buffered != "" {
			args = buffered
		}
		if name == "" {
			name = pc.name
		}
		delete(s.pending, evt.CallID)
	}
	handler := s.onToolCall
	s.mu.Unlock()

	if args == "" {
		args = "{}"
	}

	if !json.Valid([]byte(args)) {
		slog.Warn("realtime: tool call with invalid JSON arguments", "tool", name, "call_id", evt.CallID)
		s.queueToolOutput(evt.CallID, func() string {
			return `{"error":"invalid json arguments"}`
		})
		return
	}
	if handler == nil {
		s.queueToolOutput(evt.CallID, func() string {
			return `{"error":"no tool handler registered"}`
		})
		return
	}

	s.queueToolOutput(evt.CallID, func() string {
		ctx, cancel := context.WithTimeout(s.ctx, s.toolTimeout)
		defer cancel()

		output, err := handler(ctx, name, json.RawMessage(args))
		switch {
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			output = `{"error":"cancelled"}`
		case err != nil:
			out, mErr := json.Marshal(map[string]string{"error": err.Error()})
			if mErr != nil {
				out = []byte(`{"error":"tool execution failed"}`)
			}
			output = string(out)
		}
		return output
	})
}

// queueToolOutput runs fn in its own goroutine and injects its output after
// every earlier tool call's output has been injected. finalizeToolCall runs
// on the receive loop, so gates are taken in done-event order.
func (s *Session) queueToolOutput(callID string, fn func() string) {
	s.mu.Lock()
	prev := s.injectGate
	gate := make(chan struct{})
	s.injectGate = gate
	s.mu.Unlock()

	go func() {
		defer close(gate)
		output := fn()
		if prev != nil {
			<-prev
		}
		s.sendToolOutput(callID, output)
	}()
}

// sendToolOutput injects a function_call_output item and asks the model to
// continue. Best-effort: a dead socket is reported through Err elsewhere.
func (s *Session) sendToolOutput(callID, output string) {
	err := s.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	})
	if err != nil {
		slog.Warn("realtime: tool output write failed", "call_id", callID, "err", err)
		return
	}
	_ = s.writeJSON(map[string]string{"type": "response.create"})
}
