package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// defaultQueueSize bounds the outbound frame queue per stream. At 20 ms per
// carrier frame this is roughly 200 ms of audio; anything beyond that is
// stale and gets dropped oldest-first.
const defaultQueueSize = 10

// Protocol-error teardown policy: more than maxProtocolErrors malformed
// frames inside protocolErrorWindow terminates the stream.
const (
	maxProtocolErrors   = 10
	protocolErrorWindow = 10 * time.Second
)

// CallHandler receives stream lifecycle events. Implemented by the call
// manager.
type CallHandler interface {
	// StartCallBridge is invoked on the start frame with the carrier's
	// payload and the outbound stream. An error refuses the stream.
	StartCallBridge(ctx context.Context, start StartPayload, out *Stream) error

	// HandleMediaStreamAudio forwards one decoded µ-law chunk. Must not
	// block; unknown call SIDs are a warning, not an error.
	HandleMediaStreamAudio(callSid string, ulaw []byte)

	// StopCallBridge tears down the bridge for a call. Idempotent.
	StopCallBridge(callSid string)
}

// Stream is the outbound half of one media WebSocket. Audio is queued through
// a bounded drop-oldest buffer so a slow carrier socket never blocks the
// model-to-telephony pump. All methods are safe for concurrent use.
type Stream struct {
	conn      *websocket.Conn
	streamSid string
	callSid   string

	writeMu sync.Mutex

	queue   chan []byte
	dropped atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}
}

func newStream(conn *websocket.Conn, streamSid, callSid string, queueSize int) *Stream {
	return &Stream{
		conn:      conn,
		streamSid: streamSid,
		callSid:   callSid,
		queue:     make(chan []byte, queueSize),
		closed:    make(chan struct{}),
	}
}

// CallSid returns the carrier call identifier for this stream.
func (s *Stream) CallSid() string { return s.callSid }

// StreamSid returns the carrier stream identifier.
func (s *Stream) StreamSid() string { return s.streamSid }

// Dropped returns the number of outbound frames discarded because the queue
// was full.
func (s *Stream) Dropped() int64 { return s.dropped.Load() }

// SendAudio queues one µ-law chunk for delivery to the carrier. When the
// queue is full the oldest pending frame is dropped to make room; SendAudio
// itself never blocks.
func (s *Stream) SendAudio(ulaw []byte) error {
	select {
	case <-s.closed:
		return fmt.Errorf("telephony: stream %s closed", s.streamSid)
	default:
	}

	frame, err := encodeMediaFrame(s.streamSid, ulaw)
	if err != nil {
		return err
	}

	for {
		select {
		case s.queue <- frame:
			return nil
		default:
		}
		select {
		case <-s.queue:
			s.dropped.Add(1)
		default:
		}
	}
}

// Clear drops all queued outbound audio and tells the carrier to flush its
// playback buffer. Used on barge-in so the caller stops hearing stale speech
// immediately.
func (s *Stream) Clear(ctx context.Context) error {
	for {
		select {
		case <-s.queue:
			s.dropped.Add(1)
			continue
		default:
		}
		break
	}

	frame, err := encodeClearFrame(s.streamSid)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("telephony: write clear frame: %w", err)
	}
	return nil
}

// pump delivers queued frames to the socket until the stream closes.
func (s *Stream) pump(ctx context.Context) {
	for {
		select {
		case <-s.closed:
			return
		case <-ctx.Done():
			return
		case frame := <-s.queue:
			s.writeMu.Lock()
			err := s.conn.Write(ctx, websocket.MessageText, frame)
			s.writeMu.Unlock()
			if err != nil {
				slog.Warn("telephony: outbound write failed",
					"call_sid", s.callSid, "error", err)
				s.close()
				return
			}
		}
	}
}

func (s *Stream) close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Close tears the stream down and disconnects the carrier socket. Used when
// the model side fails and the caller must not be left on a dead line. Safe
// on a nil stream; idempotent.
func (s *Stream) Close() {
	if s == nil {
		return
	}
	s.close()
	if s.conn != nil {
		s.conn.Close(websocket.StatusInternalError, "call ended")
	}
}

// Handler is the HTTP handler for the media-stream WebSocket endpoint. One
// accepted connection serves exactly one call.
type Handler struct {
	calls     CallHandler
	queueSize int
}

// HandlerOption customises a Handler.
type HandlerOption func(*Handler)

// WithQueueSize overrides the outbound queue capacity per stream.
func WithQueueSize(n int) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// NewHandler creates the media-stream endpoint delivering events to calls.
func NewHandler(calls CallHandler, opts ...HandlerOption) *Handler {
	h := &Handler{calls: calls, queueSize: defaultQueueSize}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var _ http.Handler = (*Handler)(nil)

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The carrier does not send an Origin header browsers would.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("telephony: websocket accept failed", "error", err)
		return
	}
	h.serve(r.Context(), conn)
}

// serve runs the read loop for one connection. The stream is registered on
// the start frame and torn down on stop, read error, or repeated protocol
// errors.
func (h *Handler) serve(ctx context.Context, conn *websocket.Conn) {
	defer conn.CloseNow()

	var (
		stream      *Stream
		errCount    int
		errWindowAt time.Time
	)
	defer func() {
		if stream != nil {
			stream.close()
			h.calls.StopCallBridge(stream.callSid)
		}
	}()

	protocolError := func(err error) bool {
		now := time.Now()
		if now.Sub(errWindowAt) > protocolErrorWindow {
			errWindowAt = now
			errCount = 0
		}
		errCount++
		slog.Warn("telephony: protocol error", "error", err, "count", errCount)
		if errCount > maxProtocolErrors {
			conn.Close(websocket.StatusPolicyViolation, "too many malformed frames")
			return true
		}
		return false
	}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway &&
				!errors.Is(err, context.Canceled) {
				slog.Debug("telephony: read ended", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			if protocolError(fmt.Errorf("telephony: unexpected binary frame")) {
				return
			}
			continue
		}

		frame, err := ParseFrame(data)
		if err != nil {
			if protocolError(err) {
				return
			}
			continue
		}

		switch frame.Event {
		case EventConnected:
			// Sent before start; nothing to do yet.

		case EventStart:
			if stream != nil {
				if protocolError(fmt.Errorf("telephony: duplicate start frame")) {
					return
				}
				continue
			}
			stream = newStream(conn, frame.Start.StreamSid, frame.Start.CallSid, h.queueSize)
			go stream.pump(ctx)
			if err := h.calls.StartCallBridge(ctx, *frame.Start, stream); err != nil {
				slog.Error("telephony: refusing stream",
					"call_sid", frame.Start.CallSid, "error", err)
				conn.Close(websocket.StatusInternalError, "bridge start failed")
				return
			}
			slog.Info("telephony: stream started",
				"call_sid", frame.Start.CallSid, "stream_sid", frame.Start.StreamSid)

		case EventMedia:
			if stream == nil {
				// Media before start carries no call identity; drop it.
				continue
			}
			raw, err := frame.AudioBytes()
			if err != nil {
				if protocolError(err) {
					return
				}
				continue
			}
			h.calls.HandleMediaStreamAudio(stream.callSid, raw)

		case EventStop:
			slog.Info("telephony: stream stopped", "call_sid", stream.CallSidOrEmpty())
			return

		default:
			// mark, dtmf and future event types are ignored safely.
		}
	}
}

// CallSidOrEmpty tolerates a stop frame arriving before start.
func (s *Stream) CallSidOrEmpty() string {
	if s == nil {
		return ""
	}
	return s.callSid
}
