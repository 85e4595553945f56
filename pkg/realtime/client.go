// Package realtime implements the WebSocket client for the OpenAI Realtime
// API used by the call bridge.
//
// A [Client] dials the Realtime endpoint with bearer authentication and the
// beta protocol header, negotiates a session (voice, instructions, tool
// schemas, server-side VAD, input transcription) and returns a [Session]. The
// session exchanges base64-encoded PCM16 audio, reassembles streamed
// tool-call arguments, executes registered tool handlers, and injects their
// outputs back into the conversation in the order the tool calls finalised.
package realtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	defaultConnectTimeout = 10 * time.Second
	defaultToolTimeout    = 10 * time.Second
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the model used for sessions.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithConnectTimeout bounds the WebSocket dial plus session negotiation.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) { c.connectTimeout = d }
}

// WithToolTimeout sets the soft timeout applied to each tool handler
// invocation. On expiry the session still injects a cancelled tool output so
// the model does not stall.
func WithToolTimeout(d time.Duration) Option {
	return func(c *Client) { c.toolTimeout = d }
}

// Client dials Realtime API sessions. It is immutable after construction and
// safe for concurrent use; each call gets its own [Session].
type Client struct {
	apiKey         string
	model          string
	baseURL        string
	connectTimeout time.Duration
	toolTimeout    time.Duration
}

// NewClient creates a Client with the given API key and options.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:         apiKey,
		model:          defaultModel,
		baseURL:        defaultBaseURL,
		connectTimeout: defaultConnectTimeout,
		toolTimeout:    defaultToolTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect establishes a new Realtime session. The session.update frame
// carrying cfg is sent before Connect returns, so the returned Session may
// accept audio immediately. Callbacks should be registered before the first
// audio is appended.
func (c *Client) Connect(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	wsURL := fmt.Sprintf("%s?model=%s", c.baseURL, c.model)
	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + c.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &Session{
		conn:        conn,
		toolTimeout: c.toolTimeout,
		pending:     make(map[string]*pendingToolCall),
		ctx:         sessCtx,
		cancel:      sessCancel,
		done:        make(chan struct{}),
	}

	if err := sess.sendSessionUpdate(cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("realtime: session update: %w", err)
	}

	go sess.receiveLoop()

	return sess, nil
}
