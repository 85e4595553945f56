package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/xBlackSmurfx008/AI-Caller-sub001/pkg/realtime"
)

// MCP server registration: tools exported by external Model Context Protocol
// servers are imported into the dispatcher next to the built-ins, so a
// deployment can extend the agent without recompiling.

// MCPTransport selects how an MCP server is reached.
type MCPTransport string

const (
	MCPTransportStdio MCPTransport = "stdio"
	MCPTransportHTTP  MCPTransport = "streamable-http"
)

// MCPServerConfig describes one external MCP server.
type MCPServerConfig struct {
	Name      string
	Transport MCPTransport
	// Command is the stdio executable plus arguments, split on spaces.
	Command string
	// Env holds additional environment variables for stdio servers.
	Env map[string]string
	// URL is the endpoint for streamable-http servers.
	URL string
}

// MCPHost owns the client sessions to registered MCP servers.
type MCPHost struct {
	client   *mcpsdk.Client
	sessions []*mcpsdk.ClientSession
}

// NewMCPHost creates a host ready to register servers.
func NewMCPHost() *MCPHost {
	return &MCPHost{
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "aicaller", Version: "1.0.0"},
			nil,
		),
	}
}

// RegisterServer connects to the server described by cfg, lists its tools,
// and registers each into d. Tool names colliding with existing registrations
// replace them, matching Dispatcher semantics.
func (h *MCPHost) RegisterServer(ctx context.Context, d *Dispatcher, cfg MCPServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("tools: mcp server must have a non-empty name")
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case MCPTransportStdio:
		parts := strings.Fields(cfg.Command)
		if len(parts) == 0 {
			return fmt.Errorf("tools: stdio mcp server %q requires a command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}
	case MCPTransportHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("tools: streamable-http mcp server %q requires a URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	default:
		return fmt.Errorf("tools: unknown mcp transport %q for server %q", cfg.Transport, cfg.Name)
	}

	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("tools: connect mcp server %q: %w", cfg.Name, err)
	}

	var registered int
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			session.Close()
			return fmt.Errorf("tools: list tools of mcp server %q: %w", cfg.Name, err)
		}
		if err := d.Register(mcpTool(session, *tool)); err != nil {
			session.Close()
			return err
		}
		registered++
	}

	h.sessions = append(h.sessions, session)
	if registered == 0 {
		return fmt.Errorf("tools: mcp server %q exports no tools", cfg.Name)
	}
	return nil
}

// Close shuts down all server sessions.
func (h *MCPHost) Close() error {
	var firstErr error
	for _, s := range h.sessions {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	h.sessions = nil
	return firstErr
}

// mcpTool wraps one discovered server tool as a dispatcher Tool.
func mcpTool(session *mcpsdk.ClientSession, t mcpsdk.Tool) Tool {
	return Tool{
		Schema: realtime.ToolSchema{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schemaToMap(t.InputSchema),
		},
		Handler: func(ctx context.Context, args json.RawMessage, _ CallContext) (any, error) {
			var argsMap map[string]any
			if len(args) > 0 && string(args) != "{}" {
				if err := json.Unmarshal(args, &argsMap); err != nil {
					return nil, fmt.Errorf("invalid arguments: %w", err)
				}
			}
			result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
				Name:      t.Name,
				Arguments: argsMap,
			})
			if err != nil {
				return nil, err
			}

			var sb strings.Builder
			for _, c := range result.Content {
				if tc, ok := c.(*mcpsdk.TextContent); ok {
					sb.WriteString(tc.Text)
				}
			}
			if result.IsError {
				return nil, fmt.Errorf("%s", sb.String())
			}
			return map[string]any{"content": sb.String()}, nil
		},
	}
}

// schemaToMap normalises whatever schema representation the SDK hands back
// into the plain map the session negotiation expects.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}
