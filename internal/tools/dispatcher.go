// Package tools is the function-calling surface offered to the model: a
// registry of named handlers, the built-in telephony tool set, and optional
// tools imported from external MCP servers.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/antzucaro/matchr"

	"github.com/xBlackSmurfx008/AI-Caller-sub001/pkg/realtime"
)

// suggestionMaxDistance bounds how far a mistyped tool name may be from a
// registered one before we stop suggesting it.
const suggestionMaxDistance = 3

// CallContext identifies the call a tool invocation belongs to, so handlers
// can persist side effects against the right rows.
type CallContext struct {
	CallID        string
	CallSid       string
	BusinessID    string
	CustomerPhone string
}

// Handler executes one tool call. The returned value is JSON-marshalled into
// the tool output; errors are converted to {"error": ...} by the dispatcher.
type Handler func(ctx context.Context, args json.RawMessage, cc CallContext) (any, error)

// Tool pairs a model-facing schema with its handler.
type Tool struct {
	Schema  realtime.ToolSchema
	Handler Handler
}

// Dispatcher routes tool calls by name. Registration typically happens at
// startup; Dispatch is called concurrently from live sessions.
type Dispatcher struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{tools: make(map[string]Tool)}
}

// Register adds a tool. A tool with the same name replaces the previous
// registration.
func (d *Dispatcher) Register(t Tool) error {
	if t.Schema.Name == "" {
		return fmt.Errorf("tools: tool must have a non-empty name")
	}
	if t.Handler == nil {
		return fmt.Errorf("tools: tool %q must have a non-nil handler", t.Schema.Name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tools[t.Schema.Name] = t
	return nil
}

// RegisterAll registers every tool in ts, failing on the first invalid one.
func (d *Dispatcher) RegisterAll(ts []Tool) error {
	for _, t := range ts {
		if err := d.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Schemas returns the registered tool schemas sorted by name, ready for
// session negotiation.
func (d *Dispatcher) Schemas() []realtime.ToolSchema {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]realtime.ToolSchema, 0, len(d.tools))
	for _, t := range d.tools {
		out = append(out, t.Schema)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the sorted registered tool names.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.tools))
	for name := range d.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs the named tool and always returns a JSON object string: the
// marshalled handler result on success, or {"error": ...} on unknown tools,
// handler errors, and panics. The session is never poisoned by a tool.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args json.RawMessage, cc CallContext) string {
	d.mu.RLock()
	t, ok := d.tools[name]
	d.mu.RUnlock()

	if !ok {
		return d.unknownToolResult(name)
	}

	result, err := d.run(ctx, t, args, cc)
	if err != nil {
		slog.Warn("tools: handler failed", "tool", name, "call_id", cc.CallID, "error", err)
		return errorResult(err.Error())
	}

	data, err := json.Marshal(result)
	if err != nil {
		slog.Warn("tools: result not marshallable", "tool", name, "error", err)
		return errorResult("tool produced an unserialisable result")
	}
	return string(data)
}

// run executes the handler with panic containment.
func (d *Dispatcher) run(ctx context.Context, t Tool, args json.RawMessage, cc CallContext) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", t.Schema.Name, r)
		}
	}()
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	return t.Handler(ctx, args, cc)
}

// unknownToolResult reports the available tools and, when a registered name
// is close enough by edit distance, a spelling suggestion.
func (d *Dispatcher) unknownToolResult(name string) string {
	available := d.Names()

	out := map[string]any{
		"error":           fmt.Sprintf("unknown tool %q", name),
		"available_tools": available,
	}
	if suggestion := closestName(name, available); suggestion != "" {
		out["did_you_mean"] = suggestion
	}
	data, _ := json.Marshal(out)
	return string(data)
}

func closestName(name string, candidates []string) string {
	best := ""
	bestDist := suggestionMaxDistance + 1
	for _, c := range candidates {
		if d := matchr.Levenshtein(name, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func errorResult(msg string) string {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return string(data)
}
