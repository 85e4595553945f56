package realtime

import (
	"errors"
	"fmt"
)

// Default server-side VAD tuning. These match the values the bridge sends on
// every call: a moderate threshold with enough prefix padding to keep word
// onsets and half a second of silence to close a turn.
const (
	DefaultVADThreshold       = 0.5
	DefaultPrefixPaddingMs    = 300
	DefaultSilenceDurationMs  = 500
	DefaultTranscriptionModel = "whisper-1"
)

// ToolSchema describes one function exposed to the model, following the JSON
// function-calling shape. Parameters is a JSON Schema object
// ({"type":"object","properties":...,"required":...}).
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// TurnDetection configures the model's server-side voice activity detection.
type TurnDetection struct {
	// Threshold is the VAD activation threshold in [0,1].
	Threshold float64

	// PrefixPaddingMs is audio retained before detected speech onset.
	PrefixPaddingMs int

	// SilenceDurationMs is trailing silence that closes a speaker turn.
	SilenceDurationMs int
}

// DefaultTurnDetection returns the standard bridge VAD settings.
func DefaultTurnDetection() TurnDetection {
	return TurnDetection{
		Threshold:         DefaultVADThreshold,
		PrefixPaddingMs:   DefaultPrefixPaddingMs,
		SilenceDurationMs: DefaultSilenceDurationMs,
	}
}

// SessionConfig carries everything needed to negotiate one model session.
// It is sent as the first frame (session.update) immediately after connect;
// the session never receives audio before that frame is on the wire.
type SessionConfig struct {
	// Voice is the synthesis voice identifier (e.g. "alloy").
	Voice string

	// Instructions is the system prompt. Required: a session without
	// instructions is a configuration error and must never be started.
	Instructions string

	// Tools is the function schema set offered to the model. Names must be
	// unique.
	Tools []ToolSchema

	// Temperature controls sampling randomness. Zero means provider default.
	Temperature float64

	// MaxResponseTokens caps tokens per model response. Zero means unlimited.
	MaxResponseTokens int

	// TurnDetection configures server-side VAD. The zero value is replaced
	// with [DefaultTurnDetection].
	TurnDetection TurnDetection

	// TranscriptionModel selects the input-transcription model.
	// Empty means [DefaultTranscriptionModel].
	TranscriptionModel string
}

// Validate checks the configuration invariants that must hold before a
// session is opened: a non-empty system prompt and unique tool names.
func (c SessionConfig) Validate() error {
	var errs []error
	if c.Instructions == "" {
		errs = append(errs, errors.New("realtime: instructions must not be empty"))
	}
	seen := make(map[string]struct{}, len(c.Tools))
	for _, t := range c.Tools {
		if t.Name == "" {
			errs = append(errs, errors.New("realtime: tool with empty name"))
			continue
		}
		if _, dup := seen[t.Name]; dup {
			errs = append(errs, fmt.Errorf("realtime: duplicate tool name %q", t.Name))
		}
		seen[t.Name] = struct{}{}
	}
	return errors.Join(errs...)
}
