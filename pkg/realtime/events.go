package realtime

// Wire-level event types for the Realtime API. Outgoing messages are typed
// structs; incoming frames decode into the single serverEvent shape since the
// protocol multiplexes many event types over one field set.

// ── Outgoing ──────────────────────────────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string            `json:"modalities"`
	Voice                   string              `json:"voice,omitempty"`
	Instructions            string              `json:"instructions,omitempty"`
	InputAudioFormat        string              `json:"input_audio_format"`
	OutputAudioFormat       string              `json:"output_audio_format"`
	TurnDetection           *turnDetectionParam `json:"turn_detection,omitempty"`
	InputAudioTranscription *transcriptionParam `json:"input_audio_transcription,omitempty"`
	Tools                   []toolParam         `json:"tools,omitempty"`
	Temperature             float64             `json:"temperature,omitempty"`
	MaxResponseOutputTokens int                 `json:"max_response_output_tokens,omitempty"`
}

type turnDetectionParam struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

type transcriptionParam struct {
	Model string `json:"model"`
}

type toolParam struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16 24 kHz mono
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []conversationPart `json:"content,omitempty"`
	CallID  string             `json:"call_id,omitempty"`
	Output  string             `json:"output,omitempty"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ── Incoming ──────────────────────────────────────────────────────────────────

// Incoming event types the session reacts to. Everything else is surfaced
// verbatim through the general event callback.
const (
	eventAudioDelta        = "response.audio.delta"
	eventTranscriptDelta   = "response.audio_transcript.delta"
	eventTranscriptDone    = "response.audio_transcript.done"
	eventInputTranscript   = "conversation.item.input_audio_transcription.completed"
	eventFunctionCallDelta = "response.function_call_arguments.delta"
	eventFunctionCallDone  = "response.function_call_arguments.done"
)

// Event types surfaced through the general event callback that callers
// commonly match on. The bridge uses these for barge-in handling.
const (
	// EventSpeechStarted fires when server VAD detects the caller speaking.
	EventSpeechStarted = "input_audio_buffer.speech_started"

	// EventResponseCreated marks a new response boundary; audio discarded
	// after an interrupt resumes at this point.
	EventResponseCreated = "response.created"

	// EventError carries a server-side error object.
	EventError = "error"
)

// serverErrorDetail is the nested error object of an error event:
// {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta /
	// response.function_call_arguments.delta share this field.
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed and
	// response.audio_transcript.done both carry the full text here.
	Transcript string `json:"transcript,omitempty"`

	// function call events
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}
