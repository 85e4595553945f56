// Package telephony is the carrier-facing edge: the Media Streams WebSocket
// endpoint, TwiML bootstrap, and the voice/status webhooks. All audio at this
// boundary is base-64 µ-law at 8 kHz mono; PCM never crosses it.
package telephony

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Frame event names used by the carrier's media stream protocol.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventClear     = "clear"
	EventDTMF      = "dtmf"
)

// Frame is one JSON text frame on the media WebSocket, inbound or outbound.
// Only the payload matching Event is populated.
type Frame struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSid      string        `json:"streamSid,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	Stop           *StopPayload  `json:"stop,omitempty"`
	Mark           *MarkPayload  `json:"mark,omitempty"`
}

// StartPayload accompanies the start event, announcing the call and stream
// identity plus any custom parameters set in the TwiML.
type StartPayload struct {
	StreamSid        string            `json:"streamSid"`
	AccountSid       string            `json:"accountSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
}

// MediaFormat describes the negotiated audio encoding.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaPayload carries one chunk of base-64 µ-law audio.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// StopPayload accompanies the stop event.
type StopPayload struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

// MarkPayload accompanies mark events, which the endpoint tolerates and
// ignores.
type MarkPayload struct {
	Name string `json:"name"`
}

// ParseFrame decodes and validates one inbound frame. Unknown event names are
// returned as-is; callers ignore what they do not handle.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("telephony: malformed frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("telephony: frame missing event field")
	}
	switch f.Event {
	case EventStart:
		if f.Start == nil || f.Start.CallSid == "" || f.Start.StreamSid == "" {
			return Frame{}, fmt.Errorf("telephony: start frame missing callSid or streamSid")
		}
	case EventMedia:
		if f.Media == nil || f.Media.Payload == "" {
			return Frame{}, fmt.Errorf("telephony: media frame missing payload")
		}
	}
	return f, nil
}

// AudioBytes decodes the base-64 µ-law payload of a media frame.
func (f Frame) AudioBytes() ([]byte, error) {
	if f.Media == nil {
		return nil, fmt.Errorf("telephony: frame %q has no media payload", f.Event)
	}
	raw, err := base64.StdEncoding.DecodeString(f.Media.Payload)
	if err != nil {
		return nil, fmt.Errorf("telephony: media payload is not valid base64: %w", err)
	}
	return raw, nil
}

// encodeMediaFrame builds an outbound media frame carrying µ-law audio.
func encodeMediaFrame(streamSid string, ulaw []byte) ([]byte, error) {
	f := Frame{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media:     &MediaPayload{Payload: base64.StdEncoding.EncodeToString(ulaw)},
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("telephony: encode media frame: %w", err)
	}
	return data, nil
}

// encodeClearFrame builds the clear frame that tells the carrier to flush its
// buffered playback, used on barge-in.
func encodeClearFrame(streamSid string) ([]byte, error) {
	data, err := json.Marshal(Frame{Event: EventClear, StreamSid: streamSid})
	if err != nil {
		return nil, fmt.Errorf("telephony: encode clear frame: %w", err)
	}
	return data, nil
}
