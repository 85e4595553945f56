package telephony

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/call"
)

// CallStore is the persistence surface the webhooks need.
type CallStore interface {
	CreateCall(ctx context.Context, c *call.Call) error
	GetCallBySID(ctx context.Context, sid string) (*call.Call, error)
}

// Webhooks serves the carrier's HTTP callbacks: /voice answers an inbound
// call with stream-connect TwiML, /status drives the call state machine from
// status callbacks.
type Webhooks struct {
	store     CallStore
	machine   *call.Machine
	streamURL string
	greeting  string
}

// NewWebhooks creates the webhook handlers. streamURL is the public wss://
// address of the media endpoint handed to the carrier in TwiML.
func NewWebhooks(store CallStore, machine *call.Machine, streamURL, greeting string) *Webhooks {
	return &Webhooks{store: store, machine: machine, streamURL: streamURL, greeting: greeting}
}

// HandleVoice answers an inbound call: it records the call row and returns
// TwiML that connects the carrier's media stream to our WebSocket endpoint.
func (wh *Webhooks) HandleVoice(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	sid := r.PostFormValue("CallSid")
	if sid == "" {
		http.Error(w, "missing CallSid", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	c, err := wh.store.GetCallBySID(ctx, sid)
	if err != nil {
		// First contact for this SID; register the inbound call.
		c = &call.Call{
			ID:         uuid.NewString(),
			SID:        sid,
			Direction:  call.DirectionInbound,
			Status:     call.StatusInitiated,
			FromNumber: r.PostFormValue("From"),
			ToNumber:   r.PostFormValue("To"),
			StartedAt:  time.Now().UTC(),
		}
		if err := wh.store.CreateCall(ctx, c); err != nil {
			slog.Error("telephony: create call failed", "call_sid", sid, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		slog.Info("telephony: inbound call registered",
			"call_id", c.ID, "call_sid", sid, "from", c.FromNumber)
	}

	body, err := ConnectStreamTwiML(wh.streamURL, wh.greeting, map[string]string{
		"call_id": c.ID,
	})
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Write(body)
}

// HandleStatus applies a carrier status callback to the call state machine.
// Repeats and out-of-order callbacks are tolerated: same-status updates are
// no-ops and illegal transitions are logged and dropped, always with a 2xx
// response so the carrier does not retry.
func (wh *Webhooks) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	sid := r.PostFormValue("CallSid")
	carrierStatus := r.PostFormValue("CallStatus")
	if sid == "" || carrierStatus == "" {
		http.Error(w, "missing CallSid or CallStatus", http.StatusBadRequest)
		return
	}

	target, ok := call.MapCarrierStatus(carrierStatus)
	if !ok {
		// Interim values like "queued" do not drive transitions.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	ctx := r.Context()
	c, err := wh.store.GetCallBySID(ctx, sid)
	if err != nil {
		slog.Warn("telephony: status callback for unknown call", "call_sid", sid)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := wh.machine.Transition(ctx, c, target); err != nil {
		if errors.Is(err, call.ErrInvalidTransition) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		slog.Error("telephony: status transition failed",
			"call_sid", sid, "to", target, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
