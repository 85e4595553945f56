// Package call defines the core telephony domain model: calls, their status
// state machine, conversation interactions, escalations, and human agents.
package call

import (
	"time"
)

// Direction distinguishes who initiated the call.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Status is the lifecycle state of a call. See the transition table in
// statemachine.go.
type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusEscalated  Status = "escalated"
)

// Terminal reports whether s is a final state. A call in a terminal state
// has EndedAt set and is never mutated again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusEscalated:
		return true
	}
	return false
}

// IsValid reports whether s is a recognised status.
func (s Status) IsValid() bool {
	switch s {
	case StatusInitiated, StatusRinging, StatusInProgress,
		StatusCompleted, StatusFailed, StatusEscalated:
		return true
	}
	return false
}

// Call is one phone call, inbound or outbound. ID is the stable internal
// identity; SID is the carrier-assigned identifier, unique when present.
type Call struct {
	ID         string
	SID        string
	Direction  Direction
	Status     Status
	FromNumber string
	ToNumber   string
	BusinessID string
	StartedAt  time.Time
	EndedAt    *time.Time
	Meta       map[string]any
}

// Speaker identifies who produced an interaction.
type Speaker string

const (
	SpeakerAI       Speaker = "ai"
	SpeakerCustomer Speaker = "customer"
)

// Interaction is one spoken turn, append-only and strictly monotonic in
// Timestamp within a call.
type Interaction struct {
	ID        int64
	CallID    string
	Speaker   Speaker
	Text      string
	AudioURL  string
	Timestamp time.Time
	Meta      map[string]any
}

// EscalationStatus is the lifecycle state of a human hand-off request.
type EscalationStatus string

const (
	EscalationPending    EscalationStatus = "pending"
	EscalationInProgress EscalationStatus = "in_progress"
	EscalationCompleted  EscalationStatus = "completed"
	EscalationCancelled  EscalationStatus = "cancelled"
)

// TriggerType identifies what caused an escalation.
type TriggerType string

const (
	TriggerSentiment       TriggerType = "sentiment"
	TriggerKeyword         TriggerType = "keyword"
	TriggerComplexity      TriggerType = "complexity"
	TriggerCustomerRequest TriggerType = "customer_request"
)

// Escalation is a request to hand the call off to a human agent. The bridge
// is not torn down by the escalation itself; transfer is a separate decision.
type Escalation struct {
	ID                  string
	CallID              string
	Status              EscalationStatus
	TriggerType         TriggerType
	TriggerDetails      map[string]any
	AssignedAgentID     string
	ConversationSummary string
	ContextData         map[string]any
	RequestedAt         time.Time
	AcceptedAt          *time.Time
	CompletedAt         *time.Time
}

// HumanAgent is an operator who can take escalated calls. The coordinator
// only reads and toggles availability; agent administration lives elsewhere.
type HumanAgent struct {
	ID           string
	Name         string
	Email        string
	IsAvailable  bool
	IsActive     bool
	Skills       []string
	Departments  []string
	ActiveCalls  int
	LastActiveAt *time.Time
}
