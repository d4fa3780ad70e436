package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CallStatus is the internal lifecycle status of a phone call.
type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusInitiated  CallStatus = "initiated"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusBusy       CallStatus = "busy"
	CallStatusFailed     CallStatus = "failed"
	CallStatusNoAnswer   CallStatus = "no_answer"
	CallStatusCanceled   CallStatus = "canceled"
)

// CallMode controls who is speaking on the caller's side of the call.
type CallMode string

const (
	CallModeAI     CallMode = "AI"
	CallModeHuman  CallMode = "HUMAN"
	CallModeHybrid CallMode = "HYBRID"
)

// CallDirection is outbound for calls the gateway places, inbound otherwise.
type CallDirection string

const (
	CallDirectionOutbound CallDirection = "outbound"
	CallDirectionInbound  CallDirection = "inbound"
)

// Call event types recorded on Call.Events.
const (
	CallEventCreated      = "created"
	CallEventStatus       = "status"
	CallEventModeChanged  = "mode_changed"
	CallEventRecording    = "recording"
	CallEventTranscribed  = "transcription"
	CallEventRelayStarted = "relay_started"
	CallEventRelayStopped = "relay_stopped"
	CallEventInsights     = "insights"
	CallEventEndRequested = "end_requested"
	CallEventError        = "error"
)

// Call is the record of a single Twilio-bridged phone call.
type Call struct {
	ID                uuid.UUID     `json:"id"`
	OwnerID           uuid.UUID     `json:"owner_id"`
	TwilioSID         string        `json:"twilio_sid,omitempty"`
	LeadID            *uuid.UUID    `json:"lead_id,omitempty"`
	ContactID         *uuid.UUID    `json:"contact_id,omitempty"`
	To                string        `json:"to"`
	From              string        `json:"from"`
	Direction         CallDirection `json:"direction"`
	Status            CallStatus    `json:"status"`
	Mode              CallMode      `json:"mode"`
	ConversationID    string        `json:"conversation_id,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
	StartedAt         *time.Time    `json:"started_at,omitempty"`
	AnsweredAt        *time.Time    `json:"answered_at,omitempty"`
	EndedAt           *time.Time    `json:"ended_at,omitempty"`
	DurationSeconds   int           `json:"duration_seconds"`
	Events            []CallEvent   `json:"events"`
	Recording         *Recording    `json:"recording,omitempty"`
	TranscriptionText string        `json:"transcription_text,omitempty"`
	Insights          *CallInsights `json:"insights,omitempty"`
}

// CallEvent is one entry of a call's bounded audit trail.
type CallEvent struct {
	ID   string         `json:"id"`
	Type string         `json:"type"`
	At   time.Time      `json:"at"`
	Data map[string]any `json:"data,omitempty"`
}

// Recording describes the Twilio recording attached to a call.
type Recording struct {
	SID             string `json:"sid"`
	URL             string `json:"url"`
	Status          string `json:"status"`
	DurationSeconds int    `json:"duration_seconds"`
}

// CallInsights is the post-call analysis of a transcript.
type CallInsights struct {
	Summary     string    `json:"summary"`
	Sentiment   string    `json:"sentiment"`
	NextSteps   []string  `json:"next_steps,omitempty"`
	LeadScore   *int      `json:"lead_score,omitempty"`
	Model       string    `json:"model,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// ParseTwilioCallStatus maps a Twilio CallStatus value onto CallStatus.
func ParseTwilioCallStatus(raw string) (CallStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queued":
		return CallStatusQueued, nil
	case "initiated":
		return CallStatusInitiated, nil
	case "ringing":
		return CallStatusRinging, nil
	case "in-progress", "in_progress", "answered":
		return CallStatusInProgress, nil
	case "completed":
		return CallStatusCompleted, nil
	case "busy":
		return CallStatusBusy, nil
	case "failed":
		return CallStatusFailed, nil
	case "no-answer", "no_answer":
		return CallStatusNoAnswer, nil
	case "canceled", "cancelled":
		return CallStatusCanceled, nil
	default:
		return "", fmt.Errorf("unknown call status %q", raw)
	}
}

// Valid reports whether s is a known status.
func (s CallStatus) Valid() bool {
	return s.rank() > 0
}

// Terminal reports whether no further transitions are possible.
func (s CallStatus) Terminal() bool {
	return s.rank() == terminalRank
}

// Active reports whether the call is live or about to be.
func (s CallStatus) Active() bool {
	r := s.rank()
	return r > 0 && r < terminalRank
}

const terminalRank = 5

func (s CallStatus) rank() int {
	switch s {
	case CallStatusQueued:
		return 1
	case CallStatusInitiated:
		return 2
	case CallStatusRinging:
		return 3
	case CallStatusInProgress:
		return 4
	case CallStatusCompleted, CallStatusBusy, CallStatusFailed, CallStatusNoAnswer, CallStatusCanceled:
		return terminalRank
	default:
		return 0
	}
}

// CanTransition reports whether a call in status from may move to to.
// Webhooks arrive duplicated and out of order, so only forward moves are allowed
// and terminal statuses are final.
func CanTransition(from, to CallStatus) bool {
	if !to.Valid() {
		return false
	}
	if from.Terminal() {
		return false
	}
	return to.rank() > from.rank()
}

// ParseCallMode validates a mode string, accepting any case.
func ParseCallMode(raw string) (CallMode, error) {
	switch CallMode(strings.ToUpper(strings.TrimSpace(raw))) {
	case CallModeAI:
		return CallModeAI, nil
	case CallModeHuman:
		return CallModeHuman, nil
	case CallModeHybrid:
		return CallModeHybrid, nil
	default:
		return "", fmt.Errorf("unknown call mode %q", raw)
	}
}

// AIActive reports whether the AI agent should be speaking in this mode.
func (m CallMode) AIActive() bool {
	return m == CallModeAI || m == CallModeHybrid
}

// AppendEvent adds ev and drops the oldest entries beyond limit.
// A limit <= 0 keeps everything.
func (c *Call) AppendEvent(ev CallEvent, limit int) {
	c.Events = append(c.Events, ev)
	if limit > 0 && len(c.Events) > limit {
		trimmed := make([]CallEvent, limit)
		copy(trimmed, c.Events[len(c.Events)-limit:])
		c.Events = trimmed
	}
}

// Clone returns a deep copy safe to hand to another goroutine.
func (c *Call) Clone() *Call {
	if c == nil {
		return nil
	}
	out := *c
	if c.LeadID != nil {
		id := *c.LeadID
		out.LeadID = &id
	}
	if c.ContactID != nil {
		id := *c.ContactID
		out.ContactID = &id
	}
	if c.StartedAt != nil {
		t := *c.StartedAt
		out.StartedAt = &t
	}
	if c.AnsweredAt != nil {
		t := *c.AnsweredAt
		out.AnsweredAt = &t
	}
	if c.EndedAt != nil {
		t := *c.EndedAt
		out.EndedAt = &t
	}
	if c.Recording != nil {
		r := *c.Recording
		out.Recording = &r
	}
	if c.Insights != nil {
		in := *c.Insights
		in.NextSteps = append([]string(nil), c.Insights.NextSteps...)
		if c.Insights.LeadScore != nil {
			s := *c.Insights.LeadScore
			in.LeadScore = &s
		}
		out.Insights = &in
	}
	out.Events = make([]CallEvent, len(c.Events))
	for i, ev := range c.Events {
		out.Events[i] = ev
		if ev.Data != nil {
			data := make(map[string]any, len(ev.Data))
			for k, v := range ev.Data {
				data[k] = v
			}
			out.Events[i].Data = data
		}
	}
	return &out
}
