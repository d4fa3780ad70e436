package types

import (
	"time"

	"github.com/google/uuid"
)

// Speaker identifies who produced a transcript line.
type Speaker string

const (
	SpeakerAI     Speaker = "ai"
	SpeakerCaller Speaker = "caller"
	SpeakerAgent  Speaker = "agent"
	SpeakerSystem Speaker = "system"
)

// Valid reports whether s is a known speaker.
func (s Speaker) Valid() bool {
	switch s {
	case SpeakerAI, SpeakerCaller, SpeakerAgent, SpeakerSystem:
		return true
	default:
		return false
	}
}

// TranscriptEntry is one utterance on a call.
type TranscriptEntry struct {
	ID         string    `json:"id"`
	CallID     uuid.UUID `json:"call_id"`
	Speaker    Speaker   `json:"speaker"`
	Text       string    `json:"text"`
	At         time.Time `json:"at"`
	Confidence *float64  `json:"confidence,omitempty"`
	Sentiment  string    `json:"sentiment,omitempty"`
}
