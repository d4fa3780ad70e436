package types

import (
	"time"

	"github.com/google/uuid"
)

// User is an account that owns contacts, leads, calls and calendar events.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserSettings are per-user call defaults.
type UserSettings struct {
	UserID             uuid.UUID `json:"user_id"`
	AgentID            string    `json:"agent_id,omitempty"`
	VoiceID            string    `json:"voice_id,omitempty"`
	Greeting           string    `json:"greeting,omitempty"`
	HumanForwardNumber string    `json:"human_forward_number,omitempty"`
	RecordCalls        bool      `json:"record_calls"`
	AutoInsights       bool      `json:"auto_insights"`
	Timezone           string    `json:"timezone"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// DefaultUserSettings returns the settings used before a user saves any.
func DefaultUserSettings(userID uuid.UUID) UserSettings {
	return UserSettings{
		UserID:       userID,
		RecordCalls:  true,
		AutoInsights: true,
		Timezone:     "UTC",
	}
}
