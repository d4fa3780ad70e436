package types

import (
	"time"

	"github.com/google/uuid"
)

// CalendarEventType classifies calendar entries.
type CalendarEventType string

const (
	CalendarEventCall     CalendarEventType = "call"
	CalendarEventMeeting  CalendarEventType = "meeting"
	CalendarEventFollowUp CalendarEventType = "follow_up"
	CalendarEventReminder CalendarEventType = "reminder"
)

// Valid reports whether t is a known event type.
func (t CalendarEventType) Valid() bool {
	switch t {
	case CalendarEventCall, CalendarEventMeeting, CalendarEventFollowUp, CalendarEventReminder:
		return true
	default:
		return false
	}
}

// CalendarEvent is a scheduled block on the owner's calendar.
type CalendarEvent struct {
	ID        uuid.UUID         `json:"id"`
	OwnerID   uuid.UUID         `json:"owner_id"`
	Title     string            `json:"title"`
	Type      CalendarEventType `json:"type"`
	Start     time.Time         `json:"start"`
	End       time.Time         `json:"end"`
	LeadID    *uuid.UUID        `json:"lead_id,omitempty"`
	ContactID *uuid.UUID        `json:"contact_id,omitempty"`
	CallID    *uuid.UUID        `json:"call_id,omitempty"`
	Location  string            `json:"location,omitempty"`
	Notes     string            `json:"notes,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Overlaps reports whether [start,end) intersects the event's interval.
func (e *CalendarEvent) Overlaps(start, end time.Time) bool {
	return e.Start.Before(end) && start.Before(e.End)
}
