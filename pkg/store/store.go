// Package store defines persistence for users, CRM records, calls and calendar events.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mohit-ai/mohit/pkg/core/types"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: conflict")
	ErrLimit    = errors.New("store: limit exceeded")
)

// Store is implemented by the memory and postgres backends.
type Store interface {
	Users() UserStore
	Contacts() ContactStore
	Leads() LeadStore
	Calls() CallStore
	Transcripts() TranscriptStore
	Calendar() CalendarStore
	Settings() SettingsStore

	Stats(ctx context.Context, ownerID uuid.UUID, w StatsWindow) (DashboardStats, error)
	Ping(ctx context.Context) error
	Close() error
}

type UserStore interface {
	// Create fails with ErrConflict when the email is taken.
	Create(ctx context.Context, u *types.User) error
	Get(ctx context.Context, id uuid.UUID) (*types.User, error)
	GetByEmail(ctx context.Context, email string) (*types.User, error)
}

type ContactFilter struct {
	Query  string
	Tag    string
	Limit  int
	Offset int
}

type ContactStore interface {
	Create(ctx context.Context, c *types.Contact) error
	Get(ctx context.Context, ownerID, id uuid.UUID) (*types.Contact, error)
	Update(ctx context.Context, c *types.Contact) error
	// Modify applies fn to the stored contact and saves it atomically. If fn
	// returns an error nothing is written and the error is returned as is.
	Modify(ctx context.Context, ownerID, id uuid.UUID, fn func(c *types.Contact) error) (*types.Contact, error)
	Delete(ctx context.Context, ownerID, id uuid.UUID) error
	List(ctx context.Context, ownerID uuid.UUID, f ContactFilter) ([]types.Contact, error)
}

type LeadFilter struct {
	Status types.LeadStatus
	Query  string
	Limit  int
	Offset int
}

type LeadStore interface {
	Create(ctx context.Context, l *types.Lead) error
	Get(ctx context.Context, ownerID, id uuid.UUID) (*types.Lead, error)
	Update(ctx context.Context, l *types.Lead) error
	// Modify is the read-modify-write form of Update, as for contacts.
	Modify(ctx context.Context, ownerID, id uuid.UUID, fn func(l *types.Lead) error) (*types.Lead, error)
	Delete(ctx context.Context, ownerID, id uuid.UUID) error
	List(ctx context.Context, ownerID uuid.UUID, f LeadFilter) ([]types.Lead, error)
}

type CallFilter struct {
	LeadID *uuid.UUID
	Status types.CallStatus
	Limit  int
	Offset int
}

// CallStore persists calls. Every mutation after Create goes through Update.
type CallStore interface {
	Create(ctx context.Context, c *types.Call) error
	Get(ctx context.Context, id uuid.UUID) (*types.Call, error)
	GetByTwilioSID(ctx context.Context, sid string) (*types.Call, error)
	List(ctx context.Context, ownerID uuid.UUID, f CallFilter) ([]types.Call, error)
	// Update loads the call, applies fn and saves the result atomically.
	// If fn returns an error nothing is written and the error is returned as is.
	Update(ctx context.Context, id uuid.UUID, fn func(c *types.Call) error) (*types.Call, error)
}

type TranscriptStore interface {
	// Append fails with ErrLimit once the call holds limit entries. limit <= 0 disables the cap.
	Append(ctx context.Context, e *types.TranscriptEntry, limit int) error
	List(ctx context.Context, callID uuid.UUID) ([]types.TranscriptEntry, error)
}

type CalendarStore interface {
	Create(ctx context.Context, e *types.CalendarEvent) error
	Get(ctx context.Context, ownerID, id uuid.UUID) (*types.CalendarEvent, error)
	Update(ctx context.Context, e *types.CalendarEvent) error
	Delete(ctx context.Context, ownerID, id uuid.UUID) error
	// List returns events intersecting [from,to), ordered by start. Zero bounds are open.
	List(ctx context.Context, ownerID uuid.UUID, from, to time.Time) ([]types.CalendarEvent, error)
	// Overlapping returns events intersecting [start,end), skipping excludeID.
	Overlapping(ctx context.Context, ownerID uuid.UUID, start, end time.Time, excludeID uuid.UUID) ([]types.CalendarEvent, error)
}

type SettingsStore interface {
	// Get returns types.DefaultUserSettings when nothing has been saved.
	Get(ctx context.Context, userID uuid.UUID) (types.UserSettings, error)
	Put(ctx context.Context, s *types.UserSettings) error
}

// StatsWindow bounds the time-relative dashboard counters.
type StatsWindow struct {
	DayStart      time.Time
	Now           time.Time
	UpcomingUntil time.Time
}

type DashboardStats struct {
	Contacts               int                      `json:"contacts"`
	LeadsByStatus          map[types.LeadStatus]int `json:"leads_by_status"`
	CallsToday             int                      `json:"calls_today"`
	ActiveCalls            int                      `json:"active_calls"`
	AvgCallDurationSeconds float64                  `json:"avg_call_duration_seconds"`
	UpcomingEvents         int                      `json:"upcoming_events"`
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// ClampLimit applies the default and maximum page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
