package calls

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohit-ai/mohit/pkg/core"
	"github.com/mohit-ai/mohit/pkg/core/types"
	"github.com/mohit-ai/mohit/pkg/store"
)

// StatusUpdate is a Twilio status callback. CallID comes from our own query
// parameter when present; CallSID is the fallback.
type StatusUpdate struct {
	CallID   uuid.UUID
	CallSID  string
	Status   string
	Duration int
	At       time.Time
}

// ApplyTwilioStatus moves the call forward. Duplicate and out-of-order
// callbacks report changed=false and leave the call untouched.
func (s *Service) ApplyTwilioStatus(ctx context.Context, u StatusUpdate) (c *types.Call, changed bool, err error) {
	status, err := types.ParseTwilioCallStatus(u.Status)
	if err != nil {
		return nil, false, core.NewInvalidRequestErrorWithParam(err.Error(), "CallStatus")
	}
	callID, err := s.resolve(ctx, u.CallID, u.CallSID)
	if err != nil {
		return nil, false, err
	}
	at := u.At
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()

	c, changed, err = s.update(ctx, callID, func(c *types.Call) error {
		if c.TwilioSID == "" && u.CallSID != "" {
			c.TwilioSID = u.CallSID
		}
		if !types.CanTransition(c.Status, status) {
			return errUnchanged
		}
		from := c.Status
		c.Status = status
		if status == types.CallStatusInProgress && c.AnsweredAt == nil {
			c.AnsweredAt = &at
		}
		if status.Terminal() {
			c.EndedAt = &at
			switch {
			case u.Duration > 0:
				c.DurationSeconds = u.Duration
			case c.AnsweredAt != nil:
				c.DurationSeconds = max(0, int(at.Sub(*c.AnsweredAt).Seconds()))
			}
		}
		s.appendEvent(c, types.CallEventStatus, map[string]any{
			"from":          string(from),
			"status":        string(status),
			"twilio_status": u.Status,
		})
		return nil
	})
	if err != nil || !changed {
		return c, false, err
	}

	s.notify.NotifyCall(ctx, c.OwnerID, c.ID, types.EventCallStatus, map[string]any{
		"call_id": c.ID,
		"status":  c.Status,
	})
	s.publishUpdated(ctx, c)
	if c.Status.Terminal() {
		s.relays.Stop(c.ID)
		s.notify.NotifyCall(ctx, c.OwnerID, c.ID, types.EventCallEnded, c)
		if c.Status == types.CallStatusCompleted {
			s.maybeScheduleInsights(ctx, c)
		}
	}
	return c, true, nil
}

type RecordingUpdate struct {
	CallID          uuid.UUID
	CallSID         string
	RecordingSID    string
	URL             string
	Status          string
	DurationSeconds int
}

// AttachRecording is idempotent on RecordingSID and status.
func (s *Service) AttachRecording(ctx context.Context, u RecordingUpdate) (*types.Call, bool, error) {
	if strings.TrimSpace(u.RecordingSID) == "" {
		return nil, false, core.NewInvalidRequestErrorWithParam("RecordingSid is required", "RecordingSid")
	}
	callID, err := s.resolve(ctx, u.CallID, u.CallSID)
	if err != nil {
		return nil, false, err
	}
	status := u.Status
	if status == "" {
		status = "completed"
	}
	c, changed, err := s.update(ctx, callID, func(c *types.Call) error {
		if r := c.Recording; r != nil && r.SID == u.RecordingSID && r.Status == status {
			return errUnchanged
		}
		c.Recording = &types.Recording{
			SID:             u.RecordingSID,
			URL:             u.URL,
			Status:          status,
			DurationSeconds: u.DurationSeconds,
		}
		s.appendEvent(c, types.CallEventRecording, map[string]any{
			"recording_sid": u.RecordingSID,
			"status":        status,
		})
		return nil
	})
	if err != nil || !changed {
		return c, false, err
	}
	s.publishUpdated(ctx, c)
	return c, true, nil
}

type TranscriptionUpdate struct {
	CallID  uuid.UUID
	CallSID string
	Text    string
	Status  string
}

func (s *Service) AttachTranscription(ctx context.Context, u TranscriptionUpdate) (*types.Call, bool, error) {
	text := strings.TrimSpace(u.Text)
	if text == "" || (u.Status != "" && !strings.EqualFold(u.Status, "completed")) {
		return nil, false, nil
	}
	callID, err := s.resolve(ctx, u.CallID, u.CallSID)
	if err != nil {
		return nil, false, err
	}
	c, changed, err := s.update(ctx, callID, func(c *types.Call) error {
		if c.TranscriptionText == text {
			return errUnchanged
		}
		c.TranscriptionText = text
		s.appendEvent(c, types.CallEventTranscribed, map[string]any{"chars": len(text)})
		return nil
	})
	if err != nil || !changed {
		return c, false, err
	}
	s.publishUpdated(ctx, c)
	return c, true, nil
}

// resolve prefers callID and falls back to the Twilio SID.
func (s *Service) resolve(ctx context.Context, callID uuid.UUID, callSID string) (uuid.UUID, error) {
	if callID != uuid.Nil {
		c, err := s.store.Calls().Get(ctx, callID)
		if err == nil {
			if callSID != "" && c.TwilioSID != "" && c.TwilioSID != callSID {
				return uuid.Nil, core.NewInvalidRequestErrorWithParam("CallSid does not match call", "CallSid")
			}
			return c.ID, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return uuid.Nil, err
		}
	}
	if callSID == "" {
		return uuid.Nil, core.NewNotFoundError("call not found")
	}
	c, err := s.store.Calls().GetByTwilioSID(ctx, callSID)
	if err != nil {
		return uuid.Nil, notFound(err)
	}
	return c.ID, nil
}
