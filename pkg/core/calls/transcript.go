package calls

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/mohit-ai/mohit/pkg/core"
	"github.com/mohit-ai/mohit/pkg/core/types"
	"github.com/mohit-ai/mohit/pkg/store"
)

const maxTranscriptText = 8000

// AppendTranscript stores one line and pushes it to subscribers. Ownership is
// checked by callers that take user input.
func (s *Service) AppendTranscript(ctx context.Context, c *types.Call, speaker types.Speaker, text string) (*types.TranscriptEntry, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, core.NewInvalidRequestErrorWithParam("text is required", "text")
	}
	if len(text) > maxTranscriptText {
		return nil, core.NewInvalidRequestErrorWithParam("text is too long", "text")
	}
	if !speaker.Valid() {
		return nil, core.NewInvalidRequestErrorWithParam("unknown speaker", "speaker")
	}
	entry := &types.TranscriptEntry{
		CallID:  c.ID,
		Speaker: speaker,
		Text:    text,
		At:      s.now().UTC(),
	}
	err := s.store.Transcripts().Append(ctx, entry, s.cfg.MaxTranscriptEntries)
	if errors.Is(err, store.ErrLimit) {
		return nil, &core.Error{
			Type:    core.ErrInvalidRequest,
			Message: "transcript is full",
			Code:    "limit_exceeded",
		}
	}
	if err != nil {
		return nil, err
	}
	s.notify.NotifyCall(ctx, c.OwnerID, c.ID, types.EventTranscriptNew, entry)
	return entry, nil
}

func (s *Service) Transcript(ctx context.Context, ownerID, callID uuid.UUID) ([]types.TranscriptEntry, error) {
	c, err := s.Get(ctx, ownerID, callID)
	if err != nil {
		return nil, err
	}
	return s.store.Transcripts().List(ctx, c.ID)
}

// StreamBinding is what a media relay needs to start a conversation.
type StreamBinding struct {
	Call     *types.Call
	Lead     *types.Lead
	Settings types.UserSettings
}

// BindStream resolves the call a Twilio media stream belongs to.
func (s *Service) BindStream(ctx context.Context, callID uuid.UUID, callSID string) (*StreamBinding, error) {
	id, err := s.resolve(ctx, callID, callSID)
	if err != nil {
		return nil, err
	}
	c, err := s.store.Calls().Get(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	if c.Status.Terminal() {
		return nil, core.NewConflictError("call has already ended", nil)
	}
	b := &StreamBinding{Call: c}
	if c.LeadID != nil {
		lead, err := s.store.Leads().Get(ctx, c.OwnerID, *c.LeadID)
		if err == nil {
			b.Lead = lead
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	b.Settings, err = s.store.Settings().Get(ctx, c.OwnerID)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) RelayStarted(ctx context.Context, callID uuid.UUID, conversationID string) {
	c, changed, err := s.update(ctx, callID, func(c *types.Call) error {
		if conversationID != "" {
			c.ConversationID = conversationID
		}
		if c.StartedAt == nil {
			now := s.now().UTC()
			c.StartedAt = &now
		}
		s.appendEvent(c, types.CallEventRelayStarted, map[string]any{"conversation_id": conversationID})
		return nil
	})
	if err != nil {
		s.logger.Warn("record relay start", "call_id", callID.String(), "error", err)
		return
	}
	if changed {
		s.publishUpdated(ctx, c)
	}
}

func (s *Service) RelayStopped(ctx context.Context, callID uuid.UUID, reason string) {
	c, changed, err := s.update(ctx, callID, func(c *types.Call) error {
		s.appendEvent(c, types.CallEventRelayStopped, map[string]any{"reason": reason})
		return nil
	})
	if err != nil {
		s.logger.Warn("record relay stop", "call_id", callID.String(), "error", err)
		return
	}
	if changed {
		s.publishUpdated(ctx, c)
	}
}
