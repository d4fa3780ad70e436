package calls

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mohit-ai/mohit/pkg/core"
	"github.com/mohit-ai/mohit/pkg/core/insights"
	"github.com/mohit-ai/mohit/pkg/core/types"
	"github.com/mohit-ai/mohit/pkg/store"
)

var errInsightsDisabled = errors.New("insights are not configured")

// GenerateInsights summarizes the call and stores the result. When the model
// returns a lead score the linked lead is updated too.
func (s *Service) GenerateInsights(ctx context.Context, callID uuid.UUID) (*types.CallInsights, error) {
	if s.summarizer == nil {
		return nil, core.NewProviderError("gemini", errInsightsDisabled)
	}
	c, err := s.store.Calls().Get(ctx, callID)
	if err != nil {
		return nil, notFound(err)
	}
	transcript, err := s.store.Transcripts().List(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	in := insights.Input{Call: c, Transcript: transcript}
	if c.LeadID != nil {
		lead, err := s.store.Leads().Get(ctx, c.OwnerID, *c.LeadID)
		if err == nil {
			in.Lead = lead
		}
	}

	started := time.Now()
	out, err := s.summarizer.Summarize(ctx, in)
	s.observer.RecordInsights(err, time.Since(started))
	if errors.Is(err, insights.ErrNoTranscript) {
		return nil, core.NewInvalidRequestError("call has no transcript yet")
	}
	if err != nil {
		return nil, core.NewProviderError("gemini", err)
	}

	updated, _, err := s.update(ctx, c.ID, func(c *types.Call) error {
		c.Insights = out
		data := map[string]any{"sentiment": out.Sentiment, "model": out.Model}
		if out.LeadScore != nil {
			data["lead_score"] = *out.LeadScore
		}
		s.appendEvent(c, types.CallEventInsights, data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notify.NotifyCall(ctx, updated.OwnerID, updated.ID, types.EventCallInsights, map[string]any{
		"call_id":  updated.ID,
		"insights": out,
	})

	if in.Lead != nil && out.LeadScore != nil {
		score := *out.LeadScore
		lead, err := s.store.Leads().Modify(ctx, updated.OwnerID, in.Lead.ID, func(l *types.Lead) error {
			if l.Score == score {
				return errUnchanged
			}
			l.Score = score
			return nil
		})
		switch {
		case errors.Is(err, errUnchanged):
		case err != nil:
			s.logger.Warn("update lead score", "lead_id", in.Lead.ID.String(), "error", err)
		default:
			s.notify.NotifyUser(ctx, updated.OwnerID, types.EventLeadUpdated, lead)
		}
	}
	return out, nil
}

// GenerateInsightsFor checks ownership before generating.
func (s *Service) GenerateInsightsFor(ctx context.Context, ownerID, callID uuid.UUID) (*types.CallInsights, error) {
	if _, err := s.Get(ctx, ownerID, callID); err != nil {
		return nil, err
	}
	return s.GenerateInsights(ctx, callID)
}

func (s *Service) maybeScheduleInsights(ctx context.Context, c *types.Call) {
	if s.summarizer == nil || s.worker == nil {
		return
	}
	settings, err := s.store.Settings().Get(ctx, c.OwnerID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("load settings for insights", "call_id", c.ID.String(), "error", err)
		return
	}
	if err == nil && !settings.AutoInsights {
		return
	}
	callID := c.ID
	err = s.worker.Submit("call "+callID.String(), func(ctx context.Context) error {
		_, err := s.GenerateInsights(ctx, callID)
		return err
	})
	if err != nil {
		s.logger.Warn("schedule insights", "call_id", callID.String(), "error", err)
	}
}
