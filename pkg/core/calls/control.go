package calls

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/mohit-ai/mohit/pkg/core"
	"github.com/mohit-ai/mohit/pkg/core/telephony/twilio"
	"github.com/mohit-ai/mohit/pkg/core/types"
)

// SetMode hands the call to a human (HUMAN), back to the AI (AI) or lets both
// listen (HYBRID). Leaving AI pauses the relay; if the owner has a forward
// number, HUMAN also redirects the live call to it. Returning from a redirect
// reconnects the media stream.
func (s *Service) SetMode(ctx context.Context, ownerID, callID uuid.UUID, mode types.CallMode) (*types.Call, error) {
	c, err := s.Get(ctx, ownerID, callID)
	if err != nil {
		return nil, err
	}
	if c.Status.Terminal() {
		return nil, core.NewConflictError("call has already ended", map[string]any{"status": c.Status})
	}
	if c.Mode == mode {
		return c, nil
	}
	settings, err := s.store.Settings().Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	paused := !mode.AIActive()
	relayLive := s.relays.SetPaused(c.ID, paused)
	redirected := false
	if s.tel != nil && c.TwilioSID != "" {
		var twiml string
		handoff := false
		switch {
		case mode == types.CallModeHuman && strings.TrimSpace(settings.HumanForwardNumber) != "":
			twiml, err = twilio.Dial(settings.HumanForwardNumber, c.From, settings.RecordCalls)
			handoff = relayLive
		case mode.AIActive() && !relayLive && s.cfg.MediaStreamURL != "":
			twiml, err = twilio.ConnectStream(s.cfg.MediaStreamURL, map[string]string{"callId": c.ID.String()})
		}
		if err != nil {
			return nil, err
		}
		if twiml != "" {
			if handoff {
				s.relays.SetHandoff(c.ID, true)
			}
			_, err = s.tel.Redirect(ctx, c.TwilioSID, twiml)
			s.observer.RecordTwilioAPI("redirect", err)
			if err != nil {
				// Undo the relay pause so the caller is not left in silence.
				s.relays.SetPaused(c.ID, !c.Mode.AIActive())
				if handoff {
					s.relays.SetHandoff(c.ID, false)
				}
				return nil, providerError("redirect call", err)
			}
			redirected = true
		}
	}

	updated, _, err := s.update(ctx, c.ID, func(c *types.Call) error {
		from := c.Mode
		c.Mode = mode
		s.appendEvent(c, types.CallEventModeChanged, map[string]any{
			"from":       string(from),
			"to":         string(mode),
			"redirected": redirected,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	event := types.EventAIResumed
	if paused {
		event = types.EventAIPaused
	}
	s.notify.NotifyCall(ctx, updated.OwnerID, updated.ID, event, map[string]any{
		"call_id": updated.ID,
		"mode":    updated.Mode,
	})
	s.publishUpdated(ctx, updated)
	return updated, nil
}

// End hangs up a live call. Calls that never reached Twilio are canceled
// locally; otherwise the final status arrives through the status webhook.
func (s *Service) End(ctx context.Context, ownerID, callID uuid.UUID) (*types.Call, error) {
	c, err := s.Get(ctx, ownerID, callID)
	if err != nil {
		return nil, err
	}
	if c.Status.Terminal() {
		return c, nil
	}

	if c.TwilioSID != "" && s.tel != nil {
		_, err := s.tel.HangUp(ctx, c.TwilioSID)
		s.observer.RecordTwilioAPI("hang_up", err)
		if err != nil {
			return nil, providerError("hang up", err)
		}
	}
	s.relays.Stop(c.ID)

	updated, changed, err := s.update(ctx, c.ID, func(c *types.Call) error {
		if c.Status.Terminal() {
			return errUnchanged
		}
		if c.TwilioSID == "" {
			now := s.now().UTC()
			c.Status = types.CallStatusCanceled
			c.EndedAt = &now
		}
		s.appendEvent(c, types.CallEventEndRequested, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.publishUpdated(ctx, updated)
		if updated.Status.Terminal() {
			s.notify.NotifyCall(ctx, updated.OwnerID, updated.ID, types.EventCallEnded, updated)
		}
	}
	return updated, nil
}
