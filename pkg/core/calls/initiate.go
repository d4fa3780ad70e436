package calls

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/mohit-ai/mohit/pkg/core"
	"github.com/mohit-ai/mohit/pkg/core/telephony/twilio"
	"github.com/mohit-ai/mohit/pkg/core/types"
	"github.com/mohit-ai/mohit/pkg/store"
)

// InitiateRequest places an outbound call. To wins over the lead's or
// contact's phone number when set.
type InitiateRequest struct {
	LeadID    *uuid.UUID
	ContactID *uuid.UUID
	To        string
	Mode      types.CallMode
}

func (s *Service) Initiate(ctx context.Context, ownerID uuid.UUID, req InitiateRequest) (*types.Call, error) {
	var lead *types.Lead
	var contact *types.Contact
	number := strings.TrimSpace(req.To)

	if req.LeadID != nil {
		l, err := s.store.Leads().Get(ctx, ownerID, *req.LeadID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, core.NewInvalidRequestErrorWithParam("lead not found", "lead_id")
		}
		if err != nil {
			return nil, err
		}
		lead = l
		if number == "" {
			number = l.Phone
		}
		if req.ContactID == nil && l.ContactID != nil {
			id := *l.ContactID
			req.ContactID = &id
		}
	}
	if req.ContactID != nil {
		c, err := s.store.Contacts().Get(ctx, ownerID, *req.ContactID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, core.NewInvalidRequestErrorWithParam("contact not found", "contact_id")
		}
		if err != nil {
			return nil, err
		}
		contact = c
		if number == "" {
			number = c.Phone
		}
	}

	to, err := NormalizePhone(number)
	if err != nil {
		return nil, core.NewInvalidRequestErrorWithParam(err.Error(), "to")
	}
	mode := req.Mode
	if mode == "" {
		mode = types.CallModeAI
	}

	settings, err := s.store.Settings().Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	call := &types.Call{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		LeadID:    req.LeadID,
		ContactID: req.ContactID,
		To:        to,
		From:      s.cfg.FromNumber,
		Direction: types.CallDirectionOutbound,
		Status:    types.CallStatusQueued,
		Mode:      mode,
	}
	s.appendEvent(call, types.CallEventCreated, map[string]any{"to": to, "mode": string(mode)})
	if err := s.store.Calls().Create(ctx, call); err != nil {
		return nil, err
	}
	s.publishUpdated(ctx, call)

	if s.tel == nil {
		s.fail(ctx, call.ID, errTelephonyDisabled)
		return nil, core.NewProviderError("twilio", errTelephonyDisabled)
	}

	params := twilio.CreateCallParams{
		To:             to,
		From:           s.cfg.FromNumber,
		URL:            callbackURL(s.cfg.VoiceURL, call.ID),
		StatusCallback: callbackURL(s.cfg.StatusCallbackURL, call.ID),
		Record:         settings.RecordCalls,
	}
	if settings.RecordCalls {
		params.RecordingStatusCallback = callbackURL(s.cfg.RecordingURL, call.ID)
	}
	res, err := s.tel.CreateCall(ctx, params)
	s.observer.RecordTwilioAPI("create_call", err)
	if err != nil {
		s.logger.Warn("twilio create call failed", "call_id", call.ID.String(), "error", err)
		s.fail(ctx, call.ID, err)
		return nil, providerError("create call", err)
	}

	updated, _, err := s.update(ctx, call.ID, func(c *types.Call) error {
		c.TwilioSID = res.SID
		started := s.now().UTC()
		c.StartedAt = &started
		if st, err := types.ParseTwilioCallStatus(res.Status); err == nil && types.CanTransition(c.Status, st) {
			c.Status = st
		}
		s.appendEvent(c, types.CallEventStatus, map[string]any{"status": string(c.Status), "twilio_sid": res.SID})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishUpdated(ctx, updated)
	s.touchContacted(ctx, ownerID, lead, contact)
	return updated, nil
}

// fail marks a call that never reached Twilio.
func (s *Service) fail(ctx context.Context, callID uuid.UUID, cause error) {
	c, changed, err := s.update(context.WithoutCancel(ctx), callID, func(c *types.Call) error {
		if c.Status.Terminal() {
			return errUnchanged
		}
		now := s.now().UTC()
		c.Status = types.CallStatusFailed
		c.EndedAt = &now
		s.appendEvent(c, types.CallEventError, map[string]any{"error": cause.Error()})
		return nil
	})
	if err != nil {
		s.logger.Error("mark call failed", "call_id", callID.String(), "error", err)
		return
	}
	if changed {
		s.publishUpdated(ctx, c)
		s.notify.NotifyCall(ctx, c.OwnerID, c.ID, types.EventCallEnded, c)
	}
}

// touchContacted moves a new lead to contacted and stamps the contact.
func (s *Service) touchContacted(ctx context.Context, ownerID uuid.UUID, lead *types.Lead, contact *types.Contact) {
	if lead != nil && lead.Status == types.LeadStatusNew {
		l, err := s.store.Leads().Modify(ctx, ownerID, lead.ID, func(l *types.Lead) error {
			if l.Status != types.LeadStatusNew {
				return errUnchanged
			}
			l.Status = types.LeadStatusContacted
			return nil
		})
		switch {
		case errors.Is(err, errUnchanged):
		case err != nil:
			s.logger.Warn("update lead status", "lead_id", lead.ID.String(), "error", err)
		default:
			s.notify.NotifyUser(ctx, ownerID, types.EventLeadUpdated, l)
		}
	}
	if contact != nil {
		now := s.now().UTC()
		_, err := s.store.Contacts().Modify(ctx, ownerID, contact.ID, func(c *types.Contact) error {
			c.LastContactedAt = &now
			return nil
		})
		if err != nil {
			s.logger.Warn("update contact last contacted", "contact_id", contact.ID.String(), "error", err)
		}
	}
}

// NormalizePhone strips formatting and requires E.164 (+ and 8 to 15 digits).
// Ten-digit numbers without a country code are treated as North American.
func NormalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("phone number is required")
	}
	plus := strings.HasPrefix(raw, "+")
	var digits strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", errors.New("phone number contains invalid characters")
		}
	}
	d := digits.String()
	if !plus && len(d) == 10 {
		d = "1" + d
	}
	if len(d) < 8 || len(d) > 15 || d[0] == '0' {
		return "", errors.New("phone number must be in E.164 format")
	}
	return "+" + d, nil
}
