package calls

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/mohit-ai/mohit/pkg/core/telephony/twilio"
	"github.com/mohit-ai/mohit/pkg/core/types"
)

const (
	sayCallEnded   = "This call has ended. Goodbye."
	sayUnavailable = "We are unable to connect your call right now. Please try again later."
)

// VoiceTwiML answers Twilio's voice webhook for a call placed by Initiate.
// AI and HYBRID calls are connected to the media stream; HUMAN calls are
// dialled through to the owner's forward number when one is configured.
func (s *Service) VoiceTwiML(ctx context.Context, callID uuid.UUID, callSID string) (string, error) {
	id, err := s.resolve(ctx, callID, callSID)
	if err != nil {
		return "", err
	}
	c, err := s.store.Calls().Get(ctx, id)
	if err != nil {
		return "", notFound(err)
	}
	if c.Status.Terminal() {
		return twilio.SayHangup(sayCallEnded)
	}
	settings, err := s.store.Settings().Get(ctx, c.OwnerID)
	if err != nil {
		return "", err
	}

	if c.Mode == types.CallModeHuman {
		if number := strings.TrimSpace(settings.HumanForwardNumber); number != "" {
			return twilio.Dial(number, c.From, settings.RecordCalls)
		}
	}
	if s.cfg.MediaStreamURL == "" {
		s.logger.Warn("voice webhook without media stream url", "call_id", c.ID.String())
		return twilio.SayHangup(sayUnavailable)
	}
	return twilio.ConnectStream(s.cfg.MediaStreamURL, map[string]string{"callId": c.ID.String()})
}

// UnavailableTwiML is served when the voice webhook cannot be processed.
func UnavailableTwiML() string {
	twiml, err := twilio.SayHangup(sayUnavailable)
	if err != nil {
		return `<?xml version="1.0" encoding="UTF-8"?><Response><Hangup/></Response>`
	}
	return twiml
}
