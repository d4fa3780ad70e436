package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohit-ai/mohit/pkg/core"
	"github.com/mohit-ai/mohit/pkg/core/calls"
	"github.com/mohit-ai/mohit/pkg/core/telephony/twilio"
	"github.com/mohit-ai/mohit/pkg/gateway/config"
	"github.com/mohit-ai/mohit/pkg/gateway/metrics"
)

// TwilioWebhooks serves the /twilio/* callbacks. Requests are authenticated by
// X-Twilio-Signature rather than a session token.
type TwilioWebhooks struct {
	Config  config.Config
	Calls   *calls.Service
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

const (
	webhookVoice         = "voice"
	webhookStatus        = "status"
	webhookRecording     = "recording"
	webhookTranscription = "transcription"
)

func (h TwilioWebhooks) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return h.Logger
}

// verify parses the form and checks the request signature. It writes the
// rejection itself and reports whether processing may continue.
func (h TwilioWebhooks) verify(w http.ResponseWriter, r *http.Request, kind string) bool {
	if err := r.ParseForm(); err != nil {
		h.Metrics.RecordWebhook(kind, "bad_request")
		writeError(w, r, core.NewInvalidRequestError("malformed form body"))
		return false
	}
	if !h.Config.TwilioValidateSignatures {
		return true
	}
	sig := r.Header.Get(twilio.SignatureHeader)
	if !twilio.ValidSignature(h.Config.TwilioAuthToken, h.Config.URL(r.URL.RequestURI()), r.PostForm, sig) {
		h.Metrics.RecordWebhook(kind, "forbidden")
		h.logger().Warn("twilio webhook signature rejected", "kind", kind, "path", r.URL.Path)
		writeError(w, r, core.NewPermissionError("invalid twilio signature"))
		return false
	}
	return true
}

// callRef reads the call ID we put on our own callback URLs, plus Twilio's CallSid.
func callRef(r *http.Request) (uuid.UUID, string) {
	id, err := uuid.Parse(strings.TrimSpace(r.URL.Query().Get("callId")))
	if err != nil {
		id = uuid.Nil
	}
	return id, strings.TrimSpace(r.PostForm.Get("CallSid"))
}

// ack acknowledges a processed callback. Twilio retries non-2xx responses, so
// processing failures are logged and counted but still answered with 200.
func (h TwilioWebhooks) ack(w http.ResponseWriter, r *http.Request, kind string, changed bool, err error) {
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
		level := slog.LevelError
		var ce *core.Error
		if errors.As(err, &ce) && ce.Type != core.ErrAPI && ce.Type != core.ErrProvider {
			level = slog.LevelWarn
		}
		h.logger().Log(r.Context(), level, "twilio webhook failed",
			"kind", kind,
			"call_sid", r.PostForm.Get("CallSid"),
			"error", err,
		)
	case !changed:
		outcome = "duplicate"
	}
	h.Metrics.RecordWebhook(kind, outcome)
	w.WriteHeader(http.StatusOK)
}

func writeTwiML(w http.ResponseWriter, twiml string) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(twiml))
}

func (h TwilioWebhooks) Voice(w http.ResponseWriter, r *http.Request) {
	if !h.verify(w, r, webhookVoice) {
		return
	}
	callID, callSID := callRef(r)
	twiml, err := h.Calls.VoiceTwiML(r.Context(), callID, callSID)
	if err != nil {
		h.Metrics.RecordWebhook(webhookVoice, "error")
		h.logger().Warn("voice webhook failed", "call_id", callID.String(), "call_sid", callSID, "error", err)
		writeTwiML(w, calls.UnavailableTwiML())
		return
	}
	h.Metrics.RecordWebhook(webhookVoice, "ok")
	writeTwiML(w, twiml)
}

func (h TwilioWebhooks) Status(w http.ResponseWriter, r *http.Request) {
	if !h.verify(w, r, webhookStatus) {
		return
	}
	callID, callSID := callRef(r)
	u := calls.StatusUpdate{
		CallID:   callID,
		CallSID:  callSID,
		Status:   r.PostForm.Get("CallStatus"),
		Duration: formInt(r, "CallDuration"),
		At:       formTime(r, "Timestamp"),
	}
	_, changed, err := h.Calls.ApplyTwilioStatus(r.Context(), u)
	h.ack(w, r, webhookStatus, changed, err)
}

func (h TwilioWebhooks) Recording(w http.ResponseWriter, r *http.Request) {
	if !h.verify(w, r, webhookRecording) {
		return
	}
	callID, callSID := callRef(r)
	u := calls.RecordingUpdate{
		CallID:          callID,
		CallSID:         callSID,
		RecordingSID:    strings.TrimSpace(r.PostForm.Get("RecordingSid")),
		URL:             strings.TrimSpace(r.PostForm.Get("RecordingUrl")),
		Status:          strings.TrimSpace(r.PostForm.Get("RecordingStatus")),
		DurationSeconds: formInt(r, "RecordingDuration"),
	}
	_, changed, err := h.Calls.AttachRecording(r.Context(), u)
	h.ack(w, r, webhookRecording, changed, err)
}

func (h TwilioWebhooks) Transcription(w http.ResponseWriter, r *http.Request) {
	if !h.verify(w, r, webhookTranscription) {
		return
	}
	callID, callSID := callRef(r)
	u := calls.TranscriptionUpdate{
		CallID:  callID,
		CallSID: callSID,
		Text:    r.PostForm.Get("TranscriptionText"),
		Status:  strings.TrimSpace(r.PostForm.Get("TranscriptionStatus")),
	}
	_, changed, err := h.Calls.AttachTranscription(r.Context(), u)
	h.ack(w, r, webhookTranscription, changed, err)
}

func formInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.PostForm.Get(key)))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// formTime parses Twilio's RFC 1123 timestamps; zero means "now".
func formTime(r *http.Request, key string) time.Time {
	raw := strings.TrimSpace(r.PostForm.Get(key))
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC1123Z, raw)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
