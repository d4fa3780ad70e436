package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mohit-ai/mohit/pkg/core"
	"github.com/mohit-ai/mohit/pkg/core/calls"
	"github.com/mohit-ai/mohit/pkg/core/telephony/twilio"
	"github.com/mohit-ai/mohit/pkg/core/types"
	"github.com/mohit-ai/mohit/pkg/core/voice/convai"
	"github.com/mohit-ai/mohit/pkg/gateway/config"
	"github.com/mohit-ai/mohit/pkg/gateway/lifecycle"
	"github.com/mohit-ai/mohit/pkg/gateway/live/relay"
	"github.com/mohit-ai/mohit/pkg/gateway/metrics"
)

// MediaHandler accepts Twilio Media Stream sockets on /twilio/media.
type MediaHandler struct {
	Config    config.Config
	Relay     *relay.Relay
	Lifecycle *lifecycle.Lifecycle
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

func (h MediaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Relay == nil {
		writeError(w, r, core.NewOverloadedError("conversational relay is not configured"))
		return
	}
	if h.Lifecycle != nil && h.Lifecycle.IsDraining() {
		reqID := requestID(r)
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrOverloaded, Message: "server is draining", Code: "draining"}, http.StatusServiceUnavailable)
		return
	}
	if h.Config.TwilioValidateSignatures {
		sig := r.Header.Get(twilio.SignatureHeader)
		if !twilio.ValidSignature(h.Config.TwilioAuthToken, h.Config.WSURL(r.URL.RequestURI()), nil, sig) {
			h.Metrics.RecordWebhook("media", "forbidden")
			writeError(w, r, core.NewPermissionError("invalid twilio signature"))
			return
		}
	}

	upgrader := websocket.Upgrader{
		// Twilio does not send an Origin header; the signature above authenticates it.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	if err := h.Relay.Serve(r.Context(), conn); err != nil {
		logger := h.Logger
		if logger == nil {
			logger = slog.New(slog.DiscardHandler)
		}
		logger.Warn("media stream rejected", "request_id", requestID(r), "error", err)
	}
}

// RelayHooks binds media streams to call records through the calls service.
type RelayHooks struct {
	Calls  *calls.Service
	Logger *slog.Logger
}

var _ relay.Hooks = RelayHooks{}

func (h RelayHooks) Bind(ctx context.Context, start twilio.StreamStartInfo) (relay.Binding, error) {
	callID, err := uuid.Parse(start.CustomParameters["callId"])
	if err != nil {
		callID = uuid.Nil
	}
	b, err := h.Calls.BindStream(ctx, callID, start.CallSID)
	if err != nil {
		return relay.Binding{}, err
	}
	return relay.Binding{
		CallID:  b.Call.ID,
		OwnerID: b.Call.OwnerID,
		Init:    initData(b),
		Paused:  !b.Call.Mode.AIActive(),
	}, nil
}

func initData(b *calls.StreamBinding) convai.InitData {
	vars := map[string]string{"call_id": b.Call.ID.String()}
	if b.Lead != nil {
		vars["lead_name"] = b.Lead.Name
		vars["company"] = b.Lead.Company
	}
	return convai.InitData{
		AgentID:          b.Settings.AgentID,
		VoiceID:          b.Settings.VoiceID,
		FirstMessage:     b.Settings.Greeting,
		DynamicVariables: vars,
	}
}

func (h RelayHooks) Started(ctx context.Context, b relay.Binding, conversationID string) {
	h.Calls.RelayStarted(ctx, b.CallID, conversationID)
}

func (h RelayHooks) Transcript(ctx context.Context, b relay.Binding, speaker types.Speaker, text string) {
	_, err := h.Calls.AppendTranscript(ctx, &types.Call{ID: b.CallID, OwnerID: b.OwnerID}, speaker, text)
	if err != nil && h.Logger != nil {
		h.Logger.Warn("append relay transcript", "call_id", b.CallID.String(), "error", err)
	}
}

func (h RelayHooks) Stopped(ctx context.Context, b relay.Binding, reason string) {
	h.Calls.RelayStopped(ctx, b.CallID, reason)
}
