package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mohit-ai/mohit/pkg/core"
	"github.com/mohit-ai/mohit/pkg/core/calls"
	"github.com/mohit-ai/mohit/pkg/gateway/config"
	"github.com/mohit-ai/mohit/pkg/gateway/lifecycle"
	"github.com/mohit-ai/mohit/pkg/gateway/live/broadcast"
	"github.com/mohit-ai/mohit/pkg/gateway/metrics"
	"github.com/mohit-ai/mohit/pkg/gateway/principal"
	"github.com/mohit-ai/mohit/pkg/gateway/ratelimit"
)

// EventsHandler upgrades /ws/events for signed-in browsers.
type EventsHandler struct {
	Config    config.Config
	Hub       *broadcast.Hub
	Calls     *calls.Service
	Limiter   *ratelimit.Limiter
	Lifecycle *lifecycle.Lifecycle
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

func (h EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	if h.Lifecycle != nil && h.Lifecycle.IsDraining() {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrOverloaded, Message: "server is draining", Code: "draining"}, http.StatusServiceUnavailable)
		return
	}
	if !h.originAllowed(r) {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrPermission, Message: "origin is not allowed", Param: "Origin"}, http.StatusForbidden)
		return
	}
	uid := userID(r)
	if uid == uuid.Nil {
		writeError(w, r, core.NewAuthenticationError("missing session token"))
		return
	}

	if h.Limiter != nil {
		resolved := principal.Resolve(r, h.Config.TrustProxyHeaders)
		dec := h.Limiter.AcquireWSSession(resolved.Key, time.Now())
		if !dec.Allowed {
			h.Metrics.RecordRateLimit("ws_session")
			writeError(w, r, core.NewRateLimitError("too many concurrent event connections", dec.RetryAfter))
			return
		}
		if dec.Permit != nil {
			defer dec.Permit.Release()
		}
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	if h.Logger != nil {
		h.Logger.Debug("event client connected", "request_id", reqID, "user_id", uid.String())
	}
	h.Hub.Serve(r.Context(), conn, uid, h.authorize)
}

// authorize admits call rooms owned by userID.
func (h EventsHandler) authorize(ctx context.Context, userID uuid.UUID, room string) error {
	kind, id, err := broadcast.ParseRoom(room)
	if err != nil || kind != "call" || h.Calls == nil {
		return broadcast.ErrForbidden
	}
	if _, err := h.Calls.Get(ctx, userID, id); err != nil {
		return broadcast.ErrForbidden
	}
	return nil
}

func (h EventsHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}
