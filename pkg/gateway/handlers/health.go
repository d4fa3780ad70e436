package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mohit-ai/mohit/pkg/gateway/config"
	"github.com/mohit-ai/mohit/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type ReadyHandler struct {
	Config    config.Config
	Store     Pinger
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK          bool     `json:"ok"`
		Store       string   `json:"store"`
		Twilio      bool     `json:"twilio"`
		ConvAI      bool     `json:"convai"`
		Insights    bool     `json:"insights"`
		RedisFanout bool     `json:"redis_fanout"`
		Draining    bool     `json:"draining,omitempty"`
		Issues      []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)
	draining := h.Lifecycle != nil && h.Lifecycle.IsDraining()
	if draining {
		issues = append(issues, "server is draining")
	}
	if h.Store == nil {
		issues = append(issues, "store is not configured")
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.Store.Ping(ctx)
		cancel()
		if err != nil {
			issues = append(issues, "store ping failed")
		}
	}
	if h.Config.MaxBodyBytes <= 0 {
		issues = append(issues, "max_body_bytes must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 || h.Config.HandlerTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:          ok,
		Store:       string(h.Config.StoreDriver),
		Twilio:      h.Config.TwilioEnabled(),
		ConvAI:      h.Config.ConvAIEnabled(),
		Insights:    h.Config.InsightsEnabled(),
		RedisFanout: h.Config.RedisURL != "",
		Draining:    draining,
		Issues:      issues,
	})
}
