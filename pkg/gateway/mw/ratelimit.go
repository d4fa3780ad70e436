package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/mohit-ai/mohit/pkg/core"
	"github.com/mohit-ai/mohit/pkg/gateway/auth"
	"github.com/mohit-ai/mohit/pkg/gateway/metrics"
	"github.com/mohit-ai/mohit/pkg/gateway/principal"
	"github.com/mohit-ai/mohit/pkg/gateway/ratelimit"
)

type RateLimitOptions struct {
	TrustProxyHeaders bool
	Metrics           *metrics.Metrics
}

// RateLimit must run after Auth so signed-in users are bucketed by user ID.
func RateLimit(opts RateLimitOptions, limiter *ratelimit.Limiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health endpoints must remain cheap and reliable.
		switch r.URL.Path {
		case "/healthz", "/readyz", "/metrics":
			next.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		resolved := principal.Resolve(r, opts.TrustProxyHeaders)
		dec := limiter.AcquireRequest(resolved.Key, time.Now())
		if !dec.Allowed {
			opts.Metrics.RecordRateLimit("request")
			reqID, _ := RequestIDFrom(r.Context())
			ce := core.NewRateLimitError("rate limit exceeded", dec.RetryAfter)
			ce.RequestID = reqID
			if dec.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
			}
			writeJSONError(w, http.StatusTooManyRequests, ce)
			return
		}
		if dec.Permit != nil {
			// Long-lived sockets are capped separately; they must not pin a request slot.
			if auth.IsWebSocketUpgrade(r) {
				dec.Permit.Release()
			} else {
				defer dec.Permit.Release()
			}
		}

		next.ServeHTTP(w, r)
	})
}
