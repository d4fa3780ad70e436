package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mohit-ai/mohit/pkg/core"
	"github.com/mohit-ai/mohit/pkg/store"
)

func TestFromError_ContextCanceled_Is408Cancelled(t *testing.T) {
	ce, status := FromError(context.Canceled, "req_test")
	if status != 408 {
		t.Fatalf("status=%d", status)
	}
	if ce.Type != core.ErrAPI {
		t.Fatalf("type=%q", ce.Type)
	}
	if ce.Code != "cancelled" {
		t.Fatalf("code=%q", ce.Code)
	}
	if ce.RequestID != "req_test" {
		t.Fatalf("request_id=%q", ce.RequestID)
	}
}

func TestFromError_StoreSentinels(t *testing.T) {
	tests := []struct {
		err    error
		status int
		typ    core.ErrorType
	}{
		{fmt.Errorf("get contact: %w", store.ErrNotFound), http.StatusNotFound, core.ErrNotFound},
		{store.ErrConflict, http.StatusConflict, core.ErrConflict},
		{store.ErrLimit, http.StatusBadRequest, core.ErrInvalidRequest},
		{errors.New("boom"), http.StatusInternalServerError, core.ErrAPI},
	}
	for _, tt := range tests {
		ce, status := FromError(tt.err, "req_x")
		if status != tt.status || ce.Type != tt.typ {
			t.Fatalf("FromError(%v) = %q/%d, want %q/%d", tt.err, ce.Type, status, tt.typ, tt.status)
		}
	}
}

func TestFromError_ProviderIs502(t *testing.T) {
	ce, status := FromError(core.NewProviderError("twilio", errors.New("503")), "req_test")
	if status != http.StatusBadGateway {
		t.Fatalf("status=%d", status)
	}
	if ce.Provider != "twilio" {
		t.Fatalf("provider=%q", ce.Provider)
	}
}

func TestWrite_ConflictCarriesDetailsAndRequestID(t *testing.T) {
	rr := httptest.NewRecorder()
	Write(rr, core.NewConflictError("overlap", []string{"evt_1"}), "req_abc")

	if rr.Code != http.StatusConflict {
		t.Fatalf("status=%d", rr.Code)
	}
	var env struct {
		Error struct {
			Type      string   `json:"type"`
			RequestID string   `json:"request_id"`
			Details   []string `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Error.Type != "conflict_error" || env.Error.RequestID != "req_abc" || len(env.Error.Details) != 1 {
		t.Fatalf("envelope=%+v", env.Error)
	}
}

func TestWrite_RateLimitSetsRetryAfter(t *testing.T) {
	rr := httptest.NewRecorder()
	Write(rr, core.NewRateLimitError("slow down", 3), "")
	if got := rr.Header().Get("Retry-After"); got != "3" {
		t.Fatalf("Retry-After=%q", got)
	}
}
