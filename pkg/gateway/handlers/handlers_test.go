package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/mohit-ai/mohit/pkg/gateway/auth"
)

type recordedEvent struct {
	userID uuid.UUID
	event  string
}

type fakeUserNotifier struct {
	mu   sync.Mutex
	sent []recordedEvent
}

func (f *fakeUserNotifier) NotifyUser(_ context.Context, userID uuid.UUID, event string, _ any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, recordedEvent{userID, event})
}

func (f *fakeUserNotifier) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.sent {
		if e.event == event {
			n++
		}
	}
	return n
}

// newRequest builds a request as mw.Auth would hand it to a handler.
func newRequest(method, target, body string, user uuid.UUID, pathValues ...string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != uuid.Nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), &auth.Principal{UserID: user}))
	}
	for i := 0; i+1 < len(pathValues); i += 2 {
		req.SetPathValue(pathValues[i], pathValues[i+1])
	}
	return req
}

func serve(h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal %q: %v", rr.Body.String(), err)
	}
	return out
}

type errorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Param   string `json:"param"`
		Code    string `json:"code"`
		Details any    `json:"details"`
	} `json:"error"`
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, status int, errType string) errorBody {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("status=%d, want %d body=%q", rr.Code, status, rr.Body.String())
	}
	body := decodeBody[errorBody](t, rr)
	if body.Error.Type != errType {
		t.Fatalf("error type=%q, want %q", body.Error.Type, errType)
	}
	return body
}
