package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/mohit-ai/mohit/pkg/core/calls"
	"github.com/mohit-ai/mohit/pkg/core/telephony/twilio"
	"github.com/mohit-ai/mohit/pkg/core/types"
	"github.com/mohit-ai/mohit/pkg/gateway/config"
	"github.com/mohit-ai/mohit/pkg/gateway/metrics"
	"github.com/mohit-ai/mohit/pkg/store/memory"
)

type stubTelephony struct {
	mu        sync.Mutex
	n         int
	redirects []string
	hungUp    []string
}

func (s *stubTelephony) CreateCall(_ context.Context, p twilio.CreateCallParams) (*twilio.CallResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return &twilio.CallResource{SID: fmt.Sprintf("CA%032d", s.n), Status: "queued", To: p.To, From: p.From}, nil
}

func (s *stubTelephony) HangUp(_ context.Context, sid string) (*twilio.CallResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hungUp = append(s.hungUp, sid)
	return &twilio.CallResource{SID: sid, Status: "completed"}, nil
}

func (s *stubTelephony) Redirect(_ context.Context, sid, twiml string) (*twilio.CallResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redirects = append(s.redirects, twiml)
	return &twilio.CallResource{SID: sid, Status: "in-progress"}, nil
}

type callsEnv struct {
	store *memory.Store
	tel   *stubTelephony
	svc   *calls.Service
	h     CallsHandler
	owner uuid.UUID
}

func newCallsEnv() *callsEnv {
	e := &callsEnv{store: memory.New(), tel: &stubTelephony{}, owner: uuid.New()}
	e.svc = calls.New(calls.Config{
		FromNumber:        "+15550001111",
		VoiceURL:          "https://calls.example.com/twilio/voice",
		StatusCallbackURL: "https://calls.example.com/twilio/status",
		MediaStreamURL:    "wss://calls.example.com/twilio/media",
		MaxCallEvents:     50,
	}, calls.Deps{Store: e.store, Telephony: e.tel})
	e.h = CallsHandler{Calls: e.svc}
	return e
}

func (e *callsEnv) place(t *testing.T) types.Call {
	t.Helper()
	rr := serve(e.h.Create, newRequest(http.MethodPost, "/api/calls", `{"to":"+14155550100"}`, e.owner))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%q", rr.Code, rr.Body.String())
	}
	return decodeBody[types.Call](t, rr)
}

func TestCalls_CreateListGet(t *testing.T) {
	e := newCallsEnv()
	c := e.place(t)
	if c.TwilioSID == "" || c.Mode != types.CallModeAI || c.Status != types.CallStatusQueued {
		t.Fatalf("call=%+v", c)
	}

	rr := serve(e.h.List, newRequest(http.MethodGet, "/api/calls?status=queued", "", e.owner))
	if list := decodeBody[listResponse[types.Call]](t, rr); len(list.Data) != 1 {
		t.Fatalf("list=%+v", list)
	}
	rr = serve(e.h.Get, newRequest(http.MethodGet, "/api/calls/"+c.ID.String(), "", uuid.New(), "id", c.ID.String()))
	expectError(t, rr, http.StatusNotFound, "not_found_error")

	rr = serve(e.h.Create, newRequest(http.MethodPost, "/api/calls", `{"to":"12"}`, e.owner))
	if body := expectError(t, rr, http.StatusBadRequest, "invalid_request_error"); body.Error.Param != "to" {
		t.Fatalf("param=%q", body.Error.Param)
	}
	rr = serve(e.h.List, newRequest(http.MethodGet, "/api/calls?status=ringing-ish", "", e.owner))
	expectError(t, rr, http.StatusBadRequest, "invalid_request_error")
}

func TestCalls_TakeoverResumeEnd(t *testing.T) {
	e := newCallsEnv()
	c := e.place(t)
	id := c.ID.String()

	rr := serve(e.h.Takeover, newRequest(http.MethodPost, "/api/calls/"+id+"/takeover", "", e.owner, "id", id))
	if got := decodeBody[types.Call](t, rr); got.Mode != types.CallModeHuman {
		t.Fatalf("takeover status=%d mode=%q", rr.Code, got.Mode)
	}
	rr = serve(e.h.SetMode, newRequest(http.MethodPost, "/api/calls/"+id+"/mode", `{"mode":"hybrid"}`, e.owner, "id", id))
	if got := decodeBody[types.Call](t, rr); got.Mode != types.CallModeHybrid {
		t.Fatalf("mode status=%d mode=%q", rr.Code, got.Mode)
	}
	rr = serve(e.h.Resume, newRequest(http.MethodPost, "/api/calls/"+id+"/resume", "", e.owner, "id", id))
	if got := decodeBody[types.Call](t, rr); got.Mode != types.CallModeAI {
		t.Fatalf("resume status=%d mode=%q", rr.Code, got.Mode)
	}
	rr = serve(e.h.SetMode, newRequest(http.MethodPost, "/api/calls/"+id+"/mode", `{"mode":"robot"}`, e.owner, "id", id))
	expectError(t, rr, http.StatusBadRequest, "invalid_request_error")

	rr = serve(e.h.End, newRequest(http.MethodPost, "/api/calls/"+id+"/end", "", e.owner, "id", id))
	if rr.Code != http.StatusOK || len(e.tel.hungUp) != 1 || e.tel.hungUp[0] != c.TwilioSID {
		t.Fatalf("end status=%d hungUp=%v", rr.Code, e.tel.hungUp)
	}
}

func TestCalls_Transcript(t *testing.T) {
	e := newCallsEnv()
	c := e.place(t)
	id := c.ID.String()

	rr := serve(e.h.AppendTranscript, newRequest(http.MethodPost, "/api/calls/"+id+"/transcript",
		`{"text":"Customer asked for pricing"}`, e.owner, "id", id))
	if rr.Code != http.StatusCreated {
		t.Fatalf("append status=%d body=%q", rr.Code, rr.Body.String())
	}
	if entry := decodeBody[types.TranscriptEntry](t, rr); entry.Speaker != types.SpeakerAgent {
		t.Fatalf("speaker=%q", entry.Speaker)
	}
	rr = serve(e.h.AppendTranscript, newRequest(http.MethodPost, "/api/calls/"+id+"/transcript",
		`{"speaker":"caller","text":"fake"}`, e.owner, "id", id))
	expectError(t, rr, http.StatusBadRequest, "invalid_request_error")

	rr = serve(e.h.Transcript, newRequest(http.MethodGet, "/api/calls/"+id+"/transcript", "", e.owner, "id", id))
	list := decodeBody[struct {
		Data []types.TranscriptEntry `json:"data"`
	}](t, rr)
	if len(list.Data) != 1 {
		t.Fatalf("transcript=%+v", list.Data)
	}

	// Insights need a summarizer.
	rr = serve(e.h.Insights, newRequest(http.MethodPost, "/api/calls/"+id+"/insights", "", e.owner, "id", id))
	expectError(t, rr, http.StatusBadGateway, "provider_error")
}

const webhookToken = "twilio-secret"

func newWebhooks(e *callsEnv) TwilioWebhooks {
	return TwilioWebhooks{
		Config: config.Config{
			PublicBaseURL:            "https://calls.example.com",
			TwilioAuthToken:          webhookToken,
			TwilioValidateSignatures: true,
		},
		Calls:   e.svc,
		Metrics: metrics.New("test"),
	}
}

func signedForm(path string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(twilio.SignatureHeader, twilio.Signature(webhookToken, "https://calls.example.com"+path, form))
	return req
}

func TestTwilioWebhooks_StatusFlow(t *testing.T) {
	e := newCallsEnv()
	h := newWebhooks(e)
	c := e.place(t)

	for _, status := range []string{"ringing", "in-progress", "ringing", "completed"} {
		form := url.Values{"CallSid": {c.TwilioSID}, "CallStatus": {status}, "CallDuration": {"17"}}
		rr := serve(h.Status, signedForm("/twilio/status?callId="+c.ID.String(), form))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status=%d body=%q", status, rr.Code, rr.Body.String())
		}
	}
	got, err := e.svc.Get(context.Background(), e.owner, c.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != types.CallStatusCompleted || got.DurationSeconds != 17 || got.AnsweredAt == nil {
		t.Fatalf("call=%+v", got)
	}

	// Unknown calls are still acknowledged so Twilio stops retrying.
	rr := serve(h.Status, signedForm("/twilio/status", url.Values{"CallSid": {"CAunknown"}, "CallStatus": {"completed"}}))
	if rr.Code != http.StatusOK {
		t.Fatalf("unknown call status=%d", rr.Code)
	}
}

func TestTwilioWebhooks_RejectsBadSignature(t *testing.T) {
	e := newCallsEnv()
	h := newWebhooks(e)
	form := url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}}
	req := signedForm("/twilio/status", form)
	req.Header.Set(twilio.SignatureHeader, "bogus")

	rr := serve(h.Status, req)
	expectError(t, rr, http.StatusForbidden, "permission_error")

	h.Config.TwilioValidateSignatures = false
	req = signedForm("/twilio/status", form)
	req.Header.Del(twilio.SignatureHeader)
	if rr := serve(h.Status, req); rr.Code != http.StatusOK {
		t.Fatalf("unsigned with validation off: status=%d", rr.Code)
	}
}

func TestTwilioWebhooks_Voice(t *testing.T) {
	e := newCallsEnv()
	h := newWebhooks(e)
	c := e.place(t)

	rr := serve(h.Voice, signedForm("/twilio/voice?callId="+c.ID.String(), url.Values{"CallSid": {c.TwilioSID}}))
	if rr.Code != http.StatusOK || !strings.HasPrefix(rr.Header().Get("Content-Type"), "text/xml") {
		t.Fatalf("status=%d content-type=%q", rr.Code, rr.Header().Get("Content-Type"))
	}
	if !strings.Contains(rr.Body.String(), "<Connect>") || !strings.Contains(rr.Body.String(), c.ID.String()) {
		t.Fatalf("twiml=%s", rr.Body.String())
	}

	rr = serve(h.Voice, signedForm("/twilio/voice", url.Values{"CallSid": {"CAnope"}}))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "<Hangup") {
		t.Fatalf("unknown call twiml status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestTwilioWebhooks_RecordingAndTranscription(t *testing.T) {
	e := newCallsEnv()
	h := newWebhooks(e)
	c := e.place(t)

	form := url.Values{
		"CallSid":           {c.TwilioSID},
		"RecordingSid":      {"RE123"},
		"RecordingUrl":      {"https://api.twilio.com/recordings/RE123"},
		"RecordingStatus":   {"completed"},
		"RecordingDuration": {"31"},
	}
	if rr := serve(h.Recording, signedForm("/twilio/recording", form)); rr.Code != http.StatusOK {
		t.Fatalf("recording status=%d", rr.Code)
	}
	form = url.Values{
		"CallSid":             {c.TwilioSID},
		"TranscriptionText":   {"Hello there"},
		"TranscriptionStatus": {"completed"},
	}
	if rr := serve(h.Transcription, signedForm("/twilio/transcription", form)); rr.Code != http.StatusOK {
		t.Fatalf("transcription status=%d", rr.Code)
	}

	got, _ := e.svc.Get(context.Background(), e.owner, c.ID)
	if got.Recording == nil || got.Recording.SID != "RE123" || got.Recording.DurationSeconds != 31 {
		t.Fatalf("recording=%+v", got.Recording)
	}
	if got.TranscriptionText != "Hello there" {
		t.Fatalf("transcription=%q", got.TranscriptionText)
	}
}
