package relay

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/goleak"

	"github.com/mohit-ai/mohit/pkg/core/telephony/twilio"
	"github.com/mohit-ai/mohit/pkg/core/types"
	"github.com/mohit-ai/mohit/pkg/core/voice/convai"
)

func verifyNoLeaks(t *testing.T) {
	t.Helper()
	ignore := goleak.IgnoreCurrent()
	t.Cleanup(func() { goleak.VerifyNone(t, ignore) })
}

type fakeAgent struct {
	events  chan convai.Event
	audio   chan []byte
	updates chan string

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{
		events:  make(chan convai.Event, 16),
		audio:   make(chan []byte, 16),
		updates: make(chan string, 16),
		closed:  make(chan struct{}),
	}
}

func (a *fakeAgent) SendAudio(ctx context.Context, audio []byte) error {
	select {
	case a.audio <- append([]byte(nil), audio...):
		return nil
	case <-a.closed:
		return errors.New("agent closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *fakeAgent) SendContextualUpdate(ctx context.Context, text string) error {
	select {
	case a.updates <- text:
		return nil
	case <-a.closed:
		return errors.New("agent closed")
	}
}

func (a *fakeAgent) Events() <-chan convai.Event { return a.events }
func (a *fakeAgent) Err() error                  { return nil }

func (a *fakeAgent) Close() error {
	a.closeOnce.Do(func() { close(a.closed) })
	return nil
}

type transcriptLine struct {
	speaker types.Speaker
	text    string
}

type fakeHooks struct {
	callID uuid.UUID
	paused bool

	started     chan string
	transcripts chan transcriptLine
	stopped     chan string
}

func newFakeHooks(callID uuid.UUID) *fakeHooks {
	return &fakeHooks{
		callID:      callID,
		started:     make(chan string, 1),
		transcripts: make(chan transcriptLine, 16),
		stopped:     make(chan string, 1),
	}
}

func (h *fakeHooks) Bind(_ context.Context, start twilio.StreamStartInfo) (Binding, error) {
	if start.CustomParameters["callId"] != h.callID.String() {
		return Binding{}, errors.New("unknown call")
	}
	return Binding{
		CallID: h.callID,
		Init:   convai.InitData{FirstMessage: "Hi, this is Mohit."},
		Paused: h.paused,
	}, nil
}

func (h *fakeHooks) Started(_ context.Context, _ Binding, conversationID string) {
	h.started <- conversationID
}

func (h *fakeHooks) Transcript(_ context.Context, _ Binding, speaker types.Speaker, text string) {
	h.transcripts <- transcriptLine{speaker, text}
}

func (h *fakeHooks) Stopped(_ context.Context, _ Binding, reason string) {
	h.stopped <- reason
}

type harness struct {
	relay  *Relay
	hooks  *fakeHooks
	agents chan *fakeAgent
	conn   *websocket.Conn
	served chan error
}

func newHarness(t *testing.T, cfg Config, hooks *fakeHooks) *harness {
	t.Helper()
	h := &harness{
		hooks:  hooks,
		agents: make(chan *fakeAgent, 1),
		served: make(chan error, 1),
	}
	dial := func(ctx context.Context, init convai.InitData) (Agent, error) {
		if init.FirstMessage == "" {
			t.Errorf("init data not forwarded")
		}
		a := newFakeAgent()
		h.agents <- a
		return a, nil
	}
	h.relay = New(cfg, dial, hooks, NewRegistry(), nil, nil)

	var wg sync.WaitGroup
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		wg.Add(1)
		defer wg.Done()
		h.served <- h.relay.Serve(context.Background(), conn)
	}))

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		ts.Close()
		t.Fatalf("dial: %v", err)
	}
	h.conn = conn
	t.Cleanup(func() {
		conn.Close()
		h.relay.Registry().CancelAll()
		wg.Wait()
		ts.Close()
	})
	return h
}

func (h *harness) send(t *testing.T, frame map[string]any) {
	t.Helper()
	if err := h.conn.WriteJSON(frame); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (h *harness) start(t *testing.T, callID uuid.UUID) {
	t.Helper()
	h.send(t, map[string]any{"event": "connected", "protocol": "Call", "version": "1.0.0"})
	h.send(t, map[string]any{
		"event":     "start",
		"streamSid": "MZ123",
		"start": map[string]any{
			"streamSid":        "MZ123",
			"callSid":          "CA123",
			"tracks":           []string{"inbound"},
			"customParameters": map[string]string{"callId": callID.String()},
			"mediaFormat":      map[string]any{"encoding": "audio/x-mulaw", "sampleRate": 8000, "channels": 1},
		},
	})
}

func (h *harness) sendMedia(t *testing.T, audio []byte) {
	t.Helper()
	h.send(t, map[string]any{
		"event":     "media",
		"streamSid": "MZ123",
		"media":     map[string]any{"track": "inbound", "payload": base64.StdEncoding.EncodeToString(audio)},
	})
}

func (h *harness) readFrame(t *testing.T) twilio.StreamFrame {
	t.Helper()
	_ = h.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := h.conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	frame, err := twilio.DecodeStreamFrame(data)
	if err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return frame
}

func (h *harness) agent(t *testing.T) *fakeAgent {
	t.Helper()
	select {
	case a := <-h.agents:
		return a
	case <-time.After(2 * time.Second):
		t.Fatalf("agent was never dialed")
		return nil
	}
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

func TestRelay_BridgesAudioAndTranscripts(t *testing.T) {
	verifyNoLeaks(t)

	callID := uuid.New()
	h := newHarness(t, Config{}, newFakeHooks(callID))
	h.start(t, callID)
	agent := h.agent(t)

	h.sendMedia(t, []byte{0x7f, 0x7e})
	if got := waitFor(t, agent.audio, "caller audio"); !bytes.Equal(got, []byte{0x7f, 0x7e}) {
		t.Fatalf("agent audio=%v", got)
	}

	agent.events <- convai.Event{Type: convai.TypeInitiationMetadata, ConversationID: "conv_1", AgentAudioFormat: "ulaw_8000"}
	if got := waitFor(t, h.hooks.started, "started hook"); got != "conv_1" {
		t.Fatalf("conversation id=%q", got)
	}

	agent.events <- convai.Event{Type: convai.TypeAudio, Audio: []byte{1, 2, 3}}
	frame := h.readFrame(t)
	if frame.Event != twilio.StreamMedia || frame.StreamSID != "MZ123" {
		t.Fatalf("frame=%+v", frame)
	}
	if audio, _ := frame.Media.Audio(); !bytes.Equal(audio, []byte{1, 2, 3}) {
		t.Fatalf("caller audio=%v", audio)
	}

	agent.events <- convai.Event{Type: convai.TypeInterruption}
	if frame := h.readFrame(t); frame.Event != twilio.StreamClear {
		t.Fatalf("expected clear, got %q", frame.Event)
	}

	agent.events <- convai.Event{Type: convai.TypeUserTranscript, Text: "I'd like a demo"}
	agent.events <- convai.Event{Type: convai.TypeAgentResponse, Text: "Sure, when works?"}
	if line := waitFor(t, h.hooks.transcripts, "caller transcript"); line.speaker != types.SpeakerCaller || line.text != "I'd like a demo" {
		t.Fatalf("line=%+v", line)
	}
	if line := waitFor(t, h.hooks.transcripts, "ai transcript"); line.speaker != types.SpeakerAI {
		t.Fatalf("line=%+v", line)
	}

	h.send(t, map[string]any{"event": "dtmf", "streamSid": "MZ123", "dtmf": map[string]any{"track": "inbound_track", "digit": "5"}})
	if got := waitFor(t, agent.updates, "dtmf update"); !strings.Contains(got, "5") {
		t.Fatalf("update=%q", got)
	}

	h.send(t, map[string]any{"event": "stop", "streamSid": "MZ123", "stop": map[string]any{"callSid": "CA123"}})
	if reason := waitFor(t, h.hooks.stopped, "stopped hook"); reason != ReasonCallerHangup {
		t.Fatalf("reason=%q, want %q", reason, ReasonCallerHangup)
	}
	if err := waitFor(t, h.served, "serve"); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
}

func TestRelay_PauseStopsForwarding(t *testing.T) {
	verifyNoLeaks(t)

	callID := uuid.New()
	h := newHarness(t, Config{}, newFakeHooks(callID))
	h.start(t, callID)
	agent := h.agent(t)

	// The session registers after dialing; media round-trips prove it is live.
	h.sendMedia(t, []byte{0x01})
	waitFor(t, agent.audio, "first audio")

	if !h.relay.Registry().SetPaused(callID, true) {
		t.Fatalf("SetPaused found no session")
	}
	if frame := h.readFrame(t); frame.Event != twilio.StreamClear {
		t.Fatalf("expected clear on pause, got %q", frame.Event)
	}

	agent.events <- convai.Event{Type: convai.TypeAudio, Audio: []byte{9}}
	agent.events <- convai.Event{Type: convai.TypeUserTranscript, Text: "still there?"}
	waitFor(t, h.hooks.transcripts, "transcript while paused")

	h.relay.Registry().SetPaused(callID, false)
	h.sendMedia(t, []byte{0x03})
	if got := waitFor(t, agent.audio, "resumed audio"); !bytes.Equal(got, []byte{0x03}) {
		t.Fatalf("audio after resume=%v", got)
	}

	agent.events <- convai.Event{Type: convai.TypeAudio, Audio: []byte{7}}
	frame := h.readFrame(t)
	if audio, _ := frame.Media.Audio(); !bytes.Equal(audio, []byte{7}) {
		t.Fatalf("first frame after resume=%v", audio)
	}
}

func TestRelay_StopAfterHandoffIsNotAHangup(t *testing.T) {
	verifyNoLeaks(t)

	callID := uuid.New()
	h := newHarness(t, Config{}, newFakeHooks(callID))
	h.start(t, callID)
	agent := h.agent(t)

	h.sendMedia(t, []byte{0x01})
	waitFor(t, agent.audio, "first audio")

	if !h.relay.Registry().SetHandoff(callID, true) {
		t.Fatalf("SetHandoff found no session")
	}
	h.send(t, map[string]any{"event": "stop", "streamSid": "MZ123", "stop": map[string]any{"callSid": "CA123"}})
	if reason := waitFor(t, h.hooks.stopped, "stopped hook"); reason != ReasonHandedOff {
		t.Fatalf("reason=%q, want %q", reason, ReasonHandedOff)
	}
	if err := waitFor(t, h.served, "serve"); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
}

func TestRelay_StartsPausedForHumanCalls(t *testing.T) {
	verifyNoLeaks(t)

	callID := uuid.New()
	hooks := newFakeHooks(callID)
	hooks.paused = true
	h := newHarness(t, Config{}, hooks)
	h.start(t, callID)
	agent := h.agent(t)

	h.sendMedia(t, []byte{0x01})
	select {
	case got := <-agent.audio:
		t.Fatalf("paused session forwarded audio %v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRelay_MaxDuration(t *testing.T) {
	verifyNoLeaks(t)

	callID := uuid.New()
	h := newHarness(t, Config{MaxSessionDuration: 50 * time.Millisecond}, newFakeHooks(callID))
	h.start(t, callID)
	h.agent(t)

	if reason := waitFor(t, h.hooks.stopped, "stopped hook"); reason != ReasonMaxDuration {
		t.Fatalf("reason=%q, want %q", reason, ReasonMaxDuration)
	}
}

func TestRelay_AgentClose(t *testing.T) {
	verifyNoLeaks(t)

	callID := uuid.New()
	h := newHarness(t, Config{}, newFakeHooks(callID))
	h.start(t, callID)
	agent := h.agent(t)

	close(agent.events)
	if reason := waitFor(t, h.hooks.stopped, "stopped hook"); reason != ReasonAgentClosed {
		t.Fatalf("reason=%q, want %q", reason, ReasonAgentClosed)
	}
}

func TestRelay_StopFromRegistry(t *testing.T) {
	verifyNoLeaks(t)

	callID := uuid.New()
	h := newHarness(t, Config{}, newFakeHooks(callID))
	h.start(t, callID)
	agent := h.agent(t)

	h.sendMedia(t, []byte{0x01})
	waitFor(t, agent.audio, "first audio")

	if !h.relay.Registry().Stop(callID) {
		t.Fatalf("Stop found no session")
	}
	if reason := waitFor(t, h.hooks.stopped, "stopped hook"); reason != ReasonCanceled {
		t.Fatalf("reason=%q, want %q", reason, ReasonCanceled)
	}
}

func TestRelay_UnknownCallIsRejected(t *testing.T) {
	verifyNoLeaks(t)

	h := newHarness(t, Config{}, newFakeHooks(uuid.New()))
	h.start(t, uuid.New())

	if err := waitFor(t, h.served, "serve"); err == nil || !strings.Contains(err.Error(), "bind stream") {
		t.Fatalf("Serve() error = %v, want bind failure", err)
	}
	_ = h.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := h.conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("read err=%v, want policy violation close", err)
	}
}

func TestRelay_MediaBeforeStartIsRejected(t *testing.T) {
	verifyNoLeaks(t)

	h := newHarness(t, Config{}, newFakeHooks(uuid.New()))
	h.sendMedia(t, []byte{0x01})

	if err := waitFor(t, h.served, "serve"); err == nil {
		t.Fatalf("expected error for media before start")
	}
}
