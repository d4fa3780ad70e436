// Package relay bridges a Twilio Media Streams WebSocket to an ElevenLabs
// conversational agent for the lifetime of one phone call.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/mohit-ai/mohit/pkg/core/telephony/twilio"
	"github.com/mohit-ai/mohit/pkg/core/types"
	"github.com/mohit-ai/mohit/pkg/core/voice/convai"
	"github.com/mohit-ai/mohit/pkg/gateway/metrics"
)

type Config struct {
	MaxSessionDuration time.Duration
	HandshakeTimeout   time.Duration
	WriteTimeout       time.Duration
	MaxMessageBytes    int64
	MaxSessions        int
}

func (c Config) withDefaults() Config {
	if c.MaxSessionDuration <= 0 {
		c.MaxSessionDuration = time.Hour
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 << 10
	}
	return c
}

// Agent is the conversational side of the relay.
type Agent interface {
	SendAudio(ctx context.Context, audio []byte) error
	SendContextualUpdate(ctx context.Context, text string) error
	Events() <-chan convai.Event
	Err() error
	Close() error
}

type DialFunc func(ctx context.Context, init convai.InitData) (Agent, error)

// ConvAIDialer dials ElevenLabs with cfg for every session.
func ConvAIDialer(cfg convai.Config) DialFunc {
	return func(ctx context.Context, init convai.InitData) (Agent, error) {
		conn, err := convai.Dial(ctx, cfg, init)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Binding ties a media stream to a call record.
type Binding struct {
	CallID  uuid.UUID
	OwnerID uuid.UUID
	Init    convai.InitData
	// Paused starts the session with audio forwarding off (call already in
	// HUMAN mode).
	Paused bool
}

// Hooks connect the relay to call state. Implementations log their own
// failures; the relay keeps running.
type Hooks interface {
	Bind(ctx context.Context, start twilio.StreamStartInfo) (Binding, error)
	Started(ctx context.Context, b Binding, conversationID string)
	Transcript(ctx context.Context, b Binding, speaker types.Speaker, text string)
	Stopped(ctx context.Context, b Binding, reason string)
}

// Close reasons reported to Hooks.Stopped and metrics.
const (
	ReasonCallerHangup = "caller_hangup"
	ReasonHandedOff    = "handed_off"
	ReasonTwilioClosed = "twilio_closed"
	ReasonAgentClosed  = "agent_closed"
	ReasonMaxDuration  = "max_duration"
	ReasonCanceled     = "canceled"
	ReasonError        = "error"
)

var (
	errCallerHangup = errors.New("caller hung up")
	errHandedOff    = errors.New("call redirected away from the stream")
	errTwilioClosed = errors.New("twilio stream closed")
	errAgentClosed  = errors.New("agent closed")

	ErrTooManySessions = errors.New("too many relay sessions")
)

type Relay struct {
	cfg      Config
	dial     DialFunc
	hooks    Hooks
	registry *Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func New(cfg Config, dial DialFunc, hooks Hooks, registry *Registry, logger *slog.Logger, m *metrics.Metrics) *Relay {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Relay{
		cfg:      cfg.withDefaults(),
		dial:     dial,
		hooks:    hooks,
		registry: registry,
		logger:   logger,
		metrics:  m,
	}
}

func (r *Relay) Registry() *Registry { return r.registry }

// Serve runs one session over conn and closes it before returning. The
// returned error describes setup failures; a session that ran reports its
// close reason through Hooks.Stopped instead.
func (r *Relay) Serve(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	if r.cfg.MaxSessions > 0 && r.registry.Count() >= r.cfg.MaxSessions {
		closeWith(conn, websocket.CloseTryAgainLater, "relay at capacity", r.cfg.WriteTimeout)
		return ErrTooManySessions
	}
	conn.SetReadLimit(r.cfg.MaxMessageBytes)

	start, err := r.awaitStart(conn)
	if err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, "expected start frame", r.cfg.WriteTimeout)
		return err
	}
	binding, err := r.hooks.Bind(ctx, *start.Start)
	if err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, "unknown call", r.cfg.WriteTimeout)
		return fmt.Errorf("bind stream: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.MaxSessionDuration)
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(ctx, r.cfg.HandshakeTimeout)
	agent, err := r.dial(dialCtx, binding.Init)
	dialCancel()
	if err != nil {
		r.hooks.Stopped(context.WithoutCancel(ctx), binding, ReasonError)
		closeWith(conn, websocket.CloseInternalServerErr, "agent unavailable", r.cfg.WriteTimeout)
		return fmt.Errorf("dial agent: %w", err)
	}
	defer agent.Close()

	s := &session{
		relay:     r,
		binding:   binding,
		streamSID: start.StreamSID,
		twilio:    conn,
		agent:     agent,
		logger: r.logger.With(
			"call_id", binding.CallID.String(),
			"call_sid", start.Start.CallSID,
			"stream_sid", start.StreamSID,
		),
	}
	s.paused.Store(binding.Paused)

	unregister := r.registry.Register(binding.CallID, Handle{Cancel: cancel, SetPaused: s.setPaused, SetHandoff: s.handoff.Store})
	defer unregister()

	started := time.Now()
	r.metrics.RecordRelayStart()
	s.logger.Info("relay session started", "paused", binding.Paused)

	err = s.run(ctx)
	reason := reasonFor(err, ctx)

	r.metrics.RecordRelayEnd(reason, time.Since(started))
	s.logger.Info("relay session ended", "reason", reason, "duration_ms", time.Since(started).Milliseconds())
	r.hooks.Stopped(context.WithoutCancel(ctx), binding, reason)
	return nil
}

func (r *Relay) awaitStart(conn *websocket.Conn) (twilio.StreamFrame, error) {
	deadline := time.Now().Add(r.cfg.HandshakeTimeout)
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return twilio.StreamFrame{}, fmt.Errorf("read start frame: %w", err)
		}
		frame, err := twilio.DecodeStreamFrame(data)
		if err != nil {
			return twilio.StreamFrame{}, err
		}
		switch frame.Event {
		case twilio.StreamConnected:
			continue
		case twilio.StreamStart:
			return frame, nil
		default:
			return twilio.StreamFrame{}, fmt.Errorf("unexpected %q frame before start", frame.Event)
		}
	}
}

func reasonFor(err error, ctx context.Context) string {
	switch {
	case errors.Is(err, errCallerHangup):
		return ReasonCallerHangup
	case errors.Is(err, errHandedOff):
		return ReasonHandedOff
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return ReasonMaxDuration
	case errors.Is(ctx.Err(), context.Canceled):
		return ReasonCanceled
	case errors.Is(err, errTwilioClosed):
		return ReasonTwilioClosed
	case errors.Is(err, errAgentClosed):
		return ReasonAgentClosed
	default:
		return ReasonError
	}
}

type session struct {
	relay     *Relay
	binding   Binding
	streamSID string
	twilio    *websocket.Conn
	agent     Agent
	logger    *slog.Logger

	paused  atomic.Bool
	handoff atomic.Bool
	writeMu sync.Mutex
}

func (s *session) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.callerToAgent(gctx) })
	g.Go(func() error { return s.agentToCaller(gctx) })
	g.Go(func() error {
		// Both pumps block on I/O; closing the sockets unblocks them.
		<-gctx.Done()
		_ = s.agent.Close()
		closeWith(s.twilio, websocket.CloseNormalClosure, "", s.relay.cfg.WriteTimeout)
		_ = s.twilio.Close()
		return nil
	})
	return g.Wait()
}

func (s *session) callerToAgent(ctx context.Context) error {
	for {
		_, data, err := s.twilio.ReadMessage()
		if err != nil {
			return errTwilioClosed
		}
		frame, err := twilio.DecodeStreamFrame(data)
		if err != nil {
			s.logger.Debug("skipping bad stream frame", "error", err)
			continue
		}
		switch frame.Event {
		case twilio.StreamMedia:
			if s.paused.Load() {
				continue
			}
			if frame.Media.Track != "" && frame.Media.Track != "inbound" {
				continue
			}
			audio, err := frame.Media.Audio()
			if err != nil || len(audio) == 0 {
				continue
			}
			if err := s.agent.SendAudio(ctx, audio); err != nil {
				return fmt.Errorf("%w: %v", errAgentClosed, err)
			}
			s.relay.metrics.RecordRelayAudio("inbound", len(audio))
		case twilio.StreamDTMF:
			if frame.DTMF != nil && !s.paused.Load() {
				_ = s.agent.SendContextualUpdate(ctx, "The caller pressed "+frame.DTMF.Digit+" on their keypad.")
			}
		case twilio.StreamStop:
			if s.handoff.Load() {
				return errHandedOff
			}
			return errCallerHangup
		}
	}
}

func (s *session) agentToCaller(ctx context.Context) error {
	for {
		var ev convai.Event
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok = <-s.agent.Events():
		}
		if !ok {
			if err := s.agent.Err(); err != nil {
				return fmt.Errorf("%w: %v", errAgentClosed, err)
			}
			return errAgentClosed
		}

		switch ev.Type {
		case convai.TypeInitiationMetadata:
			if ev.AgentAudioFormat != "" && ev.AgentAudioFormat != "ulaw_8000" {
				s.logger.Warn("agent audio format is not ulaw_8000; caller will hear noise", "format", ev.AgentAudioFormat)
			}
			s.relay.hooks.Started(ctx, s.binding, ev.ConversationID)
		case convai.TypeAudio:
			if s.paused.Load() {
				continue
			}
			if err := s.writeTwilio(twilio.MediaFrame(s.streamSID, ev.Audio)); err != nil {
				return errTwilioClosed
			}
			s.relay.metrics.RecordRelayAudio("outbound", len(ev.Audio))
		case convai.TypeInterruption:
			if err := s.writeTwilio(twilio.ClearFrame(s.streamSID)); err != nil {
				return errTwilioClosed
			}
		case convai.TypeUserTranscript:
			if ev.Text != "" {
				s.relay.hooks.Transcript(ctx, s.binding, types.SpeakerCaller, ev.Text)
			}
		case convai.TypeAgentResponse:
			if ev.Text != "" {
				s.relay.hooks.Transcript(ctx, s.binding, types.SpeakerAI, ev.Text)
			}
		case convai.TypeAgentResponseCorrection:
			s.logger.Debug("agent response corrected", "original", ev.Original, "corrected", ev.Text)
		}
	}
}

func (s *session) setPaused(paused bool) {
	if s.paused.Swap(paused) == paused {
		return
	}
	if paused {
		// Drop agent audio Twilio has buffered so the human starts clean.
		if err := s.writeTwilio(twilio.ClearFrame(s.streamSID)); err != nil {
			s.logger.Debug("clear on pause failed", "error", err)
		}
	}
	s.logger.Info("relay audio forwarding changed", "paused", paused)
}

func (s *session) writeTwilio(frame twilio.StreamFrame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.twilio.SetWriteDeadline(time.Now().Add(s.relay.cfg.WriteTimeout))
	return s.twilio.WriteJSON(frame)
}

func closeWith(conn *websocket.Conn, code int, text string, timeout time.Duration) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(timeout))
}
