package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohit-ai/mohit/pkg/core/calls"
	"github.com/mohit-ai/mohit/pkg/core/insights"
	"github.com/mohit-ai/mohit/pkg/core/telephony/twilio"
	"github.com/mohit-ai/mohit/pkg/core/types"
	"github.com/mohit-ai/mohit/pkg/core/voice/convai"
	"github.com/mohit-ai/mohit/pkg/gateway/auth"
	"github.com/mohit-ai/mohit/pkg/gateway/config"
	"github.com/mohit-ai/mohit/pkg/gateway/handlers"
	"github.com/mohit-ai/mohit/pkg/gateway/lifecycle"
	"github.com/mohit-ai/mohit/pkg/gateway/live/broadcast"
	"github.com/mohit-ai/mohit/pkg/gateway/live/relay"
	"github.com/mohit-ai/mohit/pkg/gateway/metrics"
	"github.com/mohit-ai/mohit/pkg/gateway/mw"
	"github.com/mohit-ai/mohit/pkg/gateway/ratelimit"
	"github.com/mohit-ai/mohit/pkg/store"
	"github.com/mohit-ai/mohit/pkg/store/memory"
	"github.com/mohit-ai/mohit/pkg/store/postgres"
)

// Deps are the external collaborators. Nil fields disable the feature that
// needs them; Store falls back to an in-memory store.
type Deps struct {
	Store      store.Store
	Telephony  calls.Telephony
	Summarizer insights.Summarizer
	Redis      redis.UniversalClient
	DialAgent  relay.DialFunc
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	store     store.Store
	redis     redis.UniversalClient
	tokens    *auth.Tokens
	limiter   *ratelimit.Limiter
	metrics   *metrics.Metrics
	lifecycle *lifecycle.Lifecycle
	hub       *broadcast.Hub
	relays    *relay.Registry
	relay     *relay.Relay
	worker    *insights.Worker
	calls     *calls.Service
}

func New(cfg config.Config, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	st := deps.Store
	if st == nil {
		st = memory.New()
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		store:     st,
		redis:     deps.Redis,
		tokens:    auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL),
		metrics:   metrics.New("mohit"),
		lifecycle: &lifecycle.Lifecycle{},
		relays:    relay.NewRegistry(),
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                     cfg.LimitRPS,
			Burst:                   cfg.LimitBurst,
			MaxConcurrentRequests:   cfg.LimitMaxConcurrentRequests,
			MaxConcurrentWSSessions: cfg.LimitMaxEventSessions,
		}),
	}

	s.hub = broadcast.NewHub(broadcast.Config{
		SendQueue:       cfg.EventsSendQueue,
		PingInterval:    cfg.EventsPingInterval,
		WriteTimeout:    cfg.EventsWriteTimeout,
		MaxMessageBytes: cfg.EventsMaxMessageBytes,
		MaxRooms:        cfg.EventsMaxRooms,
	}, logger.With("component", "events"), s.metrics)
	if deps.Redis != nil {
		s.hub.AttachRedis(deps.Redis, cfg.RedisChannel)
	}

	if deps.Summarizer != nil {
		s.worker = insights.NewWorker(cfg.InsightsWorkers, 0, cfg.InsightsTimeout, logger.With("component", "insights"))
	}

	s.calls = calls.New(calls.Config{
		FromNumber:           cfg.TwilioFromNumber,
		VoiceURL:             cfg.URL("/twilio/voice"),
		StatusCallbackURL:    cfg.URL("/twilio/status"),
		RecordingURL:         cfg.URL("/twilio/recording"),
		MediaStreamURL:       cfg.WSURL("/twilio/media"),
		MaxCallEvents:        cfg.MaxCallEvents,
		MaxTranscriptEntries: cfg.MaxTranscriptEntries,
	}, calls.Deps{
		Store:      st,
		Telephony:  deps.Telephony,
		Notifier:   s.hub,
		Relays:     s.relays,
		Summarizer: deps.Summarizer,
		Worker:     s.worker,
		Observer:   s.metrics,
		Logger:     logger.With("component", "calls"),
	})

	if deps.DialAgent != nil {
		s.relay = relay.New(relay.Config{
			MaxSessionDuration: cfg.RelayMaxSessionDuration,
			HandshakeTimeout:   cfg.RelayHandshakeTimeout,
			WriteTimeout:       cfg.RelayWriteTimeout,
			MaxMessageBytes:    cfg.RelayMaxMessageBytes,
			MaxSessions:        cfg.RelayMaxSessions,
		}, deps.DialAgent, handlers.RelayHooks{
			Calls:  s.calls,
			Logger: logger.With("component", "relay"),
		}, s.relays, logger.With("component", "relay"), s.metrics)
	}

	s.routes()
	return s
}

// Open builds the configured backends and returns a server over them.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var deps Deps

	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	deps.Store = st
	if cfg.StoreDriver == config.StorePostgres && cfg.MigrateOnServe {
		pg := st.(*postgres.Store)
		lines, err := pg.Migrate(ctx, postgres.MigrateUp)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied", "count", len(lines))
	}

	if cfg.TwilioEnabled() {
		deps.Telephony = twilio.NewClient(twilio.Config{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			BaseURL:    cfg.TwilioBaseURL,
			Timeout:    cfg.TwilioRequestTimeout,
			MaxRetries: cfg.TwilioMaxRetries,
		})
	} else {
		logger.Warn("twilio is not configured; outbound calls are disabled")
	}

	if cfg.InsightsEnabled() {
		g, err := insights.NewGemini(ctx, insights.GeminiConfig{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiModel,
		})
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		deps.Summarizer = g
	}

	if cfg.ConvAIEnabled() {
		deps.DialAgent = relay.ConvAIDialer(convai.Config{
			APIKey:          cfg.ElevenLabsAPIKey,
			AgentID:         cfg.ElevenLabsAgentID,
			WSURL:           cfg.ElevenLabsWSURL,
			WriteTimeout:    cfg.RelayWriteTimeout,
			MaxMessageBytes: cfg.RelayMaxMessageBytes,
		})
	} else {
		logger.Warn("elevenlabs is not configured; media streams will be refused")
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = rdb.Ping(pctx).Err()
		cancel()
		if err != nil {
			_ = rdb.Close()
			_ = st.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		deps.Redis = rdb
	}

	return New(cfg, logger, deps), nil
}

// OpenStore connects the configured store backend without migrating it.
func OpenStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pg, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.Options{
			MaxConns:        int32(cfg.DBMaxConns),
			ConnMaxLifetime: cfg.DBConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return pg, nil
	default:
		return memory.New(), nil
	}
}

func (s *Server) routes() {
	s.mux.Handle("GET /healthz", handlers.HealthHandler{})
	s.mux.Handle("GET /readyz", handlers.ReadyHandler{Config: s.cfg, Store: s.store, Lifecycle: s.lifecycle})
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	authH := handlers.AuthHandler{Users: s.store.Users(), Tokens: s.tokens, CookieSecure: s.cfg.CookieSecure}
	s.mux.HandleFunc("POST /api/auth/register", authH.Register)
	s.mux.HandleFunc("POST /api/auth/login", authH.Login)
	s.mux.HandleFunc("POST /api/auth/logout", authH.Logout)
	s.mux.HandleFunc("GET /api/auth/me", authH.Me)

	contacts := handlers.ContactsHandler{Store: s.store.Contacts()}
	s.mux.HandleFunc("GET /api/contacts", contacts.List)
	s.mux.HandleFunc("POST /api/contacts", contacts.Create)
	s.mux.HandleFunc("GET /api/contacts/{id}", contacts.Get)
	s.mux.HandleFunc("PATCH /api/contacts/{id}", contacts.Update)
	s.mux.HandleFunc("DELETE /api/contacts/{id}", contacts.Delete)

	leads := handlers.LeadsHandler{Store: s.store.Leads(), Contacts: s.store.Contacts(), Notifier: s.hub}
	s.mux.HandleFunc("GET /api/leads", leads.List)
	s.mux.HandleFunc("POST /api/leads", leads.Create)
	s.mux.HandleFunc("GET /api/leads/{id}", leads.Get)
	s.mux.HandleFunc("PATCH /api/leads/{id}", leads.Update)
	s.mux.HandleFunc("DELETE /api/leads/{id}", leads.Delete)

	callsH := handlers.CallsHandler{Calls: s.calls}
	s.mux.HandleFunc("GET /api/calls", callsH.List)
	s.mux.HandleFunc("POST /api/calls", callsH.Create)
	s.mux.HandleFunc("GET /api/calls/{id}", callsH.Get)
	s.mux.HandleFunc("POST /api/calls/{id}/takeover", callsH.Takeover)
	s.mux.HandleFunc("POST /api/calls/{id}/resume", callsH.Resume)
	s.mux.HandleFunc("POST /api/calls/{id}/mode", callsH.SetMode)
	s.mux.HandleFunc("POST /api/calls/{id}/end", callsH.End)
	s.mux.HandleFunc("GET /api/calls/{id}/transcript", callsH.Transcript)
	s.mux.HandleFunc("POST /api/calls/{id}/transcript", callsH.AppendTranscript)
	s.mux.HandleFunc("POST /api/calls/{id}/insights", callsH.Insights)

	calendar := handlers.CalendarHandler{
		Store:    s.store.Calendar(),
		Leads:    s.store.Leads(),
		Contacts: s.store.Contacts(),
		Calls:    s.store.Calls(),
		Notifier: s.hub,
	}
	s.mux.HandleFunc("GET /api/calendar", calendar.List)
	s.mux.HandleFunc("POST /api/calendar", calendar.Create)
	s.mux.HandleFunc("GET /api/calendar/{id}", calendar.Get)
	s.mux.HandleFunc("PATCH /api/calendar/{id}", calendar.Update)
	s.mux.HandleFunc("DELETE /api/calendar/{id}", calendar.Delete)

	settings := handlers.SettingsHandler{Store: s.store.Settings()}
	s.mux.HandleFunc("GET /api/settings", settings.Get)
	s.mux.HandleFunc("PUT /api/settings", settings.Put)

	dashboard := handlers.DashboardHandler{Store: s.store}
	s.mux.HandleFunc("GET /api/dashboard/stats", dashboard.Stats)

	webhooks := handlers.TwilioWebhooks{
		Config:  s.cfg,
		Calls:   s.calls,
		Metrics: s.metrics,
		Logger:  s.logger.With("component", "twilio"),
	}
	s.mux.HandleFunc("POST /twilio/voice", webhooks.Voice)
	s.mux.HandleFunc("POST /twilio/status", webhooks.Status)
	s.mux.HandleFunc("POST /twilio/recording", webhooks.Recording)
	s.mux.HandleFunc("POST /twilio/transcription", webhooks.Transcription)
	s.mux.Handle("GET /twilio/media", handlers.MediaHandler{
		Config:    s.cfg,
		Relay:     s.relay,
		Lifecycle: s.lifecycle,
		Metrics:   s.metrics,
		Logger:    s.logger.With("component", "relay"),
	})

	s.mux.Handle("GET /ws/events", handlers.EventsHandler{
		Config:    s.cfg,
		Hub:       s.hub,
		Calls:     s.calls,
		Limiter:   s.limiter,
		Lifecycle: s.lifecycle,
		Metrics:   s.metrics,
		Logger:    s.logger.With("component", "events"),
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Instrument(s.metrics, h)
	h = mw.Timeout(s.cfg.HandlerTimeout, h)
	h = mw.RateLimit(mw.RateLimitOptions{TrustProxyHeaders: s.cfg.TrustProxyHeaders, Metrics: s.metrics}, s.limiter, h)
	h = mw.Auth(s.tokens, h)
	h = mw.BodyLimit(s.cfg.MaxBodyBytes, h)
	h = mw.CORS(s.cfg.CORSAllowedOrigins, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Run consumes the Redis fan-out channel until ctx is canceled. Without
// Redis it just waits for ctx.
func (s *Server) Run(ctx context.Context) error {
	if s.redis == nil {
		<-ctx.Done()
		return nil
	}
	return s.hub.RunRedis(ctx)
}

// SetDraining makes /readyz fail, refuses new media and event sessions and
// tells connected browsers to reconnect elsewhere.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
	s.hub.Broadcast(types.EventServerDraining, map[string]any{"at": time.Now().UTC()})
}

func (s *Server) LiveSessionCount() int {
	return s.relays.Count()
}

func (s *Server) WarnLiveSessionsDraining() {
	if n := s.relays.Count(); n > 0 {
		s.logger.Warn("waiting for live calls to finish", "relay_sessions", n)
	}
}

// WaitLiveSessions reports whether all relay sessions ended before ctx did.
func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.relays.Wait(ctx)
}

func (s *Server) CancelLiveSessions() int {
	return s.relays.CancelAll()
}

// Close stops background work and releases backends. Call it after the HTTP
// server has shut down.
func (s *Server) Close(ctx context.Context) error {
	var errs []error
	if !s.hub.CloseAll(ctx) {
		errs = append(errs, errors.New("event clients did not close in time"))
	}
	if s.worker != nil {
		if err := s.worker.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("insights worker: %w", err))
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	return errors.Join(errs...)
}
