package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type StoreDriver string

const (
	StoreMemory   StoreDriver = "memory"
	StorePostgres StoreDriver = "postgres"
)

type Config struct {
	Addr string

	// PublicBaseURL is the externally reachable origin Twilio calls back on,
	// e.g. https://api.example.com. Webhook signatures are computed against it.
	PublicBaseURL string

	LogLevel  string
	LogFormat string

	StoreDriver    StoreDriver
	DatabaseURL    string
	DBMaxConns     int
	DBConnLifetime time.Duration
	MigrateOnServe bool

	JWTSecret    string
	JWTIssuer    string
	JWTTTL       time.Duration
	CookieSecure bool

	// If true, client identity may be derived from proxy headers like X-Forwarded-For.
	// This should only be enabled when the gateway is deployed behind a trusted proxy/LB.
	TrustProxyHeaders bool

	MaxBodyBytes int64

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// In-memory limits (per principal).
	LimitRPS                   float64
	LimitBurst                 int
	LimitMaxConcurrentRequests int
	// Event WebSocket sessions held open at once.
	LimitMaxEventSessions int

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration

	// Twilio
	TwilioAccountSID         string
	TwilioAuthToken          string
	TwilioFromNumber         string
	TwilioBaseURL            string
	TwilioValidateSignatures bool
	TwilioRequestTimeout     time.Duration
	TwilioMaxRetries         int

	// ElevenLabs conversational AI
	ElevenLabsAPIKey  string
	ElevenLabsAgentID string
	ElevenLabsWSURL   string

	// Twilio media relay (/twilio/media).
	RelayMaxSessionDuration time.Duration
	RelayWriteTimeout       time.Duration
	RelayHandshakeTimeout   time.Duration
	RelayMaxMessageBytes    int64
	RelayMaxSessions        int

	// Browser event channel (/ws/events).
	EventsPingInterval    time.Duration
	EventsWriteTimeout    time.Duration
	EventsSendQueue       int
	EventsMaxMessageBytes int64
	EventsMaxRooms        int

	// Optional cross-instance fan-out.
	RedisURL     string
	RedisChannel string

	// Post-call insights.
	GeminiAPIKey    string
	GeminiModel     string
	InsightsWorkers int
	InsightsTimeout time.Duration

	MaxCallEvents        int
	MaxTranscriptEntries int
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                       envOr("MOHIT_ADDR", ":8080"),
		PublicBaseURL:              strings.TrimRight(envOr("MOHIT_PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		LogLevel:                   envOr("MOHIT_LOG_LEVEL", "info"),
		LogFormat:                  envOr("MOHIT_LOG_FORMAT", "json"),
		StoreDriver:                StoreDriver(envOr("MOHIT_STORE", string(StoreMemory))),
		DatabaseURL:                envOr("MOHIT_DATABASE_URL", ""),
		DBMaxConns:                 envIntOr("MOHIT_DB_MAX_CONNS", 10),
		DBConnLifetime:             envDurationOr("MOHIT_DB_CONN_LIFETIME", time.Hour),
		MigrateOnServe:             envBoolOr("MOHIT_MIGRATE_ON_SERVE", false),
		JWTSecret:                  envOr("MOHIT_JWT_SECRET", ""),
		JWTIssuer:                  envOr("MOHIT_JWT_ISSUER", "mohit"),
		JWTTTL:                     envDurationOr("MOHIT_JWT_TTL", 7*24*time.Hour),
		CookieSecure:               envBoolOr("MOHIT_COOKIE_SECURE", true),
		TrustProxyHeaders:          envBoolOr("MOHIT_TRUST_PROXY_HEADERS", false),
		MaxBodyBytes:               envInt64Or("MOHIT_MAX_BODY_BYTES", 1<<20), // 1 MiB
		CORSAllowedOrigins:         make(map[string]struct{}),
		LimitRPS:                   envFloat64Or("MOHIT_RATE_LIMIT_RPS", 10),
		LimitBurst:                 envIntOr("MOHIT_RATE_LIMIT_BURST", 20),
		LimitMaxConcurrentRequests: envIntOr("MOHIT_MAX_CONCURRENT_REQUESTS", 20),
		LimitMaxEventSessions:      envIntOr("MOHIT_MAX_EVENT_SESSIONS", 5),
		ReadHeaderTimeout:          envDurationOr("MOHIT_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                envDurationOr("MOHIT_READ_TIMEOUT", 30*time.Second),
		HandlerTimeout:             envDurationOr("MOHIT_HANDLER_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:        envDurationOr("MOHIT_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		TwilioAccountSID:           envOr("MOHIT_TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:            envOr("MOHIT_TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:           envOr("MOHIT_TWILIO_FROM_NUMBER", ""),
		TwilioBaseURL:              envOr("MOHIT_TWILIO_BASE_URL", "https://api.twilio.com"),
		TwilioValidateSignatures:   envBoolOr("MOHIT_TWILIO_VALIDATE_SIGNATURES", true),
		TwilioRequestTimeout:       envDurationOr("MOHIT_TWILIO_REQUEST_TIMEOUT", 10*time.Second),
		TwilioMaxRetries:           envIntOr("MOHIT_TWILIO_MAX_RETRIES", 3),
		ElevenLabsAPIKey:           envOr("MOHIT_ELEVENLABS_API_KEY", ""),
		ElevenLabsAgentID:          envOr("MOHIT_ELEVENLABS_AGENT_ID", ""),
		ElevenLabsWSURL:            envOr("MOHIT_ELEVENLABS_WS_URL", "wss://api.elevenlabs.io/v1/convai/conversation"),
		RelayMaxSessionDuration:    envDurationOr("MOHIT_RELAY_MAX_DURATION", time.Hour),
		RelayWriteTimeout:          envDurationOr("MOHIT_RELAY_WRITE_TIMEOUT", 5*time.Second),
		RelayHandshakeTimeout:      envDurationOr("MOHIT_RELAY_HANDSHAKE_TIMEOUT", 10*time.Second),
		RelayMaxMessageBytes:       envInt64Or("MOHIT_RELAY_MAX_MESSAGE_BYTES", 64*1024),
		RelayMaxSessions:           envIntOr("MOHIT_RELAY_MAX_SESSIONS", 100),
		EventsPingInterval:         envDurationOr("MOHIT_EVENTS_PING_INTERVAL", 25*time.Second),
		EventsWriteTimeout:         envDurationOr("MOHIT_EVENTS_WRITE_TIMEOUT", 5*time.Second),
		EventsSendQueue:            envIntOr("MOHIT_EVENTS_SEND_QUEUE", 64),
		EventsMaxMessageBytes:      envInt64Or("MOHIT_EVENTS_MAX_MESSAGE_BYTES", 4096),
		EventsMaxRooms:             envIntOr("MOHIT_EVENTS_MAX_ROOMS", 32),
		RedisURL:                   envOr("MOHIT_REDIS_URL", ""),
		RedisChannel:               envOr("MOHIT_REDIS_CHANNEL", "mohit:events"),
		GeminiAPIKey:               envOr("MOHIT_GEMINI_API_KEY", ""),
		GeminiModel:                envOr("MOHIT_GEMINI_MODEL", "gemini-2.5-flash"),
		InsightsWorkers:            envIntOr("MOHIT_INSIGHTS_WORKERS", 4),
		InsightsTimeout:            envDurationOr("MOHIT_INSIGHTS_TIMEOUT", 60*time.Second),
		MaxCallEvents:              envIntOr("MOHIT_MAX_CALL_EVENTS", 200),
		MaxTranscriptEntries:       envIntOr("MOHIT_MAX_TRANSCRIPT_ENTRIES", 2000),
	}

	for _, origin := range splitCSV(os.Getenv("MOHIT_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (cfg Config) Validate() error {
	switch cfg.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("MOHIT_DATABASE_URL must be set when MOHIT_STORE=postgres")
		}
	default:
		return fmt.Errorf("MOHIT_STORE must be one of memory|postgres")
	}
	switch strings.ToLower(cfg.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("MOHIT_LOG_FORMAT must be one of json|text")
	}
	if u, err := url.Parse(cfg.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("MOHIT_PUBLIC_BASE_URL must be an absolute URL")
	}
	if len(cfg.JWTSecret) < 32 {
		return fmt.Errorf("MOHIT_JWT_SECRET must be at least 32 bytes")
	}
	if cfg.JWTTTL <= 0 {
		return fmt.Errorf("MOHIT_JWT_TTL must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return fmt.Errorf("MOHIT_MAX_BODY_BYTES must be > 0")
	}
	if cfg.DBMaxConns <= 0 {
		return fmt.Errorf("MOHIT_DB_MAX_CONNS must be > 0")
	}
	if cfg.LimitRPS < 0 {
		return fmt.Errorf("MOHIT_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return fmt.Errorf("MOHIT_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxConcurrentRequests < 0 {
		return fmt.Errorf("MOHIT_MAX_CONCURRENT_REQUESTS must be >= 0")
	}
	if cfg.LimitMaxEventSessions < 0 {
		return fmt.Errorf("MOHIT_MAX_EVENT_SESSIONS must be >= 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("MOHIT_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return fmt.Errorf("MOHIT_READ_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return fmt.Errorf("MOHIT_HANDLER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("MOHIT_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.TwilioValidateSignatures && cfg.TwilioAuthToken == "" {
		return fmt.Errorf("MOHIT_TWILIO_AUTH_TOKEN must be set when MOHIT_TWILIO_VALIDATE_SIGNATURES=true")
	}
	if cfg.TwilioRequestTimeout <= 0 {
		return fmt.Errorf("MOHIT_TWILIO_REQUEST_TIMEOUT must be > 0")
	}
	if cfg.TwilioMaxRetries < 0 {
		return fmt.Errorf("MOHIT_TWILIO_MAX_RETRIES must be >= 0")
	}
	if strings.TrimSpace(cfg.TwilioBaseURL) == "" {
		return fmt.Errorf("MOHIT_TWILIO_BASE_URL must not be empty")
	}
	if cfg.RelayMaxSessionDuration <= 0 {
		return fmt.Errorf("MOHIT_RELAY_MAX_DURATION must be > 0")
	}
	if cfg.RelayWriteTimeout <= 0 {
		return fmt.Errorf("MOHIT_RELAY_WRITE_TIMEOUT must be > 0")
	}
	if cfg.RelayHandshakeTimeout <= 0 {
		return fmt.Errorf("MOHIT_RELAY_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.RelayMaxMessageBytes <= 0 {
		return fmt.Errorf("MOHIT_RELAY_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.RelayMaxSessions <= 0 {
		return fmt.Errorf("MOHIT_RELAY_MAX_SESSIONS must be > 0")
	}
	if cfg.EventsPingInterval <= 0 {
		return fmt.Errorf("MOHIT_EVENTS_PING_INTERVAL must be > 0")
	}
	if cfg.EventsWriteTimeout <= 0 {
		return fmt.Errorf("MOHIT_EVENTS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.EventsSendQueue <= 0 {
		return fmt.Errorf("MOHIT_EVENTS_SEND_QUEUE must be > 0")
	}
	if cfg.EventsMaxMessageBytes <= 0 {
		return fmt.Errorf("MOHIT_EVENTS_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.EventsMaxRooms <= 0 {
		return fmt.Errorf("MOHIT_EVENTS_MAX_ROOMS must be > 0")
	}
	if cfg.InsightsWorkers <= 0 {
		return fmt.Errorf("MOHIT_INSIGHTS_WORKERS must be > 0")
	}
	if cfg.InsightsTimeout <= 0 {
		return fmt.Errorf("MOHIT_INSIGHTS_TIMEOUT must be > 0")
	}
	if cfg.MaxCallEvents <= 0 {
		return fmt.Errorf("MOHIT_MAX_CALL_EVENTS must be > 0")
	}
	if cfg.MaxTranscriptEntries <= 0 {
		return fmt.Errorf("MOHIT_MAX_TRANSCRIPT_ENTRIES must be > 0")
	}
	return nil
}

// TwilioEnabled reports whether outbound calling is configured.
func (cfg Config) TwilioEnabled() bool {
	return cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" && cfg.TwilioFromNumber != ""
}

// ConvAIEnabled reports whether the media relay can reach ElevenLabs.
func (cfg Config) ConvAIEnabled() bool {
	return cfg.ElevenLabsAPIKey != "" && cfg.ElevenLabsAgentID != ""
}

// InsightsEnabled reports whether post-call insights can be generated.
func (cfg Config) InsightsEnabled() bool {
	return cfg.GeminiAPIKey != ""
}

// URL joins path onto PublicBaseURL.
func (cfg Config) URL(path string) string {
	return cfg.PublicBaseURL + path
}

// WSURL is URL with the scheme switched to ws/wss.
func (cfg Config) WSURL(path string) string {
	u := cfg.URL(path)
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	default:
		return u
	}
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
