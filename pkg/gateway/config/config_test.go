package config

import (
	"strings"
	"testing"
	"time"
)

var gatewayEnvKeys = []string{
	"MOHIT_ADDR",
	"MOHIT_PUBLIC_BASE_URL",
	"MOHIT_LOG_LEVEL",
	"MOHIT_LOG_FORMAT",
	"MOHIT_STORE",
	"MOHIT_DATABASE_URL",
	"MOHIT_DB_MAX_CONNS",
	"MOHIT_DB_CONN_LIFETIME",
	"MOHIT_MIGRATE_ON_SERVE",
	"MOHIT_JWT_SECRET",
	"MOHIT_JWT_ISSUER",
	"MOHIT_JWT_TTL",
	"MOHIT_COOKIE_SECURE",
	"MOHIT_TRUST_PROXY_HEADERS",
	"MOHIT_MAX_BODY_BYTES",
	"MOHIT_CORS_ORIGINS",
	"MOHIT_RATE_LIMIT_RPS",
	"MOHIT_RATE_LIMIT_BURST",
	"MOHIT_MAX_CONCURRENT_REQUESTS",
	"MOHIT_MAX_EVENT_SESSIONS",
	"MOHIT_READ_HEADER_TIMEOUT",
	"MOHIT_READ_TIMEOUT",
	"MOHIT_HANDLER_TIMEOUT",
	"MOHIT_SHUTDOWN_GRACE_PERIOD",
	"MOHIT_TWILIO_ACCOUNT_SID",
	"MOHIT_TWILIO_AUTH_TOKEN",
	"MOHIT_TWILIO_FROM_NUMBER",
	"MOHIT_TWILIO_BASE_URL",
	"MOHIT_TWILIO_VALIDATE_SIGNATURES",
	"MOHIT_TWILIO_REQUEST_TIMEOUT",
	"MOHIT_TWILIO_MAX_RETRIES",
	"MOHIT_ELEVENLABS_API_KEY",
	"MOHIT_ELEVENLABS_AGENT_ID",
	"MOHIT_ELEVENLABS_WS_URL",
	"MOHIT_RELAY_MAX_DURATION",
	"MOHIT_RELAY_WRITE_TIMEOUT",
	"MOHIT_RELAY_HANDSHAKE_TIMEOUT",
	"MOHIT_RELAY_MAX_MESSAGE_BYTES",
	"MOHIT_RELAY_MAX_SESSIONS",
	"MOHIT_EVENTS_PING_INTERVAL",
	"MOHIT_EVENTS_WRITE_TIMEOUT",
	"MOHIT_EVENTS_SEND_QUEUE",
	"MOHIT_EVENTS_MAX_MESSAGE_BYTES",
	"MOHIT_EVENTS_MAX_ROOMS",
	"MOHIT_REDIS_URL",
	"MOHIT_REDIS_CHANNEL",
	"MOHIT_GEMINI_API_KEY",
	"MOHIT_GEMINI_MODEL",
	"MOHIT_INSIGHTS_WORKERS",
	"MOHIT_INSIGHTS_TIMEOUT",
	"MOHIT_MAX_CALL_EVENTS",
	"MOHIT_MAX_TRANSCRIPT_ENTRIES",
}

const testSecret = "0123456789abcdef0123456789abcdef"

func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, key := range gatewayEnvKeys {
		t.Setenv(key, "")
	}
}

func setMinimalEnv(t *testing.T) {
	t.Helper()
	clearGatewayEnv(t)
	t.Setenv("MOHIT_JWT_SECRET", testSecret)
	t.Setenv("MOHIT_TWILIO_AUTH_TOKEN", "twilio-token")
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	setMinimalEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.StoreDriver != StoreMemory {
		t.Fatalf("StoreDriver = %q, want memory", cfg.StoreDriver)
	}
	if cfg.MaxBodyBytes != 1<<20 {
		t.Fatalf("MaxBodyBytes = %d, want %d", cfg.MaxBodyBytes, int64(1<<20))
	}
	if cfg.JWTTTL != 7*24*time.Hour {
		t.Fatalf("JWTTTL = %v, want 168h", cfg.JWTTTL)
	}
	if !cfg.TwilioValidateSignatures {
		t.Fatalf("TwilioValidateSignatures = false, want true")
	}
	if cfg.TwilioMaxRetries != 3 {
		t.Fatalf("TwilioMaxRetries = %d, want 3", cfg.TwilioMaxRetries)
	}
	if cfg.ElevenLabsWSURL != "wss://api.elevenlabs.io/v1/convai/conversation" {
		t.Fatalf("ElevenLabsWSURL = %q", cfg.ElevenLabsWSURL)
	}
	if cfg.EventsSendQueue != 64 {
		t.Fatalf("EventsSendQueue = %d, want 64", cfg.EventsSendQueue)
	}
	if cfg.MaxCallEvents != 200 {
		t.Fatalf("MaxCallEvents = %d, want 200", cfg.MaxCallEvents)
	}
	if cfg.MaxTranscriptEntries != 2000 {
		t.Fatalf("MaxTranscriptEntries = %d, want 2000", cfg.MaxTranscriptEntries)
	}
	if cfg.ShutdownGracePeriod != 30*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v, want 30s", cfg.ShutdownGracePeriod)
	}
	if cfg.TwilioEnabled() {
		t.Fatalf("TwilioEnabled() = true without account sid")
	}
	if cfg.InsightsEnabled() {
		t.Fatalf("InsightsEnabled() = true without api key")
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("MOHIT_ADDR", ":9090")
	t.Setenv("MOHIT_PUBLIC_BASE_URL", "https://calls.example.com/")
	t.Setenv("MOHIT_CORS_ORIGINS", "https://app.example.com, http://localhost:3000")
	t.Setenv("MOHIT_STORE", "postgres")
	t.Setenv("MOHIT_DATABASE_URL", "postgres://localhost/mohit")
	t.Setenv("MOHIT_RELAY_MAX_DURATION", "15m")
	t.Setenv("MOHIT_TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("MOHIT_TWILIO_FROM_NUMBER", "+15550001111")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.PublicBaseURL != "https://calls.example.com" {
		t.Fatalf("PublicBaseURL = %q", cfg.PublicBaseURL)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
	if _, ok := cfg.CORSAllowedOrigins["http://localhost:3000"]; !ok {
		t.Fatalf("missing trimmed origin")
	}
	if cfg.RelayMaxSessionDuration != 15*time.Minute {
		t.Fatalf("RelayMaxSessionDuration = %v", cfg.RelayMaxSessionDuration)
	}
	if !cfg.TwilioEnabled() {
		t.Fatalf("TwilioEnabled() = false")
	}
	if got := cfg.URL("/twilio/status"); got != "https://calls.example.com/twilio/status" {
		t.Fatalf("URL = %q", got)
	}
	if got := cfg.WSURL("/twilio/media"); got != "wss://calls.example.com/twilio/media" {
		t.Fatalf("WSURL = %q", got)
	}
}

func TestLoadFromEnv_InvalidValuesFallBackToDefaults(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("MOHIT_EVENTS_SEND_QUEUE", "lots")
	t.Setenv("MOHIT_COOKIE_SECURE", "maybe")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.EventsSendQueue != 64 {
		t.Fatalf("EventsSendQueue = %d, want default 64", cfg.EventsSendQueue)
	}
	if !cfg.CookieSecure {
		t.Fatalf("CookieSecure = false, want default true")
	}
}

func TestLoadFromEnv_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing jwt secret",
			env:     map[string]string{"MOHIT_JWT_SECRET": ""},
			wantErr: "MOHIT_JWT_SECRET",
		},
		{
			name:    "short jwt secret",
			env:     map[string]string{"MOHIT_JWT_SECRET": "short"},
			wantErr: "MOHIT_JWT_SECRET",
		},
		{
			name:    "unknown store",
			env:     map[string]string{"MOHIT_STORE": "sqlite"},
			wantErr: "MOHIT_STORE",
		},
		{
			name:    "postgres without url",
			env:     map[string]string{"MOHIT_STORE": "postgres"},
			wantErr: "MOHIT_DATABASE_URL",
		},
		{
			name:    "signature validation without token",
			env:     map[string]string{"MOHIT_TWILIO_AUTH_TOKEN": ""},
			wantErr: "MOHIT_TWILIO_AUTH_TOKEN",
		},
		{
			name:    "relative public url",
			env:     map[string]string{"MOHIT_PUBLIC_BASE_URL": "calls.example.com"},
			wantErr: "MOHIT_PUBLIC_BASE_URL",
		},
		{
			name:    "bad log format",
			env:     map[string]string{"MOHIT_LOG_FORMAT": "xml"},
			wantErr: "MOHIT_LOG_FORMAT",
		},
		{
			name:    "zero send queue",
			env:     map[string]string{"MOHIT_EVENTS_SEND_QUEUE": "0"},
			wantErr: "MOHIT_EVENTS_SEND_QUEUE",
		},
		{
			name:    "negative retries",
			env:     map[string]string{"MOHIT_TWILIO_MAX_RETRIES": "-1"},
			wantErr: "MOHIT_TWILIO_MAX_RETRIES",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setMinimalEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err=%q, want substring %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadFromEnv_SignatureValidationCanBeDisabled(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("MOHIT_TWILIO_AUTH_TOKEN", "")
	t.Setenv("MOHIT_TWILIO_VALIDATE_SIGNATURES", "false")

	if _, err := LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
}
