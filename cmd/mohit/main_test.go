package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mohit-ai/mohit/pkg/gateway/config"
	gatewayserver "github.com/mohit-ai/mohit/pkg/gateway/server"
	"github.com/mohit-ai/mohit/pkg/store/postgres"
)

func TestRunServe_ReturnsErrorWhenConfigLoadFails(t *testing.T) {
	t.Parallel()

	err := runServe(context.Background(), io.Discard, serveDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		openGateway: func(context.Context, config.Config, *slog.Logger) (*gatewayserver.Server, error) {
			t.Fatalf("openGateway should not be called when config load fails")
			return nil, nil
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	})
	if err == nil || !strings.Contains(err.Error(), "load config: boom") {
		t.Fatalf("err=%v", err)
	}
}

func TestRunServe_ReturnsErrorWhenGatewayFails(t *testing.T) {
	t.Parallel()

	err := runServe(context.Background(), io.Discard, serveDeps{
		loadConfig: func() (config.Config, error) { return config.Config{}, nil },
		openGateway: func(context.Context, config.Config, *slog.Logger) (*gatewayserver.Server, error) {
			return nil, errors.New("postgres down")
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	})
	if err == nil || !strings.Contains(err.Error(), "postgres down") {
		t.Fatalf("err=%v", err)
	}
}

func TestRunServe_ShutsDownOnSignal(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Addr = "127.0.0.1:0"

	var logs bytes.Buffer
	done := make(chan error, 1)
	notified := make(chan chan<- os.Signal, 1)
	go func() {
		done <- runServe(context.Background(), &logs, serveDeps{
			loadConfig:   func() (config.Config, error) { return cfg, nil },
			openGateway:  gatewayserver.Open,
			signalNotify: func(c chan<- os.Signal, sig ...os.Signal) { notified <- c },
			signalStop:   func(c chan<- os.Signal) {},
		})
	}()

	select {
	case c := <-notified:
		c <- os.Interrupt
	case <-time.After(5 * time.Second):
		t.Fatalf("signal handler was not installed")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runServe err=%v logs=%s", err, logs.String())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("runServe did not stop")
	}
	if !strings.Contains(logs.String(), "server stopped") {
		t.Fatalf("logs=%s", logs.String())
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Addr:              "127.0.0.1:9999",
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       3 * time.Second,
	}

	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout=%v, want %v", srv.ReadHeaderTimeout, cfg.ReadHeaderTimeout)
	}
	if srv.ReadTimeout != cfg.ReadTimeout {
		t.Fatalf("ReadTimeout=%v, want %v", srv.ReadTimeout, cfg.ReadTimeout)
	}
}

func TestGatewayHandlerStack_Smoke(t *testing.T) {
	t.Parallel()

	gw, err := gatewayserver.Open(context.Background(), testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer gw.Close(context.Background())

	ts := httptest.NewServer(gw.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestNewLogger_SelectsFormatAndLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := newLogger(config.Config{LogFormat: "text", LogLevel: "warn"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "msg=shown") {
		t.Fatalf("text logs=%q", buf.String())
	}

	buf.Reset()
	logger = newLogger(config.Config{LogFormat: "json", LogLevel: "nonsense"}, &buf)
	logger.Info("hello")
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Fatalf("json logs=%q", buf.String())
	}
}

func TestLoadEnvFile(t *testing.T) {
	if err := loadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing file err=%v", err)
	}

	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("MOHIT_TEST_DOTENV=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MOHIT_TEST_DOTENV", "")
	os.Unsetenv("MOHIT_TEST_DOTENV")
	if err := loadEnvFile(path); err != nil {
		t.Fatalf("loadEnvFile err=%v", err)
	}
	if got := os.Getenv("MOHIT_TEST_DOTENV"); got != "from-file" {
		t.Fatalf("MOHIT_TEST_DOTENV=%q", got)
	}
}

func TestRunMigrate_RequiresPostgres(t *testing.T) {
	t.Parallel()

	err := runMigrate(context.Background(), postgres.MigrateStatus, io.Discard, func() (config.Config, error) {
		return testConfig(), nil
	})
	if !errors.Is(err, errMigrateNeedsPostgres) {
		t.Fatalf("err=%v", err)
	}
}

func TestPrintMigrations(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := printMigrations(&buf, postgres.MigrateUp, nil); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "migrate up: nothing to do\n" {
		t.Fatalf("got %q", got)
	}

	buf.Reset()
	err := printMigrations(&buf, postgres.MigrateStatus, []postgres.MigrationLine{
		{Version: 1, Path: "00001_init.sql", State: "applied"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "VERSION") || !strings.Contains(buf.String(), "00001_init.sql") {
		t.Fatalf("got %q", buf.String())
	}
}

func TestRunMain_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"version", "--env-file", ""}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("code=%d stderr=%q", code, stderr.String())
	}
	if got := stdout.String(); got != "mohit dev\n" {
		t.Fatalf("stdout=%q", got)
	}
}

func TestRunMain_UnknownCommandFails(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := runMain(context.Background(), []string{"bogus"}, &stdout, &stderr); code != 1 {
		t.Fatalf("code=%d", code)
	}
	if !strings.HasPrefix(stderr.String(), "mohit: ") {
		t.Fatalf("stderr=%q", stderr.String())
	}
}

func testConfig() config.Config {
	return config.Config{
		Addr:                 "127.0.0.1:0",
		PublicBaseURL:        "http://localhost:8080",
		LogFormat:            "json",
		LogLevel:             "info",
		StoreDriver:          config.StoreMemory,
		JWTSecret:            "0123456789abcdef0123456789abcdef",
		JWTIssuer:            "mohit",
		JWTTTL:               time.Hour,
		MaxBodyBytes:         1 << 20,
		CORSAllowedOrigins:   map[string]struct{}{},
		ReadHeaderTimeout:    time.Second,
		ReadTimeout:          time.Second,
		HandlerTimeout:       time.Second,
		ShutdownGracePeriod:  2 * time.Second,
		InsightsWorkers:      1,
		InsightsTimeout:      time.Second,
		MaxCallEvents:        50,
		MaxTranscriptEntries: 100,
	}
}
