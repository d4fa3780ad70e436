package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohit-ai/mohit/pkg/gateway/config"
	gatewayserver "github.com/mohit-ai/mohit/pkg/gateway/server"
)

type serveDeps struct {
	loadConfig   func() (config.Config, error)
	openGateway  func(context.Context, config.Config, *slog.Logger) (*gatewayserver.Server, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultServeDeps() serveDeps {
	return serveDeps{
		loadConfig:  config.LoadFromEnv,
		openGateway: gatewayserver.Open,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runServe(ctx context.Context, logOut io.Writer, deps serveDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.openGateway == nil {
		return errors.New("missing openGateway dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logOut == nil {
		logOut = os.Stderr
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg, logOut)

	gw, err := deps.openGateway(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting server",
		"addr", cfg.Addr,
		"store", cfg.StoreDriver,
		"public_base_url", cfg.PublicBaseURL,
		"twilio", cfg.TwilioEnabled(),
		"convai", cfg.ConvAIEnabled(),
		"insights", cfg.InsightsEnabled(),
		"redis_fanout", cfg.RedisURL != "",
	)

	bgCtx, bgCancel := context.WithCancel(context.WithoutCancel(ctx))
	bgDone := make(chan struct{})
	go func() {
		defer close(bgDone)
		if err := gw.Run(bgCtx); err != nil {
			logger.Error("background loop stopped", "error", err)
		}
	}()
	stopBackground := func() {
		bgCancel()
		<-bgDone
	}

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	closeGateway := func() error {
		stopBackground()
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer cancel()
		return gw.Close(closeCtx)
	}

	select {
	case err := <-listenErrCh:
		_ = closeGateway()
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		_ = httpSrv.Close()
		gw.CancelLiveSessions()
		_ = closeGateway()
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining()
	gw.WarnLiveSessionsDraining()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		gw.CancelLiveSessions()
		_ = closeGateway()
		return fmt.Errorf("shutdown http server: %w", err)
	}

	// Relay sockets are hijacked, so Shutdown does not wait for them.
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.WaitLiveSessions(waitCtx) {
		n := gw.CancelLiveSessions()
		logger.Warn("canceled live calls after grace period", "relay_sessions", n)
	}

	if err := closeGateway(); err != nil {
		logger.Warn("gateway close", "error", err)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
