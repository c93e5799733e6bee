package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"skillhub/internal/infrastructure/api"
	"skillhub/internal/infrastructure/auth"
	"skillhub/pkg/circuitbreaker"
	"skillhub/pkg/config"
	"skillhub/pkg/logger"
	"skillhub/pkg/retry"
	"skillhub/pkg/tracing"

	"go.uber.org/zap"
)

// app carries what every subcommand builds from the loaded config.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	tracer *tracing.TracerProvider
}

// setup builds the logger and tracer. The chat view owns the terminal, so
// chat logs go to a file unless one is configured.
func (a *app) setup(defaultLogFile string) error {
	output := a.cfg.Logging.File
	if output == "" {
		output = defaultLogFile
	}
	if output == "" {
		output = "stderr"
	} else if output != "stderr" && output != "stdout" {
		if err := os.MkdirAll(filepath.Dir(output), 0o700); err != nil {
			return err
		}
	}
	a.logger = logger.NewWithFormat(a.cfg.Logging.Level, a.cfg.Logging.Format, output)

	tcfg := tracing.DefaultConfig()
	tcfg.Enabled = a.cfg.Monitoring.Tracing.Enabled
	tcfg.JaegerURL = a.cfg.Monitoring.Tracing.JaegerURL
	tcfg.SampleRate = a.cfg.Monitoring.Tracing.SampleRate
	tracer, err := tracing.Init(tcfg)
	if err != nil {
		return err
	}
	a.tracer = tracer
	return nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func (a *app) loadSession() (*auth.StoredSession, error) {
	return auth.NewSessionStore(a.cfg.Session.File, a.logger.Sugar()).Load()
}

func (a *app) apiClient(token string) *api.Client {
	rc := retry.DefaultConfig()
	rc.MaxAttempts = a.cfg.API.Retry.MaxAttempts
	rc.InitialDelay = a.cfg.API.Retry.InitialDelay
	rc.MaxDelay = a.cfg.API.Retry.MaxDelay

	return api.NewClient(api.Config{
		BaseURL:        a.cfg.API.BaseURL,
		Token:          token,
		RequestTimeout: a.cfg.API.RequestTimeout,
		Retry:          rc,
		Breaker: circuitbreaker.Config{
			FailureThreshold: a.cfg.API.Breaker.FailureThreshold,
			Timeout:          a.cfg.API.Breaker.OpenTimeout,
		},
	}, a.logger)
}

// serveStatus runs the status server until ctx is done.
func serveStatus(ctx context.Context, addr string, handler http.Handler, log *zap.SugaredLogger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnw("status server shutdown failed", "error", err)
		}
	}()

	log.Infow("status server listening", "address", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorw("status server failed", "error", err)
	}
}
