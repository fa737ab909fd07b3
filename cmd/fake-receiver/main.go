package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/austindbirch/logreplay/internal/auth"
	"github.com/austindbirch/logreplay/internal/config"
	"github.com/austindbirch/logreplay/internal/logging"
)

// receiver stands in for the deployment a replay targets.
type receiver struct {
	cfg      config.FakeReceiver
	logger   *logging.Logger
	reqCount atomic.Int64
}

func newReceiver(cfg config.FakeReceiver, logger *logging.Logger) *receiver {
	return &receiver{cfg: cfg, logger: logger}
}

func main() {
	logger := logging.New("fake-receiver")

	cfg, err := config.FakeReceiverFromEnv()
	if err != nil {
		logger.Plain().WithError(err).Fatal("invalid fake receiver configuration")
	}

	handler, err := newHandler(cfg, logger)
	if err != nil {
		logger.Plain().WithError(err).Fatal("fake receiver setup failed")
	}

	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Plain().WithFields(map[string]any{
		"addr":             cfg.Port,
		"fail_first_n":     cfg.FailFirstN,
		"fail_path_prefix": cfg.FailPathPrefix,
		"delay_ms":         cfg.ResponseDelayMS,
	}).Info("fake-receiver listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Plain().WithError(err).Fatal("fake-receiver failed")
	}
}

// newHandler routes /healthz and answers every other path, behind bearer
// token checks when a JWT key or secret is configured.
func newHandler(cfg config.FakeReceiver, logger *logging.Logger) (http.Handler, error) {
	r := newReceiver(cfg, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("/", r.handleRequest)

	validator, err := newValidator(cfg)
	if err != nil {
		return nil, err
	}
	if validator == nil {
		return mux, nil
	}
	return validator.HTTPMiddleware(mux), nil
}

func newValidator(cfg config.FakeReceiver) (*auth.JWTValidator, error) {
	switch {
	case cfg.JWTPublicKeyFile != "":
		pem, err := os.ReadFile(cfg.JWTPublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read jwt public key: %w", err)
		}
		return auth.NewJWTValidator(string(pem), cfg.JWTIssuer, cfg.JWTAudience)
	case cfg.JWTSecret != "":
		return auth.NewHMACValidator([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTAudience)
	}
	return nil, nil
}

func (rc *receiver) handleRequest(w http.ResponseWriter, r *http.Request) {
	n := rc.reqCount.Add(1)
	entry := rc.logger.Plain().WithPath(truncate(r.URL.RequestURI(), 160)).WithField("request", n)

	if d := time.Duration(rc.cfg.ResponseDelayMS) * time.Millisecond; d > 0 {
		select {
		case <-time.After(d):
		case <-r.Context().Done():
			entry.Warn("client went away during delay")
			return
		}
	}

	// Simulate flakiness: first N requests -> 500
	if n <= int64(rc.cfg.FailFirstN) {
		entry.Warnf("FAILING (%d/%d)", n, rc.cfg.FailFirstN)
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}
	if rc.cfg.FailPathPrefix != "" && strings.HasPrefix(r.URL.Path, rc.cfg.FailPathPrefix) {
		entry.Warn("FAILING path prefix")
		http.Error(w, "failing path", http.StatusInternalServerError)
		return
	}

	entry.Info("fake-receiver OK")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`ok`))
}

// truncate truncates a string to the specified length and adds an ellipsis if truncated
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
