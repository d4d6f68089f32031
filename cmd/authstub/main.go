// Command authstub serves an in-memory auth API for local development.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/delta-auth/internal/config"
	"github.com/and161185/delta-auth/internal/limiter"
	"github.com/and161185/delta-auth/internal/logger"
	"github.com/and161185/delta-auth/internal/repository"
	"github.com/and161185/delta-auth/internal/stubapi"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration and serves the stub API until SIGINT/SIGTERM.
func main() {
	configPath := flag.String("config", "", "config file (default ./delta.yaml)")
	addr := flag.String("addr", "", "listen address (overrides stub.addr)")
	logLevel := flag.String("log-level", "info", "log level; issued codes are logged at info")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(2)
	}
	if *addr != "" {
		cfg.Stub.Addr = *addr
	}

	log, err := logger.New(*logLevel, cfg.Log.Dev)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()
	log.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Stub.Addr),
	)

	key := []byte(cfg.Stub.JWTKey)
	if len(key) == 0 {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			log.Fatal("generate signing key", zap.Error(err))
		}
		key = []byte(hex.EncodeToString(b))
		log.Warn("stub.jwt_key not set, using a random signing key; tokens will not survive a restart")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess := cfg.Session
	svc := stubapi.NewService(
		repository.NewMemoryUsers(),
		stubapi.Config{SignKey: key, AccessTTL: cfg.Stub.AccessTTL, RefreshTTL: cfg.Stub.RefreshTTL},
		limiter.NewMemory(sess.LockoutWindow, sess.MaxLoginFails, sess.LockoutFor),
		log,
	)
	srv := &http.Server{
		Addr:              cfg.Stub.Addr,
		Handler:           stubapi.NewHandler(svc, log, cfg.Stub.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.Stub.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("graceful shutdown failed", zap.Error(err))
			_ = srv.Close()
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}

	log.Info("shutdown complete")
}
