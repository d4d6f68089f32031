package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/and161185/delta-auth/internal/api"
	"github.com/and161185/delta-auth/internal/config"
	"github.com/and161185/delta-auth/internal/limiter"
	"github.com/and161185/delta-auth/internal/logger"
	"github.com/and161185/delta-auth/internal/migrate"
	"github.com/and161185/delta-auth/internal/session"
	"github.com/and161185/delta-auth/internal/social"
	"github.com/and161185/delta-auth/internal/storage"
)

// refreshSkew triggers a refresh on startup when the access token expires sooner.
const refreshSkew = time.Minute

// app wires the configured components for one command invocation.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	client  *api.Client
	store   *session.Store
	social  *social.Registry
	closers []func()
}

func loadConfig(g *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.apiURL != "" {
		cfg.API.BaseURL = g.apiURL
	}
	if g.backend != "" {
		cfg.Storage.Backend = g.backend
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newApp(ctx context.Context, g *globalFlags, s streams) (*app, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Dev)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}

	opts := []api.Option{api.WithTimeout(cfg.API.Timeout), api.WithLogger(log)}
	if cfg.API.RatePerSecond > 0 {
		opts = append(opts, api.WithRateLimit(cfg.API.RatePerSecond, cfg.API.RateBurst))
	}
	a.client = api.New(cfg.API.BaseURL, opts...)

	st, lim, err := a.openStorage(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	providers := make(map[string]social.ProviderConfig, len(cfg.OAuth))
	for name, oc := range cfg.OAuth {
		providers[name] = social.ProviderConfig{
			ClientID:     oc.ClientID,
			ClientSecret: oc.ClientSecret,
			RedirectPort: oc.RedirectPort,
		}
	}
	a.social = social.NewRegistry(providers, a.client,
		social.WithLogger(log), social.WithOpener(social.PrintURL(s.err)))

	a.store = session.New(ctx, a.client,
		session.WithStorage(st),
		session.WithLimiter(lim),
		session.WithLogger(log),
		session.WithSocial(a.social),
		session.WithRefreshInterval(cfg.Session.RefreshInterval),
	)
	a.closers = append(a.closers, a.store.Close)

	snap := a.store.Snapshot()
	if snap.IsAuthenticated() && !snap.ExpiresAt.IsZero() && time.Until(snap.ExpiresAt) < refreshSkew {
		if err := a.store.Refresh(ctx); err != nil {
			log.Debug("startup refresh failed", zap.Error(err))
		}
	}
	return a, nil
}

// openStorage returns the configured storage backend and the login limiter
// that goes with it.
func (a *app) openStorage(ctx context.Context) (storage.Storage, limiter.Limiter, error) {
	sc := a.cfg.Storage
	sess := a.cfg.Session

	switch sc.Backend {
	case "memory":
		return storage.NewMemory(), limiter.NewMemory(sess.LockoutWindow, sess.MaxLoginFails, sess.LockoutFor), nil
	case "file":
		dir := sc.Dir
		if dir == "" {
			dir = storage.DefaultDir()
		}
		lim := limiter.NewFile(dir, sess.LockoutWindow, sess.MaxLoginFails, sess.LockoutFor)
		return storage.NewFile(dir, sc.Passphrase), lim, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: sc.RedisAddr})
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		lim := limiter.NewRedis(rdb, sc.RedisPrefix, sess.LockoutWindow, sess.MaxLoginFails, sess.LockoutFor)
		return storage.NewRedis(rdb, sc.RedisPrefix, sc.RedisTTL), lim, nil
	case "postgres":
		if err := migrate.Up(ctx, sc.PostgresDSN); err != nil {
			return nil, nil, fmt.Errorf("migrate up: %w", err)
		}
		pool, err := pgxpool.New(ctx, sc.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("pgxpool.New: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		lim := limiter.NewPG(pool, sess.LockoutWindow, sess.MaxLoginFails, sess.LockoutFor)
		return storage.NewPostgres(pool, sc.Namespace), lim, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}
