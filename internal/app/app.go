package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/pulsechat/internal/config"
	"github.com/vovakirdan/pulsechat/internal/core"
	"github.com/vovakirdan/pulsechat/internal/ratelimit"
	"github.com/vovakirdan/pulsechat/internal/store"
	"github.com/vovakirdan/pulsechat/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/pulsechat/internal/transport/http"
)

// App wires together storage, the hub and the transport layer.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	purgeInterval   time.Duration
	hub             *core.Hub
	store           store.Store
	closers         []func() error
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	a := &App{
		shutdownTimeout: cfg.ShutdownTimeout,
		purgeInterval:   cfg.PurgeInterval,
		store:           st,
		log:             logger,
	}

	limiter, err := a.newLimiter(ctx, cfg.RateLimit)
	if err != nil {
		a.cleanup()
		return nil, err
	}

	a.hub = core.NewHub(st, limiter, logger,
		core.WithSweepInterval(cfg.SweepInterval),
		core.WithTypingTTL(cfg.TypingTTL),
	)
	a.server = transporthttp.NewServer(a.hub, st, cfg, logger)
	return a, nil
}

func (a *App) newLimiter(ctx context.Context, cfg config.RateLimitConfig) (ratelimit.Limiter, error) {
	switch cfg.Backend {
	case "", config.RateLimitBackendMemory:
		a.log.Info().Int("max", cfg.Max).Dur("window", cfg.Window).Msg("in-memory rate limiter")
		return ratelimit.NewMemory(cfg.Max, cfg.Window), nil
	case config.RateLimitBackendRedis:
		client, err := ratelimit.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("init rate limiter: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		a.log.Info().Str("redis_addr", cfg.RedisAddr).Int("max", cfg.Max).Dur("window", cfg.Window).Msg("redis rate limiter")
		return ratelimit.NewRedis(client, cfg.KeyPrefix, cfg.Max, cfg.Window), nil
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", cfg.Backend)
	}
}

// Run starts the HTTP server, the hub and the purge loop, and blocks until the
// context is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.hub.Run(gctx)
	})

	g.Go(func() error {
		return a.purgeLoop(gctx)
	})

	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// purgeLoop deletes expired rooms and messages from storage.
func (a *App) purgeLoop(ctx context.Context) error {
	if a.purgeInterval <= 0 {
		return nil
	}
	ticker := time.NewTicker(a.purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			a.purge(ctx, now)
		}
	}
}

func (a *App) purge(ctx context.Context, now time.Time) {
	rooms, messages, err := a.store.PurgeExpired(ctx, now)
	if err != nil {
		a.log.Warn().Err(err).Msg("purge expired records")
		return
	}
	if rooms > 0 || messages > 0 {
		a.log.Info().Int64("rooms", rooms).Int64("messages", messages).Msg("purged expired records")
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close resource")
		}
	}
	a.closers = nil

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
		a.store = nil
	}
}
