package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/investa-id/investa_portal/internal/apiclient"
	"github.com/investa-id/investa_portal/internal/authsync"
	"github.com/investa-id/investa_portal/internal/config"
	"github.com/investa-id/investa_portal/internal/gateway"
	"github.com/investa-id/investa_portal/internal/infra"
	"github.com/investa-id/investa_portal/internal/logging"
	"github.com/investa-id/investa_portal/internal/refresh"
	"github.com/investa-id/investa_portal/internal/server"
	"github.com/investa-id/investa_portal/internal/session"
	"github.com/investa-id/investa_portal/internal/signals"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("portal stopped", logging.Err(err))
		os.Exit(1)
	}
	logger.Info("portal exited cleanly")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// every portal process sharing the store is one browsing context
	contextID := uuid.NewString()
	logger = logger.With(slog.String("context_id", contextID))

	bus := signals.NewBus()
	nav := gateway.NewNavigator(logger)
	api := apiclient.New(cfg.APIBaseURL,
		apiclient.WithTimeout(cfg.APITimeout),
		apiclient.WithRateLimit(cfg.APIRateLimit),
		apiclient.WithLogger(logger),
	)

	var (
		cache  *redis.Client
		store  session.Store
		bridge *signals.RedisBridge
	)
	if cfg.RedisURL != "" {
		var err error
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", logging.Err(err))
			}
		}()
		bridge = signals.NewRedisBridge(cache, cfg.StorageNamespace, contextID, bus, logger)
		store = session.NewRedisStore(cache, cfg.StorageNamespace, bridge, logger)
	} else {
		logger.Warn("REDIS_URL not set, session storage is local to this process")
		store = session.NewMemoryStore(nil)
	}

	prizes, err := gateway.ParsePrizes(cfg.SpinPrizes)
	if err != nil {
		return fmt.Errorf("spin prizes: %w", err)
	}

	loop := refresh.New(store, api, nav, refresh.Config{Interval: cfg.RefreshInterval, Logger: logger})
	syncer := authsync.New(store, loop, bus, nav, authsync.Options{Logger: logger})

	srv, err := server.New(gateway.Deps{
		Cfg:       cfg,
		Cache:     cache,
		Store:     store,
		API:       api,
		Loop:      loop,
		Signals:   bus,
		Navigator: nav,
		ContextID: contextID,
		Prizes:    prizes,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if bridge != nil {
		g.Go(func() error { return bridge.Run(gctx, nil) })
	}
	g.Go(func() error { return syncer.Run(gctx) })
	g.Go(srv.Listen)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		loop.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
