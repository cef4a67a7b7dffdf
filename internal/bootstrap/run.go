package bootstrap

import (
	"context"
	"database/sql"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/telbill/robo-ops/config"
)

// RunConfig groups everything the service runtime needs.
type RunConfig struct {
	Config      *config.AppConfig
	Services    *ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// RunWithShutdown starts the HTTP server and blocks until SIGINT/SIGTERM,
// then shuts everything down in dependency order.
func RunWithShutdown(cfg *RunConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := StartHTTPServer(&HTTPServerConfig{
		Config:   cfg.Config,
		Services: cfg.Services,
		Logger:   logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		return ShutdownHTTPServer(ShutdownConfig{
			Context:  context.Background(),
			Server:   server,
			Services: cfg.Services,
			Logger:   logger,
		})
	})

	return g.Wait()
}
