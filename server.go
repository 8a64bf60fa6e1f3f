package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"FedSearch/internal/middleware"
	"FedSearch/internal/server"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the HTTP search service (default)",
		Action: runServe,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address, overrides server.addr",
			},
		},
	}
}

func runServe(ctx context.Context, c *cli.Command) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	if addr := c.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	watchInstances(ctx, cfg.Instances, a.registry, logger)

	var limiter *middleware.RateLimiter
	if rl := cfg.Server.RateLimit; rl.Enabled() {
		limiter = middleware.NewRateLimiter(rl.Requests, rl.Window.Duration, rl.Burst, 0)
		a.metrics.Register("rate_limiter", func() any { return limiter.Stats() })
	}

	srv := server.New(server.Config{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
	}, server.Deps{
		Service:     a.service,
		Registry:    a.registry,
		Health:      a.health,
		Metrics:     a.metrics,
		RateLimiter: limiter,
		Limits:      a.limits,
		Logger:      logger,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	grace := cfg.Server.ShutdownTimeout.Duration
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Shutdown error")
	}
	logger.Info("Server stopped")
	return nil
}
