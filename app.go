package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"FedSearch/internal/cache"
	"FedSearch/internal/category"
	"FedSearch/internal/client"
	"FedSearch/internal/config"
	"FedSearch/internal/instances"
	"FedSearch/internal/metrics"
	"FedSearch/internal/response"
	"FedSearch/internal/search"
)

// app holds the wired components shared by every command.
type app struct {
	cfg       *config.Config
	logger    *logrus.Logger
	http      *http.Client
	registry  *instances.Registry
	health    *instances.Tracker
	metrics   *metrics.Collector
	service   *search.Service
	limits    response.Limits
	connStats *client.ConnStats
}

func newApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*app, error) {
	connStats := &client.ConnStats{}
	tcfg := client.DefaultTransportConfig()
	tcfg.ProxyURL = cfg.Client.ProxyURL
	transport, err := client.NewTransport(tcfg, connStats)
	if err != nil {
		return nil, fmt.Errorf("building transport: %w", err)
	}
	hc := &http.Client{Transport: transport}

	registry := instances.NewRegistry(logger)
	if err := loadInstances(ctx, cfg.Instances, registry, hc, logger); err != nil {
		return nil, err
	}

	health := instances.NewTracker(cfg.Health.FailureThreshold, cfg.Health.CooldownPeriod.Duration)
	collector := metrics.New(0)

	limits := response.Limits{
		MaxResults:        cfg.Results.MaxResults,
		MaxTitleLen:       cfg.Results.MaxTitleLen,
		MaxSnippetLen:     cfg.Results.MaxSnippetLen,
		TruncateIndicator: cfg.Results.TruncateSuffix,
	}

	fallback := make([]category.Category, 0, len(cfg.Dispatch.FallbackCategories))
	for _, raw := range cfg.Dispatch.FallbackCategories {
		c, err := category.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("dispatch.fallback_categories: %w", err)
		}
		fallback = append(fallback, c)
	}

	dispatcher := search.NewDispatcher(search.Deps{
		Registry: registry,
		Health:   health,
		Fetcher: client.New(hc, client.Options{
			UserAgents:   cfg.Client.UserAgents,
			MaxBodyBytes: cfg.Client.MaxBodyBytes,
		}, logger),
		Normalizer: response.NewNormalizer(limits),
		Metrics:    collector,
		Logger:     logger,
	}, search.Options{
		BatchSize:          cfg.Dispatch.BatchSize,
		MaxInstances:       cfg.Dispatch.MaxInstances,
		BatchTimeout:       cfg.Dispatch.BatchTimeout.Duration,
		AttemptTimeout:     cfg.Dispatch.AttemptTimeout.Duration,
		FallbackInstances:  cfg.Dispatch.FallbackInstances,
		FallbackCategories: fallback,
	})

	resultCache, err := cache.New(cfg.Cache.TTL.Duration, cfg.Cache.MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("building cache: %w", err)
	}

	collector.Register("connections", func() any { return connStats.Snapshot() })
	collector.Register("instances", func() any {
		return map[string]int{"known": registry.Len(), "penalized": len(health.Snapshot())}
	})
	collector.Register("cache", func() any {
		return map[string]any{"entries": resultCache.Len(), "ttl_seconds": resultCache.TTL().Seconds()}
	})

	return &app{
		cfg:       cfg,
		logger:    logger,
		http:      hc,
		registry:  registry,
		health:    health,
		metrics:   collector,
		service:   search.NewService(dispatcher, resultCache, collector, logger),
		limits:    limits,
		connStats: connStats,
	}, nil
}

func (a *app) close() {
	if t, ok := a.http.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}
