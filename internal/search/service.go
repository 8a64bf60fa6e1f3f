package search

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"FedSearch/internal/cache"
	"FedSearch/internal/category"
	"FedSearch/internal/metrics"
	"FedSearch/internal/response"
)

// Searcher produces a fresh aggregated response.
type Searcher interface {
	Search(ctx context.Context, q Query) (*response.AggregatedResponse, error)
}

// Service puts the response cache and in-flight coalescing in front of a
// Searcher.
type Service struct {
	searcher Searcher
	cache    *cache.Cache
	group    singleflight.Group
	metrics  *metrics.Collector
	logger   *logrus.Logger
}

// NewService creates a service.
func NewService(searcher Searcher, c *cache.Cache, collector *metrics.Collector, logger *logrus.Logger) *Service {
	if collector == nil {
		collector = metrics.New(0)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{searcher: searcher, cache: c, metrics: collector, logger: logger}
}

// Result is a search outcome plus whether it came from cache.
type Result struct {
	Response *response.AggregatedResponse
	Cached   bool
}

// Search answers q from cache when a fresh entry exists. Otherwise identical
// concurrent queries share one dispatch, and a successful result is cached.
// The shared dispatch is detached from any single caller's cancellation; each
// caller stops waiting when its own context ends.
func (s *Service) Search(ctx context.Context, q Query) (Result, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return Result{}, ErrEmptyQuery
	}
	if q.Category == "" {
		q.Category = category.General
	}
	s.metrics.Search()

	key := cache.NewKey(q.Text, q.Category, q.Safe)
	if resp, ok := s.cache.Get(key); ok {
		s.metrics.CacheHit()
		s.logger.WithField("key", key.String()).Debug("Cache hit")
		return Result{Response: echoQuery(resp, q.Text), Cached: true}, nil
	}
	s.metrics.CacheMiss()

	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key.String(), func() (any, error) {
		if resp, ok := s.cache.Get(key); ok {
			return resp, nil
		}
		resp, err := s.searcher.Search(detached, q)
		if err != nil {
			return nil, err
		}
		s.cache.Put(key, resp)
		return resp, nil
	})

	select {
	case <-ctx.Done():
		return Result{}, context.Cause(ctx)
	case res := <-ch:
		if res.Shared {
			s.metrics.Coalesced()
		}
		if res.Err != nil {
			return Result{}, res.Err
		}
		return Result{Response: echoQuery(res.Val.(*response.AggregatedResponse), q.Text)}, nil
	}
}

// echoQuery returns a shallow copy of resp carrying the caller's own query
// text. Cached and shared payloads are never modified.
func echoQuery(resp *response.AggregatedResponse, text string) *response.AggregatedResponse {
	if resp.Query == text {
		return resp
	}
	out := *resp
	out.Query = text
	return &out
}
