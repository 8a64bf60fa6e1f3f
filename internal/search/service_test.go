package search

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FedSearch/internal/cache"
	"FedSearch/internal/category"
	"FedSearch/internal/metrics"
	"FedSearch/internal/response"
	"FedSearch/internal/searcherr"
)

type countingSearcher struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (s *countingSearcher) Search(ctx context.Context, q Query) (*response.AggregatedResponse, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return nil, s.err
	}
	instance := "https://searx.example.com"
	return &response.AggregatedResponse{
		Query:    q.Text,
		Category: q.Category,
		Results: []response.SearchResult{{
			Type:     q.Category,
			Title:    "Cats",
			URL:      "https://cats.example.com/",
			Favicon:  response.Favicon("cats.example.com"),
			Metadata: response.Metadata{Domain: "cats.example.com"},
		}},
		Aggregations: response.Aggregations{Count: 1, Instance: &instance},
	}, nil
}

func newService(t *testing.T, s Searcher) (*Service, *metrics.Collector) {
	t.Helper()
	c, err := cache.New(time.Minute, 16)
	require.NoError(t, err)
	collector := metrics.New(0)
	return NewService(s, c, collector, quietLogger()), collector
}

func TestServiceCacheHitMakesNoCalls(t *testing.T) {
	searcher := &countingSearcher{}
	svc, collector := newService(t, searcher)

	first, err := svc.Search(context.Background(), Query{Text: "Cats", Category: category.General})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := svc.Search(context.Background(), Query{Text: "  cats ", Category: category.General})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Response.Results, second.Response.Results)

	assert.Equal(t, int32(1), searcher.calls.Load())
	snap := collector.Snapshot().Search
	assert.Equal(t, int64(1), snap.CacheHits)
	assert.Equal(t, int64(1), snap.CacheMisses)
}

func TestServiceKeySeparatesCategoryAndSafe(t *testing.T) {
	searcher := &countingSearcher{}
	svc, _ := newService(t, searcher)

	for _, q := range []Query{
		{Text: "cats", Category: category.General},
		{Text: "cats", Category: category.Images},
		{Text: "cats", Category: category.General, Safe: true},
	} {
		_, err := svc.Search(context.Background(), q)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), searcher.calls.Load())
}

func TestServiceCoalescesConcurrentSearches(t *testing.T) {
	searcher := &countingSearcher{delay: 100 * time.Millisecond}
	svc, _ := newService(t, searcher)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Search(context.Background(), Query{Text: "cats"})
			assert.NoError(t, err)
			assert.NotNil(t, res.Response)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), searcher.calls.Load())
}

func TestServiceDoesNotCacheFailures(t *testing.T) {
	searcher := &countingSearcher{err: searcherr.ErrNoResultsFound}
	svc, _ := newService(t, searcher)

	for i := 0; i < 2; i++ {
		_, err := svc.Search(context.Background(), Query{Text: "cats"})
		assert.ErrorIs(t, err, searcherr.ErrNoResultsFound)
	}
	assert.Equal(t, int32(2), searcher.calls.Load())
}

func TestServiceRejectsEmptyQuery(t *testing.T) {
	searcher := &countingSearcher{}
	svc, _ := newService(t, searcher)

	_, err := svc.Search(context.Background(), Query{Text: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuery)
	assert.Equal(t, int32(0), searcher.calls.Load())
}

func TestServiceCallerStopsWaitingOnCancel(t *testing.T) {
	searcher := &countingSearcher{delay: 300 * time.Millisecond}
	svc, _ := newService(t, searcher)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := svc.Search(ctx, Query{Text: "cats"})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 200*time.Millisecond)

	// The detached dispatch still completes and fills the cache.
	require.Eventually(t, func() bool {
		res, err := svc.Search(context.Background(), Query{Text: "cats"})
		return err == nil && res.Cached
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, int32(1), searcher.calls.Load())
}

func TestServiceEchoesCallerQuery(t *testing.T) {
	searcher := &countingSearcher{}
	svc, _ := newService(t, searcher)

	first, err := svc.Search(context.Background(), Query{Text: "CATS"})
	require.NoError(t, err)
	assert.Equal(t, "CATS", first.Response.Query)

	second, err := svc.Search(context.Background(), Query{Text: "cats"})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, "cats", second.Response.Query)
	assert.Equal(t, first.Response.Results, second.Response.Results)

	// The cached payload still carries the text it was stored with.
	third, err := svc.Search(context.Background(), Query{Text: "CATS"})
	require.NoError(t, err)
	assert.Equal(t, "CATS", third.Response.Query)
	assert.Equal(t, int32(1), searcher.calls.Load())
}
