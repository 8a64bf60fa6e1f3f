package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FedSearch/internal/cache"
	"FedSearch/internal/category"
	"FedSearch/internal/client"
	"FedSearch/internal/instances"
	"FedSearch/internal/metrics"
	"FedSearch/internal/middleware"
	"FedSearch/internal/response"
	"FedSearch/internal/search"
	"FedSearch/internal/searcherr"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type stubService struct {
	calls atomic.Int32
	last  search.Query
	res   search.Result
	err   error
}

func (s *stubService) Search(ctx context.Context, q search.Query) (search.Result, error) {
	s.calls.Add(1)
	s.last = q
	return s.res, s.err
}

func oneResult(q string) search.Result {
	instance := "https://searx.example.com"
	return search.Result{Response: &response.AggregatedResponse{
		Query:    q,
		Category: category.General,
		Results: []response.SearchResult{
			{Type: category.General, Title: "Cats", URL: "https://cats.example.com/", Snippet: "All about cats", Favicon: response.Favicon("cats.example.com"), Metadata: response.Metadata{Domain: "cats.example.com"}},
			{Type: category.General, Title: "More cats", URL: "https://more.example.com/", Snippet: "Even more", Favicon: response.Favicon("more.example.com"), Metadata: response.Metadata{Domain: "more.example.com"}},
		},
		Aggregations: response.Aggregations{Count: 2, Instance: &instance},
	}}
}

func newTestServer(svc SearchService, deps Deps) http.Handler {
	deps.Service = svc
	if deps.Logger == nil {
		deps.Logger = quietLogger()
	}
	return New(Config{}, deps).Handler()
}

func do(t *testing.T, h http.Handler, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	var body map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestSearchRequiresQuery(t *testing.T) {
	svc := &stubService{}
	h := newTestServer(svc, Deps{})

	for _, target := range []string{"/search", "/search?q=", "/search?q=%20%20"} {
		rec, body := do(t, h, http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Equal(t, "Query is required", body["error"])
	}
	assert.Equal(t, int32(0), svc.calls.Load())
}

func TestSearchRejectsUnknownCategory(t *testing.T) {
	svc := &stubService{}
	h := newTestServer(svc, Deps{})

	rec, body := do(t, h, http.MethodGet, "/search?q=cats&category=music")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "music")
	assert.Equal(t, int32(0), svc.calls.Load())
}

func TestSearchParsesParameters(t *testing.T) {
	svc := &stubService{res: oneResult("cats")}
	h := newTestServer(svc, Deps{})

	rec, _ := do(t, h, http.MethodGet, "/search?q=cats&category=Images&safe=true")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, search.Query{Text: "cats", Category: category.Images, Safe: true}, svc.last)

	do(t, h, http.MethodGet, "/search?q=cats")
	assert.Equal(t, search.Query{Text: "cats", Category: category.General}, svc.last)
}

func TestSearchNoResultsIs404(t *testing.T) {
	svc := &stubService{err: searcherr.ErrNoResultsFound}
	h := newTestServer(svc, Deps{})

	rec, body := do(t, h, http.MethodGet, "/search?q=cats")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, body["error"], "No results found")
}

func TestSearchOtherErrors(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{searcherr.ErrCancelled, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		h := newTestServer(&stubService{err: tt.err}, Deps{})
		rec, _ := do(t, h, http.MethodGet, "/search?q=cats")
		assert.Equal(t, tt.code, rec.Code, tt.err.Error())
	}
}

func TestSearchNarrowsByParams(t *testing.T) {
	svc := &stubService{res: oneResult("cats")}
	h := newTestServer(svc, Deps{})

	rec, body := do(t, h, http.MethodGet, "/search?q=cats&max_results=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["results"], 1)
	assert.Equal(t, float64(1), body["aggregations"].(map[string]any)["count"])
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))

	// The cached response itself is untouched.
	assert.Len(t, svc.res.Response.Results, 2)
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestServer(&stubService{}, Deps{})
	for _, target := range []string{"/search?q=cats", "/instances", "/health"} {
		rec, _ := do(t, h, http.MethodPost, target)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, target)
	}
}

func TestSearchHeadDoesNotDispatch(t *testing.T) {
	svc := &stubService{res: oneResult("cats")}
	h := newTestServer(svc, Deps{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/search?q=cats", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET", rec.Header().Get("Allow"))
	assert.Equal(t, int32(0), svc.calls.Load())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSearchRateLimited(t *testing.T) {
	svc := &stubService{res: oneResult("cats")}
	h := newTestServer(svc, Deps{RateLimiter: middleware.NewRateLimiter(1, time.Minute, 1, 10)})

	rec, _ := do(t, h, http.MethodGet, "/search?q=cats")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, body := do(t, h, http.MethodGet, "/search?q=cats")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Rate limit exceeded", body["error"])
	assert.Equal(t, int32(1), svc.calls.Load())
}

func TestInstancesEndpoint(t *testing.T) {
	logger := quietLogger()
	registry := instances.NewRegistry(logger)
	registry.Set([]string{"https://a.example.com", "https://b.example.com"})
	health := instances.NewTracker(1, time.Hour)
	health.RecordFailure(instances.Instance{BaseURL: "https://b.example.com"})

	h := newTestServer(&stubService{}, Deps{Registry: registry, Health: health})
	rec, body := do(t, h, http.MethodGet, "/instances")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["count"])
	assert.Equal(t, float64(1), body["eligible"])
	assert.Equal(t, float64(1), body["failure_threshold"])
	assert.Equal(t, float64(3600), body["cooldown_seconds"])

	list := body["instances"].([]any)
	b := list[1].(map[string]any)
	assert.Equal(t, "https://b.example.com", b["url"])
	assert.Equal(t, false, b["eligible"])
	assert.Equal(t, float64(1), b["failure_count"])
}

func TestHealthEndpoint(t *testing.T) {
	registry := instances.NewRegistry(quietLogger())
	h := newTestServer(&stubService{}, Deps{Registry: registry})

	rec, body := do(t, h, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])

	registry.Set([]string{"https://a.example.com"})
	rec, body = do(t, h, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	collector := metrics.New(0)
	h := newTestServer(&stubService{err: searcherr.ErrNoResultsFound}, Deps{Metrics: collector})

	do(t, h, http.MethodGet, "/search?q=cats")
	rec, body := do(t, h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	codes := body["http"].(map[string]any)["status_codes"].(map[string]any)
	assert.Equal(t, float64(1), codes["404"])
}

// Full stack: one instance hangs, the next answers with one JSON result.
func TestSearchEndToEnd(t *testing.T) {
	logger := quietLogger()

	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		slow.Close()
	})

	var fastCalls atomic.Int32
	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fastCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"results":[{"title":"Cats","url":"https://cats.example.com/page","content":"Everything about cats","engine":"duckduckgo"}]}`)
	}))
	t.Cleanup(fast.Close)

	registry := instances.NewRegistry(logger)
	registry.Set([]string{slow.URL, fast.URL})
	health := instances.NewTracker(3, time.Minute)

	transport, err := client.NewTransport(client.DefaultTransportConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(transport.CloseIdleConnections)

	collector := metrics.New(0)
	dispatcher := search.NewDispatcher(search.Deps{
		Registry: registry,
		Health:   health,
		Fetcher:  client.New(&http.Client{Transport: transport}, client.Options{MaxBodyBytes: 1 << 20}, logger),
		Metrics:  collector,
		Logger:   logger,
		Shuffle: func(list []instances.Instance) {
			sort.SliceStable(list, func(i, j int) bool { return list[i].BaseURL == slow.URL && list[j].BaseURL != slow.URL })
		},
	}, search.Options{BatchSize: 1, MaxInstances: 2, BatchTimeout: time.Second, AttemptTimeout: 100 * time.Millisecond})

	c, err := cache.New(time.Minute, 16)
	require.NoError(t, err)
	svc := search.NewService(dispatcher, c, collector, logger)
	h := newTestServer(svc, Deps{Registry: registry, Health: health, Metrics: collector, Logger: logger})

	rec, body := do(t, h, http.MethodGet, "/search?q=cats&category=general&safe=false")
	require.Equal(t, http.StatusOK, rec.Code)

	results := body["results"].([]any)
	require.Len(t, results, 1)
	first := results[0].(map[string]any)
	assert.Equal(t, "cats.example.com", first["metadata"].(map[string]any)["domain"])
	assert.Equal(t, response.Favicon("cats.example.com"), first["favicon"])
	assert.Equal(t, fast.URL, body["aggregations"].(map[string]any)["instance"])

	rec0, ok := health.Record(instances.Instance{BaseURL: slow.URL})
	require.True(t, ok)
	assert.Equal(t, 1, rec0.FailureCount)

	// Second identical search is served from cache.
	rec2, body2 := do(t, h, http.MethodGet, "/search?q=cats&category=general&safe=false")
	require.Equal(t, http.StatusOK, rec2.Code)
	assert.Equal(t, "HIT", rec2.Header().Get("X-Cache"))
	assert.Equal(t, body["results"], body2["results"])
	assert.Equal(t, int32(1), fastCalls.Load())
}
