package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Collector aggregates request and search counters.
type Collector struct {
	startedAt time.Time

	http   *httpMetrics
	search searchMetrics

	// Extra sources contribute named sections to the snapshot.
	sourcesMu sync.RWMutex
	sources   map[string]func() any
}

// httpMetrics tracks inbound HTTP traffic.
type httpMetrics struct {
	total  atomic.Int64
	active atomic.Int64
	failed atomic.Int64

	mu            sync.Mutex
	statusCodes   map[int]int64
	latencyBuffer []time.Duration
	bufferIndex   int
}

type searchMetrics struct {
	searches    atomic.Int64
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	coalesced   atomic.Int64
	fallbacks   atomic.Int64
	exhausted   atomic.Int64

	mu       sync.Mutex
	attempts map[string]int64
	wins     map[string]int64
	failures map[string]int64
}

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Timestamp     time.Time      `json:"timestamp"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	HTTP          HTTPSnapshot   `json:"http"`
	Search        SearchSnapshot `json:"search"`
	Sources       map[string]any `json:"sources,omitempty"`
}

// HTTPSnapshot summarises inbound HTTP traffic.
type HTTPSnapshot struct {
	TotalRequests  int64         `json:"total_requests"`
	ActiveRequests int64         `json:"active_requests"`
	FailedRequests int64         `json:"failed_requests"`
	StatusCodes    map[int]int64 `json:"status_codes"`
	AverageLatency time.Duration `json:"average_latency_ns"`
	P95Latency     time.Duration `json:"p95_latency_ns"`
	P99Latency     time.Duration `json:"p99_latency_ns"`
}

// SearchSnapshot summarises aggregation outcomes.
type SearchSnapshot struct {
	Searches    int64            `json:"searches"`
	CacheHits   int64            `json:"cache_hits"`
	CacheMisses int64            `json:"cache_misses"`
	Coalesced   int64            `json:"coalesced"`
	Fallbacks   int64            `json:"fallbacks"`
	Exhausted   int64            `json:"exhausted"`
	Attempts    map[string]int64 `json:"attempts"`
	Wins        map[string]int64 `json:"wins"`
	Failures    map[string]int64 `json:"failures"`
}

// New creates a collector keeping the last latencyBuffer request latencies.
func New(latencyBuffer int) *Collector {
	if latencyBuffer <= 0 {
		latencyBuffer = 1000
	}
	return &Collector{
		startedAt: time.Now(),
		http: &httpMetrics{
			statusCodes:   make(map[int]int64),
			latencyBuffer: make([]time.Duration, latencyBuffer),
		},
		search: searchMetrics{
			attempts: make(map[string]int64),
			wins:     make(map[string]int64),
			failures: make(map[string]int64),
		},
		sources: make(map[string]func() any),
	}
}

// Register adds a named section computed at snapshot time.
func (c *Collector) Register(name string, source func() any) {
	c.sourcesMu.Lock()
	c.sources[name] = source
	c.sourcesMu.Unlock()
}

// StartHTTPRequest marks the start of an HTTP request.
func (c *Collector) StartHTTPRequest() {
	c.http.active.Add(1)
}

// EndHTTPRequest records a finished HTTP request.
func (c *Collector) EndHTTPRequest(statusCode int, latency time.Duration) {
	c.http.active.Add(-1)
	c.http.total.Add(1)
	if statusCode >= 400 {
		c.http.failed.Add(1)
	}

	c.http.mu.Lock()
	c.http.statusCodes[statusCode]++
	c.http.latencyBuffer[c.http.bufferIndex] = latency
	c.http.bufferIndex = (c.http.bufferIndex + 1) % len(c.http.latencyBuffer)
	c.http.mu.Unlock()
}

// Search counts one search request.
func (c *Collector) Search() { c.search.searches.Add(1) }

// CacheHit counts a search answered from cache.
func (c *Collector) CacheHit() { c.search.cacheHits.Add(1) }

// CacheMiss counts a search that had to be dispatched.
func (c *Collector) CacheMiss() { c.search.cacheMisses.Add(1) }

// Coalesced counts a search that shared another caller's in-flight result.
func (c *Collector) Coalesced() { c.search.coalesced.Add(1) }

// Fallback counts a broadened fallback pass.
func (c *Collector) Fallback() { c.search.fallbacks.Add(1) }

// Exhausted counts a search that found nothing anywhere.
func (c *Collector) Exhausted() { c.search.exhausted.Add(1) }

// Attempt counts one request to an instance in the given mode.
func (c *Collector) Attempt(mode string) {
	c.search.mu.Lock()
	c.search.attempts[mode]++
	c.search.mu.Unlock()
}

// Win counts a batch won by an attempt in the given mode.
func (c *Collector) Win(mode string) {
	c.search.mu.Lock()
	c.search.wins[mode]++
	c.search.mu.Unlock()
}

// Failure counts an instance failure of the given kind.
func (c *Collector) Failure(kind string) {
	c.search.mu.Lock()
	c.search.failures[kind]++
	c.search.mu.Unlock()
}

// Snapshot returns a copy of all metrics.
func (c *Collector) Snapshot() Snapshot {
	snap := Snapshot{
		Timestamp:     time.Now(),
		UptimeSeconds: time.Since(c.startedAt).Seconds(),
		HTTP:          c.httpSnapshot(),
		Search:        c.searchSnapshot(),
	}

	c.sourcesMu.RLock()
	if len(c.sources) > 0 {
		snap.Sources = make(map[string]any, len(c.sources))
		for name, source := range c.sources {
			snap.Sources[name] = source()
		}
	}
	c.sourcesMu.RUnlock()
	return snap
}

func (c *Collector) httpSnapshot() HTTPSnapshot {
	c.http.mu.Lock()
	statusCodes := make(map[int]int64, len(c.http.statusCodes))
	for code, count := range c.http.statusCodes {
		statusCodes[code] = count
	}
	latencies := make([]time.Duration, 0, len(c.http.latencyBuffer))
	for _, l := range c.http.latencyBuffer {
		if l > 0 {
			latencies = append(latencies, l)
		}
	}
	c.http.mu.Unlock()

	snap := HTTPSnapshot{
		TotalRequests:  c.http.total.Load(),
		ActiveRequests: c.http.active.Load(),
		FailedRequests: c.http.failed.Load(),
		StatusCodes:    statusCodes,
	}
	if len(latencies) == 0 {
		return snap
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	var total time.Duration
	for _, l := range latencies {
		total += l
	}
	snap.AverageLatency = total / time.Duration(len(latencies))
	snap.P95Latency = latencies[min(int(float64(len(latencies))*0.95), len(latencies)-1)]
	snap.P99Latency = latencies[min(int(float64(len(latencies))*0.99), len(latencies)-1)]
	return snap
}

func (c *Collector) searchSnapshot() SearchSnapshot {
	c.search.mu.Lock()
	defer c.search.mu.Unlock()
	return SearchSnapshot{
		Searches:    c.search.searches.Load(),
		CacheHits:   c.search.cacheHits.Load(),
		CacheMisses: c.search.cacheMisses.Load(),
		Coalesced:   c.search.coalesced.Load(),
		Fallbacks:   c.search.fallbacks.Load(),
		Exhausted:   c.search.exhausted.Load(),
		Attempts:    copyCounts(c.search.attempts),
		Wins:        copyCounts(c.search.wins),
		Failures:    copyCounts(c.search.failures),
	}
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ServeHTTP writes the current snapshot as JSON.
func (c *Collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(c.Snapshot())
}
