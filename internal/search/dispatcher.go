// Package search fans a query out to instances in racing batches and turns
// the first usable answer into an aggregated response.
package search

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	"FedSearch/internal/category"
	"FedSearch/internal/client"
	"FedSearch/internal/instances"
	"FedSearch/internal/metrics"
	"FedSearch/internal/response"
	"FedSearch/internal/searcherr"
)

// ErrEmptyQuery is returned when the query text is blank.
var ErrEmptyQuery = errors.New("query is required")

// Query is what a client asked for.
type Query struct {
	Text     string
	Category category.Category
	Safe     bool
}

// Fetcher retrieves one search page from an instance.
type Fetcher interface {
	Fetch(ctx context.Context, inst instances.Instance, req client.Request, mode client.Mode) ([]byte, error)
}

// Options tunes batching, racing and the broadened fallback.
type Options struct {
	BatchSize          int
	MaxInstances       int
	BatchTimeout       time.Duration
	AttemptTimeout     time.Duration
	FallbackInstances  int
	FallbackCategories []category.Category
}

// DefaultOptions returns the stock dispatcher settings.
func DefaultOptions() Options {
	return Options{
		BatchSize:          5,
		MaxInstances:       15,
		BatchTimeout:       8 * time.Second,
		AttemptTimeout:     6 * time.Second,
		FallbackInstances:  3,
		FallbackCategories: []category.Category{category.Images, category.Videos},
	}
}

// Deps are the collaborators a Dispatcher works with.
type Deps struct {
	Registry   *instances.Registry
	Health     *instances.Tracker
	Fetcher    Fetcher
	Scraper    *response.Scraper
	Normalizer *response.Normalizer
	Metrics    *metrics.Collector
	Logger     *logrus.Logger
	// Shuffle reorders eligible instances; nil means a random shuffle.
	Shuffle func([]instances.Instance)
}

// Dispatcher runs the batched race over eligible instances.
type Dispatcher struct {
	registry   *instances.Registry
	health     *instances.Tracker
	fetcher    Fetcher
	scraper    *response.Scraper
	normalizer *response.Normalizer
	metrics    *metrics.Collector
	logger     *logrus.Logger
	shuffle    func([]instances.Instance)
	opts       Options
}

// NewDispatcher wires a dispatcher. Missing optional deps get defaults.
func NewDispatcher(deps Deps, opts Options) *Dispatcher {
	def := DefaultOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.MaxInstances <= 0 {
		opts.MaxInstances = def.MaxInstances
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = def.BatchTimeout
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = def.AttemptTimeout
	}

	d := &Dispatcher{
		registry:   deps.Registry,
		health:     deps.Health,
		fetcher:    deps.Fetcher,
		scraper:    deps.Scraper,
		normalizer: deps.Normalizer,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		shuffle:    deps.Shuffle,
		opts:       opts,
	}
	if d.scraper == nil {
		d.scraper = response.NewScraper()
	}
	if d.normalizer == nil {
		d.normalizer = response.NewNormalizer(response.DefaultLimits)
	}
	if d.metrics == nil {
		d.metrics = metrics.New(0)
	}
	if d.logger == nil {
		d.logger = logrus.StandardLogger()
	}
	if d.shuffle == nil {
		d.shuffle = func(list []instances.Instance) {
			rand.Shuffle(len(list), func(i, j int) { list[i], list[j] = list[j], list[i] })
		}
	}
	return d
}

// hit is a winning attempt.
type hit struct {
	instance instances.Instance
	mode     client.Mode
	results  []response.SearchResult
}

// Search races eligible instances batch by batch and returns the first
// non-empty category-filtered result set. When every batch fails and the
// category allows it, a broadened pass fetches general results and filters
// them locally. Total work is bounded by the number of batches times
// BatchTimeout.
func (d *Dispatcher) Search(ctx context.Context, q Query) (*response.AggregatedResponse, error) {
	if q.Text == "" {
		return nil, ErrEmptyQuery
	}
	if q.Category == "" {
		q.Category = category.General
	}
	start := time.Now()
	log := d.logger.WithFields(logrus.Fields{"query": q.Text, "category": q.Category})

	candidates := d.candidates(d.opts.MaxInstances)
	batches := partition(candidates, d.opts.BatchSize)
	log.WithFields(logrus.Fields{
		"eligible": len(candidates),
		"batches":  len(batches),
	}).Debug("Dispatching search")

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", searcherr.ErrCancelled, context.Cause(ctx))
		}
		if h, ok := d.runBatch(ctx, batch, q, q.Category, log.WithField("batch", i+1)); ok {
			return d.respond(q, h, start, false), nil
		}
	}

	if d.fallbackAllowed(q.Category) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", searcherr.ErrCancelled, context.Cause(ctx))
		}
		fallback := d.candidates(d.opts.FallbackInstances)
		if len(fallback) > 0 {
			d.metrics.Fallback()
			log.WithField("instances", len(fallback)).Info("Trying broadened fallback")
			if h, ok := d.runBatch(ctx, fallback, q, category.General, log.WithField("batch", "fallback")); ok {
				return d.respond(q, h, start, true), nil
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", searcherr.ErrCancelled, context.Cause(ctx))
	}
	d.metrics.Exhausted()
	log.WithField("elapsed", time.Since(start)).Warn("No instance returned results")
	return nil, searcherr.ErrNoResultsFound
}

func (d *Dispatcher) candidates(limit int) []instances.Instance {
	eligible := d.health.Eligible(d.registry.List())
	d.shuffle(eligible)
	if limit > 0 && len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return eligible
}

func (d *Dispatcher) fallbackAllowed(c category.Category) bool {
	return d.opts.FallbackInstances > 0 && slices.Contains(d.opts.FallbackCategories, c)
}

// runBatch races one batch. Every failed task counts once against its
// instance unless it was cancelled; the winner's record is cleared.
func (d *Dispatcher) runBatch(ctx context.Context, batch []instances.Instance, q Query, fetchCat category.Category, log *logrus.Entry) (hit, bool) {
	batchCtx, cancel := context.WithTimeout(ctx, d.opts.BatchTimeout)
	defer cancel()

	tasks := make([]Task[hit], len(batch))
	for i, inst := range batch {
		tasks[i] = func(ctx context.Context) (hit, error) {
			return d.query(ctx, inst, q, fetchCat)
		}
	}

	winner, idx, errs := Race(batchCtx, tasks)

	for i, err := range errs {
		if err == nil {
			continue
		}
		entry := log.WithField("instance", batch[i].BaseURL).WithError(err)
		if !searcherr.Penalized(err) {
			entry.Debug("Attempt cancelled")
			continue
		}
		d.health.RecordFailure(batch[i])
		d.metrics.Failure(kindName(err))
		entry.Info("Instance failed")
	}

	if idx < 0 {
		return hit{}, false
	}
	d.health.RecordSuccess(winner.instance)
	d.metrics.Win(winner.mode.String())
	log.WithFields(logrus.Fields{
		"instance": winner.instance.BaseURL,
		"mode":     winner.mode.String(),
		"results":  len(winner.results),
	}).Info("Batch won")
	return winner, true
}

// query tries the JSON API and then the HTML page of one instance. A
// network-level failure on the first request skips the second.
func (d *Dispatcher) query(ctx context.Context, inst instances.Instance, q Query, fetchCat category.Category) (hit, error) {
	req := client.Request{Query: q.Text, Category: fetchCat, Safe: q.Safe}

	results, err := d.attempt(ctx, inst, req, q.Category, client.ModeJSON)
	if err == nil {
		return hit{instance: inst, mode: client.ModeJSON, results: results}, nil
	}
	if searcherr.Transport(err) || !searcherr.Penalized(err) {
		return hit{}, err
	}
	if ctx.Err() != nil {
		return hit{}, searcherr.NewInstanceError(inst.BaseURL, searcherr.ErrCancelled, context.Cause(ctx))
	}

	results, err = d.attempt(ctx, inst, req, q.Category, client.ModeHTML)
	if err != nil {
		return hit{}, err
	}
	return hit{instance: inst, mode: client.ModeHTML, results: results}, nil
}

// attempt performs one request under AttemptTimeout and reduces the body to
// normalized results for want.
func (d *Dispatcher) attempt(ctx context.Context, inst instances.Instance, req client.Request, want category.Category, mode client.Mode) ([]response.SearchResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.opts.AttemptTimeout)
	defer cancel()

	d.metrics.Attempt(mode.String())
	body, err := d.fetcher.Fetch(attemptCtx, inst, req, mode)
	if err != nil {
		return nil, err
	}

	var items []response.RawExtraction
	if mode == client.ModeJSON {
		items, err = response.ParseJSON(body, want)
	} else {
		items, err = d.scraper.Scrape(body, inst.BaseURL)
	}
	if err != nil {
		return nil, searcherr.NewInstanceError(inst.BaseURL, kindOf(err), err)
	}

	results := d.normalizer.NormalizeAll(category.Filter(items, want), want, inst.BaseURL)
	if len(results) == 0 {
		return nil, searcherr.NewInstanceError(inst.BaseURL, searcherr.ErrEmptyResultSet,
			fmt.Errorf("%d %s items, none usable as %s", len(items), mode, want))
	}
	return results, nil
}

func (d *Dispatcher) respond(q Query, h hit, start time.Time, fallback bool) *response.AggregatedResponse {
	instance := h.instance.BaseURL
	return &response.AggregatedResponse{
		Query:    q.Text,
		Category: q.Category,
		Results:  h.results,
		Aggregations: response.Aggregations{
			Count:          len(h.results),
			ElapsedSeconds: time.Since(start).Seconds(),
			Engines:        response.Engines(h.results),
			Instance:       &instance,
			Fallback:       fallback,
		},
	}
}

func partition(list []instances.Instance, size int) [][]instances.Instance {
	var batches [][]instances.Instance
	for start := 0; start < len(list); start += size {
		end := min(start+size, len(list))
		batches = append(batches, list[start:end])
	}
	return batches
}

func kindOf(err error) error {
	if kind := searcherr.Kind(err); kind != nil {
		return kind
	}
	return searcherr.ErrMalformedResponse
}

func kindName(err error) string {
	if kind := searcherr.Kind(err); kind != nil {
		return kind.Error()
	}
	return "other"
}
