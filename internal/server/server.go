package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"FedSearch/internal/category"
	"FedSearch/internal/instances"
	"FedSearch/internal/metrics"
	"FedSearch/internal/middleware"
	"FedSearch/internal/response"
	"FedSearch/internal/search"
	"FedSearch/internal/searcherr"
)

const (
	msgQueryRequired = "Query is required"
	msgNoResults     = "No results found. Try a different query or try again later."
)

// SearchService answers aggregated searches.
type SearchService interface {
	Search(ctx context.Context, q search.Query) (search.Result, error)
}

// Config holds listener settings.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns the stock listener settings.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Deps are the components the HTTP layer exposes.
type Deps struct {
	Service     SearchService
	Registry    *instances.Registry
	Health      *instances.Tracker
	Metrics     *metrics.Collector
	RateLimiter *middleware.RateLimiter // nil disables rate limiting
	Limits      response.Limits
	Logger      *logrus.Logger
}

// Server is the HTTP front of the aggregator.
type Server struct {
	httpServer *http.Server
	deps       Deps
	logger     *logrus.Logger
	started    time.Time

	startOnce sync.Once
	stopOnce  sync.Once
}

// New builds a server with its routes installed.
func New(cfg Config, deps Deps) *Server {
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(0)
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.Limits.MaxResults <= 0 {
		deps.Limits = response.DefaultLimits
	}

	s := &Server{
		deps:    deps,
		logger:  deps.Logger,
		started: time.Now(),
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	searchHandler := http.Handler(http.HandlerFunc(s.handleSearch))
	if s.deps.RateLimiter != nil {
		searchHandler = s.deps.RateLimiter.Middleware(searchHandler)
	}
	mux.Handle("/search", searchHandler)
	mux.HandleFunc("/instances", s.handleInstances)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", s.deps.Metrics)

	return middleware.Logging(s.logger, s.deps.Metrics)(mux)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}

	params := r.URL.Query()
	text := strings.TrimSpace(params.Get("q"))
	if text == "" {
		writeError(w, http.StatusBadRequest, msgQueryRequired)
		return
	}
	cat, err := category.Parse(params.Get("category"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	safe, _ := strconv.ParseBool(params.Get("safe"))

	res, err := s.deps.Service.Search(r.Context(), search.Query{Text: text, Category: cat, Safe: safe})
	if err != nil {
		s.writeSearchError(w, r, err)
		return
	}

	w.Header().Set("X-Cache", cacheStatus(res.Cached))
	writeJSON(w, http.StatusOK, response.Narrow(res.Response, response.LimitsFromParams(s.deps.Limits, params)))
}

func (s *Server) writeSearchError(w http.ResponseWriter, r *http.Request, err error) {
	log := s.logger.WithFields(logrus.Fields{
		"request_id": middleware.RequestID(r.Context()),
		"error":      err,
	})

	switch {
	case errors.Is(err, search.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, msgQueryRequired)
	case errors.Is(err, searcherr.ErrNoResultsFound):
		writeError(w, http.StatusNotFound, msgNoResults)
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("Search deadline exceeded")
		writeError(w, http.StatusGatewayTimeout, "Search timed out")
	case errors.Is(err, context.Canceled), errors.Is(err, searcherr.ErrCancelled):
		log.Debug("Client went away before the search finished")
		writeError(w, http.StatusServiceUnavailable, "Search cancelled")
	default:
		log.Error("Search failed")
		writeError(w, http.StatusBadGateway, "Search failed")
	}
}

type instanceStatus struct {
	URL           string     `json:"url"`
	Eligible      bool       `json:"eligible"`
	FailureCount  int        `json:"failure_count"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
}

func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodHead) {
		return
	}

	var list []instances.Instance
	if s.deps.Registry != nil {
		list = s.deps.Registry.List()
	}
	out := make([]instanceStatus, 0, len(list))
	eligible := 0
	for _, inst := range list {
		st := instanceStatus{URL: inst.BaseURL, Eligible: true}
		if s.deps.Health != nil {
			st.Eligible = s.deps.Health.IsEligible(inst)
			if rec, ok := s.deps.Health.Record(inst); ok {
				st.FailureCount = rec.FailureCount
				at := rec.LastFailureAt
				st.LastFailureAt = &at
			}
		}
		if st.Eligible {
			eligible++
		}
		out = append(out, st)
	}

	body := map[string]any{
		"instances": out,
		"count":     len(out),
		"eligible":  eligible,
	}
	if s.deps.Health != nil {
		body["failure_threshold"] = s.deps.Health.Threshold()
		body["cooldown_seconds"] = s.deps.Health.Cooldown().Seconds()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodHead) {
		return
	}

	count := 0
	if s.deps.Registry != nil {
		count = s.deps.Registry.Len()
	}
	status, code := "ok", http.StatusOK
	if count == 0 {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":         status,
		"instances":      count,
		"uptime_seconds": time.Since(s.started).Seconds(),
	})
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	err := errors.New("server already started")
	s.startOnce.Do(func() {
		s.logger.WithField("addr", s.httpServer.Addr).Info("Starting server")
		err = s.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	})
	return err
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.logger.Info("Shutting down gracefully...")
		if shutdownErr := s.httpServer.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("shutdown: %w", shutdownErr)
		}
	})
	return err
}

func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	if slices.Contains(methods, r.Method) {
		return true
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}

func cacheStatus(cached bool) string {
	if cached {
		return "HIT"
	}
	return "MISS"
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("Failed to encode response")
	}
}
