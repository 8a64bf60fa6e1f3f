package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"FedSearch/internal/category"
)

// Config captures everything needed to run the aggregator service.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Instances InstancesConfig `yaml:"instances" toml:"instances"`
	Health    HealthConfig    `yaml:"health" toml:"health"`
	Dispatch  DispatchConfig  `yaml:"dispatch" toml:"dispatch"`
	Cache     CacheConfig     `yaml:"cache" toml:"cache"`
	Results   ResultsConfig   `yaml:"results" toml:"results"`
	Client    ClientConfig    `yaml:"client" toml:"client"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string          `yaml:"addr" toml:"addr"`
	ReadTimeout     Duration        `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout    Duration        `yaml:"write_timeout" toml:"write_timeout"`
	IdleTimeout     Duration        `yaml:"idle_timeout" toml:"idle_timeout"`
	ShutdownTimeout Duration        `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
}

// RateLimitConfig applies a token bucket per client address.
type RateLimitConfig struct {
	Requests int      `yaml:"requests" toml:"requests"`
	Window   Duration `yaml:"window" toml:"window"`
	Burst    int      `yaml:"burst" toml:"burst"`
}

// InstancesConfig lists where backend base URLs come from.
type InstancesConfig struct {
	Static       []string `yaml:"static" toml:"static"`
	File         string   `yaml:"file" toml:"file"`
	WatchFile    bool     `yaml:"watch_file" toml:"watch_file"`
	ListURL      string   `yaml:"list_url" toml:"list_url"`
	DiscoveryURL string   `yaml:"discovery_url" toml:"discovery_url"`
}

// HealthConfig tunes the per-instance failure cooldown.
type HealthConfig struct {
	FailureThreshold int      `yaml:"failure_threshold" toml:"failure_threshold"`
	CooldownPeriod   Duration `yaml:"cooldown_period" toml:"cooldown_period"`
}

// DispatchConfig tunes batching and racing.
type DispatchConfig struct {
	BatchSize          int      `yaml:"batch_size" toml:"batch_size"`
	MaxInstances       int      `yaml:"max_instances" toml:"max_instances"`
	BatchTimeout       Duration `yaml:"batch_timeout" toml:"batch_timeout"`
	AttemptTimeout     Duration `yaml:"attempt_timeout" toml:"attempt_timeout"`
	FallbackInstances  int      `yaml:"fallback_instances" toml:"fallback_instances"`
	FallbackCategories []string `yaml:"fallback_categories" toml:"fallback_categories"`
}

// CacheConfig tunes the response cache.
type CacheConfig struct {
	TTL        Duration `yaml:"ttl" toml:"ttl"`
	MaxEntries int      `yaml:"max_entries" toml:"max_entries"`
}

// ResultsConfig bounds the size of returned results.
type ResultsConfig struct {
	MaxResults     int    `yaml:"max_results" toml:"max_results"`
	MaxTitleLen    int    `yaml:"max_title_len" toml:"max_title_len"`
	MaxSnippetLen  int    `yaml:"max_snippet_len" toml:"max_snippet_len"`
	TruncateSuffix string `yaml:"truncate_suffix" toml:"truncate_suffix"`
}

// ClientConfig controls outbound requests to instances.
type ClientConfig struct {
	UserAgents   []string `yaml:"user_agents" toml:"user_agents"`
	MaxBodyBytes int64    `yaml:"max_body_bytes" toml:"max_body_bytes"`
	ProxyURL     string   `yaml:"proxy_url" toml:"proxy_url"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
	JSON  bool   `yaml:"json" toml:"json"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     DurationFrom(30 * time.Second),
			WriteTimeout:    DurationFrom(60 * time.Second),
			IdleTimeout:     DurationFrom(60 * time.Second),
			ShutdownTimeout: DurationFrom(10 * time.Second),
			RateLimit: RateLimitConfig{
				Requests: 60,
				Window:   DurationFrom(time.Minute),
				Burst:    20,
			},
		},
		Instances: InstancesConfig{
			DiscoveryURL: "https://searx.space/data/instances.json",
		},
		Health: HealthConfig{
			FailureThreshold: 3,
			CooldownPeriod:   DurationFrom(5 * time.Minute),
		},
		Dispatch: DispatchConfig{
			BatchSize:          5,
			MaxInstances:       15,
			BatchTimeout:       DurationFrom(8 * time.Second),
			AttemptTimeout:     DurationFrom(6 * time.Second),
			FallbackInstances:  3,
			FallbackCategories: []string{"images", "videos"},
		},
		Cache: CacheConfig{
			TTL:        DurationFrom(5 * time.Minute),
			MaxEntries: 1024,
		},
		Results: ResultsConfig{
			MaxResults:     50,
			MaxTitleLen:    200,
			MaxSnippetLen:  500,
			TruncateSuffix: "...",
		},
		Client: ClientConfig{
			MaxBodyBytes: 4 * 1024 * 1024,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads, merges, and validates configuration from a YAML or TOML file.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".toml":
			err = decodeTOML(bytes.NewReader(data), &cfg)
		default:
			err = decodeYAML(bytes.NewReader(data), &cfg)
		}
		if err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	cfg.normalise()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func decodeTOML(r io.Reader, cfg *Config) error {
	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// applyEnv lets a few deployment-specific values be overridden without a file.
func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("FEDSEARCH_ADDR")); v != "" {
		c.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("FEDSEARCH_INSTANCES_FILE")); v != "" {
		c.Instances.File = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		c.Logging.Level = v
	}
}

// Validate enforces required invariants for the service configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("server.addr must be set")
	}
	if c.Health.FailureThreshold <= 0 {
		return fmt.Errorf("health.failure_threshold must be > 0 (got %d)", c.Health.FailureThreshold)
	}
	if c.Health.CooldownPeriod.Duration <= 0 {
		return errors.New("health.cooldown_period must be > 0")
	}
	if c.Dispatch.BatchSize <= 0 {
		return fmt.Errorf("dispatch.batch_size must be > 0 (got %d)", c.Dispatch.BatchSize)
	}
	if c.Dispatch.MaxInstances < c.Dispatch.BatchSize {
		return fmt.Errorf("dispatch.max_instances must be >= batch_size (got %d < %d)", c.Dispatch.MaxInstances, c.Dispatch.BatchSize)
	}
	if c.Dispatch.BatchTimeout.Duration <= 0 {
		return errors.New("dispatch.batch_timeout must be > 0")
	}
	if c.Dispatch.AttemptTimeout.Duration <= 0 {
		return errors.New("dispatch.attempt_timeout must be > 0")
	}
	if c.Dispatch.FallbackInstances < 0 {
		return fmt.Errorf("dispatch.fallback_instances must be >= 0 (got %d)", c.Dispatch.FallbackInstances)
	}
	for _, cat := range c.Dispatch.FallbackCategories {
		if _, err := category.Parse(cat); err != nil {
			return fmt.Errorf("dispatch.fallback_categories: %w", err)
		}
	}
	if c.Cache.TTL.Duration < 0 {
		return errors.New("cache.ttl must be >= 0")
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be > 0 (got %d)", c.Cache.MaxEntries)
	}
	if c.Results.MaxResults <= 0 {
		return fmt.Errorf("results.max_results must be > 0 (got %d)", c.Results.MaxResults)
	}
	if c.Client.MaxBodyBytes <= 0 {
		return fmt.Errorf("client.max_body_bytes must be > 0 (got %d)", c.Client.MaxBodyBytes)
	}
	if rl := c.Server.RateLimit; rl.Requests < 0 {
		return fmt.Errorf("server.rate_limit.requests must be >= 0 (got %d)", rl.Requests)
	}
	return nil
}

func (c *Config) normalise() {
	c.Server.Addr = strings.TrimSpace(c.Server.Addr)
	c.Instances.File = strings.TrimSpace(c.Instances.File)
	c.Instances.ListURL = strings.TrimSpace(c.Instances.ListURL)
	c.Instances.DiscoveryURL = strings.TrimSpace(c.Instances.DiscoveryURL)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))

	if len(c.Instances.Static) > 0 {
		c.Instances.Static = dedupe(c.Instances.Static)
	}
	if len(c.Dispatch.FallbackCategories) > 0 {
		c.Dispatch.FallbackCategories = dedupeLower(c.Dispatch.FallbackCategories)
	}
	cleaned := c.Client.UserAgents[:0]
	for _, ua := range c.Client.UserAgents {
		if ua = strings.TrimSpace(ua); ua != "" {
			cleaned = append(cleaned, ua)
		}
	}
	c.Client.UserAgents = cleaned
}

func dedupe(values []string) []string {
	unique := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimRight(strings.TrimSpace(v), "/")
		if v == "" {
			continue
		}
		if _, ok := unique[v]; ok {
			continue
		}
		unique[v] = struct{}{}
		cleaned = append(cleaned, v)
	}
	return cleaned
}

func dedupeLower(values []string) []string {
	unique := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := unique[v]; ok {
			continue
		}
		unique[v] = struct{}{}
		cleaned = append(cleaned, v)
	}
	sort.Strings(cleaned)
	return cleaned
}

// Enabled reports whether per-client rate limiting is active.
func (r RateLimitConfig) Enabled() bool {
	return r.Requests > 0 && !r.Window.IsZero()
}
