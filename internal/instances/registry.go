package instances

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Instance is one backend meta-search deployment. Its identity is the
// normalized base URL.
type Instance struct {
	BaseURL string `json:"base_url"`
}

func (i Instance) String() string { return i.BaseURL }

// ErrInvalidInstanceURL is returned when a base URL is not an absolute http(s) URL.
var ErrInvalidInstanceURL = errors.New("invalid instance url")

// NormalizeURL trims whitespace and trailing slashes and checks that the
// result is an absolute http or https URL.
func NormalizeURL(raw string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidInstanceURL)
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInstanceURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidInstanceURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrInvalidInstanceURL, raw)
	}
	return trimmed, nil
}

// Registry is the deduplicated set of known instances.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]Instance
	logger    *logrus.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registry{
		instances: make(map[string]Instance),
		logger:    logger,
	}
}

// Set replaces the registry contents. Invalid URLs are skipped and logged;
// the number of instances kept is returned.
func (r *Registry) Set(urls []string) int {
	next := make(map[string]Instance, len(urls))
	for _, raw := range urls {
		normalized, err := NormalizeURL(raw)
		if err != nil {
			r.logger.WithError(err).WithField("url", raw).Warn("Skipping instance")
			continue
		}
		next[normalized] = Instance{BaseURL: normalized}
	}

	r.mu.Lock()
	r.instances = next
	r.mu.Unlock()
	return len(next)
}

// List returns a snapshot of the registry sorted by base URL.
func (r *Registry) List() []Instance {
	r.mu.RLock()
	list := make([]Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		list = append(list, inst)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].BaseURL < list[j].BaseURL })
	return list
}

// Len returns the number of registered instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}

// LoadFile replaces the registry with the URLs in path. The file holds either
// a JSON array of strings or one URL per line; blank lines and lines starting
// with '#' are ignored.
func (r *Registry) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open instances file: %w", err)
	}
	urls, err := parseList(data)
	if err != nil {
		return 0, fmt.Errorf("failed to decode instances file: %w", err)
	}
	return r.Set(urls), nil
}

// FetchURL replaces the registry with a JSON array of URLs served at listURL.
func (r *Registry) FetchURL(ctx context.Context, client *http.Client, listURL string) (int, error) {
	body, err := get(ctx, client, listURL)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch instances: %w", err)
	}
	var urls []string
	if err := json.Unmarshal(body, &urls); err != nil {
		return 0, fmt.Errorf("failed to unmarshal instances: %w", err)
	}
	return r.Set(urls), nil
}

func parseList(data []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var urls []string
		if err := json.Unmarshal(trimmed, &urls); err != nil {
			return nil, err
		}
		return urls, nil
	}

	var urls []string
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}

func get(ctx context.Context, client *http.Client, target string) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status code %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 16<<20))
}
