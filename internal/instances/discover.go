package instances

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// DefaultDiscoveryURL is the public SearXNG instance directory.
const DefaultDiscoveryURL = "https://searx.space/data/instances.json"

// directoryEntry holds the fields we need to decide whether a listed instance is usable.
type directoryEntry struct {
	NetworkType string `json:"network_type"`
	Generator   string `json:"generator"`
}

type directory struct {
	Instances map[string]directoryEntry `json:"instances"`
}

// Discover fetches the instance directory at directoryURL, keeps clearnet
// SearXNG deployments and replaces the registry with them.
func (r *Registry) Discover(ctx context.Context, client *http.Client, directoryURL string) (int, error) {
	body, err := get(ctx, client, directoryURL)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch instances data: %w", err)
	}
	urls, err := healthyFromDirectory(body)
	if err != nil {
		return 0, err
	}
	return r.Set(urls), nil
}

func healthyFromDirectory(body []byte) ([]string, error) {
	var data directory
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to decode instances JSON: %w", err)
	}

	var healthy []string
	for u, details := range data.Instances {
		if details.NetworkType == "normal" && details.Generator == "searxng" {
			healthy = append(healthy, u)
		}
	}
	return healthy, nil
}
