package response

import "FedSearch/internal/category"

// RawExtraction is the adapter-neutral shape of one discovered item, before
// category filtering and normalization.
type RawExtraction struct {
	Title       string
	URL         string
	Snippet     string
	Thumbnail   string
	ImageSource string
	Template    string
	Category    string
	Engine      string
	Score       *float64
}

// Markers exposes the fields the category filter looks at.
func (r RawExtraction) Markers() category.Markers {
	return category.Markers{
		URL:         r.URL,
		Snippet:     r.Snippet,
		Thumbnail:   r.Thumbnail,
		ImageSource: r.ImageSource,
		Template:    r.Template,
		Category:    r.Category,
		Engine:      r.Engine,
	}
}

// SearchResult is one normalized result returned to clients.
type SearchResult struct {
	Type      category.Category `json:"type"`
	Title     string            `json:"title"`
	URL       string            `json:"url"`
	Snippet   string            `json:"snippet"`
	Thumbnail *string           `json:"thumbnail"`
	Favicon   string            `json:"favicon"`
	Metadata  Metadata          `json:"metadata"`
}

// Metadata carries derived and optional per-result details.
type Metadata struct {
	Domain string   `json:"domain"`
	Engine string   `json:"engine,omitempty"`
	Score  *float64 `json:"score,omitempty"`
}

// AggregatedResponse is the payload of a successful search.
type AggregatedResponse struct {
	Query        string            `json:"query"`
	Category     category.Category `json:"category"`
	Results      []SearchResult    `json:"results"`
	Aggregations Aggregations      `json:"aggregations"`
}

// Aggregations summarises how a response was produced.
type Aggregations struct {
	Count          int      `json:"count"`
	ElapsedSeconds float64  `json:"elapsedSeconds"`
	Engines        []string `json:"engines"`
	Instance       *string  `json:"instance"`
	Fallback       bool     `json:"fallback,omitempty"`
}

// Engines returns the distinct non-empty engine names in results, in first-seen order.
func Engines(results []SearchResult) []string {
	seen := make(map[string]struct{})
	engines := make([]string, 0)
	for _, r := range results {
		e := r.Metadata.Engine
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		engines = append(engines, e)
	}
	return engines
}
