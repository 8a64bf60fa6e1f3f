package response

import (
	"net/url"
	"strconv"
	"strings"
)

// Limits bounds the size of normalized results.
type Limits struct {
	MaxResults        int    // Maximum number of results to return
	MaxTitleLen       int    // Maximum title length in runes
	MaxSnippetLen     int    // Maximum snippet length in runes
	TruncateIndicator string // Appended when text is cut
}

// DefaultLimits provides sensible defaults.
var DefaultLimits = Limits{
	MaxResults:        50,
	MaxTitleLen:       200,
	MaxSnippetLen:     500,
	TruncateIndicator: "...",
}

// LimitsFromParams lets a request narrow the configured limits. Values
// outside (0, base] are ignored.
func LimitsFromParams(base Limits, params url.Values) Limits {
	l := base

	if v := getParam(params, "max_results"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= base.MaxResults {
			l.MaxResults = n
		}
	}
	if v := getParam(params, "max_snippet_len"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= base.MaxSnippetLen {
			l.MaxSnippetLen = n
		}
	}
	if v := getParam(params, "max_title_len"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= base.MaxTitleLen {
			l.MaxTitleLen = n
		}
	}
	return l
}

func getParam(params url.Values, key string) string {
	if values, ok := params[key]; ok && len(values) > 0 {
		return strings.TrimSpace(values[0])
	}
	return ""
}

// Narrow applies tighter limits to an already normalized response and
// returns a copy; resp is not modified.
func Narrow(resp *AggregatedResponse, l Limits) *AggregatedResponse {
	out := *resp
	n := len(resp.Results)
	if l.MaxResults > 0 && n > l.MaxResults {
		n = l.MaxResults
	}
	out.Results = make([]SearchResult, n)
	for i := 0; i < n; i++ {
		r := resp.Results[i]
		r.Title = TruncateText(r.Title, l.MaxTitleLen, l.TruncateIndicator)
		r.Snippet = TruncateText(r.Snippet, l.MaxSnippetLen, l.TruncateIndicator)
		out.Results[i] = r
	}
	out.Aggregations.Count = n
	out.Aggregations.Engines = Engines(out.Results)
	return &out
}
