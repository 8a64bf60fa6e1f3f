package response

import (
	htmlutil "html"
	"net/url"
	"regexp"
	"strings"

	"FedSearch/internal/category"
)

var (
	htmlTagRegex    = regexp.MustCompile(`<[^>]*>`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// Normalizer turns filtered extractions into SearchResults.
type Normalizer struct {
	limits Limits
}

// NewNormalizer creates a normalizer. Zero fields fall back to DefaultLimits.
func NewNormalizer(limits Limits) *Normalizer {
	if limits.MaxResults <= 0 {
		limits.MaxResults = DefaultLimits.MaxResults
	}
	if limits.MaxTitleLen <= 0 {
		limits.MaxTitleLen = DefaultLimits.MaxTitleLen
	}
	if limits.MaxSnippetLen <= 0 {
		limits.MaxSnippetLen = DefaultLimits.MaxSnippetLen
	}
	return &Normalizer{limits: limits}
}

// Limits returns the effective limits.
func (n *Normalizer) Limits() Limits { return n.limits }

// Normalize builds a SearchResult from raw. It reports false when the URL
// cannot be made absolute.
func (n *Normalizer) Normalize(raw RawExtraction, c category.Category, baseURL string) (SearchResult, bool) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return SearchResult{}, false
	}
	link, ok := resolve(base, raw.URL)
	if !ok {
		return SearchResult{}, false
	}
	u, _ := url.Parse(link)
	domain := u.Hostname()

	title := CleanText(raw.Title)
	if title == "" {
		title = domain
	}

	result := SearchResult{
		Type:    c,
		Title:   TruncateText(title, n.limits.MaxTitleLen, n.limits.TruncateIndicator),
		URL:     link,
		Snippet: TruncateText(CleanText(raw.Snippet), n.limits.MaxSnippetLen, n.limits.TruncateIndicator),
		Favicon: Favicon(domain),
		Metadata: Metadata{
			Domain: domain,
			Engine: raw.Engine,
			Score:  raw.Score,
		},
	}
	if thumb, ok := resolve(base, raw.Thumbnail); ok {
		result.Thumbnail = &thumb
	}
	return result, true
}

// NormalizeAll normalizes items in order, drops unusable ones and caps the
// count at MaxResults.
func (n *Normalizer) NormalizeAll(items []RawExtraction, c category.Category, baseURL string) []SearchResult {
	results := make([]SearchResult, 0, min(len(items), n.limits.MaxResults))
	for _, item := range items {
		if len(results) >= n.limits.MaxResults {
			break
		}
		if r, ok := n.Normalize(item, c, baseURL); ok {
			results = append(results, r)
		}
	}
	return results
}

// Favicon derives the icon URL for a domain.
func Favicon(domain string) string {
	return "https://www.google.com/s2/favicons?domain=" + url.QueryEscape(domain) + "&sz=64"
}

// CleanText decodes entities, strips tags and collapses whitespace.
func CleanText(text string) string {
	text = htmlutil.UnescapeString(text)
	text = htmlTagRegex.ReplaceAllString(text, "")
	text = whitespaceRegex.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// TruncateText shortens text to maxLen runes including indicator, breaking
// at a word boundary when one is close.
func TruncateText(text string, maxLen int, indicator string) string {
	runes := []rune(text)
	if maxLen <= 0 || len(runes) <= maxLen {
		return text
	}

	ind := []rune(indicator)
	if maxLen <= len(ind) {
		return string(runes[:maxLen])
	}

	truncated := string(runes[:maxLen-len(ind)])
	if spaceIdx := strings.LastIndex(truncated, " "); spaceIdx > len(truncated)/2 {
		truncated = truncated[:spaceIdx]
	}
	return strings.TrimRight(truncated, " ") + indicator
}
