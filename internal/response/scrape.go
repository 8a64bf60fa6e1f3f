package response

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"FedSearch/internal/category"
	"FedSearch/internal/searcherr"
)

// Rule describes one known result-card shape. Within a matched container the
// first selector in each list that yields a value wins.
type Rule struct {
	Container string
	Title     []string
	Link      []string
	Snippet   []string
	Image     []string
	// Category marks every item from this container, if set.
	Category category.Category
}

// DefaultRules covers the SearXNG simple and oscar themes, followed by
// generic result containers. Order is precedence.
var DefaultRules = []Rule{
	{
		Container: "article.result-images",
		Title:     []string{"span.title", "h4", ".result-images-labels h4", "h3"},
		Link:      []string{"a.result-images-source", "a[href]"},
		Snippet:   []string{"p.result-content", ".result-content"},
		Image:     []string{"img.image_thumbnail", "img"},
		Category:  category.Images,
	},
	{
		Container: "article.result-videos",
		Title:     []string{"h3 a", "h3"},
		Link:      []string{"h3 a", "a.url_header", "a[href]"},
		Snippet:   []string{"p.content", ".content", "p"},
		Image:     []string{"img.thumbnail", ".result_thumbnail img", "img"},
		Category:  category.Videos,
	},
	{
		Container: "article.result",
		Title:     []string{"h3 a", "h3", "h4 a"},
		Link:      []string{"h3 a", "a.url_header", "a[href]"},
		Snippet:   []string{"p.content", ".content", ".result-content", "p"},
		Image:     []string{"img.thumbnail", ".thumbnail img", "img"},
	},
	{
		Container: "div.result",
		Title:     []string{"h4 a", "h3 a", "h4", "h3"},
		Link:      []string{"h4 a", "h3 a", "a[href]"},
		Snippet:   []string{"p.result-content", ".result-content", ".content", "p"},
		Image:     []string{"img.img-thumbnail", "img"},
	},
	{
		Container: "li.result, div.search-result, div.result-item, div.web-result",
		Title:     []string{"h3 a", "h2 a", "h3", "h2", "a[href]"},
		Link:      []string{"h3 a", "h2 a", "a[href]"},
		Snippet:   []string{".snippet", ".description", ".content", "p"},
		Image:     []string{"img"},
	},
}

// Scraper extracts items from an HTML results page using ordered rules.
type Scraper struct {
	rules []Rule
}

// NewScraper builds a scraper. No rules means DefaultRules.
func NewScraper(rules ...Rule) *Scraper {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Scraper{rules: rules}
}

// Scrape applies the rules to body. Relative links resolve against baseURL.
// Containers already consumed by an earlier rule, or nested inside one, are
// skipped, as are containers without a usable link and repeated URLs.
func (s *Scraper) Scrape(body []byte, baseURL string) ([]RawExtraction, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", searcherr.ErrMalformedResponse, err)
	}
	doc := goquery.NewDocumentFromNode(root)

	consumed := make(map[*html.Node]struct{})
	seenURL := make(map[string]struct{})
	var items []RawExtraction

	for _, rule := range s.rules {
		doc.Find(rule.Container).Each(func(_ int, card *goquery.Selection) {
			node := card.Get(0)
			if insideConsumed(node, consumed) {
				return
			}

			link, ok := firstLink(card, rule.Link, base)
			if !ok {
				return
			}
			consumed[node] = struct{}{}
			if _, dup := seenURL[link]; dup {
				return
			}
			seenURL[link] = struct{}{}

			item := RawExtraction{
				Title:   firstText(card, rule.Title),
				URL:     link,
				Snippet: firstText(card, rule.Snippet),
				Engine:  engineOf(card),
			}
			if img, ok := firstImage(card, rule.Image, base); ok {
				item.Thumbnail = img
			}
			if rule.Category != "" {
				item.Category = string(rule.Category)
				item.Template = string(rule.Category) + ".html"
				if rule.Category == category.Images {
					item.ImageSource = item.Thumbnail
				}
			}
			items = append(items, item)
		})
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no result containers matched", searcherr.ErrEmptyResultSet)
	}
	return items, nil
}

func insideConsumed(n *html.Node, consumed map[*html.Node]struct{}) bool {
	for p := n; p != nil; p = p.Parent {
		if _, ok := consumed[p]; ok {
			return true
		}
	}
	return false
}

func firstText(card *goquery.Selection, selectors []string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(card.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func firstLink(card *goquery.Selection, selectors []string, base *url.URL) (string, bool) {
	for _, sel := range selectors {
		var found string
		card.Find(sel).EachWithBreak(func(_ int, a *goquery.Selection) bool {
			href, _ := a.Attr("href")
			if resolved, ok := resolve(base, href); ok {
				found = resolved
				return false
			}
			return true
		})
		if found != "" {
			return found, true
		}
	}
	return "", false
}

// firstImage checks src before the lazy-load data-src attribute.
func firstImage(card *goquery.Selection, selectors []string, base *url.URL) (string, bool) {
	for _, sel := range selectors {
		img := card.Find(sel).First()
		if img.Length() == 0 {
			continue
		}
		for _, attr := range []string{"src", "data-src"} {
			v, _ := img.Attr(attr)
			if strings.HasPrefix(v, "data:") {
				continue
			}
			if resolved, ok := resolve(base, v); ok {
				return resolved, true
			}
		}
	}
	return "", false
}

func engineOf(card *goquery.Selection) string {
	if e, ok := card.Attr("data-engine"); ok && e != "" {
		return e
	}
	return strings.TrimSpace(card.Find(".engines span").First().Text())
}

// resolve turns ref into an absolute http(s) URL relative to base.
func resolve(base *url.URL, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" || ref == "#" || strings.HasPrefix(strings.ToLower(ref), "javascript:") {
		return "", false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(u)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	if abs.Host == "" {
		return "", false
	}
	return abs.String(), true
}
