package response

import (
	"encoding/json"
	"fmt"

	"FedSearch/internal/category"
	"FedSearch/internal/searcherr"
)

// jsonResult mirrors one entry of a SearXNG JSON results array.
type jsonResult struct {
	Title        string   `json:"title"`
	URL          string   `json:"url"`
	Content      string   `json:"content"`
	Snippet      string   `json:"snippet"`
	Thumbnail    string   `json:"thumbnail"`
	ThumbnailSrc string   `json:"thumbnail_src"`
	ImgSrc       string   `json:"img_src"`
	Template     string   `json:"template"`
	Category     string   `json:"category"`
	Engine       string   `json:"engine"`
	Engines      []string `json:"engines"`
	Score        *float64 `json:"score"`
}

// ParseJSON extracts items from a SearXNG JSON body. The body must be a JSON
// object with a non-empty "results" array. Individual entries that do not
// decode are skipped.
//
// Field resolution:
//   - snippet: content, else snippet, else "".
//   - thumbnail: thumbnail, else thumbnail_src, else img_src.
//   - url: url, else img_src when c is images.
//   - engine: engine, else the first of engines.
func ParseJSON(body []byte, c category.Category) ([]RawExtraction, error) {
	var envelope struct {
		Results *[]json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", searcherr.ErrMalformedResponse, err)
	}
	if envelope.Results == nil {
		return nil, fmt.Errorf("%w: missing results array", searcherr.ErrMalformedResponse)
	}
	if len(*envelope.Results) == 0 {
		return nil, searcherr.ErrEmptyResultSet
	}

	items := make([]RawExtraction, 0, len(*envelope.Results))
	for _, raw := range *envelope.Results {
		var r jsonResult
		if err := json.Unmarshal(raw, &r); err != nil {
			continue
		}
		items = append(items, r.extraction(c))
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no decodable results", searcherr.ErrMalformedResponse)
	}
	return items, nil
}

func (r jsonResult) extraction(c category.Category) RawExtraction {
	return RawExtraction{
		Title:       r.Title,
		URL:         resolveResultURL(r, c),
		Snippet:     firstNonEmpty(r.Content, r.Snippet),
		Thumbnail:   firstNonEmpty(r.Thumbnail, r.ThumbnailSrc, r.ImgSrc),
		ImageSource: r.ImgSrc,
		Template:    r.Template,
		Category:    r.Category,
		Engine:      resolveEngine(r),
		Score:       r.Score,
	}
}

func resolveResultURL(r jsonResult, c category.Category) string {
	if r.URL != "" {
		return r.URL
	}
	if c == category.Images {
		return r.ImgSrc
	}
	return ""
}

func resolveEngine(r jsonResult) string {
	if r.Engine != "" {
		return r.Engine
	}
	if len(r.Engines) > 0 {
		return r.Engines[0]
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
