package category

import (
	"net/url"
	"strings"
)

// Markers are the fields of an extracted item that the filter inspects.
type Markers struct {
	URL         string
	Snippet     string
	Thumbnail   string
	ImageSource string
	Template    string
	Category    string
	Engine      string
}

// Marked is anything that can expose its category markers.
type Marked interface {
	Markers() Markers
}

var imageEngines = map[string]struct{}{
	"flickr":        {},
	"unsplash":      {},
	"pinterest":     {},
	"deviantart":    {},
	"openverse":     {},
	"imgur":         {},
	"artic":         {},
	"pixabay":       {},
	"pexels":        {},
	"wallhaven":     {},
	"wikicommons":   {},
	"qwant images":  {},
	"google images": {},
	"bing images":   {},
}

var videoHosts = []string{
	"youtube.com",
	"youtu.be",
	"vimeo.com",
	"dailymotion.com",
	"twitch.tv",
	"rumble.com",
	"bilibili.com",
	"odysee.com",
	"peertube.tv",
	"tiktok.com",
}

// Filter keeps the items that belong to c. Items that do not match are
// dropped, never coerced.
func Filter[T Marked](items []T, c Category) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if Matches(item.Markers(), c) {
			out = append(out, item)
		}
	}
	return out
}

// Matches applies the category heuristics to a single item.
//
//   - images: an image source, the images template or category, an image
//     engine, or a thumbnail on an item not marked as a video.
//   - videos: the videos template or category, or a known video host.
//   - general: anything except image or video cards that carry no snippet.
func Matches(m Markers, c Category) bool {
	switch c {
	case Images:
		return IsImage(m)
	case Videos:
		return IsVideo(m)
	default:
		if strings.TrimSpace(m.Snippet) != "" {
			return true
		}
		return !IsImage(m) && !IsVideo(m)
	}
}

// IsImage reports whether m carries any image marker. A thumbnail alone
// does not count on an item explicitly marked as a video.
func IsImage(m Markers) bool {
	if m.ImageSource != "" {
		return true
	}
	if strings.Contains(strings.ToLower(m.Template), "images") {
		return true
	}
	if strings.EqualFold(m.Category, string(Images)) {
		return true
	}
	if isImageEngine(m.Engine) {
		return true
	}
	return m.Thumbnail != "" && !markedVideo(m)
}

// IsVideo reports whether m carries any video marker.
func IsVideo(m Markers) bool {
	return markedVideo(m) || IsVideoHost(m.URL)
}

func markedVideo(m Markers) bool {
	return strings.Contains(strings.ToLower(m.Template), "videos") ||
		strings.EqualFold(m.Category, string(Videos))
}

// IsVideoHost reports whether rawURL points at a known video hosting site.
func IsVideoHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	for _, vh := range videoHosts {
		if host == vh || strings.HasSuffix(host, "."+vh) {
			return true
		}
	}
	return false
}

func isImageEngine(engine string) bool {
	e := strings.ToLower(strings.TrimSpace(engine))
	if e == "" {
		return false
	}
	if _, ok := imageEngines[e]; ok {
		return true
	}
	return strings.Contains(e, "image")
}
