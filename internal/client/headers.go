package client

import (
	"math/rand/v2"
	"net/http"
	"strings"
)

// DefaultUserAgents are current desktop browser identifiers.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
}

var acceptLanguages = []string{
	"en-US,en;q=0.9",
	"en-GB,en;q=0.9,en-US;q=0.8",
	"en-US,en;q=0.8,de;q=0.5",
}

// setBrowserHeaders makes the request look like it came from a desktop browser.
func setBrowserHeaders(req *http.Request, mode Mode, userAgents []string) {
	if len(userAgents) == 0 {
		userAgents = DefaultUserAgents
	}
	req.Header.Set("User-Agent", userAgents[rand.IntN(len(userAgents))])

	if mode == ModeJSON {
		req.Header.Set("Accept", "application/json, text/javascript, */*;q=0.01")
	} else {
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
		req.Header.Set("Upgrade-Insecure-Requests", "1")
	}
	req.Header.Set("Accept-Language", acceptLanguages[rand.IntN(len(acceptLanguages))])

	// Vary the encoding order between requests.
	encodings := []string{"gzip", "deflate", "br", "zstd"}
	rand.Shuffle(len(encodings), func(i, j int) {
		encodings[i], encodings[j] = encodings[j], encodings[i]
	})
	req.Header.Set("Accept-Encoding", strings.Join(encodings, ", "))
	req.Header.Set("DNT", "1")
}
