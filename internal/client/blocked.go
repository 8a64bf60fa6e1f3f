package client

import (
	"fmt"
	"net/http"
	"strings"
)

// BlockVerdict describes whether a response looks like a bot wall or a
// maintenance page instead of search results.
type BlockVerdict struct {
	Blocked    bool
	Confidence float64
	Reasons    []string
}

var challengeSignatures = []string{
	"anubis",
	"bot detection",
	"automated access detected",
	"challenge required",
	"please enable javascript",
	"verify you are human",
	"cloudflare ray id",
	"access denied",
	"security check",
	"too many requests",
}

var challengeScripts = []string{
	"document.cookie",
	"window.location",
	"settimeout",
	"challenge-form",
	"cf-challenge",
	"jschl_vc",
	"jschl_answer",
}

var captchaMarkers = []string{
	"captcha",
	"recaptcha",
	"hcaptcha",
	"are you human",
	"prove you're not a robot",
}

var protectionHeaders = []string{
	"cf-mitigated",
	"x-protected-by",
	"x-bot-protection",
}

var maintenancePhrases = []string{
	"site maintenance",
	"under maintenance",
	"maintenance mode",
	"temporarily unavailable",
}

// blockThreshold is the confidence, in percent, above which a page is treated as blocked.
const blockThreshold = 40.0

// DetectBlock scores an HTML response for challenge pages and maintenance notices.
func DetectBlock(body []byte, header http.Header, status int) BlockVerdict {
	lower := strings.ToLower(string(body))
	var verdict BlockVerdict
	points, maxPoints := 0.0, 0.0

	maxPoints += 30
	for _, sig := range challengeSignatures {
		if strings.Contains(lower, sig) {
			points += 5
			verdict.Reasons = append(verdict.Reasons, fmt.Sprintf("signature: %s", sig))
		}
	}

	maxPoints += 20
	scripts := 0
	for _, pattern := range challengeScripts {
		if strings.Contains(lower, pattern) {
			scripts++
		}
	}
	switch {
	case scripts >= 3:
		points += 15
		verdict.Reasons = append(verdict.Reasons, fmt.Sprintf("javascript challenge (%d patterns)", scripts))
	case scripts >= 1:
		points += 5
	}

	maxPoints += 15
	switch status {
	case http.StatusForbidden:
		points += 10
		verdict.Reasons = append(verdict.Reasons, "status 403")
	case http.StatusTooManyRequests:
		points += 8
		verdict.Reasons = append(verdict.Reasons, "status 429")
	case http.StatusServiceUnavailable:
		points += 6
		verdict.Reasons = append(verdict.Reasons, "status 503")
	}

	maxPoints += 15
	for _, h := range protectionHeaders {
		if header.Get(h) != "" {
			points += 5
			verdict.Reasons = append(verdict.Reasons, fmt.Sprintf("header: %s", h))
		}
	}

	maxPoints += 10
	if len(body) < 500 {
		points += 5
		verdict.Reasons = append(verdict.Reasons, "short body")
	}

	maxPoints += 10
	for _, marker := range captchaMarkers {
		if strings.Contains(lower, marker) {
			points += 8
			verdict.Reasons = append(verdict.Reasons, "captcha")
			break
		}
	}

	verdict.Confidence = min(points/maxPoints*100, 100)
	verdict.Blocked = verdict.Confidence >= blockThreshold

	if !verdict.Blocked && isMaintenancePage(lower, status) {
		verdict.Blocked = true
		verdict.Reasons = append(verdict.Reasons, "maintenance page")
	}
	return verdict
}

// isMaintenancePage only looks for maintenance wording on small pages or 503s.
func isMaintenancePage(lower string, status int) bool {
	if status != http.StatusServiceUnavailable && len(lower) > 4096 {
		return false
	}
	for _, phrase := range maintenancePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
