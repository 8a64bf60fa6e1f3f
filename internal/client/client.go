// Package client issues search requests to individual instances and maps
// transport failures onto the search error taxonomy.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"FedSearch/internal/category"
	"FedSearch/internal/instances"
	"FedSearch/internal/searcherr"
)

// Mode selects between the JSON API and the HTML results page.
type Mode int

const (
	ModeJSON Mode = iota
	ModeHTML
)

func (m Mode) String() string {
	if m == ModeJSON {
		return "json"
	}
	return "html"
}

// Request is the instance-independent part of an outbound search.
type Request struct {
	Query    string
	Category category.Category
	Safe     bool
}

// Options configures a Client.
type Options struct {
	UserAgents   []string
	MaxBodyBytes int64
}

// Client fetches search pages from instances.
type Client struct {
	http   *http.Client
	opts   Options
	logger *logrus.Logger
}

// New wraps hc. Request deadlines come from the caller's context, so hc
// should not carry its own Timeout.
func New(hc *http.Client, opts Options, logger *logrus.Logger) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{http: hc, opts: opts, logger: logger}
}

// SearchURL builds the outbound URL for inst.
func SearchURL(inst instances.Instance, req Request, mode Mode) (string, error) {
	u, err := url.Parse(inst.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/search"

	params := url.Values{}
	params.Set("q", req.Query)
	if mode == ModeJSON {
		params.Set("format", "json")
	}
	if req.Category != "" {
		params.Set("categories", string(req.Category))
	}
	if req.Safe {
		params.Set("safesearch", "1")
	} else {
		params.Set("safesearch", "0")
	}
	u.RawQuery = params.Encode()
	return u.String(), nil
}

// Fetch requests one search page from inst and returns the decoded body.
// Errors are *searcherr.InstanceError values classified by kind.
func (c *Client) Fetch(ctx context.Context, inst instances.Instance, req Request, mode Mode) ([]byte, error) {
	target, err := SearchURL(inst, req, mode)
	if err != nil {
		return nil, searcherr.NewInstanceError(inst.BaseURL, searcherr.ErrInstanceUnreachable, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, searcherr.NewInstanceError(inst.BaseURL, searcherr.ErrInstanceUnreachable, err)
	}
	setBrowserHeaders(httpReq, mode, c.opts.UserAgents)

	c.logger.WithFields(logrus.Fields{
		"instance": inst.BaseURL,
		"mode":     mode.String(),
		"category": req.Category,
	}).Debug("Querying instance")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, classify(ctx, inst, err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp, c.opts.MaxBodyBytes)
	if err != nil {
		// The instance answered; only a broken connection or our own
		// deadline makes an unreadable body a transport failure.
		var netErr net.Error
		if ctx.Err() != nil || errors.As(err, &netErr) {
			return nil, classify(ctx, inst, err)
		}
		return nil, searcherr.NewInstanceError(inst.BaseURL, searcherr.ErrMalformedResponse, err)
	}

	// Bot walls and maintenance pages often come with 403, 429 or 503.
	if mode == ModeHTML {
		if verdict := DetectBlock(body, resp.Header, resp.StatusCode); verdict.Blocked {
			return nil, searcherr.NewInstanceError(inst.BaseURL, searcherr.ErrMalformedResponse,
				fmt.Errorf("blocked page (status %d): %s", resp.StatusCode, strings.Join(verdict.Reasons, ", ")))
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, searcherr.NewInstanceError(inst.BaseURL, searcherr.ErrMalformedResponse,
			fmt.Errorf("status code %d", resp.StatusCode))
	}
	return body, nil
}

// classify maps a transport error to the taxonomy. Cancellation is checked
// first so that aborts caused by a sibling winning are never reported as
// timeouts.
func classify(ctx context.Context, inst instances.Instance, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return searcherr.NewInstanceError(inst.BaseURL, searcherr.ErrInstanceTimeout, err)
		}
		return searcherr.NewInstanceError(inst.BaseURL, searcherr.ErrCancelled, context.Cause(ctx))
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return searcherr.NewInstanceError(inst.BaseURL, searcherr.ErrInstanceTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return searcherr.NewInstanceError(inst.BaseURL, searcherr.ErrInstanceTimeout, err)
	}
	return searcherr.NewInstanceError(inst.BaseURL, searcherr.ErrInstanceUnreachable, err)
}
