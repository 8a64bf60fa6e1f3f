package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FedSearch/internal/category"
	"FedSearch/internal/instances"
	"FedSearch/internal/searcherr"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	transport, err := NewTransport(DefaultTransportConfig(), &ConnStats{})
	require.NoError(t, err)
	return New(&http.Client{Transport: transport}, Options{MaxBodyBytes: 1 << 20}, logger)
}

func TestSearchURL(t *testing.T) {
	inst := instances.Instance{BaseURL: "https://searx.example.com/sub"}

	raw, err := SearchURL(inst, Request{Query: "cats & dogs", Category: category.Images, Safe: true}, ModeJSON)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/sub/search", u.Path)
	assert.Equal(t, "cats & dogs", u.Query().Get("q"))
	assert.Equal(t, "json", u.Query().Get("format"))
	assert.Equal(t, "images", u.Query().Get("categories"))
	assert.Equal(t, "1", u.Query().Get("safesearch"))

	raw, err = SearchURL(inst, Request{Query: "cats"}, ModeHTML)
	require.NoError(t, err)
	u, _ = url.Parse(raw)
	assert.False(t, u.Query().Has("format"))
	assert.False(t, u.Query().Has("categories"))
	assert.Equal(t, "0", u.Query().Get("safesearch"))
}

func TestFetchSendsBrowserHeaders(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer server.Close()

	c := testClient(t)
	_, err := c.Fetch(context.Background(), instances.Instance{BaseURL: server.URL}, Request{Query: "cats"}, ModeJSON)
	require.NoError(t, err)

	assert.Contains(t, got.Get("User-Agent"), "Mozilla/5.0")
	assert.Contains(t, got.Get("Accept"), "application/json")
	for _, enc := range []string{"gzip", "deflate", "br", "zstd"} {
		assert.Contains(t, got.Get("Accept-Encoding"), enc)
	}
}

func TestFetchDecodesEncodings(t *testing.T) {
	payload := []byte(`{"results":[{"title":"x"}]}`)

	encoders := map[string]func([]byte) []byte{
		"gzip": func(b []byte) []byte {
			var buf bytes.Buffer
			w := gzip.NewWriter(&buf)
			_, _ = w.Write(b)
			_ = w.Close()
			return buf.Bytes()
		},
		"br": func(b []byte) []byte {
			var buf bytes.Buffer
			w := brotli.NewWriter(&buf)
			_, _ = w.Write(b)
			_ = w.Close()
			return buf.Bytes()
		},
		"zstd": func(b []byte) []byte {
			enc, _ := zstd.NewWriter(nil)
			defer enc.Close()
			return enc.EncodeAll(b, nil)
		},
	}

	for name, encode := range encoders {
		t.Run(name, func(t *testing.T) {
			encoded := encode(payload)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Encoding", name)
				_, _ = w.Write(encoded)
			}))
			defer server.Close()

			body, err := testClient(t).Fetch(context.Background(), instances.Instance{BaseURL: server.URL}, Request{Query: "x"}, ModeJSON)
			require.NoError(t, err)
			assert.Equal(t, payload, body)
		})
	}
}

func TestFetchStatusIsMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := testClient(t).Fetch(context.Background(), instances.Instance{BaseURL: server.URL}, Request{Query: "x"}, ModeJSON)
	assert.ErrorIs(t, err, searcherr.ErrMalformedResponse)
}

func TestFetchBodyLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 2048)))
	}))
	defer server.Close()

	c := testClient(t)
	c.opts.MaxBodyBytes = 1024
	_, err := c.Fetch(context.Background(), instances.Instance{BaseURL: server.URL}, Request{Query: "x"}, ModeJSON)
	assert.ErrorIs(t, err, searcherr.ErrMalformedResponse)
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := testClient(t).Fetch(ctx, instances.Instance{BaseURL: server.URL}, Request{Query: "x"}, ModeJSON)
	assert.ErrorIs(t, err, searcherr.ErrInstanceTimeout)
	assert.True(t, searcherr.Penalized(err))
}

func TestFetchCancelledIsNotPenalized(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancelCause(context.Background())
	time.AfterFunc(30*time.Millisecond, func() { cancel(errors.New("sibling won")) })

	_, err := testClient(t).Fetch(ctx, instances.Instance{BaseURL: server.URL}, Request{Query: "x"}, ModeJSON)
	assert.ErrorIs(t, err, searcherr.ErrCancelled)
	assert.False(t, searcherr.Penalized(err))
}

func TestFetchUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	_, err := testClient(t).Fetch(context.Background(), instances.Instance{BaseURL: addr}, Request{Query: "x"}, ModeJSON)
	assert.ErrorIs(t, err, searcherr.ErrInstanceUnreachable)
	assert.True(t, searcherr.Transport(err))
}

func TestFetchDetectsBlockPage(t *testing.T) {
	page := `<html><head><title>Checking</title></head><body>
	<p>Access denied. Please enable JavaScript. Verify you are human to continue.</p>
	<div class="captcha"></div>
	<script>document.cookie="x"; window.location.reload(); setTimeout(f, 1)</script>
	</body></html>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	defer server.Close()

	_, err := testClient(t).Fetch(context.Background(), instances.Instance{BaseURL: server.URL}, Request{Query: "x"}, ModeHTML)
	assert.ErrorIs(t, err, searcherr.ErrMalformedResponse)
	assert.Contains(t, err.Error(), "blocked page")
}

func TestDetectBlockIgnoresResultsPage(t *testing.T) {
	page := `<html><body>` + strings.Repeat(`<article class="result"><h3><a href="https://example.com">Car maintenance tips</a></h3><p class="content">How to keep your car under maintenance schedules.</p></article>`, 40) + `</body></html>`
	verdict := DetectBlock([]byte(page), http.Header{}, http.StatusOK)
	assert.False(t, verdict.Blocked, "reasons: %v", verdict.Reasons)
}

func TestDetectBlockMaintenance(t *testing.T) {
	verdict := DetectBlock([]byte(`<html><body><h1>Site maintenance</h1></body></html>`), http.Header{}, http.StatusOK)
	assert.True(t, verdict.Blocked)
}

func TestFetchUndecodableBodyIsMalformed(t *testing.T) {
	tests := []struct {
		name     string
		encoding string
	}{
		{"corrupt gzip", "gzip"},
		{"corrupt zstd", "zstd"},
		{"unsupported", "compress"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Content-Encoding", tt.encoding)
				_, _ = w.Write([]byte(`{"results":[]}`))
			}))
			defer server.Close()

			_, err := testClient(t).Fetch(context.Background(), instances.Instance{BaseURL: server.URL}, Request{Query: "x"}, ModeJSON)
			assert.ErrorIs(t, err, searcherr.ErrMalformedResponse)
			assert.False(t, searcherr.Transport(err), "an answered request must still fall through to the HTML page")
			assert.True(t, searcherr.Penalized(err))
		})
	}
}

func TestFetchReportsBlockedErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(strings.Repeat("<p>Site maintenance in progress.</p>", 200)))
	}))
	defer server.Close()

	_, err := testClient(t).Fetch(context.Background(), instances.Instance{BaseURL: server.URL}, Request{Query: "x"}, ModeHTML)
	assert.ErrorIs(t, err, searcherr.ErrMalformedResponse)
	assert.Contains(t, err.Error(), "blocked page (status 503)")
	assert.Contains(t, err.Error(), "maintenance page")
}

func TestDetectBlockScoresStatus(t *testing.T) {
	page := []byte(`<html><body><p>Access denied. Verify you are human.</p></body></html>`)
	ok := DetectBlock(page, http.Header{}, http.StatusOK)
	forbidden := DetectBlock(page, http.Header{}, http.StatusForbidden)
	assert.Greater(t, forbidden.Confidence, ok.Confidence)
	assert.Contains(t, forbidden.Reasons, "status 403")
}
