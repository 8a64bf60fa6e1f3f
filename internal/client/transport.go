package client

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// TransportConfig holds connection pool settings for the shared transport.
type TransportConfig struct {
	MaxIdleConns          int           // Idle connections kept across all instances
	MaxIdleConnsPerHost   int           // Idle connections kept per instance
	MaxConnsPerHost       int           // Hard cap per instance
	IdleConnTimeout       time.Duration // How long idle connections are kept
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	DialTimeout           time.Duration
	KeepAlive             time.Duration
	ProxyURL              string // Optional http(s) or socks5 proxy
}

// DefaultTransportConfig returns pool settings tuned for fan-out to many hosts.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		DialTimeout:           10 * time.Second,
		KeepAlive:             30 * time.Second,
	}
}

// ConnStats tracks dialed connections.
type ConnStats struct {
	total    atomic.Int64
	active   atomic.Int64
	mu       sync.Mutex
	lastDial time.Duration
}

// ConnSnapshot is a point-in-time copy of ConnStats.
type ConnSnapshot struct {
	TotalConnections  int64         `json:"total_connections"`
	ActiveConnections int64         `json:"active_connections"`
	LastDialTime      time.Duration `json:"last_dial_time_ns"`
}

// Snapshot copies the current counters.
func (s *ConnStats) Snapshot() ConnSnapshot {
	s.mu.Lock()
	last := s.lastDial
	s.mu.Unlock()
	return ConnSnapshot{
		TotalConnections:  s.total.Load(),
		ActiveConnections: s.active.Load(),
		LastDialTime:      last,
	}
}

// NewTransport builds the pooled transport shared by every instance request.
// Compression is disabled because bodies are decoded explicitly.
func NewTransport(cfg TransportConfig, stats *ConnStats) (*http.Transport, error) {
	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: cfg.KeepAlive,
	}

	dial := dialer.DialContext
	if stats != nil {
		dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
			start := time.Now()
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			stats.total.Add(1)
			stats.active.Add(1)
			stats.mu.Lock()
			stats.lastDial = time.Since(start)
			stats.mu.Unlock()
			return &trackedConn{Conn: conn, stats: stats}, nil
		}
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dial,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		DisableCompression:    true,
	}

	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}
	return transport, nil
}

// trackedConn decrements the active counter once when closed.
type trackedConn struct {
	net.Conn
	stats  *ConnStats
	closed atomic.Bool
}

func (c *trackedConn) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.stats.active.Add(-1)
	}
	return c.Conn.Close()
}
