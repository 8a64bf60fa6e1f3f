package cache

import (
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/cases"

	"FedSearch/internal/category"
	"FedSearch/internal/response"
)

// Key identifies a search by normalized query, category and safe flag.
type Key struct {
	Query    string
	Category category.Category
	Safe     bool
}

var (
	folderMu sync.Mutex
	folder   = cases.Fold()
)

// NewKey normalizes query by Unicode case folding and whitespace collapse.
func NewKey(query string, c category.Category, safe bool) Key {
	folderMu.Lock()
	folded := folder.String(query)
	folderMu.Unlock()
	return Key{
		Query:    strings.Join(strings.Fields(folded), " "),
		Category: c,
		Safe:     safe,
	}
}

func (k Key) String() string {
	return string(k.Category) + "|" + strconv.FormatBool(k.Safe) + "|" + k.Query
}

type entry struct {
	payload  *response.AggregatedResponse
	storedAt time.Time
}

// Cache holds recent responses. Entries older than the TTL are never
// returned; they stay until overwritten or pushed out by the size bound.
type Cache struct {
	entries *lru.Cache[Key, entry]
	ttl     time.Duration
	now     func() time.Time
}

// Option customises a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a cache holding at most size entries.
func New(ttl time.Duration, size int, opts ...Option) (*Cache, error) {
	if size <= 0 {
		size = 1024
	}
	entries, err := lru.New[Key, entry](size)
	if err != nil {
		return nil, err
	}
	c := &Cache{entries: entries, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns the payload stored for key if it is no older than the TTL.
func (c *Cache) Get(key Key) (*response.AggregatedResponse, bool) {
	e, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		return nil, false
	}
	return e.payload, true
}

// Put stores payload for key, replacing any previous entry.
func (c *Cache) Put(key Key, payload *response.AggregatedResponse) {
	c.entries.Add(key, entry{payload: payload, storedAt: c.now()})
}

// Len returns the number of stored entries, fresh or stale.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration { return c.ttl }
