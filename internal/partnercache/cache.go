// Package partnercache keeps parsed partner (lender) preview defaults in memory.
//
// Entries expire lazily after a TTL and the cache is bounded by an LRU policy.
// A single mutex guards the structure and is never held while the backing
// store is being read, so a slow cold load does not block warm readers.
package partnercache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/serroba/purview/internal/clock"
	"github.com/serroba/purview/internal/preview"
	"go.uber.org/zap"
)

const (
	DefaultTTL     = time.Hour
	DefaultMaxSize = 256
)

// Event names reported to the Observer.
const (
	EventHit       = "hit"
	EventMiss      = "miss"
	EventExpired   = "expired"
	EventEvicted   = "evicted"
	EventLoaded    = "loaded"
	EventLoadError = "load_error"
)

// Loader reads a partner configuration from its backing store.
// It returns preview.ErrConfigNotFound when the store has no document for the key.
type Loader interface {
	Load(ctx context.Context, partnerKey string) (*preview.PartnerConfig, error)
}

// Observer receives cache events.
type Observer interface {
	CacheEvent(event string)
}

type noopObserver struct{}

func (noopObserver) CacheEvent(string) {}

// Config tunes the cache. Zero values fall back to the defaults.
type Config struct {
	TTL      time.Duration
	MaxSize  int
	Clock    clock.Clock
	Observer Observer
}

type entry struct {
	config     preview.PartnerConfig
	insertedAt time.Time
}

// Cache is a TTL + LRU cache of partner configurations in front of a Loader.
type Cache struct {
	mu       sync.Mutex
	entries  *simplelru.LRU[string, entry]
	loader   Loader
	ttl      time.Duration
	clock    clock.Clock
	observer Observer
	logger   *zap.Logger
}

// New creates a cache in front of loader.
func New(loader Loader, cfg Config, logger *zap.Logger) (*Cache, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}

	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}

	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}

	if cfg.Observer == nil {
		cfg.Observer = noopObserver{}
	}

	entries, err := simplelru.NewLRU[string, entry](cfg.MaxSize, nil)
	if err != nil {
		return nil, err
	}

	return &Cache{
		entries:  entries,
		loader:   loader,
		ttl:      cfg.TTL,
		clock:    cfg.Clock,
		observer: cfg.Observer,
		logger:   logger,
	}, nil
}

// Get returns the configuration for a partner key, loading it on a miss.
// Missing documents and load failures are reported as (nil, false).
func (c *Cache) Get(ctx context.Context, partnerKey string) (*preview.PartnerConfig, bool) {
	key := preview.NormalizePartnerKey(partnerKey)
	if key == "" {
		return nil, false
	}

	if cfg, ok := c.cached(key); ok {
		c.observer.CacheEvent(EventHit)

		return cfg, true
	}

	cfg, err := c.loader.Load(ctx, key)
	if err != nil {
		if errors.Is(err, preview.ErrConfigNotFound) {
			c.observer.CacheEvent(EventMiss)
			c.logger.Warn("partner config missing", zap.String("partner_key", key))
		} else {
			c.observer.CacheEvent(EventLoadError)
			c.logger.Error("partner config load failed", zap.String("partner_key", key), zap.Error(err))
		}

		return nil, false
	}

	if cfg == nil {
		c.observer.CacheEvent(EventMiss)

		return nil, false
	}

	c.store(key, *cfg)
	c.observer.CacheEvent(EventLoaded)

	out := *cfg

	return &out, true
}

// Len returns the number of entries currently held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.entries.Len()
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Purge()
}

func (c *Cache) cached(key string) (*preview.PartnerConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Peek(key)
	if !ok {
		return nil, false
	}

	if c.clock.Now().Sub(e.insertedAt) >= c.ttl {
		c.entries.Remove(key)
		c.observer.CacheEvent(EventExpired)

		return nil, false
	}

	// Get promotes the entry to most recently used.
	e, _ = c.entries.Get(key)
	out := e.config

	return &out, true
}

func (c *Cache) store(key string, cfg preview.PartnerConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if evicted := c.entries.Add(key, entry{config: cfg, insertedAt: c.clock.Now()}); evicted {
		c.observer.CacheEvent(EventEvicted)
	}
}
