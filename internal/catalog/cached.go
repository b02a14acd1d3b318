package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/watchlist-kata/movietracker/internal/cache"
)

// Cached serves repeated searches and detail lookups from a cache.
// Ping always goes to the upstream.
type Cached struct {
	next   Catalog
	cache  cache.Cache
	ttl    time.Duration
	logger *slog.Logger
}

var _ Catalog = (*Cached)(nil)

// NewCached wraps next with c; entries live for ttl.
func NewCached(next Catalog, c cache.Cache, ttl time.Duration, logger *slog.Logger) *Cached {
	return &Cached{next: next, cache: c, ttl: ttl, logger: logger}
}

func (c *Cached) Search(ctx context.Context, query string, page int) (*SearchResult, error) {
	if page < 1 {
		page = 1
	}
	key := fmt.Sprintf("catalog:search:%s:%d", strings.ToLower(strings.TrimSpace(query)), page)

	var out SearchResult
	if c.load(ctx, key, &out) {
		return &out, nil
	}
	res, err := c.next.Search(ctx, query, page)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, res)
	return res, nil
}

func (c *Cached) Details(ctx context.Context, mediaType string, id int64) (*Title, error) {
	key := fmt.Sprintf("catalog:%s:%d", mediaType, id)

	var out Title
	if c.load(ctx, key, &out) {
		return &out, nil
	}
	res, err := c.next.Details(ctx, mediaType, id)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, res)
	return res, nil
}

func (c *Cached) Ping(ctx context.Context) error {
	return c.next.Ping(ctx)
}

// load reports whether key was found and decoded into dst. Cache failures
// fall through to the upstream.
func (c *Cached) load(ctx context.Context, key string, dst any) bool {
	data, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			c.logger.WarnContext(ctx, fmt.Sprintf("catalog cache read failed for %s", key), slog.Any("error", err))
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		c.logger.WarnContext(ctx, fmt.Sprintf("discarding corrupt catalog cache entry %s", key), slog.Any("error", err))
		return false
	}
	return true
}

func (c *Cached) store(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.WarnContext(ctx, fmt.Sprintf("catalog cache write failed for %s", key), slog.Any("error", err))
	}
}
