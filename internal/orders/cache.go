package orders

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zvonac99/order-notifier/internal/kvstore"
)

// CacheTTL is how long a poll answer may be served without re-querying
// the order store.
const CacheTTL = 5 * time.Minute

// LatestSource is the repository surface the cache wraps.
type LatestSource interface {
	Latest(ctx context.Context, statuses []string) (*Order, error)
}

// Cache answers repeated latest-order queries for the same status set from
// a short-lived KV entry instead of the order store.
type Cache struct {
	source LatestSource
	store  kvstore.Store
	logger *zap.Logger
}

// NewCache wraps source with a kvstore-backed answer cache.
func NewCache(source LatestSource, store kvstore.Store, logger *zap.Logger) *Cache {
	return &Cache{
		source: source,
		store:  store,
		logger: logger,
	}
}

type cachedLatest struct {
	Found bool   `json:"found"`
	Order *Order `json:"order,omitempty"`
}

func cacheKey(statuses []string) string {
	sorted := append([]string(nil), statuses...)
	sort.Strings(sorted)
	return "poll:" + strings.Join(sorted, "_")
}

// Latest returns the newest qualifying order plus whether the answer came
// from cache. ErrNotFound propagates (and is itself cached).
func (c *Cache) Latest(ctx context.Context, statuses []string) (*Order, bool, error) {
	key := cacheKey(statuses)

	if raw, err := c.store.Get(ctx, key); err == nil {
		var cached cachedLatest
		if err := json.Unmarshal([]byte(raw), &cached); err == nil {
			if !cached.Found {
				return nil, true, ErrNotFound
			}
			return cached.Order, true, nil
		}
		c.logger.Warn("poll cache entry corrupt, ignoring", zap.String("key", key))
	} else if !errors.Is(err, kvstore.ErrNotFound) {
		c.logger.Warn("poll cache read failed", zap.Error(err))
	}

	order, err := c.source.Latest(ctx, statuses)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	entry := cachedLatest{Found: err == nil, Order: order}
	if data, merr := json.Marshal(entry); merr == nil {
		if serr := c.store.Set(ctx, key, string(data), CacheTTL); serr != nil {
			c.logger.Warn("poll cache write failed", zap.Error(serr))
		}
	}

	return order, false, err
}
