package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"convopilot_backend/internal/conversation/domain"
	"convopilot_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Cache serves tenant settings and keyword lists from redis with a TTL,
// falling back to the repository on miss. It is an explicit, injected
// service with a documented lifecycle: created once per process, entries
// dropped via ClearCache. Cache failures degrade to repository reads.
type Cache struct {
	repo  Reader
	rdb   *redis.Client
	ttl   time.Duration
	seeds []domain.TakeoverKeyword
	group singleflight.Group
	log   *logger.Logger
}

// NewCache creates the tenant config cache. seeds are the default keyword
// phrases used for tenants with no configured list.
func NewCache(repo Reader, rdb *redis.Client, ttl time.Duration, seeds []domain.TakeoverKeyword, log *logger.Logger) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{repo: repo, rdb: rdb, ttl: ttl, seeds: seeds, log: log}
}

func settingsKey(id uuid.UUID) string { return "tenant:settings:" + id.String() }
func keywordsKey(id uuid.UUID) string { return "tenant:keywords:" + id.String() }

// Settings returns the tenant's tunables, cached.
func (c *Cache) Settings(ctx context.Context, id uuid.UUID) (Settings, error) {
	var cached Settings
	if ok := c.lookup(ctx, settingsKey(id), &cached); ok {
		return cached, nil
	}

	// Collapse concurrent misses for the same tenant into one repo read.
	v, err, _ := c.group.Do(settingsKey(id), func() (any, error) {
		settings, err := c.repo.GetSettings(ctx, id)
		if err != nil {
			return Settings{}, err
		}
		c.store(ctx, settingsKey(id), settings)
		return settings, nil
	})
	if err != nil {
		return Settings{}, err
	}
	return v.(Settings), nil
}

// Keywords returns the tenant's phrase lists, cached. Tenants with no
// configured phrases get the seeded defaults.
func (c *Cache) Keywords(ctx context.Context, id uuid.UUID) ([]domain.TakeoverKeyword, error) {
	var cached []domain.TakeoverKeyword
	if ok := c.lookup(ctx, keywordsKey(id), &cached); ok {
		return cached, nil
	}

	v, err, _ := c.group.Do(keywordsKey(id), func() (any, error) {
		keywords, err := c.repo.ListKeywords(ctx, id)
		if err != nil {
			return nil, err
		}
		if len(keywords) == 0 {
			keywords = c.seeds
		}
		c.store(ctx, keywordsKey(id), keywords)
		return keywords, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.TakeoverKeyword), nil
}

// ClearCache drops the cached entries for one tenant, forcing the next read
// through to the repository.
func (c *Cache) ClearCache(ctx context.Context, id uuid.UUID) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Del(ctx, settingsKey(id), keywordsKey(id)).Err()
}

func (c *Cache) lookup(ctx context.Context, key string, dest any) bool {
	if c.rdb == nil {
		return false
	}
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("tenant cache read failed", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.log.Warn("tenant cache entry corrupt", "key", key, "error", err)
		return false
	}
	return true
}

func (c *Cache) store(ctx context.Context, key string, value any) {
	if c.rdb == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		c.log.Warn("tenant cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.Warn(fmt.Sprintf("tenant cache write failed for %s", key), "error", err)
	}
}
