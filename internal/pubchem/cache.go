package pubchem

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Cache stores lookup results keyed by lowercased molecule name.
type Cache interface {
	Get(ctx context.Context, name string) (Result, bool)
	Set(ctx context.Context, name string, res Result)
}

var (
	_ Cache = (*MemoryCache)(nil)
	_ Cache = (*RedisCache)(nil)
)

// MemoryCache is a process-local cache. It lasts for one run, which is
// enough to collapse the heavy name repetition within a corpus.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Result
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]Result)}
}

func (c *MemoryCache) Get(_ context.Context, name string) (Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res, ok := c.entries[name]
	return res, ok
}

func (c *MemoryCache) Set(_ context.Context, name string, res Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[name] = res
}

// Len returns the number of cached names.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// redisEntry is the serialized cache value. The error of an inconclusive
// result is never cached, so no error field exists here.
type redisEntry struct {
	Status           Status `json:"status"`
	CID              int64  `json:"cid,omitempty"`
	IUPACName        string `json:"iupac_name,omitempty"`
	MolecularFormula string `json:"molecular_formula,omitempty"`
}

// RedisCache shares lookup results across runs and processes. Cache
// errors degrade to misses; the registry client works without Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger zerolog.Logger
}

// NewRedisCache wraps a Redis client as a lookup cache.
func NewRedisCache(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RedisCache{
		client: client,
		ttl:    ttl,
		prefix: "pubchem:name:",
		logger: logger.With().Str("component", "pubchem_cache").Logger(),
	}
}

func (c *RedisCache) Get(ctx context.Context, name string) (Result, bool) {
	data, err := c.client.Get(ctx, c.prefix+name).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn().Err(err).Msg("cache read failed")
		}
		return Result{}, false
	}
	var entry redisEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Result{}, false
	}
	return Result{
		Status:           entry.Status,
		CID:              entry.CID,
		IUPACName:        entry.IUPACName,
		MolecularFormula: entry.MolecularFormula,
	}, true
}

func (c *RedisCache) Set(ctx context.Context, name string, res Result) {
	data, err := json.Marshal(redisEntry{
		Status:           res.Status,
		CID:              res.CID,
		IUPACName:        res.IUPACName,
		MolecularFormula: res.MolecularFormula,
	})
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.prefix+name, data, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("cache write failed")
	}
}
