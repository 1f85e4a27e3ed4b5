// Package cache keeps recent diagnostics responses keyed by request fingerprint.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
	Delete(key string)
	Clear()
}

// Memory is an in-process cache with per-entry expiry.
type Memory struct {
	cache *gocache.Cache
}

// DefaultTTL applies when NewMemory is given no positive ttl.
const DefaultTTL = 5 * time.Minute

// NewMemory creates a cache whose entries expire after ttl.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{cache: gocache.New(ttl, 2*ttl)}
}

func (c *Memory) Get(key string) ([]byte, bool) {
	if val, found := c.cache.Get(key); found {
		return val.([]byte), true
	}
	return nil, false
}

// Set stores value. A zero ttl uses the cache default.
func (c *Memory) Set(key string, value []byte, ttl time.Duration) {
	if ttl == 0 {
		ttl = gocache.DefaultExpiration
	}
	c.cache.Set(key, value, ttl)
}

func (c *Memory) Delete(key string) { c.cache.Delete(key) }

func (c *Memory) Clear() { c.cache.Flush() }

func (c *Memory) Len() int { return c.cache.ItemCount() }

// Key fingerprints a request: tenant, effective options and raw body.
func Key(tenant, options string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(tenant))
	h.Write([]byte{0})
	h.Write([]byte(options))
	h.Write([]byte{0})
	h.Write(body)
	return "vrpdiag:v1:" + hex.EncodeToString(h.Sum(nil))
}
