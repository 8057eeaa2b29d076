// cache.go: Cache collaborator used by cache markers and FromCache
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package dto

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

// Cache is a key-value store with optional expiry.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
}

// cacheEntry expires at expiresAt (timecache nanoseconds); zero never expires.
type cacheEntry struct {
	value     any
	expiresAt int64
}

func (e cacheEntry) expired(now int64) bool {
	return e.expiresAt != 0 && now > e.expiresAt
}

// MemoryCache is an in-process Cache. Reads are lock-free over a
// copy-on-write map; writes are serialized.
type MemoryCache struct {
	entries atomic.Pointer[map[string]cacheEntry]
	writeMu sync.Mutex
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	c := &MemoryCache{}
	empty := map[string]cacheEntry{}
	c.entries.Store(&empty)
	return c
}

// Get implements Cache.
func (c *MemoryCache) Get(key string) (any, bool) {
	entries := c.entries.Load()
	if entries == nil {
		return nil, false
	}
	entry, ok := (*entries)[key]
	if !ok || entry.expired(timecache.CachedTimeNano()) {
		return nil, false
	}
	return entry.value, true
}

// Set implements Cache. A ttl of zero or less keeps the value until Delete.
func (c *MemoryCache) Set(key string, value any, ttl time.Duration) {
	entry := cacheEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = timecache.CachedTimeNano() + int64(ttl)
	}
	c.update(func(m map[string]cacheEntry) { m[key] = entry })
}

// Delete removes key.
func (c *MemoryCache) Delete(key string) {
	c.update(func(m map[string]cacheEntry) { delete(m, key) })
}

// Len returns the number of unexpired entries.
func (c *MemoryCache) Len() int {
	entries := c.entries.Load()
	if entries == nil {
		return 0
	}
	now := timecache.CachedTimeNano()
	n := 0
	for _, e := range *entries {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

func (c *MemoryCache) update(fn func(map[string]cacheEntry)) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	now := timecache.CachedTimeNano()
	next := map[string]cacheEntry{}
	if current := c.entries.Load(); current != nil {
		for k, e := range *current {
			if !e.expired(now) {
				next[k] = e
			}
		}
	}
	fn(next)
	c.entries.Store(&next)
}
