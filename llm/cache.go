// Copyright 2025 FieldLine
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"strings"
	"sync"
	"time"
)

// DefaultCacheTTL bounds how stale provider metadata may be served.
const DefaultCacheTTL = 5 * time.Minute

// ProviderCache is the cache the repository fronts its lookups with.
// Implementations must tolerate concurrent readers; stale reads of provider
// metadata are acceptable, credentials must never be cached.
type ProviderCache interface {
	Get(key string) ([]ProviderRecord, bool)
	Set(key string, records []ProviderRecord)
	Invalidate(accountID string)
}

type cacheEntry struct {
	records   []ProviderRecord
	expiresAt time.Time
}

// MemoryCache is an in-process ProviderCache with a bounded TTL. It is
// injected into the repository rather than held as ambient global state so
// tests can substitute a deterministic fake. Writes are last-writer-wins.
type MemoryCache struct {
	ttl     time.Duration
	mu      sync.RWMutex
	entries map[string]cacheEntry

	// now is replaceable in tests.
	now func() time.Time
}

// NewMemoryCache creates a MemoryCache. A non-positive ttl falls back to
// DefaultCacheTTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// CacheKey builds the cache key for a tenant-scoped lookup. The use case is
// empty for whole-tenant listings.
func CacheKey(accountID, useCase string) string {
	if useCase == "" {
		return accountID
	}
	return accountID + "|" + useCase
}

// Get returns the cached records for key, if present and unexpired.
func (c *MemoryCache) Get(key string) ([]ProviderRecord, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.records, true
}

// Set stores records under key with the configured TTL.
func (c *MemoryCache) Set(key string, records []ProviderRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{
		records:   records,
		expiresAt: c.now().Add(c.ttl),
	}
}

// Invalidate drops every entry belonging to accountID. Called when provider
// configuration is mutated elsewhere in the system.
func (c *MemoryCache) Invalidate(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key == accountID || strings.HasPrefix(key, accountID+"|") {
			delete(c.entries, key)
		}
	}
}
