// Copyright 2025 Longopass
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

package guard

import (
	"context"
	"sync"
	"time"
)

// LabelCache stores topic classification labels keyed by content hash.
// Implementations must be safe for concurrent use; last writer wins on
// key collision.
type LabelCache interface {
	// Get returns the cached label for key, or false if absent or expired.
	Get(ctx context.Context, key string) (Label, bool)

	// Set stores the label under key with the given time-to-live.
	Set(ctx context.Context, key string, label Label, ttl time.Duration)
}

// memoryCache is the default in-process LabelCache. Expired entries are
// evicted lazily on the next lookup; there is no background sweep.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryCacheEntry
	now     func() time.Time
}

type memoryCacheEntry struct {
	label     Label
	expiresAt time.Time
}

// NewMemoryCache creates an in-process label cache.
func NewMemoryCache() LabelCache {
	return &memoryCache{
		entries: make(map[string]memoryCacheEntry),
		now:     time.Now,
	}
}

func (c *memoryCache) Get(_ context.Context, key string) (Label, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return "", false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return "", false
	}
	return entry.label, true
}

func (c *memoryCache) Set(_ context.Context, key string, label Label, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = memoryCacheEntry{label: label, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}
