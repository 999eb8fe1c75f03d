package playback

import "sync"

// Cache stores rendered utterances keyed by their exact text, as raw
// PCM straight from the renderer. Each call transcodes the render to
// its own negotiated codec, so calls with different encodings can
// share one cache. Entries are immutable once stored; callers must
// treat returned audio as read-only. Since every call speaks the same
// handful of script lines, the cache makes all utterances after the
// first call's instant.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Audio
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*Audio)}
}

// Get returns the rendered audio for text, if present.
func (c *Cache) Get(text string) (*Audio, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rendered, ok := c.entries[text]
	return rendered, ok
}

// Put stores a render. The first write wins; a concurrent render of
// the same text does not replace an existing entry.
func (c *Cache) Put(text string, rendered *Audio) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[text]; ok {
		return
	}
	c.entries[text] = rendered
}

// Len returns the number of cached utterances.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
