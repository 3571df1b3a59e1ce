package netcache

import (
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// DefaultCapacity bounds the number of entries retained per target.
const DefaultCapacity = 500

// MemoryCache is the in-process Cache implementation: a bounded,
// oldest-first buffer per target.
type MemoryCache struct {
	mu       sync.RWMutex
	targets  map[string][]Entry
	capacity int
}

// NewMemoryCache creates a cache retaining up to capacity entries per
// target; capacity <= 0 uses DefaultCapacity.
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryCache{
		targets:  make(map[string][]Entry),
		capacity: capacity,
	}
}

// Add appends an entry for a target, evicting the oldest entry once the
// capacity is reached. A missing id is minted.
func (c *MemoryCache) Add(targetID string, e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := append(c.targets[targetID], e)
	if len(entries) > c.capacity {
		entries = entries[len(entries)-c.capacity:]
	}
	c.targets[targetID] = entries
	return e
}

// RemoveTarget drops all entries for a target.
func (c *MemoryCache) RemoveTarget(targetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.targets, targetID)
}

// EntriesForTarget implements Cache.
func (c *MemoryCache) EntriesForTarget(targetID string) []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries := c.targets[targetID]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// Entry implements Cache.
func (c *MemoryCache) Entry(targetID, id string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.targets[targetID] {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// SearchByURL implements Cache.
func (c *MemoryCache) SearchByURL(targetID, substr string) []Entry {
	needle := strings.ToLower(substr)
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Entry
	for _, e := range c.targets[targetID] {
		if strings.Contains(strings.ToLower(e.Request.URL), needle) {
			out = append(out, e)
		}
	}
	return out
}

// FilterEntries implements Cache.
func (c *MemoryCache) FilterEntries(targetID string, f Filter) []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Entry
	for _, e := range c.targets[targetID] {
		if f.Method != "" && !strings.EqualFold(f.Method, e.Request.Method) {
			continue
		}
		if f.MinStatus > 0 && e.Response.Status < f.MinStatus {
			continue
		}
		if f.MaxStatus > 0 && e.Response.Status > f.MaxStatus {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Statistics implements Cache.
func (c *MemoryCache) Statistics(targetID string) Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stats := Stats{
		ByMethod: make(map[string]int),
		ByStatus: make(map[string]int),
		ByType:   make(map[string]int),
	}
	for _, e := range c.targets[targetID] {
		stats.TotalEntries++
		stats.ByMethod[e.Request.Method]++
		stats.ByStatus[strconv.Itoa(e.Response.Status)]++
		if e.Metadata.RequestType != "" {
			stats.ByType[e.Metadata.RequestType]++
		}
		if e.Metadata.HasError || e.Response.Status >= 400 {
			stats.ErrorCount++
		}
	}
	return stats
}
