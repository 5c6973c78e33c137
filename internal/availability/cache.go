package availability

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/ChuLiYu/claim-engine/pkg/types"
)

// Cache holds the AvailabilityInfo seen during one pass, keyed by ContentID.
// Entries are never evicted or replaced: the first stored value wins.
// The caller owns the cache and shares it across concurrent operations.
type Cache struct {
	mu      sync.RWMutex
	entries map[types.ContentID]types.AvailabilityInfo

	// inflight collapses concurrent full probes of one ContentID.
	inflight singleflight.Group
}

// NewCache returns an empty pass cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[types.ContentID]types.AvailabilityInfo)}
}

// Load returns the cached info for id.
func (c *Cache) Load(id types.ContentID) (types.AvailabilityInfo, bool) {
	if c == nil {
		return types.AvailabilityInfo{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.entries[id]
	return info, ok
}

// LoadOrStore stores info under id unless a value is already present, and
// returns the value now held by the cache. loaded reports a prior value.
func (c *Cache) LoadOrStore(id types.ContentID, info types.AvailabilityInfo) (actual types.AvailabilityInfo, loaded bool) {
	if c == nil {
		return info, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.entries[id]; ok {
		return prev, true
	}
	c.entries[id] = info
	return info, false
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// once runs fn for id unless a call for the same id is already in flight, in
// which case it waits for and shares that call's result. leader reports
// whether this caller ran fn.
func (c *Cache) once(id types.ContentID, fn func() (types.AvailabilityInfo, error)) (info types.AvailabilityInfo, leader bool, err error) {
	if c == nil {
		info, err = fn()
		return info, true, err
	}
	v, err, _ := c.inflight.Do(string(id), func() (interface{}, error) {
		leader = true
		return fn()
	})
	if err != nil {
		return types.AvailabilityInfo{}, leader, err
	}
	return v.(types.AvailabilityInfo), leader, nil
}
