package query

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
)

// viewCache memoizes view results per (view, params, state version).
//
// Only entries for the newest observed state version are kept; seeing a
// new version drops the rest. Invalidate drops everything after a write.
type viewCache struct {
	entries *xsync.Map[string, any]

	mu      sync.Mutex
	version string
}

func newViewCache() *viewCache {
	return &viewCache{entries: xsync.NewMap[string, any]()}
}

func cacheKey(view string, p Params, version string) string {
	return view + "|" + p.key() + "|" + version
}

// advance records version as current, clearing entries of any other.
func (c *viewCache) advance(version string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.version != version {
		c.entries.Clear()
		c.version = version
	}
}

func (c *viewCache) load(key string) (any, bool) {
	return c.entries.Load(key)
}

// store keeps v unless the state moved on while it was computed.
func (c *viewCache) store(version, key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.version == version {
		c.entries.Store(key, v)
	}
}

func (c *viewCache) clear() {
	c.entries.Clear()
}

func (c *viewCache) size() int {
	return c.entries.Size()
}
