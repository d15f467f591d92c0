package server

import (
	"github.com/dgraph-io/ristretto"
)

// outputCache holds final rendered page bytes keyed by request URI.
// The watcher clears it wholesale on any source change, so entries
// never need individual invalidation.
type outputCache struct {
	cache *ristretto.Cache
}

func newOutputCache(maxBytes int64) (*outputCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &outputCache{cache: cache}, nil
}

func (c *outputCache) get(key string) ([]byte, bool) {
	value, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	body, ok := value.([]byte)
	return body, ok
}

// put stores a private copy of the body; callers keep ownership of the
// slice they pass in.
func (c *outputCache) put(key string, body []byte) {
	c.cache.Set(key, append([]byte(nil), body...), int64(len(body)))
}

func (c *outputCache) invalidate() {
	c.cache.Clear()
}

// wait blocks until buffered writes are applied. Admission runs
// asynchronously; tests call this before asserting on hits.
func (c *outputCache) wait() {
	c.cache.Wait()
}

func (c *outputCache) close() {
	c.cache.Close()
}
