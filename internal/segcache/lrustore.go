package segcache

import (
	"context"
	"time"

	"github.com/tsqueng/coreengine/internal/cacheapi"
	"github.com/tsqueng/coreengine/pkg/lrucache"
)

// LRUPlugin adapts the teacher's compute-on-miss pkg/lrucache.Cache into a
// cacheapi.Plugin: segment payloads instead of metric-buffer pages, but the
// same bounded-memory, expire-on-read design (see pkg/lrucache.Cache.Get).
type LRUPlugin struct {
	cache *lrucache.Cache
}

// NewLRUPlugin wraps a fresh lrucache.Cache with the given memory bound, in
// the same units the teacher's buffer pool uses (bytes).
func NewLRUPlugin(maxMemoryBytes int) *LRUPlugin {
	return &LRUPlugin{cache: lrucache.New(maxMemoryBytes)}
}

func (p *LRUPlugin) Fetch(_ context.Context, key string) (cacheapi.CacheQueryResult, bool, error) {
	v := p.cache.Get(key, nil)
	if v == nil {
		return cacheapi.CacheQueryResult{}, false, nil
	}
	return v.(cacheapi.CacheQueryResult), true, nil
}

func (p *LRUPlugin) Cache(_ context.Context, result cacheapi.CacheQueryResult) error {
	ttl := time.Until(result.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	p.cache.Put(result.Key, result, len(result.Payload), ttl)
	return nil
}

func (p *LRUPlugin) Delete(_ context.Context, key string) error {
	p.cache.Del(key)
	return nil
}
