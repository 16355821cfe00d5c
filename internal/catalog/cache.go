package catalog

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/tsqueng/coreengine/internal/queryerr"
	"github.com/tsqueng/coreengine/pkg/log"
)

// CacheConfig sizes the positive and negative caches.
type CacheConfig struct {
	PositiveSize int
	NegativeSize int
	NegativeTTL  time.Duration
}

// DefaultCacheConfig matches common catalog working-set sizes.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{PositiveSize: 1 << 20, NegativeSize: 1 << 16, NegativeTTL: 30 * time.Second}
}

// Cache wraps a Store with a bounded LRU of resolved entries (evicted LRU,
// per spec.md §3 "Lifecycles") and a shorter-TTL negative cache so repeated
// lookups of names that don't exist cannot pin the store under load while
// newly-assigned UIDs are still discovered promptly.
type Cache struct {
	store Store

	idByName   *lru.Cache[key, []byte]
	nameByID   *lru.Cache[idKey, string]
	negByName  *expirable.LRU[key, struct{}]
	negByID    *expirable.LRU[idKey, struct{}]

	group singleflight.Group
}

// NewCache builds a Cache in front of store.
func NewCache(store Store, cfg CacheConfig) (*Cache, error) {
	idByName, err := lru.New[key, []byte](cfg.PositiveSize)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	nameByID, err := lru.New[idKey, string](cfg.PositiveSize)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	return &Cache{
		store:     store,
		idByName:  idByName,
		nameByID:  nameByID,
		negByName: expirable.NewLRU[key, struct{}](cfg.NegativeSize, nil, cfg.NegativeTTL),
		negByID:   expirable.NewLRU[idKey, struct{}](cfg.NegativeSize, nil, cfg.NegativeTTL),
	}, nil
}

// GetID resolves a name to its UID, consulting the positive cache, then the
// negative cache, then the store (single-flighted across concurrent callers
// asking for the same key). ok=false with err=nil means the name has no
// UID assignment (NSUN); it is not an error.
func (c *Cache) GetID(ctx context.Context, kind Kind, name string) ([]byte, bool, error) {
	k := key{kind: kind, name: name}
	if id, ok := c.idByName.Get(k); ok {
		return id, true, nil
	}
	if _, ok := c.negByName.Get(k); ok {
		return nil, false, nil
	}

	v, err, _ := c.group.Do(fmt.Sprintf("id:%d:%s", kind, name), func() (interface{}, error) {
		id, found, err := c.store.GetID(ctx, kind, name)
		if err != nil {
			return nil, queryerr.New(queryerr.KindStorage, "catalog.GetID", err)
		}
		if !found {
			c.negByName.Add(k, struct{}{})
			return nil, nil
		}
		c.idByName.Add(k, id)
		c.nameByID.Add(idKey{kind: kind, id: string(id)}, name)
		return id, nil
	})
	if err != nil {
		return nil, false, err
	}
	if v == nil {
		return nil, false, nil
	}
	return v.([]byte), true, nil
}

// GetName resolves a UID to its name, same caching policy as GetID.
func (c *Cache) GetName(ctx context.Context, kind Kind, id []byte) (string, bool, error) {
	k := idKey{kind: kind, id: string(id)}
	if name, ok := c.nameByID.Get(k); ok {
		return name, true, nil
	}
	if _, ok := c.negByID.Get(k); ok {
		return "", false, nil
	}

	v, err, _ := c.group.Do(fmt.Sprintf("name:%d:%s", kind, k.id), func() (interface{}, error) {
		name, found, err := c.store.GetName(ctx, kind, id)
		if err != nil {
			return nil, queryerr.New(queryerr.KindStorage, "catalog.GetName", err)
		}
		if !found {
			c.negByID.Add(k, struct{}{})
			return "", nil
		}
		c.nameByID.Add(k, name)
		c.idByName.Add(key{kind: kind, name: name}, id)
		return name, nil
	})
	if err != nil {
		return "", false, err
	}
	if v == "" {
		return "", false, nil
	}
	return v.(string), true, nil
}

// GetIDs resolves a batch of names, preserving order (spec.md §4.3).
func (c *Cache) GetIDs(ctx context.Context, kind Kind, names []string) ([][]byte, []bool, error) {
	ids := make([][]byte, len(names))
	oks := make([]bool, len(names))
	for i, n := range names {
		id, ok, err := c.GetID(ctx, kind, n)
		if err != nil {
			return nil, nil, err
		}
		ids[i], oks[i] = id, ok
	}
	return ids, oks, nil
}

// SweepNegative proactively evicts expired negative entries, called
// periodically by a gocron job (see catalog.StartSweeper) to bound memory
// without waiting for the next lookup of each stale key.
func (c *Cache) SweepNegative() {
	before := c.negByName.Len() + c.negByID.Len()
	c.negByName.DeleteExpired()
	c.negByID.DeleteExpired()
	after := c.negByName.Len() + c.negByID.Len()
	if before != after {
		log.Debugf("catalog: swept %d expired negative entries", before-after)
	}
}

// Put primes the positive cache directly, bypassing a store round trip.
// Used by the optional NATS resolver to apply a resolution reply without
// every waiting caller re-querying the store once it unblocks.
func (c *Cache) Put(kind Kind, name string, id []byte) {
	c.idByName.Add(key{kind: kind, name: name}, id)
	c.nameByID.Add(idKey{kind: kind, id: string(id)}, name)
	c.negByName.Remove(key{kind: kind, name: name})
	c.negByID.Remove(idKey{kind: kind, id: string(id)})
}
