package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tsqueng/coreengine/internal/storeapi"
)

func TestCacheResolvesAndCachesHits(t *testing.T) {
	store := storeapi.NewMemStore()
	ctx := context.Background()
	require.NoError(t, Assign(ctx, store, KindMetric, "sys.cpu.user", []byte{0, 0, 1}))

	c, err := NewCache(RowStoreAdapter{Store: store}, DefaultCacheConfig())
	require.NoError(t, err)

	id, ok, err := c.GetID(ctx, KindMetric, "sys.cpu.user")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{0, 0, 1}, id)

	name, ok, err := c.GetName(ctx, KindMetric, []byte{0, 0, 1})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "sys.cpu.user", name)

	// Second lookup must hit the positive cache, not the store.
	id2, ok2, err := c.GetID(ctx, KindMetric, "sys.cpu.user")
	require.NoError(t, err)
	require.True(t, ok2)
	require.Equal(t, id, id2)
}

func TestCacheNegativeEntryExpires(t *testing.T) {
	store := storeapi.NewMemStore()
	ctx := context.Background()
	cfg := DefaultCacheConfig()
	cfg.NegativeTTL = 10 * time.Millisecond

	c, err := NewCache(RowStoreAdapter{Store: store}, cfg)
	require.NoError(t, err)

	_, ok, err := c.GetID(ctx, KindMetric, "missing.metric")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, Assign(ctx, store, KindMetric, "missing.metric", []byte{0, 0, 9}))

	// Still within TTL: negative cache still says no.
	_, ok, err = c.GetID(ctx, KindMetric, "missing.metric")
	require.NoError(t, err)
	require.False(t, ok)

	time.Sleep(20 * time.Millisecond)
	id, ok, err := c.GetID(ctx, KindMetric, "missing.metric")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{0, 0, 9}, id)
}

func TestCacheGetIDsPreservesOrder(t *testing.T) {
	store := storeapi.NewMemStore()
	ctx := context.Background()
	require.NoError(t, Assign(ctx, store, KindTagKey, "host", []byte{0, 1}))

	c, err := NewCache(RowStoreAdapter{Store: store}, DefaultCacheConfig())
	require.NoError(t, err)

	ids, oks, err := c.GetIDs(ctx, KindTagKey, []string{"host", "nope", "host"})
	require.NoError(t, err)
	require.Equal(t, []bool{true, false, true}, oks)
	require.Equal(t, []byte{0, 1}, ids[0])
	require.Equal(t, []byte{0, 1}, ids[2])
}
