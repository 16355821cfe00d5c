package storeapi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimitedPassesThroughWhenDisabled(t *testing.T) {
	mem := NewMemStore()
	rl := NewRateLimited(mem, 0, 0)
	require.NoError(t, mem.Put(context.Background(), "t", []byte("k"), "f", []byte("q"), []byte("v")))

	row, found, err := rl.Get(context.Background(), "t", []byte("k"), "f")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v"), row.Values[0])
}

func TestRateLimitedThrottles(t *testing.T) {
	mem := NewMemStore()
	rl := NewRateLimited(mem, 1000, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		_, _, err := rl.Get(ctx, "t", []byte("k"), "f")
		require.NoError(t, err)
	}
}
