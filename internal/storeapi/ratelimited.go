package storeapi

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Store, bounding the rate of read calls (Get, MultiGet,
// Scan) against a shared token bucket. Writes pass through unthrottled: the
// engine is a read path (spec.md §1), so back-pressure belongs on scans and
// gets, not on the cache write-back path.
type RateLimited struct {
	Store
	limiter *rate.Limiter
}

// NewRateLimited wraps store with a limiter allowing burst requests per
// second, sustained at qps. A nil limiter (qps <= 0) disables throttling.
func NewRateLimited(store Store, qps float64, burst int) *RateLimited {
	var limiter *rate.Limiter
	if qps > 0 {
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(qps), burst)
	}
	return &RateLimited{Store: store, limiter: limiter}
}

func (r *RateLimited) Get(ctx context.Context, table string, key []byte, family string) (Row, bool, error) {
	if err := r.wait(ctx); err != nil {
		return Row{}, false, err
	}
	return r.Store.Get(ctx, table, key, family)
}

func (r *RateLimited) MultiGet(ctx context.Context, table string, keys [][]byte, family string) ([]Row, []bool, error) {
	if err := r.wait(ctx); err != nil {
		return nil, nil, err
	}
	return r.Store.MultiGet(ctx, table, keys, family)
}

func (r *RateLimited) Scan(ctx context.Context, table string, startKey, stopKey []byte, family string, fn func(Row) error) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.Store.Scan(ctx, table, startKey, stopKey, family, fn)
}

func (r *RateLimited) wait(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	return r.limiter.Wait(ctx)
}

var _ Store = (*RateLimited)(nil)
