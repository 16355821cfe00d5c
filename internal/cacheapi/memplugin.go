package cacheapi

import (
	"context"
	"sync"
	"time"
)

// MemPlugin is an in-memory Plugin used by unit tests.
type MemPlugin struct {
	mu   sync.RWMutex
	data map[string]CacheQueryResult
}

func NewMemPlugin() *MemPlugin {
	return &MemPlugin{data: make(map[string]CacheQueryResult)}
}

func (p *MemPlugin) Fetch(_ context.Context, key string) (CacheQueryResult, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.data[key]
	if !ok {
		return CacheQueryResult{}, false, nil
	}
	if !r.ExpiresAt.IsZero() && time.Now().After(r.ExpiresAt) {
		return CacheQueryResult{}, false, nil
	}
	return r, true, nil
}

func (p *MemPlugin) Cache(_ context.Context, result CacheQueryResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data[result.Key] = result
	return nil
}

func (p *MemPlugin) Delete(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.data, key)
	return nil
}
