package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tsqueng/coreengine/pkg/log"
)

// resolveReply is the wire shape of a resolution reply on
// catalog.resolve.<kind>: a resolver process returns the UID it assigned
// (or looked up) for Name, or Found=false if it has none (spec.md §4.3's
// "asynchronous" contract does not require every name to resolve).
type resolveReply struct {
	Name  string `json:"name"`
	ID    []byte `json:"id"`
	Found bool   `json:"found"`
}

// NatsResolver is an additive lookup path in front of a Cache: it publishes
// unresolved names on catalog.resolve.<kind> and applies the first reply
// to the cache, so a process that can resolve names faster than a store
// round trip (e.g. one holding the assignment table in memory) short-
// circuits the default direct-store path (SPEC_FULL.md §4.3). Nil-safe:
// a NatsResolver built with a nil connection, or a connection that never
// replies, degrades to Cache's own store-backed resolution.
type NatsResolver struct {
	nc      *nats.Conn
	cache   *Cache
	timeout time.Duration
}

// NewNatsResolver wraps cache with an async resolver over an already-
// connected nats.Conn. timeout bounds how long Resolve waits for a reply
// before falling back to the cache's normal GetID.
func NewNatsResolver(nc *nats.Conn, cache *Cache, timeout time.Duration) *NatsResolver {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &NatsResolver{nc: nc, cache: cache, timeout: timeout}
}

// Resolve tries the NATS round trip first, falling back to the cache's
// direct-store GetID on any failure (timeout, no responder, malformed
// reply, or a nil connection).
func (r *NatsResolver) Resolve(ctx context.Context, kind Kind, name string) ([]byte, bool, error) {
	if r == nil || r.nc == nil {
		return r.cache.GetID(ctx, kind, name)
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	msg, err := r.nc.RequestWithContext(reqCtx, subject(kind), []byte(name))
	if err != nil {
		log.Debugf("catalog: nats resolve %s/%s fell back to store: %v", kind, name, err)
		return r.cache.GetID(ctx, kind, name)
	}

	var reply resolveReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		log.Warnf("catalog: nats resolve %s/%s: malformed reply: %v", kind, name, err)
		return r.cache.GetID(ctx, kind, name)
	}
	if !reply.Found {
		return nil, false, nil
	}
	r.cache.Put(kind, name, reply.ID)
	return reply.ID, true, nil
}

func subject(kind Kind) string {
	return fmt.Sprintf("catalog.resolve.%s", kind)
}
