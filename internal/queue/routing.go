package queue

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"
)

// Router assigns a DispatchOptions.RoutingKey to a stable worker shard
// using rendezvous (highest random weight) hashing: adding or removing
// a shard only reassigns the keys that mapped to it, unlike mod-N
// hashing. Promoted from the teacher's ad hoc RoutingKeys string
// matching (internal/worker/pool.go's ShouldProcessJob) into a real
// consistent-hash assignment so a worker's shard set survives restarts.
type Router struct {
	mu    sync.RWMutex
	rdv   *rendezvous.Rendezvous
	nodes []string
}

func xxhashString(s string) uint64 {
	return xxhash.Sum64String(s)
}

// NewRouter builds a Router over the given shard names (typically
// worker process ids or hostnames).
func NewRouter(shards []string) *Router {
	nodes := append([]string(nil), shards...)
	return &Router{
		rdv:   rendezvous.New(nodes, xxhashString),
		nodes: nodes,
	}
}

// Shard returns which shard owns routingKey. "" is treated as
// "default" (matching job.DispatchOptions.withDefaults).
func (r *Router) Shard(routingKey string) string {
	if routingKey == "" {
		routingKey = "default"
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rdv.Lookup(routingKey)
}

// Owns reports whether shardID is responsible for routingKey, using
// consistent hashing instead of substring matching. The worker pool
// does not call it; reservations are not filtered by shard.
func (r *Router) Owns(shardID, routingKey string) bool {
	return r.Shard(routingKey) == shardID
}

// AddShard/RemoveShard rebuild the hash ring. Rendezvous hashing keeps
// reassignment minimal but a rebuild is still O(shards); callers
// should batch topology changes rather than calling these per-job.
func (r *Router) AddShard(shardID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.nodes {
		if n == shardID {
			return
		}
	}
	r.nodes = append(r.nodes, shardID)
	r.rdv = rendezvous.New(r.nodes, xxhashString)
}

func (r *Router) RemoveShard(shardID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.nodes[:0]
	for _, n := range r.nodes {
		if n != shardID {
			kept = append(kept, n)
		}
	}
	r.nodes = kept
	r.rdv = rendezvous.New(r.nodes, xxhashString)
}
