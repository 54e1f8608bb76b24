package store

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// nodeEventCacheNodes bounds the number of nodes tracked and
// nodeEventCachePerNode, per node, how many of its newest events are
// mirrored in memory.
const (
	nodeEventCacheNodes   = 256
	nodeEventCachePerNode = 50
)

// nodeEventCache mirrors the newest-N node_events rows per node, so a
// node.describe/monitoring poll asking for "give me the last few events"
// doesn't re-query sqlite on every call. It is an accelerator only: on a
// cache miss or eviction callers fall back to the authoritative table.
type nodeEventCache struct {
	recent *lru.Cache[string, []NodeEvent]
}

func newNodeEventCache() *nodeEventCache {
	cache, err := lru.New[string, []NodeEvent](nodeEventCacheNodes)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// nodeEventCacheNodes never is.
		panic(err)
	}
	return &nodeEventCache{recent: cache}
}

// remember prepends rec to nodeID's cached slice, trimmed to
// nodeEventCachePerNode entries newest-first.
func (c *nodeEventCache) remember(nodeID string, rec NodeEvent) {
	existing, _ := c.recent.Get(nodeID)
	updated := append([]NodeEvent{rec}, existing...)
	if len(updated) > nodeEventCachePerNode {
		updated = updated[:nodeEventCachePerNode]
	}
	c.recent.Add(nodeID, updated)
}

// lookup returns the cached newest-first events for nodeID, capped at
// limit, and whether the cache held enough entries to satisfy the
// request without a database read.
func (c *nodeEventCache) lookup(nodeID string, limit int) ([]NodeEvent, bool) {
	if nodeID == "" || limit <= 0 || limit > nodeEventCachePerNode {
		return nil, false
	}
	cached, ok := c.recent.Get(nodeID)
	if !ok || limit > len(cached) {
		return nil, false
	}
	return cached[:limit], true
}
