package state

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// cwdEntry pairs a resolved cwd with the last time it was touched, since
// the LRU library itself only size-bounds the cache; TTL expiry is the
// reaper's job (see reaper.go).
type cwdEntry struct {
	Cwd        string
	LastSeenMs int64
}

// cwdCache composes a size-bounded hashicorp/golang-lru/v2 cache with the
// external CwdResolver fallback on miss, per spec §4.7's
// "resolve(session_id) -> cwd?" operation.
type cwdCache struct {
	lru       *lru.Cache[string, *cwdEntry]
	resolver  CwdResolver
	evictHook EvictHook
}

func newCwdCache(maxEntries int, resolver CwdResolver) *cwdCache {
	if maxEntries <= 0 {
		maxEntries = 2000
	}
	c, err := lru.New[string, *cwdEntry](maxEntries)
	if err != nil {
		// Only returns an error for a non-positive size, already guarded above.
		panic(err)
	}
	return &cwdCache{lru: c, resolver: resolver}
}

// Resolve returns the cwd for sessionID, touching its last-seen stamp on a
// hit, or delegating to the external resolver and inserting on a miss.
func (c *cwdCache) Resolve(sessionID string, nowMs int64) (string, bool) {
	if entry, ok := c.lru.Get(sessionID); ok {
		entry.LastSeenMs = nowMs
		return entry.Cwd, entry.Cwd != ""
	}
	if c.resolver == nil {
		return "", false
	}
	cwd, ok := c.resolver.ResolveCwd(sessionID)
	c.lru.Add(sessionID, &cwdEntry{Cwd: cwd, LastSeenMs: nowMs})
	return cwd, ok
}

// ResolveCwd is RuntimeState's public entry point for S0's cwd resolution.
func (s *RuntimeState) ResolveCwd(sessionID string, nowMs int64) (string, bool) {
	if sessionID == "" {
		return "", false
	}
	return s.cwd.Resolve(sessionID, nowMs)
}
