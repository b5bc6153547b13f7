package state

import (
	"sync"
	"sync/atomic"

	"github.com/codex-helper/proxy/internal/usage"
)

// RuntimeState is the in-memory hub backing C2. All operations are
// safe for concurrent use; reads of the active-request table take a shared
// lock and do not block each other.
type RuntimeState struct {
	nextID atomic.Uint64

	activeMu sync.RWMutex
	active   map[uint64]*ActiveRequest

	// recentMu guards the bounded ring of FinishedRequests, ported from
	// the teacher's events.Bus ring-buffer algorithm (ring/ringPos/
	// ringCount), repurposed here from pub-sub events to request history.
	recentMu    sync.Mutex
	recent      []FinishedRequest
	recentSize  int
	recentPos   int
	recentCount int

	statsMu sync.RWMutex
	stats   map[string]*SessionStats

	overridesMu      sync.RWMutex
	effortOverrides  map[string]effortOverride
	configOverrides  map[string]configOverride
	globalConfigPin  *string
	metaOverrides    map[string]map[string]MetaOverride // service -> config name -> overlay

	cwd *cwdCache
}

// CwdResolver is the external session-to-cwd resolver C2 delegates to on a
// cache miss (session-file discovery is an out-of-scope collaborator per
// spec §1).
type CwdResolver interface {
	ResolveCwd(sessionID string) (cwd string, ok bool)
}

// New returns an empty RuntimeState. recentRingSize bounds the finished-
// request ring (spec default 200); cwdMaxEntries bounds the LRU-backed
// session cwd cache.
func New(recentRingSize, cwdMaxEntries int, resolver CwdResolver) *RuntimeState {
	if recentRingSize <= 0 {
		recentRingSize = 200
	}
	return &RuntimeState{
		active:          make(map[uint64]*ActiveRequest),
		recent:          make([]FinishedRequest, recentRingSize),
		recentSize:      recentRingSize,
		stats:           make(map[string]*SessionStats),
		effortOverrides: make(map[string]effortOverride),
		configOverrides: make(map[string]configOverride),
		metaOverrides:   make(map[string]map[string]MetaOverride),
		cwd:             newCwdCache(cwdMaxEntries, resolver),
	}
}

// BeginRequest allocates a monotonic request id and records an
// ActiveRequest for it.
func (s *RuntimeState) BeginRequest(req ActiveRequest) uint64 {
	id := s.nextID.Add(1)
	req.ID = id
	s.activeMu.Lock()
	s.active[id] = &req
	s.activeMu.Unlock()
	return id
}

// UpdateRequestRoute patches the config/provider/upstream fields of an
// in-flight ActiveRequest once S2 has picked an upstream (and again on
// each retry attempt).
func (s *RuntimeState) UpdateRequestRoute(id uint64, configName, providerID, baseURL string) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	if r, ok := s.active[id]; ok {
		r.ConfigName = configName
		r.ProviderID = providerID
		r.UpstreamBaseURL = baseURL
	}
}

// FinishRequest removes the ActiveRequest for id, pushes a FinishedRequest
// onto the recent ring and aggregates into the session's SessionStats.
func (s *RuntimeState) FinishRequest(id uint64, statusCode int, durationMs, endedAtMs int64, usageM *usage.Metrics, retry *RetryInfo) {
	s.activeMu.Lock()
	active, ok := s.active[id]
	if ok {
		delete(s.active, id)
	}
	s.activeMu.Unlock()
	if !ok {
		return
	}

	fin := FinishedRequest{
		ActiveRequest: *active,
		StatusCode:    statusCode,
		DurationMs:    durationMs,
		EndedAtMs:     endedAtMs,
		Usage:         usageM,
		Retry:         retry,
	}
	s.pushRecent(fin)
	if active.SessionID != "" {
		s.aggregateSessionStats(active.SessionID, fin)
	}
}

func (s *RuntimeState) pushRecent(fin FinishedRequest) {
	s.recentMu.Lock()
	defer s.recentMu.Unlock()
	// Insert at ringPos then advance, matching events.Bus.Publish; the
	// most-recent-first read order is reconstructed in ListRecentFinished.
	s.recent[s.recentPos] = fin
	s.recentPos = (s.recentPos + 1) % s.recentSize
	if s.recentCount < s.recentSize {
		s.recentCount++
	}
}

// ListActiveRequests returns a snapshot of all currently active requests.
func (s *RuntimeState) ListActiveRequests() []ActiveRequest {
	s.activeMu.RLock()
	defer s.activeMu.RUnlock()
	out := make([]ActiveRequest, 0, len(s.active))
	for _, r := range s.active {
		out = append(out, *r)
	}
	return out
}

// ListRecentFinished returns up to limit FinishedRequests, most recent
// first.
func (s *RuntimeState) ListRecentFinished(limit int) []FinishedRequest {
	s.recentMu.Lock()
	defer s.recentMu.Unlock()
	if limit <= 0 || limit > s.recentCount {
		limit = s.recentCount
	}
	out := make([]FinishedRequest, limit)
	// s.recentPos is one past the most-recently-written slot.
	for i := 0; i < limit; i++ {
		idx := (s.recentPos - 1 - i + s.recentSize) % s.recentSize
		out[i] = s.recent[idx]
	}
	return out
}

// protectedSessions returns the set of session ids present in any active
// request, used by the reaper to never reap a session that is mid-request.
func (s *RuntimeState) protectedSessions() map[string]bool {
	s.activeMu.RLock()
	defer s.activeMu.RUnlock()
	protected := make(map[string]bool, len(s.active))
	for _, r := range s.active {
		if r.SessionID != "" {
			protected[r.SessionID] = true
		}
	}
	return protected
}
