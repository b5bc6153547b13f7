package state

// aggregateSessionStats folds one FinishedRequest into its session's
// running SessionStats, creating the entry on first use. "last_*" fields
// are set whenever the finished request carries a new value, otherwise
// left as they were (set-if-newly-present, else keep), matching
// original_source/src/state.rs's finish_request.
func (s *RuntimeState) aggregateSessionStats(sessionID string, fin FinishedRequest) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	st, ok := s.stats[sessionID]
	if !ok {
		st = &SessionStats{}
		s.stats[sessionID] = st
	}

	st.TurnsTotal++
	if fin.Model != "" {
		st.LastModel = fin.Model
	}
	if fin.ReasoningEffort != "" {
		st.LastReasoningEffort = fin.ReasoningEffort
	}
	if fin.ProviderID != "" {
		st.LastProviderID = fin.ProviderID
	}
	if fin.ConfigName != "" {
		st.LastConfigName = fin.ConfigName
	}
	if fin.Usage != nil {
		st.LastUsage = fin.Usage
		st.TotalUsage.Add(*fin.Usage)
		st.TurnsWithUsage++
	}
	status := fin.StatusCode
	st.LastStatus = &status
	dur := fin.DurationMs
	st.LastDurationMs = &dur
	ended := fin.EndedAtMs
	st.LastEndedAtMs = &ended
	st.LastSeenMs = fin.EndedAtMs
}

// ListSessionStats returns a snapshot of every tracked session's stats,
// keyed by session_id.
func (s *RuntimeState) ListSessionStats() map[string]SessionStats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	out := make(map[string]SessionStats, len(s.stats))
	for id, st := range s.stats {
		cp := *st
		if st.LastUsage != nil {
			u := *st.LastUsage
			cp.LastUsage = &u
		}
		out[id] = cp
	}
	return out
}
