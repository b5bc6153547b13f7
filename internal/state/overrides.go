package state

// --- Session effort overrides -------------------------------------------

// GetEffortOverride returns the effort override for sessionID, if any.
func (s *RuntimeState) GetEffortOverride(sessionID string) (string, bool) {
	s.overridesMu.RLock()
	defer s.overridesMu.RUnlock()
	o, ok := s.effortOverrides[sessionID]
	return o.Effort, ok
}

// SetEffortOverride sets (or replaces) the effort override for sessionID.
// An empty effort clears it, matching the control API's "absent effort
// clears" contract.
func (s *RuntimeState) SetEffortOverride(sessionID, effort string, nowMs int64) {
	s.overridesMu.Lock()
	defer s.overridesMu.Unlock()
	if effort == "" {
		delete(s.effortOverrides, sessionID)
		return
	}
	s.effortOverrides[sessionID] = effortOverride{Effort: effort, LastSeenMs: nowMs}
}

// ClearEffortOverride removes the effort override for sessionID.
func (s *RuntimeState) ClearEffortOverride(sessionID string) {
	s.overridesMu.Lock()
	defer s.overridesMu.Unlock()
	delete(s.effortOverrides, sessionID)
}

// TouchEffortOverride refreshes the last-seen stamp without changing the
// value, called whenever a session with an active override makes a
// request, so the reaper's TTL clock resets on use.
func (s *RuntimeState) TouchEffortOverride(sessionID string, nowMs int64) {
	s.overridesMu.Lock()
	defer s.overridesMu.Unlock()
	if o, ok := s.effortOverrides[sessionID]; ok {
		o.LastSeenMs = nowMs
		s.effortOverrides[sessionID] = o
	}
}

// ListEffortOverrides returns a snapshot of all session_id -> effort
// overrides.
func (s *RuntimeState) ListEffortOverrides() map[string]string {
	s.overridesMu.RLock()
	defer s.overridesMu.RUnlock()
	out := make(map[string]string, len(s.effortOverrides))
	for id, o := range s.effortOverrides {
		out[id] = o.Effort
	}
	return out
}

// --- Per-session config pin ---------------------------------------------

// GetConfigOverride returns the pinned config name for sessionID, if any.
func (s *RuntimeState) GetConfigOverride(sessionID string) (string, bool) {
	s.overridesMu.RLock()
	defer s.overridesMu.RUnlock()
	o, ok := s.configOverrides[sessionID]
	return o.ConfigName, ok
}

// SetConfigOverride pins sessionID to configName; an empty configName
// clears the pin.
func (s *RuntimeState) SetConfigOverride(sessionID, configName string, nowMs int64) {
	s.overridesMu.Lock()
	defer s.overridesMu.Unlock()
	if configName == "" {
		delete(s.configOverrides, sessionID)
		return
	}
	s.configOverrides[sessionID] = configOverride{ConfigName: configName, LastSeenMs: nowMs}
}

// ClearConfigOverride removes the config pin for sessionID.
func (s *RuntimeState) ClearConfigOverride(sessionID string) {
	s.overridesMu.Lock()
	defer s.overridesMu.Unlock()
	delete(s.configOverrides, sessionID)
}

// TouchConfigOverride refreshes the last-seen stamp for sessionID's pin.
func (s *RuntimeState) TouchConfigOverride(sessionID string, nowMs int64) {
	s.overridesMu.Lock()
	defer s.overridesMu.Unlock()
	if o, ok := s.configOverrides[sessionID]; ok {
		o.LastSeenMs = nowMs
		s.configOverrides[sessionID] = o
	}
}

// ListConfigOverrides returns a snapshot of all session_id -> pinned
// config name overrides.
func (s *RuntimeState) ListConfigOverrides() map[string]string {
	s.overridesMu.RLock()
	defer s.overridesMu.RUnlock()
	out := make(map[string]string, len(s.configOverrides))
	for id, o := range s.configOverrides {
		out[id] = o.ConfigName
	}
	return out
}

// --- Global config pin ---------------------------------------------------

// GetGlobalConfigOverride returns the process-wide config pin, if set.
func (s *RuntimeState) GetGlobalConfigOverride() (string, bool) {
	s.overridesMu.RLock()
	defer s.overridesMu.RUnlock()
	if s.globalConfigPin == nil {
		return "", false
	}
	return *s.globalConfigPin, true
}

// SetGlobalConfigOverride pins every session to configName. An empty
// configName clears the global pin.
func (s *RuntimeState) SetGlobalConfigOverride(configName string) {
	s.overridesMu.Lock()
	defer s.overridesMu.Unlock()
	if configName == "" {
		s.globalConfigPin = nil
		return
	}
	v := configName
	s.globalConfigPin = &v
}

// --- Per-service per-config meta overlay ---------------------------------

// GetMetaOverride returns the (enabled?, level?) overlay for one
// service/config pair.
func (s *RuntimeState) GetMetaOverride(service, configName string) (MetaOverride, bool) {
	s.overridesMu.RLock()
	defer s.overridesMu.RUnlock()
	byConfig, ok := s.metaOverrides[service]
	if !ok {
		return MetaOverride{}, false
	}
	m, ok := byConfig[configName]
	return m, ok
}

// SetMetaOverride sets the overlay for one service/config pair. Passing
// MetaOverride{} (both fields nil) clears it.
func (s *RuntimeState) SetMetaOverride(service, configName string, overlay MetaOverride) {
	s.overridesMu.Lock()
	defer s.overridesMu.Unlock()
	if overlay.Enabled == nil && overlay.Level == nil {
		if byConfig, ok := s.metaOverrides[service]; ok {
			delete(byConfig, configName)
		}
		return
	}
	byConfig, ok := s.metaOverrides[service]
	if !ok {
		byConfig = make(map[string]MetaOverride)
		s.metaOverrides[service] = byConfig
	}
	byConfig[configName] = overlay
}

// ListMetaOverrides returns a snapshot of every service's config overlays.
func (s *RuntimeState) ListMetaOverrides() map[string]map[string]MetaOverride {
	s.overridesMu.RLock()
	defer s.overridesMu.RUnlock()
	out := make(map[string]map[string]MetaOverride, len(s.metaOverrides))
	for svc, byConfig := range s.metaOverrides {
		cp := make(map[string]MetaOverride, len(byConfig))
		for name, m := range byConfig {
			cp[name] = m
		}
		out[svc] = cp
	}
	return out
}
