package orchestrator

import (
	"sort"

	"github.com/codex-helper/proxy/internal/config"
	"github.com/codex-helper/proxy/internal/lb"
	"github.com/codex-helper/proxy/internal/modelroute"
	"github.com/codex-helper/proxy/internal/state"
)

// effectiveEnabled overlays a meta-override onto a stored ServiceConfig's
// Enabled flag.
func effectiveEnabled(cfg *config.ServiceConfig, overlay state.MetaOverride) bool {
	if overlay.Enabled != nil {
		return *overlay.Enabled
	}
	return cfg.Enabled
}

// effectiveLevel overlays a meta-override onto a stored ServiceConfig's
// Level.
func effectiveLevel(cfg *config.ServiceConfig, overlay state.MetaOverride) int {
	if overlay.Level != nil {
		return *overlay.Level
	}
	return cfg.Level
}

// pickLBSet implements S1: build the ordered list of service configs to
// try. A resolved pin (session, then global) wins outright and is used
// alone. Otherwise configs are filtered by effective-enabled; if the
// survivors span more than one distinct level, they are tried in level
// order (ties broken by active-first, then name); if they share one
// level, only the active one is used, falling back to a single arbitrary
// enabled config.
func pickLBSet(mgr *config.Manager, service string, pinnedName string, st *state.RuntimeState) []*config.ServiceConfig {
	if mgr == nil {
		return nil
	}
	if pinnedName != "" {
		if cfg := mgr.Get(pinnedName); cfg != nil {
			return []*config.ServiceConfig{cfg}
		}
	}

	var enabled []*config.ServiceConfig
	for _, cfg := range mgr.Configs {
		overlay, _ := st.GetMetaOverride(service, cfg.Name)
		if effectiveEnabled(cfg, overlay) {
			enabled = append(enabled, cfg)
		}
	}
	if len(enabled) == 0 {
		return nil
	}

	levels := make(map[int]bool, len(enabled))
	for _, cfg := range enabled {
		overlay, _ := st.GetMetaOverride(service, cfg.Name)
		levels[effectiveLevel(cfg, overlay)] = true
	}
	if len(levels) > 1 {
		sort.Slice(enabled, func(i, j int) bool {
			oi, _ := st.GetMetaOverride(service, enabled[i].Name)
			oj, _ := st.GetMetaOverride(service, enabled[j].Name)
			li, lj := effectiveLevel(enabled[i], oi), effectiveLevel(enabled[j], oj)
			if li != lj {
				return li < lj
			}
			ai := enabled[i].Name == mgr.Active
			aj := enabled[j].Name == mgr.Active
			if ai != aj {
				return ai
			}
			return enabled[i].Name < enabled[j].Name
		})
		return enabled
	}

	for _, cfg := range enabled {
		if cfg.Name == mgr.Active {
			return []*config.ServiceConfig{cfg}
		}
	}
	return []*config.ServiceConfig{enabled[0]}
}

// resolvePin returns the session override if present, else the global
// pin, else "".
func resolvePin(st *state.RuntimeState, sessionID string) string {
	if sessionID != "" {
		if name, ok := st.GetConfigOverride(sessionID); ok {
			return name
		}
	}
	if name, ok := st.GetGlobalConfigOverride(); ok {
		return name
	}
	return ""
}

// pickUpstream implements S2's inner loop: try each LB in order, and
// within an LB keep asking for a new candidate while the current one
// fails the model-support predicate, marking rejected indices avoided
// along the way.
func pickUpstream(lbReg *lb.Registry, lbList []*config.ServiceConfig, avoidSets map[string]map[int]bool, requestedModel string, policy config.RetryPolicy) (lb.Selected, *config.ServiceConfig, bool) {
	for _, cfg := range lbList {
		avoid := avoidSets[cfg.Name]
		if avoid == nil {
			avoid = make(map[int]bool)
			avoidSets[cfg.Name] = avoid
		}
		for {
			sel, ok := lbReg.SelectAvoiding(cfg, avoid, policy)
			if !ok {
				break
			}
			if requestedModel != "" && !modelroute.IsModelSupported(requestedModel, sel.Upstream.SupportedModels, sel.Upstream.ModelMapping) {
				avoid[sel.Index] = true
				continue
			}
			return sel, cfg, true
		}
	}
	return lb.Selected{}, nil, false
}
