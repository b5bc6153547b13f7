// Package control is the Control API (C11): the /__internal/* HTTP
// surface for inspecting and steering a running proxy without restarting
// it, grounded on the teacher's internal/server admin-route registration
// shape.
package control

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/codex-helper/proxy/internal/config"
	"github.com/codex-helper/proxy/internal/logging"
	"github.com/codex-helper/proxy/internal/metrics"
	"github.com/codex-helper/proxy/internal/state"
)

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// Controller holds every collaborator the control endpoints read from or
// write to.
type Controller struct {
	State   *state.RuntimeState
	Store   *config.Store
	Metrics *metrics.Registry
	Log     *logging.Handler
}

// New returns a Controller.
func New(st *state.RuntimeState, store *config.Store, mx *metrics.Registry, logHandler *logging.Handler) *Controller {
	return &Controller{State: st, Store: store, Metrics: mx, Log: logHandler}
}

// Register mounts every control endpoint on mux using Go 1.22+'s
// method-and-path pattern matching, at higher specificity than the
// catch-all proxy routes per spec §4.8's wildcard-precedence rule.
func (c *Controller) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /__internal/status/active", c.handleStatusActive)
	mux.HandleFunc("GET /__internal/status/recent", c.handleStatusRecent)
	mux.HandleFunc("GET /__internal/status/session_stats", c.handleSessionStats)
	mux.HandleFunc("GET /__internal/status/logs", c.handleRecentLogs)

	mux.HandleFunc("GET /__internal/override/session", c.handleListSessionOverrides)
	mux.HandleFunc("POST /__internal/override/session", c.handleSetSessionOverride)
	mux.HandleFunc("POST /__internal/override/config", c.handleSetConfigOverride)
	mux.HandleFunc("POST /__internal/override/meta", c.handleSetMetaOverride)

	mux.HandleFunc("GET /__internal/config/reload", c.handleConfigReload)

	if c.Metrics != nil {
		mux.Handle("GET /__internal/metrics", c.Metrics.Handler())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (c *Controller) handleStatusActive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.State.ListActiveRequests())
}

func (c *Controller) handleStatusRecent(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 || n > 200 {
			writeError(w, http.StatusBadRequest, "limit must be an integer in [1, 200]")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, c.State.ListRecentFinished(limit))
}

func (c *Controller) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	all := c.State.ListSessionStats()
	sessionID := r.URL.Query().Get("session_id")
	if sessionID != "" {
		stats, ok := all[sessionID]
		if !ok {
			writeError(w, http.StatusNotFound, "unknown session_id")
			return
		}
		writeJSON(w, http.StatusOK, stats)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (c *Controller) handleRecentLogs(w http.ResponseWriter, r *http.Request) {
	if c.Log == nil {
		writeJSON(w, http.StatusOK, []logging.Line{})
		return
	}
	writeJSON(w, http.StatusOK, c.Log.Recent())
}

type sessionOverrideView struct {
	EffortOverrides map[string]string `json:"effort_overrides"`
	ConfigOverrides map[string]string `json:"config_overrides"`
	GlobalConfig    string            `json:"global_config,omitempty"`
}

func (c *Controller) handleListSessionOverrides(w http.ResponseWriter, r *http.Request) {
	global, _ := c.State.GetGlobalConfigOverride()
	writeJSON(w, http.StatusOK, sessionOverrideView{
		EffortOverrides: c.State.ListEffortOverrides(),
		ConfigOverrides: c.State.ListConfigOverrides(),
		GlobalConfig:    global,
	})
}

type setSessionOverrideRequest struct {
	SessionID  string `json:"session_id"`
	Effort     string `json:"effort,omitempty"`
	ConfigName string `json:"config_name,omitempty"`
}

func (c *Controller) handleSetSessionOverride(w http.ResponseWriter, r *http.Request) {
	var req setSessionOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	nowMs := nowMillis()
	c.State.SetEffortOverride(req.SessionID, req.Effort, nowMs)
	if req.ConfigName != "" {
		c.State.SetConfigOverride(req.SessionID, req.ConfigName, nowMs)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type setConfigOverrideRequest struct {
	ConfigName string `json:"config_name"`
}

func (c *Controller) handleSetConfigOverride(w http.ResponseWriter, r *http.Request) {
	var req setConfigOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	c.State.SetGlobalConfigOverride(req.ConfigName)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type setMetaOverrideRequest struct {
	Service    string `json:"service"`
	ConfigName string `json:"config_name"`
	Enabled    *bool  `json:"enabled,omitempty"`
	Level      *int   `json:"level,omitempty"`
}

func (c *Controller) handleSetMetaOverride(w http.ResponseWriter, r *http.Request) {
	var req setMetaOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Service == "" || req.ConfigName == "" {
		writeError(w, http.StatusBadRequest, "service and config_name are required")
		return
	}
	c.State.SetMetaOverride(req.Service, req.ConfigName, state.MetaOverride{Enabled: req.Enabled, Level: req.Level})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (c *Controller) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	reloaded, err := c.Store.ForceReload()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"reloaded": reloaded})
}
