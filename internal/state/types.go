// Package state is the Runtime State (C2): active/finished requests,
// session overrides, config overrides, the session cwd cache and a
// periodic reaper, ported from original_source/src/state.rs.
package state

import "github.com/codex-helper/proxy/internal/usage"

// ActiveRequest tracks one in-flight request from admission to finish.
type ActiveRequest struct {
	ID              uint64 `json:"id"`
	Service         string `json:"service"`
	Method          string `json:"method"`
	Path            string `json:"path"`
	SessionID       string `json:"session_id,omitempty"`
	Cwd             string `json:"cwd,omitempty"`
	Model           string `json:"model,omitempty"`
	ReasoningEffort string `json:"reasoning_effort,omitempty"`
	ConfigName      string `json:"config_name,omitempty"`
	ProviderID      string `json:"provider_id,omitempty"`
	UpstreamBaseURL string `json:"upstream_base_url,omitempty"`
	StartedAtMs     int64  `json:"started_at_ms"`
}

// RetryInfo records how many attempts a finished request took and which
// upstreams were tried, in order.
type RetryInfo struct {
	Attempts      int      `json:"attempts"`
	UpstreamChain []string `json:"upstream_chain"`
}

// FinishedRequest is an ActiveRequest plus its outcome.
type FinishedRequest struct {
	ActiveRequest
	StatusCode int             `json:"status_code"`
	DurationMs int64           `json:"duration_ms"`
	EndedAtMs  int64           `json:"ended_at_ms"`
	Usage      *usage.Metrics  `json:"usage,omitempty"`
	Retry      *RetryInfo      `json:"retry,omitempty"`
}

// SessionStats accumulates per-session telemetry across turns.
type SessionStats struct {
	TurnsTotal          int64          `json:"turns_total"`
	LastModel           string         `json:"last_model,omitempty"`
	LastReasoningEffort string         `json:"last_reasoning_effort,omitempty"`
	LastProviderID      string         `json:"last_provider_id,omitempty"`
	LastConfigName      string         `json:"last_config_name,omitempty"`
	LastUsage           *usage.Metrics `json:"last_usage,omitempty"`
	TotalUsage          usage.Metrics  `json:"total_usage"`
	TurnsWithUsage      int64          `json:"turns_with_usage"`
	LastStatus          *int           `json:"last_status,omitempty"`
	LastDurationMs      *int64         `json:"last_duration_ms,omitempty"`
	LastEndedAtMs       *int64         `json:"last_ended_at_ms,omitempty"`
	LastSeenMs          int64          `json:"last_seen_ms"`
}

// effortOverride and configOverride are session_id-keyed entries with a
// last_seen stamp used by the reaper's TTL+protection rule.
type effortOverride struct {
	Effort     string
	LastSeenMs int64
}

type configOverride struct {
	ConfigName string
	LastSeenMs int64
}

// MetaOverride is a per-service per-config (enabled?, level?) overlay.
type MetaOverride struct {
	Enabled *bool `json:"enabled,omitempty"`
	Level   *int  `json:"level,omitempty"`
}
