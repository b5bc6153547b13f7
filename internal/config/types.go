// Package config holds the immutable, atomically-swapped view of services,
// upstreams, auth sources and retry knobs that the rest of the proxy reads.
package config

import "strings"

// UpstreamAuth describes how to obtain a bearer token / api key for one
// upstream. Precedence is resolved by internal/authresolve, not here.
type UpstreamAuth struct {
	InlineToken  string `json:"inline_token,omitempty"`
	EnvTokenName string `json:"env_token_name,omitempty"`
	InlineAPIKey string `json:"inline_api_key,omitempty"`
	EnvAPIKeyName string `json:"env_api_key_name,omitempty"`
}

// Upstream is one concrete HTTP endpoint inside a service config.
type Upstream struct {
	BaseURL         string            `json:"base_url"`
	Auth            UpstreamAuth      `json:"auth"`
	Tags            map[string]string `json:"tags,omitempty"`
	SupportedModels []string          `json:"supported_models,omitempty"`
	ModelMapping    map[string]string `json:"model_mapping,omitempty"`
	Weight          float64           `json:"weight"`
}

// EffectiveWeight returns the weight used by the selector: the configured
// weight if positive, else 1 (a weight of exactly 0 is still selectable).
func (u Upstream) EffectiveWeight() float64 {
	if u.Weight > 0 {
		return u.Weight
	}
	return 1
}

// NormalizedBasePath returns the base_url's path component with a trailing
// slash stripped, used for request-path de-duplication.
func (u Upstream) NormalizedBasePath() string {
	idx := strings.Index(u.BaseURL, "://")
	rest := u.BaseURL
	if idx >= 0 {
		rest = u.BaseURL[idx+3:]
	}
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return ""
	}
	p := rest[slash:]
	return strings.TrimRight(p, "/")
}

// ServiceConfig is a named grouping of upstreams belonging to one logical
// provider.
type ServiceConfig struct {
	Name      string     `json:"name"`
	Alias     string     `json:"alias,omitempty"`
	Enabled   bool       `json:"enabled"`
	Level     int        `json:"level"`
	Upstreams []Upstream `json:"upstreams"`
}

// Manager groups the named configs for one agent family (codex or claude)
// plus which one is currently active.
type Manager struct {
	Active  string                   `json:"active,omitempty"`
	Configs map[string]*ServiceConfig `json:"configs"`
}

// Get returns the named config, or nil.
func (m *Manager) Get(name string) *ServiceConfig {
	if m == nil {
		return nil
	}
	return m.Configs[name]
}

// RetryPolicy controls the retry controller (C8) and the LB's punitive
// cooldowns.
type RetryPolicy struct {
	MaxAttempts                     int      `json:"max_attempts"`
	BackoffMs                       int      `json:"backoff_ms"`
	BackoffMaxMs                    int      `json:"backoff_max_ms"`
	JitterMs                        int      `json:"jitter_ms"`
	OnStatus                        []string `json:"on_status"`
	OnClass                         []string `json:"on_class"`
	CloudflareChallengeCooldownSecs int      `json:"cloudflare_challenge_cooldown_secs"`
	CloudflareTimeoutCooldownSecs   int      `json:"cloudflare_timeout_cooldown_secs"`
	TransportCooldownSecs           int      `json:"transport_cooldown_secs"`

	// FailureThreshold and CooldownSecs are the LB's compile-time defaults
	// (3, 30s per spec §4.1), overridable here.
	FailureThreshold int `json:"failure_threshold,omitempty"`
	CooldownSecs     int `json:"cooldown_secs,omitempty"`
}

// ClassRetryable reports whether class is in OnClass.
func (r RetryPolicy) ClassRetryable(class string) bool {
	if class == "" {
		return false
	}
	for _, c := range r.OnClass {
		if c == class {
			return true
		}
	}
	return false
}

// Snapshot is the immutable, atomically-swapped view of the whole on-disk
// config. A reload replaces it wholesale; nothing in it is mutated in
// place once published.
type Snapshot struct {
	Version        int          `json:"version"`
	Codex          Manager      `json:"codex"`
	Claude         Manager      `json:"claude"`
	Retry          RetryPolicy  `json:"retry"`
	DefaultService string       `json:"default_service,omitempty"`

	// SourcePath and SourceModUnix are not part of the on-disk schema; they
	// are stamped by the loader for debounce bookkeeping.
	SourcePath    string `json:"-"`
	SourceModUnix int64  `json:"-"`
}

// ManagerFor returns the Manager for the named agent family ("codex" or
// "claude"), or nil if the name is unrecognized.
func (s *Snapshot) ManagerFor(service string) *Manager {
	switch service {
	case "codex":
		return &s.Codex
	case "claude":
		return &s.Claude
	default:
		return nil
	}
}
