package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// envOr, envInt and envDuration mirror the teacher's Config.Load helper
// shape: a flat set of env-driven fields with typed fallbacks.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envStringSlice(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// ApplyRetryEnvOverrides overrides fields of rp from the
// CODEX_HELPER_RETRY_* environment variables, per spec §6. Each variable
// takes effect on the next read; callers re-apply on every load.
func ApplyRetryEnvOverrides(rp *RetryPolicy) {
	rp.MaxAttempts = envInt("CODEX_HELPER_RETRY_MAX_ATTEMPTS", rp.MaxAttempts)
	if rp.MaxAttempts > 8 {
		rp.MaxAttempts = 8
	}
	if rp.MaxAttempts < 1 {
		rp.MaxAttempts = 1
	}
	rp.BackoffMs = envInt("CODEX_HELPER_RETRY_BACKOFF_MS", rp.BackoffMs)
	rp.BackoffMaxMs = envInt("CODEX_HELPER_RETRY_BACKOFF_MAX_MS", rp.BackoffMaxMs)
	rp.JitterMs = envInt("CODEX_HELPER_RETRY_JITTER_MS", rp.JitterMs)
	rp.OnStatus = envStringSlice("CODEX_HELPER_RETRY_ON_STATUS", rp.OnStatus)
	rp.OnClass = envStringSlice("CODEX_HELPER_RETRY_ON_CLASS", rp.OnClass)
	rp.CloudflareChallengeCooldownSecs = envInt("CODEX_HELPER_RETRY_CLOUDFLARE_CHALLENGE_COOLDOWN_SECS", rp.CloudflareChallengeCooldownSecs)
	rp.CloudflareTimeoutCooldownSecs = envInt("CODEX_HELPER_RETRY_CLOUDFLARE_TIMEOUT_COOLDOWN_SECS", rp.CloudflareTimeoutCooldownSecs)
	rp.TransportCooldownSecs = envInt("CODEX_HELPER_RETRY_TRANSPORT_COOLDOWN_SECS", rp.TransportCooldownSecs)
}

// StatusMatches reports whether status matches any entry of patterns, where
// each entry is either a literal code ("429") or an inclusive range
// ("500-504").
func StatusMatches(status int, patterns []string) bool {
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if lo, hi, ok := strings.Cut(p, "-"); ok {
			loN, errLo := strconv.Atoi(strings.TrimSpace(lo))
			hiN, errHi := strconv.Atoi(strings.TrimSpace(hi))
			if errLo == nil && errHi == nil && status >= loN && status <= hiN {
				return true
			}
			continue
		}
		if n, err := strconv.Atoi(p); err == nil && n == status {
			return true
		}
	}
	return false
}

// Env holds the ambient process-level configuration surface beyond the
// hot-reloadable Snapshot: listening address, file paths, logging knobs.
type Env struct {
	Host               string
	Port               int
	ConfigPath         string
	FilterPath         string
	LogPath            string
	LogFormat          string
	LogLevel           string
	RecentRingSize     int
	SessionOverrideTTL time.Duration
	CwdCacheTTL        time.Duration
	CwdCacheMaxEntries int
	CodexAuthJSONPath      string
	ClaudeSettingsJSONPath string
	UpstreamRequestTimeout time.Duration
	UpstreamIdleTimeout    time.Duration
	DebugHeaders           bool
}

// LoadEnv reads the ambient process env into an Env, applying the defaults
// from SPEC_FULL.md §6.
func LoadEnv() Env {
	home, _ := os.UserHomeDir()
	return Env{
		Host:               envOr("PROXY_HOST", "127.0.0.1"),
		Port:               envInt("PROXY_PORT", 3211),
		ConfigPath:         envOr("PROXY_CONFIG_PATH", home+"/.codex-proxy/config.json"),
		FilterPath:         envOr("PROXY_FILTER_PATH", home+"/.codex-proxy/filter.json"),
		LogPath:            envOr("PROXY_LOG_PATH", home+"/.codex-proxy/requests.jsonl"),
		LogFormat:          envOr("PROXY_LOG_FORMAT", "text"),
		LogLevel:           envOr("PROXY_LOG_LEVEL", "info"),
		RecentRingSize:     envInt("PROXY_RECENT_RING_SIZE", 200),
		SessionOverrideTTL: envDuration("CODEX_HELPER_SESSION_OVERRIDE_TTL_SECS", 1800*time.Second),
		CwdCacheTTL:        envDuration("CODEX_HELPER_SESSION_CWD_CACHE_TTL_SECS", 43200*time.Second),
		CwdCacheMaxEntries: envInt("CODEX_HELPER_SESSION_CWD_CACHE_MAX_ENTRIES", 2000),
		CodexAuthJSONPath:      envOr("PROXY_CODEX_AUTH_JSON_PATH", home+"/.codex/auth.json"),
		ClaudeSettingsJSONPath: envOr("PROXY_CLAUDE_SETTINGS_JSON_PATH", home+"/.claude/settings.json"),
		UpstreamRequestTimeout: envDuration("PROXY_UPSTREAM_REQUEST_TIMEOUT_SECS", 600*time.Second),
		UpstreamIdleTimeout:    envDuration("PROXY_UPSTREAM_IDLE_TIMEOUT_SECS", 90*time.Second),
		DebugHeaders:           envBool("PROXY_DEBUG_HEADERS", false),
	}
}
