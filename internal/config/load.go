package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// DefaultRetryPolicy mirrors the example config file schema in SPEC_FULL.md
// §3; Load fills in these defaults for any zero-valued field it did not
// find on disk, then ApplyRetryEnvOverrides runs on top.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:                     3,
		BackoffMs:                       250,
		BackoffMaxMs:                    5000,
		JitterMs:                        100,
		OnStatus:                        []string{"502", "503", "429"},
		OnClass:                         []string{"cloudflare_challenge", "upstream_transport_error"},
		CloudflareChallengeCooldownSecs: 120,
		CloudflareTimeoutCooldownSecs:   60,
		TransportCooldownSecs:           30,
		FailureThreshold:                3,
		CooldownSecs:                    30,
	}
}

// Load reads and parses the JSON config file at path into a Snapshot,
// stamping it with the source path/mtime for later debounce comparisons.
// Missing retry fields fall back to DefaultRetryPolicy, then the
// CODEX_HELPER_RETRY_* env vars are applied on top, per spec §6.
func Load(path string) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var onDisk struct {
		Version        int          `json:"version"`
		Codex          Manager      `json:"codex"`
		Claude         Manager      `json:"claude"`
		Retry          *RetryPolicy `json:"retry"`
		DefaultService string       `json:"default_service"`
	}
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	retry := DefaultRetryPolicy()
	if onDisk.Retry != nil {
		retry = mergeRetryPolicy(retry, *onDisk.Retry)
	}
	ApplyRetryEnvOverrides(&retry)

	snap := &Snapshot{
		Version:        onDisk.Version,
		Codex:          onDisk.Codex,
		Claude:         onDisk.Claude,
		Retry:          retry,
		DefaultService: onDisk.DefaultService,
		SourcePath:     path,
	}
	if fi, err := os.Stat(path); err == nil {
		snap.SourceModUnix = fi.ModTime().UnixNano()
	}
	return snap, nil
}

// mergeRetryPolicy overlays non-zero fields of override onto base.
func mergeRetryPolicy(base, override RetryPolicy) RetryPolicy {
	if override.MaxAttempts != 0 {
		base.MaxAttempts = override.MaxAttempts
	}
	if override.BackoffMs != 0 {
		base.BackoffMs = override.BackoffMs
	}
	if override.BackoffMaxMs != 0 {
		base.BackoffMaxMs = override.BackoffMaxMs
	}
	if override.JitterMs != 0 {
		base.JitterMs = override.JitterMs
	}
	if len(override.OnStatus) > 0 {
		base.OnStatus = override.OnStatus
	}
	if len(override.OnClass) > 0 {
		base.OnClass = override.OnClass
	}
	if override.CloudflareChallengeCooldownSecs != 0 {
		base.CloudflareChallengeCooldownSecs = override.CloudflareChallengeCooldownSecs
	}
	if override.CloudflareTimeoutCooldownSecs != 0 {
		base.CloudflareTimeoutCooldownSecs = override.CloudflareTimeoutCooldownSecs
	}
	if override.TransportCooldownSecs != 0 {
		base.TransportCooldownSecs = override.TransportCooldownSecs
	}
	if override.FailureThreshold != 0 {
		base.FailureThreshold = override.FailureThreshold
	}
	if override.CooldownSecs != 0 {
		base.CooldownSecs = override.CooldownSecs
	}
	return base
}
