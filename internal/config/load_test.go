package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleConfig = `{
  "version": 1,
  "codex": {
    "active": "openai",
    "configs": {
      "openai": {
        "name": "openai",
        "enabled": true,
        "level": 1,
        "upstreams": [
          {"base_url": "https://a.example/v1", "weight": 2},
          {"base_url": "https://b.example/v1", "weight": 0}
        ]
      }
    }
  },
  "claude": {"active": "", "configs": {}},
  "default_service": "codex"
}`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		t.Fatalf("write sample config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultRetryPolicy(t *testing.T) {
	path := writeSample(t)
	snap, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Retry.MaxAttempts != 3 {
		t.Fatalf("expected default max_attempts=3, got %d", snap.Retry.MaxAttempts)
	}
	cfg := snap.Codex.Get("openai")
	if cfg == nil || len(cfg.Upstreams) != 2 {
		t.Fatalf("expected 2 upstreams, got %+v", cfg)
	}
	if cfg.Upstreams[1].EffectiveWeight() != 1 {
		t.Fatalf("weight=0 upstream should default effective weight to 1, got %v", cfg.Upstreams[1].EffectiveWeight())
	}
}

func TestLoadEnvOverridesRetryPolicy(t *testing.T) {
	t.Setenv("CODEX_HELPER_RETRY_MAX_ATTEMPTS", "9")
	path := writeSample(t)
	snap, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Retry.MaxAttempts != 8 {
		t.Fatalf("max_attempts should be capped at 8, got %d", snap.Retry.MaxAttempts)
	}
}

func TestStoreReloadIfChangedDebounces(t *testing.T) {
	path := writeSample(t)
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	first := s.Current()

	reloaded, err := s.ReloadIfChanged()
	if err != nil {
		t.Fatalf("ReloadIfChanged: %v", err)
	}
	if reloaded {
		t.Fatalf("expected no reload within debounce window")
	}
	if s.Current() != first {
		t.Fatalf("pointer identity should be stable with no on-disk change")
	}
}

func TestStoreForceReloadPicksUpChange(t *testing.T) {
	path := writeSample(t)
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	first := s.Current()

	// Ensure a distinguishable mtime on filesystems with coarse resolution.
	time.Sleep(10 * time.Millisecond)
	updated := sampleConfig[:len(sampleConfig)-1] + `,"extra":1}`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	if err := os.Chtimes(path, time.Now().Add(time.Second), time.Now().Add(time.Second)); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	reloaded, err := s.ForceReload()
	if err != nil {
		t.Fatalf("ForceReload: %v", err)
	}
	if !reloaded {
		t.Fatalf("expected ForceReload to pick up the mtime change")
	}
	if s.Current() == first {
		t.Fatalf("expected a new snapshot pointer after reload")
	}
}

func TestStatusMatches(t *testing.T) {
	patterns := []string{"429", "500-504"}
	cases := map[int]bool{429: true, 500: true, 502: true, 504: true, 505: false, 400: false}
	for status, want := range cases {
		if got := StatusMatches(status, patterns); got != want {
			t.Errorf("StatusMatches(%d) = %v, want %v", status, got, want)
		}
	}
}
