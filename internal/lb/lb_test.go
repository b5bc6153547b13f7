package lb

import (
	"testing"
	"time"

	"github.com/codex-helper/proxy/internal/config"
)

func threeUpstreams() *config.ServiceConfig {
	return &config.ServiceConfig{
		Name: "svc",
		Upstreams: []config.Upstream{
			{BaseURL: "https://a", Weight: 1},
			{BaseURL: "https://b", Weight: 1},
			{BaseURL: "https://c", Weight: 1},
		},
	}
}

func TestSelectAvoidingNeverReturnsAvoidedIndex(t *testing.T) {
	r := NewRegistry()
	cfg := threeUpstreams()
	policy := config.DefaultRetryPolicy()
	avoid := map[int]bool{0: true, 1: true}
	for i := 0; i < 50; i++ {
		sel, ok := r.SelectAvoiding(cfg, avoid, policy)
		if !ok {
			t.Fatalf("expected a selectable upstream")
		}
		if sel.Index != 2 {
			t.Fatalf("expected only index 2 selectable, got %d", sel.Index)
		}
	}
}

func TestSelectAvoidingNeverReturnsCooledDownIndex(t *testing.T) {
	r := NewRegistry()
	cfg := threeUpstreams()
	policy := config.DefaultRetryPolicy()
	policy.FailureThreshold = 1
	policy.CooldownSecs = 60

	r.RecordResult(cfg, 0, false, policy)
	r.RecordResult(cfg, 1, false, policy)

	for i := 0; i < 50; i++ {
		sel, ok := r.SelectAvoiding(cfg, nil, policy)
		if !ok {
			t.Fatalf("expected a selectable upstream")
		}
		if sel.Index != 2 {
			t.Fatalf("expected only index 2 selectable while 0,1 are cooling down, got %d", sel.Index)
		}
	}
}

func TestFailureThresholdTriggersCooldownExactlyAtThreshold(t *testing.T) {
	r := NewRegistry()
	cfg := threeUpstreams()
	policy := config.DefaultRetryPolicy()
	policy.FailureThreshold = 3
	policy.CooldownSecs = 60

	r.RecordResult(cfg, 0, false, policy)
	r.RecordResult(cfg, 0, false, policy)
	// Not yet at threshold: index 0 should still be selectable alongside others.
	avoid := map[int]bool{1: true, 2: true}
	if _, ok := r.SelectAvoiding(cfg, avoid, policy); !ok {
		t.Fatalf("index 0 should still be selectable before reaching threshold")
	}

	r.RecordResult(cfg, 0, false, policy)
	if _, ok := r.SelectAvoiding(cfg, avoid, policy); ok {
		t.Fatalf("index 0 should be cooling down exactly at the threshold-th failure")
	}
}

func TestRecordResultSuccessResetsFailureCount(t *testing.T) {
	r := NewRegistry()
	cfg := threeUpstreams()
	policy := config.DefaultRetryPolicy()
	policy.FailureThreshold = 2
	policy.CooldownSecs = 60

	r.RecordResult(cfg, 0, false, policy)
	r.RecordResult(cfg, 0, true, policy)
	r.RecordResult(cfg, 0, false, policy)

	avoid := map[int]bool{1: true, 2: true}
	if _, ok := r.SelectAvoiding(cfg, avoid, policy); !ok {
		t.Fatalf("success should have reset the failure count, index 0 should still be selectable")
	}
}

func TestWeightZeroUpstreamStillSelectable(t *testing.T) {
	r := NewRegistry()
	cfg := &config.ServiceConfig{
		Name:      "svc",
		Upstreams: []config.Upstream{{BaseURL: "https://only", Weight: 0}},
	}
	policy := config.DefaultRetryPolicy()
	sel, ok := r.SelectAvoiding(cfg, nil, policy)
	if !ok || sel.Index != 0 {
		t.Fatalf("weight=0 single upstream should still be selectable, got ok=%v sel=%+v", ok, sel)
	}
}

func TestSelectAvoidingFallsBackWhenAllUsageExhausted(t *testing.T) {
	r := NewRegistry()
	cfg := threeUpstreams()
	policy := config.DefaultRetryPolicy()
	r.SetUsageExhausted(cfg, 0, true)
	r.SetUsageExhausted(cfg, 1, true)
	r.SetUsageExhausted(cfg, 2, true)

	// All usage-exhausted: first pass yields zero total, fallback pass
	// ignores usage_exhausted and should still find a candidate.
	if _, ok := r.SelectAvoiding(cfg, nil, policy); !ok {
		t.Fatalf("expected fallback pass to ignore usage_exhausted and find a candidate")
	}
}

func TestPenalizeSetsCooldownWithoutTouchingFailureCount(t *testing.T) {
	r := NewRegistry()
	cfg := threeUpstreams()
	policy := config.DefaultRetryPolicy()
	r.Penalize(cfg, 0, 60, "upstream_stream_error")

	avoid := map[int]bool{1: true, 2: true}
	if _, ok := r.SelectAvoiding(cfg, avoid, policy); ok {
		t.Fatalf("penalized index should not be selectable during its cooldown")
	}
}

func TestCooldownElapsedResetsFailureCount(t *testing.T) {
	r := NewRegistry()
	cfg := threeUpstreams()
	policy := config.DefaultRetryPolicy()
	policy.FailureThreshold = 1
	policy.CooldownSecs = 1 // shortest cooldown; 0 would mean the 30s default

	r.RecordResult(cfg, 0, false, policy)
	time.Sleep(1100 * time.Millisecond)

	avoid := map[int]bool{1: true, 2: true}
	if _, ok := r.SelectAvoiding(cfg, avoid, policy); !ok {
		t.Fatalf("expected index 0 selectable again once its cooldown elapsed")
	}
}
