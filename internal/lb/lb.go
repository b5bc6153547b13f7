// Package lb is the Upstream Selector: weighted-random pick with failure
// counters, cooldowns and avoidance sets, ported from
// original_source/src/lb.rs and adapted to the teacher's
// scheduler.Select/SelectOptions shape (weighted sampling replaces
// priority sort; a mutex-guarded map keyed by service config name replaces
// the teacher's account store).
package lb

import (
	"math/rand"
	"sync"
	"time"

	"github.com/codex-helper/proxy/internal/config"
)

// DefaultFailureThreshold and DefaultCooldownSecs are the compile-time
// defaults from spec §4.1, used when a RetryPolicy does not override them.
const (
	DefaultFailureThreshold = 3
	DefaultCooldownSecs     = 30
)

// state is the per-service LB state: parallel vectors sized to the
// service's current upstream count.
type state struct {
	failureCounts  []uint32
	cooldownUntil  []time.Time
	usageExhausted []bool
}

func newState(n int) *state {
	return &state{
		failureCounts:  make([]uint32, n),
		cooldownUntil:  make([]time.Time, n),
		usageExhausted: make([]bool, n),
	}
}

// resize grows or shrinks s to n entries in place, preserving existing
// indices and zero-filling new ones, per spec's "resized on mismatch"
// invariant.
func (s *state) resize(n int) {
	if len(s.failureCounts) == n {
		return
	}
	if n > len(s.failureCounts) {
		for len(s.failureCounts) < n {
			s.failureCounts = append(s.failureCounts, 0)
			s.cooldownUntil = append(s.cooldownUntil, time.Time{})
			s.usageExhausted = append(s.usageExhausted, false)
		}
		return
	}
	s.failureCounts = s.failureCounts[:n]
	s.cooldownUntil = s.cooldownUntil[:n]
	s.usageExhausted = s.usageExhausted[:n]
}

// Selected is a chosen upstream by index within its service config.
type Selected struct {
	Index    int
	Upstream config.Upstream
}

// Registry holds one state per service config name, guarded by a single
// mutex per spec §5 ("LB state is guarded by a mutex keyed by service
// config name; critical sections are short"); a map-wide lock stands in
// for per-key locks here since critical sections are arithmetic-only.
type Registry struct {
	mu       sync.Mutex
	byConfig map[string]*state
	rng      *rand.Rand
}

// NewRegistry returns an empty Registry with a process-seeded PRNG. Per
// spec §4.1 determinism is not required.
func NewRegistry() *Registry {
	return &Registry{
		byConfig: make(map[string]*state),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// stateForLocked returns the state for configName, creating or resizing it
// as needed. Callers must hold r.mu.
func (r *Registry) stateForLocked(configName string, upstreamCount int) *state {
	s, ok := r.byConfig[configName]
	if !ok {
		s = newState(upstreamCount)
		r.byConfig[configName] = s
		return s
	}
	s.resize(upstreamCount)
	return s
}

func thresholdOrDefault(policy config.RetryPolicy) uint32 {
	if policy.FailureThreshold == 0 {
		return DefaultFailureThreshold
	}
	return uint32(policy.FailureThreshold)
}

func cooldownSecsOrDefault(policy config.RetryPolicy) int {
	if policy.CooldownSecs == 0 {
		return DefaultCooldownSecs
	}
	return policy.CooldownSecs
}

// SelectAvoiding picks one upstream from cfg.Upstreams, skipping indices in
// avoid, cooled-down or usage-exhausted upstreams, weighted by
// Upstream.EffectiveWeight(). If every weight collapses to zero it retries
// ignoring usage_exhausted; if still zero, it returns ok=false.
func (r *Registry) SelectAvoiding(cfg *config.ServiceConfig, avoid map[int]bool, policy config.RetryPolicy) (Selected, bool) {
	now := time.Now()
	threshold := thresholdOrDefault(policy)

	r.mu.Lock()
	s := r.stateForLocked(cfg.Name, len(cfg.Upstreams))
	weights := computeWeightsLocked(cfg, s, avoid, now, threshold, true)
	if sum(weights) <= 0 {
		weights = computeWeightsLocked(cfg, s, avoid, now, threshold, false)
	}
	draw := r.rng.Float64()
	r.mu.Unlock()

	total := sum(weights)
	if total <= 0 {
		return Selected{}, false
	}

	target := draw * total
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		target -= w
		if target <= 0 {
			return Selected{Index: i, Upstream: cfg.Upstreams[i]}, true
		}
	}
	// Floating point edge case: fall back to the last positive-weight index.
	for i := len(weights) - 1; i >= 0; i-- {
		if weights[i] > 0 {
			return Selected{Index: i, Upstream: cfg.Upstreams[i]}, true
		}
	}
	return Selected{}, false
}

// computeWeightsLocked assigns a selection weight per upstream index. An
// index inside a cooldown window (set on reaching the failure threshold or
// by Penalize) gets weight 0. Reaching a cooldown deadline resets the failure counter and clears the
// cooldown, per spec §4.1; callers must hold r.mu.
func computeWeightsLocked(cfg *config.ServiceConfig, s *state, avoid map[int]bool, now time.Time, threshold uint32, respectUsageExhausted bool) []float64 {
	weights := make([]float64, len(cfg.Upstreams))
	for i, up := range cfg.Upstreams {
		if avoid[i] {
			continue
		}
		if !s.cooldownUntil[i].IsZero() && now.Before(s.cooldownUntil[i]) {
			continue
		}
		if s.failureCounts[i] >= threshold {
			s.failureCounts[i] = 0
			s.cooldownUntil[i] = time.Time{}
		}
		if respectUsageExhausted && s.usageExhausted[i] {
			continue
		}
		weights[i] = up.EffectiveWeight()
	}
	return weights
}

func sum(ws []float64) float64 {
	var total float64
	for _, w := range ws {
		total += w
	}
	return total
}

// RecordResult updates the failure counter for index on cfg: reset on
// success, saturating increment on failure, entering cooldown exactly on
// the threshold-th consecutive failure.
func (r *Registry) RecordResult(cfg *config.ServiceConfig, index int, success bool, policy config.RetryPolicy) {
	threshold := thresholdOrDefault(policy)
	cooldownSecs := cooldownSecsOrDefault(policy)

	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stateForLocked(cfg.Name, len(cfg.Upstreams))
	if index < 0 || index >= len(s.failureCounts) {
		return
	}
	if success {
		s.failureCounts[index] = 0
		s.cooldownUntil[index] = time.Time{}
		return
	}
	if s.failureCounts[index] < ^uint32(0) {
		s.failureCounts[index]++
	}
	if s.failureCounts[index] >= threshold {
		s.cooldownUntil[index] = time.Now().Add(time.Duration(cooldownSecs) * time.Second)
	}
}

// Penalize immediately sets the cooldown deadline for index without
// touching the failure counter, used for class-specific punitive cooldowns
// (cloudflare challenge/timeout, transport errors). reason is accepted for
// symmetry with the caller's log line; the registry itself does not retain it.
func (r *Registry) Penalize(cfg *config.ServiceConfig, index int, cooldownSecs int, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stateForLocked(cfg.Name, len(cfg.Upstreams))
	if index < 0 || index >= len(s.cooldownUntil) {
		return
	}
	s.cooldownUntil[index] = time.Now().Add(time.Duration(cooldownSecs) * time.Second)
	_ = reason
}

// Snapshot returns the current failure count and remaining-cooldown
// seconds (0 if none) for each of upstreamCount upstreams of configName,
// for metrics exposition. It does not mutate LB state beyond the same
// resize-on-mismatch every other accessor performs.
func (r *Registry) Snapshot(configName string, upstreamCount int) (failureCounts []uint32, cooldownRemaining []float64) {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stateForLocked(configName, upstreamCount)
	failureCounts = make([]uint32, len(s.failureCounts))
	copy(failureCounts, s.failureCounts)
	cooldownRemaining = make([]float64, len(s.cooldownUntil))
	for i, until := range s.cooldownUntil {
		if until.IsZero() || !until.After(now) {
			continue
		}
		cooldownRemaining[i] = until.Sub(now).Seconds()
	}
	return failureCounts, cooldownRemaining
}

// SetUsageExhausted marks or clears the usage_exhausted flag for index,
// used when an upstream reports its quota/budget is spent for this turn.
func (r *Registry) SetUsageExhausted(cfg *config.ServiceConfig, index int, exhausted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stateForLocked(cfg.Name, len(cfg.Upstreams))
	if index < 0 || index >= len(s.usageExhausted) {
		return
	}
	s.usageExhausted[index] = exhausted
}
