package orchestrator

import (
	"math"
	"math/rand"
	"time"

	"github.com/codex-helper/proxy/internal/config"
)

// backoffDuration computes min(base * 2^(attempt-1), max) + uniform(0, jitter),
// per spec §4.2's S7 retry backoff formula. attempt is 1 for the first
// retry sleep (after the first failed dispatch).
func backoffDuration(attempt int, policy config.RetryPolicy) time.Duration {
	base := float64(policy.BackoffMs)
	max := float64(policy.BackoffMaxMs)
	if max <= 0 {
		max = base
	}
	backoff := base * math.Pow(2, float64(attempt-1))
	if backoff > max {
		backoff = max
	}
	jitter := 0.0
	if policy.JitterMs > 0 {
		jitter = rand.Float64() * float64(policy.JitterMs)
	}
	return time.Duration(backoff+jitter) * time.Millisecond
}

// classInSet reports whether class (non-empty) appears in set.
func classInSet(class string, set []string) bool {
	if class == "" {
		return false
	}
	for _, c := range set {
		if c == class {
			return true
		}
	}
	return false
}

// classCooldownSecs returns the configured punitive cooldown for a
// classified failure, per spec §4.2/§7's class-specific cooldowns.
func classCooldownSecs(class string, policy config.RetryPolicy) (int, bool) {
	switch class {
	case ClassCloudflareChallenge:
		return policy.CloudflareChallengeCooldownSecs, true
	case ClassCloudflareTimeout:
		return policy.CloudflareTimeoutCooldownSecs, true
	case ClassUpstreamTransportError, ClassUpstreamBodyReadError, ClassTargetBuildError:
		return policy.TransportCooldownSecs, true
	default:
		return 0, false
	}
}
