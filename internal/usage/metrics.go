// Package usage extracts UsageMetrics from upstream response bodies, both
// buffered JSON and incrementally scanned SSE streams, grounded on
// original_source/src/usage.go's extraction rules.
package usage

import (
	"math"

	"github.com/tidwall/gjson"
)

// Metrics is the token-count summary attributed to one model turn. All
// fields saturate on addition rather than overflowing.
type Metrics struct {
	InputTokens     int64 `json:"input_tokens"`
	OutputTokens    int64 `json:"output_tokens"`
	ReasoningTokens int64 `json:"reasoning_tokens"`
	TotalTokens     int64 `json:"total_tokens"`
}

// Add accumulates other into m, saturating at math.MaxInt64 instead of
// wrapping, mirroring the original's saturating_add semantics for
// SessionStats.total_usage.
func (m *Metrics) Add(other Metrics) {
	m.InputTokens = satAdd(m.InputTokens, other.InputTokens)
	m.OutputTokens = satAdd(m.OutputTokens, other.OutputTokens)
	m.ReasoningTokens = satAdd(m.ReasoningTokens, other.ReasoningTokens)
	m.TotalTokens = satAdd(m.TotalTokens, other.TotalTokens)
}

func satAdd(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	if b < 0 && a < math.MinInt64-b {
		return math.MinInt64
	}
	return a + b
}

// FromBytes extracts a Metrics from a buffered JSON response body. It
// checks the top-level "usage" object first, then "response.usage"
// (the Codex Responses-API shape), returning ok=false if neither is
// present.
func FromBytes(body []byte) (Metrics, bool) {
	if v := gjson.GetBytes(body, "usage"); v.Exists() {
		return fromValue(v), true
	}
	if v := gjson.GetBytes(body, "response.usage"); v.Exists() {
		return fromValue(v), true
	}
	return Metrics{}, false
}

// fromValue reads input_tokens/output_tokens/total_tokens (or their sum
// when total is absent) and output_tokens_details.reasoning_tokens from a
// gjson usage object. toI64 tolerates either a JSON number or a numeric
// string, matching the original's to_i64 helper.
func fromValue(v gjson.Result) Metrics {
	in := toI64(v.Get("input_tokens"))
	out := toI64(v.Get("output_tokens"))
	total := v.Get("total_tokens")
	var tot int64
	if total.Exists() {
		tot = toI64(total)
	} else {
		tot = satAdd(in, out)
	}
	reasoning := toI64(v.Get("output_tokens_details.reasoning_tokens"))
	return Metrics{
		InputTokens:     in,
		OutputTokens:    out,
		ReasoningTokens: reasoning,
		TotalTokens:     tot,
	}
}

func toI64(v gjson.Result) int64 {
	if !v.Exists() {
		return 0
	}
	switch v.Type {
	case gjson.Number:
		return v.Int()
	case gjson.String:
		r := gjson.Parse(v.Str)
		if r.Type == gjson.Number {
			return r.Int()
		}
		return 0
	default:
		return 0
	}
}
