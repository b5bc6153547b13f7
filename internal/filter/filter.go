// Package filter is the Request Filter (C4): hot-reloadable byte
// substitution rules applied to outgoing request bodies, ported from
// original_source/src/filter.rs.
package filter

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"regexp"
	"sync"
	"time"
)

// Op is a filter rule's operation.
type Op string

const (
	OpReplace Op = "replace"
	OpRemove  Op = "remove"
)

// RuleConfig is the on-disk shape of one rule.
type RuleConfig struct {
	Op     Op     `json:"op"`
	Source string `json:"source"`
	Target string `json:"target,omitempty"`
}

// compiledRule is a RuleConfig with its source pre-compiled to a regex
// when possible, else treated as a literal byte pattern.
type compiledRule struct {
	op          Op
	sourceBytes []byte
	targetBytes []byte
	regex       *regexp.Regexp
}

// CheckInterval is the minimum time between mtime re-checks, per spec
// §4.5 ("no more often than every 1s").
const CheckInterval = 1 * time.Second

// Filter watches a JSON rules file and applies it sequentially to outbound
// request bodies.
type Filter struct {
	path string

	mu          sync.Mutex
	rules       []compiledRule
	lastMtime   int64
	lastCheckAt time.Time
}

// New returns a Filter for path. It does not read the file until the first
// Apply or explicit ReloadIfNeeded call, matching the original's lazy
// first-reload behavior.
func New(path string) *Filter {
	return &Filter{path: path}
}

// Apply reloads the rule file if due, then applies all rules sequentially
// to body, returning the transformed bytes.
func (f *Filter) Apply(body []byte) []byte {
	f.mu.Lock()
	f.reloadIfNeededLocked()
	rules := f.rules
	f.mu.Unlock()

	out := body
	for _, r := range rules {
		out = applyRule(r, out)
	}
	return out
}

// ReloadIfNeeded forces the mtime check regardless of CheckInterval, used
// by the fsnotify watcher's change callback.
func (f *Filter) ReloadIfNeeded() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCheckAt = time.Time{} // bypass the interval gate
	f.reloadIfNeededLocked()
}

// reloadIfNeededLocked re-stats the file and, on mtime change, reparses the
// rules. On parse failure, rules are cleared and the mtime is remembered so
// the file is not re-parsed on every request until it changes again.
// Callers must hold f.mu.
func (f *Filter) reloadIfNeededLocked() {
	now := time.Now()
	if now.Sub(f.lastCheckAt) < CheckInterval {
		return
	}
	f.lastCheckAt = now

	fi, err := os.Stat(f.path)
	if err != nil {
		return
	}
	mtime := fi.ModTime().UnixNano()
	if mtime == f.lastMtime {
		return
	}
	f.lastMtime = mtime

	raw, err := os.ReadFile(f.path)
	if err != nil {
		slog.Warn("filter: read failed, clearing rules", "path", f.path, "error", err)
		f.rules = nil
		return
	}

	configs, err := parseRules(raw)
	if err != nil {
		slog.Warn("filter: parse failed, clearing rules", "path", f.path, "error", err)
		f.rules = nil
		return
	}

	compiled := make([]compiledRule, 0, len(configs))
	for _, c := range configs {
		compiled = append(compiled, compile(c))
	}
	f.rules = compiled
	slog.Info("filter reloaded", "path", f.path, "rules", len(compiled))
}

// parseRules accepts either a single JSON object or a JSON array of
// objects.
func parseRules(raw []byte) ([]RuleConfig, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var arr []RuleConfig
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return nil, err
		}
		return arr, nil
	}
	var one RuleConfig
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return nil, err
	}
	return []RuleConfig{one}, nil
}

func compile(c RuleConfig) compiledRule {
	r := compiledRule{
		op:          c.Op,
		sourceBytes: []byte(c.Source),
		targetBytes: []byte(c.Target),
	}
	if re, err := regexp.Compile(c.Source); err == nil {
		r.regex = re
	}
	return r
}

func applyRule(r compiledRule, body []byte) []byte {
	switch r.op {
	case OpReplace:
		if r.regex != nil {
			return r.regex.ReplaceAll(body, r.targetBytes)
		}
		return bytes.ReplaceAll(body, r.sourceBytes, r.targetBytes)
	case OpRemove:
		if r.regex != nil {
			return r.regex.ReplaceAll(body, nil)
		}
		return bytes.ReplaceAll(body, r.sourceBytes, nil)
	default:
		return body
	}
}
