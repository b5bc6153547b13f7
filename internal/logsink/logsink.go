// Package logsink is the Request Log Sink (C13): the JSONL writer behind
// spec §6's "Persisted state" log, with rotation via lumberjack so the
// append-only file never grows unbounded across a long-running proxy.
package logsink

import (
	"encoding/json"
	"log/slog"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Line is the JSONL schema from spec §6, with the additive trace_id field
// nested under http_debug per SPEC_FULL.md §4.2/§6.
type Line struct {
	TimestampMs     int64           `json:"timestamp_ms"`
	Service         string          `json:"service"`
	Method          string          `json:"method"`
	Path            string          `json:"path"`
	StatusCode      int             `json:"status_code"`
	DurationMs      int64           `json:"duration_ms"`
	ConfigName      string          `json:"config_name"`
	ProviderID      string          `json:"provider_id,omitempty"`
	UpstreamBaseURL string          `json:"upstream_base_url"`
	SessionID       string          `json:"session_id,omitempty"`
	Cwd             string          `json:"cwd,omitempty"`
	ReasoningEffort string          `json:"reasoning_effort,omitempty"`
	Usage           json.RawMessage `json:"usage,omitempty"`
	Retry           json.RawMessage `json:"retry,omitempty"`
	HTTPDebug       *HTTPDebug      `json:"http_debug,omitempty"`
}

// HTTPDebug carries optional debug-only fields: redacted headers, the
// collected SSE buffer prefix, and the request's trace_id.
type HTTPDebug struct {
	TraceID          string            `json:"trace_id,omitempty"`
	RequestHeaders   map[string]string `json:"request_headers,omitempty"`
	ResponseHeaders  map[string]string `json:"response_headers,omitempty"`
	UpstreamErrClass string            `json:"upstream_error_class,omitempty"`
	CfRay            string            `json:"cf_ray,omitempty"`
}

// Sink writes Lines as newline-delimited JSON to a rotated file. Writes
// are best-effort: per spec §5, an append failure is logged and swallowed,
// never surfaced to the request path.
type Sink struct {
	mu     sync.Mutex
	writer *lumberjack.Logger
}

// New opens (creating if necessary) the JSONL file at path with rotation:
// 100MB per file, 7 backups kept, compressed, matching a realistic
// long-running proxy's disk footprint.
func New(path string) *Sink {
	return &Sink{
		writer: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100,
			MaxBackups: 7,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// Write appends one Line, best-effort.
func (s *Sink) Write(line Line) {
	b, err := json.Marshal(line)
	if err != nil {
		slog.Warn("logsink: marshal failed", "error", err)
		return
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.writer.Write(b); err != nil {
		slog.Warn("logsink: write failed", "error", err)
	}
}

// Close flushes and closes the underlying rotated file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer.Close()
}
