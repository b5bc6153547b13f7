// Package logging is the ring-buffer-backed slog.Handler behind the
// ambient logging concern of SPEC_FULL.md §6: every structured log line
// also lands in a bounded in-memory ring so the control API can surface
// recent log lines without a second persistence layer, adapted from the
// teacher's internal/events.LogHandler.
package logging

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Line is one captured log record.
type Line struct {
	Level   string         `json:"level"`
	Message string         `json:"msg"`
	Time    time.Time      `json:"ts"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Handler wraps a text-or-JSON slog.Handler and mirrors every record into
// a fixed-size ring buffer.
type Handler struct {
	inner slog.Handler

	mu        sync.RWMutex
	ring      []Line
	ringSize  int
	ringPos   int
	ringCount int

	level  slog.Leveler
	attrs  []slog.Attr
	groups []string

	// root is the handler that owns the ring; nil on the handler New built.
	root *Handler
}

// owner returns the handler whose ring this handler writes into and reads.
func (h *Handler) owner() *Handler {
	if h.root != nil {
		return h.root
	}
	return h
}

// New builds a Handler writing to stderr in either "json" or "text" format
// (anything other than "json" falls back to text), at the given level,
// keeping the last ringSize records for Recent().
func New(format string, level slog.Leveler, ringSize int) *Handler {
	if ringSize <= 0 {
		ringSize = 1000
	}
	var inner slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		inner = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		inner = slog.NewTextHandler(os.Stderr, opts)
	}
	return &Handler{
		inner:    inner,
		ring:     make([]Line, ringSize),
		ringSize: ringSize,
		level:    level,
	}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.inner.Handle(ctx, r); err != nil {
		return err
	}

	attrs := make(map[string]any)
	prefix := groupPrefix(h.groups)
	for _, a := range h.attrs {
		attrs[prefix+a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[prefix+a.Key] = a.Value.Any()
		return true
	})

	line := Line{Level: r.Level.String(), Message: r.Message, Time: r.Time}
	if len(attrs) > 0 {
		line.Attrs = attrs
	}

	rb := h.owner()
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.ring[rb.ringPos] = line
	rb.ringPos = (rb.ringPos + 1) % rb.ringSize
	if rb.ringCount < rb.ringSize {
		rb.ringCount++
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{
		inner:    h.inner.WithAttrs(attrs),
		ring:     h.ring,
		ringSize: h.ringSize,
		level:    h.level,
		attrs:    append(cloneAttrs(h.attrs), attrs...),
		groups:   h.groups,
		root:     h.owner(),
	}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &Handler{
		inner:    h.inner.WithGroup(name),
		ring:     h.ring,
		ringSize: h.ringSize,
		level:    h.level,
		attrs:    cloneAttrs(h.attrs),
		groups:   append(append([]string{}, h.groups...), name),
		root:     h.owner(),
	}
}

// Recent returns up to the last ringSize captured lines, oldest first.
func (h *Handler) Recent() []Line {
	h = h.owner()
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.ringCount == 0 {
		return nil
	}
	out := make([]Line, h.ringCount)
	start := (h.ringPos - h.ringCount + h.ringSize) % h.ringSize
	for i := 0; i < h.ringCount; i++ {
		out[i] = h.ring[(start+i)%h.ringSize]
	}
	return out
}

func groupPrefix(groups []string) string {
	if len(groups) == 0 {
		return ""
	}
	var p string
	for _, g := range groups {
		p += g + "."
	}
	return p
}

func cloneAttrs(attrs []slog.Attr) []slog.Attr {
	if len(attrs) == 0 {
		return nil
	}
	c := make([]slog.Attr, len(attrs))
	copy(c, attrs)
	return c
}
