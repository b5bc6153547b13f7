package logging

import (
	"log/slog"
	"testing"
)

func TestRecentReturnsCapturedLinesOldestFirst(t *testing.T) {
	h := New("text", slog.LevelInfo, 2)
	logger := slog.New(h)

	logger.Info("first")
	logger.Info("second")
	logger.Info("third")

	recent := h.Recent()
	if len(recent) != 2 {
		t.Fatalf("expected ring capped at 2, got %d", len(recent))
	}
	if recent[0].Message != "second" || recent[1].Message != "third" {
		t.Fatalf("unexpected order: %+v", recent)
	}
}

func TestEnabledRespectsLevel(t *testing.T) {
	h := New("text", slog.LevelWarn, 10)
	if h.Enabled(nil, slog.LevelInfo) {
		t.Fatalf("expected info to be disabled at warn level")
	}
	if !h.Enabled(nil, slog.LevelError) {
		t.Fatalf("expected error to be enabled at warn level")
	}
}

func TestWithAttrsCarriesIntoCapturedLine(t *testing.T) {
	h := New("text", slog.LevelInfo, 10)
	logger := slog.New(h).With("request_id", "abc")
	logger.Info("hello")

	recent := h.Recent()
	if len(recent) != 1 {
		t.Fatalf("expected 1 captured line")
	}
	if recent[0].Attrs["request_id"] != "abc" {
		t.Fatalf("expected request_id attr to be captured, got %+v", recent[0].Attrs)
	}
}
