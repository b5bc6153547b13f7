package logsink

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteRoundTripsJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requests.jsonl")
	s := New(path)
	defer s.Close()

	s.Write(Line{
		TimestampMs:     1000,
		Service:         "codex",
		Method:          "POST",
		Path:            "/v1/responses",
		StatusCode:      200,
		DurationMs:      42,
		ConfigName:      "openai",
		UpstreamBaseURL: "https://api.openai.com/v1",
		SessionID:       "sess-1",
		HTTPDebug:       &HTTPDebug{TraceID: "trace-abc"},
	})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatalf("expected one line")
	}
	var got Line
	if err := json.Unmarshal(scanner.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.SessionID != "sess-1" || got.HTTPDebug.TraceID != "trace-abc" {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if scanner.Scan() {
		t.Fatalf("expected exactly one line")
	}
}
