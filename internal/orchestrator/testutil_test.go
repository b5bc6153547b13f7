package orchestrator

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/codex-helper/proxy/internal/config"
)

func marshalSnapshot(t interface{ Fatalf(string, ...any) }, snap *config.Snapshot) []byte {
	b, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	return b
}

func writeFile(path string, b []byte) error {
	return os.WriteFile(path, b, 0o644)
}

func bodyReader(s string) io.Reader {
	return strings.NewReader(s)
}

func bodyReaderBytes(b []byte) io.Reader {
	return bytes.NewReader(b)
}

func containsString(haystack, needle string) bool {
	return strings.Contains(haystack, needle)
}
