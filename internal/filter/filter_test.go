package filter

import (
	"os"
	"path/filepath"
	"testing"
)

func writeRules(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "filter.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	return path
}

func TestApplyReplaceLiteral(t *testing.T) {
	path := writeRules(t, `{"op":"replace","source":"foo","target":"bar"}`)
	f := New(path)
	out := f.Apply([]byte("hello foo world"))
	if string(out) != "hello bar world" {
		t.Fatalf("got %q", out)
	}
}

func TestApplyRemoveArray(t *testing.T) {
	path := writeRules(t, `[{"op":"remove","source":"secret-"},{"op":"replace","source":"a","target":"b"}]`)
	f := New(path)
	out := f.Apply([]byte("secret-abc"))
	if string(out) != "bbc" {
		t.Fatalf("got %q", out)
	}
}

func TestApplyRegexReplace(t *testing.T) {
	path := writeRules(t, `{"op":"replace","source":"[0-9]+","target":"#"}`)
	f := New(path)
	out := f.Apply([]byte("id123 id456"))
	if string(out) != "id# id#" {
		t.Fatalf("got %q", out)
	}
}

func TestParseFailureClearsRulesAndRemembersMtime(t *testing.T) {
	path := writeRules(t, `not json`)
	f := New(path)
	out := f.Apply([]byte("unchanged"))
	if string(out) != "unchanged" {
		t.Fatalf("expected no-op on parse failure, got %q", out)
	}
	if f.lastMtime == 0 {
		t.Fatalf("expected mtime to be remembered even on parse failure")
	}
}

func TestNoRulesFileLeavesBodyUnchanged(t *testing.T) {
	f := New(filepath.Join(t.TempDir(), "does-not-exist.json"))
	out := f.Apply([]byte("unchanged"))
	if string(out) != "unchanged" {
		t.Fatalf("got %q", out)
	}
}
