package transport

import (
	"testing"
	"time"
)

func TestClientForReusesSameOrigin(t *testing.T) {
	m := NewManager(time.Second, time.Minute)
	defer m.Close()

	c1, err := m.ClientFor("https://api.openai.com/v1")
	if err != nil {
		t.Fatalf("ClientFor: %v", err)
	}
	c2, err := m.ClientFor("https://api.openai.com/v1/responses")
	if err != nil {
		t.Fatalf("ClientFor: %v", err)
	}
	if c1 != c2 {
		t.Fatalf("expected same origin to share a pooled client")
	}
}

func TestClientForDistinctOriginsGetDistinctClients(t *testing.T) {
	m := NewManager(time.Second, time.Minute)
	defer m.Close()

	c1, err := m.ClientFor("https://api.openai.com/v1")
	if err != nil {
		t.Fatalf("ClientFor: %v", err)
	}
	c2, err := m.ClientFor("https://api.anthropic.com/v1")
	if err != nil {
		t.Fatalf("ClientFor: %v", err)
	}
	if c1 == c2 {
		t.Fatalf("expected distinct origins to get distinct pooled clients")
	}
}

func TestClientForRejectsUnparsableURL(t *testing.T) {
	m := NewManager(time.Second, time.Minute)
	defer m.Close()

	if _, err := m.ClientFor("://not-a-url"); err == nil {
		t.Fatalf("expected an error for an unparsable base URL")
	}
}

func TestCleanupEvictsIdleEntries(t *testing.T) {
	m := NewManager(time.Second, time.Millisecond)
	if _, err := m.ClientFor("https://api.openai.com/v1"); err != nil {
		t.Fatalf("ClientFor: %v", err)
	}
	if len(m.entries) != 1 {
		t.Fatalf("expected 1 pooled entry")
	}
	time.Sleep(5 * time.Millisecond)
	m.cleanup()
	if len(m.entries) != 0 {
		t.Fatalf("expected idle entry to be evicted, got %d", len(m.entries))
	}
}
