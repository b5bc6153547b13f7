package rewrite

import (
	"strings"
	"testing"
)

func TestApplyModelRewritePreservesOtherFields(t *testing.T) {
	body := []byte(`{"model":"gpt-5-mini","messages":[{"role":"user","content":"hi"}]}`)
	out, err := Apply(body, "", "openai/gpt-5-mini", true)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if RequestedModel(out) != "openai/gpt-5-mini" {
		t.Fatalf("model not rewritten: %s", out)
	}
	if !strings.Contains(string(out), `"messages":[{"role":"user","content":"hi"}]`) {
		t.Fatalf("messages not preserved: %s", out)
	}
}

func TestApplyEffortOverride(t *testing.T) {
	body := []byte(`{"model":"m","reasoning":{"effort":"low"}}`)
	out, err := Apply(body, "high", "", false)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if RequestedEffort(out) != "high" {
		t.Fatalf("effort not overridden: %s", out)
	}
}

func TestApplyEffortCreatesReasoningObject(t *testing.T) {
	body := []byte(`{"model":"m"}`)
	out, err := Apply(body, "high", "", false)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if RequestedEffort(out) != "high" {
		t.Fatalf("expected reasoning.effort to be created, got %s", out)
	}
}

func TestApplyNoopWhenNothingChanges(t *testing.T) {
	body := []byte(`{"model":"m","reasoning":{"effort":"low"}}`)
	out, err := Apply(body, "low", "", false)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if string(out) != string(body) {
		t.Fatalf("expected no-op when effort already matches, got %s", out)
	}
}
