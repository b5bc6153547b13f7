package usage

import (
	"math/rand"
	"testing"
)

func TestFromBytesTopLevelUsage(t *testing.T) {
	body := []byte(`{"usage":{"input_tokens":10,"output_tokens":20,"output_tokens_details":{"reasoning_tokens":5}}}`)
	m, ok := FromBytes(body)
	if !ok {
		t.Fatal("expected usage to be found")
	}
	want := Metrics{InputTokens: 10, OutputTokens: 20, ReasoningTokens: 5, TotalTokens: 30}
	if m != want {
		t.Fatalf("got %+v, want %+v", m, want)
	}
}

func TestFromBytesNestedResponseUsage(t *testing.T) {
	body := []byte(`{"response":{"usage":{"input_tokens":10,"output_tokens":20,"output_tokens_details":{"reasoning_tokens":5}}}}`)
	m, ok := FromBytes(body)
	if !ok {
		t.Fatal("expected nested usage to be found")
	}
	if m.TotalTokens != 30 {
		t.Fatalf("total should default to input+output, got %d", m.TotalTokens)
	}
}

func TestFromBytesNoUsage(t *testing.T) {
	if _, ok := FromBytes([]byte(`{"ok":true}`)); ok {
		t.Fatal("expected no usage")
	}
}

func TestExtractFromSSEBytesLastValueWins(t *testing.T) {
	sse := "data: {\"response\":{\"usage\":{\"input_tokens\":1,\"output_tokens\":1}}}\n\n" +
		"data: {\"response\":{\"usage\":{\"input_tokens\":10,\"output_tokens\":20,\"output_tokens_details\":{\"reasoning_tokens\":5}}}}\n\n"
	m, ok := ExtractFromSSEBytes([]byte(sse))
	if !ok {
		t.Fatal("expected usage")
	}
	want := Metrics{InputTokens: 10, OutputTokens: 20, ReasoningTokens: 5, TotalTokens: 30}
	if m != want {
		t.Fatalf("got %+v, want %+v (last frame should win)", m, want)
	}
}

func TestIncrementalScanMatchesBatch(t *testing.T) {
	sse := "data: {\"usage\":{\"input_tokens\":1,\"output_tokens\":2}}\n\n" +
		"event: ping\ndata: {}\n\n" +
		"data: {\"usage\":{\"input_tokens\":10,\"output_tokens\":20}}\n\n"
	batch, batchOK := ExtractFromSSEBytes([]byte(sse))

	rng := rand.New(rand.NewSource(1))
	var s Scanner
	buf := []byte(sse)
	for len(buf) > 0 {
		n := 1 + rng.Intn(len(buf))
		s.Feed(buf[:n])
		buf = buf[n:]
	}
	incremental, incOK := s.Final()

	if batchOK != incOK || batch != incremental {
		t.Fatalf("incremental scan diverged from batch: batch=%+v(%v) incremental=%+v(%v)", batch, batchOK, incremental, incOK)
	}
}

func TestScannerEmitsOnFirstObservation(t *testing.T) {
	var s Scanner
	_, _, found := s.Feed([]byte("event: ping\ndata: {}\n\n"))
	if found {
		t.Fatal("a frame without a usage object should not count as found")
	}
	m, first, found := s.Feed([]byte("data: {\"usage\":{\"input_tokens\":1,\"output_tokens\":1}}\n\n"))
	if !found || !first {
		t.Fatalf("expected first observation, got found=%v first=%v", found, first)
	}
	if m.TotalTokens != 2 {
		t.Fatalf("unexpected total: %+v", m)
	}
	_, second, found := s.Feed([]byte("data: {\"usage\":{\"input_tokens\":5,\"output_tokens\":5}}\n\n"))
	if !found || second {
		t.Fatalf("second observation should not report first=true, got found=%v first=%v", found, second)
	}
}
