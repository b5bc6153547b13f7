package usage

import (
	"bytes"
)

// Scanner incrementally extracts UsageMetrics from an SSE byte stream as
// chunks arrive, without needing to see the stream in one piece. It
// advances through complete "\n\n"-delimited frames only, buffering any
// trailing partial frame until the next Feed call completes it.
//
// This has no counterpart in original_source (stream.rs calls a
// scan_usage_from_sse_bytes_incremental that was filtered out of the
// pack); it is designed fresh from the invariant in spec.md §4.6: the last
// usage object observed in the stream is authoritative, and the
// incremental scan must yield the same final result as scanning the
// concatenated stream at once (see extractFrame, shared by both paths).
type Scanner struct {
	buf  []byte
	last *Metrics
}

// Feed appends chunk and scans any newly-completed frames. found reports
// whether at least one usage object was seen in this call; when found,
// m is the *latest* usage observed across all frames scanned so far (not
// just this call), and first reports whether this is the first time any
// usage has been observed by this scanner (useful for a log-once-on-
// first-observation optimization, per spec's design note).
func (s *Scanner) Feed(chunk []byte) (m Metrics, first bool, found bool) {
	s.buf = append(s.buf, chunk...)
	for {
		idx := bytes.Index(s.buf, []byte("\n\n"))
		if idx < 0 {
			break
		}
		frame := s.buf[:idx]
		s.buf = s.buf[idx+2:]

		if fm, ok := extractFrame(frame); ok {
			wasFirst := s.last == nil
			mc := fm
			s.last = &mc
			m, first, found = fm, wasFirst, true
		}
	}
	return
}

// Final returns the last usage observed across the whole stream, or
// ok=false if none was ever seen (the stream ended with usage = None).
func (s *Scanner) Final() (Metrics, bool) {
	if s.last == nil {
		return Metrics{}, false
	}
	return *s.last, true
}

// extractFrame parses one "\n\n"-delimited SSE frame, returning the last
// usage object found among its "data: " lines (a frame may carry more
// than one data line; later ones win, consistent with the stream-level
// last-value-wins rule).
func extractFrame(frame []byte) (Metrics, bool) {
	var last Metrics
	found := false
	for _, line := range bytes.Split(frame, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		payload, ok := cutDataLine(line)
		if !ok {
			continue
		}
		payload = bytes.TrimSpace(payload)
		if len(payload) == 0 || bytes.Equal(payload, []byte("[DONE]")) {
			continue
		}
		if m, ok := FromBytes(payload); ok {
			last, found = m, true
		}
	}
	return last, found
}

func cutDataLine(line []byte) ([]byte, bool) {
	const prefix = "data:"
	if len(line) < len(prefix) || !bytes.EqualFold(line[:len(prefix)], []byte(prefix)) {
		return nil, false
	}
	return line[len(prefix):], true
}

// ExtractFromSSEBytes scans a complete (already-concatenated) SSE body in
// one pass. It must agree with feeding the same bytes through a Scanner in
// arbitrary chunk sizes (see TestIncrementalScanMatchesBatch in usage_test.go), since
// both share extractFrame.
func ExtractFromSSEBytes(body []byte) (Metrics, bool) {
	var s Scanner
	s.Feed(body)
	// A stream not terminated by a trailing "\n\n" still has a complete
	// final frame sitting in s.buf; flush it by feeding one more
	// delimiter so the shared extractFrame path runs over it too.
	if len(s.buf) > 0 {
		s.Feed([]byte("\n\n"))
	}
	return s.Final()
}
