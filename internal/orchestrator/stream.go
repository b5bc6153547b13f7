package orchestrator

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codex-helper/proxy/internal/config"
	"github.com/codex-helper/proxy/internal/lb"
	"github.com/codex-helper/proxy/internal/usage"
)

// maxCollectBytes bounds how much of a streamed body is retained for SSE
// usage scanning, per spec §4.6's max_collect; the client still receives
// every byte regardless of this cap.
const maxCollectBytes = 1 << 20

// streamOutcome is what relayStream observed, used to finish the request
// and write the log line after the client connection ends.
type streamOutcome struct {
	bytesWritten     int64
	timeToFirstByte  time.Duration
	usage            *usage.Metrics
	transportErrClass string
}

// relayStream implements S5/S6: it has already committed to streaming (the
// status line and headers are written before this is called), and now
// copies resp.Body to w chunk by chunk, feeding each chunk through an
// incremental usage.Scanner. The LB success for this attempt was already
// recorded by the caller before headers were flushed, per spec's "success
// recorded once headers+status are known" resolution for streaming
// responses; relayStream itself only ever records a late transport failure.
func relayStream(w http.ResponseWriter, resp *http.Response, flusher http.Flusher) streamOutcome {
	var out streamOutcome
	var scanner usage.Scanner
	start := time.Now()
	firstByte := true

	buf := make([]byte, 32*1024)
	collected := 0
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if firstByte {
				out.timeToFirstByte = time.Since(start)
				firstByte = false
			}
			chunk := buf[:n]
			if _, werr := w.Write(chunk); werr != nil {
				out.transportErrClass = ClassUpstreamTransportError
				return out
			}
			out.bytesWritten += int64(n)
			if flusher != nil {
				flusher.Flush()
			}
			if collected < maxCollectBytes {
				room := maxCollectBytes - collected
				feed := chunk
				if len(feed) > room {
					feed = feed[:room]
				}
				if m, _, found := scanner.Feed(feed); found {
					mc := m
					out.usage = &mc
				}
				collected += len(feed)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			out.transportErrClass = ClassUpstreamTransportError
			break
		}
	}
	if m, ok := scanner.Final(); ok {
		mc := m
		out.usage = &mc
	}
	return out
}

// isSSEEligible reports whether the client requested SSE and the response
// announces an SSE content-type with a successful status, the S5 gate for
// committing to the streaming path over the buffered one.
func isSSEEligible(acceptsSSE bool, resp *http.Response) bool {
	if !acceptsSSE {
		return false
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}
	ct := resp.Header.Get("Content-Type")
	return len(ct) >= 17 && ct[:17] == "text/event-stream"
}

// recordStreamFailure penalizes the LB after a mid-stream transport error.
// No retry happens: bytes already reached the client, so the only
// remaining action is marking the upstream bad for subsequent requests.
func recordStreamFailure(lbReg *lb.Registry, cfg *config.ServiceConfig, index int, policy config.RetryPolicy) {
	lbReg.RecordResult(cfg, index, false, policy)
	if secs, ok := classCooldownSecs(ClassUpstreamTransportError, policy); ok {
		lbReg.Penalize(cfg, index, secs, ClassUpstreamTransportError)
	}
	slog.Warn("stream transport error after dispatch", "config", cfg.Name, "upstream_index", index)
}
