package orchestrator

import (
	"net/http"
	"strings"
)

// hopByHopHeaders are stripped from both the outgoing upstream request and
// (implicitly, by never copying them back) the response, per RFC 7230
// §6.1 plus the request-specific Host/Content-Length and response-specific
// Content-Length/Content-Encoding named explicitly in spec §3's invariants.
var hopByHopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
	"host":                true,
	"content-length":      true,
}

// responseStrippedHeaders are additionally removed from the upstream
// response before it's relayed to the client.
var responseStrippedHeaders = map[string]bool{
	"content-length":   true,
	"content-encoding": true,
	"connection":       true,
	"transfer-encoding": true,
}

// sensitiveHeaders are redacted in debug log entries, grounded on the
// teacher's identity.AllowedHeaders/StrippedHeaders allow/deny-list shape
// in internal/identity/headers.go, inverted here into a redaction denylist
// since this proxy forwards client headers through rather than
// whitelisting them, plus two additions per SPEC_FULL.md §7.
var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"cookie":              true,
	"x-api-key":           true,
	"x-goog-api-key":      true,
	"proxy-authorization": true,
}

// copyForward builds the outbound header set from the client's incoming
// headers, dropping hop-by-hop headers.
func copyForward(src http.Header) http.Header {
	out := make(http.Header, len(src))
	for k, vals := range src {
		if hopByHopHeaders[strings.ToLower(k)] {
			continue
		}
		out[k] = append([]string(nil), vals...)
	}
	return out
}

// copyResponseHeaders builds the headers relayed back to the client from
// the upstream's response headers.
func copyResponseHeaders(dst http.ResponseWriter, src http.Header) {
	h := dst.Header()
	for k, vals := range src {
		lk := strings.ToLower(k)
		if responseStrippedHeaders[lk] || hopByHopHeaders[lk] {
			continue
		}
		for _, v := range vals {
			h.Add(k, v)
		}
	}
}

// redactHeaders returns a loggable copy of h with sensitive values
// replaced, used only when debug header capture is enabled.
func redactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		if sensitiveHeaders[strings.ToLower(k)] {
			out[k] = "[redacted]"
			continue
		}
		out[k] = h.Get(k)
	}
	return out
}
