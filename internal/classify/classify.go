// Package classify inspects upstream response headers and bodies to detect
// WAF/edge failures, ported from original_source/src/proxy/classify.rs.
package classify

import (
	"bytes"
	"net/http"
	"strings"
)

// Class tags a short, stable failure category that drives retry/cooldown
// policy. The zero value means "unclassified".
type Class string

const (
	CloudflareTimeout   Class = "cloudflare_timeout"
	CloudflareChallenge Class = "cloudflare_challenge"
)

var challengeMarkers = [][]byte{
	[]byte("__CF$cv$params"),
	[]byte("/cdn-cgi/"),
	[]byte("challenge-platform"),
	[]byte("cf-chl-"),
}

// Result is the outcome of classifying one upstream response.
type Result struct {
	Class Class
	Hint  string
	CfRay string
}

// Response inspects (status, headers, body) in the heuristic order from
// spec §4.3:
//  1. Cf-Ray header, or Server: cloudflare with status 524, → cloudflare_timeout.
//  2. text/html content-type whose body contains a known challenge marker
//     → cloudflare_challenge (even on a 200 status).
//  3. Otherwise unclassified; cf_ray is still surfaced when present.
func Response(status int, headers http.Header, body []byte) Result {
	cfRay := headers.Get("Cf-Ray")

	server := strings.ToLower(headers.Get("Server"))
	if cfRay != "" && status == 524 {
		return Result{Class: CloudflareTimeout, Hint: "cf_ray+524", CfRay: cfRay}
	}
	if strings.Contains(server, "cloudflare") && status == 524 {
		return Result{Class: CloudflareTimeout, Hint: "server_cloudflare+524", CfRay: cfRay}
	}

	contentType := strings.ToLower(headers.Get("Content-Type"))
	if strings.HasPrefix(contentType, "text/html") && containsAnyMarker(body) {
		return Result{Class: CloudflareChallenge, Hint: "html_challenge_marker", CfRay: cfRay}
	}

	return Result{CfRay: cfRay}
}

func containsAnyMarker(body []byte) bool {
	for _, marker := range challengeMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}
