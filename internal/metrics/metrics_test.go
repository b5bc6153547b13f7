package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/codex-helper/proxy/internal/lb"
)

func TestObserveRequestAndScrapeExposesCounter(t *testing.T) {
	reg := New(lb.NewRegistry(), nil)
	reg.ObserveRequest("codex", "200", "", 0.05)

	req := httptest.NewRequest("GET", "/__internal/metrics", nil)
	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, `proxy_requests_total{class="",service="codex",status="200"} 1`) {
		t.Fatalf("expected requests_total counter in scrape output, got:\n%s", body)
	}
}
