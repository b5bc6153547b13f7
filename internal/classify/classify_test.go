package classify

import (
	"net/http"
	"testing"
)

func TestResponseCloudflareTimeoutByCfRay(t *testing.T) {
	h := http.Header{"Cf-Ray": []string{"abc123"}}
	r := Response(524, h, nil)
	if r.Class != CloudflareTimeout {
		t.Fatalf("expected cloudflare_timeout, got %q", r.Class)
	}
}

func TestResponseCloudflareTimeoutByServerHeader(t *testing.T) {
	h := http.Header{"Server": []string{"cloudflare"}}
	r := Response(524, h, nil)
	if r.Class != CloudflareTimeout {
		t.Fatalf("expected cloudflare_timeout, got %q", r.Class)
	}
}

func TestResponseCloudflareTimeoutByServerHeaderSubstring(t *testing.T) {
	h := http.Header{"Server": []string{"cloudflare-nginx"}}
	r := Response(524, h, nil)
	if r.Class != CloudflareTimeout {
		t.Fatalf("expected cloudflare_timeout for a Server header merely containing cloudflare, got %q", r.Class)
	}
}

func TestResponseCloudflareChallengeEvenOn200(t *testing.T) {
	h := http.Header{"Content-Type": []string{"text/html; charset=utf-8"}}
	body := []byte(`<html><script>window.__CF$cv$params={}</script></html>`)
	r := Response(200, h, body)
	if r.Class != CloudflareChallenge {
		t.Fatalf("expected cloudflare_challenge, got %q", r.Class)
	}
}

func TestResponseUnclassifiedStillReturnsCfRay(t *testing.T) {
	h := http.Header{"Cf-Ray": []string{"xyz"}}
	r := Response(200, h, []byte(`{"ok":true}`))
	if r.Class != "" {
		t.Fatalf("expected unclassified, got %q", r.Class)
	}
	if r.CfRay != "xyz" {
		t.Fatalf("expected cf_ray to be surfaced, got %q", r.CfRay)
	}
}

func TestResponseHTMLWithoutMarkerIsUnclassified(t *testing.T) {
	h := http.Header{"Content-Type": []string{"text/html"}}
	r := Response(200, h, []byte(`<html>hello</html>`))
	if r.Class != "" {
		t.Fatalf("expected unclassified, got %q", r.Class)
	}
}
