// Package transport pools *http.Client instances per upstream origin,
// adapted from the teacher's internal/transport (which pooled per
// *account.Account with a utls/SOCKS5 dial path). This rendition drops the
// TLS-fingerprint spoofing and proxy dialers entirely — no component in
// this spec calls for mimicking a specific browser's TLS handshake — and
// keys pooling by the upstream base URL's origin (scheme://host) instead, since upstream identity here
// is a configured endpoint, not an authenticated account.
package transport

import (
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/http2"
)

// poolEntry is one cached client plus its last-used stamp for idle
// eviction, ported from the teacher's pool.go poolEntry.
type poolEntry struct {
	client     *http.Client
	transport  *http.Transport
	lastUsedAt time.Time
}

// Manager pools one *http.Client per upstream origin (scheme://host[:port]),
// each configured for HTTP/2 over TLS via http2.ConfigureTransport with a
// transparent fallback to HTTP/1.1, matching what a direct (non-proxied)
// upstream connection needs without the teacher's utls fingerprinting.
type Manager struct {
	mu             sync.Mutex
	entries        map[string]*poolEntry
	requestTimeout time.Duration
	idleTimeout    time.Duration
}

// NewManager returns a Manager whose clients time out a single request
// after requestTimeout and whose idle transports are evicted after
// idleTimeout of disuse.
func NewManager(requestTimeout, idleTimeout time.Duration) *Manager {
	if requestTimeout <= 0 {
		requestTimeout = 5 * time.Minute
	}
	if idleTimeout <= 0 {
		idleTimeout = 10 * time.Minute
	}
	return &Manager{
		entries:        make(map[string]*poolEntry),
		requestTimeout: requestTimeout,
		idleTimeout:    idleTimeout,
	}
}

// ClientFor returns the pooled *http.Client for baseURL's origin, building
// one on first use.
func (m *Manager) ClientFor(baseURL string) (*http.Client, error) {
	key, err := originKey(baseURL)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		e.lastUsedAt = time.Now()
		return e.client, nil
	}

	rt, err := buildRoundTripper()
	if err != nil {
		return nil, err
	}
	client := &http.Client{
		Transport: rt,
		Timeout:   m.requestTimeout,
		// Redirects are the upstream's concern; the proxy relays the
		// response it got, it does not follow redirects on the client's
		// behalf.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	m.entries[key] = &poolEntry{client: client, transport: rt, lastUsedAt: time.Now()}
	return client, nil
}

func originKey(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	return u.Scheme + "://" + u.Host, nil
}

// buildRoundTripper constructs a plain *http.Transport and upgrades it for
// HTTP/2-over-TLS via http2.ConfigureTransport; upstreams that don't
// negotiate h2 transparently fall back to HTTP/1.1 on the same transport.
func buildRoundTripper() (*http.Transport, error) {
	t := &http.Transport{
		Proxy: nil,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if err := http2.ConfigureTransport(t); err != nil {
		slog.Warn("transport: http2.ConfigureTransport failed, continuing HTTP/1.1-only", "error", err)
	}
	return t, nil
}

// RunCleanup evicts transports idle longer than m.idleTimeout every
// interval, mirroring the teacher's pool.RunCleanup shape.
func (m *Manager) RunCleanup(stop <-chan struct{}, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			m.cleanup()
		}
	}
}

func (m *Manager) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for key, e := range m.entries {
		if now.Sub(e.lastUsedAt) > m.idleTimeout {
			e.transport.CloseIdleConnections()
			delete(m.entries, key)
		}
	}
}

// Close releases every pooled transport's idle connections.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.entries {
		e.transport.CloseIdleConnections()
		delete(m.entries, key)
	}
}
