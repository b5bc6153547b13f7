// Package metrics is C14: a small Prometheus registry exposed read-only
// from the control plane. Additive — no spec.md operation depends on it.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codex-helper/proxy/internal/config"
	"github.com/codex-helper/proxy/internal/lb"
)

// Registry holds every collector this proxy exposes plus a reference to
// the live LB registry and config store needed to compute the per-upstream
// gauges on scrape.
type Registry struct {
	reg *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	lbFailureCount    *prometheus.GaugeVec
	lbCooldownSeconds *prometheus.GaugeVec

	lbRegistry *lb.Registry
	cfgStore   *config.Store
}

// New builds a Registry and registers its collectors.
func New(lbRegistry *lb.Registry, cfgStore *config.Store) *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proxy_requests_total",
			Help: "Total proxied requests by service, status and failure class.",
		}, []string{"service", "status", "class"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "proxy_request_duration_seconds",
			Help:    "Request duration in seconds, from admission to response completion.",
			Buckets: prometheus.DefBuckets,
		}, []string{"service"}),
		lbFailureCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "proxy_lb_failure_count",
			Help: "Current consecutive failure count per upstream.",
		}, []string{"config", "upstream_index"}),
		lbCooldownSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "proxy_lb_cooldown_remaining_seconds",
			Help: "Seconds remaining on an upstream's cooldown, 0 if none.",
		}, []string{"config", "upstream_index"}),
		lbRegistry: lbRegistry,
		cfgStore:   cfgStore,
	}
	r.reg.MustRegister(r.requestsTotal, r.requestDuration, r.lbFailureCount, r.lbCooldownSeconds)
	return r
}

// ObserveRequest records one finished request's outcome.
func (r *Registry) ObserveRequest(service, status, class string, durationSeconds float64) {
	r.requestsTotal.WithLabelValues(service, status, class).Inc()
	r.requestDuration.WithLabelValues(service).Observe(durationSeconds)
}

// Handler returns the promhttp handler serving this registry's collectors,
// refreshing the LB gauges from live state just before each scrape.
func (r *Registry) Handler() http.Handler {
	inner := promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.refreshLBGauges()
		inner.ServeHTTP(w, req)
	})
}

func (r *Registry) refreshLBGauges() {
	if r.lbRegistry == nil || r.cfgStore == nil {
		return
	}
	snap := r.cfgStore.Current()
	if snap == nil {
		return
	}
	r.lbFailureCount.Reset()
	r.lbCooldownSeconds.Reset()
	for _, mgr := range []config.Manager{snap.Codex, snap.Claude} {
		for name, cfg := range mgr.Configs {
			counts, cooldowns := r.lbRegistry.Snapshot(name, len(cfg.Upstreams))
			for i := range counts {
				idx := strconv.Itoa(i)
				r.lbFailureCount.WithLabelValues(name, idx).Set(float64(counts[i]))
				r.lbCooldownSeconds.WithLabelValues(name, idx).Set(cooldowns[i])
			}
		}
	}
}
