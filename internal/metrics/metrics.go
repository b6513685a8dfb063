// Package metrics exposes Prometheus counters for sign-in and calendar activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records service metrics on a caller-supplied registry.
type Collector struct {
	linksRequested   prometheus.Counter
	signIns          *prometheus.CounterVec
	mutations        *prometheus.CounterVec
	conflicts        prometheus.Counter
	watchers         prometheus.Gauge
	rateLimited      prometheus.Counter
	cleanupDeletions *prometheus.CounterVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		linksRequested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calshare_signin_links_requested_total",
			Help: "Sign-in links issued.",
		}),
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calshare_signin_completions_total",
			Help: "Sign-in completion attempts by outcome.",
		}, []string{"outcome"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calshare_calendar_mutations_total",
			Help: "Successful calendar writes by operation.",
		}, []string{"op"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calshare_calendar_conflicts_total",
			Help: "Calendar writes rejected by a stale version and retried.",
		}),
		watchers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "calshare_calendar_watchers",
			Help: "Live calendar list subscriptions.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calshare_rate_limited_total",
			Help: "Requests rejected by the per-client rate limiter.",
		}),
		cleanupDeletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calshare_cleanup_deleted_total",
			Help: "Expired rows removed by the cleanup job.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.linksRequested,
		c.signIns,
		c.mutations,
		c.conflicts,
		c.watchers,
		c.rateLimited,
		c.cleanupDeletions,
	)
	return c
}

func (c *Collector) LinkRequested() { c.linksRequested.Inc() }

// SignIn records a completion attempt; outcome is "ok" or a short error class.
func (c *Collector) SignIn(outcome string) { c.signIns.WithLabelValues(outcome).Inc() }

func (c *Collector) Mutation(op string) { c.mutations.WithLabelValues(op).Inc() }

func (c *Collector) Conflict() { c.conflicts.Inc() }

func (c *Collector) WatcherAdded() { c.watchers.Inc() }

func (c *Collector) WatcherRemoved() { c.watchers.Dec() }

func (c *Collector) RateLimited() { c.rateLimited.Inc() }

func (c *Collector) CleanupDeleted(kind string, n int64) {
	c.cleanupDeletions.WithLabelValues(kind).Add(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
