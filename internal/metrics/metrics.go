// Package metrics exposes the dispatcher's counters and gauges over Prometheus, served
// on an address only opened when the operator asks for one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hewenhao2008/dispatch-ng/internal/balancer"
)

// Recorder implements session.Recorder, exporting session lifecycle and relay throughput
// as Prometheus metrics.
type Recorder struct {
	reg *prometheus.Registry

	sessionsOpened  prometheus.Counter
	sessionsClosed  *prometheus.CounterVec
	sessionsCurrent prometheus.Gauge
	bytesRelayed    prometheus.Counter
}

// New registers every dispatcher metric on a fresh registry and returns the Recorder used
// to update them. bal, if non-nil, is polled at scrape time for per-interface in_use
// gauges.
func New(bal *balancer.Manager) *Recorder {
	reg := prometheus.NewRegistry()

	r := &Recorder{
		reg: reg,
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dispatch_ng",
			Name:      "sessions_opened_total",
			Help:      "Number of inbound SOCKS5 sessions accepted.",
		}),
		sessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch_ng",
			Name:      "sessions_closed_total",
			Help:      "Number of sessions closed, partitioned by outcome.",
		}, []string{"outcome"}),
		sessionsCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dispatch_ng",
			Name:      "sessions_active",
			Help:      "Number of sessions currently open.",
		}),
		bytesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dispatch_ng",
			Name:      "bytes_relayed_total",
			Help:      "Total bytes copied across both relay directions.",
		}),
	}

	reg.MustRegister(r.sessionsOpened, r.sessionsClosed, r.sessionsCurrent, r.bytesRelayed)

	if bal != nil {
		reg.MustRegister(newInterfaceCollector(bal))
	}

	return r
}

// SessionOpened implements session.Recorder.
func (r *Recorder) SessionOpened() {
	r.sessionsOpened.Inc()
	r.sessionsCurrent.Inc()
}

// SessionClosed implements session.Recorder.
func (r *Recorder) SessionClosed(outcome string) {
	r.sessionsClosed.WithLabelValues(outcome).Inc()
	r.sessionsCurrent.Dec()
}

// BytesRelayed implements session.Recorder.
func (r *Recorder) BytesRelayed(n int) {
	r.bytesRelayed.Add(float64(n))
}

// Handler returns the HTTP handler to mount at the configured metrics address.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
