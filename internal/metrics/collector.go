package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hewenhao2008/dispatch-ng/internal/address"
	"github.com/hewenhao2008/dispatch-ng/internal/balancer"
)

// interfaceCollector exports each configured outgoing interface's in_use count at scrape
// time, rather than updating a gauge on every Acquire/Release — the balancer is the
// source of truth and is cheap to snapshot.
type interfaceCollector struct {
	bal  *balancer.Manager
	desc *prometheus.Desc
}

func newInterfaceCollector(bal *balancer.Manager) *interfaceCollector {
	return &interfaceCollector{
		bal: bal,
		desc: prometheus.NewDesc(
			"dispatch_ng_interface_in_use",
			"Current number of sessions holding this outgoing interface.",
			[]string{"address", "family", "metric"}, nil,
		),
	}
}

func (c *interfaceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *interfaceCollector) Collect(ch chan<- prometheus.Metric) {
	for _, iface := range c.bal.Snapshot() {
		ch <- prometheus.MustNewConstMetric(
			c.desc, prometheus.GaugeValue, float64(iface.InUse()),
			address.HostToString(iface.Addr()), iface.Family().String(), strconv.FormatUint(uint64(iface.Metric()), 10),
		)
	}
}
