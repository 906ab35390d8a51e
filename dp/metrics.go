package dp

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats is the cumulative counter set attached to every datapath, with
// aggregate received-packet/byte totals alongside the hit/miss/lost
// counts.
type Stats struct {
	Hits     uint64
	Misses   uint64
	Lost     uint64
	RxPackets uint64
	RxBytes  uint64
}

// counters holds Stats as atomics so the ingress path (which may run on
// the worker thread while control operations read Stats concurrently in
// threaded mode) never needs flowMu just to bump a counter.
type counters struct {
	hits, misses, lost     atomic.Uint64
	rxPackets, rxBytes     atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Lost:      c.lost.Load(),
		RxPackets: c.rxPackets.Load(),
		RxBytes:   c.rxBytes.Load(),
	}
}

// Collector adapts a Datapath's counters to prometheus.Collector, the way
// kube-ovn exposes its controller-internal counters: one Desc per
// metric, with hits, misses, lost and received bytes reported as counter
// values and the flow count and ring depths as gauges. RxPackets is not
// exported.
type Collector struct {
	dp *Datapath
}

// NewCollector wraps dp for registration with a prometheus.Registry.
func NewCollector(dp *Datapath) *Collector {
	return &Collector{dp: dp}
}

var (
	hitsDesc   = prometheus.NewDesc("datapath_hits_total", "Packets matched in the flow table.", []string{"datapath"}, nil)
	missesDesc = prometheus.NewDesc("datapath_misses_total", "Packets that missed the flow table.", []string{"datapath"}, nil)
	lostDesc   = prometheus.NewDesc("datapath_lost_total", "Packets dropped on upcall queue overflow.", []string{"datapath"}, nil)
	rxBytesDesc = prometheus.NewDesc("datapath_rx_bytes_total", "Bytes received across all ports.", []string{"datapath"}, nil)
	flowsDesc  = prometheus.NewDesc("datapath_flows", "Current flow table entry count.", []string{"datapath"}, nil)
	queueDesc  = prometheus.NewDesc("datapath_upcall_queue_depth", "Current upcall ring depth.", []string{"datapath", "ring"}, nil)
)

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- hitsDesc
	ch <- missesDesc
	ch <- lostDesc
	ch <- rxBytesDesc
	ch <- flowsDesc
	ch <- queueDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	name := c.dp.Name()
	st := c.dp.Stats()
	ch <- prometheus.MustNewConstMetric(hitsDesc, prometheus.CounterValue, float64(st.Hits), name)
	ch <- prometheus.MustNewConstMetric(missesDesc, prometheus.CounterValue, float64(st.Misses), name)
	ch <- prometheus.MustNewConstMetric(lostDesc, prometheus.CounterValue, float64(st.Lost), name)
	ch <- prometheus.MustNewConstMetric(rxBytesDesc, prometheus.CounterValue, float64(st.RxBytes), name)

	c.dp.withFlowTableRLock(func(t *FlowTable) {
		ch <- prometheus.MustNewConstMetric(flowsDesc, prometheus.GaugeValue, float64(t.Len()), name)
	})
	c.dp.withFlowTableRLock(func(_ *FlowTable) {
		for i, r := range c.dp.queues.rings {
			ch <- prometheus.MustNewConstMetric(queueDesc, prometheus.GaugeValue, float64(r.len()), name, ringName(i))
		}
	})
}

func ringName(i int) string {
	if i == 0 {
		return "miss"
	}
	return "userspace"
}
