package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "kds"

var prepBuckets = []float64{30, 60, 120, 240, 300, 480, 600, 900, 1200, 1800, 2700, 3600}

type instruments struct {
	toInProgress *prometheus.HistogramVec
	toReady      *prometheus.HistogramVec
	toBump       *prometheus.HistogramVec
	bumps        *prometheus.CounterVec
	sinkFailures prometheus.Counter
	station      *stationCollector
	hubFuncs     []prometheus.Collector
}

func newInstruments(a *Aggregator) *instruments {
	c := &instruments{
		toInProgress: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ticket_time_to_in_progress_seconds",
			Help:      "Time from ticket creation until a cook starts it.",
			Buckets:   prepBuckets,
		}, []string{"station"}),
		toReady: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ticket_time_to_ready_seconds",
			Help:      "Time from ticket creation until it is marked ready.",
			Buckets:   prepBuckets,
		}, []string{"station"}),
		toBump: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ticket_time_to_bump_seconds",
			Help:      "Time from ticket creation until it leaves the station.",
			Buckets:   prepBuckets,
		}, []string{"station"}),
		bumps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_bumped_total",
			Help:      "Tickets bumped per station.",
		}, []string{"station"}),
		sinkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timing_sink_failures_total",
			Help:      "Failed attempts to persist ticket timings.",
		}),
		station: &stationCollector{
			agg: a,
			load: prometheus.NewDesc(prometheus.BuildFQName(namespace, "station", "load"),
				"Active tickets on a station.", []string{"station"}, nil),
			throughput: prometheus.NewDesc(prometheus.BuildFQName(namespace, "station", "throughput"),
				"Tickets bumped within the rolling window.", []string{"station"}, nil),
		},
	}

	if a.source != nil {
		stats := a.source.Stats
		c.hubFuncs = []prometheus.Collector{
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace, Subsystem: "hub", Name: "subscribers",
				Help: "Connected display subscriptions.",
			}, func() float64 { return float64(stats().Subscribers) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: namespace, Subsystem: "hub", Name: "events_appended_total",
				Help: "Events appended to station logs.",
			}, func() float64 { return float64(stats().Appended) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: namespace, Subsystem: "hub", Name: "overflows_total",
				Help: "Subscriber queues dropped for falling behind.",
			}, func() float64 { return float64(stats().Overflows) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: namespace, Subsystem: "hub", Name: "resyncs_total",
				Help: "Snapshots sent in place of a replay.",
			}, func() float64 { return float64(stats().Resyncs) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: namespace, Subsystem: "hub", Name: "reaped_total",
				Help: "Subscriptions closed for missing heartbeats.",
			}, func() float64 { return float64(stats().Reaped) }),
		}
	}
	return c
}

func (c *instruments) register(reg *prometheus.Registry) {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.toInProgress, c.toReady, c.toBump,
		c.bumps, c.sinkFailures, c.station,
	)
	reg.MustRegister(c.hubFuncs...)
}

func (c *instruments) observe(h *prometheus.HistogramVec, station string, d time.Duration) {
	if d < 0 {
		return
	}
	h.WithLabelValues(station).Observe(d.Seconds())
}

// stationCollector reads load and throughput at scrape time.
type stationCollector struct {
	agg        *Aggregator
	load       *prometheus.Desc
	throughput *prometheus.Desc
}

func (s *stationCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- s.load
	ch <- s.throughput
}

func (s *stationCollector) Collect(ch chan<- prometheus.Metric) {
	for _, st := range s.agg.Stations() {
		ch <- prometheus.MustNewConstMetric(s.load, prometheus.GaugeValue, float64(st.Load), st.StationID)
		ch <- prometheus.MustNewConstMetric(s.throughput, prometheus.GaugeValue, float64(st.Throughput), st.StationID)
	}
}
