package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RuntimeStats provides the metrics collector access to live service state.
type RuntimeStats interface {
	SessionCount() int
	ProcessingCount() int
	EngineInstances() int
	EngineReady() bool
	SSESubscriberCount() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	stats RuntimeStats

	activeSessions     *prometheus.Desc
	processingSessions *prometheus.Desc
	engineInstances    *prometheus.Desc
	engineReady        *prometheus.Desc
	sseSubscribers     *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// stats may be nil (all gauges report 0).
func NewCollector(stats RuntimeStats) *Collector {
	return &Collector{
		stats: stats,
		activeSessions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sessions_active"),
			"Current number of open browser sessions.",
			nil, nil,
		),
		processingSessions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sessions_processing"),
			"Sessions currently running the processing chain.",
			nil, nil,
		),
		engineInstances: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "engine", "instances"),
			"Live transcoder instances held by sessions.",
			nil, nil,
		),
		engineReady: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "engine", "ready"),
			"1 if ffmpeg and ffprobe have been initialized.",
			nil, nil,
		),
		sseSubscribers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sse_subscribers_active"),
			"Current number of SSE subscribers.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeSessions
	ch <- c.processingSessions
	ch <- c.engineInstances
	ch <- c.engineReady
	ch <- c.sseSubscribers
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var sessions, processing, instances, subs, ready float64
	if c.stats != nil {
		sessions = float64(c.stats.SessionCount())
		processing = float64(c.stats.ProcessingCount())
		instances = float64(c.stats.EngineInstances())
		subs = float64(c.stats.SSESubscriberCount())
		if c.stats.EngineReady() {
			ready = 1
		}
	}
	ch <- prometheus.MustNewConstMetric(c.activeSessions, prometheus.GaugeValue, sessions)
	ch <- prometheus.MustNewConstMetric(c.processingSessions, prometheus.GaugeValue, processing)
	ch <- prometheus.MustNewConstMetric(c.engineInstances, prometheus.GaugeValue, instances)
	ch <- prometheus.MustNewConstMetric(c.engineReady, prometheus.GaugeValue, ready)
	ch <- prometheus.MustNewConstMetric(c.sseSubscribers, prometheus.GaugeValue, subs)
}
