package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/home-awareness/internal/bus"
)

const namespace = "homeaware"

// StatsSource reports the event bus dispatch counters.
type StatsSource interface {
	Stats() bus.Stats
}

// OccupancySource reports how many tracked users are home.
type OccupancySource interface {
	Occupancy() int
}

// BusCollector turns a bus.Stats snapshot into Prometheus samples on every
// scrape.
type BusCollector struct {
	source StatsSource

	published      *prometheus.Desc
	unhandled      *prometheus.Desc
	invoked        *prometheus.Desc
	inlineFailures *prometheus.Desc
	scheduled      *prometheus.Desc
	taskFailures   *prometheus.Desc
	dropped        *prometheus.Desc
	faults         *prometheus.Desc
	pending        *prometheus.Desc
	events         *prometheus.Desc
	handlers       *prometheus.Desc
}

// NewBusCollector creates a collector reading from source.
func NewBusCollector(source StatsSource) *BusCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "bus", name), help, nil, nil)
	}
	return &BusCollector{
		source:         source,
		published:      desc("published_total", "Total number of events published, including error reports"),
		unhandled:      desc("unhandled_total", "Total number of publishes that reached no handler"),
		invoked:        desc("handler_invocations_total", "Total number of handler invocations"),
		inlineFailures: desc("inline_failures_total", "Total number of handlers that failed inline"),
		scheduled:      desc("tasks_scheduled_total", "Total number of deferred tasks handed to the scheduler"),
		taskFailures:   desc("task_failures_total", "Total number of deferred tasks that failed"),
		dropped:        desc("dropped_errors_total", "Total number of error handler failures that were only logged"),
		faults:         desc("faults_total", "Total number of deferred failures with no error handler"),
		pending:        desc("tasks_pending", "Number of deferred tasks still running"),
		events:         desc("events", "Number of event names with at least one subscriber"),
		handlers:       desc("handlers", "Number of live handlers"),
	}
}

// Describe implements prometheus.Collector.
func (c *BusCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.published, c.unhandled, c.invoked, c.inlineFailures, c.scheduled,
		c.taskFailures, c.dropped, c.faults, c.pending, c.events, c.handlers,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *BusCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()

	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}

	counter(c.published, s.Published)
	counter(c.unhandled, s.Unhandled)
	counter(c.invoked, s.Invoked)
	counter(c.inlineFailures, s.InlineFailures)
	counter(c.scheduled, s.Scheduled)
	counter(c.taskFailures, s.TaskFailures)
	counter(c.dropped, s.Dropped)
	counter(c.faults, s.Faults)
	gauge(c.pending, float64(s.PendingTasks))
	gauge(c.events, float64(s.Events))
	gauge(c.handlers, float64(s.Handlers))
}

// NewOccupancyGauge reports the tracker's occupancy at scrape time.
func NewOccupancyGauge(source OccupancySource) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "occupancy",
			Help:      "Number of tracked users currently home",
		},
		func() float64 { return float64(source.Occupancy()) },
	)
}

// NewRegistry builds a registry holding the Go runtime and process
// collectors plus the hub collectors for whichever sources are non-nil.
func NewRegistry(stats StatsSource, occupancy OccupancySource) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if stats != nil {
		reg.MustRegister(NewBusCollector(stats))
	}
	if occupancy != nil {
		reg.MustRegister(NewOccupancyGauge(occupancy))
	}
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
