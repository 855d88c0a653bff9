package tracking

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the tracking subsystem's Prometheus instruments on a
// private registry so the /metrics endpoint exposes only these.
type Collector struct {
	reg *prometheus.Registry

	ReportsIngested prometheus.Counter
	ReportsRejected prometheus.Counter

	EventsDelivered prometheus.Counter
	EventsDropped   prometheus.Counter

	PersistFailures prometheus.Counter

	ETAQueries prometheus.Counter

	ActiveConnections   prometheus.Gauge
	ActiveSubscriptions prometheus.Gauge
	ActiveTopics        prometheus.Gauge

	TrackedVehicles prometheus.Gauge
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ReportsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustrack_location_reports_total",
			Help: "Total location reports accepted into the store.",
		}),
		ReportsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustrack_location_reports_rejected_total",
			Help: "Total location reports rejected before any state change.",
		}),
		EventsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustrack_events_delivered_total",
			Help: "Total live events handed to subscriber send buffers.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustrack_events_dropped_total",
			Help: "Total live events dropped because a subscriber buffer was full.",
		}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustrack_sample_persist_failures_total",
			Help: "Total failures writing location samples to the database.",
		}),
		ETAQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustrack_eta_queries_total",
			Help: "Total arrival estimates computed.",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bustrack_active_connections",
			Help: "Number of live websocket connections.",
		}),
		ActiveSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bustrack_active_subscriptions",
			Help: "Number of connection-topic subscription pairs.",
		}),
		ActiveTopics: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bustrack_active_topics",
			Help: "Number of topics with at least one subscriber.",
		}),
		TrackedVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bustrack_tracked_vehicles",
			Help: "Number of vehicles with at least one stored sample.",
		}),
	}

	reg.MustRegister(
		c.ReportsIngested, c.ReportsRejected,
		c.EventsDelivered, c.EventsDropped,
		c.PersistFailures, c.ETAQueries,
		c.ActiveConnections, c.ActiveSubscriptions, c.ActiveTopics,
		c.TrackedVehicles,
	)

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }
