package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the Prometheus instruments for the ingestion core.
type Collector struct {
	reg *prometheus.Registry

	ReportsReceived prometheus.Counter
	ReportsAccepted prometheus.Counter
	ReportsSuspect  prometheus.Counter
	ReportsRejected *prometheus.CounterVec // reason label

	AlertsEmitted    *prometheus.CounterVec // type label
	AlertsDeduped    prometheus.Counter
	AlertPublishErrs prometheus.Counter

	TripsOpened     prometheus.Counter
	TripsClosed     prometheus.Counter
	TripsRecovered  prometheus.Counter
	TripDeadLetters prometheus.Counter
	TripQueueDepth  prometheus.Gauge

	HistoryWritten     prometheus.Counter
	HistoryDeadLetters prometheus.Counter
	HistoryQueueDepth  prometheus.Gauge

	StateUpserts    prometheus.Counter
	StateUpsertErrs prometheus.Counter

	GeofenceReloads    prometheus.Counter
	GeofenceReloadErrs prometheus.Counter
	GeofencesIndexed   prometheus.Gauge

	VehiclesOffline prometheus.Counter

	ProcessDuration prometheus.Histogram
}

// NewCollector builds and registers all instruments on a private registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ReportsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_reports_received_total",
			Help: "Total position reports received from the uplink.",
		}),
		ReportsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_reports_accepted_total",
			Help: "Total reports accepted by validation.",
		}),
		ReportsSuspect: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_reports_suspect_total",
			Help: "Total reports accepted with the suspect flag (implausible jump).",
		}),
		ReportsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_reports_rejected_total",
			Help: "Total reports rejected by validation.",
		}, []string{"reason"}),
		AlertsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_alerts_emitted_total",
			Help: "Total alerts emitted, by type.",
		}, []string{"type"}),
		AlertsDeduped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_alerts_deduped_total",
			Help: "Total alert emissions suppressed by the fingerprint store.",
		}),
		AlertPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_alert_publish_errors_total",
			Help: "Total alert publish attempts that failed after retries.",
		}),
		TripsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_trips_opened_total",
			Help: "Total trips opened.",
		}),
		TripsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_trips_closed_total",
			Help: "Total trips closed normally.",
		}),
		TripsRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_trips_recovered_total",
			Help: "Total stale trips closed by the recovery sweep.",
		}),
		TripDeadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_trip_dead_letters_total",
			Help: "Total trip rows dropped after exhausting write retries.",
		}),
		TripQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_trip_queue_depth",
			Help: "Current depth of the trip write queue.",
		}),
		HistoryWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_history_written_total",
			Help: "Total location history rows written.",
		}),
		HistoryDeadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_history_dead_letters_total",
			Help: "Total history rows dropped after exhausting write retries.",
		}),
		HistoryQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_history_queue_depth",
			Help: "Current depth of the history write queue.",
		}),
		StateUpserts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_state_upserts_total",
			Help: "Total current-state upserts.",
		}),
		StateUpsertErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_state_upsert_errors_total",
			Help: "Total current-state upsert failures.",
		}),
		GeofenceReloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_geofence_reloads_total",
			Help: "Total successful geofence index rebuilds.",
		}),
		GeofenceReloadErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_geofence_reload_errors_total",
			Help: "Total geofence reloads that failed and kept the previous index.",
		}),
		GeofencesIndexed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_geofences_indexed",
			Help: "Number of geofences in the installed index.",
		}),
		VehiclesOffline: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_vehicles_offline_total",
			Help: "Total offline transitions detected by the sweep.",
		}),
		ProcessDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingest_process_duration_seconds",
			Help:    "Duration of end-to-end report processing.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
	}

	reg.MustRegister(
		c.ReportsReceived, c.ReportsAccepted, c.ReportsSuspect, c.ReportsRejected,
		c.AlertsEmitted, c.AlertsDeduped, c.AlertPublishErrs,
		c.TripsOpened, c.TripsClosed, c.TripsRecovered,
		c.TripDeadLetters, c.TripQueueDepth,
		c.HistoryWritten, c.HistoryDeadLetters, c.HistoryQueueDepth,
		c.StateUpserts, c.StateUpsertErrs,
		c.GeofenceReloads, c.GeofenceReloadErrs, c.GeofencesIndexed,
		c.VehiclesOffline, c.ProcessDuration,
	)

	return c
}

// Handler returns the HTTP handler serving this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}
