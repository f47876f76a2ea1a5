package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rogervilla2024/slotfeed-sub001/internal/monitoring"
)

// Metrics holds all Prometheus metrics for the Slotfeed service
type Metrics struct {
	// Queue metrics
	QueueDepth    *prometheus.GaugeVec
	ActiveStreams *prometheus.GaugeVec
	JobsEnqueued  *prometheus.CounterVec

	// Worker metrics
	JobsProcessed   *prometheus.CounterVec
	OCRConfidence   *prometheus.HistogramVec
	DroppedReadings *prometheus.CounterVec

	// Processor / publisher metrics
	ReadingsProcessed *prometheus.CounterVec
	EventsFlushed     *prometheus.CounterVec
	FlushDuration     *prometheus.HistogramVec
	AlertsPublished   *prometheus.CounterVec

	// WebSocket hub metrics
	HubConnections *prometheus.GaugeVec
	HubMessages    *prometheus.CounterVec

	// Coordinator metrics
	LiveStreams    *prometheus.GaugeVec
	DiscoveryCalls *prometheus.CounterVec
}

// New registers all pipeline metrics on the service's collector.
func New(mc *monitoring.MetricsCollector) *Metrics {
	return &Metrics{
		QueueDepth: mc.NewGauge("queue_depth",
			"Number of jobs waiting per priority list", []string{"priority"}),
		ActiveStreams: mc.NewGauge("active_streams",
			"Number of streams holding a job lease", []string{}),
		JobsEnqueued: mc.NewCounter("jobs_enqueued_total",
			"Job enqueue attempts by outcome", []string{"outcome"}),

		JobsProcessed: mc.NewCounter("jobs_processed_total",
			"Jobs completed by workers, by outcome", []string{"outcome"}),
		OCRConfidence: mc.NewHistogram("ocr_confidence",
			"OCR confidence of recognized readings", []string{"platform"},
			[]float64{0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 0.99, 1.0}),
		DroppedReadings: mc.NewCounter("dropped_readings_total",
			"Readings dropped before publication", []string{"stream_key"}),

		ReadingsProcessed: mc.NewCounter("readings_processed_total",
			"Validation decisions by outcome", []string{"outcome"}),
		EventsFlushed: mc.NewCounter("events_flushed_total",
			"Events written to the sink, by status", []string{"status"}),
		FlushDuration: mc.NewHistogram("flush_duration_seconds",
			"Batch flush duration", []string{}, nil),
		AlertsPublished: mc.NewCounter("alerts_published_total",
			"Alert events published, by kind and transport", []string{"kind", "transport"}),

		HubConnections: mc.NewGauge("hub_connections",
			"Registered WebSocket connections", []string{"scope"}),
		HubMessages: mc.NewCounter("hub_messages_total",
			"Messages fanned out by the hub", []string{"channel", "direction"}),

		LiveStreams: mc.NewGauge("live_streams",
			"Streams currently live per platform", []string{"platform"}),
		DiscoveryCalls: mc.NewCounter("discovery_calls_total",
			"Discovery API calls by outcome", []string{"outcome"}),
	}
}
