package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the service metrics. Each collector owns its registry so
// several can coexist in one process (tests, the trainer).
type Collector struct {
	Registry *prometheus.Registry

	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec

	PredictionsTotal      *prometheus.CounterVec
	PredictionErrorsTotal *prometheus.CounterVec
	PredictionDuration    prometheus.Histogram

	ModelLoaded          prometheus.Gauge
	ArtifactChangesTotal prometheus.Counter

	SensorUpdatesTotal prometheus.Counter
	WebSocketClients   prometheus.Gauge
}

// NewCollector registers all metrics under namespace on a fresh registry,
// together with the Go runtime and process collectors.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		Registry: reg,

		APIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests by route, method, and status",
			},
			[]string{"route", "method", "status"},
		),

		APIRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0},
			},
			[]string{"route"},
		),

		PredictionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "predictions_total",
				Help:      "Predictions served by label",
			},
			[]string{"label"},
		),

		PredictionErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "prediction_errors_total",
				Help:      "Failed predictions by error kind",
			},
			[]string{"kind"},
		),

		PredictionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "prediction_duration_seconds",
				Help:      "Time spent in preprocessing and forest evaluation",
				Buckets:   []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01},
			},
		),

		ModelLoaded: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "model_loaded",
				Help:      "1 when a model artifact is loaded",
			},
		),

		ArtifactChangesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifact_changes_total",
				Help:      "Changes to the artifact file observed since startup",
			},
		),

		SensorUpdatesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sensor_updates_total",
				Help:      "Sensor readings received",
			},
		),

		WebSocketClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_clients",
				Help:      "Connected websocket feed clients",
			},
		),
	}
}

// Timer provides timing functionality for operations
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewTimer creates a new timer
func (c *Collector) NewTimer(observer prometheus.Observer) *Timer {
	return &Timer{
		start:    time.Now(),
		observer: observer,
	}
}

// ObserveDuration records the elapsed time since timer creation
func (t *Timer) ObserveDuration() time.Duration {
	duration := time.Since(t.start)
	if t.observer != nil {
		t.observer.Observe(duration.Seconds())
	}
	return duration
}

// RecordAPIRequest counts a finished request and its latency.
func (c *Collector) RecordAPIRequest(route, method, status string, duration time.Duration) {
	c.APIRequestsTotal.WithLabelValues(route, method, status).Inc()
	c.APIRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordPrediction counts a successful prediction.
func (c *Collector) RecordPrediction(label string) {
	c.PredictionsTotal.WithLabelValues(label).Inc()
}

// RecordPredictionError counts a failed prediction.
func (c *Collector) RecordPredictionError(kind string) {
	c.PredictionErrorsTotal.WithLabelValues(kind).Inc()
}

// SetModelLoaded flips the model_loaded gauge.
func (c *Collector) SetModelLoaded(loaded bool) {
	if loaded {
		c.ModelLoaded.Set(1)
		return
	}
	c.ModelLoaded.Set(0)
}
