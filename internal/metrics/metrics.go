// Package metrics exposes Prometheus metrics for training runs, the model
// store, the event bus and the prediction server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rice_clickmodels"

// Metrics holds all application metrics.
type Metrics struct {
	// Training metrics
	TrainRuns        *prometheus.CounterVec   // labels: model, rule
	TrainDuration    *prometheus.HistogramVec // labels: model
	EMIterations     *prometheus.CounterVec   // labels: model
	LogLikelihood    *prometheus.GaugeVec     // labels: model
	MaxDelta         *prometheus.GaugeVec     // labels: model
	SessionsAccepted prometheus.Counter
	SessionsRejected prometheus.Counter

	// Evaluation metrics
	Perplexity            *prometheus.GaugeVec // labels: model
	ConditionalPerplexity *prometheus.GaugeVec // labels: model

	// Store metrics
	StoreOperations *prometheus.CounterVec // labels: op, status

	// Prediction metrics
	Predictions       *prometheus.CounterVec   // labels: model, kind
	PredictionLatency *prometheus.HistogramVec // labels: kind
	ModelCacheHits    prometheus.Counter
	ModelCacheMisses  prometheus.Counter

	// Bus metrics
	BusEventsPublished *prometheus.CounterVec   // labels: topic
	BusEventLatency    *prometheus.HistogramVec // labels: topic
	BusErrors          *prometheus.CounterVec   // labels: topic

	// HTTP metrics
	HTTPRequests         *prometheus.CounterVec   // labels: method, path, status
	HTTPDuration         *prometheus.HistogramVec // labels: method, path
	HTTPRequestsInFlight prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a metrics instance on its own registry, with the Go runtime
// and process collectors attached.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)
	m := &Metrics{registry: reg}
	m.initTrainMetrics(factory)
	m.initServeMetrics(factory)
	m.initBusMetrics(factory)
	return m
}

func (m *Metrics) initTrainMetrics(factory promauto.Factory) {
	m.TrainRuns = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "train_runs_total",
		Help:      "Total number of completed training runs",
	}, []string{"model", "rule"})

	m.TrainDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "train_duration_seconds",
		Help:      "Training run duration in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
	}, []string{"model"})

	m.EMIterations = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "em_iterations_total",
		Help:      "Total number of EM iterations",
	}, []string{"model"})

	m.LogLikelihood = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "train_log_likelihood",
		Help:      "Training log-likelihood after the latest iteration",
	}, []string{"model"})

	m.MaxDelta = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "train_max_delta",
		Help:      "Largest parameter change in the latest iteration",
	}, []string{"model"})

	m.SessionsAccepted = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_accepted_total",
		Help:      "Total number of sessions read from click logs",
	})

	m.SessionsRejected = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_rejected_total",
		Help:      "Total number of malformed sessions skipped",
	})

	m.Perplexity = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "test_perplexity",
		Help:      "Click perplexity on the latest test set",
	}, []string{"model"})

	m.ConditionalPerplexity = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "test_conditional_perplexity",
		Help:      "Conditional click perplexity on the latest test set",
	}, []string{"model"})

	m.StoreOperations = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_operations_total",
		Help:      "Total number of model store operations",
	}, []string{"op", "status"})
}

func (m *Metrics) initServeMetrics(factory promauto.Factory) {
	m.Predictions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "predictions_total",
		Help:      "Total number of served predictions",
	}, []string{"model", "kind"})

	m.PredictionLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "prediction_latency_seconds",
		Help:      "Prediction latency in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
	}, []string{"kind"})

	m.ModelCacheHits = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "model_cache_hits_total",
		Help:      "Total number of model cache hits",
	})

	m.ModelCacheMisses = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "model_cache_misses_total",
		Help:      "Total number of model cache misses",
	})

	m.HTTPRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	m.HTTPDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	m.HTTPRequestsInFlight = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "http_requests_in_flight",
		Help:      "Number of HTTP requests being served",
	})
}

func (m *Metrics) initBusMetrics(factory promauto.Factory) {
	m.BusEventsPublished = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bus_events_published_total",
		Help:      "Total number of events published",
	}, []string{"topic"})

	m.BusEventLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "bus_publish_latency_seconds",
		Help:      "Event publish latency in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"topic"})

	m.BusErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bus_errors_total",
		Help:      "Total number of failed publishes",
	}, []string{"topic"})
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler that serves the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordBusPublish records one publish. It satisfies bus.MetricsRecorder.
func (m *Metrics) RecordBusPublish(topic string, latency time.Duration, err error) {
	m.BusEventsPublished.WithLabelValues(topic).Inc()
	m.BusEventLatency.WithLabelValues(topic).Observe(latency.Seconds())
	if err != nil {
		m.BusErrors.WithLabelValues(topic).Inc()
	}
}

// RecordIteration records one finished inference pass of model.
func (m *Metrics) RecordIteration(model string, logLikelihood, maxDelta float64) {
	m.EMIterations.WithLabelValues(model).Inc()
	m.LogLikelihood.WithLabelValues(model).Set(logLikelihood)
	m.MaxDelta.WithLabelValues(model).Set(maxDelta)
}

// RecordTrain records a finished training run.
func (m *Metrics) RecordTrain(model, rule string, duration time.Duration) {
	m.TrainRuns.WithLabelValues(model, rule).Inc()
	m.TrainDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// RecordSessions records the outcome of reading a click log.
func (m *Metrics) RecordSessions(accepted, rejected int) {
	m.SessionsAccepted.Add(float64(accepted))
	m.SessionsRejected.Add(float64(rejected))
}

// RecordEvaluation records test set perplexities of model.
func (m *Metrics) RecordEvaluation(model string, perplexity, conditional float64) {
	m.Perplexity.WithLabelValues(model).Set(perplexity)
	m.ConditionalPerplexity.WithLabelValues(model).Set(conditional)
}

// RecordStore records a store operation.
func (m *Metrics) RecordStore(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StoreOperations.WithLabelValues(op, status).Inc()
}

// RecordPrediction records one served prediction.
func (m *Metrics) RecordPrediction(model, kind string, latency time.Duration) {
	m.Predictions.WithLabelValues(model, kind).Inc()
	m.PredictionLatency.WithLabelValues(kind).Observe(latency.Seconds())
}

// RecordCache records a model cache lookup.
func (m *Metrics) RecordCache(hit bool) {
	if hit {
		m.ModelCacheHits.Inc()
	} else {
		m.ModelCacheMisses.Inc()
	}
}

// RecordHTTP records an HTTP request.
func (m *Metrics) RecordHTTP(method, path string, status int, duration time.Duration) {
	path = normalizePath(path)
	m.HTTPRequests.WithLabelValues(method, path, statusCode(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
