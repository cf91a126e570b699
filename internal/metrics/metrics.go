// Package metrics provides Prometheus metrics collection for the churn service.
// It defines the prediction, HTTP and training metrics exposed via the
// Prometheus metrics endpoint for monitoring and alerting.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the churn service.
type Metrics struct {
	// Prediction metrics
	Predictions        prometheus.Counter     // Total number of churn predictions served
	PredictionFailures prometheus.Counter     // Total number of predictions that failed
	PredictionLatency  prometheus.Histogram   // End-to-end scoring latency in seconds
	PredictionScores   prometheus.Histogram   // Distribution of served churn probabilities
	RiskLevels         *prometheus.CounterVec // Predictions per risk band
	ModelAge           prometheus.Gauge       // Seconds since the model artifact was written
	FeatureDrift       *prometheus.GaugeVec   // Standardized mean shift of served inputs per feature

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec   // Requests by method, path and status
	HTTPDuration *prometheus.HistogramVec // Request duration by method and path

	// Training metrics
	TrainingAccuracy *prometheus.GaugeVec // Held-out accuracy per trained model

	gatherer prometheus.Gatherer
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
// When the registerer is also a Gatherer, Handler serves from it.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	gatherer := prometheus.DefaultGatherer
	if g, ok := registerer.(prometheus.Gatherer); ok {
		gatherer = g
	}

	return &Metrics{
		Predictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "churn_predictions_total",
			Help: "Total number of churn predictions served",
		}),
		PredictionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "churn_prediction_failures_total",
			Help: "Total number of churn predictions that failed",
		}),
		PredictionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "churn_prediction_latency_seconds",
			Help:    "Churn prediction latency in seconds (end-to-end)",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		PredictionScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "churn_prediction_scores",
			Help:    "Distribution of served churn probabilities",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		RiskLevels: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "churn_risk_level_total",
			Help: "Total number of predictions per risk level",
		}, []string{"level"}),
		ModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "churn_model_age_seconds",
			Help: "Age of the loaded model artifact in seconds",
		}),
		FeatureDrift: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "churn_feature_drift_shift",
			Help: "Mean of served inputs minus training mean, in training standard deviations",
		}, []string{"feature"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		TrainingAccuracy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "churn_training_accuracy",
			Help: "Held-out accuracy of the last training run per model",
		}, []string{"model"}),
		gatherer: gatherer,
	}
}

// ObserveHTTP records one finished request.
func (m *Metrics) ObserveHTTP(method, path string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// SetTrainingAccuracy publishes a model's held-out accuracy.
func (m *Metrics) SetTrainingAccuracy(model string, accuracy float64) {
	m.TrainingAccuracy.WithLabelValues(model).Set(accuracy)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// GetFailureRate returns failed predictions over all prediction attempts,
// or 0 when nothing has been scored yet.
func (m *Metrics) GetFailureRate() float64 {
	var served, failed float64

	metricFamilies, err := m.gatherer.Gather()
	if err != nil {
		return 0
	}

	for _, mf := range metricFamilies {
		switch mf.GetName() {
		case "churn_predictions_total":
			for _, metric := range mf.Metric {
				served = metric.GetCounter().GetValue()
			}
		case "churn_prediction_failures_total":
			for _, metric := range mf.Metric {
				failed = metric.GetCounter().GetValue()
			}
		}
	}

	if served+failed == 0 {
		return 0
	}
	return failed / (served + failed)
}
