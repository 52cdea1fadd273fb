// Package metrics provides Prometheus metrics collection for the iris explainer.
// It defines the prediction, attribution and artifact metrics exposed via the
// Prometheus metrics endpoint for monitoring and alerting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the explainer.
type Metrics struct {
	// Prediction metrics
	MLPredictions      prometheus.Counter   // Total number of predictions made
	MLFailures         prometheus.Counter   // Total number of prediction failures
	MLModelAge         prometheus.Gauge     // Age of the loaded model file in seconds
	MLModelTrees       prometheus.Gauge     // Number of trees in the loaded model
	MLLatency          prometheus.Histogram // Prediction latency in seconds
	MLPredictionScores prometheus.Histogram // Distribution of the winning class probability

	// Attribution metrics
	Explanations        prometheus.Counter   // Total number of attributions computed
	ExplanationFailures prometheus.Counter   // Total number of attribution failures
	ExplanationLatency  prometheus.Histogram // TreeSHAP + rendering latency in seconds
	ArtifactWrites      prometheus.Counter   // Total number of force plot files written

	// Front end metrics
	HTTPRequests *prometheus.CounterVec // Requests by route and status class
	WSClients    prometheus.Gauge       // Connected websocket clients

	// System metrics
	ErrorsTotal prometheus.Counter // Total number of errors encountered
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
// This allows for isolated metric collection in tests without affecting
// the global Prometheus registry.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		MLPredictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "ml_predictions_total",
			Help: "Total number of ML predictions made",
		}),
		MLFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "ml_failures_total",
			Help: "Total number of ML prediction failures",
		}),
		MLModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ml_model_age_seconds",
			Help: "Age of the loaded model file in seconds",
		}),
		MLModelTrees: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ml_model_trees",
			Help: "Number of trees in the loaded model",
		}),
		MLLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ml_latency_seconds",
			Help:    "ML prediction latency in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		MLPredictionScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ml_prediction_scores",
			Help:    "Distribution of the highest transformed score per prediction",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		Explanations: factory.NewCounter(prometheus.CounterOpts{
			Name: "shap_explanations_total",
			Help: "Total number of SHAP attributions computed",
		}),
		ExplanationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "shap_explanation_failures_total",
			Help: "Total number of SHAP attribution failures",
		}),
		ExplanationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "shap_explanation_latency_seconds",
			Help:    "SHAP attribution and force plot rendering latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		}),
		ArtifactWrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "force_plot_writes_total",
			Help: "Total number of force plot artifacts written",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by route and status class",
		}, []string{"route", "status"}),
		WSClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ws_clients",
			Help: "Number of connected websocket clients",
		}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors encountered",
		}),
	}
}

// ObserveRequest counts one served request. status is bucketed into its class (2xx, 4xx, ...).
func (m *Metrics) ObserveRequest(route string, status int) {
	class := "5xx"
	switch {
	case status < 300:
		class = "2xx"
	case status < 400:
		class = "3xx"
	case status < 500:
		class = "4xx"
	}
	m.HTTPRequests.WithLabelValues(route, class).Inc()
	if status >= 500 {
		m.ErrorsTotal.Inc()
	}
}
