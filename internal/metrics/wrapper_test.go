package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWrapper(t *testing.T) (*MetricsWrapper, *Metrics, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	m := NewWithRegistry(registry)
	return NewWrapper(m), m, registry
}

func TestNewWrapper(t *testing.T) {
	wrapper, m, _ := newTestWrapper(t)
	require.NotNil(t, wrapper)
	assert.Same(t, m, wrapper.m)
}

func TestMetricsWrapper_PredictionMethods(t *testing.T) {
	wrapper, m, _ := newTestWrapper(t)

	wrapper.MLPredictionsInc()
	wrapper.MLPredictionsInc()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MLPredictions))

	wrapper.MLFailuresInc()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MLFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal))

	wrapper.MLModelAgeSet(3600)
	assert.Equal(t, 3600.0, testutil.ToFloat64(m.MLModelAge))

	wrapper.ModelTreesSet(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.MLModelTrees))
}

func TestMetricsWrapper_ExplanationMethods(t *testing.T) {
	wrapper, m, _ := newTestWrapper(t)

	wrapper.ExplanationsInc()
	wrapper.ArtifactWritesInc()
	wrapper.ArtifactWritesInc()
	wrapper.ExplanationFailuresInc()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Explanations))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ArtifactWrites))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExplanationFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal))
}

func TestMetricsWrapper_Histograms(t *testing.T) {
	wrapper, _, registry := newTestWrapper(t)

	for _, v := range []float64{0.001, 0.005, 0.01} {
		wrapper.MLLatencyObserve(v)
		wrapper.ExplanationLatencyObserve(v)
	}
	wrapper.MLPredictionScoresObserve(0.75)

	count, err := testutil.GatherAndCount(registry, "ml_latency_seconds", "shap_explanation_latency_seconds", "ml_prediction_scores")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestMetrics_ObserveRequest(t *testing.T) {
	_, m, _ := newTestWrapper(t)

	m.ObserveRequest("/predict", 200)
	m.ObserveRequest("/predict", 200)
	m.ObserveRequest("/predict", 400)
	m.ObserveRequest("/api/predict", 500)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/predict", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/predict", "4xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/api/predict", "5xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal))
}

func TestMetricsWrapper_ConcurrentAccess(t *testing.T) {
	wrapper, m, _ := newTestWrapper(t)

	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				wrapper.MLPredictionsInc()
				wrapper.MLLatencyObserve(0.01)
				wrapper.ExplanationsInc()
			}
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	assert.Equal(t, 1000.0, testutil.ToFloat64(m.MLPredictions))
	assert.Equal(t, 1000.0, testutil.ToFloat64(m.Explanations))
}

func TestMetricsWrapper_NilGuard(t *testing.T) {
	wrapper := &MetricsWrapper{m: nil}

	// NewWrapper never produces this; dereferencing nil metrics panics
	assert.Panics(t, func() { wrapper.MLPredictionsInc() })
}

func BenchmarkMetricsWrapper_MLPredictionsInc(b *testing.B) {
	wrapper := NewWrapper(NewWithRegistry(prometheus.NewRegistry()))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		wrapper.MLPredictionsInc()
	}
}

func BenchmarkMetricsWrapper_ExplanationLatencyObserve(b *testing.B) {
	wrapper := NewWrapper(NewWithRegistry(prometheus.NewRegistry()))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		wrapper.ExplanationLatencyObserve(0.01)
	}
}
