package metrics

// MetricsWrapper adapts Metrics to the narrow interfaces the ml and workflow packages accept.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) MLPredictionsInc() {
	w.m.MLPredictions.Inc()
}

func (w *MetricsWrapper) MLFailuresInc() {
	w.m.MLFailures.Inc()
	w.m.ErrorsTotal.Inc()
}

func (w *MetricsWrapper) MLLatencyObserve(v float64) {
	w.m.MLLatency.Observe(v)
}

func (w *MetricsWrapper) MLModelAgeSet(v float64) {
	w.m.MLModelAge.Set(v)
}

func (w *MetricsWrapper) MLPredictionScoresObserve(v float64) {
	w.m.MLPredictionScores.Observe(v)
}

func (w *MetricsWrapper) ModelTreesSet(n int) {
	w.m.MLModelTrees.Set(float64(n))
}

func (w *MetricsWrapper) ExplanationsInc() {
	w.m.Explanations.Inc()
}

func (w *MetricsWrapper) ExplanationFailuresInc() {
	w.m.ExplanationFailures.Inc()
	w.m.ErrorsTotal.Inc()
}

func (w *MetricsWrapper) ExplanationLatencyObserve(v float64) {
	w.m.ExplanationLatency.Observe(v)
}

func (w *MetricsWrapper) ArtifactWritesInc() {
	w.m.ArtifactWrites.Inc()
}
