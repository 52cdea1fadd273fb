package ml

import "sync"

// recordingMetrics captures everything the predictor reports.
type recordingMetrics struct {
	mu        sync.Mutex
	counts    map[string]int
	latencies []float64
	scores    []float64
	modelAge  float64
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counts: make(map[string]int)}
}

func (m *recordingMetrics) inc(name string) {
	m.mu.Lock()
	m.counts[name]++
	m.mu.Unlock()
}

func (m *recordingMetrics) MLPredictionsInc() { m.inc("predictions") }
func (m *recordingMetrics) MLFailuresInc()    { m.inc("failures") }

func (m *recordingMetrics) MLLatencyObserve(v float64) {
	m.mu.Lock()
	m.latencies = append(m.latencies, v)
	m.mu.Unlock()
}

func (m *recordingMetrics) MLModelAgeSet(v float64) {
	m.mu.Lock()
	m.modelAge = v
	m.mu.Unlock()
}

func (m *recordingMetrics) MLPredictionScoresObserve(v float64) {
	m.mu.Lock()
	m.scores = append(m.scores, v)
	m.mu.Unlock()
}

func (m *recordingMetrics) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}
