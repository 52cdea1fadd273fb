package explain

import (
	"fmt"
	"math"
	"sort"
)

// Explanation is the attribution of one prediction for one model output.
type Explanation struct {
	Values       []float64 `json:"values"`
	BaseValue    float64   `json:"base_value"`
	Data         []float64 `json:"data"`
	FeatureNames []string  `json:"feature_names"`
	OutputIndex  int       `json:"output_index"`
	OutputName   string    `json:"output_name"`
}

// Contribution is one feature's share of an explanation.
type Contribution struct {
	Feature string  `json:"feature"`
	Value   float64 `json:"value"`
	Effect  float64 `json:"effect"`
}

// OutputValue returns base value plus all attributions, i.e. the explained model margin.
func (e *Explanation) OutputValue() float64 {
	out := e.BaseValue
	for _, v := range e.Values {
		out += v
	}
	return out
}

// Validate checks that the parallel slices line up and hold finite numbers.
func (e *Explanation) Validate() error {
	n := len(e.Values)
	if n == 0 {
		return fmt.Errorf("explanation has no values")
	}
	if len(e.Data) != n || len(e.FeatureNames) != n {
		return fmt.Errorf("explanation has %d values, %d data points and %d feature names", n, len(e.Data), len(e.FeatureNames))
	}
	if math.IsNaN(e.BaseValue) || math.IsInf(e.BaseValue, 0) {
		return fmt.Errorf("explanation base value is not finite")
	}
	for i, v := range e.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("attribution for %s is not finite", e.FeatureNames[i])
		}
	}
	return nil
}

// Contributions returns the features ordered by decreasing absolute effect.
func (e *Explanation) Contributions() []Contribution {
	out := make([]Contribution, len(e.Values))
	for i := range e.Values {
		out[i] = Contribution{Feature: e.FeatureNames[i], Value: e.Data[i], Effect: e.Values[i]}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].Effect) > math.Abs(out[j].Effect)
	})
	return out
}

// ByFeature returns attributions keyed by feature name.
func (e *Explanation) ByFeature() map[string]float64 {
	m := make(map[string]float64, len(e.Values))
	for i, v := range e.Values {
		m[e.FeatureNames[i]] = v
	}
	return m
}
