// Package explain computes local feature attributions for tree ensembles.
//
// TreeExplainer implements exact path-dependent TreeSHAP (Lundberg et al., "Consistent
// Individualized Feature Attribution for Tree Ensembles", Algorithm 2). Attributions are in
// margin space: for every output k, base value plus the sum of attributions equals the raw
// margin the booster produces for that output.
package explain

import (
	"errors"
	"fmt"

	"iris-explainer/internal/ml"
)

// ErrOutputIndex is returned when the requested output does not exist on the model.
var ErrOutputIndex = errors.New("output index out of range")

// TreeExplainer computes SHAP values for a fixed booster. It is safe for concurrent use.
type TreeExplainer struct {
	booster  *ml.Booster
	expected []float64 // per output
}

// NewTreeExplainer binds an explainer to the booster and precomputes the expected value of each
// output.
func NewTreeExplainer(booster *ml.Booster) (*TreeExplainer, error) {
	if booster == nil {
		return nil, fmt.Errorf("booster is nil")
	}

	expected := make([]float64, booster.NumOutputs())
	for k := range expected {
		expected[k] = booster.BaseMargin(k)
	}
	trees := booster.Trees()
	for i := range trees {
		expected[trees[i].Group] += trees[i].ExpectedValue()
	}

	return &TreeExplainer{booster: booster, expected: expected}, nil
}

// NumOutputs returns how many outputs can be explained.
func (e *TreeExplainer) NumOutputs() int {
	return len(e.expected)
}

// ExpectedValue returns the baseline of output k.
func (e *TreeExplainer) ExpectedValue(k int) (float64, error) {
	if err := e.checkOutput(k); err != nil {
		return 0, err
	}
	return e.expected[k], nil
}

// ShapValues returns attributions for row x with shape [feature][output].
func (e *TreeExplainer) ShapValues(x []float64) ([][]float64, error) {
	if len(x) != e.booster.NumFeatures() {
		return nil, fmt.Errorf("%w: expected %d features, got %d", ml.ErrSchemaMismatch, e.booster.NumFeatures(), len(x))
	}

	phi := make([][]float64, len(x))
	for i := range phi {
		phi[i] = make([]float64, e.NumOutputs())
	}

	trees := e.booster.Trees()
	col := make([]float64, len(x))
	for i := range trees {
		t := &trees[i]
		for j := range col {
			col[j] = 0
		}
		treeShap(t, x, col)
		for j, v := range col {
			phi[j][t.Group] += v
		}
	}

	return phi, nil
}

// Explain computes the attribution of every feature to output k for a single row and packages
// it with the baseline and the feature names.
func (e *TreeExplainer) Explain(x []float64, k int) (*Explanation, error) {
	if err := e.checkOutput(k); err != nil {
		return nil, err
	}

	phi, err := e.ShapValues(x)
	if err != nil {
		return nil, err
	}

	values := make([]float64, len(phi))
	for j := range phi {
		values[j] = phi[j][k]
	}

	names := e.booster.FeatureNames()
	if len(names) == 0 {
		names = make([]string, len(x))
		for j := range names {
			names[j] = fmt.Sprintf("f%d", j)
		}
	}

	return &Explanation{
		Values:       values,
		BaseValue:    e.expected[k],
		Data:         append([]float64(nil), x...),
		FeatureNames: names,
		OutputIndex:  k,
		OutputName:   e.outputName(k),
	}, nil
}

func (e *TreeExplainer) checkOutput(k int) error {
	if k < 0 || k >= e.NumOutputs() {
		return fmt.Errorf("%w: %d requested, model %q has %d output(s)", ErrOutputIndex, k, e.booster.Objective(), e.NumOutputs())
	}
	return nil
}

func (e *TreeExplainer) outputName(k int) string {
	if e.NumOutputs() > 1 {
		return fmt.Sprintf("class %d", k)
	}
	return "output"
}

type pathElement struct {
	feature int
	zero    float64 // fraction of zero paths (feature absent) flowing through
	one     float64 // fraction of one paths (feature present) flowing through
	pweight float64
}

func treeShap(t *ml.Tree, x []float64, phi []float64) {
	path := make([]pathElement, 0, t.MaxDepth()+2)
	recurse(t, x, phi, 0, path, 1, 1, -1)
}

func recurse(t *ml.Tree, x, phi []float64, node int, parent []pathElement, pZero, pOne float64, pFeature int) {
	path := make([]pathElement, len(parent), len(parent)+1)
	copy(path, parent)
	path = extendPath(path, pZero, pOne, pFeature)

	if t.IsLeaf(node) {
		for i := 1; i < len(path); i++ {
			w := unwoundPathSum(path, i)
			phi[path[i].feature] += w * (path[i].one - path[i].zero) * t.Value[node]
		}
		return
	}

	split := t.Feature[node]
	hot := t.Next(node, x)
	cold := t.Right[node]
	if hot == cold {
		cold = t.Left[node]
	}
	hotZero := t.Cover[hot] / t.Cover[node]
	coldZero := t.Cover[cold] / t.Cover[node]

	inZero, inOne := 1.0, 1.0
	for i := range path {
		if path[i].feature == split {
			inZero, inOne = path[i].zero, path[i].one
			path = unwindPath(path, i)
			break
		}
	}

	recurse(t, x, phi, hot, path, hotZero*inZero, inOne, split)
	recurse(t, x, phi, cold, path, coldZero*inZero, 0, split)
}

func extendPath(path []pathElement, zero, one float64, feature int) []pathElement {
	depth := len(path)
	path = append(path, pathElement{feature: feature, zero: zero, one: one})
	if depth == 0 {
		path[0].pweight = 1
	}
	for i := depth - 1; i >= 0; i-- {
		path[i+1].pweight += one * path[i].pweight * float64(i+1) / float64(depth+1)
		path[i].pweight = zero * path[i].pweight * float64(depth-i) / float64(depth+1)
	}
	return path
}

func unwindPath(path []pathElement, index int) []pathElement {
	depth := len(path) - 1
	one, zero := path[index].one, path[index].zero
	next := path[depth].pweight

	for i := depth - 1; i >= 0; i-- {
		if one != 0 {
			tmp := path[i].pweight
			path[i].pweight = next * float64(depth+1) / (float64(i+1) * one)
			next = tmp - path[i].pweight*zero*float64(depth-i)/float64(depth+1)
		} else {
			path[i].pweight = path[i].pweight * float64(depth+1) / (zero * float64(depth-i))
		}
	}

	for i := index; i < depth; i++ {
		path[i].feature = path[i+1].feature
		path[i].zero = path[i+1].zero
		path[i].one = path[i+1].one
	}
	return path[:depth]
}

func unwoundPathSum(path []pathElement, index int) float64 {
	depth := len(path) - 1
	one, zero := path[index].one, path[index].zero
	next := path[depth].pweight
	total := 0.0

	for i := depth - 1; i >= 0; i-- {
		if one != 0 {
			tmp := next * float64(depth+1) / (float64(i+1) * one)
			total += tmp
			next = path[i].pweight - tmp*zero*float64(depth-i)/float64(depth+1)
		} else {
			total += path[i].pweight / zero / (float64(depth-i) / float64(depth+1))
		}
	}
	return total
}
