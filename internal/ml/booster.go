package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrInvalidModel is returned when a model file cannot be turned into a usable booster.
var ErrInvalidModel = errors.New("invalid model")

// Tree is one regression tree of the ensemble in flat array form. Node 0 is the root.
type Tree struct {
	Left        []int
	Right       []int
	Feature     []int
	Threshold   []float64
	DefaultLeft []bool
	Value       []float64 // leaf value, only meaningful where IsLeaf
	Cover       []float64 // sum of hessians that reached the node
	Group       int       // output the tree contributes to
}

// NumNodes returns the number of nodes in the tree.
func (t *Tree) NumNodes() int {
	return len(t.Left)
}

// IsLeaf reports whether node n has no children.
func (t *Tree) IsLeaf(n int) bool {
	return t.Left[n] == -1
}

// Next returns the child of internal node n that row x follows. Missing values (NaN) take the
// default direction.
func (t *Tree) Next(n int, x []float64) int {
	v := x[t.Feature[n]]
	if math.IsNaN(v) {
		if t.DefaultLeft[n] {
			return t.Left[n]
		}
		return t.Right[n]
	}
	if v < t.Threshold[n] {
		return t.Left[n]
	}
	return t.Right[n]
}

// Leaf returns the leaf index reached by row x.
func (t *Tree) Leaf(x []float64) int {
	n := 0
	for !t.IsLeaf(n) {
		n = t.Next(n, x)
	}
	return n
}

// Predict returns the leaf value reached by row x.
func (t *Tree) Predict(x []float64) float64 {
	return t.Value[t.Leaf(x)]
}

// MaxDepth returns the number of edges on the longest root-to-leaf path.
func (t *Tree) MaxDepth() int {
	return t.depth(0)
}

func (t *Tree) depth(n int) int {
	if t.IsLeaf(n) {
		return 0
	}
	l, r := t.depth(t.Left[n]), t.depth(t.Right[n])
	if l > r {
		return l + 1
	}
	return r + 1
}

// ExpectedValue returns the cover-weighted mean leaf value of the tree.
func (t *Tree) ExpectedValue() float64 {
	return t.expected(0)
}

func (t *Tree) expected(n int) float64 {
	if t.IsLeaf(n) {
		return t.Value[n]
	}
	l, r := t.Left[n], t.Right[n]
	return (t.Cover[l]*t.expected(l) + t.Cover[r]*t.expected(r)) / t.Cover[n]
}

// Booster is an immutable gradient-boosted tree ensemble loaded from XGBoost's JSON model format.
// It is safe for concurrent use.
type Booster struct {
	path         string
	version      []int
	objective    string
	featureNames []string
	numFeature   int
	numClass     int
	numTarget    int
	baseScore    []float64
	baseMargin   []float64
	trees        []Tree
	modTime      time.Time
	loadedAt     time.Time
}

// ModelInfo describes a loaded booster.
type ModelInfo struct {
	Path         string    `json:"path"`
	Version      string    `json:"version"`
	Objective    string    `json:"objective"`
	FeatureNames []string  `json:"feature_names"`
	NumFeatures  int       `json:"num_features"`
	NumOutputs   int       `json:"num_outputs"`
	NumTrees     int       `json:"num_trees"`
	MaxDepth     int       `json:"max_depth"`
	BaseScore    []float64 `json:"base_score"`
	Classifier   bool      `json:"classifier"`
	ModifiedAt   time.Time `json:"modified_at"`
	LoadedAt     time.Time `json:"loaded_at"`
}

// flexBool accepts both JSON booleans and 0/1 integers, since XGBoost releases disagree on the
// encoding of default_left.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	switch s {
	case "true", "1":
		*b = true
	case "false", "0", "null":
		*b = false
	default:
		return fmt.Errorf("cannot decode %s as bool", s)
	}
	return nil
}

type modelFile struct {
	Learner struct {
		Attributes      map[string]string `json:"attributes"`
		FeatureNames    []string          `json:"feature_names"`
		FeatureTypes    []string          `json:"feature_types"`
		GradientBooster json.RawMessage   `json:"gradient_booster"`
		Param           struct {
			BaseScore  string `json:"base_score"`
			NumClass   string `json:"num_class"`
			NumFeature string `json:"num_feature"`
			NumTarget  string `json:"num_target"`
		} `json:"learner_model_param"`
		Objective struct {
			Name string `json:"name"`
		} `json:"objective"`
	} `json:"learner"`
	Version []int `json:"version"`
}

type gbtreeModel struct {
	TreeInfo []int      `json:"tree_info"`
	Trees    []treeFile `json:"trees"`
}

type boosterFile struct {
	Name  string      `json:"name"`
	Model gbtreeModel `json:"model"`
	// dart wraps a gbtree and scales each tree by its drop weight
	GBTree *struct {
		Model gbtreeModel `json:"model"`
	} `json:"gbtree"`
	WeightDrop []float64 `json:"weight_drop"`
}

type treeFile struct {
	ID              int        `json:"id"`
	LeftChildren    []int      `json:"left_children"`
	RightChildren   []int      `json:"right_children"`
	SplitIndices    []int      `json:"split_indices"`
	SplitConditions []float64  `json:"split_conditions"`
	SplitType       []int      `json:"split_type"`
	DefaultLeft     []flexBool `json:"default_left"`
	SumHessian      []float64  `json:"sum_hessian"`
}

// LoadBooster reads and validates an XGBoost JSON model. Any failure is returned wrapped in
// ErrInvalidModel or as the underlying I/O error.
func LoadBooster(path string) (*Booster, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat model file %s: %w", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model file %s: %w", path, err)
	}

	b, err := ParseBooster(data)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", path, err)
	}
	b.path = path
	b.modTime = info.ModTime()

	log.Info().
		Str("model_path", path).
		Str("objective", b.objective).
		Int("trees", len(b.trees)).
		Int("outputs", b.NumOutputs()).
		Strs("features", b.featureNames).
		Msg("Model loaded")

	return b, nil
}

// ParseBooster decodes a booster from XGBoost JSON model bytes.
func ParseBooster(data []byte) (*Booster, error) {
	var mf modelFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", ErrInvalidModel, err)
	}

	l := mf.Learner
	if len(l.GradientBooster) == 0 {
		return nil, fmt.Errorf("%w: missing learner.gradient_booster", ErrInvalidModel)
	}

	var bf boosterFile
	if err := json.Unmarshal(l.GradientBooster, &bf); err != nil {
		return nil, fmt.Errorf("%w: decode gradient_booster: %v", ErrInvalidModel, err)
	}

	gm := bf.Model
	var weights []float64
	switch bf.Name {
	case "gbtree":
	case "dart":
		if bf.GBTree == nil {
			return nil, fmt.Errorf("%w: dart booster without gbtree model", ErrInvalidModel)
		}
		gm = bf.GBTree.Model
		weights = bf.WeightDrop
	default:
		return nil, fmt.Errorf("%w: unsupported booster %q", ErrInvalidModel, bf.Name)
	}

	numFeature, err := atoiOrZero(l.Param.NumFeature)
	if err != nil {
		return nil, fmt.Errorf("%w: num_feature: %v", ErrInvalidModel, err)
	}
	numClass, err := atoiOrZero(l.Param.NumClass)
	if err != nil {
		return nil, fmt.Errorf("%w: num_class: %v", ErrInvalidModel, err)
	}
	numTarget, err := atoiOrZero(l.Param.NumTarget)
	if err != nil {
		return nil, fmt.Errorf("%w: num_target: %v", ErrInvalidModel, err)
	}
	if numFeature <= 0 {
		return nil, fmt.Errorf("%w: num_feature must be positive, got %d", ErrInvalidModel, numFeature)
	}

	if len(l.FeatureNames) > 0 && len(l.FeatureNames) != numFeature {
		return nil, fmt.Errorf("%w: %d feature names for %d features", ErrInvalidModel, len(l.FeatureNames), numFeature)
	}
	for i, ft := range l.FeatureTypes {
		switch ft {
		case "float", "q", "int", "i":
		default:
			return nil, fmt.Errorf("%w: feature %d has unsupported type %q", ErrInvalidModel, i, ft)
		}
	}

	b := &Booster{
		version:      mf.Version,
		objective:    l.Objective.Name,
		featureNames: append([]string(nil), l.FeatureNames...),
		numFeature:   numFeature,
		numClass:     numClass,
		numTarget:    numTarget,
		loadedAt:     time.Now(),
	}

	outputs := b.NumOutputs()

	scores, err := parseBaseScore(l.Param.BaseScore)
	if err != nil {
		return nil, fmt.Errorf("%w: base_score: %v", ErrInvalidModel, err)
	}
	if len(scores) == 1 && outputs > 1 {
		for len(scores) < outputs {
			scores = append(scores, scores[0])
		}
	}
	if len(scores) != outputs {
		return nil, fmt.Errorf("%w: %d base scores for %d outputs", ErrInvalidModel, len(scores), outputs)
	}
	b.baseScore = scores
	b.baseMargin = make([]float64, outputs)
	for k, s := range scores {
		m, err := probToMargin(b.objective, s)
		if err != nil {
			return nil, fmt.Errorf("%w: base_score: %v", ErrInvalidModel, err)
		}
		b.baseMargin[k] = m
	}

	if len(gm.Trees) == 0 {
		return nil, fmt.Errorf("%w: model has no trees", ErrInvalidModel)
	}
	if len(gm.TreeInfo) != len(gm.Trees) {
		return nil, fmt.Errorf("%w: %d tree_info entries for %d trees", ErrInvalidModel, len(gm.TreeInfo), len(gm.Trees))
	}
	if weights != nil && len(weights) != len(gm.Trees) {
		return nil, fmt.Errorf("%w: %d dart weights for %d trees", ErrInvalidModel, len(weights), len(gm.Trees))
	}

	b.trees = make([]Tree, len(gm.Trees))
	for i, tf := range gm.Trees {
		group := gm.TreeInfo[i]
		if group < 0 || group >= outputs {
			return nil, fmt.Errorf("%w: tree %d targets output %d of %d", ErrInvalidModel, i, group, outputs)
		}
		scale := 1.0
		if weights != nil {
			scale = weights[i]
		}
		t, err := buildTree(tf, group, numFeature, scale)
		if err != nil {
			return nil, fmt.Errorf("%w: tree %d: %v", ErrInvalidModel, i, err)
		}
		b.trees[i] = t
	}

	return b, nil
}

func buildTree(tf treeFile, group, numFeature int, scale float64) (Tree, error) {
	n := len(tf.LeftChildren)
	if n == 0 {
		return Tree{}, fmt.Errorf("no nodes")
	}
	if len(tf.RightChildren) != n || len(tf.SplitIndices) != n || len(tf.SplitConditions) != n || len(tf.DefaultLeft) != n {
		return Tree{}, fmt.Errorf("node arrays have inconsistent lengths")
	}
	if len(tf.SumHessian) != n {
		return Tree{}, fmt.Errorf("missing cover statistics (sum_hessian)")
	}

	t := Tree{
		Left:        make([]int, n),
		Right:       make([]int, n),
		Feature:     make([]int, n),
		Threshold:   make([]float64, n),
		DefaultLeft: make([]bool, n),
		Value:       make([]float64, n),
		Cover:       make([]float64, n),
		Group:       group,
	}

	for i := 0; i < n; i++ {
		l, r := tf.LeftChildren[i], tf.RightChildren[i]
		t.Left[i], t.Right[i] = l, r
		t.Cover[i] = tf.SumHessian[i]
		t.DefaultLeft[i] = bool(tf.DefaultLeft[i])
		if t.Cover[i] <= 0 {
			return Tree{}, fmt.Errorf("node %d has non-positive cover %f", i, t.Cover[i])
		}

		if l == -1 {
			if r != -1 {
				return Tree{}, fmt.Errorf("node %d has only a right child", i)
			}
			t.Value[i] = tf.SplitConditions[i] * scale
			continue
		}

		if l <= i || r <= i || l >= n || r >= n || l == r {
			return Tree{}, fmt.Errorf("node %d has invalid children %d/%d", i, l, r)
		}
		if len(tf.SplitType) == n && tf.SplitType[i] != 0 {
			return Tree{}, fmt.Errorf("node %d uses a categorical split", i)
		}
		f := tf.SplitIndices[i]
		if f < 0 || f >= numFeature {
			return Tree{}, fmt.Errorf("node %d splits on feature %d of %d", i, f, numFeature)
		}
		t.Feature[i] = f
		t.Threshold[i] = tf.SplitConditions[i]
	}

	return t, nil
}

func atoiOrZero(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// parseBaseScore handles both the scalar ("5E-1") and vector ("[5E-1,5E-1]") encodings.
func parseBaseScore(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if s == "" {
		return []float64{0.5}, nil
	}

	parts := strings.Split(s, ",")
	scores := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		scores = append(scores, v)
	}
	return scores, nil
}

func probToMargin(objective string, p float64) (float64, error) {
	switch objective {
	case "binary:logistic", "binary:logitraw", "reg:logistic":
		if p <= 0 || p >= 1 {
			return 0, fmt.Errorf("logistic base score %f outside (0, 1)", p)
		}
		return -math.Log(1/p - 1), nil
	case "count:poisson", "reg:gamma", "reg:tweedie", "survival:cox":
		if p <= 0 {
			return 0, fmt.Errorf("log-link base score %f must be positive", p)
		}
		return math.Log(p), nil
	}
	return p, nil
}

// Path returns the file the booster was loaded from, if any.
func (b *Booster) Path() string {
	return b.path
}

// Objective returns the training objective name, e.g. "multi:softprob".
func (b *Booster) Objective() string {
	return b.objective
}

// FeatureNames returns a copy of the trained feature names. It is empty when the model was saved
// without names.
func (b *Booster) FeatureNames() []string {
	return append([]string(nil), b.featureNames...)
}

// NumFeatures returns the number of input features.
func (b *Booster) NumFeatures() int {
	return b.numFeature
}

// NumOutputs returns the size of the margin vector: the class count for multi-class models,
// otherwise the number of targets (at least one).
func (b *Booster) NumOutputs() int {
	if b.numClass >= 2 {
		return b.numClass
	}
	if b.numTarget > 1 {
		return b.numTarget
	}
	return 1
}

// Classifier reports whether the objective produces class labels.
func (b *Booster) Classifier() bool {
	return strings.HasPrefix(b.objective, "multi:") || strings.HasPrefix(b.objective, "binary:")
}

// Trees returns the ensemble. Callers must not modify it.
func (b *Booster) Trees() []Tree {
	return b.trees
}

// BaseMargin returns the starting margin of output k.
func (b *Booster) BaseMargin(k int) float64 {
	return b.baseMargin[k]
}

// ModTime returns the modification time of the model file.
func (b *Booster) ModTime() time.Time {
	return b.modTime
}

// Margins returns the raw (untransformed) score of each output for row x.
func (b *Booster) Margins(x []float64) []float64 {
	m := make([]float64, len(b.baseMargin))
	copy(m, b.baseMargin)
	for i := range b.trees {
		t := &b.trees[i]
		m[t.Group] += t.Predict(x)
	}
	return m
}

// Transform maps margins to the objective's output space (probabilities, counts, values).
func (b *Booster) Transform(margins []float64) []float64 {
	out := make([]float64, len(margins))
	switch b.objective {
	case "multi:softprob", "multi:softmax":
		maxM := math.Inf(-1)
		for _, m := range margins {
			maxM = math.Max(maxM, m)
		}
		sum := 0.0
		for k, m := range margins {
			out[k] = math.Exp(m - maxM)
			sum += out[k]
		}
		for k := range out {
			out[k] /= sum
		}
	case "binary:logistic", "reg:logistic":
		for k, m := range margins {
			out[k] = 1 / (1 + math.Exp(-m))
		}
	case "count:poisson", "reg:gamma", "reg:tweedie", "survival:cox":
		for k, m := range margins {
			out[k] = math.Exp(m)
		}
	default:
		copy(out, margins)
	}
	return out
}

// Label turns margins into the label the model's predict call would return.
func (b *Booster) Label(margins []float64) string {
	switch {
	case strings.HasPrefix(b.objective, "multi:"):
		best := 0
		for k := 1; k < len(margins); k++ {
			if margins[k] > margins[best] {
				best = k
			}
		}
		return strconv.Itoa(best)
	case strings.HasPrefix(b.objective, "binary:"):
		if margins[0] > 0 {
			return "1"
		}
		return "0"
	}
	out := b.Transform(margins)
	return strconv.FormatFloat(out[0], 'g', 6, 64)
}

// Info summarises the booster for display.
func (b *Booster) Info() ModelInfo {
	depth := 0
	for i := range b.trees {
		if d := b.trees[i].MaxDepth(); d > depth {
			depth = d
		}
	}

	version := make([]string, len(b.version))
	for i, v := range b.version {
		version[i] = strconv.Itoa(v)
	}

	return ModelInfo{
		Path:         b.path,
		Version:      strings.Join(version, "."),
		Objective:    b.objective,
		FeatureNames: b.FeatureNames(),
		NumFeatures:  b.numFeature,
		NumOutputs:   b.NumOutputs(),
		NumTrees:     len(b.trees),
		MaxDepth:     depth,
		BaseScore:    append([]float64(nil), b.baseScore...),
		Classifier:   b.Classifier(),
		ModifiedAt:   b.modTime,
		LoadedAt:     b.loadedAt,
	}
}
