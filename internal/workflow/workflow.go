// Package workflow runs the predict-then-explain action behind the dashboard: it predicts
// the species for one slider input, attributes the chosen output with TreeSHAP, renders the
// force plot, writes it to the shared artifact file and reads it back for embedding.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"iris-explainer/internal/explain"
	"iris-explainer/internal/forceplot"
	"iris-explainer/internal/ml"
	"iris-explainer/internal/storage"
)

var (
	// ErrPrediction marks failures before a label was produced.
	ErrPrediction = errors.New("prediction failed")
	// ErrExplanation marks failures after a label was produced; the Result still carries it.
	ErrExplanation = errors.New("attribution failed")
	// ErrHistoryDisabled is returned by History when no store is configured.
	ErrHistoryDisabled = errors.New("prediction history is disabled")
)

// Metrics defines the attribution metrics recorded by the service.
type Metrics interface {
	ExplanationsInc()
	ExplanationFailuresInc()
	ExplanationLatencyObserve(float64)
	ArtifactWritesInc()
}

// HistoryStore persists and lists past predictions.
type HistoryStore interface {
	StorePrediction(rec storage.PredictionRecord) (storage.PredictionRecord, error)
	Recent(n int) ([]storage.PredictionRecord, error)
}

// Options wires a Service. Predictor and Artifact are required.
type Options struct {
	Predictor   ml.PredictorInterface
	Artifact    *forceplot.Artifact
	Stats       *ml.FeatureImportance
	History     HistoryStore
	Metrics     Metrics
	OutputIndex int
}

// Result is everything one run produced.
type Result struct {
	ID            string                 `json:"id"`
	Input         ml.Input               `json:"input"`
	Label         string                 `json:"label"`
	Scores        []float64              `json:"scores"`
	Margins       []float64              `json:"margins"`
	Explanation   *explain.Explanation   `json:"explanation,omitempty"`
	Contributions []explain.Contribution `json:"contributions,omitempty"`
	PlotHTML      string                 `json:"plot_html,omitempty"`
	ArtifactPath  string                 `json:"artifact_path,omitempty"`
	Duration      time.Duration          `json:"duration_ns"`
}

type Service struct {
	predictor   ml.PredictorInterface
	explainer   *explain.TreeExplainer
	artifact    *forceplot.Artifact
	stats       *ml.FeatureImportance
	history     HistoryStore
	metrics     Metrics
	outputIndex int
}

// New builds a Service. The output index is checked against the model once here, so a
// misconfigured index fails at startup rather than on every request.
func New(opts Options) (*Service, error) {
	if opts.Predictor == nil {
		return nil, fmt.Errorf("predictor is required")
	}
	if opts.Artifact == nil {
		return nil, fmt.Errorf("artifact is required")
	}

	explainer, err := explain.NewTreeExplainer(opts.Predictor.Booster())
	if err != nil {
		return nil, fmt.Errorf("create explainer: %w", err)
	}
	if _, err := explainer.ExpectedValue(opts.OutputIndex); err != nil {
		return nil, err
	}

	return &Service{
		predictor:   opts.Predictor,
		explainer:   explainer,
		artifact:    opts.Artifact,
		stats:       opts.Stats,
		history:     opts.History,
		metrics:     opts.Metrics,
		outputIndex: opts.OutputIndex,
	}, nil
}

// Run predicts and explains one input. Values outside the slider range are clamped first.
//
// A prediction failure returns a nil Result and an error wrapping ErrPrediction. An
// attribution failure returns the Result with the label filled in and an error wrapping
// ErrExplanation.
func (s *Service) Run(ctx context.Context, in ml.Input) (*Result, error) {
	start := time.Now()
	in = in.Clamp()

	preds, err := s.predictor.Predict(ctx, in.Frame())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPrediction, err)
	}
	if len(preds) != 1 {
		return nil, fmt.Errorf("%w: expected 1 prediction, got %d", ErrPrediction, len(preds))
	}

	res := &Result{
		ID:      uuid.NewString(),
		Input:   in,
		Label:   preds[0].Label,
		Scores:  preds[0].Scores,
		Margins: preds[0].Margins,
	}

	if err := s.attribute(ctx, in, res); err != nil {
		if s.metrics != nil {
			s.metrics.ExplanationFailuresInc()
		}
		log.Error().
			Err(err).
			Str("label", res.Label).
			Int("output_index", s.outputIndex).
			Msg("Attribution failed")
		res.Duration = time.Since(start)
		s.record(res, err)
		return res, fmt.Errorf("%w: %w", ErrExplanation, err)
	}

	res.Duration = time.Since(start)
	s.stats.Update(res.Explanation.Data, res.Explanation.Values)
	s.record(res, nil)

	log.Debug().
		Str("id", res.ID).
		Str("label", res.Label).
		Float64("base_value", res.Explanation.BaseValue).
		Dur("duration", res.Duration).
		Msg("Prediction explained")

	return res, nil
}

func (s *Service) attribute(ctx context.Context, in ml.Input, res *Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	exp, err := s.explainer.Explain(in.Values(), s.outputIndex)
	if err != nil {
		return err
	}

	html, err := forceplot.Render(exp)
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.ExplanationLatencyObserve(time.Since(start).Seconds())
		s.metrics.ExplanationsInc()
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	content, err := s.artifact.WriteAndRead(html)
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.ArtifactWritesInc()
	}

	res.Explanation = exp
	res.Contributions = exp.Contributions()
	res.PlotHTML = content
	res.ArtifactPath = s.artifact.Path()
	return nil
}

func (s *Service) record(res *Result, runErr error) {
	if s.history == nil {
		return
	}

	rec := storage.PredictionRecord{
		ID:            res.ID,
		Input:         res.Input,
		Label:         res.Label,
		Scores:        res.Scores,
		OutputIndex:   s.outputIndex,
		Contributions: res.Contributions,
	}
	if res.Explanation != nil {
		rec.BaseValue = res.Explanation.BaseValue
		rec.OutputValue = res.Explanation.OutputValue()
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}

	if _, err := s.history.StorePrediction(rec); err != nil {
		log.Warn().Err(err).Str("id", res.ID).Msg("Failed to store prediction")
	}
}

// History returns up to n past predictions, newest first.
func (s *Service) History(n int) ([]storage.PredictionRecord, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	return s.history.Recent(n)
}

// HistoryEnabled reports whether predictions are persisted.
func (s *Service) HistoryEnabled() bool {
	return s.history != nil
}

// Importance returns the aggregated attribution statistics and the feature names ranked by
// mean absolute contribution.
func (s *Service) Importance(top int) (map[string]*ml.FeatureStats, []string) {
	return s.stats.GetFeatureImportance(), s.stats.GetTopFeatures(top)
}

// ModelInfo describes the loaded model.
func (s *Service) ModelInfo() ml.ModelInfo {
	return s.predictor.Booster().Info()
}

// OutputIndex is the model output being explained.
func (s *Service) OutputIndex() int {
	return s.outputIndex
}
