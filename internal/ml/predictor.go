package ml

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrSchemaMismatch is returned when a frame's columns disagree with the trained features.
	ErrSchemaMismatch = errors.New("feature schema mismatch")
	// ErrInvalidFeature is returned for NaN, infinite or extreme feature values.
	ErrInvalidFeature = errors.New("invalid feature value")
)

// MetricsInterface defines metrics methods needed by the predictor
type MetricsInterface interface {
	MLPredictionsInc()
	MLFailuresInc()
	MLLatencyObserve(float64)
	MLModelAgeSet(float64)
	MLPredictionScoresObserve(float64)
}

// Prediction is the model output for one row.
type Prediction struct {
	Label   string    `json:"label"`
	Margins []float64 `json:"margins"`
	Scores  []float64 `json:"scores"`
}

type Predictor struct {
	booster *Booster
	metrics MetricsInterface
}

// NewPredictor wraps a loaded booster. metrics may be nil.
func NewPredictor(booster *Booster, metrics MetricsInterface) (*Predictor, error) {
	if booster == nil {
		return nil, fmt.Errorf("booster is nil")
	}

	p := &Predictor{booster: booster, metrics: metrics}

	if p.metrics != nil && !booster.ModTime().IsZero() {
		p.metrics.MLModelAgeSet(time.Since(booster.ModTime()).Seconds())
	}

	return p, nil
}

// Booster returns the underlying model.
func (p *Predictor) Booster() *Booster {
	return p.booster
}

// Predict runs the model over every row of the frame after checking its schema.
func (p *Predictor) Predict(ctx context.Context, frame Frame) ([]Prediction, error) {
	if p == nil {
		return nil, fmt.Errorf("predictor is nil")
	}

	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.MLLatencyObserve(time.Since(start).Seconds())
		}
	}()

	preds, err := p.predict(ctx, frame)
	if err != nil {
		if p.metrics != nil {
			p.metrics.MLFailuresInc()
		}
		log.Error().
			Err(err).
			Strs("columns", frame.Columns).
			Int("rows", frame.NumRows()).
			Msg("Prediction failed")
		return nil, err
	}

	if p.metrics != nil {
		for _, pr := range preds {
			p.metrics.MLPredictionsInc()
			p.metrics.MLPredictionScoresObserve(maxScore(pr.Scores))
		}
	}

	return preds, nil
}

func (p *Predictor) predict(ctx context.Context, frame Frame) ([]Prediction, error) {
	if err := p.CheckSchema(frame.Columns); err != nil {
		return nil, err
	}

	preds := make([]Prediction, 0, frame.NumRows())
	for i := 0; i < frame.NumRows(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		row, err := frame.Row(i)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
		}
		if err := ValidateRow(row); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}

		margins := p.booster.Margins(row)
		preds = append(preds, Prediction{
			Label:   p.booster.Label(margins),
			Margins: margins,
			Scores:  p.booster.Transform(margins),
		})
	}

	log.Debug().
		Int("rows", len(preds)).
		Msg("Prediction successful")

	return preds, nil
}

// CheckSchema verifies that columns match the trained feature names exactly, in order. Models
// saved without names only need the column count to match.
func (p *Predictor) CheckSchema(columns []string) error {
	names := p.booster.featureNames
	if len(columns) != p.booster.numFeature {
		return fmt.Errorf("%w: expected %d columns, got %d", ErrSchemaMismatch, p.booster.numFeature, len(columns))
	}
	if len(names) == 0 {
		return nil
	}
	for i := range names {
		if columns[i] != names[i] {
			return fmt.Errorf("%w: column %d is %q, model expects %q", ErrSchemaMismatch, i, columns[i], names[i])
		}
	}
	return nil
}

// ValidateRow rejects NaN, infinite and extreme values.
func ValidateRow(row []float64) error {
	for i, v := range row {
		if math.IsNaN(v) {
			return fmt.Errorf("%w: feature %d is NaN", ErrInvalidFeature, i)
		}
		if math.IsInf(v, 0) || v > 1e10 || v < -1e10 {
			return fmt.Errorf("%w: feature %d has extreme value %f", ErrInvalidFeature, i, v)
		}
	}
	return nil
}

func maxScore(scores []float64) float64 {
	best := math.Inf(-1)
	for _, s := range scores {
		best = math.Max(best, s)
	}
	return best
}
