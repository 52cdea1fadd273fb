// Package ml provides gradient-boosted tree inference for the explainer service.
// It loads XGBoost JSON models, assembles named single-row frames from form input,
// checks them against the trained schema and tracks per-feature attribution statistics.
package ml

import "context"

// PredictorInterface defines the prediction surface used by the workflow.
// Implementations must be safe for concurrent use.
type PredictorInterface interface {
	// Predict returns one prediction per frame row, or an error when the frame does not match
	// the model schema.
	Predict(ctx context.Context, frame Frame) ([]Prediction, error)

	// Booster exposes the model the predictions come from, for explainers.
	Booster() *Booster
}
