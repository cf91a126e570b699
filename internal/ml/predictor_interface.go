// Package ml holds the churn models and the inference path built on them.
// It includes a standard scaler, an L2-regularized logistic regression,
// a random forest used for comparison during training, evaluation
// reports, permutation importance, JSON artifact persistence, the request
// predictor and the input drift monitor behind it.
//
// All numeric work runs on gonum matrices; fitted models are plain
// structs that serialize to deterministic JSON.
package ml

import (
	"context"

	"churn-service/internal/features"
)

// PredictorInterface defines the interface for churn predictors served over HTTP.
type PredictorInterface interface {
	// Predict scores one eight-field request.
	Predict(ctx context.Context, in features.CustomerInput) (Prediction, error)

	// Info describes the loaded model and schema.
	Info() ModelInfo
}

var _ PredictorInterface = (*Predictor)(nil)
