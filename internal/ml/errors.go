package ml

import "errors"

var (
	// ErrNotFitted is returned when a model or scaler is used before Fit.
	ErrNotFitted = errors.New("not fitted")
	// ErrShapeMismatch is returned when input dimensions disagree with the fitted shape.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrEmptyInput is returned when Fit receives no samples or no features.
	ErrEmptyInput = errors.New("empty input")
)
