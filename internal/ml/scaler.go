package ml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// StandardScaler standardizes features to zero mean and unit variance.
// Variance is the population variance; constant columns keep scale 1.
type StandardScaler struct {
	Mean         []float64 `json:"mean"`
	Var          []float64 `json:"var"`
	Scale        []float64 `json:"scale"`
	NSamplesSeen int       `json:"n_samples_seen"`
}

// NewStandardScaler returns an unfitted scaler.
func NewStandardScaler() *StandardScaler {
	return &StandardScaler{}
}

// Fit learns per-column mean and variance from X.
func (s *StandardScaler) Fit(X mat.Matrix) error {
	n, p := X.Dims()
	if n == 0 || p == 0 {
		return fmt.Errorf("fit scaler: %w", ErrEmptyInput)
	}

	s.Mean = make([]float64, p)
	s.Var = make([]float64, p)
	s.Scale = make([]float64, p)
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		mat.Col(col, j, X)
		mean, variance := stat.PopMeanVariance(col, nil)
		s.Mean[j] = mean
		s.Var[j] = variance
		s.Scale[j] = scaleOf(variance)
	}
	s.NSamplesSeen = n
	return nil
}

func scaleOf(variance float64) float64 {
	std := math.Sqrt(variance)
	if std < 10*epsilon64 {
		return 1
	}
	return std
}

// epsilon64 is the float64 machine epsilon.
const epsilon64 = 2.220446049250313e-16

// Fitted reports whether Fit has run.
func (s *StandardScaler) Fitted() bool {
	return s != nil && len(s.Mean) > 0 && len(s.Scale) == len(s.Mean)
}

// NumFeatures returns the column count the scaler was fitted on.
func (s *StandardScaler) NumFeatures() int {
	return len(s.Mean)
}

// Transform returns a standardized copy of X.
func (s *StandardScaler) Transform(X mat.Matrix) (*mat.Dense, error) {
	if !s.Fitted() {
		return nil, ErrNotFitted
	}
	n, p := X.Dims()
	if p != len(s.Mean) {
		return nil, fmt.Errorf("%w: scaler expects %d features, got %d", ErrShapeMismatch, len(s.Mean), p)
	}

	out := mat.NewDense(n, p, nil)
	out.Apply(func(_, j int, v float64) float64 {
		return (v - s.Mean[j]) / s.Scale[j]
	}, X)
	return out, nil
}

// FitTransform fits on X and returns the standardized copy.
func (s *StandardScaler) FitTransform(X mat.Matrix) (*mat.Dense, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// TransformVec standardizes a single sample.
func (s *StandardScaler) TransformVec(x []float64) ([]float64, error) {
	if !s.Fitted() {
		return nil, ErrNotFitted
	}
	if len(x) != len(s.Mean) {
		return nil, fmt.Errorf("%w: scaler expects %d features, got %d", ErrShapeMismatch, len(s.Mean), len(x))
	}

	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out, nil
}
