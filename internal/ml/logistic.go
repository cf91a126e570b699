package ml

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ClassWeightBalanced reweights samples by n_samples / (n_classes * class_count).
const ClassWeightBalanced = "balanced"

// LogisticOptions configures LogisticRegression.
type LogisticOptions struct {
	C           float64 // inverse L2 regularization strength
	MaxIter     int
	Tol         float64
	ClassWeight string // "" or ClassWeightBalanced
}

// DefaultLogisticOptions mirrors the usual defaults: C=1, 1000 iterations.
func DefaultLogisticOptions() LogisticOptions {
	return LogisticOptions{C: 1.0, MaxIter: 1000, Tol: 1e-8}
}

// LogisticRegression is an L2-regularized binary logistic model.
// The intercept is not penalized.
type LogisticRegression struct {
	Coef        []float64 `json:"coefficients"`
	Intercept   float64   `json:"intercept"`
	Classes     []int     `json:"classes"`
	ClassWeight string    `json:"class_weight,omitempty"`
	C           float64   `json:"c"`
	NIter       int       `json:"n_iter"`

	opts LogisticOptions
}

// NewLogisticRegression returns an unfitted model.
func NewLogisticRegression(opts LogisticOptions) *LogisticRegression {
	def := DefaultLogisticOptions()
	if opts.C <= 0 {
		opts.C = def.C
	}
	if opts.MaxIter <= 0 {
		opts.MaxIter = def.MaxIter
	}
	if opts.Tol <= 0 {
		opts.Tol = def.Tol
	}
	return &LogisticRegression{opts: opts, C: opts.C, ClassWeight: opts.ClassWeight}
}

// Name identifies the variant in reports.
func (m *LogisticRegression) Name() string {
	if m.ClassWeight == ClassWeightBalanced {
		return "Balanced Logistic Regression"
	}
	return "Logistic Regression"
}

// Fit minimizes C*sum(w_i*logloss_i) + 0.5*||coef||^2 with damped Newton steps.
// y must contain only 0 and 1.
func (m *LogisticRegression) Fit(X mat.Matrix, y []float64) error {
	n, p := X.Dims()
	if n == 0 || p == 0 {
		return fmt.Errorf("fit logistic regression: %w", ErrEmptyInput)
	}
	if len(y) != n {
		return fmt.Errorf("%w: %d samples, %d labels", ErrShapeMismatch, n, len(y))
	}
	weights, err := sampleWeights(y, m.opts.ClassWeight)
	if err != nil {
		return err
	}

	// Augment with a constant column for the intercept.
	k := p + 1
	Xa := mat.NewDense(n, k, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			Xa.Set(i, j, X.At(i, j))
		}
		Xa.Set(i, p, 1)
	}

	beta := mat.NewVecDense(k, nil)
	z := mat.NewVecDense(n, nil)
	resid := mat.NewVecDense(n, nil)
	grad := mat.NewVecDense(k, nil)
	weighted := mat.NewDense(n, k, nil)
	var hess mat.SymDense
	var step mat.VecDense
	var chol mat.Cholesky

	C := m.opts.C
	loss := m.objective(Xa, y, weights, beta, z)

	iter := 0
	for iter = 1; iter <= m.opts.MaxIter; iter++ {
		z.MulVec(Xa, beta)
		for i := 0; i < n; i++ {
			pr := sigmoid(z.AtVec(i))
			resid.SetVec(i, C*weights[i]*(pr-y[i]))
			d := math.Sqrt(C * weights[i] * pr * (1 - pr))
			for j := 0; j < k; j++ {
				weighted.Set(i, j, d*Xa.At(i, j))
			}
		}

		grad.MulVec(Xa.T(), resid)
		for j := 0; j < p; j++ {
			grad.SetVec(j, grad.AtVec(j)+beta.AtVec(j))
		}

		hess.SymOuterK(1, weighted.T())
		for j := 0; j < p; j++ {
			hess.SetSym(j, j, hess.At(j, j)+1)
		}
		// Tiny ridge on the intercept keeps the system positive definite for separable data.
		hess.SetSym(p, p, hess.At(p, p)+1e-12)

		if ok := chol.Factorize(&hess); !ok {
			return fmt.Errorf("logistic regression: hessian not positive definite at iteration %d", iter)
		}
		if err := chol.SolveVecTo(&step, grad); err != nil {
			return fmt.Errorf("logistic regression: newton step: %w", err)
		}

		// Backtracking keeps the objective monotone.
		t := 1.0
		var next mat.VecDense
		var nextLoss float64
		for halvings := 0; halvings < 30; halvings++ {
			next.AddScaledVec(beta, -t, &step)
			nextLoss = m.objective(Xa, y, weights, &next, z)
			if nextLoss <= loss {
				break
			}
			t /= 2
		}
		beta.CopyVec(&next)

		stepNorm := t * mat.Norm(&step, math.Inf(1))
		improvement := loss - nextLoss
		loss = nextLoss
		if stepNorm < m.opts.Tol || math.Abs(improvement) <= m.opts.Tol*math.Max(1, math.Abs(loss)) {
			break
		}
	}
	if iter > m.opts.MaxIter {
		iter = m.opts.MaxIter
		log.Warn().Int("max_iter", m.opts.MaxIter).Str("model", m.Name()).Msg("logistic regression did not converge")
	}

	m.Coef = make([]float64, p)
	for j := 0; j < p; j++ {
		m.Coef[j] = beta.AtVec(j)
	}
	m.Intercept = beta.AtVec(p)
	m.Classes = []int{0, 1}
	m.NIter = iter
	return nil
}

// objective evaluates the penalized weighted log loss; z is scratch space.
func (m *LogisticRegression) objective(Xa *mat.Dense, y, weights []float64, beta mat.Vector, z *mat.VecDense) float64 {
	z.MulVec(Xa, beta)
	var loss float64
	for i := range y {
		s := z.AtVec(i)
		// log(1+exp(-s)) for y=1, log(1+exp(s)) for y=0, computed stably.
		if y[i] == 1 {
			loss += weights[i] * softplus(-s)
		} else {
			loss += weights[i] * softplus(s)
		}
	}
	_, k := Xa.Dims()
	penalty := 0.0
	for j := 0; j < k-1; j++ {
		b := beta.AtVec(j)
		penalty += b * b
	}
	return m.opts.C*loss + 0.5*penalty
}

func softplus(x float64) float64 {
	if x > 0 {
		return x + math.Log1p(math.Exp(-x))
	}
	return math.Log1p(math.Exp(x))
}

// Fitted reports whether the model has coefficients.
func (m *LogisticRegression) Fitted() bool {
	return m != nil && len(m.Coef) > 0
}

// NumFeatures returns the coefficient count.
func (m *LogisticRegression) NumFeatures() int {
	return len(m.Coef)
}

// DecisionFunction returns the raw linear score coef·x + intercept.
func (m *LogisticRegression) DecisionFunction(x []float64) (float64, error) {
	if !m.Fitted() {
		return 0, ErrNotFitted
	}
	if len(x) != len(m.Coef) {
		return 0, fmt.Errorf("%w: model expects %d features, got %d", ErrShapeMismatch, len(m.Coef), len(x))
	}
	return floats.Dot(m.Coef, x) + m.Intercept, nil
}

// PredictProba returns P(y=1|x).
func (m *LogisticRegression) PredictProba(x []float64) (float64, error) {
	score, err := m.DecisionFunction(x)
	if err != nil {
		return 0, err
	}
	return sigmoid(score), nil
}

// Predict labels every row of X: 1 when the decision score is positive.
func (m *LogisticRegression) Predict(X mat.Matrix) ([]float64, error) {
	n, _ := X.Dims()
	out := make([]float64, n)
	row := make([]float64, 0)
	for i := 0; i < n; i++ {
		row = rowOf(row, X, i)
		score, err := m.DecisionFunction(row)
		if err != nil {
			return nil, err
		}
		if score > 0 {
			out[i] = 1
		}
	}
	return out, nil
}

func rowOf(dst []float64, X mat.Matrix, i int) []float64 {
	_, p := X.Dims()
	if cap(dst) < p {
		dst = make([]float64, p)
	}
	dst = dst[:p]
	return mat.Row(dst, i, X)
}

// sigmoid converts a score to a probability
func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// sampleWeights returns per-sample weights for the given class weighting mode.
func sampleWeights(y []float64, mode string) ([]float64, error) {
	w := make([]float64, len(y))
	var counts [2]float64
	for i, v := range y {
		switch v {
		case 0, 1:
			counts[int(v)]++
		default:
			return nil, fmt.Errorf("label %v at row %d is not binary", v, i)
		}
		w[i] = 1
	}

	switch mode {
	case "":
		return w, nil
	case ClassWeightBalanced:
		n := float64(len(y))
		var cw [2]float64
		for c := range counts {
			if counts[c] > 0 {
				cw[c] = n / (2 * counts[c])
			}
		}
		for i, v := range y {
			w[i] = cw[int(v)]
		}
		return w, nil
	default:
		return nil, fmt.Errorf("unknown class weight %q", mode)
	}
}
