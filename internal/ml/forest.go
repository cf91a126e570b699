package ml

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// ForestOptions configures RandomForest.
type ForestOptions struct {
	NEstimators     int
	Seed            int64
	ClassWeight     string // "" or ClassWeightBalanced
	MaxFeatures     int    // 0 means floor(sqrt(p))
	MaxDepth        int    // 0 means grow until leaves are pure
	MinSamplesSplit int
	Workers         int // 0 means GOMAXPROCS
}

// DefaultForestOptions returns 200 balanced trees seeded with 42.
func DefaultForestOptions() ForestOptions {
	return ForestOptions{
		NEstimators:     200,
		Seed:            42,
		ClassWeight:     ClassWeightBalanced,
		MinSamplesSplit: 2,
	}
}

// RandomForest is a bagged ensemble of decision trees.
type RandomForest struct {
	Trees       []DecisionTree `json:"trees"`
	NFeatures   int            `json:"n_features"`
	ClassWeight string         `json:"class_weight,omitempty"`

	opts ForestOptions
}

// NewRandomForest returns an unfitted forest.
func NewRandomForest(opts ForestOptions) *RandomForest {
	if opts.NEstimators <= 0 {
		opts.NEstimators = DefaultForestOptions().NEstimators
	}
	if opts.MinSamplesSplit < 2 {
		opts.MinSamplesSplit = 2
	}
	return &RandomForest{opts: opts, ClassWeight: opts.ClassWeight}
}

// Name identifies the model in reports.
func (f *RandomForest) Name() string {
	return "Random Forest"
}

// Fit grows NEstimators trees on bootstrap samples. Each tree gets its own
// PRNG seeded from Seed, so the result does not depend on worker scheduling.
func (f *RandomForest) Fit(ctx context.Context, X mat.Matrix, y []float64) error {
	n, p := X.Dims()
	if n == 0 || p == 0 {
		return fmt.Errorf("fit random forest: %w", ErrEmptyInput)
	}
	if len(y) != n {
		return fmt.Errorf("%w: %d samples, %d labels", ErrShapeMismatch, n, len(y))
	}
	classW, err := sampleWeights(y, f.opts.ClassWeight)
	if err != nil {
		return err
	}

	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = mat.Row(nil, i, X)
	}

	maxFeatures := f.opts.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = int(math.Sqrt(float64(p)))
	}
	if maxFeatures < 1 {
		maxFeatures = 1
	}
	if maxFeatures > p {
		maxFeatures = p
	}
	params := treeParams{
		maxFeatures:     maxFeatures,
		maxDepth:        f.opts.MaxDepth,
		minSamplesSplit: f.opts.MinSamplesSplit,
	}

	master := rand.New(rand.NewSource(f.opts.Seed))
	seeds := make([]int64, f.opts.NEstimators)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	workers := f.opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	trees := make([]DecisionTree, f.opts.NEstimators)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for t := range trees {
		t := t
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			trees[t] = growTree(rows, y, classW, params, seeds[t])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("fit random forest: %w", err)
	}

	f.Trees = trees
	f.NFeatures = p

	log.Debug().
		Int("trees", len(trees)).
		Int("max_features", maxFeatures).
		Int("first_tree_depth", trees[0].Depth()).
		Msg("random forest fitted")
	return nil
}

func growTree(rows [][]float64, y, classW []float64, params treeParams, seed int64) DecisionTree {
	rng := rand.New(rand.NewSource(seed))
	n := len(rows)

	counts := make([]float64, n)
	for i := 0; i < n; i++ {
		counts[rng.Intn(n)]++
	}

	idx := make([]int, 0, n)
	w := make([]float64, n)
	for i, c := range counts {
		if c == 0 {
			continue
		}
		idx = append(idx, i)
		w[i] = c * classW[i]
	}

	b := &treeBuilder{X: rows, y: y, w: w, params: params, rng: rng}
	b.build(idx, 0)
	return DecisionTree{Nodes: b.nodes}
}

// Fitted reports whether the forest has trees.
func (f *RandomForest) Fitted() bool {
	return f != nil && len(f.Trees) > 0
}

// PredictProba averages the positive-class share over all trees.
func (f *RandomForest) PredictProba(x []float64) (float64, error) {
	if !f.Fitted() {
		return 0, ErrNotFitted
	}
	if len(x) != f.NFeatures {
		return 0, fmt.Errorf("%w: forest expects %d features, got %d", ErrShapeMismatch, f.NFeatures, len(x))
	}
	var sum float64
	for i := range f.Trees {
		p, err := f.Trees[i].PredictProba(x)
		if err != nil {
			return 0, err
		}
		sum += p
	}
	return sum / float64(len(f.Trees)), nil
}

// Predict labels every row of X with 1 when the averaged probability exceeds 0.5.
func (f *RandomForest) Predict(X mat.Matrix) ([]float64, error) {
	n, _ := X.Dims()
	out := make([]float64, n)
	var row []float64
	for i := 0; i < n; i++ {
		row = rowOf(row, X, i)
		p, err := f.PredictProba(row)
		if err != nil {
			return nil, err
		}
		if p > 0.5 {
			out[i] = 1
		}
	}
	return out, nil
}
