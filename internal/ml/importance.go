package ml

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// BatchClassifier predicts hard 0/1 labels for every row of X.
type BatchClassifier interface {
	Predict(X mat.Matrix) ([]float64, error)
}

// FeatureScore is the accuracy lost when one feature column is shuffled.
type FeatureScore struct {
	Name       string  `json:"name"`
	Importance float64 `json:"importance"`
	Std        float64 `json:"std"`
}

// PermutationImportance shuffles each column of X in turn, repeats times,
// and reports the mean and standard deviation of the accuracy drop. Results
// are sorted by importance, highest first; ties keep column order.
func PermutationImportance(ctx context.Context, model BatchClassifier, X *mat.Dense, y []float64, names []string, repeats int, seed int64) ([]FeatureScore, error) {
	rows, cols := X.Dims()
	if rows == 0 {
		return nil, ErrEmptyInput
	}
	if len(y) != rows || len(names) != cols {
		return nil, fmt.Errorf("%w: X is %dx%d, %d labels, %d names", ErrShapeMismatch, rows, cols, len(y), len(names))
	}
	if repeats < 1 {
		repeats = 1
	}

	base, err := accuracy(model, X, y)
	if err != nil {
		return nil, err
	}

	scores := make([]FeatureScore, cols)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for j := 0; j < cols; j++ {
		j := j
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(seed + int64(j)))
			shuffled := mat.DenseCopyOf(X)
			col := mat.Col(nil, j, X)

			drops := make([]float64, repeats)
			for r := range drops {
				for i, k := range rng.Perm(rows) {
					shuffled.Set(i, j, col[k])
				}
				acc, err := accuracy(model, shuffled, y)
				if err != nil {
					return err
				}
				drops[r] = base - acc
			}
			mean, std := meanStd(drops)
			scores[j] = FeatureScore{Name: names[j], Importance: mean, Std: std}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(scores, func(a, b int) bool { return scores[a].Importance > scores[b].Importance })
	return scores, nil
}

func accuracy(model BatchClassifier, X mat.Matrix, y []float64) (float64, error) {
	pred, err := model.Predict(X)
	if err != nil {
		return 0, err
	}
	correct := 0
	for i := range y {
		if pred[i] == y[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(y)), nil
}

func meanStd(v []float64) (float64, float64) {
	var sum float64
	for _, x := range v {
		sum += x
	}
	mean := sum / float64(len(v))
	var ss float64
	for _, x := range v {
		ss += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(ss / float64(len(v)))
}
