package dataset

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Split is a train/test partition of an encoded dataset.
type Split struct {
	XTrain, XTest *mat.Dense
	YTrain, YTest []float64
}

// TrainTestSplit shuffles rows with a PRNG seeded by seed and holds out
// ceil(n*testSize) of them for testing. The same seed and input always give
// the same partition.
func TrainTestSplit(e *Encoded, testSize float64, seed int64) (*Split, error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, fmt.Errorf("test size must be in (0, 1), got %v", testSize)
	}
	n, p := e.X.Dims()
	nTest := int(math.Ceil(float64(n) * testSize))
	nTrain := n - nTest
	if nTest == 0 || nTrain == 0 {
		return nil, fmt.Errorf("cannot split %d rows with test size %v", n, testSize)
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)

	s := &Split{
		XTrain: mat.NewDense(nTrain, p, nil),
		XTest:  mat.NewDense(nTest, p, nil),
		YTrain: make([]float64, nTrain),
		YTest:  make([]float64, nTest),
	}
	for i, src := range perm {
		if i < nTest {
			s.XTest.SetRow(i, e.X.RawRowView(src))
			s.YTest[i] = e.Y[src]
			continue
		}
		s.XTrain.SetRow(i-nTest, e.X.RawRowView(src))
		s.YTrain[i-nTest] = e.Y[src]
	}
	return s, nil
}
