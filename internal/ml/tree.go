package ml

import (
	"errors"
	"math/rand"
	"sort"
)

// TreeNode is one node of a flattened decision tree. Children are indices
// into the owning tree's node slice; leaves carry the weighted share of the
// positive class.
type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	Value      float64 `json:"value"`
	IsLeaf     bool    `json:"is_leaf"`
}

// DecisionTree is a binary CART classifier split on weighted Gini impurity.
type DecisionTree struct {
	Nodes []TreeNode `json:"nodes"`
}

type treeParams struct {
	maxFeatures     int
	maxDepth        int // 0 means unlimited
	minSamplesSplit int
}

// treeBuilder holds the shared training data while one tree grows.
type treeBuilder struct {
	X       [][]float64
	y       []float64
	w       []float64 // per-sample weight, class weight times bootstrap multiplicity
	params  treeParams
	rng     *rand.Rand
	nodes   []TreeNode
	featBuf []int
}

func (b *treeBuilder) build(idx []int, depth int) int {
	self := len(b.nodes)
	b.nodes = append(b.nodes, TreeNode{})

	w0, w1 := b.classWeights(idx)
	value := 0.0
	if w0+w1 > 0 {
		value = w1 / (w0 + w1)
	}
	leaf := TreeNode{FeatureIdx: -1, LeftChild: -1, RightChild: -1, Value: value, IsLeaf: true}

	if w0 == 0 || w1 == 0 ||
		len(idx) < b.params.minSamplesSplit ||
		(b.params.maxDepth > 0 && depth >= b.params.maxDepth) {
		b.nodes[self] = leaf
		return self
	}

	feature, threshold, ok := b.bestSplit(idx, w0, w1)
	if !ok {
		b.nodes[self] = leaf
		return self
	}

	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[self] = TreeNode{
		FeatureIdx: feature,
		Threshold:  threshold,
		LeftChild:  l,
		RightChild: r,
		Value:      value,
	}
	return self
}

func (b *treeBuilder) classWeights(idx []int) (w0, w1 float64) {
	for _, i := range idx {
		if b.y[i] == 1 {
			w1 += b.w[i]
		} else {
			w0 += b.w[i]
		}
	}
	return w0, w1
}

// bestSplit scans a random subset of features and returns the split with the
// lowest weighted child impurity.
func (b *treeBuilder) bestSplit(idx []int, w0, w1 float64) (int, float64, bool) {
	p := len(b.X[0])
	if cap(b.featBuf) < p {
		b.featBuf = make([]int, p)
	}
	feats := b.featBuf[:p]
	for j := range feats {
		feats[j] = j
	}
	b.rng.Shuffle(p, func(i, j int) { feats[i], feats[j] = feats[j], feats[i] })
	feats = feats[:b.params.maxFeatures]

	total := w0 + w1
	bestFeature := -1
	bestThreshold := 0.0
	bestImpurity := weightedGini(w0, w1) * total

	sorted := make([]int, len(idx))
	for _, f := range feats {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, c int) bool {
			return b.X[sorted[a]][f] < b.X[sorted[c]][f]
		})

		var l0, l1 float64
		for k := 0; k < len(sorted)-1; k++ {
			i := sorted[k]
			if b.y[i] == 1 {
				l1 += b.w[i]
			} else {
				l0 += b.w[i]
			}

			cur, nxt := b.X[i][f], b.X[sorted[k+1]][f]
			if cur == nxt {
				continue
			}
			r0, r1 := w0-l0, w1-l1
			impurity := weightedGini(l0, l1)*(l0+l1) + weightedGini(r0, r1)*(r0+r1)
			if impurity < bestImpurity-1e-12 {
				bestImpurity = impurity
				bestFeature = f
				bestThreshold = cur + (nxt-cur)/2
			}
		}
	}

	if bestFeature < 0 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

func weightedGini(w0, w1 float64) float64 {
	total := w0 + w1
	if total <= 0 {
		return 0
	}
	p0, p1 := w0/total, w1/total
	return 1 - p0*p0 - p1*p1
}

// PredictProba walks the tree and returns the leaf's positive-class share.
func (t *DecisionTree) PredictProba(x []float64) (float64, error) {
	if len(t.Nodes) == 0 {
		return 0, ErrNotFitted
	}
	idx := 0
	for {
		node := t.Nodes[idx]
		if node.IsLeaf {
			return node.Value, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(x) {
			return 0, ErrShapeMismatch
		}
		if x[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(t.Nodes) {
			return 0, errors.New("invalid tree state")
		}
	}
}

// Depth returns the longest root-to-leaf path length.
func (t *DecisionTree) Depth() int {
	if len(t.Nodes) == 0 {
		return 0
	}
	var walk func(i int) int
	walk = func(i int) int {
		n := t.Nodes[i]
		if n.IsLeaf {
			return 0
		}
		return 1 + max(walk(n.LeftChild), walk(n.RightChild))
	}
	return walk(0)
}
