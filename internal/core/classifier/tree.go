package classifier

import (
	"errors"
	"fmt"
	"sort"
)

// TreeConfig controls how far a tree is grown.
type TreeConfig struct {
	// MinSamplesSplit is the minimum node size that may still be split.
	MinSamplesSplit int
	// MaxDepth limits depth; zero means unlimited.
	MaxDepth int
}

// Tree is a binary CART classifier using gini impurity.
type Tree struct {
	root      *node
	nFeatures int
	leaves    int
	depth     int
}

type node struct {
	leaf      bool
	class     int
	feature   int
	threshold float64
	left      *node
	right     *node
}

// FitTree grows a tree on X (rows of equal width) and binary labels y.
func FitTree(X [][]float64, y []int, cfg TreeConfig) (*Tree, error) {
	if len(X) == 0 {
		return nil, errors.New("classifier: empty training matrix")
	}
	if len(X) != len(y) {
		return nil, fmt.Errorf("classifier: %d rows but %d labels", len(X), len(y))
	}
	width := len(X[0])
	for i, row := range X {
		if len(row) != width {
			return nil, fmt.Errorf("classifier: row %d has %d columns, want %d", i, len(row), width)
		}
	}
	for i, label := range y {
		if label != 0 && label != 1 {
			return nil, fmt.Errorf("classifier: label %d at row %d is not binary", label, i)
		}
	}
	if cfg.MinSamplesSplit < 2 {
		cfg.MinSamplesSplit = 2
	}

	t := &Tree{nFeatures: width}
	idx := make([]int, len(X))
	for i := range idx {
		idx[i] = i
	}
	t.root = t.grow(X, y, idx, 0, cfg)
	return t, nil
}

func (t *Tree) grow(X [][]float64, y []int, idx []int, depth int, cfg TreeConfig) *node {
	if depth > t.depth {
		t.depth = depth
	}

	var pos int
	for _, i := range idx {
		pos += y[i]
	}
	n := len(idx)

	leaf := func() *node {
		t.leaves++
		class := 0
		if pos*2 > n {
			class = 1
		}
		return &node{leaf: true, class: class}
	}

	if pos == 0 || pos == n || n < cfg.MinSamplesSplit || (cfg.MaxDepth > 0 && depth >= cfg.MaxDepth) {
		return leaf()
	}

	feature, threshold, ok := bestSplit(X, y, idx, pos)
	if !ok {
		return leaf()
	}

	left := make([]int, 0, n)
	right := make([]int, 0, n)
	for _, i := range idx {
		if X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	return &node{
		feature:   feature,
		threshold: threshold,
		left:      t.grow(X, y, left, depth+1, cfg),
		right:     t.grow(X, y, right, depth+1, cfg),
	}
}

// bestSplit scans every feature for the midpoint threshold with the lowest
// weighted gini impurity. Ties keep the earliest feature and threshold.
func bestSplit(X [][]float64, y []int, idx []int, pos int) (int, float64, bool) {
	n := len(idx)
	best := gini(pos, n) * float64(n)
	bestFeature, bestThreshold := -1, 0.0

	sorted := make([]int, n)
	for f := 0; f < len(X[idx[0]]); f++ {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, b int) bool { return X[sorted[a]][f] < X[sorted[b]][f] })

		leftPos := 0
		for k := 1; k < n; k++ {
			leftPos += y[sorted[k-1]]
			lo, hi := X[sorted[k-1]][f], X[sorted[k]][f]
			if lo == hi {
				continue
			}
			rightPos := pos - leftPos
			impurity := gini(leftPos, k)*float64(k) + gini(rightPos, n-k)*float64(n-k)
			if impurity < best {
				best = impurity
				bestFeature = f
				bestThreshold = lo + (hi-lo)/2
				if bestThreshold >= hi {
					bestThreshold = lo
				}
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

func gini(pos, n int) float64 {
	if n == 0 {
		return 0
	}
	p := float64(pos) / float64(n)
	return 2 * p * (1 - p)
}

// Predict classifies a single feature row.
func (t *Tree) Predict(x []float64) int {
	nd := t.root
	for !nd.leaf {
		if x[nd.feature] <= nd.threshold {
			nd = nd.left
		} else {
			nd = nd.right
		}
	}
	return nd.class
}

// PredictAll classifies every row of X.
func (t *Tree) PredictAll(X [][]float64) []int {
	out := make([]int, len(X))
	for i, x := range X {
		out[i] = t.Predict(x)
	}
	return out
}

// Leaves returns the number of leaf nodes.
func (t *Tree) Leaves() int { return t.leaves }

// Depth returns the depth of the deepest node.
func (t *Tree) Depth() int { return t.depth }
