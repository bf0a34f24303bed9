package ml

import (
	"errors"
	"math/rand/v2"
	"sort"
)

// ErrModelNotTrained is returned when predicting with an empty model.
var ErrModelNotTrained = errors.New("model not trained")

// TreeParams controls how a single tree grows.
type TreeParams struct {
	MaxDepth        int `json:"max_depth"`
	MinSamplesSplit int `json:"min_samples_split"`
	MinSamplesLeaf  int `json:"min_samples_leaf"`
	// MaxFeatures is the number of features sampled per split; 0 means all.
	MaxFeatures int `json:"max_features"`
}

func (p TreeParams) withDefaults(featureCount int) TreeParams {
	if p.MaxDepth <= 0 {
		p.MaxDepth = 3
	}
	if p.MinSamplesSplit < 2 {
		p.MinSamplesSplit = 2
	}
	if p.MinSamplesLeaf < 1 {
		p.MinSamplesLeaf = 1
	}
	if p.MaxFeatures <= 0 || p.MaxFeatures > featureCount {
		p.MaxFeatures = featureCount
	}
	return p
}

// DecisionTree is a CART classifier stored as a flat node slice; children are
// referenced by index.
type DecisionTree struct {
	Nodes []TreeNode `json:"nodes"`
}

type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	IsLeaf     bool    `json:"is_leaf"`
	// Distribution holds class probabilities at a leaf.
	Distribution []float64 `json:"distribution,omitempty"`
}

type treeBuilder struct {
	features   [][]float64
	labels     []int
	numClasses int
	params     TreeParams
	rnd        *rand.Rand
	nodes      []TreeNode
}

// Train grows the tree on the rows selected by indices. Repeated indices are
// allowed, which is how bootstrap samples are passed in.
func (dt *DecisionTree) Train(features [][]float64, labels []int, indices []int, numClasses int, params TreeParams, rnd *rand.Rand) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	if numClasses <= 0 {
		return errors.New("numClasses must be positive")
	}
	if indices == nil {
		indices = make([]int, len(features))
		for i := range indices {
			indices[i] = i
		}
	}
	if len(indices) == 0 {
		return errors.New("no training rows selected")
	}
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(0, 0))
	}

	b := &treeBuilder{
		features:   features,
		labels:     labels,
		numClasses: numClasses,
		params:     params.withDefaults(len(features[0])),
		rnd:        rnd,
	}
	b.build(append([]int(nil), indices...), 0)
	dt.Nodes = b.nodes
	return nil
}

// PredictProba walks the tree and returns the leaf class distribution.
func (dt *DecisionTree) PredictProba(features []float64) ([]float64, error) {
	if len(dt.Nodes) == 0 {
		return nil, ErrModelNotTrained
	}
	idx := 0
	for {
		node := dt.Nodes[idx]
		if node.IsLeaf {
			return node.Distribution, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return nil, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.Nodes) {
			return nil, errors.New("invalid tree state")
		}
	}
}

// Depth returns the length of the longest root-to-leaf path.
func (dt *DecisionTree) Depth() int {
	if len(dt.Nodes) == 0 {
		return 0
	}
	var walk func(idx int) int
	walk = func(idx int) int {
		node := dt.Nodes[idx]
		if node.IsLeaf {
			return 0
		}
		return 1 + max(walk(node.LeftChild), walk(node.RightChild))
	}
	return walk(0)
}

// build appends the subtree for rows to b.nodes and returns its root index.
func (b *treeBuilder) build(rows []int, depth int) int {
	counts := b.classCounts(rows)
	if depth >= b.params.MaxDepth || len(rows) < b.params.MinSamplesSplit ||
		len(rows) < 2*b.params.MinSamplesLeaf || isPure(counts) {
		return b.leaf(counts, len(rows))
	}

	split, ok := b.findBestSplit(rows, counts)
	if !ok {
		return b.leaf(counts, len(rows))
	}

	left := make([]int, 0, split.leftCount)
	right := make([]int, 0, len(rows)-split.leftCount)
	for _, r := range rows {
		if b.features[r][split.feature] <= split.threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}

	idx := len(b.nodes)
	b.nodes = append(b.nodes, TreeNode{
		FeatureIdx: split.feature,
		Threshold:  split.threshold,
	})
	leftIdx := b.build(left, depth+1)
	rightIdx := b.build(right, depth+1)
	b.nodes[idx].LeftChild = leftIdx
	b.nodes[idx].RightChild = rightIdx
	return idx
}

func (b *treeBuilder) leaf(counts []int, total int) int {
	dist := make([]float64, b.numClasses)
	if total > 0 {
		for c, n := range counts {
			dist[c] = float64(n) / float64(total)
		}
	}
	b.nodes = append(b.nodes, TreeNode{
		FeatureIdx:   -1,
		LeftChild:    -1,
		RightChild:   -1,
		IsLeaf:       true,
		Distribution: dist,
	})
	return len(b.nodes) - 1
}

type candidateSplit struct {
	feature   int
	threshold float64
	impurity  float64
	leftCount int
}

// findBestSplit samples MaxFeatures features in random order and keeps
// drawing past that budget until at least one valid split was seen.
func (b *treeBuilder) findBestSplit(rows []int, parentCounts []int) (candidateSplit, bool) {
	featureCount := len(b.features[0])
	order := b.rnd.Perm(featureCount)

	best := candidateSplit{feature: -1}
	found := false
	for visited, feature := range order {
		if visited >= b.params.MaxFeatures && found {
			break
		}
		if s, ok := b.bestSplitOn(rows, feature, parentCounts); ok {
			if !found || s.impurity < best.impurity {
				best = s
				found = true
			}
		}
	}
	return best, found
}

// bestSplitOn sweeps the sorted values of one feature and scores every
// midpoint between distinct neighbours by weighted gini.
func (b *treeBuilder) bestSplitOn(rows []int, feature int, parentCounts []int) (candidateSplit, bool) {
	sorted := append([]int(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool {
		return b.features[sorted[i]][feature] < b.features[sorted[j]][feature]
	})

	n := len(sorted)
	minLeaf := b.params.MinSamplesLeaf
	left := make([]int, b.numClasses)
	right := append([]int(nil), parentCounts...)

	best := candidateSplit{feature: feature}
	found := false
	for i := 0; i < n-1; i++ {
		label := b.labels[sorted[i]]
		left[label]++
		right[label]--

		leftN := i + 1
		if leftN < minLeaf || n-leftN < minLeaf {
			continue
		}
		cur := b.features[sorted[i]][feature]
		next := b.features[sorted[i+1]][feature]
		if cur == next {
			continue
		}
		impurity := weightedGini(left, leftN, right, n-leftN)
		if !found || impurity < best.impurity {
			threshold := cur + (next-cur)/2
			if threshold >= next {
				threshold = cur
			}
			best.threshold = threshold
			best.impurity = impurity
			best.leftCount = leftN
			found = true
		}
	}
	return best, found
}

func (b *treeBuilder) classCounts(rows []int) []int {
	counts := make([]int, b.numClasses)
	for _, r := range rows {
		counts[b.labels[r]]++
	}
	return counts
}

func weightedGini(left []int, leftN int, right []int, rightN int) float64 {
	total := float64(leftN + rightN)
	return (float64(leftN)/total)*gini(left, leftN) + (float64(rightN)/total)*gini(right, rightN)
}

func gini(counts []int, total int) float64 {
	if total == 0 {
		return 0
	}
	impurity := 1.0
	for _, count := range counts {
		prob := float64(count) / float64(total)
		impurity -= prob * prob
	}
	return impurity
}

func isPure(counts []int) bool {
	nonZero := 0
	for _, c := range counts {
		if c > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}

// argmax returns the first index holding the largest value.
func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
