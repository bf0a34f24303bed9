package ml

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ForestParams configures a RandomForest.
type ForestParams struct {
	Trees     int        `json:"n_estimators"`
	Tree      TreeParams `json:"tree"`
	Seed      uint64     `json:"seed"`
	Bootstrap bool       `json:"bootstrap"`
	// Workers bounds concurrent tree fitting; 0 uses GOMAXPROCS.
	Workers int `json:"-"`
}

// DefaultForestParams mirrors the production training configuration.
func DefaultForestParams() ForestParams {
	return ForestParams{
		Trees: 200,
		Tree: TreeParams{
			MaxDepth:        15,
			MinSamplesSplit: 5,
			MinSamplesLeaf:  2,
			MaxFeatures:     SqrtFeatures(len(FeatureNames())),
		},
		Seed:      DefaultSeed,
		Bootstrap: true,
	}
}

// SqrtFeatures is the per-split feature budget used for classification
// forests: floor(sqrt(n)), at least 1.
func SqrtFeatures(n int) int {
	return max(1, int(math.Sqrt(float64(n))))
}

// RandomForest averages class probabilities over bagged decision trees.
type RandomForest struct {
	NumClasses int            `json:"num_classes"`
	Params     ForestParams   `json:"params"`
	Trees      []DecisionTree `json:"trees"`
}

// NewRandomForest returns an untrained forest.
func NewRandomForest(params ForestParams, numClasses int) *RandomForest {
	return &RandomForest{NumClasses: numClasses, Params: params}
}

// Train fits every tree. Per-tree seeds are drawn up front from the forest
// seed, so the result does not depend on scheduling.
func (f *RandomForest) Train(ctx context.Context, features [][]float64, labels []int) error {
	if len(features) == 0 {
		return errors.New("features is empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	if f.Params.Trees <= 0 {
		return errors.New("forest needs at least one tree")
	}
	for i, l := range labels {
		if l < 0 || l >= f.NumClasses {
			return fmt.Errorf("label %d at row %d out of range", l, i)
		}
	}

	master := rand.New(rand.NewPCG(f.Params.Seed, f.Params.Seed^0x9e3779b97f4a7c15))
	seeds := make([][2]uint64, f.Params.Trees)
	for i := range seeds {
		seeds[i] = [2]uint64{master.Uint64(), master.Uint64()}
	}

	trees := make([]DecisionTree, f.Params.Trees)
	g, ctx := errgroup.WithContext(ctx)
	workers := f.Params.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(workers)

	n := len(features)
	for i := range trees {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rnd := rand.New(rand.NewPCG(seeds[i][0], seeds[i][1]))
			var indices []int
			if f.Params.Bootstrap {
				indices = make([]int, n)
				for k := range indices {
					indices[k] = rnd.IntN(n)
				}
			}
			if err := trees[i].Train(features, labels, indices, f.NumClasses, f.Params.Tree, rnd); err != nil {
				return fmt.Errorf("tree %d: %w", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	f.Trees = trees
	return nil
}

// PredictProba returns the mean class distribution over all trees.
func (f *RandomForest) PredictProba(features []float64) ([]float64, error) {
	if len(f.Trees) == 0 {
		return nil, ErrModelNotTrained
	}
	proba := make([]float64, f.NumClasses)
	for i := range f.Trees {
		dist, err := f.Trees[i].PredictProba(features)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		if len(dist) != f.NumClasses {
			return nil, fmt.Errorf("tree %d: distribution has %d classes, want %d", i, len(dist), f.NumClasses)
		}
		for c, p := range dist {
			proba[c] += p
		}
	}
	for c := range proba {
		proba[c] /= float64(len(f.Trees))
	}
	return proba, nil
}

// Predict returns the most probable class index and its probability.
func (f *RandomForest) Predict(features []float64) (int, float64, error) {
	proba, err := f.PredictProba(features)
	if err != nil {
		return 0, 0, err
	}
	best := argmax(proba)
	return best, proba[best], nil
}

// PredictBatch predicts a class index for every row.
func (f *RandomForest) PredictBatch(rows [][]float64) ([]int, error) {
	out := make([]int, len(rows))
	for i, row := range rows {
		label, _, err := f.Predict(row)
		if err != nil {
			return nil, err
		}
		out[i] = label
	}
	return out, nil
}
