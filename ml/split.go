package ml

import (
	"math"
	"math/rand/v2"
)

// splitDataset shuffles with a fixed seed and holds out ceil(n*testRatio)
// rows for testing.
func splitDataset(features [][]float64, labels []int, testRatio float64, seed uint64) (trainX [][]float64, trainY []int, testX [][]float64, testY []int) {
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = 0.2
	}
	rnd := rand.New(rand.NewPCG(seed, seed))
	indices := rnd.Perm(len(features))

	testCount := int(math.Ceil(float64(len(features)) * testRatio))
	split := len(features) - testCount
	for i, idx := range indices {
		if i < split {
			trainX = append(trainX, features[idx])
			trainY = append(trainY, labels[idx])
		} else {
			testX = append(testX, features[idx])
			testY = append(testY, labels[idx])
		}
	}
	return trainX, trainY, testX, testY
}
