package loader

import (
	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/stat/distuv"
)

// Sampler yields the sample visit order for one epoch over a dataset of n
// records.
type Sampler interface {
	Order(n int) []int
}

// SequentialSampler visits samples in archive order. Validation and test
// iteration use it for determinism.
type SequentialSampler struct{}

func (SequentialSampler) Order(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

// WeightedRandomSampler draws n indices with replacement, each with
// probability proportional to its weight. Training iteration uses it to
// balance class-imbalanced samples.
type WeightedRandomSampler struct {
	dist distuv.Categorical
}

// NewWeightedRandomSampler builds a sampler over the given strictly positive
// weight vector.
func NewWeightedRandomSampler(weights []float64, seed uint64) *WeightedRandomSampler {
	src := rand.NewSource(seed)
	return &WeightedRandomSampler{dist: distuv.NewCategorical(weights, src)}
}

func (s *WeightedRandomSampler) Order(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = int(s.dist.Rand())
	}
	return order
}
