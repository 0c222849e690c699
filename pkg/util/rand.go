package util

import (
	"math/rand"
	"sync"
)

// Rand is a mutex-guarded random source shared across goroutines. The
// process-wide source is injected everywhere it is consumed so tests can
// seed it deterministically.
type Rand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func NewRand(seed int64) *Rand {
	return &Rand{r: rand.New(rand.NewSource(seed))}
}

// Chance returns true with probability p. p >= 1 always succeeds.
func (r *Rand) Chance(p float64) bool {
	if p >= 1 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.Float64() < p
}

// Uniform draws from [lo, hi). Arguments in either order.
func (r *Rand) Uniform(lo, hi float64) float64 {
	if hi < lo {
		lo, hi = hi, lo
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo + r.r.Float64()*(hi-lo)
}

// WeightedChoice picks an index with probability proportional to its
// weight. Returns -1 for an empty or zero-weight slice.
func (r *Rand) WeightedChoice(weights []float64) int {
	var sum float64
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return -1
	}
	r.mu.Lock()
	rnd := r.r.Float64() * sum
	r.mu.Unlock()
	for i, w := range weights {
		if rnd < w {
			return i
		}
		rnd -= w
	}
	return len(weights) - 1
}
