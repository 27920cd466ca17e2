package lending

import (
	"math/rand/v2"
	"sync"
)

// JitterSource supplies the market jitter passed to Quote. Samples must lie
// in [-1, 1]; Quote clamps anything outside that range.
type JitterSource interface {
	Jitter() float64
}

// ZeroJitter disables perturbation.
type ZeroJitter struct{}

// Jitter implements JitterSource.
func (ZeroJitter) Jitter() float64 { return 0 }

// FixedJitter always returns the same sample.
type FixedJitter float64

// Jitter implements JitterSource.
func (f FixedJitter) Jitter() float64 { return float64(f) }

// SeededJitter draws uniformly distributed samples from a seeded PCG
// generator. It is safe for concurrent use.
type SeededJitter struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSeededJitter returns a reproducible jitter source for the seed.
func NewSeededJitter(seed uint64) *SeededJitter {
	return &SeededJitter{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Jitter implements JitterSource.
func (s *SeededJitter) Jitter() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()*2 - 1
}
