package synthesis

import (
	"math"
	"math/rand/v2"
)

// Stream is a deterministic pseudo-random source owned by a single group.
// It is not safe for concurrent use.
type Stream struct {
	r *rand.Rand
}

// NewStream derives an independent stream for key from the run seed.
// The same (seed, key) pair always yields the same sequence.
func NewStream(seed uint64, key GroupKey) *Stream {
	hi := splitmix64(seed ^ splitmix64(uint64(int64(key.Region))))
	lo := splitmix64(hi ^ splitmix64(uint64(int64(key.Period))+0x632be59bd9b4e019))
	return &Stream{r: rand.New(rand.NewPCG(hi, lo))}
}

// NewSeededStream returns a stream that is not tied to a group key
func NewSeededStream(seed uint64) *Stream {
	return &Stream{r: rand.New(rand.NewPCG(seed, splitmix64(seed)))}
}

// Float64 returns a uniform draw in [0, 1)
func (s *Stream) Float64() float64 {
	return s.r.Float64()
}

// Normal returns a draw from N(mu, sigma^2)
func (s *Stream) Normal(mu, sigma float64) float64 {
	return mu + sigma*s.r.NormFloat64()
}

// LogNormal returns exp(N(mu, sigma^2))
func (s *Stream) LogNormal(mu, sigma float64) float64 {
	return math.Exp(s.Normal(mu, sigma))
}

// Bernoulli returns 1 with probability p and 0 otherwise
func (s *Stream) Bernoulli(p float64) int {
	if s.r.Float64() < p {
		return 1
	}
	return 0
}

// IntN returns a uniform int in [0, n). It panics if n <= 0.
func (s *Stream) IntN(n int) int {
	return s.r.IntN(n)
}

// IntRange returns a uniform int in [lo, hi]
func (s *Stream) IntRange(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + s.r.IntN(hi-lo+1)
}

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}
