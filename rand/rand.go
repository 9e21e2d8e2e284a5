package rand

import (
	"github.com/seehuhn/mt19937"
)

// A Generator is a single seedable Mersenne twister stream. Generators are
// not safe for concurrent use: every concurrent consumer gets its own stream
// (see Fork). Generator satisfies the Source interface from
// golang.org/x/exp/rand, so gonum's distuv distributions can draw from it.
type Generator struct {
	mt *mt19937.MT19937
}

// NewGenerator starts a new PRNG stream based on the given seed.
func NewGenerator(seed int64) *Generator {
	r := mt19937.New()
	r.Seed(seed)
	return &Generator{mt: r}
}

// Fork returns n new generators whose seeds are drawn from g. The children
// are independent of one another and of anything drawn from g afterward.
func (g *Generator) Fork(n int) []*Generator {
	gens := make([]*Generator, n)
	for i := range gens {
		gens[i] = NewGenerator(g.Int63())
	}
	return gens
}

// Seed implements rand.Source from golang.org/x/exp/rand.
func (g *Generator) Seed(seed uint64) {
	g.mt.Seed(int64(seed))
}

// Uint64 implements rand.Source from golang.org/x/exp/rand.
func (g *Generator) Uint64() uint64 {
	return g.mt.Uint64()
}

// Int63 provides the same interface as Go's math/rand.
func (g *Generator) Int63() int64 {
	return g.mt.Int63()
}

// Int63n is a copy of the current Go code
func (g *Generator) Int63n(n int64) int64 {
	if n <= 0 {
		panic("invalid argument to Int63n")
	}

	if n&(n-1) == 0 { // n is power of two, can mask
		return g.Int63() & (n - 1)
	}

	max := int64((1 << 63) - 1 - (1<<63)%uint64(n))
	v := g.Int63()
	for v > max {
		v = g.Int63()
	}

	return v % n
}

// Float64 uses the commented, simpler implementation since we don't have the
// same support requirements as the standard library
func (g *Generator) Float64() float64 {
	// See the Go lang comments for Rand Float64 implementation for details
	return float64(g.Int63n(1<<53)) / (1 << 53)
}
