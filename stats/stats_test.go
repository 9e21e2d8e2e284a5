package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/declust/declust/rand"
)

func TestNBinomLogPMFPure(t *testing.T) {
	assert := assert.New(t)

	// pure function: identical inputs, identical outputs
	a := NBinomLogPMF(17, -1.3, 3.7)
	b := NBinomLogPMF(17, -1.3, 3.7)
	assert.Equal(a, b)
}

func TestNBinomLogPMFMatchesDirectFormula(t *testing.T) {
	assert := assert.New(t)

	// moderate parameters: compare against the textbook form
	x, logShape, logMean := 12.0, 0.5, 2.0
	alpha := math.Exp(logShape)
	mean := math.Exp(logMean)
	p := alpha / (alpha + mean)

	lgNum, _ := math.Lgamma(x + alpha)
	lgDen, _ := math.Lgamma(alpha)
	lgX, _ := math.Lgamma(x + 1)
	want := lgNum - lgDen - lgX + alpha*math.Log(p) + x*math.Log(1-p)

	assert.InDelta(want, NBinomLogPMF(x, logShape, logMean), 1e-10)
}

func TestNBinomLogPMFNormalizes(t *testing.T) {
	assert := assert.New(t)

	var sum float64
	for x := 0.0; x < 2000; x++ {
		sum += math.Exp(NBinomLogPMF(x, 1.0, math.Log(50)))
	}
	assert.InDelta(1.0, sum, 1e-8)
}

func TestNBinomLogPMFExtremes(t *testing.T) {
	assert := assert.New(t)

	// zero counts and extreme shapes stay finite
	for _, logShape := range []float64{-40, -5, 0, 5, 24, 26, 40} {
		for _, x := range []float64{0, 1, 1000} {
			v := NBinomLogPMF(x, logShape, 3.0)
			assert.False(math.IsNaN(v) || math.IsInf(v, 0),
				"non-finite logpmf for x=%f logShape=%f: %f", x, logShape, v)
		}
	}

	// Poisson limit: huge shape agrees with the Poisson log-PMF
	mean := 30.0
	lgX, _ := math.Lgamma(8 + 1)
	poisson := 8*math.Log(mean) - mean - lgX
	assert.InDelta(poisson, NBinomLogPMF(8, 40, math.Log(mean)), 1e-6)

	// and the branch switch is continuous
	below := NBinomLogPMF(8, 24.9, math.Log(mean))
	above := NBinomLogPMF(8, 25.1, math.Log(mean))
	assert.InDelta(below, above, 0.01)
}

func TestSampleStick(t *testing.T) {
	assert := assert.New(t)

	gen := rand.NewGenerator(1)

	occs := [][]int{
		{0, 0, 0, 0, 0},
		{5, 3, 0, 2},
		{100},
		{0, 50, 0},
	}
	for _, occ := range occs {
		lw, lv, err := SampleStick(occ, 1.5, gen)
		assert.NoError(err)
		assert.Len(lw, len(occ))
		assert.Len(lv, len(occ))

		var sum float64
		for _, l := range lw {
			sum += math.Exp(l)
		}
		assert.InDelta(1.0, sum, 1e-9, "weights for occ %v sum to %f", occ, sum)
	}

	_, _, err := SampleStick(nil, 1.5, gen)
	assert.Error(err)
	_, _, err = SampleStick([]int{1, 2}, 0, gen)
	assert.Error(err)
}

func TestSampleStickFavorsOccupiedSlots(t *testing.T) {
	assert := assert.New(t)

	gen := rand.NewGenerator(2)

	var heavy, light float64
	for n := 0; n < 500; n++ {
		lw, _, err := SampleStick([]int{90, 0, 10, 0, 0}, 1.0, gen)
		assert.NoError(err)
		heavy += math.Exp(lw[0])
		light += math.Exp(lw[1])
	}
	assert.Greater(heavy, light)
}

func TestSampleEtaWest(t *testing.T) {
	assert := assert.New(t)

	gen := rand.NewGenerator(3)

	// every draw stays strictly positive
	eta := 4.0
	for n := 0; n < 1000; n++ {
		var err error
		eta, err = SampleEtaWest(eta, 5, 200, gen)
		assert.NoError(err)
		assert.Greater(eta, 0.0)
	}

	_, err := SampleEtaWest(0, 5, 200, gen)
	assert.Error(err)
	_, err = SampleEtaWest(1, 0, 200, gen)
	assert.Error(err)
	_, err = SampleEtaWest(1, 10, 5, gen)
	assert.Error(err)
}

func TestSampleEtaWestMonotoneInActiveCount(t *testing.T) {
	assert := assert.New(t)

	gen := rand.NewGenerator(4)

	avg := func(nact int) float64 {
		var sum float64
		for n := 0; n < 3000; n++ {
			v, err := SampleEtaWest(1.0, nact, 100, gen)
			assert.NoError(err)
			sum += v
		}
		return sum / 3000
	}

	lo := avg(2)
	mid := avg(10)
	hi := avg(40)
	assert.Less(lo, mid)
	assert.Less(mid, hi)
}

func TestSampleNormalMeanPrecJeffreys(t *testing.T) {
	assert := assert.New(t)

	gen := rand.NewGenerator(5)

	// known sample: N(2, sd=0.5), so precision 4
	src := distuv.Normal{Mu: 2, Sigma: 0.5, Src: gen}
	var s1, s2 float64
	n := 10000
	for i := 0; i < n; i++ {
		v := src.Rand()
		s1 += v
		s2 += v * v
	}

	mean, prec, err := SampleNormalMeanPrecJeffreys(s1, s2, n, gen)
	assert.NoError(err)
	assert.InDelta(2.0, mean, 0.05)
	assert.InDelta(4.0, prec, 0.5)

	_, _, err = SampleNormalMeanPrecJeffreys(1, 1, 1, gen)
	assert.Error(err)

	// all observations identical: zero spread is a degenerate posterior
	_, _, err = SampleNormalMeanPrecJeffreys(6, 12, 3, gen)
	assert.Error(err)
}

func TestNewCategorical(t *testing.T) {
	assert := assert.New(t)

	gen := rand.NewGenerator(6)

	lw := []float64{math.Log(0.7), math.Log(0.2), math.Log(0.1)}
	cat, err := NewCategorical(lw, gen)
	assert.NoError(err)

	counts := make([]float64, 3)
	for n := 0; n < 10000; n++ {
		counts[int(cat.Rand())]++
	}
	floats.Scale(1.0/10000, counts)
	assert.InDelta(0.7, counts[0], 0.03)
	assert.InDelta(0.2, counts[1], 0.03)
	assert.InDelta(0.1, counts[2], 0.03)

	_, err = NewCategorical(nil, gen)
	assert.Error(err)
}
