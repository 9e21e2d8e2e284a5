// Package stats provides the distribution primitives behind the blocked
// Gibbs sampler: a numerically stable negative binomial log-PMF, truncated
// stick-breaking weight sampling, West's auxiliary-variable update for a
// Dirichlet process concentration parameter, and the Jeffreys-prior
// posterior for a Normal mean/precision pair.
package stats

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/declust/declust/rand"
)

// Above this log-shape the lgamma difference in the NB log-PMF loses all
// precision; the distribution is then indistinguishable from Poisson.
const poissonLogShapeLimit = 25.0

// Hyperprior on concentration parameters used by SampleEtaWest. A proper
// Gamma(1, 1) keeps the Gamma shape positive even with a single active
// cluster.
const (
	etaPriorShape = 1.0
	etaPriorRate  = 1.0
)

// NBinomLogPMF returns the negative binomial log-probability of the count x
// under shape alpha = exp(logShape) and mean exp(logMean). The computation
// stays in log space so it remains finite and accurate for x = 0 and for
// shapes approaching zero or infinity. x may be non-integral, which is used
// when evaluating fitted densities on a continuous grid.
func NBinomLogPMF(x, logShape, logMean float64) float64 {
	// log p and log(1-p) for p = alpha / (alpha + mean), computed without
	// cancellation on either branch
	var lp, lq float64
	if logShape >= logMean {
		t := math.Exp(logMean - logShape)
		lp = -math.Log1p(t)
		lq = logMean - logShape + lp
	} else {
		t := math.Exp(logShape - logMean)
		lq = -math.Log1p(t)
		lp = logShape - logMean + lq
	}

	if logShape > poissonLogShapeLimit {
		lg, _ := math.Lgamma(x + 1)
		return x*logMean - math.Exp(logMean) - lg
	}

	alpha := math.Exp(logShape)
	lgNum, _ := math.Lgamma(x + alpha)
	lgDen, _ := math.Lgamma(alpha)
	lgX, _ := math.Lgamma(x + 1)

	return lgNum - lgDen - lgX + alpha*lp + x*lq
}

// SampleStick draws truncated stick-breaking log-weights over len(occ) slots
// consistent with a Dirichlet process of the given concentration and the
// given slot occupancies. The final stick length is pinned to one so the
// exponentiated weights always sum to one. Returns the log-weights and the
// log stick lengths.
func SampleStick(occ []int, eta float64, rnd *rand.Generator) ([]float64, []float64, error) {
	if len(occ) < 1 {
		return nil, nil, errors.Errorf("Empty occupancy vector")
	}
	if eta <= 0 {
		return nil, nil, errors.Errorf("Invalid concentration %f", eta)
	}

	total := 0
	for _, o := range occ {
		total += o
	}

	lw := make([]float64, len(occ))
	lv := make([]float64, len(occ))

	seen := 0
	lcp := 0.0 // accumulated log(1 - v_j) for j < k
	for k, o := range occ {
		seen += o

		v := 1.0
		if k < len(occ)-1 {
			b := distuv.Beta{
				Alpha: 1 + float64(o),
				Beta:  eta + float64(total-seen),
				Src:   rnd,
			}
			v = b.Rand()

			// guard the logs below against degenerate beta draws
			const eps = 1e-12
			if v < eps {
				v = eps
			} else if v > 1-eps {
				v = 1 - eps
			}
		}

		lv[k] = math.Log(v)
		lw[k] = lv[k] + lcp
		lcp += math.Log1p(-v)
	}

	return lw, lv, nil
}

// SampleEtaWest updates a Dirichlet process concentration parameter given
// the number of active clusters among total observations, using the
// auxiliary-variable scheme of Escobar & West. The returned concentration is
// always strictly positive, so re-use of existing clusters never gets zero
// probability.
func SampleEtaWest(eta float64, nact, total int, rnd *rand.Generator) (float64, error) {
	if eta <= 0 {
		return 0, errors.Errorf("Invalid concentration %f", eta)
	}
	if nact < 1 || total < nact {
		return 0, errors.Errorf("Invalid cluster counts: %d active of %d", nact, total)
	}

	x := distuv.Beta{Alpha: eta + 1, Beta: float64(total), Src: rnd}.Rand()
	lx := math.Log(x)
	rate := etaPriorRate - lx

	r := (etaPriorShape + float64(nact) - 1) / (float64(total) * rate)
	shape := etaPriorShape + float64(nact)
	if rnd.Float64() >= r/(r+1) {
		shape--
	}

	return distuv.Gamma{Alpha: shape, Beta: rate, Src: rnd}.Rand(), nil
}

// SampleNormalMeanPrecJeffreys draws a (mean, precision) pair from the
// Jeffreys-prior posterior of a Normal sample summarized by its sum s1, sum
// of squares s2 and size n: precision ~ Gamma((n-1)/2, ssd/2) and mean ~
// N(avg, 1/sqrt(n*precision)).
func SampleNormalMeanPrecJeffreys(s1, s2 float64, n int, rnd *rand.Generator) (float64, float64, error) {
	if n < 2 {
		return 0, 0, errors.Errorf("Need at least 2 observations, have %d", n)
	}

	avg := s1 / float64(n)
	ssd := s2 - s1*s1/float64(n)
	if ssd <= 0 || math.IsNaN(ssd) {
		return 0, 0, errors.Errorf("Degenerate posterior: zero spread across %d observations", n)
	}

	prec := distuv.Gamma{
		Alpha: (float64(n) - 1) / 2,
		Beta:  ssd / 2,
		Src:   rnd,
	}.Rand()

	mean := distuv.Normal{
		Mu:    avg,
		Sigma: 1 / math.Sqrt(float64(n)*prec),
		Src:   rnd,
	}.Rand()

	return mean, prec, nil
}

// NewCategorical turns a vector of log-weights into a categorical
// distribution ready for repeated sampling.
func NewCategorical(lw []float64, rnd *rand.Generator) (distuv.Categorical, error) {
	if len(lw) < 1 {
		return distuv.Categorical{}, errors.Errorf("Empty log-weight vector")
	}

	w := make([]float64, len(lw))
	for i, l := range lw {
		w[i] = math.Exp(l)
	}

	return distuv.NewCategorical(w, rnd), nil
}
