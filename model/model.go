// Package model implements the blocked Gibbs sampler for a two-level
// hierarchical Dirichlet process mixture over per-feature expression
// effects under a negative binomial count likelihood.
//
// The Model owns every parameter of the sampler. Outer cluster 0 is a
// permanent null-effect cluster and group 0 is the reference group pinned
// entirely to it; both represent the no-effect baseline and are never
// reassigned.
package model

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/declust/declust/data"
	"github.com/declust/declust/rand"
	"github.com/declust/declust/stats"
)

// DefaultThreshold is the effect magnitude below which a resolved cluster
// assignment snaps to the null cluster.
const DefaultThreshold = 0.3

// Model is the full state of the sampler. It is constructed once from raw
// count data and then mutated in place by successive Update calls; nothing
// else writes to it. All fields are exported so a snapshot round-trips
// through gob.
type Model struct {
	Iter int // completed sweeps

	NGroups   int
	NFeatures int
	NSamples  int

	Thr float64 // null-snapping threshold on |effect|

	// hyperparameters: dispersion, baseline mean, cluster effects
	Mu1, Tau1 float64
	Mu2, Tau2 float64
	M0, T0    float64

	LogPhi []float64 // per-feature log-dispersion
	LogMu  []float64 // per-feature log baseline mean

	Eta  float64   // outer concentration
	Zeta []float64 // inner concentration per group

	LW []float64   // outer stick-breaking log-weights, len = outer truncation
	LU [][]float64 // inner log-weights per group, len = inner truncation

	Beta []float64 // effect value per outer cluster; Beta[0] is always 0

	C [][]int // per group: outer cluster pointed to by each inner slot
	D [][]int // per group: inner slot occupied by each feature
	Z [][]int // per group: resolved outer cluster per feature, after snapping

	// occupancy caches, recomputed from Z every sweep
	Occ  []int
	Iact []bool
	Nact int
}

// New builds a randomly initialized model for the given counts and
// truncation levels. Hyperparameters start at moment-based estimates from
// the log-counts, matching the behavior documented for the sampler.
func New(d *data.CountData, outerTrunc, innerTrunc int, thr float64, gen *rand.Generator) (*Model, error) {
	if d == nil {
		return nil, errors.New("No count data supplied")
	}
	if gen == nil {
		return nil, errors.New("No random generator supplied")
	}
	if outerTrunc < 2 || innerTrunc < 2 {
		return nil, errors.Errorf("Invalid truncation levels (%d, %d)", outerTrunc, innerTrunc)
	}
	if thr < 0 || math.IsNaN(thr) {
		return nil, errors.Errorf("Invalid snapping threshold %f", thr)
	}

	nf, ns, ng := d.NFeatures(), d.NSamples(), d.NGroups()

	logc := make([]float64, 0, nf*ns)
	for _, row := range d.Counts {
		for _, x := range row {
			logc = append(logc, math.Log(x+1))
		}
	}
	dmean := stat.Mean(logc, nil)
	dvar := stat.Variance(logc, nil)
	if dmean <= 0 {
		return nil, errors.Errorf("Degenerate count matrix: mean log-count %f", dmean)
	}

	m := &Model{
		NGroups:   ng,
		NFeatures: nf,
		NSamples:  ns,
		Thr:       thr,
		Mu1:       math.Log(math.Abs(dvar-dmean) / (dmean * dmean)),
		Tau1:      1,
		Mu2:       dmean,
		Tau2:      1 / dvar,
		M0:        0,
		T0:        1,
		Eta:       math.Log(float64(outerTrunc)),
		LogPhi:    make([]float64, nf),
		LogMu:     make([]float64, nf),
		Zeta:      make([]float64, ng),
		LW:        make([]float64, outerTrunc),
		LU:        make([][]float64, ng),
		Beta:      make([]float64, outerTrunc),
		C:         make([][]int, ng),
		D:         make([][]int, ng),
		Z:         make([][]int, ng),
		Occ:       make([]int, outerTrunc),
		Iact:      make([]bool, outerTrunc),
	}

	phiPrior := distuv.Normal{Mu: m.Mu1, Sigma: 1 / math.Sqrt(m.Tau1), Src: gen}
	muPrior := distuv.Normal{Mu: m.Mu2, Sigma: 1 / math.Sqrt(m.Tau2), Src: gen}
	for i := 0; i < nf; i++ {
		m.LogPhi[i] = phiPrior.Rand()
		m.LogMu[i] = muPrior.Rand()
	}

	for k := range m.LW {
		m.LW[k] = -math.Log(float64(outerTrunc))
	}

	effPrior := distuv.Normal{Mu: m.M0, Sigma: 1 / math.Sqrt(m.T0), Src: gen}
	for k := 1; k < outerTrunc; k++ {
		m.Beta[k] = effPrior.Rand()
	}

	outerCat, err := stats.NewCategorical(m.LW, gen)
	if err != nil {
		return nil, errors.Wrap(err, "Could not build initial outer sampling distribution")
	}

	for g := 0; g < ng; g++ {
		m.Zeta[g] = math.Log(float64(innerTrunc))

		m.LU[g] = make([]float64, innerTrunc)
		for l := range m.LU[g] {
			m.LU[g][l] = -math.Log(float64(innerTrunc))
		}

		m.C[g] = make([]int, innerTrunc)
		for l := range m.C[g] {
			m.C[g][l] = int(outerCat.Rand())
		}

		innerCat, err := stats.NewCategorical(m.LU[g], gen)
		if err != nil {
			return nil, errors.Wrapf(err, "Could not build initial inner sampling distribution for group %d", g)
		}
		m.D[g] = make([]int, nf)
		for i := range m.D[g] {
			m.D[g][i] = int(innerCat.Rand())
		}

		m.Z[g] = make([]int, nf)
	}

	// pin the reference group and the null paths
	for l := range m.C[0] {
		m.C[0][l] = 0
	}
	for i := range m.D[0] {
		m.D[0][i] = 0
	}
	for g := 0; g < ng; g++ {
		m.C[g][0] = 0
	}

	for g := 0; g < ng; g++ {
		for i := 0; i < nf; i++ {
			m.Z[g][i] = m.C[g][m.D[g][i]]
		}
	}
	m.snap()
	m.refreshOccupancy()

	return m, nil
}

// snap forces every resolved assignment whose effect magnitude falls below
// the threshold onto the null cluster.
func (m *Model) snap() {
	for g := range m.Z {
		for i, k := range m.Z[g] {
			if math.Abs(m.Beta[k]) < m.Thr {
				m.Z[g][i] = 0
			}
		}
	}
}

// refreshOccupancy recomputes Occ, Iact and Nact from the non-reference
// rows of Z. These fields are caches; Z is the source of truth.
func (m *Model) refreshOccupancy() {
	for k := range m.Occ {
		m.Occ[k] = 0
	}
	for g := 1; g < m.NGroups; g++ {
		for _, k := range m.Z[g] {
			m.Occ[k]++
		}
	}

	m.Nact = 0
	for k, occ := range m.Occ {
		m.Iact[k] = occ > 0
		if m.Iact[k] {
			m.Nact++
		}
	}
}

// Check returns an error if any structural invariant is broken.
func (m *Model) Check() error {
	if m.NGroups < 2 {
		return errors.Errorf("Model has %d groups - need a reference and at least one test group", m.NGroups)
	}
	if len(m.LogPhi) != m.NFeatures || len(m.LogMu) != m.NFeatures {
		return errors.Errorf("Parameter vectors do not match feature count %d", m.NFeatures)
	}
	if len(m.Beta) != len(m.LW) || len(m.Occ) != len(m.LW) || len(m.Iact) != len(m.LW) {
		return errors.Errorf("Cluster arrays do not match outer truncation %d", len(m.LW))
	}
	if m.Beta[0] != 0 {
		return errors.Errorf("Null cluster effect is %f, must be 0", m.Beta[0])
	}
	if m.Eta <= 0 {
		return errors.Errorf("Invalid outer concentration %f", m.Eta)
	}

	if len(m.C) != m.NGroups || len(m.D) != m.NGroups || len(m.Z) != m.NGroups ||
		len(m.LU) != m.NGroups || len(m.Zeta) != m.NGroups {
		return errors.Errorf("Group arrays do not match group count %d", m.NGroups)
	}

	for g := 0; g < m.NGroups; g++ {
		if m.Zeta[g] <= 0 {
			return errors.Errorf("Invalid inner concentration %f for group %d", m.Zeta[g], g)
		}
		if len(m.D[g]) != m.NFeatures || len(m.Z[g]) != m.NFeatures {
			return errors.Errorf("Group %d indicator length does not match feature count %d", g, m.NFeatures)
		}
		if len(m.C[g]) != len(m.LU[g]) {
			return errors.Errorf("Group %d slot arrays do not match inner truncation", g)
		}
		if m.C[g][0] != 0 {
			return errors.Errorf("Group %d slot 0 points to cluster %d, must be 0", g, m.C[g][0])
		}
	}

	for l := range m.C[0] {
		if m.C[0][l] != 0 {
			return errors.Errorf("Reference group slot %d points to cluster %d, must be 0", l, m.C[0][l])
		}
	}
	for i := range m.D[0] {
		if m.D[0][i] != 0 || m.Z[0][i] != 0 {
			return errors.Errorf("Reference group feature %d is not null", i)
		}
	}

	return nil
}
