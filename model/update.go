package model

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/declust/declust/data"
	"github.com/declust/declust/rand"
	"github.com/declust/declust/stats"
)

// A Mapper applies fn to each of n independent tasks and returns the first
// error encountered. Implementations may run the tasks concurrently; the
// sampler only requires that every task has finished when Map returns.
type Mapper interface {
	Map(n int, fn func(i int) error) error
}

type seqMapper struct{}

func (seqMapper) Map(n int, fn func(i int) error) error {
	for i := 0; i < n; i++ {
		if err := fn(i); err != nil {
			return err
		}
	}
	return nil
}

// Update runs one full blocked Gibbs sweep: fresh Metropolis draws for the
// per-feature dispersion and mean parameters and the shared cluster effects,
// a fan-out of the per-group indicator updates, threshold snapping,
// occupancy bookkeeping, the outer concentration and weight refresh, and the
// hyperparameter refresh.
//
// groupGens must hold one independent random stream per non-reference group;
// during the fan-out the model is read-only and every write happens here
// after all group tasks return. A nil pool runs the groups sequentially.
func (m *Model) Update(d *data.CountData, gen *rand.Generator, groupGens []*rand.Generator, pool Mapper) error {
	if d == nil || gen == nil {
		return errors.New("Count data and a random generator are required")
	}
	if d.NFeatures() != m.NFeatures || d.NSamples() != m.NSamples || d.NGroups() != m.NGroups {
		return errors.Errorf(
			"Count data shape (%d, %d, %d groups) does not match model (%d, %d, %d groups)",
			d.NFeatures(), d.NSamples(), d.NGroups(), m.NFeatures, m.NSamples, m.NGroups,
		)
	}
	if len(groupGens) < m.NGroups-1 {
		return errors.Errorf("Have %d group random streams, need %d", len(groupGens), m.NGroups-1)
	}
	if pool == nil {
		pool = seqMapper{}
	}

	m.Iter++

	if err := m.updatePhi(d, gen); err != nil {
		return err
	}
	if err := m.updateMu(d, gen); err != nil {
		return err
	}
	if err := m.updateBeta(d, gen); err != nil {
		return err
	}

	// Per-group updates are pure functions of read-only global state plus
	// each group's own slices, so they fan out freely. A single failing
	// group aborts the sweep.
	results := make([]*groupResult, m.NGroups-1)
	err := pool.Map(m.NGroups-1, func(i int) error {
		res, err := m.updateGroup(i+1, d, groupGens[i])
		if err != nil {
			return err
		}
		results[i] = res
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "Sweep %d aborted", m.Iter)
	}

	for i, res := range results {
		g := i + 1
		m.C[g] = res.c
		m.D[g] = res.d
		m.Z[g] = res.z
		m.LU[g] = res.lu
		m.Zeta[g] = res.zeta
	}

	m.snap()
	m.refreshOccupancy()

	total := (m.NGroups - 1) * m.NFeatures
	eta, err := stats.SampleEtaWest(m.Eta, m.Nact, total, gen)
	if err != nil {
		return errors.Wrapf(err, "Sweep %d: outer concentration update", m.Iter)
	}
	m.Eta = eta

	lw, _, err := stats.SampleStick(m.Occ, m.Eta, gen)
	if err != nil {
		return errors.Wrapf(err, "Sweep %d: outer weight update", m.Iter)
	}
	m.LW = lw

	return m.updateHpars(gen)
}

// nonFinite returns the first index holding a NaN or infinity, or -1.
func nonFinite(xs []float64) int {
	for i, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return i
		}
	}
	return -1
}

func (m *Model) updatePhi(d *data.CountData, gen *rand.Generator) error {
	prior := distuv.Normal{Mu: m.Mu1, Sigma: 1 / math.Sqrt(m.Tau1), Src: gen}
	prop := make([]float64, m.NFeatures)
	for i := range prop {
		prop[i] = prior.Rand()
	}

	cur := m.totalLogLik(d, m.LogPhi, m.LogMu)
	next := m.totalLogLik(d, prop, m.LogMu)
	if i := nonFinite(cur); i >= 0 {
		return errors.Errorf("Sweep %d: non-finite log-likelihood for log_phi[%d]", m.Iter, i)
	}
	if i := nonFinite(next); i >= 0 {
		return errors.Errorf("Sweep %d: non-finite log-likelihood for proposed log_phi[%d]", m.Iter, i)
	}

	for i := range prop {
		if next[i] > cur[i] || gen.Float64() < math.Exp(next[i]-cur[i]) {
			m.LogPhi[i] = prop[i]
		}
	}

	return nil
}

func (m *Model) updateMu(d *data.CountData, gen *rand.Generator) error {
	prior := distuv.Normal{Mu: m.Mu2, Sigma: 1 / math.Sqrt(m.Tau2), Src: gen}
	prop := make([]float64, m.NFeatures)
	for i := range prop {
		prop[i] = prior.Rand()
	}

	cur := m.totalLogLik(d, m.LogPhi, m.LogMu)
	next := m.totalLogLik(d, m.LogPhi, prop)
	if i := nonFinite(cur); i >= 0 {
		return errors.Errorf("Sweep %d: non-finite log-likelihood for log_mu[%d]", m.Iter, i)
	}
	if i := nonFinite(next); i >= 0 {
		return errors.Errorf("Sweep %d: non-finite log-likelihood for proposed log_mu[%d]", m.Iter, i)
	}

	for i := range prop {
		if next[i] > cur[i] || gen.Float64() < math.Exp(next[i]-cur[i]) {
			m.LogMu[i] = prop[i]
		}
	}

	return nil
}

// updateBeta refreshes the shared cluster effects. Occupied clusters move by
// Metropolis against the aggregate likelihood of everything assigned to
// them; unoccupied clusters are unconstrained by data and always take the
// fresh prior draw. Cluster 0 stays pinned at zero.
func (m *Model) updateBeta(d *data.CountData, gen *rand.Generator) error {
	prior := distuv.Normal{Mu: m.M0, Sigma: 1 / math.Sqrt(m.T0), Src: gen}
	prop := make([]float64, len(m.Beta))
	for k := 1; k < len(prop); k++ {
		prop[k] = prior.Rand()
	}

	cur := m.clusterLogLik(d, m.Beta)
	next := m.clusterLogLik(d, prop)
	if k := nonFinite(cur); k >= 0 {
		return errors.Errorf("Sweep %d: non-finite log-likelihood for cluster_effect[%d]", m.Iter, k)
	}
	if k := nonFinite(next); k >= 0 {
		return errors.Errorf("Sweep %d: non-finite log-likelihood for proposed cluster_effect[%d]", m.Iter, k)
	}

	for k := 1; k < len(prop); k++ {
		if next[k] > cur[k] || gen.Float64() < math.Exp(next[k]-cur[k]) {
			m.Beta[k] = prop[k]
		}
	}

	for k := 1; k < len(prop); k++ {
		if !m.Iact[k] {
			m.Beta[k] = prop[k]
		}
	}

	return nil
}

// updateHpars refreshes all Normal mean/precision hyperparameters from
// their Jeffreys-prior posteriors. The effect hyperparameters are skipped
// whenever fewer than three active non-null assignments exist, or when the
// active assignments carry no spread (every one resolved to a single
// cluster), to avoid a degenerate posterior.
func (m *Model) updateHpars(gen *rand.Generator) error {
	s1 := floats.Sum(m.LogPhi)
	s2 := floats.Dot(m.LogPhi, m.LogPhi)
	mu, tau, err := stats.SampleNormalMeanPrecJeffreys(s1, s2, m.NFeatures, gen)
	if err != nil {
		return errors.Wrapf(err, "Sweep %d: dispersion hyperparameter update", m.Iter)
	}
	m.Mu1, m.Tau1 = mu, tau

	s1 = floats.Sum(m.LogMu)
	s2 = floats.Dot(m.LogMu, m.LogMu)
	mu, tau, err = stats.SampleNormalMeanPrecJeffreys(s1, s2, m.NFeatures, gen)
	if err != nil {
		return errors.Wrapf(err, "Sweep %d: mean hyperparameter update", m.Iter)
	}
	m.Mu2, m.Tau2 = mu, tau

	s1, s2 = 0, 0
	n := 0
	for g := range m.Z {
		for _, k := range m.Z[g] {
			if k > 0 {
				b := m.Beta[k]
				s1 += b
				s2 += b * b
				n++
			}
		}
	}
	if n > 2 {
		if m0, t0, err := stats.SampleNormalMeanPrecJeffreys(s1, s2, n, gen); err == nil {
			m.M0, m.T0 = m0, t0
		}
	}

	return nil
}
