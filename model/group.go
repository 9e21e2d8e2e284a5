package model

import (
	"math"

	"github.com/pkg/errors"

	"github.com/declust/declust/data"
	"github.com/declust/declust/rand"
	"github.com/declust/declust/stats"
)

// groupResult carries one non-reference group's refreshed state back to the
// orchestrator after the parallel fan-out.
type groupResult struct {
	c    []int // outer cluster per inner slot
	d    []int // inner slot per feature
	z    []int // resolved outer cluster per feature (pre-snap)
	lu   []float64
	zeta float64
}

// updateGroup resamples one group's inner indicators, outer pointers,
// concentration and weights. It reads the model and count data but writes
// neither, so invocations for different groups run concurrently; rnd must be
// a stream private to this call.
func (m *Model) updateGroup(g int, dat *data.CountData, rnd *rand.Generator) (*groupResult, error) {
	counts := dat.GroupCounts(g)
	logLib := logLibSizes(dat.GroupLibSizes(g))

	nf := m.NFeatures
	nslots := len(m.C[g])

	c := append([]int(nil), m.C[g]...)
	d := append([]int(nil), m.D[g]...)

	// full resample of each feature's inner slot, accepted per feature
	innerCat, err := stats.NewCategorical(m.LU[g], rnd)
	if err != nil {
		return nil, errors.Wrapf(err, "Sweep %d: group %d inner proposal", m.Iter, g)
	}
	dProp := make([]int, nf)
	for i := range dProp {
		dProp[i] = int(innerCat.Rand())
	}

	eff := make([]float64, nf)
	effProp := make([]float64, nf)
	for i := 0; i < nf; i++ {
		eff[i] = m.Beta[c[d[i]]]
		effProp[i] = m.Beta[c[dProp[i]]]
	}

	cur := groupLogLik(counts, logLib, m.LogPhi, m.LogMu, eff)
	next := groupLogLik(counts, logLib, m.LogPhi, m.LogMu, effProp)
	if i := nonFinite(cur); i >= 0 {
		return nil, errors.Errorf("Sweep %d: non-finite log-likelihood for inner_index[%d][%d]", m.Iter, g, i)
	}
	if i := nonFinite(next); i >= 0 {
		return nil, errors.Errorf("Sweep %d: non-finite log-likelihood for proposed inner_index[%d][%d]", m.Iter, g, i)
	}

	for i := 0; i < nf; i++ {
		if next[i] > cur[i] || rnd.Float64() < math.Exp(next[i]-cur[i]) {
			d[i] = dProp[i]
		}
	}

	// inner occupancy from the fresh assignments
	occ := make([]int, nslots)
	for _, l := range d {
		occ[l]++
	}
	kact := 0
	for _, o := range occ {
		if o > 0 {
			kact++
		}
	}

	// full resample of each slot's outer pointer, accepted per slot on the
	// likelihood aggregated over the slot's features; slot 0 stays null
	outerCat, err := stats.NewCategorical(m.LW, rnd)
	if err != nil {
		return nil, errors.Wrapf(err, "Sweep %d: group %d outer proposal", m.Iter, g)
	}
	cProp := make([]int, nslots)
	for l := range cProp {
		cProp[l] = int(outerCat.Rand())
	}
	cProp[0] = 0

	for i := 0; i < nf; i++ {
		eff[i] = m.Beta[c[d[i]]]
		effProp[i] = m.Beta[cProp[d[i]]]
	}
	cur = groupLogLik(counts, logLib, m.LogPhi, m.LogMu, eff)
	next = groupLogLik(counts, logLib, m.LogPhi, m.LogMu, effProp)
	if i := nonFinite(cur); i >= 0 {
		return nil, errors.Errorf("Sweep %d: non-finite log-likelihood for outer_index[%d] at feature %d", m.Iter, g, i)
	}
	if i := nonFinite(next); i >= 0 {
		return nil, errors.Errorf("Sweep %d: non-finite log-likelihood for proposed outer_index[%d] at feature %d", m.Iter, g, i)
	}

	curSlot := make([]float64, nslots)
	nextSlot := make([]float64, nslots)
	for i, l := range d {
		curSlot[l] += cur[i]
		nextSlot[l] += next[i]
	}

	for l := 0; l < nslots; l++ {
		if nextSlot[l] > curSlot[l] || rnd.Float64() < math.Exp(nextSlot[l]-curSlot[l]) {
			c[l] = cProp[l]
		}
	}

	// empty slots are unconstrained by data - always take the fresh draw
	for l := 0; l < nslots; l++ {
		if occ[l] == 0 {
			c[l] = cProp[l]
		}
	}

	zeta, err := stats.SampleEtaWest(m.Zeta[g], kact, nf, rnd)
	if err != nil {
		return nil, errors.Wrapf(err, "Sweep %d: group %d concentration update", m.Iter, g)
	}

	lu, _, err := stats.SampleStick(occ, zeta, rnd)
	if err != nil {
		return nil, errors.Wrapf(err, "Sweep %d: group %d weight update", m.Iter, g)
	}

	z := make([]int, nf)
	for i := 0; i < nf; i++ {
		z[i] = c[d[i]]
	}

	return &groupResult{c: c, d: d, z: z, lu: lu, zeta: zeta}, nil
}
