package model

import (
	"math"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/declust/declust/data"
	"github.com/declust/declust/rand"
)

// synthCounts builds a feature-by-sample NB count matrix for two groups with
// the given per-feature effects applied to the second group.
func synthCounts(nfeatures int, nreplicas []int, logMu, logPhi float64, effects []float64, gen *rand.Generator) [][]float64 {
	ns := 0
	for _, n := range nreplicas {
		ns += n
	}

	counts := make([][]float64, nfeatures)
	for i := range counts {
		counts[i] = make([]float64, ns)
		col := 0
		for g, n := range nreplicas {
			eff := 0.0
			if g > 0 {
				eff = effects[i]
			}
			mean := math.Exp(logMu + eff)
			alpha := math.Exp(-logPhi)
			for r := 0; r < n; r++ {
				lam := distuv.Gamma{Alpha: alpha, Beta: alpha / mean, Src: gen}.Rand()
				counts[i][col] = distuv.Poisson{Lambda: lam, Src: gen}.Rand()
				col++
			}
		}
	}

	return counts
}

func synthData(t *testing.T, gen *rand.Generator, effects []float64, nreplicas []int) *data.CountData {
	t.Helper()

	counts := synthCounts(len(effects), nreplicas, math.Log(100), -2.0, effects, gen)

	libs := make([]float64, 0)
	for _, n := range nreplicas {
		for r := 0; r < n; r++ {
			libs = append(libs, 1.0)
		}
	}

	d, err := data.New(counts, libs, []string{"ctrl", "case"}, nreplicas)
	require.NoError(t, err)
	return d
}

// snapHolds verifies that Z is exactly the threshold-snapped resolution of
// C and D: below-threshold effects resolve to the null cluster, everything
// else to its pointed-at outer cluster.
func snapHolds(t *testing.T, m *Model) {
	t.Helper()
	assert := assert.New(t)

	for g := 0; g < m.NGroups; g++ {
		for i := 0; i < m.NFeatures; i++ {
			k := m.C[g][m.D[g][i]]
			want := k
			if math.Abs(m.Beta[k]) < m.Thr {
				want = 0
			}
			assert.Equal(want, m.Z[g][i], "group %d feature %d", g, i)
			if m.Z[g][i] != 0 {
				assert.GreaterOrEqual(math.Abs(m.Beta[m.Z[g][i]]), m.Thr)
			}
		}
	}
}

func TestNewModelInvariants(t *testing.T) {
	assert := assert.New(t)

	gen := rand.NewGenerator(11)
	d := synthData(t, gen, make([]float64, 10), []int{3, 3})

	for _, trunc := range [][2]int{{5, 3}, {20, 10}, {2, 2}} {
		m, err := New(d, trunc[0], trunc[1], DefaultThreshold, gen)
		assert.NoError(err)
		assert.NoError(m.Check())

		// reference group and null paths
		for i := 0; i < m.NFeatures; i++ {
			assert.Equal(0, m.Z[0][i])
			assert.Equal(0, m.D[0][i])
		}
		for g := 0; g < m.NGroups; g++ {
			assert.Equal(0, m.C[g][0])
		}
		assert.Equal(0.0, m.Beta[0])

		snapHolds(t, m)

		// occupancy caches agree with Z
		occ := make([]int, trunc[0])
		for _, k := range m.Z[1] {
			occ[k]++
		}
		assert.Equal(occ, m.Occ)
	}

	// bad inputs fail fast
	_, err := New(nil, 5, 3, DefaultThreshold, gen)
	assert.Error(err)
	_, err = New(d, 1, 3, DefaultThreshold, gen)
	assert.Error(err)
	_, err = New(d, 5, 3, -0.1, gen)
	assert.Error(err)
	_, err = New(d, 5, 3, DefaultThreshold, nil)
	assert.Error(err)
}

func TestUpdateKeepsInvariants(t *testing.T) {
	assert := assert.New(t)

	gen := rand.NewGenerator(12)
	d := synthData(t, gen, []float64{2, 2, 2, 0, 0, 0, 0, 0, 0, 0}, []int{3, 3})

	m, err := New(d, 5, 3, DefaultThreshold, gen)
	require.NoError(t, err)

	groupGens := gen.Fork(m.NGroups - 1)

	for sweep := 1; sweep <= 50; sweep++ {
		require.NoError(t, m.Update(d, gen, groupGens, nil))
		assert.Equal(sweep, m.Iter)
		assert.NoError(m.Check())

		snapHolds(t, m)

		// occupancy is recomputed from Z every sweep
		occ := make([]int, len(m.Occ))
		nact := 0
		for _, k := range m.Z[1] {
			occ[k]++
		}
		for k, o := range occ {
			assert.Equal(o, m.Occ[k])
			assert.Equal(o > 0, m.Iact[k])
			if o > 0 {
				nact++
			}
		}
		assert.Equal(nact, m.Nact)
		assert.GreaterOrEqual(m.Nact, 1)

		// outer weights stay a distribution
		var sum float64
		for _, l := range m.LW {
			sum += math.Exp(l)
		}
		assert.InDelta(1.0, sum, 1e-9)
	}
}

func TestUpdateDeterminism(t *testing.T) {
	assert := assert.New(t)

	build := func() (*Model, *data.CountData, *rand.Generator, []*rand.Generator) {
		gen := rand.NewGenerator(13)
		d := synthData(t, gen, make([]float64, 8), []int{2, 2})
		m, err := New(d, 6, 4, DefaultThreshold, gen)
		require.NoError(t, err)
		return m, d, gen, gen.Fork(m.NGroups - 1)
	}

	m1, d1, g1, gg1 := build()
	m2, d2, g2, gg2 := build()
	assert.True(reflect.DeepEqual(m1, m2))

	for sweep := 0; sweep < 10; sweep++ {
		require.NoError(t, m1.Update(d1, g1, gg1, nil))
		require.NoError(t, m2.Update(d2, g2, gg2, nil))
	}
	assert.True(reflect.DeepEqual(m1, m2))
}

func TestUpdateShapeMismatch(t *testing.T) {
	assert := assert.New(t)

	gen := rand.NewGenerator(14)
	d := synthData(t, gen, make([]float64, 6), []int{2, 2})
	other := synthData(t, gen, make([]float64, 7), []int{2, 2})

	m, err := New(d, 5, 3, DefaultThreshold, gen)
	require.NoError(t, err)

	groupGens := gen.Fork(m.NGroups - 1)
	assert.Error(m.Update(other, gen, groupGens, nil))
	assert.Error(m.Update(d, gen, nil, nil))
	assert.Error(m.Update(nil, gen, groupGens, nil))
}

func TestFittedDensity(t *testing.T) {
	assert := assert.New(t)

	gen := rand.NewGenerator(15)
	d := synthData(t, gen, make([]float64, 10), []int{3, 3})
	d.Samples = []string{"c1", "c2", "c3", "t1", "t2", "t3"}

	m, err := New(d, 5, 3, DefaultThreshold, gen)
	require.NoError(t, err)

	groupGens := gen.Fork(m.NGroups - 1)
	for sweep := 0; sweep < 50; sweep++ {
		require.NoError(t, m.Update(d, gen, groupGens, nil))
	}

	xs, ys, err := m.FittedDensity(d, "t1", -2, 12, 1400)
	assert.NoError(err)
	assert.Len(xs, 1400)
	assert.Len(ys, 1400)

	// evaluating twice gives identical output - no hidden state
	_, ys2, err := m.FittedDensity(d, "t1", -2, 12, 1400)
	assert.NoError(err)
	assert.Equal(ys, ys2)

	// the curve is a density on the log-count axis
	step := xs[1] - xs[0]
	var integral float64
	for _, y := range ys {
		assert.False(math.IsNaN(y) || math.IsInf(y, 0) || y < 0)
		integral += y * step
	}
	assert.InDelta(1.0, integral, 0.35)

	_, _, err = m.FittedDensity(d, "nope", -2, 12, 100)
	assert.Error(err)
}
