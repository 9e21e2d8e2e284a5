package model

import (
	"math"

	"github.com/pkg/errors"

	"github.com/declust/declust/data"
	"github.com/declust/declust/stats"
)

// The likelihood kernel. Every count's log-probability is a negative
// binomial with shape 1/exp(log_phi) and mean lib_size*exp(log_mu+effect);
// the helpers below aggregate that kernel the three ways the sweep needs it.

func logLibSizes(libSizes []float64) []float64 {
	out := make([]float64, len(libSizes))
	for j, s := range libSizes {
		out[j] = math.Log(s)
	}
	return out
}

// totalLogLik returns, per feature, the log-likelihood summed over every
// sample in every group, resolving each group's effect through Z with the
// candidate log-dispersion and log-mean vectors.
func (m *Model) totalLogLik(d *data.CountData, logPhi, logMu []float64) []float64 {
	out := make([]float64, m.NFeatures)
	logLib := logLibSizes(d.LibSizes)

	for j := 0; j < m.NSamples; j++ {
		g := d.GroupOfSample(j)
		for i := 0; i < m.NFeatures; i++ {
			eff := m.Beta[m.Z[g][i]]
			out[i] += stats.NBinomLogPMF(d.Counts[i][j], -logPhi[i], logLib[j]+logMu[i]+eff)
		}
	}

	return out
}

// clusterLogLik returns, per outer cluster, the log-likelihood aggregated
// over every (group, feature, replicate) currently resolved to that cluster,
// under the candidate effect vector.
func (m *Model) clusterLogLik(d *data.CountData, beta []float64) []float64 {
	out := make([]float64, len(m.LW))
	logLib := logLibSizes(d.LibSizes)

	for j := 0; j < m.NSamples; j++ {
		g := d.GroupOfSample(j)
		for i := 0; i < m.NFeatures; i++ {
			k := m.Z[g][i]
			out[k] += stats.NBinomLogPMF(d.Counts[i][j], -m.LogPhi[i], logLib[j]+m.LogMu[i]+beta[k])
		}
	}

	return out
}

// groupLogLik returns, per feature, the log-likelihood of one group's counts
// under a per-feature effect vector. It reads only its arguments, so the
// per-group update tasks can call it concurrently.
func groupLogLik(counts [][]float64, logLib []float64, logPhi, logMu, eff []float64) []float64 {
	out := make([]float64, len(counts))

	for i, row := range counts {
		for j, x := range row {
			out[i] += stats.NBinomLogPMF(x, -logPhi[i], logLib[j]+logMu[i]+eff[i])
		}
	}

	return out
}

// FittedDensity evaluates the fitted marginal density of log-counts for one
// named sample on a grid of npoints values spanning [xmin, xmax]. Each grid
// point's density is the average over features of the kernel evaluated at
// the exponentiated grid value, scaled onto the log-count axis. Read-only.
func (m *Model) FittedDensity(d *data.CountData, sample string, xmin, xmax float64, npoints int) ([]float64, []float64, error) {
	if npoints < 2 {
		return nil, nil, errors.Errorf("Invalid grid size %d", npoints)
	}

	j, err := d.SampleIndex(sample)
	if err != nil {
		return nil, nil, err
	}
	g := d.GroupOfSample(j)
	logLib := math.Log(d.LibSizes[j])

	xs := make([]float64, npoints)
	ys := make([]float64, npoints)
	step := (xmax - xmin) / float64(npoints-1)

	for p := 0; p < npoints; p++ {
		x := xmin + float64(p)*step
		xx := math.Exp(x)

		var dens float64
		for i := 0; i < m.NFeatures; i++ {
			eff := m.Beta[m.Z[g][i]]
			dens += xx * math.Exp(stats.NBinomLogPMF(xx, -m.LogPhi[i], logLib+m.LogMu[i]+eff))
		}

		xs[p] = x
		ys[p] = dens / float64(m.NFeatures)
	}

	return xs, ys, nil
}
