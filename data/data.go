// Package data holds the immutable count matrix and sample metadata that
// the sampler reads but never modifies.
package data

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// CountData is a feature-by-sample count matrix together with per-sample
// library sizes and a partition of the samples into ordered groups. Group 0
// is the reference group. Immutable for the sampler's lifetime.
type CountData struct {
	Counts    [][]float64 // Counts[i][j] = count of feature i in sample j
	LibSizes  []float64   // one entry per sample, strictly positive
	Features  []string    // feature names (may be empty)
	Samples   []string    // sample names (may be empty)
	Groups    []string    // group names, in column order
	NReplicas []int       // samples per group, in column order

	offsets []int // first column of each group
	groupOf []int // group index per column
}

// New validates the raw inputs and builds a CountData. If libSizes is nil,
// library sizes are estimated from the column totals (see EstimateLibSizes).
func New(counts [][]float64, libSizes []float64, groups []string, nreplicas []int) (*CountData, error) {
	nf := len(counts)
	if nf < 1 {
		return nil, errors.Errorf("Count matrix has no features")
	}

	ns := len(counts[0])
	for i, row := range counts {
		if len(row) != ns {
			return nil, errors.Errorf("Feature %d has %d samples, expected %d", i, len(row), ns)
		}
		for j, x := range row {
			if x < 0 || math.IsNaN(x) || math.IsInf(x, 0) {
				return nil, errors.Errorf("Invalid count %f for feature %d, sample %d", x, i, j)
			}
		}
	}

	if len(groups) != len(nreplicas) {
		return nil, errors.Errorf("Have %d groups but %d replicate counts", len(groups), len(nreplicas))
	}
	if len(groups) < 2 {
		return nil, errors.Errorf("Need a reference group and at least one test group, have %d", len(groups))
	}

	totRep := 0
	for g, n := range nreplicas {
		if n < 1 {
			return nil, errors.Errorf("Group %s has invalid replicate count %d", groups[g], n)
		}
		totRep += n
	}
	if totRep != ns {
		return nil, errors.Errorf("Replicate counts sum to %d but matrix has %d samples", totRep, ns)
	}

	if libSizes == nil {
		libSizes = EstimateLibSizes(counts)
	}
	if len(libSizes) != ns {
		return nil, errors.Errorf("Have %d library sizes but %d samples", len(libSizes), ns)
	}
	for j, s := range libSizes {
		if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, errors.Errorf("Invalid library size %f for sample %d", s, j)
		}
	}

	offsets := make([]int, len(groups))
	groupOf := make([]int, ns)
	col := 0
	for g, n := range nreplicas {
		offsets[g] = col
		for r := 0; r < n; r++ {
			groupOf[col] = g
			col++
		}
	}

	return &CountData{
		Counts:    counts,
		LibSizes:  libSizes,
		Groups:    groups,
		NReplicas: nreplicas,
		offsets:   offsets,
		groupOf:   groupOf,
	}, nil
}

// EstimateLibSizes returns per-sample library sizes computed as column
// totals rescaled so their geometric mean is one.
func EstimateLibSizes(counts [][]float64) []float64 {
	if len(counts) < 1 {
		return nil
	}

	ns := len(counts[0])
	sizes := make([]float64, ns)
	for _, row := range counts {
		for j, x := range row {
			sizes[j] += x
		}
	}

	logs := make([]float64, ns)
	for j, s := range sizes {
		logs[j] = math.Log(s)
	}
	gm := math.Exp(stat.Mean(logs, nil))

	for j := range sizes {
		sizes[j] /= gm
	}

	return sizes
}

// NFeatures returns the number of features (matrix rows).
func (d *CountData) NFeatures() int {
	return len(d.Counts)
}

// NSamples returns the number of samples (matrix columns).
func (d *CountData) NSamples() int {
	return len(d.LibSizes)
}

// NGroups returns the number of experimental groups.
func (d *CountData) NGroups() int {
	return len(d.NReplicas)
}

// GroupOfSample returns the group index of the given column.
func (d *CountData) GroupOfSample(j int) int {
	return d.groupOf[j]
}

// SampleIndex returns the column of the named sample.
func (d *CountData) SampleIndex(name string) (int, error) {
	for j, s := range d.Samples {
		if s == name {
			return j, nil
		}
	}
	return -1, errors.Errorf("Unknown sample %s", name)
}

// GroupCounts returns per-feature views of group g's columns. The returned
// slices share storage with the full matrix and must not be modified.
func (d *CountData) GroupCounts(g int) [][]float64 {
	off, n := d.offsets[g], d.NReplicas[g]
	out := make([][]float64, len(d.Counts))
	for i, row := range d.Counts {
		out[i] = row[off : off+n]
	}
	return out
}

// GroupLibSizes returns a view of group g's library sizes.
func (d *CountData) GroupLibSizes(g int) []float64 {
	off, n := d.offsets[g], d.NReplicas[g]
	return d.LibSizes[off : off+n]
}
