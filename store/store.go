// Package store persists sampler output: a versioned binary snapshot of the
// full model state, an append-only per-sweep chain log, and per-sweep
// cluster assignment records.
package store

import (
	"bufio"
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/declust/declust/model"
)

const (
	stateFile    = "state.bin"
	parsFile     = "pars.txt"
	clustersDir  = "z"
	snapshotVers = 1
)

// snapshot is the on-disk envelope around the model state.
type snapshot struct {
	Version int
	Model   *model.Model
}

// Store writes and reads all sampler artifacts under one output directory.
type Store struct {
	Dir string
}

// New creates the output directory (and its cluster subdirectory) if needed
// and returns a Store rooted there.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, clustersDir), 0o755); err != nil {
		return nil, errors.Wrapf(err, "Could not create output directory %s", dir)
	}
	return &Store{Dir: dir}, nil
}

// SaveState writes a gzip-compressed gob snapshot of the full model state.
// LoadState on the result yields an identical state.
func (s *Store) SaveState(m *model.Model) error {
	fname := filepath.Join(s.Dir, stateFile)
	f, err := os.Create(fname)
	if err != nil {
		return errors.Wrapf(err, "Could not WRITE state to %s", fname)
	}
	defer f.Close()

	zw := gzip.NewWriter(f)
	if err := gob.NewEncoder(zw).Encode(&snapshot{Version: snapshotVers, Model: m}); err != nil {
		return errors.Wrapf(err, "Could not encode state at sweep %d", m.Iter)
	}
	if err := zw.Close(); err != nil {
		return errors.Wrapf(err, "Could not finish writing state to %s", fname)
	}

	return f.Close()
}

// LoadState reads a snapshot previously written by SaveState.
func (s *Store) LoadState() (*model.Model, error) {
	fname := filepath.Join(s.Dir, stateFile)
	f, err := os.Open(fname)
	if err != nil {
		return nil, errors.Wrapf(err, "Could not READ state from %s", fname)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "State file %s is not a valid snapshot", fname)
	}
	defer zr.Close()

	var snap snapshot
	if err := gob.NewDecoder(zr).Decode(&snap); err != nil {
		return nil, errors.Wrapf(err, "Could not decode state from %s", fname)
	}
	if snap.Version != snapshotVers {
		return nil, errors.Errorf("Snapshot version %d in %s, expected %d", snap.Version, fname, snapshotVers)
	}
	if snap.Model == nil {
		return nil, errors.Errorf("Snapshot %s holds no model state", fname)
	}

	return snap.Model, nil
}

// AppendChain appends one row of per-sweep scalar summaries (iteration,
// active cluster count, every hyperparameter, outer concentration) to the
// append-only chain log.
func (s *Store) AppendChain(m *model.Model) error {
	fname := filepath.Join(s.Dir, parsFile)
	f, err := os.OpenFile(fname, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "Could not APPEND chain log %s", fname)
	}
	defer f.Close()

	_, err = fmt.Fprintf(
		f, "%d\t%d\t%f\t%f\t%f\t%f\t%f\t%f\t%f\n",
		m.Iter, m.Nact, m.Mu1, m.Tau1, m.Mu2, m.Tau2, m.M0, m.T0, m.Eta,
	)
	if err != nil {
		return errors.Wrapf(err, "Could not write chain row for sweep %d", m.Iter)
	}

	return f.Close()
}

// WriteClusters writes the combined cluster matrix for the current sweep to
// a record keyed by the iteration number: one row per feature, one
// tab-separated column per group.
func (s *Store) WriteClusters(m *model.Model) error {
	fname := filepath.Join(s.Dir, clustersDir, strconv.Itoa(m.Iter))
	f, err := os.Create(fname)
	if err != nil {
		return errors.Wrapf(err, "Could not WRITE clusters to %s", fname)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for i := 0; i < m.NFeatures; i++ {
		for g := 0; g < m.NGroups; g++ {
			if g > 0 {
				if _, err := w.WriteRune('\t'); err != nil {
					return errors.Wrapf(err, "Could not write clusters for sweep %d", m.Iter)
				}
			}
			if _, err := w.WriteString(strconv.Itoa(m.Z[g][i])); err != nil {
				return errors.Wrapf(err, "Could not write clusters for sweep %d", m.Iter)
			}
		}
		if _, err := w.WriteRune('\n'); err != nil {
			return errors.Wrapf(err, "Could not write clusters for sweep %d", m.Iter)
		}
	}
	if err := w.Flush(); err != nil {
		return errors.Wrapf(err, "Could not flush clusters for sweep %d", m.Iter)
	}

	return f.Close()
}

// TracePoint is one parsed row of the chain log.
type TracePoint struct {
	Iter int
	Nact int
	Mu1  float64
	Tau1 float64
	Mu2  float64
	Tau2 float64
	M0   float64
	T0   float64
	Eta  float64
}

// ReadTrace parses the full chain log back into memory. This is the data
// source for historical parameter traces.
func (s *Store) ReadTrace() ([]TracePoint, error) {
	fname := filepath.Join(s.Dir, parsFile)
	f, err := os.Open(fname)
	if err != nil {
		return nil, errors.Wrapf(err, "Could not READ chain log %s", fname)
	}
	defer f.Close()

	var trace []TracePoint

	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if len(line) == 0 {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) != 9 {
			return nil, errors.Errorf("Line %d of %s has %d fields, expected 9", lineNum, fname, len(fields))
		}

		var pt TracePoint
		var bad error
		geti := func(s string) int {
			v, err := strconv.Atoi(s)
			if err != nil && bad == nil {
				bad = err
			}
			return v
		}
		getf := func(s string) float64 {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil && bad == nil {
				bad = err
			}
			return v
		}

		pt.Iter = geti(fields[0])
		pt.Nact = geti(fields[1])
		pt.Mu1 = getf(fields[2])
		pt.Tau1 = getf(fields[3])
		pt.Mu2 = getf(fields[4])
		pt.Tau2 = getf(fields[5])
		pt.M0 = getf(fields[6])
		pt.T0 = getf(fields[7])
		pt.Eta = getf(fields[8])
		if bad != nil {
			return nil, errors.Wrapf(bad, "Bad chain row at line %d of %s", lineNum, fname)
		}

		trace = append(trace, pt)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "Failure reading %s", fname)
	}

	return trace, nil
}
