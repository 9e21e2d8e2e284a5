// Package sampler drives the blocked Gibbs model through repeated sweeps
// and provides the parallel-dispatch strategies for the per-group updates.
package sampler

import (
	"log"

	"github.com/pkg/errors"

	"github.com/declust/declust/buffer"
	"github.com/declust/declust/data"
	"github.com/declust/declust/model"
	"github.com/declust/declust/rand"
	"github.com/declust/declust/store"
)

// DefaultHistoryWindow is the size of the rolling active-count window a
// chain keeps in memory.
const DefaultHistoryWindow = 100

// Chain owns a model, its count data and the random streams that advance
// it. The master stream drives the global updates; each non-reference group
// gets a forked stream of its own so the parallel fan-out never correlates
// acceptance decisions across groups.
type Chain struct {
	Model   *model.Model
	Data    *data.CountData
	Mapper  model.Mapper
	Store   *store.Store // optional; nil disables persistence
	History *buffer.CircularFloat

	gen       *rand.Generator
	groupGens []*rand.Generator
}

// NewChain wires a chain around an existing model. A nil mapper runs the
// group updates sequentially.
func NewChain(m *model.Model, d *data.CountData, gen *rand.Generator, mp model.Mapper) (*Chain, error) {
	if m == nil {
		return nil, errors.New("No model supplied")
	}
	if d == nil {
		return nil, errors.New("No count data supplied")
	}
	if gen == nil {
		return nil, errors.New("No random generator supplied")
	}
	if err := m.Check(); err != nil {
		return nil, errors.Wrap(err, "Refusing to build a chain on an invalid model")
	}
	if mp == nil {
		mp = SerialMapper{}
	}

	return &Chain{
		Model:     m,
		Data:      d,
		Mapper:    mp,
		History:   buffer.NewCircularFloat(DefaultHistoryWindow),
		gen:       gen,
		groupGens: gen.Fork(m.NGroups - 1),
	}, nil
}

// Step advances the chain by one sweep.
func (c *Chain) Step() error {
	if err := c.Model.Update(c.Data, c.gen, c.groupGens, c.Mapper); err != nil {
		return err
	}

	c.History.Add(float64(c.Model.Nact))

	return nil
}

// Run advances the chain nsweeps sweeps. With a store attached, every sweep
// appends to the chain log, and every saveEvery sweeps (plus the final one)
// the full state snapshot and the cluster record are written. A failed
// sweep aborts the run; the model then still holds the last complete sweep.
func (c *Chain) Run(nsweeps, saveEvery int) error {
	if nsweeps < 1 {
		return errors.Errorf("Invalid sweep count %d", nsweeps)
	}

	for t := 0; t < nsweeps; t++ {
		if err := c.Step(); err != nil {
			return errors.Wrapf(err, "Chain aborted after %d complete sweeps", c.Model.Iter-1)
		}

		if c.Store == nil {
			continue
		}

		if err := c.Store.AppendChain(c.Model); err != nil {
			return err
		}

		last := t == nsweeps-1
		if last || (saveEvery > 0 && c.Model.Iter%saveEvery == 0) {
			if err := c.Store.SaveState(c.Model); err != nil {
				return err
			}
			if err := c.Store.WriteClusters(c.Model); err != nil {
				return err
			}
			log.Printf("sweep %d: %d active clusters, eta=%.3f", c.Model.Iter, c.Model.Nact, c.Model.Eta)
		}
	}

	return nil
}
