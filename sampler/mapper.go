package sampler

import (
	"golang.org/x/sync/errgroup"
)

// SerialMapper runs the group tasks one at a time in index order. It is the
// reference execution strategy: a chain advanced with a SerialMapper and one
// advanced with a PoolMapper produce identical trajectories, since every
// group owns its own random stream.
type SerialMapper struct{}

// Map implements model.Mapper.
func (SerialMapper) Map(n int, fn func(i int) error) error {
	for i := 0; i < n; i++ {
		if err := fn(i); err != nil {
			return err
		}
	}
	return nil
}

// PoolMapper fans the group tasks out to goroutines, at most Workers at a
// time (unlimited when Workers <= 0). The first task error cancels nothing
// mid-flight but is returned once every started task has finished.
type PoolMapper struct {
	Workers int
}

// Map implements model.Mapper.
func (p PoolMapper) Map(n int, fn func(i int) error) error {
	var grp errgroup.Group
	if p.Workers > 0 {
		grp.SetLimit(p.Workers)
	}

	for i := 0; i < n; i++ {
		i := i
		grp.Go(func() error {
			return fn(i)
		})
	}

	return grp.Wait()
}
