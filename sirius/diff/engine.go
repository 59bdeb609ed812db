package diff

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/SiriusScan/host-diff/sirius"
)

// SnapshotGetter is the read side of the snapshot store.
type SnapshotGetter interface {
	GetByID(ctx context.Context, id string) (*sirius.Snapshot, error)
}

// Engine computes reports between stored snapshots. It holds no mutable
// state; Compute may be called concurrently.
type Engine struct {
	snapshots SnapshotGetter
}

func NewEngine(snapshots SnapshotGetter) *Engine {
	return &Engine{snapshots: snapshots}
}

// Compute loads snapshots idA (old) and idB (new) and diffs them. Lookup
// errors, such as sirius.ErrNotFound, are returned as the store reported them.
func (e *Engine) Compute(ctx context.Context, idA, idB string) (*Report, error) {
	a, b, err := e.Load(ctx, idA, idB)
	if err != nil {
		return nil, err
	}
	return Compare(a, b), nil
}

// Load fetches both snapshots concurrently. Equal ids are fetched once.
func (e *Engine) Load(ctx context.Context, idA, idB string) (*sirius.Snapshot, *sirius.Snapshot, error) {
	if idA == idB {
		s, err := e.snapshots.GetByID(ctx, idA)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	}

	var a, b *sirius.Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		a, err = e.snapshots.GetByID(gctx, idA)
		return err
	})
	g.Go(func() error {
		var err error
		b, err = e.snapshots.GetByID(gctx, idB)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return a, b, nil
}
