package snapshot

import (
	"context"

	"github.com/SiriusScan/host-diff/sirius"
)

// Store is the keyed snapshot persistence used by the diff engine and the
// upload path. Put is the only mutating operation.
type Store interface {
	Put(ctx context.Context, s *sirius.Snapshot) (sirius.SnapshotSummary, error)
	GetByID(ctx context.Context, id string) (*sirius.Snapshot, error)
	ListByIP(ctx context.Context, ip string) ([]sirius.SnapshotSummary, error)
}

var _ Store = (*SnapshotManager)(nil)
