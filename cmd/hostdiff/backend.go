package main

import (
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/SiriusScan/host-diff/sirius/config"
	"github.com/SiriusScan/host-diff/sirius/events"
	"github.com/SiriusScan/host-diff/sirius/hostdiff"
	"github.com/SiriusScan/host-diff/sirius/postgres"
	"github.com/SiriusScan/host-diff/sirius/snapshot"
	"github.com/SiriusScan/host-diff/sirius/store"
)

// backend is the opened snapshot store plus the optional SQL handle used
// for events.
type backend struct {
	store snapshot.Store
	db    *gorm.DB
	close func() error
}

func openBackend(c config.Config) (*backend, error) {
	switch c.Backend() {
	case config.BackendValkey:
		kv, err := store.NewValkeyStore(c.Store.ValkeyAddress)
		if err != nil {
			return nil, err
		}
		return &backend{store: snapshot.NewSnapshotManager(kv), close: kv.Close}, nil

	case config.BackendMemory:
		slog.Warn("Using the in-memory store; snapshots are lost on exit")
		kv := store.NewMemoryStore()
		return &backend{store: snapshot.NewSnapshotManager(kv), close: kv.Close}, nil

	case config.BackendPostgres, config.BackendSQLite:
		db, err := postgres.Open(c.Backend(), c.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &backend{
			store: postgres.NewSnapshotRepository(db),
			db:    db,
			close: func() error { return postgres.Close(db) },
		}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", c.Store.Backend)
}

// service wires the backend into a hostdiff.Service. Events are recorded
// only when the backend is SQL.
func (b *backend) service(c config.Config) *hostdiff.Service {
	opts := []hostdiff.Option{hostdiff.WithMaxUploadBytes(c.Ingest.MaxUploadBytes)}
	if b.db != nil {
		opts = append(opts, hostdiff.WithRecorder(events.NewGormRecorder(b.db)))
	}
	return hostdiff.NewService(b.store, opts...)
}

func (b *backend) Close() {
	if err := b.close(); err != nil {
		slog.Warn("Failed to close store", "error", err)
	}
}
