package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/SiriusScan/host-diff/sirius"
	"github.com/SiriusScan/host-diff/sirius/store"
)

const (
	snapshotKeyPrefix = "host:snapshot:"
	identityKeyPrefix = "host:identity:"
	historyKeyPrefix  = "host:history:"
	sequenceKey       = "host:sequence"
)

// snapshotRecord is the JSON value stored under host:snapshot:<id>.
type snapshotRecord struct {
	Snapshot    *sirius.Snapshot `json:"snapshot"`
	ContentHash string           `json:"content_hash"`
	Sequence    int64            `json:"sequence"`
	StoredAt    time.Time        `json:"stored_at"`
}

// historyEntry is the JSON value stored under host:history:<ip>|<id>.
type historyEntry struct {
	ID        string    `json:"id"`
	IPAddress string    `json:"ip"`
	Timestamp time.Time `json:"timestamp"`
	Sequence  int64     `json:"sequence"`
}

// SnapshotManager stores host snapshots in a KVStore. Put writes the record
// first, then claims the snapshot identity with SET NX, then publishes the
// history entry. A snapshot counts as stored once its history entry exists.
type SnapshotManager struct {
	kvStore store.KVStore
	now     func() time.Time

	// settleAttempts and settleInterval bound how long a Put that lost the
	// identity claim waits for the winner to publish or roll back.
	settleAttempts int
	settleInterval time.Duration
}

// NewSnapshotManager creates a new SnapshotManager instance
func NewSnapshotManager(kvStore store.KVStore) *SnapshotManager {
	return &SnapshotManager{
		kvStore:        kvStore,
		now:            time.Now,
		settleAttempts: 50,
		settleInterval: 10 * time.Millisecond,
	}
}

func snapshotKey(id string) string { return snapshotKeyPrefix + id }

func identityKey(ident Identity) string { return identityKeyPrefix + ident.String() }

func historyKey(ip, id string) string { return historyKeyPrefix + ip + "|" + id }

// Put validates and stores s, returning the summary of the new record. An
// exact duplicate of a stored snapshot yields ErrDuplicateSnapshot together
// with the summary of the record already stored. When an identical upload is
// still in flight and does not settle in time, Put fails with a retryable
// ErrUnavailable.
func (sm *SnapshotManager) Put(ctx context.Context, s *sirius.Snapshot) (sirius.SnapshotSummary, error) {
	if err := s.Validate(); err != nil {
		return sirius.SnapshotSummary{}, err
	}

	ident, err := CalculateIdentity(s)
	if err != nil {
		return sirius.SnapshotSummary{}, err
	}

	id := uuid.NewString()
	idKey := identityKey(ident)

	seq, err := sm.kvStore.Incr(ctx, sequenceKey)
	if err != nil {
		return sirius.SnapshotSummary{}, fmt.Errorf("failed to allocate snapshot sequence: %w", err)
	}

	canonical := s.Canonical()
	canonical.ID = id

	record, err := json.Marshal(snapshotRecord{
		Snapshot:    canonical,
		ContentHash: ident.ContentHash,
		Sequence:    seq,
		StoredAt:    sm.now().UTC(),
	})
	if err != nil {
		return sirius.SnapshotSummary{}, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := sm.kvStore.SetValue(ctx, snapshotKey(id), string(record)); err != nil {
		sm.rollback(ctx, snapshotKey(id))
		return sirius.SnapshotSummary{}, fmt.Errorf("failed to save snapshot: %w", err)
	}

	if existing, err := sm.claim(ctx, ident, idKey, id); err != nil {
		sm.rollback(ctx, snapshotKey(id))
		return existing, err
	}

	entry, err := json.Marshal(historyEntry{
		ID:        id,
		IPAddress: canonical.IPAddress,
		Timestamp: canonical.Timestamp,
		Sequence:  seq,
	})
	if err != nil {
		sm.rollback(ctx, idKey, snapshotKey(id))
		return sirius.SnapshotSummary{}, fmt.Errorf("failed to marshal history entry: %w", err)
	}
	if err := sm.kvStore.SetValue(ctx, historyKey(canonical.IPAddress, id), string(entry)); err != nil {
		sm.rollback(ctx, idKey, snapshotKey(id))
		return sirius.SnapshotSummary{}, fmt.Errorf("failed to save history entry: %w", err)
	}

	return canonical.Summary(), nil
}

// claim takes the identity for id. If another Put holds it, claim waits for
// that Put to publish its history entry (duplicate) or release the claim
// (retry the claim), up to settleAttempts.
func (sm *SnapshotManager) claim(ctx context.Context, ident Identity, idKey, id string) (sirius.SnapshotSummary, error) {
	for attempt := 0; ; attempt++ {
		claimed, err := sm.kvStore.SetValueNX(ctx, idKey, id)
		if err != nil {
			return sirius.SnapshotSummary{}, fmt.Errorf("failed to claim snapshot identity: %w", err)
		}
		if claimed {
			return sirius.SnapshotSummary{}, nil
		}

		existingID, err := sm.kvStore.GetValue(ctx, idKey)
		switch {
		case errors.Is(err, sirius.ErrNotFound):
			// Released by a rollback; claim again.
		case err != nil:
			return sirius.SnapshotSummary{}, fmt.Errorf("failed to read existing snapshot identity: %w", err)
		default:
			_, err := sm.kvStore.GetValue(ctx, historyKey(ident.IPAddress, existingID))
			if err == nil {
				existing := sirius.SnapshotSummary{ID: existingID, IPAddress: ident.IPAddress, Timestamp: ident.Timestamp}
				return existing, fmt.Errorf("snapshot for %s at %s already stored as %s: %w",
					ident.IPAddress, ident.Timestamp.Format(time.RFC3339), existingID, sirius.ErrDuplicateSnapshot)
			}
			if !errors.Is(err, sirius.ErrNotFound) {
				return sirius.SnapshotSummary{}, fmt.Errorf("failed to read existing snapshot history: %w", err)
			}
		}

		if attempt+1 >= sm.settleAttempts {
			return sirius.SnapshotSummary{}, fmt.Errorf("%w: an identical upload for %s is still in progress, retry later",
				sirius.ErrUnavailable, ident.IPAddress)
		}
		select {
		case <-ctx.Done():
			return sirius.SnapshotSummary{}, fmt.Errorf("%w: %v", sirius.ErrUnavailable, ctx.Err())
		case <-time.After(sm.settleInterval):
		}
	}
}

// rollback removes keys written by a Put that could not complete.
func (sm *SnapshotManager) rollback(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if err := sm.kvStore.DeleteValue(ctx, key); err != nil {
			slog.Warn("Failed to roll back snapshot key", "key", key, "error", err)
		}
	}
}

// GetByID retrieves a specific snapshot by snapshot ID. Every call
// decodes a fresh copy, so callers cannot modify the stored record.
func (sm *SnapshotManager) GetByID(ctx context.Context, id string) (*sirius.Snapshot, error) {
	if id == "" {
		return nil, fmt.Errorf("empty snapshot id: %w", sirius.ErrNotFound)
	}

	value, err := sm.kvStore.GetValue(ctx, snapshotKey(id))
	if err != nil {
		if errors.Is(err, sirius.ErrNotFound) {
			return nil, fmt.Errorf("snapshot %s: %w", id, sirius.ErrNotFound)
		}
		return nil, err
	}

	var record snapshotRecord
	if err := json.Unmarshal([]byte(value), &record); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal snapshot %s: %v", sirius.ErrUnavailable, id, err)
	}
	if record.Snapshot == nil {
		return nil, fmt.Errorf("%w: snapshot %s has an empty record", sirius.ErrUnavailable, id)
	}
	return record.Snapshot, nil
}

// ListByIP returns the history of a host, most recent scan first. Scans with
// the same timestamp keep their insertion order.
func (sm *SnapshotManager) ListByIP(ctx context.Context, ip string) ([]sirius.SnapshotSummary, error) {
	pattern := historyKeyPrefix + store.EscapePattern(ip) + "|*"
	keys, err := sm.kvStore.ListKeys(ctx, pattern)
	if err != nil {
		return nil, err
	}

	entries := make([]historyEntry, 0, len(keys))
	for _, key := range keys {
		value, err := sm.kvStore.GetValue(ctx, key)
		if err != nil {
			if errors.Is(err, sirius.ErrNotFound) {
				// Removed by a concurrent rollback.
				continue
			}
			return nil, err
		}
		var entry historyEntry
		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			slog.Warn("Skipping unreadable history entry", "key", key, "error", err)
			continue
		}
		if entry.IPAddress != ip {
			continue
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.After(entries[j].Timestamp)
		}
		return entries[i].Sequence < entries[j].Sequence
	})

	summaries := make([]sirius.SnapshotSummary, len(entries))
	for i, e := range entries {
		summaries[i] = sirius.SnapshotSummary{ID: e.ID, IPAddress: e.IPAddress, Timestamp: e.Timestamp}
	}
	return summaries, nil
}
