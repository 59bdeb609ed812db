// File: snapshot_repository.go
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/SiriusScan/host-diff/sirius"
	"github.com/SiriusScan/host-diff/sirius/postgres/models"
	"github.com/SiriusScan/host-diff/sirius/snapshot"
)

// SnapshotRepository stores snapshots in SQL through gorm. The unique
// identity index makes concurrent duplicate inserts fail in the database.
//
// Timestamps are stored with microsecond precision, the resolution of a
// postgres timestamp column. Put, GetByID, ListByIP and ListByCVE all report
// the truncated value; duplicate detection still uses the content hash of
// the snapshot as uploaded.
type SnapshotRepository struct {
	db *gorm.DB

	// lookup finds an existing snapshot inside the Put transaction.
	lookup func(tx *gorm.DB, ident snapshot.Identity) (*models.Snapshot, error)
}

var _ snapshot.Store = (*SnapshotRepository)(nil)

func NewSnapshotRepository(db *gorm.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db, lookup: findByIdentity}
}

// Put validates and stores s with its service and vulnerability rows in one
// transaction.
func (r *SnapshotRepository) Put(ctx context.Context, s *sirius.Snapshot) (sirius.SnapshotSummary, error) {
	if err := s.Validate(); err != nil {
		return sirius.SnapshotSummary{}, err
	}
	ident, err := snapshot.CalculateIdentity(s)
	if err != nil {
		return sirius.SnapshotSummary{}, err
	}

	canonical := s.Canonical()
	canonical.ID = uuid.NewString()
	canonical.Timestamp = canonical.Timestamp.Truncate(time.Microsecond)
	doc, err := json.Marshal(canonical)
	if err != nil {
		return sirius.SnapshotSummary{}, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	row := toModel(canonical, ident, string(doc))

	var existing *models.Snapshot
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := r.lookup(tx, ident)
		if err != nil {
			return err
		}
		if found != nil {
			existing = found
			return sirius.ErrDuplicateSnapshot
		}
		return tx.Create(&row).Error
	})

	switch {
	case err == nil:
		slog.Debug("Added snapshot to database", "id", canonical.ID, "ip", canonical.IPAddress)
		return canonical.Summary(), nil
	case errors.Is(err, gorm.ErrDuplicatedKey):
		// Lost the race against a concurrent insert of the same identity.
		existing, err = findByIdentity(r.db.WithContext(ctx), ident)
		if err != nil {
			return sirius.SnapshotSummary{}, classify(err)
		}
		if existing == nil {
			return sirius.SnapshotSummary{}, fmt.Errorf("%w: duplicate key without a matching snapshot", sirius.ErrUnavailable)
		}
		fallthrough
	case errors.Is(err, sirius.ErrDuplicateSnapshot):
		summary := summaryOf(existing)
		return summary, fmt.Errorf("snapshot for %s at %s already stored as %s: %w",
			summary.IPAddress, summary.Timestamp.Format(time.RFC3339), summary.ID, sirius.ErrDuplicateSnapshot)
	default:
		return sirius.SnapshotSummary{}, classify(err)
	}
}

// GetByID decodes the stored document of the snapshot.
func (r *SnapshotRepository) GetByID(ctx context.Context, id string) (*sirius.Snapshot, error) {
	if id == "" {
		return nil, fmt.Errorf("empty snapshot id: %w", sirius.ErrNotFound)
	}

	var row models.Snapshot
	if err := r.db.WithContext(ctx).Where("snapshot_id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("snapshot %s: %w", id, sirius.ErrNotFound)
		}
		return nil, classify(err)
	}
	return decodeDocument(&row)
}

// ListByIP returns the history of a host, most recent scan first, ties in
// insertion order.
func (r *SnapshotRepository) ListByIP(ctx context.Context, ip string) ([]sirius.SnapshotSummary, error) {
	var rows []models.Snapshot
	err := r.db.WithContext(ctx).
		Select("seq", "snapshot_id", "ip_address", "timestamp").
		Where("ip_address = ?", ip).
		Order("timestamp DESC").
		Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, classify(err)
	}
	return summaries(rows), nil
}

// ListByCVE returns every stored snapshot with cve attributed to any of its
// services, most recent first.
func (r *SnapshotRepository) ListByCVE(ctx context.Context, cve string) ([]sirius.SnapshotSummary, error) {
	db := r.db.WithContext(ctx)
	var rows []models.Snapshot
	err := db.
		Select("seq", "snapshot_id", "ip_address", "timestamp").
		Where("seq IN (?)", db.Model(&models.SnapshotVulnerability{}).Select("snapshot_seq").Where("cve = ?", cve)).
		Order("timestamp DESC").
		Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, classify(err)
	}
	return summaries(rows), nil
}

// findByIdentity matches on host and content hash; the hash already covers
// the timestamp.
func findByIdentity(tx *gorm.DB, ident snapshot.Identity) (*models.Snapshot, error) {
	var rows []models.Snapshot
	err := tx.Where("ip_address = ? AND content_hash = ?", ident.IPAddress, ident.ContentHash).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func toModel(s *sirius.Snapshot, ident snapshot.Identity, doc string) models.Snapshot {
	row := models.Snapshot{
		SnapshotID:  s.ID,
		IPAddress:   s.IPAddress,
		Timestamp:   s.Timestamp,
		ContentHash: ident.ContentHash,
		OSName:      s.OSInfo.Name,
		Document:    doc,
	}
	for _, svc := range s.Services {
		rowSvc := models.SnapshotService{Port: svc.Port, Protocol: svc.Protocol, State: svc.State}
		if svc.Software != nil {
			rowSvc.Vendor = svc.Software.Vendor
			rowSvc.Product = svc.Software.Product
			rowSvc.Version = svc.Software.Version
		}
		if svc.TLS != nil {
			rowSvc.TLSVersion = svc.TLS.Version
		}
		row.Services = append(row.Services, rowSvc)
		for _, cve := range svc.Vulnerabilities {
			row.Vulns = append(row.Vulns, models.SnapshotVulnerability{CVE: cve, Port: svc.Port, Protocol: svc.Protocol})
		}
	}
	return row
}

func decodeDocument(row *models.Snapshot) (*sirius.Snapshot, error) {
	var s sirius.Snapshot
	if err := json.Unmarshal([]byte(row.Document), &s); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal snapshot %s: %v", sirius.ErrUnavailable, row.SnapshotID, err)
	}
	return &s, nil
}

// summaryOf prefers the document so the timestamp keeps full precision.
func summaryOf(row *models.Snapshot) sirius.SnapshotSummary {
	if s, err := decodeDocument(row); err == nil {
		return s.Summary()
	}
	return sirius.SnapshotSummary{ID: row.SnapshotID, IPAddress: row.IPAddress, Timestamp: row.Timestamp.UTC()}
}

func summaries(rows []models.Snapshot) []sirius.SnapshotSummary {
	out := make([]sirius.SnapshotSummary, len(rows))
	for i, row := range rows {
		out[i] = sirius.SnapshotSummary{ID: row.SnapshotID, IPAddress: row.IPAddress, Timestamp: row.Timestamp.UTC()}
	}
	return out
}

func classify(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %v", sirius.ErrNotFound, err)
	}
	return fmt.Errorf("%w: database: %v", sirius.ErrUnavailable, err)
}
