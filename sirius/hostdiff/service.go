// Package hostdiff exposes the snapshot operations to transports: upload,
// host history and comparison.
package hostdiff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"

	"github.com/SiriusScan/host-diff/sirius"
	"github.com/SiriusScan/host-diff/sirius/diff"
	"github.com/SiriusScan/host-diff/sirius/events"
	"github.com/SiriusScan/host-diff/sirius/ingest"
	"github.com/SiriusScan/host-diff/sirius/postgres/models"
	"github.com/SiriusScan/host-diff/sirius/snapshot"
)

// Service is safe for concurrent use.
type Service struct {
	store    snapshot.Store
	engine   *diff.Engine
	parser   ingest.Parser
	recorder events.Recorder
}

type Option func(*Service)

// WithRecorder records lifecycle events through r.
func WithRecorder(r events.Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithMaxUploadBytes bounds the size of a single upload.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Service) { s.parser.MaxBytes = n }
}

func NewService(store snapshot.Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		engine:   diff.NewEngine(store),
		recorder: events.NopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UploadSnapshot parses raw scan content and stores it. On a duplicate the
// summary of the already stored snapshot is returned with
// sirius.ErrDuplicateSnapshot.
func (s *Service) UploadSnapshot(ctx context.Context, content []byte, filename string) (sirius.SnapshotSummary, error) {
	snap, err := s.parser.Parse(content, filename)
	if err != nil {
		slog.WarnContext(ctx, "Rejected snapshot upload", "filename", filename, "error", err)
		s.record(ctx, events.Event{
			Type:        models.EventTypeSnapshotRejected,
			Severity:    models.SeverityWarning,
			Title:       "Snapshot upload rejected",
			Description: err.Error(),
			Metadata:    map[string]any{"filename": filename, "bytes": len(content)},
		})
		return sirius.SnapshotSummary{}, err
	}

	summary, err := s.store.Put(ctx, snap)
	switch {
	case errors.Is(err, sirius.ErrDuplicateSnapshot):
		slog.InfoContext(ctx, "Duplicate snapshot upload", "ip", summary.IPAddress, "existing_id", summary.ID)
		s.record(ctx, events.Event{
			Type:       models.EventTypeSnapshotDuplicate,
			Severity:   models.SeverityWarning,
			Title:      "Duplicate snapshot rejected",
			EntityType: models.EntityTypeSnapshot,
			EntityID:   summary.ID,
			Metadata:   map[string]any{"ip": summary.IPAddress, "filename": filename},
		})
		return summary, err
	case err != nil:
		slog.ErrorContext(ctx, "Failed to store snapshot", "ip", snap.IPAddress, "error", err)
		return sirius.SnapshotSummary{}, err
	}

	slog.InfoContext(ctx, "Stored snapshot", "id", summary.ID, "ip", summary.IPAddress, "timestamp", summary.Timestamp, "services", len(snap.Services))
	s.record(ctx, events.Event{
		Type:       models.EventTypeSnapshotUploaded,
		Title:      "Snapshot uploaded",
		EntityType: models.EntityTypeSnapshot,
		EntityID:   summary.ID,
		Metadata:   map[string]any{"ip": summary.IPAddress, "services": len(snap.Services)},
	})
	return summary, nil
}

// GetHostHistory lists the snapshots of ip, newest first. An unknown host
// yields an empty list.
func (s *Service) GetHostHistory(ctx context.Context, ip string) ([]sirius.SnapshotSummary, error) {
	ip = normalizeIP(ip)
	if ip == "" {
		return []sirius.SnapshotSummary{}, nil
	}
	history, err := s.store.ListByIP(ctx, ip)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list host history", "ip", ip, "error", err)
		return nil, err
	}
	if history == nil {
		history = []sirius.SnapshotSummary{}
	}
	return history, nil
}

// GetSnapshot returns a stored snapshot.
func (s *Service) GetSnapshot(ctx context.Context, id string) (*sirius.Snapshot, error) {
	return s.store.GetByID(ctx, id)
}

// CompareSnapshots diffs idA (old) against idB (new).
func (s *Service) CompareSnapshots(ctx context.Context, idA, idB string) (*diff.Report, error) {
	a, b, err := s.engine.Load(ctx, idA, idB)
	if err != nil {
		slog.InfoContext(ctx, "Comparison failed", "a", idA, "b", idB, "error", err)
		return nil, err
	}
	if a.IPAddress != b.IPAddress {
		slog.WarnContext(ctx, "Comparing snapshots of different hosts", "a", idA, "a_ip", a.IPAddress, "b", idB, "b_ip", b.IPAddress)
	}

	report := diff.Compare(a, b)
	slog.DebugContext(ctx, "Compared snapshots", "a", idA, "b", idB, "summary", report.Summary)
	s.record(ctx, events.Event{
		Type:       models.EventTypeSnapshotsCompared,
		Title:      "Snapshots compared",
		EntityType: models.EntityTypeHost,
		EntityID:   b.IPAddress,
		Metadata:   map[string]any{"a": idA, "b": idB, "summary": report.Summary},
	})
	return report, nil
}

// CVEIndex is implemented by stores that index vulnerabilities per snapshot.
type CVEIndex interface {
	ListByCVE(ctx context.Context, cve string) ([]sirius.SnapshotSummary, error)
}

// ErrNoCVEIndex is returned by SnapshotsWithCVE when the store keeps no
// vulnerability index.
var ErrNoCVEIndex = fmt.Errorf("%w: the configured store has no CVE index", sirius.ErrUnavailable)

// SnapshotsWithCVE lists the snapshots reporting cve on any service.
func (s *Service) SnapshotsWithCVE(ctx context.Context, cve string) ([]sirius.SnapshotSummary, error) {
	idx, ok := s.store.(CVEIndex)
	if !ok {
		return nil, ErrNoCVEIndex
	}
	return idx.ListByCVE(ctx, strings.TrimSpace(cve))
}

func (s *Service) record(ctx context.Context, e events.Event) {
	if err := s.recorder.Record(ctx, e); err != nil {
		slog.WarnContext(ctx, "Failed to record event", "type", e.Type, "error", err)
	}
}

// normalizeIP matches the form ingest stores addresses in.
func normalizeIP(ip string) string {
	ip = strings.TrimSpace(ip)
	if addr, err := netip.ParseAddr(ip); err == nil {
		return addr.String()
	}
	return ip
}
