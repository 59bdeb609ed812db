package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/SiriusScan/host-diff/sirius"
	"github.com/SiriusScan/host-diff/sirius/postgres/models"
)

// ServiceName is recorded as the origin of every event.
const ServiceName = "hostdiff"

// Event is the input to Recorder.Record.
type Event struct {
	Type        string
	Severity    string
	Title       string
	Description string
	EntityType  string
	EntityID    string
	Metadata    map[string]any
}

// Recorder persists lifecycle events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(ctx context.Context, e Event) error
}

// NopRecorder discards events. It is used when no SQL backend is configured.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Event) error { return nil }

// GormRecorder writes events to the events table.
type GormRecorder struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormRecorder(db *gorm.DB) *GormRecorder {
	return &GormRecorder{db: db, now: time.Now}
}

func (r *GormRecorder) Record(ctx context.Context, e Event) error {
	severity := e.Severity
	if severity == "" {
		severity = models.SeverityInfo
	}
	if !models.IsValidSeverity(severity) {
		return fmt.Errorf("invalid event severity %q", severity)
	}

	var metadata string
	if len(e.Metadata) > 0 {
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal event metadata: %w", err)
		}
		metadata = string(data)
	}

	now := r.now().UTC()
	row := models.Event{
		EventID:     uuid.NewString(),
		Timestamp:   now,
		Service:     ServiceName,
		EventType:   e.Type,
		Severity:    severity,
		Title:       e.Title,
		Description: e.Description,
		Metadata:    metadata,
		EntityType:  e.EntityType,
		EntityID:    e.EntityID,
		CreatedAt:   now,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("%w: failed to record event: %v", sirius.ErrUnavailable, err)
	}
	return nil
}

// EventFilters represents filters for querying events
type EventFilters struct {
	Limit      int
	Offset     int
	Severity   string
	EventType  string
	StartTime  *time.Time
	EndTime    *time.Time
	EntityType string
	EntityID   string
}

// EventStats represents aggregated event statistics
type EventStats struct {
	TotalEvents int            `json:"total_events"`
	BySeverity  map[string]int `json:"by_severity"`
	ByType      map[string]int `json:"by_type"`
}

// List retrieves events matching filters, newest first, along with the
// total number of matches before pagination.
func List(ctx context.Context, db *gorm.DB, filters EventFilters) ([]models.Event, int, error) {
	if db == nil {
		return nil, 0, fmt.Errorf("%w: database connection not available", sirius.ErrUnavailable)
	}

	query := db.WithContext(ctx).Model(&models.Event{})

	if filters.Severity != "" {
		query = query.Where("severity = ?", filters.Severity)
	}
	if filters.EventType != "" {
		query = query.Where("event_type = ?", filters.EventType)
	}
	if filters.EntityType != "" {
		query = query.Where("entity_type = ?", filters.EntityType)
	}
	if filters.EntityID != "" {
		query = query.Where("entity_id = ?", filters.EntityID)
	}
	if filters.StartTime != nil {
		query = query.Where("timestamp >= ?", filters.StartTime.UTC())
	}
	if filters.EndTime != nil {
		query = query.Where("timestamp <= ?", filters.EndTime.UTC())
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	if filters.Limit <= 0 {
		filters.Limit = 50
	}
	if filters.Limit > 500 {
		filters.Limit = 500
	}
	if filters.Offset < 0 {
		filters.Offset = 0
	}

	var events []models.Event
	err := query.
		Order("timestamp DESC").
		Order("id DESC").
		Limit(filters.Limit).
		Offset(filters.Offset).
		Find(&events).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query events: %w", err)
	}

	return events, int(total), nil
}

// Get retrieves a single event by event_id
func Get(ctx context.Context, db *gorm.DB, eventID string) (*models.Event, error) {
	var event models.Event
	err := db.WithContext(ctx).Where("event_id = ?", eventID).First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("event %s: %w", eventID, sirius.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return &event, nil
}

// Statistics returns event counts grouped by severity and type.
func Statistics(ctx context.Context, db *gorm.DB) (*EventStats, error) {
	stats := &EventStats{
		BySeverity: make(map[string]int),
		ByType:     make(map[string]int),
	}
	db = db.WithContext(ctx)

	var total int64
	if err := db.Model(&models.Event{}).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	stats.TotalEvents = int(total)

	var severityCounts []struct {
		Severity string
		Count    int
	}
	if err := db.Model(&models.Event{}).
		Select("severity, COUNT(*) as count").
		Group("severity").
		Scan(&severityCounts).Error; err != nil {
		return nil, fmt.Errorf("failed to count by severity: %w", err)
	}
	for _, item := range severityCounts {
		stats.BySeverity[item.Severity] = item.Count
	}

	var typeCounts []struct {
		EventType string
		Count     int
	}
	if err := db.Model(&models.Event{}).
		Select("event_type, COUNT(*) as count").
		Group("event_type").
		Scan(&typeCounts).Error; err != nil {
		return nil, fmt.Errorf("failed to count by type: %w", err)
	}
	for _, item := range typeCounts {
		stats.ByType[item.EventType] = item.Count
	}

	return stats, nil
}
