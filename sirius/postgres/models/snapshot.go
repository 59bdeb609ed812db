// File: snapshot.go
package models

import (
	"time"
)

// Snapshot is one stored scan of a host. Document holds the canonical JSON
// of the snapshot; the child rows index it for queries.
type Snapshot struct {
	Seq         uint64                  `gorm:"primaryKey;autoIncrement"`
	SnapshotID  string                  `gorm:"uniqueIndex;not null;size:36"`
	IPAddress   string                  `gorm:"not null;size:64;index:idx_snapshots_ip;uniqueIndex:idx_snapshots_identity,priority:1"`
	Timestamp   time.Time               `gorm:"not null;uniqueIndex:idx_snapshots_identity,priority:2"`
	ContentHash string                  `gorm:"not null;size:64;uniqueIndex:idx_snapshots_identity,priority:3"`
	OSName      string                  `gorm:"size:255"`
	Document    string                  `gorm:"type:text;not null"`
	Services    []SnapshotService       `gorm:"foreignKey:SnapshotSeq;constraint:OnDelete:CASCADE"`
	Vulns       []SnapshotVulnerability `gorm:"foreignKey:SnapshotSeq;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time
}

func (Snapshot) TableName() string {
	return "snapshots"
}

type SnapshotService struct {
	ID          uint   `gorm:"primaryKey"`
	SnapshotSeq uint64 `gorm:"not null;index"`
	Port        int    `gorm:"not null"`
	Protocol    string `gorm:"not null;size:32"`
	State       string `gorm:"size:32"`
	Vendor      string `gorm:"size:255"`
	Product     string `gorm:"size:255"`
	Version     string `gorm:"size:255"`
	TLSVersion  string `gorm:"size:32"`
}

func (SnapshotService) TableName() string {
	return "snapshot_services"
}

// SnapshotVulnerability attributes a CVE id to the service it was reported on.
type SnapshotVulnerability struct {
	ID          uint   `gorm:"primaryKey"`
	SnapshotSeq uint64 `gorm:"not null;index"`
	CVE         string `gorm:"not null;size:64;index:idx_snapshot_vulns_cve"`
	Port        int    `gorm:"not null"`
	Protocol    string `gorm:"not null;size:32"`
}

func (SnapshotVulnerability) TableName() string {
	return "snapshot_vulnerabilities"
}
