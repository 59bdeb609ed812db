package diff

import (
	"fmt"

	"github.com/SiriusScan/host-diff/sirius"
)

// Report is the structured difference between an old snapshot A and a new
// snapshot B. Every list is sorted and never nil, so two reports over the
// same pair of snapshots marshal to identical bytes.
type Report struct {
	Summary         string                 `json:"summary"`
	OSChange        *OSChange              `json:"os_change,omitempty"`
	AddedServices   []sirius.ServiceRecord `json:"added_services"`
	RemovedServices []sirius.ServiceRecord `json:"removed_services"`
	ChangedServices []ServiceChange        `json:"changed_services"`
	AddedCVEs       []string               `json:"added_cves"`
	RemovedCVEs     []string               `json:"removed_cves"`
}

// OSChange is present only when the OS names of A and B differ. An empty
// name stands for an unknown OS.
type OSChange struct {
	OldName string `json:"old_name"`
	NewName string `json:"new_name"`
}

// ServiceChange lists the differing fields of a service present in both
// snapshots, in the fixed field order.
type ServiceChange struct {
	Port     int           `json:"port"`
	Protocol string        `json:"protocol"`
	Changes  []FieldChange `json:"changes"`
}

func (c ServiceChange) Key() sirius.ServiceKey {
	return sirius.ServiceKey{Port: c.Port, Protocol: c.Protocol}
}

// FieldChange is one differing field. Change renders as "old -> new".
// Direction is set for software.version when both sides are semantic
// versions.
type FieldChange struct {
	Field     string `json:"field"`
	Old       string `json:"old"`
	New       string `json:"new"`
	Change    string `json:"change"`
	Direction string `json:"direction,omitempty"`
}

const (
	DirectionUpgrade   = "upgrade"
	DirectionDowngrade = "downgrade"
)

func newFieldChange(field, oldValue, newValue string) FieldChange {
	return FieldChange{
		Field:  field,
		Old:    oldValue,
		New:    newValue,
		Change: fmt.Sprintf("%s -> %s", oldValue, newValue),
	}
}

func (f FieldChange) String() string {
	return f.Change
}

// Counts are the per-category sizes of a report.
type Counts struct {
	Added       int  `json:"added"`
	Removed     int  `json:"removed"`
	Changed     int  `json:"changed"`
	AddedCVEs   int  `json:"added_cves"`
	RemovedCVEs int  `json:"removed_cves"`
	OSChanged   bool `json:"os_changed"`
}

func (r *Report) Counts() Counts {
	return Counts{
		Added:       len(r.AddedServices),
		Removed:     len(r.RemovedServices),
		Changed:     len(r.ChangedServices),
		AddedCVEs:   len(r.AddedCVEs),
		RemovedCVEs: len(r.RemovedCVEs),
		OSChanged:   r.OSChange != nil,
	}
}

// IsEmpty reports whether all six lists are empty and the OS is unchanged.
func (r *Report) IsEmpty() bool {
	return r.Counts() == Counts{}
}

func summarize(r *Report) string {
	if r.IsEmpty() {
		return "no changes"
	}
	c := r.Counts()
	osChanged := "no"
	if c.OSChanged {
		osChanged = "yes"
	}
	return fmt.Sprintf("%d added, %d removed, %d changed, %d new CVEs, %d resolved CVEs, OS changed: %s",
		c.Added, c.Removed, c.Changed, c.AddedCVEs, c.RemovedCVEs, osChanged)
}
