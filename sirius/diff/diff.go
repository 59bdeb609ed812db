// Package diff compares two host snapshots and produces a deterministic
// change report.
package diff

import (
	"github.com/Masterminds/semver/v3"

	"github.com/SiriusScan/host-diff/sirius"
)

// fieldAccessor reads one comparable field of a service. Absent optional
// blocks read as "".
type fieldAccessor struct {
	name string
	get  func(sirius.ServiceRecord) string
}

// serviceFields is the fixed comparison order for services matched by key.
var serviceFields = []fieldAccessor{
	{"state", func(s sirius.ServiceRecord) string { return s.State }},
	{"software.vendor", func(s sirius.ServiceRecord) string {
		if s.Software == nil {
			return ""
		}
		return s.Software.Vendor
	}},
	{"software.product", func(s sirius.ServiceRecord) string {
		if s.Software == nil {
			return ""
		}
		return s.Software.Product
	}},
	{"software.version", func(s sirius.ServiceRecord) string {
		if s.Software == nil {
			return ""
		}
		return s.Software.Version
	}},
	{"tls.version", func(s sirius.ServiceRecord) string {
		if s.TLS == nil {
			return ""
		}
		return s.TLS.Version
	}},
	{"tls.cipher", func(s sirius.ServiceRecord) string {
		if s.TLS == nil {
			return ""
		}
		return s.TLS.Cipher
	}},
	{"tls.certFingerprintSha256", func(s sirius.ServiceRecord) string {
		if s.TLS == nil {
			return ""
		}
		return s.TLS.CertFingerprintSHA256
	}},
}

// FieldNames returns the service field comparison order.
func FieldNames() []string {
	names := make([]string, len(serviceFields))
	for i, f := range serviceFields {
		names[i] = f.name
	}
	return names
}

// Compare diffs snapshot a (old) against snapshot b (new). Neither input is
// modified.
func Compare(a, b *sirius.Snapshot) *Report {
	ca, cb := a.Canonical(), b.Canonical()

	report := &Report{
		AddedServices:   []sirius.ServiceRecord{},
		RemovedServices: []sirius.ServiceRecord{},
		ChangedServices: []ServiceChange{},
		AddedCVEs:       []string{},
		RemovedCVEs:     []string{},
	}

	compareServices(ca.Services, cb.Services, report)
	compareOS(ca.OSInfo, cb.OSInfo, report)
	compareVulnerabilities(ca, cb, report)

	report.Summary = summarize(report)
	return report
}

// compareServices expects both inputs sorted by key, which keeps every
// output list in (port, protocol) order.
func compareServices(servicesA, servicesB []sirius.ServiceRecord, report *Report) {
	mapA := make(map[sirius.ServiceKey]sirius.ServiceRecord, len(servicesA))
	for _, s := range servicesA {
		mapA[s.Key()] = s
	}
	mapB := make(map[sirius.ServiceKey]sirius.ServiceRecord, len(servicesB))
	for _, s := range servicesB {
		mapB[s.Key()] = s
	}

	for _, sA := range servicesA {
		sB, ok := mapB[sA.Key()]
		if !ok {
			report.RemovedServices = append(report.RemovedServices, sA)
			continue
		}
		if changes := compareFields(sA, sB); len(changes) > 0 {
			report.ChangedServices = append(report.ChangedServices, ServiceChange{
				Port:     sA.Port,
				Protocol: sA.Protocol,
				Changes:  changes,
			})
		}
	}

	for _, sB := range servicesB {
		if _, ok := mapA[sB.Key()]; !ok {
			report.AddedServices = append(report.AddedServices, sB)
		}
	}
}

func compareFields(sA, sB sirius.ServiceRecord) []FieldChange {
	var changes []FieldChange
	for _, f := range serviceFields {
		oldValue, newValue := f.get(sA), f.get(sB)
		if oldValue == newValue {
			continue
		}
		change := newFieldChange(f.name, oldValue, newValue)
		if f.name == "software.version" {
			change.Direction = versionDirection(oldValue, newValue)
		}
		changes = append(changes, change)
	}
	return changes
}

// versionDirection classifies a version change when both sides parse as
// semantic versions.
func versionDirection(oldValue, newValue string) string {
	oldVer, err := semver.NewVersion(oldValue)
	if err != nil {
		return ""
	}
	newVer, err := semver.NewVersion(newValue)
	if err != nil {
		return ""
	}
	switch {
	case newVer.GreaterThan(oldVer):
		return DirectionUpgrade
	case newVer.LessThan(oldVer):
		return DirectionDowngrade
	default:
		return ""
	}
}

func compareOS(osA, osB sirius.OSInfo, report *Report) {
	if osA.Name != osB.Name {
		report.OSChange = &OSChange{OldName: osA.Name, NewName: osB.Name}
	}
}

// compareVulnerabilities works on the host-level aggregate, so a CVE moving
// from one service to another is not a change.
func compareVulnerabilities(a, b *sirius.Snapshot, report *Report) {
	cvesA, cvesB := a.CVEs(), b.CVEs()
	setA := make(map[string]struct{}, len(cvesA))
	for _, c := range cvesA {
		setA[c] = struct{}{}
	}
	setB := make(map[string]struct{}, len(cvesB))
	for _, c := range cvesB {
		setB[c] = struct{}{}
	}

	for _, c := range cvesB {
		if _, ok := setA[c]; !ok {
			report.AddedCVEs = append(report.AddedCVEs, c)
		}
	}
	for _, c := range cvesA {
		if _, ok := setB[c]; !ok {
			report.RemovedCVEs = append(report.RemovedCVEs, c)
		}
	}
}
