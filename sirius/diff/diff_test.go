package diff

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SiriusScan/host-diff/sirius"
)

var (
	t1 = time.Date(2025, 1, 3, 10, 0, 0, 0, time.UTC)
	t2 = time.Date(2025, 1, 4, 10, 0, 0, 0, time.UTC)
)

func open(port int, protocol string) sirius.ServiceRecord {
	return sirius.ServiceRecord{Port: port, Protocol: protocol, State: "open"}
}

func keys(services []sirius.ServiceRecord) []sirius.ServiceKey {
	out := make([]sirius.ServiceKey, len(services))
	for i, s := range services {
		out[i] = s.Key()
	}
	return out
}

func richSnapshot() *sirius.Snapshot {
	return &sirius.Snapshot{
		IPAddress: "10.0.0.5",
		Timestamp: t1,
		OSInfo:    sirius.OSInfo{Name: "Linux"},
		Services: []sirius.ServiceRecord{
			{Port: 443, Protocol: "tcp", State: "open",
				Software:        &sirius.Software{Vendor: "F5", Product: "nginx", Version: "1.24.0"},
				TLS:             &sirius.TLS{Version: "TLSv1.2", Cipher: "ECDHE-RSA-AES128-GCM-SHA256", CertFingerprintSHA256: "aa"},
				Vulnerabilities: []string{"CVE-2023-44487"}},
			{Port: 22, Protocol: "tcp", State: "open",
				Software:        &sirius.Software{Vendor: "OpenBSD", Product: "OpenSSH", Version: "8.9"},
				Vulnerabilities: []string{"CVE-2023-38408", "CVE-2023-44487"}},
			{Port: 53, Protocol: "udp", State: "open"},
		},
	}
}

func TestCompareIdentity(t *testing.T) {
	s := richSnapshot()
	report := Compare(s, s)

	assert.True(t, report.IsEmpty())
	assert.Nil(t, report.OSChange)
	assert.Empty(t, report.AddedServices)
	assert.Empty(t, report.RemovedServices)
	assert.Empty(t, report.ChangedServices)
	assert.Empty(t, report.AddedCVEs)
	assert.Empty(t, report.RemovedCVEs)
	assert.Equal(t, "no changes", report.Summary)
}

func TestCompareContentIdenticalIgnoresOrder(t *testing.T) {
	a := richSnapshot()
	b := richSnapshot()
	b.ID = "other"
	b.Timestamp = t2
	b.Services[0], b.Services[2] = b.Services[2], b.Services[0]
	b.Services[1].Vulnerabilities = []string{"CVE-2023-44487", "CVE-2023-38408", "CVE-2023-44487"}

	assert.True(t, Compare(a, b).IsEmpty())
}

func TestCompareEndToEndScenario(t *testing.T) {
	a := &sirius.Snapshot{
		IPAddress: "125.199.235.74",
		Timestamp: t1,
		OSInfo:    sirius.OSInfo{Name: "Linux"},
		Services:  []sirius.ServiceRecord{open(22, "tcp")},
	}
	b := &sirius.Snapshot{
		IPAddress: "125.199.235.74",
		Timestamp: t2,
		OSInfo:    sirius.OSInfo{Name: "Windows"},
		Services:  []sirius.ServiceRecord{open(22, "tcp"), open(443, "tcp")},
	}

	report := Compare(a, b)

	require.Len(t, report.AddedServices, 1)
	assert.Equal(t, open(443, "tcp"), report.AddedServices[0])
	assert.Empty(t, report.RemovedServices)
	assert.Empty(t, report.ChangedServices)
	require.NotNil(t, report.OSChange)
	assert.Equal(t, OSChange{OldName: "Linux", NewName: "Windows"}, *report.OSChange)
	assert.Equal(t, "1 added, 0 removed, 0 changed, 0 new CVEs, 0 resolved CVEs, OS changed: yes", report.Summary)
}

func TestCompareAntiSymmetry(t *testing.T) {
	a := richSnapshot()
	b := richSnapshot()
	b.Services = append(b.Services[1:], open(8080, "tcp"))
	b.Services[0].Vulnerabilities = []string{"CVE-2024-6387"}
	b.OSInfo.Name = ""

	ab := Compare(a, b)
	ba := Compare(b, a)

	assert.ElementsMatch(t, keys(ab.RemovedServices), keys(ba.AddedServices))
	assert.ElementsMatch(t, keys(ab.AddedServices), keys(ba.RemovedServices))
	assert.Equal(t, ab.AddedCVEs, ba.RemovedCVEs)
	assert.Equal(t, ab.RemovedCVEs, ba.AddedCVEs)
	assert.Equal(t, keys(ab.RemovedServices), []sirius.ServiceKey{{Port: 443, Protocol: "tcp"}})
	assert.Equal(t, keys(ab.AddedServices), []sirius.ServiceKey{{Port: 8080, Protocol: "tcp"}})

	require.NotNil(t, ab.OSChange)
	require.NotNil(t, ba.OSChange)
	assert.Equal(t, ab.OSChange.OldName, ba.OSChange.NewName)
	assert.Equal(t, ab.OSChange.NewName, ba.OSChange.OldName)
}

func TestCompareKeyIsolation(t *testing.T) {
	a := &sirius.Snapshot{IPAddress: "10.0.0.1", Timestamp: t1, Services: []sirius.ServiceRecord{open(22, "tcp"), open(22, "udp")}}
	b := &sirius.Snapshot{IPAddress: "10.0.0.1", Timestamp: t2, Services: []sirius.ServiceRecord{open(22, "udp")}}

	ab := Compare(a, b)
	ba := Compare(b, a)

	assert.Equal(t, []sirius.ServiceKey{{Port: 22, Protocol: "tcp"}}, keys(ab.RemovedServices))
	assert.Equal(t, []sirius.ServiceKey{{Port: 22, Protocol: "tcp"}}, keys(ba.AddedServices))
	assert.Empty(t, ab.ChangedServices)
	assert.Empty(t, ba.ChangedServices)
}

func TestCompareCVEDedup(t *testing.T) {
	a := &sirius.Snapshot{IPAddress: "10.0.0.1", Timestamp: t1, Services: []sirius.ServiceRecord{open(22, "tcp"), open(80, "tcp")}}
	b := &sirius.Snapshot{IPAddress: "10.0.0.1", Timestamp: t2, Services: []sirius.ServiceRecord{
		{Port: 22, Protocol: "tcp", State: "open", Vulnerabilities: []string{"CVE-2023-1234"}},
		{Port: 80, Protocol: "tcp", State: "open", Vulnerabilities: []string{"CVE-2023-1234", "CVE-2022-0001"}},
	}}

	report := Compare(a, b)

	assert.Equal(t, []string{"CVE-2022-0001", "CVE-2023-1234"}, report.AddedCVEs)
	assert.Empty(t, report.RemovedCVEs)
	assert.Empty(t, report.ChangedServices, "vulnerabilities are not a compared service field")
}

func TestCompareCVEMovedBetweenServices(t *testing.T) {
	a := &sirius.Snapshot{IPAddress: "10.0.0.1", Timestamp: t1, Services: []sirius.ServiceRecord{
		{Port: 22, Protocol: "tcp", Vulnerabilities: []string{"CVE-2023-1234"}},
		{Port: 80, Protocol: "tcp"},
	}}
	b := &sirius.Snapshot{IPAddress: "10.0.0.1", Timestamp: t2, Services: []sirius.ServiceRecord{
		{Port: 22, Protocol: "tcp"},
		{Port: 80, Protocol: "tcp", Vulnerabilities: []string{"CVE-2023-1234"}},
	}}

	report := Compare(a, b)
	assert.Empty(t, report.AddedCVEs)
	assert.Empty(t, report.RemovedCVEs)
}

func TestCompareFieldOrderAndSentinel(t *testing.T) {
	a := &sirius.Snapshot{IPAddress: "10.0.0.1", Timestamp: t1, Services: []sirius.ServiceRecord{
		{Port: 443, Protocol: "tcp", State: "open",
			Software: &sirius.Software{Product: "nginx", Version: "1.24.0"},
			TLS:      &sirius.TLS{Version: "TLSv1.2", CertFingerprintSHA256: "aa"}},
	}}
	b := &sirius.Snapshot{IPAddress: "10.0.0.1", Timestamp: t2, Services: []sirius.ServiceRecord{
		{Port: 443, Protocol: "tcp", State: "filtered",
			Software: &sirius.Software{Vendor: "F5", Product: "nginx", Version: "1.25.3"}},
	}}

	report := Compare(a, b)
	require.Len(t, report.ChangedServices, 1)
	change := report.ChangedServices[0]
	assert.Equal(t, sirius.ServiceKey{Port: 443, Protocol: "tcp"}, change.Key())

	var fields []string
	for _, c := range change.Changes {
		fields = append(fields, c.Field)
	}
	assert.Equal(t, []string{"state", "software.vendor", "software.version", "tls.version", "tls.certFingerprintSha256"}, fields)

	assert.Equal(t, "open -> filtered", change.Changes[0].Change)
	assert.Equal(t, "", change.Changes[1].Old)
	assert.Equal(t, " -> F5", change.Changes[1].Change)
	assert.Equal(t, DirectionUpgrade, change.Changes[2].Direction)
	assert.Equal(t, "TLSv1.2 -> ", change.Changes[3].Change)
	assert.Equal(t, "", change.Changes[3].New)
}

func TestCompareAbsentBlockEqualsEmptyFields(t *testing.T) {
	a := &sirius.Snapshot{IPAddress: "10.0.0.1", Timestamp: t1, Services: []sirius.ServiceRecord{
		{Port: 80, Protocol: "tcp", Software: &sirius.Software{}},
	}}
	b := &sirius.Snapshot{IPAddress: "10.0.0.1", Timestamp: t2, Services: []sirius.ServiceRecord{
		{Port: 80, Protocol: "tcp"},
	}}

	assert.Empty(t, Compare(a, b).ChangedServices)
}

func TestCompareOSAbsence(t *testing.T) {
	named := &sirius.Snapshot{IPAddress: "10.0.0.1", Timestamp: t1, OSInfo: sirius.OSInfo{Name: "Linux"}}
	unknown := &sirius.Snapshot{IPAddress: "10.0.0.1", Timestamp: t2}

	report := Compare(named, unknown)
	require.NotNil(t, report.OSChange)
	assert.Equal(t, OSChange{OldName: "Linux", NewName: ""}, *report.OSChange)
	assert.Contains(t, report.Summary, "OS changed: yes")

	assert.Nil(t, Compare(unknown, unknown).OSChange)
}

func TestVersionDirection(t *testing.T) {
	tests := []struct {
		old, new, want string
	}{
		{"1.24.0", "1.25.3", DirectionUpgrade},
		{"2.4.57", "2.4.41", DirectionDowngrade},
		{"8.9", "9.6", DirectionUpgrade},
		{"1.0", "1.0.0", ""},
		{"OpenSSH_8.9", "OpenSSH_9.6", ""},
		{"", "1.0.0", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, versionDirection(tt.old, tt.new), "%q -> %q", tt.old, tt.new)
	}
}

func TestCompareDeterministicJSON(t *testing.T) {
	a := richSnapshot()
	b := richSnapshot()
	b.Services = []sirius.ServiceRecord{b.Services[2], open(8443, "tcp"), b.Services[0]}
	b.Services[2].TLS = &sirius.TLS{Version: "TLSv1.3"}

	first, err := json.Marshal(Compare(a, b))
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		next, err := json.Marshal(Compare(a, b))
		require.NoError(t, err)
		require.Equal(t, string(first), string(next))
	}
}

func TestCompareEmptyListsMarshalAsArrays(t *testing.T) {
	s := &sirius.Snapshot{IPAddress: "10.0.0.1", Timestamp: t1}
	out, err := json.Marshal(Compare(s, s))
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary":"no changes","added_services":[],"removed_services":[],"changed_services":[],"added_cves":[],"removed_cves":[]}`, string(out))
}

func TestCompareDoesNotModifyInputs(t *testing.T) {
	a := richSnapshot()
	b := richSnapshot()
	b.Services[0].Software.Version = "1.25.3"

	report := Compare(a, b)
	require.Len(t, report.ChangedServices, 1)

	report.ChangedServices[0].Changes[0].New = "mutated"
	assert.Equal(t, 443, a.Services[0].Port, "input order must be preserved")
	assert.Equal(t, "1.24.0", a.Services[0].Software.Version)
	assert.Equal(t, "1.25.3", b.Services[0].Software.Version)
}

func TestSummaryCounts(t *testing.T) {
	r := &Report{
		AddedServices:   []sirius.ServiceRecord{open(1, "tcp"), open(2, "tcp")},
		RemovedServices: []sirius.ServiceRecord{open(3, "tcp")},
		ChangedServices: []ServiceChange{{Port: 4, Protocol: "tcp"}},
		AddedCVEs:       []string{"CVE-1", "CVE-2", "CVE-3"},
	}
	assert.Equal(t, Counts{Added: 2, Removed: 1, Changed: 1, AddedCVEs: 3}, r.Counts())
	assert.Equal(t, "2 added, 1 removed, 1 changed, 3 new CVEs, 0 resolved CVEs, OS changed: no", summarize(r))
}

func TestFieldNames(t *testing.T) {
	assert.Equal(t, []string{
		"state", "software.vendor", "software.product", "software.version",
		"tls.version", "tls.cipher", "tls.certFingerprintSha256",
	}, FieldNames())
}
