package sirius

import (
	"fmt"
	"sort"
	"time"
)

// ========================= SNAPSHOT =========================

// Snapshot is one scan of a host at a point in time. Once stored it is
// never mutated.
type Snapshot struct {
	ID        string          `json:"id"`
	IPAddress string          `json:"ip"`
	Timestamp time.Time       `json:"timestamp"`
	OSInfo    OSInfo          `json:"os"`
	Services  []ServiceRecord `json:"services"`
}

// OSInfo holds the OS fingerprint. An empty Name means unknown.
type OSInfo struct {
	Name string `json:"name,omitempty"`
}

// ServiceRecord is a single (port, protocol) entry of a snapshot.
type ServiceRecord struct {
	Port            int       `json:"port"`
	Protocol        string    `json:"protocol"`
	State           string    `json:"state,omitempty"`
	Software        *Software `json:"software,omitempty"`
	TLS             *TLS      `json:"tls,omitempty"`
	Vulnerabilities []string  `json:"vulnerabilities,omitempty"`
}

type Software struct {
	Vendor  string `json:"vendor,omitempty"`
	Product string `json:"product,omitempty"`
	Version string `json:"version,omitempty"`
}

type TLS struct {
	Version               string `json:"version,omitempty"`
	Cipher                string `json:"cipher,omitempty"`
	CertFingerprintSHA256 string `json:"cert_fingerprint_sha256,omitempty"`
}

// SnapshotSummary is the lightweight history entry for a stored snapshot.
type SnapshotSummary struct {
	ID        string    `json:"id"`
	IPAddress string    `json:"ip"`
	Timestamp time.Time `json:"timestamp"`
}

// ========================= MATCHING KEY =========================

// ServiceKey is the (port, protocol) pair used to correlate services across
// snapshots.
type ServiceKey struct {
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
}

func (k ServiceKey) String() string {
	return fmt.Sprintf("%d/%s", k.Port, k.Protocol)
}

// Less orders keys by port, then protocol.
func (k ServiceKey) Less(o ServiceKey) bool {
	if k.Port != o.Port {
		return k.Port < o.Port
	}
	return k.Protocol < o.Protocol
}

func (s ServiceRecord) Key() ServiceKey {
	return ServiceKey{Port: s.Port, Protocol: s.Protocol}
}

// Summary returns the history entry for the snapshot.
func (s *Snapshot) Summary() SnapshotSummary {
	return SnapshotSummary{ID: s.ID, IPAddress: s.IPAddress, Timestamp: s.Timestamp}
}

// Validate checks the structural invariants of a snapshot: a host address,
// ports within range, a protocol on every service and unique matching keys.
func (s *Snapshot) Validate() error {
	if s.IPAddress == "" {
		return fmt.Errorf("%w: missing ip address", ErrInvalidFormat)
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidFormat)
	}

	seen := make(map[ServiceKey]struct{}, len(s.Services))
	for i, svc := range s.Services {
		if svc.Port < 0 || svc.Port > 65535 {
			return fmt.Errorf("%w: service %d: port %d out of range 0-65535", ErrInvalidFormat, i, svc.Port)
		}
		if svc.Protocol == "" {
			return fmt.Errorf("%w: service %d: missing protocol", ErrInvalidFormat, i)
		}
		key := svc.Key()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate service %s", ErrInvalidFormat, key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// Canonical returns a deep copy with services sorted by key and each
// service's vulnerabilities sorted and deduplicated. The copy shares no
// memory with s.
func (s *Snapshot) Canonical() *Snapshot {
	out := &Snapshot{
		ID:        s.ID,
		IPAddress: s.IPAddress,
		Timestamp: s.Timestamp.UTC(),
		OSInfo:    s.OSInfo,
		Services:  make([]ServiceRecord, len(s.Services)),
	}
	for i, svc := range s.Services {
		out.Services[i] = svc.clone()
	}
	sort.SliceStable(out.Services, func(i, j int) bool {
		return out.Services[i].Key().Less(out.Services[j].Key())
	})
	return out
}

func (s ServiceRecord) clone() ServiceRecord {
	c := s
	if s.Software != nil {
		sw := *s.Software
		c.Software = &sw
	}
	if s.TLS != nil {
		t := *s.TLS
		c.TLS = &t
	}
	c.Vulnerabilities = uniqueSorted(s.Vulnerabilities)
	return c
}

// CVEs returns the host-level aggregate: every vulnerability id attributed
// to any service, sorted, each id once.
func (s *Snapshot) CVEs() []string {
	var all []string
	for _, svc := range s.Services {
		all = append(all, svc.Vulnerabilities...)
	}
	return uniqueSorted(all)
}

// VulnerabilityIndex maps each CVE id to the sorted keys of the services
// it is attributed to.
func (s *Snapshot) VulnerabilityIndex() map[string][]ServiceKey {
	idx := make(map[string][]ServiceKey)
	for _, svc := range s.Services {
		for _, cve := range uniqueSorted(svc.Vulnerabilities) {
			idx[cve] = append(idx[cve], svc.Key())
		}
	}
	for _, keys := range idx {
		sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	}
	return idx
}

func uniqueSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
