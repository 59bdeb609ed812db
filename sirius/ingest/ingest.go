// Package ingest turns raw uploaded scan output into snapshots.
package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/SiriusScan/host-diff/sirius"
)

// DefaultMaxUploadBytes bounds a single upload unless configured otherwise.
const DefaultMaxUploadBytes = 10 << 20

type uploadDocument struct {
	IP        string          `json:"ip"`
	Timestamp string          `json:"timestamp"`
	OS        *uploadOS       `json:"os"`
	Services  []uploadService `json:"services"`
}

type uploadOS struct {
	Name string `json:"name"`
}

type uploadService struct {
	Port            *int             `json:"port"`
	Protocol        string           `json:"protocol"`
	State           string           `json:"state"`
	Software        *sirius.Software `json:"software"`
	TLS             *uploadTLS       `json:"tls"`
	Vulnerabilities []string         `json:"vulnerabilities"`
}

// uploadTLS accepts the fingerprint under both the camel-case and the
// snake-case key seen in scanner output.
type uploadTLS struct {
	Version              string `json:"version"`
	Cipher               string `json:"cipher"`
	CertFingerprint      string `json:"certFingerprintSha256"`
	CertFingerprintSnake string `json:"cert_fingerprint_sha256"`
}

var contentTimeLayouts = []string{time.RFC3339Nano, FilenameTimeLayout, "2006-01-02T15:04:05", "2006-01-02 15:04:05"}

// Parser converts upload content into a snapshot.
type Parser struct {
	// MaxBytes rejects larger uploads; zero means DefaultMaxUploadBytes.
	MaxBytes int64
}

// Parse uses a Parser with the default upload limit.
func Parse(content []byte, filename string) (*sirius.Snapshot, error) {
	return Parser{}.Parse(content, filename)
}

// Parse decodes content as a JSON scan document. The ip and timestamp fields
// of the content take precedence; the filename is consulted only when one of
// them is missing. Every failure wraps sirius.ErrInvalidFormat.
func (p Parser) Parse(content []byte, filename string) (*sirius.Snapshot, error) {
	limit := p.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxUploadBytes
	}
	if int64(len(content)) > limit {
		return nil, fmt.Errorf("%w: upload of %d bytes exceeds limit of %d", sirius.ErrInvalidFormat, len(content), limit)
	}

	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty upload", sirius.ErrInvalidFormat)
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: upload is not a JSON object", sirius.ErrInvalidFormat)
	}

	var doc uploadDocument
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON content: %v", sirius.ErrInvalidFormat, err)
	}

	ip, ts, err := resolveIdentity(doc, filename)
	if err != nil {
		return nil, err
	}

	s := &sirius.Snapshot{
		IPAddress: ip,
		Timestamp: ts,
		Services:  make([]sirius.ServiceRecord, 0, len(doc.Services)),
	}
	if doc.OS != nil {
		s.OSInfo.Name = strings.TrimSpace(doc.OS.Name)
	}

	for i, svc := range doc.Services {
		if svc.Port == nil {
			return nil, fmt.Errorf("%w: service %d: missing port", sirius.ErrInvalidFormat, i)
		}
		s.Services = append(s.Services, toServiceRecord(svc))
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func resolveIdentity(doc uploadDocument, filename string) (string, time.Time, error) {
	var (
		ip string
		ts time.Time
	)

	if raw := strings.TrimSpace(doc.IP); raw != "" {
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("%w: invalid ip address %q", sirius.ErrInvalidFormat, raw)
		}
		ip = addr.String()
	}
	if raw := strings.TrimSpace(doc.Timestamp); raw != "" {
		parsed, err := parseContentTime(raw)
		if err != nil {
			return "", time.Time{}, err
		}
		ts = parsed
	}

	if ip != "" && !ts.IsZero() {
		if filename != "" {
			if fnIP, fnTS, err := ParseFilename(filename); err == nil && (fnIP != ip || !fnTS.Equal(ts)) {
				slog.Debug("filename disagrees with content, using content", "filename", filename, "ip", ip, "timestamp", ts)
			}
		}
		return ip, ts, nil
	}

	if filename == "" {
		return "", time.Time{}, fmt.Errorf("%w: ip and timestamp missing from content and no filename given", sirius.ErrInvalidFormat)
	}
	fnIP, fnTS, err := ParseFilename(filename)
	if err != nil {
		return "", time.Time{}, err
	}
	if ip == "" {
		ip = fnIP
	}
	if ts.IsZero() {
		ts = fnTS
	}
	return ip, ts, nil
}

func parseContentTime(raw string) (time.Time, error) {
	for _, layout := range contentTimeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognized timestamp %q", sirius.ErrInvalidFormat, raw)
}

func toServiceRecord(svc uploadService) sirius.ServiceRecord {
	rec := sirius.ServiceRecord{
		Port:     *svc.Port,
		Protocol: strings.TrimSpace(svc.Protocol),
		State:    strings.TrimSpace(svc.State),
	}
	if svc.Software != nil {
		sw := *svc.Software
		rec.Software = &sw
	}
	if svc.TLS != nil {
		fp := svc.TLS.CertFingerprint
		if fp == "" {
			fp = svc.TLS.CertFingerprintSnake
		}
		rec.TLS = &sirius.TLS{
			Version:               svc.TLS.Version,
			Cipher:                svc.TLS.Cipher,
			CertFingerprintSHA256: fp,
		}
	}
	for _, v := range svc.Vulnerabilities {
		if v = strings.TrimSpace(v); v != "" {
			rec.Vulnerabilities = append(rec.Vulnerabilities, v)
		}
	}
	return rec
}
