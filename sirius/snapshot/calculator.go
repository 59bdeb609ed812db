package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/SiriusScan/host-diff/sirius"
)

// Identity is the duplicate-detection key of a snapshot: the host, the scan
// time and a hash of its canonical content.
type Identity struct {
	IPAddress   string
	Timestamp   time.Time
	ContentHash string
}

// String renders the identity as a single store key fragment.
func (i Identity) String() string {
	return fmt.Sprintf("%s|%s|%s", i.IPAddress, i.Timestamp.UTC().Format(time.RFC3339Nano), i.ContentHash)
}

// canonicalContent is what the content hash covers. The id is excluded so
// that a snapshot hashes the same before and after the store assigns one.
type canonicalContent struct {
	IPAddress string                 `json:"ip"`
	Timestamp string                 `json:"timestamp"`
	OSName    string                 `json:"os_name"`
	Services  []sirius.ServiceRecord `json:"services"`
}

// CalculateIdentity computes the identity of s. Service order and repeated
// vulnerability ids do not change the hash.
func CalculateIdentity(s *sirius.Snapshot) (Identity, error) {
	c := s.Canonical()
	content := canonicalContent{
		IPAddress: c.IPAddress,
		Timestamp: c.Timestamp.Format(time.RFC3339Nano),
		OSName:    c.OSInfo.Name,
		Services:  c.Services,
	}
	data, err := json.Marshal(content)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to marshal snapshot content: %w", err)
	}
	sum := sha256.Sum256(data)
	return Identity{
		IPAddress:   c.IPAddress,
		Timestamp:   c.Timestamp,
		ContentHash: hex.EncodeToString(sum[:]),
	}, nil
}
