package ingest

import (
	"fmt"
	"net/netip"
	"path/filepath"
	"regexp"
	"time"

	"github.com/SiriusScan/host-diff/sirius"
)

// FilenameTimeLayout is the timestamp form used in snapshot filenames, with
// the colons of the time replaced by dashes.
const FilenameTimeLayout = "2006-01-02T15-04-05Z"

var filenamePattern = regexp.MustCompile(`^host_([0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3})_([0-9]{4}-[0-9]{2}-[0-9]{2}T[0-9]{2}-[0-9]{2}-[0-9]{2}Z)\.json$`)

// ParseFilename extracts the host address and scan time from a name like
// "host_125.199.235.74_2025-09-10T03-00-00Z.json". Directory components are
// ignored.
func ParseFilename(filename string) (string, time.Time, error) {
	base := filepath.Base(filename)
	matches := filenamePattern.FindStringSubmatch(base)
	if matches == nil {
		return "", time.Time{}, fmt.Errorf("%w: filename %q does not match host_<ip>_<timestamp>.json", sirius.ErrInvalidFormat, base)
	}

	addr, err := netip.ParseAddr(matches[1])
	if err != nil || !addr.Is4() {
		return "", time.Time{}, fmt.Errorf("%w: invalid ip address %q in filename", sirius.ErrInvalidFormat, matches[1])
	}

	ts, err := time.Parse(FilenameTimeLayout, matches[2])
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: invalid timestamp %q in filename: %v", sirius.ErrInvalidFormat, matches[2], err)
	}

	return addr.String(), ts.UTC(), nil
}

// Filename builds the conventional filename for a snapshot summary.
func Filename(ip string, ts time.Time) string {
	return fmt.Sprintf("host_%s_%s.json", ip, ts.UTC().Format(FilenameTimeLayout))
}
