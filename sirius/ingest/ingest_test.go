package ingest

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SiriusScan/host-diff/sirius"
)

const sampleUpload = `{
  "ip": "125.199.235.74",
  "timestamp": "2025-09-10T03:00:00Z",
  "os": {"name": "Linux"},
  "services": [
    {"port": 443, "protocol": "tcp", "state": "open",
     "software": {"vendor": "F5", "product": "nginx", "version": "1.24.0"},
     "tls": {"version": "TLSv1.3", "cipher": "TLS_AES_256_GCM_SHA384", "certFingerprintSha256": "ab12"},
     "vulnerabilities": ["CVE-2023-44487", " CVE-2023-44487 ", ""]},
    {"port": 22, "protocol": "tcp", "state": "open"}
  ]
}`

func TestParseFilename(t *testing.T) {
	t.Log("\n🔍 Testing filename parsing...")

	tests := []struct {
		filename string
		wantIP   string
		wantTS   time.Time
		wantErr  bool
	}{
		{"host_125.199.235.74_2025-09-10T03-00-00Z.json", "125.199.235.74", time.Date(2025, 9, 10, 3, 0, 0, 0, time.UTC), false},
		{"uploads/host_198.51.100.23_2025-09-15T08-49-45Z.json", "198.51.100.23", time.Date(2025, 9, 15, 8, 49, 45, 0, time.UTC), false},
		{"host_1.2.3_2025-09-10T03-00-00Z.json", "", time.Time{}, true},
		{"host_127.0.0.1_2025-09-10T03-00Z.json", "", time.Time{}, true},
		{"host_999.999.999.999_2025-01-01T00-00-00Z.json", "", time.Time{}, true},
		{"host_127.0.0.1_2025-13-01T00-00-00Z.json", "", time.Time{}, true},
		{"host_127.0.0.1_2025-02-30T00-00-00Z.json", "", time.Time{}, true},
		{"host_127.0.0.1.json", "", time.Time{}, true},
		{"not_a_host_file.json", "", time.Time{}, true},
		{"xhost_127.0.0.1_2025-01-01T00-00-00Z.json.bak", "", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			ip, ts, err := ParseFilename(tt.filename)
			if tt.wantErr {
				require.ErrorIs(t, err, sirius.ErrInvalidFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantIP, ip)
			assert.True(t, tt.wantTS.Equal(ts), "timestamp %v", ts)
		})
	}

	t.Log("✅ Filename parsing test passed")
}

func TestFilenameRoundTrip(t *testing.T) {
	ts := time.Date(2025, 9, 15, 8, 49, 45, 0, time.UTC)
	name := Filename("198.51.100.23", ts)
	assert.Equal(t, "host_198.51.100.23_2025-09-15T08-49-45Z.json", name)

	ip, parsed, err := ParseFilename(name)
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.23", ip)
	assert.True(t, ts.Equal(parsed))
}

func TestParseContent(t *testing.T) {
	s, err := Parse([]byte(sampleUpload), "")
	require.NoError(t, err)

	assert.Equal(t, "125.199.235.74", s.IPAddress)
	assert.True(t, time.Date(2025, 9, 10, 3, 0, 0, 0, time.UTC).Equal(s.Timestamp))
	assert.Equal(t, "Linux", s.OSInfo.Name)
	require.Len(t, s.Services, 2)

	https := s.Services[0]
	assert.Equal(t, sirius.ServiceKey{Port: 443, Protocol: "tcp"}, https.Key())
	require.NotNil(t, https.Software)
	assert.Equal(t, "1.24.0", https.Software.Version)
	require.NotNil(t, https.TLS)
	assert.Equal(t, "ab12", https.TLS.CertFingerprintSHA256)
	assert.Equal(t, []string{"CVE-2023-44487", "CVE-2023-44487"}, https.Vulnerabilities)

	assert.Nil(t, s.Services[1].Software)
	assert.Nil(t, s.Services[1].TLS)
}

func TestParseSnakeCaseFingerprint(t *testing.T) {
	s, err := Parse([]byte(`{"ip":"10.0.0.1","timestamp":"2025-01-01T00:00:00Z","services":[{"port":443,"protocol":"tcp","tls":{"cert_fingerprint_sha256":"cd34"}}]}`), "")
	require.NoError(t, err)
	assert.Equal(t, "cd34", s.Services[0].TLS.CertFingerprintSHA256)
}

func TestParseFilenameFallback(t *testing.T) {
	s, err := Parse([]byte(`{"services":[{"port":22,"protocol":"tcp","state":"open"}]}`), "host_125.199.235.74_2025-09-15T08-49-45Z.json")
	require.NoError(t, err)
	assert.Equal(t, "125.199.235.74", s.IPAddress)
	assert.True(t, time.Date(2025, 9, 15, 8, 49, 45, 0, time.UTC).Equal(s.Timestamp))
	assert.Equal(t, "", s.OSInfo.Name)

	s, err = Parse([]byte(`{"ip":"10.1.1.1","services":[]}`), "host_125.199.235.74_2025-09-15T08-49-45Z.json")
	require.NoError(t, err)
	assert.Equal(t, "10.1.1.1", s.IPAddress, "content ip wins over the filename")
	assert.True(t, time.Date(2025, 9, 15, 8, 49, 45, 0, time.UTC).Equal(s.Timestamp))
}

func TestParseContentWinsOverFilename(t *testing.T) {
	s, err := Parse([]byte(sampleUpload), "host_10.9.9.9_2020-01-01T00-00-00Z.json")
	require.NoError(t, err)
	assert.Equal(t, "125.199.235.74", s.IPAddress)
	assert.Equal(t, 2025, s.Timestamp.Year())
}

func TestParseTimestampForms(t *testing.T) {
	want := time.Date(2025, 9, 10, 3, 0, 0, 0, time.UTC)
	for _, raw := range []string{"2025-09-10T03:00:00Z", "2025-09-10T05:00:00+02:00", "2025-09-10T03-00-00Z", "2025-09-10T03:00:00", "2025-09-10 03:00:00"} {
		s, err := Parse([]byte(`{"ip":"10.0.0.1","timestamp":"`+raw+`"}`), "")
		require.NoError(t, err, raw)
		assert.True(t, want.Equal(s.Timestamp), "%s parsed as %v", raw, s.Timestamp)
		assert.Equal(t, time.UTC, s.Timestamp.Location())
	}
}

func TestParseRejectsInvalidContent(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		filename string
	}{
		{"empty", "", "host_10.0.0.1_2025-01-01T00-00-00Z.json"},
		{"whitespace", "  \n", "host_10.0.0.1_2025-01-01T00-00-00Z.json"},
		{"not json", "ip=10.0.0.1", "host_10.0.0.1_2025-01-01T00-00-00Z.json"},
		{"array", `[{"ip":"10.0.0.1"}]`, "host_10.0.0.1_2025-01-01T00-00-00Z.json"},
		{"truncated", `{"ip":"10.0.0.1",`, "host_10.0.0.1_2025-01-01T00-00-00Z.json"},
		{"bad ip", `{"ip":"10.0.0.256","timestamp":"2025-01-01T00:00:00Z"}`, ""},
		{"bad timestamp", `{"ip":"10.0.0.1","timestamp":"yesterday"}`, ""},
		{"no identity", `{"services":[]}`, ""},
		{"bad filename fallback", `{"services":[]}`, "scan.json"},
		{"port out of range", `{"ip":"10.0.0.1","timestamp":"2025-01-01T00:00:00Z","services":[{"port":70000,"protocol":"tcp"}]}`, ""},
		{"missing port", `{"ip":"10.0.0.1","timestamp":"2025-01-01T00:00:00Z","services":[{"protocol":"tcp"}]}`, ""},
		{"missing protocol", `{"ip":"10.0.0.1","timestamp":"2025-01-01T00:00:00Z","services":[{"port":80}]}`, ""},
		{"duplicate key", `{"ip":"10.0.0.1","timestamp":"2025-01-01T00:00:00Z","services":[{"port":80,"protocol":"tcp"},{"port":80,"protocol":"tcp"}]}`, ""},
		{"wrong type", `{"ip":"10.0.0.1","timestamp":"2025-01-01T00:00:00Z","services":[{"port":"80","protocol":"tcp"}]}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse([]byte(tt.content), tt.filename)
			assert.Nil(t, s)
			assert.ErrorIs(t, err, sirius.ErrInvalidFormat)
		})
	}
}

func TestParseSizeLimit(t *testing.T) {
	content := `{"ip":"10.0.0.1","timestamp":"2025-01-01T00:00:00Z","os":{"name":"` + strings.Repeat("x", 200) + `"}}`

	_, err := Parser{MaxBytes: 64}.Parse([]byte(content), "")
	assert.ErrorIs(t, err, sirius.ErrInvalidFormat)

	_, err = Parser{MaxBytes: int64(len(content))}.Parse([]byte(content), "")
	assert.NoError(t, err)
}

func TestParseNormalizesIPv6(t *testing.T) {
	s, err := Parse([]byte(`{"ip":"2001:DB8::0001","timestamp":"2025-01-01T00:00:00Z"}`), "")
	require.NoError(t, err)
	assert.Equal(t, "2001:db8::1", s.IPAddress)
}
