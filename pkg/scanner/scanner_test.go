package scanner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvusec/magpie/pkg/types"
)

func newTestScanner(t *testing.T, cfg Config) *Scanner {
	t.Helper()
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func scanText(t *testing.T, s *Scanner, content string) ([]Hit, Stats) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	hits, stats, err := s.ScanFile(context.Background(), "a.txt", path)
	require.NoError(t, err)
	return hits, stats
}

func TestScanEmailAndIPv4(t *testing.T) {
	s := newTestScanner(t, Config{
		EmailSuffixes: []string{"@example.gov"},
		IPv4CIDRs:     []string{"10.0.0.0/24"},
	})

	hits, stats := scanText(t, s, "admin@example.gov\n10.0.0.5\n")
	require.Len(t, hits, 2)

	assert.Equal(t, types.IndicatorEmail, hits[0].Type)
	assert.Equal(t, "admin@example.gov", hits[0].Value)
	assert.Equal(t, "a.txt", hits[0].RelPath)
	assert.Equal(t, 1, hits[0].Line)

	assert.Equal(t, types.IndicatorIPv4, hits[1].Type)
	assert.Equal(t, "10.0.0.5", hits[1].Value)
	assert.Equal(t, "a.txt", hits[1].RelPath)
	assert.Equal(t, 2, hits[1].Line)

	assert.Equal(t, int64(2), stats.Lines)
}

func TestScanIPv4OutsideCIDR(t *testing.T) {
	s := newTestScanner(t, Config{
		IPv4CIDRs: []string{"10.0.0.0/8"},
	})

	hits, _ := scanText(t, s, "connect to 192.168.1.10 now\n")
	assert.Empty(t, hits)
}

func TestScanIPv4Boundaries(t *testing.T) {
	s := newTestScanner(t, Config{
		IPv4CIDRs: []string{"0.0.0.0/0"},
	})

	tests := []struct {
		name string
		line string
		want []string
	}{
		{"plain", "10.1.2.3", []string{"10.1.2.3"}},
		{"embedded in text", "host=172.16.0.9;", []string{"172.16.0.9"}},
		{"octet out of range", "999.1.1.1 and 1.1.1.256", nil},
		{"leading zeros rejected", "010.0.0.5", nil},
		{"several per line", "1.1.1.1 2.2.2.2", []string{"1.1.1.1", "2.2.2.2"}},
		{"first quad of longer dotted run", "1.2.3.4.5", []string{"1.2.3.4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, _ := scanText(t, s, tt.line+"\n")
			var got []string
			for _, h := range hits {
				got = append(got, h.Value)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScanDomains(t *testing.T) {
	s := newTestScanner(t, Config{
		DomainSuffixes: []string{"example.gov"},
	})

	tests := []struct {
		name string
		line string
		want []string
	}{
		{"exact", "example.gov", []string{"example.gov"}},
		{"subdomain", "portal.example.gov", []string{"portal.example.gov"}},
		{"deep subdomain", "a.b.example.gov down", []string{"a.b.example.gov"}},
		{"uppercase normalized", "PORTAL.EXAMPLE.GOV", []string{"portal.example.gov"}},
		{"trailing dot stripped", "mail.example.gov.", []string{"mail.example.gov"}},
		{"inside url", "https://login.example.gov/reset", []string{"login.example.gov"}},
		{"unrelated domain", "example.org", nil},
		{"suffix of longer tld", "example.government", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, _ := scanText(t, s, tt.line+"\n")
			var got []string
			for _, h := range hits {
				require.Equal(t, types.IndicatorDomain, h.Type)
				got = append(got, h.Value)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScanEmailSuffixForms(t *testing.T) {
	// the suffix list accepts both "@example.gov" and "example.gov"
	withAt := newTestScanner(t, Config{EmailSuffixes: []string{"@example.gov"}})
	bare := newTestScanner(t, Config{EmailSuffixes: []string{"example.gov"}})

	for _, s := range []*Scanner{withAt, bare} {
		hits, _ := scanText(t, s, "leaked: First.Last+tag@Example.GOV\n")
		require.Len(t, hits, 1)
		assert.Equal(t, "first.last+tag@example.gov", hits[0].Value)
	}

	// address at a different host does not match
	hits, _ := scanText(t, withAt, "user@examples.gov user@other.org\n")
	assert.Empty(t, hits)
}

func TestScanMultipleHitsPerLine(t *testing.T) {
	s := newTestScanner(t, Config{
		EmailSuffixes: []string{"@example.gov"},
		IPv4CIDRs:     []string{"10.0.0.0/8"},
	})

	hits, _ := scanText(t, s, "a@example.gov b@example.gov from 10.9.8.7\n")
	require.Len(t, hits, 3)
	assert.Equal(t, "a@example.gov", hits[0].Value)
	assert.Equal(t, "b@example.gov", hits[1].Value)
	assert.Equal(t, "10.9.8.7", hits[2].Value)
	for _, h := range hits {
		assert.Equal(t, 1, h.Line)
	}
}

func TestScanLongLineTruncated(t *testing.T) {
	s := newTestScanner(t, Config{
		IPv4CIDRs:    []string{"10.0.0.0/8"},
		MaxLineBytes: 1024,
	})

	// the hit sits inside the kept prefix; the rest of the line is discarded
	long := "10.1.1.1 " + strings.Repeat("x", 4096) + "\nafter 10.2.2.2\n"
	hits, stats := scanText(t, s, long)

	require.Len(t, hits, 2)
	assert.Equal(t, "10.1.1.1", hits[0].Value)
	assert.Equal(t, 1, hits[0].Line)
	assert.Equal(t, "10.2.2.2", hits[1].Value)
	assert.Equal(t, 2, hits[1].Line)
	assert.Equal(t, int64(1), stats.TruncatedLines)
	assert.Equal(t, int64(2), stats.Lines)
}

func TestScanInvalidUTF8(t *testing.T) {
	s := newTestScanner(t, Config{
		IPv4CIDRs: []string{"10.0.0.0/8"},
	})

	content := append([]byte{0xff, 0xfe, 0x20}, []byte("10.3.3.3\n")...)
	path := filepath.Join(t.TempDir(), "bin.txt")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	hits, _, err := s.ScanFile(context.Background(), "bin.txt", path)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "10.3.3.3", hits[0].Value)
}

func TestScanEmptyRuleSetsFindNothing(t *testing.T) {
	s := newTestScanner(t, Config{})
	hits, stats := scanText(t, s, "admin@example.gov\n10.0.0.5\nportal.example.gov\n")
	assert.Empty(t, hits)
	assert.Equal(t, int64(3), stats.Lines)
}

func TestShouldScan(t *testing.T) {
	s := newTestScanner(t, Config{})
	tests := []struct {
		path string
		want bool
	}{
		{"a.txt", true},
		{"dir/sub/notes.TXT", true},
		{"combo.Txt", true},
		{"binary.exe", false},
		{"readme.md", false},
		{"txt", false},
		{"a.txt.gz", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.ShouldScan(tt.path), "ShouldScan(%q)", tt.path)
	}
}

func TestRulesFileUnion(t *testing.T) {
	dir := t.TempDir()
	rules := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(rules, []byte(
		"domains: [\"example.gov\"]\nemails: [\"@example.gov\"]\nipv4_cidrs: [\"10.0.0.0/24\"]\n"), 0o600))

	s := newTestScanner(t, Config{
		IPv4CIDRs: []string{"192.168.0.0/16"},
		RulesFile: rules,
	})

	d, e, c := s.RuleCounts()
	assert.Equal(t, 1, d)
	assert.Equal(t, 1, e)
	assert.Equal(t, 2, c)

	hits, _ := scanText(t, s, "10.0.0.9 and 192.168.4.4\n")
	require.Len(t, hits, 2)
}

func TestNewRejectsBadRules(t *testing.T) {
	_, err := New(Config{IPv4CIDRs: []string{"10.0.0.0/33"}})
	assert.Error(t, err)

	_, err = New(Config{IPv4CIDRs: []string{"not-a-cidr"}})
	assert.Error(t, err)

	_, err = New(Config{IPv4CIDRs: []string{"2001:db8::/32"}})
	assert.Error(t, err)

	_, err = New(Config{DomainSuffixes: []string{"   "}})
	assert.Error(t, err)

	_, err = New(Config{RulesFile: "/does/not/exist.yaml"})
	assert.Error(t, err)
}

func TestDuplicateRulesCollapse(t *testing.T) {
	s := newTestScanner(t, Config{
		DomainSuffixes: []string{"example.gov", "EXAMPLE.GOV", ".example.gov"},
		EmailSuffixes:  []string{"@example.gov", "example.gov"},
	})
	d, e, _ := s.RuleCounts()
	assert.Equal(t, 1, d)
	assert.Equal(t, 1, e)

	// one rule means one hit per occurrence
	hits, _ := scanText(t, s, "portal.example.gov\n")
	require.Len(t, hits, 1)
}

func TestIsValidHostname(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"example.gov", true},
		{"a.b.example.gov", true},
		{"my-host.example.gov", true},
		{"-bad.example.gov", false},
		{"bad-.example.gov", false},
		{"double..dot.example.gov", false},
		{strings.Repeat("a", 64) + ".example.gov", false},
		{strings.Repeat("a.", 130) + "example.gov", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isValidHostname(tt.in), "isValidHostname(%q)", tt.in)
	}
}
