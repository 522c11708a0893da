package scanner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/netip"
	"os"
	"regexp"
	"strings"

	"github.com/corvusec/magpie/pkg/types"
)

const (
	// DefaultMaxLineBytes caps a single line; longer lines are truncated.
	DefaultMaxLineBytes = 64 * 1024

	// maxValueLen matches the column width of extracted_indicators.value.
	maxValueLen = 255

	octet = `(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)`
)

var (
	emailPattern = regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`)
	ipv4Pattern  = regexp.MustCompile(`\b` + octet + `\.` + octet + `\.` + octet + `\.` + octet + `\b`)
)

// Config selects the rule sets the scanner compiles at boot. The CSV lists
// come from the environment; RulesFile optionally unions a YAML document.
type Config struct {
	DomainSuffixes []string
	EmailSuffixes  []string
	IPv4CIDRs      []string
	RulesFile      string
	MaxLineBytes   int
}

// Hit is one indicator occurrence with provenance inside the archive.
type Hit struct {
	Type    types.IndicatorType
	Value   string
	RelPath string
	Line    int // 1-based
}

// Stats summarizes one ScanFile run.
type Stats struct {
	Lines          int64
	TruncatedLines int64
}

// Scanner matches configured indicator rules against text members line by
// line. It performs no persistence; callers own what happens to the hits.
type Scanner struct {
	domainRules   []domainRule
	emailSuffixes []string
	cidrs         []netip.Prefix
	maxLine       int
}

// New compiles the rule sets once. Invalid rules (bad CIDR, empty suffix)
// fail here so misconfiguration surfaces at boot, not mid-scan.
func New(cfg Config) (*Scanner, error) {
	domains := cfg.DomainSuffixes
	emails := cfg.EmailSuffixes
	cidrs := cfg.IPv4CIDRs
	if cfg.RulesFile != "" {
		rf, err := loadRulesFile(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		domains = append(append([]string{}, domains...), rf.Domains...)
		emails = append(append([]string{}, emails...), rf.Emails...)
		cidrs = append(append([]string{}, cidrs...), rf.IPv4CIDRs...)
	}

	s := &Scanner{maxLine: cfg.MaxLineBytes}
	if s.maxLine <= 0 {
		s.maxLine = DefaultMaxLineBytes
	}

	seen := make(map[string]bool)
	for _, d := range domains {
		rule, err := compileDomainRule(d)
		if err != nil {
			return nil, err
		}
		if seen["d:"+rule.suffix] {
			continue
		}
		seen["d:"+rule.suffix] = true
		s.domainRules = append(s.domainRules, rule)
	}
	for _, e := range emails {
		suffix, err := normalizeEmailSuffix(e)
		if err != nil {
			return nil, err
		}
		if seen["e:"+suffix] {
			continue
		}
		seen["e:"+suffix] = true
		s.emailSuffixes = append(s.emailSuffixes, suffix)
	}
	prefixes, err := parseCIDRs(cidrs)
	if err != nil {
		return nil, err
	}
	s.cidrs = prefixes

	return s, nil
}

// RuleCounts reports how many rules of each kind are active, for the boot
// log.
func (s *Scanner) RuleCounts() (domains, emails, cidrs int) {
	return len(s.domainRules), len(s.emailSuffixes), len(s.cidrs)
}

// ShouldScan reports whether a member is text-bearing under the default
// configuration: the name ends in .txt, case-insensitive.
func (s *Scanner) ShouldScan(relPath string) bool {
	return strings.HasSuffix(strings.ToLower(relPath), ".txt")
}

// ScanFile reads the member at diskPath line by line and returns every rule
// hit with its 1-based line number. Lines longer than the configured cap are
// truncated (the kept prefix is still scanned) and counted in Stats. Bytes
// that are not valid UTF-8 are replaced with U+FFFD; the scan never fails on
// content.
func (s *Scanner) ScanFile(ctx context.Context, relPath, diskPath string) ([]Hit, Stats, error) {
	var stats Stats

	f, err := os.Open(diskPath)
	if err != nil {
		return nil, stats, fmt.Errorf("failed to open member %s: %w", relPath, err)
	}
	defer f.Close()

	var hits []Hit
	br := bufio.NewReaderSize(f, s.maxLine)
	lineNo := 0
	for {
		if err := ctx.Err(); err != nil {
			return hits, stats, err
		}
		line, isPrefix, err := br.ReadLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			return hits, stats, fmt.Errorf("failed to read member %s: %w", relPath, err)
		}
		lineNo++
		stats.Lines++

		text := strings.ToValidUTF8(string(line), "�")
		hits = append(hits, s.scanLine(text, relPath, lineNo)...)

		if isPrefix {
			stats.TruncatedLines++
			for isPrefix && err == nil {
				_, isPrefix, err = br.ReadLine()
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				return hits, stats, fmt.Errorf("failed to read member %s: %w", relPath, err)
			}
		}
	}
	return hits, stats, nil
}

func (s *Scanner) scanLine(line, relPath string, lineNo int) []Hit {
	var hits []Hit

	for _, rule := range s.domainRules {
		for _, match := range rule.re.FindAllString(line, -1) {
			value := strings.TrimRight(strings.ToLower(match), ".")
			if value == "" || len(value) > maxValueLen {
				continue
			}
			if !isValidHostname(value) {
				continue
			}
			hits = append(hits, Hit{Type: types.IndicatorDomain, Value: value, RelPath: relPath, Line: lineNo})
		}
	}

	if len(s.emailSuffixes) > 0 {
		for _, match := range emailPattern.FindAllString(line, -1) {
			email := strings.ToLower(match)
			if len(email) > maxValueLen {
				continue
			}
			for _, suffix := range s.emailSuffixes {
				if strings.HasSuffix(email, "@"+suffix) {
					hits = append(hits, Hit{Type: types.IndicatorEmail, Value: email, RelPath: relPath, Line: lineNo})
					break
				}
			}
		}
	}

	if len(s.cidrs) > 0 {
		for _, match := range ipv4Pattern.FindAllString(line, -1) {
			addr, err := netip.ParseAddr(match)
			if err != nil {
				// leading zeros and other near-misses
				continue
			}
			for _, prefix := range s.cidrs {
				if prefix.Contains(addr) {
					hits = append(hits, Hit{Type: types.IndicatorIPv4, Value: addr.String(), RelPath: relPath, Line: lineNo})
					break
				}
			}
		}
	}

	return hits
}
