/*
Package scanner matches configured indicator rules against the text members
of an extracted archive, line by line.

The scanner is a pure matcher: rules go in at boot, hits come out per
file, and nothing here touches the network or the database. Extracted
text is hostile input, so the reader is hardened against endless lines
and broken encodings rather than trusting the archive to be well formed.

# Architecture

Rules are compiled once at boot from the environment CSV lists plus an
optional YAML rules file; scanning is pure matching with no persistence:

	┌──────────────┐     ┌───────────────────────────────┐
	│ Config       │     │ Scanner                       │
	│  domains CSV │────▶│  domainRules []domainRule     │
	│  emails CSV  │     │  emailSuffixes []string       │
	│  cidrs CSV   │     │  cidrs []netip.Prefix         │
	│  rules.yaml  │     └──────────────┬────────────────┘
	└──────────────┘                    │ ScanFile(ctx, rel, disk)
	                                    ▼
	                     ┌───────────────────────────────┐
	                     │ bufio line reader             │
	                     │  - 64 KiB cap, truncate+count │
	                     │  - invalid UTF-8 → U+FFFD     │
	                     │  - scanLine per rule kind     │
	                     └──────────────┬────────────────┘
	                                    ▼
	                              []Hit + Stats

# Core Components

Scanner:
  - Compiled rule sets, built once by New, safe for concurrent use
  - ShouldScan: the .txt filter (case-insensitive extension check)
  - ScanFile: stream one file, return hits and per-file stats
  - RuleCounts: rule totals for the boot log

Config:
  - DomainSuffixes, EmailSuffixes, IPv4CIDRs: inline rule lists
  - RulesFile: optional YAML file merged with the inline lists
  - MaxLineBytes: the line cap (default 64 KiB)

Hit:
  - Type: domain, email, or ipv4
  - Value: the normalized matched token
  - RelPath, Line: provenance inside the archive, 1-based line numbers

Stats:
  - Lines scanned and lines truncated at the cap, per file

# Matching Rules

Three rule kinds, each independently optional (an empty list disables that
kind):

  - Domains: a hostname token ending with a configured suffix at a word
    boundary. "cdn.example.gov" matches suffix "example.gov";
    "example.government" does not. Values are lowercased, stripped of a
    trailing dot, and must be RFC 1123 shaped.
  - Emails: any address whose domain part equals a configured suffix,
    lowercased.
  - IPv4: any dotted quad contained in a configured CIDR. Candidates that
    fail strict parsing (leading zeros, out-of-range octets) are ignored.

Hits carry the member-relative path and 1-based line number so the
repository can record provenance. Values longer than 255 bytes are
dropped rather than stored truncated.

# Hostile Input Handling

Line cap:
  - A line longer than MaxLineBytes is scanned up to the cap, counted in
    Stats.TruncatedLines, and the remainder is skipped without being
    buffered. A gigabyte-long "line" costs one buffer, not one gigabyte.

Encoding:
  - Invalid UTF-8 sequences are replaced with U+FFFD before matching, so
    binary garbage in a .txt member cannot derail the matchers.

Cancellation:
  - ScanFile checks the context between lines; shutdown does not wait
    for a large member to finish.

# Rules File

The optional YAML file carries the same three kinds as the environment
lists and merges with them (duplicates are removed after normalization):

	domains:
	  - example.gov
	  - corp.example.com
	emails:
	  - "@example.gov"
	ipv4_cidrs:
	  - 10.0.0.0/8
	  - 192.168.1.0/24

Environment lists suit a handful of rules; the file suits rule sets
maintained by another team or generated from a feed.

# Usage

	s, err := scanner.New(scanner.Config{
		EmailSuffixes: []string{"@example.gov"},
		IPv4CIDRs:     []string{"10.0.0.0/24"},
		RulesFile:     cfg.IOCRulesFile,
	})
	if err != nil {
		return err
	}
	for _, m := range members {
		if !s.ShouldScan(m.RelPath) {
			continue
		}
		hits, stats, err := s.ScanFile(ctx, m.RelPath, m.DiskPath)
		if err != nil {
			return err
		}
		record(hits, stats)
	}

# Performance Characteristics

Throughput:
  - One streaming pass per file; memory is one line buffer
  - Domain rules cost one compiled regexp scan per rule per line, so
    cost grows with rule count; tens of rules remain comfortably fast
  - Email and IPv4 matching each run one shared regexp pass per line
    regardless of rule count

Scaling:
  - Scanning runs inside pipeline workers, so WORKER_COUNT bounds
    concurrent scans
  - The per-member delete in the pipeline keeps disk usage flat while
    a large archive scans

# Integration Points

This package integrates with:

  - pkg/pipeline: scans every .txt member after extraction and converts
    hits into indicator upserts
  - pkg/config: supplies the rule lists, rules file path, and line cap
  - pkg/types: IndicatorType tags on each Hit

# Design Patterns

Compile Once, Match Many:
  - All normalization and regexp compilation happens in New
  - A bad rule fails boot, never a job hours later

Suffix Semantics:
  - Domain and email rules are suffix matches on label boundaries, not
    substrings; "notexample.gov" never matches "example.gov"

Hits Without Side Effects:
  - The scanner returns values; persistence belongs to the caller
  - Tests exercise matching with nothing but strings and temp files

# Troubleshooting

Common Issues:

Expected indicator not reported:
  - Check: the member name ends in .txt (other extensions are skipped)
  - Check: domain values are bare hostnames, not URLs; a scheme or path
    breaks the token boundary
  - Check: IPv4 rule masks actually contain the address

Unexpectedly many hits:
  - Cause: a short suffix like a bare TLD matches broadly
  - Solution: configure full registrable domains, not TLDs

Truncated-line counter rising:
  - Symptom: magpie_scan_truncated_lines_total grows
  - Cause: minified or binary-ish content in .txt members
  - Expected: matching still covers the first MaxLineBytes of each line

# See Also

  - pkg/pipeline for where hits become database rows
  - pkg/config for the IOC_* environment variables
  - RFC 1123 for the hostname shape rules
*/
package scanner
