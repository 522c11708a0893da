package scanner

import (
	"fmt"
	"net/netip"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ruleFile is the optional YAML rule document referenced by IOC_RULES_FILE.
// Its entries are unioned with the environment CSV lists.
type ruleFile struct {
	Domains   []string `yaml:"domains"`
	Emails    []string `yaml:"emails"`
	IPv4CIDRs []string `yaml:"ipv4_cidrs"`
}

func loadRulesFile(path string) (ruleFile, error) {
	var rf ruleFile
	data, err := os.ReadFile(path)
	if err != nil {
		return rf, fmt.Errorf("failed to read rules file: %w", err)
	}
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return rf, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}
	return rf, nil
}

// domainRule pairs a configured suffix with its compiled pattern. The
// pattern anchors a hostname token that ends with the suffix at a word
// boundary, so "cdn.example.gov" matches for suffix "example.gov" while
// "example.government" does not.
type domainRule struct {
	suffix string
	re     *regexp.Regexp
}

func compileDomainRule(suffix string) (domainRule, error) {
	s := strings.ToLower(strings.TrimSpace(suffix))
	s = strings.TrimPrefix(s, "*.")
	s = strings.TrimPrefix(s, ".")
	if s == "" {
		return domainRule{}, fmt.Errorf("empty domain suffix")
	}
	re, err := regexp.Compile(`(?i)\b([a-zA-Z0-9][a-zA-Z0-9.-]*` + regexp.QuoteMeta(s) + `)\b`)
	if err != nil {
		return domainRule{}, fmt.Errorf("failed to compile domain rule %q: %w", suffix, err)
	}
	return domainRule{suffix: s, re: re}, nil
}

func normalizeEmailSuffix(suffix string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(suffix))
	s = strings.TrimPrefix(s, "@")
	if s == "" {
		return "", fmt.Errorf("empty email suffix")
	}
	return s, nil
}

func parseCIDRs(values []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		p, err := netip.ParsePrefix(v)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR %q: %w", v, err)
		}
		if !p.Addr().Is4() {
			return nil, fmt.Errorf("invalid CIDR %q: only IPv4 ranges are supported", v)
		}
		prefixes = append(prefixes, p.Masked())
	}
	return prefixes, nil
}

// isValidHostname applies RFC 1123 shape rules to a candidate token:
// total length at most 253, dot-separated labels of 1-63 characters,
// alphanumeric at label edges, hyphens only inside.
func isValidHostname(s string) bool {
	if s == "" || len(s) > 253 {
		return false
	}
	for _, label := range strings.Split(s, ".") {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			switch {
			case c >= 'a' && c <= 'z':
			case c >= '0' && c <= '9':
			case c == '-':
				if i == 0 || i == len(label)-1 {
					return false
				}
			default:
				return false
			}
		}
	}
	return true
}
