package classify

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule is one deterministic match rule. Rules are evaluated in three
// stages — exact, pattern, hint — and in declaration order within a
// stage, so classification is reproducible for identical input.
type Rule struct {
	ID       string `yaml:"id"`
	Kind     string `yaml:"kind"`  // "exact", "pattern", "hint"
	Field    string `yaml:"field"` // "source", "category_hint", "severity", "target_type", "attr:<key>"
	Equals   string `yaml:"equals"`
	Pattern  string `yaml:"pattern"`
	Category string `yaml:"category"`
	Runbook  string `yaml:"runbook"`
}

// RuleKinds in stage order.
const (
	KindExact   = "exact"
	KindPattern = "pattern"
	KindHint    = "hint"
)

// ruleFile is the YAML shape of a classifier rule file.
type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// DefaultRules returns the builtin rule set covering the shipped
// runbook catalog.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "exact.ransomware", Kind: KindExact, Field: "category_hint", Equals: "ransomware", Category: "ransomware", Runbook: "rb-ransomware-v1"},
		{ID: "exact.phishing", Kind: KindExact, Field: "category_hint", Equals: "phishing", Category: "phishing", Runbook: "rb-phishing-v1"},
		{ID: "pattern.encryptor", Kind: KindPattern, Field: "attr:process_name", Pattern: "*encrypt*", Category: "ransomware", Runbook: "rb-ransomware-v1"},
		{ID: "pattern.malware-hash", Kind: KindPattern, Field: "target_type", Pattern: "hash", Category: "malware", Runbook: "rb-malware-hash-v1"},
		{ID: "pattern.exfil", Kind: KindPattern, Field: "attr:rule_name", Pattern: "*exfil*", Category: "exfiltration", Runbook: "rb-exfil-v1"},
		{ID: "hint.auth", Kind: KindHint, Field: "category_hint", Equals: "auth", Category: "brute_force", Runbook: "rb-bruteforce-v1"},
		{ID: "hint.malware", Kind: KindHint, Field: "category_hint", Equals: "malware", Category: "malware", Runbook: "rb-malware-hash-v1"},
		{ID: "hint.exfil", Kind: KindHint, Field: "category_hint", Equals: "exfiltration", Category: "exfiltration", Runbook: "rb-exfil-v1"},
	}
}

// LoadRules reads a classifier rule file, falling back to the builtin
// set when the path is empty or the file does not exist. Returns the
// rules plus the SHA-256 of the raw file bytes.
func LoadRules(path string) ([]Rule, string, error) {
	if path == "" {
		return DefaultRules(), "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultRules(), "", nil
		}
		return nil, "", fmt.Errorf("read classifier rules: %w", err)
	}

	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, "", fmt.Errorf("parse classifier rules: %w", err)
	}
	if err := validateRules(rf.Rules); err != nil {
		return nil, "", err
	}

	h := sha256.Sum256(data)
	return rf.Rules, "sha256:" + hex.EncodeToString(h[:]), nil
}

func validateRules(rules []Rule) error {
	seen := make(map[string]bool, len(rules))
	for i, r := range rules {
		if r.ID == "" {
			return fmt.Errorf("rule %d has no id", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
		switch r.Kind {
		case KindExact, KindHint:
			if r.Equals == "" {
				return fmt.Errorf("rule %q: kind %s requires equals", r.ID, r.Kind)
			}
		case KindPattern:
			if r.Pattern == "" {
				return fmt.Errorf("rule %q: kind pattern requires pattern", r.ID)
			}
		default:
			return fmt.Errorf("rule %q: unknown kind %q", r.ID, r.Kind)
		}
		if r.Runbook == "" || r.Category == "" {
			return fmt.Errorf("rule %q: category and runbook are required", r.ID)
		}
	}
	return nil
}

// matchGlob matches a simple glob against a value: "*x*" contains,
// "x*" prefix, "*x" suffix, otherwise exact. Case-insensitive.
func matchGlob(pattern, value string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	p := strings.ToLower(pattern)
	v := strings.ToLower(value)

	switch {
	case strings.HasPrefix(p, "*") && strings.HasSuffix(p, "*") && len(p) > 1:
		return strings.Contains(v, p[1:len(p)-1])
	case strings.HasSuffix(p, "*"):
		return strings.HasPrefix(v, p[:len(p)-1])
	case strings.HasPrefix(p, "*"):
		return strings.HasSuffix(v, p[1:])
	default:
		return p == v
	}
}
