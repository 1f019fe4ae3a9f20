package config

import (
	"fmt"
	"regexp"
	"strings"
)

// PredicateKind tags a match predicate variant.
type PredicateKind string

const (
	PredicateEquals     PredicateKind = "equals"
	PredicateStartsWith PredicateKind = "starts_with"
	PredicateContains   PredicateKind = "contains"
	PredicateRegex      PredicateKind = "regex"
)

// Predicate is a tagged match rule evaluated against a single string field
// (device name, MAC address, adapter name).
type Predicate struct {
	Kind  PredicateKind
	Value string
	re    *regexp.Regexp
}

// Match reports whether s satisfies the predicate.
func (p *Predicate) Match(s string) bool {
	if p == nil {
		// Absent predicate: matches anything (§9 open question: an
		// omitted adapter predicate means "any adapter").
		return true
	}
	switch p.Kind {
	case PredicateEquals:
		return s == p.Value
	case PredicateStartsWith:
		return strings.HasPrefix(s, p.Value)
	case PredicateContains:
		return strings.Contains(s, p.Value)
	case PredicateRegex:
		if p.re == nil {
			return false
		}
		return p.re.MatchString(s)
	default:
		return false
	}
}

// UnmarshalYAML decodes a tagged predicate of the form:
//
//	equals: "Sensor Hub"
//	starts_with: "Sensor"
//	contains: "Hub"
//	regex: "^Sensor.*"
func (p *Predicate) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw map[string]string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return fmt.Errorf("predicate must have exactly one of equals|starts_with|contains|regex, got %d keys", len(raw))
	}
	for k, v := range raw {
		kind := PredicateKind(k)
		switch kind {
		case PredicateEquals, PredicateStartsWith, PredicateContains:
			p.Kind, p.Value = kind, v
			return nil
		case PredicateRegex:
			re, err := regexp.Compile(v)
			if err != nil {
				return fmt.Errorf("invalid regex predicate %q: %w", v, err)
			}
			p.Kind, p.Value, p.re = kind, v, re
			return nil
		default:
			return fmt.Errorf("unknown predicate kind %q", k)
		}
	}
	return nil
}
