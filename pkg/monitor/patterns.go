package monitor

import (
	"regexp"
	"strings"
)

// PatternSet evaluates ignore patterns against activity identifiers. Each
// pattern is tried as a regular expression first; a pattern that does not
// compile falls back to plain substring matching. First match wins.
type PatternSet struct {
	patterns []string
}

// NewPatternSet builds a set from raw pattern strings.
func NewPatternSet(patterns []string) PatternSet {
	return PatternSet{patterns: patterns}
}

// Matches reports whether the activity identifier is covered by any pattern.
// An empty activity or empty set never matches.
func (ps PatternSet) Matches(activity string) bool {
	if activity == "" || len(ps.patterns) == 0 {
		return false
	}
	for _, pattern := range ps.patterns {
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err == nil {
			if re.MatchString(activity) {
				return true
			}
			continue
		}
		if strings.Contains(activity, pattern) {
			return true
		}
	}
	return false
}
