package query

import (
	"fmt"
	"strings"
)

// MaxFragmentBytes bounds each of extra_rules/extra_facts/
// extra_declarations.
const MaxFragmentBytes = 4096

// disallowedSubstrings guards against shell/command injection via a
// Soufflé program fragment that might later be interpolated into a
// generated file read by an external process.
var disallowedSubstrings = []string{"$(", "`", "&&", "||", ";", "|"}

// ValidateFragment checks one extra_rules/extra_facts/extra_declarations
// entry against the length and pattern limits.
func ValidateFragment(s string) error {
	if len(s) > MaxFragmentBytes {
		return fmt.Errorf("fragment exceeds %d bytes", MaxFragmentBytes)
	}
	for _, bad := range disallowedSubstrings {
		if strings.Contains(s, bad) {
			return fmt.Errorf("fragment contains disallowed sequence %q", bad)
		}
	}
	return nil
}

// ValidateFragments validates every fragment in a list.
func ValidateFragments(fragments []string) error {
	for _, f := range fragments {
		if err := ValidateFragment(f); err != nil {
			return err
		}
	}
	return nil
}
