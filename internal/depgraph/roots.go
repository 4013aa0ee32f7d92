package depgraph

import "github.com/anthropics/datalogcached/internal/query"

// ExtractRoots scans free-form text (a query string, or the text of
// extra_rules/extra_facts) for predicate-call sites and returns the
// deduplicated set of names found, in first-seen order.
func ExtractRoots(text string) []string {
	return query.ExtractQueryPredicates(text)
}
