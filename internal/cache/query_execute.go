package cache

import (
	"fmt"
	"time"

	"github.com/anthropics/datalogcached/internal/depgraph"
	"github.com/anthropics/datalogcached/internal/derived"
	"github.com/anthropics/datalogcached/internal/query"
)

// ExecuteQuery is the single entry point for callers: flush dirty
// predicates, compute the required predicate set,
// materialise any stale TSV, assemble a program, and invoke the
// external evaluator.
func (c *Cache) ExecuteQuery(queryText string, extraRules, extraFacts, extraDeclarations []string) ([][]string, error) {
	if err := query.ValidateFragments(extraRules); err != nil {
		return nil, invalidQueryErr(err)
	}
	if err := query.ValidateFragments(extraFacts); err != nil {
		return nil, invalidQueryErr(err)
	}
	if err := query.ValidateFragments(extraDeclarations); err != nil {
		return nil, invalidQueryErr(err)
	}

	atom, ok := query.ParseQuery(queryText)
	if !ok {
		return nil, invalidQueryErr(fmt.Errorf("malformed query %q", queryText))
	}

	c.FlushDirtyPredicates()

	hasEphemeral := len(extraRules) > 0 || len(extraFacts) > 0 || len(extraDeclarations) > 0
	if c.isEmpty() && !hasEphemeral {
		return nil, nil
	}

	rootText := queryText
	for _, r := range extraRules {
		rootText += "\n" + r
	}
	for _, f := range extraFacts {
		rootText += "\n" + f
	}
	roots := depgraph.ExtractRoots(rootText)

	rules := c.rules.snapshot()
	declaredDerived := declaredDerivedPredicates()
	depRules := make([]depgraph.Rule, 0, len(rules))
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		depRules = append(depRules, depgraph.Rule{
			Head: HeadPredicate(r.Head),
			Body: query.ExtractQueryPredicates(r.Body),
		})
	}
	required := depgraph.Required(depRules, roots, declaredDerived)
	required[atom.Name] = true

	if err := c.EnsurePredicatesExist(required); err != nil {
		return nil, err
	}

	if err := c.writeNowFact(time.Now()); err != nil {
		return nil, engineErr(err, "")
	}

	program, err := c.assembleProgram(queryText, extraRules, extraFacts, extraDeclarations, required)
	if err != nil {
		return nil, err
	}

	if c.evaluator == nil {
		return nil, engineErr(fmt.Errorf("no evaluator configured"), "")
	}

	start := time.Now()
	_, rows, err := c.evaluator.Evaluate(c.factDir, program)
	duration := time.Since(start)
	if err != nil {
		return nil, engineErr(err, "")
	}

	if c.ledger != nil {
		c.ledger.RecordQuery(queryText, c.factsGeneration.Load(), duration.Milliseconds(), len(rows))
	}

	return rows, nil
}

// isEmpty reports whether the knowledge base holds no facts, rules, or
// declarations at all; such a query short-circuits without invoking
// the evaluator.
func (c *Cache) isEmpty() bool {
	c.facts.mu.RLock()
	factsEmpty := len(c.facts.byRkey) == 0
	c.facts.mu.RUnlock()
	if !factsEmpty {
		return false
	}
	c.rules.mu.RLock()
	rulesEmpty := len(c.rules.byRkey) == 0
	c.rules.mu.RUnlock()
	if !rulesEmpty {
		return false
	}
	c.decls.mu.RLock()
	declsEmpty := len(c.decls.byRkey) == 0
	c.decls.mu.RUnlock()
	return declsEmpty
}

// declaredDerivedPredicates returns every predicate name in the closed
// derived vocabulary, which depgraph.Required always adds
// unconditionally.
func declaredDerivedPredicates() []string {
	return derived.Names()
}
