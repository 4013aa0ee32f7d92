package cache

import (
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/datalogcached/internal/derived"
	"github.com/anthropics/datalogcached/internal/query"
)

// metadataColumnTypes gives the fixed column types of each structural
// metadata relation, keyed by name.
var metadataColumnTypes = map[string][]string{
	MetaFact:            {"symbol", "symbol", "symbol"},
	MetaConfidence:      {"symbol", "float"},
	MetaSource:          {"symbol", "symbol"},
	MetaSupersedes:      {"symbol", "symbol"},
	MetaCreatedAt:       {"symbol", "symbol"},
	MetaExpiresAt:       {"symbol", "symbol"},
	MetaNow:             {"symbol"},
	MetaValidationError: {"symbol", "symbol", "symbol"},
}

// declLine renders a ".decl name(c0: t0, c1: t1, ...)" line. Column
// names are positional placeholders; Soufflé only cares about arity
// and type for program compilation here.
func declLine(name string, types []string) string {
	if len(types) == 0 {
		return fmt.Sprintf(".decl %s()\n", name)
	}
	cols := make([]string, len(types))
	for i, t := range types {
		cols[i] = fmt.Sprintf("c%d: %s", i, t)
	}
	return fmt.Sprintf(".decl %s(%s)\n", name, strings.Join(cols, ", "))
}

func inputLine(name string) string {
	return fmt.Sprintf(".input %s\n", name)
}

func symbolsOfArity(n int) []string {
	types := make([]string, n)
	for i := range types {
		types[i] = "symbol"
	}
	return types
}

// buildPredicateTypes assembles the predicate-types map. Precedence is
// first writer wins: stored declarations, then stored rule heads, then
// extra_declarations, then .decl lines inside extra_rules.
func (c *Cache) buildPredicateTypes(extraDeclarations, extraRules []string) map[string][]string {
	types := make(map[string][]string)
	setIfAbsent := func(name string, ts []string) {
		if name == "" || len(ts) == 0 {
			return
		}
		if _, ok := types[name]; !ok {
			types[name] = ts
		}
	}

	for pred, decl := range c.decls.snapshotByPredicate() {
		ts := make([]string, 0, len(decl.Args)+1)
		for _, a := range decl.Args {
			ts = append(ts, string(a.Type))
		}
		ts = append(ts, "symbol") // implicit trailing rkey column
		setIfAbsent(pred, ts)
	}

	for _, r := range c.rules.snapshot() {
		if len(r.Args) == 0 {
			continue
		}
		ts := make([]string, 0, len(r.Args))
		for _, a := range r.Args {
			ts = append(ts, string(a.Type))
		}
		setIfAbsent(HeadPredicate(r.Head), ts)
	}

	for _, d := range extraDeclarations {
		name, ts := query.ParseDeclarationArgTypes(d)
		setIfAbsent(name, ts)
	}

	for _, block := range extraRules {
		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, ".decl ") {
				name, ts := query.ParseDeclarationArgTypes(line)
				setIfAbsent(name, ts)
			}
		}
	}

	return types
}

// ruleClause compiles one stored rule into its textual Soufflé clause.
func ruleClause(r Rule) string {
	body := strings.TrimSpace(r.Body)
	body = strings.TrimSuffix(body, ".")
	return fmt.Sprintf("%s :- %s.\n", r.Head, body)
}

// assembleProgram builds the full program text for one query, section
// by section in a fixed order.
func (c *Cache) assembleProgram(queryText string, extraRules, extraFacts, extraDeclarations []string, required map[string]bool) (string, error) {
	predicateTypes := c.buildPredicateTypes(extraDeclarations, extraRules)
	declared := make(map[string]bool)

	var b strings.Builder
	writeDecl := func(name string, types []string, asInput bool) {
		if declared[name] {
			return
		}
		b.WriteString(declLine(name, types))
		if asInput {
			b.WriteString(inputLine(name))
		}
		declared[name] = true
	}

	// 1. Metadata input declarations, once, if required.
	anyMeta := false
	for _, m := range MetadataRelations {
		if required[m] {
			anyMeta = true
			break
		}
	}
	if anyMeta || required[MetaValidationError] || required[MetaNow] || required[MetaExpired] {
		for _, m := range MetadataRelations {
			writeDecl(m, metadataColumnTypes[m], true)
		}
		writeDecl(MetaValidationError, metadataColumnTypes[MetaValidationError], true)
		writeDecl(MetaNow, metadataColumnTypes[MetaNow], true)
		// _expired is computed, not stored: declare without .input and
		// append its defining rule once.
		if !declared[MetaExpired] {
			b.WriteString(".decl " + MetaExpired + "(c0: symbol)\n")
			b.WriteString(MetaExpired + "(R) :- " + MetaExpiresAt + "(R, E), " + MetaNow + "(N), E < N.\n")
			declared[MetaExpired] = true
		}
	}

	// 2. Input declarations for required user predicates (and _all_p).
	// Only predicates genuinely backed by stored facts or a declaration
	// qualify here: a name also defined by a rule (stored or
	// ephemeral) is computed, never read from a file, so it is excluded
	// even when it appears in required.
	arities := c.facts.snapshotArities()
	declsByPredicate := c.decls.snapshotByPredicate()
	ruleHeads := make(map[string]bool)
	for _, r := range c.rules.snapshot() {
		if r.Enabled {
			ruleHeads[HeadPredicate(r.Head)] = true
		}
	}
	for _, block := range extraRules {
		for _, line := range strings.Split(block, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, ".decl ") || !strings.Contains(trimmed, ":-") {
				continue
			}
			headText := strings.TrimSpace(strings.SplitN(trimmed, ":-", 2)[0])
			if name, _ := query.ExtractRuleHeadWithArity(headText); name != "" {
				ruleHeads[name] = true
			}
		}
	}

	stored := make(map[string]bool, len(arities)+len(declsByPredicate))
	for p := range arities {
		stored[p] = true
	}
	for p := range declsByPredicate {
		stored[p] = true
	}

	for p := range stored {
		if ruleHeads[p] {
			continue
		}
		allName := "_all_" + p
		if !required[p] && !required[allName] {
			continue
		}
		ts, ok := predicateTypes[p]
		if !ok {
			if decl, ok2 := declsByPredicate[p]; ok2 {
				ts = make([]string, 0, len(decl.Args)+1)
				for _, a := range decl.Args {
					ts = append(ts, string(a.Type))
				}
				ts = append(ts, "symbol")
			} else if n, ok2 := arities[p]; ok2 {
				ts = append(symbolsOfArity(n), "symbol")
			} else {
				ts = []string{"symbol"}
			}
		}
		if required[p] {
			writeDecl(p, ts, true)
		}
		if required[allName] {
			writeDecl(allName, ts, true)
		}
	}

	// 3. Unconditional declarations for every derived predicate not
	// already declared.
	for _, name := range derived.Names() {
		spec := derived.Catalogue[name]
		ts := make([]string, len(spec.Args))
		for i, a := range spec.Args {
			ts[i] = string(a.Type)
		}
		writeDecl(name, ts, true)
	}

	// 4 & 5. Declarations and compiled bodies of enabled rules relevant
	// to required_predicates.
	for _, r := range c.rules.snapshot() {
		head := HeadPredicate(r.Head)
		if !r.Enabled || !required[head] {
			continue
		}
		ts, ok := predicateTypes[head]
		if !ok {
			_, arity := query.ExtractRuleHeadWithArity(r.Head)
			ts = symbolsOfArity(arity)
		}
		writeDecl(head, ts, false)
		b.WriteString(ruleClause(r))
	}

	// 6. Stored fact declarations for required predicates not already
	// declared.
	for p := range required {
		if declared[p] {
			continue
		}
		decl, ok := declsByPredicate[p]
		if !ok {
			continue
		}
		ts := make([]string, 0, len(decl.Args)+1)
		for _, a := range decl.Args {
			ts = append(ts, string(a.Type))
		}
		ts = append(ts, "symbol")
		writeDecl(p, ts, true)
	}

	// 7. User .decl lines from extra_rules, emitted before inline facts.
	for _, block := range extraRules {
		for _, line := range strings.Split(block, "\n") {
			trimmed := strings.TrimSpace(line)
			if !strings.HasPrefix(trimmed, ".decl ") {
				continue
			}
			name, _ := query.ParseDeclarationArgTypes(trimmed)
			if declared[name] {
				continue
			}
			b.WriteString(trimmed + "\n")
			declared[name] = true
		}
	}

	// 8. Auto-declarations for extra_facts predicates not declared
	// anywhere.
	for _, ef := range query.ParseExtraFacts(extraFacts) {
		if declared[ef.Name] {
			continue
		}
		ts, ok := predicateTypes[ef.Name]
		if !ok {
			ts = symbolsOfArity(ef.Arity)
		}
		writeDecl(ef.Name, ts, false)
	}

	// 9. extra_facts as inline assertions.
	for _, f := range extraFacts {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if !strings.HasSuffix(f, ".") {
			f += "."
		}
		b.WriteString(f + "\n")
	}

	// 10. Auto-declarations for heads in extra_rules not declared
	// anywhere.
	for _, block := range extraRules {
		for _, line := range strings.Split(block, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, ".decl ") || !strings.Contains(trimmed, ":-") {
				continue
			}
			headText := strings.TrimSpace(strings.SplitN(trimmed, ":-", 2)[0])
			name, arity := query.ExtractRuleHeadWithArity(headText)
			if name == "" || declared[name] {
				continue
			}
			ts, ok := predicateTypes[name]
			if !ok {
				ts = symbolsOfArity(arity)
			}
			writeDecl(name, ts, false)
		}
	}

	// 11. The rest of extra_rules (the actual clause lines).
	for _, block := range extraRules {
		for _, line := range strings.Split(block, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, ".decl ") {
				continue
			}
			b.WriteString(trimmed + "\n")
		}
	}

	// 12. Wrapper rule and output declaration. The source predicate is
	// only pre-declared here if nothing above already declared it,
	// sharing this same declared set so a predicate is never given two
	// conflicting declarations (e.g. both a stored .input and a rule).
	wrapper, err := buildQueryWrapper(queryText, predicateTypes, declsByPredicate, arities, func(name string) bool { return declared[name] })
	if err != nil {
		return "", err
	}
	if wrapper.sourceDecl != "" {
		b.WriteString(wrapper.sourceDecl)
	}
	b.WriteString(wrapper.programText)

	return b.String(), nil
}

// writeNowFact truncates and rewrites _now.facts with the current
// instant, the one relation injected fresh on every query rather than
// tracked through the regular regeneration protocol.
func (c *Cache) writeNowFact(now time.Time) error {
	return writeTSV(c.factDir, factsFileName(MetaNow), [][]string{{iso8601(now)}})
}
