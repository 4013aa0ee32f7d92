package cache

import (
	"fmt"
	"strings"

	"github.com/anthropics/datalogcached/internal/query"
)

// queryWrapper is the result of classifying one query atom: the text
// to append to the assembled program, the declaration of the source
// predicate to prepend if it isn't declared anywhere yet, and the
// result arity callers can use to validate row shapes.
type queryWrapper struct {
	programText string
	sourceDecl  string // "" if the source predicate is already declared
	sourceName  string
	resultArity int
}

const queryResultPredicate = "_query_result"

// buildQueryWrapper classifies the query atom's arguments, picks the
// wrapper head (distinct variables in textual order, or constants when
// there are none), and emits the
// `.decl _query_result(...) / .output _query_result / _query_result(H)
// :- query.` triple.
func buildQueryWrapper(queryText string, predicateTypes map[string][]string, declsByPredicate map[string]FactDeclaration, arities map[string]int, alreadyDeclared func(string) bool) (queryWrapper, error) {
	atom, ok := query.ParseQuery(queryText)
	if !ok {
		return queryWrapper{}, invalidQueryErr(fmt.Errorf("malformed query %q", queryText))
	}

	var variables []string
	seenVar := make(map[string]bool)
	var constants []string
	for _, arg := range atom.Args {
		switch arg.Kind {
		case query.Variable:
			if !seenVar[arg.Text] {
				seenVar[arg.Text] = true
				variables = append(variables, arg.Text)
			}
		case query.Constant:
			constants = append(constants, arg.Text)
		}
	}

	headArgs := variables
	if len(headArgs) == 0 {
		headArgs = constants
	}

	// _all_p shares p's column layout, so type resolution falls back to
	// the base predicate.
	typeName := strings.TrimPrefix(atom.Name, "_all_")
	colTypes, ok := predicateTypes[typeName]
	if !ok {
		if decl, ok2 := declsByPredicate[typeName]; ok2 {
			colTypes = make([]string, 0, len(decl.Args)+1)
			for _, a := range decl.Args {
				colTypes = append(colTypes, string(a.Type))
			}
			colTypes = append(colTypes, "symbol")
		} else if n, ok2 := arities[typeName]; ok2 {
			colTypes = symbolsOfArity(n + 1)
		}
	}

	resultTypes := make([]string, len(headArgs))
	for i := range headArgs {
		// Resolve each head argument's type from the source column it
		// binds to, falling back to symbol when unresolvable.
		idx := indexOfArg(atom, headArgs[i])
		if idx >= 0 && idx < len(colTypes) {
			resultTypes[i] = colTypes[idx]
		} else {
			resultTypes[i] = "symbol"
		}
	}

	var b strings.Builder
	b.WriteString(declLine(queryResultPredicate, resultTypes))
	b.WriteString(".output " + queryResultPredicate + "\n")
	b.WriteString(fmt.Sprintf("%s(%s) :- %s.\n", queryResultPredicate, strings.Join(headArgs, ", "), queryText))

	w := queryWrapper{
		programText: b.String(),
		sourceName:  atom.Name,
		resultArity: len(headArgs),
	}

	declaredElsewhere := isDerivedPredicate(atom.Name) || isMetadataRelation(atom.Name)
	if alreadyDeclared != nil {
		declaredElsewhere = declaredElsewhere || alreadyDeclared(atom.Name)
	}
	if !declaredElsewhere {
		ts := colTypes
		if len(ts) == 0 {
			ts = symbolsOfArity(len(atom.Args))
		}
		w.sourceDecl = declLine(atom.Name, ts)
	}

	return w, nil
}

// indexOfArg finds the column position of the first occurrence of text
// among atom's arguments, used to resolve a wrapper head variable back
// to the source column whose type it inherits.
func indexOfArg(atom query.Atom, text string) int {
	for i, a := range atom.Args {
		if a.Text == text {
			return i
		}
	}
	return -1
}
