package cache

import (
	"fmt"
	"strconv"
)

// validateFact checks a fact's arity and per-argument type
// coercibility against decl. A nil decl means permissive mode: no
// declaration exists, so validation is skipped entirely.
func validateFact(predicate string, args []string, decl *FactDeclaration) error {
	if decl == nil {
		return nil
	}
	if len(args) != len(decl.Args) {
		return fmt.Errorf("arity mismatch: predicate %q declared with %d argument(s), fact has %d", predicate, len(decl.Args), len(args))
	}
	for i, a := range decl.Args {
		if err := coercible(args[i], a.Type); err != nil {
			return fmt.Errorf("argument %d (%s): %w", i, a.Name, err)
		}
	}
	return nil
}

// coercible reports whether value can be represented as t.
func coercible(value string, t ArgType) error {
	switch t {
	case Symbol, "":
		return nil
	case Number, Unsigned:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("cannot parse %q as %s: %w", value, t, err)
		}
		if t == Unsigned && n < 0 {
			return fmt.Errorf("value %q is negative, expected unsigned", value)
		}
		return nil
	case Float:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return fmt.Errorf("cannot parse %q as float: %w", value, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown argument type %q", t)
	}
}
