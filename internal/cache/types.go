// Package cache implements the Datalog query cache: the in-memory
// fact/rule/declaration tables, the lazy TSV regeneration protocol, and
// per-query program assembly against an external Soufflé-compatible
// evaluator.
package cache

import "time"

// ArgType is a Soufflé column type.
type ArgType string

const (
	Symbol   ArgType = "symbol"
	Number   ArgType = "number"
	Float    ArgType = "float"
	Unsigned ArgType = "unsigned"
)

// Fact is one Datalog tuple owned by the remote repo and mirrored here
// keyed by rkey. Facts are immutable once ingested; an "update"
// produces a new fact whose Supersedes names the old fact's cid.
type Fact struct {
	Predicate  string
	Args       []string
	Confidence *float64
	Source     *string
	Supersedes *string
	Tags       []string
	CreatedAt  time.Time
	ExpiresAt  *time.Time
}

// CachedFactData is the internal entry indexed by rkey.
type CachedFactData struct {
	Fact         Fact
	Cid          string
	IsSuperseded bool
}

// RuleArg is one typed argument of a rule head.
type RuleArg struct {
	Name string
	Type ArgType
}

// Rule is a named, optionally-enabled Datalog rule. Head is a textual
// predicate application like "mutual_follow(X, Y)"; Body is the
// Soufflé clause body compiled verbatim into the assembled program.
type Rule struct {
	Name        string
	Head        string
	Body        string
	Args        []RuleArg
	Enabled     bool
	Constraints []string
}

// DeclArg is one typed argument of a fact declaration.
type DeclArg struct {
	Name string
	Type ArgType
}

// FactDeclaration is optional per-predicate schema used for validation
// and for correct column typing in generated programs.
type FactDeclaration struct {
	Predicate   string
	Args        []DeclArg
	Description string
	Tags        []string
	CreatedAt   time.Time
}

// HeadPredicate extracts the predicate name from a rule's textual head,
// e.g. "mutual_follow(X, Y)" -> "mutual_follow".
func HeadPredicate(head string) string {
	for i, r := range head {
		if r == '(' {
			return head[:i]
		}
	}
	return head
}
