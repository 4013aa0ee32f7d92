package query

import "testing"

func TestClassifyArgVariants(t *testing.T) {
	cases := []struct {
		in   string
		want ArgKind
	}{
		{"X", Variable},
		{"_Foo", Variable},
		{"_", Anonymous},
		{`"hello"`, Constant},
		{"7", Constant},
		{"did:plc:abc", Constant},
	}
	for _, c := range cases {
		got := ClassifyArg(c.in)
		if got.Kind != c.want {
			t.Errorf("ClassifyArg(%q) = %v, want %v", c.in, got.Kind, c.want)
		}
	}
}

func TestParseQueryBasic(t *testing.T) {
	atom, ok := ParseQuery(`posted(X, "alice", _)`)
	if !ok {
		t.Fatal("expected parse success")
	}
	if atom.Name != "posted" || len(atom.Args) != 3 {
		t.Fatalf("unexpected atom: %+v", atom)
	}
	if atom.Args[0].Kind != Variable || atom.Args[1].Kind != Constant || atom.Args[2].Kind != Anonymous {
		t.Fatalf("unexpected arg kinds: %+v", atom.Args)
	}
}

func TestParseQueryNullary(t *testing.T) {
	atom, ok := ParseQuery("has_posts()")
	if !ok {
		t.Fatal("expected parse success")
	}
	if len(atom.Args) != 0 {
		t.Fatalf("expected zero args, got %+v", atom.Args)
	}
}

func TestParseQueryRejectsMalformed(t *testing.T) {
	if _, ok := ParseQuery("not a query"); ok {
		t.Fatal("expected parse failure")
	}
}

func TestParseDeclarationArgTypesDefaultsToSymbol(t *testing.T) {
	name, types := ParseDeclarationArgTypes(".decl scored(name: symbol, val: number, rkey)")
	if name != "scored" {
		t.Fatalf("unexpected name: %s", name)
	}
	if len(types) != 3 || types[0] != "symbol" || types[1] != "number" || types[2] != "symbol" {
		t.Fatalf("unexpected types: %v", types)
	}
}

func TestParseDeclStatementsFindsDeclaredNames(t *testing.T) {
	block := ".decl foo(a: symbol)\nfoo(X) :- bar(X).\n.decl bar(a: symbol)\n"
	decls := ParseDeclStatements(block)
	if !decls["foo"] || !decls["bar"] {
		t.Fatalf("expected foo and bar declared, got %v", decls)
	}
}

func TestParseExtraFactsExtractsNameAndArity(t *testing.T) {
	facts := ParseExtraFacts([]string{`current_topic("rust").`, `liked("a", "b", "r1")`})
	if len(facts) != 2 {
		t.Fatalf("expected 2 facts, got %v", facts)
	}
	if facts[0].Name != "current_topic" || facts[0].Arity != 1 {
		t.Fatalf("unexpected first fact: %+v", facts[0])
	}
	if facts[1].Name != "liked" || facts[1].Arity != 3 {
		t.Fatalf("unexpected second fact: %+v", facts[1])
	}
}

func TestExtractRuleHeadWithArity(t *testing.T) {
	name, arity := ExtractRuleHeadWithArity("mutual_follow(X, Y)")
	if name != "mutual_follow" || arity != 2 {
		t.Fatalf("unexpected head parse: %s %d", name, arity)
	}
}

func TestExtractQueryPredicatesMatchesUnderscoreNames(t *testing.T) {
	preds := ExtractQueryPredicates(`_validation_error(R, P, E), _all_likes(X, _)`)
	if len(preds) != 2 || preds[0] != "_validation_error" || preds[1] != "_all_likes" {
		t.Fatalf("unexpected predicates: %v", preds)
	}
}

func TestExtractQueryPredicatesIgnoresStringLiterals(t *testing.T) {
	preds := ExtractQueryPredicates(`note("see also fake(", X)`)
	if len(preds) != 1 || preds[0] != "note" {
		t.Fatalf("unexpected predicates: %v", preds)
	}
}

func TestExtractQueryPredicatesDedupes(t *testing.T) {
	preds := ExtractQueryPredicates(`relevant(W, T) :- interested_in(W, T, _), current_topic(T).`)
	want := map[string]bool{"relevant": true, "interested_in": true, "current_topic": true}
	if len(preds) != len(want) {
		t.Fatalf("unexpected predicates: %v", preds)
	}
	for _, p := range preds {
		if !want[p] {
			t.Fatalf("unexpected predicate %s in %v", p, preds)
		}
	}
}
