package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/anthropics/datalogcached/internal/cache"
)

// runREPL is a small interactive loop for ad-hoc querying and local
// ingestion during development.
//
// A bare line is treated as a query atom, e.g. "follows(X, Y, Z)". Lines
// starting with "/" are commands:
//
//	/fact predicate(arg1, arg2, ...)     ingest a new fact
//	/rule name: head :- body             ingest a new rule
//	/rules disable|enable name           toggle a rule
//	/bundle load|save path.yaml           import/export rules+declarations
//	/help                                 show this message
//	/exit                                 quit
func runREPL(c *cache.Cache) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36mdatalogcached>\033[0m ",
		HistoryFile:     ".datalogcached/history",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	fmt.Println("datalogcached query REPL. Type /help for commands, /exit to quit.")

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if handleCommand(c, line) {
				return nil
			}
			continue
		}

		runQuery(c, line)
	}
}

// handleCommand dispatches a "/"-prefixed line; it returns true when the
// REPL should exit.
func handleCommand(c *cache.Cache, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/exit", "/quit":
		fmt.Println("bye")
		return true
	case "/help":
		printREPLHelp()
	case "/fact":
		runIngestFact(c, strings.TrimSpace(strings.TrimPrefix(line, "/fact")))
	case "/rule":
		runIngestRule(c, strings.TrimSpace(strings.TrimPrefix(line, "/rule")))
	case "/rules":
		runToggleRule(c, fields[1:])
	case "/bundle":
		runBundle(c, fields[1:])
	default:
		fmt.Printf("\033[31munknown command %q, try /help\033[0m\n", fields[0])
	}
	return false
}

func printREPLHelp() {
	fmt.Print(`
Commands:
  <query atom>               run a query, e.g. follows(X, Y, Z)
  /fact pred(a, b, ...)       ingest a new fact
  /rule name: head :- body    ingest a new rule, e.g. /rule mutual: mutual_follow(X, Y) :- follows(X, Y, _), follows(Y, X, _)
  /rules enable|disable name  toggle a rule by name
  /bundle load|save path.yaml import/export rules+declarations as YAML
  /help                       show this message
  /exit                       quit

`)
}

func runQuery(c *cache.Cache, queryText string) {
	rows, err := c.ExecuteQuery(queryText, nil, nil, nil)
	if err != nil {
		fmt.Printf("\033[31merror: %v\033[0m\n", err)
		return
	}
	if len(rows) == 0 {
		fmt.Println("(no rows)")
		return
	}
	for _, row := range rows {
		fmt.Println(strings.Join(row, "\t"))
	}
}

func runIngestFact(c *cache.Cache, text string) {
	atom, ok := parseAtomLoosely(text)
	if !ok {
		fmt.Printf("\033[31musage: /fact predicate(arg1, arg2, ...)\033[0m\n")
		return
	}
	rkey := uuid.New().String()
	err := c.Ingest(cache.Update{
		Kind: cache.FactCreated,
		Rkey: rkey,
		Cid:  rkey,
		Fact: &cache.Fact{Predicate: atom.name, Args: atom.args},
	})
	if err != nil {
		fmt.Printf("\033[31merror: %v\033[0m\n", err)
		return
	}
	fmt.Printf("\033[32mingested %s as %s\033[0m\n", text, rkey)
}

func runIngestRule(c *cache.Cache, text string) {
	nameAndRest := strings.SplitN(text, ":", 2)
	if len(nameAndRest) != 2 {
		fmt.Printf("\033[31musage: /rule name: head :- body\033[0m\n")
		return
	}
	name := strings.TrimSpace(nameAndRest[0])
	clause := strings.TrimSpace(nameAndRest[1])
	headAndBody := strings.SplitN(clause, ":-", 2)
	if len(headAndBody) != 2 {
		fmt.Printf("\033[31musage: /rule name: head :- body\033[0m\n")
		return
	}
	head := strings.TrimSpace(headAndBody[0])
	body := strings.TrimSuffix(strings.TrimSpace(headAndBody[1]), ".")

	err := c.Ingest(cache.Update{
		Kind: cache.RuleCreated,
		Rkey: name,
		Rule: &cache.Rule{Name: name, Head: head, Body: body, Enabled: true},
	})
	if err != nil {
		fmt.Printf("\033[31merror: %v\033[0m\n", err)
		return
	}
	fmt.Printf("\033[32mingested rule %s\033[0m\n", name)
}

func runToggleRule(c *cache.Cache, args []string) {
	if len(args) != 2 || (args[0] != "enable" && args[0] != "disable") {
		fmt.Printf("\033[31musage: /rules enable|disable name\033[0m\n")
		return
	}
	name := args[1]
	rule, ok := c.Rule(name)
	if !ok {
		fmt.Printf("\033[31mno such rule %q\033[0m\n", name)
		return
	}
	rule.Enabled = args[0] == "enable"
	err := c.Ingest(cache.Update{Kind: cache.RuleUpdated, Rkey: name, Rule: &rule})
	if err != nil {
		fmt.Printf("\033[31merror: %v\033[0m\n", err)
		return
	}
	fmt.Printf("\033[32m%sd rule %s\033[0m\n", args[0], name)
}

func runBundle(c *cache.Cache, args []string) {
	if len(args) != 2 || (args[0] != "load" && args[0] != "save") {
		fmt.Printf("\033[31musage: /bundle load|save path.yaml\033[0m\n")
		return
	}
	path := args[1]
	if args[0] == "load" {
		b, err := cache.LoadBundleFile(path)
		if err != nil {
			fmt.Printf("\033[31merror: %v\033[0m\n", err)
			return
		}
		if err := c.ImportBundle(b); err != nil {
			fmt.Printf("\033[31merror: %v\033[0m\n", err)
			return
		}
		fmt.Printf("\033[32mimported %d rule(s), %d declaration(s) from %s\033[0m\n", len(b.Rules), len(b.Declarations), path)
		return
	}
	b := c.ExportBundle()
	if err := cache.SaveBundleFile(path, b); err != nil {
		fmt.Printf("\033[31merror: %v\033[0m\n", err)
		return
	}
	fmt.Printf("\033[32mexported %d rule(s), %d declaration(s) to %s\033[0m\n", len(b.Rules), len(b.Declarations), path)
}

type loosAtom struct {
	name string
	args []string
}

// parseAtomLoosely splits "pred(a, b, c)" without the richer Variable/
// Anonymous/Constant classification internal/query applies to queries -
// REPL-ingested facts are always ground rows of literal argument text.
func parseAtomLoosely(text string) (loosAtom, bool) {
	open := strings.IndexByte(text, '(')
	if open < 0 || !strings.HasSuffix(text, ")") {
		return loosAtom{}, false
	}
	name := strings.TrimSpace(text[:open])
	if name == "" {
		return loosAtom{}, false
	}
	inner := text[open+1 : len(text)-1]
	var args []string
	if strings.TrimSpace(inner) != "" {
		for _, a := range strings.Split(inner, ",") {
			a = strings.TrimSpace(a)
			a = strings.Trim(a, `"`)
			args = append(args, a)
		}
	}
	return loosAtom{name: name, args: args}, true
}
