package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/anthropics/datalogcached/internal/atproto"
	"github.com/anthropics/datalogcached/internal/cache"
)

// Collection NSIDs this agent's repo uses for cache-backed state. Kept
// as package constants rather than flags since changing them without
// also migrating existing records would silently orphan data.
const (
	collectionFact        = "app.datalogcached.fact"
	collectionRule        = "app.datalogcached.rule"
	collectionDeclaration = "app.datalogcached.declaration"
)

// runSync logs into the PDS, pulls every fact/rule/declaration record
// from the authenticated repo, and ingests them into the cache as one
// bulk snapshot, the cold-start path a daemon process runs once before
// serving queries.
func runSync(client *atproto.Client, c *cache.Cache, logger *zap.Logger, identifier, password string) error {
	if identifier == "" || password == "" {
		return fmt.Errorf("sync requires -identifier and -password (or ATPROTO_IDENTIFIER/ATPROTO_PASSWORD)")
	}

	ctx := context.Background()
	if err := client.Login(ctx, identifier, password); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	facts := map[string]cache.CachedFactData{}
	rules := map[string]cache.Rule{}
	decls := map[string]cache.FactDeclaration{}

	factRecords, err := client.ListAllRecords(ctx, collectionFact)
	if err != nil {
		return fmt.Errorf("list %s: %w", collectionFact, err)
	}
	for _, r := range factRecords {
		rkey := rkeyFromURI(r.Uri)
		fact, ok := factFromValue(r.Value)
		if !ok {
			logger.Warn("skipping malformed fact record", zap.String("uri", r.Uri))
			continue
		}
		facts[rkey] = cache.CachedFactData{Fact: fact, Cid: r.Cid}
	}

	ruleRecords, err := client.ListAllRecords(ctx, collectionRule)
	if err != nil {
		return fmt.Errorf("list %s: %w", collectionRule, err)
	}
	for _, r := range ruleRecords {
		rkey := rkeyFromURI(r.Uri)
		rule, ok := ruleFromValue(r.Value)
		if !ok {
			logger.Warn("skipping malformed rule record", zap.String("uri", r.Uri))
			continue
		}
		rule.Name = rkey
		rules[rkey] = rule
	}

	declRecords, err := client.ListAllRecords(ctx, collectionDeclaration)
	if err != nil {
		return fmt.Errorf("list %s: %w", collectionDeclaration, err)
	}
	for _, r := range declRecords {
		rkey := rkeyFromURI(r.Uri)
		decl, ok := declarationFromValue(r.Value)
		if !ok {
			logger.Warn("skipping malformed declaration record", zap.String("uri", r.Uri))
			continue
		}
		decls[rkey] = decl
	}

	c.PopulateFromSnapshot(facts, rules, decls, nil, nil)

	logger.Info("sync complete",
		zap.Int("facts", len(facts)),
		zap.Int("rules", len(rules)),
		zap.Int("declarations", len(decls)),
	)
	fmt.Printf("synced %d fact(s), %d rule(s), %d declaration(s)\n", len(facts), len(rules), len(decls))
	return nil
}

func rkeyFromURI(uri string) string {
	parts := strings.Split(uri, "/")
	if len(parts) == 0 {
		return uri
	}
	return parts[len(parts)-1]
}

func factFromValue(value map[string]any) (cache.Fact, bool) {
	predicate, _ := value["predicate"].(string)
	if predicate == "" {
		return cache.Fact{}, false
	}
	rawArgs, _ := value["args"].([]any)
	args := make([]string, 0, len(rawArgs))
	for _, a := range rawArgs {
		args = append(args, stringifyArg(a))
	}

	f := cache.Fact{Predicate: predicate, Args: args}
	if conf, ok := value["confidence"].(float64); ok {
		f.Confidence = &conf
	}
	if src, ok := value["source"].(string); ok && src != "" {
		f.Source = &src
	}
	if sup, ok := value["supersedes"].(string); ok && sup != "" {
		f.Supersedes = &sup
	}
	if rawTags, ok := value["tags"].([]any); ok {
		for _, t := range rawTags {
			if s, ok := t.(string); ok {
				f.Tags = append(f.Tags, s)
			}
		}
	}
	if created, ok := value["createdAt"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, created); err == nil {
			f.CreatedAt = ts
		}
	}
	if expires, ok := value["expiresAt"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, expires); err == nil {
			f.ExpiresAt = &ts
		}
	}
	return f, true
}

func ruleFromValue(value map[string]any) (cache.Rule, bool) {
	head, _ := value["head"].(string)
	body, _ := value["body"].(string)
	if head == "" || body == "" {
		return cache.Rule{}, false
	}
	enabled := true
	if e, ok := value["enabled"].(bool); ok {
		enabled = e
	}
	return cache.Rule{Head: head, Body: body, Enabled: enabled}, true
}

func declarationFromValue(value map[string]any) (cache.FactDeclaration, bool) {
	predicate, _ := value["predicate"].(string)
	if predicate == "" {
		return cache.FactDeclaration{}, false
	}
	rawArgs, _ := value["args"].([]any)
	args := make([]cache.DeclArg, 0, len(rawArgs))
	for _, raw := range rawArgs {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		typ, _ := m["type"].(string)
		args = append(args, cache.DeclArg{Name: name, Type: cache.ArgType(typ)})
	}
	desc, _ := value["description"].(string)
	return cache.FactDeclaration{Predicate: predicate, Args: args, Description: desc}, true
}

func stringifyArg(a any) string {
	switch v := a.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
