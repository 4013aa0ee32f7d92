package cache

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/google/uuid"
)

// Bundle is an on-disk, human-editable collection of rules and fact
// declarations: an operator checks a YAML file into their agent's
// config directory to seed the cache with a starting rule set without
// going through the remote repo at all.
type Bundle struct {
	Rules        []BundleRule `yaml:"rules"`
	Declarations []BundleDecl `yaml:"declarations"`
}

// BundleRule is one YAML-shaped rule entry, mirroring Rule's fields.
type BundleRule struct {
	Name        string          `yaml:"name"`
	Head        string          `yaml:"head"`
	Body        string          `yaml:"body"`
	Args        []BundleRuleArg `yaml:"args,omitempty"`
	Enabled     bool            `yaml:"enabled"`
	Constraints []string        `yaml:"constraints,omitempty"`
}

// BundleRuleArg is one typed rule-head argument.
type BundleRuleArg struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// BundleDecl is one YAML-shaped fact declaration entry.
type BundleDecl struct {
	Predicate   string          `yaml:"predicate"`
	Args        []BundleDeclArg `yaml:"args"`
	Description string          `yaml:"description,omitempty"`
	Tags        []string        `yaml:"tags,omitempty"`
}

// BundleDeclArg is one typed declaration argument.
type BundleDeclArg struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// LoadBundleFile parses a YAML rule/declaration bundle from path.
func LoadBundleFile(path string) (Bundle, error) {
	var b Bundle
	data, err := os.ReadFile(path)
	if err != nil {
		return b, fmt.Errorf("read bundle %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &b); err != nil {
		return b, fmt.Errorf("parse bundle %s: %w", path, err)
	}
	return b, nil
}

// ImportBundle ingests every rule and declaration in b as if each had
// arrived over the broadcast update stream. Rules are stored under
// their name as rkey. A declaration reuses the rkey of an existing
// declaration for the same predicate and otherwise gets a fresh one.
// Declaration updates set full_regen_needed, so a bundle import
// behaves like any other schema change.
func (c *Cache) ImportBundle(b Bundle) error {
	for _, r := range b.Rules {
		args := make([]RuleArg, 0, len(r.Args))
		for _, a := range r.Args {
			args = append(args, RuleArg{Name: a.Name, Type: ArgType(a.Type)})
		}
		rule := Rule{
			Name:        r.Name,
			Head:        r.Head,
			Body:        r.Body,
			Args:        args,
			Enabled:     r.Enabled,
			Constraints: r.Constraints,
		}
		if err := c.Ingest(Update{Kind: RuleCreated, Rkey: r.Name, Rule: &rule}); err != nil {
			return fmt.Errorf("import rule %q: %w", r.Name, err)
		}
	}

	for _, d := range b.Declarations {
		args := make([]DeclArg, 0, len(d.Args))
		for _, a := range d.Args {
			args = append(args, DeclArg{Name: a.Name, Type: ArgType(a.Type)})
		}
		decl := FactDeclaration{
			Predicate:   d.Predicate,
			Args:        args,
			Description: d.Description,
			Tags:        d.Tags,
			CreatedAt:   time.Now(),
		}
		c.decls.mu.RLock()
		rkey, exists := c.decls.byPredicate[d.Predicate]
		c.decls.mu.RUnlock()
		if !exists {
			rkey = uuid.NewString()
		}
		if err := c.Ingest(Update{Kind: DeclarationCreated, Rkey: rkey, Declaration: &decl}); err != nil {
			return fmt.Errorf("import declaration %q: %w", d.Predicate, err)
		}
	}
	return nil
}

// ExportBundle snapshots the currently stored rules and declarations
// into a Bundle suitable for round-tripping through SaveBundleFile.
func (c *Cache) ExportBundle() Bundle {
	var b Bundle
	for _, r := range c.rules.snapshot() {
		args := make([]BundleRuleArg, 0, len(r.Args))
		for _, a := range r.Args {
			args = append(args, BundleRuleArg{Name: a.Name, Type: string(a.Type)})
		}
		b.Rules = append(b.Rules, BundleRule{
			Name:        r.Name,
			Head:        r.Head,
			Body:        r.Body,
			Args:        args,
			Enabled:     r.Enabled,
			Constraints: r.Constraints,
		})
	}
	for _, d := range c.decls.snapshotByPredicate() {
		args := make([]BundleDeclArg, 0, len(d.Args))
		for _, a := range d.Args {
			args = append(args, BundleDeclArg{Name: a.Name, Type: string(a.Type)})
		}
		b.Declarations = append(b.Declarations, BundleDecl{
			Predicate:   d.Predicate,
			Args:        args,
			Description: d.Description,
			Tags:        d.Tags,
		})
	}
	return b
}

// SaveBundleFile serialises b as YAML to path.
func SaveBundleFile(path string, b Bundle) error {
	data, err := yaml.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal bundle: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write bundle %s: %w", path, err)
	}
	return nil
}
