package cache

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/anthropics/datalogcached/internal/derived"
)

// UpdateKind names the sum-type variant of an Update.
type UpdateKind int

const (
	FactCreated UpdateKind = iota
	FactUpdated
	FactDeleted
	RuleCreated
	RuleUpdated
	RuleDeleted
	DeclarationCreated
	DeclarationUpdated
	DeclarationDeleted
	Synchronized
	IdentityUpdated
	StateUpdated
	RecordUpdate // forwarded verbatim to the derived generator
)

// Update is the single sum type Ingest consumes. Exactly the fields
// relevant to Kind are populated.
type Update struct {
	Kind UpdateKind
	Rkey string

	Fact        *Fact
	Cid         string // content address assigned to Fact, for Fact* kinds
	Rule        *Rule
	Declaration *FactDeclaration
	Record      *derived.Update
	Followers   []string // StateUpdated
}

// Ingest classifies and applies one update. Ingest errors are
// surfaced to the caller as a single *Error; a failed update never
// poisons the cache.
func (c *Cache) Ingest(u Update) error {
	switch u.Kind {
	case FactCreated, FactUpdated:
		return c.ingestFactWrite(u)
	case FactDeleted:
		return c.ingestFactDelete(u)
	case RuleCreated, RuleUpdated:
		return c.ingestRuleWrite(u)
	case RuleDeleted:
		return c.ingestRuleDelete(u)
	case DeclarationCreated, DeclarationUpdated:
		return c.ingestDeclarationWrite(u)
	case DeclarationDeleted:
		return c.ingestDeclarationDelete(u)
	case Synchronized, IdentityUpdated:
		if u.Record != nil {
			c.derived.Apply(*u.Record)
		}
		return nil
	case StateUpdated:
		c.SetFollowers(u.Followers)
		return nil
	case RecordUpdate:
		if u.Record == nil {
			return invalidQueryErr(fmt.Errorf("RecordUpdate ingest missing Record payload"))
		}
		c.derived.Apply(*u.Record)
		return nil
	default:
		return invalidQueryErr(fmt.Errorf("unknown update kind %d", u.Kind))
	}
}

// ingestFactWrite handles FactCreated/FactUpdated.
func (c *Cache) ingestFactWrite(u Update) error {
	if u.Fact == nil {
		return invalidQueryErr(fmt.Errorf("fact write missing Fact payload"))
	}
	if derived.IsDerived(u.Fact.Predicate) {
		return derivedExclusivityErr(u.Fact.Predicate)
	}

	c.facts.mu.Lock()
	// A write that supersedes a known fact may change the predicate's
	// arity; any other write must match the recorded arity.
	supersedesKnown := false
	if u.Fact.Supersedes != nil {
		_, supersedesKnown = c.facts.cidToRkey[*u.Fact.Supersedes]
	}
	if existing, ok := c.facts.arities[u.Fact.Predicate]; ok && existing != len(u.Fact.Args) && !supersedesKnown {
		c.facts.mu.Unlock()
		return &Error{Kind: KindValidation, Err: fmt.Errorf("arity mismatch: predicate %q previously recorded with %d argument(s), got %d", u.Fact.Predicate, existing, len(u.Fact.Args))}
	}
	c.facts.arities[u.Fact.Predicate] = len(u.Fact.Args)
	c.facts.byRkey[u.Rkey] = CachedFactData{Fact: *u.Fact, Cid: u.Cid}
	if u.Cid != "" {
		c.facts.cidToRkey[u.Cid] = u.Rkey
	}
	if u.Fact.Supersedes != nil {
		oldCid := *u.Fact.Supersedes
		if oldRkey, ok := c.facts.cidToRkey[oldCid]; ok {
			old := c.facts.byRkey[oldRkey]
			old.IsSuperseded = true
			c.facts.byRkey[oldRkey] = old
			c.facts.supersedesEdges[u.Rkey] = oldRkey
		}
	}
	c.facts.mu.Unlock()

	c.markDirty(u.Fact.Predicate)
	c.factsGeneration.Add(1)

	if u.Fact.Tags != nil {
		c.derived.ApplyFactTags(u.Rkey, u.Fact.Tags)
	}

	c.logger.Debug("fact ingested", zap.String("rkey", u.Rkey), zap.String("predicate", u.Fact.Predicate))
	if c.ledger != nil {
		c.ledger.RecordIngest("fact_write", c.factsGeneration.Load(), 0)
	}
	return nil
}

func (c *Cache) ingestFactDelete(u Update) error {
	c.facts.mu.Lock()
	cfd, ok := c.facts.byRkey[u.Rkey]
	if !ok {
		c.facts.mu.Unlock()
		return nil
	}
	delete(c.facts.byRkey, u.Rkey)
	if cfd.Cid != "" {
		delete(c.facts.cidToRkey, cfd.Cid)
	}
	delete(c.facts.supersedesEdges, u.Rkey)
	c.facts.mu.Unlock()

	c.markDirty(cfd.Fact.Predicate)
	c.factsGeneration.Add(1)
	c.derived.ApplyFactTags(u.Rkey, nil)

	if c.ledger != nil {
		c.ledger.RecordIngest("fact_delete", c.factsGeneration.Load(), 0)
	}
	return nil
}

func (c *Cache) ingestRuleWrite(u Update) error {
	if u.Rule == nil {
		return invalidQueryErr(fmt.Errorf("rule write missing Rule payload"))
	}
	c.rules.mu.Lock()
	c.rules.byRkey[u.Rkey] = *u.Rule
	c.rules.mu.Unlock()
	c.rulesGeneration.Add(1)
	return nil
}

func (c *Cache) ingestRuleDelete(u Update) error {
	c.rules.mu.Lock()
	delete(c.rules.byRkey, u.Rkey)
	c.rules.mu.Unlock()
	c.rulesGeneration.Add(1)
	return nil
}

func (c *Cache) ingestDeclarationWrite(u Update) error {
	if u.Declaration == nil {
		return invalidQueryErr(fmt.Errorf("declaration write missing Declaration payload"))
	}
	c.decls.mu.Lock()
	c.decls.byRkey[u.Rkey] = *u.Declaration
	c.decls.byPredicate[u.Declaration.Predicate] = u.Rkey
	c.decls.mu.Unlock()

	c.regen.freshMu.Lock()
	c.regen.fullRegenNeeded = true
	c.regen.freshMu.Unlock()
	return nil
}

func (c *Cache) ingestDeclarationDelete(u Update) error {
	c.decls.mu.Lock()
	if decl, ok := c.decls.byRkey[u.Rkey]; ok {
		delete(c.decls.byPredicate, decl.Predicate)
	}
	delete(c.decls.byRkey, u.Rkey)
	c.decls.mu.Unlock()

	c.regen.freshMu.Lock()
	c.regen.fullRegenNeeded = true
	c.regen.freshMu.Unlock()
	return nil
}

// PopulateFromSnapshot installs an initial bulk snapshot, sets
// full_regen_needed, and bumps both generation counters. It never
// blocks on disk while holding a table lock.
func (c *Cache) PopulateFromSnapshot(facts map[string]CachedFactData, rules map[string]Rule, decls map[string]FactDeclaration, records []derived.Update, followers []string) {
	c.facts.mu.Lock()
	for rkey, cfd := range facts {
		c.facts.byRkey[rkey] = cfd
		if cfd.Cid != "" {
			c.facts.cidToRkey[cfd.Cid] = rkey
		}
		if _, ok := c.facts.arities[cfd.Fact.Predicate]; !ok {
			c.facts.arities[cfd.Fact.Predicate] = len(cfd.Fact.Args)
		}
	}
	// Second pass: a fact's supersedes cid may resolve to another fact
	// in this same snapshot, so is_superseded can only be computed once
	// every cid is indexed.
	supersededCids := make(map[string]bool)
	for _, cfd := range facts {
		if cfd.Fact.Supersedes != nil {
			supersededCids[*cfd.Fact.Supersedes] = true
		}
	}
	for rkey, cfd := range facts {
		if cfd.Fact.Supersedes != nil {
			if oldRkey, ok := c.facts.cidToRkey[*cfd.Fact.Supersedes]; ok {
				c.facts.supersedesEdges[rkey] = oldRkey
			}
		}
		if cfd.Cid != "" && supersededCids[cfd.Cid] {
			cfd.IsSuperseded = true
			c.facts.byRkey[rkey] = cfd
		}
	}
	c.facts.mu.Unlock()

	c.rules.mu.Lock()
	for rkey, r := range rules {
		c.rules.byRkey[rkey] = r
	}
	c.rules.mu.Unlock()

	c.decls.mu.Lock()
	for rkey, d := range decls {
		c.decls.byRkey[rkey] = d
		c.decls.byPredicate[d.Predicate] = rkey
	}
	c.decls.mu.Unlock()

	for _, r := range records {
		c.derived.Apply(r)
	}
	if followers != nil {
		c.derived.SetFollowers(followers)
	}

	c.regen.freshMu.Lock()
	c.regen.fullRegenNeeded = true
	c.regen.freshMu.Unlock()

	c.factsGeneration.Add(1)
	c.rulesGeneration.Add(1)
}
