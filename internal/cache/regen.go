package cache

import (
	"strings"
	"time"

	"go.uber.org/zap"
)

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

// FlushDirtyPredicates transitions dirty predicates to stale by
// removing them from fresh_predicates; it never writes files.
func (c *Cache) FlushDirtyPredicates() {
	c.regen.regenMu.Lock()
	defer c.regen.regenMu.Unlock()

	c.regen.freshMu.Lock()
	defer c.regen.freshMu.Unlock()

	if c.regen.fullRegenNeeded {
		c.regen.fresh = make(map[string]bool)
		c.regen.dirtyMu.Lock()
		c.regen.dirty = make(map[string]bool)
		c.regen.dirtyMu.Unlock()
		c.regen.fullRegenNeeded = false
		return
	}

	c.regen.dirtyMu.Lock()
	for p := range c.regen.dirty {
		delete(c.regen.fresh, p)
	}
	c.regen.dirty = make(map[string]bool)
	c.regen.dirtyMu.Unlock()

	for _, p := range c.derived.DirtyPredicates() {
		delete(c.regen.fresh, p)
	}
}

func (c *Cache) isFresh(p string) bool {
	c.regen.freshMu.RLock()
	defer c.regen.freshMu.RUnlock()
	return c.regen.fresh[p]
}

func staleOf(requested map[string]bool, isFresh func(string) bool) map[string]bool {
	stale := make(map[string]bool)
	for p := range requested {
		if !isFresh(p) {
			stale[p] = true
		}
	}
	return stale
}

// EnsurePredicatesExist is the lazy write point. Under the regen
// mutex, it generates TSV for each stale predicate in requested,
// validates facts against declarations for user predicates, and marks
// the predicates fresh.
func (c *Cache) EnsurePredicatesExist(requested map[string]bool) error {
	stale := staleOf(requested, c.isFresh)
	if len(stale) == 0 {
		return nil
	}

	c.regen.regenMu.Lock()
	defer c.regen.regenMu.Unlock()

	stale = staleOf(requested, c.isFresh)
	if len(stale) == 0 {
		return nil
	}

	metaSet, userSet, derivedSet := partitionStale(stale)

	if userSet[MetaValidationError] {
		delete(userSet, MetaValidationError)
		for p := range c.facts.snapshotArities() {
			userSet[p] = true
		}
	}

	// A request for _all_p regenerates p: writing a user predicate
	// always produces both p.facts and _all_p.facts.
	for _, p := range keys(userSet) {
		if base, ok := strings.CutPrefix(p, "_all_"); ok {
			delete(userSet, p)
			userSet[base] = true
		}
	}

	if len(metaSet) > 0 || len(userSet) > 0 {
		if err := c.regenerateMetadataAndUserFacts(userSet); err != nil {
			return err
		}
	}

	if len(derivedSet) > 0 {
		derivedNames := make([]string, 0, len(derivedSet))
		for p := range derivedSet {
			derivedNames = append(derivedNames, p)
		}
		snap := c.derived.Snapshot(derivedNames)
		for _, p := range derivedNames {
			if err := writeTSV(c.factDir, factsFileName(p), snap[p]); err != nil {
				return engineErr(err, "")
			}
		}
		c.derived.ClearDirty(derivedNames)
	}

	c.regen.freshMu.Lock()
	for p := range stale {
		c.regen.fresh[p] = true
	}
	for p := range userSet {
		c.regen.fresh[p] = true
		c.regen.fresh["_all_"+p] = true
	}
	if len(metaSet) > 0 || len(userSet) > 0 {
		for _, m := range MetadataRelations {
			c.regen.fresh[m] = true
		}
	}
	c.regen.freshMu.Unlock()

	return nil
}

func partitionStale(stale map[string]bool) (meta, user, derivedSet map[string]bool) {
	meta = make(map[string]bool)
	user = make(map[string]bool)
	derivedSet = make(map[string]bool)
	for p := range stale {
		switch {
		case isMetadataRelation(p), p == MetaNow, p == MetaExpired:
			// _now is rewritten per query and _expired is a rule, not a
			// file; both are satisfied by the metadata write path and must
			// never be generated as user predicates.
			meta[p] = true
		case isDerivedPredicate(p):
			derivedSet[p] = true
		default:
			user[p] = true
		}
	}
	return
}

// isMetadataRelation reports whether p is one of the structural
// metadata relations, as distinct from _validation_error, which
// classifies as a user fact predicate: requesting it expands to every
// arity-bearing user predicate instead.
func isMetadataRelation(p string) bool {
	for _, m := range MetadataRelations {
		if m == p {
			return true
		}
	}
	return false
}

// regenerateMetadataAndUserFacts writes the metadata relations plus
// p.facts/_all_p.facts for every predicate in userSet, appending
// validation failures to _validation_error.facts.
func (c *Cache) regenerateMetadataAndUserFacts(userSet map[string]bool) error {
	snap := c.facts.snapshot()
	declsByPredicate := c.decls.snapshotByPredicate()

	meta := metadataRows(snap)
	if err := truncateTSV(c.factDir, factsFileName(MetaValidationError)); err != nil {
		return engineErr(err, "")
	}
	for _, rel := range MetadataRelations {
		if err := writeTSV(c.factDir, factsFileName(rel), meta[rel]); err != nil {
			return engineErr(err, "")
		}
	}

	now := time.Now()
	for p := range userSet {
		var decl *FactDeclaration
		if d, ok := declsByPredicate[p]; ok {
			decl = &d
		}
		validRows, allRows, errRows := generateUserPredicateRows(p, snap, decl, now)
		if err := writeTSV(c.factDir, factsFileName(p), validRows); err != nil {
			return engineErr(err, "")
		}
		if err := writeTSV(c.factDir, allFactsFileName(p), allRows); err != nil {
			return engineErr(err, "")
		}
		if err := appendTSV(c.factDir, factsFileName(MetaValidationError), errRows); err != nil {
			return engineErr(err, "")
		}
		for _, e := range errRows {
			c.logger.Warn("fact failed validation", zap.String("predicate", p), zap.String("rkey", e[0]), zap.String("error", e[2]))
		}
	}
	return nil
}

// generateUserPredicateRows produces p.facts, _all_p.facts, and any
// _validation_error rows for one user predicate.
func generateUserPredicateRows(predicate string, snap factSnapshot, decl *FactDeclaration, now time.Time) (valid, all [][]string, errs [][]string) {
	for rkey, cfd := range snap.byRkey {
		if cfd.Fact.Predicate != predicate {
			continue
		}
		row := append(append([]string{}, cfd.Fact.Args...), rkey)
		if err := validateFact(predicate, cfd.Fact.Args, decl); err != nil {
			errs = append(errs, []string{rkey, predicate, err.Error()})
			continue
		}
		all = append(all, row)
		if !cfd.IsSuperseded && (cfd.Fact.ExpiresAt == nil || cfd.Fact.ExpiresAt.After(now)) {
			valid = append(valid, row)
		}
	}
	return valid, all, errs
}
