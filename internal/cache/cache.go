package cache

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/anthropics/datalogcached/internal/derived"
)

// isDerivedPredicate reports whether p is part of the closed derived
// vocabulary owned by the derived generator.
func isDerivedPredicate(p string) bool { return derived.IsDerived(p) }

// factTable holds every fact-indexed map behind one RWMutex.
type factTable struct {
	mu              sync.RWMutex
	byRkey          map[string]CachedFactData
	cidToRkey       map[string]string
	arities         map[string]int
	supersedesEdges map[string]string // new rkey -> old rkey
}

func newFactTable() *factTable {
	return &factTable{
		byRkey:          make(map[string]CachedFactData),
		cidToRkey:       make(map[string]string),
		arities:         make(map[string]int),
		supersedesEdges: make(map[string]string),
	}
}

// factSnapshot is a lock-free clone of factTable, produced under its
// read lock and walked without it.
type factSnapshot struct {
	byRkey          map[string]CachedFactData
	supersedesEdges map[string]string
}

func (t *factTable) snapshotArities() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]int, len(t.arities))
	for k, v := range t.arities {
		out[k] = v
	}
	return out
}

func (t *factTable) snapshot() factSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	byRkey := make(map[string]CachedFactData, len(t.byRkey))
	for k, v := range t.byRkey {
		byRkey[k] = v
	}
	edges := make(map[string]string, len(t.supersedesEdges))
	for k, v := range t.supersedesEdges {
		edges[k] = v
	}
	return factSnapshot{byRkey: byRkey, supersedesEdges: edges}
}

// ruleTable holds every enabled/disabled rule, keyed by rkey.
type ruleTable struct {
	mu     sync.RWMutex
	byRkey map[string]Rule
}

func newRuleTable() *ruleTable {
	return &ruleTable{byRkey: make(map[string]Rule)}
}

func (t *ruleTable) get(rkey string) (Rule, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.byRkey[rkey]
	return r, ok
}

func (t *ruleTable) snapshot() map[string]Rule {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Rule, len(t.byRkey))
	for k, v := range t.byRkey {
		out[k] = v
	}
	return out
}

// declTable holds fact declarations indexed both by rkey (for
// create/update/delete) and by predicate name (for lookup during
// validation and program assembly).
type declTable struct {
	mu          sync.RWMutex
	byRkey      map[string]FactDeclaration
	byPredicate map[string]string // predicate -> rkey, for dedup on update
}

func newDeclTable() *declTable {
	return &declTable{
		byRkey:      make(map[string]FactDeclaration),
		byPredicate: make(map[string]string),
	}
}

func (t *declTable) snapshotByPredicate() map[string]FactDeclaration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]FactDeclaration, len(t.byRkey))
	for _, decl := range t.byRkey {
		out[decl.Predicate] = decl
	}
	return out
}

// regenState is the lazy-regeneration bookkeeping:
// full_regen_needed, fresh_predicates, dirty_predicates, and the
// exclusive regen_mutex serialising all TSV writes.
type regenState struct {
	freshMu         sync.RWMutex
	fresh           map[string]bool
	fullRegenNeeded bool

	dirtyMu sync.Mutex
	dirty   map[string]bool

	regenMu sync.Mutex // regen_mutex: exclusive, serialises ensure_predicates_exist
}

func newRegenState() *regenState {
	return &regenState{
		fresh: make(map[string]bool),
		dirty: make(map[string]bool),
	}
}

// Evaluator is the external Soufflé-compatible evaluator boundary,
// implemented by internal/souffle.Runner. Kept as an interface so
// cache tests can stub it without spawning a process.
type Evaluator interface {
	Evaluate(factDir, program string) (stdout string, rows [][]string, err error)
}

// EventLedger is the optional diagnostic sink, implemented by
// internal/ledger.Ledger. A nil EventLedger disables logging with no
// behavior change; the cache's authoritative state never depends on it.
type EventLedger interface {
	RecordIngest(kind string, generation int64, durationMs int64)
	RecordQuery(query string, generation int64, durationMs int64, rowCount int)
}

// Cache is the Datalog query cache, owning the fact, rule, and
// declaration tables plus the embedded derived-fact generator: one
// RWMutex per concern, one exclusive mutex for the slow path.
type Cache struct {
	facts *factTable
	rules *ruleTable
	decls *declTable
	regen *regenState

	derived *derived.Generator

	factDir   string
	evaluator Evaluator
	ledger    EventLedger
	logger    *zap.Logger

	factsGeneration atomic.Int64
	rulesGeneration atomic.Int64

	watcher            *factDirWatcher
	watchFactDirOnInit bool
}

// Option configures a Cache at construction, mirroring the functional
// options used by internal/atproto.Client.
type Option func(*Cache)

// WithEvaluator overrides the evaluator used by ExecuteQuery.
func WithEvaluator(e Evaluator) Option {
	return func(c *Cache) { c.evaluator = e }
}

// WithLedger attaches a diagnostic event ledger. Passing nil disables
// it.
func WithLedger(l EventLedger) Option {
	return func(c *Cache) { c.ledger = l }
}

// WithLogger overrides the structured logger. Passing nil installs a
// no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		if l == nil {
			l = zap.NewNop()
		}
		c.logger = l
	}
}

// WithFactDirWatch starts an fsnotify watcher over factDir at
// construction time, invalidating a predicate's freshness whenever its
// .facts file changes, whether by an out-of-band edit or by the
// cache's own regeneration writes.
// Watcher setup failures are logged, not fatal, since the cache is
// fully functional without out-of-band change detection.
func WithFactDirWatch() Option {
	return func(c *Cache) { c.watchFactDirOnInit = true }
}

// New creates an empty cache rooted at factDir, which is created if
// absent. The cache owns factDir for its lifetime and never shares it
// with another instance.
func New(factDir string, opts ...Option) (*Cache, error) {
	if err := ensureDir(factDir); err != nil {
		return nil, err
	}
	c := &Cache{
		facts:   newFactTable(),
		rules:   newRuleTable(),
		decls:   newDeclTable(),
		regen:   newRegenState(),
		derived: derived.NewGenerator(),
		factDir: factDir,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.watchFactDirOnInit {
		if err := c.WatchFactDir(); err != nil {
			c.logger.Warn("fact directory watch setup failed", zap.Error(err))
		}
	}
	return c, nil
}

// Close stops the fact-directory watcher, if one was started.
func (c *Cache) Close() error {
	if c.watcher != nil {
		return c.watcher.close()
	}
	return nil
}

// FactsGeneration returns the current facts_generation counter.
func (c *Cache) FactsGeneration() int64 { return c.factsGeneration.Load() }

// RulesGeneration returns the current rules_generation counter.
func (c *Cache) RulesGeneration() int64 { return c.rulesGeneration.Load() }

// Rule returns the currently stored rule at the given rkey, if any.
func (c *Cache) Rule(rkey string) (Rule, bool) { return c.rules.get(rkey) }

// SetFollowers replaces the externally-synced follower set.
func (c *Cache) SetFollowers(dids []string) {
	c.derived.SetFollowers(dids)
	c.markDirty("is_followed_by")
}

// AddFollower adds a single follower.
func (c *Cache) AddFollower(did string) {
	c.derived.AddFollower(did)
	c.markDirty("is_followed_by")
}

func (c *Cache) markDirty(predicate string) {
	c.regen.dirtyMu.Lock()
	c.regen.dirty[predicate] = true
	c.regen.dirtyMu.Unlock()
}
