package derived

import (
	"sync"
	"time"
)

// Op classifies a record update: every derived record kind gets a
// Created/Updated/Deleted variant.
type Op int

const (
	OpCreated Op = iota
	OpUpdated
	OpDeleted
)

// Kind names which derived record store an Update targets.
type Kind int

const (
	KindFollow Kind = iota
	KindLike
	KindRepost
	KindPost
	KindDirective
	KindCustomTool
	KindToolApproval
	KindJob
	KindTrigger
	KindNote
	KindThought
	KindBlogEntry
	KindWikiEntry
	KindWikiLink
)

// Update is the single sum type Apply consumes. Exactly one of the
// typed fields is set, matching Op/Kind.
type Update struct {
	Op   Op
	Kind Kind
	Rkey string

	Follow       *Follow
	Like         *Like
	Repost       *Repost
	Post         *Post
	Directive    *Directive
	CustomTool   *CustomTool
	ToolApproval *ToolApproval
	Job          *Job
	Trigger      *Trigger
	Note         *Note
	Thought      *Thought
	BlogEntry    *BlogEntry
	WikiEntry    *WikiEntry
	WikiLink     *WikiLink
}

// DebugEvent is a recorded dirty-marking for test/audit inspection.
type DebugEvent struct {
	Timestamp time.Time
	Predicate string
	Reason    string
}

// Generator owns every in-memory derived-record store behind one
// RWMutex. It never touches disk; TSV emission is the cache's job.
type Generator struct {
	mu sync.RWMutex

	follows      map[string]Follow
	isFollowedBy map[string]bool
	likes        map[string]Like
	reposts      map[string]Repost
	posts        map[string]Post
	directives   map[string]Directive
	customTools  map[string]CustomTool
	toolApproval map[string]ToolApproval
	jobs         map[string]Job
	triggers     map[string]Trigger
	notes        map[string]Note
	thoughts     map[string]Thought
	blogEntries  map[string]BlogEntry
	wikiEntries  map[string]WikiEntry
	wikiLinks    map[string]WikiLink
	factTags     map[string]FactTags

	dirty map[string]bool

	debugEnabled bool
	debugMu      sync.Mutex
	debugLog     []DebugEvent
}

// NewGenerator returns an empty generator.
func NewGenerator() *Generator {
	return &Generator{
		follows:      make(map[string]Follow),
		isFollowedBy: make(map[string]bool),
		likes:        make(map[string]Like),
		reposts:      make(map[string]Repost),
		posts:        make(map[string]Post),
		directives:   make(map[string]Directive),
		customTools:  make(map[string]CustomTool),
		toolApproval: make(map[string]ToolApproval),
		jobs:         make(map[string]Job),
		triggers:     make(map[string]Trigger),
		notes:        make(map[string]Note),
		thoughts:     make(map[string]Thought),
		blogEntries:  make(map[string]BlogEntry),
		wikiEntries:  make(map[string]WikiEntry),
		wikiLinks:    make(map[string]WikiLink),
		factTags:     make(map[string]FactTags),
		dirty:        make(map[string]bool),
	}
}

// EnableDebug turns on dirty-marking capture for tests.
func (g *Generator) EnableDebug() {
	g.debugMu.Lock()
	defer g.debugMu.Unlock()
	g.debugEnabled = true
}

// DebugLog returns a copy of the captured dirty-marking events.
func (g *Generator) DebugLog() []DebugEvent {
	g.debugMu.Lock()
	defer g.debugMu.Unlock()
	out := make([]DebugEvent, len(g.debugLog))
	copy(out, g.debugLog)
	return out
}

func (g *Generator) markDirty(predicate, reason string) {
	g.dirty[predicate] = true
	if g.debugEnabled {
		g.debugMu.Lock()
		g.debugLog = append(g.debugLog, DebugEvent{Timestamp: time.Now(), Predicate: predicate, Reason: reason})
		g.debugMu.Unlock()
	}
}

func (g *Generator) markAll(predicates []string, reason string) {
	for _, p := range predicates {
		g.markDirty(p, reason)
	}
}

// DirtyPredicates returns a snapshot of every predicate name currently
// marked dirty.
func (g *Generator) DirtyPredicates() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.dirty))
	for p := range g.dirty {
		out = append(out, p)
	}
	return out
}

// ClearDirty clears the given predicates from the dirty set. The cache
// calls this after regenerating the corresponding TSV files.
func (g *Generator) ClearDirty(predicates []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range predicates {
		delete(g.dirty, p)
	}
}

// Apply classifies and applies one record update and marks dirty the
// predicates it may affect. Per-field predicates such as post_mention
// are marked only when the old or new record has rows in them: a
// facet-less post dirties posted but not post_mention.
func (g *Generator) Apply(u Update) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch u.Kind {
	case KindFollow:
		g.applyFollow(u)
	case KindLike:
		g.applyLike(u)
	case KindRepost:
		g.applyRepost(u)
	case KindPost:
		g.applyPost(u)
	case KindDirective:
		g.applyDirective(u)
	case KindCustomTool:
		g.applyCustomTool(u)
	case KindToolApproval:
		g.applyToolApproval(u)
	case KindJob:
		g.applyJob(u)
	case KindTrigger:
		g.applyTrigger(u)
	case KindNote:
		g.applyNote(u)
	case KindThought:
		g.applyThought(u)
	case KindBlogEntry:
		g.applyBlogEntry(u)
	case KindWikiEntry:
		g.applyWikiEntry(u)
	case KindWikiLink:
		g.applyWikiLink(u)
	}
}

func (g *Generator) applyFollow(u Update) {
	preds := []string{"follows", "follow_created_at"}
	switch u.Op {
	case OpCreated, OpUpdated:
		g.follows[u.Rkey] = *u.Follow
		g.markAll(preds, "follow "+u.Op.String())
	case OpDeleted:
		delete(g.follows, u.Rkey)
		g.markAll(preds, "follow deleted")
	}
}

func (g *Generator) applyLike(u Update) {
	switch u.Op {
	case OpCreated, OpUpdated:
		g.likes[u.Rkey] = *u.Like
		preds := []string{"liked", "like_created_at"}
		if u.Like.SubjectCid != "" {
			preds = append(preds, "like_cid")
		}
		g.markAll(preds, "like "+u.Op.String())
	case OpDeleted:
		old, ok := g.likes[u.Rkey]
		delete(g.likes, u.Rkey)
		if ok {
			preds := []string{"liked", "like_created_at"}
			if old.SubjectCid != "" {
				preds = append(preds, "like_cid")
			}
			g.markAll(preds, "like deleted")
		}
	}
}

func (g *Generator) applyRepost(u Update) {
	switch u.Op {
	case OpCreated, OpUpdated:
		g.reposts[u.Rkey] = *u.Repost
		preds := []string{"reposted", "repost_created_at"}
		if u.Repost.SubjectCid != "" {
			preds = append(preds, "repost_cid")
		}
		g.markAll(preds, "repost "+u.Op.String())
	case OpDeleted:
		old, ok := g.reposts[u.Rkey]
		delete(g.reposts, u.Rkey)
		if ok {
			preds := []string{"reposted", "repost_created_at"}
			if old.SubjectCid != "" {
				preds = append(preds, "repost_cid")
			}
			g.markAll(preds, "repost deleted")
		}
	}
}

// postPredicates returns the predicate names that have at least one
// row for p, the basis of field-level dirtying.
func postPredicates(p Post) []string {
	preds := []string{"posted", "post_created_at"}
	if len(p.Langs) > 0 {
		preds = append(preds, "post_lang")
	}
	if len(p.Mentions) > 0 {
		preds = append(preds, "post_mention")
	}
	if len(p.Links) > 0 {
		preds = append(preds, "post_link")
	}
	if len(p.Hashtags) > 0 {
		preds = append(preds, "post_hashtag")
	}
	if p.ReplyParentUri != "" {
		preds = append(preds, "replied_to", "reply_parent_uri")
	}
	if p.ReplyParentCid != "" {
		preds = append(preds, "reply_parent_cid")
	}
	if p.ReplyRootUri != "" {
		preds = append(preds, "thread_root", "reply_root_uri")
	}
	if p.ReplyRootCid != "" {
		preds = append(preds, "reply_root_cid")
	}
	if p.QuotedUri != "" {
		preds = append(preds, "quoted")
	}
	if p.QuotedCid != "" {
		preds = append(preds, "quote_cid")
	}
	return preds
}

func (g *Generator) applyPost(u Update) {
	switch u.Op {
	case OpCreated:
		g.posts[u.Rkey] = *u.Post
		g.markAll(postPredicates(*u.Post), "post created")
	case OpUpdated:
		old, existed := g.posts[u.Rkey]
		g.posts[u.Rkey] = *u.Post
		affected := postPredicates(*u.Post)
		if existed {
			affected = append(affected, postPredicates(old)...)
		}
		g.markAll(affected, "post updated")
	case OpDeleted:
		old, ok := g.posts[u.Rkey]
		delete(g.posts, u.Rkey)
		if ok {
			g.markAll(postPredicates(old), "post deleted")
		}
	}
}

func (g *Generator) applyDirective(u Update) {
	pred := u.Directive.Kind.predicate()
	if pred == "" {
		return
	}
	switch u.Op {
	case OpCreated, OpUpdated:
		g.directives[u.Rkey] = *u.Directive
		g.markDirty(pred, "directive "+u.Op.String())
	case OpDeleted:
		old, ok := g.directives[u.Rkey]
		delete(g.directives, u.Rkey)
		if ok {
			if p := old.Kind.predicate(); p != "" {
				g.markDirty(p, "directive deleted")
			}
		}
	}
}

func (g *Generator) applyCustomTool(u Update) {
	switch u.Op {
	case OpCreated, OpUpdated:
		g.customTools[u.Rkey] = *u.CustomTool
	case OpDeleted:
		delete(g.customTools, u.Rkey)
	}
	g.markDirty("has_tool", "custom_tool "+u.Op.String())
}

func (g *Generator) applyToolApproval(u Update) {
	switch u.Op {
	case OpCreated, OpUpdated:
		g.toolApproval[u.Rkey] = *u.ToolApproval
	case OpDeleted:
		delete(g.toolApproval, u.Rkey)
	}
	g.markDirty("tool_call_duration", "tool_approval "+u.Op.String())
}

func (g *Generator) applyJob(u Update) {
	switch u.Op {
	case OpCreated, OpUpdated:
		g.jobs[u.Rkey] = *u.Job
	case OpDeleted:
		delete(g.jobs, u.Rkey)
	}
	g.markDirty("has_job", "job "+u.Op.String())
}

func (g *Generator) applyTrigger(u Update) {
	switch u.Op {
	case OpCreated, OpUpdated:
		g.triggers[u.Rkey] = *u.Trigger
	case OpDeleted:
		delete(g.triggers, u.Rkey)
	}
	g.markDirty("has_trigger", "trigger "+u.Op.String())
}

func notePredicates(n Note) []string {
	preds := []string{"has_note"}
	if len(n.Tags) > 0 {
		preds = append(preds, "note_tag")
	}
	if len(n.RelatedFacts) > 0 {
		preds = append(preds, "note_related_fact")
	}
	return preds
}

func (g *Generator) applyNote(u Update) {
	switch u.Op {
	case OpCreated:
		g.notes[u.Rkey] = *u.Note
		g.markAll(notePredicates(*u.Note), "note created")
	case OpUpdated:
		old, existed := g.notes[u.Rkey]
		g.notes[u.Rkey] = *u.Note
		affected := notePredicates(*u.Note)
		if existed {
			affected = append(affected, notePredicates(old)...)
		}
		g.markAll(affected, "note updated")
	case OpDeleted:
		old, ok := g.notes[u.Rkey]
		delete(g.notes, u.Rkey)
		if ok {
			g.markAll(notePredicates(old), "note deleted")
		}
	}
}

func thoughtPredicates(t Thought) []string {
	preds := []string{"has_thought"}
	if len(t.Tags) > 0 {
		preds = append(preds, "thought_tag")
	}
	return preds
}

func (g *Generator) applyThought(u Update) {
	switch u.Op {
	case OpCreated:
		g.thoughts[u.Rkey] = *u.Thought
		g.markAll(thoughtPredicates(*u.Thought), "thought created")
	case OpUpdated:
		old, existed := g.thoughts[u.Rkey]
		g.thoughts[u.Rkey] = *u.Thought
		affected := thoughtPredicates(*u.Thought)
		if existed {
			affected = append(affected, thoughtPredicates(old)...)
		}
		g.markAll(affected, "thought updated")
	case OpDeleted:
		old, ok := g.thoughts[u.Rkey]
		delete(g.thoughts, u.Rkey)
		if ok {
			g.markAll(thoughtPredicates(old), "thought deleted")
		}
	}
}

func (g *Generator) applyBlogEntry(u Update) {
	switch u.Op {
	case OpCreated, OpUpdated:
		g.blogEntries[u.Rkey] = *u.BlogEntry
	case OpDeleted:
		delete(g.blogEntries, u.Rkey)
	}
	g.markDirty("has_blog_post", "blog_entry "+u.Op.String())
}

func wikiEntryPredicates(w WikiEntry) []string {
	preds := []string{"has_wiki_entry"}
	if len(w.Aliases) > 0 {
		preds = append(preds, "wiki_entry_alias")
	}
	if len(w.Tags) > 0 {
		preds = append(preds, "wiki_entry_tag")
	}
	if w.Supersedes != "" {
		preds = append(preds, "wiki_entry_supersedes")
	}
	return preds
}

func (g *Generator) applyWikiEntry(u Update) {
	switch u.Op {
	case OpCreated:
		g.wikiEntries[u.Rkey] = *u.WikiEntry
		g.markAll(wikiEntryPredicates(*u.WikiEntry), "wiki_entry created")
	case OpUpdated:
		old, existed := g.wikiEntries[u.Rkey]
		g.wikiEntries[u.Rkey] = *u.WikiEntry
		affected := wikiEntryPredicates(*u.WikiEntry)
		if existed {
			affected = append(affected, wikiEntryPredicates(old)...)
		}
		g.markAll(affected, "wiki_entry updated")
	case OpDeleted:
		old, ok := g.wikiEntries[u.Rkey]
		delete(g.wikiEntries, u.Rkey)
		if ok {
			g.markAll(wikiEntryPredicates(old), "wiki_entry deleted")
		}
	}
}

func (g *Generator) applyWikiLink(u Update) {
	switch u.Op {
	case OpCreated, OpUpdated:
		g.wikiLinks[u.Rkey] = *u.WikiLink
	case OpDeleted:
		delete(g.wikiLinks, u.Rkey)
	}
	g.markDirty("has_wiki_link", "wiki_link "+u.Op.String())
}

// ApplyFactTags forwards a fact's tag list into fact_tag.
func (g *Generator) ApplyFactTags(rkey string, tags []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(tags) == 0 {
		delete(g.factTags, rkey)
	} else {
		g.factTags[rkey] = FactTags{FactRkey: rkey, Tags: tags}
	}
	g.markDirty("fact_tag", "fact_tag updated")
}

// SetFollowers replaces the externally-synced follower set wholesale.
func (g *Generator) SetFollowers(followerDids []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.isFollowedBy = make(map[string]bool, len(followerDids))
	for _, did := range followerDids {
		g.isFollowedBy[did] = true
	}
	g.markDirty("is_followed_by", "followers replaced")
}

// AddFollower adds a single follower without disturbing the rest of the
// set.
func (g *Generator) AddFollower(did string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.isFollowedBy[did] {
		return
	}
	g.isFollowedBy[did] = true
	g.markDirty("is_followed_by", "follower added")
}

func (o Op) String() string {
	switch o {
	case OpCreated:
		return "created"
	case OpUpdated:
		return "updated"
	case OpDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}
