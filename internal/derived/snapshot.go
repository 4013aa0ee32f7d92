package derived

import "strconv"

// state is an immutable clone of every derived record store, taken
// under a single read lock so that TSV row production never holds the
// generator's mutex.
type state struct {
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
}

func cloneMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// clone copies every store under the generator's read lock. The
// returned state is then walked without any lock held.
func (g *Generator) clone() state {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return state{
		follows:      cloneMap(g.follows),
		isFollowedBy: cloneMap(g.isFollowedBy),
		likes:        cloneMap(g.likes),
		reposts:      cloneMap(g.reposts),
		posts:        cloneMap(g.posts),
		directives:   cloneMap(g.directives),
		customTools:  cloneMap(g.customTools),
		toolApproval: cloneMap(g.toolApproval),
		jobs:         cloneMap(g.jobs),
		triggers:     cloneMap(g.triggers),
		notes:        cloneMap(g.notes),
		thoughts:     cloneMap(g.thoughts),
		blogEntries:  cloneMap(g.blogEntries),
		wikiEntries:  cloneMap(g.wikiEntries),
		wikiLinks:    cloneMap(g.wikiLinks),
		factTags:     cloneMap(g.factTags),
	}
}

// Snapshot returns TSV-ready rows for the requested predicates. A nil
// or empty set means every predicate in the closed vocabulary. The
// clone happens under one read lock; every row is then built
// lock-free.
func (g *Generator) Snapshot(predicates []string) map[string][][]string {
	s := g.clone()

	want := func(name string) bool { return true }
	if len(predicates) > 0 {
		set := make(map[string]bool, len(predicates))
		for _, p := range predicates {
			set[p] = true
		}
		want = func(name string) bool { return set[name] }
	}

	out := make(map[string][][]string)
	add := func(name string, row []string) {
		if !want(name) {
			return
		}
		out[name] = append(out[name], row)
	}

	for rkey, f := range s.follows {
		add("follows", []string{f.FollowerDid, f.FollowedDid, rkey})
		if f.CreatedAt != "" {
			add("follow_created_at", []string{rkey, f.CreatedAt})
		}
	}
	for did := range s.isFollowedBy {
		add("is_followed_by", []string{did, "self"})
	}
	for rkey, l := range s.likes {
		add("liked", []string{l.ActorDid, l.SubjectUri, rkey})
		if l.CreatedAt != "" {
			add("like_created_at", []string{rkey, l.CreatedAt})
		}
		if l.SubjectCid != "" {
			add("like_cid", []string{rkey, l.SubjectCid})
		}
	}
	for rkey, r := range s.reposts {
		add("reposted", []string{r.ActorDid, r.SubjectUri, rkey})
		if r.CreatedAt != "" {
			add("repost_created_at", []string{rkey, r.CreatedAt})
		}
		if r.SubjectCid != "" {
			add("repost_cid", []string{rkey, r.SubjectCid})
		}
	}
	for rkey, p := range s.posts {
		add("posted", []string{p.AuthorDid, rkey})
		if p.CreatedAt != "" {
			add("post_created_at", []string{rkey, p.CreatedAt})
		}
		for _, lang := range p.Langs {
			add("post_lang", []string{lang, rkey})
		}
		for _, did := range p.Mentions {
			add("post_mention", []string{did, rkey})
		}
		for _, link := range p.Links {
			add("post_link", []string{link, rkey})
		}
		for _, tag := range p.Hashtags {
			add("post_hashtag", []string{tag, rkey})
		}
		if p.ReplyParentUri != "" {
			add("replied_to", []string{p.ReplyParentUri, rkey})
			add("reply_parent_uri", []string{rkey, p.ReplyParentUri})
		}
		if p.ReplyParentCid != "" {
			add("reply_parent_cid", []string{rkey, p.ReplyParentCid})
		}
		if p.ReplyRootUri != "" {
			add("thread_root", []string{p.ReplyRootUri, rkey})
			add("reply_root_uri", []string{rkey, p.ReplyRootUri})
		}
		if p.ReplyRootCid != "" {
			add("reply_root_cid", []string{rkey, p.ReplyRootCid})
		}
		if p.QuotedUri != "" {
			add("quoted", []string{p.QuotedUri, rkey})
		}
		if p.QuotedCid != "" {
			add("quote_cid", []string{rkey, p.QuotedCid})
		}
	}
	for rkey, d := range s.directives {
		if pred := d.Kind.predicate(); pred != "" {
			add(pred, []string{d.Content, rkey})
		}
	}
	for rkey, ct := range s.customTools {
		add("has_tool", []string{ct.ToolName, rkey})
	}
	for rkey, ta := range s.toolApproval {
		add("tool_call_duration", []string{ta.ToolName, strconv.Itoa(ta.DurationMs), rkey})
	}
	for rkey, j := range s.jobs {
		add("has_job", []string{j.JobName, rkey})
	}
	for rkey, tr := range s.triggers {
		add("has_trigger", []string{tr.TriggerName, rkey})
	}
	for rkey, n := range s.notes {
		add("has_note", []string{n.Title, rkey})
		for _, tag := range n.Tags {
			add("note_tag", []string{tag, rkey})
		}
		for _, fr := range n.RelatedFacts {
			add("note_related_fact", []string{fr, rkey})
		}
	}
	for rkey, th := range s.thoughts {
		add("has_thought", []string{th.Content, rkey})
		for _, tag := range th.Tags {
			add("thought_tag", []string{tag, rkey})
		}
	}
	for rkey, b := range s.blogEntries {
		add("has_blog_post", []string{b.Title, rkey})
	}
	for rkey, w := range s.wikiEntries {
		add("has_wiki_entry", []string{w.Title, rkey})
		for _, alias := range w.Aliases {
			add("wiki_entry_alias", []string{alias, rkey})
		}
		for _, tag := range w.Tags {
			add("wiki_entry_tag", []string{tag, rkey})
		}
		if w.Supersedes != "" {
			add("wiki_entry_supersedes", []string{w.Supersedes, rkey})
		}
	}
	for rkey, wl := range s.wikiLinks {
		add("has_wiki_link", []string{wl.TargetTitle, rkey})
	}
	for rkey, ft := range s.factTags {
		for _, tag := range ft.Tags {
			add("fact_tag", []string{tag, rkey})
		}
	}

	return out
}
