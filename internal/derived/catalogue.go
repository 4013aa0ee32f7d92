// Package derived projects non-fact ATProto records (follows, posts,
// notes, directives, tools, jobs, triggers, wiki entries, tags, ...)
// into the flat relations the Datalog cache materialises to TSV: a
// closed, code-defined catalogue keyed by name, protected by one
// RWMutex, with per-entry dirty tracking.
package derived

// ArgType is the Soufflé column type a derived argument is emitted as.
type ArgType string

const (
	Symbol   ArgType = "symbol"
	Number   ArgType = "number"
	Float    ArgType = "float"
	Unsigned ArgType = "unsigned"
)

// Arg names one column of a predicate.
type Arg struct {
	Name string
	Type ArgType
}

// Spec describes one predicate in the closed derived vocabulary.
type Spec struct {
	Arity       int
	Args        []Arg
	Description string
	// HasRkey is false only for is_followed_by, which is sourced from an
	// external follower-sync API and carries no originating record.
	HasRkey bool
}

func spec(description string, hasRkey bool, args ...Arg) Spec {
	return Spec{Arity: len(args), Args: args, Description: description, HasRkey: hasRkey}
}

func sym(name string) Arg { return Arg{Name: name, Type: Symbol} }

// Catalogue is the closed derived-predicate vocabulary. A name in this
// map can never be created, updated, or deleted as a user fact.
var Catalogue = map[string]Spec{
	"follows":             spec("follower_did follows followed_did", true, sym("follower_did"), sym("followed_did"), sym("rkey")),
	"follow_created_at":   spec("creation time of a follow", true, sym("rkey"), sym("created_at")),
	"is_followed_by":      spec("follower_did follows the agent (external sync, no rkey)", false, sym("follower_did"), sym("self_did")),
	"liked":               spec("actor_did liked subject_uri", true, sym("actor_did"), sym("subject_uri"), sym("rkey")),
	"like_created_at":     spec("creation time of a like", true, sym("rkey"), sym("created_at")),
	"like_cid":            spec("cid of the liked subject", true, sym("rkey"), sym("cid")),
	"reposted":            spec("actor_did reposted subject_uri", true, sym("actor_did"), sym("subject_uri"), sym("rkey")),
	"repost_created_at":   spec("creation time of a repost", true, sym("rkey"), sym("created_at")),
	"repost_cid":          spec("cid of the reposted subject", true, sym("rkey"), sym("cid")),
	"posted":              spec("author_did authored a post", true, sym("author_did"), sym("rkey")),
	"post_created_at":     spec("creation time of a post", true, sym("rkey"), sym("created_at")),
	"replied_to":          spec("post at rkey replies to parent_uri", true, sym("parent_uri"), sym("rkey")),
	"reply_parent_uri":    spec("reply parent uri", true, sym("rkey"), sym("uri")),
	"reply_parent_cid":    spec("reply parent cid", true, sym("rkey"), sym("cid")),
	"thread_root":         spec("post at rkey belongs to thread root_uri", true, sym("root_uri"), sym("rkey")),
	"reply_root_uri":      spec("reply thread root uri", true, sym("rkey"), sym("uri")),
	"reply_root_cid":      spec("reply thread root cid", true, sym("rkey"), sym("cid")),
	"quoted":              spec("post at rkey quotes quoted_uri", true, sym("quoted_uri"), sym("rkey")),
	"quote_cid":           spec("cid of the quoted post", true, sym("rkey"), sym("cid")),
	"post_lang":           spec("one row per declared language", true, sym("lang"), sym("rkey")),
	"post_mention":        spec("one row per mentioned did", true, sym("mentioned_did"), sym("rkey")),
	"post_link":           spec("one row per embedded link", true, sym("url"), sym("rkey")),
	"post_hashtag":        spec("one row per hashtag facet", true, sym("tag"), sym("rkey")),
	"has_value":           spec("self-held value directive", true, sym("value"), sym("rkey")),
	"has_interest":        spec("self-held interest directive", true, sym("interest"), sym("rkey")),
	"has_belief":          spec("self-held belief directive", true, sym("belief"), sym("rkey")),
	"has_guideline":       spec("self-held guideline directive", true, sym("guideline"), sym("rkey")),
	"has_boundary":        spec("self-held boundary directive", true, sym("boundary"), sym("rkey")),
	"has_aspiration":      spec("self-held aspiration directive", true, sym("aspiration"), sym("rkey")),
	"has_self_concept":    spec("self-held self-concept directive", true, sym("concept"), sym("rkey")),
	"has_tool":            spec("registered custom tool", true, sym("tool_name"), sym("rkey")),
	"has_job":             spec("scheduled job", true, sym("job_name"), sym("rkey")),
	"has_trigger":         spec("registered trigger", true, sym("trigger_name"), sym("rkey")),
	"has_note":            spec("note title", true, sym("title"), sym("rkey")),
	"note_tag":            spec("one row per note tag", true, sym("tag"), sym("rkey")),
	"note_related_fact":   spec("one row per fact the note links to", true, sym("fact_rkey"), sym("rkey")),
	"has_thought":         spec("recorded thought", true, sym("content"), sym("rkey")),
	"thought_tag":         spec("one row per thought tag", true, sym("tag"), sym("rkey")),
	"tool_call_duration":  spec("observed duration of a tool invocation", true, sym("tool_name"), sym("duration_ms"), sym("rkey")),
	"has_blog_post":       spec("published blog entry title", true, sym("title"), sym("rkey")),
	"has_wiki_entry":      spec("wiki entry title", true, sym("title"), sym("rkey")),
	"wiki_entry_alias":    spec("one row per wiki entry alias", true, sym("alias"), sym("rkey")),
	"wiki_entry_tag":      spec("one row per wiki entry tag", true, sym("tag"), sym("rkey")),
	"wiki_entry_supersedes": spec("wiki entry at rkey supersedes old_rkey", true, sym("old_rkey"), sym("rkey")),
	"has_wiki_link":       spec("wiki entry at rkey links to target_title", true, sym("target_title"), sym("rkey")),
	"fact_tag":            spec("one row per tag on a fact", true, sym("tag"), sym("rkey")),
}

// IsDerived reports whether name is part of the closed vocabulary and
// therefore cannot be created, updated, or deleted as a user fact.
func IsDerived(name string) bool {
	_, ok := Catalogue[name]
	return ok
}

// Names returns every predicate name in the catalogue.
func Names() []string {
	names := make([]string, 0, len(Catalogue))
	for name := range Catalogue {
		names = append(names, name)
	}
	return names
}
