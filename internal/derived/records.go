package derived

// DirectiveKind distinguishes the seven self-identity directive shapes
// that all share one record type but project to different predicates.
type DirectiveKind string

const (
	DirectiveValue       DirectiveKind = "value"
	DirectiveInterest    DirectiveKind = "interest"
	DirectiveBelief      DirectiveKind = "belief"
	DirectiveGuideline   DirectiveKind = "guideline"
	DirectiveBoundary    DirectiveKind = "boundary"
	DirectiveAspiration  DirectiveKind = "aspiration"
	DirectiveSelfConcept DirectiveKind = "self_concept"
)

func (k DirectiveKind) predicate() string {
	switch k {
	case DirectiveValue:
		return "has_value"
	case DirectiveInterest:
		return "has_interest"
	case DirectiveBelief:
		return "has_belief"
	case DirectiveGuideline:
		return "has_guideline"
	case DirectiveBoundary:
		return "has_boundary"
	case DirectiveAspiration:
		return "has_aspiration"
	case DirectiveSelfConcept:
		return "has_self_concept"
	default:
		return ""
	}
}

// Follow is the projection source for follows/follow_created_at.
type Follow struct {
	FollowerDid string
	FollowedDid string
	CreatedAt   string
}

// Like is the projection source for liked/like_created_at/like_cid.
type Like struct {
	ActorDid   string
	SubjectUri string
	SubjectCid string
	CreatedAt  string
}

// Repost is the projection source for reposted/repost_created_at/repost_cid.
type Repost struct {
	ActorDid   string
	SubjectUri string
	SubjectCid string
	CreatedAt  string
}

// Post is the projection source for every post_* and reply/quote/thread
// predicate.
type Post struct {
	AuthorDid       string
	CreatedAt       string
	Langs           []string
	Mentions        []string
	Links           []string
	Hashtags        []string
	ReplyParentUri  string
	ReplyParentCid  string
	ReplyRootUri    string
	ReplyRootCid    string
	QuotedUri       string
	QuotedCid       string
}

// Directive is the projection source for has_value/has_interest/... .
type Directive struct {
	Kind      DirectiveKind
	Content   string
	CreatedAt string
}

// CustomTool is the projection source for has_tool.
type CustomTool struct {
	ToolName string
}

// ToolApproval is the projection source for tool_call_duration: an
// approved tool call's observed execution time.
type ToolApproval struct {
	ToolName   string
	DurationMs int
}

// Job is the projection source for has_job.
type Job struct {
	JobName string
}

// Trigger is the projection source for has_trigger.
type Trigger struct {
	TriggerName string
}

// Note is the projection source for has_note/note_tag/note_related_fact.
type Note struct {
	Title        string
	Tags         []string
	RelatedFacts []string
}

// Thought is the projection source for has_thought/thought_tag.
type Thought struct {
	Content string
	Tags    []string
}

// BlogEntry is the projection source for has_blog_post.
type BlogEntry struct {
	Title string
}

// WikiEntry is the projection source for has_wiki_entry/wiki_entry_alias/
// wiki_entry_tag/wiki_entry_supersedes.
type WikiEntry struct {
	Title      string
	Aliases    []string
	Tags       []string
	Supersedes string
}

// WikiLink is the projection source for has_wiki_link.
type WikiLink struct {
	TargetTitle string
}

// FactTags carries the tag list off a fact update into fact_tag.
type FactTags struct {
	FactRkey string
	Tags     []string
}
