package derived

import "testing"

func hasPredicate(preds []string, name string) bool {
	for _, p := range preds {
		if p == name {
			return true
		}
	}
	return false
}

func TestApplyPostWithoutFacetsOnlyDirtiesBaseline(t *testing.T) {
	g := NewGenerator()
	g.Apply(Update{
		Op:   OpCreated,
		Kind: KindPost,
		Rkey: "r1",
		Post: &Post{AuthorDid: "did:plc:a", CreatedAt: "2026-01-01T00:00:00Z"},
	})

	dirty := g.DirtyPredicates()
	if !hasPredicate(dirty, "posted") || !hasPredicate(dirty, "post_created_at") {
		t.Fatalf("expected posted/post_created_at dirty, got %v", dirty)
	}
	if hasPredicate(dirty, "post_mention") {
		t.Fatalf("post_mention should not be dirty for a facet-less post, got %v", dirty)
	}
}

func TestApplyPostWithMentionDirtiesMentionPredicate(t *testing.T) {
	g := NewGenerator()
	g.Apply(Update{
		Op:   OpCreated,
		Kind: KindPost,
		Rkey: "r1",
		Post: &Post{AuthorDid: "did:plc:a", Mentions: []string{"did:plc:b"}},
	})

	dirty := g.DirtyPredicates()
	if !hasPredicate(dirty, "post_mention") {
		t.Fatalf("expected post_mention dirty, got %v", dirty)
	}
}

func TestDeletePostOnlyDirtiesPredicatesThatHadRows(t *testing.T) {
	g := NewGenerator()
	g.Apply(Update{
		Op:   OpCreated,
		Kind: KindPost,
		Rkey: "r1",
		Post: &Post{AuthorDid: "did:plc:a", Hashtags: []string{"go"}},
	})
	g.ClearDirty(g.DirtyPredicates())

	g.Apply(Update{Op: OpDeleted, Kind: KindPost, Rkey: "r1"})

	dirty := g.DirtyPredicates()
	if !hasPredicate(dirty, "posted") || !hasPredicate(dirty, "post_hashtag") {
		t.Fatalf("expected posted/post_hashtag dirty on delete, got %v", dirty)
	}
	if hasPredicate(dirty, "post_mention") {
		t.Fatalf("post_mention never had rows, should stay clean, got %v", dirty)
	}
}

func TestClearDirtyRemovesOnlyRequested(t *testing.T) {
	g := NewGenerator()
	g.Apply(Update{Op: OpCreated, Kind: KindCustomTool, Rkey: "t1", CustomTool: &CustomTool{ToolName: "search"}})
	g.Apply(Update{Op: OpCreated, Kind: KindJob, Rkey: "j1", Job: &Job{JobName: "sync"}})

	g.ClearDirty([]string{"has_tool"})
	dirty := g.DirtyPredicates()
	if hasPredicate(dirty, "has_tool") {
		t.Fatalf("has_tool should have been cleared, got %v", dirty)
	}
	if !hasPredicate(dirty, "has_job") {
		t.Fatalf("has_job should still be dirty, got %v", dirty)
	}
}

func TestDirectiveKindSelectsPredicate(t *testing.T) {
	g := NewGenerator()
	g.Apply(Update{
		Op:        OpCreated,
		Kind:      KindDirective,
		Rkey:      "d1",
		Directive: &Directive{Kind: DirectiveBoundary, Content: "no spam"},
	})
	dirty := g.DirtyPredicates()
	if len(dirty) != 1 || dirty[0] != "has_boundary" {
		t.Fatalf("expected only has_boundary dirty, got %v", dirty)
	}
}

func TestAddFollowerExtendsSetFollowers(t *testing.T) {
	g := NewGenerator()
	g.SetFollowers([]string{"did:plc:a", "did:plc:b"})
	g.AddFollower("did:plc:c")

	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.isFollowedBy) != 3 {
		t.Fatalf("expected 3 followers, got %d", len(g.isFollowedBy))
	}
	if !g.isFollowedBy["did:plc:a"] || !g.isFollowedBy["did:plc:c"] {
		t.Fatalf("missing expected followers: %+v", g.isFollowedBy)
	}
}

func TestApplyFactTagsEmptyClearsRow(t *testing.T) {
	g := NewGenerator()
	g.ApplyFactTags("f1", []string{"news", "ai"})
	g.mu.RLock()
	if len(g.factTags["f1"].Tags) != 2 {
		g.mu.RUnlock()
		t.Fatal("expected 2 tags stored")
	}
	g.mu.RUnlock()

	g.ApplyFactTags("f1", nil)
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.factTags["f1"]; ok {
		t.Fatal("expected fact_tag row removed once tags become empty")
	}
}

func TestDebugLogCapturesReasons(t *testing.T) {
	g := NewGenerator()
	g.EnableDebug()
	g.Apply(Update{Op: OpCreated, Kind: KindJob, Rkey: "j1", Job: &Job{JobName: "sync"}})

	log := g.DebugLog()
	if len(log) != 1 || log[0].Predicate != "has_job" || log[0].Reason != "job created" {
		t.Fatalf("expected one has_job debug event, got %+v", log)
	}
}
