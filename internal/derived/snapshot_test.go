package derived

import "testing"

func TestSnapshotAllPredicatesIncludesEverythingWithRows(t *testing.T) {
	g := NewGenerator()
	g.Apply(Update{Op: OpCreated, Kind: KindPost, Rkey: "p1", Post: &Post{AuthorDid: "did:plc:a", Hashtags: []string{"go"}}})
	g.Apply(Update{Op: OpCreated, Kind: KindJob, Rkey: "j1", Job: &Job{JobName: "sync"}})

	rows := g.Snapshot(nil)
	if len(rows["posted"]) != 1 || rows["posted"][0][0] != "did:plc:a" {
		t.Fatalf("unexpected posted rows: %v", rows["posted"])
	}
	if len(rows["post_hashtag"]) != 1 {
		t.Fatalf("unexpected post_hashtag rows: %v", rows["post_hashtag"])
	}
	if len(rows["has_job"]) != 1 {
		t.Fatalf("unexpected has_job rows: %v", rows["has_job"])
	}
}

func TestSnapshotSubsetOnlyReturnsRequested(t *testing.T) {
	g := NewGenerator()
	g.Apply(Update{Op: OpCreated, Kind: KindJob, Rkey: "j1", Job: &Job{JobName: "sync"}})
	g.Apply(Update{Op: OpCreated, Kind: KindTrigger, Rkey: "t1", Trigger: &Trigger{TriggerName: "on_mention"}})

	rows := g.Snapshot([]string{"has_job"})
	if _, ok := rows["has_trigger"]; ok {
		t.Fatalf("has_trigger should not appear in a has_job-only snapshot: %v", rows)
	}
	if len(rows["has_job"]) != 1 {
		t.Fatalf("expected exactly one has_job row, got %v", rows["has_job"])
	}
}

func TestSnapshotCloneIsIndependentOfLiveState(t *testing.T) {
	g := NewGenerator()
	g.Apply(Update{Op: OpCreated, Kind: KindJob, Rkey: "j1", Job: &Job{JobName: "sync"}})

	rows := g.Snapshot([]string{"has_job"})
	g.Apply(Update{Op: OpDeleted, Kind: KindJob, Rkey: "j1"})

	if len(rows["has_job"]) != 1 {
		t.Fatalf("snapshot taken before delete should be unaffected by it, got %v", rows["has_job"])
	}
}
