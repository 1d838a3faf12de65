package storage

import (
	"path/filepath"
	"testing"
	"time"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testAgent(id, platform, name string) *Agent {
	now := time.Now().Unix()
	return &Agent{
		ID:          id,
		Platform:    platform,
		ExternalID:  "ext-" + id,
		DisplayName: name,
		FirstSeen:   now,
		LastSeen:    now,
	}
}

func TestUpsertAgentRefreshesLastSeen(t *testing.T) {
	db := setupTestDB(t)

	a := testAgent("a1", PlatformSocial, "nova")
	a.FirstSeen = 1000
	a.LastSeen = 1000
	if err := db.UpsertAgent(a); err != nil {
		t.Fatalf("upsert agent: %v", err)
	}

	// Second observation: same (platform, external_id), newer last_seen.
	a.Karma = 42
	a.LastSeen = 2000
	if err := db.UpsertAgent(a); err != nil {
		t.Fatalf("upsert agent again: %v", err)
	}

	got, err := db.GetAgent("a1")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if got.FirstSeen != 1000 {
		t.Errorf("first_seen = %d, want 1000 (never moves forward)", got.FirstSeen)
	}
	if got.LastSeen != 2000 {
		t.Errorf("last_seen = %d, want 2000", got.LastSeen)
	}
	if got.Karma != 42 {
		t.Errorf("karma = %d, want 42", got.Karma)
	}
}

func TestIdentityLinkConfidenceMonotonic(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now().Unix()

	raised, err := db.UpsertIdentityLink(&IdentityLink{
		SourceID: "a1", TargetID: "b1", LinkType: LinkFuzzyName,
		Confidence: 0.80, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("insert link: %v", err)
	}
	if !raised {
		t.Error("first upsert should report raised")
	}

	// Lower confidence must not overwrite.
	raised, err = db.UpsertIdentityLink(&IdentityLink{
		SourceID: "a1", TargetID: "b1", LinkType: LinkFuzzyName,
		Confidence: 0.75, UpdatedAt: now + 1,
	})
	if err != nil {
		t.Fatalf("downgrade upsert: %v", err)
	}
	if raised {
		t.Error("lower-confidence upsert should not report raised")
	}

	links, err := db.ListIdentityLinks()
	if err != nil {
		t.Fatalf("list links: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("links = %d, want 1", len(links))
	}
	if links[0].Confidence != 0.80 {
		t.Errorf("confidence = %f, want 0.80", links[0].Confidence)
	}

	// Higher confidence raises.
	raised, err = db.UpsertIdentityLink(&IdentityLink{
		SourceID: "a1", TargetID: "b1", LinkType: LinkFuzzyName,
		Confidence: 0.95, UpdatedAt: now + 2,
	})
	if err != nil {
		t.Fatalf("upgrade upsert: %v", err)
	}
	if !raised {
		t.Error("higher-confidence upsert should report raised")
	}
	links, _ = db.ListIdentityLinks()
	if links[0].Confidence != 0.95 {
		t.Errorf("confidence = %f, want 0.95", links[0].Confidence)
	}
}

func TestReplaceUnifiedProfiles(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now().Unix()

	first := []ProfileMember{
		{MemberID: "a1", CanonicalID: "a1", ProfileType: ProfileLinked, MemberCount: 2, UpdatedAt: now},
		{MemberID: "b1", CanonicalID: "a1", ProfileType: ProfileLinked, MemberCount: 2, UpdatedAt: now},
	}
	if err := db.ReplaceUnifiedProfiles(first); err != nil {
		t.Fatalf("replace profiles: %v", err)
	}

	// A later run shrinks the table; stale rows must not survive.
	second := []ProfileMember{
		{MemberID: "c1", CanonicalID: "c1", ProfileType: ProfileLinked, MemberCount: 2, UpdatedAt: now + 1},
		{MemberID: "d1", CanonicalID: "c1", ProfileType: ProfileLinked, MemberCount: 2, UpdatedAt: now + 1},
	}
	if err := db.ReplaceUnifiedProfiles(second); err != nil {
		t.Fatalf("replace profiles again: %v", err)
	}

	members, err := db.ListUnifiedProfiles()
	if err != nil {
		t.Fatalf("list profiles: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("members = %d, want 2", len(members))
	}
	for _, m := range members {
		if m.CanonicalID != "c1" {
			t.Errorf("canonical = %q, want c1", m.CanonicalID)
		}
	}
}

func TestReputationScoreUpsert(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now().Unix()

	s := &ReputationScore{AgentID: "a1", Category: ScoreComposite, Score: 55.5, Factors: `{"social":20}`, UpdatedAt: now}
	if err := db.UpsertReputationScore(s); err != nil {
		t.Fatalf("upsert score: %v", err)
	}
	s.Score = 61.0
	if err := db.UpsertReputationScore(s); err != nil {
		t.Fatalf("upsert score again: %v", err)
	}

	got, err := db.GetReputationScore("a1", ScoreComposite)
	if err != nil {
		t.Fatalf("get score: %v", err)
	}
	if got.Score != 61.0 {
		t.Errorf("score = %f, want 61.0", got.Score)
	}
}

func TestLatestSnapshot(t *testing.T) {
	db := setupTestDB(t)

	older := &Snapshot{ID: "s1", SnapshotType: SnapshotLeaderboard, Data: `{"v":1}`, Checksum: "c1", CreatedAt: 100}
	newer := &Snapshot{ID: "s2", SnapshotType: SnapshotLeaderboard, Data: `{"v":2}`, Checksum: "c2", CreatedAt: 200}
	other := &Snapshot{ID: "s3", SnapshotType: SnapshotThreatLandscape, Data: `{"v":3}`, Checksum: "c3", CreatedAt: 300}
	for _, s := range []*Snapshot{older, newer, other} {
		if err := db.InsertSnapshot(s); err != nil {
			t.Fatalf("insert snapshot %s: %v", s.ID, err)
		}
	}

	got, err := db.LatestSnapshot(SnapshotLeaderboard)
	if err != nil {
		t.Fatalf("latest snapshot: %v", err)
	}
	if got.ID != "s2" {
		t.Errorf("latest = %q, want s2", got.ID)
	}
}

func TestTagList(t *testing.T) {
	a := &Artifact{Tags: "Web, scraper ,AUTOMATION,,"}
	tags := a.TagList()
	want := []string{"web", "scraper", "automation"}
	if len(tags) != len(want) {
		t.Fatalf("tags = %v, want %v", tags, want)
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Errorf("tag[%d] = %q, want %q", i, tags[i], want[i])
		}
	}
}
