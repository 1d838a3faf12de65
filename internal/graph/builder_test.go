package graph

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/LvcidPsyche/agent-intelligence-hub/internal/config"
	"github.com/LvcidPsyche/agent-intelligence-hub/internal/storage"
)

func setupTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustAgent(t *testing.T, db *storage.DB, id string, karma int64) {
	t.Helper()
	now := time.Now().Unix()
	err := db.UpsertAgent(&storage.Agent{
		ID: id, Platform: storage.PlatformSocial, ExternalID: "ext-" + id,
		DisplayName: id, Karma: karma, FirstSeen: now, LastSeen: now,
	})
	if err != nil {
		t.Fatalf("upsert agent %s: %v", id, err)
	}
}

func mustPost(t *testing.T, db *storage.DB, id, author, community string, createdAt int64) {
	t.Helper()
	err := db.InsertPost(&storage.Post{
		ID: id, Platform: storage.PlatformSocial, ExternalID: "ext-" + id,
		AuthorID: author, Community: community, CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("insert post %s: %v", id, err)
	}
}

func TestCoParticipationEdges(t *testing.T) {
	db := setupTestDB(t)
	cfg := config.Default()
	now := time.Now()

	mustAgent(t, db, "a1", 0)
	mustAgent(t, db, "a2", 0)
	mustAgent(t, db, "a3", 0)

	// a1 and a2 each post 3 times into the same community: shared count 3 > 2.
	base := now.Add(-24 * time.Hour).Unix()
	for i := 0; i < 3; i++ {
		mustPost(t, db, fmt.Sprintf("p1-%d", i), "a1", "agent-dev", base+int64(i)*7200)
		mustPost(t, db, fmt.Sprintf("p2-%d", i), "a2", "agent-dev", base+int64(i)*7200+1800)
	}
	// a3 posts once elsewhere: node, but no co-participation edge.
	mustPost(t, db, "p3-0", "a3", "other", base)

	b := NewBuilder(db, cfg)
	g, stats, err := b.Build(context.Background(), now)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if stats.Nodes != 3 {
		t.Errorf("nodes = %d, want 3", stats.Nodes)
	}

	var found *Edge
	for i := range g.Edges {
		if g.Edges[i].Type == EdgeCoParticipation {
			found = &g.Edges[i]
		}
	}
	if found == nil {
		t.Fatal("expected a co-participation edge")
	}
	if found.A != "a1" || found.B != "a2" {
		t.Errorf("edge endpoints = (%s,%s), want (a1,a2)", found.A, found.B)
	}
	want := math.Log(4)
	if math.Abs(found.Weight-want) > 1e-9 {
		t.Errorf("weight = %f, want log(4) = %f", found.Weight, want)
	}
}

func TestTemporalCorrelationEdges(t *testing.T) {
	db := setupTestDB(t)
	cfg := config.Default()
	now := time.Now()

	mustAgent(t, db, "a1", 0)
	mustAgent(t, db, "a2", 0)

	// 4 overlapping hourly buckets. No shared community, so the only edge is
	// temporal.
	base := now.Add(-48 * time.Hour).Truncate(time.Hour).Unix()
	for i := 0; i < 4; i++ {
		h := base + int64(i)*3600
		mustPost(t, db, fmt.Sprintf("q1-%d", i), "a1", "", h+60)
		mustPost(t, db, fmt.Sprintf("q2-%d", i), "a2", "", h+120)
	}

	b := NewBuilder(db, cfg)
	g, _, err := b.Build(context.Background(), now)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	var found *Edge
	for i := range g.Edges {
		if g.Edges[i].Type == EdgeTemporalCorrelation {
			found = &g.Edges[i]
		}
	}
	if found == nil {
		t.Fatal("expected a temporal correlation edge")
	}
	if found.Evidence != 4 {
		t.Errorf("overlap hours = %d, want 4", found.Evidence)
	}
	// Seeded at 0.4 for the third overlap, +0.2 for the fourth.
	if math.Abs(found.Weight-0.6) > 1e-9 {
		t.Errorf("weight = %f, want 0.6", found.Weight)
	}
}

func mustArtifact(t *testing.T, db *storage.DB, id, author, tags string, createdAt int64) {
	t.Helper()
	err := db.UpsertArtifact(&storage.Artifact{
		ID: id, ExternalID: "ext-" + id, AuthorID: author, Name: id,
		Version: "1.0.0", Tags: tags, CreatedAt: createdAt, LastUpdatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("upsert artifact %s: %v", id, err)
	}
}

func TestArtifactSimilarityEdges(t *testing.T) {
	db := setupTestDB(t)
	cfg := config.Default()
	now := time.Now()

	mustAgent(t, db, "a1", 0)
	mustAgent(t, db, "a2", 0)

	// Two artifacts per author, all tagged "ml,agents". Four cross-author
	// artifact pairs share tags; sharing two tags must not double a pair.
	// Distinct hours per author keep the temporal pass quiet.
	base := now.Add(-48 * time.Hour).Truncate(time.Hour).Unix()
	mustArtifact(t, db, "u1", "a1", "ml,agents", base)
	mustArtifact(t, db, "u2", "a1", "ml,agents", base+3600)
	mustArtifact(t, db, "v1", "a2", "ml,agents", base+7200)
	mustArtifact(t, db, "v2", "a2", "ml,agents", base+10800)

	b := NewBuilder(db, cfg)
	g, stats, err := b.Build(context.Background(), now)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if stats.ArtifactSim != 1 {
		t.Fatalf("similarity edges = %d, want 1", stats.ArtifactSim)
	}

	var found *Edge
	for i := range g.Edges {
		if g.Edges[i].Type == EdgeArtifactSimilarity {
			found = &g.Edges[i]
		}
	}
	if found == nil {
		t.Fatal("expected an artifact similarity edge")
	}
	if found.Evidence != 4 {
		t.Errorf("evidence = %d, want 4 artifact pairs counted once each", found.Evidence)
	}
	want := math.Log(5) * 0.8
	if math.Abs(found.Weight-want) > 1e-9 {
		t.Errorf("weight = %f, want log(5)*0.8 = %f", found.Weight, want)
	}
}

func TestReputationProximityBounded(t *testing.T) {
	db := setupTestDB(t)
	cfg := config.Default()
	cfg.Graph.ProximitySampleCap = 3
	now := time.Now()

	// 5 active agents with close karma; the pass must only compare the 3
	// most active.
	base := now.Add(-24 * time.Hour).Unix()
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("a%d", i)
		mustAgent(t, db, id, int64(100+i))
		// Activity descends with index: a0 most active.
		for j := 0; j < 5-i; j++ {
			mustPost(t, db, fmt.Sprintf("r%d-%d", i, j), id, "", base+int64(i*5+j)*3600)
		}
	}

	b := NewBuilder(db, cfg)
	g, stats, err := b.Build(context.Background(), now)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	// 3 sampled nodes -> at most C(3,2) = 3 proximity edges.
	if stats.RepProximity > 3 {
		t.Errorf("proximity edges = %d, want <= 3 with cap 3", stats.RepProximity)
	}
	for _, e := range g.Edges {
		if e.Type != EdgeReputationProximity {
			continue
		}
		if e.Weight <= 0.21 || e.Weight > 0.3 {
			t.Errorf("proximity weight %f outside (0.21, 0.3]", e.Weight)
		}
	}
}

func TestBuildDeterminism(t *testing.T) {
	db := setupTestDB(t)
	cfg := config.Default()
	now := time.Now()

	base := now.Add(-72 * time.Hour).Unix()
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("a%d", i)
		mustAgent(t, db, id, int64(50+10*i))
		for j := 0; j < 4; j++ {
			mustPost(t, db, fmt.Sprintf("d%d-%d", i, j), id, "shared", base+int64(j)*3600)
		}
	}

	b := NewBuilder(db, cfg)
	g1, _, err := b.Build(context.Background(), now)
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	g2, _, err := b.Build(context.Background(), now)
	if err != nil {
		t.Fatalf("second build: %v", err)
	}

	if len(g1.Edges) != len(g2.Edges) {
		t.Fatalf("edge counts differ: %d vs %d", len(g1.Edges), len(g2.Edges))
	}
	for i := range g1.Edges {
		e1, e2 := g1.Edges[i], g2.Edges[i]
		if e1 != e2 {
			t.Errorf("edge %d differs: %+v vs %+v", i, e1, e2)
		}
	}
}
