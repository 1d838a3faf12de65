package network

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/LvcidPsyche/agent-intelligence-hub/internal/config"
	"github.com/LvcidPsyche/agent-intelligence-hub/internal/graph"
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

func testGraph(ids ...string) *graph.Graph {
	g := graph.New()
	now := time.Now().Unix()
	for _, id := range ids {
		g.AddNode(&storage.Agent{
			ID: id, Platform: storage.PlatformSocial, ExternalID: "ext-" + id,
			DisplayName: id, FirstSeen: now, LastSeen: now,
		})
	}
	return g
}

func TestCommunities(t *testing.T) {
	db := setupTestDB(t)
	a := NewAnalyzer(db, config.Default())

	// a1-a2-a3 form a triangle of strong edges; a4-a5 are joined only by a
	// weak edge below the community threshold.
	g := testGraph("a1", "a2", "a3", "a4", "a5")
	g.AddEdge("a1", "a2", graph.EdgeCoParticipation, 0.5, 3)
	g.AddEdge("a2", "a3", graph.EdgeCoParticipation, 0.5, 3)
	g.AddEdge("a1", "a3", graph.EdgeTemporalCorrelation, 0.5, 3)
	g.AddEdge("a4", "a5", graph.EdgeCoParticipation, 0.1, 1)

	out, err := a.Analyze(context.Background(), g, time.Now())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(out.Communities) != 1 {
		t.Fatalf("communities = %d, want 1", len(out.Communities))
	}
	c := out.Communities[0]
	if len(c.Members) != 3 || c.Members[0] != "a1" || c.Members[2] != "a3" {
		t.Errorf("members = %v, want [a1 a2 a3]", c.Members)
	}
	if c.Density != 1.0 {
		t.Errorf("density = %f, want 1.0 for a triangle", c.Density)
	}
	if c.DominantType != string(graph.EdgeCoParticipation) {
		t.Errorf("dominant type = %s, want co_participation", c.DominantType)
	}
}

func TestInfluenceStarCenter(t *testing.T) {
	db := setupTestDB(t)
	a := NewAnalyzer(db, config.Default())

	// Star: center touches everyone, leaves touch only the center.
	g := testGraph("c0", "n1", "n2", "n3", "n4")
	for _, n := range []string{"n1", "n2", "n3", "n4"} {
		g.AddEdge("c0", n, graph.EdgeCoParticipation, 1.0, 3)
	}

	out, err := a.Analyze(context.Background(), g, time.Now())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if out.Influence[0].AgentID != "c0" {
		t.Fatalf("top influence = %s, want c0", out.Influence[0].AgentID)
	}
	top := out.Influence[0]
	// All four terms are maximal for the center: with zero karma everywhere
	// the reputation term reduces to weighted degree.
	if math.Abs(top.Score-1.0) > 1e-9 {
		t.Errorf("center score = %f, want 1.0", top.Score)
	}
	if top.BridgeTerm != 1.0 {
		t.Errorf("center bridge term = %f, want 1.0 (no neighbor pair connected)", top.BridgeTerm)
	}
	for _, inf := range out.Influence[1:] {
		// Leaves: degree, weight and reputation terms each 0.25, no bridging.
		if math.Abs(inf.Score-0.2) > 1e-9 {
			t.Errorf("leaf %s score = %f, want 0.2", inf.AgentID, inf.Score)
		}
	}
}

func TestPositionClassification(t *testing.T) {
	g := testGraph("b1", "x1", "x2", "x3")
	// Three distinct edge types at b1 make it a bridge regardless of degree.
	g.AddEdge("b1", "x1", graph.EdgeCoParticipation, 0.5, 3)
	g.AddEdge("b1", "x2", graph.EdgeArtifactSimilarity, 0.5, 3)
	g.AddEdge("b1", "x3", graph.EdgeTemporalCorrelation, 0.5, 3)

	if got := position(g, "b1"); got != PositionBridge {
		t.Errorf("position(b1) = %s, want bridge", got)
	}
	if got := position(g, "x1"); got != PositionPeripheral {
		t.Errorf("position(x1) = %s, want peripheral", got)
	}
}

func TestGini(t *testing.T) {
	if got := gini([]float64{1, 1, 1, 1}); math.Abs(got) > 1e-9 {
		t.Errorf("equal sample gini = %f, want 0", got)
	}
	// One node holds everything: (n-1)/n.
	if got := gini([]float64{0, 0, 0, 10}); math.Abs(got-0.75) > 1e-9 {
		t.Errorf("concentrated sample gini = %f, want 0.75", got)
	}
	if got := gini(nil); got != 0 {
		t.Errorf("empty sample gini = %f, want 0", got)
	}
}

func TestPearson(t *testing.T) {
	a := map[int64]float64{0: 1, 3600: 2, 7200: 3, 10800: 1, 14400: 2, 18000: 3, 21600: 4}
	r, overlap := pearson(a, a)
	if math.Abs(r-1.0) > 1e-9 {
		t.Errorf("self correlation = %f, want 1.0", r)
	}
	if overlap != 7 {
		t.Errorf("overlap = %d, want 7", overlap)
	}

	b := map[int64]float64{0: 4, 3600: 3, 7200: 2, 10800: 4, 14400: 3, 18000: 2, 21600: 1}
	r, _ = pearson(a, b)
	if r >= 0 {
		t.Errorf("inverted series correlation = %f, want negative", r)
	}
}

func TestAmplificationCluster(t *testing.T) {
	a := NewAnalyzer(setupTestDB(t), config.Default())

	// h1 holds six heavy edges; four light edges among the leaves keep the
	// network mean low enough that every hub edge clears 1.5x the mean.
	g := testGraph("h1", "n1", "n2", "n3", "n4", "n5", "n6")
	for _, n := range []string{"n1", "n2", "n3", "n4", "n5", "n6"} {
		g.AddEdge("h1", n, graph.EdgeCoParticipation, 1.0, 3)
	}
	g.AddEdge("n1", "n2", graph.EdgeTemporalCorrelation, 0.05, 1)
	g.AddEdge("n2", "n3", graph.EdgeTemporalCorrelation, 0.05, 1)
	g.AddEdge("n4", "n5", graph.EdgeTemporalCorrelation, 0.05, 1)
	g.AddEdge("n5", "n6", graph.EdgeTemporalCorrelation, 0.05, 1)

	events := a.amplificationClusters(g)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Agents[0] != "h1" {
		t.Errorf("lead agent = %s, want h1", events[0].Agents[0])
	}
	if events[0].Type != EventAmplificationCluster {
		t.Errorf("type = %s, want %s", events[0].Type, EventAmplificationCluster)
	}

	// A uniform star has no edges above 1.5x the mean.
	uniform := testGraph("u1", "m1", "m2", "m3", "m4", "m5", "m6")
	for _, n := range []string{"m1", "m2", "m3", "m4", "m5", "m6"} {
		uniform.AddEdge("u1", n, graph.EdgeCoParticipation, 1.0, 3)
	}
	if events := a.amplificationClusters(uniform); len(events) != 0 {
		t.Errorf("uniform star events = %d, want 0", len(events))
	}
}

func TestInformationFlow(t *testing.T) {
	g := testGraph("h1", "b1", "n1", "n2", "n3", "n4", "n5", "n6", "n7", "n8", "n9")
	for _, n := range []string{"n1", "n2", "n3", "n4", "n5", "n6", "n7", "n8", "n9"} {
		g.AddEdge("h1", n, graph.EdgeCoParticipation, 0.5, 3)
	}
	g.AddEdge("b1", "n1", graph.EdgeCoParticipation, 0.5, 3)
	g.AddEdge("b1", "n2", graph.EdgeArtifactSimilarity, 0.5, 3)
	g.AddEdge("b1", "n3", graph.EdgeTemporalCorrelation, 0.5, 3)

	flow := informationFlow(g)
	if len(flow.Hubs) != 1 || flow.Hubs[0] != "h1" {
		t.Errorf("hubs = %v, want [h1]", flow.Hubs)
	}
	if len(flow.Bridges) != 1 || flow.Bridges[0] != "b1" {
		t.Errorf("bridges = %v, want [b1]", flow.Bridges)
	}
}

func TestCoordinatedReleases(t *testing.T) {
	db := setupTestDB(t)
	cfg := config.Default()
	a := NewAnalyzer(db, cfg)
	now := time.Now()

	seed := func(id string) {
		err := db.UpsertAgent(&storage.Agent{
			ID: id, Platform: storage.PlatformRegistry, ExternalID: "ext-" + id,
			DisplayName: id, FirstSeen: now.Unix(), LastSeen: now.Unix(),
		})
		if err != nil {
			t.Fatalf("upsert agent: %v", err)
		}
	}
	seed("r1")
	seed("r2")

	// Three release pairs inside the two-hour window across three days.
	base := now.Add(-10 * 24 * time.Hour).Unix()
	for day := 0; day < 3; day++ {
		ts := base + int64(day)*86400
		for _, id := range []string{"r1", "r2"} {
			err := db.UpsertArtifact(&storage.Artifact{
				ID:         fmt.Sprintf("art-%s-%d", id, day),
				ExternalID: fmt.Sprintf("ext-art-%s-%d", id, day),
				AuthorID:   id, Name: "pkg-" + id, Version: "1.0.0",
				CreatedAt: ts, LastUpdatedAt: ts + 7200,
			})
			if err != nil {
				t.Fatalf("upsert artifact: %v", err)
			}
			ts += 1800
		}
	}

	out, err := a.Analyze(context.Background(), testGraph("r1", "r2"), now)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	var found *CoordinationEvent
	for i := range out.Events {
		if out.Events[i].Type == EventCoordinatedRelease {
			found = &out.Events[i]
		}
	}
	if found == nil {
		t.Fatal("expected a coordinated-release event")
	}
	if len(found.Agents) != 2 || found.Agents[0] != "r1" || found.Agents[1] != "r2" {
		t.Errorf("agents = %v, want [r1 r2]", found.Agents)
	}

	// The event crosses the persistence threshold, so a signal is recorded.
	signals, err := db.ListThreatSignalsSince(0)
	if err != nil {
		t.Fatalf("list signals: %v", err)
	}
	if len(signals) != 1 || signals[0].Subtype != EventCoordinatedRelease {
		t.Fatalf("signals = %+v, want one coordinated-release signal", signals)
	}

	// A second run inside the dedup window must not duplicate it.
	if _, err := a.Analyze(context.Background(), testGraph("r1", "r2"), now); err != nil {
		t.Fatalf("second analyze: %v", err)
	}
	signals, err = db.ListThreatSignalsSince(0)
	if err != nil {
		t.Fatalf("list signals: %v", err)
	}
	if len(signals) != 1 {
		t.Errorf("signals after rerun = %d, want 1", len(signals))
	}
}
