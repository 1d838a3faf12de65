package graph

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/LvcidPsyche/agent-intelligence-hub/internal/config"
	"github.com/LvcidPsyche/agent-intelligence-hub/internal/storage"
)

// pairKey is a normalized unordered agent pair used while accumulating
// evidence counts.
type pairKey struct {
	a, b string
}

func newPairKey(a, b string) pairKey {
	if b < a {
		a, b = b, a
	}
	return pairKey{a, b}
}

// Builder derives the interaction graph from the activity store. Building is
// a pure function of the window's activity records: the same window always
// yields the same node and edge sets.
type Builder struct {
	db  *storage.DB
	cfg *config.Config
}

// NewBuilder creates a graph builder over the given store.
func NewBuilder(db *storage.DB, cfg *config.Config) *Builder {
	return &Builder{db: db, cfg: cfg}
}

// BuildStats summarizes one build for logging and run records.
type BuildStats struct {
	Nodes           int `json:"nodes"`
	CoParticipation int `json:"co_participation_edges"`
	ArtifactSim     int `json:"artifact_similarity_edges"`
	RepProximity    int `json:"reputation_proximity_edges"`
	TemporalCorr    int `json:"temporal_correlation_edges"`
}

// Build constructs the graph for the window ending at now. Nodes are the
// agents with at least one post or artifact inside the window; the four edge
// passes each add independent evidence.
func (b *Builder) Build(ctx context.Context, now time.Time) (*Graph, *BuildStats, error) {
	since := now.AddDate(0, 0, -b.cfg.Graph.WindowDays).Unix()
	artifactSince := now.AddDate(0, 0, -b.cfg.Graph.ArtifactWindowDays).Unix()

	posts, err := b.db.ListPostsSince(since)
	if err != nil {
		return nil, nil, fmt.Errorf("build graph: %w", err)
	}
	artifacts, err := b.db.ListArtifactsSince(artifactSince)
	if err != nil {
		return nil, nil, fmt.Errorf("build graph: %w", err)
	}
	agents, err := b.db.ListAgents()
	if err != nil {
		return nil, nil, fmt.Errorf("build graph: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	byID := make(map[string]*storage.Agent, len(agents))
	for i := range agents {
		byID[agents[i].ID] = &agents[i]
	}

	g := New()
	active := make(map[string]bool)
	for i := range posts {
		active[posts[i].AuthorID] = true
	}
	for i := range artifacts {
		if artifacts[i].CreatedAt >= since {
			active[artifacts[i].AuthorID] = true
		}
	}
	for id := range active {
		if a, ok := byID[id]; ok {
			g.AddNode(a)
		}
	}

	stats := &BuildStats{Nodes: len(g.Agents)}
	stats.CoParticipation = b.coParticipationPass(g, posts)
	stats.ArtifactSim = b.artifactSimilarityPass(g, artifacts)
	stats.RepProximity = b.reputationProximityPass(g, posts, artifacts)
	stats.TemporalCorr = b.temporalCorrelationPass(g, posts, artifacts, since)

	log.Printf("[graph] built %d nodes, %d edges (co=%d sim=%d rep=%d temp=%d)",
		stats.Nodes, len(g.Edges), stats.CoParticipation, stats.ArtifactSim,
		stats.RepProximity, stats.TemporalCorr)
	return g, stats, nil
}

// coParticipationPass links agents posting into the same sub-community.
// Shared count for a pair is the smaller of the two agents' post counts,
// summed over communities; pairs need more than 2 to qualify.
func (b *Builder) coParticipationPass(g *Graph, posts []storage.Post) int {
	byCommunity := make(map[string]map[string]int) // community -> author -> posts
	for i := range posts {
		p := &posts[i]
		if p.Community == "" {
			continue
		}
		if byCommunity[p.Community] == nil {
			byCommunity[p.Community] = make(map[string]int)
		}
		byCommunity[p.Community][p.AuthorID]++
	}

	shared := make(map[pairKey]int)
	for _, authors := range byCommunity {
		ids := sortedKeys(authors)
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				n := authors[ids[i]]
				if m := authors[ids[j]]; m < n {
					n = m
				}
				shared[newPairKey(ids[i], ids[j])] += n
			}
		}
	}

	added := 0
	for _, pk := range sortedPairs(shared) {
		count := shared[pk]
		if count <= 2 {
			continue
		}
		g.AddEdge(pk.a, pk.b, EdgeCoParticipation, math.Log(float64(count)+1), count)
		added++
	}
	return added
}

// artifactSimilarityPass links authors whose artifacts declare intersecting
// tags, over the longer artifact window. Artifacts are bucketed by tag so
// only pairs that actually share one are compared; an artifact pair counts
// once no matter how many tags it shares. Discounted relative to direct
// co-participation.
func (b *Builder) artifactSimilarityPass(g *Graph, artifacts []storage.Artifact) int {
	byTag := make(map[string][]int)
	for i := range artifacts {
		for _, tag := range artifacts[i].TagList() {
			byTag[tag] = append(byTag[tag], i)
		}
	}

	counted := make(map[pairKey]bool) // artifact ID pairs already scored
	similar := make(map[pairKey]int)
	for _, tag := range sortedKeys(byTag) {
		idx := byTag[tag]
		for i := 0; i < len(idx); i++ {
			for j := i + 1; j < len(idx); j++ {
				a, c := &artifacts[idx[i]], &artifacts[idx[j]]
				if a.AuthorID == c.AuthorID {
					continue
				}
				apk := newPairKey(a.ID, c.ID)
				if counted[apk] {
					continue
				}
				counted[apk] = true
				similar[newPairKey(a.AuthorID, c.AuthorID)]++
			}
		}
	}

	added := 0
	for _, pk := range sortedPairs(similar) {
		count := similar[pk]
		if count <= 1 {
			continue
		}
		g.AddEdge(pk.a, pk.b, EdgeArtifactSimilarity, math.Log(float64(count)+1)*0.8, count)
		added++
	}
	return added
}

// reputationProximityPass links pairs whose normalized reputation differs by
// less than 30%. This is the only quadratic pass, so the candidate set is
// capped at the configured sample size, keeping the most active agents.
func (b *Builder) reputationProximityPass(g *Graph, posts []storage.Post, artifacts []storage.Artifact) int {
	activity := activityCounts(posts, artifacts)

	ids := g.NodeIDs()
	if limit := b.cfg.Graph.ProximitySampleCap; len(ids) > limit {
		sort.SliceStable(ids, func(i, j int) bool {
			ai, aj := activity[ids[i]], activity[ids[j]]
			if ai != aj {
				return ai > aj
			}
			return ids[i] < ids[j]
		})
		ids = ids[:limit]
		sort.Strings(ids)
	}

	var maxKarma int64
	for _, id := range ids {
		if k := g.Agents[id].Karma; k > maxKarma {
			maxKarma = k
		}
	}
	if maxKarma == 0 {
		return 0
	}

	added := 0
	for i := 0; i < len(ids); i++ {
		ni := float64(g.Agents[ids[i]].Karma) / float64(maxKarma)
		for j := i + 1; j < len(ids); j++ {
			nj := float64(g.Agents[ids[j]].Karma) / float64(maxKarma)
			relDiff := math.Abs(ni - nj)
			if relDiff >= 0.3 {
				continue
			}
			g.AddEdge(ids[i], ids[j], EdgeReputationProximity, 0.3*(1-relDiff), 1)
			added++
		}
	}
	return added
}

// temporalCorrelationPass links agents active in the same hourly buckets.
// Pairs need more than 2 overlapping hours; weight seeds at 0.4 for the
// third overlap and accumulates +0.2 per additional overlapping hour.
func (b *Builder) temporalCorrelationPass(g *Graph, posts []storage.Post, artifacts []storage.Artifact, since int64) int {
	byHour := make(map[int64]map[string]bool) // hour bucket -> agents active
	record := func(author string, ts int64) {
		if ts < since {
			return
		}
		h := ts - ts%3600
		if byHour[h] == nil {
			byHour[h] = make(map[string]bool)
		}
		byHour[h][author] = true
	}
	for i := range posts {
		record(posts[i].AuthorID, posts[i].CreatedAt)
	}
	for i := range artifacts {
		record(artifacts[i].AuthorID, artifacts[i].CreatedAt)
	}

	overlap := make(map[pairKey]int)
	for _, agents := range byHour {
		ids := sortedKeys(agents)
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				overlap[newPairKey(ids[i], ids[j])]++
			}
		}
	}

	added := 0
	for _, pk := range sortedPairs(overlap) {
		hours := overlap[pk]
		if hours <= 2 {
			continue
		}
		weight := 0.4 + 0.2*float64(hours-3)
		g.AddEdge(pk.a, pk.b, EdgeTemporalCorrelation, weight, hours)
		added++
	}
	return added
}

// activityCounts tallies posts plus artifacts per author.
func activityCounts(posts []storage.Post, artifacts []storage.Artifact) map[string]int {
	counts := make(map[string]int)
	for i := range posts {
		counts[posts[i].AuthorID]++
	}
	for i := range artifacts {
		counts[artifacts[i].AuthorID]++
	}
	return counts
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// sortedPairs returns pair keys in deterministic order.
func sortedPairs[V any](m map[pairKey]V) []pairKey {
	out := make([]pairKey, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].a != out[j].a {
			return out[i].a < out[j].a
		}
		return out[i].b < out[j].b
	})
	return out
}
