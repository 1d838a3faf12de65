// Package graph derives the weighted, typed interaction graph over agents
// from a bounded window of activity records. The graph is rebuilt fresh on
// every run; only downstream analysis output is persisted.
package graph

import (
	"sort"

	"github.com/LvcidPsyche/agent-intelligence-hub/internal/storage"
)

// EdgeType identifies the evidence pass that produced an edge.
type EdgeType string

const (
	EdgeCoParticipation     EdgeType = "co_participation"
	EdgeArtifactSimilarity  EdgeType = "artifact_similarity"
	EdgeReputationProximity EdgeType = "reputation_proximity"
	EdgeTemporalCorrelation EdgeType = "temporal_correlation"
)

// Edge is an undirected, typed, weighted relation between two agents.
// A is always the lexically smaller endpoint, so (A, B, Type) is a stable
// edge identity. Parallel edges of different types between the same pair are
// independent evidence, never merged.
type Edge struct {
	A        string   `json:"a"`
	B        string   `json:"b"`
	Type     EdgeType `json:"type"`
	Weight   float64  `json:"weight"`
	Evidence int      `json:"evidence"` // raw count behind the weight
}

// Other returns the endpoint opposite to id.
func (e *Edge) Other(id string) string {
	if e.A == id {
		return e.B
	}
	return e.A
}

// Graph is the interaction graph for one analysis window.
type Graph struct {
	Agents map[string]*storage.Agent
	Edges  []Edge

	adj map[string][]int // agent ID -> indexes into Edges
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		Agents: make(map[string]*storage.Agent),
		adj:    make(map[string][]int),
	}
}

// AddNode registers an agent as a graph node. Re-adding is a no-op.
func (g *Graph) AddNode(a *storage.Agent) {
	if _, ok := g.Agents[a.ID]; ok {
		return
	}
	g.Agents[a.ID] = a
}

// AddEdge appends an edge, normalizing endpoint order. Both endpoints must
// already be nodes; edges to unknown agents are dropped silently.
func (g *Graph) AddEdge(a, b string, t EdgeType, weight float64, evidence int) {
	if a == b {
		return
	}
	if _, ok := g.Agents[a]; !ok {
		return
	}
	if _, ok := g.Agents[b]; !ok {
		return
	}
	if b < a {
		a, b = b, a
	}
	idx := len(g.Edges)
	g.Edges = append(g.Edges, Edge{A: a, B: b, Type: t, Weight: weight, Evidence: evidence})
	g.adj[a] = append(g.adj[a], idx)
	g.adj[b] = append(g.adj[b], idx)
}

// NodeIDs returns all node IDs in sorted order.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, 0, len(g.Agents))
	for id := range g.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Incident returns the edges touching a node.
func (g *Graph) Incident(id string) []*Edge {
	idxs := g.adj[id]
	edges := make([]*Edge, 0, len(idxs))
	for _, i := range idxs {
		edges = append(edges, &g.Edges[i])
	}
	return edges
}

// Degree returns the number of edges touching a node.
func (g *Graph) Degree(id string) int {
	return len(g.adj[id])
}

// Neighbors returns the distinct neighbor IDs of a node, sorted.
func (g *Graph) Neighbors(id string) []string {
	seen := make(map[string]bool)
	for _, e := range g.Incident(id) {
		seen[e.Other(id)] = true
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// HasEdgeBetween reports whether any edge directly connects a and b.
func (g *Graph) HasEdgeBetween(a, b string) bool {
	for _, e := range g.Incident(a) {
		if e.Other(a) == b {
			return true
		}
	}
	return false
}
