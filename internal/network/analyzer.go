// Package network analyzes the interaction graph: community structure,
// per-agent influence and position, coordination patterns, and whole-network
// health metrics.
package network

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/LvcidPsyche/agent-intelligence-hub/internal/config"
	"github.com/LvcidPsyche/agent-intelligence-hub/internal/graph"
	"github.com/LvcidPsyche/agent-intelligence-hub/internal/storage"
)

// Network positions assigned to agents by influence analysis.
const (
	PositionHub        = "hub"
	PositionBridge     = "bridge"
	PositionConnector  = "connector"
	PositionPeripheral = "peripheral"
)

// Community is a connected cluster of agents over strong edges.
type Community struct {
	ID           int      `json:"id"`
	Members      []string `json:"members"`
	Density      float64  `json:"density"`
	TotalWeight  float64  `json:"total_weight"`
	DominantType string   `json:"dominant_edge_type"`
}

// Influence is one agent's influence breakdown. Score is in [0, 1].
type Influence struct {
	AgentID        string  `json:"agent_id"`
	Score          float64 `json:"score"`
	DegreeTerm     float64 `json:"degree_term"`
	WeightTerm     float64 `json:"weight_term"`
	BridgeTerm     float64 `json:"bridge_term"`
	ReputationTerm float64 `json:"reputation_term"`
	Position       string  `json:"position"`
}

// Health summarizes structural properties of the whole graph, each in [0, 1].
type Health struct {
	Decentralization float64 `json:"decentralization"`
	Diversity        float64 `json:"diversity"`
	Resilience       float64 `json:"resilience"`
	ActivityGini     float64 `json:"activity_gini"`
}

// InformationFlow names the nodes downstream trust-weighting cares about:
// heavily connected hubs and multi-evidence bridges.
type InformationFlow struct {
	Hubs    []string `json:"hubs"` // more than 8 connections
	Bridges []string `json:"bridges"`
}

// Analysis is the full output of one analyzer run.
type Analysis struct {
	Communities []Community         `json:"communities"`
	Influence   []Influence         `json:"influence"`
	Events      []CoordinationEvent `json:"coordination_events"`
	Flow        InformationFlow     `json:"information_flow"`
	Health      Health              `json:"health"`
	GeneratedAt int64               `json:"generated_at"`
}

// Analyzer runs structural analysis over a built graph.
type Analyzer struct {
	db  *storage.DB
	cfg *config.Config
}

// NewAnalyzer creates an analyzer over the given store.
func NewAnalyzer(db *storage.DB, cfg *config.Config) *Analyzer {
	return &Analyzer{db: db, cfg: cfg}
}

// Analyze computes communities, influence, coordination events and health
// for the given graph. Coordination events above the persistence threshold
// are also recorded as threat signals.
func (a *Analyzer) Analyze(ctx context.Context, g *graph.Graph, now time.Time) (*Analysis, error) {
	out := &Analysis{GeneratedAt: now.Unix()}
	out.Communities = a.communities(g)
	out.Influence = a.influence(g)

	events, err := a.detectCoordination(ctx, g, now)
	if err != nil {
		return nil, fmt.Errorf("detect coordination: %w", err)
	}
	out.Events = events
	out.Flow = informationFlow(g)
	out.Health = a.health(g, len(out.Communities))

	log.Printf("[network] analyzed %d nodes: %d communities, %d coordination events",
		len(g.Agents), len(out.Communities), len(out.Events))
	return out, nil
}

// communities finds connected components over edges stronger than the
// configured community threshold. Singletons are not communities.
func (a *Analyzer) communities(g *graph.Graph) []Community {
	threshold := a.cfg.Graph.CommunityEdgeWeight

	adj := make(map[string]map[string]bool)
	for i := range g.Edges {
		e := &g.Edges[i]
		if e.Weight <= threshold {
			continue
		}
		if adj[e.A] == nil {
			adj[e.A] = make(map[string]bool)
		}
		if adj[e.B] == nil {
			adj[e.B] = make(map[string]bool)
		}
		adj[e.A][e.B] = true
		adj[e.B][e.A] = true
	}

	seeds := make([]string, 0, len(adj))
	for id := range adj {
		seeds = append(seeds, id)
	}
	sort.Strings(seeds)

	visited := make(map[string]bool)
	var communities []Community
	for _, seed := range seeds {
		if visited[seed] {
			continue
		}
		members := []string{}
		queue := []string{seed}
		visited[seed] = true
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			members = append(members, id)
			for _, nb := range sortedBoolKeys(adj[id]) {
				if !visited[nb] {
					visited[nb] = true
					queue = append(queue, nb)
				}
			}
		}
		if len(members) < 2 {
			continue
		}
		sort.Strings(members)
		communities = append(communities, a.describeCommunity(g, len(communities)+1, members, threshold))
	}
	return communities
}

// describeCommunity computes density, total weight and the dominant edge
// type for one member set.
func (a *Analyzer) describeCommunity(g *graph.Graph, id int, members []string, threshold float64) Community {
	inSet := make(map[string]bool, len(members))
	for _, m := range members {
		inSet[m] = true
	}

	pairs := make(map[[2]string]bool)
	typeCounts := make(map[string]int)
	var total float64
	for i := range g.Edges {
		e := &g.Edges[i]
		if e.Weight <= threshold || !inSet[e.A] || !inSet[e.B] {
			continue
		}
		pairs[[2]string{e.A, e.B}] = true
		typeCounts[string(e.Type)]++
		total += e.Weight
	}

	n := len(members)
	possible := n * (n - 1) / 2
	density := 0.0
	if possible > 0 {
		density = float64(len(pairs)) / float64(possible)
	}

	dominant := ""
	best := 0
	for _, t := range sortedIntKeys(typeCounts) {
		if typeCounts[t] > best {
			best = typeCounts[t]
			dominant = t
		}
	}

	return Community{
		ID:           id,
		Members:      members,
		Density:      density,
		TotalWeight:  total,
		DominantType: dominant,
	}
}

// influence scores every node. The score combines normalized degree,
// normalized weighted degree, a betweenness proxy (share of neighbor pairs
// not directly connected), and a normalized influence term
// (reputation + 0.1 * weighted degree), weighted 0.2/0.3/0.2/0.3 and
// clamped to [0, 1].
func (a *Analyzer) influence(g *graph.Graph) []Influence {
	ids := g.NodeIDs()
	if len(ids) == 0 {
		return nil
	}

	var maxDegree, maxRep float64
	maxWeighted := 0.0
	weighted := make(map[string]float64, len(ids))
	reputation := make(map[string]float64, len(ids))
	for _, id := range ids {
		var w float64
		for _, e := range g.Incident(id) {
			w += e.Weight
		}
		weighted[id] = w
		if w > maxWeighted {
			maxWeighted = w
		}
		if d := float64(g.Degree(id)); d > maxDegree {
			maxDegree = d
		}
		reputation[id] = float64(g.Agents[id].Karma) + 0.1*w
		if reputation[id] > maxRep {
			maxRep = reputation[id]
		}
	}

	norm := func(v, max float64) float64 {
		if max == 0 {
			return 0
		}
		return v / max
	}

	out := make([]Influence, 0, len(ids))
	for _, id := range ids {
		inf := Influence{
			AgentID:        id,
			DegreeTerm:     norm(float64(g.Degree(id)), maxDegree),
			WeightTerm:     norm(weighted[id], maxWeighted),
			BridgeTerm:     bridgeProxy(g, id),
			ReputationTerm: norm(reputation[id], maxRep),
		}
		score := 0.2*inf.DegreeTerm + 0.3*inf.WeightTerm + 0.2*inf.BridgeTerm + 0.3*inf.ReputationTerm
		inf.Score = math.Max(0, math.Min(1, score))
		inf.Position = position(g, id)
		out = append(out, inf)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out
}

// bridgeProxy approximates betweenness as the fraction of a node's neighbor
// pairs that have no direct edge between them: an exact computation is not
// worth its cost at this scale.
func bridgeProxy(g *graph.Graph, id string) float64 {
	neighbors := g.Neighbors(id)
	if len(neighbors) < 2 {
		return 0
	}
	unconnected, pairs := 0, 0
	for i := 0; i < len(neighbors); i++ {
		for j := i + 1; j < len(neighbors); j++ {
			pairs++
			if !g.HasEdgeBetween(neighbors[i], neighbors[j]) {
				unconnected++
			}
		}
	}
	return float64(unconnected) / float64(pairs)
}

// position classifies a node: three or more distinct incident edge types
// make a bridge, then degree thresholds make hubs and connectors.
func position(g *graph.Graph, id string) string {
	types := make(map[graph.EdgeType]bool)
	for _, e := range g.Incident(id) {
		types[e.Type] = true
	}
	degree := g.Degree(id)
	switch {
	case len(types) >= 3:
		return PositionBridge
	case degree > 10:
		return PositionHub
	case degree > 5:
		return PositionConnector
	default:
		return PositionPeripheral
	}
}

// informationFlow collects hubs (degree over 8) and bridge-positioned nodes.
func informationFlow(g *graph.Graph) InformationFlow {
	flow := InformationFlow{Hubs: []string{}, Bridges: []string{}}
	for _, id := range g.NodeIDs() {
		if g.Degree(id) > 8 {
			flow.Hubs = append(flow.Hubs, id)
		}
		if position(g, id) == PositionBridge {
			flow.Bridges = append(flow.Bridges, id)
		}
	}
	return flow
}

// health computes whole-graph structural metrics.
func (a *Analyzer) health(g *graph.Graph, communityCount int) Health {
	ids := g.NodeIDs()
	n := len(ids)
	if n == 0 {
		return Health{}
	}

	weighted := make([]float64, 0, n)
	var total float64
	for _, id := range ids {
		var w float64
		for _, e := range g.Incident(id) {
			w += e.Weight
		}
		weighted = append(weighted, w)
		total += w
	}
	sort.Float64s(weighted)

	// Decentralization: 1 minus the weighted-degree share of the top 10%
	// of nodes (at least one node).
	topCount := n / 10
	if topCount < 1 {
		topCount = 1
	}
	var topShare float64
	if total > 0 {
		var top float64
		for i := n - topCount; i < n; i++ {
			top += weighted[i]
		}
		topShare = top / total
	}

	avgDegree := 0.0
	for _, id := range ids {
		avgDegree += float64(g.Degree(id))
	}
	avgDegree /= float64(n)

	return Health{
		Decentralization: 1 - topShare,
		Diversity:        math.Min(1, float64(communityCount)/math.Sqrt(float64(n))),
		Resilience:       math.Min(1, avgDegree/10),
		ActivityGini:     gini(weighted),
	}
}

// gini computes the Gini coefficient of a sorted non-negative sample.
func gini(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	var sum, weightedSum float64
	for i, v := range sorted {
		sum += v
		weightedSum += float64(i+1) * v
	}
	if sum == 0 {
		return 0
	}
	return (2*weightedSum)/(float64(n)*sum) - float64(n+1)/float64(n)
}

func sortedBoolKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedIntKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
