package network

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/LvcidPsyche/agent-intelligence-hub/internal/graph"
	"github.com/LvcidPsyche/agent-intelligence-hub/internal/storage"
)

// Coordination event types.
const (
	EventSynchronizedActivity = "synchronized_activity"
	EventAmplificationCluster = "amplification_cluster"
	EventCoordinatedRelease   = "coordinated_release"
)

const (
	pearsonThreshold     = 0.8
	minOverlapHours      = 5
	amplificationDegree  = 5
	amplificationShare   = 0.7
	releasePairWindow    = 2 * 3600
	minCoordinatedPairs  = 2
	coordinationRisk     = 0.65
)

// CoordinationEvent is one detected coordination pattern between agents.
type CoordinationEvent struct {
	Type   string   `json:"type"`
	Agents []string `json:"agents"`
	Score  float64  `json:"score"`
	Detail string   `json:"detail"`
}

// detectCoordination runs the three coordination detectors and persists
// each event as a medium-severity threat signal, at most once per week per
// lead agent and pattern.
func (a *Analyzer) detectCoordination(ctx context.Context, g *graph.Graph, now time.Time) ([]CoordinationEvent, error) {
	since := now.AddDate(0, 0, -a.cfg.Graph.WindowDays).Unix()
	releaseSince := now.AddDate(0, 0, -a.cfg.Graph.ArtifactWindowDays).Unix()

	posts, err := a.db.ListPostsSince(since)
	if err != nil {
		return nil, err
	}
	artifacts, err := a.db.ListArtifactsSince(releaseSince)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var events []CoordinationEvent
	events = append(events, a.synchronizedActivity(g, posts, artifacts, since)...)
	events = append(events, a.amplificationClusters(g)...)
	events = append(events, a.coordinatedReleases(artifacts)...)

	for i := range events {
		if events[i].Score <= a.cfg.Threat.PersistThreshold {
			continue
		}
		if err := a.persistEvent(&events[i], now); err != nil {
			return nil, err
		}
	}
	return events, nil
}

func (a *Analyzer) persistEvent(ev *CoordinationEvent, now time.Time) error {
	lead := ev.Agents[0]
	recent, err := a.db.ListThreatSignalsForAgentSince(lead, now.Unix()-7*86400)
	if err != nil {
		return err
	}
	for i := range recent {
		if recent[i].Type == "coordination_pattern" && recent[i].Subtype == ev.Type {
			return nil
		}
	}
	return a.db.InsertThreatSignal(&storage.ThreatSignal{
		ID:          uuid.New().String(),
		Type:        "coordination_pattern",
		Subtype:     ev.Type,
		AgentID:     lead,
		Risk:        ev.Score,
		Boost:       1.0,
		Severity:    storage.SeverityMedium,
		Description: ev.Detail,
		Evidence:    fmt.Sprintf(`{"agents":%q}`, strings.Join(ev.Agents, ",")),
		CreatedAt:   now.Unix(),
	})
}

// synchronizedActivity flags connected pairs whose hourly activity series
// correlate strongly. Only pairs already joined by an edge are tested, which
// keeps the pass linear in edge count.
func (a *Analyzer) synchronizedActivity(g *graph.Graph, posts []storage.Post, artifacts []storage.Artifact, since int64) []CoordinationEvent {
	hourly := make(map[string]map[int64]float64) // agent -> hour bucket -> count
	record := func(author string, ts int64) {
		if ts < since {
			return
		}
		if hourly[author] == nil {
			hourly[author] = make(map[int64]float64)
		}
		hourly[author][ts-ts%3600]++
	}
	for i := range posts {
		record(posts[i].AuthorID, posts[i].CreatedAt)
	}
	for i := range artifacts {
		record(artifacts[i].AuthorID, artifacts[i].CreatedAt)
	}

	tested := make(map[[2]string]bool)
	var events []CoordinationEvent
	for i := range g.Edges {
		e := &g.Edges[i]
		key := [2]string{e.A, e.B}
		if tested[key] {
			continue
		}
		tested[key] = true

		r, overlap := pearson(hourly[e.A], hourly[e.B])
		if overlap <= minOverlapHours || r <= pearsonThreshold {
			continue
		}
		events = append(events, CoordinationEvent{
			Type:   EventSynchronizedActivity,
			Agents: []string{e.A, e.B},
			Score:  coordinationRisk,
			Detail: fmt.Sprintf("hourly activity correlation %.2f over %d shared hours", r, overlap),
		})
	}
	return events
}

// pearson computes the correlation of two sparse hourly series over the
// union of their active hours, and the number of hours active in both.
func pearson(a, b map[int64]float64) (float64, int) {
	hours := make(map[int64]bool, len(a)+len(b))
	for h := range a {
		hours[h] = true
	}
	for h := range b {
		hours[h] = true
	}
	n := len(hours)
	if n < 2 {
		return 0, 0
	}

	var sumA, sumB float64
	overlap := 0
	for h := range hours {
		sumA += a[h]
		sumB += b[h]
		if a[h] > 0 && b[h] > 0 {
			overlap++
		}
	}
	meanA, meanB := sumA/float64(n), sumB/float64(n)

	var cov, varA, varB float64
	for h := range hours {
		da, db := a[h]-meanA, b[h]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0, overlap
	}
	return cov / math.Sqrt(varA*varB), overlap
}

// amplificationClusters flags well-connected agents most of whose edges sit
// far above the network's mean edge weight: a hub pushing weight into a
// small set of favored connections.
func (a *Analyzer) amplificationClusters(g *graph.Graph) []CoordinationEvent {
	if len(g.Edges) == 0 {
		return nil
	}
	var total float64
	for i := range g.Edges {
		total += g.Edges[i].Weight
	}
	heavy := 1.5 * total / float64(len(g.Edges))

	var events []CoordinationEvent
	for _, id := range g.NodeIDs() {
		incident := g.Incident(id)
		if len(incident) <= amplificationDegree {
			continue
		}
		heavyCount := 0
		for _, e := range incident {
			if e.Weight > heavy {
				heavyCount++
			}
		}
		share := float64(heavyCount) / float64(len(incident))
		if share < amplificationShare {
			continue
		}
		events = append(events, CoordinationEvent{
			Type:   EventAmplificationCluster,
			Agents: append([]string{id}, g.Neighbors(id)...),
			Score:  coordinationRisk,
			Detail: fmt.Sprintf("%d of %d edges above 1.5x average weight", heavyCount, len(incident)),
		})
	}
	return events
}

// coordinatedReleases flags author pairs repeatedly publishing artifacts
// within two hours of each other.
func (a *Analyzer) coordinatedReleases(artifacts []storage.Artifact) []CoordinationEvent {
	byAuthor := make(map[string][]int64)
	for i := range artifacts {
		byAuthor[artifacts[i].AuthorID] = append(byAuthor[artifacts[i].AuthorID], artifacts[i].CreatedAt)
	}
	authors := make([]string, 0, len(byAuthor))
	for id := range byAuthor {
		sort.Slice(byAuthor[id], func(i, j int) bool { return byAuthor[id][i] < byAuthor[id][j] })
		authors = append(authors, id)
	}
	sort.Strings(authors)

	var events []CoordinationEvent
	for i := 0; i < len(authors); i++ {
		for j := i + 1; j < len(authors); j++ {
			pairs := closeReleases(byAuthor[authors[i]], byAuthor[authors[j]])
			if pairs <= minCoordinatedPairs {
				continue
			}
			events = append(events, CoordinationEvent{
				Type:   EventCoordinatedRelease,
				Agents: []string{authors[i], authors[j]},
				Score:  coordinationRisk,
				Detail: fmt.Sprintf("%d artifact releases within two hours of each other", pairs),
			})
		}
	}
	return events
}

// closeReleases counts timestamps in a with a counterpart in b inside the
// release window. Both inputs are sorted.
func closeReleases(a, b []int64) int {
	count, j := 0, 0
	for _, ta := range a {
		for j < len(b) && b[j] < ta-releasePairWindow {
			j++
		}
		if j < len(b) && b[j] <= ta+releasePairWindow {
			count++
		}
	}
	return count
}
