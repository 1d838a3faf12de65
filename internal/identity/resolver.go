package identity

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/google/uuid"

	"github.com/LvcidPsyche/agent-intelligence-hub/internal/config"
	"github.com/LvcidPsyche/agent-intelligence-hub/internal/storage"
)

// Confidence values assigned by the resolution phases.
const (
	exactNameConfidence  = 0.95
	maxFollowConfidence  = 0.85
	minMutualFollowees   = 3
	sockPuppetMinConf    = 0.7
	sockPuppetMinSize    = 3
	sockPuppetLargeSize  = 5
	sockPuppetMaxStddev  = 86400 // creation-time spread under one day
	maxProfileDepth      = 10
)

// Stats summarizes one resolution run.
type Stats struct {
	ExactLinks        int `json:"exact_links"`
	FuzzyLinks        int `json:"fuzzy_links"`
	FollowLinks       int `json:"follow_links"`
	BioLinks          int `json:"bio_links"`
	SockPuppetFlags   int `json:"sock_puppet_flags"`
	Profiles          int `json:"profiles"`
	ProfiledAgents    int `json:"profiled_agents"`
}

// Resolver computes cross-platform identity links and unified profiles.
// All state is per-run; a Resolver holds no running totals between runs.
type Resolver struct {
	db  *storage.DB
	cfg *config.Config
}

// NewResolver creates a resolver over the given store.
func NewResolver(db *storage.DB, cfg *config.Config) *Resolver {
	return &Resolver{db: db, cfg: cfg}
}

// run carries the per-run working state through the five phases.
type run struct {
	agents     []storage.Agent
	byPlatform map[string][]*storage.Agent
	byID       map[string]*storage.Agent
	linked     *bloom.BloomFilter // pairs with an existing link; phases skip these
	now        int64
}

// Resolve runs the five resolution phases in order, then rebuilds unified
// profiles. Link confidences are monotonically non-decreasing: the store
// keeps max(old, new) on every upsert, so re-resolving unchanged data is a
// no-op.
func (r *Resolver) Resolve(ctx context.Context) (*Stats, error) {
	agents, err := r.db.ListAgents()
	if err != nil {
		return nil, fmt.Errorf("resolve identities: %w", err)
	}
	links, err := r.db.ListIdentityLinks()
	if err != nil {
		return nil, fmt.Errorf("resolve identities: %w", err)
	}

	rn := &run{
		agents:     agents,
		byPlatform: make(map[string][]*storage.Agent),
		byID:       make(map[string]*storage.Agent, len(agents)),
		now:        time.Now().Unix(),
	}
	for i := range agents {
		a := &agents[i]
		rn.byPlatform[a.Platform] = append(rn.byPlatform[a.Platform], a)
		rn.byID[a.ID] = a
	}

	// Approximate membership over already-linked pairs. A false positive
	// only skips one comparison; the evidence is cumulative across runs, so
	// a later run recovers it. That trade keeps the skip check O(1) in
	// memory regardless of link count.
	rn.linked = bloom.NewWithEstimates(uint(len(links))+10_000, 0.001)
	for i := range links {
		rn.linked.Add(pairBytes(links[i].SourceID, links[i].TargetID))
	}

	stats := &Stats{}
	phases := []struct {
		name string
		fn   func(*run) (int, error)
		out  *int
	}{
		{"exact_name", r.exactNamePhase, &stats.ExactLinks},
		{"fuzzy_name", r.fuzzyNamePhase, &stats.FuzzyLinks},
		{"following_pattern", r.followingPatternPhase, &stats.FollowLinks},
		{"bio_metadata", r.bioMetadataPhase, &stats.BioLinks},
	}
	for _, p := range phases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := p.fn(rn)
		if err != nil {
			return nil, fmt.Errorf("phase %s: %w", p.name, err)
		}
		*p.out = n
	}

	flags, err := r.sockPuppetPhase(rn)
	if err != nil {
		return nil, fmt.Errorf("phase sock_puppet: %w", err)
	}
	stats.SockPuppetFlags = flags

	profiles, members, err := r.buildProfiles(rn)
	if err != nil {
		return nil, fmt.Errorf("build profiles: %w", err)
	}
	stats.Profiles = profiles
	stats.ProfiledAgents = members

	log.Printf("[identity] resolved links exact=%d fuzzy=%d follow=%d bio=%d, %d sock-puppet flags, %d profiles",
		stats.ExactLinks, stats.FuzzyLinks, stats.FollowLinks, stats.BioLinks,
		stats.SockPuppetFlags, stats.Profiles)
	return stats, nil
}

// link upserts a single identity link and marks the pair as linked for the
// remaining phases of this run.
func (r *Resolver) link(rn *run, a, b *storage.Agent, linkType string, confidence float64) (bool, error) {
	src, dst := a.ID, b.ID
	if dst < src {
		src, dst = dst, src
	}
	raised, err := r.db.UpsertIdentityLink(&storage.IdentityLink{
		SourceID:   src,
		TargetID:   dst,
		LinkType:   linkType,
		Confidence: confidence,
		UpdatedAt:  rn.now,
	})
	if err != nil {
		return false, err
	}
	rn.linked.Add(pairBytes(src, dst))
	return raised, nil
}

// crossPlatformPairs calls fn for every pair of agents on different
// platforms that has no existing link, in deterministic order.
func (rn *run) crossPlatformPairs(fn func(a, b *storage.Agent) error) error {
	platforms := make([]string, 0, len(rn.byPlatform))
	for p := range rn.byPlatform {
		platforms = append(platforms, p)
	}
	sort.Strings(platforms)

	for i := 0; i < len(platforms); i++ {
		for j := i + 1; j < len(platforms); j++ {
			for _, a := range rn.byPlatform[platforms[i]] {
				for _, b := range rn.byPlatform[platforms[j]] {
					if rn.linked.Test(pairBytes(a.ID, b.ID)) {
						continue
					}
					if err := fn(a, b); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// exactNamePhase links agents with case-insensitively identical display
// names on different platforms.
func (r *Resolver) exactNamePhase(rn *run) (int, error) {
	added := 0
	err := rn.crossPlatformPairs(func(a, b *storage.Agent) error {
		if a.DisplayName == "" {
			return nil
		}
		if !strings.EqualFold(a.DisplayName, b.DisplayName) {
			return nil
		}
		raised, err := r.link(rn, a, b, storage.LinkExactName, exactNameConfidence)
		if err != nil {
			return err
		}
		if raised {
			added++
		}
		return nil
	})
	return added, err
}

// fuzzyNamePhase links agents whose display names are close under
// normalized Levenshtein similarity.
func (r *Resolver) fuzzyNamePhase(rn *run) (int, error) {
	threshold := r.cfg.Identity.FuzzyNameThreshold
	added := 0
	err := rn.crossPlatformPairs(func(a, b *storage.Agent) error {
		if a.DisplayName == "" || b.DisplayName == "" {
			return nil
		}
		sim := Similarity(strings.ToLower(a.DisplayName), strings.ToLower(b.DisplayName))
		if sim < threshold {
			return nil
		}
		raised, err := r.link(rn, a, b, storage.LinkFuzzyName, sim)
		if err != nil {
			return err
		}
		if raised {
			added++
		}
		return nil
	})
	return added, err
}

// followingPatternPhase links agents whose followee sets overlap. Followees
// live on different platforms, so overlap is approximated by matching
// followee display names across the two platforms.
func (r *Resolver) followingPatternPhase(rn *run) (int, error) {
	followeeNames := make(map[string]map[string]bool) // agent ID -> followee name set

	namesFor := func(id string) (map[string]bool, error) {
		if set, ok := followeeNames[id]; ok {
			return set, nil
		}
		targets, err := r.db.ListFollowees(id)
		if err != nil {
			return nil, err
		}
		set := make(map[string]bool, len(targets))
		for _, t := range targets {
			if f, ok := rn.byID[t]; ok && f.DisplayName != "" {
				set[strings.ToLower(f.DisplayName)] = true
			}
		}
		followeeNames[id] = set
		return set, nil
	}

	added := 0
	err := rn.crossPlatformPairs(func(a, b *storage.Agent) error {
		setA, err := namesFor(a.ID)
		if err != nil {
			return err
		}
		if len(setA) < minMutualFollowees {
			return nil
		}
		setB, err := namesFor(b.ID)
		if err != nil {
			return err
		}
		mutual := 0
		for name := range setA {
			if setB[name] {
				mutual++
			}
		}
		if mutual < minMutualFollowees {
			return nil
		}
		confidence := math.Min(maxFollowConfidence, float64(mutual)/10)
		raised, err := r.link(rn, a, b, storage.LinkFollowingPattern, confidence)
		if err != nil {
			return err
		}
		if raised {
			added++
		}
		return nil
	})
	return added, err
}

// bioMetadataPhase links agents whose bios agree, combining whole-string
// similarity with keyword-set overlap.
func (r *Resolver) bioMetadataPhase(rn *run) (int, error) {
	threshold := r.cfg.Identity.BioMatchThreshold
	added := 0
	err := rn.crossPlatformPairs(func(a, b *storage.Agent) error {
		if a.Bio == "" || b.Bio == "" {
			return nil
		}
		stringSim := Similarity(strings.ToLower(a.Bio), strings.ToLower(b.Bio))
		keywordJaccard := Jaccard(Keywords(a.Bio), Keywords(b.Bio))
		confidence := math.Max(stringSim*0.6, keywordJaccard)
		if confidence <= threshold {
			return nil
		}
		raised, err := r.link(rn, a, b, storage.LinkBioMetadata, confidence)
		if err != nil {
			return err
		}
		if raised {
			added++
		}
		return nil
	})
	return added, err
}

// sockPuppetPhase flags clusters of confidently linked accounts created
// within a tight time window. Cluster size 5+ is high severity, 3-4 medium.
func (r *Resolver) sockPuppetPhase(rn *run) (int, error) {
	links, err := r.db.ListIdentityLinks()
	if err != nil {
		return 0, err
	}

	adj := make(map[string][]string)
	for i := range links {
		l := &links[i]
		if l.Confidence < sockPuppetMinConf {
			continue
		}
		adj[l.SourceID] = append(adj[l.SourceID], l.TargetID)
		adj[l.TargetID] = append(adj[l.TargetID], l.SourceID)
	}

	flagged := 0
	for _, cluster := range connectedComponents(adj, maxProfileDepth) {
		if len(cluster) < sockPuppetMinSize {
			continue
		}
		if creationStddev(cluster, rn.byID) >= sockPuppetMaxStddev {
			continue
		}
		// A stable cluster flags at most once per week, not once per run.
		recent, err := r.db.ListThreatSignalsForAgentSince(cluster[0], rn.now-7*86400)
		if err != nil {
			return flagged, err
		}
		already := false
		for i := range recent {
			if recent[i].Type == "sock_puppet_network" {
				already = true
				break
			}
		}
		if already {
			continue
		}

		severity := storage.SeverityMedium
		risk := 0.65
		if len(cluster) >= sockPuppetLargeSize {
			severity = storage.SeverityHigh
			risk = 0.8
		}
		signal := &storage.ThreatSignal{
			ID:       uuid.New().String(),
			Type:     "sock_puppet_network",
			Subtype:  "identity",
			AgentID:  cluster[0], // canonical member
			Risk:     risk,
			Boost:    1.0,
			Severity: severity,
			Description: fmt.Sprintf("%d linked accounts created within a narrow window", len(cluster)),
			Evidence:    fmt.Sprintf(`{"members":%d,"accounts":%q}`, len(cluster), strings.Join(cluster, ",")),
			CreatedAt:   rn.now,
		}
		if err := r.db.InsertThreatSignal(signal); err != nil {
			return flagged, err
		}
		flagged++
	}
	return flagged, nil
}

// creationStddev returns the population standard deviation of the cluster
// members' first-seen timestamps, in seconds.
func creationStddev(cluster []string, byID map[string]*storage.Agent) float64 {
	var times []float64
	for _, id := range cluster {
		if a, ok := byID[id]; ok {
			times = append(times, float64(a.FirstSeen))
		}
	}
	if len(times) < 2 {
		return math.Inf(1)
	}
	var mean float64
	for _, t := range times {
		mean += t
	}
	mean /= float64(len(times))
	var variance float64
	for _, t := range times {
		variance += (t - mean) * (t - mean)
	}
	variance /= float64(len(times))
	return math.Sqrt(variance)
}

func pairBytes(a, b string) []byte {
	if b < a {
		a, b = b, a
	}
	return []byte(a + "|" + b)
}
