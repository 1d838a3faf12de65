// Package reputation computes per-agent trust scores. Each category scores
// 0-100 from one evidence axis; the composite is a fixed weighted blend, so
// an agent strong on a single axis cannot dominate the ranking.
package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/LvcidPsyche/agent-intelligence-hub/internal/config"
	"github.com/LvcidPsyche/agent-intelligence-hub/internal/storage"
)

// Composite blend weights. They sum to 1.0.
var compositeWeights = map[string]float64{
	storage.ScoreSocial:        0.20,
	storage.ScoreRegistry:      0.20,
	storage.ScoreCrossPlatform: 0.10,
	storage.ScoreEngagement:    0.25,
	storage.ScoreSecurity:      0.20,
	storage.ScoreLongevity:     0.05,
}

// Severity penalties applied to the security score per signal in the
// 90-day window.
var severityPenalty = map[string]float64{
	storage.SeverityCritical: 30,
	storage.SeverityHigh:     15,
	storage.SeverityMedium:   5,
	storage.SeverityLow:      2,
}

// Engine computes and persists reputation scores.
type Engine struct {
	db  *storage.DB
	cfg *config.Config
}

// NewEngine creates a scoring engine over the given store.
func NewEngine(db *storage.DB, cfg *config.Config) *Engine {
	return &Engine{db: db, cfg: cfg}
}

// Stats summarizes one scoring run.
type Stats struct {
	Agents int `json:"agents"`
	Scores int `json:"scores"`
}

// evidence is the pre-grouped data one scoring pass reads.
type evidence struct {
	posts     map[string][]*storage.Post     // author -> 30-day posts
	artifacts map[string][]*storage.Artifact // author -> all artifacts
	signals   map[string][]*storage.ThreatSignal
	profiles  map[string]*storage.ProfileMember
	linkConf  map[string][]float64 // member -> confidences of its links
	now       int64
}

// Run scores every known agent across all categories and upserts the
// results. Scores are recomputed from scratch: the engine keeps no state
// between runs.
func (e *Engine) Run(ctx context.Context, now time.Time) (*Stats, error) {
	agents, err := e.db.ListAgents()
	if err != nil {
		return nil, fmt.Errorf("score reputation: %w", err)
	}
	ev, err := e.loadEvidence(now)
	if err != nil {
		return nil, fmt.Errorf("score reputation: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats := &Stats{Agents: len(agents)}
	for i := range agents {
		scores := e.scoreAgent(&agents[i], ev)
		for category, s := range scores {
			factors, _ := json.Marshal(s.factors)
			err := e.db.UpsertReputationScore(&storage.ReputationScore{
				AgentID:   agents[i].ID,
				Category:  category,
				Score:     s.value,
				Factors:   string(factors),
				UpdatedAt: ev.now,
			})
			if err != nil {
				return nil, fmt.Errorf("persist score %s/%s: %w", agents[i].ID, category, err)
			}
			stats.Scores++
		}
	}

	log.Printf("[reputation] scored %d agents, %d score rows", stats.Agents, stats.Scores)
	return stats, nil
}

func (e *Engine) loadEvidence(now time.Time) (*evidence, error) {
	ev := &evidence{
		posts:     make(map[string][]*storage.Post),
		artifacts: make(map[string][]*storage.Artifact),
		signals:   make(map[string][]*storage.ThreatSignal),
		profiles:  make(map[string]*storage.ProfileMember),
		linkConf:  make(map[string][]float64),
		now:       now.Unix(),
	}

	posts, err := e.db.ListPostsSince(now.AddDate(0, 0, -30).Unix())
	if err != nil {
		return nil, err
	}
	for i := range posts {
		ev.posts[posts[i].AuthorID] = append(ev.posts[posts[i].AuthorID], &posts[i])
	}

	artifacts, err := e.db.ListArtifactsSince(0)
	if err != nil {
		return nil, err
	}
	for i := range artifacts {
		ev.artifacts[artifacts[i].AuthorID] = append(ev.artifacts[artifacts[i].AuthorID], &artifacts[i])
	}

	signals, err := e.db.ListThreatSignalsSince(now.AddDate(0, 0, -90).Unix())
	if err != nil {
		return nil, err
	}
	for i := range signals {
		if signals[i].AgentID != "" {
			ev.signals[signals[i].AgentID] = append(ev.signals[signals[i].AgentID], &signals[i])
		}
	}

	members, err := e.db.ListUnifiedProfiles()
	if err != nil {
		return nil, err
	}
	for i := range members {
		ev.profiles[members[i].MemberID] = &members[i]
	}

	links, err := e.db.ListIdentityLinks()
	if err != nil {
		return nil, err
	}
	for i := range links {
		ev.linkConf[links[i].SourceID] = append(ev.linkConf[links[i].SourceID], links[i].Confidence)
		ev.linkConf[links[i].TargetID] = append(ev.linkConf[links[i].TargetID], links[i].Confidence)
	}
	return ev, nil
}

type score struct {
	value   float64
	factors map[string]float64
}

func (e *Engine) scoreAgent(a *storage.Agent, ev *evidence) map[string]score {
	scores := map[string]score{
		storage.ScoreSocial:        socialScore(a, ev),
		storage.ScoreRegistry:      registryScore(a, ev),
		storage.ScoreCrossPlatform: crossPlatformScore(a, ev),
		storage.ScoreEngagement:    engagementScore(a, ev),
		storage.ScoreSecurity:      securityScore(a, ev),
		storage.ScoreLongevity:     longevityScore(a, ev),
	}

	composite := 0.0
	factors := make(map[string]float64, len(scores))
	for category, s := range scores {
		composite += compositeWeights[category] * s.value
		factors[category] = s.value
	}
	scores[storage.ScoreComposite] = score{value: clamp(composite), factors: factors}
	return scores
}

// socialScore blends log-scaled karma with recent posting volume and
// follower count.
func socialScore(a *storage.Agent, ev *evidence) score {
	karma := math.Min(100, 20*math.Log10(float64(max64(a.Karma, 0))+1))
	posting := math.Min(100, 4*float64(len(ev.posts[a.ID])))
	followers := math.Min(100, float64(a.FollowerCount))
	return score{
		value: clamp(0.5*karma + 0.3*posting + 0.2*followers),
		factors: map[string]float64{
			"karma": karma, "posting": posting, "followers": followers,
		},
	}
}

// registryScore blends average scanner score, verified share and log-scaled
// downloads across the agent's artifacts. No artifacts scores zero.
func registryScore(a *storage.Agent, ev *evidence) score {
	arts := ev.artifacts[a.ID]
	if len(arts) == 0 {
		return score{value: 0, factors: map[string]float64{"artifacts": 0}}
	}
	var avgSecurity, verified float64
	var downloads int64
	for _, art := range arts {
		avgSecurity += art.SecurityScore
		if art.Verified {
			verified++
		}
		downloads += art.DownloadCount
	}
	avgSecurity /= float64(len(arts))
	verifiedShare := verified / float64(len(arts))
	downloadScore := math.Min(100, 20*math.Log10(float64(downloads)+1))
	return score{
		value: clamp(0.4*avgSecurity + 40*verifiedShare + 0.2*downloadScore),
		factors: map[string]float64{
			"artifacts": float64(len(arts)), "avg_security": avgSecurity,
			"verified_share": verifiedShare, "downloads": downloadScore,
		},
	}
}

// crossPlatformScore rewards resolved cross-platform presence: a profile
// membership seeds 50, average link confidence and extra members add the
// rest. Agents with no resolved profile score zero.
func crossPlatformScore(a *storage.Agent, ev *evidence) score {
	m := ev.profiles[a.ID]
	if m == nil {
		return score{value: 0, factors: map[string]float64{"profile_members": 0}}
	}
	var avgConf float64
	if confs := ev.linkConf[a.ID]; len(confs) > 0 {
		for _, c := range confs {
			avgConf += c
		}
		avgConf /= float64(len(confs))
	}
	return score{
		value: clamp(50 + 25*avgConf + 5*float64(m.MemberCount-2)),
		factors: map[string]float64{
			"profile_members": float64(m.MemberCount), "avg_link_confidence": avgConf,
		},
	}
}

// engagementScore blends the 30-day upvote ratio (0-40) with reply volume
// (0-25), average content length (0-15), cross-platform presence (0 or 10)
// and engagement consistency (0-10). No recent posts scores zero.
func engagementScore(a *storage.Agent, ev *evidence) score {
	posts := ev.posts[a.ID]
	if len(posts) == 0 {
		return score{value: 0, factors: map[string]float64{"posts": 0}}
	}
	var up, down, replies, length float64
	engagement := make([]float64, 0, len(posts))
	for _, p := range posts {
		up += float64(p.Upvotes)
		down += float64(p.Downvotes)
		replies += float64(p.ReplyCount)
		length += float64(len(p.Content))
		engagement = append(engagement, float64(p.Upvotes+p.ReplyCount))
	}
	ratio := 0.0
	if up+down > 0 {
		ratio = up / (up + down)
	}
	ratioTerm := 40 * ratio
	replyTerm := math.Min(25, 2.5*replies/float64(len(posts)))
	lengthTerm := math.Min(15, length/float64(len(posts))/20)

	crossTerm := 0.0
	if ev.profiles[a.ID] != nil {
		crossTerm = 10
	}

	// A steady engagement level across posts earns the consistency band; a
	// coefficient of variation at or past 1 earns none of it.
	mean, stddev := meanStddev(engagement)
	consistencyTerm := 0.0
	if mean > 0 {
		consistencyTerm = 10 * (1 - math.Min(1, stddev/mean))
	}

	return score{
		value: clamp(ratioTerm + replyTerm + lengthTerm + crossTerm + consistencyTerm),
		factors: map[string]float64{
			"posts": float64(len(posts)), "upvote_ratio": ratio,
			"replies": replyTerm, "content_length": lengthTerm,
			"cross_platform": crossTerm, "consistency": consistencyTerm,
		},
	}
}

// securityScore starts at 100 and subtracts a severity-dependent penalty
// per threat signal in the 90-day window.
func securityScore(a *storage.Agent, ev *evidence) score {
	value := 100.0
	counts := make(map[string]float64)
	for _, s := range ev.signals[a.ID] {
		value -= severityPenalty[s.Severity]
		counts[s.Severity]++
	}
	counts["signals"] = float64(len(ev.signals[a.ID]))
	return score{value: clamp(value), factors: counts}
}

// longevityScore awards tiered points for account age (0-50), the share of
// the account's life it stayed active (0-30) and how recently it was last
// seen (0-20).
func longevityScore(a *storage.Agent, ev *evidence) score {
	age := ev.now - a.FirstSeen
	if age < 0 {
		age = 0
	}
	ageDays := float64(age) / 86400

	ageTier := 5.0
	switch {
	case ageDays >= 365:
		ageTier = 50
	case ageDays >= 180:
		ageTier = 40
	case ageDays >= 90:
		ageTier = 30
	case ageDays >= 30:
		ageTier = 20
	case ageDays >= 7:
		ageTier = 10
	}

	ratio := 0.0
	if age > 0 && a.LastSeen > a.FirstSeen {
		ratio = float64(a.LastSeen-a.FirstSeen) / float64(age)
	}
	consistencyTier := 0.0
	switch {
	case ratio >= 0.75:
		consistencyTier = 30
	case ratio >= 0.5:
		consistencyTier = 20
	case ratio >= 0.25:
		consistencyTier = 10
	}

	recencyDays := float64(ev.now-a.LastSeen) / 86400
	recencyTier := 0.0
	switch {
	case recencyDays <= 7:
		recencyTier = 20
	case recencyDays <= 30:
		recencyTier = 10
	case recencyDays <= 90:
		recencyTier = 5
	}

	return score{
		value: clamp(ageTier + consistencyTier + recencyTier),
		factors: map[string]float64{
			"age_days": ageDays, "age_tier": ageTier,
			"consistency_ratio": ratio, "consistency_tier": consistencyTier,
			"recency_days": recencyDays, "recency_tier": recencyTier,
		},
	}
}

// Leaderboard returns the top agents by composite score, at most limit.
func (e *Engine) Leaderboard(limit int) ([]storage.ReputationScore, error) {
	scores, err := e.db.ListReputationScores(storage.ScoreComposite)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	if len(scores) > limit {
		scores = scores[:limit]
	}
	return scores, nil
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

// meanStddev returns the mean and population standard deviation of a sample.
func meanStddev(samples []float64) (float64, float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	mean := sum / float64(len(samples))
	var variance float64
	for _, s := range samples {
		d := s - mean
		variance += d * d
	}
	return mean, math.Sqrt(variance / float64(len(samples)))
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
