// Package threat detects and correlates hostile activity patterns across
// platforms: behavioral bursts, supply-chain red flags, propagation networks
// and statistical anomalies, merged per agent into alert-grade signals.
package threat

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/LvcidPsyche/agent-intelligence-hub/internal/storage"
)

// Detector types and subtypes.
const (
	TypeBehavioral  = "behavioral"
	TypeSupplyChain = "supply_chain"
	TypeNetwork     = "network"
	TypeStatistical = "statistical"

	SubRapidPublication       = "rapid_publication"
	SubCredentialFindings     = "credential_findings"
	SubUnverifiedLowScore     = "unverified_low_score"
	SubRapidUpdate            = "rapid_update"
	SubPropagationBurst       = "propagation_burst"
	SubReputationFarming      = "reputation_farming"
	SubReputationManipulation = "reputation_manipulation"
	SubDownloadAnomaly        = "download_anomaly"
)

// Engagement-uniformity thresholds for the manipulation rule.
const (
	manipulationMinPosts = 5    // strictly more posts than this in the window
	manipulationMinMean  = 10.0 // mean engagement per post
	manipulationMaxCV    = 0.15 // stddev/mean below this is too uniform
)

// Finding is one raw detector hit, before correlation.
type Finding struct {
	Type        string
	Subtype     string
	AgentID     string
	ArtifactID  string
	Risk        float64
	Description string
	Evidence    string
}

// input is the shared data window all detectors read.
type input struct {
	agents    []storage.Agent
	posts     []storage.Post     // 30-day window
	artifacts []storage.Artifact // 30-day window
	findings  []storage.SecurityFinding
	now       int64
}

// behavioralDetector flags publication bursts and repeated credential
// findings from the content scanner.
func behavioralDetector(in *input) []Finding {
	var out []Finding

	weekAgo := in.now - 7*86400
	recentArtifacts := make(map[string]int)
	for i := range in.artifacts {
		if in.artifacts[i].CreatedAt >= weekAgo {
			recentArtifacts[in.artifacts[i].AuthorID]++
		}
	}
	for _, agent := range sortedKeys(recentArtifacts) {
		count := recentArtifacts[agent]
		if count <= 5 {
			continue
		}
		out = append(out, Finding{
			Type:        TypeBehavioral,
			Subtype:     SubRapidPublication,
			AgentID:     agent,
			Risk:        math.Min(0.9, 0.3+float64(count)*0.1),
			Description: fmt.Sprintf("%d artifacts published in 7 days", count),
			Evidence:    fmt.Sprintf(`{"count":%d}`, count),
		})
	}

	credential := make(map[string]int)
	for i := range in.findings {
		f := &in.findings[i]
		if f.AgentID == "" {
			continue
		}
		if strings.Contains(f.Type, "credential") || strings.Contains(f.Type, "environment") {
			credential[f.AgentID]++
		}
	}
	for _, agent := range sortedKeys(credential) {
		count := credential[agent]
		if count <= 2 {
			continue
		}
		out = append(out, Finding{
			Type:        TypeBehavioral,
			Subtype:     SubCredentialFindings,
			AgentID:     agent,
			Risk:        math.Min(1.0, 0.8+float64(count)*0.05),
			Description: fmt.Sprintf("%d credential or environment-access scanner findings in 30 days", count),
			Evidence:    fmt.Sprintf(`{"count":%d}`, count),
		})
	}
	return out
}

// supplyChainDetector flags unverified low-score artifacts and suspiciously
// fast post-publication updates. The low-score risk is raised further by
// scanner findings attached to the artifact, weighted by their severity.
func supplyChainDetector(in *input) []Finding {
	findingBoost := make(map[string]float64)
	findingCount := make(map[string]int)
	for i := range in.findings {
		f := &in.findings[i]
		if f.ArtifactID == "" {
			continue
		}
		boost := 0.05
		if f.Severity == storage.SeverityHigh || f.Severity == storage.SeverityCritical {
			boost = 0.1
		}
		findingBoost[f.ArtifactID] += boost
		findingCount[f.ArtifactID]++
	}

	var out []Finding
	for i := range in.artifacts {
		art := &in.artifacts[i]
		if !art.Verified && art.SecurityScore < 40 {
			out = append(out, Finding{
				Type:       TypeSupplyChain,
				Subtype:    SubUnverifiedLowScore,
				AgentID:    art.AuthorID,
				ArtifactID: art.ID,
				Risk:       math.Min(0.95, 0.5+(40-art.SecurityScore)/100+findingBoost[art.ID]),
				Description: fmt.Sprintf("unverified artifact %s with security score %.0f and %d scanner findings",
					art.Name, art.SecurityScore, findingCount[art.ID]),
				Evidence: fmt.Sprintf(`{"security_score":%.1f,"findings":%d}`, art.SecurityScore, findingCount[art.ID]),
			})
		}
		// An update landing within an hour of first publication suggests a
		// bait-and-switch payload swap.
		if art.LastUpdatedAt > art.CreatedAt && art.LastUpdatedAt-art.CreatedAt < 3600 {
			out = append(out, Finding{
				Type:        TypeSupplyChain,
				Subtype:     SubRapidUpdate,
				AgentID:     art.AuthorID,
				ArtifactID:  art.ID,
				Risk:        0.5,
				Description: fmt.Sprintf("artifact %s updated %ds after publication", art.Name, art.LastUpdatedAt-art.CreatedAt),
				Evidence:    fmt.Sprintf(`{"delay_seconds":%d}`, art.LastUpdatedAt-art.CreatedAt),
			})
		}
	}
	return out
}

// networkDetector flags propagation bursts (many artifacts crammed into few
// days), engagement too uniform to be organic, and reputation farming on
// fresh accounts.
func networkDetector(in *input) []Finding {
	var out []Finding

	days := make(map[string]map[int64]bool)
	counts := make(map[string]int)
	for i := range in.artifacts {
		art := &in.artifacts[i]
		if days[art.AuthorID] == nil {
			days[art.AuthorID] = make(map[int64]bool)
		}
		days[art.AuthorID][art.CreatedAt/86400] = true
		counts[art.AuthorID]++
	}
	for _, agent := range sortedKeys(counts) {
		if counts[agent] > 3 && len(days[agent]) < 5 {
			out = append(out, Finding{
				Type:        TypeNetwork,
				Subtype:     SubPropagationBurst,
				AgentID:     agent,
				Risk:        0.55,
				Description: fmt.Sprintf("%d artifacts across %d distinct days", counts[agent], len(days[agent])),
				Evidence:    fmt.Sprintf(`{"count":%d,"days":%d}`, counts[agent], len(days[agent])),
			})
		}
	}

	// High mean engagement with near-zero spread across a body of posts
	// reads as bought or botted votes, not an organic audience.
	engagement := make(map[string][]float64)
	for i := range in.posts {
		p := &in.posts[i]
		engagement[p.AuthorID] = append(engagement[p.AuthorID], float64(p.Upvotes+p.ReplyCount))
	}
	for _, agent := range sortedKeys(engagement) {
		samples := engagement[agent]
		if len(samples) <= manipulationMinPosts {
			continue
		}
		mean, stddev := meanStddev(samples)
		if mean < manipulationMinMean || stddev >= manipulationMaxCV*mean {
			continue
		}
		out = append(out, Finding{
			Type:        TypeNetwork,
			Subtype:     SubReputationManipulation,
			AgentID:     agent,
			Risk:        0.6,
			Description: fmt.Sprintf("engagement across %d posts is too uniform (mean %.1f, stddev %.1f)", len(samples), mean, stddev),
			Evidence:    fmt.Sprintf(`{"posts":%d,"mean":%.2f,"stddev":%.2f}`, len(samples), mean, stddev),
		})
	}

	for i := range in.agents {
		a := &in.agents[i]
		age := in.now - a.FirstSeen
		if a.Karma > 1000 && age < 7*86400 {
			out = append(out, Finding{
				Type:        TypeNetwork,
				Subtype:     SubReputationFarming,
				AgentID:     a.ID,
				Risk:        0.6,
				Description: fmt.Sprintf("karma %d on an account %d days old", a.Karma, age/86400),
				Evidence:    fmt.Sprintf(`{"karma":%d,"age_days":%d}`, a.Karma, age/86400),
			})
		}
	}
	return out
}

// statisticalDetector flags artifacts whose download counts sit more than
// three standard deviations above the 30-day mean.
func statisticalDetector(in *input) []Finding {
	if len(in.artifacts) < 3 {
		return nil
	}
	downloads := make([]float64, 0, len(in.artifacts))
	for i := range in.artifacts {
		downloads = append(downloads, float64(in.artifacts[i].DownloadCount))
	}
	mean, stddev := meanStddev(downloads)
	if stddev == 0 {
		return nil
	}
	cutoff := mean + 3*stddev

	var out []Finding
	for i := range in.artifacts {
		art := &in.artifacts[i]
		if float64(art.DownloadCount) <= cutoff {
			continue
		}
		out = append(out, Finding{
			Type:        TypeStatistical,
			Subtype:     SubDownloadAnomaly,
			AgentID:     art.AuthorID,
			ArtifactID:  art.ID,
			Risk:        0.65,
			Description: fmt.Sprintf("artifact %s downloads %d against mean %.0f", art.Name, art.DownloadCount, mean),
			Evidence:    fmt.Sprintf(`{"downloads":%d,"mean":%.1f,"stddev":%.1f}`, art.DownloadCount, mean, stddev),
		})
	}
	return out
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

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
