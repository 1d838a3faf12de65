package threat

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/LvcidPsyche/agent-intelligence-hub/internal/config"
	"github.com/LvcidPsyche/agent-intelligence-hub/internal/storage"
)

// Correlator runs the detectors over the activity window and merges their
// findings per agent before persisting alert-grade signals.
type Correlator struct {
	db  *storage.DB
	cfg *config.Config
}

// NewCorrelator creates a correlator over the given store.
func NewCorrelator(db *storage.DB, cfg *config.Config) *Correlator {
	return &Correlator{db: db, cfg: cfg}
}

// Stats summarizes one correlation run. Findings carries every correlated
// finding of the run, persisted or not, for the landscape summary.
type Stats struct {
	RawFindings int                 `json:"raw_findings"`
	Persisted   int                 `json:"persisted"`
	Suppressed  int                 `json:"suppressed"` // below threshold or deduplicated
	Findings    []CorrelatedFinding `json:"-"`
}

// Run executes all detectors, correlates findings per agent and persists
// the signals that clear the risk threshold. Multiple independent findings
// against the same agent boost each other: risk is multiplied by
// 1 + 0.2*(n-1), capped at 1.0.
func (c *Correlator) Run(ctx context.Context, now time.Time) (*Stats, error) {
	monthAgo := now.AddDate(0, 0, -30).Unix()

	agents, err := c.db.ListAgents()
	if err != nil {
		return nil, fmt.Errorf("correlate threats: %w", err)
	}
	posts, err := c.db.ListPostsSince(monthAgo)
	if err != nil {
		return nil, fmt.Errorf("correlate threats: %w", err)
	}
	artifacts, err := c.db.ListArtifactsSince(monthAgo)
	if err != nil {
		return nil, fmt.Errorf("correlate threats: %w", err)
	}
	scannerFindings, err := c.db.ListFindingsSince(monthAgo)
	if err != nil {
		return nil, fmt.Errorf("correlate threats: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	in := &input{agents: agents, posts: posts, artifacts: artifacts, findings: scannerFindings, now: now.Unix()}
	var findings []Finding
	findings = append(findings, behavioralDetector(in)...)
	findings = append(findings, supplyChainDetector(in)...)
	findings = append(findings, networkDetector(in)...)
	findings = append(findings, statisticalDetector(in)...)

	correlated := Correlate(findings)

	// Dedup against signals already raised for the same agent and subtype
	// in the past week, so a persistent condition alerts once.
	existing := make(map[string]bool)
	recent, err := c.db.ListThreatSignalsSince(now.Unix() - 7*86400)
	if err != nil {
		return nil, fmt.Errorf("correlate threats: %w", err)
	}
	for i := range recent {
		existing[recent[i].Type+"|"+recent[i].Subtype+"|"+recent[i].AgentID] = true
	}

	stats := &Stats{RawFindings: len(findings), Findings: correlated}
	for i := range correlated {
		f := &correlated[i]
		if f.Risk <= c.cfg.Threat.PersistThreshold || existing[f.Type+"|"+f.Subtype+"|"+f.AgentID] {
			stats.Suppressed++
			continue
		}
		signal := &storage.ThreatSignal{
			ID:          uuid.New().String(),
			Type:        f.Type,
			Subtype:     f.Subtype,
			AgentID:     f.AgentID,
			ArtifactID:  f.ArtifactID,
			Risk:        f.Risk,
			Boost:       f.Boost,
			Severity:    SeverityForRisk(f.Risk),
			Description: f.Description,
			Evidence:    f.Evidence,
			CreatedAt:   now.Unix(),
		}
		if err := c.db.InsertThreatSignal(signal); err != nil {
			return nil, fmt.Errorf("persist threat signal: %w", err)
		}
		stats.Persisted++
	}

	log.Printf("[threat] correlated %d findings: %d persisted, %d suppressed",
		stats.RawFindings, stats.Persisted, stats.Suppressed)
	return stats, nil
}

// CorrelatedFinding is a finding with its correlation boost applied.
type CorrelatedFinding struct {
	Finding
	Boost float64
}

// Correlate applies the per-agent correlation boost: n independent findings
// against one agent each get risk * (1 + 0.2*(n-1)), capped at 1.0.
// Findings without an agent pass through unboosted.
func Correlate(findings []Finding) []CorrelatedFinding {
	perAgent := make(map[string]int)
	for i := range findings {
		if findings[i].AgentID != "" {
			perAgent[findings[i].AgentID]++
		}
	}

	out := make([]CorrelatedFinding, 0, len(findings))
	for i := range findings {
		f := CorrelatedFinding{Finding: findings[i], Boost: 1.0}
		if n := perAgent[f.AgentID]; f.AgentID != "" && n > 1 {
			f.Boost = 1 + 0.2*float64(n-1)
			f.Risk = math.Min(1.0, f.Risk*f.Boost)
		}
		out = append(out, f)
	}
	return out
}

// SeverityForRisk maps a correlated risk to an alert severity.
func SeverityForRisk(risk float64) string {
	switch {
	case risk >= 0.85:
		return storage.SeverityCritical
	case risk >= 0.7:
		return storage.SeverityHigh
	default:
		return storage.SeverityMedium
	}
}

// Landscape is the aggregate 30-day threat picture. SubThreshold counts the
// current run's findings that were too weak to persist as alerts but still
// feed the distribution.
type Landscape struct {
	GeneratedAt     int64          `json:"generated_at"`
	TotalSignals    int            `json:"total_signals"`
	SubThreshold    int            `json:"sub_threshold_signals"`
	BySeverity      map[string]int `json:"by_severity"`
	ByType          map[string]int `json:"by_type"`
	TopAgents       []AgentThreat  `json:"top_agents"`
	Recommendations []string       `json:"recommendations"`
}

// AgentThreat is one agent's aggregate standing in the landscape.
type AgentThreat struct {
	AgentID string  `json:"agent_id"`
	Signals int     `json:"signals"`
	MaxRisk float64 `json:"max_risk"`
}

// BuildLandscape summarizes the past 30 days of persisted signals plus the
// current run's sub-threshold findings: every signal feeds the aggregate
// picture even when it was too weak to persist as an alert.
func (c *Correlator) BuildLandscape(now time.Time, current []CorrelatedFinding) (*Landscape, error) {
	signals, err := c.db.ListThreatSignalsSince(now.AddDate(0, 0, -30).Unix())
	if err != nil {
		return nil, fmt.Errorf("build landscape: %w", err)
	}

	l := &Landscape{
		GeneratedAt: now.Unix(),
		BySeverity:  make(map[string]int),
		ByType:      make(map[string]int),
	}
	perAgent := make(map[string]*AgentThreat)
	tally := func(typ, severity, agentID string, risk float64) {
		l.TotalSignals++
		l.BySeverity[severity]++
		l.ByType[typ]++
		if agentID == "" {
			return
		}
		at := perAgent[agentID]
		if at == nil {
			at = &AgentThreat{AgentID: agentID}
			perAgent[agentID] = at
		}
		at.Signals++
		if risk > at.MaxRisk {
			at.MaxRisk = risk
		}
	}

	for i := range signals {
		tally(signals[i].Type, signals[i].Severity, signals[i].AgentID, signals[i].Risk)
	}
	for i := range current {
		f := &current[i]
		// Above-threshold findings are already counted through the persisted
		// signals (this run's inserts or the dedup window's earlier row).
		if f.Risk > c.cfg.Threat.PersistThreshold {
			continue
		}
		l.SubThreshold++
		tally(f.Type, SeverityForRisk(f.Risk), f.AgentID, f.Risk)
	}

	for _, at := range perAgent {
		l.TopAgents = append(l.TopAgents, *at)
	}
	sort.Slice(l.TopAgents, func(i, j int) bool {
		if l.TopAgents[i].MaxRisk != l.TopAgents[j].MaxRisk {
			return l.TopAgents[i].MaxRisk > l.TopAgents[j].MaxRisk
		}
		return l.TopAgents[i].AgentID < l.TopAgents[j].AgentID
	})
	if len(l.TopAgents) > 20 {
		l.TopAgents = l.TopAgents[:20]
	}

	if l.BySeverity[storage.SeverityCritical] > 0 {
		l.Recommendations = append(l.Recommendations,
			"critical signals present: review flagged agents before trusting their artifacts")
	}
	if l.ByType[TypeSupplyChain] > 5 {
		l.Recommendations = append(l.Recommendations,
			"elevated supply-chain activity: prefer verified artifacts")
	}
	if l.ByType["coordination_pattern"] > 0 {
		l.Recommendations = append(l.Recommendations,
			"coordination patterns detected: inspect the agents involved as a group, not individually")
	}
	return l, nil
}
