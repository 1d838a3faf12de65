package fetch

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"time"

	"github.com/LvcidPsyche/agent-intelligence-hub/internal/config"
	"github.com/LvcidPsyche/agent-intelligence-hub/internal/storage"
)

// credentialRules are the patterns the scanner looks for in artifact source.
var credentialRules = []struct {
	name     string
	severity string
	re       *regexp.Regexp
}{
	{"credential_aws_key", storage.SeverityHigh, regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"credential_private_key", storage.SeverityHigh, regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`)},
	{"credential_hardcoded", storage.SeverityMedium, regexp.MustCompile(`(?i)(api[_-]?key|password|secret)\s*[:=]\s*['"][^'"]{8,}['"]`)},
}

// Scanner fetches artifact source content and records credential findings.
type Scanner struct {
	db      *storage.DB
	cfg     *config.Config
	fetcher *Fetcher
}

// NewScanner creates a scanner using the given fetcher.
func NewScanner(db *storage.DB, cfg *config.Config, fetcher *Fetcher) *Scanner {
	return &Scanner{db: db, cfg: cfg, fetcher: fetcher}
}

// ScanStats summarizes one scan pass.
type ScanStats struct {
	Scanned  int `json:"scanned"`
	Failed   int `json:"failed"`
	Findings int `json:"findings"`
}

// Scan fetches the source of every artifact in the window that declares a
// source URL and records one finding per matched rule. Finding IDs are
// deterministic per (artifact, rule), so rescanning the same content is a
// no-op. A failed fetch degrades only that artifact.
func (s *Scanner) Scan(ctx context.Context, now time.Time) (*ScanStats, error) {
	since := now.AddDate(0, 0, -s.cfg.Graph.ArtifactWindowDays).Unix()
	artifacts, err := s.db.ListArtifactsSince(since)
	if err != nil {
		return nil, fmt.Errorf("scan artifacts: %w", err)
	}

	stats := &ScanStats{}
	sources := make(map[string]bool)
	for i := range artifacts {
		art := &artifacts[i]
		if art.SourceURL == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sources[art.SourceURL] = true

		body, err := s.fetcher.Get(ctx, art.SourceURL)
		if err != nil {
			log.Printf("[fetch] skipping artifact %s: %v", art.ID, err)
			stats.Failed++
			continue
		}
		stats.Scanned++

		for _, rule := range credentialRules {
			if !rule.re.Match(body) {
				continue
			}
			finding := &storage.SecurityFinding{
				ID:          fmt.Sprintf("scan-%s-%s", art.ID, rule.name),
				Type:        rule.name,
				Severity:    rule.severity,
				Description: fmt.Sprintf("source of %s %s matches %s", art.Name, art.Version, rule.name),
				AgentID:     art.AuthorID,
				ArtifactID:  art.ID,
				CreatedAt:   now.Unix(),
			}
			if err := s.db.InsertFinding(finding); err != nil {
				return nil, fmt.Errorf("record finding for %s: %w", art.ID, err)
			}
			stats.Findings++
		}
	}

	// Limiter state is per run; releasing the hosts keeps the registry from
	// growing across scheduled scans.
	for src := range sources {
		s.fetcher.Release(src)
	}

	log.Printf("[fetch] scanned %d artifacts (%d failed), %d findings", stats.Scanned, stats.Failed, stats.Findings)
	return stats, nil
}
