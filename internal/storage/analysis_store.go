package storage

import (
	"database/sql"
	"fmt"
)

// --- Identity links ---

// UpsertIdentityLink inserts an identity link or raises the confidence of an
// existing one. Confidence is monotonically non-decreasing: an upsert with a
// lower confidence than the stored value leaves the row unchanged. Returns
// true when the row was inserted or its confidence raised.
func (d *DB) UpsertIdentityLink(l *IdentityLink) (bool, error) {
	res, err := d.db.Exec(
		`INSERT INTO identity_links (source_id, target_id, link_type, confidence, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(source_id, target_id, link_type) DO UPDATE SET
		     confidence = excluded.confidence,
		     updated_at = excluded.updated_at
		 WHERE excluded.confidence > identity_links.confidence`,
		l.SourceID, l.TargetID, l.LinkType, l.Confidence, l.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("upsert identity link: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("upsert identity link rows affected: %w", err)
	}
	return n > 0, nil
}

// ListIdentityLinks returns all identity links ordered by pair for
// deterministic iteration.
func (d *DB) ListIdentityLinks() ([]IdentityLink, error) {
	rows, err := d.db.Query(
		`SELECT source_id, target_id, link_type, confidence, updated_at
		 FROM identity_links ORDER BY source_id, target_id, link_type`,
	)
	if err != nil {
		return nil, fmt.Errorf("list identity links: %w", err)
	}
	defer rows.Close()

	var links []IdentityLink
	for rows.Next() {
		var l IdentityLink
		if err := rows.Scan(&l.SourceID, &l.TargetID, &l.LinkType, &l.Confidence, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan identity link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// --- Unified profiles ---

// ReplaceUnifiedProfiles atomically swaps the full unified-profile table for
// the rows of a fresh resolver run. Profiles are recomputed from scratch each
// run, so a wholesale replace inside one transaction keeps the partition
// invariant (every member in exactly one profile) visible to readers.
func (d *DB) ReplaceUnifiedProfiles(members []ProfileMember) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin replace profiles: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM unified_profiles`); err != nil {
		return fmt.Errorf("clear unified profiles: %w", err)
	}
	for _, m := range members {
		if _, err := tx.Exec(
			`INSERT INTO unified_profiles (member_id, canonical_id, profile_type, member_count, updated_at)
			 VALUES (?, ?, ?, ?, ?)`,
			m.MemberID, m.CanonicalID, m.ProfileType, m.MemberCount, m.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert profile member %s: %w", m.MemberID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace profiles: %w", err)
	}
	return nil
}

// ListUnifiedProfiles returns all profile membership rows ordered by
// canonical then member ID.
func (d *DB) ListUnifiedProfiles() ([]ProfileMember, error) {
	rows, err := d.db.Query(
		`SELECT member_id, canonical_id, profile_type, member_count, updated_at
		 FROM unified_profiles ORDER BY canonical_id, member_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list unified profiles: %w", err)
	}
	defer rows.Close()

	var members []ProfileMember
	for rows.Next() {
		var m ProfileMember
		if err := rows.Scan(&m.MemberID, &m.CanonicalID, &m.ProfileType, &m.MemberCount, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan profile member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// GetProfileMember returns the profile membership row for one agent, or
// sql.ErrNoRows-wrapped error for agents with no explicit profile (implicit
// singletons).
func (d *DB) GetProfileMember(memberID string) (*ProfileMember, error) {
	m := &ProfileMember{}
	err := d.db.QueryRow(
		`SELECT member_id, canonical_id, profile_type, member_count, updated_at
		 FROM unified_profiles WHERE member_id = ?`, memberID,
	).Scan(&m.MemberID, &m.CanonicalID, &m.ProfileType, &m.MemberCount, &m.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get profile member: %w", err)
	}
	return m, nil
}

// --- Reputation scores ---

// UpsertReputationScore inserts or replaces a (agent, category) score row.
func (d *DB) UpsertReputationScore(s *ReputationScore) error {
	_, err := d.db.Exec(
		`INSERT INTO reputation_scores (agent_id, category, score, factors, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(agent_id, category) DO UPDATE SET
		     score = excluded.score,
		     factors = excluded.factors,
		     updated_at = excluded.updated_at`,
		s.AgentID, s.Category, s.Score, s.Factors, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert reputation score: %w", err)
	}
	return nil
}

// GetReputationScore retrieves one (agent, category) score.
func (d *DB) GetReputationScore(agentID, category string) (*ReputationScore, error) {
	s := &ReputationScore{}
	var factors sql.NullString
	err := d.db.QueryRow(
		`SELECT agent_id, category, score, factors, updated_at
		 FROM reputation_scores WHERE agent_id = ? AND category = ?`, agentID, category,
	).Scan(&s.AgentID, &s.Category, &s.Score, &factors, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get reputation score: %w", err)
	}
	s.Factors = factors.String
	return s, nil
}

// ListReputationScores returns all scores for one category ordered by score
// descending, agent ID ascending as the tiebreak.
func (d *DB) ListReputationScores(category string) ([]ReputationScore, error) {
	rows, err := d.db.Query(
		`SELECT agent_id, category, score, factors, updated_at
		 FROM reputation_scores WHERE category = ? ORDER BY score DESC, agent_id`, category,
	)
	if err != nil {
		return nil, fmt.Errorf("list reputation scores: %w", err)
	}
	defer rows.Close()

	var scores []ReputationScore
	for rows.Next() {
		var s ReputationScore
		var factors sql.NullString
		if err := rows.Scan(&s.AgentID, &s.Category, &s.Score, &factors, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan reputation score: %w", err)
		}
		s.Factors = factors.String
		scores = append(scores, s)
	}
	return scores, rows.Err()
}

// --- Threat signals ---

// InsertThreatSignal persists an alert-grade threat signal.
func (d *DB) InsertThreatSignal(s *ThreatSignal) error {
	_, err := d.db.Exec(
		`INSERT INTO threat_signals (id, type, subtype, agent_id, artifact_id, risk, boost, severity, description, evidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Type, s.Subtype, s.AgentID, s.ArtifactID, s.Risk, s.Boost,
		s.Severity, s.Description, s.Evidence, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert threat signal: %w", err)
	}
	return nil
}

// ListThreatSignalsSince returns signals created at or after the given unix
// time.
func (d *DB) ListThreatSignalsSince(since int64) ([]ThreatSignal, error) {
	rows, err := d.db.Query(
		`SELECT id, type, subtype, agent_id, artifact_id, risk, boost, severity, description, evidence, created_at
		 FROM threat_signals WHERE created_at >= ? ORDER BY created_at, id`, since,
	)
	if err != nil {
		return nil, fmt.Errorf("list threat signals since: %w", err)
	}
	defer rows.Close()
	return scanThreatSignals(rows)
}

// ListThreatSignalsForAgentSince returns signals referencing one agent at or
// after the given unix time.
func (d *DB) ListThreatSignalsForAgentSince(agentID string, since int64) ([]ThreatSignal, error) {
	rows, err := d.db.Query(
		`SELECT id, type, subtype, agent_id, artifact_id, risk, boost, severity, description, evidence, created_at
		 FROM threat_signals WHERE agent_id = ? AND created_at >= ? ORDER BY created_at, id`,
		agentID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("list threat signals for agent: %w", err)
	}
	defer rows.Close()
	return scanThreatSignals(rows)
}

func scanThreatSignals(rows *sql.Rows) ([]ThreatSignal, error) {
	var signals []ThreatSignal
	for rows.Next() {
		var s ThreatSignal
		var subtype, agentID, artifactID, description, evidence sql.NullString
		if err := rows.Scan(&s.ID, &s.Type, &subtype, &agentID, &artifactID,
			&s.Risk, &s.Boost, &s.Severity, &description, &evidence, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan threat signal: %w", err)
		}
		s.Subtype = subtype.String
		s.AgentID = agentID.String
		s.ArtifactID = artifactID.String
		s.Description = description.String
		s.Evidence = evidence.String
		signals = append(signals, s)
	}
	return signals, rows.Err()
}

// --- Snapshots ---

// InsertSnapshot persists an immutable analytics snapshot document.
func (d *DB) InsertSnapshot(s *Snapshot) error {
	_, err := d.db.Exec(
		`INSERT INTO snapshots (id, snapshot_type, data, checksum, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.SnapshotType, s.Data, s.Checksum, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot of the given type.
func (d *DB) LatestSnapshot(snapshotType string) (*Snapshot, error) {
	s := &Snapshot{}
	err := d.db.QueryRow(
		`SELECT id, snapshot_type, data, checksum, created_at
		 FROM snapshots WHERE snapshot_type = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`, snapshotType,
	).Scan(&s.ID, &s.SnapshotType, &s.Data, &s.Checksum, &s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return s, nil
}

// --- Run log ---

// InsertRunLog records a completed, failed or skipped component run.
func (d *DB) InsertRunLog(r *RunLog) error {
	_, err := d.db.Exec(
		`INSERT INTO run_log (id, component, started_at, finished_at, status, detail)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Component, r.StartedAt, r.FinishedAt, r.Status, r.Detail,
	)
	if err != nil {
		return fmt.Errorf("insert run log: %w", err)
	}
	return nil
}

// ListRecentRuns returns the most recent run-log rows, newest first.
func (d *DB) ListRecentRuns(limit int) ([]RunLog, error) {
	rows, err := d.db.Query(
		`SELECT id, component, started_at, finished_at, status, detail
		 FROM run_log ORDER BY started_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent runs: %w", err)
	}
	defer rows.Close()

	var runs []RunLog
	for rows.Next() {
		var r RunLog
		var finishedAt sql.NullInt64
		var detail sql.NullString
		if err := rows.Scan(&r.ID, &r.Component, &r.StartedAt, &finishedAt, &r.Status, &detail); err != nil {
			return nil, fmt.Errorf("scan run log: %w", err)
		}
		r.FinishedAt = finishedAt.Int64
		r.Detail = detail.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
