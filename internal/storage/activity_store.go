package storage

import (
	"database/sql"
	"fmt"
	"strings"
)

// --- Agents ---

// UpsertAgent inserts an agent observation, or refreshes last_seen, counters
// and metadata when the (platform, external_id) pair already exists.
// first_seen is never moved forward.
func (d *DB) UpsertAgent(a *Agent) error {
	_, err := d.db.Exec(
		`INSERT INTO agents (id, platform, external_id, display_name, handle, bio, karma, follower_count, first_seen, last_seen, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(platform, external_id) DO UPDATE SET
		     display_name = excluded.display_name,
		     handle = excluded.handle,
		     bio = excluded.bio,
		     karma = excluded.karma,
		     follower_count = excluded.follower_count,
		     last_seen = excluded.last_seen,
		     metadata = excluded.metadata`,
		a.ID, a.Platform, a.ExternalID, a.DisplayName, a.Handle, a.Bio,
		a.Karma, a.FollowerCount, a.FirstSeen, a.LastSeen, a.Metadata,
	)
	if err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}
	return nil
}

const agentColumns = `id, platform, external_id, display_name, handle, bio, karma, follower_count, first_seen, last_seen, metadata`

func scanAgent(row interface{ Scan(...any) error }) (*Agent, error) {
	a := &Agent{}
	var handle, bio, metadata sql.NullString
	err := row.Scan(&a.ID, &a.Platform, &a.ExternalID, &a.DisplayName, &handle, &bio,
		&a.Karma, &a.FollowerCount, &a.FirstSeen, &a.LastSeen, &metadata)
	if err != nil {
		return nil, err
	}
	a.Handle = handle.String
	a.Bio = bio.String
	a.Metadata = metadata.String
	return a, nil
}

// GetAgent retrieves an agent by ID.
func (d *DB) GetAgent(id string) (*Agent, error) {
	a, err := scanAgent(d.db.QueryRow(
		`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

// ListAgents returns all agents ordered by ID for deterministic iteration.
func (d *DB) ListAgents() ([]Agent, error) {
	return d.listAgents(`SELECT ` + agentColumns + ` FROM agents ORDER BY id`)
}

// ListAgentsByPlatform returns all agents on one platform, ordered by ID.
func (d *DB) ListAgentsByPlatform(platform string) ([]Agent, error) {
	return d.listAgents(`SELECT `+agentColumns+` FROM agents WHERE platform = ? ORDER BY id`, platform)
}

func (d *DB) listAgents(query string, args ...any) ([]Agent, error) {
	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

// --- Posts ---

// InsertPost inserts a collected post record, ignoring duplicates.
func (d *DB) InsertPost(p *Post) error {
	_, err := d.db.Exec(
		`INSERT OR IGNORE INTO posts (id, platform, external_id, author_id, community, upvotes, downvotes, reply_count, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Platform, p.ExternalID, p.AuthorID, p.Community,
		p.Upvotes, p.Downvotes, p.ReplyCount, p.Content, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

// ListPostsSince returns all posts created at or after the given unix time,
// ordered by creation time then ID for determinism.
func (d *DB) ListPostsSince(since int64) ([]Post, error) {
	rows, err := d.db.Query(
		`SELECT id, platform, external_id, author_id, community, upvotes, downvotes, reply_count, content, created_at
		 FROM posts WHERE created_at >= ? ORDER BY created_at, id`, since,
	)
	if err != nil {
		return nil, fmt.Errorf("list posts since: %w", err)
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		var p Post
		var community, content sql.NullString
		if err := rows.Scan(&p.ID, &p.Platform, &p.ExternalID, &p.AuthorID, &community,
			&p.Upvotes, &p.Downvotes, &p.ReplyCount, &content, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		p.Community = community.String
		p.Content = content.String
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// CountPostsByAuthor returns the total number of posts for an agent.
func (d *DB) CountPostsByAuthor(authorID string) (int, error) {
	var n int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM posts WHERE author_id = ?`, authorID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count posts by author: %w", err)
	}
	return n, nil
}

// --- Artifacts ---

// UpsertArtifact inserts a collected artifact record, or refreshes its
// mutable fields (version, downloads, tags, verification, security score,
// last update time) when the external ID already exists.
func (d *DB) UpsertArtifact(a *Artifact) error {
	_, err := d.db.Exec(
		`INSERT INTO artifacts (id, external_id, author_id, name, version, download_count, tags, verified, security_score, source_url, created_at, last_updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(external_id) DO UPDATE SET
		     version = excluded.version,
		     download_count = excluded.download_count,
		     tags = excluded.tags,
		     verified = excluded.verified,
		     security_score = excluded.security_score,
		     source_url = excluded.source_url,
		     last_updated_at = excluded.last_updated_at`,
		a.ID, a.ExternalID, a.AuthorID, a.Name, a.Version, a.DownloadCount,
		a.Tags, boolToInt(a.Verified), a.SecurityScore, a.SourceURL,
		a.CreatedAt, a.LastUpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert artifact: %w", err)
	}
	return nil
}

// ListArtifactsSince returns artifacts created at or after the given unix
// time, ordered by creation time then ID.
func (d *DB) ListArtifactsSince(since int64) ([]Artifact, error) {
	rows, err := d.db.Query(
		`SELECT id, external_id, author_id, name, version, download_count, tags, verified, security_score, source_url, created_at, last_updated_at
		 FROM artifacts WHERE created_at >= ? ORDER BY created_at, id`, since,
	)
	if err != nil {
		return nil, fmt.Errorf("list artifacts since: %w", err)
	}
	defer rows.Close()

	var artifacts []Artifact
	for rows.Next() {
		var a Artifact
		var version, tags, sourceURL sql.NullString
		var verified int
		if err := rows.Scan(&a.ID, &a.ExternalID, &a.AuthorID, &a.Name, &version,
			&a.DownloadCount, &tags, &verified, &a.SecurityScore, &sourceURL,
			&a.CreatedAt, &a.LastUpdatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		a.Version = version.String
		a.Tags = tags.String
		a.SourceURL = sourceURL.String
		a.Verified = verified != 0
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// TagList splits the stored comma-separated tags into a normalized slice.
func (a *Artifact) TagList() []string {
	if a.Tags == "" {
		return nil
	}
	parts := strings.Split(a.Tags, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}

// --- Follows ---

// InsertFollow records a follow relationship, ignoring duplicates.
func (d *DB) InsertFollow(f *Follow) error {
	_, err := d.db.Exec(
		`INSERT OR IGNORE INTO follows (source_id, target_id, relationship)
		 VALUES (?, ?, ?)`,
		f.SourceID, f.TargetID, f.Relationship,
	)
	if err != nil {
		return fmt.Errorf("insert follow: %w", err)
	}
	return nil
}

// ListFollowees returns the IDs of agents followed by the given agent.
func (d *DB) ListFollowees(sourceID string) ([]string, error) {
	rows, err := d.db.Query(
		`SELECT target_id FROM follows WHERE source_id = ? ORDER BY target_id`, sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list followees: %w", err)
	}
	defer rows.Close()

	var targets []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan followee: %w", err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// --- Security findings ---

// InsertFinding records a content-scanner finding, ignoring duplicates.
func (d *DB) InsertFinding(f *SecurityFinding) error {
	_, err := d.db.Exec(
		`INSERT OR IGNORE INTO security_findings (id, type, severity, description, agent_id, artifact_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Type, f.Severity, f.Description, f.AgentID, f.ArtifactID, f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert finding: %w", err)
	}
	return nil
}

// ListFindingsSince returns scanner findings created at or after the given
// unix time.
func (d *DB) ListFindingsSince(since int64) ([]SecurityFinding, error) {
	rows, err := d.db.Query(
		`SELECT id, type, severity, description, agent_id, artifact_id, created_at
		 FROM security_findings WHERE created_at >= ? ORDER BY created_at, id`, since,
	)
	if err != nil {
		return nil, fmt.Errorf("list findings since: %w", err)
	}
	defer rows.Close()

	var findings []SecurityFinding
	for rows.Next() {
		var f SecurityFinding
		var description, agentID, artifactID sql.NullString
		if err := rows.Scan(&f.ID, &f.Type, &f.Severity, &description, &agentID, &artifactID, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		f.Description = description.String
		f.AgentID = agentID.String
		f.ArtifactID = artifactID.String
		findings = append(findings, f)
	}
	return findings, rows.Err()
}
