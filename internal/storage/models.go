package storage

// Platforms tracked by the hub.
const (
	PlatformSocial   = "social"
	PlatformRegistry = "registry"
)

// Identity link types, in the order the resolver phases run.
const (
	LinkExactName        = "exact_name_match"
	LinkFuzzyName        = "fuzzy_name_match"
	LinkFollowingPattern = "following_pattern"
	LinkBioMetadata      = "bio_metadata_match"
)

// Unified profile types, keyed by member count.
const (
	ProfileLinked       = "linked"        // 2 members
	ProfileMultiAccount = "multi_account" // 3-4 members
	ProfileNetwork      = "network"       // 5+ members
)

// Reputation score categories.
const (
	ScoreSocial        = "social"
	ScoreRegistry      = "registry"
	ScoreCrossPlatform = "cross_platform"
	ScoreEngagement    = "engagement"
	ScoreSecurity      = "security"
	ScoreLongevity     = "longevity"
	ScoreComposite     = "composite"
)

// Threat signal severities.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Snapshot types published per analysis run.
const (
	SnapshotCommunityStructure = "community_structure"
	SnapshotInfluenceRanking   = "influence_ranking"
	SnapshotThreatLandscape    = "threat_landscape"
	SnapshotLeaderboard        = "leaderboard"
	SnapshotIdentityResolution = "identity_resolution"
)

// Run log statuses.
const (
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunSkipped   = "skipped"
)

// Agent is a tracked actor's presence on a single platform. One row per
// (platform, external_id) pair; the same real actor may have several rows.
type Agent struct {
	ID            string  `json:"id"`
	Platform      string  `json:"platform"`
	ExternalID    string  `json:"external_id"`
	DisplayName   string  `json:"display_name"`
	Handle        string  `json:"handle"`
	Bio           string  `json:"bio"`
	Karma         int64   `json:"karma"`
	FollowerCount int     `json:"follower_count"`
	FirstSeen     int64   `json:"first_seen"`
	LastSeen      int64   `json:"last_seen"`
	Metadata      string  `json:"metadata"` // free-form provenance JSON
}

// Post is a content record collected from the social platform.
type Post struct {
	ID         string `json:"id"`
	Platform   string `json:"platform"`
	ExternalID string `json:"external_id"`
	AuthorID   string `json:"author_id"`
	Community  string `json:"community"`
	Upvotes    int    `json:"upvotes"`
	Downvotes  int    `json:"downvotes"`
	ReplyCount int    `json:"reply_count"`
	Content    string `json:"content"`
	CreatedAt  int64  `json:"created_at"`
}

// Artifact is a published skill collected from the registry platform.
// SecurityScore is the scanner's 0-100 assessment of the artifact source.
type Artifact struct {
	ID            string  `json:"id"`
	ExternalID    string  `json:"external_id"`
	AuthorID      string  `json:"author_id"`
	Name          string  `json:"name"`
	Version       string  `json:"version"`
	DownloadCount int64   `json:"download_count"`
	Tags          string  `json:"tags"` // comma-separated
	Verified      bool    `json:"verified"`
	SecurityScore float64 `json:"security_score"`
	SourceURL     string  `json:"source_url"`
	CreatedAt     int64   `json:"created_at"`
	LastUpdatedAt int64   `json:"last_updated_at"`
}

// Follow is a directed relationship between two agents on one platform.
type Follow struct {
	SourceID     string `json:"source_id"`
	TargetID     string `json:"target_id"`
	Relationship string `json:"relationship"`
}

// SecurityFinding is one finding emitted by the external content scanner.
type SecurityFinding struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	AgentID     string `json:"agent_id"`
	ArtifactID  string `json:"artifact_id"`
	CreatedAt   int64  `json:"created_at"`
}

// IdentityLink is directed evidence that two agents on different platforms
// are the same real actor. Confidence only ever increases across runs.
type IdentityLink struct {
	SourceID   string  `json:"source_id"`
	TargetID   string  `json:"target_id"`
	LinkType   string  `json:"link_type"`
	Confidence float64 `json:"confidence"`
	UpdatedAt  int64   `json:"updated_at"`
}

// ProfileMember is one row of a unified profile: the membership of a single
// agent in its canonical cross-platform identity cluster.
type ProfileMember struct {
	CanonicalID string `json:"canonical_id"`
	MemberID    string `json:"member_id"`
	ProfileType string `json:"profile_type"`
	MemberCount int    `json:"member_count"`
	UpdatedAt   int64  `json:"updated_at"`
}

// ReputationScore is a per-category score for an agent, with a JSON factor
// breakdown explaining the sub-terms that produced it.
type ReputationScore struct {
	AgentID   string  `json:"agent_id"`
	Category  string  `json:"category"`
	Score     float64 `json:"score"`
	Factors   string  `json:"factors"`
	UpdatedAt int64   `json:"updated_at"`
}

// ThreatSignal is a persisted, alert-grade detector finding. Boost records
// the correlation multiplier that was applied to the base risk.
type ThreatSignal struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	Subtype     string  `json:"subtype"`
	AgentID     string  `json:"agent_id"`
	ArtifactID  string  `json:"artifact_id"`
	Risk        float64 `json:"risk"`
	Boost       float64 `json:"boost"`
	Severity    string  `json:"severity"`
	Description string  `json:"description"`
	Evidence    string  `json:"evidence"`
	CreatedAt   int64   `json:"created_at"`
}

// Snapshot is an immutable analytics document. Checksum is the SHA3-256 hex
// digest of Data.
type Snapshot struct {
	ID           string `json:"id"`
	SnapshotType string `json:"snapshot_type"`
	Data         string `json:"data"`
	Checksum     string `json:"checksum"`
	CreatedAt    int64  `json:"created_at"`
}

// RunLog records one scheduled component run for observability.
type RunLog struct {
	ID         string `json:"id"`
	Component  string `json:"component"`
	StartedAt  int64  `json:"started_at"`
	FinishedAt int64  `json:"finished_at"`
	Status     string `json:"status"`
	Detail     string `json:"detail"`
}
