// Package config loads the hub configuration from a YAML file, filling in
// defaults for anything the file omits so a missing file still runs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the analysis components read. Thresholds mirror
// the values the scoring formulas were calibrated against; change them in
// config rather than in code.
type Config struct {
	DBPath     string `yaml:"db_path"`
	ListenAddr string `yaml:"listen_addr"`

	Graph struct {
		WindowDays           int     `yaml:"window_days"`            // co-participation / temporal window
		ArtifactWindowDays   int     `yaml:"artifact_window_days"`   // longer window for artifact similarity
		ProximitySampleCap   int     `yaml:"proximity_sample_cap"`   // bound on the pairwise reputation pass
		CommunityEdgeWeight  float64 `yaml:"community_edge_weight"`  // BFS traversal threshold
	} `yaml:"graph"`

	Identity struct {
		FuzzyNameThreshold float64 `yaml:"fuzzy_name_threshold"`
		BioMatchThreshold  float64 `yaml:"bio_match_threshold"`
	} `yaml:"identity"`

	Threat struct {
		PersistThreshold float64 `yaml:"persist_threshold"` // post-correlation risk needed to persist
	} `yaml:"threat"`

	Fetch struct {
		TimeoutSeconds int `yaml:"timeout_seconds"`
		RatePerMinute  int `yaml:"rate_per_minute"`
		WindowSeconds  int `yaml:"window_seconds"` // per-host rate-limit window
	} `yaml:"fetch"`

	Jobs struct {
		NetworkHours    int `yaml:"network_hours"`
		IdentityHours   int `yaml:"identity_hours"`
		ThreatHours     int `yaml:"threat_hours"`
		ReputationHours int `yaml:"reputation_hours"`
	} `yaml:"jobs"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	c := &Config{}
	c.DBPath = "intelhub.db"
	c.ListenAddr = ":8370"
	c.Graph.WindowDays = 7
	c.Graph.ArtifactWindowDays = 30
	c.Graph.ProximitySampleCap = 200
	c.Graph.CommunityEdgeWeight = 0.3
	c.Identity.FuzzyNameThreshold = 0.75
	c.Identity.BioMatchThreshold = 0.65
	c.Threat.PersistThreshold = 0.6
	c.Fetch.TimeoutSeconds = 10
	c.Fetch.RatePerMinute = 30
	c.Fetch.WindowSeconds = 60
	c.Jobs.NetworkHours = 2
	c.Jobs.IdentityHours = 4
	c.Jobs.ThreatHours = 3
	c.Jobs.ReputationHours = 6
	return c
}

// Load reads a YAML config file over the defaults. A missing file is not an
// error; a malformed one is.
func Load(path string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.Graph.WindowDays <= 0 {
		return fmt.Errorf("config: graph.window_days must be positive")
	}
	if c.Graph.ProximitySampleCap <= 0 {
		return fmt.Errorf("config: graph.proximity_sample_cap must be positive")
	}
	if c.Identity.FuzzyNameThreshold <= 0 || c.Identity.FuzzyNameThreshold > 1 {
		return fmt.Errorf("config: identity.fuzzy_name_threshold must be in (0,1]")
	}
	if c.Threat.PersistThreshold < 0 || c.Threat.PersistThreshold > 1 {
		return fmt.Errorf("config: threat.persist_threshold must be in [0,1]")
	}
	if c.Fetch.WindowSeconds <= 0 {
		return fmt.Errorf("config: fetch.window_seconds must be positive")
	}
	return nil
}

// FetchTimeout returns the artifact fetch timeout as a duration.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// FetchWindow returns the rate-limit window for outbound fetches.
func (c *Config) FetchWindow() time.Duration {
	return time.Duration(c.Fetch.WindowSeconds) * time.Second
}
