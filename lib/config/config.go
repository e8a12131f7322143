// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNoConfig is returned by Load when CLASSROOM_CONFIG is not set.
var ErrNoConfig = errors.New("CLASSROOM_CONFIG environment variable not set; " +
	"set it to the path of your classroom.yaml, or use --config")

// Config is the node configuration of one participant process.
type Config struct {
	// Classroom is the classroom identifier shared by every
	// participant. Peers meet in the swarm derived from it.
	Classroom string `yaml:"classroom"`

	// Station is the station number for unattended devices. Empty
	// for students and teachers.
	Station string `yaml:"station"`

	// Role is "student" or "teacher". Ignored for stations.
	Role string `yaml:"role"`

	// DefaultRooms is the number of "Room N" rooms seeded on join
	// when the classroom definition does not say otherwise.
	DefaultRooms int `yaml:"default_rooms"`

	// SetupFile is an optional classroom definition (JSONC or YAML)
	// published through the setup register.
	SetupFile string `yaml:"setup_file"`

	Paths     PathsConfig     `yaml:"paths"`
	Presence  PresenceConfig  `yaml:"presence"`
	Gossip    GossipConfig    `yaml:"gossip"`
	Transport TransportConfig `yaml:"transport"`
	Log       LogConfig       `yaml:"log"`
}

// PathsConfig configures on-disk locations.
type PathsConfig struct {
	// State holds identity.db.
	State string `yaml:"state"`
}

// PresenceConfig configures heartbeats and the liveness policy.
type PresenceConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// LivenessTimeout is how long a remote participant may go without
	// a heartbeat before it is expired.
	LivenessTimeout time.Duration `yaml:"liveness_timeout"`
	ExpireStale     bool          `yaml:"expire_stale"`

	// PruneAfter is how long a tombstone is kept before it is deleted.
	PruneAfter      time.Duration `yaml:"prune_after"`
	PruneTombstones bool          `yaml:"prune_tombstones"`
}

// GossipConfig configures the gossip protocol.
type GossipConfig struct {
	// Interval between anti-entropy snapshot broadcasts.
	Interval time.Duration `yaml:"interval"`

	// SettleDelay postpones the first snapshot after joining so
	// connections opened during startup are in place.
	SettleDelay time.Duration `yaml:"settle_delay"`

	// Compression is "zstd", "lz4" or "none".
	Compression string `yaml:"compression"`
}

// TransportConfig configures swarm discovery and WebRTC.
type TransportConfig struct {
	// Rendezvous is the base URL of the signaling rendezvous.
	Rendezvous string `yaml:"rendezvous"`

	// ICEServers are STUN/TURN URLs. Empty means host candidates only.
	ICEServers []string `yaml:"ice_servers"`

	// AnnounceInterval is how often the participant re-announces
	// itself and looks for new peers.
	AnnounceInterval time.Duration `yaml:"announce_interval"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
}

// Default returns the configuration used as the base before the file
// is applied.
func Default() *Config {
	return &Config{
		Role:         "student",
		DefaultRooms: 0,
		Paths: PathsConfig{
			State: "${HOME}/.cache/classroom",
		},
		Presence: PresenceConfig{
			HeartbeatInterval: 10 * time.Second,
			LivenessTimeout:   3 * time.Minute,
			ExpireStale:       true,
			PruneAfter:        150 * time.Minute,
			PruneTombstones:   true,
		},
		Gossip: GossipConfig{
			Interval:    10 * time.Second,
			SettleDelay: time.Second,
			Compression: "zstd",
		},
		Transport: TransportConfig{
			Rendezvous:       "http://localhost:7420",
			AnnounceInterval: 2 * time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the file named by CLASSROOM_CONFIG.
func Load() (*Config, error) {
	var environment Environment
	if err := ParseEnv(&environment); err != nil {
		return nil, err
	}
	if environment.ConfigPath == "" {
		return nil, ErrNoConfig
	}
	return LoadFile(environment.ConfigPath)
}

// LoadFile reads a YAML configuration file over Default.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration over Default and expands path
// variables.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.expandVariables()
	return cfg, nil
}

// ApplyEnvironment lets CLASSROOM_STATE_DIR and CLASSROOM_LOG_LEVEL
// override the file.
func (c *Config) ApplyEnvironment(environment Environment) {
	if environment.StateDir != "" {
		c.Paths.State = environment.StateDir
	}
	if environment.LogLevel != "" {
		c.Log.Level = environment.LogLevel
	}
	c.expandVariables()
}

// IdentityPath is the identity database location.
func (c *Config) IdentityPath() string {
	return filepath.Join(c.Paths.State, "identity.db")
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Classroom == "" {
		errs = append(errs, errors.New("classroom is required"))
	}
	if c.Station == "" && !slices.Contains([]string{"student", "teacher"}, c.Role) {
		errs = append(errs, fmt.Errorf("role must be student or teacher, got %q", c.Role))
	}
	if c.DefaultRooms < 0 {
		errs = append(errs, fmt.Errorf("default_rooms must not be negative, got %d", c.DefaultRooms))
	}
	if c.Presence.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("presence.heartbeat_interval must be positive"))
	}
	if c.Presence.LivenessTimeout <= c.Presence.HeartbeatInterval {
		errs = append(errs, errors.New("presence.liveness_timeout must exceed presence.heartbeat_interval"))
	}
	if c.Presence.PruneTombstones && c.Presence.PruneAfter <= c.Presence.LivenessTimeout {
		errs = append(errs, errors.New("presence.prune_after must exceed presence.liveness_timeout"))
	}
	if c.Gossip.Interval <= 0 {
		errs = append(errs, errors.New("gossip.interval must be positive"))
	}
	if c.Gossip.SettleDelay < 0 {
		errs = append(errs, errors.New("gossip.settle_delay must not be negative"))
	}
	if !slices.Contains([]string{"zstd", "lz4", "none"}, c.Gossip.Compression) {
		errs = append(errs, fmt.Errorf("gossip.compression must be zstd, lz4 or none, got %q", c.Gossip.Compression))
	}
	if c.Transport.AnnounceInterval <= 0 {
		errs = append(errs, errors.New("transport.announce_interval must be positive"))
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}

	return errors.Join(errs...)
}

func (c *Config) expandVariables() {
	c.Paths.State = expandVars(c.Paths.State)
	c.SetupFile = expandVars(c.SetupFile)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} from the environment.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}
