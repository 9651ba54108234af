package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds server configuration.
type Config struct {
	// Addr is the listen address for the HTTP(S) server.
	Addr string
	// DataDir is the root directory for per-adventure state.
	DataDir string
	// ArchiveDBPath is the SQLite database used for compacted history archives.
	ArchiveDBPath string
	// MasterSecret signs connection tickets and seals archived entries.
	MasterSecret string
	// CompactionThreshold is the total history character count that triggers
	// background compaction.
	CompactionThreshold int
	// CompactionRetain is the number of recent entries compaction keeps.
	CompactionRetain int
	// TurnTimeout bounds a single narrator turn.
	TurnTimeout time.Duration
	// HeartbeatInterval is the recommended client ping cadence.
	HeartbeatInterval time.Duration
	// NarratorModel selects the model used by the narrator executor.
	NarratorModel string
	// AnthropicAPIKey authenticates against the Anthropic API. Empty means the
	// server starts without a live narrator (tests, offline runs).
	AnthropicAPIKey string
	Debug           bool
	AllowedOrigins  []string
}

// Overrides optionally overrides values from environment variables.
//
// A nil pointer means "use the environment/default value".
type Overrides struct {
	Addr                *string
	DataDir             *string
	ArchiveDBPath       *string
	MasterSecret        *string
	CompactionThreshold *int
	CompactionRetain    *int
	TurnTimeout         *time.Duration
	Debug               *bool
}

// Load loads server configuration from environment variables and applies any
// explicit overrides.
func Load(overrides Overrides) (*Config, error) {
	port := 3010
	if portStr := os.Getenv("PORT"); portStr != "" {
		if p, err := strconv.Atoi(portStr); err == nil {
			port = p
		}
	}

	addr := fmt.Sprintf(":%d", port)
	if overrides.Addr != nil {
		addr = *overrides.Addr
	}

	dataDir := os.Getenv("REVERIE_DATA_DIR")
	if dataDir == "" {
		dataDir = "./adventures"
	}
	if overrides.DataDir != nil {
		dataDir = *overrides.DataDir
	}

	archivePath := os.Getenv("REVERIE_ARCHIVE_DB")
	if archivePath == "" {
		archivePath = "./reverie-archive.db"
	}
	if overrides.ArchiveDBPath != nil {
		archivePath = *overrides.ArchiveDBPath
	}

	masterSecret := os.Getenv("REVERIE_MASTER_SECRET")
	if overrides.MasterSecret != nil {
		masterSecret = *overrides.MasterSecret
	}
	if masterSecret == "" {
		return nil, fmt.Errorf("REVERIE_MASTER_SECRET environment variable is required")
	}

	threshold := 20000
	if raw := os.Getenv("REVERIE_COMPACT_THRESHOLD"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			threshold = v
		}
	}
	if overrides.CompactionThreshold != nil {
		threshold = *overrides.CompactionThreshold
	}

	retain := 20
	if raw := os.Getenv("REVERIE_COMPACT_RETAIN"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			retain = v
		}
	}
	if overrides.CompactionRetain != nil {
		retain = *overrides.CompactionRetain
	}

	turnTimeout := 120 * time.Second
	if raw := os.Getenv("REVERIE_TURN_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			turnTimeout = d
		}
	}
	if overrides.TurnTimeout != nil {
		turnTimeout = *overrides.TurnTimeout
	}

	heartbeat := 15 * time.Second
	if raw := os.Getenv("REVERIE_HEARTBEAT_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			heartbeat = d
		}
	}

	model := os.Getenv("REVERIE_MODEL")

	debug := false
	if debugStr := os.Getenv("DEBUG"); debugStr == "true" || debugStr == "1" {
		debug = true
	}
	if overrides.Debug != nil {
		debug = *overrides.Debug
	}

	return &Config{
		Addr:                addr,
		DataDir:             dataDir,
		ArchiveDBPath:       archivePath,
		MasterSecret:        masterSecret,
		CompactionThreshold: threshold,
		CompactionRetain:    retain,
		TurnTimeout:         turnTimeout,
		HeartbeatInterval:   heartbeat,
		NarratorModel:       model,
		AnthropicAPIKey:     os.Getenv("ANTHROPIC_API_KEY"),
		Debug:               debug,
		AllowedOrigins:      []string{"*"}, // For self-hosted, allow all origins
	}, nil
}
