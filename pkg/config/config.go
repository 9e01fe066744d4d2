// Copyright 2025 The axfor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the unified configuration structure loaded from a YAML file,
// defaults, and environment variables. Defaults fill only the fields the
// file left unset; KVREPLICA_ environment variables then override both.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig configures one replica.
type ServerConfig struct {
	ClusterID     uint64 `yaml:"cluster_id"`
	MemberID      uint64 `yaml:"member_id"`
	ListenAddress string `yaml:"listen_address"`

	Limits      LimitsConfig      `yaml:"limits"`
	Reliability ReliabilityConfig `yaml:"reliability"`
	Log         LogConfig         `yaml:"log"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Raft        RaftConfig        `yaml:"raft"`
}

// LimitsConfig bounds the in-process queues the driver and watch fanout run
// on. There is no network listener in this module, so connection- and
// request-size limits that would gate a gRPC or HTTP front end don't apply.
type LimitsConfig struct {
	ExecuteQueueCap      int `yaml:"execute_queue_cap"`       // Default 256
	CommitQueueCap       int `yaml:"commit_queue_cap"`        // Default 256
	WatchPublishQueueCap int `yaml:"watch_publish_queue_cap"` // Default 64
	WatchSubscriberBuf   int `yaml:"watch_subscriber_buffer"` // Default 128
	MaxWatchCount        int `yaml:"max_watch_count"`         // Default 10000
}

// ReliabilityConfig configures process-level shutdown behavior.
type ReliabilityConfig struct {
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // Default 30s
	DrainTimeout    time.Duration `yaml:"drain_timeout"`    // Default 5s
}

// LogConfig configures the structured logger. Any output path other than
// "stdout"/"stderr" is treated as a rotating log file, sized and aged by
// the Rotation* fields below.
type LogConfig struct {
	Level            string   `yaml:"level"`              // Default info
	Encoding         string   `yaml:"encoding"`           // Default json
	OutputPaths      []string `yaml:"output_paths"`       // Default ["stdout"]
	ErrorOutputPaths []string `yaml:"error_output_paths"` // Default ["stderr"]

	RotationMaxSizeMB  int  `yaml:"rotation_max_size_mb"`  // Default 100
	RotationMaxAgeDays int  `yaml:"rotation_max_age_days"` // Default 7
	RotationMaxBackups int  `yaml:"rotation_max_backups"`  // Default 10
	RotationCompress   bool `yaml:"rotation_compress"`     // Default false
}

// MonitoringConfig configures the Prometheus metrics endpoint.
type MonitoringConfig struct {
	EnablePrometheus bool   `yaml:"enable_prometheus"` // Always true: SetDefaults turns false into true
	ListenAddress    string `yaml:"listen_address"`    // Default :9090
}

// RaftConfig configures the consensus node. Batch-proposal and lease-read
// optimizations from the source this module draws on target throughput
// concerns that are out of scope here; both are omitted rather than wired
// to a no-op.
type RaftConfig struct {
	TickInterval  time.Duration `yaml:"tick_interval"`  // Default 100ms
	ElectionTick  int           `yaml:"election_tick"`  // Default 10 (= 1s)
	HeartbeatTick int           `yaml:"heartbeat_tick"` // Default 1 (= 100ms)

	MaxSizePerMsg             uint64 `yaml:"max_size_per_msg"`             // Default 4MB
	MaxInflightMsgs           int    `yaml:"max_inflight_msgs"`            // Default 256
	MaxUncommittedEntriesSize uint64 `yaml:"max_uncommitted_entries_size"` // Default 1GB

	PreVote     bool `yaml:"pre_vote"`     // Always true: SetDefaults turns false into true
	CheckQuorum bool `yaml:"check_quorum"` // Always true: SetDefaults turns false into true
}

// DefaultConfig returns a configuration with recommended default values,
// ready to use when no config file is provided.
func DefaultConfig(clusterID, memberID uint64, listenAddress string) *Config {
	cfg := &Config{
		Server: ServerConfig{
			ClusterID:     clusterID,
			MemberID:      memberID,
			ListenAddress: listenAddress,
		},
	}
	cfg.SetDefaults()
	return cfg
}

// LoadConfig loads configuration from a YAML file, filling unset fields
// with defaults and applying environment variable overrides.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.SetDefaults()
	cfg.OverrideFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// LoadConfigOrDefault attempts to load configuration from path, falling
// back to DefaultConfig when the file does not exist.
func LoadConfigOrDefault(path string, clusterID, memberID uint64, listenAddress string) (*Config, error) {
	if path != "" {
		cfg, err := LoadConfig(path)
		if err == nil {
			return cfg, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	cfg := DefaultConfig(clusterID, memberID, listenAddress)
	cfg.OverrideFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SetDefaults fills every unset field with its recommended default.
func (c *Config) SetDefaults() {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":2379"
	}

	if c.Server.Limits.ExecuteQueueCap == 0 {
		c.Server.Limits.ExecuteQueueCap = 256
	}
	if c.Server.Limits.CommitQueueCap == 0 {
		c.Server.Limits.CommitQueueCap = 256
	}
	if c.Server.Limits.WatchPublishQueueCap == 0 {
		c.Server.Limits.WatchPublishQueueCap = 64
	}
	if c.Server.Limits.WatchSubscriberBuf == 0 {
		c.Server.Limits.WatchSubscriberBuf = 128
	}
	if c.Server.Limits.MaxWatchCount == 0 {
		c.Server.Limits.MaxWatchCount = 10000
	}

	if c.Server.Reliability.ShutdownTimeout == 0 {
		c.Server.Reliability.ShutdownTimeout = 30 * time.Second
	}
	if c.Server.Reliability.DrainTimeout == 0 {
		c.Server.Reliability.DrainTimeout = 5 * time.Second
	}

	if c.Server.Log.Level == "" {
		c.Server.Log.Level = "info"
	}
	if c.Server.Log.Encoding == "" {
		c.Server.Log.Encoding = "json"
	}
	if len(c.Server.Log.OutputPaths) == 0 {
		c.Server.Log.OutputPaths = []string{"stdout"}
	}
	if len(c.Server.Log.ErrorOutputPaths) == 0 {
		c.Server.Log.ErrorOutputPaths = []string{"stderr"}
	}
	if c.Server.Log.RotationMaxSizeMB == 0 {
		c.Server.Log.RotationMaxSizeMB = 100
	}
	if c.Server.Log.RotationMaxAgeDays == 0 {
		c.Server.Log.RotationMaxAgeDays = 7
	}
	if c.Server.Log.RotationMaxBackups == 0 {
		c.Server.Log.RotationMaxBackups = 10
	}

	if !c.Server.Monitoring.EnablePrometheus {
		c.Server.Monitoring.EnablePrometheus = true
	}
	if c.Server.Monitoring.ListenAddress == "" {
		c.Server.Monitoring.ListenAddress = ":9090"
	}

	if c.Server.Raft.TickInterval == 0 {
		c.Server.Raft.TickInterval = 100 * time.Millisecond
	}
	if c.Server.Raft.ElectionTick == 0 {
		c.Server.Raft.ElectionTick = 10
	}
	if c.Server.Raft.HeartbeatTick == 0 {
		c.Server.Raft.HeartbeatTick = 1
	}
	if c.Server.Raft.MaxSizePerMsg == 0 {
		c.Server.Raft.MaxSizePerMsg = 4 * 1024 * 1024
	}
	if c.Server.Raft.MaxInflightMsgs == 0 {
		c.Server.Raft.MaxInflightMsgs = 256
	}
	if c.Server.Raft.MaxUncommittedEntriesSize == 0 {
		c.Server.Raft.MaxUncommittedEntriesSize = 1 << 30
	}
	if !c.Server.Raft.PreVote {
		c.Server.Raft.PreVote = true
	}
	if !c.Server.Raft.CheckQuorum {
		c.Server.Raft.CheckQuorum = true
	}
}

// OverrideFromEnv applies KVREPLICA_-prefixed environment variable
// overrides on top of whatever the file or defaults set.
func (c *Config) OverrideFromEnv() {
	if clusterID := os.Getenv("KVREPLICA_CLUSTER_ID"); clusterID != "" {
		if id, err := strconv.ParseUint(clusterID, 10, 64); err == nil {
			c.Server.ClusterID = id
		}
	}
	if memberID := os.Getenv("KVREPLICA_MEMBER_ID"); memberID != "" {
		if id, err := strconv.ParseUint(memberID, 10, 64); err == nil {
			c.Server.MemberID = id
		}
	}
	if listenAddr := os.Getenv("KVREPLICA_LISTEN_ADDRESS"); listenAddr != "" {
		c.Server.ListenAddress = listenAddr
	}
	if logLevel := os.Getenv("KVREPLICA_LOG_LEVEL"); logLevel != "" {
		c.Server.Log.Level = logLevel
	}
	if logEncoding := os.Getenv("KVREPLICA_LOG_ENCODING"); logEncoding != "" {
		c.Server.Log.Encoding = logEncoding
	}
}

// Validate rejects a configuration that would produce an unsafe or
// nonsensical replica.
func (c *Config) Validate() error {
	if c.Server.ClusterID == 0 {
		return fmt.Errorf("cluster_id is required and must be non-zero")
	}
	if c.Server.MemberID == 0 {
		return fmt.Errorf("member_id is required and must be non-zero")
	}
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("listen_address is required")
	}

	if c.Server.Limits.ExecuteQueueCap <= 0 {
		return fmt.Errorf("limits.execute_queue_cap must be > 0")
	}
	if c.Server.Limits.CommitQueueCap <= 0 {
		return fmt.Errorf("limits.commit_queue_cap must be > 0")
	}
	if c.Server.Limits.MaxWatchCount <= 0 {
		return fmt.Errorf("limits.max_watch_count must be > 0")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true,
		"error": true, "dpanic": true, "panic": true, "fatal": true,
	}
	if !validLogLevels[c.Server.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error, dpanic, panic, fatal")
	}
	if c.Server.Log.Encoding != "json" && c.Server.Log.Encoding != "console" {
		return fmt.Errorf("log.encoding must be either 'json' or 'console'")
	}
	if c.Server.Log.RotationMaxSizeMB <= 0 {
		return fmt.Errorf("log.rotation_max_size_mb must be > 0")
	}

	if c.Server.Raft.TickInterval <= 0 {
		return fmt.Errorf("raft.tick_interval must be > 0")
	}
	if c.Server.Raft.ElectionTick <= 0 {
		return fmt.Errorf("raft.election_tick must be > 0")
	}
	if c.Server.Raft.HeartbeatTick <= 0 {
		return fmt.Errorf("raft.heartbeat_tick must be > 0")
	}
	if c.Server.Raft.ElectionTick <= c.Server.Raft.HeartbeatTick {
		return fmt.Errorf("raft.election_tick must be > raft.heartbeat_tick")
	}
	if c.Server.Raft.MaxSizePerMsg == 0 {
		return fmt.Errorf("raft.max_size_per_msg must be > 0")
	}
	if c.Server.Raft.MaxInflightMsgs <= 0 {
		return fmt.Errorf("raft.max_inflight_msgs must be > 0")
	}

	return nil
}
