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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig(1, 1, ":2379")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 256, cfg.Server.Limits.ExecuteQueueCap)
	assert.True(t, cfg.Server.Raft.PreVote)
	assert.True(t, cfg.Server.Raft.ElectionTick > cfg.Server.Raft.HeartbeatTick)
	assert.Equal(t, 100, cfg.Server.Log.RotationMaxSizeMB)
	assert.Equal(t, 7, cfg.Server.Log.RotationMaxAgeDays)
	assert.Equal(t, 10, cfg.Server.Log.RotationMaxBackups)
}

func TestValidateRejectsZeroRotationMaxSize(t *testing.T) {
	cfg := DefaultConfig(1, 1, ":2379")
	cfg.Server.Log.RotationMaxSizeMB = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroClusterID(t *testing.T) {
	cfg := DefaultConfig(0, 1, ":2379")
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsElectionTickNotGreaterThanHeartbeat(t *testing.T) {
	cfg := DefaultConfig(1, 1, ":2379")
	cfg.Server.Raft.ElectionTick = 1
	cfg.Server.Raft.HeartbeatTick = 1
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := DefaultConfig(1, 1, ":2379")
	cfg.Server.Log.Level = "verbose"
	assert.Error(t, cfg.Validate())
}

func TestLoadConfigParsesYAMLAndFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := `
server:
  cluster_id: 7
  member_id: 3
  listen_address: "127.0.0.1:2379"
  raft:
    election_tick: 20
    heartbeat_tick: 2
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), cfg.Server.ClusterID)
	assert.Equal(t, uint64(3), cfg.Server.MemberID)
	assert.Equal(t, 20, cfg.Server.Raft.ElectionTick)
	assert.Equal(t, 2, cfg.Server.Raft.HeartbeatTick)
	// untouched fields still get their defaults
	assert.Equal(t, "info", cfg.Server.Log.Level)
	assert.Equal(t, 256, cfg.Server.Limits.CommitQueueCap)
}

func TestLoadConfigOrDefaultFallsBackWhenFileMissing(t *testing.T) {
	cfg, err := LoadConfigOrDefault(filepath.Join(t.TempDir(), "missing.yaml"), 1, 2, ":2379")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cfg.Server.ClusterID)
	assert.Equal(t, uint64(2), cfg.Server.MemberID)
}

func TestOverrideFromEnv(t *testing.T) {
	t.Setenv("KVREPLICA_CLUSTER_ID", "42")
	t.Setenv("KVREPLICA_LOG_LEVEL", "debug")

	cfg := DefaultConfig(1, 1, ":2379")
	cfg.OverrideFromEnv()
	assert.Equal(t, uint64(42), cfg.Server.ClusterID)
	assert.Equal(t, "debug", cfg.Server.Log.Level)
}
