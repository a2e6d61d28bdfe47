// Copyright 2026 Blink Labs Software
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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetGlobalConfig restores the package-level config after a test
// mutates it through LoadConfig
func resetGlobalConfig(t *testing.T) {
	t.Helper()
	saved := *globalConfig
	t.Cleanup(func() {
		*globalConfig = saved
	})
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "paddock.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	resetGlobalConfig(t)
	path := writeConfigFile(t, "blockfrostProject: testproject\n")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "mainnet", cfg.Network)
	assert.Equal(
		t,
		"https://cardano-mainnet.blockfrost.io/api/v0",
		cfg.BlockfrostEndpoint,
	)
	assert.Equal(t, ".paddock", cfg.DatabasePath)
	assert.Equal(t, "wallets.yaml", cfg.WalletsPath)
	assert.Equal(t, uint(12798), cfg.MetricsPort)
	assert.Equal(t, 15*time.Second, cfg.RetryBackoffDuration())
	assert.Equal(t, 180*time.Second, cfg.MaxRetryAgeDuration())
	assert.Equal(t, 30*time.Second, cfg.ChainTimeoutDuration())
	assert.Equal(t, 20, cfg.QueueWarnDepth)
	assert.False(t, cfg.StrictIdentity)
}

func TestLoadConfigFileOverrides(t *testing.T) {
	resetGlobalConfig(t)
	path := writeConfigFile(t, `network: preview
blockfrostProject: testproject
walletsPath: /etc/paddock/wallets.yaml
retryBackoff: 5s
maxRetryAge: 1m
strictIdentity: true
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "preview", cfg.Network)
	assert.Equal(
		t,
		"https://cardano-preview.blockfrost.io/api/v0",
		cfg.BlockfrostEndpoint,
	)
	assert.Equal(t, "/etc/paddock/wallets.yaml", cfg.WalletsPath)
	assert.Equal(t, 5*time.Second, cfg.RetryBackoffDuration())
	assert.Equal(t, time.Minute, cfg.MaxRetryAgeDuration())
	assert.True(t, cfg.StrictIdentity)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	resetGlobalConfig(t)
	t.Setenv("BLOCKFROST_PROJECT_ID", "envproject")
	t.Setenv("BLOCKFROST_ENDPOINT", "http://localhost:3000")
	t.Setenv("PADDOCK_NETWORK", "preprod")
	path := writeConfigFile(t, "blockfrostProject: fileproject\n")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "envproject", cfg.BlockfrostProject)
	assert.Equal(t, "http://localhost:3000", cfg.BlockfrostEndpoint)
	assert.Equal(t, "preprod", cfg.Network)
}

func TestLoadConfigUnknownNetwork(t *testing.T) {
	resetGlobalConfig(t)
	path := writeConfigFile(t, "network: bogusnet\n")
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown network")
}

func TestLoadConfigInvalidDuration(t *testing.T) {
	resetGlobalConfig(t)
	path := writeConfigFile(t, "retryBackoff: soon\n")
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retryBackoff")
}

func TestLoadConfigMissingFile(t *testing.T) {
	resetGlobalConfig(t)
	_, err := LoadConfig(
		filepath.Join(t.TempDir(), "nope.yaml"),
	)
	require.Error(t, err)
}

func TestConfigContext(t *testing.T) {
	cfg := &Config{Network: "mainnet"}
	ctx := WithContext(t.Context(), cfg)
	assert.Equal(t, cfg, FromContext(ctx))
	assert.Nil(t, FromContext(t.Context()))
}
