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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "paddock.config"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

type Config struct {
	Network            string `yaml:"network"`
	BlockfrostEndpoint string `yaml:"blockfrostEndpoint" envconfig:"BLOCKFROST_ENDPOINT"`
	BlockfrostProject  string `yaml:"blockfrostProject"  envconfig:"BLOCKFROST_PROJECT_ID"`
	DatabasePath       string `yaml:"databasePath"                                        split_words:"true"`
	WalletsPath        string `yaml:"walletsPath"                                         split_words:"true"`
	BindAddr           string `yaml:"bindAddr"                                            split_words:"true"`
	MetricsPort        uint   `yaml:"metricsPort"                                         split_words:"true"`
	RetryBackoff       string `yaml:"retryBackoff"                                        split_words:"true"`
	MaxRetryAge        string `yaml:"maxRetryAge"                                         split_words:"true"`
	QueueWarnDepth     int    `yaml:"queueWarnDepth"                                      split_words:"true"`
	StrictIdentity     bool   `yaml:"strictIdentity"                                      split_words:"true"`
	ChainTimeout       string `yaml:"chainTimeout"                                        split_words:"true"`
}

var globalConfig = &Config{
	Network:        "mainnet",
	DatabasePath:   ".paddock",
	WalletsPath:    "wallets.yaml",
	BindAddr:       "0.0.0.0",
	MetricsPort:    12798,
	RetryBackoff:   "15s",
	MaxRetryAge:    "180s",
	QueueWarnDepth: 20,
	ChainTimeout:   "30s",
}

// blockfrostEndpoints maps each supported network to the public
// Blockfrost base URL for it
var blockfrostEndpoints = map[string]string{
	"mainnet": "https://cardano-mainnet.blockfrost.io/api/v0",
	"preprod": "https://cardano-preprod.blockfrost.io/api/v0",
	"preview": "https://cardano-preview.blockfrost.io/api/v0",
}

func LoadConfig(configFile string) (*Config, error) {
	// Load config file as YAML if provided
	if configFile == "" {
		// Check for config file in this path: ~/.paddock/paddock.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".paddock", "paddock.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}

		// Try to check for /etc/paddock/paddock.yaml if still not found
		if configFile == "" {
			systemPath := "/etc/paddock/paddock.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		err = yaml.Unmarshal(buf, globalConfig)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	// Process environment variables
	err := envconfig.Process("paddock", globalConfig)
	if err != nil {
		return nil, fmt.Errorf("error processing environment: %+w", err)
	}

	// Set default Blockfrost endpoint based on network if not provided
	// by user
	if globalConfig.BlockfrostEndpoint == "" {
		endpoint, ok := blockfrostEndpoints[globalConfig.Network]
		if !ok {
			return nil, fmt.Errorf(
				"unknown network: %s",
				globalConfig.Network,
			)
		}
		globalConfig.BlockfrostEndpoint = endpoint
	}

	// Validate durations up front so the failure happens at startup
	for _, check := range []struct {
		name  string
		value string
	}{
		{"retryBackoff", globalConfig.RetryBackoff},
		{"maxRetryAge", globalConfig.MaxRetryAge},
		{"chainTimeout", globalConfig.ChainTimeout},
	} {
		if _, err := time.ParseDuration(check.value); err != nil {
			return nil, fmt.Errorf(
				"invalid %s: %w",
				check.name,
				err,
			)
		}
	}
	return globalConfig, nil
}

func GetConfig() *Config {
	return globalConfig
}

// RetryBackoffDuration returns the parsed deposit retry backoff.
// LoadConfig has already validated the value.
func (c *Config) RetryBackoffDuration() time.Duration {
	ret, _ := time.ParseDuration(c.RetryBackoff)
	return ret
}

// MaxRetryAgeDuration returns the parsed deposit retry window
func (c *Config) MaxRetryAgeDuration() time.Duration {
	ret, _ := time.ParseDuration(c.MaxRetryAge)
	return ret
}

// ChainTimeoutDuration returns the parsed chain provider HTTP timeout
func (c *Config) ChainTimeoutDuration() time.Duration {
	ret, _ := time.ParseDuration(c.ChainTimeout)
	return ret
}
