// Copyright 2025 Blink Labs Software
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
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/blinklabs-io/attest/internal/sops"
	"github.com/blinklabs-io/attest/slash"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "attest.config"

const (
	DefaultShutdownTimeout = "30s"
	DefaultTickInterval    = "30s"
)

var ErrInvalidConfig = errors.New("invalid config")

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

// tempConfig allows the settings to live under a top-level "config" key
type tempConfig struct {
	Config map[string]any `yaml:"config,omitempty"`
}

type Config struct {
	DatabasePath    string `yaml:"databasePath"    split_words:"true"`
	BlobCacheSize   uint64 `yaml:"blobCacheSize"   split_words:"true"`
	BindAddr        string `yaml:"bindAddr"        split_words:"true"`
	MetricsPort     uint   `yaml:"metricsPort"     split_words:"true"`
	TickInterval    string `yaml:"tickInterval"    split_words:"true"`
	ShutdownTimeout string `yaml:"shutdownTimeout" split_words:"true"`
	// Seed is the hex encoded quorum selection seed. Replicas must share it
	Seed               string       `yaml:"seed"`
	QuorumSize         int          `yaml:"quorumSize"         split_words:"true"`
	StakePerTask       uint64       `yaml:"stakePerTask"       split_words:"true"`
	StakeBaseline      uint64       `yaml:"stakeBaseline"      split_words:"true"`
	MinFreeBasisPoints uint64       `yaml:"minFreeBasisPoints" envconfig:"MIN_FREE_BP"`
	SummaryCacheSize   int          `yaml:"summaryCacheSize"   split_words:"true"`
	Authorities        []string     `yaml:"authorities"`
	SkipSignatures     bool         `yaml:"skipSignatures"     split_words:"true"`
	Slash              slash.Policy `yaml:"slash"`
	Tracing            bool         `yaml:"tracing"`
	TracingStdout      bool         `yaml:"tracingStdout"      split_words:"true"`
}

// TickDuration parses TickInterval
func (c *Config) TickDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.TickInterval)
	if err != nil {
		return 0, fmt.Errorf("%w: tick interval: %w", ErrInvalidConfig, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: tick interval must be positive", ErrInvalidConfig)
	}
	return d, nil
}

// ShutdownDuration parses ShutdownTimeout
func (c *Config) ShutdownDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil {
		return 0, fmt.Errorf("%w: shutdown timeout: %w", ErrInvalidConfig, err)
	}
	return d, nil
}

// SeedBytes decodes Seed
func (c *Config) SeedBytes() ([]byte, error) {
	if c.Seed == "" {
		return nil, nil
	}
	seed, err := hex.DecodeString(c.Seed)
	if err != nil {
		return nil, fmt.Errorf("%w: seed: %w", ErrInvalidConfig, err)
	}
	return seed, nil
}

func defaultConfig() *Config {
	return &Config{
		DatabasePath:       ".attest",
		BlobCacheSize:      268435456,
		BindAddr:           "0.0.0.0",
		MetricsPort:        12799,
		TickInterval:       DefaultTickInterval,
		ShutdownTimeout:    DefaultShutdownTimeout,
		QuorumSize:         3,
		StakePerTask:       1000,
		StakeBaseline:      20000,
		MinFreeBasisPoints: 4000,
		SummaryCacheSize:   256,
		Slash:              slash.DefaultPolicy(),
	}
}

var globalConfig = defaultConfig()

// LoadConfig reads the YAML config file, decrypting it first when it was
// encrypted with sops, then applies ATTEST_* environment variables
func LoadConfig(configFile string) (*Config, error) {
	if configFile == "" {
		// Check for config file in this path: ~/.attest/attest.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".attest", "attest.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}
		if configFile == "" {
			systemPath := "/etc/attest/attest.yaml"
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
		if sops.IsEncrypted(buf) {
			buf, err = sops.Decrypt(buf, sops.FormatYAML)
			if err != nil {
				return nil, fmt.Errorf("error decrypting config file: %w", err)
			}
		}
		var tempCfg tempConfig
		if err := yaml.Unmarshal(buf, &tempCfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
		if tempCfg.Config != nil {
			// Overlay config values onto existing defaults
			configBytes, err := yaml.Marshal(tempCfg.Config)
			if err != nil {
				return nil, fmt.Errorf("error re-marshalling config: %w", err)
			}
			if err := yaml.Unmarshal(configBytes, globalConfig); err != nil {
				return nil, fmt.Errorf("error parsing config section: %w", err)
			}
		} else if err := yaml.Unmarshal(buf, globalConfig); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	// Process environment variables
	if err := envconfig.Process("attest", globalConfig); err != nil {
		return nil, fmt.Errorf("error processing environment: %+w", err)
	}
	if _, err := globalConfig.TickDuration(); err != nil {
		return nil, err
	}
	if _, err := globalConfig.ShutdownDuration(); err != nil {
		return nil, err
	}
	if _, err := globalConfig.SeedBytes(); err != nil {
		return nil, err
	}
	return globalConfig, nil
}

func GetConfig() *Config {
	return globalConfig
}
