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
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/blinklabs-io/attest/slash"
)

func resetGlobalConfig() {
	globalConfig = defaultConfig()
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpFile := filepath.Join(t.TempDir(), "test-attest.yaml")
	if err := os.WriteFile(tmpFile, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return tmpFile
}

func TestLoad_CompareFullStruct(t *testing.T) {
	resetGlobalConfig()
	tmpFile := writeConfig(t, `
databasePath: "/var/lib/attest"
blobCacheSize: 8388608
bindAddr: "127.0.0.1"
metricsPort: 8088
tickInterval: "10s"
shutdownTimeout: "5s"
seed: "00010203"
quorumSize: 5
stakePerTask: 2000
stakeBaseline: 40000
minFreeBasisPoints: 2500
summaryCacheSize: 64
authorities:
  - council
  - auditor
tracing: true
slash:
  unrulyBasisPoints: 5000
  losingVoteBasisPoints: 2000
  reviewDelay: 100
`)

	expectedSlash := slash.DefaultPolicy()
	expectedSlash.UnrulyBP = 5000
	expectedSlash.LosingVoteBP = 2000
	expectedSlash.ReviewDelay = 100
	expected := &Config{
		DatabasePath:       "/var/lib/attest",
		BlobCacheSize:      8388608,
		BindAddr:           "127.0.0.1",
		MetricsPort:        8088,
		TickInterval:       "10s",
		ShutdownTimeout:    "5s",
		Seed:               "00010203",
		QuorumSize:         5,
		StakePerTask:       2000,
		StakeBaseline:      40000,
		MinFreeBasisPoints: 2500,
		SummaryCacheSize:   64,
		Authorities:        []string{"council", "auditor"},
		Slash:              expectedSlash,
		Tracing:            true,
	}

	actual, err := LoadConfig(tmpFile)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if !reflect.DeepEqual(actual, expected) {
		t.Errorf(
			"config mismatch:\nExpected: %+v\nActual:   %+v",
			expected,
			actual,
		)
	}
}

func TestLoad_ConfigSection(t *testing.T) {
	resetGlobalConfig()
	tmpFile := writeConfig(t, `
config:
  quorumSize: 7
  tickInterval: "1m"
`)
	cfg, err := LoadConfig(tmpFile)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.QuorumSize != 7 {
		t.Errorf("expected quorum size 7, got %d", cfg.QuorumSize)
	}
	d, err := cfg.TickDuration()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != time.Minute {
		t.Errorf("expected tick interval 1m, got %s", d)
	}
	// Untouched values keep their defaults
	if cfg.StakePerTask != 1000 {
		t.Errorf("expected default stake per task, got %d", cfg.StakePerTask)
	}
}

func TestLoad_WithoutConfigFile_UsesDefaults(t *testing.T) {
	resetGlobalConfig()
	t.Setenv("HOME", t.TempDir())
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	// /etc/attest/attest.yaml won't exist on a test host
	if !reflect.DeepEqual(cfg, defaultConfig()) {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	resetGlobalConfig()
	tmpFile := writeConfig(t, "quorumSize: 5\n")
	t.Setenv("ATTEST_QUORUM_SIZE", "9")
	t.Setenv("ATTEST_AUTHORITIES", "council,auditor")
	t.Setenv("ATTEST_MIN_FREE_BP", "1000")
	t.Setenv("ATTEST_SLASH_REVIEW_DELAY", "42")
	cfg, err := LoadConfig(tmpFile)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.QuorumSize != 9 {
		t.Errorf("expected env to override quorum size, got %d", cfg.QuorumSize)
	}
	if !reflect.DeepEqual(cfg.Authorities, []string{"council", "auditor"}) {
		t.Errorf("unexpected authorities: %v", cfg.Authorities)
	}
	if cfg.MinFreeBasisPoints != 1000 {
		t.Errorf("unexpected min free: %d", cfg.MinFreeBasisPoints)
	}
	if cfg.Slash.ReviewDelay != 42 {
		t.Errorf("unexpected review delay: %d", cfg.Slash.ReviewDelay)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	testDefs := []struct {
		name    string
		content string
	}{
		{name: "tick interval", content: `tickInterval: "soon"`},
		{name: "negative tick interval", content: `tickInterval: "-1s"`},
		{name: "shutdown timeout", content: `shutdownTimeout: "later"`},
		{name: "seed", content: `seed: "not-hex"`},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			resetGlobalConfig()
			_, err := LoadConfig(writeConfig(t, testDef.content))
			if err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestLoad_EncryptedWithoutKeys(t *testing.T) {
	resetGlobalConfig()
	tmpFile := writeConfig(t, `
quorumSize: ENC[AES256_GCM,data:AAAA,iv:AAAA,tag:AAAA,type:int]
sops:
  version: 3.9.0
`)
	_, err := LoadConfig(tmpFile)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "error decrypting config file") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSeedBytes(t *testing.T) {
	cfg := &Config{}
	seed, err := cfg.SeedBytes()
	if err != nil || seed != nil {
		t.Fatalf("expected nil seed, got %x, %v", seed, err)
	}
	cfg.Seed = "0a0b"
	seed, err = cfg.SeedBytes()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(seed, []byte{0x0a, 0x0b}) {
		t.Errorf("unexpected seed: %x", seed)
	}
}

func TestContext(t *testing.T) {
	if FromContext(context.Background()) != nil {
		t.Fatal("expected no config")
	}
	cfg := defaultConfig()
	if FromContext(WithContext(context.Background(), cfg)) != cfg {
		t.Fatal("expected config from context")
	}
}
