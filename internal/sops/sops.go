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

// Package sops wraps SOPS for encrypted configuration files
package sops

import (
	"errors"
	"fmt"
	"os"

	sopsapi "github.com/getsops/sops/v3"
	"github.com/getsops/sops/v3/aes"
	scommon "github.com/getsops/sops/v3/cmd/sops/common"
	"github.com/getsops/sops/v3/config"
	"github.com/getsops/sops/v3/decrypt"
	"github.com/getsops/sops/v3/gcpkms"
	skeys "github.com/getsops/sops/v3/keys"
	awskms "github.com/getsops/sops/v3/kms"
	jsonstore "github.com/getsops/sops/v3/stores/json"
	yamlstore "github.com/getsops/sops/v3/stores/yaml"
	"github.com/getsops/sops/v3/version"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatYAML   Format = "yaml"
	FormatBinary Format = "binary"
)

var ErrAlreadyEncrypted = errors.New("already encrypted")

// IsEncrypted reports whether a YAML or JSON document carries SOPS metadata
func IsEncrypted(data []byte) bool {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return false
	}
	_, ok := doc["sops"]
	return ok
}

// Decrypt returns the plaintext of a SOPS-encrypted document
func Decrypt(data []byte, format Format) ([]byte, error) {
	ret, err := decrypt.Data(data, string(format))
	if err != nil {
		return nil, fmt.Errorf("sops decrypt: %w", err)
	}
	return ret, nil
}

type store interface {
	LoadPlainFile(in []byte) (sopsapi.TreeBranches, error)
	EmitEncryptedFile(tree sopsapi.Tree) ([]byte, error)
}

func newStore(format Format) (store, error) {
	switch format {
	case FormatYAML:
		return yamlstore.NewStore(&config.YAMLStoreConfig{}), nil
	case FormatBinary:
		return jsonstore.NewBinaryStore(&config.JSONBinaryStoreConfig{}), nil
	default:
		return nil, fmt.Errorf("unsupported sops format: %s", format)
	}
}

// Encrypt encrypts data with the KMS keys named by the
// ATTEST_GCP_KMS_RESOURCE_ID and ATTEST_AWS_KMS_KEY_ARNS environment
// variables
func Encrypt(data []byte, format Format) ([]byte, error) {
	s, err := newStore(format)
	if err != nil {
		return nil, err
	}
	branches, err := s.LoadPlainFile(data)
	if err != nil {
		return nil, fmt.Errorf("error loading data: %w", err)
	}
	// prevent double encryption
	for _, branch := range branches {
		for _, b := range branch {
			if b.Key == "sops" {
				return nil, ErrAlreadyEncrypted
			}
		}
	}
	keyGroups, err := getMasterKeyGroupsFromEnv()
	if err != nil {
		return nil, err
	}
	tree := sopsapi.Tree{
		Branches: branches,
		Metadata: sopsapi.Metadata{
			KeyGroups: keyGroups,
			Version:   version.Version,
		},
	}
	dataKey, errs := tree.GenerateDataKey()
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed generating data key: %w", errors.Join(errs...))
	}
	if err := scommon.EncryptTree(scommon.EncryptTreeOpts{
		DataKey: dataKey,
		Tree:    &tree,
		Cipher:  aes.NewCipher(),
	}); err != nil {
		return nil, fmt.Errorf("failed encrypt: %w", err)
	}
	encrypted, err := s.EmitEncryptedFile(tree)
	if err != nil {
		return nil, fmt.Errorf("failed output: %w", err)
	}
	return encrypted, nil
}

func getMasterKeyGroupsFromEnv() ([]sopsapi.KeyGroup, error) {
	var keyGroups []sopsapi.KeyGroup
	if rid := os.Getenv("ATTEST_GCP_KMS_RESOURCE_ID"); rid != "" {
		var keys []skeys.MasterKey
		for _, k := range gcpkms.MasterKeysFromResourceIDString(rid) {
			keys = append(keys, k)
		}
		if len(keys) > 0 {
			keyGroups = append(keyGroups, keys)
		}
	}
	if arns := os.Getenv("ATTEST_AWS_KMS_KEY_ARNS"); arns != "" {
		var keys []skeys.MasterKey
		profile := os.Getenv("ATTEST_AWS_KMS_PROFILE")
		for _, k := range awskms.MasterKeysFromArnString(arns, nil, profile) {
			keys = append(keys, k)
		}
		if len(keys) > 0 {
			keyGroups = append(keyGroups, keys)
		}
	}
	if len(keyGroups) == 0 {
		return nil, errors.New(
			"SOPS requires at least one master key to encrypt: set ATTEST_GCP_KMS_RESOURCE_ID and/or ATTEST_AWS_KMS_KEY_ARNS",
		)
	}
	return keyGroups, nil
}
