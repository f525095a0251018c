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

package keystore

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/blinklabs-io/gouroboros/cbor"
)

const (
	SigningKeyType      = "AttestSigningKey_ed25519"
	VerificationKeyType = "AttestVerificationKey_ed25519"
)

var (
	ErrInsecureFileMode = errors.New("insecure file permissions")
	ErrNotRegularFile   = errors.New("not a regular file")
	ErrUnknownKeyType   = errors.New("unknown key type")
)

// keyFileEnvelope is the JSON structure of a key file
type keyFileEnvelope struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	CborHex     string `json:"cborHex"`
}

// SigningKey is a member's submission signing key
type SigningKey struct {
	Description string
	Private     ed25519.PrivateKey
}

func (k *SigningKey) Public() ed25519.PublicKey {
	return k.Private.Public().(ed25519.PublicKey)
}

func (k *SigningKey) Sign(msg []byte) []byte {
	return ed25519.Sign(k.Private, msg)
}

func Generate(description string) (*SigningKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &SigningKey{Description: description, Private: priv}, nil
}

// LoadSigningKey loads a signing key file. It returns ErrNotRegularFile for
// directories and devices, and ErrInsecureFileMode if the file has group or
// other access.
//
// Permissions are checked on the open handle to avoid a race between the
// check and the read.
func LoadSigningKey(path string) (*SigningKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open key file %q: %w", path, err)
	}
	defer f.Close()

	if err := checkOpenFilePermissions(f); err != nil {
		return nil, err
	}

	// Valid key files are well under this size
	const maxKeyFileSize = 1 << 20
	data, err := io.ReadAll(io.LimitReader(f, maxKeyFileSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read key file %q: %w", path, err)
	}
	env, keyBytes, err := parseKeyEnvelope(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key file %q: %w", path, err)
	}
	if env.Type != SigningKeyType {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKeyType, env.Type)
	}
	// The file holds the seed
	if len(keyBytes) != ed25519.SeedSize {
		return nil, fmt.Errorf(
			"invalid signing key: expected %d bytes, got %d",
			ed25519.SeedSize,
			len(keyBytes),
		)
	}
	return &SigningKey{
		Description: env.Description,
		Private:     ed25519.NewKeyFromSeed(keyBytes),
	}, nil
}

func requireRegularFile(path string, mode fs.FileMode) error {
	if !mode.IsRegular() {
		return fmt.Errorf("signing key %q has type %s: %w", path, mode.Type(), ErrNotRegularFile)
	}
	return nil
}

// LoadVerificationKey reads a public key file. Verification keys are public
// and their permissions aren't checked
func LoadVerificationKey(path string) (ed25519.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file %q: %w", path, err)
	}
	env, keyBytes, err := parseKeyEnvelope(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key file %q: %w", path, err)
	}
	if env.Type != VerificationKeyType {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKeyType, env.Type)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf(
			"invalid verification key: expected %d bytes, got %d",
			ed25519.PublicKeySize,
			len(keyBytes),
		)
	}
	return ed25519.PublicKey(keyBytes), nil
}

// Save writes the signing key to skeyPath with owner-only access and its
// verification key to vkeyPath. Existing files are not overwritten
func (k *SigningKey) Save(skeyPath string, vkeyPath string) error {
	if err := writeKeyFile(skeyPath, 0o600, SigningKeyType, k.Description, k.Private.Seed()); err != nil {
		return err
	}
	return writeKeyFile(vkeyPath, 0o644, VerificationKeyType, k.Description, k.Public())
}

func writeKeyFile(
	path string,
	perm os.FileMode,
	keyType string,
	description string,
	keyBytes []byte,
) error {
	cborData, err := cbor.Encode(keyBytes)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(
		keyFileEnvelope{
			Type:        keyType,
			Description: description,
			CborHex:     hex.EncodeToString(cborData),
		},
		"",
		"    ",
	)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("failed to create key file %q: %w", path, err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write key file %q: %w", path, err)
	}
	return f.Close()
}

func parseKeyEnvelope(fileBytes []byte) (keyFileEnvelope, []byte, error) {
	var env keyFileEnvelope
	if err := json.Unmarshal(fileBytes, &env); err != nil {
		return env, nil, fmt.Errorf("could not parse key file envelope: %w", err)
	}
	cborData, err := hex.DecodeString(env.CborHex)
	if err != nil {
		return env, nil, fmt.Errorf("could not decode key from hex: %w", err)
	}
	var keyBytes []byte
	if _, err := cbor.Decode(cborData, &keyBytes); err != nil {
		return env, nil, fmt.Errorf("failed to unmarshal key CBOR: %w", err)
	}
	return env, keyBytes, nil
}
