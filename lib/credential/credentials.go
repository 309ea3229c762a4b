// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/jsonc"

	"github.com/Enflame-Media/Magic-Agent-sub008/lib/encryption"
	"github.com/Enflame-Media/Magic-Agent-sub008/lib/secret"
	"github.com/Enflame-Media/Magic-Agent-sub008/lib/statefile"
)

// ErrNotLoggedIn is returned by Load when the credentials file does not
// exist.
var ErrNotLoggedIn = errors.New("credential: no credentials found, run 'happy auth login'")

// Credentials are the account secrets for one machine.
type Credentials struct {
	// Token is the bearer token for the relay server.
	Token *secret.Buffer

	// Variant is VariantLegacy when Secret is set and VariantDataKey
	// when PublicKey and MachineKey are set.
	Variant encryption.Variant

	// Secret is the 32-byte account secret. Legacy only.
	Secret *secret.Buffer

	// PublicKey is the account's content public key; fresh data keys
	// are sealed to it. DataKey only.
	PublicKey []byte

	// MachineKey is this machine's 32-byte data key. DataKey only.
	MachineKey *secret.Buffer
}

type credentialsFile struct {
	Token      string          `json:"token"`
	Secret     string          `json:"secret,omitempty"`
	Encryption *encryptionFile `json:"encryption,omitempty"`
}

type encryptionFile struct {
	PublicKey  string `json:"publicKey"`
	MachineKey string `json:"machineKey"`
}

// Load reads the credentials file at path.
func Load(path string) (*Credentials, error) {
	data, found, err := statefile.Read(path)
	if err != nil {
		return nil, fmt.Errorf("credential: %w", err)
	}
	if !found {
		return nil, ErrNotLoggedIn
	}
	defer secret.Zero(data)

	credentials, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return credentials, nil
}

// Parse decodes a credentials document. Comments and trailing commas
// are accepted.
func Parse(data []byte) (*Credentials, error) {
	var file credentialsFile
	if err := json.Unmarshal(jsonc.ToJSON(data), &file); err != nil {
		return nil, fmt.Errorf("credential: parsing credentials: %w", err)
	}
	if file.Token == "" {
		return nil, fmt.Errorf("credential: token is required")
	}

	credentials := &Credentials{}
	ok := false
	defer func() {
		if !ok {
			credentials.Close()
		}
	}()

	token, err := secret.NewFromString(file.Token)
	if err != nil {
		return nil, err
	}
	credentials.Token = token

	switch {
	case file.Encryption != nil:
		credentials.Variant = encryption.VariantDataKey
		publicKey, err := decodeKey("encryption.publicKey", file.Encryption.PublicKey)
		if err != nil {
			return nil, err
		}
		credentials.PublicKey = publicKey
		machineKey, err := decodeSecretKey("encryption.machineKey", file.Encryption.MachineKey)
		if err != nil {
			return nil, err
		}
		credentials.MachineKey = machineKey
	case file.Secret != "":
		credentials.Variant = encryption.VariantLegacy
		accountSecret, err := decodeSecretKey("secret", file.Secret)
		if err != nil {
			return nil, err
		}
		credentials.Secret = accountSecret
	default:
		return nil, fmt.Errorf("credential: either secret or encryption is required")
	}

	ok = true
	return credentials, nil
}

func decodeKey(field, encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("credential: %s is not valid base64: %w", field, err)
	}
	if len(key) != encryption.KeySize {
		secret.Zero(key)
		return nil, fmt.Errorf("credential: %s must be %d bytes, got %d", field, encryption.KeySize, len(key))
	}
	return key, nil
}

func decodeSecretKey(field, encoded string) (*secret.Buffer, error) {
	key, err := decodeKey(field, encoded)
	if err != nil {
		return nil, err
	}
	return secret.NewFromBytes(key)
}

// Save writes the credentials to path with owner-only permissions.
func (c *Credentials) Save(path string) error {
	file := credentialsFile{Token: c.Token.String()}
	switch c.Variant {
	case encryption.VariantLegacy:
		file.Secret = base64.StdEncoding.EncodeToString(c.Secret.Bytes())
	case encryption.VariantDataKey:
		file.Encryption = &encryptionFile{
			PublicKey:  base64.StdEncoding.EncodeToString(c.PublicKey),
			MachineKey: base64.StdEncoding.EncodeToString(c.MachineKey.Bytes()),
		}
	default:
		return fmt.Errorf("credential: unknown variant %v", c.Variant)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("credential: encoding credentials: %w", err)
	}
	defer secret.Zero(data)
	return statefile.Write(path, data)
}

// Close releases every secret. Idempotent.
func (c *Credentials) Close() error {
	for _, buffer := range []*secret.Buffer{c.Token, c.Secret, c.MachineKey} {
		if buffer != nil {
			buffer.Close()
		}
	}
	return nil
}
