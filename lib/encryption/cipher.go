// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package encryption

import (
	"encoding/json"
	"fmt"
)

// Variant names the credential scheme a session or machine was created
// under. It fixes the bundle format for the object's lifetime.
type Variant int

const (
	// VariantLegacy encrypts with secretbox under the account secret.
	VariantLegacy Variant = iota
	// VariantDataKey encrypts with AES-256-GCM under a per-object data key.
	VariantDataKey
)

func (v Variant) String() string {
	switch v {
	case VariantLegacy:
		return "legacy"
	case VariantDataKey:
		return "dataKey"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// Cipher encrypts and decrypts payloads for one object. Implementations
// are safe for concurrent use.
type Cipher interface {
	Variant() Variant
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(bundle []byte) ([]byte, error)
}

type legacyCipher struct {
	engine *Engine
	key    []byte
}

// LegacyCipher returns a secretbox Cipher under secret.
func (e *Engine) LegacyCipher(secret []byte) (Cipher, error) {
	if err := checkKey(secret); err != nil {
		return nil, err
	}
	return &legacyCipher{engine: e, key: append([]byte(nil), secret...)}, nil
}

func (c *legacyCipher) Variant() Variant { return VariantLegacy }

func (c *legacyCipher) Encrypt(plaintext []byte) ([]byte, error) {
	return c.engine.SealSecretbox(plaintext, c.key)
}

func (c *legacyCipher) Decrypt(bundle []byte) ([]byte, error) {
	return OpenSecretbox(bundle, c.key)
}

type dataKeyCipher struct {
	engine *Engine
	key    []byte
}

// DataKeyCipher returns an AES-256-GCM Cipher that writes format 0x00
// bundles under key.
func (e *Engine) DataKeyCipher(key []byte) (Cipher, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	return &dataKeyCipher{engine: e, key: append([]byte(nil), key...)}, nil
}

func (c *dataKeyCipher) Variant() Variant { return VariantDataKey }

func (c *dataKeyCipher) Encrypt(plaintext []byte) ([]byte, error) {
	return c.engine.SealAEAD(plaintext, c.key)
}

func (c *dataKeyCipher) Decrypt(bundle []byte) ([]byte, error) {
	return OpenAEAD(bundle, c.key)
}

// EncryptJSON encodes value as JSON and encrypts it.
func EncryptJSON(c Cipher, value any) ([]byte, error) {
	plaintext, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encryption: encoding payload: %w", err)
	}
	defer clear(plaintext)
	return c.Encrypt(plaintext)
}

// DecryptJSON decrypts bundle and decodes the JSON payload into out.
// A payload that decrypts but is not valid JSON for out is reported as
// ErrDecryptionFailed.
func DecryptJSON(c Cipher, bundle []byte, out any) error {
	plaintext, err := c.Decrypt(bundle)
	if err != nil {
		return err
	}
	defer clear(plaintext)
	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("%w: payload is not valid JSON: %v", ErrDecryptionFailed, err)
	}
	return nil
}
