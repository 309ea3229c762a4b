// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Enflame-Media/Magic-Agent-sub008/lib/encryption"
)

// objectCipher builds the cipher for a new session or machine under the
// account's variant. For dataKey accounts dataKey is the object's key
// and the returned envelope is its sealed, base64 form; for legacy
// accounts dataKey is ignored and the envelope is nil.
func (c *Client) objectCipher(dataKey []byte) (encryption.Cipher, *string, error) {
	switch c.credentials.Variant {
	case encryption.VariantLegacy:
		cipher, err := c.engine.LegacyCipher(c.credentials.Secret.Bytes())
		if err != nil {
			return nil, nil, fmt.Errorf("api: legacy cipher: %w", err)
		}
		return cipher, nil, nil
	case encryption.VariantDataKey:
		cipher, err := c.engine.DataKeyCipher(dataKey)
		if err != nil {
			return nil, nil, fmt.Errorf("api: data key cipher: %w", err)
		}
		sealed, err := c.engine.SealDataKey(dataKey, c.credentials.PublicKey)
		if err != nil {
			return nil, nil, fmt.Errorf("api: sealing data key: %w", err)
		}
		envelope := base64.StdEncoding.EncodeToString(sealed)
		return cipher, &envelope, nil
	default:
		return nil, nil, fmt.Errorf("api: unknown credential variant %v", c.credentials.Variant)
	}
}

// seal encrypts value as JSON and base64-encodes the bundle.
func seal(cipher encryption.Cipher, value any) (string, error) {
	bundle, err := encryption.EncryptJSON(cipher, value)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(bundle), nil
}

// sealOptional is seal for values that travel as null when absent.
func sealOptional(cipher encryption.Cipher, value any) (*string, error) {
	if value == nil {
		return nil, nil
	}
	encoded, err := seal(cipher, value)
	if err != nil {
		return nil, err
	}
	return &encoded, nil
}

// open reverses seal, returning the plaintext JSON.
func open(cipher encryption.Cipher, encoded string) (json.RawMessage, error) {
	bundle, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not base64: %v", encryption.ErrDecryptionFailed, err)
	}
	var plaintext json.RawMessage
	if err := encryption.DecryptJSON(cipher, bundle, &plaintext); err != nil {
		return nil, err
	}
	return plaintext, nil
}

// openOptional decrypts a server value that may be absent. A value that
// cannot be decrypted is logged and treated as absent.
func openOptional(cipher encryption.Cipher, encoded *string, logger *slog.Logger, field string) json.RawMessage {
	if encoded == nil || *encoded == "" {
		return nil
	}
	plaintext, err := open(cipher, *encoded)
	if err != nil {
		logger.Warn("could not decrypt server value", "field", field, "error", err)
		return nil
	}
	return plaintext
}
