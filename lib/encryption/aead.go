// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

// Bundle format tags.
const (
	FormatAEAD      byte = 0x00
	FormatKeyedAEAD byte = 0x01
)

const (
	gcmNonceSize = 12
	gcmTagSize   = 16
)

// KeyLookup resolves a key version to its key. The returned slice must
// be a copy; OpenBundle zeroes it after use.
type KeyLookup interface {
	Key(version uint16) ([]byte, bool)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("encryption: creating AES cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// SealAEAD encrypts plaintext with AES-256-GCM and returns a format
// 0x00 bundle.
func (e *Engine) SealAEAD(plaintext, key []byte) ([]byte, error) {
	return e.sealGCM(plaintext, key, []byte{FormatAEAD})
}

// sealKeyed produces a format 0x01 bundle tagged with version.
func (e *Engine) sealKeyed(plaintext, key []byte, version uint16) ([]byte, error) {
	header := []byte{FormatKeyedAEAD, 0, 0}
	binary.BigEndian.PutUint16(header[1:], version)
	return e.sealGCM(plaintext, key, header)
}

func (e *Engine) sealGCM(plaintext, key, header []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce, err := e.Nonce(gcmNonceSize)
	if err != nil {
		return nil, err
	}

	output := make([]byte, 0, len(header)+gcmNonceSize+len(plaintext)+gcmTagSize)
	output = append(output, header...)
	output = append(output, nonce...)
	return aead.Seal(output, nonce, plaintext, nil), nil
}

// bundle is a parsed AEAD bundle.
type bundle struct {
	format     byte
	keyVersion uint16
	nonce      []byte
	sealed     []byte
}

func parseBundle(data []byte) (bundle, error) {
	if len(data) == 0 {
		return bundle{}, fmt.Errorf("%w: empty bundle", ErrDecryptionFailed)
	}

	var parsed bundle
	parsed.format = data[0]
	body := data[1:]
	switch parsed.format {
	case FormatAEAD:
	case FormatKeyedAEAD:
		if len(body) < 2 {
			return bundle{}, fmt.Errorf("%w: keyed bundle missing key version", ErrDecryptionFailed)
		}
		parsed.keyVersion = binary.BigEndian.Uint16(body)
		body = body[2:]
	default:
		return bundle{}, fmt.Errorf("%w: 0x%02x", ErrUnknownBundleVersion, parsed.format)
	}

	if len(body) < gcmNonceSize+gcmTagSize {
		return bundle{}, fmt.Errorf("%w: bundle of %d bytes is truncated", ErrDecryptionFailed, len(data))
	}
	parsed.nonce = body[:gcmNonceSize]
	parsed.sealed = body[gcmNonceSize:]
	return parsed, nil
}

func openGCM(key []byte, parsed bundle) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, parsed.nonce, parsed.sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: AEAD authentication failed", ErrDecryptionFailed)
	}
	return plaintext, nil
}

// OpenBundle decrypts an AEAD bundle. Format 0x00 uses currentKey;
// format 0x01 resolves its embedded key version through keys, which may
// be nil when no versioned keys exist.
func OpenBundle(data, currentKey []byte, keys KeyLookup) ([]byte, error) {
	parsed, err := parseBundle(data)
	if err != nil {
		return nil, err
	}

	if parsed.format == FormatAEAD {
		return openGCM(currentKey, parsed)
	}

	if keys == nil {
		return nil, fmt.Errorf("%w: keyed bundle (version %d) with no key versions", ErrDecryptionFailed, parsed.keyVersion)
	}
	key, ok := keys.Key(parsed.keyVersion)
	if !ok {
		return nil, fmt.Errorf("%w: key version %d is not retained", ErrDecryptionFailed, parsed.keyVersion)
	}
	defer clear(key)
	return openGCM(key, parsed)
}

// OpenAEAD decrypts a format 0x00 bundle with key.
func OpenAEAD(data, key []byte) ([]byte, error) {
	return OpenBundle(data, key, nil)
}
