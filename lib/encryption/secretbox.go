// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package encryption

import (
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

const secretboxNonceSize = 24

// SealSecretbox encrypts plaintext with XSalsa20-Poly1305 under key and
// returns nonce || ciphertext+tag.
func (e *Engine) SealSecretbox(plaintext, key []byte) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	nonce, err := e.Nonce(secretboxNonceSize)
	if err != nil {
		return nil, err
	}

	var boxKey [KeySize]byte
	var boxNonce [secretboxNonceSize]byte
	copy(boxKey[:], key)
	copy(boxNonce[:], nonce)

	output := make([]byte, secretboxNonceSize, secretboxNonceSize+len(plaintext)+secretbox.Overhead)
	copy(output, nonce)
	return secretbox.Seal(output, plaintext, &boxNonce, &boxKey), nil
}

// OpenSecretbox reverses SealSecretbox. Tampering, truncation or a wrong
// key all yield ErrDecryptionFailed.
func OpenSecretbox(bundle, key []byte) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	if len(bundle) < secretboxNonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("%w: secretbox bundle of %d bytes is truncated", ErrDecryptionFailed, len(bundle))
	}

	var boxKey [KeySize]byte
	var boxNonce [secretboxNonceSize]byte
	copy(boxKey[:], key)
	copy(boxNonce[:], bundle[:secretboxNonceSize])

	plaintext, ok := secretbox.Open(nil, bundle[secretboxNonceSize:], &boxNonce, &boxKey)
	if !ok {
		return nil, fmt.Errorf("%w: secretbox authentication failed", ErrDecryptionFailed)
	}
	return plaintext, nil
}
