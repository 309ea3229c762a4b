// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package encryption

import "errors"

var (
	// ErrInvalidKeyLength is returned when a symmetric key is not
	// exactly KeySize bytes.
	ErrInvalidKeyLength = errors.New("encryption: key must be 32 bytes")

	// ErrNonceTooShort is returned when a nonce length leaves no room
	// for a random prefix in front of the 8-byte counter.
	ErrNonceTooShort = errors.New("encryption: nonce must be longer than 8 bytes")

	// ErrNonceCounterExhausted is returned once an Engine has issued
	// 2^64 nonces. The Engine is unusable afterwards.
	ErrNonceCounterExhausted = errors.New("encryption: nonce counter exhausted")

	// ErrUnknownBundleVersion is returned for an AEAD bundle whose
	// format tag is not recognized.
	ErrUnknownBundleVersion = errors.New("encryption: unknown bundle version")

	// ErrDecryptionFailed covers truncated input, authentication
	// failure, wrong keys and pruned key versions.
	ErrDecryptionFailed = errors.New("encryption: could not decrypt")

	// ErrKeyVersionsExhausted is returned when rotation would overflow
	// the 16-bit version selector.
	ErrKeyVersionsExhausted = errors.New("encryption: key versions exhausted")
)
