// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package encryption is the end-to-end encryption engine for session and
// machine payloads exchanged with the relay server.
//
// An [Engine] owns the process-local nonce counter. Every nonce it
// hands out is a hybrid: L-8 bytes from crypto/rand followed by a
// big-endian uint64 counter that starts at zero and never wraps. The
// counter makes nonces unique within the process; the random prefix
// makes collisions across processes negligible. Exhausting the counter
// returns [ErrNonceCounterExhausted] on every later call.
//
// Three payload families are supported:
//
//   - Legacy secretbox (XSalsa20-Poly1305): nonce(24) || ciphertext+tag.
//     Used by accounts that still hold a shared legacy secret.
//   - AES-256-GCM bundles: a one-byte format tag, then either
//     nonce(12) || ciphertext || tag(16) for format 0x00, or
//     keyVersion(2, big-endian) || nonce(12) || ciphertext || tag(16)
//     for format 0x01. Format 0x01 is decrypted through a
//     [KeyVersionManager].
//   - Sealed box (curve25519 box with an ephemeral sender key):
//     ephemeralPublicKey(32) || nonce(24) || ciphertext+tag. Used to
//     wrap per-session data keys to the account's content public key.
//
// The legacy secretbox form has no format tag, so it cannot be told
// apart from an AEAD bundle by content. Callers never choose a decrypt
// function themselves: a [Cipher] is bound to one credential
// [Variant] when a session is created, and that binding decides the
// format in both directions.
//
// Decryption failures are ordinary outcomes. Every Open/Decrypt
// function returns an error wrapping [ErrDecryptionFailed] or
// [ErrUnknownBundleVersion] on hostile or damaged input and never
// panics.
package encryption
