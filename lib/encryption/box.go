// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package encryption

import (
	"crypto/sha512"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

const (
	boxPublicKeySize = 32
	boxNonceSize     = 24
)

// SealBox encrypts plaintext to recipientPublicKey with a fresh
// ephemeral keypair. The output is ephemeralPublicKey || nonce ||
// ciphertext+tag. Only the holder of the recipient's secret key can
// open it; the sender keeps no secret after the call.
func (e *Engine) SealBox(plaintext, recipientPublicKey []byte) ([]byte, error) {
	if len(recipientPublicKey) != boxPublicKeySize {
		return nil, fmt.Errorf("%w: public key is %d bytes", ErrInvalidKeyLength, len(recipientPublicKey))
	}

	ephemeralPublic, ephemeralSecret, err := box.GenerateKey(e.random)
	if err != nil {
		return nil, fmt.Errorf("encryption: generating ephemeral keypair: %w", err)
	}
	defer clear(ephemeralSecret[:])

	nonce, err := e.Nonce(boxNonceSize)
	if err != nil {
		return nil, err
	}

	var recipient [boxPublicKeySize]byte
	var boxNonce [boxNonceSize]byte
	copy(recipient[:], recipientPublicKey)
	copy(boxNonce[:], nonce)

	output := make([]byte, 0, boxPublicKeySize+boxNonceSize+len(plaintext)+box.Overhead)
	output = append(output, ephemeralPublic[:]...)
	output = append(output, nonce...)
	return box.Seal(output, plaintext, &boxNonce, &recipient, ephemeralSecret), nil
}

// OpenBox reverses SealBox with the recipient's secret key.
func OpenBox(data, recipientSecretKey []byte) ([]byte, error) {
	if err := checkKey(recipientSecretKey); err != nil {
		return nil, err
	}
	if len(data) < boxPublicKeySize+boxNonceSize+box.Overhead {
		return nil, fmt.Errorf("%w: sealed box of %d bytes is truncated", ErrDecryptionFailed, len(data))
	}

	var sender [boxPublicKeySize]byte
	var boxNonce [boxNonceSize]byte
	var secretKey [KeySize]byte
	copy(sender[:], data[:boxPublicKeySize])
	copy(boxNonce[:], data[boxPublicKeySize:boxPublicKeySize+boxNonceSize])
	copy(secretKey[:], recipientSecretKey)
	defer clear(secretKey[:])

	plaintext, ok := box.Open(nil, data[boxPublicKeySize+boxNonceSize:], &boxNonce, &sender, &secretKey)
	if !ok {
		return nil, fmt.Errorf("%w: sealed box authentication failed", ErrDecryptionFailed)
	}
	return plaintext, nil
}

// BoxKeyPairFromSeed derives a curve25519 keypair from a 32-byte seed
// the way libsodium's crypto_box_seed_keypair does: the secret scalar
// is the first 32 bytes of SHA-512(seed).
func BoxKeyPairFromSeed(seed []byte) (publicKey, secretKey []byte, err error) {
	if err := checkKey(seed); err != nil {
		return nil, nil, err
	}
	digest := sha512.Sum512(seed)
	defer clear(digest[:])

	secretKey = make([]byte, KeySize)
	copy(secretKey, digest[:KeySize])
	publicKey, err = curve25519.X25519(secretKey, curve25519.Basepoint)
	if err != nil {
		clear(secretKey)
		return nil, nil, fmt.Errorf("encryption: deriving public key: %w", err)
	}
	return publicKey, secretKey, nil
}
