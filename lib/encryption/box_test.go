// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package encryption

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"

	"golang.org/x/crypto/nacl/box"
)

func TestSealBoxRoundTrip(t *testing.T) {
	engine := NewEngine()
	recipientPublic, recipientSecret, err := box.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	plaintext := []byte("session data key material")

	sealed, err := engine.SealBox(plaintext, recipientPublic[:])
	if err != nil {
		t.Fatalf("SealBox() error: %v", err)
	}
	if want := boxPublicKeySize + boxNonceSize + len(plaintext) + box.Overhead; len(sealed) != want {
		t.Errorf("sealed length = %d, want %d", len(sealed), want)
	}

	opened, err := OpenBox(sealed, recipientSecret[:])
	if err != nil {
		t.Fatalf("OpenBox() error: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("OpenBox() = %q, want %q", opened, plaintext)
	}

	again, err := engine.SealBox(plaintext, recipientPublic[:])
	if err != nil {
		t.Fatalf("SealBox() error: %v", err)
	}
	if bytes.Equal(again[:boxPublicKeySize], sealed[:boxPublicKeySize]) {
		t.Error("two seals reused the same ephemeral public key")
	}
}

func TestOpenBoxRejects(t *testing.T) {
	engine := NewEngine()
	recipientPublic, recipientSecret, _ := box.GenerateKey(rand.Reader)
	_, strangerSecret, _ := box.GenerateKey(rand.Reader)

	sealed, err := engine.SealBox([]byte("secret"), recipientPublic[:])
	if err != nil {
		t.Fatalf("SealBox() error: %v", err)
	}
	tampered := bytes.Clone(sealed)
	tampered[len(tampered)-1] ^= 0x01
	swappedSender := bytes.Clone(sealed)
	swappedSender[0] ^= 0x01

	tests := []struct {
		name string
		data []byte
		key  []byte
	}{
		{"wrong recipient", sealed, strangerSecret[:]},
		{"tampered ciphertext", tampered, recipientSecret[:]},
		{"tampered ephemeral key", swappedSender, recipientSecret[:]},
		{"truncated", sealed[:boxPublicKeySize+boxNonceSize], recipientSecret[:]},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := OpenBox(test.data, test.key); !errors.Is(err, ErrDecryptionFailed) {
				t.Errorf("OpenBox() error = %v, want ErrDecryptionFailed", err)
			}
		})
	}

	if _, err := engine.SealBox([]byte("x"), make([]byte, 31)); !errors.Is(err, ErrInvalidKeyLength) {
		t.Errorf("SealBox(31-byte public key) error = %v, want ErrInvalidKeyLength", err)
	}
}

func TestBoxKeyPairFromSeed(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, KeySize)

	publicKey, secretKey, err := BoxKeyPairFromSeed(seed)
	if err != nil {
		t.Fatalf("BoxKeyPairFromSeed() error: %v", err)
	}
	publicAgain, secretAgain, err := BoxKeyPairFromSeed(seed)
	if err != nil {
		t.Fatalf("BoxKeyPairFromSeed() error: %v", err)
	}
	if !bytes.Equal(publicKey, publicAgain) || !bytes.Equal(secretKey, secretAgain) {
		t.Error("BoxKeyPairFromSeed is not deterministic")
	}
	if bytes.Equal(secretKey, seed) {
		t.Error("secret key equals the raw seed; expected SHA-512 derivation")
	}

	engine := NewEngine()
	sealed, err := engine.SealBox([]byte("hello"), publicKey)
	if err != nil {
		t.Fatalf("SealBox() error: %v", err)
	}
	opened, err := OpenBox(sealed, secretKey)
	if err != nil {
		t.Fatalf("OpenBox() with derived secret error: %v", err)
	}
	if string(opened) != "hello" {
		t.Errorf("OpenBox() = %q, want hello", opened)
	}

	if _, _, err := BoxKeyPairFromSeed(seed[:16]); !errors.Is(err, ErrInvalidKeyLength) {
		t.Errorf("BoxKeyPairFromSeed(16 bytes) error = %v, want ErrInvalidKeyLength", err)
	}
}

func TestDataKeyEnvelope(t *testing.T) {
	engine := NewEngine()
	publicKey, secretKey, err := BoxKeyPairFromSeed(mustKey(t, engine))
	if err != nil {
		t.Fatalf("BoxKeyPairFromSeed() error: %v", err)
	}
	dataKey := mustKey(t, engine)

	envelope, err := engine.SealDataKey(dataKey, publicKey)
	if err != nil {
		t.Fatalf("SealDataKey() error: %v", err)
	}
	if envelope[0] != dataKeyEnvelopeVersion {
		t.Errorf("envelope version = 0x%02x, want 0x00", envelope[0])
	}

	opened, err := OpenDataKey(envelope, secretKey)
	if err != nil {
		t.Fatalf("OpenDataKey() error: %v", err)
	}
	if !bytes.Equal(opened, dataKey) {
		t.Error("OpenDataKey() returned a different key")
	}

	badVersion := bytes.Clone(envelope)
	badVersion[0] = 0x09
	if _, err := OpenDataKey(badVersion, secretKey); !errors.Is(err, ErrUnknownBundleVersion) {
		t.Errorf("OpenDataKey(version 9) error = %v, want ErrUnknownBundleVersion", err)
	}
	if _, err := OpenDataKey(nil, secretKey); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("OpenDataKey(nil) error = %v, want ErrDecryptionFailed", err)
	}
	if _, err := engine.SealDataKey(dataKey[:16], publicKey); !errors.Is(err, ErrInvalidKeyLength) {
		t.Errorf("SealDataKey(16-byte key) error = %v, want ErrInvalidKeyLength", err)
	}
}
