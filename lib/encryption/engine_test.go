// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package encryption

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy unavailable") }

func mustKey(t *testing.T, engine *Engine) []byte {
	t.Helper()
	key, err := engine.RandomKey()
	if err != nil {
		t.Fatalf("RandomKey() error: %v", err)
	}
	return key
}

func TestNonceUniqueness(t *testing.T) {
	for _, length := range []int{secretboxNonceSize, gcmNonceSize} {
		engine := NewEngine()
		seen := make(map[string]struct{}, 10000)
		for index := range 10000 {
			nonce, err := engine.Nonce(length)
			if err != nil {
				t.Fatalf("Nonce(%d) #%d error: %v", length, index, err)
			}
			if len(nonce) != length {
				t.Fatalf("Nonce(%d) returned %d bytes", length, len(nonce))
			}
			counter := binary.BigEndian.Uint64(nonce[length-counterSize:])
			if counter != uint64(index) {
				t.Fatalf("Nonce(%d) #%d counter = %d, want %d", length, index, counter, index)
			}
			if _, duplicate := seen[string(nonce)]; duplicate {
				t.Fatalf("Nonce(%d) #%d repeated", length, index)
			}
			seen[string(nonce)] = struct{}{}
		}
	}
}

func TestNonceCounterIsPerEngine(t *testing.T) {
	first := NewEngine()
	second := NewEngine()
	for range 3 {
		if _, err := first.Nonce(gcmNonceSize); err != nil {
			t.Fatalf("Nonce() error: %v", err)
		}
	}
	nonce, err := second.Nonce(gcmNonceSize)
	if err != nil {
		t.Fatalf("Nonce() error: %v", err)
	}
	if counter := binary.BigEndian.Uint64(nonce[4:]); counter != 0 {
		t.Errorf("fresh engine counter = %d, want 0", counter)
	}
}

func TestNonceTooShort(t *testing.T) {
	engine := NewEngine()
	for _, length := range []int{0, 1, counterSize} {
		if _, err := engine.Nonce(length); !errors.Is(err, ErrNonceTooShort) {
			t.Errorf("Nonce(%d) error = %v, want ErrNonceTooShort", length, err)
		}
	}
}

func TestNonceCounterExhaustion(t *testing.T) {
	engine := NewEngine()
	engine.counter = math.MaxUint64 - 1

	for _, want := range []uint64{math.MaxUint64 - 1, math.MaxUint64} {
		nonce, err := engine.Nonce(gcmNonceSize)
		if err != nil {
			t.Fatalf("Nonce() error before exhaustion: %v", err)
		}
		if counter := binary.BigEndian.Uint64(nonce[4:]); counter != want {
			t.Fatalf("counter = %d, want %d", counter, want)
		}
	}

	for range 2 {
		if _, err := engine.Nonce(gcmNonceSize); !errors.Is(err, ErrNonceCounterExhausted) {
			t.Fatalf("Nonce() after exhaustion error = %v, want ErrNonceCounterExhausted", err)
		}
	}
	if _, err := engine.SealAEAD([]byte("x"), mustKey(t, NewEngine())); !errors.Is(err, ErrNonceCounterExhausted) {
		t.Errorf("SealAEAD() after exhaustion error = %v, want ErrNonceCounterExhausted", err)
	}
}

func TestNonceRandomFailure(t *testing.T) {
	engine := &Engine{random: failingReader{}}
	if _, err := engine.Nonce(gcmNonceSize); err == nil {
		t.Fatal("Nonce() with failing entropy source succeeded")
	}
	if _, err := engine.RandomKey(); err == nil {
		t.Fatal("RandomKey() with failing entropy source succeeded")
	}
}

func TestRandomKey(t *testing.T) {
	engine := NewEngine()
	first := mustKey(t, engine)
	second := mustKey(t, engine)
	if len(first) != KeySize {
		t.Errorf("RandomKey() length = %d, want %d", len(first), KeySize)
	}
	if bytes.Equal(first, second) {
		t.Error("RandomKey() returned the same key twice")
	}
}
