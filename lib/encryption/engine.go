// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package encryption

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
)

// KeySize is the length of every symmetric key.
const KeySize = 32

const counterSize = 8

// Engine issues hybrid nonces and performs the encrypt side of every
// payload family. It is safe for concurrent use. The zero value is not
// usable; call NewEngine.
type Engine struct {
	random io.Reader

	mu        sync.Mutex
	counter   uint64
	exhausted bool
}

// NewEngine returns an Engine reading randomness from crypto/rand.
func NewEngine() *Engine {
	return &Engine{random: rand.Reader}
}

// Nonce returns a length-byte nonce: length-8 random bytes followed by
// the big-endian counter value. The counter advances by one per call.
func (e *Engine) Nonce(length int) ([]byte, error) {
	if length <= counterSize {
		return nil, fmt.Errorf("%w: got %d", ErrNonceTooShort, length)
	}

	e.mu.Lock()
	if e.exhausted {
		e.mu.Unlock()
		return nil, ErrNonceCounterExhausted
	}
	value := e.counter
	if value == math.MaxUint64 {
		e.exhausted = true
	} else {
		e.counter++
	}
	e.mu.Unlock()

	nonce := make([]byte, length)
	prefix := length - counterSize
	if _, err := io.ReadFull(e.random, nonce[:prefix]); err != nil {
		return nil, fmt.Errorf("encryption: reading nonce prefix: %w", err)
	}
	binary.BigEndian.PutUint64(nonce[prefix:], value)
	return nonce, nil
}

// RandomKey returns a fresh KeySize-byte key.
func (e *Engine) RandomKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(e.random, key); err != nil {
		return nil, fmt.Errorf("encryption: generating key: %w", err)
	}
	return key, nil
}

func checkKey(key []byte) error {
	if len(key) != KeySize {
		return fmt.Errorf("%w: got %d", ErrInvalidKeyLength, len(key))
	}
	return nil
}
