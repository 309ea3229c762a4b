// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package encryption

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/Enflame-Media/Magic-Agent-sub008/lib/clock"
	"github.com/Enflame-Media/Magic-Agent-sub008/lib/codec"
	"github.com/Enflame-Media/Magic-Agent-sub008/lib/secret"
)

// DefaultKeyRetention is the number of key versions kept decryptable
// when KeyVersionConfig.Retention is zero.
const DefaultKeyRetention = 10

// KeyVersionConfig configures a KeyVersionManager.
type KeyVersionConfig struct {
	// Engine issues nonces and fresh keys. Required.
	Engine *Engine

	// Retention bounds how many versions are kept. Zero means
	// DefaultKeyRetention.
	Retention int

	// Lifetime sets ExpiresAt on new versions. Expired versions other
	// than the current one are pruned at the next rotation. Zero means
	// versions never expire.
	Lifetime time.Duration

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// OnRotate, if set, is called after every successful rotation with
	// the new current version, outside the manager's lock. The daemon
	// uses it to persist the exported state.
	OnRotate func(version uint16)
}

// KeyVersionInfo describes one retained key version without its key.
type KeyVersionInfo struct {
	Version     uint16
	Fingerprint string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

type keyVersion struct {
	version   uint16
	key       *secret.Buffer
	createdAt time.Time
	expiresAt time.Time
}

// KeyVersionManager owns an ordered set of AES-256-GCM keys. It encrypts
// with the newest version and decrypts any retained one. It implements
// Cipher for the dataKey variant, writing format 0x01 bundles.
type KeyVersionManager struct {
	engine    *Engine
	clock     clock.Clock
	logger    *slog.Logger
	retention int
	lifetime  time.Duration
	onRotate  func(uint16)

	mu       sync.RWMutex
	versions []*keyVersion // ascending by version
	closed   bool

	rotationMu       sync.Mutex
	rotationTimer    *clock.Timer
	rotationInterval time.Duration
}

// NewKeyVersionManager creates a manager whose version 1 is initialKey.
func NewKeyVersionManager(initialKey []byte, config KeyVersionConfig) (*KeyVersionManager, error) {
	if err := checkKey(initialKey); err != nil {
		return nil, err
	}
	manager, err := newManager(config)
	if err != nil {
		return nil, err
	}
	if _, err := manager.appendLocked(initialKey); err != nil {
		return nil, err
	}
	return manager, nil
}

func newManager(config KeyVersionConfig) (*KeyVersionManager, error) {
	if config.Engine == nil {
		return nil, errors.New("encryption: KeyVersionConfig.Engine is required")
	}
	if config.Retention < 0 {
		return nil, fmt.Errorf("encryption: retention must not be negative, got %d", config.Retention)
	}
	manager := &KeyVersionManager{
		engine:    config.Engine,
		clock:     config.Clock,
		logger:    config.Logger,
		retention: config.Retention,
		lifetime:  config.Lifetime,
		onRotate:  config.OnRotate,
	}
	if manager.clock == nil {
		manager.clock = clock.Real()
	}
	if manager.logger == nil {
		manager.logger = slog.Default()
	}
	if manager.retention == 0 {
		manager.retention = DefaultKeyRetention
	}
	return manager, nil
}

// appendLocked adds key as the next version and prunes. The caller
// holds mu or has exclusive access.
func (m *KeyVersionManager) appendLocked(key []byte) (uint16, error) {
	var next uint16 = 1
	if len(m.versions) > 0 {
		current := m.versions[len(m.versions)-1].version
		if current == math.MaxUint16 {
			return 0, ErrKeyVersionsExhausted
		}
		next = current + 1
	}

	buffer, err := secret.NewFromBytes(append([]byte(nil), key...))
	if err != nil {
		return 0, fmt.Errorf("encryption: protecting key: %w", err)
	}
	now := m.clock.Now()
	entry := &keyVersion{version: next, key: buffer, createdAt: now}
	if m.lifetime > 0 {
		entry.expiresAt = now.Add(m.lifetime)
	}
	m.versions = append(m.versions, entry)
	m.pruneLocked(now)
	return next, nil
}

// pruneLocked drops expired non-current versions, then the oldest
// versions beyond the retention bound.
func (m *KeyVersionManager) pruneLocked(now time.Time) {
	kept := m.versions[:0]
	last := len(m.versions) - 1
	for index, entry := range m.versions {
		if index != last && !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			m.logger.Debug("pruning expired key version", "version", entry.version)
			entry.key.Close()
			continue
		}
		kept = append(kept, entry)
	}
	for index := len(kept); index < len(m.versions); index++ {
		m.versions[index] = nil
	}
	m.versions = kept

	for len(m.versions) > m.retention {
		oldest := m.versions[0]
		m.logger.Debug("pruning key version beyond retention",
			"version", oldest.version,
			"retention", m.retention,
		)
		oldest.key.Close()
		m.versions[0] = nil
		m.versions = m.versions[1:]
	}
}

func (m *KeyVersionManager) findLocked(version uint16) *keyVersion {
	for _, entry := range m.versions {
		if entry.version == version {
			return entry
		}
	}
	return nil
}

func (m *KeyVersionManager) currentLocked() *keyVersion {
	return m.versions[len(m.versions)-1]
}

// Variant reports VariantDataKey.
func (m *KeyVersionManager) Variant() Variant { return VariantDataKey }

// CurrentVersion returns the version new bundles are written with.
func (m *KeyVersionManager) CurrentVersion() uint16 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentLocked().version
}

// CurrentKey returns a copy of the current key.
func (m *KeyVersionManager) CurrentKey() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.currentLocked().key.Bytes()...)
}

// Key returns a copy of the key for version, or false if the version
// was never created or has been pruned.
func (m *KeyVersionManager) Key(version uint16) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry := m.findLocked(version)
	if entry == nil {
		return nil, false
	}
	return append([]byte(nil), entry.key.Bytes()...), true
}

// Versions describes every retained version, oldest first.
func (m *KeyVersionManager) Versions() []KeyVersionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	infos := make([]KeyVersionInfo, 0, len(m.versions))
	for _, entry := range m.versions {
		infos = append(infos, KeyVersionInfo{
			Version:     entry.version,
			Fingerprint: fingerprint(entry.key.Bytes()),
			CreatedAt:   entry.createdAt,
			ExpiresAt:   entry.expiresAt,
		})
	}
	return infos
}

// fingerprint is a short BLAKE3 digest of key, safe to log.
func fingerprint(key []byte) string {
	digest := blake3.Sum256(key)
	return hex.EncodeToString(digest[:8])
}

// RotateKey appends a freshly generated key as the new current version.
func (m *KeyVersionManager) RotateKey() (uint16, error) {
	key, err := m.engine.RandomKey()
	if err != nil {
		return 0, err
	}
	defer clear(key)
	return m.RotateTo(key)
}

// RotateTo appends key as the new current version.
func (m *KeyVersionManager) RotateTo(key []byte) (uint16, error) {
	if err := checkKey(key); err != nil {
		return 0, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, errors.New("encryption: key version manager is closed")
	}
	version, err := m.appendLocked(key)
	if err != nil {
		m.mu.Unlock()
		return 0, err
	}
	current := m.currentLocked()
	retained := len(m.versions)
	m.mu.Unlock()

	m.logger.Info("rotated encryption key",
		"version", version,
		"fingerprint", fingerprint(key),
		"retained", retained,
		"created_at", current.createdAt,
	)
	if m.onRotate != nil {
		m.onRotate(version)
	}
	return version, nil
}

// Encrypt seals plaintext with the current key as a format 0x01 bundle.
func (m *KeyVersionManager) Encrypt(plaintext []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errors.New("encryption: key version manager is closed")
	}
	current := m.currentLocked()
	return m.engine.sealKeyed(plaintext, current.key.Bytes(), current.version)
}

// Decrypt opens a bundle of either AEAD format. Format 0x00 uses the
// current key. A pruned or unknown version yields ErrDecryptionFailed.
func (m *KeyVersionManager) Decrypt(data []byte) ([]byte, error) {
	parsed, err := parseBundle(data)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("%w: key version manager is closed", ErrDecryptionFailed)
	}

	entry := m.currentLocked()
	if parsed.format == FormatKeyedAEAD {
		entry = m.findLocked(parsed.keyVersion)
		if entry == nil {
			return nil, fmt.Errorf("%w: key version %d is not retained", ErrDecryptionFailed, parsed.keyVersion)
		}
	}
	return openGCM(entry.key.Bytes(), parsed)
}

// StartAutoRotation rotates every interval until StopAutoRotation or
// Close. Calling it again replaces the previous schedule.
func (m *KeyVersionManager) StartAutoRotation(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("encryption: auto-rotation interval must be positive, got %v", interval)
	}
	m.rotationMu.Lock()
	defer m.rotationMu.Unlock()
	if m.rotationTimer != nil {
		m.rotationTimer.Stop()
	}
	m.rotationInterval = interval
	m.scheduleLocked()
	return nil
}

// StopAutoRotation cancels automatic rotation. Safe to call when no
// schedule is active.
func (m *KeyVersionManager) StopAutoRotation() {
	m.rotationMu.Lock()
	defer m.rotationMu.Unlock()
	if m.rotationTimer != nil {
		m.rotationTimer.Stop()
		m.rotationTimer = nil
	}
	m.rotationInterval = 0
}

func (m *KeyVersionManager) scheduleLocked() {
	interval := m.rotationInterval
	var timer *clock.Timer
	timer = m.clock.AfterFunc(interval, func() {
		m.rotationMu.Lock()
		if m.rotationTimer != timer {
			m.rotationMu.Unlock()
			return
		}
		m.rotationMu.Unlock()

		if _, err := m.RotateKey(); err != nil {
			m.logger.Error("automatic key rotation failed", "error", err)
		}

		m.rotationMu.Lock()
		if m.rotationTimer == timer {
			m.scheduleLocked()
		}
		m.rotationMu.Unlock()
	})
	m.rotationTimer = timer
}

// Close stops auto-rotation and zeroes every retained key. Idempotent.
func (m *KeyVersionManager) Close() error {
	m.StopAutoRotation()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	var errs []error
	for _, entry := range m.versions {
		if err := entry.key.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// exportedState is the CBOR layout of Export. Integer keys keep the
// encoding compact and stable.
type exportedState struct {
	Retention int               `cbor:"1,keyasint"`
	Versions  []exportedVersion `cbor:"2,keyasint"`
}

type exportedVersion struct {
	Version   uint16 `cbor:"1,keyasint"`
	Key       []byte `cbor:"2,keyasint"`
	CreatedAt int64  `cbor:"3,keyasint"`
	ExpiresAt int64  `cbor:"4,keyasint,omitempty"`
}

// Export serializes every retained version, keys included. The result
// is key material: seal it before it leaves memory.
func (m *KeyVersionManager) Export() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errors.New("encryption: key version manager is closed")
	}

	state := exportedState{Retention: m.retention}
	for _, entry := range m.versions {
		exported := exportedVersion{
			Version:   entry.version,
			Key:       entry.key.Bytes(),
			CreatedAt: entry.createdAt.UnixMilli(),
		}
		if !entry.expiresAt.IsZero() {
			exported.ExpiresAt = entry.expiresAt.UnixMilli()
		}
		state.Versions = append(state.Versions, exported)
	}
	return codec.Marshal(state)
}

// ImportKeyVersionManager restores a manager from Export output. A
// non-zero config.Retention overrides the exported bound.
func ImportKeyVersionManager(data []byte, config KeyVersionConfig) (*KeyVersionManager, error) {
	var state exportedState
	if err := codec.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("encryption: decoding key state: %w", err)
	}
	if len(state.Versions) == 0 {
		return nil, errors.New("encryption: key state holds no versions")
	}
	if config.Retention == 0 {
		config.Retention = state.Retention
	}
	manager, err := newManager(config)
	if err != nil {
		return nil, err
	}

	var previous uint16
	for _, exported := range state.Versions {
		if exported.Version <= previous {
			manager.Close()
			return nil, fmt.Errorf("encryption: key state versions out of order at %d", exported.Version)
		}
		if err := checkKey(exported.Key); err != nil {
			manager.Close()
			return nil, fmt.Errorf("encryption: key version %d: %w", exported.Version, err)
		}
		buffer, err := secret.NewFromBytes(exported.Key)
		if err != nil {
			manager.Close()
			return nil, fmt.Errorf("encryption: protecting key: %w", err)
		}
		entry := &keyVersion{
			version:   exported.Version,
			key:       buffer,
			createdAt: time.UnixMilli(exported.CreatedAt),
		}
		if exported.ExpiresAt != 0 {
			entry.expiresAt = time.UnixMilli(exported.ExpiresAt)
		}
		manager.versions = append(manager.versions, entry)
		previous = exported.Version
	}
	manager.pruneLocked(manager.clock.Now())
	return manager, nil
}
