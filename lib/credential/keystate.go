// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/Enflame-Media/Magic-Agent-sub008/lib/encryption"
	"github.com/Enflame-Media/Magic-Agent-sub008/lib/sealed"
	"github.com/Enflame-Media/Magic-Agent-sub008/lib/secret"
	"github.com/Enflame-Media/Magic-Agent-sub008/lib/statefile"
)

// KeyStoreConfig locates the sealed key state.
type KeyStoreConfig struct {
	// StatePath is the sealed key state file.
	StatePath string

	// IdentityPath holds the age private key that seals StatePath. It
	// is generated on first use.
	IdentityPath string

	// EscrowRecipient is an optional age1... public key that can also
	// open the key state, allowing an operator to recover it without
	// this machine's identity.
	EscrowRecipient string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// KeyStore persists a KeyVersionManager across restarts.
type KeyStore struct {
	statePath  string
	identity   *sealed.Identity
	recipients []string
	logger     *slog.Logger
}

// OpenKeyStore loads the local identity, creating it if needed.
func OpenKeyStore(config KeyStoreConfig) (*KeyStore, error) {
	if config.StatePath == "" || config.IdentityPath == "" {
		return nil, fmt.Errorf("credential: key store requires a state path and an identity path")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	identity, err := loadOrCreateIdentity(config.IdentityPath, logger)
	if err != nil {
		return nil, err
	}

	recipients := []string{identity.PublicKey}
	if config.EscrowRecipient != "" {
		if err := sealed.ParseRecipient(config.EscrowRecipient); err != nil {
			identity.Close()
			return nil, fmt.Errorf("credential: invalid escrow recipient: %w", err)
		}
		recipients = append(recipients, config.EscrowRecipient)
	}

	return &KeyStore{
		statePath:  config.StatePath,
		identity:   identity,
		recipients: recipients,
		logger:     logger,
	}, nil
}

func loadOrCreateIdentity(path string, logger *slog.Logger) (*sealed.Identity, error) {
	data, found, err := statefile.Read(path)
	if err != nil {
		return nil, fmt.Errorf("credential: %w", err)
	}
	if found {
		defer secret.Zero(data)
		privateKey, err := secret.NewFromBytes(bytes.TrimSpace(data))
		if err != nil {
			return nil, fmt.Errorf("credential: %s: %w", path, err)
		}
		publicKey, err := sealed.PublicKeyOf(privateKey)
		if err != nil {
			privateKey.Close()
			return nil, fmt.Errorf("credential: %s: %w", path, err)
		}
		return &sealed.Identity{PrivateKey: privateKey, PublicKey: publicKey}, nil
	}

	identity, err := sealed.GenerateIdentity()
	if err != nil {
		return nil, err
	}
	encoded := append(bytes.Clone(identity.PrivateKey.Bytes()), '\n')
	defer secret.Zero(encoded)
	if err := statefile.Write(path, encoded); err != nil {
		identity.Close()
		return nil, fmt.Errorf("credential: %w", err)
	}
	logger.Info("generated key state identity", "path", path, "public_key", identity.PublicKey)
	return identity, nil
}

// PublicKey returns the local identity's age recipient.
func (s *KeyStore) PublicKey() string { return s.identity.PublicKey }

// Load restores the persisted manager. When no state exists yet, a
// manager with one fresh key is created and saved. The caller owns the
// returned manager.
func (s *KeyStore) Load(config encryption.KeyVersionConfig) (*encryption.KeyVersionManager, error) {
	data, found, err := statefile.Read(s.statePath)
	if err != nil {
		return nil, fmt.Errorf("credential: %w", err)
	}

	if !found {
		if config.Engine == nil {
			return nil, fmt.Errorf("credential: KeyVersionConfig.Engine is required")
		}
		key, err := config.Engine.RandomKey()
		if err != nil {
			return nil, err
		}
		defer secret.Zero(key)
		manager, err := encryption.NewKeyVersionManager(key, config)
		if err != nil {
			return nil, err
		}
		if err := s.Save(manager); err != nil {
			manager.Close()
			return nil, err
		}
		s.logger.Info("created key state", "path", s.statePath, "version", manager.CurrentVersion())
		return manager, nil
	}

	plaintext, err := sealed.Open(data, s.identity.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("credential: opening %s: %w", s.statePath, err)
	}
	defer plaintext.Close()

	manager, err := encryption.ImportKeyVersionManager(plaintext.Bytes(), config)
	if err != nil {
		return nil, fmt.Errorf("credential: %s: %w", s.statePath, err)
	}
	s.logger.Debug("loaded key state",
		"path", s.statePath,
		"version", manager.CurrentVersion(),
		"retained", len(manager.Versions()),
	)
	return manager, nil
}

// Save seals the manager's exported state to the identity and the
// escrow recipient, then replaces the state file atomically.
func (s *KeyStore) Save(manager *encryption.KeyVersionManager) error {
	exported, err := manager.Export()
	if err != nil {
		return err
	}
	defer secret.Zero(exported)

	ciphertext, err := sealed.Seal(exported, s.recipients)
	if err != nil {
		return fmt.Errorf("credential: sealing key state: %w", err)
	}
	if err := statefile.Write(s.statePath, ciphertext); err != nil {
		return fmt.Errorf("credential: %w", err)
	}
	return nil
}

// Close releases the identity. Idempotent.
func (s *KeyStore) Close() error {
	return s.identity.Close()
}
