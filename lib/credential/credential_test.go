// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"bytes"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Enflame-Media/Magic-Agent-sub008/lib/encryption"
	"github.com/Enflame-Media/Magic-Agent-sub008/lib/sealed"
)

func key(fill byte) string {
	return base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{fill}, encryption.KeySize))
}

func TestParseLegacy(t *testing.T) {
	credentials, err := Parse([]byte(`{"token": "tok", "secret": "` + key(7) + `"}`))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	defer credentials.Close()

	if credentials.Variant != encryption.VariantLegacy {
		t.Errorf("Variant = %v, want legacy", credentials.Variant)
	}
	if credentials.Token.String() != "tok" {
		t.Errorf("Token = %q", credentials.Token.String())
	}
	if !bytes.Equal(credentials.Secret.Bytes(), bytes.Repeat([]byte{7}, 32)) {
		t.Error("Secret does not match")
	}
	if credentials.MachineKey != nil || credentials.PublicKey != nil {
		t.Error("legacy credentials carry data key material")
	}
}

func TestParseDataKeyWithComments(t *testing.T) {
	document := `{
		// written by happy auth login
		"token": "tok",
		"encryption": {
			"publicKey": "` + key(1) + `",
			"machineKey": "` + key(2) + `", /* trailing comma below */
		},
	}`
	credentials, err := Parse([]byte(document))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	defer credentials.Close()

	if credentials.Variant != encryption.VariantDataKey {
		t.Errorf("Variant = %v, want dataKey", credentials.Variant)
	}
	if !bytes.Equal(credentials.PublicKey, bytes.Repeat([]byte{1}, 32)) {
		t.Error("PublicKey does not match")
	}
	if !bytes.Equal(credentials.MachineKey.Bytes(), bytes.Repeat([]byte{2}, 32)) {
		t.Error("MachineKey does not match")
	}
}

func TestParseRejects(t *testing.T) {
	short := base64.StdEncoding.EncodeToString([]byte("short"))
	tests := []struct {
		name     string
		document string
		want     string
	}{
		{"not json", `token=abc`, "parsing credentials"},
		{"no token", `{"secret": "` + key(1) + `"}`, "token is required"},
		{"no key material", `{"token": "t"}`, "either secret or encryption"},
		{"bad base64", `{"token": "t", "secret": "!!!"}`, "not valid base64"},
		{"short secret", `{"token": "t", "secret": "` + short + `"}`, "must be 32 bytes"},
		{"short machine key", `{"token": "t", "encryption": {"publicKey": "` + key(1) + `", "machineKey": "` + short + `"}}`, "encryption.machineKey"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Parse([]byte(test.document))
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Errorf("Parse() = %v, want error containing %q", err, test.want)
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "home", "access.key")
	original, err := Parse([]byte(`{"token": "tok", "encryption": {"publicKey": "` + key(3) + `", "machineKey": "` + key(4) + `"}}`))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	defer original.Close()

	if err := original.Save(path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	defer loaded.Close()
	if loaded.Variant != encryption.VariantDataKey || loaded.Token.String() != "tok" {
		t.Errorf("loaded = variant %v token %q", loaded.Variant, loaded.Token.String())
	}
	if !bytes.Equal(loaded.MachineKey.Bytes(), original.MachineKey.Bytes()) {
		t.Error("MachineKey changed across Save/Load")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "access.key"))
	if !errors.Is(err, ErrNotLoggedIn) {
		t.Errorf("Load() error = %v, want ErrNotLoggedIn", err)
	}
}

func newKeyStore(t *testing.T, dir, escrow string) *KeyStore {
	t.Helper()
	store, err := OpenKeyStore(KeyStoreConfig{
		StatePath:       filepath.Join(dir, "keys.age"),
		IdentityPath:    filepath.Join(dir, "identity.age"),
		EscrowRecipient: escrow,
	})
	if err != nil {
		t.Fatalf("OpenKeyStore() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestKeyStorePersistsAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	engine := encryption.NewEngine()

	store := newKeyStore(t, dir, "")
	manager, err := store.Load(encryption.KeyVersionConfig{Engine: engine})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	defer manager.Close()
	if manager.CurrentVersion() != 1 {
		t.Fatalf("fresh manager at version %d", manager.CurrentVersion())
	}

	before, err := manager.Encrypt([]byte("daemon state v1"))
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	if _, err := manager.RotateKey(); err != nil {
		t.Fatalf("RotateKey() error: %v", err)
	}
	if err := store.Save(manager); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	// A second store over the same files stands in for the next run.
	restarted := newKeyStore(t, dir, "")
	if restarted.PublicKey() != store.PublicKey() {
		t.Fatal("identity was regenerated")
	}
	restored, err := restarted.Load(encryption.KeyVersionConfig{Engine: engine})
	if err != nil {
		t.Fatalf("Load() after restart error: %v", err)
	}
	defer restored.Close()

	if restored.CurrentVersion() != 2 {
		t.Errorf("restored version = %d, want 2", restored.CurrentVersion())
	}
	plaintext, err := restored.Decrypt(before)
	if err != nil {
		t.Fatalf("Decrypt() of pre-rotation data error: %v", err)
	}
	if string(plaintext) != "daemon state v1" {
		t.Errorf("plaintext = %q", plaintext)
	}
}

func TestKeyStoreEscrowCanOpenState(t *testing.T) {
	escrow, err := sealed.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity() error: %v", err)
	}
	defer escrow.Close()

	dir := t.TempDir()
	store := newKeyStore(t, dir, escrow.PublicKey)
	manager, err := store.Load(encryption.KeyVersionConfig{Engine: encryption.NewEngine()})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	defer manager.Close()

	ciphertext, err := os.ReadFile(filepath.Join(dir, "keys.age"))
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	plaintext, err := sealed.Open(ciphertext, escrow.PrivateKey)
	if err != nil {
		t.Fatalf("escrow could not open key state: %v", err)
	}
	defer plaintext.Close()

	recovered, err := encryption.ImportKeyVersionManager(plaintext.Bytes(), encryption.KeyVersionConfig{Engine: encryption.NewEngine()})
	if err != nil {
		t.Fatalf("ImportKeyVersionManager() error: %v", err)
	}
	defer recovered.Close()
	if !bytes.Equal(recovered.CurrentKey(), manager.CurrentKey()) {
		t.Error("escrow recovered a different key")
	}
}

func TestOpenKeyStoreRejectsBadEscrow(t *testing.T) {
	dir := t.TempDir()
	_, err := OpenKeyStore(KeyStoreConfig{
		StatePath:       filepath.Join(dir, "keys.age"),
		IdentityPath:    filepath.Join(dir, "identity.age"),
		EscrowRecipient: "age1notakey",
	})
	if err == nil || !strings.Contains(err.Error(), "escrow") {
		t.Errorf("OpenKeyStore() = %v, want escrow error", err)
	}
}
