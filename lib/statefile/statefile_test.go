// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package statefile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "keys.age")

	if err := Write(path, []byte("first")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := Write(path, []byte("second")); err != nil {
		t.Fatalf("Write (overwrite): %v", err)
	}

	data, found, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !found {
		t.Fatal("Read: found = false after Write")
	}
	if string(data) != "second" {
		t.Errorf("Read = %q, want %q", data, "second")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		t.Errorf("file mode = %o, want 600", mode)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temporary file left behind: %v", err)
	}
}

func TestReadMissing(t *testing.T) {
	data, found, err := Read(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if found || data != nil {
		t.Errorf("Read(missing) = (%q, %v), want (nil, false)", data, found)
	}
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state")
	if err := Write(path, []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := Remove(path); err != nil {
		t.Fatalf("Remove (already gone): %v", err)
	}
	if _, found, _ := Read(path); found {
		t.Error("file still present after Remove")
	}
}
