// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/Enflame-Media/Magic-Agent-sub008/api"
	"github.com/Enflame-Media/Magic-Agent-sub008/lib/encryption"
	"github.com/Enflame-Media/Magic-Agent-sub008/lib/statefile"
)

// localState is the daemon.state file that local tools read to find the
// running daemon. It holds the DaemonState JSON as a keyed AEAD bundle,
// so it stays readable across key rotations while the version is
// retained.
type localState struct {
	path   string
	cipher encryption.Cipher
}

func (s *localState) write(state api.DaemonState) error {
	bundle, err := encryption.EncryptJSON(s.cipher, state)
	if err != nil {
		return fmt.Errorf("encrypting daemon state: %w", err)
	}
	if err := statefile.Write(s.path, bundle); err != nil {
		return fmt.Errorf("writing daemon state: %w", err)
	}
	return nil
}

// read returns the stored state. found is false when no file exists.
func (s *localState) read() (state api.DaemonState, found bool, err error) {
	data, found, err := statefile.Read(s.path)
	if err != nil || !found {
		return api.DaemonState{}, found, err
	}
	if err := encryption.DecryptJSON(s.cipher, data, &state); err != nil {
		return api.DaemonState{}, true, fmt.Errorf("decrypting %s: %w", s.path, err)
	}
	return state, true, nil
}
