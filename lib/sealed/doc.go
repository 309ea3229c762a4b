// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts the daemon's exported key state at rest with
// age x25519 recipients (filippo.io/age).
//
// A KeyVersionManager export contains raw key material. Before it
// touches disk it is sealed to one or more age public keys, usually
// the machine's own identity plus an optional escrow key, and only a
// holder of a matching identity can restore it. Identities and opened
// plaintext are held in [secret.Buffer] values.
package sealed
