// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package credential manages the daemon's secrets on disk.
//
// Two files are involved:
//   - access.key, written at login, holds the bearer token and either
//     the legacy shared secret or the account content public key plus
//     this machine's data key. It is JSON and tolerates comments.
//   - the key state file holds an exported KeyVersionManager, sealed
//     with age to a local identity and, optionally, an operator escrow
//     recipient so the state can be recovered without the machine.
//
// Secrets read from disk are moved into secret.Buffer values as soon as
// they are decoded. Callers own every Buffer they receive and must close
// it.
package credential
