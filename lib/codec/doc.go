// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the module's single CBOR configuration.
//
// JSON stays the format for everything that crosses the wire to the
// relay server (HTTP bodies, socket frames, encrypted payload
// plaintext), because the server and the mobile clients speak JSON.
// CBOR is used for state this process writes for itself: the exported
// key-version state that lib/sealed encrypts and lib/statefile persists.
//
// Encoding is RFC 8949 Core Deterministic, so the same key state always
// produces the same bytes. Types that are only ever CBOR use `cbor`
// struct tags.
package codec
