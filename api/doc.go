// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package api is the session and machine sync client for the Happy relay
// server.
//
// A Client holds the account credentials and issues the HTTP calls that
// create sessions and register machines. Everything it sends is encrypted
// client side: legacy accounts use secretbox under the shared account
// secret, dataKey accounts use AES-256-GCM under a per-object data key
// that is itself sealed to the account's content public key and sent
// along as the object's dataEncryptionKey. The scheme is fixed when the
// object is created and recorded in its Variant.
//
// Live objects are driven over the transport socket:
//
//	session, err := client.GetOrCreateSession(ctx, api.SessionRequest{Metadata: metadata})
//	sessionClient, err := client.OpenSession(session)
//	outcome, err := sessionClient.UpdateMetadata(ctx, func(current json.RawMessage) (any, error) {
//	    ...
//	})
//
// Metadata and state updates are optimistic: each carries the version it
// was computed from, and a version mismatch is reported as an
// UpdateOutcome rather than an error. Machine registration and vendor
// token registration are coalesced per key so concurrent callers share
// one request. Dispose tears everything down.
package api
