// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive], [RequireSend], [RequireClosed] and [RequireNoReceive]
// wrap the select-with-timeout safety valve so individual tests never
// call time.After themselves. They are the only place in the test
// suite that touches the wall clock; everything timer-driven in the
// code under test runs on [clock.Fake].
//
// [UniqueID] returns monotonically increasing identifiers for tests
// that need distinct session tags, machine IDs or event names.
//
// All helpers fail the test with Fatalf rather than returning errors.
package testutil
