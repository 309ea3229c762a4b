// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds bearer tokens and raw key material outside the Go
// heap.
//
// A [Buffer] is an anonymous mmap region, excluded from core dumps and
// locked into RAM where the process's memlock limit allows. The garbage
// collector never copies it, and [Buffer.Close] zeroes it before
// unmapping. The sync client keeps the account token here; the
// encryption package's key-state export hands raw keys over in Buffers.
package secret
