// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the wire contract between host and guest:
// the binary encoding of function calls and return values, the OutB
// trap actions, the guest error block, and guest log records.
//
// The encoding is a fixed, size-prefixed little-endian layout — the
// first 4 bytes carry the length of the remainder, a 1-byte tag
// selects the payload kind. It is bit-exact by contract: the guest's
// implementation must produce identical bytes, so this package is
// hand-rolled rather than built on a general-purpose codec, and the
// tag values are protocol constants that must never change.
//
// Decoding is defensive throughout. The buffers these records travel
// through are guest-writable, so every length is bounds-checked and a
// truncated or malformed record is an error, never a panic.
package protocol
