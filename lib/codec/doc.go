// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the module's standard CBOR configuration.
//
// The engine uses two serialization formats with a clear boundary:
//
//   - The guest wire format (package protocol) is a hand-rolled,
//     size-prefixed little-endian binary layout. It is bit-exact by
//     contract — the guest-side implementation must produce identical
//     bytes — so no general-purpose codec may touch it.
//   - CBOR for host-side metadata: snapshot archive headers written
//     by memory.Manager and the machine-readable output of
//     cmd/microvm.
//
// This package centralizes the CBOR encoding and decoding modes so
// every caller encodes identically. The encoder uses Core
// Deterministic Encoding (RFC 8949 §4.2): sorted map keys, smallest
// integer encoding, no indefinite-length items.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (archive files):
//
//	encoder := codec.NewEncoder(w)
//	decoder := codec.NewDecoder(r)
package codec
