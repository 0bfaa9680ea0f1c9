// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package binhash provides BLAKE3 content hashing for guest binaries.
//
// A guest image digest identifies the exact code a sandbox was built
// from. Snapshot archives record it so a restore against a different
// build of the same guest is rejected instead of silently resuming
// with mismatched code, and log output carries it so runs of the same
// image correlate across hosts.
//
// The API surface is four functions:
//
//   - [HashFile] -- streams a file through BLAKE3, returning a
//     [32]byte digest with constant memory usage regardless of size
//   - [HashBytes] -- digests an in-memory image
//   - [FormatDigest] -- converts a [32]byte digest to its canonical
//     hex-encoded string representation, used in archives and logs
//   - [ParseDigest] -- parses a hex-encoded digest string back to a
//     [32]byte array, validating length and encoding
//
// This package has no dependencies on other packages in this module.
package binhash
