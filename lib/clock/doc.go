// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for the sandbox engine's timeout paths.
//
// The engine has exactly two time-sensitive operations: the
// max-execution-time timer armed around every guest call, and the
// max-wait-for-cancellation budget applied while waiting for the vCPU
// thread to acknowledge a forced exit. Both accept a [Clock] so that
// tests drive them with [Fake] instead of real wall-clock waits.
//
// [Real] returns the production implementation backed by the standard
// time package. [Fake] returns a deterministic clock whose time only
// moves when Advance is called.
//
// This package has no dependencies on the rest of the module.
package clock
