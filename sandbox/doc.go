// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox creates isolated execution environments for
// untrusted guest code using hardware virtualization.
//
// The lifecycle is a typestate progression. [New] produces an
// [Uninitialized] sandbox: memory is laid out, the guest image is
// loaded, host functions can still be registered, but the guest has
// never executed. [Uninitialized.Evolve] runs the guest's
// initialisation to completion and consumes the value, producing a
// [MultiUse] sandbox; [Uninitialized.EvolveSingleUse] produces a
// [SingleUse] sandbox that performs exactly one call and is then
// spent.
//
// Calls on a MultiUse sandbox go through a [CallContext]. Only one
// context can be live at a time. Guest state persists across calls
// within a context and rolls back to the post-initialisation snapshot
// when the context finishes, so contexts never observe each other's
// effects.
//
// A sandbox that can no longer vouch for its own integrity (a stack
// overflow, a forced exit the vCPU never acknowledged) poisons
// itself: every later call fails with [ErrPoisoned] and the only
// useful operation left is Close.
package sandbox
