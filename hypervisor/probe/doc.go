// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package probe selects a hypervisor backend for the current host.
// On Linux it prefers KVM and falls back to the Hyper-V driver; on
// Windows it uses the Windows Hypervisor Platform. Probing is cheap
// and side-effect free, so callers may probe at startup and again
// before each construction.
package probe
