// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hypervisor abstracts the platform virtualization APIs behind
// a single Driver interface. A driver owns exactly one guest with one
// virtual CPU, pre-programmed for 64-bit long mode with paging already
// live at entry. The sandbox layer talks only to this interface; the
// kvm, mshv and whp subpackages provide the platform backends.
//
// A driver's virtual CPU runs on a dedicated OS-locked goroutine.
// Initialise and Dispatch submit work to that goroutine and block for
// the outcome; Kick interrupts a run in flight from any goroutine.
// Trap handlers registered in Params execute on the vCPU goroutine
// while the guest is stopped, so they may touch guest memory freely.
package hypervisor
