// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hypervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/microvm/memory"
)

var (
	// ErrUnavailable means no hypervisor backend is usable on this
	// host.
	ErrUnavailable = errors.New("no hypervisor available")

	// ErrGuestFault means the guest touched an unmapped guest
	// physical address. The stack guard page surfaces this way.
	ErrGuestFault = errors.New("guest memory fault")

	// ErrCancelled means a run was interrupted by Kick or a context
	// deadline before the guest halted.
	ErrCancelled = errors.New("guest execution cancelled")

	// ErrDriverClosed means the driver was closed while or before a
	// run was submitted.
	ErrDriverClosed = errors.New("hypervisor driver closed")
)

// Handlers are the host-side trap handlers a driver invokes during a
// run. Both run on the vCPU goroutine with the guest stopped. A
// non-nil error aborts the run and is returned from Initialise or
// Dispatch.
type Handlers struct {
	// OutB handles a guest write of one byte to an I/O port.
	OutB func(port uint16, value byte) error

	// MemFault handles a guest access to an unmapped guest physical
	// address. The run always fails afterwards; the handler's error,
	// when non-nil, replaces the generic ErrGuestFault.
	MemFault func(gpa uint64, size uint64) error
}

// Params configures a driver at construction. The mapping list and
// register seed come straight from the memory layout.
type Params struct {
	// Mappings is the guest physical memory map. Holes between
	// mappings are intentional; guest access to one raises MemFault.
	Mappings []memory.Mapping

	// PageTable is the guest physical address of the PML4 root.
	PageTable uint64

	// EntryPoint is the guest virtual address execution starts at on
	// Initialise.
	EntryPoint uint64

	// StackPointer is the initial RSP. Dispatch resets RSP to this
	// value before every call, so guest stack damage from an
	// interrupted run cannot leak into the next one.
	StackPointer uint64

	// PEB is the guest address of the control block, passed to the
	// entry point in RDI.
	PEB uint64

	// Seed is passed to the entry point in RSI for guest-side
	// randomization.
	Seed uint64

	Handlers Handlers

	// Logger receives driver diagnostics. Nil disables them.
	Logger *slog.Logger
}

// Validate rejects parameter sets no backend could run.
func (p *Params) Validate() error {
	if len(p.Mappings) == 0 {
		return fmt.Errorf("driver params: no memory mappings")
	}
	if p.EntryPoint == 0 {
		return fmt.Errorf("driver params: zero entry point")
	}
	if p.StackPointer == 0 {
		return fmt.Errorf("driver params: zero stack pointer")
	}
	if p.PageTable == 0 {
		return fmt.Errorf("driver params: zero page table root")
	}
	return nil
}

// Driver is one guest with one virtual CPU. Implementations are safe
// for use by one controlling goroutine plus any number of concurrent
// Kick callers.
type Driver interface {
	// Initialise runs the guest from the entry point until it halts.
	// Called exactly once, before any Dispatch.
	Initialise(ctx context.Context) error

	// Dispatch resets RSP and runs the guest from the given address
	// until it halts. The address is the guest's registered dispatch
	// routine.
	Dispatch(ctx context.Context, addr uint64) error

	// Kick forces a run in flight to exit with ErrCancelled. A kick
	// with no run in flight is a no-op.
	Kick()

	// Close releases the virtual machine. The driver is unusable
	// afterwards.
	Close() error
}
