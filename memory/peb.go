// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"errors"
	"fmt"
)

// The PEB is a fixed-layout control block at a known guest address.
// It exposes the address and size of every transfer buffer plus the
// heap to the guest, and carries the one field the guest writes back:
// the dispatch function pointer. The host never writes that field;
// it only reads it before dispatching a call.
//
// Field offsets within the PEB page, all 8-byte little-endian:
const (
	pebGuestErrorAddress    = 0x00
	pebGuestErrorSize       = 0x08
	pebHostFunctionAddress  = 0x10
	pebHostFunctionSize     = 0x18
	pebHostExceptionAddress = 0x20
	pebHostExceptionSize    = 0x28
	pebInputAddress         = 0x30
	pebInputSize            = 0x38
	pebOutputAddress        = 0x40
	pebOutputSize           = 0x48
	pebPanicContextAddress  = 0x50
	pebPanicContextSize     = 0x58
	pebHeapAddress          = 0x60
	pebHeapSize             = 0x68
	pebDispatchPointer      = 0x70
)

// ErrNoDispatchPointer is returned when the guest has not yet
// published its dispatch function address in the PEB.
var ErrNoDispatchPointer = errors.New("memory: guest dispatch function pointer is null")

// PEBAddress returns the control block's guest-physical address,
// passed to the guest entry point in its first argument register.
func (m *Manager) PEBAddress() GuestPtr {
	return m.layout.PEB.GuestAddress()
}

// writePEB fills in every host-owned PEB field. The dispatch pointer
// slot is left zeroed for the guest to fill during its own
// initialisation.
func (m *Manager) writePEB() error {
	base := m.layout.PEB.Offset
	fields := []struct {
		offset Offset
		value  uint64
	}{
		{pebGuestErrorAddress, m.layout.GuestErrorBuffer.GuestAddress().Absolute()},
		{pebGuestErrorSize, m.layout.GuestErrorBuffer.Size},
		{pebHostFunctionAddress, m.layout.HostFunctionBuffer.GuestAddress().Absolute()},
		{pebHostFunctionSize, m.layout.HostFunctionBuffer.Size},
		{pebHostExceptionAddress, m.layout.HostExceptionBuffer.GuestAddress().Absolute()},
		{pebHostExceptionSize, m.layout.HostExceptionBuffer.Size},
		{pebInputAddress, m.layout.InputBuffer.GuestAddress().Absolute()},
		{pebInputSize, m.layout.InputBuffer.Size},
		{pebOutputAddress, m.layout.OutputBuffer.GuestAddress().Absolute()},
		{pebOutputSize, m.layout.OutputBuffer.Size},
		{pebPanicContextAddress, m.layout.PanicContextBuffer.GuestAddress().Absolute()},
		{pebPanicContextSize, m.layout.PanicContextBuffer.Size},
		{pebHeapAddress, m.layout.Heap.GuestAddress().Absolute()},
		{pebHeapSize, m.layout.Heap.Size},
		{pebDispatchPointer, 0},
	}
	for _, f := range fields {
		if err := m.WriteUint64(base+f.offset, f.value); err != nil {
			return err
		}
	}
	return nil
}

// DispatchPointer reads the guest-published dispatch function
// address. Returns ErrNoDispatchPointer while the slot is still null
// and validates that a published address lies above the guest base.
func (m *Manager) DispatchPointer() (GuestPtr, error) {
	raw, err := m.ReadUint64(m.layout.PEB.Offset + pebDispatchPointer)
	if err != nil {
		return GuestPtr{}, err
	}
	if raw == 0 {
		return GuestPtr{}, ErrNoDispatchPointer
	}
	ptr, err := NewGuestPtr(raw)
	if err != nil {
		return GuestPtr{}, fmt.Errorf("guest published invalid dispatch pointer: %w", err)
	}
	return ptr, nil
}
