// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package memory

// Perm is a guest memory permission set.
type Perm uint8

const (
	PermRead  Perm = 1 << 0
	PermWrite Perm = 1 << 1
	PermExec  Perm = 1 << 2
)

// Mapping ties a guest-physical range to the host-virtual range
// backing it, with the permissions the guest gets. The hypervisor
// backends install one slot per Mapping.
type Mapping struct {
	GuestStart uint64
	HostBase   uintptr
	Size       uint64
	Perms      Perm
}

// GuestEnd returns the first guest address past the mapping.
func (r Mapping) GuestEnd() uint64 { return r.GuestStart + r.Size }

// Mappings returns the guest's entire physical memory map: contiguous
// pieces of the shared region from the fixed base, with a hole at the
// guard page so that runaway stack growth exits to the host as an
// MMIO fault instead of corrupting the heap.
func (m *Manager) Mappings() []Mapping {
	base := m.HostBase()
	piece := func(start, end Offset, perms Perm) Mapping {
		return Mapping{
			GuestStart: BaseAddress + uint64(start),
			HostBase:   base + uintptr(start),
			Size:       uint64(end - start),
			Perms:      perms,
		}
	}
	return []Mapping{
		// Page tables, PEB, and transfer buffers.
		piece(0, m.layout.Code.Offset, PermRead|PermWrite),
		// Guest code.
		piece(m.layout.Code.Offset, m.layout.Code.End(), PermRead|PermExec),
		// Heap, up to the guard page hole.
		piece(m.layout.Heap.Offset, m.layout.GuardPage.Offset, PermRead|PermWrite),
		// Stack, above the hole.
		piece(m.layout.Stack.Offset, Offset(m.layout.TotalSize), PermRead|PermWrite),
	}
}
