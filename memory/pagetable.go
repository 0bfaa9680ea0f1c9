// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package memory

// 64-bit page table entry bits.
const (
	pteFlagPresent  = 1 << 0
	pteFlagWritable = 1 << 1
	pteFlagPageSize = 1 << 7 // 2 MiB pages in a PD entry
)

// pdEntryCount is the number of 2 MiB entries in the single page
// directory, covering 1 GiB of guest virtual address space.
const pdEntryCount = 512

// writePageTables builds the flat identity paging hierarchy the guest
// runs under: one PML4 entry, one PDPT entry, and 512 2 MiB page
// directory entries mapping virtual address X to physical address X.
// The first PD entry is left non-present so that the guest's first
// 2 MiB — including the null page — faults on access.
func (m *Manager) writePageTables() error {
	pml4Entry := (BaseAddress + uint64(m.layout.PDPT.Offset)) | pteFlagPresent | pteFlagWritable
	if err := m.WriteUint64(m.layout.PML4.Offset, pml4Entry); err != nil {
		return err
	}
	pdptEntry := (BaseAddress + uint64(m.layout.PD.Offset)) | pteFlagPresent | pteFlagWritable
	if err := m.WriteUint64(m.layout.PDPT.Offset, pdptEntry); err != nil {
		return err
	}
	for i := 1; i < pdEntryCount; i++ {
		entry := (uint64(i) << 21) | pteFlagPresent | pteFlagWritable | pteFlagPageSize
		if err := m.WriteUint64(m.layout.PD.Offset+Offset(i*8), entry); err != nil {
			return err
		}
	}
	return nil
}

// PML4Address returns the guest-physical address of the paging root,
// programmed into CR3 by the hypervisor backends.
func (m *Manager) PML4Address() uint64 {
	return BaseAddress + uint64(m.layout.PML4.Offset)
}
