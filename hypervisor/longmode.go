// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hypervisor

// Control register and EFER bits for entering 64-bit long mode. Every
// backend programs the same virtual CPU state from these.
const (
	// CR0 bits.
	CR0PE = 1 << 0  // protected mode
	CR0MP = 1 << 1  // monitor coprocessor
	CR0ET = 1 << 4  // extension type, hardwired on modern CPUs
	CR0NE = 1 << 5  // native x87 exception handling
	CR0WP = 1 << 16 // write protect in ring 0
	CR0AM = 1 << 18 // alignment mask
	CR0PG = 1 << 31 // paging

	// CR4 bits.
	CR4PAE        = 1 << 5  // physical address extension, required for long mode
	CR4OSFXSR     = 1 << 9  // SSE context save support
	CR4OSXMMEXCPT = 1 << 10 // unmasked SSE exceptions

	// EFER bits.
	EFERLME = 1 << 8  // long mode enable
	EFERLMA = 1 << 10 // long mode active
)

// CR0Value, CR4Value and EFERValue are the exact register values for
// a guest entered directly in long mode with paging live.
const (
	CR0Value  = CR0PE | CR0MP | CR0ET | CR0NE | CR0WP | CR0AM | CR0PG
	CR4Value  = CR4PAE | CR4OSFXSR | CR4OSXMMEXCPT
	EFERValue = EFERLME | EFERLMA
)

// RFlagsValue keeps only the always-set reserved bit; interrupts stay
// disabled for the guest's whole life.
const RFlagsValue = 1 << 1

// Flat 64-bit segment descriptors. Base and limit are ignored in long
// mode; the attribute bits still have to describe a present code or
// data segment.
const (
	CodeSegmentSelector = 0x08
	DataSegmentSelector = 0x10

	// Type field values from the descriptor format.
	CodeSegmentType = 0xB // execute/read, accessed
	DataSegmentType = 0x3 // read/write, accessed
)
