// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"fmt"
	"math"
)

// BaseAddress is the fixed guest-physical address at which the shared
// region is mapped into every guest. The first 2 MiB of guest address
// space is deliberately left unmapped so that null and near-null
// dereferences fault instead of silently reading the page tables.
const BaseAddress uint64 = 0x200000

// Offset is an unsigned byte distance within an address space.
// Arithmetic is checked: overflow and underflow return errors, never
// wrapped values.
type Offset uint64

// Add returns o + d, or an error if the sum would overflow.
func (o Offset) Add(d Offset) (Offset, error) {
	if uint64(o) > math.MaxUint64-uint64(d) {
		return 0, fmt.Errorf("offset 0x%x + 0x%x overflows", uint64(o), uint64(d))
	}
	return o + d, nil
}

// Sub returns o - d, or an error if d exceeds o.
func (o Offset) Sub(d Offset) (Offset, error) {
	if d > o {
		return 0, fmt.Errorf("offset 0x%x - 0x%x underflows", uint64(o), uint64(d))
	}
	return o - d, nil
}

// Mul returns o * n, or an error if the product would overflow.
func (o Offset) Mul(n uint64) (Offset, error) {
	if n != 0 && uint64(o) > math.MaxUint64/n {
		return 0, fmt.Errorf("offset 0x%x * %d overflows", uint64(o), n)
	}
	return Offset(uint64(o) * n), nil
}

// GuestPtr is an absolute guest-physical address at or above
// BaseAddress. The zero value is invalid; construct via NewGuestPtr
// or translation from a HostPtr.
type GuestPtr struct {
	abs uint64
}

// NewGuestPtr validates that raw points at or above the guest base.
func NewGuestPtr(raw uint64) (GuestPtr, error) {
	if raw < BaseAddress {
		return GuestPtr{}, fmt.Errorf("guest pointer 0x%x below base 0x%x", raw, BaseAddress)
	}
	return GuestPtr{abs: raw}, nil
}

// Absolute returns the guest-physical address.
func (p GuestPtr) Absolute() uint64 { return p.abs }

// Offset returns the distance from the guest base.
func (p GuestPtr) Offset() Offset { return Offset(p.abs - BaseAddress) }

// Add returns the pointer advanced by d, with checked arithmetic.
func (p GuestPtr) Add(d Offset) (GuestPtr, error) {
	if p.abs > math.MaxUint64-uint64(d) {
		return GuestPtr{}, fmt.Errorf("guest pointer 0x%x + 0x%x overflows", p.abs, uint64(d))
	}
	return GuestPtr{abs: p.abs + uint64(d)}, nil
}

// ToHost translates the pointer into the host space anchored by m.
// The numeric offset is preserved; only the interpretive base changes.
// Fails if the offset falls outside the managed region.
func (p GuestPtr) ToHost(m *Manager) (HostPtr, error) {
	offset := p.Offset()
	if uint64(offset) >= uint64(len(m.mem)) {
		return HostPtr{}, fmt.Errorf("guest pointer 0x%x outside region of %d bytes", p.abs, len(m.mem))
	}
	return HostPtr{offset: offset, owner: m}, nil
}

// HostPtr is a location in the host's view of a shared region. It is
// only constructed relative to a live Manager and carries its owner so
// that translation back to guest space cannot cross regions.
type HostPtr struct {
	offset Offset
	owner  *Manager
}

// Offset returns the distance from the region's host base.
func (p HostPtr) Offset() Offset { return p.offset }

// ToGuest translates the pointer back into guest space. Fails if m is
// not the region that anchors this pointer.
func (p HostPtr) ToGuest(m *Manager) (GuestPtr, error) {
	if p.owner != m {
		return GuestPtr{}, fmt.Errorf("host pointer at offset 0x%x belongs to a different region", uint64(p.offset))
	}
	return GuestPtr{abs: BaseAddress + uint64(p.offset)}, nil
}
