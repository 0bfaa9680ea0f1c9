// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"math"
	"testing"
)

func TestOffsetCheckedArithmetic(t *testing.T) {
	t.Parallel()

	sum, err := Offset(10).Add(32)
	if err != nil || sum != 42 {
		t.Errorf("Add = (%d, %v), want (42, nil)", sum, err)
	}
	if _, err := Offset(math.MaxUint64).Add(1); err == nil {
		t.Error("Add overflow should fail")
	}

	diff, err := Offset(42).Sub(10)
	if err != nil || diff != 32 {
		t.Errorf("Sub = (%d, %v), want (32, nil)", diff, err)
	}
	if _, err := Offset(1).Sub(2); err == nil {
		t.Error("Sub underflow should fail")
	}

	product, err := Offset(6).Mul(7)
	if err != nil || product != 42 {
		t.Errorf("Mul = (%d, %v), want (42, nil)", product, err)
	}
	if _, err := Offset(math.MaxUint64 / 2).Mul(3); err == nil {
		t.Error("Mul overflow should fail")
	}
}

func TestNewGuestPtrBelowBase(t *testing.T) {
	t.Parallel()

	if _, err := NewGuestPtr(BaseAddress - 1); err == nil {
		t.Error("pointer below base should fail")
	}
	ptr, err := NewGuestPtr(BaseAddress)
	if err != nil {
		t.Fatalf("pointer at base: %v", err)
	}
	if ptr.Offset() != 0 {
		t.Errorf("Offset = %d, want 0", ptr.Offset())
	}
}

func TestGuestPtrAddOverflow(t *testing.T) {
	t.Parallel()

	ptr, err := NewGuestPtr(math.MaxUint64)
	if err != nil {
		t.Fatalf("NewGuestPtr: %v", err)
	}
	if _, err := ptr.Add(1); err == nil {
		t.Error("Add past the address space should fail")
	}
}

func TestPointerTranslationBijection(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t)
	layout := manager.Layout()

	for _, offset := range []Offset{0, 1, layout.InputBuffer.Offset, Offset(layout.TotalSize - 1)} {
		guest, err := NewGuestPtr(BaseAddress + uint64(offset))
		if err != nil {
			t.Fatalf("NewGuestPtr(offset 0x%x): %v", uint64(offset), err)
		}
		host, err := guest.ToHost(manager)
		if err != nil {
			t.Fatalf("ToHost(offset 0x%x): %v", uint64(offset), err)
		}
		if host.Offset() != offset {
			t.Errorf("host offset = 0x%x, want 0x%x", uint64(host.Offset()), uint64(offset))
		}
		back, err := host.ToGuest(manager)
		if err != nil {
			t.Fatalf("ToGuest(offset 0x%x): %v", uint64(offset), err)
		}
		if back != guest {
			t.Errorf("round trip = 0x%x, want 0x%x", back.Absolute(), guest.Absolute())
		}
	}
}

func TestPointerTranslationOutsideRegion(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t)
	guest, err := NewGuestPtr(BaseAddress + manager.Size())
	if err != nil {
		t.Fatalf("NewGuestPtr: %v", err)
	}
	if _, err := guest.ToHost(manager); err == nil {
		t.Error("translation past the region end should fail")
	}
}

func TestHostPtrWrongRegion(t *testing.T) {
	t.Parallel()

	first := newTestManager(t)
	second := newTestManager(t)

	guest, err := NewGuestPtr(BaseAddress + 0x100)
	if err != nil {
		t.Fatalf("NewGuestPtr: %v", err)
	}
	host, err := guest.ToHost(first)
	if err != nil {
		t.Fatalf("ToHost: %v", err)
	}
	if _, err := host.ToGuest(second); err == nil {
		t.Error("translating through a different region should fail")
	}
}
