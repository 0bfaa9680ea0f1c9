// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"fmt"
	"time"
)

// PageSize is the guest page granularity. All layout components are
// aligned to it.
const PageSize = 0x1000

// Defaults and enforced minimums for Config fields. Constructors clamp
// below-minimum values up rather than rejecting them.
const (
	DefaultGuestErrorBufferSize   = 256
	MinGuestErrorBufferSize       = 256
	DefaultHostFunctionBufferSize = 1 << 10
	MinHostFunctionBufferSize     = 1 << 10
	DefaultHostExceptionSize      = 4 << 10
	MinHostExceptionSize          = 4 << 10
	DefaultInputDataSize          = 64 << 10
	MinInputDataSize              = 16 << 10
	DefaultOutputDataSize         = 64 << 10
	MinOutputDataSize             = 16 << 10
	DefaultPanicContextSize       = 1 << 10
	MinPanicContextSize           = 1 << 10

	// DefaultStackSize and DefaultHeapSize apply when the guest image
	// reserves nothing and no override is configured.
	DefaultStackSize = 64 << 10
	DefaultHeapSize  = 128 << 10

	DefaultMaxExecutionTime = time.Second
	MinMaxExecutionTime     = time.Millisecond
	DefaultMaxWaitForCancel = 100 * time.Millisecond
	MinMaxWaitForCancel     = 10 * time.Millisecond
)

// maxRegionSize is what the flat 2 MiB page directory can cover above
// the guest base: 512 entries of 2 MiB, minus the skipped first entry
// and the base offset.
const maxRegionSize = (512 * (2 << 20)) - BaseAddress

// Config sizes the transfer buffers and bounds guest execution time.
// The zero value means "all defaults"; Normalize applies defaults and
// clamps every field to its minimum.
type Config struct {
	// GuestErrorBufferSize is the capacity of the length-prefixed
	// buffer the guest writes structured errors into.
	GuestErrorBufferSize uint64

	// HostFunctionBufferSize is the capacity of the buffer holding
	// the host function definitions exposed to the guest.
	HostFunctionBufferSize uint64

	// HostExceptionBufferSize is the capacity of the length-prefixed
	// buffer host exception details are relayed through.
	HostExceptionBufferSize uint64

	// InputDataSize is the capacity of the buffer the host serializes
	// guest calls (and host function return values) into.
	InputDataSize uint64

	// OutputDataSize is the capacity of the buffer the guest
	// serializes return values (and host function calls) into.
	OutputDataSize uint64

	// GuestPanicContextSize is the capacity of the buffer the guest
	// panic path dumps context into.
	GuestPanicContextSize uint64

	// StackSizeOverride, when non-zero, replaces the guest image's
	// stack reservation.
	StackSizeOverride uint64

	// HeapSizeOverride, when non-zero, replaces the guest image's
	// heap reservation.
	HeapSizeOverride uint64

	// MaxExecutionTime bounds a single guest call before the host
	// forces a VM exit.
	MaxExecutionTime time.Duration

	// MaxWaitForCancel bounds how long the host waits for the vCPU
	// thread to acknowledge a forced exit.
	MaxWaitForCancel time.Duration
}

// Normalize returns a copy with defaults applied and every field
// clamped to its enforced minimum.
func (c Config) Normalize() Config {
	clampSize := func(v *uint64, def, min uint64) {
		if *v == 0 {
			*v = def
		}
		if *v < min {
			*v = min
		}
	}
	clampSize(&c.GuestErrorBufferSize, DefaultGuestErrorBufferSize, MinGuestErrorBufferSize)
	clampSize(&c.HostFunctionBufferSize, DefaultHostFunctionBufferSize, MinHostFunctionBufferSize)
	clampSize(&c.HostExceptionBufferSize, DefaultHostExceptionSize, MinHostExceptionSize)
	clampSize(&c.InputDataSize, DefaultInputDataSize, MinInputDataSize)
	clampSize(&c.OutputDataSize, DefaultOutputDataSize, MinOutputDataSize)
	clampSize(&c.GuestPanicContextSize, DefaultPanicContextSize, MinPanicContextSize)

	if c.MaxExecutionTime == 0 {
		c.MaxExecutionTime = DefaultMaxExecutionTime
	}
	if c.MaxExecutionTime < MinMaxExecutionTime {
		c.MaxExecutionTime = MinMaxExecutionTime
	}
	if c.MaxWaitForCancel == 0 {
		c.MaxWaitForCancel = DefaultMaxWaitForCancel
	}
	if c.MaxWaitForCancel < MinMaxWaitForCancel {
		c.MaxWaitForCancel = MinMaxWaitForCancel
	}
	return c
}

// Buffer locates one layout component within the region.
type Buffer struct {
	Offset Offset
	Size   uint64
}

// End returns the first offset past the buffer.
func (b Buffer) End() Offset { return b.Offset + Offset(b.Size) }

// GuestAddress returns the component's guest-physical address.
func (b Buffer) GuestAddress() GuestPtr {
	return GuestPtr{abs: BaseAddress + uint64(b.Offset)}
}

// Layout fixes the byte offset of every component inside the shared
// region. It is immutable and derived purely from Config plus the
// guest image's code, stack, and heap sizes.
//
// Region order, low to high:
//
//	PML4 | PDPT | PD | PEB | guest error | host functions |
//	host exception | input | output | panic context | code |
//	heap | guard page | stack
//
// The stack sits at the top so the initial RSP is computed from the
// region end; the unmapped guard page below it turns runaway stack
// growth into an MMIO fault instead of silent heap corruption.
type Layout struct {
	Config Config

	PML4 Buffer
	PDPT Buffer
	PD   Buffer
	PEB  Buffer

	GuestErrorBuffer    Buffer
	HostFunctionBuffer  Buffer
	HostExceptionBuffer Buffer
	InputBuffer         Buffer
	OutputBuffer        Buffer
	PanicContextBuffer  Buffer

	Code      Buffer
	Heap      Buffer
	GuardPage Buffer
	Stack     Buffer

	// TotalSize is the page-aligned size of the whole region.
	TotalSize uint64
}

// NewLayout computes the layout for a normalized copy of cfg and the
// given guest image sizes. Stack and heap overrides in cfg win over
// the image's reservations; if both are zero the defaults apply.
func NewLayout(cfg Config, codeSize, stackReserve, heapReserve uint64) (Layout, error) {
	cfg = cfg.Normalize()
	if codeSize == 0 {
		return Layout{}, fmt.Errorf("layout requires a non-empty code region")
	}

	stackSize := stackReserve
	if cfg.StackSizeOverride != 0 {
		stackSize = cfg.StackSizeOverride
	}
	if stackSize == 0 {
		stackSize = DefaultStackSize
	}
	heapSize := heapReserve
	if cfg.HeapSizeOverride != 0 {
		heapSize = cfg.HeapSizeOverride
	}
	if heapSize == 0 {
		heapSize = DefaultHeapSize
	}

	for name, size := range map[string]uint64{
		"code": codeSize, "stack": stackSize, "heap": heapSize,
	} {
		if size > maxRegionSize {
			return Layout{}, fmt.Errorf("%s size %d exceeds the %d bytes addressable above the guest base",
				name, size, uint64(maxRegionSize))
		}
	}

	layout := Layout{Config: cfg}
	cursor := Offset(0)
	var placeErr error

	place := func(size uint64) Buffer {
		b := Buffer{Offset: cursor, Size: size}
		next, err := cursor.Add(Offset(size))
		if err != nil && placeErr == nil {
			placeErr = err
		}
		cursor = next
		return b
	}
	alignPage := func() {
		cursor = Offset(alignUp(uint64(cursor), PageSize))
	}

	layout.PML4 = place(PageSize)
	layout.PDPT = place(PageSize)
	layout.PD = place(PageSize)
	layout.PEB = place(PageSize)

	layout.GuestErrorBuffer = place(cfg.GuestErrorBufferSize)
	layout.HostFunctionBuffer = place(cfg.HostFunctionBufferSize)
	layout.HostExceptionBuffer = place(cfg.HostExceptionBufferSize)
	layout.InputBuffer = place(cfg.InputDataSize)
	layout.OutputBuffer = place(cfg.OutputDataSize)
	layout.PanicContextBuffer = place(cfg.GuestPanicContextSize)

	alignPage()
	layout.Code = place(alignUp(codeSize, PageSize))
	layout.Heap = place(alignUp(heapSize, PageSize))
	layout.GuardPage = place(PageSize)
	layout.Stack = place(alignUp(stackSize, PageSize))

	if placeErr != nil {
		return Layout{}, fmt.Errorf("computing layout: %w", placeErr)
	}
	layout.TotalSize = uint64(cursor)
	if layout.TotalSize > maxRegionSize {
		return Layout{}, fmt.Errorf("layout of %d bytes exceeds the %d bytes addressable above the guest base",
			layout.TotalSize, maxRegionSize)
	}
	return layout, nil
}

// InitialRSP is the guest stack pointer at entry: region end minus
// 0x28, satisfying the ABI's 16-byte alignment expectation for the
// callee plus the 8-byte return slot.
func (l Layout) InitialRSP() uint64 {
	return BaseAddress + l.TotalSize - 0x28
}

// components returns every placed buffer for overlap and coverage
// checks, in layout order.
func (l Layout) components() []Buffer {
	return []Buffer{
		l.PML4, l.PDPT, l.PD, l.PEB,
		l.GuestErrorBuffer, l.HostFunctionBuffer, l.HostExceptionBuffer,
		l.InputBuffer, l.OutputBuffer, l.PanicContextBuffer,
		l.Code, l.Heap, l.GuardPage, l.Stack,
	}
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}
