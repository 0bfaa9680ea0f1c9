// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package kvm

import "fmt"

// ioctl request numbers from the KVM userspace ABI. The encoded
// struct sizes are for the amd64 layouts below.
const (
	ioctlGetAPIVersion       = 0xAE00
	ioctlCreateVM            = 0xAE01
	ioctlCheckExtension      = 0xAE03
	ioctlGetVCPUMmapSize     = 0xAE04
	ioctlCreateVCPU          = 0xAE41
	ioctlSetUserMemoryRegion = 0x4020AE46
	ioctlRun                 = 0xAE80
	ioctlGetRegs             = 0x8090AE81
	ioctlSetRegs             = 0x4090AE82
	ioctlGetSregs            = 0x8138AE83
	ioctlSetSregs            = 0x4138AE84
)

const apiVersion = 12

const (
	capUserMemory  = 3
	capReadonlyMem = 81
)

// Memory region flags.
const memReadonly = 1 << 1

// Exit reasons from kvm_run.
const (
	exitUnknown       = 0
	exitException     = 1
	exitIO            = 2
	exitHLT           = 5
	exitMMIO          = 6
	exitShutdown      = 8
	exitFailEntry     = 9
	exitIntr          = 10
	exitInternalError = 17
	exitSystemEvent   = 24
)

func exitReasonName(reason uint32) string {
	switch reason {
	case exitUnknown:
		return "KVM_EXIT_UNKNOWN"
	case exitException:
		return "KVM_EXIT_EXCEPTION"
	case exitIO:
		return "KVM_EXIT_IO"
	case exitHLT:
		return "KVM_EXIT_HLT"
	case exitMMIO:
		return "KVM_EXIT_MMIO"
	case exitShutdown:
		return "KVM_EXIT_SHUTDOWN"
	case exitFailEntry:
		return "KVM_EXIT_FAIL_ENTRY"
	case exitIntr:
		return "KVM_EXIT_INTR"
	case exitInternalError:
		return "KVM_EXIT_INTERNAL_ERROR"
	case exitSystemEvent:
		return "KVM_EXIT_SYSTEM_EVENT"
	default:
		return fmt.Sprintf("KVM_EXIT(%d)", reason)
	}
}

const ioDirectionOut = 1

// userMemoryRegion mirrors struct kvm_userspace_memory_region.
type userMemoryRegion struct {
	slot          uint32
	flags         uint32
	guestPhysAddr uint64
	memorySize    uint64
	userspaceAddr uint64
}

// segment mirrors struct kvm_segment.
type segment struct {
	base     uint64
	limit    uint32
	selector uint16
	typ      uint8
	present  uint8
	dpl      uint8
	db       uint8
	s        uint8
	l        uint8
	g        uint8
	avl      uint8
	unusable uint8
	_        uint8
}

// dtable mirrors struct kvm_dtable.
type dtable struct {
	base  uint64
	limit uint16
	_     [3]uint16
}

const nrInterrupts = 256

// sregs mirrors struct kvm_sregs.
type sregs struct {
	cs, ds, es, fs, gs, ss segment
	tr, ldt                segment
	gdt, idt               dtable
	cr0                    uint64
	cr2                    uint64
	cr3                    uint64
	cr4                    uint64
	cr8                    uint64
	efer                   uint64
	apicBase               uint64
	interruptBitmap        [(nrInterrupts + 63) / 64]uint64
}

// regs mirrors struct kvm_regs.
type regs struct {
	rax, rbx, rcx, rdx uint64
	rsi, rdi, rsp, rbp uint64
	r8, r9, r10, r11   uint64
	r12, r13, r14, r15 uint64
	rip, rflags        uint64
}

const syncRegsSize = 2048

// runData mirrors the head of struct kvm_run, up to and including the
// exit union. The union is decoded per exit reason.
type runData struct {
	requestInterruptWindow uint8
	immediateExit          uint8
	_                      [6]uint8

	exitReason                 uint32
	readyForInterruptInjection uint8
	ifFlag                     uint8
	flags                      uint16

	cr8      uint64
	apicBase uint64

	union [256]byte

	kvmValidRegs uint64
	kvmDirtyRegs uint64
	syncRegs     [syncRegsSize]byte
}

// exitIOData mirrors the io member of the kvm_run exit union.
type exitIOData struct {
	direction  uint8
	size       uint8
	port       uint16
	count      uint32
	dataOffset uint64
}

// exitMMIOData mirrors the mmio member of the kvm_run exit union.
type exitMMIOData struct {
	physAddr uint64
	data     [8]byte
	length   uint32
	isWrite  uint8
}

// exitFailEntryData mirrors the fail_entry member.
type exitFailEntryData struct {
	hardwareEntryFailureReason uint64
	cpu                        uint32
}

// exitInternalData mirrors the internal member.
type exitInternalData struct {
	suberror uint32
	ndata    uint32
	data     [16]uint64
}
