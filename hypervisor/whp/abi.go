// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package whp

import "fmt"

// Capability and partition property codes.
const (
	capabilityHypervisorPresent = 0x00000000
	propertyProcessorCount      = 0x00001FFF
)

// WHvMapGpaRange flags.
const (
	mapFlagRead    = 1 << 0
	mapFlagWrite   = 1 << 1
	mapFlagExecute = 1 << 2
)

// Register names from the WHV_REGISTER_NAME enumeration.
const (
	regRAX    = 0x00000000
	regRCX    = 0x00000001
	regRDX    = 0x00000002
	regRBX    = 0x00000003
	regRSP    = 0x00000004
	regRBP    = 0x00000005
	regRSI    = 0x00000006
	regRDI    = 0x00000007
	regRIP    = 0x00000010
	regRFLAGS = 0x00000011

	regES = 0x00000040
	regCS = 0x00000041
	regSS = 0x00000042
	regDS = 0x00000043
	regFS = 0x00000044
	regGS = 0x00000045

	regCR0 = 0x00000080
	regCR3 = 0x00000082
	regCR4 = 0x00000083

	regEFER = 0x00000108
)

// registerValue is the 16-byte WHV_REGISTER_VALUE union.
type registerValue [16]byte

// Exit reasons from WHV_RUN_VP_EXIT_REASON.
const (
	exitNone                   = 0x00000000
	exitMemoryAccess           = 0x00000001
	exitIOPortAccess           = 0x00000002
	exitUnrecoverableException = 0x00000004
	exitInvalidRegisterValue   = 0x00000005
	exitHalt                   = 0x00000008
	exitCanceled               = 0x00002001
)

func exitReasonName(reason uint32) string {
	switch reason {
	case exitMemoryAccess:
		return "MemoryAccess"
	case exitIOPortAccess:
		return "X64IoPortAccess"
	case exitUnrecoverableException:
		return "UnrecoverableException"
	case exitInvalidRegisterValue:
		return "InvalidVpRegisterValue"
	case exitHalt:
		return "X64Halt"
	case exitCanceled:
		return "Canceled"
	default:
		return fmt.Sprintf("ExitReason(0x%x)", reason)
	}
}

// vpExitContext mirrors WHV_VP_EXIT_CONTEXT. The instruction length
// occupies the low 4 bits of its byte.
type vpExitContext struct {
	executionState    uint16
	instructionLength uint8
	_                 uint8
	_                 uint32
	csSegment         [16]byte
	rip               uint64
	rflags            uint64
}

// runExitContext mirrors WHV_RUN_VP_EXIT_CONTEXT; the union tail is
// decoded per exit reason.
type runExitContext struct {
	exitReason uint32
	_          uint32
	vpContext  vpExitContext
	union      [128]byte
}

// ioPortAccessContext mirrors WHV_X64_IO_PORT_ACCESS_CONTEXT.
type ioPortAccessContext struct {
	instructionByteCount uint8
	_                    [3]uint8
	instructionBytes     [16]byte
	accessInfo           uint32
	portNumber           uint16
	_                    [3]uint16
	rax                  uint64
	rcx                  uint64
	rsi                  uint64
	rdi                  uint64
	ds                   [16]byte
	es                   [16]byte
}

// accessInfo bit 0 is IsWrite, bits 1-3 the access size.
func (c *ioPortAccessContext) isWrite() bool     { return c.accessInfo&1 != 0 }
func (c *ioPortAccessContext) accessSize() uint8 { return uint8(c.accessInfo >> 1 & 0x7) }

// memoryAccessContext mirrors WHV_MEMORY_ACCESS_CONTEXT.
type memoryAccessContext struct {
	instructionByteCount uint8
	_                    [3]uint8
	instructionBytes     [16]byte
	accessInfo           uint32
	_                    uint32
	gpa                  uint64
	gva                  uint64
}
