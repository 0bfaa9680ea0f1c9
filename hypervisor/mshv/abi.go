// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package mshv

import "unsafe"

// ioctl encoding helpers, the kernel's _IOC macros. The mshv driver
// uses magic 0xB8 (linux/mshv.h).
const (
	iocWrite = 1
	iocRead  = 2

	iocNrBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNrShift   = 0
	iocTypeShift = iocNrShift + iocNrBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
)

func ioc(dir, nr, size uintptr) uint32 {
	const magic = 0xB8
	return uint32(dir<<iocDirShift | magic<<iocTypeShift | nr<<iocNrShift | size<<iocSizeShift)
}

var (
	ioctlCreatePartition     = ioc(iocWrite, 0x00, unsafe.Sizeof(createPartitionArgs{}))
	ioctlInitializePartition = ioc(0, 0x01, 0)
	ioctlMapGuestMemory      = ioc(iocWrite, 0x02, unsafe.Sizeof(userMemRegion{}))
	ioctlCreateVP            = ioc(iocWrite, 0x04, unsafe.Sizeof(createVPArgs{}))
	ioctlSetVPRegisters      = ioc(iocWrite, 0x06, unsafe.Sizeof(vpRegisters{}))
	ioctlRunVP               = ioc(iocRead, 0x07, unsafe.Sizeof(message{}))
)

type createPartitionArgs struct {
	flags                      uint64
	partitionCreation          uint64
	syntheticProcessorFeatures [2]uint64
}

type createVPArgs struct {
	vpIndex uint32
	_       uint32
}

// Guest memory map flags.
const (
	memFlagWritable   = 1 << 0
	memFlagExecutable = 1 << 2
)

// userMemRegion mirrors struct mshv_user_mem_region.
type userMemRegion struct {
	size      uint64
	guestPFN  uint64
	userspace uint64
	flags     uint64
}

// Register names from the TLFS hv_register_name enumeration.
const (
	regRAX    = 0x00020000
	regRCX    = 0x00020001
	regRDX    = 0x00020002
	regRBX    = 0x00020003
	regRSP    = 0x00020004
	regRBP    = 0x00020005
	regRSI    = 0x00020006
	regRDI    = 0x00020007
	regRIP    = 0x00020010
	regRFLAGS = 0x00020011

	regCR0 = 0x00040000
	regCR3 = 0x00040002
	regCR4 = 0x00040003

	regEFER = 0x00080001

	regES = 0x00060000
	regCS = 0x00060001
	regSS = 0x00060002
	regDS = 0x00060003
	regFS = 0x00060004
	regGS = 0x00060005
)

// regAssoc mirrors struct hv_register_assoc. The value is a 16-byte
// union; plain registers use the first 8 bytes little endian.
type regAssoc struct {
	name  uint32
	_     uint32
	_     uint64
	value [16]byte
}

func u64Reg(name uint32, v uint64) regAssoc {
	var r regAssoc
	r.name = name
	*(*uint64)(unsafe.Pointer(&r.value[0])) = v
	return r
}

// segmentValue packs an hv_x64_segment_register into a register
// value. Attributes use the descriptor bit layout: type in bits 0-3,
// S bit 4, DPL bits 5-6, present bit 7, L bit 13, D/B bit 14,
// granularity bit 15.
func segmentValue(name uint32, selector uint16, attributes uint16) regAssoc {
	var r regAssoc
	r.name = name
	*(*uint64)(unsafe.Pointer(&r.value[0])) = 0 // base
	*(*uint32)(unsafe.Pointer(&r.value[8])) = 0xFFFFFFFF
	*(*uint16)(unsafe.Pointer(&r.value[12])) = selector
	*(*uint16)(unsafe.Pointer(&r.value[14])) = attributes
	return r
}

const (
	codeSegmentAttributes = 0xA09B // type 0xB, S, present, long, granularity
	dataSegmentAttributes = 0xC093 // type 0x3, S, present, D/B, granularity
)

// vpRegisters mirrors struct mshv_vp_registers.
type vpRegisters struct {
	count uint32
	_     uint32
	regs  *regAssoc
}

// Message types delivered by MSHV_RUN_VP.
const (
	msgUnmappedGPA        = 0x80000000
	msgGPAIntercept       = 0x80000001
	msgIOPortIntercept    = 0x80010000
	msgExceptionIntercept = 0x80010003
	msgHalt               = 0x80010004
)

func messageTypeName(t uint32) string {
	switch t {
	case msgUnmappedGPA:
		return "HVMSG_UNMAPPED_GPA"
	case msgGPAIntercept:
		return "HVMSG_GPA_INTERCEPT"
	case msgIOPortIntercept:
		return "HVMSG_X64_IO_PORT_INTERCEPT"
	case msgExceptionIntercept:
		return "HVMSG_X64_EXCEPTION_INTERCEPT"
	case msgHalt:
		return "HVMSG_X64_HALT"
	default:
		return "HVMSG_UNKNOWN"
	}
}

// message mirrors struct hv_message: a 16-byte header followed by a
// 240-byte payload decoded per message type.
type message struct {
	messageType uint32
	payloadSize uint8
	flags       uint8
	_           uint16
	_           uint64
	payload     [240]byte
}

// interceptHeader mirrors struct hv_x64_intercept_message_header,
// the common prefix of every x64 intercept payload. The instruction
// length lives in the low 4 bits of its byte.
type interceptHeader struct {
	vpIndex             uint32
	instructionLength   uint8
	interceptAccessType uint8
	executionState      uint16
	csSegment           [16]byte
	rip                 uint64
	rflags              uint64
}

// ioPortIntercept mirrors struct hv_x64_io_port_intercept_message.
type ioPortIntercept struct {
	header               interceptHeader
	portNumber           uint16
	accessInfo           uint16
	instructionByteCount uint16
	_                    uint16
	rax                  uint64
}

// memoryIntercept mirrors the head of struct
// hv_x64_memory_intercept_message.
type memoryIntercept struct {
	header               interceptHeader
	cacheType            uint32
	instructionByteCount uint8
	memoryAccessInfo     uint8
	tprPriority          uint8
	_                    uint8
	guestVirtualAddress  uint64
	guestPhysicalAddress uint64
}
