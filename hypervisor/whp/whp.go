// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build windows

// Package whp runs guests on the Windows Hypervisor Platform.
// WinHvPlatform.dll is loaded lazily, so importing this package on a
// machine without the platform feature costs nothing until Available
// or New is called.
package whp

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/bureau-foundation/microvm/hypervisor"
	"github.com/bureau-foundation/microvm/memory"
)

var (
	winHvPlatform = windows.NewLazySystemDLL("WinHvPlatform.dll")

	procGetCapability          = winHvPlatform.NewProc("WHvGetCapability")
	procCreatePartition        = winHvPlatform.NewProc("WHvCreatePartition")
	procSetPartitionProperty   = winHvPlatform.NewProc("WHvSetPartitionProperty")
	procSetupPartition         = winHvPlatform.NewProc("WHvSetupPartition")
	procDeletePartition        = winHvPlatform.NewProc("WHvDeletePartition")
	procMapGpaRange            = winHvPlatform.NewProc("WHvMapGpaRange")
	procCreateVirtualProcessor = winHvPlatform.NewProc("WHvCreateVirtualProcessor")
	procDeleteVirtualProcessor = winHvPlatform.NewProc("WHvDeleteVirtualProcessor")
	procRunVirtualProcessor    = winHvPlatform.NewProc("WHvRunVirtualProcessor")
	procCancelRunVP            = winHvPlatform.NewProc("WHvCancelRunVirtualProcessor")
	procSetVPRegisters         = winHvPlatform.NewProc("WHvSetVirtualProcessorRegisters")
)

// Available reports whether the hypervisor platform is installed and
// the hypervisor is running.
func Available() bool {
	if winHvPlatform.Load() != nil {
		return false
	}
	var present uint32
	var written uint32
	hr, _, _ := procGetCapability.Call(
		capabilityHypervisorPresent,
		uintptr(unsafe.Pointer(&present)),
		unsafe.Sizeof(present),
		uintptr(unsafe.Pointer(&written)),
	)
	return hr == 0 && present != 0
}

func hresultErr(op string, hr uintptr) error {
	return fmt.Errorf("%s: HRESULT 0x%08x", op, uint32(hr))
}

type runRequest struct {
	rip    uint64
	init   bool
	result chan error
}

// Machine is one WHP partition with a single virtual processor.
type Machine struct {
	params hypervisor.Params
	logger *slog.Logger

	partition windows.Handle

	cmds chan *runRequest
	quit chan struct{}
	done chan struct{}

	kicked    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ hypervisor.Driver = (*Machine)(nil)

// New creates and sets up the partition, maps guest memory, creates
// the virtual processor and starts the run goroutine.
func New(params hypervisor.Params) (*Machine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := winHvPlatform.Load(); err != nil {
		return nil, fmt.Errorf("%w: loading WinHvPlatform.dll: %v", hypervisor.ErrUnavailable, err)
	}

	m := &Machine{
		params: params,
		logger: logger,
		cmds:   make(chan *runRequest),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if err := m.setup(); err != nil {
		m.release()
		return nil, err
	}

	ready := make(chan struct{})
	go m.runLoop(ready)
	<-ready
	return m, nil
}

func (m *Machine) setup() error {
	if hr, _, _ := procCreatePartition.Call(uintptr(unsafe.Pointer(&m.partition))); hr != 0 {
		return hresultErr("WHvCreatePartition", hr)
	}

	processorCount := uint32(1)
	if hr, _, _ := procSetPartitionProperty.Call(
		uintptr(m.partition),
		propertyProcessorCount,
		uintptr(unsafe.Pointer(&processorCount)),
		unsafe.Sizeof(processorCount),
	); hr != 0 {
		return hresultErr("WHvSetPartitionProperty", hr)
	}
	if hr, _, _ := procSetupPartition.Call(uintptr(m.partition)); hr != 0 {
		return hresultErr("WHvSetupPartition", hr)
	}

	for _, mapping := range m.params.Mappings {
		flags := uintptr(mapFlagRead)
		if mapping.Perms&memory.PermWrite != 0 {
			flags |= mapFlagWrite
		}
		if mapping.Perms&memory.PermExec != 0 {
			flags |= mapFlagExecute
		}
		if hr, _, _ := procMapGpaRange.Call(
			uintptr(m.partition),
			mapping.HostBase,
			uintptr(mapping.GuestStart),
			uintptr(mapping.Size),
			flags,
		); hr != 0 {
			return hresultErr(fmt.Sprintf("WHvMapGpaRange at 0x%x", mapping.GuestStart), hr)
		}
	}

	if hr, _, _ := procCreateVirtualProcessor.Call(uintptr(m.partition), 0, 0); hr != 0 {
		return hresultErr("WHvCreateVirtualProcessor", hr)
	}
	return m.setupLongMode()
}

func u64Value(v uint64) registerValue {
	var out registerValue
	binary.LittleEndian.PutUint64(out[:8], v)
	return out
}

// segmentRegValue packs a WHV_X64_SEGMENT_REGISTER: base, limit,
// selector, then the descriptor attribute word.
func segmentRegValue(selector uint16, attributes uint16) registerValue {
	var out registerValue
	binary.LittleEndian.PutUint32(out[8:12], 0xFFFFFFFF)
	binary.LittleEndian.PutUint16(out[12:14], selector)
	binary.LittleEndian.PutUint16(out[14:16], attributes)
	return out
}

const (
	codeSegmentAttributes = 0xA09B
	dataSegmentAttributes = 0xC093
)

func (m *Machine) setRegisters(names []uint32, values []registerValue) error {
	hr, _, _ := procSetVPRegisters.Call(
		uintptr(m.partition),
		0,
		uintptr(unsafe.Pointer(&names[0])),
		uintptr(len(names)),
		uintptr(unsafe.Pointer(&values[0])),
	)
	if hr != 0 {
		return hresultErr("WHvSetVirtualProcessorRegisters", hr)
	}
	return nil
}

func (m *Machine) setupLongMode() error {
	names := []uint32{regCS, regDS, regES, regFS, regGS, regSS, regCR0, regCR3, regCR4, regEFER}
	values := []registerValue{
		segmentRegValue(hypervisor.CodeSegmentSelector, codeSegmentAttributes),
		segmentRegValue(hypervisor.DataSegmentSelector, dataSegmentAttributes),
		segmentRegValue(hypervisor.DataSegmentSelector, dataSegmentAttributes),
		segmentRegValue(hypervisor.DataSegmentSelector, dataSegmentAttributes),
		segmentRegValue(hypervisor.DataSegmentSelector, dataSegmentAttributes),
		segmentRegValue(hypervisor.DataSegmentSelector, dataSegmentAttributes),
		u64Value(hypervisor.CR0Value),
		u64Value(m.params.PageTable),
		u64Value(hypervisor.CR4Value),
		u64Value(hypervisor.EFERValue),
	}
	return m.setRegisters(names, values)
}

// Initialise runs the guest entry point until it halts.
func (m *Machine) Initialise(ctx context.Context) error {
	return m.submit(ctx, m.params.EntryPoint, true)
}

// Dispatch resets RSP and runs the guest from addr until it halts.
func (m *Machine) Dispatch(ctx context.Context, addr uint64) error {
	return m.submit(ctx, addr, false)
}

func (m *Machine) submit(ctx context.Context, rip uint64, init bool) error {
	req := &runRequest{rip: rip, init: init, result: make(chan error, 1)}
	select {
	case m.cmds <- req:
	case <-m.quit:
		return hypervisor.ErrDriverClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		m.Kick()
		<-req.result
		return fmt.Errorf("%w: %w", hypervisor.ErrCancelled, ctx.Err())
	}
}

// Kick interrupts a run in flight. WHvCancelRunVirtualProcessor is
// callable from any thread.
func (m *Machine) Kick() {
	m.kicked.Store(true)
	procCancelRunVP.Call(uintptr(m.partition), 0, 0)
}

func (m *Machine) runLoop(ready chan<- struct{}) {
	close(ready)
	defer close(m.done)
	for {
		select {
		case req := <-m.cmds:
			req.result <- m.runOnce(req)
		case <-m.quit:
			return
		}
	}
}

func (m *Machine) runOnce(req *runRequest) error {
	m.kicked.Store(false)

	names := []uint32{regRIP, regRSP, regRFLAGS}
	values := []registerValue{
		u64Value(req.rip),
		u64Value(m.params.StackPointer),
		u64Value(hypervisor.RFlagsValue),
	}
	if req.init {
		names = append(names, regRDI, regRSI, regRDX)
		values = append(values,
			u64Value(m.params.PEB),
			u64Value(m.params.Seed),
			u64Value(memory.PageSize),
		)
	}
	if err := m.setRegisters(names, values); err != nil {
		return err
	}

	var exit runExitContext
	for {
		hr, _, _ := procRunVirtualProcessor.Call(
			uintptr(m.partition),
			0,
			uintptr(unsafe.Pointer(&exit)),
			unsafe.Sizeof(exit),
		)
		if hr != 0 {
			return hresultErr("WHvRunVirtualProcessor", hr)
		}

		switch exit.exitReason {
		case exitHalt:
			return nil

		case exitCanceled:
			if m.kicked.Load() {
				return hypervisor.ErrCancelled
			}

		case exitIOPortAccess:
			if err := m.handleIOPort(&exit); err != nil {
				return err
			}

		case exitMemoryAccess:
			access := (*memoryAccessContext)(unsafe.Pointer(&exit.union[0]))
			if handler := m.params.Handlers.MemFault; handler != nil {
				if err := handler(access.gpa, 1); err != nil {
					return err
				}
			}
			return fmt.Errorf("%w: access to unmapped address 0x%x", hypervisor.ErrGuestFault, access.gpa)

		case exitUnrecoverableException:
			return fmt.Errorf("guest raised an unrecoverable exception at rip 0x%x", exit.vpContext.rip)

		case exitInvalidRegisterValue:
			return fmt.Errorf("invalid virtual processor register state")

		default:
			return fmt.Errorf("unexpected vp exit %s", exitReasonName(exit.exitReason))
		}
	}
}

// handleIOPort dispatches a port write and advances RIP past the OUT
// instruction; the platform leaves instruction completion to the
// host.
func (m *Machine) handleIOPort(exit *runExitContext) error {
	access := (*ioPortAccessContext)(unsafe.Pointer(&exit.union[0]))
	if !access.isWrite() || access.accessSize() != 1 {
		return fmt.Errorf("unsupported io access: write=%v size=%d port 0x%x",
			access.isWrite(), access.accessSize(), access.portNumber)
	}
	handler := m.params.Handlers.OutB
	if handler == nil {
		return fmt.Errorf("guest wrote port 0x%x with no handler installed", access.portNumber)
	}
	if err := handler(access.portNumber, byte(access.rax)); err != nil {
		return err
	}
	next := exit.vpContext.rip + uint64(exit.vpContext.instructionLength&0xF)
	return m.setRegisters([]uint32{regRIP}, []registerValue{u64Value(next)})
}

// Close stops the run goroutine and deletes the partition.
func (m *Machine) Close() error {
	m.closeOnce.Do(func() {
		close(m.quit)
		m.Kick()
		<-m.done
		m.closeErr = m.release()
	})
	return m.closeErr
}

func (m *Machine) release() error {
	if m.partition == 0 {
		return nil
	}
	procDeleteVirtualProcessor.Call(uintptr(m.partition), 0)
	hr, _, _ := procDeletePartition.Call(uintptr(m.partition))
	m.partition = 0
	if hr != 0 {
		return hresultErr("WHvDeletePartition", hr)
	}
	return nil
}
