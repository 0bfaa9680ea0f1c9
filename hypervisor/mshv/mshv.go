// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

// Package mshv runs guests on the Linux Hyper-V driver through raw
// ioctls on /dev/mshv. It is the fallback backend for Linux hosts
// that run as Hyper-V root partitions, where /dev/kvm is absent. The
// machine model mirrors the kvm package: one partition, one virtual
// processor, entered directly in long mode.
package mshv

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/microvm/hypervisor"
	"github.com/bureau-foundation/microvm/memory"
)

const devicePath = "/dev/mshv"

// Available reports whether /dev/mshv can be opened.
func Available() bool {
	fd, err := unix.Open(devicePath, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return false
	}
	unix.Close(fd)
	return true
}

func ioctl(fd int, request uint32, arg uintptr) (uintptr, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(request), arg)
	if errno != 0 {
		return 0, errno
	}
	return r, nil
}

type runRequest struct {
	rip    uint64
	init   bool
	result chan error
}

// Machine is one Hyper-V partition with a single virtual processor.
type Machine struct {
	params hypervisor.Params
	logger *slog.Logger

	devFD       int
	partitionFD int
	vpFD        int

	tid  atomic.Int32
	cmds chan *runRequest
	quit chan struct{}
	done chan struct{}

	kicked    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ hypervisor.Driver = (*Machine)(nil)

// New creates the partition, maps guest memory, creates the virtual
// processor and starts the vCPU goroutine.
func New(params hypervisor.Params) (*Machine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	devFD, err := unix.Open(devicePath, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", devicePath, err)
	}
	m := &Machine{
		params:      params,
		logger:      logger,
		devFD:       devFD,
		partitionFD: -1,
		vpFD:        -1,
		cmds:        make(chan *runRequest),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	if err := m.setup(); err != nil {
		m.release()
		return nil, err
	}

	ready := make(chan struct{})
	go m.vcpuLoop(ready)
	<-ready
	return m, nil
}

func (m *Machine) setup() error {
	var create createPartitionArgs
	partitionFD, err := ioctl(m.devFD, ioctlCreatePartition, uintptr(unsafe.Pointer(&create)))
	if err != nil {
		return fmt.Errorf("MSHV_CREATE_PARTITION: %w", err)
	}
	m.partitionFD = int(partitionFD)

	if _, err := ioctl(m.partitionFD, ioctlInitializePartition, 0); err != nil {
		return fmt.Errorf("MSHV_INITIALIZE_PARTITION: %w", err)
	}

	for _, mapping := range m.params.Mappings {
		region := userMemRegion{
			size:      mapping.Size,
			guestPFN:  mapping.GuestStart / memory.PageSize,
			userspace: uint64(mapping.HostBase),
		}
		if mapping.Perms&memory.PermWrite != 0 {
			region.flags |= memFlagWritable
		}
		if mapping.Perms&memory.PermExec != 0 {
			region.flags |= memFlagExecutable
		}
		if _, err := ioctl(m.partitionFD, ioctlMapGuestMemory, uintptr(unsafe.Pointer(&region))); err != nil {
			return fmt.Errorf("MSHV_MAP_GUEST_MEMORY at 0x%x: %w", mapping.GuestStart, err)
		}
	}

	vp := createVPArgs{vpIndex: 0}
	vpFD, err := ioctl(m.partitionFD, ioctlCreateVP, uintptr(unsafe.Pointer(&vp)))
	if err != nil {
		return fmt.Errorf("MSHV_CREATE_VP: %w", err)
	}
	m.vpFD = int(vpFD)

	return m.setupLongMode()
}

func (m *Machine) setRegisters(assocs []regAssoc) error {
	args := vpRegisters{
		count: uint32(len(assocs)),
		regs:  &assocs[0],
	}
	if _, err := ioctl(m.vpFD, ioctlSetVPRegisters, uintptr(unsafe.Pointer(&args))); err != nil {
		return fmt.Errorf("MSHV_SET_VP_REGISTERS: %w", err)
	}
	return nil
}

func (m *Machine) setupLongMode() error {
	return m.setRegisters([]regAssoc{
		segmentValue(regCS, hypervisor.CodeSegmentSelector, codeSegmentAttributes),
		segmentValue(regDS, hypervisor.DataSegmentSelector, dataSegmentAttributes),
		segmentValue(regES, hypervisor.DataSegmentSelector, dataSegmentAttributes),
		segmentValue(regFS, hypervisor.DataSegmentSelector, dataSegmentAttributes),
		segmentValue(regGS, hypervisor.DataSegmentSelector, dataSegmentAttributes),
		segmentValue(regSS, hypervisor.DataSegmentSelector, dataSegmentAttributes),
		u64Reg(regCR0, hypervisor.CR0Value),
		u64Reg(regCR3, m.params.PageTable),
		u64Reg(regCR4, hypervisor.CR4Value),
		u64Reg(regEFER, hypervisor.EFERValue),
	})
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

// Kick interrupts a run in flight with a directed SIGURG; MSHV_RUN_VP
// returns EINTR when the signal lands.
func (m *Machine) Kick() {
	m.kicked.Store(true)
	if tid := m.tid.Load(); tid != 0 {
		unix.Tgkill(unix.Getpid(), int(tid), unix.SIGURG)
	}
}

func (m *Machine) vcpuLoop(ready chan<- struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	m.tid.Store(int32(unix.Gettid()))
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

	entry := []regAssoc{
		u64Reg(regRIP, req.rip),
		u64Reg(regRSP, m.params.StackPointer),
		u64Reg(regRFLAGS, hypervisor.RFlagsValue),
	}
	if req.init {
		entry = append(entry,
			u64Reg(regRDI, m.params.PEB),
			u64Reg(regRSI, m.params.Seed),
			u64Reg(regRDX, memory.PageSize),
		)
	}
	if err := m.setRegisters(entry); err != nil {
		return err
	}

	var msg message
	for {
		_, err := ioctl(m.vpFD, ioctlRunVP, uintptr(unsafe.Pointer(&msg)))
		if err == unix.EINTR || err == unix.EAGAIN {
			if m.kicked.Load() {
				return hypervisor.ErrCancelled
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("MSHV_RUN_VP: %w", err)
		}

		switch msg.messageType {
		case msgHalt:
			return nil

		case msgIOPortIntercept:
			if err := m.handleIOPort(&msg); err != nil {
				return err
			}

		case msgUnmappedGPA, msgGPAIntercept:
			intercept := (*memoryIntercept)(unsafe.Pointer(&msg.payload[0]))
			if handler := m.params.Handlers.MemFault; handler != nil {
				if err := handler(intercept.guestPhysicalAddress, 1); err != nil {
					return err
				}
			}
			return fmt.Errorf("%w: access to unmapped address 0x%x",
				hypervisor.ErrGuestFault, intercept.guestPhysicalAddress)

		case msgExceptionIntercept:
			return fmt.Errorf("guest raised an unhandled exception")

		default:
			return fmt.Errorf("unexpected vp message %s (0x%x)", messageTypeName(msg.messageType), msg.messageType)
		}
	}
}

// handleIOPort dispatches a port write and advances RIP past the OUT
// instruction; Hyper-V leaves instruction completion to the host.
func (m *Machine) handleIOPort(msg *message) error {
	intercept := (*ioPortIntercept)(unsafe.Pointer(&msg.payload[0]))
	handler := m.params.Handlers.OutB
	if handler == nil {
		return fmt.Errorf("guest wrote port 0x%x with no handler installed", intercept.portNumber)
	}
	if err := handler(intercept.portNumber, byte(intercept.rax)); err != nil {
		return err
	}
	next := intercept.header.rip + uint64(intercept.header.instructionLength&0xF)
	return m.setRegisters([]regAssoc{u64Reg(regRIP, next)})
}

// Close stops the vCPU goroutine and releases the partition.
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
	var firstErr error
	for _, fd := range []*int{&m.vpFD, &m.partitionFD, &m.devFD} {
		if *fd >= 0 {
			if err := unix.Close(*fd); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("closing fd: %w", err)
			}
			*fd = -1
		}
	}
	return firstErr
}
