// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

// Package kvm runs guests on the Linux KVM API through raw ioctls on
// /dev/kvm. One Machine is one VM with one vCPU, entered directly in
// 64-bit long mode.
package kvm

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

const devicePath = "/dev/kvm"

// Available reports whether /dev/kvm exists and speaks the stable
// API version.
func Available() bool {
	fd, err := unix.Open(devicePath, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return false
	}
	defer unix.Close(fd)
	version, err := ioctl(fd, ioctlGetAPIVersion, 0)
	return err == nil && version == apiVersion
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

// Machine is one KVM virtual machine with a single vCPU. The vCPU
// runs on a dedicated OS-locked goroutine; Initialise and Dispatch
// hand work to it and wait.
type Machine struct {
	params hypervisor.Params
	logger *slog.Logger

	sysFD int
	vmFD  int
	cpuFD int

	runMem []byte
	run    *runData

	tid   atomic.Int32
	cmds  chan *runRequest
	quit  chan struct{}
	done  chan struct{}

	kicked    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ hypervisor.Driver = (*Machine)(nil)

// New creates the VM, installs the guest memory map, creates the
// vCPU, programs long mode and starts the vCPU goroutine.
func New(params hypervisor.Params) (*Machine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	sysFD, err := unix.Open(devicePath, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", devicePath, err)
	}
	m := &Machine{
		params: params,
		logger: logger,
		sysFD:  sysFD,
		vmFD:   -1,
		cpuFD:  -1,
		cmds:   make(chan *runRequest),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
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
	version, err := ioctl(m.sysFD, ioctlGetAPIVersion, 0)
	if err != nil {
		return fmt.Errorf("KVM_GET_API_VERSION: %w", err)
	}
	if version != apiVersion {
		return fmt.Errorf("kvm api version %d, want %d", version, apiVersion)
	}
	if ok, err := ioctl(m.sysFD, ioctlCheckExtension, capUserMemory); err != nil || ok == 0 {
		return fmt.Errorf("kvm lacks KVM_CAP_USER_MEMORY")
	}

	vmFD, err := ioctl(m.sysFD, ioctlCreateVM, 0)
	if err != nil {
		return fmt.Errorf("KVM_CREATE_VM: %w", err)
	}
	m.vmFD = int(vmFD)

	readonlySupported, _ := ioctl(m.sysFD, ioctlCheckExtension, capReadonlyMem)
	for i, mapping := range m.params.Mappings {
		region := userMemoryRegion{
			slot:          uint32(i),
			guestPhysAddr: mapping.GuestStart,
			memorySize:    mapping.Size,
			userspaceAddr: uint64(mapping.HostBase),
		}
		if mapping.Perms&memory.PermWrite == 0 && readonlySupported != 0 {
			region.flags = memReadonly
		}
		if _, err := ioctl(m.vmFD, ioctlSetUserMemoryRegion, uintptr(unsafe.Pointer(&region))); err != nil {
			return fmt.Errorf("KVM_SET_USER_MEMORY_REGION slot %d at 0x%x: %w", i, mapping.GuestStart, err)
		}
	}

	cpuFD, err := ioctl(m.vmFD, ioctlCreateVCPU, 0)
	if err != nil {
		return fmt.Errorf("KVM_CREATE_VCPU: %w", err)
	}
	m.cpuFD = int(cpuFD)

	size, err := ioctl(m.sysFD, ioctlGetVCPUMmapSize, 0)
	if err != nil {
		return fmt.Errorf("KVM_GET_VCPU_MMAP_SIZE: %w", err)
	}
	runMem, err := unix.Mmap(m.cpuFD, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mapping kvm_run: %w", err)
	}
	m.runMem = runMem
	m.run = (*runData)(unsafe.Pointer(unsafe.SliceData(runMem)))

	if err := m.setupLongMode(); err != nil {
		return err
	}
	return nil
}

// setupLongMode programs the segment and control registers so the
// guest's first instruction already executes in 64-bit mode with
// paging live.
func (m *Machine) setupLongMode() error {
	var s sregs
	if _, err := ioctl(m.cpuFD, ioctlGetSregs, uintptr(unsafe.Pointer(&s))); err != nil {
		return fmt.Errorf("KVM_GET_SREGS: %w", err)
	}

	code := segment{
		base:     0,
		limit:    0xFFFFFFFF,
		selector: hypervisor.CodeSegmentSelector,
		typ:      hypervisor.CodeSegmentType,
		present:  1,
		s:        1,
		l:        1,
		g:        1,
	}
	data := segment{
		base:     0,
		limit:    0xFFFFFFFF,
		selector: hypervisor.DataSegmentSelector,
		typ:      hypervisor.DataSegmentType,
		present:  1,
		s:        1,
		db:       1,
		g:        1,
	}
	s.cs = code
	s.ds = data
	s.es = data
	s.fs = data
	s.gs = data
	s.ss = data

	s.cr0 = hypervisor.CR0Value
	s.cr3 = m.params.PageTable
	s.cr4 = hypervisor.CR4Value
	s.efer = hypervisor.EFERValue

	if _, err := ioctl(m.cpuFD, ioctlSetSregs, uintptr(unsafe.Pointer(&s))); err != nil {
		return fmt.Errorf("KVM_SET_SREGS: %w", err)
	}
	return nil
}

// Initialise runs the guest entry point until it halts. The entry
// point receives the control block address, the randomization seed
// and the page size in RDI, RSI and RDX.
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
		// The guest has to stop before we can return: the vCPU
		// goroutine may still be inside a trap handler touching
		// shared state.
		m.Kick()
		<-req.result
		return fmt.Errorf("%w: %w", hypervisor.ErrCancelled, ctx.Err())
	}
}

// Kick interrupts a run in flight. It pairs an immediate-exit flag in
// the shared kvm_run page with a directed SIGURG at the vCPU thread,
// so the kick lands whether the thread is inside KVM_RUN or just
// about to enter it.
func (m *Machine) Kick() {
	m.kicked.Store(true)
	m.setImmediateExit(1)
	if tid := m.tid.Load(); tid != 0 {
		unix.Tgkill(unix.Getpid(), int(tid), unix.SIGURG)
	}
}

// setImmediateExit updates the one-byte immediate_exit field without
// racing the kernel's reads of neighbouring bytes. immediate_exit is
// byte 1 of the first word of kvm_run; amd64 is little endian.
func (m *Machine) setImmediateExit(v uint8) {
	word := (*uint32)(unsafe.Pointer(m.run))
	for {
		old := atomic.LoadUint32(word)
		updated := old&^(0xFF<<8) | uint32(v)<<8
		if atomic.CompareAndSwapUint32(word, old, updated) {
			return
		}
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
	m.setImmediateExit(0)

	r := regs{
		rip:    req.rip,
		rsp:    m.params.StackPointer,
		rflags: hypervisor.RFlagsValue,
	}
	if req.init {
		r.rdi = m.params.PEB
		r.rsi = m.params.Seed
		r.rdx = memory.PageSize
	}
	if _, err := ioctl(m.cpuFD, ioctlSetRegs, uintptr(unsafe.Pointer(&r))); err != nil {
		return fmt.Errorf("KVM_SET_REGS: %w", err)
	}

	for {
		_, err := ioctl(m.cpuFD, ioctlRun, 0)
		if err == unix.EINTR || err == unix.EAGAIN {
			if m.kicked.Load() {
				m.setImmediateExit(0)
				return hypervisor.ErrCancelled
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("KVM_RUN: %w", err)
		}

		switch m.run.exitReason {
		case exitHLT:
			return nil

		case exitIO:
			// KVM completes the OUT instruction on re-entry; no
			// manual RIP adjustment.
			if err := m.handleIO(); err != nil {
				return err
			}

		case exitMMIO:
			mmio := (*exitMMIOData)(unsafe.Pointer(&m.run.union[0]))
			if handler := m.params.Handlers.MemFault; handler != nil {
				if err := handler(mmio.physAddr, uint64(mmio.length)); err != nil {
					return err
				}
			}
			return fmt.Errorf("%w: access to unmapped address 0x%x", hypervisor.ErrGuestFault, mmio.physAddr)

		case exitIntr:
			if m.kicked.Load() {
				m.setImmediateExit(0)
				return hypervisor.ErrCancelled
			}

		case exitShutdown:
			return fmt.Errorf("guest shut down (triple fault)")

		case exitFailEntry:
			fail := (*exitFailEntryData)(unsafe.Pointer(&m.run.union[0]))
			return fmt.Errorf("vcpu entry failed: hardware reason 0x%x", fail.hardwareEntryFailureReason)

		case exitInternalError:
			internal := (*exitInternalData)(unsafe.Pointer(&m.run.union[0]))
			return fmt.Errorf("kvm internal error: suberror %d", internal.suberror)

		default:
			return fmt.Errorf("unexpected vcpu exit %s", exitReasonName(m.run.exitReason))
		}
	}
}

func (m *Machine) handleIO() error {
	io := (*exitIOData)(unsafe.Pointer(&m.run.union[0]))
	if io.direction != ioDirectionOut || io.size != 1 {
		return fmt.Errorf("unsupported io exit: direction %d size %d port 0x%x", io.direction, io.size, io.port)
	}
	handler := m.params.Handlers.OutB
	if handler == nil {
		return fmt.Errorf("guest wrote port 0x%x with no handler installed", io.port)
	}
	data := m.runMem[io.dataOffset:]
	for i := uint32(0); i < io.count; i++ {
		if err := handler(io.port, data[i]); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the vCPU goroutine and releases the VM.
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
	if m.runMem != nil {
		if err := unix.Munmap(m.runMem); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("unmapping kvm_run: %w", err)
		}
		m.runMem = nil
		m.run = nil
	}
	for _, fd := range []*int{&m.cpuFD, &m.vmFD, &m.sysFD} {
		if *fd >= 0 {
			if err := unix.Close(*fd); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("closing fd: %w", err)
			}
			*fd = -1
		}
	}
	return firstErr
}
