// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/microvm/hypervisor"
	"github.com/bureau-foundation/microvm/lib/clock"
	"github.com/bureau-foundation/microvm/lib/testutil"
	"github.com/bureau-foundation/microvm/memory"
	"github.com/bureau-foundation/microvm/protocol"
)

// dispatchPointerOffset is where the fake guest publishes its
// dispatch routine inside the control block.
const dispatchPointerOffset = 0x70

// fakeDriver emulates a guest from the host side of the shared
// region: it decodes staged calls, manipulates guest memory through
// the manager and raises the same traps a real guest would.
type fakeDriver struct {
	params hypervisor.Params
	mem    *memory.Manager // wired by the test after New returns

	skipInit   bool // leave the dispatch pointer null
	ignoreKick bool // simulate a vCPU that will not stop

	dispatched bool
	kick       chan struct{}
	hanging    chan struct{}
	release    chan struct{}
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		kick:    make(chan struct{}, 1),
		hanging: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (d *fakeDriver) factory() func(hypervisor.Params) (hypervisor.Driver, error) {
	return func(p hypervisor.Params) (hypervisor.Driver, error) {
		d.params = p
		return d, nil
	}
}

func (d *fakeDriver) Initialise(ctx context.Context) error {
	if d.skipInit {
		return nil
	}
	layout := d.mem.Layout()
	return d.mem.WriteUint64(layout.PEB.Offset+dispatchPointerOffset, layout.Code.GuestAddress().Absolute())
}

func (d *fakeDriver) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

func (d *fakeDriver) Close() error { return nil }

func (d *fakeDriver) Dispatch(ctx context.Context, addr uint64) error {
	d.dispatched = true
	layout := d.mem.Layout()
	framed, err := readTestFrame(d.mem, layout.InputBuffer)
	if err != nil {
		return err
	}
	call, err := protocol.DecodeCall(framed)
	if err != nil {
		return err
	}

	switch call.Name {
	case "Add":
		a, _ := call.Params[0].AsInt32()
		b, _ := call.Params[1].AsInt32()
		return d.ret(protocol.Int32(a + b))

	case "Count":
		// Guest state lives in the heap, so rollback is observable.
		v, err := d.mem.ReadUint64(layout.Heap.Offset)
		if err != nil {
			return err
		}
		v++
		if err := d.mem.WriteUint64(layout.Heap.Offset, v); err != nil {
			return err
		}
		return d.ret(protocol.UInt64(v))

	case "CallHost":
		name, _ := call.Params[0].AsString()
		hostCall := protocol.FunctionCall{
			Name:           name,
			Kind:           protocol.CallHost,
			ExpectedReturn: call.ExpectedReturn,
			Params:         call.Params[1:],
		}
		encoded, err := protocol.EncodeCall(hostCall)
		if err != nil {
			return err
		}
		if err := d.mem.WriteLengthPrefixed(layout.OutputBuffer, encoded[4:]); err != nil {
			return err
		}
		if err := d.params.Handlers.OutB(uint16(protocol.OutBCallFunction), 0); err != nil {
			return err
		}
		returnFrame, err := readTestFrame(d.mem, layout.InputBuffer)
		if err != nil {
			return err
		}
		if len(returnFrame) == 4 {
			// The host relayed a typed error instead of a return
			// value; halt and let the host read the error buffer.
			return nil
		}
		result, err := protocol.DecodeReturnValue(returnFrame)
		if err != nil {
			return err
		}
		return d.ret(result)

	case "Log":
		msg, _ := call.Params[0].AsString()
		record := protocol.EncodeLogRecord(&protocol.LogRecord{
			Level:   protocol.LevelWarn,
			Message: msg,
			Source:  "fake-guest",
		})
		if err := d.mem.WriteLengthPrefixed(layout.OutputBuffer, record[4:]); err != nil {
			return err
		}
		if err := d.params.Handlers.OutB(uint16(protocol.OutBLog), 0); err != nil {
			return err
		}
		return d.ret(protocol.Void())

	case "Abort":
		return d.params.Handlers.OutB(uint16(protocol.OutBAbort), 42)

	case "Crash":
		// A run ending in anything but a clean halt, here the shape of
		// a triple fault, comes back as a bare error.
		return fmt.Errorf("vcpu exit: shutdown")

	case "SmashStack":
		guard, err := d.mem.ReadBytes(layout.Stack.Offset, 16)
		if err != nil {
			return err
		}
		for i := range guard {
			guard[i] ^= 0xFF
		}
		if err := d.mem.WriteBytes(layout.Stack.Offset, guard); err != nil {
			return err
		}
		return d.ret(protocol.Void())

	case "TouchGuard":
		gpa := layout.GuardPage.GuestAddress().Absolute()
		if handler := d.params.Handlers.MemFault; handler != nil {
			if err := handler(gpa, 8); err != nil {
				return err
			}
		}
		return fmt.Errorf("%w: access to unmapped address 0x%x", hypervisor.ErrGuestFault, gpa)

	case "Hang":
		d.hanging <- struct{}{}
		if d.ignoreKick {
			<-d.release
			return nil
		}
		<-d.kick
		return hypervisor.ErrCancelled

	default:
		record := protocol.EncodeGuestError(&protocol.GuestError{
			Code:    protocol.CodeFunctionNotFound,
			Message: call.Name,
		})
		return d.mem.WriteLengthPrefixed(layout.GuestErrorBuffer, record[4:])
	}
}

func (d *fakeDriver) ret(v protocol.Value) error {
	encoded, err := protocol.EncodeReturnValue(v)
	if err != nil {
		return err
	}
	return d.mem.WriteLengthPrefixed(d.mem.Layout().OutputBuffer, encoded[4:])
}

func readTestFrame(mem *memory.Manager, buf memory.Buffer) ([]byte, error) {
	length, err := mem.ReadUint32(buf.Offset)
	if err != nil {
		return nil, err
	}
	framed, err := mem.ReadBytes(buf.Offset, 4+uint64(length))
	if err != nil {
		return nil, err
	}
	if err := mem.WriteUint32(buf.Offset, 0); err != nil {
		return nil, err
	}
	return framed, nil
}

func testImage() *GuestImage {
	code := make([]byte, 512)
	for i := range code {
		code[i] = 0xF4 // hlt
	}
	return &GuestImage{Code: code}
}

func newTestSandbox(t *testing.T, cfg Config) (*fakeDriver, *Uninitialized) {
	t.Helper()
	fake := newFakeDriver()
	cfg.NewDriver = fake.factory()
	u, err := New(testImage(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fake.mem = u.c.mem
	t.Cleanup(func() { u.c.close() })
	return fake, u
}

func evolved(t *testing.T, cfg Config) (*fakeDriver, *MultiUse) {
	t.Helper()
	fake, u := newTestSandbox(t, cfg)
	sb, err := u.Evolve(context.Background())
	if err != nil {
		t.Fatalf("Evolve: %v", err)
	}
	return fake, sb
}

func TestEvolveAndCall(t *testing.T) {
	t.Parallel()
	_, sb := evolved(t, Config{})

	result, err := sb.Call(context.Background(), "Add", protocol.KindInt32, protocol.Int32(2), protocol.Int32(3))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	got, err := result.AsInt32()
	if err != nil {
		t.Fatalf("AsInt32: %v", err)
	}
	if got != 5 {
		t.Fatalf("Add(2, 3) = %d, want 5", got)
	}
}

func TestEvolveConsumes(t *testing.T) {
	t.Parallel()
	_, u := newTestSandbox(t, Config{})

	if _, err := u.Evolve(context.Background()); err != nil {
		t.Fatalf("first Evolve: %v", err)
	}
	if _, err := u.Evolve(context.Background()); !errors.Is(err, ErrConsumed) {
		t.Fatalf("second Evolve = %v, want ErrConsumed", err)
	}
	if err := u.RegisterHostFunction("late", HostFunction{
		Return: protocol.KindVoid,
		Fn:     func([]protocol.Value) (protocol.Value, error) { return protocol.Void(), nil },
	}); !errors.Is(err, ErrConsumed) {
		t.Fatalf("RegisterHostFunction after evolve = %v, want ErrConsumed", err)
	}
}

func TestEvolveRequiresDispatchPointer(t *testing.T) {
	t.Parallel()
	fake, u := newTestSandbox(t, Config{})
	fake.skipInit = true

	if _, err := u.Evolve(context.Background()); !errors.Is(err, memory.ErrNoDispatchPointer) {
		t.Fatalf("Evolve = %v, want ErrNoDispatchPointer", err)
	}
}

func TestReturnKindMismatch(t *testing.T) {
	t.Parallel()
	_, sb := evolved(t, Config{})

	_, err := sb.Call(context.Background(), "Add", protocol.KindString, protocol.Int32(1), protocol.Int32(2))
	if err == nil || !strings.Contains(err.Error(), "expected string") {
		t.Fatalf("expected return kind mismatch, got %v", err)
	}
}

func TestGuestFunctionNotFound(t *testing.T) {
	t.Parallel()
	_, sb := evolved(t, Config{})

	_, err := sb.Call(context.Background(), "NoSuchFunction", protocol.KindVoid)
	var guestErr *protocol.GuestError
	if !errors.As(err, &guestErr) {
		t.Fatalf("Call = %v, want *protocol.GuestError", err)
	}
	if guestErr.Code != protocol.CodeFunctionNotFound {
		t.Fatalf("code = %v, want function-not-found", guestErr.Code)
	}
}

func TestOversizedCallFailsBeforeGuestRuns(t *testing.T) {
	t.Parallel()
	fake, sb := evolved(t, Config{
		Memory: memory.Config{InputDataSize: memory.MinInputDataSize},
	})

	big := protocol.ByteVector(make([]byte, memory.MinInputDataSize+1))
	_, err := sb.Call(context.Background(), "Add", protocol.KindInt32, big)
	if err == nil {
		t.Fatal("expected staging failure for oversized call")
	}
	if fake.dispatched {
		t.Fatal("guest ran despite the staging failure")
	}
}

func TestHostFunctionCall(t *testing.T) {
	t.Parallel()
	_, u := newTestSandbox(t, Config{})
	err := u.RegisterHostFunction("HostAdd", HostFunction{
		Params: []protocol.Kind{protocol.KindInt32, protocol.KindInt32},
		Return: protocol.KindInt32,
		Fn: func(args []protocol.Value) (protocol.Value, error) {
			a, _ := args[0].AsInt32()
			b, _ := args[1].AsInt32()
			return protocol.Int32(a + b), nil
		},
	})
	if err != nil {
		t.Fatalf("RegisterHostFunction: %v", err)
	}
	sb, err := u.Evolve(context.Background())
	if err != nil {
		t.Fatalf("Evolve: %v", err)
	}

	result, err := sb.Call(context.Background(), "CallHost", protocol.KindInt32,
		protocol.String("HostAdd"), protocol.Int32(4), protocol.Int32(5))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	got, _ := result.AsInt32()
	if got != 9 {
		t.Fatalf("HostAdd(4, 5) = %d, want 9", got)
	}
}

func TestHostFunctionSignatureViolation(t *testing.T) {
	t.Parallel()
	_, u := newTestSandbox(t, Config{})
	err := u.RegisterHostFunction("OneArg", HostFunction{
		Params: []protocol.Kind{protocol.KindString},
		Return: protocol.KindVoid,
		Fn:     func([]protocol.Value) (protocol.Value, error) { return protocol.Void(), nil },
	})
	if err != nil {
		t.Fatalf("RegisterHostFunction: %v", err)
	}
	sb, err := u.Evolve(context.Background())
	if err != nil {
		t.Fatalf("Evolve: %v", err)
	}

	// Two arguments against a one-argument signature: the violation
	// comes back as a typed guest error, not a dead sandbox.
	_, callErr := sb.Call(context.Background(), "CallHost", protocol.KindVoid,
		protocol.String("OneArg"), protocol.String("x"), protocol.String("y"))
	var guestErr *protocol.GuestError
	if !errors.As(callErr, &guestErr) {
		t.Fatalf("Call = %v, want *protocol.GuestError", callErr)
	}
	if guestErr.Code != protocol.CodeUnexpectedParameterCount {
		t.Fatalf("code = %v, want unexpected-parameter-count", guestErr.Code)
	}
	if sb.Poisoned() {
		t.Fatal("signature violation must not poison the sandbox")
	}
}

func TestGuestLogRelay(t *testing.T) {
	t.Parallel()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	_, sb := evolved(t, Config{Logger: logger})

	if _, err := sb.Call(context.Background(), "Log", protocol.KindVoid, protocol.String("heap nearly full")); err != nil {
		t.Fatalf("Call: %v", err)
	}
	out := logs.String()
	if !strings.Contains(out, "heap nearly full") || !strings.Contains(out, "fake-guest") {
		t.Fatalf("log output missing guest record: %q", out)
	}
	if !strings.Contains(out, "WARN") {
		t.Fatalf("guest warn level not mapped: %q", out)
	}
}

func TestGuestAbort(t *testing.T) {
	t.Parallel()
	_, sb := evolved(t, Config{})

	_, err := sb.Call(context.Background(), "Abort", protocol.KindVoid)
	if !errors.Is(err, ErrGuestAborted) {
		t.Fatalf("Call = %v, want ErrGuestAborted", err)
	}
	if !strings.Contains(err.Error(), "42") {
		t.Fatalf("abort code missing from %v", err)
	}

	// An abort is fatal to the instance, not just to the call.
	if !sb.Poisoned() {
		t.Fatal("guest abort must poison the sandbox")
	}
	if _, err := sb.Call(context.Background(), "Add", protocol.KindInt32, protocol.Int32(1), protocol.Int32(2)); !errors.Is(err, ErrPoisoned) {
		t.Fatalf("call after abort = %v, want ErrPoisoned", err)
	}
}

func TestUnexpectedExitPoisons(t *testing.T) {
	t.Parallel()
	_, sb := evolved(t, Config{})

	if _, err := sb.Call(context.Background(), "Crash", protocol.KindVoid); err == nil {
		t.Fatal("a crashed vCPU run must surface an error")
	}
	if !sb.Poisoned() {
		t.Fatal("an unexpected VM exit must poison the sandbox")
	}
	if _, err := sb.Call(context.Background(), "Add", protocol.KindInt32, protocol.Int32(1), protocol.Int32(2)); !errors.Is(err, ErrPoisoned) {
		t.Fatalf("call after crash = %v, want ErrPoisoned", err)
	}
}

func TestStackGuardPoisons(t *testing.T) {
	t.Parallel()
	_, sb := evolved(t, Config{})

	_, err := sb.Call(context.Background(), "SmashStack", protocol.KindVoid)
	if !errors.Is(err, memory.ErrStackOverflow) {
		t.Fatalf("Call = %v, want ErrStackOverflow", err)
	}
	if !sb.Poisoned() {
		t.Fatal("stack overflow must poison the sandbox")
	}
	if _, err := sb.Call(context.Background(), "Add", protocol.KindInt32, protocol.Int32(1), protocol.Int32(2)); !errors.Is(err, ErrPoisoned) {
		t.Fatalf("call on poisoned sandbox = %v, want ErrPoisoned", err)
	}
}

func TestGuardPageFault(t *testing.T) {
	t.Parallel()
	_, sb := evolved(t, Config{})

	_, err := sb.Call(context.Background(), "TouchGuard", protocol.KindVoid)
	if !errors.Is(err, memory.ErrStackOverflow) {
		t.Fatalf("Call = %v, want ErrStackOverflow", err)
	}
	if !sb.Poisoned() {
		t.Fatal("guard page fault must poison the sandbox")
	}
}

func TestExecutionTimeout(t *testing.T) {
	t.Parallel()
	fc := clock.Fake(time.Unix(0, 0))
	fake, sb := evolved(t, Config{Clock: fc})

	errCh := make(chan error, 1)
	go func() {
		_, err := sb.Call(context.Background(), "Hang", protocol.KindVoid)
		errCh <- err
	}()

	testutil.RequireClosed(t, fake.hanging, 5*time.Second, "guest entering the hang loop")
	fc.BlockUntil(1)
	fc.Advance(memory.DefaultMaxExecutionTime)

	if err := testutil.RequireReceive(t, errCh, 5*time.Second, "call result"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Call = %v, want ErrTimeout", err)
	}
	if sb.Poisoned() {
		t.Fatal("an acknowledged cancellation must not poison the sandbox")
	}

	// A timed-out sandbox leaves no residue behind: a brand-new one
	// built afterwards dispatches normally.
	_, fresh := evolved(t, Config{})
	result, err := fresh.Call(context.Background(), "Add", protocol.KindInt32, protocol.Int32(20), protocol.Int32(22))
	if err != nil {
		t.Fatalf("Call on fresh sandbox: %v", err)
	}
	if got, _ := result.AsInt32(); got != 42 {
		t.Fatalf("fresh Add(20, 22) = %d, want 42", got)
	}
}

func TestCancellationFailurePoisons(t *testing.T) {
	t.Parallel()
	fc := clock.Fake(time.Unix(0, 0))
	fake, sb := evolved(t, Config{Clock: fc})
	fake.ignoreKick = true
	defer close(fake.release)

	errCh := make(chan error, 1)
	go func() {
		_, err := sb.Call(context.Background(), "Hang", protocol.KindVoid)
		errCh <- err
	}()

	testutil.RequireClosed(t, fake.hanging, 5*time.Second, "guest entering the hang loop")
	fc.BlockUntil(1)
	fc.Advance(memory.DefaultMaxExecutionTime)
	fc.BlockUntil(1)
	fc.Advance(memory.DefaultMaxWaitForCancel)

	if err := testutil.RequireReceive(t, errCh, 5*time.Second, "call result"); !errors.Is(err, ErrCancellationFailed) {
		t.Fatalf("Call = %v, want ErrCancellationFailed", err)
	}
	if !sb.Poisoned() {
		t.Fatal("an unacknowledged cancellation must poison the sandbox")
	}
}

func TestCallContextExclusivity(t *testing.T) {
	t.Parallel()
	_, sb := evolved(t, Config{})

	cc, err := sb.NewCallContext()
	if err != nil {
		t.Fatalf("NewCallContext: %v", err)
	}
	if _, err := sb.NewCallContext(); !errors.Is(err, ErrContextActive) {
		t.Fatalf("second context = %v, want ErrContextActive", err)
	}
	if err := cc.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	cc2, err := sb.NewCallContext()
	if err != nil {
		t.Fatalf("context after Finish: %v", err)
	}
	cc2.Finish()

	if _, err := cc.Call(context.Background(), "Add", protocol.KindInt32); !errors.Is(err, ErrContextFinished) {
		t.Fatalf("call on finished context = %v, want ErrContextFinished", err)
	}
}

func TestCallContextRollback(t *testing.T) {
	t.Parallel()
	_, sb := evolved(t, Config{})

	count := func(cc *CallContext) uint64 {
		t.Helper()
		result, err := cc.Call(context.Background(), "Count", protocol.KindUInt64)
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		v, _ := result.AsUInt64()
		return v
	}

	cc, err := sb.NewCallContext()
	if err != nil {
		t.Fatalf("NewCallContext: %v", err)
	}
	for want := uint64(1); want <= 3; want++ {
		if got := count(cc); got != want {
			t.Fatalf("Count = %d, want %d", got, want)
		}
	}
	if err := cc.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	cc2, err := sb.NewCallContext()
	if err != nil {
		t.Fatalf("NewCallContext: %v", err)
	}
	defer cc2.Finish()
	if got := count(cc2); got != 1 {
		t.Fatalf("Count after rollback = %d, want 1", got)
	}
}

func TestConcurrentSandboxesAreIsolated(t *testing.T) {
	t.Parallel()

	const sandboxes = 10
	const calls = 10

	var wg sync.WaitGroup
	failures := make(chan error, sandboxes)
	for i := 0; i < sandboxes; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fake := newFakeDriver()
			u, err := New(testImage(), Config{NewDriver: fake.factory()})
			if err != nil {
				failures <- err
				return
			}
			fake.mem = u.c.mem
			sb, err := u.Evolve(context.Background())
			if err != nil {
				failures <- err
				return
			}
			defer sb.Close()

			cc, err := sb.NewCallContext()
			if err != nil {
				failures <- err
				return
			}
			defer cc.Finish()
			for want := uint64(1); want <= calls; want++ {
				result, err := cc.Call(context.Background(), "Count", protocol.KindUInt64)
				if err != nil {
					failures <- err
					return
				}
				got, _ := result.AsUInt64()
				if got != want {
					failures <- fmt.Errorf("count = %d, want %d", got, want)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(failures)
	for err := range failures {
		t.Errorf("sandbox run: %v", err)
	}
}

func TestSingleUse(t *testing.T) {
	t.Parallel()
	_, u := newTestSandbox(t, Config{})
	sb, err := u.EvolveSingleUse(context.Background())
	if err != nil {
		t.Fatalf("EvolveSingleUse: %v", err)
	}

	result, err := sb.Call(context.Background(), "Add", protocol.KindInt32, protocol.Int32(20), protocol.Int32(22))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	got, _ := result.AsInt32()
	if got != 42 {
		t.Fatalf("Add = %d, want 42", got)
	}

	if _, err := sb.Call(context.Background(), "Add", protocol.KindInt32, protocol.Int32(1), protocol.Int32(1)); !errors.Is(err, ErrSpent) {
		t.Fatalf("second call = %v, want ErrSpent", err)
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	t.Parallel()
	_, sb := evolved(t, Config{})

	var archive bytes.Buffer
	if err := sb.WriteArchive(&archive); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}

	// Mutate state, then restore from the archive; counting starts
	// over.
	cc, err := sb.NewCallContext()
	if err != nil {
		t.Fatalf("NewCallContext: %v", err)
	}
	if _, err := cc.Call(context.Background(), "Count", protocol.KindUInt64); err != nil {
		t.Fatalf("Count: %v", err)
	}
	if err := cc.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	if err := sb.ReadArchive(&archive); err != nil {
		t.Fatalf("ReadArchive: %v", err)
	}
	result, err := sb.Call(context.Background(), "Count", protocol.KindUInt64)
	if err != nil {
		t.Fatalf("Count after restore: %v", err)
	}
	if got, _ := result.AsUInt64(); got != 1 {
		t.Fatalf("Count after restore = %d, want 1", got)
	}
}

func TestRelocateHookRunsAtCodeBase(t *testing.T) {
	t.Parallel()

	image := testImage()
	var gotBase uint64
	image.Relocate = func(code []byte, base uint64) ([]byte, error) {
		gotBase = base
		code[0] = 0x90
		return code, nil
	}

	fake := newFakeDriver()
	u, err := New(image, Config{NewDriver: fake.factory()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer u.Close()

	layout, err := memory.NewLayout(memory.Config{}, uint64(len(image.Code)), 0, 0)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	if want := layout.Code.GuestAddress().Absolute(); gotBase != want {
		t.Errorf("relocation base = 0x%x, want 0x%x", gotBase, want)
	}

	loaded, err := u.c.mem.ReadBytes(layout.Code.Offset, 1)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if loaded[0] != 0x90 {
		t.Errorf("loaded code starts with 0x%02x, want the relocated 0x90", loaded[0])
	}
	if image.Code[0] != 0xF4 {
		t.Error("relocation must not modify the caller's image")
	}
}

func TestRelocateFailureAbortsConstruction(t *testing.T) {
	t.Parallel()

	image := testImage()
	image.Relocate = func(code []byte, base uint64) ([]byte, error) {
		return nil, fmt.Errorf("unresolved symbol")
	}

	fake := newFakeDriver()
	if _, err := New(image, Config{NewDriver: fake.factory()}); err == nil {
		t.Fatal("New should fail when relocation fails")
	}
}
