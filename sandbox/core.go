// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/microvm/hypervisor"
	"github.com/bureau-foundation/microvm/lib/clock"
	"github.com/bureau-foundation/microvm/memory"
	"github.com/bureau-foundation/microvm/protocol"
)

// core is the state shared by every typestate of one sandbox: the
// memory manager, the hypervisor driver and the trap plumbing between
// them. The typestate wrappers own when core methods may be called;
// core owns how.
type core struct {
	mem    *memory.Manager
	driver hypervisor.Driver
	host   *HostFunctions
	logger *slog.Logger
	clk    clock.Clock

	maxExecution time.Duration
	maxCancel    time.Duration
	imageDigest  [32]byte

	poisoned atomic.Bool
	closed   atomic.Bool
}

func (c *core) poison() {
	c.poisoned.Store(true)
}

func (c *core) usable() error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.poisoned.Load() {
		return ErrPoisoned
	}
	return nil
}

// handleOutB services a guest I/O-port trap. It runs on the vCPU
// goroutine with the guest stopped.
func (c *core) handleOutB(port uint16, value byte) error {
	switch protocol.OutBAction(port) {
	case protocol.OutBLog:
		return c.relayLogRecord()
	case protocol.OutBCallFunction:
		return c.callHostFunction()
	case protocol.OutBAbort:
		return fmt.Errorf("%w: code %d", ErrGuestAborted, value)
	default:
		return fmt.Errorf("guest wrote 0x%02x to unknown port 0x%x", value, port)
	}
}

// handleMemFault services a guest access to an unmapped address. A
// fault inside the guard page is runaway stack growth; anything else
// is a stray access. Either way the run is over and the sandbox
// cannot vouch for guest state.
func (c *core) handleMemFault(gpa uint64, size uint64) error {
	c.poison()
	layout := c.mem.Layout()
	guardStart := layout.GuardPage.GuestAddress().Absolute()
	guardEnd := guardStart + layout.GuardPage.Size
	if gpa >= guardStart && gpa < guardEnd {
		return fmt.Errorf("%w: guest stack grew into the guard page at 0x%x", memory.ErrStackOverflow, gpa)
	}
	return nil
}

func (c *core) relayLogRecord() error {
	framed, err := c.readFrame(c.mem.Layout().OutputBuffer)
	if err != nil {
		return fmt.Errorf("reading guest log record: %w", err)
	}
	record, err := protocol.DecodeLogRecord(framed)
	if err != nil {
		return fmt.Errorf("decoding guest log record: %w", err)
	}
	attrs := []slog.Attr{slog.String("source", record.Source)}
	if record.File != "" {
		attrs = append(attrs, slog.String("file", record.File), slog.Int("line", int(record.Line)))
	}
	c.logger.LogAttrs(context.Background(), record.Level.Slog(), record.Message, attrs...)
	return nil
}

// callHostFunction pops a host call from the output buffer, runs it,
// and pushes the return value into the input buffer for the guest to
// pick up when the trap returns.
func (c *core) callHostFunction() error {
	layout := c.mem.Layout()
	framed, err := c.readFrame(layout.OutputBuffer)
	if err != nil {
		return fmt.Errorf("reading host call: %w", err)
	}
	call, err := protocol.DecodeCall(framed)
	if err != nil {
		return fmt.Errorf("decoding host call: %w", err)
	}
	if call.Kind != protocol.CallHost {
		return fmt.Errorf("call on the host-call port is %v, not a host call", call.Kind)
	}

	result, err := c.host.Call(call)
	if err != nil {
		var guestErr *protocol.GuestError
		if errors.As(err, &guestErr) {
			// Signature violations relay to the guest as a typed
			// error record rather than killing the run.
			return c.writeGuestError(guestErr)
		}
		return err
	}

	encoded, err := protocol.EncodeReturnValue(result)
	if err != nil {
		return fmt.Errorf("encoding host return value: %w", err)
	}
	return c.writeFrame(layout.InputBuffer, encoded)
}

func (c *core) writeGuestError(guestErr *protocol.GuestError) error {
	return c.writeFrame(c.mem.Layout().GuestErrorBuffer, protocol.EncodeGuestError(guestErr))
}

// writeFrame stores an already-framed record into buf, enforcing the
// buffer's capacity. Oversized payloads fail before the guest ever
// runs.
func (c *core) writeFrame(buf memory.Buffer, framed []byte) error {
	return c.mem.WriteLengthPrefixed(buf, framed[4:])
}

// readFrame loads a framed record from buf and clears the length
// prefix so stale records cannot be replayed.
func (c *core) readFrame(buf memory.Buffer) ([]byte, error) {
	length, err := c.mem.ReadUint32(buf.Offset)
	if err != nil {
		return nil, err
	}
	if uint64(length) > buf.Size-4 {
		return nil, fmt.Errorf("frame length %d exceeds %d byte buffer", length, buf.Size)
	}
	framed, err := c.mem.ReadBytes(buf.Offset, 4+uint64(length))
	if err != nil {
		return nil, err
	}
	if err := c.mem.WriteUint32(buf.Offset, 0); err != nil {
		return nil, err
	}
	return framed, nil
}

// readGuestError drains the guest-error buffer. An empty buffer means
// no error.
func (c *core) readGuestError() (*protocol.GuestError, error) {
	buf := c.mem.Layout().GuestErrorBuffer
	length, err := c.mem.ReadUint32(buf.Offset)
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}
	framed, err := c.readFrame(buf)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeGuestError(framed)
}

// run executes fn (an Initialise or Dispatch on the driver) under the
// execution time limit. Timeouts and context cancellation kick the
// vCPU; a vCPU that does not acknowledge the kick within the cancel
// grace period poisons the sandbox.
func (c *core) run(ctx context.Context, fn func(context.Context) error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn(context.Background())
	}()

	var runErr error
	select {
	case runErr = <-done:
	case <-c.clk.After(c.maxExecution):
		runErr = c.awaitKick(done, ErrTimeout)
	case <-ctx.Done():
		runErr = c.awaitKick(done, ctx.Err())
	}
	return runErr
}

// awaitKick forces the guest out and waits for the vCPU to come back.
func (c *core) awaitKick(done <-chan error, cause error) error {
	c.driver.Kick()
	select {
	case err := <-done:
		if errors.Is(err, hypervisor.ErrCancelled) || err == nil {
			return cause
		}
		return err
	case <-c.clk.After(c.maxCancel):
		c.poison()
		return fmt.Errorf("%w (waited %v)", ErrCancellationFailed, c.maxCancel)
	}
}

// executionFault reports whether a run error left the guest in an
// unknown state. A kicked guest (timeout or context cancellation)
// stopped cleanly at an exit boundary and the region is intact;
// anything else, an abort, a stray memory access, an unexpected VM
// exit, means the guest never reached a clean stop and the instance
// cannot be trusted again.
func executionFault(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// finishRun applies the post-run integrity and error protocol shared
// by initialisation and dispatch: a smashed stack guard poisons and
// trumps everything, an execution fault poisons, then a guest-reported
// error supersedes the raw run error.
func (c *core) finishRun(runErr error) error {
	if err := c.mem.CheckStackGuard(); err != nil {
		c.poison()
		return err
	}
	if executionFault(runErr) {
		c.poison()
	}
	guestErr, readErr := c.readGuestError()
	if readErr == nil && guestErr != nil {
		return guestErr
	}
	if runErr != nil {
		return runErr
	}
	return readErr
}

// dispatch performs one host-to-guest call end to end.
func (c *core) dispatch(ctx context.Context, call protocol.FunctionCall) (protocol.Value, error) {
	if err := c.usable(); err != nil {
		return protocol.Void(), err
	}

	dispatchPtr, err := c.mem.DispatchPointer()
	if err != nil {
		return protocol.Void(), err
	}

	encoded, err := protocol.EncodeCall(call)
	if err != nil {
		return protocol.Void(), fmt.Errorf("encoding call to %q: %w", call.Name, err)
	}
	layout := c.mem.Layout()
	if err := c.writeFrame(layout.InputBuffer, encoded); err != nil {
		return protocol.Void(), fmt.Errorf("staging call to %q: %w", call.Name, err)
	}

	runErr := c.run(ctx, func(runCtx context.Context) error {
		return c.driver.Dispatch(runCtx, dispatchPtr.Absolute())
	})
	if err := c.finishRun(runErr); err != nil {
		return protocol.Void(), err
	}

	framed, err := c.readFrame(layout.OutputBuffer)
	if err != nil {
		return protocol.Void(), fmt.Errorf("reading return value of %q: %w", call.Name, err)
	}
	result, err := protocol.DecodeReturnValue(framed)
	if err != nil {
		return protocol.Void(), fmt.Errorf("decoding return value of %q: %w", call.Name, err)
	}
	if result.Kind() != call.ExpectedReturn {
		return protocol.Void(), fmt.Errorf("%q returned %s, expected %s", call.Name, result.Kind(), call.ExpectedReturn)
	}
	return result, nil
}

// close releases the driver and the memory region. Safe to call from
// any typestate; later calls are no-ops.
func (c *core) close() error {
	if c.closed.Swap(true) {
		return nil
	}
	var firstErr error
	if c.driver != nil {
		if err := c.driver.Close(); err != nil {
			firstErr = err
		}
	}
	if err := c.mem.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
