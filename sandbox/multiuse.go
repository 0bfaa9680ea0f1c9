// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/microvm/protocol"
)

// MultiUse is an initialised sandbox that serves repeated calls.
// Guest state rolls back to the post-initialisation snapshot at every
// call context boundary.
type MultiUse struct {
	c      *core
	active atomic.Bool
}

// CallContext is an exclusive window onto the guest. Calls made
// through the same context see each other's state changes; Finish
// rolls everything back and releases the exclusivity.
type CallContext struct {
	mu       sync.Mutex
	finished bool
	sb       *MultiUse
}

// NewCallContext claims the sandbox for a sequence of calls. Fails
// with ErrContextActive while another context is live.
func (s *MultiUse) NewCallContext() (*CallContext, error) {
	if err := s.c.usable(); err != nil {
		return nil, err
	}
	if !s.active.CompareAndSwap(false, true) {
		return nil, ErrContextActive
	}
	return &CallContext{sb: s}, nil
}

// Call dispatches one guest function call through this context.
func (cc *CallContext) Call(ctx context.Context, name string, expectedReturn protocol.Kind, params ...protocol.Value) (protocol.Value, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.finished {
		return protocol.Void(), ErrContextFinished
	}
	return cc.sb.c.dispatch(ctx, protocol.FunctionCall{
		Name:           name,
		Kind:           protocol.CallGuest,
		ExpectedReturn: expectedReturn,
		Params:         params,
	})
}

// Finish rolls guest state back to the baseline snapshot and releases
// the context. A poisoned sandbox skips the rollback; the state is
// not trustworthy enough to restore from.
func (cc *CallContext) Finish() error {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.finished {
		return nil
	}
	cc.finished = true
	defer cc.sb.active.Store(false)
	if cc.sb.c.poisoned.Load() || cc.sb.c.closed.Load() {
		return nil
	}
	return cc.sb.c.mem.Restore()
}

// Call is the stateless convenience path: claim a context, make one
// call, roll back.
func (s *MultiUse) Call(ctx context.Context, name string, expectedReturn protocol.Kind, params ...protocol.Value) (protocol.Value, error) {
	cc, err := s.NewCallContext()
	if err != nil {
		return protocol.Void(), err
	}
	result, callErr := cc.Call(ctx, name, expectedReturn, params...)
	if err := cc.Finish(); err != nil && callErr == nil {
		return protocol.Void(), err
	}
	return result, callErr
}

// Snapshot replaces the baseline snapshot with the guest's current
// state. Must not run while a call context is live.
func (s *MultiUse) Snapshot() error {
	if err := s.c.usable(); err != nil {
		return err
	}
	if !s.active.CompareAndSwap(false, true) {
		return ErrContextActive
	}
	defer s.active.Store(false)
	return s.c.mem.Snapshot()
}

// WriteArchive streams a portable snapshot archive of the current
// baseline to w.
func (s *MultiUse) WriteArchive(w io.Writer) error {
	if err := s.c.usable(); err != nil {
		return err
	}
	if !s.active.CompareAndSwap(false, true) {
		return ErrContextActive
	}
	defer s.active.Store(false)
	return s.c.mem.WriteArchive(w, s.c.imageDigest)
}

// ReadArchive restores guest state from a snapshot archive and makes
// it the new baseline.
func (s *MultiUse) ReadArchive(r io.Reader) error {
	if err := s.c.usable(); err != nil {
		return err
	}
	if !s.active.CompareAndSwap(false, true) {
		return ErrContextActive
	}
	defer s.active.Store(false)
	return s.c.mem.ReadArchive(r, s.c.imageDigest)
}

// HostFunctionNames lists the registered host functions.
func (s *MultiUse) HostFunctionNames() []string {
	return s.c.host.Names()
}

// Poisoned reports whether an earlier failure disabled the sandbox.
func (s *MultiUse) Poisoned() bool {
	return s.c.poisoned.Load()
}

// Close releases the sandbox.
func (s *MultiUse) Close() error {
	return s.c.close()
}
