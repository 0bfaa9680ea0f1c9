// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"sync"

	"github.com/bureau-foundation/microvm/protocol"
)

// SingleUse is an initialised sandbox good for exactly one call.
// There is no rollback machinery; the sandbox is torn down as soon as
// the call returns.
type SingleUse struct {
	mu    sync.Mutex
	spent bool
	c     *core
}

// Call dispatches the one guest function call this sandbox exists
// for, then closes it. The sandbox is spent afterwards regardless of
// the outcome.
func (s *SingleUse) Call(ctx context.Context, name string, expectedReturn protocol.Kind, params ...protocol.Value) (protocol.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spent {
		return protocol.Void(), ErrSpent
	}
	s.spent = true
	defer s.c.close()
	return s.c.dispatch(ctx, protocol.FunctionCall{
		Name:           name,
		Kind:           protocol.CallGuest,
		ExpectedReturn: expectedReturn,
		Params:         params,
	})
}

// Close releases an unspent sandbox.
func (s *SingleUse) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spent = true
	return s.c.close()
}
