// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"sort"
	"sync"

	"github.com/bureau-foundation/microvm/protocol"
)

// HostFunction is a host-side function the guest may call back into
// during a dispatch. The declared signature is enforced before Fn
// runs; Fn never sees a wrong arity or a wrong-kinded parameter.
type HostFunction struct {
	// Params are the expected parameter kinds, in order.
	Params []protocol.Kind

	// Return is the kind Fn produces. Use KindVoid for none.
	Return protocol.Kind

	// Fn is the implementation. It runs on the vCPU goroutine while
	// the guest is stopped, so it must not call back into the
	// sandbox.
	Fn func(args []protocol.Value) (protocol.Value, error)
}

// HostFunctions is the registry of callable host functions. Register
// before evolving the sandbox; lookups during guest execution take no
// lock on the write path because registration is over by then.
type HostFunctions struct {
	mu sync.Mutex
	m  map[string]HostFunction
}

// NewHostFunctions returns an empty registry.
func NewHostFunctions() *HostFunctions {
	return &HostFunctions{m: make(map[string]HostFunction)}
}

// Register adds a function under name. Re-registering a name is an
// error; there is no shadowing.
func (h *HostFunctions) Register(name string, fn HostFunction) error {
	if name == "" {
		return fmt.Errorf("host function with empty name")
	}
	if fn.Fn == nil {
		return fmt.Errorf("host function %q has no implementation", name)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.m[name]; exists {
		return fmt.Errorf("host function %q already registered", name)
	}
	h.m[name] = fn
	return nil
}

// Names returns the registered names, sorted.
func (h *HostFunctions) Names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.m))
	for name := range h.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call validates the call against the registered signature and runs
// the implementation. Failures come back as *protocol.GuestError
// values so they relay to the guest with a code it understands.
func (h *HostFunctions) Call(call protocol.FunctionCall) (protocol.Value, error) {
	h.mu.Lock()
	fn, ok := h.m[call.Name]
	h.mu.Unlock()
	if !ok {
		return protocol.Void(), &protocol.GuestError{
			Code:    protocol.CodeFunctionNotFound,
			Message: fmt.Sprintf("host function %q not registered", call.Name),
		}
	}
	if len(call.Params) != len(fn.Params) {
		return protocol.Void(), &protocol.GuestError{
			Code:    protocol.CodeUnexpectedParameterCount,
			Message: fmt.Sprintf("%s takes %d parameters, got %d", call.Name, len(fn.Params), len(call.Params)),
		}
	}
	for i, want := range fn.Params {
		if got := call.Params[i].Kind(); got != want {
			return protocol.Void(), &protocol.GuestError{
				Code:    protocol.CodeParameterTypeMismatch,
				Message: fmt.Sprintf("%s parameter %d is %s, want %s", call.Name, i, got, want),
			}
		}
	}
	result, err := fn.Fn(call.Params)
	if err != nil {
		return protocol.Void(), fmt.Errorf("host function %q: %w", call.Name, err)
	}
	if result.Kind() != fn.Return {
		return protocol.Void(), fmt.Errorf("host function %q returned %s, declared %s",
			call.Name, result.Kind(), fn.Return)
	}
	return result, nil
}
