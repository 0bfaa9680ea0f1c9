// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import "fmt"

// CallKind says which side implements the function being called.
// Protocol constants.
type CallKind uint8

const (
	// CallGuest is a host-initiated call into the guest.
	CallGuest CallKind = 0
	// CallHost is a guest-initiated call back into the host.
	CallHost CallKind = 1
)

// String returns the human-readable name of a call kind.
func (k CallKind) String() string {
	switch k {
	case CallGuest:
		return "guest"
	case CallHost:
		return "host"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// FunctionCall names a function, carries its ordered parameters, and
// declares the return kind the caller expects. The same record shape
// travels in both directions: host→guest through the input buffer,
// guest→host through the output buffer.
type FunctionCall struct {
	Name           string
	Kind           CallKind
	ExpectedReturn Kind
	Params         []Value
}

// Equal reports whether two calls are identical, parameters included.
func (c FunctionCall) Equal(other FunctionCall) bool {
	if c.Name != other.Name || c.Kind != other.Kind ||
		c.ExpectedReturn != other.ExpectedReturn || len(c.Params) != len(other.Params) {
		return false
	}
	for i := range c.Params {
		if !c.Params[i].Equal(other.Params[i]) {
			return false
		}
	}
	return true
}
