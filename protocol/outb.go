// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import "fmt"

// OutBAction is the reason a guest raises an I/O-port trap. The guest
// writes one byte to the port number matching the action; the port is
// the only in-band signal, the buffers carry the data. Protocol
// constants.
type OutBAction uint16

const (
	// OutBLog says the guest placed a log record in the output
	// buffer for the host to re-emit.
	OutBLog OutBAction = 99

	// OutBCallFunction says the guest placed a host function call in
	// the output buffer and expects the return value in the input
	// buffer when the trap returns.
	OutBCallFunction OutBAction = 101

	// OutBAbort says the guest is terminating abnormally. The
	// payload byte is the abort code.
	OutBAbort OutBAction = 102
)

// String returns the human-readable name of an action.
func (a OutBAction) String() string {
	switch a {
	case OutBLog:
		return "log"
	case OutBCallFunction:
		return "call-function"
	case OutBAbort:
		return "abort"
	default:
		return fmt.Sprintf("unknown(%d)", uint16(a))
	}
}

// Known reports whether the port number is a defined action.
func (a OutBAction) Known() bool {
	switch a {
	case OutBLog, OutBCallFunction, OutBAbort:
		return true
	default:
		return false
	}
}
