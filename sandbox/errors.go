// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import "errors"

var (
	// ErrConsumed means Evolve was called on an already-evolved
	// sandbox. The typestate transition is one-way.
	ErrConsumed = errors.New("sandbox: already evolved")

	// ErrClosed means the sandbox was closed.
	ErrClosed = errors.New("sandbox: closed")

	// ErrContextActive means a second CallContext was requested
	// while one was still live.
	ErrContextActive = errors.New("sandbox: a call context is already active")

	// ErrContextFinished means a call was made on a finished
	// CallContext.
	ErrContextFinished = errors.New("sandbox: call context already finished")

	// ErrPoisoned means an earlier failure left guest state
	// unaccounted for. The sandbox refuses all further calls.
	ErrPoisoned = errors.New("sandbox: poisoned by an earlier failure")

	// ErrTimeout means the guest exceeded MaxExecutionTime and was
	// forcibly stopped.
	ErrTimeout = errors.New("sandbox: guest execution timed out")

	// ErrCancellationFailed means the vCPU did not acknowledge a
	// forced exit within MaxWaitForCancel. The sandbox is poisoned.
	ErrCancellationFailed = errors.New("sandbox: guest did not stop when cancelled")

	// ErrGuestAborted means the guest terminated itself through the
	// abort trap.
	ErrGuestAborted = errors.New("sandbox: guest aborted")

	// ErrSpent means a SingleUse sandbox already performed its call.
	ErrSpent = errors.New("sandbox: single-use sandbox already spent")
)
