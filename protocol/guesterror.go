// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/binary"
	"fmt"
)

// ErrorCode classifies a failure reported by the guest through the
// guest-error buffer.
type ErrorCode uint64

const (
	// CodeNoError is the reset state of the guest-error buffer.
	CodeNoError ErrorCode = 0

	// CodeFunctionNotFound means the dispatched function name is not
	// registered in the guest.
	CodeFunctionNotFound ErrorCode = 1

	// CodeUnexpectedParameterCount means the call carried the wrong
	// number of parameters for the target function.
	CodeUnexpectedParameterCount ErrorCode = 2

	// CodeParameterTypeMismatch means a parameter's kind did not
	// match the target function's declared signature.
	CodeParameterTypeMismatch ErrorCode = 3

	// CodeGuestAborted means the guest terminated itself through the
	// abort trap.
	CodeGuestAborted ErrorCode = 4

	// CodeMalformedCall means the guest could not decode the call
	// frame in the input buffer.
	CodeMalformedCall ErrorCode = 5
)

// String returns the human-readable name of a code.
func (c ErrorCode) String() string {
	switch c {
	case CodeNoError:
		return "no-error"
	case CodeFunctionNotFound:
		return "function-not-found"
	case CodeUnexpectedParameterCount:
		return "unexpected-parameter-count"
	case CodeParameterTypeMismatch:
		return "parameter-type-mismatch"
	case CodeGuestAborted:
		return "guest-aborted"
	case CodeMalformedCall:
		return "malformed-call"
	default:
		return fmt.Sprintf("unknown(%d)", uint64(c))
	}
}

// GuestError is a failure the guest reported through its error
// buffer. It implements error so callers can inspect it with
// errors.As after a failed dispatch.
type GuestError struct {
	Code    ErrorCode
	Message string
}

func (e *GuestError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("guest error: %s", e.Code)
	}
	return fmt.Sprintf("guest error: %s: %s", e.Code, e.Message)
}

// EncodeGuestError produces the framed guest-error record: a u64
// code followed by a length-prefixed message.
func EncodeGuestError(e *GuestError) []byte {
	payload := make([]byte, 0, 8+4+len(e.Message))
	payload = binary.LittleEndian.AppendUint64(payload, uint64(e.Code))
	payload = appendString(payload, e.Message)
	return frame(payload)
}

// DecodeGuestError parses a framed guest-error record. A record with
// code CodeNoError decodes to (nil, nil).
func DecodeGuestError(data []byte) (*GuestError, error) {
	r, err := openFrame(data)
	if err != nil {
		return nil, fmt.Errorf("guest error: %w", err)
	}
	code, err := r.u64()
	if err != nil {
		return nil, fmt.Errorf("guest error code: %w", err)
	}
	msg, err := r.str()
	if err != nil {
		return nil, fmt.Errorf("guest error message: %w", err)
	}
	if err := r.done(); err != nil {
		return nil, fmt.Errorf("guest error: %w", err)
	}
	if ErrorCode(code) == CodeNoError {
		return nil, nil
	}
	return &GuestError{Code: ErrorCode(code), Message: msg}, nil
}
