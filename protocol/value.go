// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bytes"
	"fmt"
)

// Kind tags a Value's payload. These values are protocol constants —
// changing them breaks the guest wire contract.
type Kind uint8

const (
	KindInt32      Kind = 1
	KindInt64      Kind = 2
	KindUInt32     Kind = 3
	KindUInt64     Kind = 4
	KindBool       Kind = 5
	KindString     Kind = 6
	KindByteVector Kind = 7
	KindVoid       Kind = 8
)

// String returns the human-readable name of a kind.
func (k Kind) String() string {
	switch k {
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindUInt32:
		return "uint32"
	case KindUInt64:
		return "uint64"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindByteVector:
		return "bytes"
	case KindVoid:
		return "void"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

func (k Kind) valid() bool {
	return k >= KindInt32 && k <= KindVoid
}

// Value is the tagged union used for both call parameters and return
// values. Construct via the typed constructors; the zero Value is
// Kind 0 and invalid on the wire.
type Value struct {
	kind  Kind
	ival  int64
	uval  uint64
	bval  bool
	sval  string
	bytes []byte
}

// Int32 returns an int32 Value.
func Int32(v int32) Value { return Value{kind: KindInt32, ival: int64(v)} }

// Int64 returns an int64 Value.
func Int64(v int64) Value { return Value{kind: KindInt64, ival: v} }

// UInt32 returns a uint32 Value.
func UInt32(v uint32) Value { return Value{kind: KindUInt32, uval: uint64(v)} }

// UInt64 returns a uint64 Value.
func UInt64(v uint64) Value { return Value{kind: KindUInt64, uval: v} }

// Bool returns a bool Value.
func Bool(v bool) Value { return Value{kind: KindBool, bval: v} }

// String returns a string Value.
func String(v string) Value { return Value{kind: KindString, sval: v} }

// ByteVector returns a byte-vector Value. The slice is not copied.
func ByteVector(v []byte) Value { return Value{kind: KindByteVector, bytes: v} }

// Void returns the void Value.
func Void() Value { return Value{kind: KindVoid} }

// Kind returns the value's tag.
func (v Value) Kind() Kind { return v.kind }

// AsInt32 extracts an int32, failing on any other kind.
func (v Value) AsInt32() (int32, error) {
	if v.kind != KindInt32 {
		return 0, fmt.Errorf("value is %s, not int32", v.kind)
	}
	return int32(v.ival), nil
}

// AsInt64 extracts an int64, failing on any other kind.
func (v Value) AsInt64() (int64, error) {
	if v.kind != KindInt64 {
		return 0, fmt.Errorf("value is %s, not int64", v.kind)
	}
	return v.ival, nil
}

// AsUInt32 extracts a uint32, failing on any other kind.
func (v Value) AsUInt32() (uint32, error) {
	if v.kind != KindUInt32 {
		return 0, fmt.Errorf("value is %s, not uint32", v.kind)
	}
	return uint32(v.uval), nil
}

// AsUInt64 extracts a uint64, failing on any other kind.
func (v Value) AsUInt64() (uint64, error) {
	if v.kind != KindUInt64 {
		return 0, fmt.Errorf("value is %s, not uint64", v.kind)
	}
	return v.uval, nil
}

// AsBool extracts a bool, failing on any other kind.
func (v Value) AsBool() (bool, error) {
	if v.kind != KindBool {
		return false, fmt.Errorf("value is %s, not bool", v.kind)
	}
	return v.bval, nil
}

// AsString extracts a string, failing on any other kind.
func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", fmt.Errorf("value is %s, not string", v.kind)
	}
	return v.sval, nil
}

// AsBytes extracts a byte vector, failing on any other kind.
func (v Value) AsBytes() ([]byte, error) {
	if v.kind != KindByteVector {
		return nil, fmt.Errorf("value is %s, not bytes", v.kind)
	}
	return v.bytes, nil
}

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindInt32, KindInt64:
		return v.ival == other.ival
	case KindUInt32, KindUInt64:
		return v.uval == other.uval
	case KindBool:
		return v.bval == other.bval
	case KindString:
		return v.sval == other.sval
	case KindByteVector:
		return bytes.Equal(v.bytes, other.bytes)
	case KindVoid:
		return true
	default:
		return false
	}
}

// String renders the value for logs and error messages.
func (v Value) String() string {
	switch v.kind {
	case KindInt32, KindInt64:
		return fmt.Sprintf("%s(%d)", v.kind, v.ival)
	case KindUInt32, KindUInt64:
		return fmt.Sprintf("%s(%d)", v.kind, v.uval)
	case KindBool:
		return fmt.Sprintf("bool(%t)", v.bval)
	case KindString:
		return fmt.Sprintf("string(%q)", v.sval)
	case KindByteVector:
		return fmt.Sprintf("bytes(%d)", len(v.bytes))
	case KindVoid:
		return "void"
	default:
		return fmt.Sprintf("invalid(%d)", uint8(v.kind))
	}
}
