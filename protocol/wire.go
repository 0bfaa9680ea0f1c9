// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// maxElementSize bounds any single length field on the wire. The
// transfer buffers are far smaller, but the bound means a corrupt
// length fails fast instead of attempting a giant allocation.
const maxElementSize = 1 << 30

// EncodeCall serializes a FunctionCall: a 4-byte little-endian length
// of the remainder, then name, call kind, expected return kind, and
// the parameter list.
func EncodeCall(call FunctionCall) ([]byte, error) {
	if len(call.Name) > maxElementSize {
		return nil, fmt.Errorf("function name of %d bytes too large", len(call.Name))
	}
	if !call.ExpectedReturn.valid() {
		return nil, fmt.Errorf("invalid expected return kind %d", uint8(call.ExpectedReturn))
	}
	if len(call.Params) > math.MaxUint32 {
		return nil, fmt.Errorf("%d parameters exceed the wire limit", len(call.Params))
	}

	payload := make([]byte, 0, 64)
	payload = appendString(payload, call.Name)
	payload = append(payload, uint8(call.Kind), uint8(call.ExpectedReturn))
	payload = binary.LittleEndian.AppendUint32(payload, uint32(len(call.Params)))
	for i, param := range call.Params {
		var err error
		payload, err = appendValue(payload, param)
		if err != nil {
			return nil, fmt.Errorf("parameter %d: %w", i, err)
		}
	}
	return frame(payload), nil
}

// DecodeCall parses a FunctionCall from data. Truncated or malformed
// input is an error; trailing bytes beyond the framed length are
// rejected.
func DecodeCall(data []byte) (FunctionCall, error) {
	r, err := openFrame(data)
	if err != nil {
		return FunctionCall{}, err
	}

	var call FunctionCall
	if call.Name, err = r.str(); err != nil {
		return FunctionCall{}, fmt.Errorf("function name: %w", err)
	}
	kind, err := r.u8()
	if err != nil {
		return FunctionCall{}, fmt.Errorf("call kind: %w", err)
	}
	if kind > uint8(CallHost) {
		return FunctionCall{}, fmt.Errorf("invalid call kind %d", kind)
	}
	call.Kind = CallKind(kind)

	ret, err := r.u8()
	if err != nil {
		return FunctionCall{}, fmt.Errorf("expected return kind: %w", err)
	}
	if !Kind(ret).valid() {
		return FunctionCall{}, fmt.Errorf("invalid expected return kind %d", ret)
	}
	call.ExpectedReturn = Kind(ret)

	count, err := r.u32()
	if err != nil {
		return FunctionCall{}, fmt.Errorf("parameter count: %w", err)
	}
	// Every parameter occupies at least its 1-byte tag, so count is
	// bounded by the remaining payload.
	if uint64(count) > uint64(r.remaining()) {
		return FunctionCall{}, fmt.Errorf("parameter count %d exceeds payload", count)
	}
	call.Params = make([]Value, 0, count)
	for i := uint32(0); i < count; i++ {
		value, err := readValue(&r)
		if err != nil {
			return FunctionCall{}, fmt.Errorf("parameter %d: %w", i, err)
		}
		call.Params = append(call.Params, value)
	}
	if err := r.done(); err != nil {
		return FunctionCall{}, err
	}
	return call, nil
}

// EncodeReturnValue serializes a return value: framed tag plus
// payload.
func EncodeReturnValue(value Value) ([]byte, error) {
	payload, err := appendValue(nil, value)
	if err != nil {
		return nil, err
	}
	return frame(payload), nil
}

// DecodeReturnValue parses a framed return value.
func DecodeReturnValue(data []byte) (Value, error) {
	r, err := openFrame(data)
	if err != nil {
		return Value{}, err
	}
	value, err := readValue(&r)
	if err != nil {
		return Value{}, err
	}
	if err := r.done(); err != nil {
		return Value{}, err
	}
	return value, nil
}

// frame prefixes payload with its 4-byte little-endian length.
func frame(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(out, uint32(len(payload)))
	copy(out[4:], payload)
	return out
}

// appendValue appends a tag byte and payload for v.
func appendValue(dst []byte, v Value) ([]byte, error) {
	switch v.kind {
	case KindInt32:
		dst = append(dst, uint8(KindInt32))
		return binary.LittleEndian.AppendUint32(dst, uint32(int32(v.ival))), nil
	case KindInt64:
		dst = append(dst, uint8(KindInt64))
		return binary.LittleEndian.AppendUint64(dst, uint64(v.ival)), nil
	case KindUInt32:
		dst = append(dst, uint8(KindUInt32))
		return binary.LittleEndian.AppendUint32(dst, uint32(v.uval)), nil
	case KindUInt64:
		dst = append(dst, uint8(KindUInt64))
		return binary.LittleEndian.AppendUint64(dst, v.uval), nil
	case KindBool:
		dst = append(dst, uint8(KindBool))
		if v.bval {
			return append(dst, 1), nil
		}
		return append(dst, 0), nil
	case KindString:
		if len(v.sval) > maxElementSize {
			return nil, fmt.Errorf("string of %d bytes too large", len(v.sval))
		}
		dst = append(dst, uint8(KindString))
		return appendString(dst, v.sval), nil
	case KindByteVector:
		if len(v.bytes) > maxElementSize {
			return nil, fmt.Errorf("byte vector of %d bytes too large", len(v.bytes))
		}
		dst = append(dst, uint8(KindByteVector))
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(v.bytes)))
		return append(dst, v.bytes...), nil
	case KindVoid:
		return append(dst, uint8(KindVoid)), nil
	default:
		return nil, fmt.Errorf("invalid value kind %d", uint8(v.kind))
	}
}

// readValue parses one tagged value from the reader.
func readValue(r *wireReader) (Value, error) {
	tag, err := r.u8()
	if err != nil {
		return Value{}, err
	}
	switch Kind(tag) {
	case KindInt32:
		v, err := r.u32()
		return Int32(int32(v)), err
	case KindInt64:
		v, err := r.u64()
		return Int64(int64(v)), err
	case KindUInt32:
		v, err := r.u32()
		return UInt32(v), err
	case KindUInt64:
		v, err := r.u64()
		return UInt64(v), err
	case KindBool:
		v, err := r.u8()
		if err != nil {
			return Value{}, err
		}
		if v > 1 {
			return Value{}, fmt.Errorf("invalid bool byte %d", v)
		}
		return Bool(v == 1), nil
	case KindString:
		v, err := r.str()
		return String(v), err
	case KindByteVector:
		v, err := r.blob()
		return ByteVector(v), err
	case KindVoid:
		return Void(), nil
	default:
		return Value{}, fmt.Errorf("invalid value tag %d", tag)
	}
}

func appendString(dst []byte, s string) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(s)))
	return append(dst, s...)
}

// wireReader walks a payload with explicit bounds checks.
type wireReader struct {
	data []byte
	pos  int
}

// openFrame validates the 4-byte length prefix and returns a reader
// over exactly the framed payload.
func openFrame(data []byte) (wireReader, error) {
	if len(data) < 4 {
		return wireReader{}, fmt.Errorf("frame of %d bytes too short for length prefix", len(data))
	}
	length := binary.LittleEndian.Uint32(data)
	if uint64(length) != uint64(len(data)-4) {
		return wireReader{}, fmt.Errorf("frame length %d does not match %d payload bytes", length, len(data)-4)
	}
	return wireReader{data: data[4:]}, nil
}

func (r *wireReader) remaining() int { return len(r.data) - r.pos }

func (r *wireReader) u8() (uint8, error) {
	if r.remaining() < 1 {
		return 0, fmt.Errorf("truncated at byte %d", r.pos)
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

func (r *wireReader) u32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, fmt.Errorf("truncated at byte %d", r.pos)
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *wireReader) u64() (uint64, error) {
	if r.remaining() < 8 {
		return 0, fmt.Errorf("truncated at byte %d", r.pos)
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *wireReader) str() (string, error) {
	b, err := r.blob()
	return string(b), err
}

func (r *wireReader) blob() ([]byte, error) {
	length, err := r.u32()
	if err != nil {
		return nil, err
	}
	if length > maxElementSize {
		return nil, fmt.Errorf("element length %d too large", length)
	}
	if int(length) > r.remaining() {
		return nil, fmt.Errorf("element length %d exceeds %d remaining bytes", length, r.remaining())
	}
	out := make([]byte, length)
	copy(out, r.data[r.pos:])
	r.pos += int(length)
	return out, nil
}

// done fails if unconsumed bytes remain in the frame.
func (r *wireReader) done() error {
	if r.remaining() != 0 {
		return fmt.Errorf("%d trailing bytes after record", r.remaining())
	}
	return nil
}
