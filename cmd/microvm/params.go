// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/bureau-foundation/microvm/protocol"
)

// parseParam turns a "kind:literal" flag value into a protocol value.
// Byte vectors take hex.
func parseParam(spec string) (protocol.Value, error) {
	kind, literal, found := strings.Cut(spec, ":")
	if !found {
		return protocol.Void(), fmt.Errorf("parameter %q: want kind:value", spec)
	}
	switch kind {
	case "int32":
		v, err := strconv.ParseInt(literal, 10, 32)
		if err != nil {
			return protocol.Void(), fmt.Errorf("parameter %q: %w", spec, err)
		}
		return protocol.Int32(int32(v)), nil
	case "int64":
		v, err := strconv.ParseInt(literal, 10, 64)
		if err != nil {
			return protocol.Void(), fmt.Errorf("parameter %q: %w", spec, err)
		}
		return protocol.Int64(v), nil
	case "uint32":
		v, err := strconv.ParseUint(literal, 10, 32)
		if err != nil {
			return protocol.Void(), fmt.Errorf("parameter %q: %w", spec, err)
		}
		return protocol.UInt32(uint32(v)), nil
	case "uint64":
		v, err := strconv.ParseUint(literal, 10, 64)
		if err != nil {
			return protocol.Void(), fmt.Errorf("parameter %q: %w", spec, err)
		}
		return protocol.UInt64(v), nil
	case "bool":
		v, err := strconv.ParseBool(literal)
		if err != nil {
			return protocol.Void(), fmt.Errorf("parameter %q: %w", spec, err)
		}
		return protocol.Bool(v), nil
	case "string":
		return protocol.String(literal), nil
	case "bytes":
		raw, err := hex.DecodeString(literal)
		if err != nil {
			return protocol.Void(), fmt.Errorf("parameter %q: %w", spec, err)
		}
		return protocol.ByteVector(raw), nil
	default:
		return protocol.Void(), fmt.Errorf("parameter %q: unknown kind %q", spec, kind)
	}
}

// parseKind maps a --return flag value onto a protocol kind.
func parseKind(name string) (protocol.Kind, error) {
	switch name {
	case "int32":
		return protocol.KindInt32, nil
	case "int64":
		return protocol.KindInt64, nil
	case "uint32":
		return protocol.KindUInt32, nil
	case "uint64":
		return protocol.KindUInt64, nil
	case "bool":
		return protocol.KindBool, nil
	case "string":
		return protocol.KindString, nil
	case "bytes":
		return protocol.KindByteVector, nil
	case "void", "":
		return protocol.KindVoid, nil
	default:
		return protocol.KindVoid, fmt.Errorf("unknown return kind %q", name)
	}
}
