// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/binary"
	"log/slog"
	"strings"
	"testing"
)

func TestCallRoundTrip(t *testing.T) {
	t.Parallel()
	calls := []FunctionCall{
		{
			Name:           "Add",
			Kind:           CallGuest,
			ExpectedReturn: KindInt32,
			Params:         []Value{Int32(2), Int32(3)},
		},
		{
			Name:           "Everything",
			Kind:           CallHost,
			ExpectedReturn: KindVoid,
			Params: []Value{
				Int32(-7),
				Int64(-1 << 40),
				UInt32(0xDEADBEEF),
				UInt64(1 << 63),
				Bool(true),
				Bool(false),
				String("hello"),
				ByteVector([]byte{0, 1, 2, 255}),
			},
		},
		{
			Name:           "Empties",
			Kind:           CallGuest,
			ExpectedReturn: KindString,
			Params:         []Value{String(""), ByteVector(nil)},
		},
		{
			Name:           "NoParams",
			Kind:           CallGuest,
			ExpectedReturn: KindUInt64,
		},
	}
	for _, call := range calls {
		t.Run(call.Name, func(t *testing.T) {
			t.Parallel()
			data, err := EncodeCall(call)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			got, err := DecodeCall(data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !got.Equal(call) {
				t.Fatalf("round trip changed call: got %+v want %+v", got, call)
			}
		})
	}
}

func TestReturnValueRoundTrip(t *testing.T) {
	t.Parallel()
	values := []Value{
		Int32(42),
		Int64(-9000000000),
		UInt32(7),
		UInt64(1<<64 - 1),
		Bool(true),
		String("result"),
		String(""),
		ByteVector([]byte("payload")),
		ByteVector(nil),
		Void(),
	}
	for _, want := range values {
		data, err := EncodeReturnValue(want)
		if err != nil {
			t.Fatalf("encode %v: %v", want, err)
		}
		got, err := DecodeReturnValue(data)
		if err != nil {
			t.Fatalf("decode %v: %v", want, err)
		}
		if !got.Equal(want) {
			t.Fatalf("round trip changed value: got %v want %v", got, want)
		}
	}
}

func TestDecodeCallMalformed(t *testing.T) {
	t.Parallel()

	valid, err := EncodeCall(FunctionCall{
		Name:           "Echo",
		Kind:           CallGuest,
		ExpectedReturn: KindString,
		Params:         []Value{String("x")},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	cases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short prefix", []byte{1, 2}},
		{"length exceeds payload", func() []byte {
			d := append([]byte(nil), valid...)
			binary.LittleEndian.PutUint32(d, uint32(len(d))) // larger than payload
			return d
		}()},
		{"length below payload", func() []byte {
			d := append([]byte(nil), valid...)
			binary.LittleEndian.PutUint32(d, 1)
			return d
		}()},
		{"truncated mid-record", valid[:len(valid)-3]},
		{"trailing bytes", func() []byte {
			d := append([]byte(nil), valid...)
			d = append(d, 0xAA)
			binary.LittleEndian.PutUint32(d, uint32(len(d)-4))
			return d
		}()},
		{"bad call kind", func() []byte {
			// Kind byte sits right after the length-prefixed name.
			d := append([]byte(nil), valid...)
			d[4+4+len("Echo")] = 9
			return d
		}()},
		{"parameter count exceeds payload", func() []byte {
			d := append([]byte(nil), valid...)
			countOff := 4 + 4 + len("Echo") + 1 + 1
			binary.LittleEndian.PutUint32(d[countOff:], 1<<20)
			return d
		}()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := DecodeCall(tc.data); err == nil {
				t.Fatal("expected decode failure")
			}
		})
	}
}

func TestDecodeReturnValueBadBool(t *testing.T) {
	t.Parallel()
	payload := []byte{byte(KindBool), 2}
	data := frame(payload)
	if _, err := DecodeReturnValue(data); err == nil {
		t.Fatal("expected failure for bool byte 2")
	}
}

func TestEncodeCallRejectsInvalidKinds(t *testing.T) {
	t.Parallel()
	if _, err := EncodeCall(FunctionCall{Name: "f", Kind: CallGuest, ExpectedReturn: Kind(200)}); err == nil {
		t.Fatal("expected failure for invalid return kind")
	}
	if _, err := EncodeReturnValue(Value{kind: Kind(200)}); err == nil {
		t.Fatal("expected failure for invalid value kind")
	}
}

func TestGuestErrorRoundTrip(t *testing.T) {
	t.Parallel()
	want := &GuestError{Code: CodeFunctionNotFound, Message: "no such function: Frobnicate"}
	got, err := DecodeGuestError(EncodeGuestError(want))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Code != want.Code || got.Message != want.Message {
		t.Fatalf("round trip changed error: got %+v want %+v", got, want)
	}
	if !strings.Contains(got.Error(), "function-not-found") {
		t.Fatalf("error text %q missing code name", got.Error())
	}
}

func TestGuestErrorNoError(t *testing.T) {
	t.Parallel()
	got, err := DecodeGuestError(EncodeGuestError(&GuestError{Code: CodeNoError}))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != nil {
		t.Fatalf("no-error record decoded to %+v", got)
	}
}

func TestGuestErrorMalformed(t *testing.T) {
	t.Parallel()
	valid := EncodeGuestError(&GuestError{Code: CodeGuestAborted, Message: "code 3"})
	if _, err := DecodeGuestError(valid[:7]); err == nil {
		t.Fatal("expected failure for truncated record")
	}
}

func TestLogRecordRoundTrip(t *testing.T) {
	t.Parallel()
	want := &LogRecord{
		Level:   LevelWarn,
		Message: "heap nearly full",
		Source:  "allocator",
		File:    "alloc.rs",
		Line:    217,
	}
	got, err := DecodeLogRecord(EncodeLogRecord(want))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *got != *want {
		t.Fatalf("round trip changed record: got %+v want %+v", got, want)
	}
}

func TestLogLevelSlog(t *testing.T) {
	t.Parallel()
	cases := []struct {
		level LogLevel
		want  slog.Level
	}{
		{LevelTrace, slog.LevelDebug - 4},
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{LevelFatal, slog.LevelError + 4},
		{LogLevel(42), slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := tc.level.Slog(); got != tc.want {
			t.Errorf("%s maps to %v, want %v", tc.level, got, tc.want)
		}
	}
}

func TestOutBActionNames(t *testing.T) {
	t.Parallel()
	if OutBLog.String() != "log" || OutBCallFunction.String() != "call-function" || OutBAbort.String() != "abort" {
		t.Fatal("action names changed")
	}
	if OutBAction(7).Known() {
		t.Fatal("port 7 is not a defined action")
	}
	if !OutBAbort.Known() {
		t.Fatal("abort must be a defined action")
	}
}
