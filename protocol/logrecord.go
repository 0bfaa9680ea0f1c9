// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"fmt"
	"log/slog"
)

// LogLevel is the guest-side severity of a log record. The numeric
// values are part of the wire contract.
type LogLevel uint8

const (
	LevelTrace LogLevel = 0
	LevelDebug LogLevel = 1
	LevelInfo  LogLevel = 2
	LevelWarn  LogLevel = 3
	LevelError LogLevel = 4
	LevelFatal LogLevel = 5
)

// Slog maps a guest level onto the host logger's scale. Trace maps
// below slog's debug, fatal above its error.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LevelTrace:
		return slog.LevelDebug - 4
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	case LevelFatal:
		return slog.LevelError + 4
	default:
		return slog.LevelInfo
	}
}

// String returns the human-readable name of a level.
func (l LogLevel) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(l))
	}
}

// LogRecord is a log line the guest placed in the output buffer
// before raising the log trap. Source is the guest-side component
// name; File and Line locate the call site in the guest image, both
// may be empty.
type LogRecord struct {
	Level   LogLevel
	Message string
	Source  string
	File    string
	Line    uint32
}

// EncodeLogRecord produces the framed log record.
func EncodeLogRecord(rec *LogRecord) []byte {
	payload := make([]byte, 0, 1+3*4+len(rec.Message)+len(rec.Source)+len(rec.File)+4)
	payload = append(payload, byte(rec.Level))
	payload = appendString(payload, rec.Message)
	payload = appendString(payload, rec.Source)
	payload = appendString(payload, rec.File)
	payload = append(payload,
		byte(rec.Line), byte(rec.Line>>8), byte(rec.Line>>16), byte(rec.Line>>24))
	return frame(payload)
}

// DecodeLogRecord parses a framed log record.
func DecodeLogRecord(data []byte) (*LogRecord, error) {
	r, err := openFrame(data)
	if err != nil {
		return nil, fmt.Errorf("log record: %w", err)
	}
	level, err := r.u8()
	if err != nil {
		return nil, fmt.Errorf("log record level: %w", err)
	}
	msg, err := r.str()
	if err != nil {
		return nil, fmt.Errorf("log record message: %w", err)
	}
	source, err := r.str()
	if err != nil {
		return nil, fmt.Errorf("log record source: %w", err)
	}
	file, err := r.str()
	if err != nil {
		return nil, fmt.Errorf("log record file: %w", err)
	}
	line, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("log record line: %w", err)
	}
	if err := r.done(); err != nil {
		return nil, fmt.Errorf("log record: %w", err)
	}
	return &LogRecord{
		Level:   LogLevel(level),
		Message: msg,
		Source:  source,
		File:    file,
		Line:    line,
	}, nil
}
