// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"unsafe"
)

// ErrStackOverflow is returned by CheckStackGuard when the guard
// cookie no longer matches: the guest ran its stack past the guard.
// The sandbox instance must be discarded.
var ErrStackOverflow = errors.New("memory: stack guard corrupted, guest overflowed its stack")

// stackGuardSize is the length of the random cookie written at the
// low end of the stack, directly above the unmapped guard page.
const stackGuardSize = 16

// Manager exclusively owns one mapped shared region and applies a
// Layout to it. All access to the region goes through its
// bounds-checked primitives; a bad offset is an error, never a fault.
//
// A Manager is single-writer by contract: exactly one sandbox mutates
// the region, and the sandbox's call context exclusivity means no
// locking is needed here.
type Manager struct {
	layout Layout
	mem    []byte
	guard  [stackGuardSize]byte
	snap   *snapshot
	closed bool
}

// NewManager maps a fresh region sized to layout, writes the page
// table hierarchy and the PEB control block, and seeds the stack
// guard cookie.
func NewManager(layout Layout) (*Manager, error) {
	mem, err := mapRegion(layout.TotalSize)
	if err != nil {
		return nil, fmt.Errorf("mapping %d byte region: %w", layout.TotalSize, err)
	}
	m := &Manager{layout: layout, mem: mem}
	if _, err := rand.Read(m.guard[:]); err != nil {
		m.Close()
		return nil, fmt.Errorf("generating stack guard cookie: %w", err)
	}
	if err := m.writePageTables(); err != nil {
		m.Close()
		return nil, fmt.Errorf("writing page tables: %w", err)
	}
	if err := m.writePEB(); err != nil {
		m.Close()
		return nil, fmt.Errorf("writing PEB: %w", err)
	}
	if err := m.WriteStackGuard(); err != nil {
		m.Close()
		return nil, fmt.Errorf("seeding stack guard: %w", err)
	}
	return m, nil
}

// Layout returns the layout applied to the region.
func (m *Manager) Layout() Layout { return m.layout }

// Size returns the region size in bytes.
func (m *Manager) Size() uint64 { return uint64(len(m.mem)) }

// HostBase returns the region's base address in this process. Only
// the hypervisor backends need it, to map the region into the guest.
func (m *Manager) HostBase() uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(m.mem)))
}

// Close releases the mapping. The Manager is unusable afterwards.
func (m *Manager) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	mem := m.mem
	m.mem = nil
	m.snap = nil
	return unmapRegion(mem)
}

// checkRange validates that [offset, offset+length) lies inside the
// region.
func (m *Manager) checkRange(offset Offset, length uint64) error {
	if m.closed {
		return errors.New("memory: region is closed")
	}
	end, err := offset.Add(Offset(length))
	if err != nil {
		return fmt.Errorf("memory: range at 0x%x overflows: %w", uint64(offset), err)
	}
	if uint64(end) > uint64(len(m.mem)) {
		return fmt.Errorf("memory: range [0x%x, 0x%x) outside region of %d bytes",
			uint64(offset), uint64(end), len(m.mem))
	}
	return nil
}

// ReadUint8 reads one byte at offset.
func (m *Manager) ReadUint8(offset Offset) (uint8, error) {
	if err := m.checkRange(offset, 1); err != nil {
		return 0, err
	}
	return m.mem[offset], nil
}

// WriteUint8 writes one byte at offset.
func (m *Manager) WriteUint8(offset Offset, v uint8) error {
	if err := m.checkRange(offset, 1); err != nil {
		return err
	}
	m.mem[offset] = v
	return nil
}

// ReadUint16 reads a little-endian uint16 at offset.
func (m *Manager) ReadUint16(offset Offset) (uint16, error) {
	if err := m.checkRange(offset, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(m.mem[offset:]), nil
}

// WriteUint16 writes a little-endian uint16 at offset.
func (m *Manager) WriteUint16(offset Offset, v uint16) error {
	if err := m.checkRange(offset, 2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(m.mem[offset:], v)
	return nil
}

// ReadUint32 reads a little-endian uint32 at offset.
func (m *Manager) ReadUint32(offset Offset) (uint32, error) {
	if err := m.checkRange(offset, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.mem[offset:]), nil
}

// WriteUint32 writes a little-endian uint32 at offset.
func (m *Manager) WriteUint32(offset Offset, v uint32) error {
	if err := m.checkRange(offset, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(m.mem[offset:], v)
	return nil
}

// ReadUint64 reads a little-endian uint64 at offset.
func (m *Manager) ReadUint64(offset Offset) (uint64, error) {
	if err := m.checkRange(offset, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(m.mem[offset:]), nil
}

// WriteUint64 writes a little-endian uint64 at offset.
func (m *Manager) WriteUint64(offset Offset, v uint64) error {
	if err := m.checkRange(offset, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(m.mem[offset:], v)
	return nil
}

// ReadBytes returns a copy of length bytes at offset.
func (m *Manager) ReadBytes(offset Offset, length uint64) ([]byte, error) {
	if err := m.checkRange(offset, length); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, m.mem[offset:])
	return out, nil
}

// WriteBytes copies data into the region at offset.
func (m *Manager) WriteBytes(offset Offset, data []byte) error {
	if err := m.checkRange(offset, uint64(len(data))); err != nil {
		return err
	}
	copy(m.mem[offset:], data)
	return nil
}

// ReadCString reads a NUL-terminated string starting at offset,
// scanning at most max bytes.
func (m *Manager) ReadCString(offset Offset, max uint64) (string, error) {
	if err := m.checkRange(offset, max); err != nil {
		return "", err
	}
	window := m.mem[offset : uint64(offset)+max]
	end := bytes.IndexByte(window, 0)
	if end < 0 {
		return "", fmt.Errorf("memory: no NUL terminator within %d bytes at 0x%x", max, uint64(offset))
	}
	return string(window[:end]), nil
}

// WriteCString writes s plus a NUL terminator at offset. s must not
// contain embedded NUL bytes.
func (m *Manager) WriteCString(offset Offset, s string) error {
	if strings.IndexByte(s, 0) >= 0 {
		return fmt.Errorf("memory: string contains embedded NUL")
	}
	if err := m.checkRange(offset, uint64(len(s))+1); err != nil {
		return err
	}
	copy(m.mem[offset:], s)
	m.mem[uint64(offset)+uint64(len(s))] = 0
	return nil
}

// WriteLengthPrefixed writes payload into buf as a 4-byte
// little-endian length followed by the bytes. Fails with a
// descriptive error when payload exceeds the buffer's capacity minus
// the prefix; it never truncates.
func (m *Manager) WriteLengthPrefixed(buf Buffer, payload []byte) error {
	if buf.Size < 4 {
		return fmt.Errorf("memory: buffer of %d bytes cannot hold a length prefix", buf.Size)
	}
	if uint64(len(payload)) > buf.Size-4 {
		return fmt.Errorf("memory: payload of %d bytes too large for %d byte buffer (capacity %d)",
			len(payload), buf.Size, buf.Size-4)
	}
	if err := m.WriteUint32(buf.Offset, uint32(len(payload))); err != nil {
		return err
	}
	return m.WriteBytes(buf.Offset+4, payload)
}

// ReadLengthPrefixed reads a 4-byte length-prefixed payload from buf.
func (m *Manager) ReadLengthPrefixed(buf Buffer) ([]byte, error) {
	length, err := m.ReadUint32(buf.Offset)
	if err != nil {
		return nil, err
	}
	if uint64(length) > buf.Size-4 {
		return nil, fmt.Errorf("memory: length prefix %d exceeds %d byte buffer capacity", length, buf.Size-4)
	}
	return m.ReadBytes(buf.Offset+4, uint64(length))
}

// WriteStackGuard writes the random guard cookie at the low end of
// the stack, directly above the unmapped guard page. Called before
// every guest run.
func (m *Manager) WriteStackGuard() error {
	return m.WriteBytes(m.layout.Stack.Offset, m.guard[:])
}

// CheckStackGuard compares the guard cookie against what was seeded.
// Returns ErrStackOverflow on mismatch. Called after every guest run.
func (m *Manager) CheckStackGuard() error {
	current, err := m.ReadBytes(m.layout.Stack.Offset, stackGuardSize)
	if err != nil {
		return err
	}
	if !bytes.Equal(current, m.guard[:]) {
		return ErrStackOverflow
	}
	return nil
}
