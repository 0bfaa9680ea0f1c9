// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"bytes"
	"testing"
)

func TestRestoreWithoutSnapshot(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t)
	if err := manager.Restore(); err != ErrNoSnapshot {
		t.Errorf("Restore = %v, want ErrNoSnapshot", err)
	}
}

func TestSnapshotRestoreByteForByte(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t)
	input := manager.Layout().InputBuffer

	if err := manager.WriteBytes(input.Offset, []byte("state before snapshot")); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	if err := manager.Snapshot(); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	saved, err := manager.ReadBytes(0, manager.Size())
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}

	// Mutate several regions, including the stack guard.
	if err := manager.WriteBytes(input.Offset, []byte("mutated after snapshot!!")); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	if err := manager.WriteUint8(manager.Layout().Stack.Offset, 0xAA); err != nil {
		t.Fatalf("WriteUint8: %v", err)
	}
	if err := manager.WriteUint64(manager.Layout().Heap.Offset, 0x1122334455667788); err != nil {
		t.Fatalf("WriteUint64: %v", err)
	}

	if err := manager.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	restored, err := manager.ReadBytes(0, manager.Size())
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if !bytes.Equal(saved, restored) {
		t.Error("restored region differs from snapshot")
	}
	if err := manager.CheckStackGuard(); err != nil {
		t.Errorf("stack guard should survive restore: %v", err)
	}
}

func TestSnapshotReplacesPrevious(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t)
	input := manager.Layout().InputBuffer

	if err := manager.WriteCString(input.Offset, "first"); err != nil {
		t.Fatalf("WriteCString: %v", err)
	}
	if err := manager.Snapshot(); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if err := manager.WriteCString(input.Offset, "second"); err != nil {
		t.Fatalf("WriteCString: %v", err)
	}
	if err := manager.Snapshot(); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if err := manager.WriteCString(input.Offset, "third"); err != nil {
		t.Fatalf("WriteCString: %v", err)
	}

	if err := manager.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	got, err := manager.ReadCString(input.Offset, 16)
	if err != nil || got != "second" {
		t.Errorf("after restore = (%q, %v), want (\"second\", nil)", got, err)
	}
}

func TestSnapshotCompressesLargeRegions(t *testing.T) {
	t.Parallel()

	layout, err := NewLayout(Config{}, 0x2000, 0x8000, 4<<20)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	manager, err := NewManager(layout)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer manager.Close()

	// Mostly-zero pages compress; the copy must restore regardless.
	if err := manager.WriteBytes(layout.Heap.Offset, bytes.Repeat([]byte("abcd"), 1024)); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	if err := manager.Snapshot(); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !manager.snap.compressed {
		t.Error("snapshot of a large zero-heavy region should be compressed")
	}
	if err := manager.WriteBytes(layout.Heap.Offset, bytes.Repeat([]byte{0xFF}, 4096)); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	if err := manager.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	got, err := manager.ReadBytes(layout.Heap.Offset, 4)
	if err != nil || !bytes.Equal(got, []byte("abcd")) {
		t.Errorf("restored heap head = (%q, %v), want (\"abcd\", nil)", got, err)
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	t.Parallel()

	layout, err := NewLayout(Config{}, 0x2000, 0x8000, 0x10000)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	source, err := NewManager(layout)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer source.Close()

	if err := source.WriteCString(layout.InputBuffer.Offset, "archived state"); err != nil {
		t.Fatalf("WriteCString: %v", err)
	}
	image := [32]byte{1, 2, 3}
	var archive bytes.Buffer
	if err := source.WriteArchive(&archive, image); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}
	want, err := source.ReadBytes(0, source.Size())
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}

	target, err := NewManager(layout)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer target.Close()
	if err := target.ReadArchive(bytes.NewReader(archive.Bytes()), [32]byte{9}); err == nil {
		t.Fatal("restore with a different image digest should fail")
	}
	if err := target.ReadArchive(bytes.NewReader(archive.Bytes()), image); err != nil {
		t.Fatalf("ReadArchive: %v", err)
	}
	got, err := target.ReadBytes(0, target.Size())
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if !bytes.Equal(want, got) {
		t.Error("archived region did not round-trip byte-for-byte")
	}

	// The restored state becomes the snapshot.
	if err := target.WriteCString(layout.InputBuffer.Offset, "scribbled"); err != nil {
		t.Fatalf("WriteCString: %v", err)
	}
	if err := target.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	text, err := target.ReadCString(layout.InputBuffer.Offset, 32)
	if err != nil || text != "archived state" {
		t.Errorf("after restore = (%q, %v), want (\"archived state\", nil)", text, err)
	}
}

func TestArchiveRejectsCorruptBody(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t)
	var image [32]byte
	var archive bytes.Buffer
	if err := manager.WriteArchive(&archive, image); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}

	// Corrupt the first byte of the compressed body, right after the
	// length-prefixed header.
	raw := archive.Bytes()
	headerLen := uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16 | uint32(raw[3])<<24
	raw[4+headerLen] ^= 0xFF
	if err := manager.ReadArchive(bytes.NewReader(raw), image); err == nil {
		t.Error("corrupted archive should fail to restore")
	}
}
