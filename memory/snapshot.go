// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
)

// ErrNoSnapshot is returned by Restore when Snapshot has never been
// called on this Manager.
var ErrNoSnapshot = errors.New("memory: no snapshot to restore")

// compressThreshold is the region size above which snapshot copies
// are LZ4 block-compressed. Many resident MultiUse sandboxes each
// hold one snapshot; compressing large ones keeps that cheap without
// adding latency to the small common case.
const compressThreshold = 1 << 20

// snapshotDomainKey separates snapshot digests from any other BLAKE3
// use. ASCII so the key is inspectable in a debugger; BLAKE3 keyed
// mode treats it as an opaque 32-byte value.
var snapshotDomainKey = [32]byte{
	'm', 'i', 'c', 'r', 'o', 'v', 'm', '.', 's', 'n', 'a', 'p', 's', 'h', 'o', 't',
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// snapshot is a private byte-for-byte copy of the region, possibly
// LZ4-compressed, with a digest of the uncompressed bytes. It is
// owned by the Manager and never aliased with the live region.
type snapshot struct {
	data       []byte
	compressed bool
	rawLen     int
	digest     [32]byte
}

func snapshotDigest(data []byte) [32]byte {
	hasher, err := blake3.NewKeyed(snapshotDomainKey[:])
	if err != nil {
		panic("memory: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var digest [32]byte
	copy(digest[:], hasher.Sum(nil))
	return digest
}

// Snapshot saves a copy of the region's current bytes, replacing any
// previously saved snapshot. Restore later brings the region back to
// exactly this state.
func (m *Manager) Snapshot() error {
	if m.closed {
		return errors.New("memory: region is closed")
	}
	snap := &snapshot{
		rawLen: len(m.mem),
		digest: snapshotDigest(m.mem),
	}
	if len(m.mem) >= compressThreshold {
		bound := lz4.CompressBlockBound(len(m.mem))
		destination := make([]byte, bound)
		written, err := lz4.CompressBlock(m.mem, destination, nil)
		if err != nil {
			return fmt.Errorf("compressing snapshot: %w", err)
		}
		// written == 0 means incompressible; fall through to a raw
		// copy in that case.
		if written > 0 && written < len(m.mem) {
			snap.data = destination[:written]
			snap.compressed = true
		}
	}
	if snap.data == nil {
		snap.data = bytes.Clone(m.mem)
	}
	m.snap = snap
	return nil
}

// HasSnapshot reports whether a snapshot has been saved.
func (m *Manager) HasSnapshot() bool { return m.snap != nil }

// Restore rewrites the region to the state saved by the last
// Snapshot, byte for byte. The restored bytes are digest-checked
// against the snapshot's BLAKE3 recorded at capture time.
func (m *Manager) Restore() error {
	if m.closed {
		return errors.New("memory: region is closed")
	}
	if m.snap == nil {
		return ErrNoSnapshot
	}
	if m.snap.rawLen != len(m.mem) {
		return fmt.Errorf("memory: snapshot of %d bytes does not fit region of %d bytes",
			m.snap.rawLen, len(m.mem))
	}
	if m.snap.compressed {
		read, err := lz4.UncompressBlock(m.snap.data, m.mem)
		if err != nil {
			return fmt.Errorf("decompressing snapshot: %w", err)
		}
		if read != m.snap.rawLen {
			return fmt.Errorf("memory: snapshot decompressed to %d bytes, want %d", read, m.snap.rawLen)
		}
	} else {
		copy(m.mem, m.snap.data)
	}
	if got := snapshotDigest(m.mem); got != m.snap.digest {
		return errors.New("memory: restored bytes do not match snapshot digest")
	}
	return nil
}
