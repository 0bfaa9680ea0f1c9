// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/bureau-foundation/microvm/lib/codec"
)

// archiveVersion is bumped when the archive format changes
// incompatibly.
const archiveVersion = 1

// archiveHeader describes a persisted snapshot. CBOR-encoded with a
// 4-byte little-endian length prefix, followed by the zstd stream of
// the raw region bytes.
type archiveHeader struct {
	Version     int    `cbor:"version"`
	Size        uint64 `cbor:"size"`
	Digest      string `cbor:"digest"`
	Image       string `cbor:"image"`
	CreatedUnix int64  `cbor:"created_unix"`
}

// WriteArchive persists the region's current state to w: a CBOR
// header carrying size, region digest and the guest image digest,
// then the zstd-compressed bytes. Unlike in-memory snapshots this is
// the at-rest path, so it trades CPU for ratio.
func (m *Manager) WriteArchive(w io.Writer, image [32]byte) error {
	if m.closed {
		return fmt.Errorf("memory: region is closed")
	}
	digest := snapshotDigest(m.mem)
	header, err := codec.Marshal(archiveHeader{
		Version:     archiveVersion,
		Size:        uint64(len(m.mem)),
		Digest:      hex.EncodeToString(digest[:]),
		Image:       hex.EncodeToString(image[:]),
		CreatedUnix: time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("encoding archive header: %w", err)
	}

	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(header)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("writing archive header length: %w", err)
	}
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("writing archive header: %w", err)
	}

	encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("initializing zstd encoder: %w", err)
	}
	if _, err := encoder.Write(m.mem); err != nil {
		encoder.Close()
		return fmt.Errorf("writing archive body: %w", err)
	}
	return encoder.Close()
}

// ReadArchive restores the region from an archive written by
// WriteArchive. An archive captured from a different guest image is
// rejected, the decompressed bytes are digest-checked before the
// region is touched, and the restored state replaces the in-memory
// snapshot so a later Restore returns to it.
func (m *Manager) ReadArchive(r io.Reader, image [32]byte) error {
	if m.closed {
		return fmt.Errorf("memory: region is closed")
	}

	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return fmt.Errorf("reading archive header length: %w", err)
	}
	headerBytes := make([]byte, binary.LittleEndian.Uint32(prefix[:]))
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return fmt.Errorf("reading archive header: %w", err)
	}
	var header archiveHeader
	if err := codec.Unmarshal(headerBytes, &header); err != nil {
		return fmt.Errorf("decoding archive header: %w", err)
	}
	if header.Version != archiveVersion {
		return fmt.Errorf("memory: archive version %d, want %d", header.Version, archiveVersion)
	}
	if header.Image != hex.EncodeToString(image[:]) {
		return fmt.Errorf("memory: archive was captured from a different guest image")
	}
	if header.Size != uint64(len(m.mem)) {
		return fmt.Errorf("memory: archive of %d bytes does not fit region of %d bytes",
			header.Size, len(m.mem))
	}

	decoder, err := zstd.NewReader(r)
	if err != nil {
		return fmt.Errorf("initializing zstd decoder: %w", err)
	}
	defer decoder.Close()

	restored := make([]byte, header.Size)
	if _, err := io.ReadFull(decoder, restored); err != nil {
		return fmt.Errorf("reading archive body: %w", err)
	}

	digest := snapshotDigest(restored)
	if hex.EncodeToString(digest[:]) != header.Digest {
		return fmt.Errorf("memory: archive digest mismatch, refusing to restore")
	}

	copy(m.mem, restored)
	m.snap = &snapshot{data: restored, rawLen: len(restored), digest: digest}
	return nil
}
