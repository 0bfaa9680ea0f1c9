// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"

	"github.com/bureau-foundation/microvm/lib/binhash"
)

// GuestImage is a flat guest binary plus its load metadata. The code
// is copied verbatim into the code region; execution starts at Entry
// bytes past the start of the region.
type GuestImage struct {
	// Code is the raw machine code.
	Code []byte

	// Entry is the entry point's offset within Code.
	Entry uint64

	// StackReserve and HeapReserve are the image's requested stack
	// and heap sizes. Zero means the defaults; config overrides win
	// over either.
	StackReserve uint64
	HeapReserve  uint64

	// Relocate, when set, rewrites a copy of Code for the guest
	// address the code region actually landed at. Flat binaries built
	// position-independent leave it nil.
	Relocate func(code []byte, base uint64) ([]byte, error)
}

// Digest returns the BLAKE3 content hash of the code. Two images with
// the same digest produce byte-identical code regions.
func (img *GuestImage) Digest() [32]byte {
	return binhash.HashBytes(img.Code)
}

func (img *GuestImage) validate() error {
	if len(img.Code) == 0 {
		return fmt.Errorf("guest image: no code")
	}
	if img.Entry >= uint64(len(img.Code)) {
		return fmt.Errorf("guest image: entry point 0x%x outside %d bytes of code", img.Entry, len(img.Code))
	}
	return nil
}

// LoadGuestImage reads a flat binary from disk. The entry point is
// the first byte.
func LoadGuestImage(path string) (*GuestImage, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading guest image: %w", err)
	}
	img := &GuestImage{Code: code}
	if err := img.validate(); err != nil {
		return nil, err
	}
	return img, nil
}
