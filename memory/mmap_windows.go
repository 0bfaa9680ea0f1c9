// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package memory

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// mapRegion reserves and commits size bytes of page-aligned memory.
func mapRegion(size uint64) ([]byte, error) {
	base, err := windows.VirtualAlloc(0, uintptr(size),
		windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(base)), size), nil
}

func unmapRegion(mem []byte) error {
	if mem == nil {
		return nil
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(mem)))
	return windows.VirtualFree(base, 0, windows.MEM_RELEASE)
}
