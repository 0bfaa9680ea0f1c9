// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package memory

import "golang.org/x/sys/unix"

// mapRegion maps size bytes of private anonymous memory. The mapping
// is page-aligned by construction, which the hypervisor backends rely
// on when handing the region to the kernel.
func mapRegion(size uint64) ([]byte, error) {
	return unix.Mmap(-1, 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
}

func unmapRegion(mem []byte) error {
	if mem == nil {
		return nil
	}
	return unix.Munmap(mem)
}
