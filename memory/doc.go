// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory owns the guest's physical address space: the typed
// pointer model, the layout computation, and the manager for the
// shared region the hypervisor maps into the guest.
//
// # Address spaces
//
// The same byte lives at two different numeric addresses: the guest
// sees it at a fixed physical base ([BaseAddress]), the host sees it
// wherever mmap placed the region in this process. A guest-controlled
// value misinterpreted as a host pointer is the most dangerous bug
// class in this engine, so the two spaces are kept apart at the type
// level: [GuestPtr] and [HostPtr] do not convert implicitly, compare,
// or mix in arithmetic. Conversion goes through the [Manager] that
// anchors the host space, and fails rather than wrapping.
//
// # Layout
//
// [Layout] is a pure function from [Config] plus the guest image's
// code/stack/heap sizes to fixed byte offsets inside one flat region:
// page tables, the PEB control block, the transfer buffers, code, the
// heap, one unmapped guard page, and the stack at the top. Because it
// is pure it is tested exhaustively by construction alone, with no VM.
//
// # Manager
//
// [Manager] owns the mapped region exclusively. It writes the page
// table hierarchy, seeds and checks the stack guard cookie, provides
// bounds-checked read/write primitives (every access is validated
// against the region, a bad offset is an error and never a fault),
// and implements snapshot/restore so a MultiUse sandbox can serve
// many call batches from identical guest state without recreating
// the VM. Snapshots are private copies, lz4-compressed above a size
// threshold and digest-checked with BLAKE3 on restore. Snapshot
// archives persisted via WriteArchive use zstd and a CBOR header.
package memory
