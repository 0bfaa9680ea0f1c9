// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"crypto/rand"
	"encoding/binary"
	"log/slog"

	"github.com/bureau-foundation/microvm/hypervisor"
	"github.com/bureau-foundation/microvm/hypervisor/probe"
	"github.com/bureau-foundation/microvm/lib/clock"
	"github.com/bureau-foundation/microvm/memory"
)

// Config tunes a sandbox. The zero value is fully usable: default
// buffer sizes, the platform's preferred hypervisor backend, a
// discarding logger and the real clock.
type Config struct {
	// Memory sizes the transfer buffers and bounds execution time.
	Memory memory.Config

	// Logger receives guest log records and sandbox diagnostics.
	// Nil discards them.
	Logger *slog.Logger

	// Clock drives execution timeouts. Nil means the real clock;
	// tests inject a fake.
	Clock clock.Clock

	// NewDriver constructs the hypervisor backend. Nil means probe
	// the platform. Tests inject a fake driver here.
	NewDriver func(hypervisor.Params) (hypervisor.Driver, error)

	// Seed is handed to the guest for its own randomization. Zero
	// draws a fresh seed from crypto/rand.
	Seed uint64
}

func (c Config) normalize() Config {
	c.Memory = c.Memory.Normalize()
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.NewDriver == nil {
		c.NewDriver = probe.New
	}
	if c.Seed == 0 {
		var raw [8]byte
		rand.Read(raw[:])
		c.Seed = binary.LittleEndian.Uint64(raw[:])
	}
	return c
}
