// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/bureau-foundation/microvm/hypervisor"
	"github.com/bureau-foundation/microvm/lib/binhash"
	"github.com/bureau-foundation/microvm/memory"
)

// Uninitialized is a sandbox whose guest has never executed. Host
// functions are registered here; Evolve or EvolveSingleUse consume
// the value.
type Uninitialized struct {
	mu       sync.Mutex
	consumed bool
	c        *core
}

// New lays out guest memory, loads the image and constructs the
// hypervisor driver. The guest does not run yet.
func New(image *GuestImage, cfg Config) (*Uninitialized, error) {
	if err := image.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.normalize()

	layout, err := memory.NewLayout(cfg.Memory, uint64(len(image.Code)), image.StackReserve, image.HeapReserve)
	if err != nil {
		return nil, err
	}
	mem, err := memory.NewManager(layout)
	if err != nil {
		return nil, err
	}
	code := image.Code
	if image.Relocate != nil {
		code, err = image.Relocate(bytes.Clone(image.Code), layout.Code.GuestAddress().Absolute())
		if err != nil {
			mem.Close()
			return nil, fmt.Errorf("relocating guest code: %w", err)
		}
		if len(code) != len(image.Code) {
			mem.Close()
			return nil, fmt.Errorf("relocation changed the code size from %d to %d bytes", len(image.Code), len(code))
		}
	}
	if err := mem.WriteBytes(layout.Code.Offset, code); err != nil {
		mem.Close()
		return nil, fmt.Errorf("loading guest code: %w", err)
	}

	c := &core{
		mem:          mem,
		host:         NewHostFunctions(),
		logger:       cfg.Logger,
		clk:          cfg.Clock,
		maxExecution: layout.Config.MaxExecutionTime,
		maxCancel:    layout.Config.MaxWaitForCancel,
		imageDigest:  image.Digest(),
	}

	entry, err := layout.Code.GuestAddress().Add(memory.Offset(image.Entry))
	if err != nil {
		mem.Close()
		return nil, err
	}
	driver, err := cfg.NewDriver(hypervisor.Params{
		Mappings:     mem.Mappings(),
		PageTable:    mem.PML4Address(),
		EntryPoint:   entry.Absolute(),
		StackPointer: layout.InitialRSP(),
		PEB:          mem.PEBAddress().Absolute(),
		Seed:         cfg.Seed,
		Handlers: hypervisor.Handlers{
			OutB:     c.handleOutB,
			MemFault: c.handleMemFault,
		},
		Logger: cfg.Logger,
	})
	if err != nil {
		mem.Close()
		return nil, err
	}
	c.driver = driver

	cfg.Logger.Debug("sandbox created",
		"image", binhash.FormatDigest(c.imageDigest),
		"code_bytes", len(image.Code),
		"region_bytes", layout.TotalSize)
	return &Uninitialized{c: c}, nil
}

// RegisterHostFunction exposes a host function to the guest. Only
// legal before evolving.
func (u *Uninitialized) RegisterHostFunction(name string, fn HostFunction) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.consumed {
		return ErrConsumed
	}
	return u.c.host.Register(name, fn)
}

// consume marks the typestate transition. Exactly one evolve wins.
func (u *Uninitialized) consume() (*core, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.consumed {
		return nil, ErrConsumed
	}
	u.consumed = true
	return u.c, nil
}

// initialise runs the guest's initialisation to completion and takes
// the baseline snapshot call contexts roll back to.
func initialise(ctx context.Context, c *core) error {
	runErr := c.run(ctx, c.driver.Initialise)
	if err := c.finishRun(runErr); err != nil {
		c.close()
		return fmt.Errorf("guest initialisation: %w", err)
	}
	if _, err := c.mem.DispatchPointer(); err != nil {
		c.close()
		return fmt.Errorf("guest initialisation: %w", err)
	}
	if err := c.mem.Snapshot(); err != nil {
		c.close()
		return fmt.Errorf("taking baseline snapshot: %w", err)
	}
	return nil
}

// Evolve runs guest initialisation and produces a MultiUse sandbox.
// The Uninitialized value is consumed whether or not evolution
// succeeds.
func (u *Uninitialized) Evolve(ctx context.Context) (*MultiUse, error) {
	c, err := u.consume()
	if err != nil {
		return nil, err
	}
	if err := initialise(ctx, c); err != nil {
		return nil, err
	}
	return &MultiUse{c: c}, nil
}

// EvolveSingleUse runs guest initialisation and produces a SingleUse
// sandbox.
func (u *Uninitialized) EvolveSingleUse(ctx context.Context) (*SingleUse, error) {
	c, err := u.consume()
	if err != nil {
		return nil, err
	}
	if err := initialise(ctx, c); err != nil {
		return nil, err
	}
	return &SingleUse{c: c}, nil
}

// Close releases a sandbox that was never evolved.
func (u *Uninitialized) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.consumed = true
	return u.c.close()
}
