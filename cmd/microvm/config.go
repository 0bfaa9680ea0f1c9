// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/microvm/memory"
	"github.com/bureau-foundation/microvm/sandbox"
)

// fileConfig is the YAML shape of --config. Every field is optional;
// zero values fall through to the sandbox defaults.
type fileConfig struct {
	Buffers struct {
		Input         uint64 `yaml:"input"`
		Output        uint64 `yaml:"output"`
		GuestError    uint64 `yaml:"guest_error"`
		HostFunction  uint64 `yaml:"host_function"`
		HostException uint64 `yaml:"host_exception"`
		PanicContext  uint64 `yaml:"panic_context"`
	} `yaml:"buffers"`

	Limits struct {
		MaxExecutionTime string `yaml:"max_execution_time"`
		MaxWaitForCancel string `yaml:"max_wait_for_cancel"`
	} `yaml:"limits"`

	StackSize uint64 `yaml:"stack_size"`
	HeapSize  uint64 `yaml:"heap_size"`
	Seed      uint64 `yaml:"seed"`
}

// loadConfig builds a sandbox configuration from an optional YAML
// file. An empty path yields all defaults.
func loadConfig(path string, logger *slog.Logger) (sandbox.Config, error) {
	cfg := sandbox.Config{Logger: logger}
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.Memory = memory.Config{
		InputDataSize:           fc.Buffers.Input,
		OutputDataSize:          fc.Buffers.Output,
		GuestErrorBufferSize:    fc.Buffers.GuestError,
		HostFunctionBufferSize:  fc.Buffers.HostFunction,
		HostExceptionBufferSize: fc.Buffers.HostException,
		GuestPanicContextSize:   fc.Buffers.PanicContext,
		StackSizeOverride:       fc.StackSize,
		HeapSizeOverride:        fc.HeapSize,
	}
	cfg.Seed = fc.Seed

	if fc.Limits.MaxExecutionTime != "" {
		d, err := time.ParseDuration(fc.Limits.MaxExecutionTime)
		if err != nil {
			return cfg, fmt.Errorf("config max_execution_time: %w", err)
		}
		cfg.Memory.MaxExecutionTime = d
	}
	if fc.Limits.MaxWaitForCancel != "" {
		d, err := time.ParseDuration(fc.Limits.MaxWaitForCancel)
		if err != nil {
			return cfg, fmt.Errorf("config max_wait_for_cancel: %w", err)
		}
		cfg.Memory.MaxWaitForCancel = d
	}
	return cfg, nil
}
