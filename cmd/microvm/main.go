// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// microvm runs guest functions inside hardware-isolated micro-VM
// sandboxes.
//
// Usage:
//
//	microvm run [flags] --image <guest.bin> --call <function>
//	microvm snapshot [flags] --image <guest.bin> --out <archive>
//	microvm inspect [flags] --image <guest.bin>
//	microvm probe
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/bureau-foundation/microvm/hypervisor/probe"
	"github.com/bureau-foundation/microvm/lib/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	logLevel := slog.LevelWarn
	if os.Getenv("MICROVM_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "run":
		err = runCmd(args, logger)
	case "snapshot":
		err = snapshotCmd(args, logger)
	case "inspect":
		err = inspectCmd(args)
	case "probe":
		err = probeCmd()
	case "version", "--version":
		fmt.Println(version.Full())
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func probeCmd() error {
	name := probe.Name()
	if name == "" {
		return fmt.Errorf("no hypervisor available on this host")
	}
	fmt.Println(name)
	return nil
}

func printUsage() {
	fmt.Print(`microvm - Run guest functions in hardware-isolated micro-VMs

USAGE
    microvm <command> [flags]

COMMANDS
    run       Call a guest function and print its return value
    snapshot  Initialise a guest and persist its state as an archive
    inspect   Print the computed memory layout for a guest image
    probe     Print the hypervisor backend this host would use
    version   Print build version information

EXAMPLES
    # Call Add(2, 3) in a guest
    microvm run --image guest.bin --call Add --param int32:2 --param int32:3 --return int32

    # Start from a previously captured snapshot
    microvm run --image guest.bin --restore state.mvm --call Process --param bytes:68656c6c6f --return string

    # Capture a post-initialisation snapshot
    microvm snapshot --image guest.bin --out state.mvm

    # Check a guest binary against a pinned digest before printing its layout
    microvm inspect --image guest.bin --verify 9f2c...

ENVIRONMENT
    MICROVM_DEBUG  Enable debug logging
`)
}
