// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/microvm/lib/binhash"
	"github.com/bureau-foundation/microvm/memory"
	"github.com/bureau-foundation/microvm/sandbox"
)

func inspectCmd(args []string) error {
	flags := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
	imagePath := flags.String("image", "", "path to the flat guest binary")
	configPath := flags.String("config", "", "optional YAML sandbox configuration")
	verify := flags.String("verify", "", "fail unless the image matches this BLAKE3 digest")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *imagePath == "" {
		return fmt.Errorf("inspect requires --image")
	}

	if *verify != "" {
		want, err := binhash.ParseDigest(*verify)
		if err != nil {
			return err
		}
		got, err := binhash.HashFile(*imagePath)
		if err != nil {
			return err
		}
		if got != want {
			return fmt.Errorf("image digest mismatch: have %s", binhash.FormatDigest(got))
		}
	}

	image, err := sandbox.LoadGuestImage(*imagePath)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath, slog.New(slog.DiscardHandler))
	if err != nil {
		return err
	}

	layout, err := memory.NewLayout(cfg.Memory, uint64(len(image.Code)), image.StackReserve, image.HeapReserve)
	if err != nil {
		return err
	}

	fmt.Printf("image: %s (%d bytes)\n\n", binhash.FormatDigest(image.Digest()), len(image.Code))

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COMPONENT\tGUEST ADDRESS\tOFFSET\tSIZE")
	for _, row := range []struct {
		name   string
		buffer memory.Buffer
	}{
		{"pml4", layout.PML4},
		{"pdpt", layout.PDPT},
		{"pd", layout.PD},
		{"peb", layout.PEB},
		{"guest-error", layout.GuestErrorBuffer},
		{"host-functions", layout.HostFunctionBuffer},
		{"host-exception", layout.HostExceptionBuffer},
		{"input", layout.InputBuffer},
		{"output", layout.OutputBuffer},
		{"panic-context", layout.PanicContextBuffer},
		{"code", layout.Code},
		{"heap", layout.Heap},
		{"guard-page", layout.GuardPage},
		{"stack", layout.Stack},
	} {
		fmt.Fprintf(w, "%s\t0x%x\t0x%x\t%d\n",
			row.name, row.buffer.GuestAddress().Absolute(), uint64(row.buffer.Offset), row.buffer.Size)
	}
	fmt.Fprintf(w, "total\t\t\t%d\n", layout.TotalSize)
	fmt.Fprintf(w, "initial-rsp\t0x%x\t\t\n", layout.InitialRSP())
	if err := w.Flush(); err != nil {
		return err
	}
	return nil
}
