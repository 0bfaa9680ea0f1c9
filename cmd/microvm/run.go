// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/microvm/lib/codec"
	"github.com/bureau-foundation/microvm/protocol"
	"github.com/bureau-foundation/microvm/sandbox"
)

func runCmd(args []string, logger *slog.Logger) error {
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	imagePath := flags.String("image", "", "path to the flat guest binary")
	configPath := flags.String("config", "", "optional YAML sandbox configuration")
	restorePath := flags.String("restore", "", "optional snapshot archive to start from")
	call := flags.String("call", "", "guest function to call")
	returnKind := flags.String("return", "void", "expected return kind")
	format := flags.String("format", "json", "output format: json or cbor")
	params := flags.StringArray("param", nil, "call parameter as kind:value (repeatable)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *imagePath == "" || *call == "" {
		return fmt.Errorf("run requires --image and --call")
	}

	kind, err := parseKind(*returnKind)
	if err != nil {
		return err
	}
	values := make([]protocol.Value, 0, len(*params))
	for _, spec := range *params {
		v, err := parseParam(spec)
		if err != nil {
			return err
		}
		values = append(values, v)
	}

	image, err := sandbox.LoadGuestImage(*imagePath)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath, logger)
	if err != nil {
		return err
	}

	u, err := sandbox.New(image, cfg)
	if err != nil {
		return err
	}
	sb, err := u.Evolve(context.Background())
	if err != nil {
		return err
	}
	defer sb.Close()

	if *restorePath != "" {
		archive, err := os.Open(*restorePath)
		if err != nil {
			return fmt.Errorf("opening snapshot: %w", err)
		}
		defer archive.Close()
		if err := sb.ReadArchive(archive); err != nil {
			return fmt.Errorf("restoring snapshot: %w", err)
		}
	}

	result, err := sb.Call(context.Background(), *call, kind, values...)
	if err != nil {
		return err
	}
	return printResult(*call, result, *format)
}

func snapshotCmd(args []string, logger *slog.Logger) error {
	flags := pflag.NewFlagSet("snapshot", pflag.ContinueOnError)
	imagePath := flags.String("image", "", "path to the flat guest binary")
	configPath := flags.String("config", "", "optional YAML sandbox configuration")
	outPath := flags.String("out", "", "archive destination")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *imagePath == "" || *outPath == "" {
		return fmt.Errorf("snapshot requires --image and --out")
	}

	image, err := sandbox.LoadGuestImage(*imagePath)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath, logger)
	if err != nil {
		return err
	}

	u, err := sandbox.New(image, cfg)
	if err != nil {
		return err
	}
	sb, err := u.Evolve(context.Background())
	if err != nil {
		return err
	}
	defer sb.Close()

	out, err := os.Create(*outPath)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	if err := sb.WriteArchive(out); err != nil {
		out.Close()
		return fmt.Errorf("writing archive: %w", err)
	}
	return out.Close()
}

// callResult is the printable outcome of a guest call.
type callResult struct {
	Function string `json:"function" cbor:"function"`
	Kind     string `json:"kind" cbor:"kind"`
	Value    any    `json:"value" cbor:"value"`
}

func printResult(function string, value protocol.Value, format string) error {
	result := callResult{
		Function: function,
		Kind:     value.Kind().String(),
		Value:    plainValue(value),
	}
	switch format {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	case "cbor":
		encoded, err := codec.Marshal(result)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(encoded)
		return err
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// plainValue unwraps a protocol value for serialization. Byte vectors
// print as hex so JSON output stays readable.
func plainValue(v protocol.Value) any {
	switch v.Kind() {
	case protocol.KindInt32:
		n, _ := v.AsInt32()
		return n
	case protocol.KindInt64:
		n, _ := v.AsInt64()
		return n
	case protocol.KindUInt32:
		n, _ := v.AsUInt32()
		return n
	case protocol.KindUInt64:
		n, _ := v.AsUInt64()
		return n
	case protocol.KindBool:
		b, _ := v.AsBool()
		return b
	case protocol.KindString:
		s, _ := v.AsString()
		return s
	case protocol.KindByteVector:
		raw, _ := v.AsBytes()
		return hex.EncodeToString(raw)
	default:
		return nil
	}
}
