// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/jllopis/aegis/pkg/identity"
	"github.com/jllopis/aegis/pkg/runtime"
)

func runIdentity(ctx context.Context, flags globalFlags, rt *runtime.Runtime, args []string) {
	if len(args) == 0 {
		fatal(errors.New("usage: aegis identity <create|show|rotate>"))
	}

	switch args[0] {
	case "create":
		cmd := flag.NewFlagSet("identity create", flag.ContinueOnError)
		name := cmd.String("name", "default", "Human-readable identity name")
		if err := cmd.Parse(args[1:]); err != nil {
			fatal(err)
		}
		anchor, err := rt.CreateIdentity(ctx, *name)
		if err != nil {
			fatal(err)
		}
		if flags.JSON {
			printJSON(map[string]any{
				"id":         anchor.ID(),
				"name":       anchor.Name,
				"public_key": anchor.PublicKeyBase64(),
				"created_at": anchor.CreatedAt,
			})
			return
		}
		fmt.Printf("created identity %s\n", anchor.ID())
		fmt.Printf("  name:       %s\n", anchor.Name)
		fmt.Printf("  public_key: %s\n", anchor.PublicKeyBase64())

	case "show":
		ref := "default"
		if len(args) > 1 {
			ref = args[1]
		}
		anchor, err := rt.ResolveAnchor(ctx, ref)
		if err != nil {
			fatal(err)
		}
		doc, err := anchor.Document()
		if err != nil {
			fatal(err)
		}
		if flags.JSON {
			printJSON(doc)
			return
		}
		fmt.Printf("identity %s\n", doc.ID)
		fmt.Printf("  name:       %s\n", normalizeCell(doc.Name))
		fmt.Printf("  public_key: %s\n", doc.PublicKey)
		fmt.Printf("  created_at: %s\n", formatMicros(doc.CreatedAt))
		fmt.Printf("  rotations:  %d\n", len(doc.RotationHistory))

	case "rotate":
		cmd := flag.NewFlagSet("identity rotate", flag.ContinueOnError)
		reason := cmd.String("reason", string(identity.RotationScheduled), "Rotation reason (scheduled, compromised, device_lost, policy_required, manual)")
		if err := cmd.Parse(args[1:]); err != nil {
			fatal(err)
		}
		if cmd.NArg() < 1 {
			fatal(errors.New("usage: aegis identity rotate <name-or-id> [--reason <reason>]"))
		}
		rotated, err := rt.RotateIdentity(ctx, cmd.Arg(0), identity.RotationReason(*reason))
		if err != nil {
			fatal(err)
		}
		if flags.JSON {
			printJSON(map[string]any{
				"id":         rotated.ID(),
				"public_key": rotated.PublicKeyBase64(),
				"rotations":  len(rotated.RotationHistory),
			})
			return
		}
		fmt.Printf("rotated to %s (generation %d)\n", rotated.ID(), len(rotated.RotationHistory))

	default:
		fatal(fmt.Errorf("unknown identity command %q", args[0]))
	}
}
