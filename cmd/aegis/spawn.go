// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jllopis/aegis/pkg/capability"
	"github.com/jllopis/aegis/pkg/identity"
	"github.com/jllopis/aegis/pkg/runtime"
	"github.com/jllopis/aegis/pkg/spawn"
)

func runSpawn(ctx context.Context, flags globalFlags, rt *runtime.Runtime, args []string) {
	if len(args) == 0 {
		fatal(errors.New("usage: aegis spawn <create|terminate|lineage|tree|authority>"))
	}

	switch args[0] {
	case "create":
		runSpawnCreate(ctx, flags, rt, args[1:])
	case "terminate":
		runSpawnTerminate(ctx, flags, rt, args[1:])
	case "lineage":
		runSpawnLineage(ctx, flags, rt, args[1:])
	case "tree":
		runSpawnTree(ctx, flags, rt, args[1:])
	case "authority":
		runSpawnAuthority(ctx, flags, rt, args[1:])
	default:
		fatal(fmt.Errorf("unknown spawn command %q", args[0]))
	}
}

func runSpawnCreate(ctx context.Context, flags globalFlags, rt *runtime.Runtime, args []string) {
	cmd := flag.NewFlagSet("spawn create", flag.ContinueOnError)
	parent := cmd.String("parent", "default", "Parent identity name or id")
	spawnType := cmd.String("type", string(spawn.TypeWorker), "worker, delegate, clone, or specialist")
	purpose := cmd.String("purpose", "", "Purpose of the spawned identity")
	var authority multiFlag
	cmd.Var(&authority, "authority", "Capability URI granted to the child (repeatable)")
	var ceiling multiFlag
	cmd.Var(&ceiling, "ceiling", "Authority ceiling URI (repeatable; default same as authority)")
	lifetime := cmd.String("lifetime", "indefinite", "indefinite, parent_termination, task:<id>, until:<micros>, or seconds")
	maxChildren := cmd.Uint("max-children", 0, "Cap on the child's direct children (0 = unlimited)")
	maxDepth := cmd.Uint("max-depth", 0, "Cap on spawn depth below the child (0 = default)")
	noSpawn := cmd.Bool("no-spawn", false, "Forbid the child from spawning")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}
	if *purpose == "" || len(authority) == 0 {
		fatal(errors.New("usage: aegis spawn create --purpose <text> --authority <uri> [--authority ...]"))
	}

	req := runtime.SpawnRequest{
		Parent:    *parent,
		Type:      spawn.Type(*spawnType),
		Purpose:   *purpose,
		Authority: authority,
		Ceiling:   ceiling,
		Lifetime:  parseLifetime(*lifetime),
	}
	if *maxChildren > 0 || *maxDepth > 0 || *noSpawn {
		constraints := spawn.DefaultConstraints()
		if *maxChildren > 0 {
			limit := uint32(*maxChildren)
			constraints.MaxChildren = &limit
		}
		if *maxDepth > 0 {
			depth := uint32(*maxDepth)
			constraints.MaxSpawnDepth = &depth
		}
		if *noSpawn {
			constraints.CanSpawn = false
		}
		req.Constraints = &constraints
	}

	child, record, err := rt.Spawn(ctx, req)
	if err != nil {
		fatal(err)
	}
	if flags.JSON {
		printJSON(map[string]any{
			"child_id":   child.ID(),
			"child_name": child.Name,
			"record":     record,
		})
		return
	}
	fmt.Printf("spawned %s\n", child.ID())
	fmt.Printf("  spawn_id:  %s\n", record.ID)
	fmt.Printf("  type:      %s\n", record.SpawnType)
	fmt.Printf("  purpose:   %s\n", record.SpawnPurpose)
	fmt.Printf("  authority: %s\n", strings.Join(capability.URIs(record.AuthorityGranted), ","))
	fmt.Printf("  lifetime:  %s\n", formatLifetime(record.Lifetime))
}

func runSpawnTerminate(ctx context.Context, flags globalFlags, rt *runtime.Runtime, args []string) {
	cmd := flag.NewFlagSet("spawn terminate", flag.ContinueOnError)
	parent := cmd.String("parent", "default", "Parent identity name or id")
	reason := cmd.String("reason", "terminated", "Reason for termination")
	cascade := cmd.Bool("cascade", false, "Cascade termination through descendants")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}
	if cmd.NArg() < 1 {
		fatal(errors.New("usage: aegis spawn terminate <spawn_id> [--reason <text>] [--cascade]"))
	}

	terminated, err := rt.Terminate(ctx, spawn.ID(cmd.Arg(0)), *parent, *reason, *cascade)
	if err != nil {
		fatal(err)
	}
	if flags.JSON {
		printJSON(map[string]any{
			"terminated": terminated,
			"count":      len(terminated),
		})
		return
	}
	fmt.Printf("terminated %d record(s)\n", len(terminated))
	for _, id := range terminated {
		fmt.Printf("  %s\n", id)
	}
}

func runSpawnLineage(ctx context.Context, flags globalFlags, rt *runtime.Runtime, args []string) {
	if len(args) < 1 {
		fatal(errors.New("usage: aegis spawn lineage <identity_id>"))
	}
	id := identity.ID(args[0])

	v, err := rt.VerifyLineage(ctx, id)
	if err != nil {
		fatal(err)
	}
	lineage, err := rt.Lineage(ctx, id)
	if err != nil {
		fatal(err)
	}

	if flags.JSON {
		printJSON(map[string]any{
			"lineage":      lineage,
			"verification": v,
		})
		return
	}
	fmt.Printf("lineage of %s\n", id)
	fmt.Printf("  root:      %s\n", lineage.RootAncestor)
	fmt.Printf("  depth:     %d\n", lineage.SpawnDepth)
	if len(lineage.ParentChain) > 0 {
		ids := make([]string, len(lineage.ParentChain))
		for i, ancestor := range lineage.ParentChain {
			ids[i] = string(ancestor)
		}
		fmt.Printf("  ancestors: %s\n", strings.Join(ids, " -> "))
	}
	fmt.Printf("  lineage:   %s\n", checkMark(v.LineageValid))
	fmt.Printf("  ancestors: %s\n", checkMark(v.AllAncestorsActive))
	fmt.Printf("  authority: %s\n", strings.Join(capability.URIs(v.EffectiveAuthority), ","))
	if v.RevokedAncestor != "" {
		fmt.Printf("  revoked:   %s\n", v.RevokedAncestor)
	}
	for _, msg := range v.Errors {
		fmt.Printf("  error:     %s\n", msg)
	}
	fmt.Printf("  valid:     %t\n", v.IsValid)
}

func runSpawnTree(ctx context.Context, flags globalFlags, rt *runtime.Runtime, args []string) {
	cmd := flag.NewFlagSet("spawn tree", flag.ContinueOnError)
	root := cmd.String("root", "", "Root identity id (default: every root in the store)")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}

	records, err := rt.Store().LoadSpawnRecords(ctx)
	if err != nil {
		fatal(err)
	}
	if flags.JSON {
		printJSON(records)
		return
	}
	if len(records) == 0 {
		fmt.Println("no spawn records")
		return
	}

	roots := []identity.ID{identity.ID(*root)}
	if *root == "" {
		roots = spawnRoots(records)
	}
	for _, r := range roots {
		fmt.Println(r)
		printSubtree(r, records, "  ")
	}
}

func runSpawnAuthority(ctx context.Context, flags globalFlags, rt *runtime.Runtime, args []string) {
	if len(args) < 1 {
		fatal(errors.New("usage: aegis spawn authority <identity_id>"))
	}
	id := identity.ID(args[0])

	authority, err := rt.EffectiveAuthority(ctx, id)
	if err != nil {
		fatal(err)
	}
	if flags.JSON {
		printJSON(map[string]any{
			"identity":            id,
			"effective_authority": authority,
		})
		return
	}
	if len(authority) == 0 {
		fmt.Printf("%s has no effective authority\n", id)
		return
	}
	for _, cap := range authority {
		fmt.Println(cap.URI)
	}
}

// spawnRoots returns the parents that are not themselves spawned, sorted
// for stable output.
func spawnRoots(records []spawn.Record) []identity.ID {
	spawned := make(map[identity.ID]bool, len(records))
	for _, rec := range records {
		spawned[rec.ChildID] = true
	}
	seen := make(map[identity.ID]bool)
	var roots []identity.ID
	for _, rec := range records {
		if !spawned[rec.ParentID] && !seen[rec.ParentID] {
			seen[rec.ParentID] = true
			roots = append(roots, rec.ParentID)
		}
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })
	return roots
}

func printSubtree(id identity.ID, records []spawn.Record, indent string) {
	for _, rec := range records {
		if rec.ParentID != id {
			continue
		}
		status := "active"
		if rec.Terminated {
			status = "terminated"
		}
		fmt.Printf("%s%s [%s, %s] %s\n", indent, rec.ChildID, rec.SpawnType, status, rec.SpawnPurpose)
		printSubtree(rec.ChildID, records, indent+"  ")
	}
}

// parseLifetime maps the CLI lifetime string to a spawn lifetime:
// "indefinite", "parent_termination", "task:<id>", "until:<micros>", or
// a duration in seconds.
func parseLifetime(raw string) spawn.Lifetime {
	switch {
	case raw == "" || raw == "indefinite":
		return spawn.Indefinite()
	case raw == "parent_termination":
		return spawn.ParentTermination()
	case strings.HasPrefix(raw, "task:"):
		return spawn.TaskCompletion(strings.TrimPrefix(raw, "task:"))
	case strings.HasPrefix(raw, "until:"):
		if ts, err := strconv.ParseUint(strings.TrimPrefix(raw, "until:"), 10, 64); err == nil {
			return spawn.Until(ts)
		}
		return spawn.Indefinite()
	default:
		if secs, err := strconv.ParseUint(raw, 10, 64); err == nil {
			return spawn.Duration(secs)
		}
		return spawn.Indefinite()
	}
}

func formatLifetime(l spawn.Lifetime) string {
	switch l.Kind {
	case spawn.LifetimeDuration:
		return fmt.Sprintf("%ds", l.Seconds)
	case spawn.LifetimeUntil:
		return "until " + formatMicros(l.Timestamp)
	case spawn.LifetimeTaskCompletion:
		return "task " + l.TaskID
	default:
		return string(l.Kind)
	}
}
