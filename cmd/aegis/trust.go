// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/jllopis/aegis/pkg/identity"
	"github.com/jllopis/aegis/pkg/runtime"
	"github.com/jllopis/aegis/pkg/store"
	"github.com/jllopis/aegis/pkg/trust"
)

func runTrust(ctx context.Context, flags globalFlags, rt *runtime.Runtime, args []string) {
	if len(args) == 0 {
		fatal(errors.New("usage: aegis trust <grant|verify|revoke|list>"))
	}

	switch args[0] {
	case "grant":
		runTrustGrant(ctx, flags, rt, args[1:])
	case "verify":
		runTrustVerify(ctx, flags, rt, args[1:])
	case "revoke":
		runTrustRevoke(ctx, flags, rt, args[1:])
	case "list":
		runTrustList(ctx, flags, rt, args[1:])
	default:
		fatal(fmt.Errorf("unknown trust command %q", args[0]))
	}
}

func runTrustGrant(ctx context.Context, flags globalFlags, rt *runtime.Runtime, args []string) {
	cmd := flag.NewFlagSet("trust grant", flag.ContinueOnError)
	specPath := cmd.String("spec", "", "YAML grant spec file")
	grantor := cmd.String("grantor", "default", "Grantor identity name or id")
	grantee := cmd.String("grantee", "", "Grantee identity id")
	granteeKey := cmd.String("grantee-key", "", "Grantee base64 public key (required for non-local grantees)")
	var caps multiFlag
	cmd.Var(&caps, "cap", "Capability URI to grant (repeatable)")
	expires := cmd.Uint64("expires", 0, "Expiry in seconds from now (0 = no expiry)")
	maxUses := cmd.Uint64("max-uses", 0, "Maximum number of uses (0 = unlimited)")
	allowDelegation := cmd.Bool("allow-delegation", false, "Allow the grantee to delegate onward")
	maxDepth := cmd.Uint("max-depth", 0, "Maximum delegation depth")
	parentGrant := cmd.String("parent", "", "Parent grant id for a delegated grant")
	var witnesses multiFlag
	cmd.Var(&witnesses, "witness", "Required revocation witness identity id (repeatable)")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}

	var req runtime.GrantRequest
	if *specPath != "" {
		spec, err := loadGrantSpec(*specPath)
		if err != nil {
			fatal(err)
		}
		req = spec.toRequest()
		if *grantor != "default" {
			req.Grantor = *grantor
		}
	} else {
		if *grantee == "" || len(caps) == 0 {
			fatal(errors.New("usage: aegis trust grant --grantee <id> --cap <uri> [--cap ...]"))
		}
		constraints := trust.Open()
		if *expires > 0 {
			now := identity.NowMicros()
			constraints = trust.TimeBounded(now, now+*expires*1_000_000)
		}
		if *maxUses > 0 {
			constraints = constraints.WithMaxUses(*maxUses)
		}
		req = runtime.GrantRequest{
			Grantor:            *grantor,
			Grantee:            identity.ID(*grantee),
			GranteeKey:         *granteeKey,
			Capabilities:       caps,
			Constraints:        constraints,
			AllowDelegation:    *allowDelegation,
			MaxDelegationDepth: uint32(*maxDepth),
			ParentGrant:        trust.ID(*parentGrant),
		}
		for _, w := range witnesses {
			req.Witnesses = append(req.Witnesses, identity.ID(w))
		}
	}

	grant, err := rt.Grant(ctx, req)
	if err != nil {
		fatal(err)
	}
	if flags.JSON {
		printJSON(grant)
		return
	}
	fmt.Printf("granted %s\n", grant.ID)
	fmt.Printf("  grantor:      %s\n", grant.Grantor)
	fmt.Printf("  grantee:      %s\n", grant.Grantee)
	fmt.Printf("  capabilities: %s\n", capabilityList(grant))
	if grant.DelegationAllowed {
		fmt.Printf("  delegation:   allowed (depth %d)\n", grant.DelegationDepth)
	}
}

func runTrustVerify(ctx context.Context, flags globalFlags, rt *runtime.Runtime, args []string) {
	cmd := flag.NewFlagSet("trust verify", flag.ContinueOnError)
	capURI := cmd.String("cap", "*", "Capability URI to check")
	uses := cmd.Uint64("uses", 0, "Uses consumed so far")
	chain := cmd.Bool("chain", false, "Verify the full delegation chain")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}
	if cmd.NArg() < 1 {
		fatal(errors.New("usage: aegis trust verify <trust_id> [--cap <uri>] [--uses N] [--chain]"))
	}
	id := trust.ID(cmd.Arg(0))

	var (
		v   *trust.Verification
		err error
	)
	if *chain {
		v, err = rt.VerifyChain(ctx, id, *capURI)
	} else {
		v, err = rt.VerifyGrant(ctx, id, *capURI, *uses)
	}
	if err != nil {
		fatal(err)
	}

	if flags.JSON {
		printJSON(v)
	} else {
		fmt.Printf("verification of %s for %q\n", id, *capURI)
		fmt.Printf("  signature:  %s\n", checkMark(v.SignatureValid))
		fmt.Printf("  time:       %s\n", checkMark(v.TimeValid))
		fmt.Printf("  revocation: %s\n", checkMark(v.NotRevoked))
		fmt.Printf("  uses:       %s\n", checkMark(v.UsesValid))
		fmt.Printf("  capability: %s\n", checkMark(v.CapabilityGranted))
		if len(v.TrustChain) > 1 {
			ids := make([]string, len(v.TrustChain))
			for i, link := range v.TrustChain {
				ids[i] = string(link)
			}
			fmt.Printf("  chain:      %s\n", strings.Join(ids, " -> "))
		}
		fmt.Printf("  valid:      %t\n", v.IsValid)
	}
	if !v.IsValid {
		os.Exit(1)
	}
}

func runTrustRevoke(ctx context.Context, flags globalFlags, rt *runtime.Runtime, args []string) {
	cmd := flag.NewFlagSet("trust revoke", flag.ContinueOnError)
	reason := cmd.String("reason", string(trust.ReasonManual), "Revocation reason")
	revoker := cmd.String("identity", "default", "Revoking identity name or id")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}
	if cmd.NArg() < 1 {
		fatal(errors.New("usage: aegis trust revoke <trust_id> [--reason <reason>] [--identity <name-or-id>]"))
	}

	revocation, err := rt.Revoke(ctx, trust.ID(cmd.Arg(0)), *revoker, trust.Reason(*reason))
	if err != nil {
		fatal(err)
	}
	if flags.JSON {
		printJSON(revocation)
		return
	}
	fmt.Printf("revoked %s (reason %s)\n", revocation.TrustID, revocation.Reason)
}

func runTrustList(ctx context.Context, flags globalFlags, rt *runtime.Runtime, args []string) {
	cmd := flag.NewFlagSet("trust list", flag.ContinueOnError)
	direction := cmd.String("direction", string(store.DirectionGranted), "granted or received")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}

	grants, err := rt.Store().ListGrants(ctx, store.Direction(*direction))
	if err != nil {
		fatal(err)
	}
	if flags.JSON {
		printJSON(grants)
		return
	}
	writer := newTabWriter()
	writeRow(writer, "TRUST_ID", "GRANTOR", "GRANTEE", "CAPABILITIES", "GRANTED_AT")
	for _, grant := range grants {
		writeRow(writer,
			string(grant.ID),
			string(grant.Grantor),
			string(grant.Grantee),
			capabilityList(grant),
			formatMicros(grant.GrantedAt),
		)
	}
	_ = writer.Flush()
}

func capabilityList(grant *trust.Grant) string {
	uris := make([]string, len(grant.Capabilities))
	for i, c := range grant.Capabilities {
		uris[i] = c.URI
	}
	return strings.Join(uris, ",")
}
