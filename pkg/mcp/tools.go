// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/aegis/pkg/identity"
	"github.com/jllopis/aegis/pkg/runtime"
	"github.com/jllopis/aegis/pkg/spawn"
	"github.com/jllopis/aegis/pkg/store"
	"github.com/jllopis/aegis/pkg/trust"
)

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("identity_create",
		mcp.WithDescription("Create a new identity anchor."),
		mcp.WithString("name", mcp.Description("Human-readable name for the identity (default: \"default\")")),
	), s.handleIdentityCreate)

	s.mcpServer.AddTool(mcp.NewTool("identity_show",
		mcp.WithDescription("Show an identity's public document."),
		mcp.WithString("identity", mcp.Description("Identity name or id (default: \"default\")")),
	), s.handleIdentityShow)

	s.mcpServer.AddTool(mcp.NewTool("trust_grant",
		mcp.WithDescription("Grant capabilities to another identity."),
		mcp.WithString("grantee", mcp.Required(), mcp.Description("Grantee identity id (aid_...)")),
		mcp.WithArray("capabilities", mcp.Required(), mcp.Description("Capability URIs to grant (e.g. [\"email:send\", \"files:*\"])")),
		mcp.WithString("grantee_key", mcp.Description("Grantee base64 public key; required when the grantee is not stored locally")),
		mcp.WithNumber("expires_seconds", mcp.Description("Expiry in seconds from now (omit for no expiry)")),
		mcp.WithNumber("max_uses", mcp.Description("Maximum number of uses (omit for unlimited)")),
		mcp.WithBoolean("allow_delegation", mcp.Description("Whether the grantee can delegate onward (default: false)")),
		mcp.WithNumber("max_delegation_depth", mcp.Description("Maximum delegation depth below this grant")),
		mcp.WithString("parent_grant", mcp.Description("Parent grant id (atrust_...) for a delegated grant")),
		mcp.WithString("identity", mcp.Description("Grantor identity name or id (default: \"default\")")),
	), s.handleTrustGrant)

	s.mcpServer.AddTool(mcp.NewTool("trust_verify",
		mcp.WithDescription("Verify whether a trust grant is currently valid for a capability."),
		mcp.WithString("trust_id", mcp.Required(), mcp.Description("Trust grant id (atrust_...)")),
		mcp.WithString("capability", mcp.Description("Capability URI to check (default: \"*\")")),
		mcp.WithNumber("uses", mcp.Description("How many times the grant has been used so far (default: 0)")),
		mcp.WithBoolean("chain", mcp.Description("Verify the full delegation chain above the grant (default: false)")),
	), s.handleTrustVerify)

	s.mcpServer.AddTool(mcp.NewTool("trust_revoke",
		mcp.WithDescription("Revoke a trust grant."),
		mcp.WithString("trust_id", mcp.Required(), mcp.Description("Trust grant id (atrust_...)")),
		mcp.WithString("reason", mcp.Description("Revocation reason (manual_revocation, expired, compromised, policy_violation, grantee_request; default: manual_revocation)")),
		mcp.WithString("identity", mcp.Description("Revoking identity name or id (default: \"default\")")),
	), s.handleTrustRevoke)

	s.mcpServer.AddTool(mcp.NewTool("trust_list",
		mcp.WithDescription("List stored trust grants."),
		mcp.WithString("direction", mcp.Description("granted or received (default: granted)")),
	), s.handleTrustList)

	s.mcpServer.AddTool(mcp.NewTool("spawn_child",
		mcp.WithDescription("Spawn a child identity with bounded authority."),
		mcp.WithString("purpose", mcp.Required(), mcp.Description("Purpose of the spawned identity")),
		mcp.WithArray("authority", mcp.Required(), mcp.Description("Capability URIs granted to the child")),
		mcp.WithArray("ceiling", mcp.Description("Authority ceiling for the child (default: same as authority)")),
		mcp.WithString("spawn_type", mcp.Description("worker, delegate, clone, or specialist (default: worker)")),
		mcp.WithString("lifetime", mcp.Description("indefinite, parent_termination, task:<id>, or a duration in seconds (default: indefinite)")),
		mcp.WithString("identity", mcp.Description("Parent identity name or id (default: \"default\")")),
	), s.handleSpawnChild)

	s.mcpServer.AddTool(mcp.NewTool("spawn_terminate",
		mcp.WithDescription("Terminate a spawned child identity."),
		mcp.WithString("spawn_id", mcp.Required(), mcp.Description("Spawn record id (aspawn_...)")),
		mcp.WithString("reason", mcp.Description("Reason for termination")),
		mcp.WithBoolean("cascade", mcp.Description("Cascade termination through descendants (default: false)")),
		mcp.WithString("identity", mcp.Description("Parent identity name or id (default: \"default\")")),
	), s.handleSpawnTerminate)

	s.mcpServer.AddTool(mcp.NewTool("spawn_list",
		mcp.WithDescription("List spawn records."),
		mcp.WithBoolean("active_only", mcp.Description("Only non-terminated records (default: false)")),
	), s.handleSpawnList)

	s.mcpServer.AddTool(mcp.NewTool("lineage_verify",
		mcp.WithDescription("Verify an identity's spawn lineage and report its effective authority."),
		mcp.WithString("identity", mcp.Required(), mcp.Description("Identity id (aid_...)")),
	), s.handleLineageVerify)

	s.mcpServer.AddTool(mcp.NewTool("spawn_authority",
		mcp.WithDescription("Report an identity's effective authority right now."),
		mcp.WithString("identity", mcp.Required(), mcp.Description("Identity id (aid_...)")),
	), s.handleSpawnAuthority)
}

func (s *Server) handleIdentityCreate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	name := argString(args, "name", "default")

	anchor, err := s.rt.CreateIdentity(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"id":         string(anchor.ID()),
		"name":       anchor.Name,
		"public_key": anchor.PublicKeyBase64(),
		"created_at": anchor.CreatedAt,
	})
}

func (s *Server) handleIdentityShow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)

	anchor, err := s.rt.ResolveAnchor(ctx, argString(args, "identity", "default"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := anchor.Document()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(doc)
}

func (s *Server) handleTrustGrant(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)

	caps := argStringSlice(args, "capabilities")
	if len(caps) == 0 {
		return mcp.NewToolResultError("capabilities is required"), nil
	}
	grantee := argString(args, "grantee", "")
	if grantee == "" {
		return mcp.NewToolResultError("grantee is required"), nil
	}

	constraints := trust.Open()
	if secs, ok := argUint64(args, "expires_seconds"); ok {
		now := identity.NowMicros()
		constraints = trust.TimeBounded(now, now+secs*1_000_000)
	}
	if max, ok := argUint64(args, "max_uses"); ok {
		constraints = constraints.WithMaxUses(max)
	}

	req := runtime.GrantRequest{
		Grantor:         argString(args, "identity", "default"),
		Grantee:         identity.ID(grantee),
		GranteeKey:      argString(args, "grantee_key", ""),
		Capabilities:    caps,
		Constraints:     constraints,
		AllowDelegation: argBool(args, "allow_delegation"),
		ParentGrant:     trust.ID(argString(args, "parent_grant", "")),
	}
	if depth, ok := argUint64(args, "max_delegation_depth"); ok {
		req.MaxDelegationDepth = uint32(depth)
	}

	grant, err := s.rt.Grant(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(grant)
}

func (s *Server) handleTrustVerify(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)

	trustID := trust.ID(argString(args, "trust_id", ""))
	if trustID == "" {
		return mcp.NewToolResultError("trust_id is required"), nil
	}
	capabilityURI := argString(args, "capability", "*")

	var (
		v   *trust.Verification
		err error
	)
	if argBool(args, "chain") {
		v, err = s.rt.VerifyChain(ctx, trustID, capabilityURI)
	} else {
		uses, _ := argUint64(args, "uses")
		v, err = s.rt.VerifyGrant(ctx, trustID, capabilityURI, uses)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(v)
}

func (s *Server) handleTrustRevoke(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)

	trustID := trust.ID(argString(args, "trust_id", ""))
	if trustID == "" {
		return mcp.NewToolResultError("trust_id is required"), nil
	}

	revocation, err := s.rt.Revoke(ctx, trustID,
		argString(args, "identity", "default"),
		trust.Reason(argString(args, "reason", string(trust.ReasonManual))))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(revocation)
}

func (s *Server) handleTrustList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)

	direction := store.Direction(argString(args, "direction", string(store.DirectionGranted)))
	grants, err := s.rt.Store().ListGrants(ctx, direction)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(grants)
}

func (s *Server) handleSpawnChild(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)

	authority := argStringSlice(args, "authority")
	if len(authority) == 0 {
		return mcp.NewToolResultError("authority is required"), nil
	}
	purpose := argString(args, "purpose", "")
	if purpose == "" {
		return mcp.NewToolResultError("purpose is required"), nil
	}

	child, record, err := s.rt.Spawn(ctx, runtime.SpawnRequest{
		Parent:    argString(args, "identity", "default"),
		Type:      spawn.Type(argString(args, "spawn_type", string(spawn.TypeWorker))),
		Purpose:   purpose,
		Authority: authority,
		Ceiling:   argStringSlice(args, "ceiling"),
		Lifetime:  parseLifetime(argString(args, "lifetime", "")),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"child_id":   string(child.ID()),
		"child_name": child.Name,
		"record":     record,
	})
}

func (s *Server) handleSpawnTerminate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)

	spawnID := spawn.ID(argString(args, "spawn_id", ""))
	if spawnID == "" {
		return mcp.NewToolResultError("spawn_id is required"), nil
	}

	terminated, err := s.rt.Terminate(ctx, spawnID,
		argString(args, "identity", "default"),
		argString(args, "reason", "terminated"),
		argBool(args, "cascade"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"terminated": terminated,
		"count":      len(terminated),
	})
}

func (s *Server) handleSpawnList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)

	records, err := s.rt.Store().LoadSpawnRecords(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if argBool(args, "active_only") {
		active := records[:0]
		for _, r := range records {
			if !r.Terminated {
				active = append(active, r)
			}
		}
		records = active
	}
	return jsonResult(records)
}

func (s *Server) handleLineageVerify(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)

	id := argString(args, "identity", "")
	if id == "" {
		return mcp.NewToolResultError("identity is required"), nil
	}
	v, err := s.rt.VerifyLineage(ctx, identity.ID(id))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(v)
}

func (s *Server) handleSpawnAuthority(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)

	id := argString(args, "identity", "")
	if id == "" {
		return mcp.NewToolResultError("identity is required"), nil
	}
	authority, err := s.rt.EffectiveAuthority(ctx, identity.ID(id))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"identity":            id,
		"effective_authority": authority,
	})
}

// parseLifetime maps the tool-facing lifetime string to a spawn lifetime:
// "indefinite", "parent_termination", "task:<id>", or seconds.
func parseLifetime(raw string) spawn.Lifetime {
	switch {
	case raw == "" || raw == "indefinite":
		return spawn.Indefinite()
	case raw == "parent_termination":
		return spawn.ParentTermination()
	case strings.HasPrefix(raw, "task:"):
		return spawn.TaskCompletion(strings.TrimPrefix(raw, "task:"))
	default:
		if secs, err := strconv.ParseUint(raw, 10, 64); err == nil {
			return spawn.Duration(secs)
		}
		return spawn.Indefinite()
	}
}

func arguments(request mcp.CallToolRequest) map[string]interface{} {
	args, _ := request.Params.Arguments.(map[string]interface{})
	return args
}

func argString(args map[string]interface{}, key, fallback string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func argBool(args map[string]interface{}, key string) bool {
	v, _ := args[key].(bool)
	return v
}

// argUint64 reads a numeric argument. JSON numbers decode as float64.
func argUint64(args map[string]interface{}, key string) (uint64, bool) {
	switch v := args[key].(type) {
	case float64:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case int:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	default:
		return 0, false
	}
}

func argStringSlice(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}
