// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package runtime ties the aegis core packages to persistence: it loads
// identities from the store, runs trust and spawn operations against
// them, and records the receipts and audit events those operations
// produce. The CLI and the MCP server are both thin layers over it.
package runtime

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/aegis/pkg/capability"
	"github.com/jllopis/aegis/pkg/errors"
	"github.com/jllopis/aegis/pkg/identity"
	"github.com/jllopis/aegis/pkg/receipt"
	"github.com/jllopis/aegis/pkg/spawn"
	"github.com/jllopis/aegis/pkg/store"
	"github.com/jllopis/aegis/pkg/telemetry"
	"github.com/jllopis/aegis/pkg/trust"
)

// Runtime executes aegis operations over a store.
type Runtime struct {
	store   *store.Store
	metrics *telemetry.Metrics
	tracer  trace.Tracer

	sweepInterval time.Duration
	sweepTimeout  time.Duration
	sweepCancel   context.CancelFunc
	sweepDone     chan struct{}
}

// Option configures the runtime.
type Option func(*Runtime)

// WithMetrics attaches domain metrics. Nil metrics are a no-op.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Runtime) {
		r.metrics = m
	}
}

// WithLifetimeSweepInterval enables the background sweeper that
// terminates spawns whose lifetime has lapsed. Zero disables it.
func WithLifetimeSweepInterval(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.sweepInterval = d
		}
	}
}

// WithLifetimeSweepTimeout bounds each sweep pass.
func WithLifetimeSweepTimeout(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.sweepTimeout = d
		}
	}
}

// New creates a runtime over the given store.
func New(st *store.Store, opts ...Option) *Runtime {
	r := &Runtime{
		store:  st,
		tracer: otel.Tracer("aegis/runtime"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store exposes the underlying store for read-side queries that need no
// orchestration.
func (r *Runtime) Store() *store.Store {
	return r.store
}

// CreateIdentity creates and persists a new root identity.
func (r *Runtime) CreateIdentity(ctx context.Context, name string) (*identity.Anchor, error) {
	ctx, span := r.tracer.Start(ctx, "runtime.identity.create")
	defer span.End()

	anchor, err := identity.NewAnchor(name)
	if err != nil {
		r.metrics.RecordError(ctx, err, "runtime")
		return nil, err
	}
	if err := r.store.SaveIdentity(ctx, anchor); err != nil {
		r.metrics.RecordError(ctx, err, "runtime")
		return nil, err
	}
	if _, err := r.store.AppendAuditEvent(ctx, "identity.created", string(anchor.ID()),
		map[string]any{"name": name}); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String(telemetry.AttrIdentityID, string(anchor.ID())))
	slog.InfoContext(ctx, "runtime.identity.created",
		slog.String("id", string(anchor.ID())),
		slog.String("name", name),
	)
	return anchor, nil
}

// ResolveAnchor loads an identity by id (aid_...) or by name and
// reconstructs its signing anchor.
func (r *Runtime) ResolveAnchor(ctx context.Context, ref string) (*identity.Anchor, error) {
	var (
		rec *store.Identity
		err error
	)
	if strings.HasPrefix(ref, "aid_") {
		rec, err = r.store.LoadIdentity(ctx, identity.ID(ref))
	} else {
		rec, err = r.store.LoadIdentityByName(ctx, ref)
	}
	if err != nil {
		return nil, err
	}
	return rec.Anchor()
}

// RotateIdentity rotates an identity's key and persists the successor
// anchor. The old anchor stays stored under its own id; grants signed by
// it remain verifiable.
func (r *Runtime) RotateIdentity(ctx context.Context, ref string, reason identity.RotationReason) (*identity.Anchor, error) {
	ctx, span := r.tracer.Start(ctx, "runtime.identity.rotate")
	defer span.End()

	anchor, err := r.ResolveAnchor(ctx, ref)
	if err != nil {
		return nil, err
	}
	rotated, err := anchor.Rotate(reason)
	if err != nil {
		r.metrics.RecordError(ctx, err, "runtime")
		return nil, err
	}
	if err := r.store.SaveIdentity(ctx, rotated); err != nil {
		r.metrics.RecordError(ctx, err, "runtime")
		return nil, err
	}
	if _, err := r.store.AppendAuditEvent(ctx, "identity.rotated", string(rotated.ID()),
		map[string]any{"previous": string(anchor.ID()), "reason": string(reason)}); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "runtime.identity.rotated",
		slog.String("previous", string(anchor.ID())),
		slog.String("id", string(rotated.ID())),
		slog.String("reason", string(reason)),
	)
	return rotated, nil
}

// GrantRequest describes a trust grant to issue.
type GrantRequest struct {
	// Grantor is an identity name or id resolvable in the store.
	Grantor string
	Grantee identity.ID
	// GranteeKey is the grantee's base64 public key. Optional when the
	// grantee identity is stored locally.
	GranteeKey   string
	Capabilities []string
	Constraints  trust.Constraints
	// AllowDelegation permits onward delegation up to MaxDelegationDepth.
	AllowDelegation    bool
	MaxDelegationDepth uint32
	// ParentGrant makes this a delegated grant descending from it.
	ParentGrant trust.ID
	Witnesses   []identity.ID
}

// Grant issues (and persists) a signed trust grant. Delegated grants are
// validated against their parent before signing.
func (r *Runtime) Grant(ctx context.Context, req GrantRequest) (*trust.Grant, error) {
	ctx, span := r.tracer.Start(ctx, "runtime.trust.grant")
	defer span.End()

	grantor, err := r.ResolveAnchor(ctx, req.Grantor)
	if err != nil {
		return nil, err
	}

	granteeKey := req.GranteeKey
	if granteeKey == "" {
		rec, err := r.store.LoadIdentity(ctx, req.Grantee)
		if err != nil {
			return nil, errors.Newf(errors.CodeInvalidInput,
				"grantee %s is not stored locally; a grantee key is required", req.Grantee)
		}
		anchor, err := rec.Anchor()
		if err != nil {
			return nil, err
		}
		granteeKey = anchor.PublicKeyBase64()
	}

	caps := make([]capability.Capability, 0, len(req.Capabilities))
	for _, uri := range req.Capabilities {
		caps = append(caps, capability.New(uri))
	}

	builder := trust.NewGrantBuilder(grantor.ID(), req.Grantee, granteeKey).
		Capabilities(caps...).
		Constraints(req.Constraints)
	if req.AllowDelegation {
		builder.AllowDelegation(req.MaxDelegationDepth)
	}
	if len(req.Witnesses) > 0 {
		builder.RevocationWitnesses(req.Witnesses...)
	}
	if req.ParentGrant != "" {
		parent, err := r.store.LoadGrant(ctx, req.ParentGrant)
		if err != nil {
			return nil, err
		}
		if err := trust.ValidateDelegation(parent, caps); err != nil {
			r.metrics.RecordError(ctx, err, "runtime")
			return nil, err
		}
		builder.DelegatedFrom(parent.ID, parent.DelegationDepth+1)
	}

	grant, err := builder.Sign(grantor)
	if err != nil {
		r.metrics.RecordError(ctx, err, "runtime")
		return nil, err
	}

	if err := r.store.SaveGrant(ctx, grant, store.DirectionGranted); err != nil {
		return nil, err
	}
	// A grantee held in the same store sees the grant on its received side.
	if _, err := r.store.LoadIdentity(ctx, req.Grantee); err == nil {
		if err := r.store.SaveGrant(ctx, grant, store.DirectionReceived); err != nil {
			return nil, err
		}
	}

	rec, err := receipt.NewBuilder(grantor.ID(), receipt.ActionDelegation,
		receipt.WithData("Granted trust", map[string]any{
			"trust_id":     string(grant.ID),
			"grantee":      string(grant.Grantee),
			"capabilities": req.Capabilities,
		})).Sign(grantor)
	if err != nil {
		return nil, err
	}
	if err := r.store.SaveReceipt(ctx, rec); err != nil {
		return nil, err
	}
	if _, err := r.store.AppendAuditEvent(ctx, "trust.granted", string(grant.ID),
		map[string]any{"grantor": string(grant.Grantor), "grantee": string(grant.Grantee)}); err != nil {
		return nil, err
	}

	r.metrics.RecordGrant(ctx, grant.ParentGrant != "")
	r.metrics.RecordReceipt(ctx, string(rec.Type))
	span.SetAttributes(telemetry.GrantAttributes(
		string(grant.ID), string(grant.Grantor), string(grant.Grantee),
		len(grant.Capabilities), grant.ParentGrant != "")...)
	slog.InfoContext(ctx, "runtime.trust.granted",
		slog.String("trust_id", string(grant.ID)),
		slog.String("grantor", string(grant.Grantor)),
		slog.String("grantee", string(grant.Grantee)),
	)
	return grant, nil
}

// VerifyGrant verifies one stored grant for a capability right now.
func (r *Runtime) VerifyGrant(ctx context.Context, id trust.ID, capabilityURI string, currentUses uint64) (*trust.Verification, error) {
	ctx, span := r.tracer.Start(ctx, "runtime.trust.verify")
	defer span.End()

	grant, err := r.store.LoadGrant(ctx, id)
	if err != nil {
		return nil, err
	}
	revocations, err := r.store.ListRevocations(ctx)
	if err != nil {
		return nil, err
	}

	v := trust.VerifyGrant(grant, capabilityURI, currentUses, revocations)
	r.metrics.RecordVerification(ctx, "grant", v.IsValid)
	span.SetAttributes(telemetry.VerificationAttributes("grant", v.IsValid, capabilityURI)...)
	return v, nil
}

// VerifyChain reassembles the delegation chain above a leaf grant and
// verifies the whole of it for a capability.
func (r *Runtime) VerifyChain(ctx context.Context, leaf trust.ID, capabilityURI string) (*trust.Verification, error) {
	ctx, span := r.tracer.Start(ctx, "runtime.trust.verify_chain")
	defer span.End()

	// Walk leaf -> root, then reverse into root-first order.
	var reversed []*trust.Grant
	next := leaf
	for next != "" {
		g, err := r.store.LoadGrant(ctx, next)
		if err != nil {
			return nil, err
		}
		reversed = append(reversed, g)
		next = g.ParentGrant
	}
	chain := make([]*trust.Grant, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		chain = append(chain, reversed[i])
	}

	revocations, err := r.store.ListRevocations(ctx)
	if err != nil {
		return nil, err
	}

	v, err := trust.VerifyChain(chain, capabilityURI, revocations)
	if err != nil {
		r.metrics.RecordError(ctx, err, "runtime")
		return nil, err
	}
	r.metrics.RecordVerification(ctx, "chain", v.IsValid)
	span.SetAttributes(telemetry.ChainAttributes(len(chain), v.IsValid)...)
	return v, nil
}

// Revoke revokes a stored grant and persists the revocation.
func (r *Runtime) Revoke(ctx context.Context, id trust.ID, revokerRef string, reason trust.Reason) (*trust.Revocation, error) {
	ctx, span := r.tracer.Start(ctx, "runtime.trust.revoke")
	defer span.End()

	if _, err := r.store.LoadGrant(ctx, id); err != nil {
		return nil, err
	}
	revoker, err := r.ResolveAnchor(ctx, revokerRef)
	if err != nil {
		return nil, err
	}

	revocation := trust.NewRevocation(id, revoker, reason)
	if err := r.store.SaveRevocation(ctx, revocation); err != nil {
		return nil, err
	}

	rec, err := receipt.NewBuilder(revoker.ID(), receipt.ActionRevocation,
		receipt.WithData("Revoked trust", map[string]any{
			"trust_id": string(id),
			"reason":   string(reason),
		})).Sign(revoker)
	if err != nil {
		return nil, err
	}
	if err := r.store.SaveReceipt(ctx, rec); err != nil {
		return nil, err
	}
	if _, err := r.store.AppendAuditEvent(ctx, "trust.revoked", string(id),
		map[string]any{"revoker": string(revoker.ID()), "reason": string(reason)}); err != nil {
		return nil, err
	}

	r.metrics.RecordRevocation(ctx, string(reason))
	r.metrics.RecordReceipt(ctx, string(rec.Type))
	span.SetAttributes(telemetry.RevocationAttributes(string(id), string(id), string(reason))...)
	slog.InfoContext(ctx, "runtime.trust.revoked",
		slog.String("trust_id", string(id)),
		slog.String("revoker", string(revoker.ID())),
		slog.String("reason", string(reason)),
	)
	return revocation, nil
}

// SpawnRequest describes a child identity to spawn.
type SpawnRequest struct {
	// Parent is an identity name or id resolvable in the store.
	Parent  string
	Type    spawn.Type
	Purpose string
	// Authority is the capability set granted to the child.
	Authority []string
	// Ceiling bounds what the child may ever grant onward. Defaults to
	// Authority.
	Ceiling  []string
	Lifetime spawn.Lifetime
	// Constraints default to spawn.DefaultConstraints.
	Constraints *spawn.Constraints
}

// Spawn creates a child identity with bounded authority and persists the
// child anchor, the spawn record, and the spawn receipt.
func (r *Runtime) Spawn(ctx context.Context, req SpawnRequest) (*identity.Anchor, *spawn.Record, error) {
	ctx, span := r.tracer.Start(ctx, "runtime.spawn.create")
	defer span.End()

	parent, err := r.ResolveAnchor(ctx, req.Parent)
	if err != nil {
		return nil, nil, err
	}
	records, err := r.store.LoadSpawnRecords(ctx)
	if err != nil {
		return nil, nil, err
	}

	var parentInfo *spawn.Info
	for i := range records {
		if records[i].ChildID == parent.ID() {
			parentInfo = records[i].Info()
			break
		}
	}

	granted := make([]capability.Capability, 0, len(req.Authority))
	for _, uri := range req.Authority {
		granted = append(granted, capability.New(uri))
	}
	ceilingURIs := req.Ceiling
	if len(ceilingURIs) == 0 {
		ceilingURIs = req.Authority
	}
	ceiling := make([]capability.Capability, 0, len(ceilingURIs))
	for _, uri := range ceilingURIs {
		ceiling = append(ceiling, capability.New(uri))
	}

	lifetime := req.Lifetime
	if lifetime.Kind == "" {
		lifetime = spawn.Indefinite()
	}
	constraints := spawn.DefaultConstraints()
	if req.Constraints != nil {
		constraints = *req.Constraints
	}

	child, record, rec, err := spawn.Child(parent, req.Type, req.Purpose,
		granted, ceiling, lifetime, constraints, parentInfo, records)
	if err != nil {
		r.metrics.RecordError(ctx, err, "runtime")
		return nil, nil, err
	}

	if err := r.store.SaveIdentity(ctx, child); err != nil {
		return nil, nil, err
	}
	if err := r.store.SaveSpawnRecord(ctx, record); err != nil {
		return nil, nil, err
	}
	if err := r.store.SaveReceipt(ctx, rec); err != nil {
		return nil, nil, err
	}
	if _, err := r.store.AppendAuditEvent(ctx, "spawn.created", string(record.ID),
		map[string]any{"parent": string(record.ParentID), "child": string(record.ChildID)}); err != nil {
		return nil, nil, err
	}

	depth := uint32(len(spawn.Ancestors(parent.ID(), records))) + 1
	r.metrics.RecordSpawn(ctx, string(record.SpawnType), depth)
	r.metrics.RecordReceipt(ctx, string(rec.Type))
	span.SetAttributes(telemetry.SpawnAttributes(
		string(record.ID), string(record.ParentID), string(record.ChildID),
		string(record.SpawnType), depth)...)
	slog.InfoContext(ctx, "runtime.spawn.created",
		slog.String("spawn_id", string(record.ID)),
		slog.String("parent", string(record.ParentID)),
		slog.String("child", string(record.ChildID)),
		slog.String("type", string(record.SpawnType)),
	)
	return child, record, nil
}

// Terminate terminates a spawn record, optionally cascading through its
// descendants, and persists every record touched. Returns the terminated
// record ids.
func (r *Runtime) Terminate(ctx context.Context, id spawn.ID, parentRef, reason string, cascade bool) ([]spawn.ID, error) {
	ctx, span := r.tracer.Start(ctx, "runtime.spawn.terminate")
	defer span.End()

	parent, err := r.ResolveAnchor(ctx, parentRef)
	if err != nil {
		return nil, err
	}
	records, err := r.store.LoadSpawnRecords(ctx)
	if err != nil {
		return nil, err
	}

	var target *spawn.Record
	for i := range records {
		if records[i].ID == id {
			target = &records[i]
			break
		}
	}
	if target == nil {
		return nil, errors.Newf(errors.CodeNotFound, "spawn record %s not found", id)
	}

	rec, terminated, err := spawn.Terminate(parent, target, reason, cascade, records)
	if err != nil {
		r.metrics.RecordError(ctx, err, "runtime")
		return nil, err
	}

	// Cascade mutates records in place; persist every record terminated.
	for _, tid := range terminated {
		for i := range records {
			if records[i].ID == tid {
				if err := r.store.SaveSpawnRecord(ctx, &records[i]); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := r.store.SaveReceipt(ctx, rec); err != nil {
		return nil, err
	}
	if _, err := r.store.AppendAuditEvent(ctx, "spawn.terminated", string(id),
		map[string]any{"reason": reason, "cascade": cascade, "count": len(terminated)}); err != nil {
		return nil, err
	}

	r.metrics.RecordTermination(ctx, cascade, int64(len(terminated)))
	r.metrics.RecordReceipt(ctx, string(rec.Type))
	span.SetAttributes(
		attribute.String(telemetry.AttrSpawnID, string(id)),
		attribute.Bool(telemetry.AttrSpawnCascade, cascade),
		attribute.Int("terminated", len(terminated)),
	)
	slog.InfoContext(ctx, "runtime.spawn.terminated",
		slog.String("spawn_id", string(id)),
		slog.String("reason", reason),
		slog.Bool("cascade", cascade),
		slog.Int("count", len(terminated)),
	)
	return terminated, nil
}

// VerifyLineage verifies an identity's spawn lineage against the stored
// record set.
func (r *Runtime) VerifyLineage(ctx context.Context, id identity.ID) (*spawn.LineageVerification, error) {
	ctx, span := r.tracer.Start(ctx, "runtime.spawn.verify_lineage")
	defer span.End()

	records, err := r.store.LoadSpawnRecords(ctx)
	if err != nil {
		return nil, err
	}
	v := spawn.VerifyLineage(id, records)
	r.metrics.RecordVerification(ctx, "lineage", v.IsValid)
	span.SetAttributes(telemetry.VerificationAttributes("lineage", v.IsValid, "")...)
	return v, nil
}

// Lineage reports an identity's position in the spawn forest.
func (r *Runtime) Lineage(ctx context.Context, id identity.ID) (*spawn.Lineage, error) {
	records, err := r.store.LoadSpawnRecords(ctx)
	if err != nil {
		return nil, err
	}
	return spawn.LineageOf(id, records), nil
}

// EffectiveAuthority reports what an identity may do right now.
func (r *Runtime) EffectiveAuthority(ctx context.Context, id identity.ID) ([]capability.Capability, error) {
	records, err := r.store.LoadSpawnRecords(ctx)
	if err != nil {
		return nil, err
	}
	return spawn.EffectiveAuthority(id, records), nil
}
