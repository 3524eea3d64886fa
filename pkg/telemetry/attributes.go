// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic conventions for aegis telemetry. These follow OpenTelemetry
// naming conventions where applicable.
const (
	// Identity attributes
	AttrIdentityID   = "aegis.identity.id"
	AttrIdentityName = "aegis.identity.name"

	// Grant attributes
	AttrGrantID        = "aegis.grant.id"
	AttrGrantGrantor   = "aegis.grant.grantor"
	AttrGrantGrantee   = "aegis.grant.grantee"
	AttrGrantDelegated = "aegis.grant.delegated"
	AttrGrantDepth     = "aegis.grant.delegation_depth"
	AttrGrantCapCount  = "aegis.grant.capability_count"

	// Verification attributes
	AttrVerificationKind  = "aegis.verification.kind" // "grant", "chain", "lineage"
	AttrVerificationValid = "aegis.verification.valid"
	AttrVerifiedCap       = "aegis.verification.capability"
	AttrChainLength       = "aegis.chain.length"

	// Revocation attributes
	AttrRevocationID     = "aegis.revocation.id"
	AttrRevocationReason = "aegis.revocation.reason"

	// Spawn attributes
	AttrSpawnID      = "aegis.spawn.id"
	AttrSpawnType    = "aegis.spawn.type"
	AttrSpawnParent  = "aegis.spawn.parent"
	AttrSpawnChild   = "aegis.spawn.child"
	AttrSpawnDepth   = "aegis.spawn.depth"
	AttrSpawnCascade = "aegis.spawn.cascade"

	// Receipt attributes
	AttrReceiptID     = "aegis.receipt.id"
	AttrReceiptAction = "aegis.receipt.action_type"
	AttrReceiptActor  = "aegis.receipt.actor"

	// Store attributes
	AttrStoreTable = "aegis.store.table"
)

// GrantAttributes returns common attributes for grant issuance spans.
func GrantAttributes(grantID, grantor, grantee string, capCount int, delegated bool) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrGrantID, grantID),
		attribute.String(AttrGrantGrantor, grantor),
		attribute.String(AttrGrantGrantee, grantee),
		attribute.Int(AttrGrantCapCount, capCount),
	}
	if delegated {
		attrs = append(attrs, attribute.Bool(AttrGrantDelegated, true))
	}
	return attrs
}

// VerificationAttributes returns attributes for verification spans.
// capability is empty for verifications not scoped to a single capability.
func VerificationAttributes(kind string, valid bool, capability string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrVerificationKind, kind),
		attribute.Bool(AttrVerificationValid, valid),
	}
	if capability != "" {
		attrs = append(attrs, attribute.String(AttrVerifiedCap, capability))
	}
	return attrs
}

// ChainAttributes returns attributes for delegation chain verification spans.
func ChainAttributes(length int, valid bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrChainLength, length),
		attribute.Bool(AttrVerificationValid, valid),
	}
}

// RevocationAttributes returns attributes for revocation spans.
func RevocationAttributes(revocationID, grantID, reason string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrRevocationID, revocationID),
		attribute.String(AttrGrantID, grantID),
	}
	if reason != "" {
		attrs = append(attrs, attribute.String(AttrRevocationReason, reason))
	}
	return attrs
}

// SpawnAttributes returns attributes for spawn and termination spans.
func SpawnAttributes(spawnID, parent, child, spawnType string, depth uint32) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrSpawnID, spawnID),
		attribute.String(AttrSpawnParent, parent),
		attribute.String(AttrSpawnChild, child),
	}
	if spawnType != "" {
		attrs = append(attrs, attribute.String(AttrSpawnType, spawnType))
	}
	if depth > 0 {
		attrs = append(attrs, attribute.Int(AttrSpawnDepth, int(depth)))
	}
	return attrs
}

// ReceiptAttributes returns attributes for receipt recording spans.
func ReceiptAttributes(receiptID, actor, actionType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrReceiptID, receiptID),
		attribute.String(AttrReceiptActor, actor),
		attribute.String(AttrReceiptAction, actionType),
	}
}
