// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package spawn implements bounded identity inheritance: a parent
// identity creates child identities whose authority can never exceed an
// explicit ceiling, recursively down the lineage tree. Termination
// cascades through a subtree without touching sibling branches.
package spawn

import (
	"fmt"

	"github.com/jllopis/aegis/pkg/capability"
	"github.com/jllopis/aegis/pkg/identity"
	"github.com/jllopis/aegis/pkg/receipt"
)

// ID is the unique identifier of a spawn record.
// Format: "aspawn_" + hex of the first 16 bytes of SHA-256 over the
// parent id, child id, and spawn timestamp.
type ID string

// Type classifies a spawned identity. The closed set below covers the
// built-in kinds; any other non-empty string is a custom type.
type Type string

const (
	// TypeWorker is a temporary, task-specific worker.
	TypeWorker Type = "worker"
	// TypeDelegate acts on behalf of the parent with delegated authority.
	TypeDelegate Type = "delegate"
	// TypeClone carries a full copy of the parent's authority, within the
	// ceiling.
	TypeClone Type = "clone"
	// TypeSpecialist carries a capability subset for a specific domain.
	TypeSpecialist Type = "specialist"
)

// LifetimeKind tags the lifetime variants.
type LifetimeKind string

const (
	LifetimeIndefinite        LifetimeKind = "indefinite"
	LifetimeDuration          LifetimeKind = "duration"
	LifetimeUntil             LifetimeKind = "until"
	LifetimeTaskCompletion    LifetimeKind = "task_completion"
	LifetimeParentTermination LifetimeKind = "parent_termination"
)

// Lifetime bounds how long a spawned identity lives. Only the field
// matching Kind is meaningful.
type Lifetime struct {
	Kind LifetimeKind `json:"kind"`
	// Seconds is the duration for LifetimeDuration.
	Seconds uint64 `json:"seconds,omitempty"`
	// Timestamp is the expiry for LifetimeUntil (microseconds since epoch).
	Timestamp uint64 `json:"timestamp,omitempty"`
	// TaskID names the task for LifetimeTaskCompletion.
	TaskID string `json:"task_id,omitempty"`
}

// Indefinite returns a lifetime with no expiration.
func Indefinite() Lifetime { return Lifetime{Kind: LifetimeIndefinite} }

// Duration returns a lifetime expiring the given number of seconds after
// the spawn timestamp.
func Duration(seconds uint64) Lifetime {
	return Lifetime{Kind: LifetimeDuration, Seconds: seconds}
}

// Until returns a lifetime expiring at a specific timestamp.
func Until(timestamp uint64) Lifetime {
	return Lifetime{Kind: LifetimeUntil, Timestamp: timestamp}
}

// TaskCompletion returns a lifetime ending when the named task completes.
func TaskCompletion(taskID string) Lifetime {
	return Lifetime{Kind: LifetimeTaskCompletion, TaskID: taskID}
}

// ParentTermination returns a lifetime ending when the parent terminates.
func ParentTermination() Lifetime {
	return Lifetime{Kind: LifetimeParentTermination}
}

// Expired reports whether the lifetime has lapsed for a spawn created at
// spawnTimestamp. Task completion and parent termination cannot be
// decided from timestamps alone and report false here; they are resolved
// by the lineage walk.
func (l Lifetime) Expired(spawnTimestamp uint64) bool {
	now := identity.NowMicros()
	switch l.Kind {
	case LifetimeDuration:
		return now > spawnTimestamp+l.Seconds*1_000_000
	case LifetimeUntil:
		return now > l.Timestamp
	default:
		return false
	}
}

// Constraints bound what a spawned identity may do with further spawning.
type Constraints struct {
	// MaxSpawnDepth caps the depth of the spawn tree below the root.
	// Nil means unlimited.
	MaxSpawnDepth *uint32 `json:"max_spawn_depth,omitempty"`
	// MaxChildren caps the number of non-terminated direct children.
	// Nil means unlimited.
	MaxChildren *uint32 `json:"max_children,omitempty"`
	// MaxDescendants caps the total descendant count. Nil means unlimited.
	MaxDescendants *uint64 `json:"max_descendants,omitempty"`
	// CanSpawn permits this identity to spawn children of its own.
	CanSpawn bool `json:"can_spawn"`
	// AuthorityDecay is an optional per-generation decay factor in (0, 1],
	// advisory for callers that scale authority down the tree. It never
	// participates in signed payloads.
	AuthorityDecay *float32 `json:"authority_decay,omitempty"`
}

// DefaultConstraints returns the standard spawn constraints: depth
// capped at 10, spawning allowed, no fan-out or descendant limits.
func DefaultConstraints() Constraints {
	depth := uint32(10)
	return Constraints{MaxSpawnDepth: &depth, CanSpawn: true}
}

// Record is the signed record of one child identity being spawned. It is
// mutated exactly once, by termination; every other field is fixed at
// creation.
type Record struct {
	ID             ID          `json:"id"`
	ParentID       identity.ID `json:"parent_id"`
	ParentKey      string      `json:"parent_key"`
	ChildID        identity.ID `json:"child_id"`
	ChildKey       string      `json:"child_key"`
	SpawnTimestamp uint64      `json:"spawn_timestamp"`
	SpawnType      Type        `json:"spawn_type"`
	SpawnPurpose   string      `json:"spawn_purpose"`
	SpawnReceiptID receipt.ID  `json:"spawn_receipt_id"`

	// AuthorityGranted is what the child may actually do. Always a subset
	// of AuthorityCeiling.
	AuthorityGranted []capability.Capability `json:"authority_granted"`
	// AuthorityCeiling is the most the child may ever grant onward. Never
	// widened after creation.
	AuthorityCeiling []capability.Capability `json:"authority_ceiling"`

	Lifetime    Lifetime    `json:"lifetime"`
	Constraints Constraints `json:"constraints"`

	ParentSignature     string  `json:"parent_signature"`
	ChildAcknowledgment string  `json:"child_acknowledgment,omitempty"`
	Terminated          bool    `json:"terminated"`
	TerminatedAt        *uint64 `json:"terminated_at,omitempty"`
	TerminationReason   string  `json:"termination_reason,omitempty"`
}

func signPayload(id ID, parent, child identity.ID, typ Type, ts uint64) string {
	return fmt.Sprintf("spawn:%s:%s:%s:%s:%d", id, parent, child, typ, ts)
}

func ackPayload(id ID, child identity.ID, ts uint64) string {
	return fmt.Sprintf("ack:%s:%s:%d", id, child, ts)
}

// VerifySignature checks the parent's signature binding the record's
// identity fields.
func (r *Record) VerifySignature() error {
	payload := signPayload(r.ID, r.ParentID, r.ChildID, r.SpawnType, r.SpawnTimestamp)
	return identity.VerifyBase64(r.ParentKey, []byte(payload), r.ParentSignature)
}

// VerifyAcknowledgment checks the child's acknowledgment signature.
func (r *Record) VerifyAcknowledgment() error {
	payload := ackPayload(r.ID, r.ChildID, r.SpawnTimestamp)
	return identity.VerifyBase64(r.ChildKey, []byte(payload), r.ChildAcknowledgment)
}

// Info returns the spawn context to attach to the child identity. A
// child passes its Info as parentInfo when it spawns children of its
// own.
func (r *Record) Info() *Info {
	return &Info{
		SpawnID:          r.ID,
		ParentID:         r.ParentID,
		SpawnType:        r.SpawnType,
		SpawnTimestamp:   r.SpawnTimestamp,
		AuthorityCeiling: r.AuthorityCeiling,
		Lifetime:         r.Lifetime,
		Constraints:      r.Constraints,
	}
}

// Info is the spawn context attached to a spawned identity: everything
// the spawn engine needs to bound that identity's own spawning.
type Info struct {
	SpawnID          ID                      `json:"spawn_id"`
	ParentID         identity.ID             `json:"parent_id"`
	SpawnType        Type                    `json:"spawn_type"`
	SpawnTimestamp   uint64                  `json:"spawn_timestamp"`
	AuthorityCeiling []capability.Capability `json:"authority_ceiling"`
	Lifetime         Lifetime                `json:"lifetime"`
	Constraints      Constraints             `json:"constraints"`
}

// Lineage describes an identity's position in the spawn forest.
type Lineage struct {
	Identity identity.ID `json:"identity"`
	// RootAncestor is the non-spawned identity at the top of the chain.
	RootAncestor identity.ID `json:"root_ancestor"`
	// ParentChain lists ancestors from direct parent to root.
	ParentChain []identity.ID `json:"parent_chain"`
	SpawnDepth  uint32        `json:"spawn_depth"`
	// SiblingIndex is this identity's position among its parent's
	// children, ordered by spawn timestamp.
	SiblingIndex  uint32 `json:"sibling_index"`
	TotalSiblings uint32 `json:"total_siblings"`
}

// LineageVerification is the result of verifying an identity's lineage.
type LineageVerification struct {
	Identity identity.ID `json:"identity"`
	// LineageValid is true when every hop up to the root carries a valid
	// parent signature and the identity's own record is not terminated.
	LineageValid bool `json:"lineage_valid"`
	// AllAncestorsActive is true when no ancestor is terminated or expired.
	AllAncestorsActive bool `json:"all_ancestors_active"`
	// EffectiveAuthority is the identity's usable authority; empty when
	// the lineage is invalid.
	EffectiveAuthority []capability.Capability `json:"effective_authority"`
	SpawnDepth         uint32                  `json:"spawn_depth"`
	// RevokedAncestor names the first terminated ancestor found, if any.
	RevokedAncestor identity.ID `json:"revoked_ancestor,omitempty"`
	IsValid         bool        `json:"is_valid"`
	VerifiedAt      uint64      `json:"verified_at"`
	Errors          []string    `json:"errors,omitempty"`
}
