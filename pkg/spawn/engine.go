// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package spawn

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/jllopis/aegis/pkg/capability"
	"github.com/jllopis/aegis/pkg/errors"
	"github.com/jllopis/aegis/pkg/identity"
	"github.com/jllopis/aegis/pkg/receipt"
)

// Child spawns a child identity with bounded authority and returns the
// child's anchor, the signed spawn record, and the audit receipt for the
// spawn event.
//
// parentInfo is the parent's own spawn context, nil when the parent is a
// root identity. Roots spawn with no ceiling above them; spawned parents
// are checked against their own ceiling and constraints:
//   - the parent's constraints must allow spawning at all,
//   - every granted and ceiling capability must be covered by the
//     parent's ceiling (authority can only narrow down the tree),
//   - the parent's depth, counted by walking existing upward from its
//     parent, must be below the parent's max spawn depth,
//   - the parent's non-terminated child count must be below its
//     max children.
//
// The child's granted authority must also sit within the child's own
// ceiling, so the record satisfies granted ⊆ ceiling from birth.
func Child(
	parent *identity.Anchor,
	spawnType Type,
	purpose string,
	authorityGranted []capability.Capability,
	authorityCeiling []capability.Capability,
	lifetime Lifetime,
	constraints Constraints,
	parentInfo *Info,
	existing []Record,
) (*identity.Anchor, *Record, *receipt.ActionReceipt, error) {
	if parentInfo != nil {
		if !parentInfo.Constraints.CanSpawn {
			return nil, nil, nil, errors.New(errors.CodeSpawnNotPermitted,
				"parent is not permitted to spawn children", nil)
		}
		for _, cap := range authorityGranted {
			if !capability.Cover(parentInfo.AuthorityCeiling, cap.URI) {
				return nil, nil, nil, errors.Newf(errors.CodeExceedsCeiling,
					"capability %q exceeds the parent's authority ceiling", cap.URI)
			}
		}
		for _, cap := range authorityCeiling {
			if !capability.Cover(parentInfo.AuthorityCeiling, cap.URI) {
				return nil, nil, nil, errors.Newf(errors.CodeExceedsCeiling,
					"ceiling capability %q exceeds the parent's authority ceiling", cap.URI)
			}
		}
		if max := parentInfo.Constraints.MaxSpawnDepth; max != nil {
			// The parent sits one level below its own parent; ancestors
			// above that are counted from the record set.
			depth := uint32(1) + ancestorHops(parentInfo.ParentID, existing)
			if depth >= *max {
				return nil, nil, nil, errors.Newf(errors.CodeDepthExceeded,
					"spawn depth %d reaches max %d", depth, *max)
			}
		}
		if max := parentInfo.Constraints.MaxChildren; max != nil {
			var active uint32
			for _, r := range existing {
				if r.ParentID == parent.ID() && !r.Terminated {
					active++
				}
			}
			if active >= *max {
				return nil, nil, nil, errors.Newf(errors.CodeMaxChildrenExceeded,
					"parent already has %d of %d children", active, *max)
			}
		}
	}
	for _, cap := range authorityGranted {
		if !capability.Cover(authorityCeiling, cap.URI) {
			return nil, nil, nil, errors.Newf(errors.CodeExceedsCeiling,
				"granted capability %q exceeds the child's own ceiling", cap.URI)
		}
	}

	child, err := identity.NewAnchor(fmt.Sprintf("%s:%s", spawnType, purpose))
	if err != nil {
		return nil, nil, nil, err
	}

	now := identity.NowMicros()
	parentID := parent.ID()
	childID := child.ID()

	idSum := sha256.Sum256([]byte(fmt.Sprintf("spawn:%s:%s:%d", parentID, childID, now)))
	spawnID := ID("aspawn_" + hex.EncodeToString(idSum[:16]))

	rec, err := receipt.NewBuilder(parentID, receipt.ActionDelegation,
		receipt.WithData(
			fmt.Sprintf("Spawned %s child: %s", spawnType, purpose),
			map[string]any{
				"spawn_id":          string(spawnID),
				"child_id":          string(childID),
				"spawn_type":        string(spawnType),
				"purpose":           purpose,
				"authority_granted": capability.URIs(authorityGranted),
				"authority_ceiling": capability.URIs(authorityCeiling),
				"lifetime":          string(lifetime.Kind),
			},
		)).Sign(parent)
	if err != nil {
		return nil, nil, nil, err
	}

	record := &Record{
		ID:                  spawnID,
		ParentID:            parentID,
		ParentKey:           parent.PublicKeyBase64(),
		ChildID:             childID,
		ChildKey:            child.PublicKeyBase64(),
		SpawnTimestamp:      now,
		SpawnType:           spawnType,
		SpawnPurpose:        purpose,
		SpawnReceiptID:      rec.ID,
		AuthorityGranted:    authorityGranted,
		AuthorityCeiling:    authorityCeiling,
		Lifetime:            lifetime,
		Constraints:         constraints,
		ParentSignature:     parent.Sign([]byte(signPayload(spawnID, parentID, childID, spawnType, now))),
		ChildAcknowledgment: child.Sign([]byte(ackPayload(spawnID, childID, now))),
	}
	return child, record, rec, nil
}

// ancestorHops counts spawn records walking child_id -> parent_id
// upward from id until no record claims id as a child.
func ancestorHops(id identity.ID, records []Record) uint32 {
	var hops uint32
	current := id
	for {
		r := findByChild(current, records)
		if r == nil {
			return hops
		}
		hops++
		current = r.ParentID
	}
}

func findByChild(id identity.ID, records []Record) *Record {
	for i := range records {
		if records[i].ChildID == id {
			return &records[i]
		}
	}
	return nil
}

// Terminate marks a spawn record terminated. Only the recorded parent
// may terminate. With cascade, every transitive descendant found in all
// is terminated too; sibling subtrees are untouched. Returns the audit
// receipt and the ids of every record terminated.
func Terminate(
	parent *identity.Anchor,
	record *Record,
	reason string,
	cascade bool,
	all []Record,
) (*receipt.ActionReceipt, []ID, error) {
	parentID := parent.ID()
	if parentID != record.ParentID {
		return nil, nil, errors.New(errors.CodeSpawnNotPermitted,
			"only the parent can terminate a spawn", nil)
	}

	now := identity.NowMicros()
	terminated := []ID{record.ID}

	record.Terminated = true
	record.TerminatedAt = &now
	record.TerminationReason = reason

	if cascade {
		cascadeTerminate(record.ChildID, now, reason, all, &terminated)
	}

	rec, err := receipt.NewBuilder(parentID, receipt.ActionRevocation,
		receipt.WithData(
			fmt.Sprintf("Terminated spawn: %s", reason),
			map[string]any{
				"spawn_id":         string(record.ID),
				"child_id":         string(record.ChildID),
				"reason":           reason,
				"cascade":          cascade,
				"terminated_count": len(terminated),
			},
		)).Sign(parent)
	if err != nil {
		return nil, nil, err
	}
	return rec, terminated, nil
}

func cascadeTerminate(parentID identity.ID, now uint64, reason string, all []Record, terminated *[]ID) {
	var childIDs []identity.ID
	for i := range all {
		if all[i].ParentID == parentID && !all[i].Terminated {
			all[i].Terminated = true
			all[i].TerminatedAt = &now
			all[i].TerminationReason = fmt.Sprintf("Cascade from parent: %s", reason)
			*terminated = append(*terminated, all[i].ID)
			childIDs = append(childIDs, all[i].ChildID)
		}
	}
	for _, childID := range childIDs {
		cascadeTerminate(childID, now, reason, all, terminated)
	}
}

// VerifyLineage walks an identity's ancestry back to a root, verifying
// the parent signature on every hop, and reports depth, ancestor
// liveness, and effective authority. An identity with no spawn record is
// a root: valid at depth 0 with full authority.
func VerifyLineage(id identity.ID, records []Record) *LineageVerification {
	now := identity.NowMicros()

	record := findByChild(id, records)
	if record == nil {
		return &LineageVerification{
			Identity:           id,
			LineageValid:       true,
			AllAncestorsActive: true,
			EffectiveAuthority: []capability.Capability{capability.New("*")},
			IsValid:            true,
			VerifiedAt:         now,
		}
	}

	var errs []string
	allActive := true
	signaturesValid := true
	var revokedAncestor identity.ID
	var parentChain []identity.ID

	if err := record.VerifySignature(); err != nil {
		signaturesValid = false
		errs = append(errs, fmt.Sprintf("spawn record %s signature invalid", record.ID))
	}

	current := record.ParentID
	for {
		parentChain = append(parentChain, current)
		pr := findByChild(current, records)
		if pr == nil {
			break
		}
		if err := pr.VerifySignature(); err != nil {
			signaturesValid = false
			errs = append(errs, fmt.Sprintf("ancestor record %s signature invalid", pr.ID))
		}
		if pr.Terminated {
			allActive = false
			if revokedAncestor == "" {
				revokedAncestor = current
			}
			errs = append(errs, fmt.Sprintf("ancestor %s is terminated", current))
		}
		if pr.Lifetime.Expired(pr.SpawnTimestamp) {
			allActive = false
			errs = append(errs, fmt.Sprintf("ancestor %s has expired", current))
		}
		current = pr.ParentID
	}

	lineageValid := signaturesValid && !record.Terminated && allActive
	effective := []capability.Capability{}
	if lineageValid {
		effective = record.AuthorityGranted
	}

	return &LineageVerification{
		Identity:           id,
		LineageValid:       lineageValid,
		AllAncestorsActive: allActive,
		EffectiveAuthority: effective,
		SpawnDepth:         uint32(len(parentChain)),
		RevokedAncestor:    revokedAncestor,
		IsValid:            lineageValid,
		VerifiedAt:         now,
		Errors:             errs,
	}
}

// LineageOf computes an identity's position in the spawn forest: parent
// chain, depth, and sibling ordering by spawn timestamp.
func LineageOf(id identity.ID, records []Record) *Lineage {
	l := &Lineage{Identity: id, RootAncestor: id}

	current := id
	for {
		r := findByChild(current, records)
		if r == nil {
			l.RootAncestor = current
			break
		}
		l.ParentChain = append(l.ParentChain, r.ParentID)
		current = r.ParentID
	}
	l.SpawnDepth = uint32(len(l.ParentChain))

	if own := findByChild(id, records); own != nil {
		siblings := make([]*Record, 0)
		for i := range records {
			if records[i].ParentID == own.ParentID {
				siblings = append(siblings, &records[i])
			}
		}
		sort.Slice(siblings, func(i, j int) bool {
			return siblings[i].SpawnTimestamp < siblings[j].SpawnTimestamp
		})
		for i, s := range siblings {
			if s.ChildID == id {
				l.SiblingIndex = uint32(i)
				break
			}
		}
		l.TotalSiblings = uint32(len(siblings))
	}
	return l
}

// EffectiveAuthority returns what an identity may actually do right now:
// full authority for roots, nothing for terminated or expired spawns,
// and the granted set otherwise. The granted set is already bounded by
// every ancestor's ceiling at creation time, so no intersection pass is
// needed here.
func EffectiveAuthority(id identity.ID, records []Record) []capability.Capability {
	r := findByChild(id, records)
	if r == nil {
		return []capability.Capability{capability.New("*")}
	}
	if r.Terminated || r.Lifetime.Expired(r.SpawnTimestamp) {
		return nil
	}
	return r.AuthorityGranted
}

// Ancestors returns an identity's ancestors from direct parent to root.
func Ancestors(id identity.ID, records []Record) []identity.ID {
	var ancestors []identity.ID
	current := id
	for {
		r := findByChild(current, records)
		if r == nil {
			return ancestors
		}
		ancestors = append(ancestors, r.ParentID)
		current = r.ParentID
	}
}

// ChildrenOf returns the direct children of an identity.
func ChildrenOf(id identity.ID, records []Record) []identity.ID {
	var children []identity.ID
	for i := range records {
		if records[i].ParentID == id {
			children = append(children, records[i].ChildID)
		}
	}
	return children
}

// Descendants returns all transitive descendants of an identity.
func Descendants(id identity.ID, records []Record) []identity.ID {
	var descendants []identity.ID
	queue := []identity.ID{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, child := range ChildrenOf(current, records) {
			descendants = append(descendants, child)
			queue = append(queue, child)
		}
	}
	return descendants
}

// CanSpawn reports whether a parent with the given spawn context could
// spawn a child with the proposed authority. children is the parent's
// current direct-children record set. Roots can spawn anything.
func CanSpawn(parentInfo *Info, proposed []capability.Capability, children []Record) bool {
	if parentInfo == nil {
		return true
	}
	if !parentInfo.Constraints.CanSpawn {
		return false
	}
	if max := parentInfo.Constraints.MaxChildren; max != nil {
		var active uint32
		for _, r := range children {
			if !r.Terminated {
				active++
			}
		}
		if active >= *max {
			return false
		}
	}
	for _, cap := range proposed {
		if !capability.Cover(parentInfo.AuthorityCeiling, cap.URI) {
			return false
		}
	}
	return true
}
