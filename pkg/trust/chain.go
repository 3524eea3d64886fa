// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package trust

import (
	"github.com/jllopis/aegis/pkg/capability"
	"github.com/jllopis/aegis/pkg/errors"
	"github.com/jllopis/aegis/pkg/identity"
)

// VerifyChain verifies a delegation chain for a specific capability.
//
// chain is ordered root to leaf: chain[0] is the root grant (A→B),
// chain[1] the first delegation (B→C), and so on.
//
// Structural defects (an empty chain, broken parent linkage, a
// delegation under a non-delegating grant, or a depth past the parent's
// maximum) make the chain impossible to ever satisfy and are returned
// as a hard error with no partial result.
//
// Everything else is point-in-time and lands on the Verification record:
// per-link signatures, time windows, revocation (a revoked link anywhere
// poisons the whole chain, root included), and capability coverage.
// Every link must cover the request, so scope can only narrow as
// delegation descends.
func VerifyChain(chain []*Grant, requestedCapability string, revocations []Revocation) (*Verification, error) {
	now := identity.NowMicros()

	if len(chain) == 0 {
		return nil, errors.New(errors.CodeInvalidChain, "chain is empty", nil)
	}

	v := &Verification{
		SignatureValid:    true,
		TimeValid:         true,
		NotRevoked:        true,
		UsesValid:         true, // use counting is per-grant, handled by VerifyGrant
		CapabilityGranted: true,
		TrustChain:        make([]ID, 0, len(chain)),
		VerifiedAt:        now,
	}

	for i, grant := range chain {
		v.TrustChain = append(v.TrustChain, grant.ID)

		if grant.VerifySignature() != nil {
			v.SignatureValid = false
		}
		if !grant.Constraints.TimeValid(now) {
			v.TimeValid = false
		}
		if Revokes(revocations, grant.ID) {
			v.NotRevoked = false
		}
		if !capability.Cover(grant.Capabilities, requestedCapability) {
			v.CapabilityGranted = false
		}

		if i == 0 {
			continue
		}
		parent := chain[i-1]

		if grant.ParentGrant != parent.ID {
			return nil, errors.Newf(errors.CodeInvalidChain,
				"link %d does not descend from link %d", i, i-1).
				WithContext("parent_grant", string(grant.ParentGrant))
		}
		if !parent.DelegationAllowed {
			return nil, errors.Newf(errors.CodeDelegationNotAllowed,
				"grant %s does not allow delegation", parent.ID)
		}
		if parent.MaxDelegationDepth != nil && grant.DelegationDepth > *parent.MaxDelegationDepth {
			return nil, errors.Newf(errors.CodeDepthExceeded,
				"delegation depth %d exceeds max %d set by grant %s",
				grant.DelegationDepth, *parent.MaxDelegationDepth, parent.ID)
		}
		// The delegator must be the grantee of the parent link.
		if grant.Grantor != parent.Grantee {
			return nil, errors.Newf(errors.CodeInvalidChain,
				"link %d grantor %s is not the grantee of link %d", i, grant.Grantor, i-1)
		}
	}

	v.IsValid = v.SignatureValid && v.TimeValid && v.NotRevoked && v.CapabilityGranted
	return v, nil
}

// ValidateDelegation checks eagerly that a delegation of the requested
// capabilities could be built from parent: delegation must be allowed,
// the next depth must be within the parent's maximum, and every
// requested capability must be covered by the parent's capability set.
// Callers that skip this still get the same checks at chain-verification
// time.
func ValidateDelegation(parent *Grant, requested []capability.Capability) error {
	if !parent.DelegationAllowed {
		return errors.Newf(errors.CodeDelegationNotAllowed,
			"grant %s does not allow delegation", parent.ID)
	}
	nextDepth := parent.DelegationDepth + 1
	if parent.MaxDelegationDepth != nil && nextDepth > *parent.MaxDelegationDepth {
		return errors.Newf(errors.CodeDepthExceeded,
			"delegation depth %d exceeds max %d", nextDepth, *parent.MaxDelegationDepth)
	}
	for _, cap := range requested {
		if !capability.Cover(parent.Capabilities, cap.URI) {
			return errors.Newf(errors.CodeExceedsCeiling,
				"parent grant does not cover capability %q", cap.URI)
		}
	}
	return nil
}
