// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package trust

import (
	"github.com/jllopis/aegis/pkg/capability"
	"github.com/jllopis/aegis/pkg/identity"
)

// Verification is the point-in-time result of verifying a grant or a
// delegation chain. Each check is reported separately so front-ends can
// say WHICH check failed (revoked vs expired vs scope mismatch) instead
// of a generic denial. None of these conditions are errors: the same
// chain can become valid or invalid again as time passes.
type Verification struct {
	// SignatureValid is true when every link's grantor signature checks out.
	SignatureValid bool `json:"signature_valid"`
	// TimeValid is true when every link's constraints are satisfied now.
	TimeValid bool `json:"time_valid"`
	// NotRevoked is true when no link appears in the revocation set.
	NotRevoked bool `json:"not_revoked"`
	// UsesValid is true when the use count is within MaxUses. Chain
	// verification always reports true; use counting is per-grant.
	UsesValid bool `json:"uses_valid"`
	// CapabilityGranted is true when every link covers the requested
	// capability.
	CapabilityGranted bool `json:"capability_granted"`
	// TrustChain lists the grant ids that were examined, root first.
	TrustChain []ID `json:"trust_chain"`
	// IsValid is the conjunction of all checks.
	IsValid bool `json:"is_valid"`
	// VerifiedAt is when the verification ran (microseconds since epoch).
	VerifiedAt uint64 `json:"verified_at"`
}

// VerifyGrant verifies a single grant for a capability at the current
// time. currentUses is how many times the grant has been exercised so
// far; revocations is the caller-assembled revocation set.
//
// This is the depth-1 special case of VerifyChain plus the use-count
// check. It never returns an error: all five checks are point-in-time
// facts reported on the result.
func VerifyGrant(grant *Grant, requestedCapability string, currentUses uint64, revocations []Revocation) *Verification {
	now := identity.NowMicros()

	v := &Verification{
		SignatureValid:    grant.VerifySignature() == nil,
		TimeValid:         grant.Constraints.TimeValid(now),
		NotRevoked:        !Revokes(revocations, grant.ID),
		UsesValid:         grant.Constraints.WithinUses(currentUses),
		CapabilityGranted: capability.Cover(grant.Capabilities, requestedCapability),
		TrustChain:        []ID{grant.ID},
		VerifiedAt:        now,
	}
	v.IsValid = v.SignatureValid && v.TimeValid && v.NotRevoked && v.UsesValid && v.CapabilityGranted
	return v
}

// GrantValid is a convenience wrapper: is the grant usable for the
// capability right now?
func GrantValid(grant *Grant, requestedCapability string, currentUses uint64, revocations []Revocation) bool {
	return VerifyGrant(grant, requestedCapability, currentUses, revocations).IsValid
}
