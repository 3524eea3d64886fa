// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package trust

import (
	"fmt"

	"github.com/jllopis/aegis/pkg/identity"
)

// Reason is the closed set of revocation reasons. Any other string value
// is treated as a custom reason; the tag participates in the revocation
// signature, so it must be stable.
type Reason string

const (
	// ReasonExpired marks a grant that lapsed naturally.
	ReasonExpired Reason = "expired"
	// ReasonCompromised marks a grantee whose key or system was compromised.
	ReasonCompromised Reason = "compromised"
	// ReasonPolicyViolation marks a grantee that violated the grant terms.
	ReasonPolicyViolation Reason = "policy_violation"
	// ReasonManual marks an explicit revocation by the grantor.
	ReasonManual Reason = "manual_revocation"
	// ReasonGranteeRequest marks a revocation the grantee asked for.
	ReasonGranteeRequest Reason = "grantee_request"
)

// Revocation is an independently signed fact invalidating one grant by
// id. It travels and is stored separately from the grant it revokes; the
// verifier looks revocations up out-of-band.
//
// Revocations are symmetric in direction: either grantor or grantee may
// revoke, and VerifySignature only proves the record is authentic. A
// caller whose policy requires revoker == grantor (or witness
// countersignatures per the grant's RequiredRevocationWitnesses) must
// check that itself.
type Revocation struct {
	TrustID    ID                          `json:"trust_id"`
	Revoker    identity.ID                 `json:"revoker"`
	RevokerKey string                      `json:"revoker_key"`
	RevokedAt  uint64                      `json:"revoked_at"`
	Reason     Reason                      `json:"reason"`
	Signature  string                      `json:"signature"`
	Witnesses  []identity.WitnessSignature `json:"witnesses,omitempty"`
}

func revocationPayload(trustID ID, revoker identity.ID, revokedAt uint64, reason Reason) string {
	return fmt.Sprintf("revoke:%s:%s:%d:%s", trustID, revoker, revokedAt, reason)
}

// NewRevocation creates and signs a revocation of the given grant.
func NewRevocation(trustID ID, revoker *identity.Anchor, reason Reason) *Revocation {
	now := identity.NowMicros()
	r := &Revocation{
		TrustID:    trustID,
		Revoker:    revoker.ID(),
		RevokerKey: revoker.PublicKeyBase64(),
		RevokedAt:  now,
		Reason:     reason,
	}
	r.Signature = revoker.Sign([]byte(revocationPayload(trustID, r.Revoker, now, reason)))
	return r
}

// VerifySignature recomputes the signed payload and checks the revoker's
// signature over it.
func (r *Revocation) VerifySignature() error {
	payload := revocationPayload(r.TrustID, r.Revoker, r.RevokedAt, r.Reason)
	return identity.VerifyBase64(r.RevokerKey, []byte(payload), r.Signature)
}

// AddWitness appends a witness countersignature.
func (r *Revocation) AddWitness(w identity.WitnessSignature) {
	r.Witnesses = append(r.Witnesses, w)
}

// Revokes reports whether any revocation in the set targets the grant id.
func Revokes(revocations []Revocation, id ID) bool {
	for _, r := range revocations {
		if r.TrustID == id {
			return true
		}
	}
	return false
}
