// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package trust

import (
	"testing"

	"github.com/jllopis/aegis/pkg/capability"
	"github.com/jllopis/aegis/pkg/identity"
)

func TestRevocationSignAndVerify(t *testing.T) {
	grantor := newAnchor(t, "alice")
	grantee := newAnchor(t, "bob")

	g := signGrant(t, grantor, grantee, Open(), "email:read")
	r := NewRevocation(g.ID, grantor, ReasonPolicyViolation)

	if r.TrustID != g.ID || r.Revoker != grantor.ID() {
		t.Errorf("revocation fields wrong: %+v", r)
	}
	if err := r.VerifySignature(); err != nil {
		t.Errorf("VerifySignature: %v", err)
	}
}

func TestRevocationTamperDetection(t *testing.T) {
	grantor := newAnchor(t, "alice")
	grantee := newAnchor(t, "bob")
	g := signGrant(t, grantor, grantee, Open(), "email:read")

	tests := []struct {
		name   string
		mutate func(r *Revocation)
	}{
		{"retarget", func(r *Revocation) { r.TrustID = "atrust_other" }},
		{"reassign revoker", func(r *Revocation) { r.Revoker = grantee.ID() }},
		{"shift timestamp", func(r *Revocation) { r.RevokedAt++ }},
		{"change reason", func(r *Revocation) { r.Reason = ReasonExpired }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRevocation(g.ID, grantor, ReasonManual)
			tt.mutate(r)
			if err := r.VerifySignature(); err == nil {
				t.Error("mutated revocation still verifies")
			}
		})
	}
}

func TestRevocationByGrantee(t *testing.T) {
	// Either party may revoke; the grantee walking away is a valid
	// revocation too.
	grantor := newAnchor(t, "alice")
	grantee := newAnchor(t, "bob")
	g := signGrant(t, grantor, grantee, Open(), "email:read")

	r := NewRevocation(g.ID, grantee, ReasonGranteeRequest)
	if err := r.VerifySignature(); err != nil {
		t.Errorf("grantee revocation must verify: %v", err)
	}
	if !GrantValid(g, "email:read", 0, nil) {
		t.Fatal("grant should be valid before revocation")
	}
	if GrantValid(g, "email:read", 0, []Revocation{*r}) {
		t.Error("grant should be invalid after grantee revocation")
	}
}

func TestRevocationWitnesses(t *testing.T) {
	grantor := newAnchor(t, "alice")
	grantee := newAnchor(t, "bob")
	witness := newAnchor(t, "trent")

	g, err := NewGrantBuilder(grantor.ID(), grantee.ID(), grantee.PublicKeyBase64()).
		Capability(capability.New("email:read")).
		RevocationWitnesses(witness.ID()).
		Sign(grantor)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	r := NewRevocation(g.ID, grantor, ReasonCompromised)
	r.AddWitness(identity.WitnessSignature{
		Witness:    witness.ID(),
		WitnessKey: witness.PublicKeyBase64(),
		SignedAt:   identity.NowMicros(),
		Signature:  witness.Sign([]byte(string(r.TrustID))),
	})

	if len(r.Witnesses) != 1 || r.Witnesses[0].Witness != witness.ID() {
		t.Errorf("witnesses = %+v", r.Witnesses)
	}
	// Witnesses ride outside the revoker signature.
	if err := r.VerifySignature(); err != nil {
		t.Errorf("VerifySignature after AddWitness: %v", err)
	}
}

func TestRevokes(t *testing.T) {
	grantor := newAnchor(t, "alice")
	grantee := newAnchor(t, "bob")
	g := signGrant(t, grantor, grantee, Open(), "email:read")
	other := signGrant(t, grantor, grantee, Open(), "storage:read")

	revocations := []Revocation{*NewRevocation(g.ID, grantor, ReasonManual)}
	if !Revokes(revocations, g.ID) {
		t.Error("Revokes should find the revoked grant")
	}
	if Revokes(revocations, other.ID) {
		t.Error("Revokes should not match an unrevoked grant")
	}
	if Revokes(nil, g.ID) {
		t.Error("empty revocation set revokes nothing")
	}
}
