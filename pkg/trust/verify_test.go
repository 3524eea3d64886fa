// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package trust

import (
	"testing"

	"github.com/jllopis/aegis/pkg/capability"
	"github.com/jllopis/aegis/pkg/identity"
)

func signGrant(t *testing.T, grantor, grantee *identity.Anchor, c Constraints, uris ...string) *Grant {
	t.Helper()
	b := NewGrantBuilder(grantor.ID(), grantee.ID(), grantee.PublicKeyBase64()).Constraints(c)
	for _, uri := range uris {
		b.Capability(capability.New(uri))
	}
	g, err := b.Sign(grantor)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return g
}

func TestVerifyGrantChecks(t *testing.T) {
	grantor := newAnchor(t, "alice")
	grantee := newAnchor(t, "bob")
	now := identity.NowMicros()
	hour := uint64(3_600_000_000)

	tests := []struct {
		name        string
		constraints Constraints
		capability  string
		request     string
		currentUses uint64
		revoked     bool
		wantValid   bool
		check       func(t *testing.T, v *Verification)
	}{
		{
			name:        "valid open grant",
			constraints: Open(),
			capability:  "email:read",
			request:     "email:read",
			wantValid:   true,
		},
		{
			name:        "wildcard covers request",
			constraints: Open(),
			capability:  "email:*",
			request:     "email:read:inbox",
			wantValid:   true,
		},
		{
			name:        "capability mismatch",
			constraints: Open(),
			capability:  "email:read",
			request:     "email:send",
			wantValid:   false,
			check: func(t *testing.T, v *Verification) {
				if v.CapabilityGranted {
					t.Error("CapabilityGranted should be false")
				}
				if !v.SignatureValid || !v.TimeValid || !v.NotRevoked {
					t.Error("unrelated checks should still pass")
				}
			},
		},
		{
			name:        "expired",
			constraints: TimeBounded(now-2*hour, now-hour),
			capability:  "email:read",
			request:     "email:read",
			wantValid:   false,
			check: func(t *testing.T, v *Verification) {
				if v.TimeValid {
					t.Error("TimeValid should be false for an expired grant")
				}
			},
		},
		{
			name:        "not yet valid",
			constraints: TimeBounded(now+hour, now+2*hour),
			capability:  "email:read",
			request:     "email:read",
			wantValid:   false,
			check: func(t *testing.T, v *Verification) {
				if v.TimeValid {
					t.Error("TimeValid should be false before NotBefore")
				}
			},
		},
		{
			name:        "uses remaining",
			constraints: Open().WithMaxUses(5),
			capability:  "email:read",
			request:     "email:read",
			currentUses: 4,
			wantValid:   true,
		},
		{
			name:        "uses exhausted",
			constraints: Open().WithMaxUses(5),
			capability:  "email:read",
			request:     "email:read",
			currentUses: 5,
			wantValid:   false,
			check: func(t *testing.T, v *Verification) {
				if v.UsesValid {
					t.Error("UsesValid should be false at the use ceiling")
				}
			},
		},
		{
			name:        "revoked",
			constraints: Open(),
			capability:  "email:read",
			request:     "email:read",
			revoked:     true,
			wantValid:   false,
			check: func(t *testing.T, v *Verification) {
				if v.NotRevoked {
					t.Error("NotRevoked should be false for a revoked grant")
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := signGrant(t, grantor, grantee, tt.constraints, tt.capability)
			var revocations []Revocation
			if tt.revoked {
				revocations = append(revocations, *NewRevocation(g.ID, grantor, ReasonManual))
			}
			v := VerifyGrant(g, tt.request, tt.currentUses, revocations)
			if v.IsValid != tt.wantValid {
				t.Errorf("IsValid = %v, want %v (%+v)", v.IsValid, tt.wantValid, v)
			}
			if len(v.TrustChain) != 1 || v.TrustChain[0] != g.ID {
				t.Errorf("TrustChain = %v, want [%s]", v.TrustChain, g.ID)
			}
			if tt.check != nil {
				tt.check(t, v)
			}
		})
	}
}

func TestVerifyGrantTamperedSignature(t *testing.T) {
	grantor := newAnchor(t, "alice")
	grantee := newAnchor(t, "bob")

	g := signGrant(t, grantor, grantee, Open(), "storage:read")
	g.Capabilities[0].URI = "storage:*"

	v := VerifyGrant(g, "storage:read", 0, nil)
	if v.SignatureValid {
		t.Error("SignatureValid should be false for a tampered grant")
	}
	if v.IsValid {
		t.Error("tampered grant must not be valid")
	}
}

func TestGrantValid(t *testing.T) {
	grantor := newAnchor(t, "alice")
	grantee := newAnchor(t, "bob")

	g := signGrant(t, grantor, grantee, Open(), "email:read")
	if !GrantValid(g, "email:read", 0, nil) {
		t.Error("GrantValid should be true for a fresh matching grant")
	}
	if GrantValid(g, "email:send", 0, nil) {
		t.Error("GrantValid should be false for an uncovered capability")
	}
}

func TestConstraintsTimeValidEdges(t *testing.T) {
	c := TimeBounded(100, 200)
	tests := []struct {
		now  uint64
		want bool
	}{
		{99, false},
		{100, true},
		{150, true},
		{200, true},
		{201, false},
	}
	for _, tt := range tests {
		if got := c.TimeValid(tt.now); got != tt.want {
			t.Errorf("TimeValid(%d) = %v, want %v", tt.now, got, tt.want)
		}
	}
}

func TestConstraintsWithinUses(t *testing.T) {
	open := Open()
	if !open.WithinUses(1 << 40) {
		t.Error("unlimited constraints should allow any use count")
	}
	limited := Open().WithMaxUses(3)
	for uses := uint64(0); uses < 3; uses++ {
		if !limited.WithinUses(uses) {
			t.Errorf("use %d should be within a limit of 3", uses)
		}
	}
	if limited.WithinUses(3) {
		t.Error("use 3 should exceed a limit of 3")
	}
}
