// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"bytes"
	"crypto/ed25519"
	"strings"
	"testing"
)

func mustAnchor(t *testing.T, name string) *Anchor {
	t.Helper()
	a, err := NewAnchor(name)
	if err != nil {
		t.Fatalf("NewAnchor: %v", err)
	}
	return a
}

func TestAnchorCreate(t *testing.T) {
	a := mustAnchor(t, "test-agent")

	if !strings.HasPrefix(string(a.ID()), "aid_") {
		t.Errorf("id %q should start with aid_", a.ID())
	}
	if a.CreatedAt == 0 {
		t.Error("created_at should be set")
	}
	if a.Name != "test-agent" {
		t.Errorf("name = %q", a.Name)
	}
}

func TestIDDeterministic(t *testing.T) {
	a := mustAnchor(t, "")
	if a.ID() != IDFromPublicKey(a.PublicKey()) {
		t.Error("ID should be derived from the public key")
	}

	b := mustAnchor(t, "")
	if a.ID() == b.ID() {
		t.Error("distinct anchors should have distinct ids")
	}
}

func TestAnchorFromSeedRoundTrip(t *testing.T) {
	a := mustAnchor(t, "persisted")
	restored, err := AnchorFromSeed(a.Seed(), a.CreatedAt, a.Name, a.RotationHistory)
	if err != nil {
		t.Fatalf("AnchorFromSeed: %v", err)
	}
	if restored.ID() != a.ID() {
		t.Error("restored anchor should keep its identity")
	}
	if !bytes.Equal(restored.PublicKey(), a.PublicKey()) {
		t.Error("restored anchor should keep its public key")
	}

	if _, err := AnchorFromSeed([]byte("short"), 0, "", nil); err == nil {
		t.Error("short seed should be rejected")
	}
}

func TestSignAndVerify(t *testing.T) {
	a := mustAnchor(t, "")
	msg := []byte("hello")
	sig := a.Sign(msg)

	if err := VerifyBase64(a.PublicKeyBase64(), msg, sig); err != nil {
		t.Errorf("signature should verify: %v", err)
	}
	if err := VerifyBase64(a.PublicKeyBase64(), []byte("tampered"), sig); err == nil {
		t.Error("tampered message should not verify")
	}
}

func TestDocumentSelfSigned(t *testing.T) {
	a := mustAnchor(t, "doc-test")
	doc, err := a.Document()
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	if err := doc.VerifySignature(); err != nil {
		t.Errorf("document self-signature should verify: %v", err)
	}

	doc.Name = "impostor"
	if err := doc.VerifySignature(); err == nil {
		t.Error("mutated document should fail verification")
	}
}

func TestRotation(t *testing.T) {
	a := mustAnchor(t, "rotate-test")
	rotated, err := a.Rotate(RotationScheduled)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	if rotated.ID() == a.ID() {
		t.Error("rotation must produce a new identity id")
	}
	if len(rotated.RotationHistory) != 1 {
		t.Fatalf("expected 1 rotation step, got %d", len(rotated.RotationHistory))
	}
	if rotated.RotationHistory[0].Reason != RotationScheduled {
		t.Errorf("reason = %q", rotated.RotationHistory[0].Reason)
	}
	// Old anchor untouched.
	if len(a.RotationHistory) != 0 {
		t.Error("rotation must not mutate the original anchor")
	}
}

func TestRotationTrailVerifies(t *testing.T) {
	a := mustAnchor(t, "trail")
	b, err := a.Rotate(RotationScheduled)
	if err != nil {
		t.Fatal(err)
	}
	c, err := b.Rotate(RotationManual)
	if err != nil {
		t.Fatal(err)
	}

	doc, err := c.Document()
	if err != nil {
		t.Fatal(err)
	}
	if err := doc.VerifyRotationTrail(); err != nil {
		t.Errorf("rotation trail should verify: %v", err)
	}

	// Truncating the history breaks the chain to the current key.
	doc.RotationHistory = doc.RotationHistory[:1]
	if err := doc.VerifyRotationTrail(); err == nil {
		t.Error("truncated trail should fail verification")
	}
}

func TestDeriveKeys(t *testing.T) {
	a := mustAnchor(t, "")

	s1 := a.DeriveSessionKey("session-123")
	s2 := a.DeriveSessionKey("session-123")
	if !bytes.Equal(s1, s2) {
		t.Error("derivation should be deterministic per context")
	}
	if bytes.Equal(s1.Public().(ed25519.PublicKey), a.PublicKey()) {
		t.Error("derived key should differ from the root key")
	}

	k1 := a.DeriveCapabilityKey("read:calendar")
	k2 := a.DeriveCapabilityKey("write:calendar")
	if bytes.Equal(k1, k2) {
		t.Error("different contexts should derive different keys")
	}

	d1 := a.DeriveDeviceKey("laptop")
	r1 := a.DeriveRevocationKey("atrust_x")
	if bytes.Equal(d1, r1) {
		t.Error("device and revocation scopes should not collide")
	}
}
