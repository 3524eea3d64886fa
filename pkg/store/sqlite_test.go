// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jllopis/aegis/pkg/capability"
	"github.com/jllopis/aegis/pkg/errors"
	"github.com/jllopis/aegis/pkg/identity"
	"github.com/jllopis/aegis/pkg/receipt"
	"github.com/jllopis/aegis/pkg/spawn"
	"github.com/jllopis/aegis/pkg/trust"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "aegis.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newAnchor(t *testing.T, name string) *identity.Anchor {
	t.Helper()
	a, err := identity.NewAnchor(name)
	if err != nil {
		t.Fatalf("NewAnchor(%q): %v", name, err)
	}
	return a
}

func TestIdentityRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	a := newAnchor(t, "alice")

	if err := s.SaveIdentity(ctx, a); err != nil {
		t.Fatalf("SaveIdentity: %v", err)
	}
	loaded, err := s.LoadIdentity(ctx, a.ID())
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	restored, err := loaded.Anchor()
	if err != nil {
		t.Fatalf("Anchor: %v", err)
	}
	if restored.ID() != a.ID() {
		t.Errorf("restored id = %s, want %s", restored.ID(), a.ID())
	}
	// The restored anchor must produce signatures the original key verifies.
	sig := restored.Sign([]byte("hello"))
	if err := identity.VerifyBase64(a.PublicKeyBase64(), []byte("hello"), sig); err != nil {
		t.Errorf("restored anchor signature: %v", err)
	}

	if _, err := s.LoadIdentity(ctx, "aid_missing"); !errors.HasCode(err, errors.CodeNotFound) {
		t.Errorf("expected CodeNotFound, got %v", err)
	}

	ids, err := s.ListIdentities(ctx)
	if err != nil {
		t.Fatalf("ListIdentities: %v", err)
	}
	if len(ids) != 1 || ids[0].ID != a.ID() {
		t.Errorf("ListIdentities = %+v", ids)
	}
}

func TestGrantRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	grantor := newAnchor(t, "alice")
	grantee := newAnchor(t, "bob")

	g, err := trust.NewGrantBuilder(grantor.ID(), grantee.ID(), grantee.PublicKeyBase64()).
		Capability(capability.New("email:read")).
		Sign(grantor)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if err := s.SaveGrant(ctx, g, DirectionGranted); err != nil {
		t.Fatalf("SaveGrant: %v", err)
	}
	loaded, err := s.LoadGrant(ctx, g.ID)
	if err != nil {
		t.Fatalf("LoadGrant: %v", err)
	}
	// The signature must survive the round trip bit for bit.
	if err := loaded.VerifySignature(); err != nil {
		t.Errorf("loaded grant signature: %v", err)
	}
	if loaded.GrantHash != g.GrantHash {
		t.Errorf("grant hash changed across persistence")
	}

	granted, err := s.ListGrants(ctx, DirectionGranted)
	if err != nil {
		t.Fatalf("ListGrants: %v", err)
	}
	if len(granted) != 1 || granted[0].ID != g.ID {
		t.Errorf("ListGrants(granted) = %v", granted)
	}
	received, err := s.ListGrants(ctx, DirectionReceived)
	if err != nil {
		t.Fatalf("ListGrants: %v", err)
	}
	if len(received) != 0 {
		t.Errorf("ListGrants(received) = %v", received)
	}
}

func TestSaveGrantBothDirections(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	grantor := newAnchor(t, "alice")
	grantee := newAnchor(t, "bob")

	g, err := trust.NewGrantBuilder(grantor.ID(), grantee.ID(), grantee.PublicKeyBase64()).
		Capability(capability.New("email:send")).
		Sign(grantor)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	// A grant between two local identities is saved once per direction
	// and must show up on both sides.
	if err := s.SaveGrant(ctx, g, DirectionGranted); err != nil {
		t.Fatalf("SaveGrant(granted): %v", err)
	}
	if err := s.SaveGrant(ctx, g, DirectionReceived); err != nil {
		t.Fatalf("SaveGrant(received): %v", err)
	}

	granted, err := s.ListGrants(ctx, DirectionGranted)
	if err != nil {
		t.Fatalf("ListGrants(granted): %v", err)
	}
	received, err := s.ListGrants(ctx, DirectionReceived)
	if err != nil {
		t.Fatalf("ListGrants(received): %v", err)
	}
	if len(granted) != 1 || len(received) != 1 {
		t.Fatalf("granted=%d received=%d, want 1 and 1", len(granted), len(received))
	}
	if granted[0].ID != g.ID || received[0].ID != g.ID {
		t.Errorf("listed ids = %s, %s, want %s", granted[0].ID, received[0].ID, g.ID)
	}

	// Re-saving the same direction updates in place, it never duplicates.
	if err := s.SaveGrant(ctx, g, DirectionReceived); err != nil {
		t.Fatalf("SaveGrant(received) again: %v", err)
	}
	received, err = s.ListGrants(ctx, DirectionReceived)
	if err != nil {
		t.Fatalf("ListGrants(received): %v", err)
	}
	if len(received) != 1 {
		t.Errorf("received after re-save = %d, want 1", len(received))
	}

	if _, err := s.LoadGrant(ctx, g.ID); err != nil {
		t.Errorf("LoadGrant with two direction rows: %v", err)
	}
}

func TestRevocationRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	grantor := newAnchor(t, "alice")
	grantee := newAnchor(t, "bob")

	g, err := trust.NewGrantBuilder(grantor.ID(), grantee.ID(), grantee.PublicKeyBase64()).
		Capability(capability.New("email:read")).
		Sign(grantor)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	revoked, err := s.IsRevoked(ctx, g.ID)
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if revoked {
		t.Error("grant revoked before any revocation stored")
	}

	r := trust.NewRevocation(g.ID, grantor, trust.ReasonCompromised)
	if err := s.SaveRevocation(ctx, r); err != nil {
		t.Fatalf("SaveRevocation: %v", err)
	}

	revoked, err = s.IsRevoked(ctx, g.ID)
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if !revoked {
		t.Error("IsRevoked should be true after SaveRevocation")
	}

	loaded, err := s.LoadRevocation(ctx, g.ID)
	if err != nil {
		t.Fatalf("LoadRevocation: %v", err)
	}
	if err := loaded.VerifySignature(); err != nil {
		t.Errorf("loaded revocation signature: %v", err)
	}

	all, err := s.ListRevocations(ctx)
	if err != nil {
		t.Fatalf("ListRevocations: %v", err)
	}
	if !trust.Revokes(all, g.ID) {
		t.Error("listed revocations should cover the grant")
	}
}

func TestSpawnRecordRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	parent := newAnchor(t, "parent")

	_, record, rec, err := spawn.Child(parent, spawn.TypeWorker, "worker",
		[]capability.Capability{capability.New("read:*")},
		[]capability.Capability{capability.New("read:*")},
		spawn.Indefinite(), spawn.DefaultConstraints(), nil, nil)
	if err != nil {
		t.Fatalf("Child: %v", err)
	}

	if err := s.SaveSpawnRecord(ctx, record); err != nil {
		t.Fatalf("SaveSpawnRecord: %v", err)
	}
	if err := s.SaveReceipt(ctx, rec); err != nil {
		t.Fatalf("SaveReceipt: %v", err)
	}

	records, err := s.LoadSpawnRecords(ctx)
	if err != nil {
		t.Fatalf("LoadSpawnRecords: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("LoadSpawnRecords = %d records", len(records))
	}
	if err := records[0].VerifySignature(); err != nil {
		t.Errorf("loaded record signature: %v", err)
	}

	// Termination is persisted by re-saving the mutated record.
	if _, _, err := spawn.Terminate(parent, record, "done", false, nil); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if err := s.SaveSpawnRecord(ctx, record); err != nil {
		t.Fatalf("SaveSpawnRecord after terminate: %v", err)
	}
	loaded, err := s.LoadSpawnRecord(ctx, record.ID)
	if err != nil {
		t.Fatalf("LoadSpawnRecord: %v", err)
	}
	if !loaded.Terminated || loaded.TerminationReason != "done" {
		t.Errorf("termination not persisted: %+v", loaded)
	}
}

func TestReceiptRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	actor := newAnchor(t, "operator")

	r, err := receipt.NewBuilder(actor.ID(), receipt.ActionDecision, receipt.NewContent("approved")).
		Sign(actor)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := s.SaveReceipt(ctx, r); err != nil {
		t.Fatalf("SaveReceipt: %v", err)
	}

	loaded, err := s.LoadReceipt(ctx, r.ID)
	if err != nil {
		t.Fatalf("LoadReceipt: %v", err)
	}
	if err := loaded.VerifySignature(); err != nil {
		t.Errorf("loaded receipt signature: %v", err)
	}

	list, err := s.ListReceipts(ctx, actor.ID())
	if err != nil {
		t.Fatalf("ListReceipts: %v", err)
	}
	if len(list) != 1 || list[0].ID != r.ID {
		t.Errorf("ListReceipts = %v", list)
	}
}

func TestAuditEvents(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	id, err := s.AppendAuditEvent(ctx, "trust.grant", "atrust_x", map[string]any{"grantee": "aid_y"})
	if err != nil {
		t.Fatalf("AppendAuditEvent: %v", err)
	}
	if id == "" {
		t.Fatal("empty audit event id")
	}
	if _, err := s.AppendAuditEvent(ctx, "trust.revoke", "atrust_x", nil); err != nil {
		t.Fatalf("AppendAuditEvent: %v", err)
	}

	events, err := s.ListAuditEvents(ctx, "atrust_x")
	if err != nil {
		t.Fatalf("ListAuditEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("ListAuditEvents = %d events", len(events))
	}
	if events[0].EventType != "trust.grant" || events[1].EventType != "trust.revoke" {
		t.Errorf("event order = %s, %s", events[0].EventType, events[1].EventType)
	}
	if events[1].Detail != nil {
		t.Errorf("nil detail should stay nil, got %v", events[1].Detail)
	}
}
