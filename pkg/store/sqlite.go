// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package store persists identities, trust grants, revocations, spawn
// records, and receipts in SQLite. Records are stored as JSON payload
// columns with the fields needed for lookups lifted into indexed
// columns. The store does no verification of its own; it hands records
// back to the core packages for that.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jllopis/aegis/pkg/errors"
	"github.com/jllopis/aegis/pkg/identity"
	"github.com/jllopis/aegis/pkg/receipt"
	"github.com/jllopis/aegis/pkg/spawn"
	"github.com/jllopis/aegis/pkg/trust"
)

const (
	identityTable   = "identities"
	grantTable      = "trust_grants"
	revocationTable = "revocations"
	spawnTable      = "spawn_records"
	receiptTable    = "receipts"
	auditTable      = "audit_events"
)

// Direction records whether a grant was issued by or received by the
// local identity.
type Direction string

const (
	DirectionGranted  Direction = "granted"
	DirectionReceived Direction = "received"
)

// Identity is the persisted form of an anchor: the private seed plus
// the metadata needed to reconstruct it.
type Identity struct {
	ID              identity.ID            `json:"id"`
	Name            string                 `json:"name"`
	CreatedAt       uint64                 `json:"created_at"`
	Seed            []byte                 `json:"seed"`
	RotationHistory []identity.KeyRotation `json:"rotation_history,omitempty"`
}

// Anchor reconstructs the signing anchor from the stored seed.
func (i *Identity) Anchor() (*identity.Anchor, error) {
	return identity.AnchorFromSeed(i.Seed, i.CreatedAt, i.Name, i.RotationHistory)
}

// AuditEvent is one row of the append-only audit log.
type AuditEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Subject   string `json:"subject"`
	CreatedAt uint64 `json:"created_at"`
	Detail    any    `json:"detail,omitempty"`
}

// Store is a SQLite-backed persistence layer. It is safe for use from a
// single process; multi-writer coordination is the caller's problem.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.New(errors.CodeStorage, "open database", err)
	}
	return New(db)
}

// New wraps an existing database handle and ensures the schema.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New(errors.CodeStorage, "db is nil", nil)
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			seed BLOB NOT NULL,
			identity_json BLOB NOT NULL
		);`, identityTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT NOT NULL,
			grantor TEXT NOT NULL,
			grantee TEXT NOT NULL,
			direction TEXT NOT NULL,
			granted_at INTEGER NOT NULL,
			grant_json BLOB NOT NULL,
			PRIMARY KEY (id, direction)
		);`, grantTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_grantor ON %s(grantor);`, grantTable, grantTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_grantee ON %s(grantee);`, grantTable, grantTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_direction ON %s(direction);`, grantTable, grantTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			trust_id TEXT PRIMARY KEY,
			revoker TEXT NOT NULL,
			revoked_at INTEGER NOT NULL,
			revocation_json BLOB NOT NULL
		);`, revocationTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			parent_id TEXT NOT NULL,
			child_id TEXT NOT NULL,
			terminated INTEGER NOT NULL DEFAULT 0,
			spawn_timestamp INTEGER NOT NULL,
			record_json BLOB NOT NULL
		);`, spawnTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_parent ON %s(parent_id);`, spawnTable, spawnTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_child ON %s(child_id);`, spawnTable, spawnTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			actor TEXT NOT NULL,
			action_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			receipt_json BLOB NOT NULL
		);`, receiptTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_actor ON %s(actor);`, receiptTable, receiptTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			subject TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			detail_json BLOB
		);`, auditTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_subject ON %s(subject);`, auditTable, auditTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return errors.New(errors.CodeStorage, "ensure schema", err)
		}
	}
	return nil
}

// SaveIdentity persists an anchor's seed and metadata.
func (s *Store) SaveIdentity(ctx context.Context, a *identity.Anchor) error {
	rec := Identity{
		ID:              a.ID(),
		Name:            a.Name,
		CreatedAt:       a.CreatedAt,
		Seed:            a.Seed(),
		RotationHistory: a.RotationHistory,
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return errors.New(errors.CodeSerialization, "marshal identity", err)
	}
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, name, created_at, seed, identity_json) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET identity_json = excluded.identity_json`, identityTable),
		string(rec.ID), rec.Name, rec.CreatedAt, rec.Seed, payload)
	if err != nil {
		return errors.New(errors.CodeStorage, "save identity", err)
	}
	return nil
}

// LoadIdentity loads a persisted identity by id.
func (s *Store) LoadIdentity(ctx context.Context, id identity.ID) (*Identity, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT identity_json FROM %s WHERE id = ?", identityTable),
		string(id)).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, errors.Newf(errors.CodeNotFound, "identity %s not found", id)
	}
	if err != nil {
		return nil, errors.New(errors.CodeStorage, "load identity", err)
	}
	var rec Identity
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, errors.New(errors.CodeSerialization, "unmarshal identity", err)
	}
	return &rec, nil
}

// LoadIdentityByName loads the most recently created identity with the
// given name. Names are not unique; the newest one wins.
func (s *Store) LoadIdentityByName(ctx context.Context, name string) (*Identity, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT identity_json FROM %s WHERE name = ? ORDER BY created_at DESC, rowid DESC LIMIT 1", identityTable),
		name).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, errors.Newf(errors.CodeNotFound, "identity %q not found", name)
	}
	if err != nil {
		return nil, errors.New(errors.CodeStorage, "load identity", err)
	}
	var rec Identity
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, errors.New(errors.CodeSerialization, "unmarshal identity", err)
	}
	return &rec, nil
}

// ListIdentities returns all persisted identities.
func (s *Store) ListIdentities(ctx context.Context) ([]Identity, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT identity_json FROM %s ORDER BY created_at ASC", identityTable))
	if err != nil {
		return nil, errors.New(errors.CodeStorage, "list identities", err)
	}
	defer rows.Close()

	var out []Identity
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.New(errors.CodeStorage, "scan identity", err)
		}
		var rec Identity
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, errors.New(errors.CodeSerialization, "unmarshal identity", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.CodeStorage, "list identities", err)
	}
	return out, nil
}

// SaveGrant persists a grant under a direction. A grant between two
// locally stored identities is saved once per direction and keeps one
// row for each. The JSON payload is stored exactly as marshaled so
// re-serialization reproduces the signed bytes.
func (s *Store) SaveGrant(ctx context.Context, g *trust.Grant, direction Direction) error {
	payload, err := json.Marshal(g)
	if err != nil {
		return errors.New(errors.CodeSerialization, "marshal grant", err)
	}
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, grantor, grantee, direction, granted_at, grant_json) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id, direction) DO UPDATE SET grant_json = excluded.grant_json`, grantTable),
		string(g.ID), string(g.Grantor), string(g.Grantee), string(direction), g.GrantedAt, payload)
	if err != nil {
		return errors.New(errors.CodeStorage, "save grant", err)
	}
	return nil
}

// LoadGrant loads a grant by id.
func (s *Store) LoadGrant(ctx context.Context, id trust.ID) (*trust.Grant, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT grant_json FROM %s WHERE id = ? LIMIT 1", grantTable),
		string(id)).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, errors.Newf(errors.CodeNotFound, "grant %s not found", id)
	}
	if err != nil {
		return nil, errors.New(errors.CodeStorage, "load grant", err)
	}
	var g trust.Grant
	if err := json.Unmarshal(payload, &g); err != nil {
		return nil, errors.New(errors.CodeSerialization, "unmarshal grant", err)
	}
	return &g, nil
}

// ListGrants returns all grants stored under a direction.
func (s *Store) ListGrants(ctx context.Context, direction Direction) ([]*trust.Grant, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT grant_json FROM %s WHERE direction = ? ORDER BY granted_at ASC", grantTable),
		string(direction))
	if err != nil {
		return nil, errors.New(errors.CodeStorage, "list grants", err)
	}
	defer rows.Close()

	var out []*trust.Grant
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.New(errors.CodeStorage, "scan grant", err)
		}
		var g trust.Grant
		if err := json.Unmarshal(payload, &g); err != nil {
			return nil, errors.New(errors.CodeSerialization, "unmarshal grant", err)
		}
		out = append(out, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.CodeStorage, "list grants", err)
	}
	return out, nil
}

// SaveRevocation persists a revocation.
func (s *Store) SaveRevocation(ctx context.Context, r *trust.Revocation) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return errors.New(errors.CodeSerialization, "marshal revocation", err)
	}
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (trust_id, revoker, revoked_at, revocation_json) VALUES (?, ?, ?, ?)
			ON CONFLICT(trust_id) DO UPDATE SET revocation_json = excluded.revocation_json`, revocationTable),
		string(r.TrustID), string(r.Revoker), r.RevokedAt, payload)
	if err != nil {
		return errors.New(errors.CodeStorage, "save revocation", err)
	}
	return nil
}

// LoadRevocation loads the revocation of a grant, if any.
func (s *Store) LoadRevocation(ctx context.Context, trustID trust.ID) (*trust.Revocation, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT revocation_json FROM %s WHERE trust_id = ?", revocationTable),
		string(trustID)).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, errors.Newf(errors.CodeNotFound, "no revocation for %s", trustID)
	}
	if err != nil {
		return nil, errors.New(errors.CodeStorage, "load revocation", err)
	}
	var r trust.Revocation
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, errors.New(errors.CodeSerialization, "unmarshal revocation", err)
	}
	return &r, nil
}

// IsRevoked reports whether a grant has a stored revocation.
func (s *Store) IsRevoked(ctx context.Context, trustID trust.ID) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE trust_id = ?", revocationTable),
		string(trustID)).Scan(&n)
	if err != nil {
		return false, errors.New(errors.CodeStorage, "check revocation", err)
	}
	return n > 0, nil
}

// ListRevocations returns every stored revocation.
func (s *Store) ListRevocations(ctx context.Context) ([]trust.Revocation, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT revocation_json FROM %s ORDER BY revoked_at ASC", revocationTable))
	if err != nil {
		return nil, errors.New(errors.CodeStorage, "list revocations", err)
	}
	defer rows.Close()

	var out []trust.Revocation
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.New(errors.CodeStorage, "scan revocation", err)
		}
		var r trust.Revocation
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, errors.New(errors.CodeSerialization, "unmarshal revocation", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.CodeStorage, "list revocations", err)
	}
	return out, nil
}

// SaveSpawnRecord persists a spawn record, replacing any previous
// version of the same record (termination updates come through here).
func (s *Store) SaveSpawnRecord(ctx context.Context, r *spawn.Record) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return errors.New(errors.CodeSerialization, "marshal spawn record", err)
	}
	terminated := 0
	if r.Terminated {
		terminated = 1
	}
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, parent_id, child_id, terminated, spawn_timestamp, record_json) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET terminated = excluded.terminated, record_json = excluded.record_json`, spawnTable),
		string(r.ID), string(r.ParentID), string(r.ChildID), terminated, r.SpawnTimestamp, payload)
	if err != nil {
		return errors.New(errors.CodeStorage, "save spawn record", err)
	}
	return nil
}

// LoadSpawnRecords returns the full spawn record set, the form the
// lineage walks expect.
func (s *Store) LoadSpawnRecords(ctx context.Context) ([]spawn.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT record_json FROM %s ORDER BY spawn_timestamp ASC", spawnTable))
	if err != nil {
		return nil, errors.New(errors.CodeStorage, "list spawn records", err)
	}
	defer rows.Close()

	var out []spawn.Record
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.New(errors.CodeStorage, "scan spawn record", err)
		}
		var r spawn.Record
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, errors.New(errors.CodeSerialization, "unmarshal spawn record", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.CodeStorage, "list spawn records", err)
	}
	return out, nil
}

// LoadSpawnRecord loads one spawn record by id.
func (s *Store) LoadSpawnRecord(ctx context.Context, id spawn.ID) (*spawn.Record, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT record_json FROM %s WHERE id = ?", spawnTable),
		string(id)).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, errors.Newf(errors.CodeNotFound, "spawn record %s not found", id)
	}
	if err != nil {
		return nil, errors.New(errors.CodeStorage, "load spawn record", err)
	}
	var r spawn.Record
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, errors.New(errors.CodeSerialization, "unmarshal spawn record", err)
	}
	return &r, nil
}

// SaveReceipt persists an action receipt.
func (s *Store) SaveReceipt(ctx context.Context, r *receipt.ActionReceipt) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return errors.New(errors.CodeSerialization, "marshal receipt", err)
	}
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, actor, action_type, timestamp, receipt_json) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`, receiptTable),
		string(r.ID), string(r.Actor), string(r.Type), r.Timestamp, payload)
	if err != nil {
		return errors.New(errors.CodeStorage, "save receipt", err)
	}
	return nil
}

// LoadReceipt loads a receipt by id.
func (s *Store) LoadReceipt(ctx context.Context, id receipt.ID) (*receipt.ActionReceipt, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT receipt_json FROM %s WHERE id = ?", receiptTable),
		string(id)).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, errors.Newf(errors.CodeNotFound, "receipt %s not found", id)
	}
	if err != nil {
		return nil, errors.New(errors.CodeStorage, "load receipt", err)
	}
	var r receipt.ActionReceipt
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, errors.New(errors.CodeSerialization, "unmarshal receipt", err)
	}
	return &r, nil
}

// ListReceipts returns an actor's receipts ordered oldest first.
func (s *Store) ListReceipts(ctx context.Context, actor identity.ID) ([]*receipt.ActionReceipt, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT receipt_json FROM %s WHERE actor = ? ORDER BY timestamp ASC", receiptTable),
		string(actor))
	if err != nil {
		return nil, errors.New(errors.CodeStorage, "list receipts", err)
	}
	defer rows.Close()

	var out []*receipt.ActionReceipt
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.New(errors.CodeStorage, "scan receipt", err)
		}
		var r receipt.ActionReceipt
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, errors.New(errors.CodeSerialization, "unmarshal receipt", err)
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.CodeStorage, "list receipts", err)
	}
	return out, nil
}

// AppendAuditEvent adds one row to the audit log and returns its id.
func (s *Store) AppendAuditEvent(ctx context.Context, eventType, subject string, detail any) (string, error) {
	var detailJSON []byte
	if detail != nil {
		var err error
		detailJSON, err = json.Marshal(detail)
		if err != nil {
			return "", errors.New(errors.CodeSerialization, "marshal audit detail", err)
		}
	}
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (id, event_type, subject, created_at, detail_json) VALUES (?, ?, ?, ?, ?)", auditTable),
		id, eventType, subject, identity.NowMicros(), detailJSON)
	if err != nil {
		return "", errors.New(errors.CodeStorage, "append audit event", err)
	}
	return id, nil
}

// ListAuditEvents returns audit events for a subject, oldest first.
func (s *Store) ListAuditEvents(ctx context.Context, subject string) ([]AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT id, event_type, subject, created_at, detail_json FROM %s WHERE subject = ? ORDER BY created_at ASC, rowid ASC", auditTable),
		subject)
	if err != nil {
		return nil, errors.New(errors.CodeStorage, "list audit events", err)
	}
	defer rows.Close()

	var out []AuditEvent
	for rows.Next() {
		var ev AuditEvent
		var detailJSON []byte
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.Subject, &ev.CreatedAt, &detailJSON); err != nil {
			return nil, errors.New(errors.CodeStorage, "scan audit event", err)
		}
		if len(detailJSON) > 0 {
			var detail any
			if err := json.Unmarshal(detailJSON, &detail); err != nil {
				return nil, errors.New(errors.CodeSerialization, "unmarshal audit detail", err)
			}
			ev.Detail = detail
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.CodeStorage, "list audit events", err)
	}
	return out, nil
}
