// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"

	"github.com/jllopis/aegis/pkg/errors"
)

// RotationReason is the closed set of reasons for rotating a root key.
type RotationReason string

const (
	RotationScheduled      RotationReason = "scheduled"
	RotationCompromised    RotationReason = "compromised"
	RotationDeviceLost     RotationReason = "device_lost"
	RotationPolicyRequired RotationReason = "policy_required"
	RotationManual         RotationReason = "manual"
)

// KeyRotation records one step of the key-rotation trail. The history is
// ordered, append-only, and monotonically increasing in RotatedAt; a
// verifier walks it to confirm continuity from the original key to the
// current one.
type KeyRotation struct {
	PreviousKey string         `json:"previous_key"`
	NewKey      string         `json:"new_key"`
	RotatedAt   uint64         `json:"rotated_at"`
	Reason      RotationReason `json:"reason"`
	// AuthorizationSignature is the OLD key's signature authorizing the
	// rotation to the new key.
	AuthorizationSignature string `json:"authorization_signature"`
}

// Anchor is the root identity: an ed25519 key pair plus metadata.
// The private key never leaves the process through any Anchor method
// except Seed.
type Anchor struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey

	// CreatedAt is the creation timestamp in microseconds since epoch.
	// It survives rotations.
	CreatedAt uint64
	// Name is an optional human-readable label.
	Name string
	// RotationHistory is the append-only trail of key rotations.
	RotationHistory []KeyRotation
}

// NewAnchor creates a fresh identity anchor with a newly generated key pair.
func NewAnchor(name string) (*Anchor, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "generate ed25519 key pair", err)
	}
	return &Anchor{
		priv:      priv,
		pub:       pub,
		CreatedAt: NowMicros(),
		Name:      name,
	}, nil
}

// AnchorFromSeed reconstructs an anchor from a stored 32-byte seed and
// its metadata.
func AnchorFromSeed(seed []byte, createdAt uint64, name string, history []KeyRotation) (*Anchor, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, errors.Newf(errors.CodeInvalidKey, "seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Anchor{
		priv:            priv,
		pub:             priv.Public().(ed25519.PublicKey),
		CreatedAt:       createdAt,
		Name:            name,
		RotationHistory: history,
	}, nil
}

// ID returns the identity ID derived from the current public key.
func (a *Anchor) ID() ID {
	return IDFromPublicKey(a.pub)
}

// PublicKey returns the current verifying key.
func (a *Anchor) PublicKey() ed25519.PublicKey {
	return a.pub
}

// PublicKeyBase64 returns the current public key as standard base64.
func (a *Anchor) PublicKeyBase64() string {
	return EncodePublicKey(a.pub)
}

// Seed returns a copy of the 32-byte private seed for persistence.
// Callers own the copy and should zero it when done.
func (a *Anchor) Seed() []byte {
	seed := make([]byte, ed25519.SeedSize)
	copy(seed, a.priv.Seed())
	return seed
}

// Sign signs a message with the anchor's current key and returns the
// signature as base64.
func (a *Anchor) Sign(message []byte) string {
	return SignBase64(a.priv, message)
}

// Rotate produces a new anchor with a fresh key pair. The old key signs
// the authorization for the rotation, and the step is appended to the
// rotation history. The old anchor is left untouched.
func (a *Anchor) Rotate(reason RotationReason) (*Anchor, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "generate rotated key pair", err)
	}
	now := NowMicros()
	oldKey := a.PublicKeyBase64()
	newKey := EncodePublicKey(pub)

	auth := fmt.Sprintf("rotate:%s:%s:%d:%s", oldKey, newKey, now, reason)
	step := KeyRotation{
		PreviousKey:            oldKey,
		NewKey:                 newKey,
		RotatedAt:              now,
		Reason:                 reason,
		AuthorizationSignature: a.Sign([]byte(auth)),
	}

	history := make([]KeyRotation, len(a.RotationHistory), len(a.RotationHistory)+1)
	copy(history, a.RotationHistory)
	history = append(history, step)

	return &Anchor{
		priv:            priv,
		pub:             pub,
		CreatedAt:       a.CreatedAt,
		Name:            a.Name,
		RotationHistory: history,
	}, nil
}

// Document is the shareable public identity document. It carries no
// private key material and is self-signed by the current key.
type Document struct {
	ID              ID            `json:"id"`
	PublicKey       string        `json:"public_key"`
	Algorithm       string        `json:"algorithm"`
	CreatedAt       uint64        `json:"created_at"`
	Name            string        `json:"name,omitempty"`
	RotationHistory []KeyRotation `json:"rotation_history,omitempty"`
	Signature       string        `json:"signature"`
}

// documentPayload is the canonical signed portion of a Document.
// Field order is fixed; the signature field is excluded.
type documentPayload struct {
	ID        ID     `json:"id"`
	PublicKey string `json:"public_key"`
	Algorithm string `json:"algorithm"`
	CreatedAt uint64 `json:"created_at"`
	Name      string `json:"name,omitempty"`
}

// Document generates the self-signed public identity document.
func (a *Anchor) Document() (*Document, error) {
	doc := &Document{
		ID:              a.ID(),
		PublicKey:       a.PublicKeyBase64(),
		Algorithm:       "ed25519",
		CreatedAt:       a.CreatedAt,
		Name:            a.Name,
		RotationHistory: append([]KeyRotation(nil), a.RotationHistory...),
	}
	payload, err := json.Marshal(documentPayload{
		ID:        doc.ID,
		PublicKey: doc.PublicKey,
		Algorithm: doc.Algorithm,
		CreatedAt: doc.CreatedAt,
		Name:      doc.Name,
	})
	if err != nil {
		return nil, errors.New(errors.CodeSerialization, "marshal identity document", err)
	}
	doc.Signature = a.Sign(payload)
	return doc, nil
}

// VerifySignature checks the self-signature on the document.
func (d *Document) VerifySignature() error {
	payload, err := json.Marshal(documentPayload{
		ID:        d.ID,
		PublicKey: d.PublicKey,
		Algorithm: d.Algorithm,
		CreatedAt: d.CreatedAt,
		Name:      d.Name,
	})
	if err != nil {
		return errors.New(errors.CodeSerialization, "marshal identity document", err)
	}
	return VerifyBase64(d.PublicKey, payload, d.Signature)
}

// VerifyRotationTrail walks the rotation history and checks that each
// step is authorized by the key it rotates away from, that the steps
// chain (each NewKey is the next step's PreviousKey), that the final key
// is the document's current key, and that timestamps never decrease.
func (d *Document) VerifyRotationTrail() error {
	if len(d.RotationHistory) == 0 {
		return nil
	}
	var lastAt uint64
	for i, step := range d.RotationHistory {
		if step.RotatedAt < lastAt {
			return errors.Newf(errors.CodeInvalidInput, "rotation %d timestamp moves backwards", i)
		}
		lastAt = step.RotatedAt
		if i > 0 && d.RotationHistory[i-1].NewKey != step.PreviousKey {
			return errors.Newf(errors.CodeInvalidInput, "rotation %d does not chain from previous step", i)
		}
		auth := fmt.Sprintf("rotate:%s:%s:%d:%s", step.PreviousKey, step.NewKey, step.RotatedAt, step.Reason)
		if err := VerifyBase64(step.PreviousKey, []byte(auth), step.AuthorizationSignature); err != nil {
			return errors.Newf(errors.CodeSignatureInvalid, "rotation %d authorization invalid", i)
		}
	}
	if last := d.RotationHistory[len(d.RotationHistory)-1]; last.NewKey != d.PublicKey {
		return errors.New(errors.CodeInvalidInput, "rotation trail does not end at the current key", nil)
	}
	return nil
}
