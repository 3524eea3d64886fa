// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package receipt implements signed action receipts: tamper-evident
// proof that an identity took an action at a point in time. Receipts can
// chain to previous receipts to form an audit trail and carry witness
// countersignatures from third parties.
package receipt

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/jllopis/aegis/pkg/errors"
	"github.com/jllopis/aegis/pkg/identity"
)

// ID is the unique identifier of a receipt.
// Format: "arec_" + hex of the first 16 bytes of SHA-256(receipt hash).
type ID string

// ActionType classifies the recorded action. The closed set below covers
// the built-in kinds; any other non-empty string is a custom type. The
// value participates in the receipt hash.
type ActionType string

const (
	ActionDecision          ActionType = "decision"
	ActionObservation       ActionType = "observation"
	ActionMutation          ActionType = "mutation"
	ActionDelegation        ActionType = "delegation"
	ActionRevocation        ActionType = "revocation"
	ActionIdentityOperation ActionType = "identity_operation"
)

// Content describes the action taken.
type Content struct {
	// Description is the human-readable summary.
	Description string `json:"description"`
	// Data carries structured, type-specific detail.
	Data any `json:"data,omitempty"`
	// References lists related resource identifiers (grant ids, spawn
	// ids, URLs).
	References []string `json:"references,omitempty"`
}

// NewContent creates content with just a description.
func NewContent(description string) Content {
	return Content{Description: description}
}

// WithData creates content with a description and structured data.
func WithData(description string, data any) Content {
	return Content{Description: description, Data: data}
}

// ActionReceipt is a signed record of one action. All fields except the
// witness list are covered by ReceiptHash and sealed by Signature.
type ActionReceipt struct {
	ID        ID          `json:"id"`
	Actor     identity.ID `json:"actor"`
	ActorKey  string      `json:"actor_key"`
	Type      ActionType  `json:"action_type"`
	Action    Content     `json:"action"`
	Timestamp uint64      `json:"timestamp"`
	// ContextHash is an optional hash of the relevant state at action time.
	ContextHash string `json:"context_hash,omitempty"`
	// PreviousReceipt chains this receipt to an earlier one. Empty for
	// the head of a trail.
	PreviousReceipt ID     `json:"previous_receipt,omitempty"`
	ReceiptHash     string `json:"receipt_hash"`
	Signature       string `json:"signature"`

	Witnesses []identity.WitnessSignature `json:"witnesses,omitempty"`
}

func hashInput(r *ActionReceipt) (string, error) {
	actionJSON, err := json.Marshal(r.Action)
	if err != nil {
		return "", errors.New(errors.CodeSerialization, "marshal action content", err)
	}
	return fmt.Sprintf("%s:%s:%s:%s:%d:%s:%s",
		r.Actor,
		r.ActorKey,
		r.Type,
		actionJSON,
		r.Timestamp,
		r.ContextHash,
		r.PreviousReceipt,
	), nil
}

// VerifySignature checks that the receipt's fields still hash to
// ReceiptHash and that Signature is a valid actor signature over it.
func (r *ActionReceipt) VerifySignature() error {
	input, err := hashInput(r)
	if err != nil {
		return err
	}
	sum := sha256.Sum256([]byte(input))
	if hex.EncodeToString(sum[:]) != r.ReceiptHash {
		return errors.New(errors.CodeSignatureInvalid, "receipt fields do not match signed hash", nil)
	}
	return identity.VerifyBase64(r.ActorKey, []byte(r.ReceiptHash), r.Signature)
}

// AddWitness appends a witness countersignature.
func (r *ActionReceipt) AddWitness(w identity.WitnessSignature) {
	r.Witnesses = append(r.Witnesses, w)
}

func witnessPayload(witness identity.ID, receiptHash string, signedAt uint64) string {
	return fmt.Sprintf("witness:%s:%s:%d", witness, receiptHash, signedAt)
}

// Witness creates a witness countersignature over a receipt hash.
func Witness(witness *identity.Anchor, receiptHash string) identity.WitnessSignature {
	now := identity.NowMicros()
	return identity.WitnessSignature{
		Witness:    witness.ID(),
		WitnessKey: witness.PublicKeyBase64(),
		SignedAt:   now,
		Signature:  witness.Sign([]byte(witnessPayload(witness.ID(), receiptHash, now))),
	}
}

// Verification is the result of verifying one receipt.
type Verification struct {
	SignatureValid bool `json:"signature_valid"`
	// WitnessesValid reports each witness countersignature in order.
	WitnessesValid []bool `json:"witnesses_valid,omitempty"`
	IsValid        bool   `json:"is_valid"`
	VerifiedAt     uint64 `json:"verified_at"`
}

// Verify checks the actor signature and every witness countersignature.
func Verify(r *ActionReceipt) *Verification {
	v := &Verification{
		SignatureValid: r.VerifySignature() == nil,
		VerifiedAt:     identity.NowMicros(),
	}
	allWitnessesOK := true
	for _, w := range r.Witnesses {
		payload := witnessPayload(w.Witness, r.ReceiptHash, w.SignedAt)
		ok := identity.VerifyBase64(w.WitnessKey, []byte(payload), w.Signature) == nil
		v.WitnessesValid = append(v.WitnessesValid, ok)
		allWitnessesOK = allWitnessesOK && ok
	}
	v.IsValid = v.SignatureValid && allWitnessesOK
	return v
}

// VerifyChain verifies a sequence of chained receipts ordered oldest to
// newest: every signature must hold and each receipt after the first
// must reference its predecessor. The head may itself chain to a receipt
// outside the slice; verifying a partial trail is allowed.
func VerifyChain(chain []*ActionReceipt) error {
	for i, r := range chain {
		if err := r.VerifySignature(); err != nil {
			return errors.Newf(errors.CodeInvalidChain, "receipt %d signature invalid", i)
		}
		if i > 0 && r.PreviousReceipt != chain[i-1].ID {
			return errors.Newf(errors.CodeInvalidChain, "receipt %d does not chain to receipt %d", i, i-1)
		}
	}
	return nil
}

// Builder accumulates the fields of a receipt before signing.
type Builder struct {
	actor           identity.ID
	actionType      ActionType
	action          Content
	contextHash     string
	previousReceipt ID
}

// NewBuilder starts building a receipt for an action by actor.
func NewBuilder(actor identity.ID, actionType ActionType, action Content) *Builder {
	return &Builder{actor: actor, actionType: actionType, action: action}
}

// ContextHash sets the hash of the relevant state at action time.
func (b *Builder) ContextHash(hash string) *Builder {
	b.contextHash = hash
	return b
}

// ChainTo links this receipt to a previous one.
func (b *Builder) ChainTo(previous ID) *Builder {
	b.previousReceipt = previous
	return b
}

// Sign finalizes the receipt: computes the receipt hash, derives the id
// from it, and signs the hash with the actor's key.
func (b *Builder) Sign(actor *identity.Anchor) (*ActionReceipt, error) {
	r := &ActionReceipt{
		Actor:           b.actor,
		ActorKey:        actor.PublicKeyBase64(),
		Type:            b.actionType,
		Action:          b.action,
		Timestamp:       identity.NowMicros(),
		ContextHash:     b.contextHash,
		PreviousReceipt: b.previousReceipt,
	}

	input, err := hashInput(r)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256([]byte(input))
	r.ReceiptHash = hex.EncodeToString(sum[:])

	idSum := sha256.Sum256([]byte(r.ReceiptHash))
	r.ID = ID("arec_" + hex.EncodeToString(idSum[:16]))

	r.Signature = actor.Sign([]byte(r.ReceiptHash))
	return r, nil
}
