// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package trust

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jllopis/aegis/pkg/capability"
	"github.com/jllopis/aegis/pkg/errors"
	"github.com/jllopis/aegis/pkg/identity"
)

// ID is the unique identifier of a trust grant.
// Format: "atrust_" + hex of the first 16 bytes of SHA-256(grant hash).
type ID string

// Grant is a signed trust relationship between two identities. All fields
// except GranteeAcknowledgment are covered by GrantHash and sealed by
// GrantorSignature at signing time; mutating any of them afterwards makes
// VerifySignature fail. A grant is never edited or deleted in place; it
// is invalidated only by a separate Revocation record.
type Grant struct {
	ID         ID          `json:"id"`
	Grantor    identity.ID `json:"grantor"`
	GrantorKey string      `json:"grantor_key"`
	Grantee    identity.ID `json:"grantee"`
	GranteeKey string      `json:"grantee_key"`

	Capabilities []capability.Capability `json:"capabilities"`
	Constraints  Constraints             `json:"constraints"`

	// DelegationAllowed permits the grantee to delegate onward.
	DelegationAllowed bool `json:"delegation_allowed"`
	// MaxDelegationDepth caps how deep delegation may descend below this
	// grant. Nil means unbounded (when delegation is allowed at all).
	MaxDelegationDepth *uint32 `json:"max_delegation_depth,omitempty"`
	// ParentGrant links a delegated grant to the grant it descends from.
	// Empty for direct grants.
	ParentGrant ID `json:"parent_grant,omitempty"`
	// DelegationDepth is 0 for direct grants, 1 for the first delegation,
	// and so on.
	DelegationDepth uint32 `json:"delegation_depth"`

	// RequiredRevocationWitnesses lists identities whose countersignature
	// a caller's policy may require on a revocation of this grant. The
	// verifier itself does not enforce it.
	RequiredRevocationWitnesses []identity.ID `json:"required_revocation_witnesses,omitempty"`

	GrantedAt        uint64 `json:"granted_at"`
	GrantHash        string `json:"grant_hash"`
	GrantorSignature string `json:"grantor_signature"`
	// GranteeAcknowledgment is the grantee's optional countersignature.
	// It is a softer assertion ("I have seen and accept this grant") and
	// does not affect validity.
	GranteeAcknowledgment string `json:"grantee_acknowledgment,omitempty"`
}

// hashInput builds the canonical encoding covered by GrantHash. Field
// order is fixed and integers are decimal; capability and constraint sets
// go through encoding/json, which emits struct fields in declaration
// order and map keys sorted, so the encoding is stable across platforms.
func hashInput(g *Grant) (string, error) {
	capsJSON, err := json.Marshal(g.Capabilities)
	if err != nil {
		return "", errors.New(errors.CodeSerialization, "marshal capabilities", err)
	}
	constraintsJSON, err := json.Marshal(g.Constraints)
	if err != nil {
		return "", errors.New(errors.CodeSerialization, "marshal constraints", err)
	}
	var maxDepth uint32
	if g.MaxDelegationDepth != nil {
		maxDepth = *g.MaxDelegationDepth
	}
	witnesses := make([]string, len(g.RequiredRevocationWitnesses))
	for i, w := range g.RequiredRevocationWitnesses {
		witnesses[i] = string(w)
	}
	return fmt.Sprintf("%s:%s:%s:%s:%s:%s:%t:%d:%d:%s:%s:%d",
		g.Grantor,
		g.GrantorKey,
		g.Grantee,
		g.GranteeKey,
		capsJSON,
		constraintsJSON,
		g.DelegationAllowed,
		maxDepth,
		g.DelegationDepth,
		g.ParentGrant,
		strings.Join(witnesses, ","),
		g.GrantedAt,
	), nil
}

// VerifySignature checks that the grant's fields still hash to GrantHash
// and that GrantorSignature is a valid grantor signature over it. Any
// field mutation after signing fails here; the hash is never silently
// re-derived and accepted.
func (g *Grant) VerifySignature() error {
	input, err := hashInput(g)
	if err != nil {
		return err
	}
	sum := sha256.Sum256([]byte(input))
	if hex.EncodeToString(sum[:]) != g.GrantHash {
		return errors.New(errors.CodeSignatureInvalid, "grant fields do not match signed hash", nil)
	}
	return identity.VerifyBase64(g.GrantorKey, []byte(g.GrantHash), g.GrantorSignature)
}

// Acknowledge adds the grantee's acknowledgment countersignature.
func (g *Grant) Acknowledge(grantee *identity.Anchor) {
	msg := fmt.Sprintf("ack:%s:%s", g.ID, g.GrantHash)
	g.GranteeAcknowledgment = grantee.Sign([]byte(msg))
}

// VerifyAcknowledgment checks the grantee's countersignature, if present.
func (g *Grant) VerifyAcknowledgment() error {
	if g.GranteeAcknowledgment == "" {
		return errors.New(errors.CodeNotFound, "grant has no acknowledgment", nil)
	}
	msg := fmt.Sprintf("ack:%s:%s", g.ID, g.GrantHash)
	return identity.VerifyBase64(g.GranteeKey, []byte(msg), g.GranteeAcknowledgment)
}

// GrantBuilder accumulates the fields of a trust grant before signing.
type GrantBuilder struct {
	grantor            identity.ID
	grantee            identity.ID
	granteeKey         string
	capabilities       []capability.Capability
	constraints        Constraints
	delegationAllowed  bool
	maxDelegationDepth *uint32
	parentGrant        ID
	delegationDepth    uint32
	witnesses          []identity.ID
}

// NewGrantBuilder starts building a grant from grantor to grantee.
// granteeKey is the grantee's base64 public key at grant time.
func NewGrantBuilder(grantor, grantee identity.ID, granteeKey string) *GrantBuilder {
	return &GrantBuilder{
		grantor:     grantor,
		grantee:     grantee,
		granteeKey:  granteeKey,
		constraints: Open(),
	}
}

// Capability adds a single capability to the grant.
func (b *GrantBuilder) Capability(cap capability.Capability) *GrantBuilder {
	b.capabilities = append(b.capabilities, cap)
	return b
}

// Capabilities adds multiple capabilities to the grant.
func (b *GrantBuilder) Capabilities(caps ...capability.Capability) *GrantBuilder {
	b.capabilities = append(b.capabilities, caps...)
	return b
}

// Constraints sets the grant constraints.
func (b *GrantBuilder) Constraints(c Constraints) *GrantBuilder {
	b.constraints = c
	return b
}

// AllowDelegation permits the grantee to delegate onward, at most
// maxDepth levels below this grant.
func (b *GrantBuilder) AllowDelegation(maxDepth uint32) *GrantBuilder {
	b.delegationAllowed = true
	b.maxDelegationDepth = &maxDepth
	return b
}

// DelegatedFrom marks this as a delegated grant descending from parent at
// the given depth. It does not validate against the parent; that happens
// at chain-verification time (or eagerly via ValidateDelegation).
func (b *GrantBuilder) DelegatedFrom(parent ID, depth uint32) *GrantBuilder {
	b.parentGrant = parent
	b.delegationDepth = depth
	return b
}

// RevocationWitnesses sets the identities a revocation of this grant
// should be countersigned by.
func (b *GrantBuilder) RevocationWitnesses(witnesses ...identity.ID) *GrantBuilder {
	b.witnesses = append(b.witnesses, witnesses...)
	return b
}

// Sign finalizes the grant: computes the canonical grant hash, derives
// the grant id from it, and signs the hash with the grantor's key.
func (b *GrantBuilder) Sign(grantor *identity.Anchor) (*Grant, error) {
	if len(b.capabilities) == 0 {
		return nil, errors.New(errors.CodeEmptyCapabilities, "no capabilities specified", nil)
	}

	g := &Grant{
		Grantor:                     b.grantor,
		GrantorKey:                  grantor.PublicKeyBase64(),
		Grantee:                     b.grantee,
		GranteeKey:                  b.granteeKey,
		Capabilities:                b.capabilities,
		Constraints:                 b.constraints,
		DelegationAllowed:           b.delegationAllowed,
		MaxDelegationDepth:          b.maxDelegationDepth,
		ParentGrant:                 b.parentGrant,
		DelegationDepth:             b.delegationDepth,
		RequiredRevocationWitnesses: b.witnesses,
		GrantedAt:                   identity.NowMicros(),
	}

	input, err := hashInput(g)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256([]byte(input))
	g.GrantHash = hex.EncodeToString(sum[:])

	idSum := sha256.Sum256([]byte(g.GrantHash))
	g.ID = ID("atrust_" + hex.EncodeToString(idSum[:16]))

	g.GrantorSignature = grantor.Sign([]byte(g.GrantHash))
	return g, nil
}
