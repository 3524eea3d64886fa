// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package trust implements signed trust grants between identities:
// building and signing, delegation chains, revocation, and offline
// verification. A trust grant is a cryptographic object where identity A
// says "I trust identity B to do {capabilities} under {constraints}".
package trust

import "github.com/jllopis/aegis/pkg/identity"

// Constraints bound a trust grant in time and use count. Absent fields
// mean unconstrained on that axis. Constraints are immutable once the
// grant is signed; they participate in the grant hash.
type Constraints struct {
	// NotBefore is the earliest valid time (microseconds since epoch).
	NotBefore uint64 `json:"not_before"`
	// NotAfter is the expiry time. Nil means valid until revoked.
	NotAfter *uint64 `json:"not_after,omitempty"`
	// MaxUses caps how many times the grant may be exercised. Nil means
	// unlimited.
	MaxUses *uint64 `json:"max_uses,omitempty"`
	// Geographic restricts where the grant may be exercised.
	Geographic []string `json:"geographic,omitempty"`
	// IPAllowlist restricts source addresses.
	IPAllowlist []string `json:"ip_allowlist,omitempty"`
	// Custom carries caller-defined restrictions. Keys are marshaled in
	// sorted order, so custom constraints are safe inside signed payloads.
	Custom map[string]any `json:"custom,omitempty"`
}

// Open returns constraints valid immediately with no expiry or use limit.
func Open() Constraints {
	return Constraints{NotBefore: identity.NowMicros()}
}

// TimeBounded returns constraints with an explicit validity window.
func TimeBounded(notBefore, notAfter uint64) Constraints {
	return Constraints{NotBefore: notBefore, NotAfter: &notAfter}
}

// WithMaxUses returns a copy with a use-count ceiling.
func (c Constraints) WithMaxUses(max uint64) Constraints {
	c.MaxUses = &max
	return c
}

// TimeValid reports whether the constraints are satisfied at the given
// time. Both window edges are inclusive.
func (c Constraints) TimeValid(now uint64) bool {
	if now < c.NotBefore {
		return false
	}
	if c.NotAfter != nil && now > *c.NotAfter {
		return false
	}
	return true
}

// WithinUses reports whether a use at index currentUses is still allowed.
// With MaxUses=5, use indices 0 through 4 are valid and index 5 is not.
func (c Constraints) WithinUses(currentUses uint64) bool {
	return c.MaxUses == nil || currentUses < *c.MaxUses
}
