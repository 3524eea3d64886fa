// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
)

// Scoped key derivation. A derived key is deterministic for a given
// (root seed, context) pair but reveals nothing about the root key.
// Derivation is HMAC-SHA256(root seed, context) used as an ed25519 seed.

func (a *Anchor) deriveKey(context string) ed25519.PrivateKey {
	mac := hmac.New(sha256.New, a.priv.Seed())
	mac.Write([]byte(context))
	return ed25519.NewKeyFromSeed(mac.Sum(nil))
}

// DeriveSessionKey derives a scoped signing key for a session.
func (a *Anchor) DeriveSessionKey(sessionID string) ed25519.PrivateKey {
	return a.deriveKey("aegis:session:" + sessionID)
}

// DeriveCapabilityKey derives a scoped signing key for a capability.
func (a *Anchor) DeriveCapabilityKey(capabilityURI string) ed25519.PrivateKey {
	return a.deriveKey("aegis:capability:" + capabilityURI)
}

// DeriveDeviceKey derives a scoped signing key for a device.
func (a *Anchor) DeriveDeviceKey(deviceID string) ed25519.PrivateKey {
	return a.deriveKey("aegis:device:" + deviceID)
}

// DeriveRevocationKey derives the signing key used to revoke a specific
// trust grant.
func (a *Anchor) DeriveRevocationKey(trustID string) ed25519.PrivateKey {
	return a.deriveKey("aegis:revocation:" + trustID)
}
