// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity implements ed25519 identity anchors: the root
// cryptographic identity of an agent. The public key IS the identity;
// the private key proves ownership.
package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/jllopis/aegis/pkg/errors"
)

// ID is the stable identifier of an identity, derived deterministically
// from its public key. Format: "aid_" + hex of the first 16 bytes of
// SHA-256(public key). Rotating a key produces a new ID.
type ID string

// IDFromPublicKey computes the identity ID for a verifying key.
func IDFromPublicKey(pub ed25519.PublicKey) ID {
	sum := sha256.Sum256(pub)
	return ID("aid_" + hex.EncodeToString(sum[:16]))
}

// NowMicros returns the current time in microseconds since the Unix epoch.
// Every signed payload in aegis carries timestamps in this unit; explicit
// integer widths keep canonical encodings stable across platforms.
func NowMicros() uint64 {
	return uint64(time.Now().UnixMicro())
}

// SignBase64 signs a message with an ed25519 private key and returns the
// signature as standard base64.
func SignBase64(priv ed25519.PrivateKey, message []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, message))
}

// VerifyBase64 verifies a base64 signature over a message using a base64
// encoded public key.
func VerifyBase64(pubBase64 string, message []byte, sigBase64 string) error {
	pub, err := DecodePublicKey(pubBase64)
	if err != nil {
		return err
	}
	sig, err := base64.StdEncoding.DecodeString(sigBase64)
	if err != nil {
		return errors.New(errors.CodeSignatureInvalid, "invalid base64 signature", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return errors.Newf(errors.CodeSignatureInvalid, "signature must be %d bytes, got %d", ed25519.SignatureSize, len(sig))
	}
	if !ed25519.Verify(pub, message, sig) {
		return errors.New(errors.CodeSignatureInvalid, "signature verification failed", nil)
	}
	return nil
}

// DecodePublicKey decodes a base64 ed25519 public key.
func DecodePublicKey(pubBase64 string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(pubBase64)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidKey, "invalid base64 public key", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, errors.Newf(errors.CodeInvalidKey, "public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// EncodePublicKey encodes an ed25519 public key as standard base64.
func EncodePublicKey(pub ed25519.PublicKey) string {
	return base64.StdEncoding.EncodeToString(pub)
}

// WitnessSignature is a countersignature by another identity over some
// record (a receipt or a revocation).
type WitnessSignature struct {
	Witness    ID     `json:"witness"`
	WitnessKey string `json:"witness_key"`
	SignedAt   uint64 `json:"signed_at"`
	Signature  string `json:"signature"`
}
