// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package capability implements hierarchical capability URIs and the
// wildcard covering rule used on every verification path.
//
// Capabilities use a URI scheme: `action:resource` with wildcards.
// Examples:
//   - `read:calendar`: read calendar specifically
//   - `read:*`: read anything
//   - `execute:deploy:production`: execute deploy to production
//   - `execute:deploy:*`: execute deploy to any environment
//   - `*`: all capabilities (root trust)
package capability

import "strings"

// Capability is a single permitted action, named by a hierarchical URI.
type Capability struct {
	// URI of the capability (e.g. "read:calendar", "execute:deploy:production").
	URI string `json:"uri"`
	// Description is optional human-readable text. It never participates
	// in matching or equality.
	Description string `json:"description,omitempty"`
}

// New returns a capability for the given URI.
func New(uri string) Capability {
	return Capability{URI: uri}
}

// WithDescription returns a capability with a human-readable description.
func WithDescription(uri, description string) Capability {
	return Capability{URI: uri, Description: description}
}

// Covers reports whether this capability's URI covers the requested URI.
func (c Capability) Covers(requested string) bool {
	return Covers(c.URI, requested)
}

// Equal reports whether two capabilities name the same URI.
// Descriptions are ignored.
func (c Capability) Equal(other Capability) bool {
	return c.URI == other.URI
}

// Covers reports whether a granted URI covers a requested URI.
//
// Matching rules:
//   - `*` matches everything
//   - `action:*` matches `action` and anything under `action:`, to any depth
//   - `action:resource` matches exactly
//
// There are no partial-segment matches: "dep" never covers "deploy:staging"
// and "read:*" never covers "reading:calendar".
func Covers(granted, requested string) bool {
	if granted == "*" {
		return true
	}
	if granted == requested {
		return true
	}

	// Wildcard suffix matching: "read:*" covers "read:calendar".
	if prefix, ok := strings.CutSuffix(granted, ":*"); ok {
		if requested == prefix || strings.HasPrefix(requested, prefix+":") {
			return true
		}
	}

	// Path-form wildcard: "storage/*" covers "storage/files/readme.md".
	if prefix, ok := strings.CutSuffix(granted, "/*"); ok {
		if requested == prefix || strings.HasPrefix(requested, prefix+"/") {
			return true
		}
	}

	return false
}

// Cover reports whether any capability in the granted set covers the
// requested URI.
func Cover(granted []Capability, requested string) bool {
	for _, cap := range granted {
		if cap.Covers(requested) {
			return true
		}
	}
	return false
}

// CoverAll reports whether the granted set covers every requested URI.
func CoverAll(granted []Capability, requested []string) bool {
	for _, req := range requested {
		if !Cover(granted, req) {
			return false
		}
	}
	return true
}

// URIs returns the URI strings of a capability set, in order.
func URIs(caps []Capability) []string {
	out := make([]string, len(caps))
	for i, cap := range caps {
		out[i] = cap.URI
	}
	return out
}
