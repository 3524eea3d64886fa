// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import "testing"

func TestCovers(t *testing.T) {
	tests := []struct {
		name      string
		granted   string
		requested string
		want      bool
	}{
		{"exact match", "read:calendar", "read:calendar", true},
		{"exact mismatch", "read:calendar", "write:calendar", false},
		{"universal wildcard", "*", "read:calendar", true},
		{"universal wildcard deep", "*", "write:anything:at:all", true},
		{"universal wildcard self", "*", "*", true},
		{"action wildcard", "read:*", "read:calendar", true},
		{"action wildcard other resource", "read:*", "read:email", true},
		{"action wildcard unbounded depth", "deploy:*", "deploy:prod:us-east", true},
		{"wildcard covers own prefix", "read:*", "read", true},
		{"wildcard wrong action", "read:*", "write:calendar", false},
		{"no partial segment on wildcard", "read:*", "reading:calendar", false},
		{"nested wildcard", "execute:deploy:*", "execute:deploy:production", true},
		{"nested wildcard mismatch", "execute:deploy:*", "execute:build:production", false},
		{"no prefix match without wildcard", "dep", "deploy:staging", false},
		{"no partial prefix", "read:cal", "read:calendar", false},
		{"exact does not cover deeper", "deploy:staging", "deploy:staging:extra", false},
		{"path wildcard", "storage/*", "storage/files", true},
		{"path wildcard deep", "storage/*", "storage/files/readme.md", true},
		{"path wildcard mismatch", "storage/*", "other/files", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Covers(tc.granted, tc.requested); got != tc.want {
				t.Errorf("Covers(%q, %q) = %v, want %v", tc.granted, tc.requested, got, tc.want)
			}
		})
	}
}

func TestCoverSet(t *testing.T) {
	caps := []Capability{New("read:*"), New("write:calendar")}

	if !Cover(caps, "read:email") {
		t.Error("read:* should cover read:email")
	}
	if !Cover(caps, "write:calendar") {
		t.Error("exact grant should cover itself")
	}
	if Cover(caps, "write:email") {
		t.Error("write:email is not covered by the set")
	}
}

func TestCoverAll(t *testing.T) {
	caps := []Capability{New("read:*"), New("write:calendar")}

	if !CoverAll(caps, []string{"read:email", "write:calendar"}) {
		t.Error("set should cover both requests")
	}
	if CoverAll(caps, []string{"read:email", "write:email"}) {
		t.Error("set should not cover write:email")
	}
	if !CoverAll(caps, nil) {
		t.Error("empty request set is trivially covered")
	}
}

func TestEqualIgnoresDescription(t *testing.T) {
	a := New("read:calendar")
	b := WithDescription("read:calendar", "can read calendar events")
	if !a.Equal(b) {
		t.Error("equality is based on URI only")
	}
}

func TestURIs(t *testing.T) {
	caps := []Capability{New("a:b"), New("c:*")}
	uris := URIs(caps)
	if len(uris) != 2 || uris[0] != "a:b" || uris[1] != "c:*" {
		t.Errorf("unexpected URIs: %v", uris)
	}
}
