// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	base := New(CodeDepthExceeded, "delegation depth 3 exceeds max 1", nil)
	want := "[DEPTH_EXCEEDED] delegation depth 3 exceeds max 1"
	if base.Error() != want {
		t.Errorf("Error() = %q, want %q", base.Error(), want)
	}

	wrapped := New(CodeStorage, "save grant", fmt.Errorf("disk full"))
	if wrapped.Error() != "[STORAGE_ERROR] save grant: disk full" {
		t.Errorf("unexpected wrapped message: %q", wrapped.Error())
	}
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := New(CodeInternal, "wrapper", cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause through Unwrap")
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ""},
		{"aegis error", New(CodeExceedsCeiling, "too wide", nil), CodeExceedsCeiling},
		{"wrapped aegis error", fmt.Errorf("outer: %w", New(CodeNotFound, "gone", nil)), CodeNotFound},
		{"foreign error", fmt.Errorf("plain"), CodeInternal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := CodeOf(tc.err); got != tc.want {
				t.Errorf("CodeOf = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestIsStructural(t *testing.T) {
	structural := []ErrorCode{
		CodeEmptyCapabilities, CodeDelegationNotAllowed, CodeDepthExceeded,
		CodeInvalidChain, CodeExceedsCeiling, CodeSpawnNotPermitted,
		CodeMaxChildrenExceeded,
	}
	for _, code := range structural {
		if !IsStructural(New(code, "x", nil)) {
			t.Errorf("code %s should be structural", code)
		}
	}
	if IsStructural(New(CodeStorage, "x", nil)) {
		t.Error("storage errors are not structural")
	}
	if IsStructural(nil) {
		t.Error("nil is not structural")
	}
}

func TestStatusCodes(t *testing.T) {
	if New(CodeNotFound, "x", nil).StatusCode != 404 {
		t.Error("not found should map to 404")
	}
	if New(CodeExceedsCeiling, "x", nil).StatusCode != 403 {
		t.Error("ceiling violations should map to 403")
	}
	if New(CodeInternal, "x", nil).StatusCode != 500 {
		t.Error("internal should map to 500")
	}
}
