package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSpecFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "grant.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write spec: %v", err)
	}
	return path
}

func TestLoadGrantSpec(t *testing.T) {
	path := writeSpecFile(t, `
grantor: alice
grantee: aid_0123456789abcdef
grantee_key: c29tZS1rZXk=
capabilities:
  - email:send
  - files:read:*
expires_seconds: 3600
max_uses: 5
allow_delegation: true
max_delegation_depth: 2
witnesses:
  - aid_fedcba9876543210
`)

	spec, err := loadGrantSpec(path)
	if err != nil {
		t.Fatalf("loadGrantSpec: %v", err)
	}
	if spec.Grantor != "alice" || spec.Grantee != "aid_0123456789abcdef" {
		t.Errorf("parties = %q -> %q", spec.Grantor, spec.Grantee)
	}
	if len(spec.Capabilities) != 2 || spec.Capabilities[1] != "files:read:*" {
		t.Errorf("capabilities = %v", spec.Capabilities)
	}
	if !spec.AllowDelegation || spec.MaxDelegationDepth != 2 {
		t.Errorf("delegation = %t depth %d", spec.AllowDelegation, spec.MaxDelegationDepth)
	}

	req := spec.toRequest()
	if req.Grantor != "alice" {
		t.Errorf("request grantor = %q", req.Grantor)
	}
	if req.Constraints.NotAfter == nil {
		t.Error("expected a time bound from expires_seconds")
	}
	if req.Constraints.MaxUses == nil || *req.Constraints.MaxUses != 5 {
		t.Errorf("MaxUses = %v", req.Constraints.MaxUses)
	}
	if len(req.Witnesses) != 1 {
		t.Errorf("witnesses = %v", req.Witnesses)
	}
}

func TestLoadGrantSpecDefaultsGrantor(t *testing.T) {
	path := writeSpecFile(t, `
grantee: aid_0123456789abcdef
capabilities: [email:send]
`)
	spec, err := loadGrantSpec(path)
	if err != nil {
		t.Fatalf("loadGrantSpec: %v", err)
	}
	req := spec.toRequest()
	if req.Grantor != "default" {
		t.Errorf("grantor = %q, want default", req.Grantor)
	}
	if req.Constraints.NotAfter != nil || req.Constraints.MaxUses != nil {
		t.Errorf("expected open constraints, got %+v", req.Constraints)
	}
}

func TestLoadGrantSpecRejectsIncomplete(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"missing grantee", "capabilities: [email:send]", "grantee is required"},
		{"missing capabilities", "grantee: aid_0123456789abcdef", "capabilities is required"},
		{"invalid yaml", "grantee: [unclosed", "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeSpecFile(t, tt.content)
			_, err := loadGrantSpec(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want substring %q", err, tt.want)
			}
		})
	}
}
