// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/aegis/pkg/identity"
	"github.com/jllopis/aegis/pkg/runtime"
	"github.com/jllopis/aegis/pkg/trust"
)

// grantSpec is the YAML shape accepted by `aegis trust grant --spec`.
type grantSpec struct {
	Grantor            string   `yaml:"grantor"`
	Grantee            string   `yaml:"grantee"`
	GranteeKey         string   `yaml:"grantee_key"`
	Capabilities       []string `yaml:"capabilities"`
	ExpiresSeconds     uint64   `yaml:"expires_seconds"`
	MaxUses            uint64   `yaml:"max_uses"`
	AllowDelegation    bool     `yaml:"allow_delegation"`
	MaxDelegationDepth uint32   `yaml:"max_delegation_depth"`
	ParentGrant        string   `yaml:"parent_grant"`
	Witnesses          []string `yaml:"witnesses"`
}

func loadGrantSpec(path string) (*grantSpec, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var spec grantSpec
	if err := yaml.Unmarshal(payload, &spec); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if spec.Grantee == "" {
		return nil, fmt.Errorf("%s: grantee is required", path)
	}
	if len(spec.Capabilities) == 0 {
		return nil, fmt.Errorf("%s: capabilities is required", path)
	}
	return &spec, nil
}

func (s *grantSpec) toRequest() runtime.GrantRequest {
	constraints := trust.Open()
	if s.ExpiresSeconds > 0 {
		now := identity.NowMicros()
		constraints = trust.TimeBounded(now, now+s.ExpiresSeconds*1_000_000)
	}
	if s.MaxUses > 0 {
		constraints = constraints.WithMaxUses(s.MaxUses)
	}

	req := runtime.GrantRequest{
		Grantor:            s.Grantor,
		Grantee:            identity.ID(s.Grantee),
		GranteeKey:         s.GranteeKey,
		Capabilities:       s.Capabilities,
		Constraints:        constraints,
		AllowDelegation:    s.AllowDelegation,
		MaxDelegationDepth: s.MaxDelegationDepth,
		ParentGrant:        trust.ID(s.ParentGrant),
	}
	if req.Grantor == "" {
		req.Grantor = "default"
	}
	for _, w := range s.Witnesses {
		req.Witnesses = append(req.Witnesses, identity.ID(w))
	}
	return req
}
