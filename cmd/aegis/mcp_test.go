// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"reflect"
	"testing"
)

func TestBuildToolArgs(t *testing.T) {
	tests := []struct {
		name    string
		rawJSON string
		pairs   []string
		want    map[string]interface{}
		wantErr bool
	}{
		{
			name: "empty",
			want: map[string]interface{}{},
		},
		{
			name:  "string pair",
			pairs: []string{"name=alice"},
			want:  map[string]interface{}{"name": "alice"},
		},
		{
			name:  "typed pairs",
			pairs: []string{"max_uses=5", "chain=true", `capabilities=["email:send"]`},
			want: map[string]interface{}{
				"max_uses":     float64(5),
				"chain":        true,
				"capabilities": []interface{}{"email:send"},
			},
		},
		{
			name:    "json object",
			rawJSON: `{"identity":"alice","max_uses":5}`,
			want:    map[string]interface{}{"identity": "alice", "max_uses": float64(5)},
		},
		{
			name:    "pair overrides json",
			rawJSON: `{"identity":"alice"}`,
			pairs:   []string{"identity=bob"},
			want:    map[string]interface{}{"identity": "bob"},
		},
		{
			name:  "value with equals",
			pairs: []string{"purpose=a=b"},
			want:  map[string]interface{}{"purpose": "a=b"},
		},
		{
			name:    "malformed pair",
			pairs:   []string{"noequals"},
			wantErr: true,
		},
		{
			name:    "malformed json",
			rawJSON: `{"identity":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildToolArgs(tt.rawJSON, tt.pairs)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("buildToolArgs: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("buildToolArgs = %#v, want %#v", got, tt.want)
			}
		})
	}
}
