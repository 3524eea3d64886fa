// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads aegis configuration from YAML files and
// AEGIS_-prefixed environment variables, env taking precedence.
package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Store     StoreConfig     `koanf:"store"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	MCP       MCPConfig       `koanf:"mcp"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type StoreConfig struct {
	// Path is the SQLite database location.
	Path string `koanf:"path"`
}

type TelemetryConfig struct {
	Enabled bool `koanf:"enabled"`
	// Exporter selects the trace/metric exporter: stdout, otlp, none.
	Exporter string `koanf:"exporter"`
	// Endpoint is the OTLP gRPC collector address.
	Endpoint string `koanf:"endpoint"`
	// Insecure disables TLS on the OTLP connection.
	Insecure    bool   `koanf:"insecure"`
	ServiceName string `koanf:"service_name"`
}

type MCPConfig struct {
	// Transport is stdio or sse.
	Transport string `koanf:"transport"`
	Addr      string `koanf:"addr"`
}

// Global k instance
var k = koanf.New(".")

func Load(path string) (*Config, error) {
	// Defaults
	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("store.path", "aegis.db")
	k.Set("telemetry.enabled", false)
	k.Set("telemetry.exporter", "stdout")
	k.Set("telemetry.endpoint", "localhost:4317")
	k.Set("telemetry.service_name", "aegis")
	k.Set("mcp.transport", "stdio")
	k.Set("mcp.addr", ":8790")

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Load from ENV (AEGIS_STORE_PATH -> store.path)
	if err := k.Load(env.Provider("AEGIS_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "AEGIS_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
