// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/aegis/pkg/config"
	aegismcp "github.com/jllopis/aegis/pkg/mcp"
	"github.com/jllopis/aegis/pkg/runtime"
	"github.com/jllopis/aegis/pkg/telemetry"
)

func runMCP(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	if len(args) == 0 {
		fatal(errors.New("usage: aegis mcp <serve|tools|call>"))
	}

	switch args[0] {
	case "serve":
		runMCPServe(ctx, global, cfg, args[1:])
	case "tools":
		runMCPTools(ctx, global, cfg, args[1:])
	case "call":
		runMCPCall(ctx, global, cfg, args[1:])
	default:
		fatal(fmt.Errorf("unknown mcp command %q", args[0]))
	}
}

func runMCPServe(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	cmd := flag.NewFlagSet("mcp serve", flag.ContinueOnError)
	transport := cmd.String("transport", cfg.MCP.Transport, "stdio or sse")
	addr := cmd.String("addr", cfg.MCP.Addr, "Listen address for the sse transport")
	sweepInterval := cmd.Duration("sweep-interval", 0, "Spawn lifetime sweep interval (0 = disabled)")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}

	// The server runs until EOF or a signal, so it is the one command
	// that picks up config edits live. Log level and format are safe to
	// swap mid-flight; the store path is not, and stays as opened.
	if global.ConfigPath != "" {
		watcher, err := config.NewWatcher(global.ConfigPath)
		if err != nil {
			fatal(err)
		}
		watcher.OnChange(func(next *config.Config) {
			telemetry.ConfigureSlog(os.Stderr, next.Log.Level, next.Log.Format)
			slog.Info("config.reloaded",
				slog.String("log_level", next.Log.Level),
				slog.String("log_format", next.Log.Format))
		})
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	withRuntime(ctx, cfg, func(rt *runtime.Runtime) {
		if *sweepInterval > 0 {
			rt = runtime.New(rt.Store(), runtime.WithLifetimeSweepInterval(*sweepInterval))
			rt.StartLifetimeSweeper(ctx)
			defer rt.StopLifetimeSweeper()
		}

		srv := aegismcp.NewServer("aegis", version, rt)
		switch *transport {
		case "stdio":
			slog.Info("mcp.serve", slog.String("transport", "stdio"))
			if err := srv.ServeStdio(); err != nil {
				fatal(err)
			}
		case "sse":
			slog.Info("mcp.serve", slog.String("transport", "sse"), slog.String("addr", *addr))
			if err := srv.ServeSSE(*addr); err != nil {
				fatal(err)
			}
		default:
			fatal(fmt.Errorf("unsupported mcp transport %q", *transport))
		}
	})
}

func runMCPTools(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	cmd := flag.NewFlagSet("mcp tools", flag.ContinueOnError)
	command := cmd.String("command", "", "Server command to spawn (default: this binary serving stdio)")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}

	client := dialMCP(global, cfg, *command)
	defer func() { _ = client.Close() }()

	tools, err := client.ListTools(ctx)
	if err != nil {
		fatal(err)
	}

	if global.JSON {
		printJSON(tools)
		return
	}
	w := newTabWriter()
	writeRow(w, "TOOL", "DESCRIPTION")
	for _, tool := range tools {
		writeRow(w, tool.Name, tool.Description)
	}
	_ = w.Flush()
}

func runMCPCall(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	cmd := flag.NewFlagSet("mcp call", flag.ContinueOnError)
	command := cmd.String("command", "", "Server command to spawn (default: this binary serving stdio)")
	rawArgs := cmd.String("args", "", "Tool arguments as a JSON object")
	var pairs multiFlag
	cmd.Var(&pairs, "arg", "Tool argument as key=value (repeatable, value may be JSON)")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}
	if cmd.NArg() < 1 {
		fatal(errors.New("usage: aegis mcp call [--arg k=v ...] [--args <json>] <tool>"))
	}
	tool := cmd.Arg(0)

	toolArgs, err := buildToolArgs(*rawArgs, pairs)
	if err != nil {
		fatal(err)
	}

	client := dialMCP(global, cfg, *command)
	defer func() { _ = client.Close() }()

	result, err := client.CallTool(ctx, tool, toolArgs)
	if err != nil {
		fatal(err)
	}
	for _, content := range result.Content {
		if text, ok := content.(mcpgo.TextContent); ok {
			fmt.Println(text.Text)
		}
	}
	if result.IsError {
		os.Exit(1)
	}
}

// dialMCP spawns an MCP server subprocess and connects to it over stdio.
// With no explicit command it re-executes this binary against the same
// store, so `aegis mcp call` works out of the box.
func dialMCP(global globalFlags, cfg *config.Config, command string) *aegismcp.Client {
	var name string
	var argv []string
	if command != "" {
		fields := strings.Fields(command)
		name, argv = fields[0], fields[1:]
	} else {
		exe, err := os.Executable()
		if err != nil {
			fatal(err)
		}
		name = exe
		argv = []string{"--store", cfg.Store.Path}
		if global.ConfigPath != "" {
			argv = append(argv, "--config", global.ConfigPath)
		}
		argv = append(argv, "mcp", "serve", "--transport", "stdio")
	}

	client, err := aegismcp.NewClientWithStdio(name, argv)
	if err != nil {
		fatal(err)
	}
	return client
}

// buildToolArgs merges a JSON object with key=value pairs. Pair values
// that parse as JSON keep their type, anything else stays a string, so
// `--arg max_uses=5` is a number and `--arg name=alice` a string.
func buildToolArgs(rawJSON string, pairs []string) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if rawJSON != "" {
		if err := json.Unmarshal([]byte(rawJSON), &out); err != nil {
			return nil, fmt.Errorf("parse --args: %w", err)
		}
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --arg %q, want key=value", pair)
		}
		var parsed interface{}
		if err := json.Unmarshal([]byte(value), &parsed); err == nil {
			out[key] = parsed
		} else {
			out[key] = value
		}
	}
	return out, nil
}
