// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jllopis/aegis/pkg/config"
	"github.com/jllopis/aegis/pkg/runtime"
	"github.com/jllopis/aegis/pkg/store"
	"github.com/jllopis/aegis/pkg/telemetry"
)

const version = "dev"

type globalFlags struct {
	ConfigPath string
	StorePath  string
	JSON       bool
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(err)
	}
	if global.Help || len(args) == 0 {
		printUsage()
		return
	}

	cfg, err := config.Load(global.ConfigPath)
	if err != nil {
		fatal(err)
	}
	if global.StorePath != "" {
		cfg.Store.Path = global.StorePath
	}

	telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitWithConfig(cfg.Telemetry.ServiceName, version, telemetry.Config{
			Exporter: cfg.Telemetry.Exporter,
			Endpoint: cfg.Telemetry.Endpoint,
			Insecure: cfg.Telemetry.Insecure,
		})
		if err != nil {
			fatal(err)
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	switch args[0] {
	case "identity":
		withRuntime(ctx, cfg, func(rt *runtime.Runtime) {
			runIdentity(ctx, global, rt, args[1:])
		})
	case "trust":
		withRuntime(ctx, cfg, func(rt *runtime.Runtime) {
			runTrust(ctx, global, rt, args[1:])
		})
	case "spawn":
		withRuntime(ctx, cfg, func(rt *runtime.Runtime) {
			runSpawn(ctx, global, rt, args[1:])
		})
	case "mcp":
		runMCP(ctx, global, cfg, args[1:])
	case "help":
		printUsage()
	case "version":
		fmt.Println(version)
	default:
		fatal(fmt.Errorf("unknown command %q", args[0]))
	}
}

// withRuntime opens the store, runs fn against a runtime bound to it,
// and closes the store afterwards.
func withRuntime(ctx context.Context, cfg *config.Config, fn func(*runtime.Runtime)) {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		fatal(err)
	}
	defer func() { _ = st.Close() }()
	fn(runtime.New(st))
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	var flags globalFlags
	flags.StorePath = strings.TrimSpace(os.Getenv("AEGIS_STORE_PATH"))

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		switch {
		case arg == "-h" || arg == "--help":
			flags.Help = true
			return flags, nil, nil
		case arg == "--json":
			flags.JSON = true
		case arg == "--config":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --config")
			}
			flags.ConfigPath = args[i+1]
			i++
		case strings.HasPrefix(arg, "--config="):
			flags.ConfigPath = strings.TrimPrefix(arg, "--config=")
		case arg == "--store":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --store")
			}
			flags.StorePath = args[i+1]
			i++
		case strings.HasPrefix(arg, "--store="):
			flags.StorePath = strings.TrimPrefix(arg, "--store=")
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
	}
	return flags, nil, nil
}

func printUsage() {
	fmt.Println(`aegis - agent identity, trust, and spawn management

Usage:
  aegis [global flags] <command> [args]

Global flags:
  --config <path>      Path to a YAML config file
  --store <path>       SQLite database path (default aegis.db)
  --json               JSON output

Commands:
  identity create [--name <name>]
  identity show [<name-or-id>]
  identity rotate <name-or-id> [--reason <reason>]

  trust grant --grantee <id> --cap <uri> [--cap ...] [flags]
  trust grant --spec <file.yaml> [--grantor <name-or-id>]
  trust verify <trust_id> [--cap <uri>] [--uses N] [--chain]
  trust revoke <trust_id> [--reason <reason>] [--identity <name-or-id>]
  trust list [--direction granted|received]

  spawn create --purpose <text> --authority <uri> [--authority ...] [flags]
  spawn terminate <spawn_id> [--reason <text>] [--cascade] [--parent <name-or-id>]
  spawn lineage <identity_id>
  spawn tree [--root <identity_id>]
  spawn authority <identity_id>

  mcp serve [--transport stdio|sse] [--addr <addr>] [--sweep-interval <dur>]
  mcp tools [--command <cmd>]
  mcp call [--arg k=v ...] [--args <json>] <tool>`)
}
