// Package main is the ao CLI: it spawns, inspects and terminates agent
// sessions, validates work plans, and runs the orchestrator service
// (lifecycle controller, gateway, janitor, MCP tools live in ao-mcp).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/agentorch/ao/internal/oerr"
)

const version = "0.3.0"

const usage = `ao - concurrent coding-agent session orchestrator

Usage:
  ao [-config <file>] [-json] <command> [arguments]

Commands:
  spawn     -project <id> [-issue <ref>] [-plan <file> -task <id>] [-prompt <text>]
  kill      <session-id>
  list      [-project <id>]
  get       <session-id>
  send      <session-id> <message...>
  restore   <session-id>
  cleanup   [-project <id>] [-dry-run]
  plan      validate <file>
  run       run the orchestrator service (controller + gateway + janitor)
  init      [path] write a commented example config file
  version   print the version

Global flags:
  -config <file>   configuration file (default: $AO_CONFIG, then config.yaml)
  -json            machine-readable output
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	g, rest := parseGlobals(args)
	if len(rest) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 1
	}
	cmd, rest := rest[0], rest[1:]

	ctx := context.Background()
	var err error
	switch cmd {
	case "spawn":
		err = cmdSpawn(ctx, g, rest)
	case "kill":
		err = cmdKill(ctx, g, rest)
	case "list":
		err = cmdList(ctx, g, rest)
	case "get":
		err = cmdGet(ctx, g, rest)
	case "send":
		err = cmdSend(ctx, g, rest)
	case "restore":
		err = cmdRestore(ctx, g, rest)
	case "cleanup":
		err = cmdCleanup(ctx, g, rest)
	case "plan":
		err = cmdPlan(ctx, g, rest)
	case "run":
		err = cmdRun(ctx, g, rest)
	case "init":
		err = cmdInit(ctx, g, rest)
	case "version":
		fmt.Println("ao " + version)
		return 0
	case "help", "-h", "--help":
		fmt.Print(usage)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		return 1
	}

	if err != nil {
		renderError(g, err)
		return exitCode(err)
	}
	return 0
}

// globals are the flags shared by every subcommand.
type globals struct {
	configPath string
	jsonOut    bool
}

// parseGlobals strips the global flags, which may appear before the
// subcommand, and returns the remaining arguments.
func parseGlobals(args []string) (globals, []string) {
	var g globals
	rest := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-config", "--config":
			if i+1 < len(args) {
				i++
				g.configPath = args[i]
			}
		case "-json", "--json":
			g.jsonOut = true
		default:
			rest = append(rest, args[i])
		}
	}
	return g, rest
}

// exitCode maps the error taxonomy to shell exit codes: 2 means a
// precondition failed, 3 means a plugin (runtime/agent/SCM) failed, and
// everything else is 1.
func exitCode(err error) int {
	switch oerr.KindOf(err) {
	case oerr.KindPolicyViolation, oerr.KindConflictingState, oerr.KindConfig:
		return 2
	case oerr.KindPlugin:
		return 3
	default:
		return 1
	}
}

func renderError(g globals, err error) {
	kind := string(oerr.KindOf(err))
	if g.jsonOut {
		out, _ := json.Marshal(map[string]string{"error": err.Error(), "kind": kind})
		fmt.Fprintln(os.Stderr, string(out))
		return
	}
	fmt.Fprintf(os.Stderr, "\x1b[31merror (%s): %v\x1b[0m\n", kind, err)
	if oerr.IsKind(err, oerr.KindConfig) {
		fmt.Fprintln(os.Stderr, "hint: create a config file or set AO_CONFIG; run 'ao init' to scaffold one")
	}
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
