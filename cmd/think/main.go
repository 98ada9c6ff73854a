// Think is a chat agent over a sandboxed drive of notes and files.
//
// It serves a streaming HTTP API for branching conversations, exposes
// its file tools to other agents over MCP, and offers a CLI for
// one-shot questions and chat history. Configuration is loaded from a
// single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	think serve                Start the API server
//	think init [dir]           Initialize a working directory with defaults
//	think ask <question>       Ask a question, streaming the answer
//	think chats <subcommand>   Inspect and manage stored chats
//	think usage                Report token usage
//	think mcp                  Serve the file tools over MCP on stdio
//	think pair [url]           Show a QR code for connecting a device
//	think migrate              Bring the database schema up to date
//	think version              Print version and build information
//	think -o json version      Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nugget/think-ai-agent/internal/buildinfo"

	_ "github.com/mattn/go-sqlite3" // cgo SQLite driver, selected with database.driver: sqlite3
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// options are the global flags shared by every subcommand.
type options struct {
	configPath string
	outputFmt  string // "text" (default) or "json"
}

// run is the real entry point for the think command. All OS-level
// dependencies are injected as parameters. args is os.Args[1:]; it is
// parsed by hand rather than with the flag package, whose global state
// interferes with parallel tests.
//
// run returns nil on clean shutdown and a non-nil error for any failure.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var opts options
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			opts.configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			opts.configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			opts.outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			opts.outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			opts.outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				// Collect remaining args, including subcommand flags.
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	// Default to human-readable text output.
	if opts.outputFmt == "" {
		opts.outputFmt = "text"
	}
	if opts.outputFmt != "text" && opts.outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", opts.outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, opts)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		return runAsk(ctx, stdout, stderr, opts, cmdArgs)
	case "chats":
		return runChats(ctx, stdout, stderr, opts, cmdArgs)
	case "usage":
		return runUsage(ctx, stdout, stderr, opts, cmdArgs)
	case "mcp":
		return runMCP(ctx, stdin, stdout, stderr, opts, cmdArgs)
	case "pair":
		return runPair(stdout, opts, cmdArgs)
	case "migrate":
		return runMigrate(ctx, stdout, stderr, opts)
	case "version":
		return runVersion(stdout, opts.outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// runMigrate opens the store, which applies any pending schema
// migrations, and reports the result.
func runMigrate(ctx context.Context, stdout, stderr io.Writer, opts options) error {
	a, err := openApp(opts.configPath, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	chats, err := a.store.ListChats(ctx, 0)
	if err != nil {
		return fmt.Errorf("verify migrated store: %w", err)
	}
	fmt.Fprintf(stdout, "Database %s is up to date (%d chats)\n", a.cfg.Database.Path, len(chats))
	return nil
}

// printUsage writes the top-level help text to w. It is called when
// think is invoked with no arguments, or with -h / --help.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Think - chat agent for your notes")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: think [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask          Ask a question: ask [-chat ID] [-parent N | -root] [-mode write] [-model pro] <question>")
	fmt.Fprintln(w, "  chats        Manage chats: list | show ID | thread MSGID | tree ID | rename ID TITLE | delete ID")
	fmt.Fprintln(w, "  usage        Report token usage: usage [-period today|week|month|all|24h] [-chat ID]")
	fmt.Fprintln(w, "  mcp          Serve the file tools over MCP on stdin/stdout ([-mode write])")
	fmt.Fprintln(w, "  pair [url]   Print a QR code for the server URL")
	fmt.Fprintln(w, "  migrate      Apply database migrations")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/Think/config.yaml, ~/.config/think/config.yaml, /etc/think/config.yaml")
	return nil
}
