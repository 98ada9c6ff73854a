package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nugget/think-ai-agent/internal/mcp"
	"github.com/nugget/think-ai-agent/internal/tools"
)

// runMCP handles "think mcp". It exposes the drive's file tools to an
// MCP client over stdin/stdout. Logs go to stderr because stdout carries
// the protocol. Only the read-only tools are offered unless -mode write
// is given.
func runMCP(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, opts options, args []string) error {
	mode := tools.ModeDiscuss
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-mode" && i+1 < len(args):
			mode = tools.ParseMode(args[i+1])
			i++
		default:
			return errors.New("usage: think mcp [-mode write]")
		}
	}

	a, err := openApp(opts.configPath, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	registry := a.registry.ForMode(mode)
	s, err := mcp.NewServer(registry, a.logger)
	if err != nil {
		return fmt.Errorf("build mcp server: %w", err)
	}
	a.logger.Info("serving MCP on stdio", "mode", mode, "tools", len(registry.AllToolNames()), "drive", a.files.Root())
	return mcp.ServeStdio(ctx, s, stdin, stdout, a.logger)
}
