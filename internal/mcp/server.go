package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nugget/think-ai-agent/internal/buildinfo"
	"github.com/nugget/think-ai-agent/internal/tools"
)

// ServerName is reported to MCP clients during initialization.
const ServerName = "think"

// NewServer builds an MCP server exposing every tool in registry. Pass
// a registry already narrowed with [tools.Registry.ForMode] to hide the
// mutating tools.
func NewServer(registry *tools.Registry, logger *slog.Logger) (*server.MCPServer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mcp")

	s := server.NewMCPServer(ServerName, buildinfo.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	for _, name := range registry.AllToolNames() {
		t := registry.Get(name)
		schema, err := json.Marshal(t.Parameters)
		if err != nil {
			return nil, fmt.Errorf("encode schema for %s: %w", name, err)
		}
		s.AddTool(mcp.NewToolWithRawSchema(name, t.Description, schema), toolHandler(registry, name, logger))
		logger.Debug("exposed tool over MCP", "tool", name)
	}
	return s, nil
}

func toolHandler(registry *tools.Registry, name string, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out := registry.Execute(ctx, name, req.GetArguments())
		if strings.HasPrefix(out, "Error:") {
			logger.Info("MCP tool call failed", "tool", name, "result", out)
			return mcp.NewToolResultError(out), nil
		}
		return mcp.NewToolResultText(out), nil
	}
}

// ServeStdio serves s over the given streams until ctx is cancelled or
// stdin is closed.
func ServeStdio(ctx context.Context, s *server.MCPServer, stdin io.Reader, stdout io.Writer, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	stdio := server.NewStdioServer(s)
	stdio.SetErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelWarn))

	err := stdio.Listen(ctx, stdin, stdout)
	if err == nil || errors.Is(err, io.EOF) || ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("mcp stdio: %w", err)
}
