// Package mcp exposes Think's tool registry as an MCP (Model Context
// Protocol) server, so external agents and editors can browse and edit
// the drive through the same sandboxed tools the agent loop uses.
//
// The server speaks JSON-RPC 2.0 over stdio. Tools keep their native
// names and schemas; a tool result that starts with "Error:" is
// reported with isError set.
package mcp
