// Package tools defines the tools available to the agent and the
// registry that executes them.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
)

// Mode selects the active tool subset for a run.
type Mode string

const (
	// ModeDiscuss exposes only tools that do not change the drive.
	ModeDiscuss Mode = "discuss"
	// ModeWrite additionally exposes the mutating tools.
	ModeWrite Mode = "write"
)

// ParseMode maps a request's mode string to a Mode. Anything other
// than "write" is discuss mode.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeWrite)) {
		return ModeWrite
	}
	return ModeDiscuss
}

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`

	// Mutating tools are only offered in write mode.
	Mutating bool                                                           `json:"-"`
	Handler  func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Registry holds available tools.
type Registry struct {
	tools  map[string]*Tool
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger,
	}
}

// Register adds a tool to the registry, replacing any tool of the same
// name.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Lookup retrieves a tool by name, returning *ErrToolUnavailable when
// it is not registered.
func (r *Registry) Lookup(name string) (*Tool, error) {
	if t := r.tools[name]; t != nil {
		return t, nil
	}
	return nil, &ErrToolUnavailable{ToolName: name}
}

// AllToolNames returns the registered tool names, sorted.
func (r *Registry) AllToolNames() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all tools in the function-calling format the LLM
// clients accept, sorted by name so prompts are stable.
func (r *Registry) List() []map[string]any {
	result := make([]map[string]any, 0, len(r.tools))
	for _, name := range r.AllToolNames() {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// FilteredCopyExcluding returns a new registry without the named tools.
func (r *Registry) FilteredCopyExcluding(exclude []string) *Registry {
	out := &Registry{tools: make(map[string]*Tool, len(r.tools)), logger: r.logger}
	for name, t := range r.tools {
		if !slices.Contains(exclude, name) {
			out.tools[name] = t
		}
	}
	return out
}

// ForMode returns the registry for a run in mode. Write mode sees every
// tool; discuss mode loses the mutating ones.
func (r *Registry) ForMode(mode Mode) *Registry {
	if mode == ModeWrite {
		return r.FilteredCopyExcluding(nil)
	}
	var mutating []string
	for name, t := range r.tools {
		if t.Mutating {
			mutating = append(mutating, name)
		}
	}
	return r.FilteredCopyExcluding(mutating)
}

// Execute runs a tool by name. It never fails: every failure, panics
// included, comes back as a string starting with "Error:" that the
// model sees as the tool's output.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (result string) {
	tool, err := r.Lookup(name)
	if err != nil {
		return fmt.Sprintf("Error: Tool %s not found.", name)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	if args == nil {
		args = map[string]any{}
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked", "tool", name, "chat_id", ChatIDFromContext(ctx), "panic", p)
			result = fmt.Sprintf("Error: tool %s failed unexpectedly.", name)
		}
	}()

	r.logger.Debug("executing tool", "tool", name, "args", args, "chat_id", ChatIDFromContext(ctx))
	out, err := tool.Handler(ctx, args)
	if err != nil {
		r.logger.Warn("tool failed", "tool", name, "error", err)
		return "Error: " + err.Error()
	}
	return out
}
