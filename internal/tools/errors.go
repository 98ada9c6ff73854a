package tools

import (
	"errors"
	"fmt"
)

// ErrOutsideRoot is returned by FileTools.Resolve for paths that would
// land outside the sandbox root.
var ErrOutsideRoot = errors.New("path is outside the sandbox root")

// ErrToolUnavailable is returned when a tool call targets a tool that
// is not present in the effective registry: filtered out by mode or
// nonexistent.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}
