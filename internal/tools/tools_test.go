package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"write", ModeWrite},
		{" WRITE ", ModeWrite},
		{"discuss", ModeDiscuss},
		{"", ModeDiscuss},
		{"edit", ModeDiscuss},
	}
	for _, tt := range tests {
		if got := ParseMode(tt.in); got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRegistry_ForMode(t *testing.T) {
	ft, err := NewFileTools(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	r := NewRegistry(nil)
	ft.Register(r)

	if diff := cmp.Diff([]string{"list_files", "read_file"}, r.ForMode(ModeDiscuss).AllToolNames()); diff != "" {
		t.Errorf("discuss tools mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"delete_file", "list_files", "read_file", "write_file"}, r.ForMode(ModeWrite).AllToolNames()); diff != "" {
		t.Errorf("write tools mismatch (-want +got):\n%s", diff)
	}

	// A mutating tool filtered out by mode is simply unknown.
	got := r.ForMode(ModeDiscuss).Execute(context.Background(), WriteFileTool, map[string]any{"path": "a", "content": "b"})
	if got != "Error: Tool write_file not found." {
		t.Errorf("Execute(write_file) in discuss mode = %q", got)
	}
}

// newTestRegistry returns a registry of three tools that echo their
// own names.
func newTestRegistry() *Registry {
	r := NewRegistry(nil)
	for _, name := range []string{"alpha", "beta", "gamma"} {
		r.Register(&Tool{
			Name:        name,
			Description: "Tool " + name,
			Handler: func(context.Context, map[string]any) (string, error) {
				return name + "-result", nil
			},
		})
	}
	return r
}

func TestRegistry_List(t *testing.T) {
	r := newTestRegistry()
	list := r.List()
	if len(list) != 3 {
		t.Fatalf("List() len = %d, want 3", len(list))
	}
	fn, ok := list[0]["function"].(map[string]any)
	if !ok || fn["name"] != "alpha" || list[0]["type"] != "function" {
		t.Errorf("List()[0] = %v", list[0])
	}
}

func TestRegistry_LookupAndExecute(t *testing.T) {
	r := newTestRegistry()
	if diff := cmp.Diff([]string{"alpha", "beta", "gamma"}, r.AllToolNames()); diff != "" {
		t.Errorf("AllToolNames() mismatch (-want +got):\n%s", diff)
	}
	if got := r.Execute(context.Background(), "beta", map[string]any{}); got != "beta-result" {
		t.Errorf("Execute(beta) = %q, want beta-result", got)
	}
}

func TestRegistry_ExecuteNeverFails(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&Tool{Name: "boom", Handler: func(context.Context, map[string]any) (string, error) {
		panic("kaboom")
	}})
	r.Register(&Tool{Name: "fail", Handler: func(context.Context, map[string]any) (string, error) {
		return "", errors.New("disk on fire")
	}})
	r.Register(&Tool{Name: "args", Handler: func(_ context.Context, args map[string]any) (string, error) {
		if args == nil {
			return "nil", nil
		}
		return "map", nil
	}})

	ctx := WithChatID(context.Background(), "chat-1")
	tests := []struct {
		tool string
		want string
	}{
		{"missing", "Error: Tool missing not found."},
		{"boom", "Error: tool boom failed unexpectedly."},
		{"fail", "Error: disk on fire"},
		{"args", "map"},
	}
	for _, tt := range tests {
		if got := r.Execute(ctx, tt.tool, nil); got != tt.want {
			t.Errorf("Execute(%q) = %q, want %q", tt.tool, got, tt.want)
		}
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if got := r.Execute(cancelled, "args", nil); !strings.HasPrefix(got, "Error:") {
		t.Errorf("Execute() with cancelled context = %q", got)
	}
}

func TestChatIDFromContext(t *testing.T) {
	if got := ChatIDFromContext(context.Background()); got != "" {
		t.Errorf("ChatIDFromContext(empty) = %q", got)
	}
	if got := ChatIDFromContext(WithChatID(context.Background(), "abc")); got != "abc" {
		t.Errorf("ChatIDFromContext() = %q, want abc", got)
	}
}
