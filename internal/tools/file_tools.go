package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// DefaultBinaryExtensions are the file extensions read_file refuses.
var DefaultBinaryExtensions = []string{".db", ".png", ".jpg", ".jpeg", ".zip", ".exe", ".pdf"}

// Tool names exposed to the model.
const (
	ListFilesTool  = "list_files"
	ReadFileTool   = "read_file"
	WriteFileTool  = "write_file"
	DeleteFileTool = "delete_file"
)

// FileTools provides list/read/write/delete within a single sandbox
// root. Every operation returns a plain string on success and failure.
type FileTools struct {
	root       string
	binaryExts []string
}

// NewFileTools creates a FileTools rooted at root. A nil binaryExts
// uses DefaultBinaryExtensions.
func NewFileTools(root string, binaryExts []string) (*FileTools, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox root: %w", err)
	}
	// Compare against the real location so a symlinked root still
	// contains its own files.
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	if binaryExts == nil {
		binaryExts = DefaultBinaryExtensions
	}
	exts := make([]string, len(binaryExts))
	for i, e := range binaryExts {
		exts[i] = strings.ToLower(e)
	}
	return &FileTools{root: abs, binaryExts: exts}, nil
}

// Root returns the absolute sandbox root.
func (ft *FileTools) Root() string {
	return ft.root
}

// Resolve converts a sandbox-relative path to an absolute path within
// the root. Leading slashes are ignored. Paths that escape the root,
// lexically or through a symlink, fail with ErrOutsideRoot.
func (ft *FileTools) Resolve(rel string) (string, error) {
	clean := strings.TrimLeft(strings.TrimSpace(rel), "/")
	full := filepath.Join(ft.root, clean)
	if !ft.contains(full) {
		return "", ErrOutsideRoot
	}

	// Walk up to the deepest existing ancestor and make sure its real
	// location is still inside the root.
	probe := full
	for {
		if _, err := os.Lstat(probe); err == nil {
			break
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			break
		}
		probe = parent
	}
	real, err := filepath.EvalSymlinks(probe)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", rel, err)
	}
	if !ft.contains(real) {
		return "", ErrOutsideRoot
	}
	return full, nil
}

func (ft *FileTools) contains(p string) bool {
	return p == ft.root || strings.HasPrefix(p, ft.root+string(filepath.Separator))
}

func deniedMessage(rel string) string {
	return fmt.Sprintf("Error: Access denied: %s is outside the allowed directory.", rel)
}

// resolveOrMessage resolves rel, or returns the string result the tool
// should report instead.
func (ft *FileTools) resolveOrMessage(rel string) (string, string) {
	full, err := ft.Resolve(rel)
	if errors.Is(err, ErrOutsideRoot) {
		return "", deniedMessage(rel)
	}
	if err != nil {
		return "", "Error: " + err.Error()
	}
	return full, ""
}

// List returns an indented tree of the directory at rel. Directories are
// listed before their contents, entries sorted by name.
func (ft *FileTools) List(ctx context.Context, rel string) string {
	if strings.TrimSpace(rel) == "" {
		rel = "."
	}
	full, msg := ft.resolveOrMessage(rel)
	if msg != "" {
		return msg
	}

	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Sprintf("Error: Path '%s' does not exist.", rel)
	}
	if err != nil {
		return fmt.Sprintf("Error listing files: %v", err)
	}
	if !info.IsDir() {
		return fmt.Sprintf("Error: '%s' is not a directory.", rel)
	}

	var sb strings.Builder
	if err := ft.tree(ctx, &sb, full, ""); err != nil {
		return fmt.Sprintf("Error listing files: %v", err)
	}
	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "Directory is empty."
	}
	return out
}

func (ft *FileTools) tree(ctx context.Context, sb *strings.Builder, dir, indent string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		info, err := os.Stat(path)
		if err != nil {
			// Dangling links and unreadable entries are skipped.
			continue
		}
		if !info.IsDir() {
			fmt.Fprintf(sb, "%s[FILE] %s\n", indent, e.Name())
			continue
		}
		fmt.Fprintf(sb, "%s[DIR] %s\n", indent, e.Name())
		// Symlinked directories are shown but not entered.
		if e.Type()&fs.ModeSymlink != 0 {
			continue
		}
		if err := ft.tree(ctx, sb, path, indent+"  "); err != nil {
			return err
		}
	}
	return nil
}

// Read returns the full text of the file at rel.
func (ft *FileTools) Read(_ context.Context, rel string) string {
	full, msg := ft.resolveOrMessage(rel)
	if msg != "" {
		return msg
	}

	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Sprintf("Error: File '%s' not found.", rel)
	}
	if err != nil {
		return fmt.Sprintf("Error reading file: %v", err)
	}
	if info.IsDir() {
		return fmt.Sprintf("Error: '%s' is a directory, not a file.", rel)
	}
	if ft.IsBinary(full) {
		return fmt.Sprintf("Error: Cannot read binary file '%s'.", rel)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return fmt.Sprintf("Error reading file: %v", err)
	}
	return string(data)
}

// IsBinary reports whether path has one of the configured binary
// extensions.
func (ft *FileTools) IsBinary(path string) bool {
	return slices.Contains(ft.binaryExts, strings.ToLower(filepath.Ext(path)))
}

// Write creates or overwrites the file at rel, creating missing parent
// directories.
func (ft *FileTools) Write(_ context.Context, rel, content string) string {
	full, msg := ft.resolveOrMessage(rel)
	if msg != "" {
		return msg
	}
	if full == ft.root {
		return fmt.Sprintf("Error: '%s' is a directory, not a file.", rel)
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Sprintf("Error writing file: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return fmt.Sprintf("Error writing file: %v", err)
	}
	return fmt.Sprintf("Successfully wrote to %s", rel)
}

// Delete removes the file at rel, or the directory at rel and
// everything under it. The root itself cannot be deleted.
func (ft *FileTools) Delete(_ context.Context, rel string) string {
	full, msg := ft.resolveOrMessage(rel)
	if msg != "" {
		return msg
	}
	if full == ft.root {
		return "Error: Cannot delete the drive root."
	}

	info, err := os.Lstat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Sprintf("Error: Path '%s' does not exist.", rel)
	}
	if err != nil {
		return fmt.Sprintf("Error deleting: %v", err)
	}

	if info.IsDir() {
		if err := os.RemoveAll(full); err != nil {
			return fmt.Sprintf("Error deleting: %v", err)
		}
		return fmt.Sprintf("Successfully deleted directory %s", rel)
	}
	if err := os.Remove(full); err != nil {
		return fmt.Sprintf("Error deleting: %v", err)
	}
	return fmt.Sprintf("Successfully deleted file %s", rel)
}

// Register adds the four file tools to r. write_file and delete_file
// are marked mutating.
func (ft *FileTools) Register(r *Registry) {
	r.Register(&Tool{
		Name:        ListFilesTool,
		Description: "List files and directories in a tree-like format from the given path. Use '.' for the root directory.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "The directory path to list (relative to the drive root). Defaults to '.'",
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			path, _ := args["path"].(string)
			return ft.List(ctx, path), nil
		},
	})

	r.Register(&Tool{
		Name:        ReadFileTool,
		Description: "Read the content of a text file.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "The path of the file to read.",
				},
			},
			"required": []string{"path"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			path, err := requiredString(args, "path")
			if err != nil {
				return "", err
			}
			return ft.Read(ctx, path), nil
		},
	})

	r.Register(&Tool{
		Name:        WriteFileTool,
		Description: "Write content to a file. Overwrites if exists.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "The file path to write to.",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "The textual content to write.",
				},
			},
			"required": []string{"path", "content"},
		},
		Mutating: true,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			path, err := requiredString(args, "path")
			if err != nil {
				return "", err
			}
			content, ok := args["content"].(string)
			if !ok {
				return "", fmt.Errorf("content is required")
			}
			return ft.Write(ctx, path, content), nil
		},
	})

	r.Register(&Tool{
		Name:        DeleteFileTool,
		Description: "Delete a file or directory. Be careful.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "The path to delete.",
				},
			},
			"required": []string{"path"},
		},
		Mutating: true,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			path, err := requiredString(args, "path")
			if err != nil {
				return "", err
			}
			return ft.Delete(ctx, path), nil
		},
	})
}

func requiredString(args map[string]any, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}
