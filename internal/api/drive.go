package api

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/nugget/think-ai-agent/internal/tools"
)

// driveItem is one entry of a directory listing.
type driveItem struct {
	Name string `json:"name"`
	Type string `json:"type"` // folder or file
	Path string `json:"path"`
}

// hasParentRef reports whether p contains a ".." segment. Such paths
// are refused outright rather than resolved.
func hasParentRef(p string) bool {
	for _, seg := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}

// resolvePath validates and resolves a drive path, writing the error
// response itself when it fails.
func (s *Server) resolvePath(w http.ResponseWriter, rel string) (string, bool) {
	if hasParentRef(rel) {
		s.errorResponse(w, http.StatusBadRequest, "invalid path")
		return "", false
	}
	full, err := s.files.Resolve(rel)
	if errors.Is(err, tools.ErrOutsideRoot) {
		s.errorResponse(w, http.StatusBadRequest, "path is outside the drive")
		return "", false
	}
	if err != nil {
		s.logger.Warn("drive path resolve failed", "path", rel, "error", err)
		s.errorResponse(w, http.StatusBadRequest, "invalid path")
		return "", false
	}
	return full, true
}

// cleanRel normalizes a client path to the slash form used in
// responses, relative to the drive root.
func cleanRel(rel string) string {
	p := path.Clean("/" + strings.TrimSpace(rel))
	return strings.TrimPrefix(p, "/")
}

func (s *Server) handleDriveList(w http.ResponseWriter, r *http.Request) {
	rel := r.URL.Query().Get("path")
	full, ok := s.resolvePath(w, rel)
	if !ok {
		return
	}

	info, err := os.Stat(full)
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, "path not found")
		return
	}
	if !info.IsDir() {
		s.errorResponse(w, http.StatusBadRequest, "Not a directory")
		return
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, err.Error())
		return
	}

	base := cleanRel(rel)
	items := make([]driveItem, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		item := driveItem{Name: e.Name(), Type: "file", Path: path.Join(base, e.Name())}
		if e.IsDir() {
			item.Type = "folder"
		}
		items = append(items, item)
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"path": base, "items": items}, s.logger)
}

func (s *Server) handleDriveMkdir(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FolderPath string `json:"folderPath"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(body.FolderPath) == "" {
		s.errorResponse(w, http.StatusBadRequest, "folderPath is required")
		return
	}
	full, ok := s.resolvePath(w, body.FolderPath)
	if !ok {
		return
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		s.logger.Error("drive mkdir failed", "path", body.FolderPath, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"success": true, "path": cleanRel(body.FolderPath)}, s.logger)
}

// readDriveFile reads a text file for the read and preview endpoints,
// writing the error response itself when it fails.
func (s *Server) readDriveFile(w http.ResponseWriter, rel string) ([]byte, bool) {
	if strings.TrimSpace(rel) == "" {
		s.errorResponse(w, http.StatusBadRequest, "path is required")
		return nil, false
	}
	full, ok := s.resolvePath(w, rel)
	if !ok {
		return nil, false
	}
	info, err := os.Stat(full)
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, "file not found")
		return nil, false
	}
	if info.IsDir() {
		s.errorResponse(w, http.StatusBadRequest, "path is a directory")
		return nil, false
	}
	if s.files.IsBinary(full) {
		s.errorResponse(w, http.StatusUnsupportedMediaType, "cannot read binary file")
		return nil, false
	}
	data, err := os.ReadFile(full)
	if err != nil {
		s.logger.Error("drive read failed", "path", rel, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return data, true
}

func (s *Server) handleFileRead(w http.ResponseWriter, r *http.Request) {
	data, ok := s.readDriveFile(w, r.URL.Query().Get("path"))
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"content": string(data)}, s.logger)
}

func (s *Server) handleFileWrite(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FilePath string `json:"filePath"`
		Content  string `json:"content"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(body.FilePath) == "" {
		s.errorResponse(w, http.StatusBadRequest, "filePath is required")
		return
	}
	full, ok := s.resolvePath(w, body.FilePath)
	if !ok {
		return
	}
	if full == s.files.Root() {
		s.errorResponse(w, http.StatusBadRequest, "path is a directory")
		return
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		s.logger.Error("drive mkdir failed", "path", body.FilePath, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := os.WriteFile(full, []byte(body.Content), 0o644); err != nil {
		s.logger.Error("drive write failed", "path", body.FilePath, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Debug("drive file written", "path", body.FilePath, "bytes", len(body.Content))
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"success": true, "path": cleanRel(body.FilePath)}, s.logger)
}

func (s *Server) handleFileRename(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OldPath string `json:"oldPath"`
		NewPath string `json:"newPath"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(body.OldPath) == "" || strings.TrimSpace(body.NewPath) == "" {
		s.errorResponse(w, http.StatusBadRequest, "oldPath and newPath are required")
		return
	}
	oldFull, ok := s.resolvePath(w, body.OldPath)
	if !ok {
		return
	}
	newFull, ok := s.resolvePath(w, body.NewPath)
	if !ok {
		return
	}
	if oldFull == s.files.Root() || newFull == s.files.Root() {
		s.errorResponse(w, http.StatusBadRequest, "cannot rename the drive root")
		return
	}
	if _, err := os.Stat(oldFull); errors.Is(err, fs.ErrNotExist) {
		s.errorResponse(w, http.StatusNotFound, "file not found")
		return
	}
	if err := os.MkdirAll(filepath.Dir(newFull), 0o755); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := os.Rename(oldFull, newFull); err != nil {
		s.logger.Error("drive rename failed", "old", body.OldPath, "new", body.NewPath, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"success": true, "path": cleanRel(body.NewPath)}, s.logger)
}

// handleFilePreview renders a markdown file to a standalone HTML page.
func (s *Server) handleFilePreview(w http.ResponseWriter, r *http.Request) {
	rel := r.URL.Query().Get("path")
	data, ok := s.readDriveFile(w, rel)
	if !ok {
		return
	}
	page, err := markdownToHTML(path.Base(cleanRel(rel)), data)
	if err != nil {
		s.logger.Error("markdown render failed", "path", rel, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "render failed")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(page); err != nil {
		s.logger.Debug("failed to write preview", "error", err)
	}
}

// markdownToHTML renders markdown into a minimal HTML document with no
// external resources.
func markdownToHTML(title string, md []byte) ([]byte, error) {
	var body bytes.Buffer
	if err := goldmark.Convert(md, &body); err != nil {
		return nil, err
	}
	var page bytes.Buffer
	fmt.Fprintf(&page, `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>%s</title></head>
<body style="font-family: sans-serif; font-size: 15px; line-height: 1.5;">
%s
</body></html>`, html.EscapeString(title), body.String())
	return page.Bytes(), nil
}
