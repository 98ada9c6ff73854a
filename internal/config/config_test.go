package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestFindConfig_Explicit(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "listen:\n  port: 9999\n")

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "listen:\n  port: 8080\n")
	t.Chdir(dir)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "log_level: debug\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Listen.Port != 8080 {
		t.Errorf("Listen.Port = %d, want 8080", cfg.Listen.Port)
	}
	if cfg.Agent.MaxTurns != 5 {
		t.Errorf("Agent.MaxTurns = %d, want 5", cfg.Agent.MaxTurns)
	}
	if cfg.Agent.HistoryWindow != 20 {
		t.Errorf("Agent.HistoryWindow = %d, want 20", cfg.Agent.HistoryWindow)
	}
	if !cfg.Agent.ParentFallback() {
		t.Error("Agent.ParentFallback() = false, want true by default")
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want sqlite", cfg.Database.Driver)
	}
	if want := filepath.Join("./data", "think.db"); cfg.Database.Path != want {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, want)
	}
	if cfg.Models.Summary != cfg.Models.Flash {
		t.Errorf("Models.Summary = %q, want flash model %q", cfg.Models.Summary, cfg.Models.Flash)
	}
	if len(cfg.Drive.BinaryExtensions) != 7 {
		t.Errorf("Drive.BinaryExtensions = %v, want 7 defaults", cfg.Drive.BinaryExtensions)
	}
	if cfg.Summarizer.Timeout != 60*time.Second {
		t.Errorf("Summarizer.Timeout = %v, want 60s", cfg.Summarizer.Timeout)
	}
	if !cfg.Summarizer.IsEnabled() {
		t.Error("Summarizer.IsEnabled() = false, want true by default")
	}
}

func TestLoad_ExplicitFalse(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
agent:
  legacy_parent_fallback: false
summarizer:
  enabled: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Agent.ParentFallback() {
		t.Error("Agent.ParentFallback() = true, want false")
	}
	if cfg.Summarizer.IsEnabled() {
		t.Error("Summarizer.IsEnabled() = true, want false")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "providers:\n  gemini:\n    api_key: ${THINK_TEST_TOKEN}\n")
	t.Setenv("THINK_TEST_TOKEN", "secret123")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Providers.Gemini.APIKey != "secret123" {
		t.Errorf("api_key = %q, want %q", cfg.Providers.Gemini.APIKey, "secret123")
	}
	if !cfg.Providers.Gemini.Configured() {
		t.Error("Gemini.Configured() = false, want true")
	}
}

func TestLoad_DotEnvBesideConfig(t *testing.T) {
	const key = "THINK_TEST_DOTENV_KEY"
	os.Unsetenv(key)
	t.Cleanup(func() { os.Unsetenv(key) })

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(key+"=from-dotenv\n"), 0600); err != nil {
		t.Fatal(err)
	}
	path := writeConfig(t, dir, "providers:\n  anthropic:\n    api_key: ${"+key+"}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Providers.Anthropic.APIKey != "from-dotenv" {
		t.Errorf("api_key = %q, want %q", cfg.Providers.Anthropic.APIKey, "from-dotenv")
	}
}

func TestLoad_DotEnvDoesNotOverride(t *testing.T) {
	const key = "THINK_TEST_DOTENV_EXISTING"
	t.Setenv(key, "from-environment")

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(key+"=from-dotenv\n"), 0600); err != nil {
		t.Fatal(err)
	}
	path := writeConfig(t, dir, "providers:\n  gemini:\n    api_key: ${"+key+"}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Providers.Gemini.APIKey != "from-environment" {
		t.Errorf("api_key = %q, want %q", cfg.Providers.Gemini.APIKey, "from-environment")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"log level", "log_level: loud\n", "unknown log level"},
		{"log format", "log_format: xml\n", "log_format"},
		{"driver", "database:\n  driver: postgres\n", "database.driver"},
		{"provider", "models:\n  available:\n    - name: x\n      provider: openai\n", "unknown provider"},
		{"turns", "agent:\n  max_turns: -1\n", "max_turns"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.body)
			_, err := Load(path)
			if err == nil {
				t.Fatal("Load() error = nil, want validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"TRACE", LevelTrace, false},
		{" debug ", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_RendersTrace(t *testing.T) {
	var buf strings.Builder
	logger := NewLogger(&buf, LevelTrace, "text")
	logger.Log(t.Context(), LevelTrace, "wire")

	if !strings.Contains(buf.String(), "level=TRACE") {
		t.Errorf("log output = %q, want level=TRACE", buf.String())
	}
}
