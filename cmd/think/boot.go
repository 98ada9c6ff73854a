package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nugget/think-ai-agent/internal/agent"
	"github.com/nugget/think-ai-agent/internal/config"
	"github.com/nugget/think-ai-agent/internal/llm"
	"github.com/nugget/think-ai-agent/internal/memory"
	"github.com/nugget/think-ai-agent/internal/prompts"
	"github.com/nugget/think-ai-agent/internal/summarizer"
	"github.com/nugget/think-ai-agent/internal/tools"
	"github.com/nugget/think-ai-agent/internal/usage"
)

// newLLMClient builds the model client. Tests replace it with a
// scripted client.
var newLLMClient = createLLMClient

// app holds the components every subcommand shares.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *memory.Store
	files    *tools.FileTools
	registry *tools.Registry
	usage    *usage.Store
	client   llm.Client // set by coordinator
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise,
// [config.FindConfig] searches the default locations. Returns the parsed
// config, the path that was loaded, and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// configuredLogger builds the logger described by cfg. Validate has
// already checked the level, so the parse error is unreachable.
func configuredLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	return config.NewLogger(w, level, cfg.LogFormat)
}

// openApp loads configuration and opens the store and the drive. The
// caller must Close the returned app.
func openApp(configPath string, logOut io.Writer) (*app, error) {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := configuredLogger(logOut, cfg)
	logger.Debug("config loaded", "path", cfgPath)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	if dir := filepath.Dir(cfg.Database.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	store, err := memory.Open(cfg.Database.Driver, cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}

	usageStore, err := usage.New(store.DB())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open usage store: %w", err)
	}

	files, err := tools.NewFileTools(cfg.Drive.Root, cfg.Drive.BinaryExtensions)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open drive: %w", err)
	}
	registry := tools.NewRegistry(logger)
	files.Register(registry)

	return &app{cfg: cfg, logger: logger, store: store, files: files, registry: registry, usage: usageStore}, nil
}

// Close releases the store.
func (a *app) Close() error {
	return a.store.Close()
}

// coordinator wires the agent loop with its model client and, when
// enabled, the background summarizer. The summarizer is returned so the
// caller can drain it on exit; it is nil when disabled.
func (a *app) coordinator(ctx context.Context) (*agent.Coordinator, *summarizer.Summarizer, error) {
	client, err := newLLMClient(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, nil, err
	}
	a.client = client

	systemPrompt, err := prompts.LoadSystemPrompt(a.cfg.Agent.SystemPromptFile)
	if err != nil {
		return nil, nil, err
	}

	coord := agent.NewCoordinator(a.store, client, a.registry, a.logger, agent.Config{
		SystemPrompt:         systemPrompt,
		Tiers:                llm.Tiers{Flash: a.cfg.Models.Flash, Pro: a.cfg.Models.Pro},
		MaxTurns:             a.cfg.Agent.MaxTurns,
		HistoryWindow:        a.cfg.Agent.HistoryWindow,
		LegacyParentFallback: a.cfg.Agent.ParentFallback(),
	})
	coord.SetUsage(a.usage)

	var sum *summarizer.Summarizer
	if a.cfg.Summarizer.IsEnabled() {
		sum = summarizer.New(a.store, client, a.logger, summarizer.Config{
			Model:     a.cfg.Models.Summary,
			Timeout:   a.cfg.Summarizer.Timeout,
			PerMinute: a.cfg.Summarizer.PerMinute,
		})
		sum.SetUsage(a.usage)
		coord.SetSummarizer(sum)
	}
	return coord, sum, nil
}

// createLLMClient builds a multi-provider LLM client from the
// configuration. Each model listed in config is mapped to its provider;
// models not explicitly mapped go to providers.default.
func createLLMClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (llm.Client, error) {
	providers := map[string]llm.Client{
		"ollama": llm.NewOllamaClient(cfg.Providers.Ollama.URL, logger),
	}

	if cfg.Providers.Gemini.Configured() {
		gemini, err := llm.NewGeminiClient(ctx, cfg.Providers.Gemini.APIKey, "", logger)
		if err != nil {
			return nil, err
		}
		providers["gemini"] = gemini
		logger.Info("Gemini provider configured")
	}
	if cfg.Providers.Anthropic.Configured() {
		providers["anthropic"] = llm.NewAnthropicClient(cfg.Providers.Anthropic.APIKey, logger)
		logger.Info("Anthropic provider configured")
	}

	fallback, ok := providers[cfg.Providers.Default]
	if !ok {
		return nil, fmt.Errorf("providers.default %q is not configured (missing API key?)", cfg.Providers.Default)
	}

	multi := llm.NewMultiClient(fallback)
	for name, c := range providers {
		multi.AddProvider(name, c)
	}
	for _, m := range cfg.Models.Available {
		multi.AddModel(m.Name, strings.ToLower(m.Provider))
	}

	logger.Info("LLM client initialized",
		"default_provider", cfg.Providers.Default,
		"flash", cfg.Models.Flash,
		"pro", cfg.Models.Pro,
	)
	return multi, nil
}
