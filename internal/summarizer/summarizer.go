// Package summarizer maintains the structured per-chat session summary
// that is injected ahead of the system prompt. Summaries are produced
// in the background: a run triggers one and carries on without waiting,
// so a summary only ever affects the runs that start after it lands.
package summarizer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nugget/think-ai-agent/internal/llm"
	"github.com/nugget/think-ai-agent/internal/memory"
	"github.com/nugget/think-ai-agent/internal/prompts"
	"github.com/nugget/think-ai-agent/internal/usage"
)

// placeholderGoal is the goal models write before the user has said
// anything substantive; it never becomes a chat title.
const placeholderGoal = "Initial query"

// maxTitleRunes bounds a title derived from user_goal.
const maxTitleRunes = 60

// Store is the subset of the conversation store the summarizer uses.
type Store interface {
	GetSummary(ctx context.Context, chatID string) (memory.Summary, error)
	SetSummary(ctx context.Context, chatID string, summary memory.Summary) error
	RenameChat(ctx context.Context, chatID, title string) error
}

// UsageRecorder stores the token usage of each summary call.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record) error
}

// Config controls the summarizer behavior.
type Config struct {
	// Model used for summaries.
	Model string

	// Timeout per summarization LLM call.
	// Default: 60 seconds.
	Timeout time.Duration

	// PerMinute caps how many background summaries may start per
	// minute; triggers over budget are dropped. Default: 30.
	PerMinute int
}

// DefaultConfig returns sensible defaults for the summarizer.
func DefaultConfig() Config {
	return Config{
		Timeout:   60 * time.Second,
		PerMinute: 30,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.PerMinute <= 0 {
		c.PerMinute = d.PerMinute
	}
}

// Summarizer generates and stores session summaries.
type Summarizer struct {
	store     Store
	llmClient llm.Client
	logger    *slog.Logger
	config    Config
	limiter   *rate.Limiter
	usage     UsageRecorder

	// base outlives individual requests; Stop cancels it.
	base   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// New creates a summarizer.
func New(store Store, llmClient llm.Client, logger *slog.Logger, cfg Config) *Summarizer {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Summarizer{
		store:     store,
		llmClient: llmClient,
		logger:    logger.With("component", "summarizer"),
		config:    cfg,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.PerMinute)), cfg.PerMinute),
		base:      base,
		cancel:    cancel,
	}
}

// SetUsage records the token usage of every summary call.
func (s *Summarizer) SetUsage(u UsageRecorder) {
	s.usage = u
}

// Trigger starts summarizing chatID's pre-turn thread in the background
// and returns immediately, reporting whether a summary was started.
// Empty threads are ignored and triggers over the rate budget are
// dropped. Failures are logged and otherwise swallowed.
func (s *Summarizer) Trigger(chatID string, thread []memory.Message) bool {
	if len(thread) == 0 {
		return false
	}
	if !s.limiter.Allow() {
		s.logger.Debug("summary skipped, over rate budget", "chat_id", chatID)
		return false
	}

	// Copy so the caller may keep appending to its slice.
	snapshot := append([]memory.Message(nil), thread...)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.base, s.config.Timeout)
		defer cancel()
		if _, err := s.Summarize(ctx, chatID, snapshot); err != nil {
			s.logger.Warn("session summary failed", "chat_id", chatID, "error", err)
		}
	}()
	return true
}

// Summarize synchronously folds the last entries of thread into the
// chat's summary, stores it, and retitles the chat from user_goal. On
// any failure nothing is stored and the previous summary stands.
func (s *Summarizer) Summarize(ctx context.Context, chatID string, thread []memory.Message) (memory.Summary, error) {
	current, err := s.store.GetSummary(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("load summary: %w", err)
	}

	msgs := []llm.Message{{Role: llm.RoleUser, Content: prompts.SummaryPrompt(current, thread)}}
	resp, err := s.llmClient.Chat(ctx, s.config.Model, msgs, nil)
	if err != nil {
		return nil, fmt.Errorf("generate summary: %w", err)
	}
	if s.usage != nil {
		err := s.usage.Record(context.WithoutCancel(ctx), usage.Record{
			ChatID:       chatID,
			Model:        s.config.Model,
			Purpose:      usage.PurposeSummary,
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
		})
		if err != nil {
			s.logger.Warn("record summary usage failed", "chat_id", chatID, "error", err)
		}
	}

	summary, err := parseSummaryResponse(resp.Message.Content)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetSummary(ctx, chatID, summary); err != nil {
		return nil, fmt.Errorf("store summary: %w", err)
	}

	if title := titleFromSummary(summary); title != "" {
		if err := s.store.RenameChat(ctx, chatID, title); err != nil {
			s.logger.Warn("retitle from summary failed", "chat_id", chatID, "error", err)
		}
	}

	s.logger.Info("session summary updated",
		"chat_id", chatID,
		"model", s.config.Model,
		"fields", len(summary),
	)
	return summary, nil
}

// Wait blocks until every triggered summary has finished.
func (s *Summarizer) Wait() {
	s.wg.Wait()
}

// Stop cancels in-flight summaries and waits for them to exit. Later
// triggers are refused.
func (s *Summarizer) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

// parseSummaryResponse extracts the JSON object from the model's reply,
// tolerating a surrounding markdown code fence.
func parseSummaryResponse(content string) (memory.Summary, error) {
	content = strings.TrimSpace(content)
	if start := strings.Index(content, "```"); start != -1 {
		body := content[start+3:]
		body = strings.TrimPrefix(body, "json")
		if end := strings.Index(body, "```"); end != -1 {
			body = body[:end]
		}
		content = strings.TrimSpace(body)
	}

	var summary memory.Summary
	if err := json.Unmarshal([]byte(content), &summary); err != nil {
		return nil, fmt.Errorf("parse summary: %w", err)
	}
	if summary == nil {
		return nil, fmt.Errorf("parse summary: not a JSON object")
	}
	return summary, nil
}

func titleFromSummary(summary memory.Summary) string {
	goal, _ := summary["user_goal"].(string)
	goal = strings.TrimSpace(goal)
	if goal == "" || goal == placeholderGoal {
		return ""
	}
	if r := []rune(goal); len(r) > maxTitleRunes {
		goal = string(r[:maxTitleRunes])
	}
	return goal
}
