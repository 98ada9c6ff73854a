// Package agent implements the per-request agent loop: resolve where in
// the chat's tree the run attaches, stream model turns, dispatch tool
// calls, and persist every step as it happens.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/think-ai-agent/internal/llm"
	"github.com/nugget/think-ai-agent/internal/memory"
	"github.com/nugget/think-ai-agent/internal/prompts"
	"github.com/nugget/think-ai-agent/internal/tools"
	"github.com/nugget/think-ai-agent/internal/usage"
)

// DefaultMaxTurns bounds the model invocations of one run.
const DefaultMaxTurns = 5

// Store is the subset of the conversation store a run needs.
type Store interface {
	AppendMessage(ctx context.Context, m memory.NewMessage) (int64, error)
	GetMessage(ctx context.Context, id int64) (memory.Message, error)
	GetFlatMessages(ctx context.Context, chatID string) ([]memory.Message, error)
	GetThread(ctx context.Context, leafID int64) ([]memory.Message, error)
	GetSummary(ctx context.Context, chatID string) (memory.Summary, error)
}

// Summarizer refreshes a chat's session summary without blocking the
// caller.
type Summarizer interface {
	Trigger(chatID string, thread []memory.Message) bool
}

// Notifier is told when a run has moved a chat's head.
type Notifier interface {
	ChatUpdated(ctx context.Context, chatID string, head int64)
}

// UsageRecorder stores the token usage of each model turn.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record) error
}

// EmitFunc delivers one event to the caller. A non-nil error means the
// caller is gone and the run should stop.
type EmitFunc func(Event) error

// Config controls the coordinator.
type Config struct {
	// SystemPrompt is the base prompt; the mode suffix is added per run.
	SystemPrompt string

	// Tiers maps the requested model onto a concrete model name.
	Tiers llm.Tiers

	// MaxTurns caps model invocations per run. Default: 5.
	MaxTurns int

	// HistoryWindow is the number of thread entries kept in the prompt.
	// Default: prompts.DefaultHistoryWindow.
	HistoryWindow int

	// LegacyParentFallback continues from the chat's last stored
	// message when a request omits parent_message_id. When false such
	// requests are rejected.
	LegacyParentFallback bool
}

// Result describes a finished run.
type Result struct {
	ChatID string

	// UserMessageID is the id of the appended user message, or 0 when
	// the message duplicated the thread's last entry.
	UserMessageID int64

	// Head is the last message of the run's thread, or 0 if the thread
	// is empty.
	Head int64

	// Turns is the number of model invocations.
	Turns int

	// Appended counts messages stored by the run.
	Appended int

	// Content is the text of the final assistant turn.
	Content string

	// TurnLimitHit is set when the loop stopped at MaxTurns with tool
	// calls still being requested.
	TurnLimitHit bool

	// InputTokens and OutputTokens total every model turn of the run.
	InputTokens  int
	OutputTokens int
}

// Coordinator runs agent requests against a store, a model and a tool
// registry.
type Coordinator struct {
	store      Store
	llm        llm.Client
	tools      *tools.Registry
	summarizer Summarizer
	notifier   Notifier
	usage      UsageRecorder
	logger     *slog.Logger
	config     Config
}

// NewCoordinator creates a coordinator.
func NewCoordinator(store Store, client llm.Client, registry *tools.Registry, logger *slog.Logger, cfg Config) *Coordinator {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = prompts.DefaultHistoryWindow
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = prompts.BaseSystemPrompt()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = tools.NewRegistry(logger)
	}
	return &Coordinator{
		store:  store,
		llm:    client,
		tools:  registry,
		logger: logger.With("component", "agent"),
		config: cfg,
	}
}

// SetSummarizer enables background session summaries.
func (c *Coordinator) SetSummarizer(s Summarizer) {
	c.summarizer = s
}

// SetUsage records the token usage of every model turn.
func (c *Coordinator) SetUsage(u UsageRecorder) {
	c.usage = u
}

// SetNotifier registers a listener for head changes.
func (c *Coordinator) SetNotifier(n Notifier) {
	c.notifier = n
}

// emitError wraps a failure to deliver an event.
type emitError struct{ err error }

func (e *emitError) Error() string { return "emit event: " + e.err.Error() }
func (e *emitError) Unwrap() error { return e.err }

// run is the state of one request.
type run struct {
	chatID  string
	emit    EmitFunc
	cancel  context.CancelFunc
	emitErr error
	result  *Result
}

// send delivers ev unless an earlier delivery already failed. The first
// failure cancels the run's context so an in-flight model call stops.
func (r *run) send(ev Event) error {
	if r.emitErr != nil {
		return r.emitErr
	}
	if err := r.emit(ev); err != nil {
		r.emitErr = &emitError{err: err}
		r.cancel()
		return r.emitErr
	}
	return nil
}

// Run executes one request, delivering events through emit in the
// order their messages are persisted. The first event always carries
// the chat id. An unrecoverable failure is reported once as an error
// event and returned. If emit fails the run stops without an error
// event; messages already appended stay committed.
func (c *Coordinator) Run(ctx context.Context, req Request, emit EmitFunc) (*Result, error) {
	chatID := req.ChatID
	if chatID == "" {
		chatID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &run{
		chatID: chatID,
		emit:   emit,
		cancel: cancel,
		result: &Result{ChatID: chatID},
	}
	log := c.logger.With("chat_id", chatID)
	start := time.Now()

	if err := r.send(SessionEvent(chatID)); err != nil {
		return r.result, err
	}

	err := c.execute(ctx, r, req, log)

	if r.result.Appended > 0 && c.notifier != nil {
		c.notifier.ChatUpdated(context.WithoutCancel(ctx), chatID, r.result.Head)
	}

	switch {
	case r.emitErr != nil:
		log.Info("agent run abandoned by caller",
			"appended", r.result.Appended,
			"error", r.emitErr,
		)
		return r.result, r.emitErr
	case err != nil:
		log.Error("agent run failed", "error", err, "appended", r.result.Appended)
		// The caller may already be gone; nothing more to do then.
		_ = r.send(ErrorEvent(err.Error()))
		return r.result, err
	}

	log.Info("agent run completed",
		"turns", r.result.Turns,
		"appended", r.result.Appended,
		"head", r.result.Head,
		"turn_limit_hit", r.result.TurnLimitHit,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return r.result, nil
}

func (c *Coordinator) execute(ctx context.Context, r *run, req Request, log *slog.Logger) error {
	if err := req.Validate(); err != nil {
		return err
	}

	parent, thread, err := c.resolveParent(ctx, r.chatID, req.Parent)
	if err != nil {
		return err
	}
	if parent != nil {
		r.result.Head = *parent
	}

	if content, ok := req.userMessage(); ok && !duplicatesLast(thread, content) {
		m := memory.NewMessage{
			ChatID:   r.chatID,
			Role:     memory.RoleUser,
			Kind:     memory.KindText,
			Content:  content,
			ParentID: parent,
		}
		id, err := c.append(ctx, r, m)
		if err != nil {
			return err
		}
		r.result.UserMessageID = id
		thread = append(thread, stored(m, id))
		parent = memory.PtrID(id)
	}

	// The summary read here predates this run; the one triggered below
	// lands for later runs only.
	summary, err := c.store.GetSummary(ctx, r.chatID)
	if err != nil {
		log.Warn("load session summary failed", "error", err)
		summary = nil
	}
	if c.summarizer != nil {
		c.summarizer.Trigger(r.chatID, thread)
	}

	mode := tools.ParseMode(req.Mode)
	registry := c.tools.ForMode(mode)
	toolDefs := registry.List()
	model := c.config.Tiers.Resolve(req.Model)
	systemPrompt := prompts.WithMode(c.config.SystemPrompt, mode == tools.ModeWrite)
	messages := prompts.BuildPrompt(systemPrompt, thread, summary, req.document(), c.config.HistoryWindow)

	log.Info("agent run started",
		"model", model,
		"mode", mode,
		"thread", len(thread),
		"tools", len(toolDefs),
		"summary", len(summary) > 0,
	)

	for turn := 1; turn <= c.config.MaxTurns; turn++ {
		r.result.Turns = turn

		resp, err := c.streamTurn(ctx, r, model, messages, toolDefs)
		if r.emitErr != nil {
			return r.emitErr
		}
		if err != nil {
			return fmt.Errorf("model turn %d: %w", turn, err)
		}

		calls := assignCallIDs(resp.Message.ToolCalls, turn)
		m := memory.NewMessage{
			ChatID:   r.chatID,
			Role:     memory.RoleAssistant,
			Kind:     memory.KindText,
			Content:  resp.Message.Content,
			ParentID: parent,
		}
		if len(calls) > 0 {
			m.Kind = memory.KindToolUse
			m.ToolCalls = toMemoryCalls(calls)
		}
		id, err := c.append(ctx, r, m)
		if err != nil {
			return err
		}
		parent = memory.PtrID(id)
		r.result.Content = resp.Message.Content

		log.Debug("model turn complete",
			"turn", turn,
			"model", resp.Model,
			"tool_calls", len(calls),
			"input_tokens", resp.InputTokens,
			"output_tokens", resp.OutputTokens,
		)
		c.recordUsage(ctx, r, model, resp, log)

		if len(calls) == 0 {
			return nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Message.Content,
			ToolCalls: calls,
		})

		toolCtx := tools.WithChatID(ctx, r.chatID)
		for _, call := range calls {
			name := call.Function.Name
			if err := r.send(ToolStartEvent(name)); err != nil {
				return err
			}

			out := registry.Execute(toolCtx, name, call.Function.Arguments)

			// Persist before reporting so an invoked call is never left
			// unrecorded, even when the caller has gone.
			id, err := c.append(ctx, r, memory.NewMessage{
				ChatID:     r.chatID,
				Role:       memory.RoleTool,
				Kind:       memory.KindToolResult,
				Content:    out,
				ToolCallID: call.ID,
				ToolName:   name,
				ParentID:   parent,
			})
			if err != nil {
				return err
			}
			parent = memory.PtrID(id)

			if err := r.send(ToolResultEvent(name, out)); err != nil {
				return err
			}
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    out,
				ToolCallID: call.ID,
				Name:       name,
			})
		}
	}

	r.result.TurnLimitHit = true
	log.Info("turn limit reached with tool calls pending", "max_turns", c.config.MaxTurns)
	return nil
}

// recordUsage adds resp's tokens to the run totals and stores them.
// A failed write is logged; it never fails the run.
func (c *Coordinator) recordUsage(ctx context.Context, r *run, model string, resp *llm.ChatResponse, log *slog.Logger) {
	r.result.InputTokens += resp.InputTokens
	r.result.OutputTokens += resp.OutputTokens
	if c.usage == nil {
		return
	}
	if resp.Model != "" {
		model = resp.Model
	}
	err := c.usage.Record(context.WithoutCancel(ctx), usage.Record{
		ChatID:       r.chatID,
		Model:        model,
		Purpose:      usage.PurposeChat,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	})
	if err != nil {
		log.Warn("record token usage failed", "error", err)
	}
}

// streamTurn invokes the model once, relaying text as it arrives. A
// client that does not stream has its full text relayed at the end.
func (c *Coordinator) streamTurn(ctx context.Context, r *run, model string, messages []llm.Message, toolDefs []map[string]any) (*llm.ChatResponse, error) {
	streamed := false
	resp, err := c.llm.ChatStream(ctx, model, messages, toolDefs, func(ev llm.StreamEvent) {
		if ev.Kind != llm.KindToken || ev.Token == "" {
			return
		}
		streamed = true
		_ = r.send(ContentEvent(ev.Token))
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("empty response from model")
	}
	if !streamed && resp.Message.Content != "" {
		if err := r.send(ContentEvent(resp.Message.Content)); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// append stores m and advances the run's head.
func (c *Coordinator) append(ctx context.Context, r *run, m memory.NewMessage) (int64, error) {
	// Appends outlive a caller that disconnects mid-run.
	id, err := c.store.AppendMessage(context.WithoutCancel(ctx), m)
	if err != nil {
		return 0, fmt.Errorf("append %s message: %w", m.Role, err)
	}
	r.result.Head = id
	r.result.Appended++
	return id, nil
}

// resolveParent decides where the run attaches. It returns the parent
// for the next message and the thread ending at it.
func (c *Coordinator) resolveParent(ctx context.Context, chatID string, ref ParentRef) (*int64, []memory.Message, error) {
	switch {
	case ref.IsRoot():
		return nil, nil, nil

	case ref.Set:
		id := *ref.ID
		msg, err := c.store.GetMessage(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("load parent message %d: %w", id, err)
		}
		if msg.ChatID != chatID {
			return nil, nil, fmt.Errorf("%w: parent message %d belongs to another chat", memory.ErrIntegrity, id)
		}
		thread, err := c.store.GetThread(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("load thread: %w", err)
		}
		return memory.PtrID(id), thread, nil

	case !c.config.LegacyParentFallback:
		return nil, nil, fmt.Errorf("%w: parent_message_id is required", ErrBadRequest)
	}

	flat, err := c.store.GetFlatMessages(ctx, chatID)
	if err != nil {
		return nil, nil, fmt.Errorf("load chat history: %w", err)
	}
	if len(flat) == 0 {
		return nil, nil, nil
	}
	last := flat[len(flat)-1].ID
	thread, err := c.store.GetThread(ctx, last)
	if err != nil {
		return nil, nil, fmt.Errorf("load thread: %w", err)
	}
	return memory.PtrID(last), thread, nil
}

func duplicatesLast(thread []memory.Message, content string) bool {
	return len(thread) > 0 && thread[len(thread)-1].Content == content
}

func stored(m memory.NewMessage, id int64) memory.Message {
	return memory.Message{
		ID:        id,
		ChatID:    m.ChatID,
		Role:      m.Role,
		Content:   m.Content,
		Kind:      m.Kind,
		CreatedAt: time.Now(),
		ParentID:  m.ParentID,
	}
}

// assignCallIDs gives calls without a provider id a stable one so tool
// results can be correlated.
func assignCallIDs(calls []llm.ToolCall, turn int) []llm.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, len(calls))
	for i, call := range calls {
		if call.ID == "" {
			call.ID = fmt.Sprintf("call_%d_%d", turn, i)
		}
		out[i] = call
	}
	return out
}

func toMemoryCalls(calls []llm.ToolCall) []memory.ToolCall {
	out := make([]memory.ToolCall, len(calls))
	for i, call := range calls {
		args := call.Function.Arguments
		if args == nil {
			args = map[string]any{}
		}
		out[i] = memory.ToolCall{ID: call.ID, Name: call.Function.Name, Arguments: args}
	}
	return out
}

// IsBadRequest reports whether err was caused by the request itself.
func IsBadRequest(err error) bool {
	return errors.Is(err, ErrBadRequest)
}
