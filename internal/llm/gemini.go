package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/nugget/think-ai-agent/internal/httpkit"
)

// GeminiClient is a client for the Gemini API.
type GeminiClient struct {
	client *genai.Client
	logger *slog.Logger
}

// NewGeminiClient creates a new Gemini client. baseURL overrides the
// API endpoint and is normally empty.
func NewGeminiClient(ctx context.Context, apiKey, baseURL string, logger *slog.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpkit.NewClient(httpkit.WithTimeout(0)),
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClient{client: client, logger: logger.With("provider", "gemini")}, nil
}

// Chat sends a non-streaming chat completion request.
func (c *GeminiClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	return c.ChatStream(ctx, model, messages, tools, nil)
}

// ChatStream streams a generation, delivering text parts to callback as
// they arrive. Function calls are collected and reported at the end.
func (c *GeminiClient) ChatStream(ctx context.Context, model string, messages []Message, tools []map[string]any, callback StreamCallback) (*ChatResponse, error) {
	contents, system := convertToGemini(messages)
	cfg := &genai.GenerateContentConfig{Tools: convertToolsToGemini(tools)}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	c.logger.Debug("preparing request",
		"model", model,
		"contents", len(contents),
		"tools", len(tools),
		"system_len", len(system),
	)

	var (
		start = time.Now()
		text  strings.Builder
		calls []ToolCall
		resp  = &ChatResponse{Model: model}
	)
	for chunk, err := range c.client.Models.GenerateContentStream(ctx, model, contents, cfg) {
		if err != nil {
			return nil, fmt.Errorf("gemini API error: %w", err)
		}
		if chunk.ModelVersion != "" {
			resp.Model = chunk.ModelVersion
		}
		if u := chunk.UsageMetadata; u != nil {
			resp.InputTokens = int(u.PromptTokenCount)
			resp.OutputTokens = int(u.CandidatesTokenCount)
		}
		if len(chunk.Candidates) == 0 || chunk.Candidates[0].Content == nil {
			continue
		}
		for _, part := range chunk.Candidates[0].Content.Parts {
			switch {
			case part.FunctionCall != nil:
				calls = append(calls, fromGeminiCall(part.FunctionCall))
			case part.Text != "" && !part.Thought:
				text.WriteString(part.Text)
				emit(callback, StreamEvent{Kind: KindToken, Token: part.Text})
			}
		}
	}

	resp.CreatedAt = time.Now()
	resp.Done = true
	resp.TotalDuration = time.Since(start)
	resp.Message = Message{Role: RoleAssistant, Content: text.String(), ToolCalls: calls}

	for i := range resp.Message.ToolCalls {
		emit(callback, StreamEvent{Kind: KindToolCall, ToolCall: &resp.Message.ToolCalls[i]})
	}
	emit(callback, StreamEvent{Kind: KindDone, Response: resp})
	return resp, nil
}

func fromGeminiCall(fc *genai.FunctionCall) ToolCall {
	args := fc.Args
	if args == nil {
		args = map[string]any{}
	}
	return ToolCall{ID: fc.ID, Function: FunctionCall{Name: fc.Name, Arguments: args}}
}

// convertToGemini maps chat messages onto Gemini contents. Tool results
// become function responses in a user turn, folded together when
// several follow one model turn.
func convertToGemini(messages []Message) ([]*genai.Content, string) {
	var (
		out    []*genai.Content
		system []string
	)
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)

		case RoleUser:
			out = append(out, genai.NewContentFromText(m.Content, genai.RoleUser))

		case RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				part := genai.NewPartFromFunctionCall(tc.Function.Name, tc.Function.Arguments)
				part.FunctionCall.ID = tc.ID
				parts = append(parts, part)
			}
			if len(parts) == 0 {
				continue
			}
			out = append(out, genai.NewContentFromParts(parts, genai.RoleModel))

		case RoleTool:
			part := genai.NewPartFromFunctionResponse(m.Name, map[string]any{"output": m.Content})
			part.FunctionResponse.ID = m.ToolCallID
			if n := len(out); n > 0 && isFunctionResponseTurn(out[n-1]) {
				out[n-1].Parts = append(out[n-1].Parts, part)
				continue
			}
			out = append(out, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
		}
	}
	return out, strings.Join(system, "\n\n")
}

func isFunctionResponseTurn(c *genai.Content) bool {
	if c.Role != string(genai.RoleUser) || len(c.Parts) == 0 {
		return false
	}
	for _, p := range c.Parts {
		if p.FunctionResponse == nil {
			return false
		}
	}
	return true
}

func convertToolsToGemini(tools []map[string]any) []*genai.Tool {
	specs := parseToolSpecs(tools)
	if len(specs) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		schema := map[string]any{
			"type":       "object",
			"properties": spec.Properties,
		}
		if len(spec.Required) > 0 {
			schema["required"] = spec.Required
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 spec.Name,
			Description:          spec.Description,
			ParametersJsonSchema: schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// Ping checks if the Gemini API is reachable and the key is accepted.
func (c *GeminiClient) Ping(ctx context.Context) error {
	if _, err := c.client.Models.List(ctx, &genai.ListModelsConfig{PageSize: 1}); err != nil {
		return fmt.Errorf("gemini ping: %w", err)
	}
	return nil
}
