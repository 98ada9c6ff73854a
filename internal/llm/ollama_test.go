package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseTextToolCalls(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		validTools []string
		wantCount  int
		wantName   string // First tool name if wantCount > 0
	}{
		{
			name:      "empty content",
			content:   "",
			wantCount: 0,
		},
		{
			name:      "whitespace only",
			content:   "   \n\t  ",
			wantCount: 0,
		},
		{
			name:      "plain text no JSON",
			content:   "The directory is empty.",
			wantCount: 0,
		},
		{
			name:      "single tool call object",
			content:   `{"name": "read_file", "arguments": {"path": "notes.md"}}`,
			wantCount: 1,
			wantName:  "read_file",
		},
		{
			name:      "array of tool calls",
			content:   `[{"name": "list_files", "arguments": {"path": "."}}, {"name": "read_file", "arguments": {"path": "a.md"}}]`,
			wantCount: 2,
			wantName:  "list_files",
		},
		{
			name:      "tagged tool call",
			content:   `<tool_call>{"name": "write_file", "arguments": {"path": "a.md", "content": "x"}}</tool_call>`,
			wantCount: 1,
			wantName:  "write_file",
		},
		{
			name:      "tagged tool call without closing tag",
			content:   `<tool_call>{"name": "list_files", "arguments": {}}`,
			wantCount: 1,
			wantName:  "list_files",
		},
		{
			name:      "tagged with preamble",
			content:   `Let me look. <tool_call>{"name": "list_files", "arguments": {"path": "docs"}}</tool_call>`,
			wantCount: 1,
			wantName:  "list_files",
		},
		{
			name:      "malformed JSON",
			content:   `{"name": "read_file", "arguments": {`,
			wantCount: 0,
		},
		{
			name:      "JSON without name field",
			content:   `{"foo": "bar", "arguments": {}}`,
			wantCount: 0,
		},
		{
			name:       "unknown tool rejected by validation",
			content:    `{"name": "format_disk", "arguments": {}}`,
			validTools: []string{"list_files", "read_file"},
			wantCount:  0,
		},
		{
			name:       "mixed valid and unknown in array",
			content:    `[{"name": "read_file", "arguments": {}}, {"name": "format_disk", "arguments": {}}]`,
			validTools: []string{"list_files", "read_file"},
			wantCount:  1,
			wantName:   "read_file",
		},
		{
			name:       "empty validTools disables validation",
			content:    `{"name": "anything", "arguments": {}}`,
			validTools: []string{},
			wantCount:  1,
			wantName:   "anything",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTextToolCalls(tt.content, tt.validTools)

			if len(got) != tt.wantCount {
				t.Fatalf("parseTextToolCalls() returned %d tools, want %d", len(got), tt.wantCount)
			}
			if tt.wantCount > 0 && got[0].Function.Name != tt.wantName {
				t.Errorf("parseTextToolCalls() first tool name = %q, want %q", got[0].Function.Name, tt.wantName)
			}
		})
	}
}

func TestToolNames(t *testing.T) {
	tools := []map[string]any{
		{"type": "function", "function": map[string]any{"name": "list_files"}},
		{"broken": "entry"},
		{"type": "function", "function": map[string]any{"name": "read_file"}},
	}
	if diff := cmp.Diff([]string{"list_files", "read_file"}, toolNames(tools)); diff != "" {
		t.Errorf("toolNames() mismatch (-want +got):\n%s", diff)
	}
}

func ndjsonServer(t *testing.T, chunks ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !req.Stream {
			t.Error("request did not ask for a stream")
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, c := range chunks {
			fmt.Fprintln(w, c)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaChatStream_Tokens(t *testing.T) {
	srv := ndjsonServer(t,
		`{"model":"llama3","message":{"role":"assistant","content":"Hel"},"done":false}`,
		`{"model":"llama3","message":{"role":"assistant","content":"lo"},"done":false}`,
		`{"model":"llama3","message":{"role":"assistant","content":""},"done":true,"prompt_eval_count":12,"eval_count":3}`,
	)
	client := NewOllamaClient(srv.URL, slog.New(slog.DiscardHandler))

	var tokens []string
	var done bool
	resp, err := client.ChatStream(t.Context(), "llama3", []Message{{Role: RoleUser, Content: "hi"}}, nil, func(ev StreamEvent) {
		switch ev.Kind {
		case KindToken:
			tokens = append(tokens, ev.Token)
		case KindDone:
			done = true
		}
	})
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	if diff := cmp.Diff([]string{"Hel", "lo"}, tokens); diff != "" {
		t.Errorf("tokens mismatch (-want +got):\n%s", diff)
	}
	if !done {
		t.Error("no KindDone event")
	}
	if resp.Message.Content != "Hello" || resp.InputTokens != 12 || resp.OutputTokens != 3 {
		t.Errorf("response = %+v", resp)
	}
}

func TestOllamaChatStream_NativeToolCalls(t *testing.T) {
	srv := ndjsonServer(t,
		`{"model":"llama3","message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"list_files","arguments":{"path":"."}}}]},"done":false}`,
		`{"model":"llama3","message":{"role":"assistant","content":""},"done":true}`,
	)
	client := NewOllamaClient(srv.URL, nil)

	var calls []ToolCall
	resp, err := client.ChatStream(t.Context(), "llama3", nil, nil, func(ev StreamEvent) {
		if ev.Kind == KindToolCall {
			calls = append(calls, *ev.ToolCall)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []ToolCall{{Function: FunctionCall{Name: "list_files", Arguments: map[string]any{"path": "."}}}}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Errorf("streamed tool calls mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, resp.Message.ToolCalls); diff != "" {
		t.Errorf("response tool calls mismatch (-want +got):\n%s", diff)
	}
}

func TestOllamaChatStream_TextToolCallFallback(t *testing.T) {
	srv := ndjsonServer(t,
		`{"model":"qwen","message":{"role":"assistant","content":"{\"name\": \"read_file\", \"arguments\": {\"path\": \"a.md\"}}"},"done":false}`,
		`{"model":"qwen","message":{"role":"assistant","content":""},"done":true}`,
	)
	client := NewOllamaClient(srv.URL, nil)
	tools := []map[string]any{{"type": "function", "function": map[string]any{"name": "read_file"}}}

	resp, err := client.Chat(t.Context(), "qwen", nil, tools)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Message.ToolCalls) != 1 || resp.Message.ToolCalls[0].Function.Name != "read_file" {
		t.Fatalf("tool calls = %+v", resp.Message.ToolCalls)
	}
	if resp.Message.Content != "" {
		t.Errorf("content = %q, want empty once parsed as a tool call", resp.Message.Content)
	}
}

func TestOllamaChatStream_ErrorChunk(t *testing.T) {
	srv := ndjsonServer(t, `{"error":"model not found"}`)
	client := NewOllamaClient(srv.URL, nil)

	if _, err := client.Chat(t.Context(), "missing", nil, nil); err == nil {
		t.Fatal("Chat() error = nil, want stream error")
	}
}

func TestOllamaChatStream_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	client := NewOllamaClient(srv.URL, nil)

	if _, err := client.Chat(t.Context(), "m", nil, nil); err == nil {
		t.Fatal("Chat() error = nil, want API error")
	}
	if err := client.Ping(t.Context()); err == nil {
		t.Fatal("Ping() error = nil, want API error")
	}
}

func TestToOllamaMessages(t *testing.T) {
	in := []Message{
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_1_0", Function: FunctionCall{Name: "list_files", Arguments: map[string]any{}}}}},
		{Role: RoleTool, Content: "[FILE] a.md", ToolCallID: "call_1_0", Name: "list_files"},
	}
	got := toOllamaMessages(in)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if len(got[0].ToolCalls) != 1 || got[0].ToolCalls[0].Function.Name != "list_files" {
		t.Errorf("assistant tool calls = %+v", got[0].ToolCalls)
	}
	if got[1].ToolName != "list_files" {
		t.Errorf("tool_name = %q, want list_files", got[1].ToolName)
	}
}
