package prompts

import (
	"encoding/json"
	"fmt"

	"github.com/nugget/think-ai-agent/internal/llm"
	"github.com/nugget/think-ai-agent/internal/memory"
)

// DefaultHistoryWindow is the number of most recent thread entries
// kept in a prompt.
const DefaultHistoryWindow = 20

// Fallbacks for tool results stored without their originating call.
const (
	fallbackToolCallID = "unknown"
	fallbackToolName   = "tool"
)

// Document is caller-supplied context injected next to the system
// prompt, typically the file open in the editor.
type Document struct {
	Name    string `json:"filename"`
	Content string `json:"content"`
}

// BuildPrompt assembles the ordered model-facing messages for one turn:
// the system prompt (prefixed by the session summary when present), the
// optional injected document, then the most recent window entries of
// thread. A window of zero or less uses DefaultHistoryWindow. The
// function performs no I/O and never fails; entries it cannot interpret
// are degraded rather than rejected.
func BuildPrompt(systemPrompt string, thread []memory.Message, summary memory.Summary, doc *Document, window int) []llm.Message {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	if len(thread) > window {
		thread = thread[len(thread)-window:]
	}

	out := make([]llm.Message, 0, len(thread)+2)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: SummaryBlock(summary) + systemPrompt})
	if doc != nil {
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: DocumentBlock(*doc)})
	}

	for _, m := range thread {
		if msg, ok := toPromptMessage(m); ok {
			out = append(out, msg)
		}
	}
	return out
}

// SummaryBlock renders the session summary as the block placed ahead of
// the system prompt. A nil or empty summary renders as "".
func SummaryBlock(summary memory.Summary) string {
	if len(summary) == 0 {
		return ""
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return ""
	}
	return "\n---\n## Current Session Summary\n" + string(data) + "\n---\n" + "\n"
}

// DocumentBlock renders an injected document tagged with its name.
func DocumentBlock(doc Document) string {
	return fmt.Sprintf("<Document name='%s'>\n%s\n</Document>", doc.Name, doc.Content)
}

func toPromptMessage(m memory.Message) (llm.Message, bool) {
	switch {
	case m.Kind == memory.KindToolUse:
		msg := llm.Message{Role: llm.RoleAssistant, Content: m.Content}
		// A payload that does not decode contributes no calls; the text
		// is still useful context.
		calls, err := m.ToolCalls()
		if err != nil {
			return msg, true
		}
		for _, c := range calls {
			args := c.Arguments
			if args == nil {
				args = map[string]any{}
			}
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
				ID:       c.ID,
				Function: llm.FunctionCall{Name: c.Name, Arguments: args},
			})
		}
		return msg, true

	case m.Kind == memory.KindToolResult || m.Role == memory.RoleTool:
		id, name := m.ToolCallID, m.ToolName
		if id == "" {
			id = fallbackToolCallID
		}
		if name == "" {
			name = fallbackToolName
		}
		return llm.Message{Role: llm.RoleTool, Content: m.Content, ToolCallID: id, Name: name}, true

	case m.Role == memory.RoleUser:
		return llm.Message{Role: llm.RoleUser, Content: m.Content}, true

	case m.Role == memory.RoleAssistant:
		return llm.Message{Role: llm.RoleAssistant, Content: m.Content}, true
	}
	return llm.Message{}, false
}
