// Package memory is the durable conversation store. Chats own a forest
// of messages linked by parent ids; a thread is the path from any
// message back to its root.
package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a chat or message does not exist.
	ErrNotFound = errors.New("not found")
	// ErrIntegrity is returned when stored parent links are corrupt:
	// a cycle, or a parent that does not exist in the chat.
	ErrIntegrity = errors.New("data integrity violation")
	// ErrInvalid is returned for appends that break the message
	// shape rules (unknown role or kind, tool calls on a non tool_use
	// message).
	ErrInvalid = errors.New("invalid message")
)

// DefaultChatTitle is used for chats created without a title.
const DefaultChatTitle = "New Chat"

// derivedTitleLen bounds titles derived from a first user message.
const derivedTitleLen = 30

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Kind discriminates message payloads.
type Kind string

const (
	KindText       Kind = "text"
	KindToolUse    Kind = "tool_use"
	KindToolResult Kind = "tool_result"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindToolUse, KindToolResult:
		return true
	}
	return false
}

// Chat is a conversation: a title, timestamps and an optional summary.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Summary   Summary   `json:"summary,omitempty"`
}

// Summary is the free-form structured session summary. It is always
// replaced wholesale.
type Summary map[string]any

// Message is one stored node of a chat's message forest.
type Message struct {
	ID         int64     `json:"id"`
	ChatID     string    `json:"chat_id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	Kind       Kind      `json:"kind"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	ToolName   string    `json:"tool_name,omitempty"`
	// ToolArgs is the serialized tool-call list of a tool_use message.
	ToolArgs string `json:"tool_args,omitempty"`
	// ParentID is nil only for a thread root.
	ParentID *int64 `json:"parent_id"`
}

// ToolCalls decodes the tool-call list carried by a tool_use message.
func (m Message) ToolCalls() ([]ToolCall, error) {
	if m.Kind != KindToolUse || m.ToolArgs == "" {
		return nil, nil
	}
	return DecodeToolCalls(m.ToolArgs)
}

// ToolCall describes a single tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// NewMessage is the write contract for AppendMessage.
type NewMessage struct {
	ChatID     string
	Role       Role
	Content    string
	Kind       Kind
	ToolCallID string
	ToolName   string
	// ToolCalls is required for KindToolUse and forbidden otherwise.
	// It is always stored as a list.
	ToolCalls []ToolCall
	ParentID  *int64
}

func (m NewMessage) validate() error {
	if m.ChatID == "" {
		return fmt.Errorf("%w: empty chat id", ErrInvalid)
	}
	if !m.Role.Valid() {
		return fmt.Errorf("%w: role %q", ErrInvalid, m.Role)
	}
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: kind %q", ErrInvalid, m.Kind)
	}
	if m.Kind == KindToolUse && len(m.ToolCalls) == 0 {
		return fmt.Errorf("%w: tool_use message without tool calls", ErrInvalid)
	}
	if m.Kind != KindToolUse && len(m.ToolCalls) > 0 {
		return fmt.Errorf("%w: tool calls on %s message", ErrInvalid, m.Kind)
	}
	return nil
}

// EncodeToolCalls serializes a tool-call list in the canonical stored
// shape: a JSON array of {id, name, arguments} objects.
func EncodeToolCalls(calls []ToolCall) (string, error) {
	out := make([]ToolCall, len(calls))
	for i, c := range calls {
		if c.Arguments == nil {
			c.Arguments = map[string]any{}
		}
		out[i] = c
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encode tool calls: %w", err)
	}
	return string(data), nil
}

// DecodeToolCalls parses the canonical stored shape. Anything other
// than a JSON array of objects is an error.
func DecodeToolCalls(s string) ([]ToolCall, error) {
	var calls []ToolCall
	if err := json.Unmarshal([]byte(s), &calls); err != nil {
		return nil, fmt.Errorf("decode tool calls: %w", err)
	}
	return calls, nil
}

// PtrID returns a pointer to id, for building parent links.
func PtrID(id int64) *int64 { return &id }

func deriveTitle(content string) string {
	r := []rune(content)
	if len(r) > derivedTitleLen {
		r = r[:derivedTitleLen]
	}
	if len(r) == 0 {
		return DefaultChatTitle
	}
	return string(r)
}

func toUnix(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnix(f float64) time.Time {
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
