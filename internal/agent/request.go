package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nugget/think-ai-agent/internal/memory"
	"github.com/nugget/think-ai-agent/internal/prompts"
)

// ErrBadRequest is returned for run requests that cannot be served.
var ErrBadRequest = errors.New("bad request")

// InputMessage is one entry of a request's messages list.
type InputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ParentRef is the parent_message_id of a run request. JSON null and
// an absent field mean different things: null starts a new root, absent
// continues from the chat's last message. Set records that the field
// was present.
type ParentRef struct {
	Set bool
	ID  *int64
}

// RootParent starts a new root thread.
func RootParent() ParentRef {
	return ParentRef{Set: true}
}

// ParentOf branches from the message with id.
func ParentOf(id int64) ParentRef {
	return ParentRef{Set: true, ID: memory.PtrID(id)}
}

// IsRoot reports whether the ref explicitly asks for a new root.
func (p ParentRef) IsRoot() bool {
	return p.Set && p.ID == nil
}

// UnmarshalJSON accepts null, a number, or a numeric string. A string
// that is not a number starts a new root.
func (p *ParentRef) UnmarshalJSON(data []byte) error {
	p.Set = true
	p.ID = nil

	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			p.ID = &id
		}
		return nil
	}
	var id int64
	if err := json.Unmarshal(data, &id); err != nil {
		return fmt.Errorf("parent_message_id: %w", err)
	}
	p.ID = &id
	return nil
}

// MarshalJSON writes null for a root ref and the id otherwise. An unset
// ref also writes null; use a pointer field with omitempty to omit it.
func (p ParentRef) MarshalJSON() ([]byte, error) {
	if p.ID == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*p.ID)
}

// Request is a single agent run.
type Request struct {
	ChatID   string            `json:"session_id,omitempty"`
	Messages []InputMessage    `json:"messages"`
	Parent   ParentRef         `json:"parent_message_id"`
	Context  *prompts.Document `json:"context,omitempty"`
	Model    string            `json:"model"`
	Mode     string            `json:"mode"`
}

// Validate checks the parts of the request the coordinator relies on.
func (r Request) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("%w: messages is empty", ErrBadRequest)
	}
	last := r.Messages[len(r.Messages)-1]
	if last.Role == roleUser && strings.TrimSpace(last.Content) == "" {
		return fmt.Errorf("%w: empty user message", ErrBadRequest)
	}
	return nil
}

const roleUser = string(memory.RoleUser)

// userMessage returns the incoming user message: the last entry of
// Messages when it has the user role. Earlier entries are the client's
// view of history and are ignored in favor of the stored thread.
func (r Request) userMessage() (string, bool) {
	if len(r.Messages) == 0 {
		return "", false
	}
	last := r.Messages[len(r.Messages)-1]
	if last.Role != roleUser {
		return "", false
	}
	return last.Content, true
}

// document returns the injected context, or nil when it carries no
// content.
func (r Request) document() *prompts.Document {
	if r.Context == nil || strings.TrimSpace(r.Context.Content) == "" {
		return nil
	}
	return r.Context
}
