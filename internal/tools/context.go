package tools

import "context"

type contextKey string

const chatIDKey contextKey = "chat_id"

// WithChatID adds the chat ID of the run invoking a tool to the context.
func WithChatID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, chatIDKey, id)
}

// ChatIDFromContext extracts the chat ID from the context.
// Returns "" if not set.
func ChatIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(chatIDKey).(string)
	return id
}
