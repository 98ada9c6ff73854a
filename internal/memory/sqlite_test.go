package memory

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite", filepath.Join(t.TempDir(), "think.db"), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func appendText(t *testing.T, s *Store, chatID string, role Role, content string, parent *int64) int64 {
	t.Helper()
	id, err := s.AppendMessage(context.Background(), NewMessage{
		ChatID:   chatID,
		Role:     role,
		Content:  content,
		Kind:     KindText,
		ParentID: parent,
	})
	if err != nil {
		t.Fatalf("AppendMessage(%q) error = %v", content, err)
	}
	return id
}

func contents(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestGetThread_ForkScenario(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := appendText(t, s, "chat-1", RoleUser, "A", nil)
	b := appendText(t, s, "chat-1", RoleUser, "B", PtrID(a))
	c := appendText(t, s, "chat-1", RoleUser, "C", PtrID(a))

	if a != 1 || b != 2 || c != 3 {
		t.Fatalf("ids = %d, %d, %d; want 1, 2, 3", a, b, c)
	}

	threadB, err := s.GetThread(ctx, b)
	if err != nil {
		t.Fatalf("GetThread(%d) error = %v", b, err)
	}
	if diff := cmp.Diff([]string{"A", "B"}, contents(threadB)); diff != "" {
		t.Errorf("GetThread(%d) mismatch (-want +got):\n%s", b, diff)
	}

	threadC, err := s.GetThread(ctx, c)
	if err != nil {
		t.Fatalf("GetThread(%d) error = %v", c, err)
	}
	if diff := cmp.Diff([]string{"A", "C"}, contents(threadC)); diff != "" {
		t.Errorf("GetThread(%d) mismatch (-want +got):\n%s", c, diff)
	}

	// The shared parent is the same row in both threads.
	if threadB[0].ID != threadC[0].ID {
		t.Errorf("fork roots differ: %d vs %d", threadB[0].ID, threadC[0].ID)
	}

	flat, err := s.GetFlatMessages(ctx, "chat-1")
	if err != nil {
		t.Fatalf("GetFlatMessages() error = %v", err)
	}
	var siblings []int64
	for _, m := range flat {
		if m.ParentID != nil && *m.ParentID == a {
			siblings = append(siblings, m.ID)
		}
	}
	if diff := cmp.Diff([]int64{b, c}, siblings); diff != "" {
		t.Errorf("children of %d mismatch (-want +got):\n%s", a, diff)
	}
}

func TestGetThread_DepthPlusOne(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Two interleaved chains in one chat; each leaf's thread must contain
	// only its own ancestors.
	var left, right *int64
	var leftIDs, rightIDs []int64
	for i := 0; i < 12; i++ {
		l := appendText(t, s, "deep", RoleUser, "left", left)
		left = PtrID(l)
		leftIDs = append(leftIDs, l)

		r := appendText(t, s, "deep", RoleAssistant, "right", right)
		right = PtrID(r)
		rightIDs = append(rightIDs, r)
	}

	for depth, leaf := range leftIDs {
		thread, err := s.GetThread(ctx, leaf)
		if err != nil {
			t.Fatalf("GetThread(%d) error = %v", leaf, err)
		}
		if len(thread) != depth+1 {
			t.Errorf("GetThread(%d) len = %d, want %d", leaf, len(thread), depth+1)
		}
		got := make([]int64, len(thread))
		for i, m := range thread {
			got[i] = m.ID
		}
		if diff := cmp.Diff(leftIDs[:depth+1], got); diff != "" {
			t.Errorf("GetThread(%d) ids mismatch (-want +got):\n%s", leaf, diff)
		}
		if thread[0].ParentID != nil {
			t.Errorf("GetThread(%d) root has parent %d", leaf, *thread[0].ParentID)
		}
	}
}

func TestGetThread_Cycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := appendText(t, s, "loop", RoleUser, "a", nil)
	b := appendText(t, s, "loop", RoleAssistant, "b", PtrID(a))
	c := appendText(t, s, "loop", RoleUser, "c", PtrID(b))

	// Corrupt the root so the chain loops back on itself.
	if _, err := s.db.Exec(`UPDATE message SET parent_id = ? WHERE id = ?`, c, a); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.GetThread(ctx, c)
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrIntegrity) {
			t.Errorf("GetThread() error = %v, want ErrIntegrity", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("GetThread() did not terminate on cyclic data")
	}
}

func TestGetThread_DanglingParent(t *testing.T) {
	s := newTestStore(t)

	orphan := appendText(t, s, "dangling", RoleUser, "orphan", PtrID(999))

	_, err := s.GetThread(context.Background(), orphan)
	if !errors.Is(err, ErrIntegrity) {
		t.Errorf("GetThread() error = %v, want ErrIntegrity", err)
	}
}

func TestGetThread_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetThread(context.Background(), 42)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetThread(42) error = %v, want ErrNotFound", err)
	}
}

func TestCreateOrTouchChat_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	clock := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return clock }

	if err := s.CreateOrTouchChat(ctx, "c1", ""); err != nil {
		t.Fatalf("CreateOrTouchChat() error = %v", err)
	}
	clock = clock.Add(time.Minute)
	if err := s.CreateOrTouchChat(ctx, "c1", ""); err != nil {
		t.Fatalf("second CreateOrTouchChat() error = %v", err)
	}

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM chat WHERE id = 'c1'`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("chat rows = %d, want 1", n)
	}

	chat, err := s.GetChat(ctx, "c1")
	if err != nil {
		t.Fatalf("GetChat() error = %v", err)
	}
	if chat.Title != DefaultChatTitle {
		t.Errorf("Title = %q, want %q", chat.Title, DefaultChatTitle)
	}
	if !chat.UpdatedAt.After(chat.CreatedAt) {
		t.Errorf("UpdatedAt %v not after CreatedAt %v", chat.UpdatedAt, chat.CreatedAt)
	}

	if err := s.CreateOrTouchChat(ctx, "c1", "Renamed"); err != nil {
		t.Fatal(err)
	}
	chat, _ = s.GetChat(ctx, "c1")
	if chat.Title != "Renamed" {
		t.Errorf("Title = %q, want Renamed", chat.Title)
	}
}

func TestAppendMessage_DerivesTitle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	long := "Please help me plan the quarterly report outline"
	appendText(t, s, "titled", RoleUser, long, nil)
	appendText(t, s, "titled", RoleUser, "second message must not retitle", nil)

	chat, err := s.GetChat(ctx, "titled")
	if err != nil {
		t.Fatal(err)
	}
	if want := long[:30]; chat.Title != want {
		t.Errorf("Title = %q, want %q", chat.Title, want)
	}

	appendText(t, s, "assistant-first", RoleAssistant, "hello", nil)
	chat, _ = s.GetChat(ctx, "assistant-first")
	if chat.Title != DefaultChatTitle {
		t.Errorf("Title = %q, want %q", chat.Title, DefaultChatTitle)
	}
}

func TestAppendMessage_ToolCallsStoredAsList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	calls := []ToolCall{
		{ID: "call_1", Name: "read_file", Arguments: map[string]any{"path": "notes.md"}},
		{ID: "call_2", Name: "list_files"},
	}
	id, err := s.AppendMessage(ctx, NewMessage{
		ChatID:    "tools",
		Role:      RoleAssistant,
		Kind:      KindToolUse,
		ToolCalls: calls[:1],
	})
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	m, err := s.GetMessage(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(m.ToolArgs, "[") {
		t.Errorf("ToolArgs = %q, want a JSON list even for one call", m.ToolArgs)
	}

	id2, err := s.AppendMessage(ctx, NewMessage{
		ChatID:    "tools",
		Role:      RoleAssistant,
		Content:   "checking",
		Kind:      KindToolUse,
		ToolCalls: calls,
		ParentID:  PtrID(id),
	})
	if err != nil {
		t.Fatal(err)
	}
	m2, _ := s.GetMessage(ctx, id2)
	got, err := m2.ToolCalls()
	if err != nil {
		t.Fatalf("ToolCalls() error = %v", err)
	}
	want := []ToolCall{
		{ID: "call_1", Name: "read_file", Arguments: map[string]any{"path": "notes.md"}},
		{ID: "call_2", Name: "list_files", Arguments: map[string]any{}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ToolCalls() mismatch (-want +got):\n%s", diff)
	}
}

func TestAppendMessage_Validation(t *testing.T) {
	s := newTestStore(t)

	tests := []struct {
		name string
		msg  NewMessage
	}{
		{"empty chat", NewMessage{Role: RoleUser, Kind: KindText}},
		{"bad role", NewMessage{ChatID: "c", Role: "system", Kind: KindText}},
		{"bad kind", NewMessage{ChatID: "c", Role: RoleUser, Kind: "image"}},
		{"tool_use without calls", NewMessage{ChatID: "c", Role: RoleAssistant, Kind: KindToolUse}},
		{"calls on text", NewMessage{ChatID: "c", Role: RoleAssistant, Kind: KindText, ToolCalls: []ToolCall{{ID: "x"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.AppendMessage(context.Background(), tt.msg)
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("AppendMessage() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestDeleteChat_Cascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := appendText(t, s, "doomed", RoleUser, "a", nil)
	b := appendText(t, s, "doomed", RoleAssistant, "b", PtrID(a))
	keep := appendText(t, s, "survivor", RoleUser, "keep", nil)

	if err := s.DeleteChat(ctx, "doomed"); err != nil {
		t.Fatalf("DeleteChat() error = %v", err)
	}

	for _, id := range []int64{a, b} {
		if _, err := s.GetThread(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetThread(%d) after delete error = %v, want ErrNotFound", id, err)
		}
	}
	if _, err := s.GetChat(ctx, "doomed"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetChat() after delete error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetThread(ctx, keep); err != nil {
		t.Errorf("GetThread(other chat) error = %v", err)
	}

	if err := s.DeleteChat(ctx, "doomed"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteChat() error = %v, want ErrNotFound", err)
	}
}

func TestListChats_MostRecentFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	clock := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	appendText(t, s, "old", RoleUser, "first", nil)
	appendText(t, s, "new", RoleUser, "second", nil)
	appendText(t, s, "old", RoleUser, "bump", nil)

	chats, err := s.ListChats(ctx, 0)
	if err != nil {
		t.Fatalf("ListChats() error = %v", err)
	}
	ids := make([]string, len(chats))
	for i, c := range chats {
		ids[i] = c.ID
	}
	if diff := cmp.Diff([]string{"old", "new"}, ids); diff != "" {
		t.Errorf("ListChats() order mismatch (-want +got):\n%s", diff)
	}

	limited, _ := s.ListChats(ctx, 1)
	if len(limited) != 1 {
		t.Errorf("ListChats(1) len = %d, want 1", len(limited))
	}
}

func TestRenameChat(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	appendText(t, s, "r", RoleUser, "hi", nil)
	if err := s.RenameChat(ctx, "r", "Budget planning"); err != nil {
		t.Fatalf("RenameChat() error = %v", err)
	}
	chat, _ := s.GetChat(ctx, "r")
	if chat.Title != "Budget planning" {
		t.Errorf("Title = %q, want %q", chat.Title, "Budget planning")
	}

	if err := s.RenameChat(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("RenameChat(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSummaryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	appendText(t, s, "sum", RoleUser, "hi", nil)

	got, err := s.GetSummary(ctx, "sum")
	if err != nil || got != nil {
		t.Fatalf("GetSummary() = %v, %v; want nil, nil", got, err)
	}

	want := Summary{"user_goal": "Write a plan", "constraints": []any{"short"}}
	if err := s.SetSummary(ctx, "sum", want); err != nil {
		t.Fatalf("SetSummary() error = %v", err)
	}
	got, err = s.GetSummary(ctx, "sum")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetSummary() mismatch (-want +got):\n%s", diff)
	}

	// A corrupt stored value reads back as null.
	if _, err := s.db.Exec(`UPDATE chat SET summary = '{not json' WHERE id = 'sum'`); err != nil {
		t.Fatal(err)
	}
	if got, err := s.GetSummary(ctx, "sum"); err != nil || got != nil {
		t.Errorf("GetSummary(corrupt) = %v, %v; want nil, nil", got, err)
	}

	if got, err := s.GetSummary(ctx, "nobody"); err != nil || got != nil {
		t.Errorf("GetSummary(missing) = %v, %v; want nil, nil", got, err)
	}
	if err := s.SetSummary(ctx, "nobody", want); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetSummary(missing) error = %v, want ErrNotFound", err)
	}
}
