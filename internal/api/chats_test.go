package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nugget/think-ai-agent/internal/memory"
)

func (ts *testServer) appendText(t *testing.T, chatID string, role memory.Role, content string, parent *int64) int64 {
	t.Helper()
	id, err := ts.store.AppendMessage(t.Context(), memory.NewMessage{
		ChatID:   chatID,
		Role:     role,
		Content:  content,
		Kind:     memory.KindText,
		ParentID: parent,
	})
	if err != nil {
		t.Fatalf("AppendMessage(%q) error = %v", content, err)
	}
	return id
}

// seedFork stores q1 -> a1, with a second answer a2 forked off q1.
func (ts *testServer) seedFork(t *testing.T, chatID string) (q1, a1, a2 int64) {
	t.Helper()
	q1 = ts.appendText(t, chatID, memory.RoleUser, "What is Go?", nil)
	a1 = ts.appendText(t, chatID, memory.RoleAssistant, "A language.", &q1)
	a2 = ts.appendText(t, chatID, memory.RoleAssistant, "A board game.", &q1)
	return q1, a1, a2
}

func ids(msgs []memory.Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestChatList(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/chats", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "[]\n" {
		t.Fatalf("empty list = %d %q", rec.Code, rec.Body.String())
	}

	ts.appendText(t, "a", memory.RoleUser, "first chat", nil)
	ts.appendText(t, "b", memory.RoleUser, "second chat", nil)

	chats := decodeJSON[[]memory.Chat](t, ts.do(t, http.MethodGet, "/api/chats", ""))
	if len(chats) != 2 {
		t.Fatalf("len(chats) = %d, want 2", len(chats))
	}
	if chats[0].Title != "first chat" && chats[0].Title != "second chat" {
		t.Errorf("title = %q, want derived from the first message", chats[0].Title)
	}

	limited := decodeJSON[[]memory.Chat](t, ts.do(t, http.MethodGet, "/api/chats?limit=1", ""))
	if len(limited) != 1 {
		t.Errorf("len(limited) = %d, want 1", len(limited))
	}

	if rec := ts.do(t, http.MethodGet, "/api/chats?limit=x", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}
}

func TestChatGet(t *testing.T) {
	ts := newTestServer(t)
	q1, a1, a2 := ts.seedFork(t, "c1")

	rec := ts.do(t, http.MethodGet, "/api/chats/c1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decodeJSON[chatDetail](t, rec)
	if got.ID != "c1" {
		t.Errorf("id = %q", got.ID)
	}
	if diff := cmp.Diff([]int64{q1, a1, a2}, ids(got.Messages)); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	if got.Head == nil || *got.Head != a2 {
		t.Errorf("head = %v, want %d", got.Head, a2)
	}

	if rec := ts.do(t, http.MethodGet, "/api/chats/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing chat status = %d, want 404", rec.Code)
	}
}

func TestChatMessages(t *testing.T) {
	ts := newTestServer(t)
	q1, a1, a2 := ts.seedFork(t, "c1")

	got := decodeJSON[[]memory.Message](t, ts.do(t, http.MethodGet, "/api/chats/c1/messages", ""))
	if diff := cmp.Diff([]int64{q1, a1, a2}, ids(got)); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	if got[1].ParentID == nil || *got[1].ParentID != q1 {
		t.Errorf("a1 parent = %v, want %d", got[1].ParentID, q1)
	}

	if rec := ts.do(t, http.MethodGet, "/api/chats/missing/messages", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing chat status = %d, want 404", rec.Code)
	}
}

func TestChatTree(t *testing.T) {
	ts := newTestServer(t)
	q1, a1, a2 := ts.seedFork(t, "c1")

	type node struct {
		ID       int64
		Index    int
		Siblings int
	}
	nodes := func(resp treeResponse) []node {
		var out []node
		for _, n := range resp.Thread {
			out = append(out, node{n.ID, n.Index, n.Siblings})
		}
		return out
	}

	tests := []struct {
		name     string
		query    string
		wantHead int64
		want     []node
	}{
		{"default head", "", a2, []node{{q1, 1, 1}, {a2, 2, 2}}},
		{"explicit head", fmt.Sprintf("?head=%d", a1), a1, []node{{q1, 1, 1}, {a1, 1, 2}}},
		{"switch back", fmt.Sprintf("?head=%d&switch=-1", a2), a1, []node{{q1, 1, 1}, {a1, 1, 2}}},
		{"switch clamps", fmt.Sprintf("?head=%d&switch=+5", a1), a2, []node{{q1, 1, 1}, {a2, 2, 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, "/api/chats/c1/tree"+tt.query, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
			}
			resp := decodeJSON[treeResponse](t, rec)
			if resp.Head == nil || *resp.Head != tt.wantHead {
				t.Errorf("head = %v, want %d", resp.Head, tt.wantHead)
			}
			if diff := cmp.Diff(tt.want, nodes(resp)); diff != "" {
				t.Errorf("thread mismatch (-want +got):\n%s", diff)
			}
			wantChildren := map[string][]int64{"ROOT": {q1}, fmt.Sprint(q1): {a1, a2}}
			if diff := cmp.Diff(wantChildren, resp.Children); diff != "" {
				t.Errorf("children mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if rec := ts.do(t, http.MethodGet, "/api/chats/c1/tree?head=999", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown head status = %d, want 404", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/api/chats/c1/tree?head=x", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad head status = %d, want 400", rec.Code)
	}
}

func TestThread(t *testing.T) {
	ts := newTestServer(t)
	q1, a1, _ := ts.seedFork(t, "c1")
	q2 := ts.appendText(t, "c1", memory.RoleUser, "And Rust?", &a1)

	got := decodeJSON[[]memory.Message](t, ts.do(t, http.MethodGet, fmt.Sprintf("/api/messages/%d/thread", q2), ""))
	if diff := cmp.Diff([]int64{q1, a1, q2}, ids(got)); diff != "" {
		t.Errorf("thread mismatch (-want +got):\n%s", diff)
	}

	if rec := ts.do(t, http.MethodGet, "/api/messages/999/thread", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing message status = %d, want 404", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/api/messages/abc/thread", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", rec.Code)
	}
}

func TestChatRename(t *testing.T) {
	ts := newTestServer(t)
	ts.appendText(t, "c1", memory.RoleUser, "hello", nil)

	rec := ts.do(t, http.MethodPatch, "/api/chats/c1", `{"title":"Renamed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decodeJSON[memory.Chat](t, rec).Title; got != "Renamed" {
		t.Errorf("title = %q, want Renamed", got)
	}

	if rec := ts.do(t, http.MethodPatch, "/api/chats/c1", `{"title":"  "}`); rec.Code != http.StatusBadRequest {
		t.Errorf("blank title status = %d, want 400", rec.Code)
	}
	if rec := ts.do(t, http.MethodPatch, "/api/chats/missing", `{"title":"x"}`); rec.Code != http.StatusNotFound {
		t.Errorf("missing chat status = %d, want 404", rec.Code)
	}
}

func TestChatDelete(t *testing.T) {
	ts := newTestServer(t)
	ts.seedFork(t, "c1")

	if rec := ts.do(t, http.MethodDelete, "/api/chats/c1", ""); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/api/chats/c1", ""); rec.Code != http.StatusNotFound {
		t.Errorf("deleted chat status = %d, want 404", rec.Code)
	}
	flat, err := ts.store.GetFlatMessages(t.Context(), "c1")
	if err != nil || len(flat) != 0 {
		t.Errorf("messages after delete = %d, %v", len(flat), err)
	}
	if rec := ts.do(t, http.MethodDelete, "/api/chats/c1", ""); rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestChatSummary(t *testing.T) {
	ts := newTestServer(t)
	ts.appendText(t, "c1", memory.RoleUser, "hello", nil)

	type summaryResponse struct {
		ChatID  string         `json:"chat_id"`
		Summary memory.Summary `json:"summary"`
	}
	got := decodeJSON[summaryResponse](t, ts.do(t, http.MethodGet, "/api/chats/c1/summary", ""))
	if got.Summary != nil {
		t.Errorf("summary = %v, want null before any summary", got.Summary)
	}

	want := memory.Summary{"user_goal": "Learn Go", "current_stage": "intro"}
	if err := ts.store.SetSummary(t.Context(), "c1", want); err != nil {
		t.Fatal(err)
	}
	got = decodeJSON[summaryResponse](t, ts.do(t, http.MethodGet, "/api/chats/c1/summary", ""))
	if diff := cmp.Diff(want, got.Summary); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}

	if rec := ts.do(t, http.MethodGet, "/api/chats/missing/summary", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing chat status = %d, want 404", rec.Code)
	}
}
