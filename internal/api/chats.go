package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/nugget/think-ai-agent/internal/branch"
	"github.com/nugget/think-ai-agent/internal/memory"
)

// chatDetail is a chat with its flat message list and default head.
type chatDetail struct {
	memory.Chat
	Messages []memory.Message `json:"messages"`
	Head     *int64           `json:"head"`
}

// treeResponse is a chat's message forest as clients consume it.
type treeResponse struct {
	ChatID   string             `json:"chat_id"`
	Children map[string][]int64 `json:"children"`
	Head     *int64             `json:"head"`
	Thread   []threadNode       `json:"thread"`
}

// threadNode is one message of the active thread with its position
// among its siblings, for "< 2/3 >" style navigation.
type threadNode struct {
	memory.Message
	Index    int `json:"index"`
	Siblings int `json:"siblings"`
}

func (s *Server) handleChatList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.errorResponse(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	chats, err := s.store.ListChats(r.Context(), limit)
	if err != nil {
		s.storeError(w, err, "chats")
		return
	}
	if chats == nil {
		chats = []memory.Chat{}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, chats, s.logger)
}

func (s *Server) handleChatGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	chat, err := s.store.GetChat(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "chat")
		return
	}
	flat, err := s.store.GetFlatMessages(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "messages")
		return
	}

	detail := chatDetail{Chat: chat, Messages: flat}
	if detail.Messages == nil {
		detail.Messages = []memory.Message{}
	}
	if head, ok := branch.Build(flat).Head(); ok {
		detail.Head = &head
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, detail, s.logger)
}

func (s *Server) handleChatMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetChat(r.Context(), id); err != nil {
		s.storeError(w, err, "chat")
		return
	}
	flat, err := s.store.GetFlatMessages(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "messages")
		return
	}
	if flat == nil {
		flat = []memory.Message{}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, flat, s.logger)
}

// handleChatTree returns the adjacency index plus the active thread.
// The head defaults to the newest message; ?head=ID selects another
// leaf and ?switch=±N moves from that head to a sibling branch.
func (s *Server) handleChatTree(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetChat(r.Context(), id); err != nil {
		s.storeError(w, err, "chat")
		return
	}
	flat, err := s.store.GetFlatMessages(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "messages")
		return
	}
	tree := branch.Build(flat)

	resp := treeResponse{ChatID: id, Children: tree.Adjacency(), Thread: []threadNode{}}
	head, ok := tree.Head()
	q := r.URL.Query()
	if v := q.Get("head"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "head must be a message id")
			return
		}
		if _, found := tree.Message(n); !found {
			s.errorResponse(w, http.StatusNotFound, "message not found in chat")
			return
		}
		head, ok = n, true
	}
	if v := q.Get("switch"); v != "" && ok {
		delta, err := strconv.Atoi(strings.TrimSpace(v)) // a raw "+" decodes as a space
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "switch must be an integer")
			return
		}
		if head, err = tree.Switch(head, delta); err != nil {
			s.storeError(w, err, "message")
			return
		}
	}

	if ok {
		thread, err := tree.Thread(head)
		if err != nil {
			s.storeError(w, err, "thread")
			return
		}
		for _, m := range thread {
			idx, count := tree.Position(m.ID)
			resp.Thread = append(resp.Thread, threadNode{Message: m, Index: idx, Siblings: count})
		}
		resp.Head = &head
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

func (s *Server) handleThread(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "message id must be an integer")
		return
	}
	thread, err := s.store.GetThread(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "message")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, thread, s.logger)
}

func (s *Server) handleChatRename(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	title := strings.TrimSpace(body.Title)
	if title == "" {
		s.errorResponse(w, http.StatusBadRequest, "title is required")
		return
	}

	id := r.PathValue("id")
	if err := s.store.RenameChat(r.Context(), id, title); err != nil {
		s.storeError(w, err, "chat")
		return
	}
	chat, err := s.store.GetChat(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "chat")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, chat, s.logger)
}

func (s *Server) handleChatDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteChat(r.Context(), id); err != nil {
		s.storeError(w, err, "chat")
		return
	}
	s.logger.Info("chat deleted", "chat_id", id)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"success": true, "chat_id": id}, s.logger)
}

func (s *Server) handleChatSummary(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	chat, err := s.store.GetChat(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "chat")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"chat_id": id, "summary": chat.Summary}, s.logger)
}
