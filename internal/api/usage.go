package api

import (
	"context"
	"net/http"
	"time"

	"github.com/nugget/think-ai-agent/internal/usage"
)

// UsageReporter answers token usage queries. [usage.Store] is the
// production implementation.
type UsageReporter interface {
	Report(ctx context.Context, period string) (usage.Report, error)
	ChatSummary(ctx context.Context, chatID string) (usage.Summary, error)
}

// SetUsage mounts the token usage endpoints.
func (s *Server) SetUsage(u UsageReporter) {
	s.usage = u
}

// handleUsage reports token usage for ?period= (default "today").
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if period == "" {
		period = "today"
	}
	if _, _, err := usage.ParsePeriod(period, time.Now()); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := s.usage.Report(r.Context(), period)
	if err != nil {
		s.logger.Error("usage report failed", "period", period, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, report, s.logger)
}

// handleChatUsage reports the lifetime token usage of one chat. Usage
// outlives its chat, so a deleted chat still answers.
func (s *Server) handleChatUsage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sum, err := s.usage.ChatSummary(r.Context(), id)
	if err != nil {
		s.logger.Error("chat usage failed", "chat_id", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"chat_id": id, "usage": sum}, s.logger)
}
