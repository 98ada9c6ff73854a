package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/think-ai-agent/internal/agent"
)

// streamFormat is the framing of a streamed run.
type streamFormat int

const (
	formatSSE streamFormat = iota
	formatNDJSON
)

const ndjsonContentType = "application/x-ndjson"

// negotiateFormat picks NDJSON when asked for by query or Accept
// header, SSE otherwise.
func negotiateFormat(r *http.Request) streamFormat {
	if strings.EqualFold(r.URL.Query().Get("format"), "ndjson") {
		return formatNDJSON
	}
	if strings.Contains(r.Header.Get("Accept"), ndjsonContentType) {
		return formatNDJSON
	}
	return formatSSE
}

// writeEvent writes one event in the given framing.
func writeEvent(w io.Writer, format streamFormat, ev agent.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	switch format {
	case formatNDJSON:
		_, err = fmt.Fprintf(w, "%s\n", data)
	default:
		_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	}
	return err
}

// handleChat runs the agent and streams its events for the lifetime of
// the run. Validation failures are answered with a plain 400 before the
// stream opens; after that, failures arrive as an error event.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req agent.Request
	if err := decodeBody(w, r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, ok := w.(http.Flusher); !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	format := negotiateFormat(r)
	if format == formatNDJSON {
		w.Header().Set("Content-Type", ndjsonContentType)
	} else {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Connection", "keep-alive")
	}
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	emit := func(ev agent.Event) error {
		if err := rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			s.logger.Debug("failed to reset write deadline", "error", err)
		}
		if err := writeEvent(w, format, ev); err != nil {
			return err
		}
		return rc.Flush()
	}

	res, err := s.runner.Run(r.Context(), req, emit)
	if err != nil {
		// The run already reported it on the stream, or the client is gone.
		s.logger.Debug("streamed run ended with error", "error", err)
		return
	}
	s.logger.Debug("streamed run complete", "chat_id", res.ChatID, "head", res.Head, "turns", res.Turns)
}

// handleChatWS serves runs over a WebSocket. Each text frame from the
// client is a run request; the run's events come back as one JSON text
// frame each. Runs on a connection are sequential.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	emit := func(ev agent.Event) error {
		if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return err
		}
		return conn.WriteJSON(ev)
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var req agent.Request
		if err := json.Unmarshal(data, &req); err != nil {
			if emit(agent.ErrorEvent("invalid request: "+err.Error())) != nil {
				return
			}
			continue
		}
		if err := req.Validate(); err != nil {
			if emit(agent.ErrorEvent(err.Error())) != nil {
				return
			}
			continue
		}

		res, err := s.runner.Run(r.Context(), req, emit)
		if err != nil {
			s.logger.Debug("websocket run ended with error", "error", err)
			if r.Context().Err() != nil {
				return
			}
			continue
		}
		s.logger.Debug("websocket run complete", "chat_id", res.ChatID, "head", res.Head, "turns", res.Turns)
	}
}
