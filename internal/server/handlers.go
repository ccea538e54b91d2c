package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/tempest/internal/metrics"
	"github.com/raphaelgruber/tempest/internal/service"
)

// maxPromptLogLen is the maximum prompt length logged before truncation.
const maxPromptLogLen = 80

type errorBody struct {
	Detail string `json:"detail"`
}

type historyRequest struct {
	Limit  int    `json:"limit"`
	UserID string `json:"userId"`
}

type turnFunc func(context.Context, service.Request, service.ChunkFunc) (service.Response, error)

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	s.streamTurn(w, r, s.svc.HandleTurn)
}

func (s *Server) handleProcessVoice(w http.ResponseWriter, r *http.Request) {
	s.streamTurn(w, r, s.svc.HandleVoiceTurn)
}

// streamTurn writes each reply sentence as one NDJSON line and closes with a final line
// carrying the whole reply. Errors before the first line use the mapped status code;
// later errors become a closing {"detail": ...} line.
func (s *Server) streamTurn(w http.ResponseWriter, r *http.Request, turn turnFunc) {
	var req service.Request
	if !s.decode(w, r, &req) {
		return
	}
	if !s.allow(w, req.UserID) {
		return
	}

	s.logger.Debug("turn requested", "path", r.URL.Path, "user", req.UserID, "prompt", truncate(req.Prompt, maxPromptLogLen))

	stream := &ndjsonWriter{w: w}
	resp, err := turn(r.Context(), req, func(c service.Chunk) error {
		return stream.write(c)
	})
	if err != nil {
		status, msg := service.Status(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("turn failed", "path", r.URL.Path, "user", req.UserID, "error", err)
		}
		switch {
		case stream.started:
			_ = stream.write(errorBody{Detail: msg})
		case status == http.StatusNoContent:
			w.WriteHeader(status)
		default:
			writeJSON(w, status, errorBody{Detail: msg})
		}
		return
	}

	resp.Final = true
	if err := stream.write(resp); err != nil {
		s.logger.Debug("client went away", "user", req.UserID, "error", err)
	}
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	var req historyRequest
	if !s.decode(w, r, &req) {
		return
	}

	history, err := s.svc.GetHistory(r.Context(), req.UserID, req.Limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	var req historyRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.svc.DeleteHistory(r.Context(), req.UserID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, errorBody{Detail: "conversation was deleted"})
}

func (s *Server) handleResetVoice(w http.ResponseWriter, r *http.Request) {
	var req historyRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.svc.ResetVoice(req.UserID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, errorBody{Detail: "voice session was reset"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var snap metrics.Snapshot
	if s.metrics != nil {
		snap = s.metrics.Snapshot()
	}
	writeJSON(w, http.StatusOK, snap)
}

// wsRequest is one turn requested over the websocket.
type wsRequest struct {
	service.Request
	Voice bool `json:"voice"`
}

type wsError struct {
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

// handleWebsocket runs turns sequentially over one connection, streaming chunks as JSON
// messages. Each turn ends with a final chunk or an error message.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", "error", err)
			}
			return
		}

		if !s.limiter.Allow(req.UserID) {
			if err := conn.WriteJSON(wsError{Status: http.StatusTooManyRequests, Detail: "rate limit exceeded"}); err != nil {
				return
			}
			continue
		}

		turn := s.svc.HandleTurn
		if req.Voice {
			turn = s.svc.HandleVoiceTurn
		}

		resp, err := turn(ctx, req.Request, func(c service.Chunk) error {
			return conn.WriteJSON(c)
		})
		if err != nil {
			status, msg := service.Status(err)
			if status >= http.StatusInternalServerError {
				s.logger.Error("websocket turn failed", "user", req.UserID, "error", err)
			}
			if err := conn.WriteJSON(wsError{Status: status, Detail: msg}); err != nil {
				return
			}
			continue
		}

		resp.Final = true
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid JSON body"})
		return false
	}
	return true
}

func (s *Server) allow(w http.ResponseWriter, identity string) bool {
	if s.limiter.Allow(identity) {
		return true
	}
	s.logger.Warn("rate limited", "user", identity)
	writeJSON(w, http.StatusTooManyRequests, errorBody{Detail: "rate limit exceeded"})
	return false
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, msg := service.Status(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorBody{Detail: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ndjsonWriter writes newline-delimited JSON, flushing after every line.
type ndjsonWriter struct {
	w       http.ResponseWriter
	started bool
}

func (n *ndjsonWriter) write(v any) error {
	if !n.started {
		n.w.Header().Set("Content-Type", "application/x-ndjson")
		n.w.WriteHeader(http.StatusOK)
		n.started = true
	}
	if err := json.NewEncoder(n.w).Encode(v); err != nil {
		return err
	}
	if err := http.NewResponseController(n.w).Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
