package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

type chatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

type chatResponse struct {
	ConversationID string `json:"conversation_id"`
	Reply          string `json:"reply"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()[:8]
	}

	reply, err := s.agent.HandleMessage(r.Context(), req.ConversationID, req.Message, nil)
	if err != nil {
		slog.Error("Chat request failed", "conversation", req.ConversationID, "error", err)
		errorResponse(w, http.StatusBadGateway, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, chatResponse{ConversationID: req.ConversationID, Reply: reply})
}

func (s *Server) handleWatchers(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]any{"watchers": s.watchers.List()})
}

func (s *Server) handleWatcherHistory(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	evals, err := s.watchers.History(r.Context(), name, 20)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"watcher": name, "history": evals})
}

func (s *Server) handleWorld(w http.ResponseWriter, r *http.Request) {
	healthy, known := s.world.DaemonHealthy()
	jsonResponse(w, http.StatusOK, map[string]any{
		"nodes":          s.world.Nodes(),
		"daemon_known":   known,
		"daemon_healthy": healthy,
		"text":           s.world.ToText(),
	})
}

func (s *Server) handleCaptures(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]any{"captures": s.captures.List()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]any{"status": "ok"})
}

func jsonResponse(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, msg string) {
	jsonResponse(w, status, map[string]string{"error": msg})
}
