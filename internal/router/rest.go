package router

import (
	"encoding/json"
	"net/http"

	"agent-relay/internal/session"
)

type createSessionRequest struct {
	CWD                string `json:"cwd"`
	Model              string `json:"model"`
	SystemPrompt       string `json:"systemPrompt"`
	SystemPromptAppend bool   `json:"systemPromptAppend"`
	ThinkingBudget     int    `json:"thinkingBudget"`
	Effort             string `json:"effort"`
}

type sendPromptRequest struct {
	Content json.RawMessage `json:"content"`
	CWD     string          `json:"cwd,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: msg})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.CWD == "" {
		writeError(w, http.StatusBadRequest, "cwd is required")
		return
	}

	id, err := s.manager.Create(session.CreateParams{
		CWD:                req.CWD,
		Model:              req.Model,
		SystemPrompt:       req.SystemPrompt,
		SystemPromptAppend: req.SystemPromptAppend,
		ThinkingBudget:     req.ThinkingBudget,
		Effort:             req.Effort,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.watchWorkspace(id, req.CWD)

	summary, _ := s.manager.Get(id)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(summary)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.manager.List()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	summary, err := s.manager.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

func (s *Server) handleSendPrompt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req sendPromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(req.Content) == 0 {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	content, err := decodePromptContent(req.Content)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.manager.Prompt(id, content, req.CWD); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"sent"}`))
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if !s.manager.Interrupt(id) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"interrupted"}`))
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.manager.Close(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	s.unwatchWorkspace(id)

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"closed"}`))
}
