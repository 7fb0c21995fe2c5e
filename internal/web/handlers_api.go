package web

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/asheshgoplani/panewatch/internal/notify"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

type sendRequest struct {
	Session string `json:"session"`
	Pane    string `json:"pane"`
	Text    string `json:"text"`
}

type clearRequest struct {
	Session string `json:"session"`
	Pane    string `json:"pane"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	session, pane, ok := paneParams(r)
	if !ok {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "session and pane are required")
		return
	}

	writeJSON(w, http.StatusOK, s.svc.GetState(r.Context(), session, pane))
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	if s.cfg.ReadOnly {
		writeAPIError(w, http.StatusForbidden, "READ_ONLY", "input is disabled in read-only mode")
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid json payload")
		return
	}
	if strings.TrimSpace(req.Session) == "" || strings.TrimSpace(req.Pane) == "" {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "session and pane are required")
		return
	}

	res := s.svc.Send(r.Context(), req.Session, req.Pane, req.Text)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadGateway
		if res.Message == "text is required" {
			status = http.StatusBadRequest
		}
	}
	writeJSON(w, status, res)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	var req clearRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid json payload")
		return
	}
	if strings.TrimSpace(req.Session) == "" || strings.TrimSpace(req.Pane) == "" {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "session and pane are required")
		return
	}

	s.svc.ClearHistory(req.Session, req.Pane)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	var sig notify.CompletionSignal
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid json payload")
		return
	}
	if strings.TrimSpace(sig.Session) == "" || strings.TrimSpace(sig.Pane) == "" {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "session and pane are required")
		return
	}

	res := s.svc.OnCompletionSignal(r.Context(), sig)
	status := http.StatusAccepted
	if res.Status == notify.SignalRejected {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

func paneParams(r *http.Request) (session, pane string, ok bool) {
	q := r.URL.Query()
	session = strings.TrimSpace(q.Get("session"))
	pane = strings.TrimSpace(q.Get("pane"))
	return session, pane, session != "" && pane != ""
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiErrorResponse{Error: apiError{Code: code, Message: message}})
}
