package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dokzlo13/dimmerd/internal/cycle"
	"github.com/dokzlo13/dimmerd/internal/engine"
)

const maxBodySize = 64 << 10

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest = "bad_request"
	ErrCodeNotFound   = "not_found"
	ErrCodeInternal   = "internal_error"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	reply, err := s.engine.Dispatch(r.Context(), engine.StatusCommand{})
	if err != nil {
		writeDispatchError(w, err)
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "text/plain") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, reply.Status.Format())
		return
	}
	writeJSON(w, http.StatusOK, reply.Status)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}

	var cmd engine.StartCommand
	if !decodeBody(w, r, &cmd) {
		return
	}
	cmd.Kind = kind
	cmd.Source = "api"

	reply, err := s.engine.Dispatch(r.Context(), cmd)
	if err != nil {
		writeDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply.Start)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}

	var cmd engine.StopCommand
	if !decodeBody(w, r, &cmd) {
		return
	}
	cmd.Kind = kind
	cmd.Source = "api"

	reply, err := s.engine.Dispatch(r.Context(), cmd)
	if err != nil {
		writeDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": reply.RequestID, "stopped": reply.Stopped})
}

func (s *Server) handleStopAll(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}

	reply, err := s.engine.Dispatch(r.Context(), engine.StopAllCommand{Kind: kind, Source: "api"})
	if err != nil {
		writeDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": reply.RequestID, "stopped": reply.Stopped})
}

func (s *Server) handleCycling(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}

	var targets []string
	for _, t := range strings.Split(r.URL.Query().Get("targets"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			targets = append(targets, t)
		}
	}
	if len(targets) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "targets query parameter is required")
		return
	}

	reply, err := s.engine.Dispatch(r.Context(), engine.IsCyclingCommand{Kind: kind, Targets: targets})
	if err != nil {
		writeDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cycling": *reply.Cycling})
}

func kindParam(w http.ResponseWriter, r *http.Request) (cycle.Kind, bool) {
	kind, err := cycle.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return "", false
	}
	return kind, true
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeDispatchError(w http.ResponseWriter, err error) {
	if errors.Is(err, cycle.ErrInvalidParameter) {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error())
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v) //nolint:errcheck // connection may be closed
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}
