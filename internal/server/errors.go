package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/framehouse/dropsync/internal/pathguard"
	"github.com/framehouse/dropsync/internal/provision"
	"github.com/framehouse/dropsync/internal/store"
	"github.com/framehouse/dropsync/internal/sync"
	"github.com/framehouse/dropsync/internal/vault"
)

// Error codes returned alongside the message.
const (
	CodePathOutsideRoot = "DROPBOX_PATH_OUTSIDE_ROOT"
	CodeNotConnected    = "DROPBOX_NOT_CONNECTED"
	CodeBadRequest      = "BAD_REQUEST"
	CodeNotFound        = "NOT_FOUND"
	CodeSyncInProgress  = "SYNC_IN_PROGRESS"
	CodeInternal        = "INTERNAL"
)

var errBadRequest = errors.New("server: bad request")

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// statusFor maps an operation error onto an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, pathguard.ErrPathOutsideRoot):
		return http.StatusBadRequest, CodePathOutsideRoot
	case errors.Is(err, pathguard.ErrEmptyName),
		errors.Is(err, provision.ErrMissingName),
		errors.Is(err, errInvalidState),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest, CodeBadRequest
	case errors.Is(err, vault.ErrNotConnected):
		return http.StatusNotFound, CodeNotConnected
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, sync.ErrSyncInProgress):
		return http.StatusConflict, CodeSyncInProgress
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)

	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}

	s.logger.Log(r.Context(), level, "request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)

	s.writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("writing response", slog.String("error", err.Error()))
	}
}
